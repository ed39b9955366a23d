package pose

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/golang/geo/r3"
	"golang.org/x/sync/errgroup"
)

// LossPolicy controls how a hypothesis's outlier count carries across
// scoring rounds.
type LossPolicy int

const (
	// LossAccumulate keeps adding each round's outliers to the running total.
	LossAccumulate LossPolicy = iota
	// LossReset ranks each round only on that round's batch.
	LossReset
)

func (p LossPolicy) String() string {
	switch p {
	case LossAccumulate:
		return "accumulate"
	case LossReset:
		return "reset"
	default:
		return fmt.Sprintf("LossPolicy(%d)", int(p))
	}
}

// ParseLossPolicy maps a config string to a LossPolicy. An empty string
// selects LossAccumulate.
func ParseLossPolicy(s string) (LossPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "accumulate":
		return LossAccumulate, nil
	case "reset":
		return LossReset, nil
	default:
		return 0, fmt.Errorf("unknown loss policy %q: %w", s, ErrInvalidConfig)
	}
}

// EstimatorConfig holds configuration for preemptive RANSAC.
// Distances are in the same units as the input points.
type EstimatorConfig struct {
	SampleNumber      int        // Correspondences drawn per scoring round (B)
	DistanceThreshold float64    // Max distance for a transformed point to count as an inlier
	MinPoints         int        // Fewer correspondences than this is ErrInsufficientData
	PoolSize          int        // Initial hypothesis pool target (K)
	MaxAttempts       int        // Cap on hypothesis-generation attempts
	MinRefitInliers   int        // Refit a survivor only when it has more inliers than this
	LossPolicy        LossPolicy // Accumulate or reset loss between rounds
	Workers           int        // Goroutines used to score hypotheses; <= 1 scores serially
	RNG               *rand.Rand // Random number generator for deterministic behavior

	// OnRound, if set, is called after each prune-and-refit round.
	OnRound func(RoundStats)
}

// DefaultEstimatorConfig returns the standard preemptive RANSAC settings.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		SampleNumber:      500,
		DistanceThreshold: 0.1,
		MinPoints:         500,
		PoolSize:          1024,
		MaxAttempts:       2048,
		MinRefitInliers:   4,
		LossPolicy:        LossAccumulate,
		Workers:           1,
		RNG:               rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c EstimatorConfig) validate() error {
	switch {
	case c.SampleNumber <= 0:
		return fmt.Errorf("sample number must be positive, got %d: %w", c.SampleNumber, ErrInvalidConfig)
	case !(c.DistanceThreshold > 0) || math.IsInf(c.DistanceThreshold, 0):
		return fmt.Errorf("distance threshold must be positive and finite, got %g: %w", c.DistanceThreshold, ErrInvalidConfig)
	case c.MinPoints < 4:
		return fmt.Errorf("min points must be at least 4, got %d: %w", c.MinPoints, ErrInvalidConfig)
	case c.PoolSize <= 0:
		return fmt.Errorf("pool size must be positive, got %d: %w", c.PoolSize, ErrInvalidConfig)
	case c.MaxAttempts <= 0:
		return fmt.Errorf("max attempts must be positive, got %d: %w", c.MaxAttempts, ErrInvalidConfig)
	case c.MinRefitInliers < 2:
		return fmt.Errorf("min refit inliers must be at least 2, got %d: %w", c.MinRefitInliers, ErrInvalidConfig)
	case c.LossPolicy != LossAccumulate && c.LossPolicy != LossReset:
		return fmt.Errorf("unknown loss policy %v: %w", c.LossPolicy, ErrInvalidConfig)
	case c.RNG == nil:
		return fmt.Errorf("RNG is required: %w", ErrInvalidConfig)
	}
	return nil
}

// RoundStats describes one preemptive scoring round.
type RoundStats struct {
	Round    int     `json:"round"`
	Before   int     `json:"before"`   // hypotheses scored
	After    int     `json:"after"`    // hypotheses kept (Before/2)
	BestLoss float64 `json:"bestLoss"` // lowest loss after this round's scoring
	Refitted int     `json:"refitted"` // survivors re-estimated from their inliers
}

// Result is the outcome of a successful estimate.
type Result struct {
	Pose              Pose      `json:"pose"`
	Transform         Transform `json:"transform"`
	Loss              float64   `json:"loss"`
	Rounds            int       `json:"rounds"`
	InitialHypotheses int       `json:"initialHypotheses"`
	Attempts          int       `json:"attempts"`
}

// inlier records which candidate of which correspondence matched.
type inlier struct {
	Index     int
	Candidate int
}

// hypothesis is one generation's view of a candidate pose. Scoring and
// refitting build new values rather than mutating the previous generation.
type hypothesis struct {
	transform Transform
	loss      float64
	inliers   []inlier
}

// Estimate recovers the camera-to-world pose from one-to-many 3D-3D
// correspondences with preemptive RANSAC.
//
// cameraPoints[i] may match any of candidates[i]; only candidates[i][0] is
// used to seed hypotheses. Each round scores every surviving hypothesis on a
// fresh random batch, keeps the better half and refits survivors from their
// recorded inliers until one remains.
//
// The context is checked between rounds so callers can bound latency.
func Estimate(ctx context.Context, cameraPoints []r3.Vector, candidates [][]r3.Vector, cfg EstimatorConfig) (Result, error) {
	if err := cfg.validate(); err != nil {
		return Result{}, fmt.Errorf("estimate: %w", err)
	}
	if len(cameraPoints) != len(candidates) {
		return Result{}, fmt.Errorf("estimate: %d camera points vs %d candidate lists: %w",
			len(cameraPoints), len(candidates), ErrInvalidInput)
	}
	n := len(cameraPoints)
	if n < cfg.MinPoints {
		return Result{}, fmt.Errorf("estimate: %d correspondences, need %d: %w", n, cfg.MinPoints, ErrInsufficientData)
	}
	for i, c := range candidates {
		if len(c) == 0 {
			return Result{}, fmt.Errorf("estimate: correspondence %d has no candidates: %w", i, ErrInvalidInput)
		}
	}

	pool, attempts := generateHypotheses(cameraPoints, candidates, cfg)
	if len(pool) == 0 {
		return Result{}, fmt.Errorf("estimate: no hypothesis from %d attempts: %w", attempts, ErrDegenerateSample)
	}
	initial := len(pool)

	round := 0
	for len(pool) > 1 {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("estimate: round %d: %w", round+1, err)
		}
		round++

		batch := make([]int, cfg.SampleNumber)
		for i := range batch {
			batch[i] = cfg.RNG.Intn(n)
		}

		scored, err := scoreGeneration(ctx, pool, batch, cameraPoints, candidates, cfg)
		if err != nil {
			return Result{}, fmt.Errorf("estimate: round %d: %w", round, err)
		}

		sort.SliceStable(scored, func(i, j int) bool {
			return scored[i].loss < scored[j].loss
		})
		survivors := scored[:len(scored)/2]

		next := make([]hypothesis, len(survivors))
		refitted := 0
		for i, h := range survivors {
			next[i] = refit(h, cameraPoints, candidates, cfg.MinRefitInliers)
			if len(h.inliers) > cfg.MinRefitInliers && next[i].inliers == nil {
				refitted++
			}
		}

		if cfg.OnRound != nil {
			cfg.OnRound(RoundStats{
				Round:    round,
				Before:   len(scored),
				After:    len(next),
				BestLoss: scored[0].loss,
				Refitted: refitted,
			})
		}
		pool = next
	}

	best := pool[0]
	p := best.transform.Pose()
	if err := ValidatePose(p); err != nil {
		return Result{}, fmt.Errorf("estimate: %w", err)
	}

	return Result{
		Pose:              p,
		Transform:         best.transform,
		Loss:              best.loss,
		Rounds:            round,
		InitialHypotheses: initial,
		Attempts:          attempts,
	}, nil
}

// generateHypotheses fits seed transforms from random 4-point samples until
// the pool reaches PoolSize or MaxAttempts is exhausted. Degenerate samples
// are discarded.
func generateHypotheses(cameraPoints []r3.Vector, candidates [][]r3.Vector, cfg EstimatorConfig) ([]hypothesis, int) {
	n := len(cameraPoints)
	pool := make([]hypothesis, 0, cfg.PoolSize)
	src := make([]r3.Vector, 4)
	dst := make([]r3.Vector, 4)

	attempts := 0
	for attempts < cfg.MaxAttempts && len(pool) < cfg.PoolSize {
		attempts++
		idx := sampleDistinct4(cfg.RNG, n)
		for i, k := range idx {
			src[i] = cameraPoints[k]
			dst[i] = candidates[k][0]
		}
		t, err := FitRigidTransform(src, dst)
		if err != nil {
			continue
		}
		pool = append(pool, hypothesis{transform: t})
	}
	return pool, attempts
}

// sampleDistinct4 draws four pairwise-distinct indices in [0, n) by
// rejection. n must be at least 4.
func sampleDistinct4(rng *rand.Rand, n int) [4]int {
	for {
		k := [4]int{rng.Intn(n), rng.Intn(n), rng.Intn(n), rng.Intn(n)}
		if k[0] != k[1] && k[0] != k[2] && k[0] != k[3] &&
			k[1] != k[2] && k[1] != k[3] && k[2] != k[3] {
			return k
		}
	}
}

// scoreGeneration scores every hypothesis against the batch. With more than
// one worker the hypotheses are fanned out; each writes only its own slot so
// the result matches serial scoring exactly.
func scoreGeneration(ctx context.Context, pool []hypothesis, batch []int, cameraPoints []r3.Vector, candidates [][]r3.Vector, cfg EstimatorConfig) ([]hypothesis, error) {
	batchPts := make([]r3.Vector, len(batch))
	for i, idx := range batch {
		batchPts[i] = cameraPoints[idx]
	}

	scored := make([]hypothesis, len(pool))
	if cfg.Workers <= 1 {
		for i, h := range pool {
			scored[i] = score(h, batch, batchPts, candidates, cfg)
		}
		return scored, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i := range pool {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scored[i] = score(pool[i], batch, batchPts, candidates, cfg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scored, nil
}

// score returns the next generation of h after evaluating one batch.
func score(h hypothesis, batch []int, batchPts []r3.Vector, candidates [][]r3.Vector, cfg EstimatorConfig) hypothesis {
	loss := h.loss
	if cfg.LossPolicy == LossReset {
		loss = 0
	}
	inliers := make([]inlier, len(h.inliers), len(h.inliers)+len(batch))
	copy(inliers, h.inliers)

	transformed := ApplyTransform(batchPts, h.transform)
	for j, p := range transformed {
		idx := batch[j]
		minDist := math.Inf(1)
		minIndex := -1
		for k, w := range candidates[idx] {
			if d := p.Distance(w); d < minDist {
				minDist = d
				minIndex = k
			}
		}
		if minIndex < 0 || minDist > cfg.DistanceThreshold {
			loss++
			continue
		}
		inliers = append(inliers, inlier{Index: idx, Candidate: minIndex})
	}

	return hypothesis{transform: h.transform, loss: loss, inliers: inliers}
}

// refit re-estimates h from its inliers when it has more than minInliers of
// them. On success the inlier record is cleared; if the fit fails h is kept
// as it was.
func refit(h hypothesis, cameraPoints []r3.Vector, candidates [][]r3.Vector, minInliers int) hypothesis {
	if len(h.inliers) <= minInliers {
		return h
	}
	src := make([]r3.Vector, len(h.inliers))
	dst := make([]r3.Vector, len(h.inliers))
	for i, in := range h.inliers {
		src[i] = cameraPoints[in.Index]
		dst[i] = candidates[in.Index][in.Candidate]
	}
	t, err := FitRigidTransform(src, dst)
	if err != nil {
		return h
	}
	return hypothesis{transform: t, loss: h.loss}
}
