package pose

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/golang/geo/r3"
)

// ParseFrameFile reads and parses a correspondence frame JSON file
func ParseFrameFile(path string) (*Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return ParseFrameJSON(data)
}

// ParseFrameJSON parses correspondence frame JSON data and validates its shape
func ParseFrameJSON(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks that every camera point has at least one candidate and all
// coordinates are finite. It does not enforce the estimator's minimum size.
func (f *Frame) Validate() error {
	if len(f.CameraPoints) != len(f.CandidateWorldPoints) {
		return fmt.Errorf("frame %s: %d camera points vs %d candidate lists: %w",
			f.FrameID, len(f.CameraPoints), len(f.CandidateWorldPoints), ErrInvalidInput)
	}
	for i, p := range f.CameraPoints {
		if !finite3(p) {
			return fmt.Errorf("frame %s: camera point %d is not finite: %w", f.FrameID, i, ErrInvalidInput)
		}
		if len(f.CandidateWorldPoints[i]) == 0 {
			return fmt.Errorf("frame %s: camera point %d has no candidates: %w", f.FrameID, i, ErrInvalidInput)
		}
		for j, w := range f.CandidateWorldPoints[i] {
			if !finite3(w) {
				return fmt.Errorf("frame %s: candidate %d of point %d is not finite: %w", f.FrameID, j, i, ErrInvalidInput)
			}
		}
	}
	return nil
}

// Points converts the frame into estimator inputs.
func (f *Frame) Points() ([]r3.Vector, [][]r3.Vector) {
	camera := make([]r3.Vector, len(f.CameraPoints))
	for i, p := range f.CameraPoints {
		camera[i] = toVector(p)
	}
	candidates := make([][]r3.Vector, len(f.CandidateWorldPoints))
	for i, list := range f.CandidateWorldPoints {
		candidates[i] = make([]r3.Vector, len(list))
		for j, w := range list {
			candidates[i][j] = toVector(w)
		}
	}
	return camera, candidates
}

// NewFrame builds a frame from estimator-style inputs.
func NewFrame(cameraID string, camera []r3.Vector, candidates [][]r3.Vector) *Frame {
	f := &Frame{
		CameraID:             cameraID,
		CameraPoints:         make([][3]float64, len(camera)),
		CandidateWorldPoints: make([][][3]float64, len(candidates)),
	}
	for i, p := range camera {
		f.CameraPoints[i] = fromVector(p)
	}
	for i, list := range candidates {
		f.CandidateWorldPoints[i] = make([][3]float64, len(list))
		for j, w := range list {
			f.CandidateWorldPoints[i][j] = fromVector(w)
		}
	}
	return f
}

// CandidateCount returns the total number of world candidates in the frame.
func (f *Frame) CandidateCount() int {
	n := 0
	for _, list := range f.CandidateWorldPoints {
		n += len(list)
	}
	return n
}

func toVector(p [3]float64) r3.Vector {
	return r3.Vector{X: p[0], Y: p[1], Z: p[2]}
}

func fromVector(v r3.Vector) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

func finite3(p [3]float64) bool {
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
