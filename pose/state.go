package pose

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/golang/geo/r3"
)

// DefaultHistorySize is the number of trajectory points kept per camera
const DefaultHistorySize = 500

// DefaultColor is used for cameras without a configured color
const DefaultColor = "#FF0000"

// TrajectoryPoint is one past camera position, viewed from above.
type TrajectoryPoint struct {
	FrameID   string    `json:"frameId,omitempty"`
	Position  r3.Vector `json:"position"`
	Heading   float64   `json:"heading"` // degrees, 0 = +X, CCW around +Z
	Timestamp time.Time `json:"timestamp"`
}

// StateTracker holds the latest pose and recent trajectory for every camera.
// It is shared by the MQTT handlers and the HTTP endpoints.
type StateTracker struct {
	mu          sync.RWMutex
	poses       map[string]*CameraPose
	history     map[string][]TrajectoryPoint
	colors      map[string]string
	historySize int
	cachePath   string // empty disables persistence; fixed at construction
	saveMu      sync.Mutex
}

// NewStateTracker creates a tracker keeping historySize points per camera.
// A non-positive size uses DefaultHistorySize.
func NewStateTracker(historySize int) *StateTracker {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &StateTracker{
		poses:       make(map[string]*CameraPose),
		history:     make(map[string][]TrajectoryPoint),
		colors:      make(map[string]string),
		historySize: historySize,
	}
}

// NewStateTrackerWithCache creates a tracker that persists the latest poses to
// cachePath. Poses already in the cache are loaded on creation.
func NewStateTrackerWithCache(historySize int, cachePath string) *StateTracker {
	st := NewStateTracker(historySize)
	st.cachePath = cachePath
	if cachePath == "" {
		return st
	}
	cache, err := LoadPoseCache(cachePath)
	if err != nil {
		log.Printf("[STATE] Ignoring pose cache %s: %v", cachePath, err)
		return st
	}
	if cache != nil {
		for id, p := range cache.Cameras {
			p := p
			st.poses[id] = &p
		}
	}
	return st
}

// SetColor sets the render color for a camera
func (st *StateTracker) SetColor(cameraID, hexColor string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.colors[cameraID] = hexColor
}

// Color returns the render color for a camera
func (st *StateTracker) Color(cameraID string) string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if c := st.colors[cameraID]; c != "" {
		return c
	}
	return DefaultColor
}

// UpdatePose records a new pose and appends it to the camera's trajectory.
func (st *StateTracker) UpdatePose(p CameraPose) {
	// saveMu spans the update and the write so snapshots reach disk in order
	if st.cachePath != "" {
		st.saveMu.Lock()
		defer st.saveMu.Unlock()
	}

	st.mu.Lock()
	stored := p
	st.poses[p.CameraID] = &stored

	ts := time.Now()
	if p.Timestamp > 0 {
		ts = time.Unix(p.Timestamp, 0)
	}
	h := append(st.history[p.CameraID], TrajectoryPoint{
		FrameID:   p.FrameID,
		Position:  p.Position,
		Heading:   Heading(p.Pose),
		Timestamp: ts,
	})
	if len(h) > st.historySize {
		h = append([]TrajectoryPoint(nil), h[len(h)-st.historySize:]...)
	}
	st.history[p.CameraID] = h

	var snapshot *PoseCache
	if st.cachePath != "" {
		snapshot = st.snapshotLocked()
	}
	st.mu.Unlock()

	if snapshot != nil {
		if err := SavePoseCache(st.cachePath, snapshot); err != nil {
			log.Printf("[STATE] Failed to save pose cache: %v", err)
		}
	}
}

// GetPose returns a copy of the latest pose for a camera.
func (st *StateTracker) GetPose(cameraID string) (CameraPose, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	p, ok := st.poses[cameraID]
	if !ok {
		return CameraPose{}, false
	}
	return *p, true
}

// GetPoses returns copies of all current poses
func (st *StateTracker) GetPoses() map[string]CameraPose {
	st.mu.RLock()
	defer st.mu.RUnlock()

	result := make(map[string]CameraPose, len(st.poses))
	for k, v := range st.poses {
		result[k] = *v
	}
	return result
}

// GetTrajectories returns copies of every camera's trajectory, oldest first.
func (st *StateTracker) GetTrajectories() map[string][]TrajectoryPoint {
	st.mu.RLock()
	defer st.mu.RUnlock()

	result := make(map[string][]TrajectoryPoint, len(st.history))
	for k, v := range st.history {
		result[k] = append([]TrajectoryPoint(nil), v...)
	}
	return result
}

// HasPoses returns true if at least one camera has been posed
func (st *StateTracker) HasPoses() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.poses) > 0
}

// Snapshot returns the current poses as a PoseCache.
func (st *StateTracker) Snapshot() *PoseCache {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.snapshotLocked()
}

func (st *StateTracker) snapshotLocked() *PoseCache {
	cache := NewPoseCache()
	for k, v := range st.poses {
		cache.Cameras[k] = *v
	}
	return cache
}

// Heading returns the top-down bearing of the camera's optical axis (+Z in
// camera space) in degrees, counter-clockwise from world +X.
func Heading(p Pose) float64 {
	fwd := p.Rotation().Apply(r3.Vector{Z: 1})
	if fwd.X == 0 && fwd.Y == 0 {
		return 0
	}
	return math.Atan2(fwd.Y, fwd.X) * 180 / math.Pi
}

// ResetTrajectory drops a camera's trajectory history but keeps its latest pose.
func (st *StateTracker) ResetTrajectory(cameraID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.history, cameraID)
}
