package pose

import (
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/golang/geo/r3"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func poseAt(cameraID string, x, y, z float64) CameraPose {
	tr := IdentityTransform()
	tr.T = r3.Vector{X: x, Y: y, Z: z}
	return CameraPose{
		CameraID: cameraID,
		Pose:     tr.Pose(),
		Position: tr.T,
	}
}

// ---------------------------------------------------------------------------
// NewStateTracker
// ---------------------------------------------------------------------------

func TestNewStateTracker(t *testing.T) {
	st := NewStateTracker(0)
	if st == nil {
		t.Fatal("NewStateTracker returned nil")
	}
	if st.historySize != DefaultHistorySize {
		t.Errorf("historySize = %d, want %d", st.historySize, DefaultHistorySize)
	}
	if len(st.GetPoses()) != 0 {
		t.Error("new tracker should have zero poses")
	}
	if st.HasPoses() {
		t.Error("new tracker HasPoses should be false")
	}
}

// ---------------------------------------------------------------------------
// UpdatePose / GetPose
// ---------------------------------------------------------------------------

func TestStateTracker_UpdatePose(t *testing.T) {
	st := NewStateTracker(10)
	st.UpdatePose(poseAt("cam-a", 1, 2, 3))

	p, ok := st.GetPose("cam-a")
	if !ok {
		t.Fatal("cam-a not found")
	}
	if p.Position != (r3.Vector{X: 1, Y: 2, Z: 3}) {
		t.Errorf("Position = %v", p.Position)
	}
	if !st.HasPoses() {
		t.Error("HasPoses should be true after UpdatePose")
	}

	if _, ok := st.GetPose("cam-b"); ok {
		t.Error("cam-b should not exist")
	}
}

func TestStateTracker_ReturnsCopies(t *testing.T) {
	st := NewStateTracker(10)
	st.UpdatePose(poseAt("cam-a", 1, 0, 0))

	poses := st.GetPoses()
	p := poses["cam-a"]
	p.Position.X = 99
	poses["cam-a"] = p

	got, _ := st.GetPose("cam-a")
	if got.Position.X != 1 {
		t.Errorf("tracker state mutated through copy: X = %g", got.Position.X)
	}

	traj := st.GetTrajectories()
	traj["cam-a"][0].Position.X = 42
	if st.GetTrajectories()["cam-a"][0].Position.X != 1 {
		t.Error("trajectory mutated through copy")
	}
}

func TestStateTracker_HistoryBounded(t *testing.T) {
	st := NewStateTracker(3)
	for i := 0; i < 5; i++ {
		st.UpdatePose(poseAt("cam-a", float64(i), 0, 0))
	}

	traj := st.GetTrajectories()["cam-a"]
	if len(traj) != 3 {
		t.Fatalf("len(trajectory) = %d, want 3", len(traj))
	}
	for i, want := range []float64{2, 3, 4} {
		if traj[i].Position.X != want {
			t.Errorf("traj[%d].X = %g, want %g", i, traj[i].Position.X, want)
		}
	}
}

func TestStateTracker_Color(t *testing.T) {
	st := NewStateTracker(0)
	if got := st.Color("cam-a"); got != DefaultColor {
		t.Errorf("default Color = %q, want %q", got, DefaultColor)
	}
	st.SetColor("cam-a", "#00FF00")
	if got := st.Color("cam-a"); got != "#00FF00" {
		t.Errorf("Color = %q, want #00FF00", got)
	}
}

func TestStateTracker_Concurrent(t *testing.T) {
	st := NewStateTracker(50)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("cam-%d", n%3)
			for j := 0; j < 100; j++ {
				st.UpdatePose(poseAt(id, float64(j), 0, 0))
				_ = st.GetPoses()
				_ = st.GetTrajectories()
			}
		}(i)
	}
	wg.Wait()

	if len(st.GetPoses()) != 3 {
		t.Errorf("len(poses) = %d, want 3", len(st.GetPoses()))
	}
}

// ---------------------------------------------------------------------------
// persistence
// ---------------------------------------------------------------------------

func TestStateTracker_PersistsToCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poses.json")

	st := NewStateTrackerWithCache(10, path)
	st.UpdatePose(poseAt("cam-a", 4, 5, 6))

	reloaded := NewStateTrackerWithCache(10, path)
	p, ok := reloaded.GetPose("cam-a")
	if !ok {
		t.Fatal("cam-a not restored from cache")
	}
	if p.Position.Y != 5 {
		t.Errorf("restored Position = %v", p.Position)
	}
	if len(reloaded.GetTrajectories()) != 0 {
		t.Error("trajectories are not persisted")
	}
}

func TestStateTracker_ConcurrentCacheWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poses.json")
	st := NewStateTrackerWithCache(10, path)

	const cameras = 16
	var wg sync.WaitGroup
	for i := 0; i < cameras; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			st.UpdatePose(poseAt(fmt.Sprintf("cam-%02d", n), float64(n), 0, 0))
		}(i)
	}
	wg.Wait()

	// the last write on disk must include every update
	cache, err := LoadPoseCache(path)
	if err != nil {
		t.Fatalf("LoadPoseCache: %v", err)
	}
	if len(cache.Cameras) != cameras {
		t.Errorf("cache holds %d cameras, want %d", len(cache.Cameras), cameras)
	}
}

// ---------------------------------------------------------------------------
// Heading
// ---------------------------------------------------------------------------

func TestHeading(t *testing.T) {
	tests := []struct {
		name string
		axis r3.Vector
		deg  float64
		want float64
	}{
		{"identity looks up", r3.Vector{Z: 1}, 0, 0},
		{"tilted to +X", r3.Vector{Y: 1}, 90, 0},
		{"tilted to +Y", r3.Vector{X: 1}, -90, 90},
		{"tilted to -X", r3.Vector{Y: 1}, -90, 180},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := Transform{R: axisAngle(tt.axis, tt.deg)}
			got := Heading(tr.Pose())
			if math.Abs(math.Abs(got)-math.Abs(tt.want)) > 1e-9 {
				t.Errorf("Heading() = %g, want %g", got, tt.want)
			}
		})
	}
}

func TestStateTracker_ResetTrajectory(t *testing.T) {
	st := NewStateTracker(10)
	st.UpdatePose(poseAt("cam-a", 1, 0, 0))
	st.UpdatePose(poseAt("cam-b", 2, 0, 0))

	st.ResetTrajectory("cam-a")

	traj := st.GetTrajectories()
	if _, ok := traj["cam-a"]; ok {
		t.Error("cam-a trajectory should be cleared")
	}
	if len(traj["cam-b"]) != 1 {
		t.Error("cam-b trajectory should be untouched")
	}
	if _, ok := st.GetPose("cam-a"); !ok {
		t.Error("latest pose should survive a trajectory reset")
	}
}
