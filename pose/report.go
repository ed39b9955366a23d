package pose

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Summarize describes a pose as a CameraPose: quaternion (x, y, z, w), Euler
// angles and camera position in world coordinates.
func Summarize(cameraID string, p Pose) (CameraPose, error) {
	if err := ValidatePose(p); err != nil {
		return CameraPose{}, fmt.Errorf("summarize %s: %w", cameraID, err)
	}
	r := p.Rotation()
	q, err := RotationToQuaternion(r)
	if err != nil {
		return CameraPose{}, fmt.Errorf("summarize %s: %w", cameraID, err)
	}
	return CameraPose{
		CameraID:   cameraID,
		Pose:       p,
		Position:   p.Translation(),
		Quaternion: QuaternionXYZW(q),
		Euler:      RotationToEulerAngle(r),
		Timestamp:  time.Now().Unix(),
	}, nil
}

// FramePose builds the CameraPose for an estimate computed from frame.
func FramePose(frame *Frame, res Result, elapsed time.Duration) (CameraPose, error) {
	cp, err := Summarize(frame.CameraID, res.Pose)
	if err != nil {
		return CameraPose{}, err
	}
	cp.FrameID = frame.FrameID
	cp.Loss = res.Loss
	cp.Rounds = res.Rounds
	cp.Correspondences = len(frame.CameraPoints)
	cp.DurationMS = elapsed.Milliseconds()
	if frame.Timestamp > 0 {
		cp.Timestamp = frame.Timestamp
	}
	return cp, nil
}

// Comparison is the difference between an estimated and a reference pose
type Comparison struct {
	AngleDeg float64 `json:"angleDeg"`
	Distance float64 `json:"distance"`
}

// CompareToReference measures how far estimate is from reference. The
// reference rotation is orthonormalized first so hand-written or rounded
// ground-truth matrices are accepted.
func CompareToReference(estimate, reference Pose) (Comparison, error) {
	r, err := Orthonormalize(reference.Rotation())
	if err != nil {
		return Comparison{}, fmt.Errorf("reference pose: %w", err)
	}
	ref := Transform{R: r, T: reference.Translation()}.Pose()

	angle, dist, err := PoseDistance(estimate, ref)
	if err != nil {
		return Comparison{}, err
	}
	return Comparison{AngleDeg: angle, Distance: dist}, nil
}

// ParsePoseJSON reads a pose given either as a bare 4x4 row-major array or as
// an object with a "pose" field, such as a serialized CameraPose.
func ParsePoseJSON(data []byte) (Pose, error) {
	var p Pose
	if err := json.Unmarshal(data, &p); err == nil {
		return p, nil
	}

	var wrapped struct {
		Pose *Pose `json:"pose"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return Pose{}, fmt.Errorf("parsing pose JSON: %w", err)
	}
	if wrapped.Pose == nil {
		return Pose{}, fmt.Errorf("parsing pose JSON: no pose field: %w", ErrInvalidInput)
	}
	return *wrapped.Pose, nil
}

// LoadPoseFile reads a pose JSON file
func LoadPoseFile(path string) (Pose, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Pose{}, fmt.Errorf("reading file: %w", err)
	}
	return ParsePoseJSON(data)
}
