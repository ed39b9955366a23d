package pose

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/golang/geo/r3"
)

// Frame is one batch of 3D-3D correspondences produced for a single camera
// image. CandidateWorldPoints[i] holds every world-space match predicted for
// CameraPoints[i].
type Frame struct {
	CameraID             string         `json:"cameraId"`
	FrameID              string         `json:"frameId,omitempty"`
	Timestamp            int64          `json:"timestamp,omitempty"`
	CameraPoints         [][3]float64   `json:"cameraPoints"`
	CandidateWorldPoints [][][3]float64 `json:"candidateWorldPoints"`
}

// CameraPose is an estimated pose for one camera, in the form published over
// MQTT, served over HTTP and stored in the pose cache.
type CameraPose struct {
	CameraID        string      `json:"cameraId"`
	FrameID         string      `json:"frameId,omitempty"`
	Pose            Pose        `json:"pose"`
	Position        r3.Vector   `json:"position"`
	Quaternion      [4]float64  `json:"quaternion"` // x, y, z, w
	Euler           EulerAngles `json:"euler"`
	Loss            float64     `json:"loss"`
	Rounds          int         `json:"rounds"`
	Correspondences int         `json:"correspondences"`
	Timestamp       int64       `json:"timestamp"`
	DurationMS      int64       `json:"durationMs"`
}

// CameraConfig defines a camera from the config file
type CameraConfig struct {
	ID     string  `yaml:"id" json:"id"`
	Topic  string  `yaml:"topic" json:"topic"`
	Color  string  `yaml:"color" json:"color"`
	ApiURL *string `yaml:"apiUrl,omitempty" json:"apiUrl,omitempty"` // Optional URL serving frame JSON
}

// EstimatorSettings is the YAML form of EstimatorConfig.
type EstimatorSettings struct {
	SampleNumber      int     `yaml:"sampleNumber,omitempty" json:"sampleNumber,omitempty"`
	DistanceThreshold float64 `yaml:"distanceThreshold,omitempty" json:"distanceThreshold,omitempty"`
	MinPoints         int     `yaml:"minPoints,omitempty" json:"minPoints,omitempty"`
	PoolSize          int     `yaml:"poolSize,omitempty" json:"poolSize,omitempty"`
	MaxAttempts       int     `yaml:"maxAttempts,omitempty" json:"maxAttempts,omitempty"`
	LossPolicy        string  `yaml:"lossPolicy,omitempty" json:"lossPolicy,omitempty"`
	Workers           int     `yaml:"workers,omitempty" json:"workers,omitempty"`
	Seed              int64   `yaml:"seed,omitempty" json:"seed,omitempty"` // 0 seeds from the clock
	TimeoutMS         int     `yaml:"timeoutMs,omitempty" json:"timeoutMs,omitempty"`
}

// Config represents the full configuration file
type Config struct {
	MQTT        MQTTConfig        `yaml:"mqtt" json:"mqtt"`
	Estimator   EstimatorSettings `yaml:"estimator" json:"estimator"`
	Cameras     []CameraConfig    `yaml:"cameras" json:"cameras"`
	GridSpacing float64           `yaml:"gridSpacing,omitempty" json:"gridSpacing,omitempty"` // Grid line spacing in world units (default 1)
	HistorySize int               `yaml:"historySize,omitempty" json:"historySize,omitempty"` // Trajectory points kept per camera (default 500)
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// GetCameraByID returns the camera config for the given ID
func (c *Config) GetCameraByID(id string) *CameraConfig {
	for i := range c.Cameras {
		if c.Cameras[i].ID == id {
			return &c.Cameras[i]
		}
	}
	return nil
}

// EstimatorConfig converts the YAML settings into an EstimatorConfig,
// filling unset fields from DefaultEstimatorConfig. seedOverride, when
// non-zero, takes precedence over the configured seed.
func (s EstimatorSettings) EstimatorConfig(seedOverride int64) (EstimatorConfig, error) {
	cfg := DefaultEstimatorConfig()
	if s.SampleNumber != 0 {
		cfg.SampleNumber = s.SampleNumber
	}
	if s.DistanceThreshold != 0 {
		cfg.DistanceThreshold = s.DistanceThreshold
	}
	if s.MinPoints != 0 {
		cfg.MinPoints = s.MinPoints
	}
	if s.PoolSize != 0 {
		cfg.PoolSize = s.PoolSize
	}
	if s.MaxAttempts != 0 {
		cfg.MaxAttempts = s.MaxAttempts
	}
	if s.Workers != 0 {
		cfg.Workers = s.Workers
	}

	policy, err := ParseLossPolicy(s.LossPolicy)
	if err != nil {
		return EstimatorConfig{}, err
	}
	cfg.LossPolicy = policy

	seed := s.Seed
	if seedOverride != 0 {
		seed = seedOverride
	}
	if seed != 0 {
		cfg.RNG = rand.New(rand.NewSource(seed))
	}

	if err := cfg.validate(); err != nil {
		return EstimatorConfig{}, fmt.Errorf("estimator settings: %w", err)
	}
	return cfg, nil
}

// Timeout returns the per-estimate deadline, or 0 for none.
func (s EstimatorSettings) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}
