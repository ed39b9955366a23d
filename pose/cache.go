package pose

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// DefaultPoseCachePath is the default path for the last-known-pose cache
const DefaultPoseCachePath = ".pose-cache.json"

// PoseCache stores the last estimated pose per camera so a restarted service
// can serve poses before new frames arrive.
type PoseCache struct {
	Cameras     map[string]CameraPose `json:"cameras"`
	LastUpdated int64                 `json:"lastUpdated"`
}

// NewPoseCache returns an empty cache.
func NewPoseCache() *PoseCache {
	return &PoseCache{Cameras: make(map[string]CameraPose)}
}

// LoadPoseCache loads the pose cache from a JSON file.
// Returns nil, nil when the file does not exist yet.
func LoadPoseCache(path string) (*PoseCache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading pose cache: %w", err)
	}

	var cache PoseCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("parsing pose cache: %w", err)
	}
	if cache.Cameras == nil {
		cache.Cameras = make(map[string]CameraPose)
	}
	return &cache, nil
}

// SavePoseCache writes the cache to path, creating parent directories
func SavePoseCache(path string, cache *PoseCache) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating pose cache directory: %w", err)
	}

	cache.LastUpdated = time.Now().Unix()

	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling pose cache: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing pose cache: %w", err)
	}
	return nil
}

// Get returns the cached pose for a camera.
func (c *PoseCache) Get(cameraID string) (CameraPose, bool) {
	if c == nil || c.Cameras == nil {
		return CameraPose{}, false
	}
	p, ok := c.Cameras[cameraID]
	return p, ok
}

// Set stores a pose under its camera ID.
func (c *PoseCache) Set(p CameraPose) {
	if c.Cameras == nil {
		c.Cameras = make(map[string]CameraPose)
	}
	c.Cameras[p.CameraID] = p
}

// CacheStatus reports which configured cameras have a cached pose
type CacheStatus struct {
	PosedCameras   []string  `json:"posedCameras"`
	MissingCameras []string  `json:"missingCameras"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// Status returns the cache status against the expected camera IDs
func (c *PoseCache) Status(expectedCameras []string) CacheStatus {
	var status CacheStatus
	if c == nil {
		status.MissingCameras = expectedCameras
		return status
	}

	status.LastUpdated = time.Unix(c.LastUpdated, 0)
	for id := range c.Cameras {
		status.PosedCameras = append(status.PosedCameras, id)
	}
	sort.Strings(status.PosedCameras)

	for _, id := range expectedCameras {
		if _, ok := c.Cameras[id]; !ok {
			status.MissingCameras = append(status.MissingCameras, id)
		}
	}
	return status
}

// NeedsRefresh reports whether the cache is older than maxAge
func (c *PoseCache) NeedsRefresh(maxAge time.Duration) bool {
	if c == nil || c.LastUpdated == 0 {
		return true
	}
	return time.Since(time.Unix(c.LastUpdated, 0)) > maxAge
}
