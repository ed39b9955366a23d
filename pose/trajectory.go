package pose

import (
	"encoding/json"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

// GeometryType represents the GeoJSON geometry type
type GeometryType string

const (
	GeometryPoint      GeometryType = "Point"
	GeometryLineString GeometryType = "LineString"
)

// Geometry represents a GeoJSON geometry object
type Geometry struct {
	Type        GeometryType    `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Feature represents a GeoJSON feature with geometry and properties
type Feature struct {
	Type       string                 `json:"type"`
	Geometry   *Geometry              `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
	ID         interface{}            `json:"id,omitempty"`
}

// FeatureCollection represents a GeoJSON FeatureCollection
type FeatureCollection struct {
	Type     string     `json:"type"`
	Features []*Feature `json:"features"`
}

// NewFeatureCollection creates a new empty FeatureCollection
func NewFeatureCollection() *FeatureCollection {
	return &FeatureCollection{
		Type:     "FeatureCollection",
		Features: make([]*Feature, 0),
	}
}

// AddFeature appends a feature to the collection
func (fc *FeatureCollection) AddFeature(f *Feature) {
	fc.Features = append(fc.Features, f)
}

// NewFeature creates a Feature with the given geometry and properties
func NewFeature(geom *Geometry, props map[string]interface{}) *Feature {
	if props == nil {
		props = make(map[string]interface{})
	}
	return &Feature{
		Type:       "Feature",
		Geometry:   geom,
		Properties: props,
	}
}

// TrajectoryLineString projects a trajectory onto the world x/y plane.
func TrajectoryLineString(points []TrajectoryPoint) orb.LineString {
	ls := make(orb.LineString, len(points))
	for i, p := range points {
		ls[i] = orb.Point{p.Position.X, p.Position.Y}
	}
	return ls
}

// TrajectoryLength returns the top-down path length of a trajectory.
func TrajectoryLength(points []TrajectoryPoint) float64 {
	if len(points) < 2 {
		return 0
	}
	return planar.Length(TrajectoryLineString(points))
}

// SimplifyTrajectory applies Douglas-Peucker to a projected trajectory.
// A non-positive tolerance returns the line unchanged.
func SimplifyTrajectory(ls orb.LineString, tolerance float64) orb.LineString {
	if tolerance <= 0 || len(ls) < 3 {
		return ls
	}
	simplified, ok := simplify.DouglasPeucker(tolerance).Simplify(ls.Clone()).(orb.LineString)
	if !ok {
		return ls
	}
	return simplified
}

func lineStringToGeometry(ls orb.LineString) *Geometry {
	coords := make([][2]float64, len(ls))
	for i, p := range ls {
		coords[i] = [2]float64{p[0], p[1]}
	}
	coordsJSON, _ := json.Marshal(coords)
	return &Geometry{
		Type:        GeometryLineString,
		Coordinates: coordsJSON,
	}
}

func pointToGeometry(p orb.Point) *Geometry {
	coordsJSON, _ := json.Marshal([2]float64{p[0], p[1]})
	return &Geometry{
		Type:        GeometryPoint,
		Coordinates: coordsJSON,
	}
}

// TrajectoriesToFeatureCollection builds a GeoJSON view of the tracker: one
// LineString per camera trajectory (simplified with tolerance) and one Point
// per camera's latest pose. Features are ordered by camera ID.
func TrajectoriesToFeatureCollection(st *StateTracker, tolerance float64) *FeatureCollection {
	fc := NewFeatureCollection()
	if st == nil {
		return fc
	}

	trajectories := st.GetTrajectories()
	poses := st.GetPoses()

	ids := make([]string, 0, len(poses))
	for id := range poses {
		ids = append(ids, id)
	}
	for id := range trajectories {
		if _, ok := poses[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		color := st.Color(id)

		if traj := trajectories[id]; len(traj) >= 2 {
			ls := SimplifyTrajectory(TrajectoryLineString(traj), tolerance)
			fc.AddFeature(NewFeature(lineStringToGeometry(ls), map[string]interface{}{
				"kind":     "trajectory",
				"cameraId": id,
				"color":    color,
				"points":   len(traj),
				"length":   TrajectoryLength(traj),
				"start":    traj[0].Timestamp.Unix(),
				"end":      traj[len(traj)-1].Timestamp.Unix(),
			}))
		}

		if p, ok := poses[id]; ok {
			fc.AddFeature(NewFeature(pointToGeometry(orb.Point{p.Position.X, p.Position.Y}), map[string]interface{}{
				"kind":       "camera",
				"cameraId":   id,
				"color":      color,
				"z":          p.Position.Z,
				"heading":    Heading(p.Pose),
				"quaternion": p.Quaternion,
				"euler":      p.Euler,
				"loss":       p.Loss,
				"frameId":    p.FrameID,
			}))
		}
	}
	return fc
}

// TrajectoryBounds returns the x/y bounding box of every trajectory point and
// latest pose in the tracker. ok is false when there is nothing to bound.
func TrajectoryBounds(st *StateTracker) (orb.Bound, bool) {
	var mp orb.MultiPoint
	for _, traj := range st.GetTrajectories() {
		mp = append(mp, TrajectoryLineString(traj)...)
	}
	for _, p := range st.GetPoses() {
		mp = append(mp, orb.Point{p.Position.X, p.Position.Y})
	}
	if len(mp) == 0 {
		return orb.Bound{}, false
	}
	return mp.Bound(), true
}
