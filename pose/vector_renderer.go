package pose

import (
	"fmt"
	"image/color"
	"image/png"
	"io"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// VectorRenderer draws a top-down view of every camera's trajectory and
// latest pose as vector graphics. Canvas units are millimeters; Scale maps
// world units onto them.
type VectorRenderer struct {
	Tracker     *StateTracker
	Scale       float64           // canvas mm per world unit (default 100)
	MaxSize     float64           // longest canvas side in mm; Scale shrinks to fit
	Padding     float64           // canvas mm around the content
	Resolution  canvas.Resolution // PNG output resolution (default 300 DPI)
	GridSpacing float64           // world units between grid lines; 0 disables
	Tolerance   float64           // Douglas-Peucker tolerance in world units; 0 disables
}

// NewVectorRenderer creates a vector renderer with default settings
func NewVectorRenderer(st *StateTracker) *VectorRenderer {
	return &VectorRenderer{
		Tracker:     st,
		Scale:       100,
		MaxSize:     DefaultMaxCanvasSize,
		Padding:     20,
		Resolution:  canvas.DPI(300),
		GridSpacing: 1,
	}
}

// DefaultMaxCanvasSize bounds the canvas in mm (about 2400 px at 300 DPI).
const DefaultMaxCanvasSize = 200.0

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the view as SVG
func (r *VectorRenderer) RenderToSVG(w io.Writer) error {
	bound, err := r.bounds()
	if err != nil {
		return err
	}
	scale := r.effectiveScale(bound)
	width, height := r.size(bound, scale)

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, bound, scale, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the view as PNG
func (r *VectorRenderer) RenderToPNG(w io.Writer) error {
	bound, err := r.bounds()
	if err != nil {
		return err
	}
	scale := r.effectiveScale(bound)
	width, height := r.size(bound, scale)

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, bound, scale, width, height)
	return png.Encode(w, rast)
}

func (r *VectorRenderer) bounds() (orb.Bound, error) {
	if r.Tracker == nil {
		return orb.Bound{}, fmt.Errorf("no poses available for rendering")
	}
	bound, ok := TrajectoryBounds(r.Tracker)
	if !ok {
		return orb.Bound{}, fmt.Errorf("no poses available for rendering")
	}
	// A single pose still needs a visible area.
	return bound.Pad(0.5), nil
}

// effectiveScale lowers Scale so the canvas fits within MaxSize.
func (r *VectorRenderer) effectiveScale(b orb.Bound) float64 {
	scale := r.Scale
	if scale <= 0 {
		scale = 100
	}
	maxSize := r.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxCanvasSize
	}
	room := math.Max(maxSize-2*r.Padding, 1)
	extent := math.Max(b.Max[0]-b.Min[0], b.Max[1]-b.Min[1])
	if extent*scale > room {
		scale = room / extent
	}
	return scale
}

func (r *VectorRenderer) size(b orb.Bound, scale float64) (float64, float64) {
	return (b.Max[0]-b.Min[0])*scale + 2*r.Padding,
		(b.Max[1]-b.Min[1])*scale + 2*r.Padding
}

func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer, b orb.Bound, scale, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	// canvas is y-up like the world frame, so no flip is needed
	toCanvas := func(x, y float64) (float64, float64) {
		return (x-b.Min[0])*scale + r.Padding, (y-b.Min[1])*scale + r.Padding
	}

	if r.GridSpacing > 0 && r.GridSpacing*scale >= 1 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: canvas.Gray}
		gridStyle.StrokeWidth = 0.3
		gridStyle.Dashes = []float64{2, 2}

		for x := math.Ceil(b.Min[0]/r.GridSpacing) * r.GridSpacing; x <= b.Max[0]; x += r.GridSpacing {
			p := &canvas.Path{}
			p.MoveTo(toCanvas(x, b.Min[1]))
			p.LineTo(toCanvas(x, b.Max[1]))
			renderer.RenderPath(p, gridStyle, canvas.Identity)
		}
		for y := math.Ceil(b.Min[1]/r.GridSpacing) * r.GridSpacing; y <= b.Max[1]; y += r.GridSpacing {
			p := &canvas.Path{}
			p.MoveTo(toCanvas(b.Min[0], y))
			p.LineTo(toCanvas(b.Max[0], y))
			renderer.RenderPath(p, gridStyle, canvas.Identity)
		}
	}

	trajectories := r.Tracker.GetTrajectories()
	poses := r.Tracker.GetPoses()

	ids := make([]string, 0, len(trajectories))
	for id := range trajectories {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		ls := SimplifyTrajectory(TrajectoryLineString(trajectories[id]), r.Tolerance)
		if len(ls) < 2 {
			continue
		}
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: canvas.Transparent}
		style.Stroke = canvas.Paint{Color: withAlpha(parseHexColor(r.Tracker.Color(id)), 160)}
		style.StrokeWidth = 1.0

		p := &canvas.Path{}
		for i, pt := range ls {
			cx, cy := toCanvas(pt[0], pt[1])
			if i == 0 {
				p.MoveTo(cx, cy)
			} else {
				p.LineTo(cx, cy)
			}
		}
		renderer.RenderPath(p, style, canvas.Identity)
	}

	ids = ids[:0]
	for id := range poses {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		pose := poses[id]
		c := parseHexColor(r.Tracker.Color(id))
		cx, cy := toCanvas(pose.Position.X, pose.Position.Y)

		bodyStyle := canvas.DefaultStyle
		bodyStyle.Fill = canvas.Paint{Color: c}
		bodyStyle.Stroke = canvas.Paint{Color: canvas.Black}
		bodyStyle.StrokeWidth = 0.5
		renderer.RenderPath(canvas.Circle(3).Translate(cx, cy), bodyStyle, canvas.Identity)

		rad := Heading(pose.Pose) * math.Pi / 180
		headStyle := canvas.DefaultStyle
		headStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		headStyle.Stroke = canvas.Paint{Color: canvas.Black}
		headStyle.StrokeWidth = 0.8

		p := &canvas.Path{}
		p.MoveTo(cx, cy)
		p.LineTo(cx+8*math.Cos(rad), cy+8*math.Sin(rad))
		renderer.RenderPath(p, headStyle, canvas.Identity)
	}
}

// withAlpha returns c premultiplied to the given alpha
func withAlpha(c color.RGBA, a uint8) color.RGBA {
	return color.RGBA{
		R: uint8(uint32(c.R) * uint32(a) / 255),
		G: uint8(uint32(c.G) * uint32(a) / 255),
		B: uint8(uint32(c.B) * uint32(a) / 255),
		A: a,
	}
}
