package pose

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"sort"

	"github.com/paulmach/orb"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TrajectoryRenderer draws camera trajectories into a raster image
type TrajectoryRenderer struct {
	Tracker     *StateTracker
	Scale       float64 // pixels per world unit
	MaxSize     int     // longest image side in pixels; Scale shrinks to fit
	Padding     int     // pixels around the content
	GridSpacing float64 // world units between grid lines; 0 disables
}

// DefaultMaxRenderSize bounds the raster output for wide trajectories.
const DefaultMaxRenderSize = 4096

const minGridPixels = 4

// NewTrajectoryRenderer creates a raster renderer with default settings
func NewTrajectoryRenderer(st *StateTracker) *TrajectoryRenderer {
	return &TrajectoryRenderer{
		Tracker:     st,
		Scale:       100,
		MaxSize:     DefaultMaxRenderSize,
		Padding:     40,
		GridSpacing: 1,
	}
}

// Render draws every trajectory, the latest pose of each camera with a
// heading tick, and a legend. Returns an error when there is nothing to draw.
func (r *TrajectoryRenderer) Render() (*image.RGBA, error) {
	if r.Tracker == nil {
		return nil, fmt.Errorf("no poses available for rendering")
	}
	b, ok := TrajectoryBounds(r.Tracker)
	if !ok {
		return nil, fmt.Errorf("no poses available for rendering")
	}
	b = b.Pad(0.5)

	scale := r.effectiveScale(b)
	width := int(math.Ceil((b.Max[0]-b.Min[0])*scale)) + 2*r.Padding
	height := int(math.Ceil((b.Max[1]-b.Min[1])*scale)) + 2*r.Padding
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	fillRect(img, img.Bounds(), color.RGBA{255, 255, 255, 255})

	// image rows grow downward, world y grows upward
	toImage := func(p orb.Point) (int, int) {
		x := int((p[0]-b.Min[0])*scale) + r.Padding
		y := height - (int((p[1]-b.Min[1])*scale) + r.Padding)
		return x, y
	}

	// grid lines closer than a few pixels would flood the image
	if r.GridSpacing > 0 && r.GridSpacing*scale >= minGridPixels {
		grid := color.RGBA{220, 220, 220, 255}
		for x := math.Ceil(b.Min[0]/r.GridSpacing) * r.GridSpacing; x <= b.Max[0]; x += r.GridSpacing {
			x0, y0 := toImage(orb.Point{x, b.Min[1]})
			x1, y1 := toImage(orb.Point{x, b.Max[1]})
			drawLine(img, x0, y0, x1, y1, grid)
		}
		for y := math.Ceil(b.Min[1]/r.GridSpacing) * r.GridSpacing; y <= b.Max[1]; y += r.GridSpacing {
			x0, y0 := toImage(orb.Point{b.Min[0], y})
			x1, y1 := toImage(orb.Point{b.Max[0], y})
			drawLine(img, x0, y0, x1, y1, grid)
		}
	}

	for id, traj := range r.Tracker.GetTrajectories() {
		c := parseHexColor(r.Tracker.Color(id))
		ls := TrajectoryLineString(traj)
		for i := 1; i < len(ls); i++ {
			x0, y0 := toImage(ls[i-1])
			x1, y1 := toImage(ls[i])
			drawLine(img, x0, y0, x1, y1, c)
		}
	}

	poses := r.Tracker.GetPoses()
	ids := make([]string, 0, len(poses))
	for id := range poses {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		p := poses[id]
		c := parseHexColor(r.Tracker.Color(id))
		cx, cy := toImage(orb.Point{p.Position.X, p.Position.Y})

		rad := Heading(p.Pose) * math.Pi / 180
		hx := cx + int(math.Round(16*math.Cos(rad)))
		hy := cy - int(math.Round(16*math.Sin(rad)))
		drawLine(img, cx, cy, hx, hy, color.RGBA{40, 40, 40, 255})

		drawCircle(img, cx, cy, 7, color.RGBA{40, 40, 40, 255})
		drawCircle(img, cx, cy, 5, c)
	}

	y := 15
	for _, id := range ids {
		fillRect(img, image.Rect(10, y-6, 22, y+6), parseHexColor(r.Tracker.Color(id)))
		drawText(img, 28, y+4, id, color.RGBA{0, 0, 0, 255})
		y += 18
	}

	return img, nil
}

// effectiveScale lowers Scale so the content fits within MaxSize pixels.
func (r *TrajectoryRenderer) effectiveScale(b orb.Bound) float64 {
	scale := r.Scale
	if scale <= 0 {
		scale = 100
	}
	maxSize := r.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxRenderSize
	}
	room := float64(maxSize - 2*r.Padding)
	if room < 1 {
		room = 1
	}
	extent := math.Max(b.Max[0]-b.Min[0], b.Max[1]-b.Min[1])
	if extent*scale > room {
		scale = room / extent
	}
	return scale
}

// SavePNG renders to a PNG file
func (r *TrajectoryRenderer) SavePNG(path string) error {
	img, err := r.Render()
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return png.Encode(f, img)
}

func fillRect(img *image.RGBA, rect image.Rectangle, c color.RGBA) {
	rect = rect.Intersect(img.Bounds())
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// drawCircle draws a filled circle
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				x, y := cx+dx, cy+dy
				if image.Pt(x, y).In(img.Bounds()) {
					img.SetRGBA(x, y, c)
				}
			}
		}
	}
}

// drawLine draws a 1px line with Bresenham's algorithm
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		if image.Pt(x0, y0).In(img.Bounds()) {
			img.SetRGBA(x0, y0, c)
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// parseHexColor parses a hex color string like "#FF6B6B"; invalid input yields red
func parseHexColor(hex string) color.RGBA {
	defaultColor := color.RGBA{255, 0, 0, 255}

	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	if len(hex) != 6 {
		return defaultColor
	}

	var r, g, b uint8
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		return defaultColor
	}
	return color.RGBA{r, g, b, 255}
}
