package sink

import (
	"image/color"
	"image/png"
	"io"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"

	"github.com/kwv/tmifield/field"
)

// regionColors follows the tab10 palette, one colour per isocenter group.
var regionColors = []color.RGBA{
	{31, 119, 180, 255},  // pelvis
	{255, 127, 14, 255},  // abdomen
	{44, 160, 44, 255},   // thorax
	{214, 39, 40, 255},   // chest
	{148, 103, 189, 255}, // head
	{140, 86, 75, 255},   // arms
}

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// GeometryRenderer draws the field footprints over the PTV. One canvas unit
// is one image row; columns are stretched by the aspect ratio so the drawing
// keeps patient proportions.
type GeometryRenderer struct {
	Image      *field.Image
	Geometry   field.FieldGeometry
	Padding    float64
	Resolution canvas.Resolution
}

func NewGeometryRenderer(img *field.Image, g field.FieldGeometry) *GeometryRenderer {
	return &GeometryRenderer{
		Image:      img,
		Geometry:   g,
		Padding:    10,
		Resolution: canvas.DPI(72),
	}
}

func (r *GeometryRenderer) size() (width, height float64) {
	ar := r.Image.AspectRatio()
	return float64(r.Image.Width)*ar + 2*r.Padding, float64(r.Image.Height) + 2*r.Padding
}

// RenderToSVG writes the drawing as SVG.
func (r *GeometryRenderer) RenderToSVG(w io.Writer) error {
	width, height := r.size()
	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, width, height)
	return svgRenderer.Close()
}

// RenderToPNG rasterizes the drawing at r.Resolution.
func (r *GeometryRenderer) RenderToPNG(w io.Writer) error {
	width, height := r.size()
	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, width, height)
	return png.Encode(w, rast)
}

func (r *GeometryRenderer) renderToCanvas(renderer canvasRenderer, width, height float64) {
	ar := r.Image.AspectRatio()
	// canvas y grows upward, image rows grow downward
	toCanvas := func(col, row float64) (float64, float64) {
		return col*ar + r.Padding, height - r.Padding - row
	}

	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.Black}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	// PTV, one rectangle per run of target pixels in a row
	ptvStyle := canvas.DefaultStyle
	ptvStyle.Fill = canvas.Paint{Color: color.RGBA{211, 211, 211, 255}}
	ptvStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	for row := range r.Image.Height {
		start := -1
		for col := 0; col <= r.Image.Width; col++ {
			inside := col < r.Image.Width && r.Image.IsTarget(row, col)
			switch {
			case inside && start < 0:
				start = col
			case !inside && start >= 0:
				x, y := toCanvas(float64(start), float64(row+1))
				run := canvas.Rectangle(float64(col-start)*ar, 1).Translate(x, y)
				renderer.RenderPath(run, ptvStyle, canvas.Identity)
				start = -1
			}
		}
	}

	g := r.Geometry
	for i := range field.NumFields {
		f := field.FieldIndex(i)
		if !g.Active(f) {
			continue
		}
		c := regionColors[min(i/2, len(regionColors)-1)]

		fieldStyle := canvas.DefaultStyle
		fieldStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		fieldStyle.Stroke = canvas.Paint{Color: c}
		fieldStyle.StrokeWidth = 1.5
		if i%2 == 0 && f < field.ArmLeft {
			fieldStyle.Dashes = []float64{4, 2}
		}

		b := g.Bound(f, ar)
		x, y := toCanvas(b.Left(), b.Top())
		rect := canvas.Rectangle((b.Right()-b.Left())*ar, b.Top()-b.Bottom()).Translate(x, y)
		renderer.RenderPath(rect, fieldStyle, canvas.Identity)

		isoStyle := canvas.DefaultStyle
		isoStyle.Fill = canvas.Paint{Color: c}
		isoStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
		cx, cy := toCanvas(g.IsoZ(f), g.IsoX(f))
		renderer.RenderPath(canvas.Circle(2).Translate(cx, cy), isoStyle, canvas.Identity)
	}
}
