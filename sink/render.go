package sink

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/kwv/tmifield/field"
)

var (
	searchColor   = color.RGBA{31, 119, 180, 255} // bounds of the search space
	landmarkColor = color.RGBA{214, 39, 40, 255}
	labelColor    = color.RGBA{255, 255, 0, 255}
)

// RenderInput renders the three image channels as RGB. Background (-1) is black.
func RenderInput(img *field.Image) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	var lo, hi [field.NumChannels]float64
	for ch := range field.NumChannels {
		lo[ch], hi[ch] = channelRange(img, ch)
	}
	for r := range img.Height {
		for c := range img.Width {
			var px [field.NumChannels]uint8
			for ch := range field.NumChannels {
				px[ch] = gray(img.At(r, c, ch), lo[ch], hi[ch])
			}
			out.Set(c, r, color.RGBA{px[0], px[1], px[2], 255})
		}
	}
	return out
}

// RenderLocalOpt renders the mask channel with the search space bounds and
// the landmark columns found in it.
func RenderLocalOpt(img *field.Image, space field.SearchSpace, lm field.Landmarks) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	lo, hi := channelRange(img, field.ChannelMask)
	for r := range img.Height {
		for c := range img.Width {
			v := gray(img.At(r, c, field.ChannelMask), lo, hi)
			out.Set(c, r, color.RGBA{v, v, v, 255})
		}
	}

	top, bottom := space.BandRight.Start, space.BandLeft.End-1
	left, right := space.Left, space.Right-1

	drawVLine(out, left, top, bottom, searchColor, false)
	drawVLine(out, right, top, bottom, searchColor, false)
	for _, band := range []field.RowBand{space.BandRight, space.BandLeft} {
		drawHLine(out, band.Start, left, right, searchColor)
		drawHLine(out, band.End-1, left, right, searchColor)
	}

	drawVLine(out, lm.XIliac, top, bottom, landmarkColor, true)
	drawVLine(out, lm.XRibs, top, bottom, landmarkColor, true)
	drawText(out, 4, 13, lm.String(), labelColor)
	return out
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}

func channelRange(img *field.Image, ch int) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for r := range img.Height {
		for c := range img.Width {
			v := max(img.At(r, c, ch), 0)
			lo = min(lo, v)
			hi = max(hi, v)
		}
	}
	return lo, hi
}

// gray maps v from [lo, hi] onto 0-255; negative values are background.
func gray(v, lo, hi float64) uint8 {
	if v < 0 || hi <= lo {
		return 0
	}
	return uint8(math.Round(255 * (v - lo) / (hi - lo)))
}

// drawVLine draws column x from row y0 to y1 inclusive, clipped to the image.
// Dashed lines skip every other run of three pixels.
func drawVLine(img *image.RGBA, x, y0, y1 int, c color.RGBA, dashed bool) {
	b := img.Bounds()
	if x < b.Min.X || x >= b.Max.X {
		return
	}
	for y := max(y0, b.Min.Y); y <= min(y1, b.Max.Y-1); y++ {
		if dashed && (y-y0)/3%2 == 1 {
			continue
		}
		img.Set(x, y, c)
	}
}

func drawHLine(img *image.RGBA, y, x0, x1 int, c color.RGBA) {
	b := img.Bounds()
	if y < b.Min.Y || y >= b.Max.Y {
		return
	}
	for x := max(x0, b.Min.X); x <= min(x1, b.Max.X-1); x++ {
		img.Set(x, y, c)
	}
}

// drawText renders text onto an image at the specified baseline position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
