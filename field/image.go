package field

import "fmt"

// Image channels.
const (
	ChannelDensity = 0 // HU projection, min-max scaled over the PTV
	ChannelMask    = 1 // PTV mask
	ChannelOAR     = 2 // organ-at-risk overlap
	NumChannels    = 3
)

// DefaultWidthResize is the side of the square model frame.
const DefaultWidthResize = 512

// Image is the coronal projection the optimizer works on: Height rows
// (lateral axis) by Width columns (one per CT slice) by three channels,
// stored row-major.
type Image struct {
	Height int
	Width  int
	Pix    []float64

	PixelSpacing   float64 // mm per row
	SliceThickness float64 // mm per column
	NumSlices      int
	WidthResize    int
}

// NewImage allocates a zero image with the given spacing.
func NewImage(height, width int, pixelSpacing, sliceThickness float64) *Image {
	return &Image{
		Height:         height,
		Width:          width,
		Pix:            make([]float64, height*width*NumChannels),
		PixelSpacing:   pixelSpacing,
		SliceThickness: sliceThickness,
		NumSlices:      width,
		WidthResize:    DefaultWidthResize,
	}
}

// AspectRatio is slice thickness over pixel spacing.
func (im *Image) AspectRatio() float64 {
	return im.SliceThickness / im.PixelSpacing
}

func (im *Image) offset(row, col, ch int) int {
	return (row*im.Width+col)*NumChannels + ch
}

// At returns the value at (row, col, channel). Out-of-range reads return 0.
func (im *Image) At(row, col, ch int) float64 {
	if row < 0 || row >= im.Height || col < 0 || col >= im.Width {
		return 0
	}
	return im.Pix[im.offset(row, col, ch)]
}

// Set writes the value at (row, col, channel). Out-of-range writes are ignored.
func (im *Image) Set(row, col, ch int, v float64) {
	if row < 0 || row >= im.Height || col < 0 || col >= im.Width {
		return
	}
	im.Pix[im.offset(row, col, ch)] = v
}

// IsTarget reports whether the PTV mask is set at (row, col).
func (im *Image) IsTarget(row, col int) bool {
	return im.At(row, col, ChannelMask) != 0
}

// ValidateShape checks the image against the expected (WidthResize, NumSlices, 3) shape.
func (im *Image) ValidateShape() error {
	want := im.WidthResize
	if want == 0 {
		want = DefaultWidthResize
	}
	if im.Height != want || im.Width != im.NumSlices {
		return fmt.Errorf("image shape (%d, %d, %d) does not match expected (%d, %d, %d)",
			im.Height, im.Width, NumChannels, want, im.NumSlices, NumChannels)
	}
	if len(im.Pix) != im.Height*im.Width*NumChannels {
		return fmt.Errorf("image buffer holds %d values, expected %d", len(im.Pix), im.Height*im.Width*NumChannels)
	}
	return nil
}

// RowCenterOfMass returns the channel-weighted mean row index, or the image
// centre when the channel sums to zero.
func (im *Image) RowCenterOfMass(ch int) float64 {
	var sum, weighted float64
	for r := range im.Height {
		for c := range im.Width {
			v := im.At(r, c, ch)
			sum += v
			weighted += v * float64(r)
		}
	}
	if sum == 0 {
		return float64(im.Height-1) / 2
	}
	return weighted / sum
}

// ColumnTargetCount counts mask pixels in column col over all rows.
func (im *Image) ColumnTargetCount(col int) int {
	n := 0
	for r := range im.Height {
		if im.IsTarget(r, col) {
			n++
		}
	}
	return n
}

// clampRange intersects [lo, hi) with [0, n).
func clampRange(lo, hi, n int) (int, int) {
	lo = max(lo, 0)
	hi = min(hi, n)
	if hi < lo {
		hi = lo
	}
	return lo, hi
}
