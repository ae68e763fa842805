package pipeline

import "github.com/kwv/tmifield/field"

// Tensor is a dense float32 model input with its shape.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// ModelInput frames the coronal image for the model: nearest-neighbour
// resize to a widthResize square, a quarter turn counter-clockwise, and a
// channel-first (1, C, H, W) layout.
func ModelInput(img *field.Image, widthResize int) Tensor {
	w := widthResize
	out := Tensor{
		Shape: []int{1, field.NumChannels, w, w},
		Data:  make([]float32, field.NumChannels*w*w),
	}
	for i := range w {
		for j := range w {
			// rotated (i, j) comes from resized (j, w-1-i)
			r := nearest(j, w, img.Height)
			c := nearest(w-1-i, w, img.Width)
			for ch := range field.NumChannels {
				out.Data[(ch*w+i)*w+j] = float32(img.At(r, c, ch))
			}
		}
	}
	return out
}

// nearest maps destination index dst of a dstSize axis onto a srcSize axis.
func nearest(dst, dstSize, srcSize int) int {
	return min(dst*srcSize/dstSize, srcSize-1)
}

// FrameFor describes how the model frame relates to img.
func FrameFor(img *field.Image) field.Frame {
	return field.Frame{
		WidthResize: img.WidthResize,
		NumSlices:   img.NumSlices,
		AspectRatio: img.AspectRatio(),
		CenterX:     img.RowCenterOfMass(field.ChannelDensity) / float64(img.WidthResize),
	}
}
