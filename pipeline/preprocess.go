package pipeline

import (
	"errors"
	"math"
	"strings"

	"github.com/kwv/tmifield/field"
	"github.com/kwv/tmifield/series"
)

// ErrEmptyTarget is returned when the PTV mask covers no voxel.
var ErrEmptyTarget = errors.New("PTV mask is empty")

// Channel weights of the model input.
const (
	backgroundDensity = -1.0
	maskWeight        = 0.3
	oarWeight         = 0.5
)

// ROIMask is an organ-at-risk mask with its name.
type ROIMask struct {
	Name string
	Mask *series.Mask3D
}

// ProjectCoronal builds the coronal image the optimizer works on. Image rows
// are the series columns (lateral axis) and image columns are the slices.
//
// Channel 0 is the mean HU along the anterior-posterior axis over non-zero
// masked voxels, min-max scaled over the projected PTV with background -1.
// Channel 1 is the projected PTV scaled by 0.3. Channel 2 sums the projected
// OARs, each scaled by 0.5 except intestine ROIs.
func ProjectCoronal(s *series.Series, ptv *series.Mask3D, oars []ROIMask, widthResize int) (*field.Image, error) {
	vol := s.Volume
	img := field.NewImage(vol.Cols, vol.Slices, s.PixelSpacing, s.SliceSpacing)
	img.WidthResize = widthResize

	inside := make([]bool, vol.Cols*vol.Slices)
	density := make([]float64, vol.Cols*vol.Slices)
	lo, hi := math.Inf(1), math.Inf(-1)
	for c := range vol.Cols {
		for k := range vol.Slices {
			var sum float64
			var n int
			covered := false
			for r := range vol.Rows {
				if !ptv.At(r, c, k) {
					continue
				}
				covered = true
				if v := vol.At(r, c, k); v != 0 {
					sum += v
					n++
				}
			}
			if !covered {
				continue
			}
			i := c*vol.Slices + k
			inside[i] = true
			if n > 0 {
				density[i] = sum / float64(n)
			}
			lo = min(lo, density[i])
			hi = max(hi, density[i])
		}
	}
	if math.IsInf(lo, 1) {
		return nil, ErrEmptyTarget
	}
	scale := hi - lo
	if scale == 0 {
		scale = 1
	}

	for c := range vol.Cols {
		for k := range vol.Slices {
			i := c*vol.Slices + k
			if inside[i] {
				img.Set(c, k, field.ChannelDensity, (density[i]-lo)/scale)
				img.Set(c, k, field.ChannelMask, maskWeight)
			} else {
				img.Set(c, k, field.ChannelDensity, backgroundDensity)
			}
		}
	}

	for _, oar := range oars {
		w := oarWeight
		if strings.Contains(oar.Name, "intestine") {
			w = 1
		}
		for c := range vol.Cols {
			for k := range vol.Slices {
				if projectAny(oar.Mask, c, k) {
					img.Set(c, k, field.ChannelOAR, img.At(c, k, field.ChannelOAR)+w)
				}
			}
		}
	}
	return img, nil
}

func projectAny(m *series.Mask3D, col, slice int) bool {
	for r := range m.Rows {
		if m.At(r, col, slice) {
			return true
		}
	}
	return false
}
