// Package series loads the CT series and ROI masks a prediction request
// points at.
package series

import "github.com/kwv/tmifield/field"

// Shape is the extent of a volume: Rows and Cols of each slice, and the
// number of slices.
type Shape struct {
	Rows   int
	Cols   int
	Slices int
}

// Len returns the number of voxels.
func (s Shape) Len() int {
	return s.Rows * s.Cols * s.Slices
}

func (s Shape) offset(row, col, slice int) int {
	return (slice*s.Rows+row)*s.Cols + col
}

func (s Shape) contains(row, col, slice int) bool {
	return row >= 0 && row < s.Rows && col >= 0 && col < s.Cols && slice >= 0 && slice < s.Slices
}

// Volume holds Hounsfield units, slice by slice.
type Volume struct {
	Shape
	HU []float64
}

func NewVolume(shape Shape) *Volume {
	return &Volume{Shape: shape, HU: make([]float64, shape.Len())}
}

func (v *Volume) At(row, col, slice int) float64 {
	if !v.contains(row, col, slice) {
		return 0
	}
	return v.HU[v.offset(row, col, slice)]
}

func (v *Volume) Set(row, col, slice int, hu float64) {
	if v.contains(row, col, slice) {
		v.HU[v.offset(row, col, slice)] = hu
	}
}

// Mask3D is a binary ROI mask with the same layout as Volume.
type Mask3D struct {
	Shape
	Bits []bool
}

func NewMask3D(shape Shape) *Mask3D {
	return &Mask3D{Shape: shape, Bits: make([]bool, shape.Len())}
}

func (m *Mask3D) At(row, col, slice int) bool {
	if !m.contains(row, col, slice) {
		return false
	}
	return m.Bits[m.offset(row, col, slice)]
}

func (m *Mask3D) Set(row, col, slice int, on bool) {
	if m.contains(row, col, slice) {
		m.Bits[m.offset(row, col, slice)] = on
	}
}

// Count returns the number of voxels inside the mask.
func (m *Mask3D) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// Series is one CT series: the voxels plus the geometry that maps voxel
// indices (column, row, slice) to patient millimetres.
type Series struct {
	PatientID string
	Volume    *Volume
	// PixelSpacing is the in-plane spacing in mm.
	PixelSpacing float64
	// SliceSpacing is the mean distance between consecutive slices in mm.
	SliceSpacing float64
	Affine       field.Affine
}

// PixelToPatientAffine implements field.SeriesGeometry.
func (s *Series) PixelToPatientAffine() field.Affine {
	return s.Affine
}

// Shape returns the volume extent.
func (s *Series) Shape() Shape {
	return s.Volume.Shape
}
