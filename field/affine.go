package field

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrSingularMatrix is returned when an affine cannot be inverted.
var ErrSingularMatrix = errors.New("singular affine matrix")

// Affine is a 4x4 homogeneous transform between pixel and patient space.
type Affine struct {
	m *mat.Dense
}

// NewAffine builds an affine from 16 row-major values.
func NewAffine(rowMajor [16]float64) Affine {
	data := make([]float64, 16)
	copy(data, rowMajor[:])
	return Affine{m: mat.NewDense(4, 4, data)}
}

// IdentityAffine returns the identity transform.
func IdentityAffine() Affine {
	return NewAffine([16]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

// SeriesAffine builds the pixel-to-patient transform of an image series.
// Columns are rowDir*rowSpacing, colDir*colSpacing, sliceDir*sliceSpacing
// and the origin (ImagePositionPatient of the first slice).
func SeriesAffine(rowDir, colDir, sliceDir, origin Vec3, rowSpacing, colSpacing, sliceSpacing float64) Affine {
	var v [16]float64
	for i := range 3 {
		v[i*4+0] = rowDir[i] * rowSpacing
		v[i*4+1] = colDir[i] * colSpacing
		v[i*4+2] = sliceDir[i] * sliceSpacing
		v[i*4+3] = origin[i]
	}
	v[15] = 1
	return NewAffine(v)
}

// At returns element (i, j).
func (a Affine) At(i, j int) float64 {
	if a.m == nil {
		if i == j {
			return 1
		}
		return 0
	}
	return a.m.At(i, j)
}

// Apply transforms a point.
func (a Affine) Apply(p Vec3) Vec3 {
	if a.m == nil {
		return p
	}
	in := mat.NewVecDense(4, []float64{p[0], p[1], p[2], 1})
	var out mat.VecDense
	out.MulVec(a.m, in)
	return Vec3{out.AtVec(0), out.AtVec(1), out.AtVec(2)}
}

// Inverse returns the inverse transform.
func (a Affine) Inverse() (Affine, error) {
	if a.m == nil {
		return IdentityAffine(), nil
	}
	var inv mat.Dense
	if err := inv.Inverse(a.m); err != nil {
		return Affine{}, fmt.Errorf("%w: %v", ErrSingularMatrix, err)
	}
	return Affine{m: &inv}, nil
}

// Multiply composes two transforms: applying the result equals applying b then a.
func (a Affine) Multiply(b Affine) Affine {
	var out mat.Dense
	am, bm := a.m, b.m
	if am == nil {
		am = IdentityAffine().m
	}
	if bm == nil {
		bm = IdentityAffine().m
	}
	out.Mul(am, bm)
	return Affine{m: &out}
}

// Cross returns the cross product a x b.
func Cross(a, b Vec3) Vec3 {
	return Vec3{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}
