package field

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// NumFields is the fixed number of treatment fields in a plan.
const NumFields = 12

// FieldIndex names a slot in the 12-field layout. Each anatomical region owns
// two fields sharing one isocenter: the even index is the cranial field and
// the odd index is the caudal field. Arms are the exception, one field per side.
type FieldIndex int

const (
	PelvisCranial FieldIndex = iota
	PelvisCaudal
	AbdomenCranial
	AbdomenCaudal
	ThoraxCranial
	ThoraxCaudal
	ChestCranial
	ChestCaudal
	HeadCranial
	HeadCaudal
	ArmLeft
	ArmRight
)

var fieldNames = [NumFields]string{
	"pelvis-cranial", "pelvis-caudal",
	"abdomen-cranial", "abdomen-caudal",
	"thorax-cranial", "thorax-caudal",
	"chest-cranial", "chest-caudal",
	"head-cranial", "head-caudal",
	"arm-left", "arm-right",
}

func (f FieldIndex) String() string {
	if f < 0 || int(f) >= NumFields {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldNames[f]
}

// Axis indices of a Vec3. In pixel space AxisX is the image row (lateral),
// AxisY is unused and AxisZ is the image column (longitudinal, slice index).
const (
	AxisX = 0
	AxisY = 1
	AxisZ = 2
)

// Aperture bounds, relative to the isocenter.
const (
	Lower = 0
	Upper = 1
)

// Vec3 is a point in pixel or patient space.
type Vec3 [3]float64

// IsZero reports whether all three coordinates are exactly zero (absent field).
func (v Vec3) IsZero() bool {
	return v[0] == 0 && v[1] == 0 && v[2] == 0
}

// Aperture is a (lower, upper) jaw pair relative to the isocenter.
type Aperture [2]float64

func (a Aperture) IsZero() bool {
	return a[Lower] == 0 && a[Upper] == 0
}

// Width returns upper minus lower.
func (a Aperture) Width() float64 {
	return a[Upper] - a[Lower]
}

// FieldGeometry holds the isocenters and jaw apertures of every field.
// An all-zero isocenter marks the field absent; its apertures are zero too.
type FieldGeometry struct {
	Isocenters [NumFields]Vec3     `json:"Isocenters"`
	JawsX      [NumFields]Aperture `json:"Jaw_X"`
	JawsY      [NumFields]Aperture `json:"Jaw_Y"`
}

// Clone returns a deep copy. Arrays copy by value so a plain assignment is enough.
func (g FieldGeometry) Clone() FieldGeometry {
	return g
}

// Active reports whether field f has a non-zero isocenter.
func (g *FieldGeometry) Active(f FieldIndex) bool {
	return !g.Isocenters[f].IsZero()
}

// IsoZ returns the longitudinal (column) coordinate of field f's isocenter.
func (g *FieldGeometry) IsoZ(f FieldIndex) float64 {
	return g.Isocenters[f][AxisZ]
}

// IsoX returns the lateral (row) coordinate of field f's isocenter.
func (g *FieldGeometry) IsoX(f FieldIndex) float64 {
	return g.Isocenters[f][AxisX]
}

// SetRegionZ moves both isocenters of the region starting at cranial field f
// to column z.
func (g *FieldGeometry) SetRegionZ(f FieldIndex, z float64) {
	g.Isocenters[f][AxisZ] = z
	g.Isocenters[f+1][AxisZ] = z
}

// ZeroAbsent forces apertures of absent fields back to zero.
func (g *FieldGeometry) ZeroAbsent() {
	for i := range g.Isocenters {
		if g.Isocenters[i].IsZero() {
			g.JawsX[i] = Aperture{}
			g.JawsY[i] = Aperture{}
		}
	}
}

// Edge returns the image column reached by the X jaw of field f on the given
// side. X apertures are stored in row-pixel units, so the column offset is the
// jaw divided by the aspect ratio.
func (g *FieldGeometry) Edge(f FieldIndex, side int, aspectRatio float64) float64 {
	return g.IsoZ(f) + g.JawsX[f][side]/aspectRatio
}

// FieldOverlap is the longitudinal overlap in columns between the upper edge
// of the caudal-side field lower and the lower edge of the cranial-side field
// upper. Negative values are gaps.
func (g *FieldGeometry) FieldOverlap(lower, upper FieldIndex, aspectRatio float64) float64 {
	return g.Edge(lower, Upper, aspectRatio) - g.Edge(upper, Lower, aspectRatio)
}

// Bound returns the pixel-space footprint of field f as an orb.Bound with
// X = image column and Y = image row. Y jaws are scaled by the aspect ratio
// the same way the edge fits read them.
func (g *FieldGeometry) Bound(f FieldIndex, aspectRatio float64) orb.Bound {
	iso := g.Isocenters[f]
	b := orb.Bound{
		Min: orb.Point{g.Edge(f, Lower, aspectRatio), iso[AxisX] + g.JawsY[f][Lower]*aspectRatio},
		Max: orb.Point{g.Edge(f, Upper, aspectRatio), iso[AxisX] + g.JawsY[f][Upper]*aspectRatio},
	}
	// jaws may be stored inverted; keep Min <= Max
	if b.Min[0] > b.Max[0] {
		b.Min[0], b.Max[0] = b.Max[0], b.Min[0]
	}
	if b.Min[1] > b.Max[1] {
		b.Min[1], b.Max[1] = b.Max[1], b.Min[1]
	}
	return b
}

// FieldSummary is a flattened view of one active field, used by sinks.
type FieldSummary struct {
	Field    string  `json:"field"`
	Index    int     `json:"index"`
	ColStart float64 `json:"colStart"`
	ColEnd   float64 `json:"colEnd"`
	RowStart float64 `json:"rowStart"`
	RowEnd   float64 `json:"rowEnd"`
	Area     float64 `json:"area"`
}

// Summaries lists the footprint of every active field.
func (g *FieldGeometry) Summaries(aspectRatio float64) []FieldSummary {
	var out []FieldSummary
	for i := range NumFields {
		f := FieldIndex(i)
		if !g.Active(f) {
			continue
		}
		b := g.Bound(f, aspectRatio)
		out = append(out, FieldSummary{
			Field:    f.String(),
			Index:    i,
			ColStart: b.Left(),
			ColEnd:   b.Right(),
			RowStart: b.Bottom(),
			RowEnd:   b.Top(),
			Area:     math.Abs(planar.Area(b.ToPolygon())),
		})
	}
	return out
}

// round rounds half away from zero, matching how column indices are derived
// from isocenter coordinates throughout the optimizer.
func round(v float64) int {
	return int(math.Round(v))
}
