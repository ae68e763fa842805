package field

import (
	"fmt"
	"math"

	"github.com/kwv/tmifield/logger"
)

// ModelKind identifies which regression model produced the geometry.
type ModelKind int

const (
	ModelBody ModelKind = iota
	ModelArms
)

func (k ModelKind) String() string {
	switch k {
	case ModelBody:
		return "body"
	case ModelArms:
		return "arms"
	}
	return fmt.Sprintf("ModelKind(%d)", int(k))
}

// CollimatorConvention is the collimator angle used on the pelvis. It
// decides which jaw runs along the longitudinal axis of the pelvic fields.
type CollimatorConvention string

const (
	Collimator90   CollimatorConvention = "90"
	Collimator5355 CollimatorConvention = "5_355"
)

// ParseCollimator accepts "90", "5_355" or "5/355".
func ParseCollimator(s string) (CollimatorConvention, error) {
	switch s {
	case "90", "":
		return Collimator90, nil
	case "5_355", "5/355":
		return Collimator5355, nil
	}
	return "", fmt.Errorf("unknown collimator convention %q", s)
}

// EdgeDirection selects which outer boundary an edge fit tightens.
type EdgeDirection int

const (
	EdgeLower EdgeDirection = iota // caudal edge of the pelvic fields
	EdgeUpper                      // cranial edge of the head fields
)

func (d EdgeDirection) String() string {
	if d == EdgeLower {
		return "lower"
	}
	return "upper"
}

// EdgeFits lists the outer boundaries refitted to the mask after adjustment.
// With the 5/355 convention the pelvic X jaws run laterally, so only the head
// edge is refitted.
func (c CollimatorConvention) EdgeFits() []EdgeDirection {
	if c == Collimator5355 {
		return []EdgeDirection{EdgeUpper}
	}
	return []EdgeDirection{EdgeLower, EdgeUpper}
}

// Empirical constants of the adjustment rules.
const (
	maxHeadPelvisMM = 840.0 // longest allowed head-pelvis isocenter distance
	maxArmOffsetMM  = 215.0 // longest allowed arm isocenter distance from the body centre

	bodyShiftDivisor = 2.1  // body, 90: abdomen iso moves this fraction of the landmark gap below the iliac crests
	bodyShiftMargin  = 10.0 // body, 90: plus this many columns
	armsIsoFraction  = 0.75 // arms: abdomen iso sits at 3/4 of the landmark gap
	edgeMargin       = 3.0  // columns added beyond a fitted outer edge
)

// AdjustContext carries everything an adjustment rule reads and mutates.
type AdjustContext struct {
	Image         *Image
	Geometry      *FieldGeometry
	Landmarks     Landmarks
	OverlapPixels float64
	Log           logger.ILogger
}

func (ac *AdjustContext) ar() float64 {
	return ac.Image.AspectRatio()
}

func (ac *AdjustContext) iliac() float64 {
	return float64(ac.Landmarks.XIliac)
}

func (ac *AdjustContext) ribs() float64 {
	return float64(ac.Landmarks.XRibs)
}

// bridge returns the upper X jaw of a field at lowerIsoZ that overlaps, by the
// configured amount, a field at upperIsoZ whose lower jaw is upperLowerJaw.
func (ac *AdjustContext) bridge(lowerIsoZ, upperIsoZ, upperLowerJaw float64) float64 {
	return (upperIsoZ-lowerIsoZ+ac.OverlapPixels)*ac.ar() + upperLowerJaw
}

// splitAtLandmarks closes the abdomen fields onto the landmarks, halving the
// distance so the two fields meet over the spine.
func (ac *AdjustContext) splitAtLandmarks() {
	g := ac.Geometry
	iso := g.IsoZ(AbdomenCranial)
	g.JawsX[AbdomenCranial][Lower] = (ac.iliac() - iso) * ac.ar() / 2
	g.JawsX[AbdomenCaudal][Upper] = (ac.ribs() - iso) * ac.ar() / 2
}

// Adjuster is one geometry adjustment rule set.
type Adjuster interface {
	Adjust(ac *AdjustContext)
}

type strategyKey struct {
	kind ModelKind
	conv CollimatorConvention
}

var adjusters = map[strategyKey]Adjuster{
	{ModelBody, Collimator90}:   body90{},
	{ModelArms, Collimator90}:   arms90{},
	{ModelBody, Collimator5355}: body5355{},
	{ModelArms, Collimator5355}: arms5355{},
}

// AdjusterFor looks up the rule set for a model kind and collimator convention.
func AdjusterFor(kind ModelKind, conv CollimatorConvention) (Adjuster, error) {
	a, ok := adjusters[strategyKey{kind, conv}]
	if !ok {
		return nil, fmt.Errorf("no adjuster for %s model with %s collimator", kind, conv)
	}
	return a, nil
}

// ClampHeadPelvis keeps the head-pelvis isocenter distance within 840 mm by
// moving the pelvis isocenters toward the head.
func ClampHeadPelvis(img *Image, g *FieldGeometry, log logger.ILogger) {
	if !g.Active(PelvisCranial) || !g.Active(HeadCranial) {
		return
	}
	maxPix := maxHeadPelvisMM / img.SliceThickness
	diff := g.IsoZ(HeadCranial) - g.IsoZ(PelvisCranial)
	dist := math.Abs(diff)
	if dist <= maxPix {
		return
	}
	shift := math.Copysign(dist-maxPix, diff)
	log.Infof("Distance between head-pelvis isocenters was %.1f pixels, maximum is %.1f (840 mm). Shifting pelvis isocenters by %.1f pixels.",
		dist, maxPix, shift)
	g.SetRegionZ(PelvisCranial, g.IsoZ(PelvisCranial)+shift)
}

// ClampArms keeps each arm isocenter within 215 mm of the body's row centre.
func ClampArms(img *Image, g *FieldGeometry, log logger.ILogger) {
	maxPix := maxArmOffsetMM / img.PixelSpacing
	com := float64(round(img.RowCenterOfMass(ChannelDensity)))

	if g.Active(ArmLeft) && com-g.IsoX(ArmLeft) > maxPix {
		log.Infof("Maximum distance allowed between arms isocenters is %.1f pixels. Left arm isocenter moved accordingly.", maxPix)
		g.Isocenters[ArmLeft][AxisX] = com - maxPix
	}
	if g.Active(ArmRight) && g.IsoX(ArmRight)-com > maxPix {
		log.Infof("Maximum distance allowed between arms isocenters is %.1f pixels. Right arm isocenter moved accordingly.", maxPix)
		g.Isocenters[ArmRight][AxisX] = com + maxPix
	}
}

// FitEdgeField moves an outer X jaw to the mask boundary. Candidate edge
// columns are scored by mask pixels covered minus aperture length, within
// the rows spanned by the field's Y jaws, and the best edge is padded by a
// 3-column margin.
func FitEdgeField(img *Image, g *FieldGeometry, dir EdgeDirection) bool {
	ar := img.AspectRatio()

	var isoField, rowField FieldIndex
	if dir == EdgeLower {
		isoField, rowField = PelvisCranial, PelvisCaudal
	} else {
		isoField, rowField = HeadCranial, HeadCaudal
	}
	if !g.Active(isoField) {
		return false
	}

	isoRow := g.IsoX(isoField)
	r0, r1 := clampRange(
		round(isoRow+g.JawsY[rowField][Lower]*ar),
		round(isoRow+g.JawsY[rowField][Upper]*ar),
		img.Height,
	)

	// prefix[c] = mask pixels in rows [r0, r1) and columns [0, c)
	prefix := make([]int, img.Width+1)
	for c := range img.Width {
		n := 0
		for r := r0; r < r1; r++ {
			if img.IsTarget(r, c) {
				n++
			}
		}
		prefix[c+1] = prefix[c] + n
	}
	covered := func(from, to int) int {
		from, to = clampRange(from, to, img.Width)
		return prefix[to] - prefix[from]
	}

	isoZ := g.IsoZ(isoField)
	edge := round(isoZ)
	if dir == EdgeLower {
		best, _, ok := GridSearch(0, edge+1, func(x int) float64 {
			return float64(covered(x, edge) - (edge - x))
		})
		if !ok {
			return false
		}
		g.JawsX[PelvisCaudal][Lower] = (float64(best) - isoZ - edgeMargin) * ar
		return true
	}

	best, _, ok := GridSearch(edge, img.Width, func(x int) float64 {
		return float64(covered(edge, x) - (x - edge))
	})
	if !ok {
		return false
	}
	g.JawsX[HeadCranial][Upper] = (float64(best) - isoZ + edgeMargin) * ar
	return true
}
