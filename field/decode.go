package field

import (
	"errors"
	"fmt"
)

// ErrUnexpectedOutputLength is returned for regression vectors that match
// neither model layout.
var ErrUnexpectedOutputLength = errors.New("unexpected model output length")

// Regression vector lengths.
const (
	BodyOutputLen = 25
	ArmsOutputLen = 30
)

// Overlap offsets added between neighbouring regions, in normalized model units.
const (
	abdomenOverlapNorm = 0.01
	thoraxOverlapNorm  = 0.03
	chestOverlapNorm   = 0.02
)

// BodyOutput is the body model's regression vector. Z values are normalized
// positions along the model frame's vertical axis; jaws are normalized apertures.
type BodyOutput struct {
	PelvisZ, AbdomenZ, ChestZ, HeadZ float64

	PelvisCranialX       Aperture
	PelvisCaudalX        Aperture
	AbdomenCranialLowerX float64
	AbdomenCaudalX       Aperture
	ThoraxCranialLowerX  float64
	ThoraxCaudalLowerX   float64
	ChestCranialLowerX   float64
	ChestCaudalLowerX    float64
	HeadCranialX         Aperture
	HeadCaudalLowerX     float64

	// Leg Y apertures are symmetric: (y, -y).
	PelvisCranialY float64
	PelvisCaudalY  float64
	// One symmetric Y aperture shared by abdomen, thorax and chest fields.
	TrunkY       float64
	HeadCranialY Aperture
	HeadCaudalY  Aperture
}

// ArmsOutput is the arms model's regression vector. The thorax fields are
// absent; the arms fields are present with their own isocenters.
type ArmsOutput struct {
	PelvisZ, AbdomenZ, ChestZ, HeadZ float64
	ArmsZ, ArmLeftX, ArmRightX       float64

	PelvisCranialX       Aperture
	PelvisCaudalX        Aperture
	AbdomenCranialLowerX float64
	AbdomenCaudalX       Aperture
	ChestCranialLowerX   float64
	ChestCaudalLowerX    float64
	HeadCranialX         Aperture
	HeadCaudalLowerX     float64
	// Left arm X aperture; the right arm mirrors it.
	ArmX Aperture

	PelvisCranialY float64
	PelvisCaudalY  float64
	TrunkY         float64
	HeadCranialY   Aperture
	HeadCaudalY    Aperture
	ArmsY          Aperture
}

// ModelOutput is exactly one of Body or Arms.
type ModelOutput struct {
	Kind ModelKind
	Body *BodyOutput
	Arms *ArmsOutput
}

// DecodeOutput names the values of a raw regression vector. The length
// selects the layout.
func DecodeOutput(y []float64) (ModelOutput, error) {
	switch len(y) {
	case BodyOutputLen:
		return ModelOutput{Kind: ModelBody, Body: &BodyOutput{
			PelvisZ: y[0], AbdomenZ: y[1], ChestZ: y[2], HeadZ: y[3],

			PelvisCranialX:       Aperture{y[4], y[5]},
			PelvisCaudalX:        Aperture{y[6], y[7]},
			AbdomenCranialLowerX: y[8],
			AbdomenCaudalX:       Aperture{y[9], y[10]},
			ThoraxCranialLowerX:  y[11],
			ThoraxCaudalLowerX:   y[12],
			ChestCranialLowerX:   y[13],
			ChestCaudalLowerX:    y[14],
			HeadCranialX:         Aperture{y[15], y[16]},
			HeadCaudalLowerX:     y[17],

			PelvisCranialY: y[18],
			PelvisCaudalY:  y[19],
			TrunkY:         y[20],
			HeadCranialY:   Aperture{y[21], y[22]},
			HeadCaudalY:    Aperture{y[23], y[24]},
		}}, nil

	case ArmsOutputLen:
		return ModelOutput{Kind: ModelArms, Arms: &ArmsOutput{
			PelvisZ: y[0], AbdomenZ: y[1], ChestZ: y[2], HeadZ: y[3],
			ArmsZ: y[4], ArmLeftX: y[5], ArmRightX: y[6],

			PelvisCranialX:       Aperture{y[7], y[8]},
			PelvisCaudalX:        Aperture{y[9], y[10]},
			AbdomenCranialLowerX: y[11],
			AbdomenCaudalX:       Aperture{y[12], y[13]},
			ChestCranialLowerX:   y[14],
			ChestCaudalLowerX:    y[15],
			HeadCranialX:         Aperture{y[16], y[17]},
			HeadCaudalLowerX:     y[18],
			ArmX:                 Aperture{y[19], y[20]},

			PelvisCranialY: y[21],
			PelvisCaudalY:  y[22],
			TrunkY:         y[23],
			HeadCranialY:   Aperture{y[24], y[25]},
			HeadCaudalY:    Aperture{y[26], y[27]},
			ArmsY:          Aperture{y[28], y[29]},
		}}, nil
	}
	return ModelOutput{}, fmt.Errorf("%w: got %d values, want %d (body) or %d (arms)",
		ErrUnexpectedOutputLength, len(y), BodyOutputLen, ArmsOutputLen)
}

// Frame describes the square model frame and the original image it was cut from.
type Frame struct {
	WidthResize int
	NumSlices   int
	AspectRatio float64
	// CenterX is the body's lateral centre of mass, normalized by WidthResize.
	CenterX float64
}

// overlapNorm converts a normalized z difference into a normalized X aperture.
func (f Frame) overlapNorm() float64 {
	return f.AspectRatio * float64(f.NumSlices) / float64(f.WidthResize)
}

// Normalized lays the output out as a geometry in normalized model-frame
// coordinates: isocenters as (x, y, z) fractions of the frame, apertures as
// fractions of WidthResize.
func (m ModelOutput) Normalized(f Frame) FieldGeometry {
	if m.Body != nil {
		return m.Body.normalized(f)
	}
	if m.Arms != nil {
		return m.Arms.normalized(f)
	}
	return FieldGeometry{}
}

func setRegion(g *FieldGeometry, cranial FieldIndex, x, z float64) {
	g.Isocenters[cranial] = Vec3{x, 0.5, z}
	g.Isocenters[cranial+1] = Vec3{x, 0.5, z}
}

func symmetric(v float64) Aperture {
	return Aperture{v, -v}
}

func (b *BodyOutput) normalized(f Frame) FieldGeometry {
	var g FieldGeometry
	thoraxZ := (b.AbdomenZ + b.ChestZ) / 2
	setRegion(&g, PelvisCranial, f.CenterX, b.PelvisZ)
	setRegion(&g, AbdomenCranial, f.CenterX, b.AbdomenZ)
	setRegion(&g, ThoraxCranial, f.CenterX, thoraxZ)
	setRegion(&g, ChestCranial, f.CenterX, b.ChestZ)
	setRegion(&g, HeadCranial, f.CenterX, b.HeadZ)

	norm := f.overlapNorm()
	g.JawsX[PelvisCranial] = b.PelvisCranialX
	g.JawsX[PelvisCaudal] = b.PelvisCaudalX
	g.JawsX[AbdomenCranial] = Aperture{b.AbdomenCranialLowerX, (b.AbdomenZ-thoraxZ+abdomenOverlapNorm)*norm + b.ThoraxCaudalLowerX}
	g.JawsX[AbdomenCaudal] = b.AbdomenCaudalX
	g.JawsX[ThoraxCranial] = Aperture{b.ThoraxCranialLowerX, (thoraxZ-b.ChestZ+thoraxOverlapNorm)*norm + b.ChestCaudalLowerX}
	g.JawsX[ThoraxCaudal] = Aperture{b.ThoraxCaudalLowerX, -b.ThoraxCranialLowerX}
	g.JawsX[ChestCranial] = Aperture{b.ChestCranialLowerX, (b.ChestZ-b.HeadZ+chestOverlapNorm)*norm + b.HeadCaudalLowerX}
	g.JawsX[ChestCaudal] = Aperture{b.ChestCaudalLowerX, -b.ChestCranialLowerX}
	g.JawsX[HeadCranial] = b.HeadCranialX
	g.JawsX[HeadCaudal] = Aperture{b.HeadCaudalLowerX, -b.HeadCranialX[Lower]}

	g.JawsY[PelvisCranial] = symmetric(b.PelvisCranialY)
	g.JawsY[PelvisCaudal] = symmetric(b.PelvisCaudalY)
	for fi := AbdomenCranial; fi <= ChestCaudal; fi++ {
		g.JawsY[fi] = symmetric(b.TrunkY)
	}
	g.JawsY[HeadCranial] = b.HeadCranialY
	g.JawsY[HeadCaudal] = b.HeadCaudalY
	return g
}

func (a *ArmsOutput) normalized(f Frame) FieldGeometry {
	var g FieldGeometry
	setRegion(&g, PelvisCranial, f.CenterX, a.PelvisZ)
	setRegion(&g, AbdomenCranial, f.CenterX, a.AbdomenZ)
	setRegion(&g, ChestCranial, f.CenterX, a.ChestZ)
	setRegion(&g, HeadCranial, f.CenterX, a.HeadZ)
	g.Isocenters[ArmLeft] = Vec3{a.ArmLeftX, 0.5, a.ArmsZ}
	g.Isocenters[ArmRight] = Vec3{a.ArmRightX, 0.5, a.ArmsZ}

	norm := f.overlapNorm()
	g.JawsX[PelvisCranial] = a.PelvisCranialX
	g.JawsX[PelvisCaudal] = a.PelvisCaudalX
	g.JawsX[AbdomenCranial] = Aperture{a.AbdomenCranialLowerX, (a.AbdomenZ-a.ChestZ+abdomenOverlapNorm)*norm + a.ChestCaudalLowerX}
	g.JawsX[AbdomenCaudal] = a.AbdomenCaudalX
	g.JawsX[ChestCranial] = Aperture{a.ChestCranialLowerX, (a.ChestZ-a.HeadZ+chestOverlapNorm)*norm + a.HeadCaudalLowerX}
	g.JawsX[ChestCaudal] = Aperture{a.ChestCaudalLowerX, -a.ChestCranialLowerX}
	g.JawsX[HeadCranial] = a.HeadCranialX
	g.JawsX[HeadCaudal] = Aperture{a.HeadCaudalLowerX, -a.HeadCranialX[Lower]}
	g.JawsX[ArmLeft] = a.ArmX
	g.JawsX[ArmRight] = Aperture{-a.ArmX[Upper], -a.ArmX[Lower]}

	g.JawsY[PelvisCranial] = symmetric(a.PelvisCranialY)
	g.JawsY[PelvisCaudal] = symmetric(a.PelvisCaudalY)
	for _, fi := range []FieldIndex{AbdomenCranial, AbdomenCaudal, ChestCranial, ChestCaudal} {
		g.JawsY[fi] = symmetric(a.TrunkY)
	}
	g.JawsY[HeadCranial] = a.HeadCranialY
	g.JawsY[HeadCaudal] = a.HeadCaudalY
	g.JawsY[ArmLeft] = a.ArmsY
	g.JawsY[ArmRight] = a.ArmsY
	return g
}

// ToPixel maps a normalized model-frame geometry into the pixel space of the
// original image. The model frame is the original image resized to a square
// and rotated a quarter turn counter-clockwise, so the inverse rotates back
// clockwise and stretches the longitudinal axis to NumSlices columns. X jaws
// lie along the unstretched axis and only scale by WidthResize; Y jaws also
// take the stretch.
func (f Frame) ToPixel(norm FieldGeometry) FieldGeometry {
	w := float64(f.WidthResize)
	ns := float64(f.NumSlices)

	var g FieldGeometry
	for i, iso := range norm.Isocenters {
		if iso.IsZero() {
			continue
		}
		g.Isocenters[i] = Vec3{iso[AxisX] * w, iso[AxisY] * w, (1 - iso[AxisZ]) * ns}
		g.JawsX[i] = Aperture{norm.JawsX[i][Lower] * w, norm.JawsX[i][Upper] * w}
		g.JawsY[i] = Aperture{norm.JawsY[i][Lower] * ns, norm.JawsY[i][Upper] * ns}
	}
	return g
}

// Decode turns a raw regression vector into a pixel-space geometry.
func Decode(y []float64, f Frame) (ModelOutput, FieldGeometry, error) {
	out, err := DecodeOutput(y)
	if err != nil {
		return ModelOutput{}, FieldGeometry{}, err
	}
	return out, f.ToPixel(out.Normalized(f)), nil
}
