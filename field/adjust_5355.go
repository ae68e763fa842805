package field

import "math"

// body5355 adjusts body-model geometry with the pelvis collimator at 5/355 degrees.
type body5355 struct{}

func (body5355) Adjust(ac *AdjustContext) {
	g := ac.Geometry
	il, rb, ar, ov := ac.iliac(), ac.ribs(), ac.ar(), ac.OverlapPixels

	g.SetRegionZ(AbdomenCranial, (il+rb)/2)
	iso := g.IsoZ(AbdomenCranial)

	if rb-il < ov {
		g.JawsX[AbdomenCranial][Lower] = (il - iso) * ar
		g.JawsX[AbdomenCaudal][Upper] = (rb - iso) * ar
	} else {
		g.JawsX[AbdomenCranial][Lower] = -ov * ar / 2
		g.JawsX[AbdomenCaudal][Upper] = ov * ar / 2
	}

	g.SetRegionZ(ThoraxCranial, (iso+g.IsoZ(ChestCranial))/2)
	thorax, chest := g.IsoZ(ThoraxCranial), g.IsoZ(ChestCranial)

	// abdomen and thorax, then thorax and chest, split the overlap evenly
	g.JawsX[ThoraxCaudal][Lower] = (iso - thorax - ov) * ar / 2
	g.JawsX[AbdomenCranial][Upper] = (thorax - iso + ov) * ar / 2
	g.JawsX[ThoraxCranial][Upper] = (chest - thorax + ov) * ar / 2
	g.JawsX[ChestCaudal][Lower] = (thorax - chest - ov) * ar / 2

	ac.extendAbdomenToPelvis()
}

// arms5355 adjusts arms-model geometry with the pelvis collimator at 5/355 degrees.
type arms5355 struct{}

func (arms5355) Adjust(ac *AdjustContext) {
	g := ac.Geometry
	il, rb, ar := ac.iliac(), ac.ribs(), ac.ar()
	gap := rb - il

	if iso := g.IsoZ(AbdomenCranial); (rb-gap/2 <= iso && iso < rb+gap) || iso < il || iso > rb {
		g.SetRegionZ(AbdomenCranial, il+gap*armsIsoFraction)
		g.JawsX[AbdomenCranial][Upper] = (g.IsoZ(ChestCranial)-iso)*ar + g.JawsX[ChestCaudal][Lower]
	}

	iso := g.IsoZ(AbdomenCranial)

	// isocenter on the spine
	if il < iso && iso < rb {
		ac.splitAtLandmarks()
		g.SetRegionZ(ChestCranial, (iso+g.IsoZ(HeadCranial))/2)
		chest := g.IsoZ(ChestCranial)

		ac.extendAbdomenToPelvis()
		g.JawsX[AbdomenCranial][Upper] = ac.bridge(iso, chest, g.JawsX[ChestCaudal][Lower])
		g.JawsX[ChestCranial][Upper] = ac.bridge(chest, g.IsoZ(HeadCranial), g.JawsX[HeadCaudal][Lower])
	}
}

// extendAbdomenToPelvis makes the caudal abdomen field reach at least the
// configured overlap into the pelvic field. At 5/355 the pelvic Y jaw runs
// along the longitudinal axis, so the pelvic upper edge is iso + Y jaw.
func (ac *AdjustContext) extendAbdomenToPelvis() {
	g := ac.Geometry
	minAperture := (g.IsoZ(PelvisCranial) - g.IsoZ(AbdomenCranial) + g.JawsY[PelvisCranial][Upper] - ac.OverlapPixels) * ac.ar()
	if math.Abs(g.JawsX[AbdomenCaudal][Lower]) < math.Abs(minAperture) {
		g.JawsX[AbdomenCaudal][Lower] = minAperture
	}
}
