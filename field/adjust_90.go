package field

// body90 adjusts body-model geometry with the pelvis collimator at 90 degrees.
type body90 struct{}

func (body90) Adjust(ac *AdjustContext) {
	g := ac.Geometry
	il, rb, ar, ov := ac.iliac(), ac.ribs(), ac.ar(), ac.OverlapPixels
	gap := rb - il

	// abdomen iso too close to the iliac crests: move abdomen and pelvis toward the feet
	if iso := g.IsoZ(AbdomenCranial); il-gap < iso && iso <= il+gap/2 {
		g.SetRegionZ(AbdomenCranial, il-gap/bodyShiftDivisor-bodyShiftMargin)
		shift := (iso - g.IsoZ(AbdomenCranial)) / 2
		g.SetRegionZ(PelvisCranial, g.IsoZ(PelvisCranial)-shift)
		ac.Log.Debugf("abdomen isocenter moved from %.1f to %.1f, pelvis by %.1f", iso, g.IsoZ(AbdomenCranial), -shift)
	}

	iso := g.IsoZ(AbdomenCranial)

	// isocenter on the spine
	if il < iso && iso < rb {
		ac.splitAtLandmarks()
		g.JawsX[AbdomenCranial][Upper] = ac.bridge(iso, g.IsoZ(ThoraxCranial), g.JawsX[ThoraxCaudal][Lower])
	}

	if iso < il {
		g.SetRegionZ(ThoraxCranial, (g.IsoZ(AbdomenCaudal)+g.IsoZ(ChestCranial))/2)
		thorax := g.IsoZ(ThoraxCranial)

		g.JawsX[AbdomenCranial][Upper] = (rb - iso) * ar
		g.JawsX[ThoraxCaudal][Lower] = (il - thorax) * ar
		g.JawsX[ThoraxCranial][Upper] = ac.bridge(thorax, g.IsoZ(ChestCranial), g.JawsX[ChestCaudal][Lower])

		// pelvis and abdomen fields meet halfway between their isocenters
		pelvis := g.IsoZ(PelvisCranial)
		half := ((pelvis+iso)/2 - pelvis + ov/2) * ar
		g.JawsX[PelvisCranial][Upper] = half
		g.JawsX[AbdomenCaudal][Lower] = -half
	}
}

// arms90 adjusts arms-model geometry with the pelvis collimator at 90 degrees.
type arms90 struct{}

func (arms90) Adjust(ac *AdjustContext) {
	g := ac.Geometry
	il, rb, ar, ov := ac.iliac(), ac.ribs(), ac.ar(), ac.OverlapPixels
	gap := rb - il

	if iso := g.IsoZ(AbdomenCranial); (rb-gap/2 <= iso && iso < rb+gap) || iso < il {
		g.SetRegionZ(AbdomenCranial, il+gap*armsIsoFraction)
		iso = g.IsoZ(AbdomenCranial)
		g.JawsX[AbdomenCranial][Upper] = ac.bridge(iso, g.IsoZ(ChestCranial), g.JawsX[ChestCaudal][Lower])
		g.JawsX[PelvisCranial][Upper] = ac.bridge(g.IsoZ(PelvisCranial), iso, g.JawsX[AbdomenCaudal][Lower])
	}

	iso := g.IsoZ(AbdomenCranial)
	pelvis := g.IsoZ(PelvisCranial)

	// isocenter on the spine
	if il < iso && iso < rb {
		ac.splitAtLandmarks()
		g.JawsX[AbdomenCaudal][Lower] = -((iso-pelvis+ov)*ar - g.JawsX[PelvisCranial][Upper])
		g.JawsX[AbdomenCranial][Upper] = ac.bridge(iso, g.IsoZ(ChestCranial), g.JawsX[ChestCaudal][Lower])
	}

	if iso > rb {
		g.JawsX[PelvisCranial][Upper] = (rb - pelvis) * ar
		g.JawsX[AbdomenCaudal][Lower] = (il - iso) * ar
	}

	g.JawsX[AbdomenCranial][Upper] = ac.bridge(iso, g.IsoZ(ChestCranial), g.JawsX[ChestCaudal][Lower])
}
