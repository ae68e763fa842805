package field

import (
	"math"
	"math/rand"
)

// ----------------------------------------------------------------------------
// Fixtures shared by the field tests
// ----------------------------------------------------------------------------

func almostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

// gapImage returns a 512-row image with uniform density, a target covering
// rows 100-411 over every column, and background columns [gapLo, gapHi]
// inside both lateral landmark bands (rows 141-205 and 306-370).
func gapImage(width, gapLo, gapHi int) *Image {
	return bandGapImage(width, [2]int{gapLo, gapHi}, [2]int{gapLo, gapHi})
}

// bandGapImage is gapImage with a different gap per band.
func bandGapImage(width int, rightGap, leftGap [2]int) *Image {
	img := NewImage(512, width, 1.0, 1.0)
	for r := range img.Height {
		for c := range img.Width {
			img.Set(r, c, ChannelDensity, 1)
			if r >= 100 && r < 412 {
				img.Set(r, c, ChannelMask, 0.3)
			}
		}
	}
	clear := func(rows RowBand, gap [2]int) {
		for r := rows.Start; r < rows.End; r++ {
			for c := gap[0]; c <= gap[1]; c++ {
				img.Set(r, c, ChannelMask, 0)
			}
		}
	}
	clear(RowBand{141, 206}, rightGap)
	clear(RowBand{306, 371}, leftGap)
	return img
}

// bodyGeometry is a plausible pixel-space body-model prediction on a
// 600-column image with unit aspect ratio.
func bodyGeometry() FieldGeometry {
	var g FieldGeometry
	regions := []struct {
		f FieldIndex
		z float64
	}{
		{PelvisCranial, 80},
		{AbdomenCranial, 200},
		{ThoraxCranial, 350},
		{ChestCranial, 500},
		{HeadCranial, 560},
	}
	for _, r := range regions {
		g.Isocenters[r.f] = Vec3{256, 256, r.z}
		g.Isocenters[r.f+1] = Vec3{256, 256, r.z}
		g.JawsX[r.f] = Aperture{-30, 70}
		g.JawsX[r.f+1] = Aperture{-70, 30}
		g.JawsY[r.f] = Aperture{-40, 40}
		g.JawsY[r.f+1] = Aperture{-40, 40}
	}
	return g
}

// armsGeometry is bodyGeometry without the thorax and with both arms.
func armsGeometry() FieldGeometry {
	g := bodyGeometry()
	for _, f := range []FieldIndex{ThoraxCranial, ThoraxCaudal} {
		g.Isocenters[f] = Vec3{}
		g.JawsX[f] = Aperture{}
		g.JawsY[f] = Aperture{}
	}
	g.Isocenters[ArmLeft] = Vec3{60, 256, 400}
	g.Isocenters[ArmRight] = Vec3{452, 256, 400}
	g.JawsX[ArmLeft] = Aperture{-50, 50}
	g.JawsX[ArmRight] = Aperture{-50, 50}
	g.JawsY[ArmLeft] = Aperture{-100, 100}
	g.JawsY[ArmRight] = Aperture{-100, 100}
	return g
}

func testTempering(seed int64) TemperingConfig {
	cfg := DefaultTemperingConfig()
	cfg.RNG = rand.New(rand.NewSource(seed))
	return cfg
}

// recordingObserver keeps every event it receives.
type recordingObserver struct {
	searches []SearchEvent
	adjusts  []AdjustEvent
}

func (r *recordingObserver) OnSearchComputed(ev SearchEvent)   { r.searches = append(r.searches, ev) }
func (r *recordingObserver) OnGeometryAdjusted(ev AdjustEvent) { r.adjusts = append(r.adjusts, ev) }
