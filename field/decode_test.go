package field

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFrame = Frame{WidthResize: 512, NumSlices: 600, AspectRatio: 2, CenterX: 0.5}

func bodyVector() []float64 {
	return []float64{
		0.9, 0.7, 0.3, 0.1, // pelvis, abdomen, chest, head z
		-0.1, 0.15, // pelvis cranial X
		-0.15, 0.1, // pelvis caudal X
		-0.1,       // abdomen cranial lower X
		-0.12, 0.1, // abdomen caudal X
		-0.1, -0.2, // thorax cranial/caudal lower X
		-0.1, -0.15, // chest cranial/caudal lower X
		-0.1, 0.2, // head cranial X
		-0.12,      // head caudal lower X
		0.1, 0.12, // pelvis cranial/caudal Y
		0.2,        // trunk Y
		-0.1, 0.1, // head cranial Y
		-0.11, 0.11, // head caudal Y
	}
}

func armsVector() []float64 {
	return []float64{
		0.9, 0.7, 0.3, 0.1, // pelvis, abdomen, chest, head z
		0.4, 0.1, 0.9, // arms z, left x, right x
		-0.1, 0.15, // pelvis cranial X
		-0.15, 0.1, // pelvis caudal X
		-0.1,       // abdomen cranial lower X
		-0.12, 0.1, // abdomen caudal X
		-0.1, -0.15, // chest cranial/caudal lower X
		-0.1, 0.2, // head cranial X
		-0.12,       // head caudal lower X
		-0.05, 0.08, // arm X
		0.1, 0.12, // pelvis cranial/caudal Y
		0.2,        // trunk Y
		-0.1, 0.1, // head cranial Y
		-0.11, 0.11, // head caudal Y
		-0.2, 0.25, // arms Y
	}
}

func assertAperture(t *testing.T, want, got Aperture, msg string) {
	t.Helper()
	assert.InDelta(t, want[Lower], got[Lower], 1e-9, msg)
	assert.InDelta(t, want[Upper], got[Upper], 1e-9, msg)
}

func TestDecodeOutput_Lengths(t *testing.T) {
	for _, n := range []int{0, 19, 24, 26, 31} {
		_, err := DecodeOutput(make([]float64, n))
		assert.ErrorIs(t, err, ErrUnexpectedOutputLength, "length %d", n)
	}

	out, err := DecodeOutput(bodyVector())
	require.NoError(t, err)
	assert.Equal(t, ModelBody, out.Kind)
	assert.Nil(t, out.Arms)
	assert.Equal(t, 0.2, out.Body.TrunkY)

	out, err = DecodeOutput(armsVector())
	require.NoError(t, err)
	assert.Equal(t, ModelArms, out.Kind)
	assert.Nil(t, out.Body)
	assert.Equal(t, Aperture{-0.05, 0.08}, out.Arms.ArmX)
}

func TestDecode_Body(t *testing.T) {
	_, g, err := Decode(bodyVector(), testFrame)
	require.NoError(t, err)

	assert.Equal(t, 256.0, g.IsoX(PelvisCranial))
	assert.InDelta(t, 60, g.IsoZ(PelvisCranial), 1e-9)
	assert.Equal(t, g.Isocenters[PelvisCranial], g.Isocenters[PelvisCaudal])
	assert.InDelta(t, 180, g.IsoZ(AbdomenCranial), 1e-9)
	assert.InDelta(t, 300, g.IsoZ(ThoraxCranial), 1e-9, "thorax halfway between abdomen and chest")
	assert.InDelta(t, 420, g.IsoZ(ChestCranial), 1e-9)

	// leg Y apertures are symmetric, trunk fields share one Y aperture
	assertAperture(t, Aperture{60, -60}, g.JawsY[PelvisCranial], "pelvis cranial Y")
	assertAperture(t, Aperture{72, -72}, g.JawsY[PelvisCaudal], "pelvis caudal Y")
	for f := AbdomenCranial; f <= ChestCaudal; f++ {
		assertAperture(t, Aperture{120, -120}, g.JawsY[f], f.String())
	}
	assertAperture(t, Aperture{-66, 66}, g.JawsY[HeadCaudal], "head caudal Y")

	// caudal upper jaws mirror the cranial lower jaws
	assert.InDelta(t, 51.2, g.JawsX[ThoraxCaudal][Upper], 1e-9)
	assert.InDelta(t, 51.2, g.JawsX[ChestCaudal][Upper], 1e-9)
	assert.InDelta(t, 51.2, g.JawsX[HeadCaudal][Upper], 1e-9)

	// the built-in overlap offsets become 0.01, 0.03 and 0.02 of the slices
	assert.InDelta(t, 6, g.FieldOverlap(AbdomenCranial, ThoraxCaudal, 2), 1e-9)
	assert.InDelta(t, 18, g.FieldOverlap(ThoraxCranial, ChestCaudal, 2), 1e-9)
	assert.InDelta(t, 12, g.FieldOverlap(ChestCranial, HeadCaudal, 2), 1e-9)

	for _, f := range []FieldIndex{ArmLeft, ArmRight} {
		assert.True(t, g.Isocenters[f].IsZero())
		assert.True(t, g.JawsX[f].IsZero())
		assert.True(t, g.JawsY[f].IsZero())
	}
}

func TestDecode_Arms(t *testing.T) {
	_, g, err := Decode(armsVector(), testFrame)
	require.NoError(t, err)

	for _, f := range []FieldIndex{ThoraxCranial, ThoraxCaudal} {
		assert.True(t, g.Isocenters[f].IsZero(), f.String())
		assert.True(t, g.JawsX[f].IsZero(), f.String())
		assert.True(t, g.JawsY[f].IsZero(), f.String())
	}

	assert.InDelta(t, 51.2, g.IsoX(ArmLeft), 1e-9)
	assert.InDelta(t, 460.8, g.IsoX(ArmRight), 1e-9)
	assert.InDelta(t, 360, g.IsoZ(ArmLeft), 1e-9)
	assert.Equal(t, g.IsoZ(ArmLeft), g.IsoZ(ArmRight))

	assertAperture(t, Aperture{-25.6, 40.96}, g.JawsX[ArmLeft], "left arm X")
	assertAperture(t, Aperture{-40.96, 25.6}, g.JawsX[ArmRight], "right arm mirrors left")
	assertAperture(t, Aperture{-120, 150}, g.JawsY[ArmLeft], "left arm Y")
	assert.Equal(t, g.JawsY[ArmLeft], g.JawsY[ArmRight])

	assert.InDelta(t, 6, g.FieldOverlap(AbdomenCranial, ChestCaudal, 2), 1e-9)
	assert.InDelta(t, 12, g.FieldOverlap(ChestCranial, HeadCaudal, 2), 1e-9)
}

func TestToPixel_AbsentStaysZero(t *testing.T) {
	var norm FieldGeometry
	norm.Isocenters[HeadCranial] = Vec3{0.5, 0.5, 0.25}
	norm.JawsX[HeadCranial] = Aperture{-0.1, 0.1}
	norm.JawsY[HeadCranial] = Aperture{-0.05, 0.05}
	// stale apertures on an absent field are dropped
	norm.JawsX[PelvisCranial] = Aperture{-0.1, 0.1}

	g := testFrame.ToPixel(norm)

	assert.Equal(t, Vec3{256, 256, 450}, g.Isocenters[HeadCranial])
	assertAperture(t, Aperture{-51.2, 51.2}, g.JawsX[HeadCranial], "X scales by the frame width")
	assertAperture(t, Aperture{-30, 30}, g.JawsY[HeadCranial], "Y scales by the slice count")
	assert.True(t, g.JawsX[PelvisCranial].IsZero())
}
