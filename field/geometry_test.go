package field

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldIndexString(t *testing.T) {
	assert.Equal(t, "pelvis-cranial", PelvisCranial.String())
	assert.Equal(t, "arm-right", ArmRight.String())
	assert.Equal(t, "field(12)", FieldIndex(12).String())
}

func TestEdgeAndOverlap(t *testing.T) {
	g := bodyGeometry()

	assert.Equal(t, 150.0, g.Edge(PelvisCranial, Upper, 1))
	assert.Equal(t, 130.0, g.Edge(AbdomenCaudal, Lower, 1))
	assert.Equal(t, 20.0, g.FieldOverlap(PelvisCranial, AbdomenCaudal, 1))

	// jaws are in row pixels: with aspect ratio 2 they reach half as many columns
	assert.Equal(t, 115.0, g.Edge(PelvisCranial, Upper, 2))
	assert.Equal(t, -50.0, g.FieldOverlap(PelvisCranial, AbdomenCaudal, 2))
}

func TestSetRegionZ(t *testing.T) {
	g := bodyGeometry()
	g.SetRegionZ(ChestCranial, 42)
	assert.Equal(t, 42.0, g.IsoZ(ChestCranial))
	assert.Equal(t, 42.0, g.IsoZ(ChestCaudal))
	assert.Equal(t, 560.0, g.IsoZ(HeadCranial))
}

func TestZeroAbsent(t *testing.T) {
	g := bodyGeometry()
	g.Isocenters[ThoraxCaudal] = Vec3{}
	g.JawsX[ArmLeft] = Aperture{-1, 1}

	g.ZeroAbsent()

	assert.True(t, g.JawsX[ThoraxCaudal].IsZero())
	assert.True(t, g.JawsY[ThoraxCaudal].IsZero())
	assert.True(t, g.JawsX[ArmLeft].IsZero())
	assert.False(t, g.JawsX[ThoraxCranial].IsZero())
}

func TestBound(t *testing.T) {
	g := bodyGeometry()

	b := g.Bound(PelvisCranial, 1)
	assert.Equal(t, 50.0, b.Left())
	assert.Equal(t, 150.0, b.Right())
	assert.Equal(t, 216.0, b.Bottom())
	assert.Equal(t, 296.0, b.Top())

	t.Run("inverted jaws", func(t *testing.T) {
		g := bodyGeometry()
		g.JawsX[PelvisCranial] = Aperture{70, -30}
		g.JawsY[PelvisCranial] = Aperture{40, -40}
		b := g.Bound(PelvisCranial, 1)
		assert.Equal(t, 50.0, b.Left())
		assert.Equal(t, 150.0, b.Right())
		assert.Equal(t, 216.0, b.Bottom())
		assert.Equal(t, 296.0, b.Top())
	})
}

func TestSummaries(t *testing.T) {
	g := armsGeometry()
	sums := g.Summaries(1)

	require.Len(t, sums, 10, "thorax fields are absent")
	assert.Equal(t, "pelvis-cranial", sums[0].Field)
	assert.Equal(t, 0, sums[0].Index)
	assert.InDelta(t, 100.0*80.0, math.Abs(sums[0].Area), 1e-9)

	last := sums[len(sums)-1]
	assert.Equal(t, "arm-right", last.Field)
	assert.Equal(t, 350.0, last.ColStart)
	assert.Equal(t, 450.0, last.ColEnd)
	assert.Equal(t, 352.0, last.RowStart)
	assert.Equal(t, 552.0, last.RowEnd)
}

func TestRound(t *testing.T) {
	assert.Equal(t, 256, round(255.5))
	assert.Equal(t, -3, round(-2.5))
	assert.Equal(t, 2, round(2.49))
}

func TestRowCenterOfMass(t *testing.T) {
	img := NewImage(10, 4, 1, 1)
	assert.Equal(t, 4.5, img.RowCenterOfMass(ChannelDensity), "empty channel falls back to the centre")

	img.Set(2, 0, ChannelDensity, 1)
	img.Set(6, 3, ChannelDensity, 3)
	assert.Equal(t, 5.0, img.RowCenterOfMass(ChannelDensity))
}

func TestImageValidateShape(t *testing.T) {
	img := NewImage(512, 300, 1, 1)
	assert.NoError(t, img.ValidateShape())

	img.NumSlices = 299
	assert.Error(t, img.ValidateShape())

	img = NewImage(256, 300, 1, 1)
	assert.Error(t, img.ValidateShape())
}
