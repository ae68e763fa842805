package field

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefineSearchSpace(t *testing.T) {
	img := gapImage(600, 200, 300)
	g := bodyGeometry()

	t.Run("body", func(t *testing.T) {
		s := DefineSearchSpace(img, &g, ModelBody)
		assert.Equal(t, 150, s.Left) // (80+200)/2 + 10
		assert.Equal(t, 350, s.Right)
		assert.Equal(t, 256, s.CenterRow)
		assert.Equal(t, RowBand{141, 206}, s.BandRight)
		assert.Equal(t, RowBand{306, 371}, s.BandLeft)
		assert.Equal(t, 65, s.BandRight.Len())
		assert.Equal(t, 65, s.BandLeft.Len())
	})

	t.Run("arms", func(t *testing.T) {
		s := DefineSearchSpace(img, &g, ModelArms)
		assert.Equal(t, 130, s.Left)
		assert.Equal(t, 350, s.Right)
	})

	t.Run("bands are clipped to the image", func(t *testing.T) {
		small := NewImage(100, 600, 1, 1)
		for r := range small.Height {
			for c := range small.Width {
				small.Set(r, c, ChannelDensity, 1)
			}
		}
		s := DefineSearchSpace(small, &g, ModelBody)
		assert.Equal(t, RowBand{0, 0}, s.BandRight)
		assert.Equal(t, RowBand{100, 100}, s.BandLeft)
	})
}

func TestSearchLandmarks_BackgroundGap(t *testing.T) {
	img := gapImage(600, 200, 300)
	g := bodyGeometry()
	space := DefineSearchSpace(img, &g, ModelBody)

	for _, seed := range []int64{1, 2, 3} {
		lm, err := SearchLandmarks(context.Background(), img, space, testTempering(seed))
		require.NoError(t, err)

		assert.InDelta(t, 200, lm.XIliac, 2, "seed %d", seed)
		assert.InDelta(t, 300, lm.XRibs, 2, "seed %d", seed)
		assert.True(t, lm.Ordered())
		assert.Equal(t, 200, lm.Spine, "least covered column")
	}
}

func TestSearchLandmarks_CombinesBands(t *testing.T) {
	// right band gap [190, 280], left band gap [210, 320]:
	// most cranial iliac is 210, most caudal ribs is 280
	img := bandGapImage(600, [2]int{190, 280}, [2]int{210, 320})
	g := bodyGeometry()
	space := DefineSearchSpace(img, &g, ModelBody)

	lm, err := SearchLandmarks(context.Background(), img, space, testTempering(5))
	require.NoError(t, err)
	assert.InDelta(t, 210, lm.XIliac, 2)
	assert.InDelta(t, 280, lm.XRibs, 2)
}

func TestSearchLandmarks_EmptyRange(t *testing.T) {
	img := gapImage(600, 200, 300)
	space := SearchSpace{Left: 300, Right: 300, BandRight: RowBand{141, 206}, BandLeft: RowBand{306, 371}}

	lm, err := SearchLandmarks(context.Background(), img, space, testTempering(1))
	assert.Error(t, err)
	assert.Equal(t, 300, lm.XIliac)
	assert.Equal(t, 300, lm.XRibs)
}

func TestSearchLandmarks_Cancelled(t *testing.T) {
	img := gapImage(600, 200, 300)
	g := bodyGeometry()
	space := DefineSearchSpace(img, &g, ModelBody)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := SearchLandmarks(ctx, img, space, testTempering(1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBandObjective(t *testing.T) {
	img := gapImage(600, 200, 300)
	obj := newBandObjective(img, RowBand{141, 206}, 150, 350)

	// 100 background columns inside, background on both ends
	assert.Equal(t, float64(2*100*65+60*(65+65)), obj.score(200, 300))
	// one target column inside, target at the iliac end
	assert.Equal(t, float64(2*(100*65-65)+60*65), obj.score(199, 300))
	assert.Greater(t, obj.score(200, 300), obj.score(201, 300))
	assert.Greater(t, obj.score(200, 300), obj.score(200, 301))
}
