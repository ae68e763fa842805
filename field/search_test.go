package field

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridSearch(t *testing.T) {
	t.Run("first maximum wins", func(t *testing.T) {
		best, score, ok := GridSearch(0, 10, func(x int) float64 {
			if x == 3 || x == 7 {
				return 5
			}
			return 0
		})
		require.True(t, ok)
		assert.Equal(t, 3, best)
		assert.Equal(t, 5.0, score)
	})

	t.Run("empty range", func(t *testing.T) {
		_, _, ok := GridSearch(5, 5, func(int) float64 { return 0 })
		assert.False(t, ok)
	})

	t.Run("negative scores", func(t *testing.T) {
		best, _, ok := GridSearch(-3, 3, func(x int) float64 { return -float64(x * x) })
		require.True(t, ok)
		assert.Equal(t, 0, best)
	})
}

func TestMaximizeOrderedPair(t *testing.T) {
	tests := []struct {
		name         string
		targetA      int
		targetB      int
		wantA, wantB int
	}{
		{"unconstrained optimum", 30, 70, 30, 70},
		{"optimum on the constraint", 70, 30, 50, 50},
		{"corner", 0, 99, 0, 99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := func(a, b int) float64 {
				da, db := float64(a-tt.targetA), float64(b-tt.targetB)
				return -(da*da + db*db)
			}
			res, ok := MaximizeOrderedPair(0, 100, score, nil, testTempering(42))
			require.True(t, ok)
			assert.Equal(t, tt.wantA, res.A)
			assert.Equal(t, tt.wantB, res.B)
			assert.LessOrEqual(t, res.A, res.B)
			assert.Greater(t, res.Evaluations, 0)
		})
	}
}

func TestMaximizeOrderedPair_RespectsConstraint(t *testing.T) {
	cfg := testTempering(7)
	cfg.Iterations = 50
	violations := 0
	score := func(a, b int) float64 {
		if a > b {
			violations++
		}
		return float64(a - b)
	}
	res, ok := MaximizeOrderedPair(10, 60, score, [][2]int{{40, 20}}, cfg)
	require.True(t, ok)
	assert.Zero(t, violations)
	assert.Equal(t, res.A, res.B)
}

func TestMaximizeOrderedPair_EmptyRange(t *testing.T) {
	_, ok := MaximizeOrderedPair(10, 10, func(a, b int) float64 { return 0 }, nil, testTempering(1))
	assert.False(t, ok)
}

func TestMaximizeOrderedPair_Deterministic(t *testing.T) {
	score := func(a, b int) float64 {
		// rugged landscape so the result depends on the random walk
		return float64((a*7919+b*104729)%1000) + float64(b-a)
	}
	run := func() PairResult {
		cfg := DefaultTemperingConfig()
		cfg.Iterations = 20
		cfg.RNG = rand.New(rand.NewSource(99))
		res, _ := MaximizeOrderedPair(0, 200, score, nil, cfg)
		return res
	}
	assert.Equal(t, run(), run())
}

func TestInitialPairs(t *testing.T) {
	pairs := initialPairs(10, 20, [][2]int{{15, 12}}, 20, rand.New(rand.NewSource(3)))
	require.Len(t, pairs, 20)
	assert.Equal(t, [2]int{12, 15}, pairs[0], "seeds are ordered")
	for _, p := range pairs {
		assert.GreaterOrEqual(t, p[0], 10)
		assert.LessOrEqual(t, p[1], 19)
		assert.LessOrEqual(t, p[0], p[1])
	}
}
