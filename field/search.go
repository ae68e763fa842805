package field

import (
	"math"
	"math/rand"
	"time"
)

const (
	DefaultPopulation = 20
	DefaultIterations = 1000
)

// GridSearch evaluates every integer in [lo, hi) and returns the first
// position with the highest score. ok is false when the range is empty.
func GridSearch(lo, hi int, score func(x int) float64) (best int, bestScore float64, ok bool) {
	bestScore = math.Inf(-1)
	for x := lo; x < hi; x++ {
		s := score(x)
		if !ok || s > bestScore {
			best, bestScore, ok = x, s, true
		}
	}
	return best, bestScore, ok
}

// TemperingConfig holds configuration for the parallel tempering search.
type TemperingConfig struct {
	Population   int        // Number of replicas, each at its own temperature
	Iterations   int        // Sweeps; every replica proposes one move per sweep
	SwapEvery    int        // Attempt neighbour temperature swaps every N sweeps
	StepFraction float64    // Proposal sigma as a fraction of the range width
	BaseTemp     float64    // Temperature of the coldest replica
	TempGrowth   float64    // Ratio between neighbouring temperatures
	RNG          *rand.Rand // Random number generator for deterministic behavior
}

// DefaultTemperingConfig returns the settings used by the landmark search.
func DefaultTemperingConfig() TemperingConfig {
	return TemperingConfig{
		Population:   DefaultPopulation,
		Iterations:   DefaultIterations,
		SwapEvery:    10,
		StepFraction: 0.03,
		BaseTemp:     0.001,
		TempGrowth:   1.3,
		RNG:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// PairResult is the outcome of an ordered-pair search.
type PairResult struct {
	A, B        int
	Score       float64
	Evaluations int
}

type replica struct {
	a, b  int
	score float64
	temp  float64
}

// MaximizeOrderedPair searches integer pairs (a, b) with lo <= a <= b < hi
// for the highest score using a population of hill climbers at increasing
// temperatures that periodically exchange positions. seeds are optional
// starting positions; the rest of the population starts on the corners of
// the space, on a coarse grid and at random. The best pair found is finally
// polished by unit-step coordinate ascent. ok is false when the range is empty.
func MaximizeOrderedPair(lo, hi int, score func(a, b int) float64, seeds [][2]int, cfg TemperingConfig) (PairResult, bool) {
	if hi <= lo {
		return PairResult{A: lo, B: lo, Score: math.Inf(-1)}, false
	}
	if cfg.Population <= 0 {
		cfg.Population = DefaultPopulation
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = DefaultIterations
	}
	if cfg.SwapEvery <= 0 {
		cfg.SwapEvery = 10
	}
	if cfg.RNG == nil {
		cfg.RNG = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	rng := cfg.RNG

	evals := 0
	eval := func(a, b int) float64 {
		evals++
		return score(a, b)
	}

	starts := initialPairs(lo, hi, seeds, cfg.Population, rng)
	reps := make([]replica, len(starts))
	best := PairResult{Score: math.Inf(-1)}
	for i, p := range starts {
		s := eval(p[0], p[1])
		reps[i] = replica{a: p[0], b: p[1], score: s, temp: cfg.BaseTemp * math.Pow(cfg.TempGrowth, float64(i))}
		if s > best.Score {
			best = PairResult{A: p[0], B: p[1], Score: s}
		}
	}

	sigma := math.Max(1, cfg.StepFraction*float64(hi-lo))
	for sweep := 1; sweep <= cfg.Iterations; sweep++ {
		for i := range reps {
			r := &reps[i]
			a, b, moved := proposePair(r.a, r.b, lo, hi, sigma, rng)
			if !moved {
				continue
			}
			s := eval(a, b)
			if s >= r.score || rng.Float64() < math.Exp(normalizedDelta(s-r.score, best.Score)/r.temp) {
				r.a, r.b, r.score = a, b, s
			}
			if s > best.Score {
				best = PairResult{A: a, B: b, Score: s}
			}
		}

		if sweep%cfg.SwapEvery == 0 {
			for i := 0; i+1 < len(reps); i++ {
				cold, hot := &reps[i], &reps[i+1]
				exponent := normalizedDelta(hot.score-cold.score, best.Score) * (1/cold.temp - 1/hot.temp)
				if exponent >= 0 || rng.Float64() < math.Exp(exponent) {
					cold.a, hot.a = hot.a, cold.a
					cold.b, hot.b = hot.b, cold.b
					cold.score, hot.score = hot.score, cold.score
				}
			}
		}
	}

	best = polishPair(best, lo, hi, eval)
	best.Evaluations = evals
	return best, true
}

// normalizedDelta scales a score difference by the magnitude of the best
// score so temperatures do not depend on the objective's units.
func normalizedDelta(delta, bestScore float64) float64 {
	scale := math.Abs(bestScore)
	if scale < 1 || math.IsInf(scale, 0) {
		scale = 1
	}
	return delta / scale
}

func proposePair(a, b, lo, hi int, sigma float64, rng *rand.Rand) (int, int, bool) {
	for range 10 {
		na := clampInt(a+int(math.Round(rng.NormFloat64()*sigma)), lo, hi-1)
		nb := clampInt(b+int(math.Round(rng.NormFloat64()*sigma)), lo, hi-1)
		if na == a && nb == b {
			// force a unit step so cold replicas keep exploring
			if rng.Intn(2) == 0 {
				na = clampInt(a+1-2*rng.Intn(2), lo, hi-1)
			} else {
				nb = clampInt(b+1-2*rng.Intn(2), lo, hi-1)
			}
		}
		if na <= nb && (na != a || nb != b) {
			return na, nb, true
		}
	}
	return a, b, false
}

func polishPair(best PairResult, lo, hi int, eval func(a, b int) float64) PairResult {
	steps := [][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}
	for limit := 2 * (hi - lo); limit > 0; limit-- {
		improved := false
		for _, d := range steps {
			a, b := best.A+d[0], best.B+d[1]
			if a < lo || b >= hi || a > b {
				continue
			}
			if s := eval(a, b); s > best.Score {
				best.A, best.B, best.Score = a, b, s
				improved = true
			}
		}
		if !improved {
			break
		}
	}
	return best
}

// initialPairs fills the population with seeds, the corners of the
// triangle a <= b, a coarse grid and finally random valid pairs.
func initialPairs(lo, hi int, seeds [][2]int, n int, rng *rand.Rand) [][2]int {
	last := hi - 1
	var out [][2]int
	add := func(a, b int) {
		if len(out) >= n {
			return
		}
		a, b = clampInt(a, lo, last), clampInt(b, lo, last)
		if a > b {
			a, b = b, a
		}
		out = append(out, [2]int{a, b})
	}

	for _, s := range seeds {
		add(s[0], s[1])
	}
	add(lo, lo)
	add(lo, last)
	add(last, last)

	width := hi - lo
	for i := 1; i <= 3; i++ {
		for j := i; j <= 3; j++ {
			add(lo+i*width/4, lo+j*width/4)
		}
	}
	for len(out) < n {
		add(lo+rng.Intn(width), lo+rng.Intn(width))
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
