package field

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"
)

// Landmark search geometry, in pixels.
const (
	bandNearOffset = 50  // rows between the body centre and the inner edge of a band
	bandFarOffset  = 115 // rows between the body centre and the outer edge of a band
	bodyLeftMargin = 10  // body model: lower column bound moves cranially
	armsLeftMargin = -10 // arms model: lower column bound moves caudally

	interiorWeight = 2
	boundaryWeight = 60
)

// RowBand is a half-open range of image rows.
type RowBand struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (b RowBand) Len() int {
	return max(b.End-b.Start, 0)
}

// SearchSpace bounds the landmark search.
type SearchSpace struct {
	Left      int     `json:"left"`  // inclusive lower column bound
	Right     int     `json:"right"` // exclusive upper column bound
	BandRight RowBand `json:"bandRight"`
	BandLeft  RowBand `json:"bandLeft"`
	CenterRow int     `json:"centerRow"`
}

func (s SearchSpace) String() string {
	return fmt.Sprintf("SearchSpace{cols=[%d,%d) right=[%d,%d) left=[%d,%d)}",
		s.Left, s.Right, s.BandRight.Start, s.BandRight.End, s.BandLeft.Start, s.BandLeft.End)
}

// Landmarks are the image columns of the iliac crests and the lowest ribs.
// XIliac <= XRibs is expected but not enforced.
type Landmarks struct {
	XIliac int `json:"xIliac"`
	XRibs  int `json:"xRibs"`
	// Spine is the least covered column between the pelvis/abdomen and
	// abdomen/chest midpoints, used to seed the pair search.
	Spine int `json:"spine"`
}

func (l Landmarks) String() string {
	return fmt.Sprintf("Landmarks{iliac=%d ribs=%d spine=%d}", l.XIliac, l.XRibs, l.Spine)
}

// Ordered reports whether the iliac crests lie caudal of (or at) the ribs.
func (l Landmarks) Ordered() bool {
	return l.XIliac <= l.XRibs
}

// DefineSearchSpace derives the column bounds from the predicted isocenters
// and the two lateral row bands from the density centre of mass.
func DefineSearchSpace(img *Image, g *FieldGeometry, kind ModelKind) SearchSpace {
	left := round((g.IsoZ(PelvisCranial) + g.IsoZ(AbdomenCranial)) / 2)
	if kind == ModelBody {
		left += bodyLeftMargin
	} else {
		left += armsLeftMargin
	}
	right := round((g.IsoZ(AbdomenCranial) + g.IsoZ(ChestCranial)) / 2)

	com := round(img.RowCenterOfMass(ChannelDensity))
	rs, re := clampRange(com-bandFarOffset, com-bandNearOffset, img.Height)
	ls, le := clampRange(com+bandNearOffset, com+bandFarOffset, img.Height)

	return SearchSpace{
		Left:      left,
		Right:     right,
		BandRight: RowBand{Start: rs, End: re},
		BandLeft:  RowBand{Start: ls, End: le},
		CenterRow: com,
	}
}

// SearchLandmarks locates the iliac crests and ribs.
//
// A grid search first picks the spine column: the column in the search range
// with the fewest mask pixels. Then, independently for each lateral band, a
// tempering search picks the pair (iliac, ribs) that maximizes background
// between them and background exactly on them. Across bands the most caudal
// ribs and the most cranial iliac crests are kept.
func SearchLandmarks(ctx context.Context, img *Image, space SearchSpace, cfg TemperingConfig) (Landmarks, error) {
	lo, hi := clampRange(space.Left, space.Right, img.Width)
	if hi <= lo {
		return Landmarks{XIliac: space.Left, XRibs: space.Right, Spine: space.Left},
			fmt.Errorf("empty landmark search range [%d, %d)", space.Left, space.Right)
	}

	spine, _, _ := GridSearch(lo, hi, func(x int) float64 {
		return -float64(img.ColumnTargetCount(x))
	})

	var seed int64
	if cfg.RNG != nil {
		seed = cfg.RNG.Int63()
	} else {
		seed = time.Now().UnixNano()
	}

	bands := []RowBand{space.BandRight, space.BandLeft}
	results := make([]PairResult, len(bands))
	g, ctx := errgroup.WithContext(ctx)
	for i, band := range bands {
		bandCfg := cfg
		bandCfg.RNG = rand.New(rand.NewSource(seed + int64(i)))
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			obj := newBandObjective(img, band, lo, hi)
			res, _ := MaximizeOrderedPair(lo, hi, obj.score, [][2]int{{spine, spine}}, bandCfg)
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Landmarks{}, fmt.Errorf("landmark search: %w", err)
	}

	lm := Landmarks{XIliac: 0, XRibs: img.NumSlices, Spine: spine}
	for _, r := range results {
		lm.XRibs = min(lm.XRibs, r.B)
		lm.XIliac = max(lm.XIliac, r.A)
	}
	return lm, nil
}

// bandObjective scores (iliac, ribs) candidates within one row band using
// per-column background counts and their prefix sums.
type bandObjective struct {
	lo     int
	rows   int
	bg     []int // background pixels per column, indexed from lo
	prefix []int // prefix[i] = sum(bg[:i])
}

func newBandObjective(img *Image, band RowBand, lo, hi int) *bandObjective {
	o := &bandObjective{
		lo:     lo,
		rows:   band.Len(),
		bg:     make([]int, hi-lo),
		prefix: make([]int, hi-lo+1),
	}
	for c := lo; c < hi; c++ {
		n := 0
		for r := band.Start; r < band.End; r++ {
			if !img.IsTarget(r, c) {
				n++
			}
		}
		o.bg[c-lo] = n
		o.prefix[c-lo+1] = o.prefix[c-lo] + n
	}
	return o
}

func (o *bandObjective) score(iliac, ribs int) float64 {
	i, r := iliac-o.lo, ribs-o.lo
	bg := o.prefix[r] - o.prefix[i]
	mask := (r-i)*o.rows - bg
	return float64(interiorWeight*(bg-mask) + boundaryWeight*(o.bg[r]+o.bg[i]))
}
