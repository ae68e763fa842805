package field

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/kwv/tmifield/logger"
)

// Optimizer runs the local optimization pass on a predicted geometry.
type Optimizer struct {
	OverlapPixels float64
	Convention    CollimatorConvention
	Population    int
	Iterations    int
	// Seed makes the landmark search reproducible. Zero seeds from the clock.
	Seed     int64
	Log      logger.ILogger
	Observer Observer
}

// NewOptimizer builds an optimizer from the service configuration.
func NewOptimizer(cfg *Config, log logger.ILogger, obs Observer) *Optimizer {
	if log == nil {
		log = logger.NullLogger{}
	}
	if obs == nil {
		obs = NopObserver{}
	}
	return &Optimizer{
		OverlapPixels: cfg.FieldOverlapPixels,
		Convention:    cfg.Collimator(),
		Population:    cfg.Search.Population,
		Iterations:    cfg.Search.Iterations,
		Seed:          cfg.Search.Seed,
		Log:           log,
		Observer:      obs,
	}
}

// Result summarizes an optimization run.
type Result struct {
	Space     SearchSpace
	Landmarks Landmarks
	Before    FieldGeometry
}

func (o *Optimizer) temperingConfig() TemperingConfig {
	cfg := DefaultTemperingConfig()
	if o.Population > 0 {
		cfg.Population = o.Population
	}
	if o.Iterations > 0 {
		cfg.Iterations = o.Iterations
	}
	if o.Seed != 0 {
		cfg.RNG = rand.New(rand.NewSource(o.Seed))
	} else {
		cfg.RNG = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return cfg
}

// Optimize corrects g in place: it clamps the head-pelvis distance, locates
// the iliac crests and ribs, applies the rule set for the model kind and
// collimator convention, clamps the arms and refits the outer edges. Shape
// mismatches and landmark ordering problems are logged, never fatal.
func (o *Optimizer) Optimize(ctx context.Context, run RunInfo, img *Image, g *FieldGeometry) (Result, error) {
	if run.Convention == "" {
		run.Convention = o.Convention
	}
	adj, err := AdjusterFor(run.Kind, run.Convention)
	if err != nil {
		return Result{}, err
	}

	if err := img.ValidateShape(); err != nil {
		o.Log.Warnf("%v. The local optimization might give incorrect results.", err)
	}
	o.Log.Infof("[%s] Predicted field geometry: %+v", run.RequestID, *g)

	res := Result{Before: g.Clone()}

	ClampHeadPelvis(img, g, o.Log)

	res.Space = DefineSearchSpace(img, g, run.Kind)
	o.Log.Infof("[%s] %s", run.RequestID, res.Space)

	lm, err := SearchLandmarks(ctx, img, res.Space, o.temperingConfig())
	if err != nil {
		if ctx.Err() != nil {
			return res, fmt.Errorf("optimize %s: %w", run.RequestID, err)
		}
		o.Log.Warnf("[%s] %v, using the search bounds as landmarks", run.RequestID, err)
	}
	if !lm.Ordered() {
		o.Log.Warnf("[%s] Pixel location of ribs (%d) < iliac crests (%d). Local optimization might be incorrect.",
			run.RequestID, lm.XRibs, lm.XIliac)
	}
	res.Landmarks = lm
	o.Log.Infof("[%s] %s", run.RequestID, lm)

	o.Observer.OnSearchComputed(SearchEvent{Run: run, Image: img, Space: res.Space, Landmarks: lm})

	adj.Adjust(&AdjustContext{
		Image:         img,
		Geometry:      g,
		Landmarks:     lm,
		OverlapPixels: o.OverlapPixels,
		Log:           o.Log,
	})
	if run.Kind == ModelArms {
		ClampArms(img, g, o.Log)
	}
	for _, dir := range run.Convention.EdgeFits() {
		if !FitEdgeField(img, g, dir) {
			o.Log.Warnf("[%s] could not fit %s edge field", run.RequestID, dir)
		}
	}
	g.ZeroAbsent()

	o.Log.Infof("[%s] Adjusted field geometry: %+v", run.RequestID, *g)
	o.Observer.OnGeometryAdjusted(AdjustEvent{
		Run:       run,
		Image:     img,
		Landmarks: lm,
		Before:    res.Before,
		After:     g.Clone(),
	})
	return res, nil
}
