package field

// RunInfo identifies one optimization run.
type RunInfo struct {
	RequestID  string               `json:"requestId"`
	Model      string               `json:"model"`
	Kind       ModelKind            `json:"-"`
	Convention CollimatorConvention `json:"collimator"`
}

// SearchEvent is emitted once the landmarks are known.
type SearchEvent struct {
	Run       RunInfo
	Image     *Image
	Space     SearchSpace
	Landmarks Landmarks
}

// AdjustEvent is emitted once the geometry has been adjusted.
type AdjustEvent struct {
	Run       RunInfo
	Image     *Image
	Landmarks Landmarks
	Before    FieldGeometry
	After     FieldGeometry
}

// Observer receives optimization events. Implementations must not modify
// the image or geometry they are handed and report their own failures.
type Observer interface {
	OnSearchComputed(ev SearchEvent)
	OnGeometryAdjusted(ev AdjustEvent)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) OnSearchComputed(SearchEvent)  {}
func (NopObserver) OnGeometryAdjusted(AdjustEvent) {}

// Observers fans events out to several observers in order.
type Observers []Observer

func (obs Observers) OnSearchComputed(ev SearchEvent) {
	for _, o := range obs {
		o.OnSearchComputed(ev)
	}
}

func (obs Observers) OnGeometryAdjusted(ev AdjustEvent) {
	for _, o := range obs {
		o.OnGeometryAdjusted(ev)
	}
}
