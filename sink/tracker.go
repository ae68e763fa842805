package sink

import (
	"sync"
	"time"

	"github.com/kwv/tmifield/field"
)

// DefaultTrackerLimit is how many runs the tracker keeps.
const DefaultTrackerLimit = 100

// RunStatus is the progress of a run as seen by the tracker.
type RunStatus string

const (
	StatusSearched RunStatus = "searched"
	StatusAdjusted RunStatus = "adjusted"
)

// RunState is the tracked view of one run.
type RunState struct {
	field.RunInfo
	Status      RunStatus            `json:"status"`
	Space       field.SearchSpace    `json:"space"`
	Landmarks   field.Landmarks      `json:"landmarks"`
	AspectRatio float64              `json:"aspectRatio,omitempty"`
	Fields      []field.FieldSummary `json:"fields,omitempty"`
	UpdatedAt   time.Time            `json:"updatedAt"`
}

// RunTracker keeps the latest runs in memory for the HTTP endpoints.
type RunTracker struct {
	mu    sync.RWMutex
	runs  map[string]*RunState
	order []string // oldest first
	limit int
}

func NewRunTracker(limit int) *RunTracker {
	if limit <= 0 {
		limit = DefaultTrackerLimit
	}
	return &RunTracker{
		runs:  make(map[string]*RunState),
		limit: limit,
	}
}

func (rt *RunTracker) OnSearchComputed(ev field.SearchEvent) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	st := rt.stateLocked(ev.Run)
	st.Status = StatusSearched
	st.Space = ev.Space
	st.Landmarks = ev.Landmarks
	st.UpdatedAt = time.Now()
}

func (rt *RunTracker) OnGeometryAdjusted(ev field.AdjustEvent) {
	ar := ev.Image.AspectRatio()

	rt.mu.Lock()
	defer rt.mu.Unlock()

	st := rt.stateLocked(ev.Run)
	st.Status = StatusAdjusted
	st.Landmarks = ev.Landmarks
	st.AspectRatio = ar
	st.Fields = ev.After.Summaries(ar)
	st.UpdatedAt = time.Now()
}

// stateLocked returns the state of run, creating it and evicting the oldest
// run when the tracker is full.
func (rt *RunTracker) stateLocked(run field.RunInfo) *RunState {
	if st, ok := rt.runs[run.RequestID]; ok {
		return st
	}
	st := &RunState{RunInfo: run}
	rt.runs[run.RequestID] = st
	rt.order = append(rt.order, run.RequestID)
	for len(rt.order) > rt.limit {
		delete(rt.runs, rt.order[0])
		rt.order = rt.order[1:]
	}
	return st
}

// Get returns a copy of the state of a run.
func (rt *RunTracker) Get(requestID string) (RunState, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	st, ok := rt.runs[requestID]
	if !ok {
		return RunState{}, false
	}
	return *st, true
}

// List returns copies of all tracked runs, newest first.
func (rt *RunTracker) List() []RunState {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]RunState, 0, len(rt.order))
	for i := len(rt.order) - 1; i >= 0; i-- {
		out = append(out, *rt.runs[rt.order[i]])
	}
	return out
}

// Len returns the number of tracked runs.
func (rt *RunTracker) Len() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.runs)
}
