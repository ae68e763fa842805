package sink

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/kwv/tmifield/field"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.OnSearchComputed(testSearchEvent("a"))
	unordered := testSearchEvent("b")
	unordered.Landmarks = field.Landmarks{XIliac: 60, XRibs: 50}
	m.OnSearchComputed(unordered)
	m.OnGeometryAdjusted(testAdjustEvent("a"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.searches.WithLabelValues("body_cnn")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.unordered.WithLabelValues("body_cnn")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.adjusted.WithLabelValues("body_cnn", "90")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.landmarkGap), "one series per model")
	assert.Equal(t, 1, testutil.CollectAndCount(m.isoShift))
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}

func TestMaxIsoShift(t *testing.T) {
	ev := testAdjustEvent("a")
	assert.Equal(t, 2.0, MaxIsoShift(ev.Before, ev.After))
	assert.Equal(t, 0.0, MaxIsoShift(ev.Before, ev.Before))
}
