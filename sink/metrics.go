package sink

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kwv/tmifield/field"
)

// Metrics exports optimization statistics to Prometheus.
type Metrics struct {
	searches    *prometheus.CounterVec
	adjusted    *prometheus.CounterVec
	unordered   *prometheus.CounterVec
	landmarkGap *prometheus.HistogramVec
	isoShift    *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg. A nil reg uses the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		searches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tmifield_landmark_searches_total",
			Help: "Number of landmark searches.",
		}, []string{"model"}),
		adjusted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tmifield_geometries_adjusted_total",
			Help: "Number of adjusted field geometries.",
		}, []string{"model", "collimator"}),
		unordered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tmifield_landmarks_unordered_total",
			Help: "Searches where the ribs were found caudal of the iliac crests.",
		}, []string{"model"}),
		landmarkGap: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tmifield_landmark_gap_columns",
			Help:    "Columns between the iliac crests and the ribs.",
			Buckets: prometheus.LinearBuckets(0, 20, 10),
		}, []string{"model"}),
		isoShift: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tmifield_isocenter_shift_columns",
			Help:    "Largest longitudinal isocenter move made by the adjustment.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}, []string{"model"}),
	}
}

func (m *Metrics) OnSearchComputed(ev field.SearchEvent) {
	m.searches.WithLabelValues(ev.Run.Model).Inc()
	if !ev.Landmarks.Ordered() {
		m.unordered.WithLabelValues(ev.Run.Model).Inc()
	}
	m.landmarkGap.WithLabelValues(ev.Run.Model).Observe(math.Abs(float64(ev.Landmarks.XRibs - ev.Landmarks.XIliac)))
}

func (m *Metrics) OnGeometryAdjusted(ev field.AdjustEvent) {
	m.adjusted.WithLabelValues(ev.Run.Model, string(ev.Run.Convention)).Inc()
	m.isoShift.WithLabelValues(ev.Run.Model).Observe(MaxIsoShift(ev.Before, ev.After))
}

// MaxIsoShift is the largest longitudinal isocenter move between two geometries.
func MaxIsoShift(before, after field.FieldGeometry) float64 {
	var shift float64
	for i := range field.NumFields {
		f := field.FieldIndex(i)
		shift = max(shift, math.Abs(after.IsoZ(f)-before.IsoZ(f)))
	}
	return shift
}
