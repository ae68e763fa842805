package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kwv/tmifield/field"
	"github.com/kwv/tmifield/logger"
	"github.com/kwv/tmifield/pipeline"
	"github.com/kwv/tmifield/series"
	"github.com/kwv/tmifield/sink"
)

const maxRequestBytes = 1 << 16

// Predictor runs one prediction request.
type Predictor interface {
	Predict(ctx context.Context, req pipeline.Request) (*pipeline.Prediction, error)
}

// ModelChecker reports whether a model is served.
type ModelChecker interface {
	Available(ctx context.Context, model string) error
}

type serverDeps struct {
	Predictor  Predictor
	Models     ModelChecker
	ModelNames field.ModelsConfig
	Tracker    *sink.RunTracker
	Registry   *prometheus.Registry
	Log        logger.ILogger
	// ReportErrors sends panics and unexpected prediction errors to Sentry.
	ReportErrors bool
}

type server struct {
	serverDeps
}

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(deps serverDeps) http.Handler {
	if deps.Log == nil {
		deps.Log = logger.NullLogger{}
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	s := &server{deps}

	router := mux.NewRouter()
	router.HandleFunc("/", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/predict", s.handlePredict).Methods(http.MethodPost)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/runs", s.handleRuns).Methods(http.MethodGet)
	router.HandleFunc("/runs/{id}", s.handleRun).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.Use(newHTTPMetrics(deps.Registry).middleware)

	var h http.Handler = router
	if deps.ReportErrors {
		h = sentryhttp.New(sentryhttp.Options{
			Repanic:         true,
			WaitForDelivery: true,
		}).Handle(h)
	}

	lw := logWriter{deps.Log}
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(lw), handlers.PrintRecoveryStack(true))(h)
	h = handlers.LoggingHandler(lw, h)
	return handlers.CORS(
		handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type"}),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedOrigins([]string{"*"}))(h)
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	body := s.Models.Available(r.Context(), s.ModelNames.Body) == nil
	arms := s.Models.Available(r.Context(), s.ModelNames.Arms) == nil

	var msg string
	switch {
	case !body && !arms:
		msg = "<p style='color:Red;'>ERROR: Could not load the models.</p>"
	case !body:
		msg = fmt.Sprintf("<p style='color:Orange;'>WARNING: Could not load %s model.</p>", html.EscapeString(s.ModelNames.Body))
	case !arms:
		msg = fmt.Sprintf("<p style='color:Orange;'>WARNING: Could not load %s model.</p>", html.EscapeString(s.ModelNames.Arms))
	default:
		msg = "<p style='color:Limegreen;'>The local server is running properly!</p>"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, msg)
}

func (s *server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	pred, err := s.Predictor.Predict(r.Context(), req)
	if err != nil {
		status := predictStatus(err)
		s.Log.Errorf("Prediction for %s failed (%d): %v", req.DicomPath, status, err)
		if status == http.StatusInternalServerError && s.ReportErrors {
			if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
				hub.CaptureException(err)
			} else {
				sentry.CaptureException(err)
			}
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-Id", pred.RequestID)
	if err := json.NewEncoder(w).Encode(pred.Patient); err != nil {
		s.Log.Errorf("Error encoding prediction %s: %v", pred.RequestID, err)
	}
}

// predictStatus maps a prediction error to an HTTP status.
func predictStatus(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, pipeline.ErrEmptyTarget), errors.Is(err, series.ErrNoSlices):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := struct {
		Status    string    `json:"status"`
		Version   string    `json:"version"`
		Timestamp time.Time `json:"timestamp"`
		Runs      int       `json:"runs"`
	}{
		Status:    "ok",
		Version:   Version,
		Timestamp: time.Now(),
		Runs:      s.Tracker.Len(),
	}
	writeJSON(w, status, s.Log)
}

func (s *server) handleRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Tracker.List(), s.Log)
}

func (s *server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	st, ok := s.Tracker.Get(id)
	if !ok {
		http.Error(w, fmt.Sprintf("run %s not found", id), http.StatusNotFound)
		return
	}
	writeJSON(w, st, s.Log)
}

func writeJSON(w http.ResponseWriter, v any, log logger.ILogger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Error encoding response: %v", err)
	}
}

// httpMetrics counts requests per route template.
type httpMetrics struct {
	duration *prometheus.HistogramVec
	requests *prometheus.CounterVec
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	factory := promauto.With(reg)
	return &httpMetrics{
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "tmifield_http_response_time_seconds",
			Help: "Duration of HTTP requests.",
		}, []string{"path"}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tmifield_http_requests_total",
			Help: "Number of HTTP requests.",
		}, []string{"path", "code"}),
	}
}

func (m *httpMetrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats := httpsnoop.CaptureMetrics(next, w, r)
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		m.duration.WithLabelValues(path).Observe(stats.Duration.Seconds())
		m.requests.WithLabelValues(path, strconv.Itoa(stats.Code)).Inc()
	})
}

// logWriter feeds the access log and recovered panics into the service logger.
type logWriter struct {
	log logger.ILogger
}

func (w logWriter) Write(p []byte) (int, error) {
	w.log.Infof("[HTTP] %s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func (w logWriter) Println(v ...interface{}) {
	w.log.Errorf("[HTTP] %s", strings.TrimRight(fmt.Sprintln(v...), "\n"))
}
