package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kwv/tmifield/field"
	"github.com/kwv/tmifield/logger"
	"github.com/kwv/tmifield/pipeline"
	"github.com/kwv/tmifield/series"
	"github.com/kwv/tmifield/sink"
)

const (
	portProbeTimeout = 200 * time.Millisecond
	shutdownTimeout  = 10 * time.Second
	sentryFlushDelay = 2 * time.Second
)

// App encapsulates the application state and dependencies
type App struct {
	Config    *field.Config
	Log       *logger.StdOutLogger
	Registry  *prometheus.Registry
	Tracker   *sink.RunTracker
	Metrics   *sink.Metrics
	MQTT      *sink.Connection
	Publisher *sink.Publisher
	Recorder  *sink.Recorder
	Oracle    pipeline.Oracle
	Pipeline  *pipeline.Pipeline

	// CLI flags
	ConfigFile string
	Host       string
	Port       int
	DebugDir   string
	SaveConfig bool

	out           io.Writer
	sentryEnabled bool
}

// NewApp creates a new App instance writing user-facing output to out.
func NewApp(out io.Writer) *App {
	return &App{
		Log:        logger.NewStdOutLogger(logger.LogInfo),
		Tracker:    sink.NewRunTracker(sink.DefaultTrackerLimit),
		ConfigFile: "config.yaml",
		Host:       "127.0.0.1",
		SaveConfig: true,
		out:        out,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.Host = opts.Host
	a.Port = opts.Port
	a.DebugDir = opts.DebugDir
	a.SaveConfig = opts.SaveConfig
}

// Setup loads the configuration and wires the observers, the model oracle
// and the prediction pipeline. An Oracle set beforehand is kept.
func (a *App) Setup(ctx context.Context) error {
	cfg, err := field.LoadConfig(a.ConfigFile)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", a.ConfigFile, err)
	}
	if a.DebugDir != "" {
		cfg.DebugDir = a.DebugDir
	}
	a.Config = cfg

	level, err := logger.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		a.Log.Warnf("%v, using %s", err, level)
	}
	a.Log.SetLogLevel(level)
	a.Log.Infof("Loaded config from %s", a.ConfigFile)

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:     cfg.SentryDSN,
			Release: Version,
		})
		if err != nil {
			a.Log.Errorf("Sentry initialization failed: %v", err)
		} else {
			a.sentryEnabled = true
		}
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = sink.NewMetrics(a.Registry)

	observers := field.Observers{a.Tracker, a.Metrics}

	a.MQTT = sink.ConnectMQTT(cfg.MQTT, a.Log)
	if a.MQTT != nil {
		a.Publisher = sink.NewPublisher(a.MQTT.Client(), cfg.MQTT.PublishPrefix, a.Log)
		observers = append(observers, a.Publisher)
	}

	if cfg.PostgresURL != "" {
		rec, err := sink.OpenRecorder(ctx, cfg.PostgresURL, a.Log)
		if err != nil {
			a.Log.Errorf("Run recorder disabled: %v", err)
		} else {
			a.Recorder = rec
			observers = append(observers, rec)
		}
	}

	if cfg.DebugDir != "" {
		a.Log.Infof("Writing debug images to %s", cfg.DebugDir)
		observers = append(observers, sink.NewDebugWriter(cfg.DebugDir, a.Log))
	}

	if a.Oracle == nil {
		opts := []pipeline.OracleOption{}
		if cfg.ModelServer.TimeoutSec > 0 {
			opts = append(opts, pipeline.WithTimeout(time.Duration(cfg.ModelServer.TimeoutSec)*time.Second))
		}
		if cfg.ModelServer.MaxRetries > 0 {
			opts = append(opts, pipeline.WithMaxRetries(cfg.ModelServer.MaxRetries))
		}
		a.Oracle = pipeline.NewHTTPOracle(cfg.ModelServer.URL, opts...)
	}

	optimizer := field.NewOptimizer(cfg, a.Log, observers)
	a.Pipeline = pipeline.New(cfg,
		series.NewDicomProvider(a.Log),
		series.DirMaskStore{Root: cfg.StructureDir},
		a.Oracle, optimizer, a.Log)
	return nil
}

// Close releases the connections opened by Setup.
func (a *App) Close() {
	a.MQTT.Disconnect()
	if a.Recorder != nil {
		if err := a.Recorder.Close(); err != nil {
			a.Log.Warnf("Closing run recorder: %v", err)
		}
	}
	if a.sentryEnabled {
		sentry.Flush(sentryFlushDelay)
	}
}

// Handler builds the HTTP handler of the service.
func (a *App) Handler() http.Handler {
	return newHTTPServer(serverDeps{
		Predictor:    a.Pipeline,
		Models:       a.Oracle,
		ModelNames:   a.Config.Models,
		Tracker:      a.Tracker,
		Registry:     a.Registry,
		Log:          a.Log,
		ReportErrors: a.sentryEnabled,
	})
}

// RunService serves HTTP until SIGINT or SIGTERM.
func (a *App) RunService() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Setup(ctx); err != nil {
		return err
	}
	defer a.Close()

	port := a.Port
	if port == 0 {
		p, err := findFreePort(a.Host, a.Config.StartPort, a.Config.EndPort, a.Log)
		if err != nil {
			return err
		}
		port = p
	}
	a.Config.Port = port
	if a.SaveConfig {
		if err := field.SaveConfig(a.ConfigFile, a.Config); err != nil {
			a.Log.Warnf("Could not record port in %s: %v", a.ConfigFile, err)
		}
	}

	addr := net.JoinHostPort(a.Host, strconv.Itoa(port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Log.Infof("Starting server on port: %d", port)
		errCh <- srv.ListenAndServe()
	}()

	fmt.Fprintln(a.out, "\nService Running")
	fmt.Fprintln(a.out, "===============")
	fmt.Fprintf(a.out, "\nHTTP endpoints (%s):\n", addr)
	fmt.Fprintln(a.out, "  GET  /             - Model status")
	fmt.Fprintln(a.out, "  POST /predict      - Field geometry prediction")
	fmt.Fprintln(a.out, "  GET  /health       - Health check")
	fmt.Fprintln(a.out, "  GET  /runs         - Recent optimization runs")
	fmt.Fprintln(a.out, "  GET  /runs/{id}    - One optimization run")
	fmt.Fprintln(a.out, "  GET  /metrics      - Prometheus metrics")
	if a.Publisher != nil {
		fmt.Fprintf(a.out, "\nMQTT: publishing to %s/{requestId}/landmarks|geometry\n", a.Publisher.Prefix())
	}
	fmt.Fprintln(a.out, "\nPress Ctrl+C to stop")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	fmt.Fprintln(a.out, "\nShutting down service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}
	fmt.Fprintln(a.out, "Service stopped")
	return nil
}

// RunPredict runs the request stored in a JSON file and prints the patient
// geometry.
func (a *App) RunPredict(path string) error {
	ctx := context.Background()
	if err := a.Setup(ctx); err != nil {
		return err
	}
	defer a.Close()
	return a.predictFile(ctx, path, a.Pipeline)
}

func (a *App) predictFile(ctx context.Context, path string, p Predictor) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading request: %w", err)
	}
	var req pipeline.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("parsing request %s: %w", path, err)
	}

	pred, err := p.Predict(ctx, req)
	if err != nil {
		return err
	}
	a.Log.Infof("[%s] Landmarks %s", pred.RequestID, pred.Result.Landmarks)

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(pred.Patient)
}

// RunCheckModels reports which of the configured models are served.
func (a *App) RunCheckModels() error {
	ctx := context.Background()
	if err := a.Setup(ctx); err != nil {
		return err
	}
	defer a.Close()
	return a.checkModels(ctx)
}

func (a *App) checkModels(ctx context.Context) error {
	available := 0
	for _, name := range []string{a.Config.Models.Body, a.Config.Models.Arms} {
		if err := a.Oracle.Available(ctx, name); err != nil {
			fmt.Fprintf(a.out, "  %-12s unavailable (%v)\n", name, err)
			continue
		}
		available++
		fmt.Fprintf(a.out, "  %-12s ok\n", name)
	}
	if available == 0 {
		return errors.New("could not load the models")
	}
	return nil
}

// findFreePort returns the first port in [start, end) nothing accepts
// connections on.
func findFreePort(host string, start, end int, log logger.ILogger) (int, error) {
	for port := start; port < end; port++ {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		conn, err := net.DialTimeout("tcp", addr, portProbeTimeout)
		if err != nil {
			return port, nil
		}
		conn.Close()
		log.Infof("Port %d already in use. Attempting next port.", port)
	}
	return 0, fmt.Errorf("could not find any available port between %d-%d", start, end)
}
