package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

// AppOptions holds the command-line options.
type AppOptions struct {
	ConfigFile  string
	Host        string
	Port        int
	DebugDir    string
	SaveConfig  bool
	PredictFile string
	CheckModels bool
}

// AppRunner is what run dispatches to. The real App implements it; tests
// use a mock.
type AppRunner interface {
	ApplyOptions(opts AppOptions)
	RunPredict(path string) error
	RunCheckModels() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp(os.Stdout)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatal(err)
	}
}

func run(args []string, out io.Writer, app AppRunner) error {
	fs := flag.NewFlagSet("tmifield", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.Host, "host", "127.0.0.1", "Interface the HTTP server listens on")
	fs.IntVar(&opts.Port, "port", 0, "HTTP port (0 = first free port between startPort and endPort)")
	fs.StringVar(&opts.DebugDir, "debug-dir", "", "Write search and geometry images into this directory")
	fs.BoolVar(&opts.SaveConfig, "save-config", true, "Write the chosen port back into the config file")
	fs.StringVar(&opts.PredictFile, "predict", "", "Run one prediction request read from a JSON file and exit")
	fs.BoolVar(&opts.CheckModels, "check-models", false, "Report which models the model server serves and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "tmifield version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.PredictFile != "":
		return app.RunPredict(opts.PredictFile)
	case opts.CheckModels:
		return app.RunCheckModels()
	}

	fmt.Fprintln(out, "tmifield service starting...")
	return app.RunService()
}
