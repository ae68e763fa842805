package field

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration, loaded once at startup and passed
// explicitly to every component.
type Config struct {
	FieldOverlapPixels float64 `yaml:"fieldOverlapPixels"`
	LogLevel           string  `yaml:"logLevel"`
	// CollimatorPelvis selects the pelvis collimator convention: "90" or "5_355".
	CollimatorPelvis string `yaml:"collimatorPelvis"`
	WidthResize      int    `yaml:"widthResize"`

	Port      int `yaml:"port,omitempty"`
	StartPort int `yaml:"startPort"`
	EndPort   int `yaml:"endPort"`

	Models      ModelsConfig      `yaml:"models"`
	ModelServer ModelServerConfig `yaml:"modelServer"`
	Search      SearchConfig      `yaml:"search"`
	MQTT        MQTTConfig        `yaml:"mqtt,omitempty"`

	// StructureDir holds pre-extracted ROI masks (one directory per ROI).
	// Empty means "<dicom_path>/structures".
	StructureDir string `yaml:"structureDir,omitempty"`
	PostgresURL  string `yaml:"postgresUrl,omitempty"`
	DebugDir     string `yaml:"debugDir,omitempty"`
	SentryDSN    string `yaml:"sentryDsn,omitempty"`
}

// ModelsConfig names the two regression models.
type ModelsConfig struct {
	Body string `yaml:"body"`
	Arms string `yaml:"arms"`
}

// ModelServerConfig points at the inference server.
type ModelServerConfig struct {
	URL        string `yaml:"url"`
	TimeoutSec int    `yaml:"timeoutSec"`
	MaxRetries int    `yaml:"maxRetries"`
}

// SearchConfig tunes the landmark search.
type SearchConfig struct {
	Population int `yaml:"population"`
	Iterations int `yaml:"iterations"`
	// Seed of the stochastic search. Zero means seed from the clock.
	Seed int64 `yaml:"seed"`
}

// MQTTConfig configures the optional event publisher.
type MQTTConfig struct {
	Broker        string `yaml:"broker"`
	ClientID      string `yaml:"clientId,omitempty"`
	Username      string `yaml:"username,omitempty"`
	Password      string `yaml:"password,omitempty"`
	PublishPrefix string `yaml:"publishPrefix,omitempty"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		FieldOverlapPixels: 10,
		LogLevel:           "INFO",
		CollimatorPelvis:   string(Collimator90),
		WidthResize:        DefaultWidthResize,
		StartPort:          5000,
		EndPort:            5100,
		Models: ModelsConfig{
			Body: "body_cnn",
			Arms: "arms_cnn",
		},
		ModelServer: ModelServerConfig{
			URL:        "http://localhost:8501",
			TimeoutSec: 30,
			MaxRetries: 3,
		},
		Search: SearchConfig{
			Population: DefaultPopulation,
			Iterations: DefaultIterations,
		},
		MQTT: MQTTConfig{
			PublishPrefix: "tmifield",
		},
	}
}

// LoadConfig reads a YAML config on top of the defaults. A missing file is
// not an error: the defaults are returned.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.FieldOverlapPixels < 0 {
		return fmt.Errorf("fieldOverlapPixels must be >= 0, got %v", c.FieldOverlapPixels)
	}
	if _, err := ParseCollimator(c.CollimatorPelvis); err != nil {
		return err
	}
	if c.WidthResize <= 0 {
		return fmt.Errorf("widthResize must be positive, got %d", c.WidthResize)
	}
	if c.StartPort <= 0 || c.EndPort < c.StartPort {
		return fmt.Errorf("invalid port range %d-%d", c.StartPort, c.EndPort)
	}
	if c.Models.Body == "" || c.Models.Arms == "" {
		return fmt.Errorf("models.body and models.arms are required")
	}
	if c.Search.Population <= 0 || c.Search.Iterations <= 0 {
		return fmt.Errorf("search.population and search.iterations must be positive")
	}
	return nil
}

// Collimator returns the parsed pelvis collimator convention.
func (c *Config) Collimator() CollimatorConvention {
	conv, err := ParseCollimator(c.CollimatorPelvis)
	if err != nil {
		return Collimator90
	}
	return conv
}

// ModelKindFor maps a request model name to its kind.
func (c *Config) ModelKindFor(modelName string) (ModelKind, bool) {
	switch modelName {
	case c.Models.Body:
		return ModelBody, true
	case c.Models.Arms:
		return ModelArms, true
	}
	return 0, false
}

// SaveConfig writes the configuration back to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
