package field

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
fieldOverlapPixels: 4.5
logLevel: DEBUG
collimatorPelvis: "5_355"
models:
  body: body_v2
  arms: arms_v2
search:
  seed: 42
mqtt:
  broker: tcp://localhost:1883
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 4.5, cfg.FieldOverlapPixels)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, Collimator5355, cfg.Collimator())
	assert.Equal(t, "body_v2", cfg.Models.Body)
	assert.Equal(t, int64(42), cfg.Search.Seed)
	assert.Equal(t, DefaultIterations, cfg.Search.Iterations, "unset keys keep their defaults")
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "tmifield", cfg.MQTT.PublishPrefix)
	assert.Equal(t, 5000, cfg.StartPort)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"negative overlap", "fieldOverlapPixels: -1\n"},
		{"unknown collimator", "collimatorPelvis: \"45\"\n"},
		{"inverted ports", "startPort: 6000\nendPort: 5000\n"},
		{"missing model name", "models:\n  body: \"\"\n"},
		{"zero population", "search:\n  population: 0\n"},
		{"malformed yaml", "fieldOverlapPixels: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0644))
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Port = 5003
	cfg.PostgresURL = "postgres://localhost/tmi"

	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestModelKindFor(t *testing.T) {
	cfg := DefaultConfig()

	kind, ok := cfg.ModelKindFor("body_cnn")
	assert.True(t, ok)
	assert.Equal(t, ModelBody, kind)

	kind, ok = cfg.ModelKindFor("arms_cnn")
	assert.True(t, ok)
	assert.Equal(t, ModelArms, kind)

	_, ok = cfg.ModelKindFor("legs_cnn")
	assert.False(t, ok)
}
