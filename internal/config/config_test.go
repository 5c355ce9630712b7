package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "16:9", cfg.Crop.DefaultRatio)
	assert.Equal(t, 0.9, cfg.Output.Quality)
	assert.Equal(t, "webp", cfg.Output.Format)
}

func TestLoadFromFileYAML(t *testing.T) {
	t.Setenv("CROPPER_TEST_KEY", "from-env")
	path := writeFile(t, "config.yaml", `
server:
  addr: ":9000"
  session_ttl: 30m
suggestion:
  backend: ollama
  model: llava
  api_key: ${CROPPER_TEST_KEY}
crop:
  default_ratio: "4:3"
output:
  format: png
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Server.SessionTTL)
	assert.Equal(t, "ollama", cfg.Suggestion.Backend)
	assert.Equal(t, "from-env", cfg.Suggestion.APIKey)
	assert.Equal(t, "4:3", cfg.Crop.DefaultRatio)
	assert.Equal(t, "png", cfg.Output.Format)

	// untouched sections keep their defaults
	assert.Equal(t, 0.9, cfg.Crop.FillRatio)
	assert.Equal(t, "catmullrom", cfg.Render.Interpolator)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFileJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{"output": {"format": "jpeg", "quality": 0.5}}`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", cfg.Output.Format)
	assert.Equal(t, 0.5, cfg.Output.Quality)
}

func TestAPIKeyFallback(t *testing.T) {
	t.Setenv(APIKeyEnv, "env-key")

	cfg, err := LoadFromFile(writeFile(t, "c.yaml", "suggestion:\n  backend: gemini\n"))
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Suggestion.APIKey)

	cfg, err = LoadFromFile(writeFile(t, "c.yaml", "suggestion:\n  api_key: explicit\n"))
	require.NoError(t, err)
	assert.Equal(t, "explicit", cfg.Suggestion.APIKey)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(APIKeyEnv, "k")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Addr, cfg.Server.Addr)
	assert.Equal(t, "k", cfg.Suggestion.APIKey)

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFromFileInvalid(t *testing.T) {
	_, err := LoadFromFile(writeFile(t, "bad.yaml", "server: [unclosed"))
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Suggestion.Backend = "saliency"
	cfg.Server.SessionTTL = 45 * time.Minute

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, cfg.SaveToFile(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "saliency", loaded.Suggestion.Backend)
	assert.Equal(t, 45*time.Minute, loaded.Server.SessionTTL)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"ratio":        func(c *Config) { c.Crop.DefaultRatio = "7:5" },
		"fill":         func(c *Config) { c.Crop.FillRatio = 1.5 },
		"min size":     func(c *Config) { c.Crop.MinSize = -1 },
		"dps":          func(c *Config) { c.Render.DevicePixelScale = 0 },
		"dps too big":  func(c *Config) { c.Render.DevicePixelScale = 100 },
		"dps nan":      func(c *Config) { c.Render.DevicePixelScale = math.NaN() },
		"interpolator": func(c *Config) { c.Render.Interpolator = "lanczos9" },
		"format":       func(c *Config) { c.Output.Format = "gif" },
		"quality":      func(c *Config) { c.Output.Quality = 1.5 },
		"quality nan":  func(c *Config) { c.Output.Quality = math.NaN() },
		"backend":      func(c *Config) { c.Suggestion.Backend = "openai" },
		"send format":  func(c *Config) { c.Suggestion.SendFormat = "webp" },
		"send quality": func(c *Config) { c.Suggestion.SendQuality = 101 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}

func TestGetConfigPath(t *testing.T) {
	assert.Equal(t, "config.yaml", filepath.Base(GetConfigPath()))
}
