package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/menta2k/aspect-cropper/pkg/render"
	"github.com/menta2k/aspect-cropper/pkg/types"
)

// APIKeyEnv is consulted when suggestion.api_key is empty
const APIKeyEnv = "GEMINI_API_KEY"

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	Suggestion SuggestionConfig `yaml:"suggestion" json:"suggestion"`
	Crop       CropConfig       `yaml:"crop" json:"crop"`
	Render     RenderConfig     `yaml:"render" json:"render"`
	Output     OutputConfig     `yaml:"output" json:"output"`
}

// ServerConfig holds configuration for the HTTP API
type ServerConfig struct {
	Addr       string        `yaml:"addr" json:"addr"`
	BodyLimit  int           `yaml:"body_limit" json:"body_limit"`
	SessionTTL time.Duration `yaml:"session_ttl" json:"session_ttl"`
}

// SuggestionConfig selects and configures the smart crop backend
type SuggestionConfig struct {
	// Backend is gemini, ollama, llamacpp, saliency or none
	Backend     string        `yaml:"backend" json:"backend"`
	Model       string        `yaml:"model" json:"model"`
	URL         string        `yaml:"url" json:"url"`
	APIKey      string        `yaml:"api_key" json:"api_key"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	Prompt      string        `yaml:"prompt" json:"prompt"`
	SendFormat  string        `yaml:"send_format" json:"send_format"`
	SendMaxDim  int           `yaml:"send_max_dim" json:"send_max_dim"`
	SendQuality int           `yaml:"send_quality" json:"send_quality"`
}

// CropConfig holds the geometry defaults
type CropConfig struct {
	DefaultRatio string  `yaml:"default_ratio" json:"default_ratio"`
	FillRatio    float64 `yaml:"fill_ratio" json:"fill_ratio"`
	MinSize      float64 `yaml:"min_size" json:"min_size"`
}

// RenderConfig holds configuration for the renderer
type RenderConfig struct {
	DevicePixelScale float64 `yaml:"device_pixel_scale" json:"device_pixel_scale"`
	Interpolator     string  `yaml:"interpolator" json:"interpolator"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	Format    string   `yaml:"format" json:"format"`
	Quality   float64  `yaml:"quality" json:"quality"`
	OutputDir string   `yaml:"output_dir" json:"output_dir"`
	Clipboard []string `yaml:"clipboard_command" json:"clipboard_command"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:       "127.0.0.1:8040",
			BodyLimit:  int(50 << 20),
			SessionTTL: 2 * time.Hour,
		},
		Suggestion: SuggestionConfig{
			Backend:     "gemini",
			Timeout:     2 * time.Minute,
			SendFormat:  "jpeg",
			SendMaxDim:  1024,
			SendQuality: 85,
		},
		Crop: CropConfig{
			DefaultRatio: types.DefaultRatio.Label,
			FillRatio:    0.9,
			MinSize:      types.MinSizePx,
		},
		Render: RenderConfig{
			DevicePixelScale: 1,
			Interpolator:     "catmullrom",
		},
		Output: OutputConfig{
			Format:    string(types.FormatWebP),
			Quality:   types.DefaultQuality,
			OutputDir: "./output",
		},
	}
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the
// defaults. ${VAR} references are expanded from the environment.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	// JSON is valid YAML, so one decoder serves both
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.ApplyEnv()

	return config, nil
}

// Load reads filename when it exists and falls back to the defaults
// otherwise. An empty filename means GetConfigPath.
func Load(filename string) (*Config, error) {
	if filename == "" {
		filename = GetConfigPath()
	}
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		config := Default()
		config.ApplyEnv()
		return config, nil
	}
	return LoadFromFile(filename)
}

// ApplyEnv fills the API key from the environment when unset
func (c *Config) ApplyEnv() {
	if c.Suggestion.APIKey == "" {
		c.Suggestion.APIKey = os.Getenv(APIKeyEnv)
	}
}

// SaveToFile saves configuration as YAML
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// the file may hold an API key
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := types.ParseAspectRatio(c.Crop.DefaultRatio); err != nil {
		return fmt.Errorf("crop.default_ratio: %w", err)
	}

	if c.Crop.FillRatio <= 0 || c.Crop.FillRatio > 1 {
		return fmt.Errorf("crop.fill_ratio must be in (0, 1]")
	}

	if c.Crop.MinSize < 0 {
		return fmt.Errorf("crop.min_size must not be negative")
	}

	if !(c.Render.DevicePixelScale > 0) || render.ValidateScale(c.Render.DevicePixelScale) != nil {
		return fmt.Errorf("render.device_pixel_scale must be in (0, %v]", render.MaxDevicePixelScale)
	}

	if _, err := render.ParseInterpolator(c.Render.Interpolator); err != nil {
		return fmt.Errorf("render.interpolator: %w", err)
	}

	if _, err := types.ParseFormat(c.Output.Format); err != nil {
		return fmt.Errorf("output.format: %w", err)
	}

	if !(c.Output.Quality >= types.MinQuality && c.Output.Quality <= types.MaxQuality) {
		return fmt.Errorf("output.quality must be between %.1f and %.1f", types.MinQuality, types.MaxQuality)
	}

	switch strings.ToLower(c.Suggestion.Backend) {
	case "", "none", "gemini", "ollama", "llamacpp", "saliency":
	default:
		return fmt.Errorf("suggestion.backend %q is not one of gemini, ollama, llamacpp, saliency, none", c.Suggestion.Backend)
	}

	switch strings.ToLower(c.Suggestion.SendFormat) {
	case "", "jpeg", "jpg", "png":
	default:
		return fmt.Errorf("suggestion.send_format must be jpeg or png")
	}

	if c.Suggestion.SendQuality < 0 || c.Suggestion.SendQuality > 100 {
		return fmt.Errorf("suggestion.send_quality must be between 1 and 100")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "aspect-cropper", "config.yaml")
}
