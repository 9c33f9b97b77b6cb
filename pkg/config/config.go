// Package config provides configuration loading and management for volumerender.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Device parameters for the in-process compute accelerator
	Device struct {
		// Workers is the number of goroutines executing thread groups
		Workers int `yaml:"workers"`

		// ExecutionWidth is the SIMD width threads are scheduled in
		ExecutionWidth int `yaml:"executionWidth"`

		// MaxThreadsPerGroup caps the thread-group size (width * height)
		MaxThreadsPerGroup int `yaml:"maxThreadsPerGroup"`

		// Disabled forces the CPU preview fallback
		Disabled bool `yaml:"disabled"`
	} `yaml:"device"`

	// Rendering parameters used to seed a new engine session
	Rendering struct {
		// Method is the compositing method: dvr, mip, minip or average
		Method string `yaml:"method"`

		// Quality is the nominal number of steps across the volume diagonal
		Quality int `yaml:"quality"`

		// EarlyTermination is the accumulated opacity that stops a ray
		EarlyTermination float64 `yaml:"earlyTermination"`

		// Jitter is the ray start offset as a fraction of one step
		Jitter float64 `yaml:"jitter"`

		// Lighting enables gradient-based shading
		Lighting bool `yaml:"lighting"`

		// Adaptive enables gradient-driven step size
		Adaptive bool `yaml:"adaptive"`

		// AdaptiveThreshold is the gradient magnitude treated as "high"
		AdaptiveThreshold float64 `yaml:"adaptiveThreshold"`

		// Background is the RGBA clear colour behind the volume
		Background [4]float64 `yaml:"background"`
	} `yaml:"rendering"`

	// Transfer function parameters
	Transfer struct {
		// Resolution is the number of lookup-table samples
		Resolution int `yaml:"resolution"`

		// Preset is the transfer-function preset applied to channel 0
		Preset string `yaml:"preset"`

		// PresetFile is an optional YAML file with additional presets
		PresetFile string `yaml:"presetFile"`
	} `yaml:"transfer"`

	// Dispatch optimizer parameters
	Dispatch struct {
		// Shapes are the common thread-group shapes benchmarked alongside the
		// device default, as [width, height] pairs
		Shapes [][2]int `yaml:"shapes"`
	} `yaml:"dispatch"`

	// Output parameters
	Output struct {
		// Verbose controls progress output of the CLI
		Verbose bool `yaml:"verbose"`

		// LogLevel is the slog level: debug, info, warn or error
		LogLevel string `yaml:"logLevel"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default device parameters
	cfg.Device.Workers = runtime.NumCPU() // Use all available cores by default
	cfg.Device.ExecutionWidth = 32
	cfg.Device.MaxThreadsPerGroup = 256

	// Set default rendering parameters
	cfg.Rendering.Method = "dvr"
	cfg.Rendering.Quality = 256
	cfg.Rendering.EarlyTermination = 0.95
	cfg.Rendering.Jitter = 0.5
	cfg.Rendering.Lighting = true
	cfg.Rendering.Adaptive = false
	cfg.Rendering.AdaptiveThreshold = 0.1
	cfg.Rendering.Background = [4]float64{0, 0, 0, 0}

	// Set default transfer parameters
	cfg.Transfer.Resolution = 1024
	cfg.Transfer.Preset = "ct-soft-tissue"

	// Set default dispatch candidates
	cfg.Dispatch.Shapes = [][2]int{{8, 8}, {16, 8}, {16, 16}, {32, 4}}

	// Set default output parameters
	cfg.Output.Verbose = true
	cfg.Output.LogLevel = "info"

	return cfg
}

// Validate checks the configuration for values the engine cannot use.
func (c *Config) Validate() error {
	if c.Device.Workers < 0 {
		return fmt.Errorf("device.workers must not be negative, got %d", c.Device.Workers)
	}
	if c.Device.MaxThreadsPerGroup < 0 || c.Device.ExecutionWidth < 0 {
		return fmt.Errorf("device limits must not be negative")
	}
	if c.Rendering.Quality < 0 {
		return fmt.Errorf("rendering.quality must not be negative, got %d", c.Rendering.Quality)
	}
	if c.Transfer.Resolution < 0 {
		return fmt.Errorf("transfer.resolution must not be negative, got %d", c.Transfer.Resolution)
	}
	for i, s := range c.Dispatch.Shapes {
		if s[0] <= 0 || s[1] <= 0 {
			return fmt.Errorf("dispatch.shapes[%d] must be positive, got %v", i, s)
		}
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
