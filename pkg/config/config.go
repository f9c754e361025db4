// Package config provides the run configuration for hesxrd.
// It handles loading configuration from YAML files and provides default values.
// Beamline geometry lives in the separate experiment file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"hesxrd/pkg/projection"
	"hesxrd/pkg/rod"
	"hesxrd/pkg/stack"
	"hesxrd/pkg/visualization"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the run configuration loaded from YAML
type Config struct {
	// Rod extraction parameters
	Extraction struct {
		// Width is the number of columns summed around the path, 0 for the region default
		Width int `yaml:"width"`

		// Step is the number of path rows per rocking curve
		Step int `yaml:"step"`

		// FailurePolicy is "skip" or "abort"
		FailurePolicy string `yaml:"failurePolicy"`
	} `yaml:"extraction"`

	// Projection parameters
	Projection struct {
		// Resolution is the number of bins per reciprocal lattice unit
		Resolution int `yaml:"resolution"`

		// AzimuthalStep is the sample rotation between consecutive images in degrees
		AzimuthalStep float64 `yaml:"azimuthalStep"`

		// FirstImage is the 1-based number of the first image within the scan
		FirstImage int `yaml:"firstImage"`

		// L selects a single projection
		L float64 `yaml:"l"`

		// MinL, MaxL and Step select a series of projections when Step > 0
		MinL float64 `yaml:"minL"`
		MaxL float64 `yaml:"maxL"`
		Step float64 `yaml:"step"`

		// IntegrationInterval sums rows over an L window, 0 disables integration
		IntegrationInterval float64 `yaml:"integrationInterval"`
	} `yaml:"projection"`

	// Orientation is applied to every frame before reduction
	Orientation stack.Orientation `yaml:"orientation"`

	// Source selects where frames are read from
	Source struct {
		// Driver is "dir" or "s3"
		Driver string `yaml:"driver"`

		Dir string `yaml:"dir"`

		Bucket    string `yaml:"bucket"`
		Prefix    string `yaml:"prefix"`
		Region    string `yaml:"region"`
		Endpoint  string `yaml:"endpoint"`
		PathStyle bool   `yaml:"pathStyle"`
	} `yaml:"source"`

	// Storage configures the results archive
	Storage struct {
		// Enabled turns archiving on
		Enabled bool `yaml:"enabled"`

		// Driver is "sqlite" or "postgres"
		Driver string `yaml:"driver"`

		DSN string `yaml:"dsn"`
	} `yaml:"storage"`

	// Output parameters
	Output struct {
		// Dir receives profiles, images and metrics
		Dir string `yaml:"dir"`

		// Format is the image format: png, tiff or jpeg
		Format string `yaml:"format"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// MetricsFile, when set, receives the run counters in Prometheus text format
		MetricsFile string `yaml:"metricsFile"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Extraction.Width = 0
	cfg.Extraction.Step = 10
	cfg.Extraction.FailurePolicy = "skip"

	cfg.Projection.Resolution = projection.DefaultResolution
	cfg.Projection.AzimuthalStep = 0.1
	cfg.Projection.FirstImage = 1

	cfg.Source.Driver = "dir"
	cfg.Source.Dir = "images"
	cfg.Source.Region = "us-east-1"

	cfg.Storage.Enabled = false
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.DSN = "hesxrd.db"

	cfg.Output.Dir = "output"
	cfg.Output.Format = "png"
	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks values that can be judged without the experiment file.
// L ranges are checked against the detector coverage at extraction time.
func (c *Config) Validate() error {
	if c.Extraction.Width < 0 || c.Extraction.Step < 0 {
		return invalid("extraction width and step must not be negative")
	}
	if _, err := rod.ParseFailurePolicy(c.Extraction.FailurePolicy); err != nil {
		return invalid("%v", err)
	}

	p := c.Projection
	if p.Resolution <= 0 {
		return invalid("projection resolution must be positive, got %d", p.Resolution)
	}
	if p.AzimuthalStep <= 0 {
		return invalid("azimuthal step must be positive, got %v", p.AzimuthalStep)
	}
	if p.FirstImage < 1 {
		return invalid("first image must be at least 1, got %d", p.FirstImage)
	}
	if p.Step < 0 || p.IntegrationInterval < 0 {
		return invalid("projection step and integration interval must not be negative")
	}
	if p.Step > 0 && p.MaxL < p.MinL {
		return invalid("projection maxL %v below minL %v", p.MaxL, p.MinL)
	}

	if c.Orientation.Rotate%90 != 0 {
		return invalid("orientation rotate must be a multiple of 90, got %d", c.Orientation.Rotate)
	}

	switch c.Source.Driver {
	case "dir":
	case "s3":
		if c.Source.Bucket == "" {
			return invalid("s3 source needs a bucket")
		}
	default:
		return invalid("unknown source driver %q", c.Source.Driver)
	}

	if c.Storage.Enabled && c.Storage.Driver != "sqlite" && c.Storage.Driver != "postgres" {
		return invalid("unknown storage driver %q", c.Storage.Driver)
	}

	if _, err := visualization.ParseFormat(c.Output.Format); err != nil {
		return invalid("%v", err)
	}
	return nil
}

// RodParams returns the rod extractor parameters.
func (c *Config) RodParams() (rod.Params, error) {
	policy, err := rod.ParseFailurePolicy(c.Extraction.FailurePolicy)
	if err != nil {
		return rod.Params{}, err
	}
	return rod.Params{Width: c.Extraction.Width, Step: c.Extraction.Step, FailurePolicy: policy}, nil
}

// ProjectionParams returns the projection extractor parameters.
func (c *Config) ProjectionParams() projection.Params {
	return projection.Params{
		Resolution:    c.Projection.Resolution,
		AzimuthalStep: c.Projection.AzimuthalStep,
		FirstImage:    c.Projection.FirstImage,
	}
}

// S3 returns the S3 source settings.
func (c *Config) S3() stack.S3Config {
	return stack.S3Config{
		Bucket:    c.Source.Bucket,
		Prefix:    c.Source.Prefix,
		Region:    c.Source.Region,
		Endpoint:  c.Source.Endpoint,
		PathStyle: c.Source.PathStyle,
	}
}

// ImageFormat returns the validated output format.
func (c *Config) ImageFormat() visualization.Format {
	f, err := visualization.ParseFormat(c.Output.Format)
	if err != nil {
		return visualization.PNG
	}
	return f
}
