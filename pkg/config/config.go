// Package config loads lensim run files. A run file lists the imaging bands
// with their PSFs and the lens, light and point-source components shared by
// all bands. Logging and parallelism can be overridden from the environment
// or a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"lensim/pkg/lens"
	"lensim/pkg/logging"
)

var (
	ErrNoBands       = errors.New("config: no bands")
	ErrInvalidBand   = errors.New("config: invalid band")
	ErrMissingParam  = errors.New("config: missing parameter")
	ErrUnknownType   = errors.New("config: unknown component type")
	ErrInvalidSource = errors.New("config: invalid point source")
)

// Environment variables read by ApplyEnv.
const (
	EnvLogLevel    = "LENSIM_LOG_LEVEL"
	EnvLogFile     = "LENSIM_LOG_FILE"
	EnvDevelopment = "LENSIM_DEV"
	EnvParallelism = "LENSIM_PARALLELISM"
)

type Config struct {
	Log         LogConfig    `yaml:"log"`
	Parallelism int          `yaml:"parallelism"`
	Seed        uint64       `yaml:"seed"`
	Solver      SolverConfig `yaml:"solver"`
	// PointSourceErrorMap adds the point-source error map to the noise model.
	PointSourceErrorMap bool `yaml:"point_source_error_map"`

	Bands        []BandConfig        `yaml:"bands"`
	Lens         []Component         `yaml:"lens"`
	Source       []Component         `yaml:"source"`
	LensLight    []Component         `yaml:"lens_light"`
	PointSources []PointSourceConfig `yaml:"point_sources"`

	// dir is the directory of the run file; relative paths resolve against it.
	dir string
}

type LogConfig struct {
	Development bool   `yaml:"development"`
	Level       string `yaml:"level"`
	File        string `yaml:"file"`
}

type SolverConfig struct {
	SearchWindow float64 `yaml:"search_window"`
	NumGrid      int     `yaml:"num_grid"`
	Precision    float64 `yaml:"precision"`
	CenterX      float64 `yaml:"center_x"`
	CenterY      float64 `yaml:"center_y"`
}

type BandConfig struct {
	Name string `yaml:"name"`
	// Data is a FITS image, empty for simulation. A zero BackgroundRMS is
	// read from it.
	Data          string    `yaml:"data"`
	NumPix        int       `yaml:"num_pix"`
	DeltaPix      float64   `yaml:"delta_pix"`
	ExposureTime  float64   `yaml:"exposure_time"`
	BackgroundRMS float64   `yaml:"background_rms"`
	PSF           PSFConfig `yaml:"psf"`
	// Nil index lists select every component.
	SourceIndices    []int `yaml:"source_indices"`
	LensLightIndices []int `yaml:"lens_light_indices"`
}

type PSFConfig struct {
	// Kernel is a FITS kernel; when empty a Gaussian of FWHM arcsec is used.
	Kernel string  `yaml:"kernel"`
	FWHM   float64 `yaml:"fwhm"`
	// Star is a FITS stamp of an isolated star whose fitted FWHM replaces FWHM.
	Star          string  `yaml:"star"`
	MinRSquared   float64 `yaml:"min_r_squared"`
	Size          int     `yaml:"size"`
	RelativeError float64 `yaml:"relative_error"`
}

// Component is a typed profile with its named numeric parameters.
type Component struct {
	Type   string             `yaml:"type"`
	Params map[string]float64 `yaml:",inline"`
}

type PointSourceConfig struct {
	FixedMagnification bool `yaml:"fixed_magnification"`
	FixErrorMap        bool `yaml:"fix_error_map"`

	RA  []float64 `yaml:"ra"`
	Dec []float64 `yaml:"dec"`
	Amp []float64 `yaml:"amp"`

	SourcePosition bool    `yaml:"source_position"`
	SourceRA       float64 `yaml:"source_ra"`
	SourceDec      float64 `yaml:"source_dec"`
	SourceAmp      float64 `yaml:"source_amp"`
}

// LoadDotEnv loads the given env files, skipping those that do not exist.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("config: loading %s: %w", f, err)
		}
	}
	return nil
}

// Load reads, overrides from the environment and validates a run file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading run file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.dir = filepath.Dir(path)
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a run file without validating it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing run file: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides logging and parallelism from LENSIM_* variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		c.Log.File = v
	}
	if v := os.Getenv(EnvDevelopment); v != "" {
		dev, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvDevelopment, err)
		}
		c.Log.Development = dev
	}
	if v := os.Getenv(EnvParallelism); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvParallelism, err)
		}
		c.Parallelism = n
	}
	return nil
}

// Validate checks the bands and component lists.
func (c *Config) Validate() error {
	if len(c.Bands) == 0 {
		return ErrNoBands
	}
	for i, b := range c.Bands {
		if err := b.validate(); err != nil {
			return fmt.Errorf("band %d (%s): %w", i, b.Name, err)
		}
		for _, idx := range b.SourceIndices {
			if idx < 0 || idx >= len(c.Source) {
				return fmt.Errorf("%w: band %d source index %d out of range", ErrInvalidBand, i, idx)
			}
		}
		for _, idx := range b.LensLightIndices {
			if idx < 0 || idx >= len(c.LensLight) {
				return fmt.Errorf("%w: band %d lens light index %d out of range", ErrInvalidBand, i, idx)
			}
		}
	}
	if _, err := c.LensParams(); err != nil {
		return err
	}
	if _, err := lightParams(c.Source); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if _, err := lightParams(c.LensLight); err != nil {
		return fmt.Errorf("lens light: %w", err)
	}
	for i, ps := range c.PointSources {
		if err := ps.validate(); err != nil {
			return fmt.Errorf("point source %d: %w", i, err)
		}
	}
	return nil
}

func (b BandConfig) validate() error {
	switch {
	case b.NumPix <= 0:
		return fmt.Errorf("%w: num_pix must be positive", ErrInvalidBand)
	case b.DeltaPix <= 0:
		return fmt.Errorf("%w: delta_pix must be positive", ErrInvalidBand)
	case b.ExposureTime <= 0:
		return fmt.Errorf("%w: exposure_time must be positive", ErrInvalidBand)
	case b.BackgroundRMS < 0:
		return fmt.Errorf("%w: background_rms must not be negative", ErrInvalidBand)
	case b.BackgroundRMS == 0 && b.Data == "":
		return fmt.Errorf("%w: background_rms is required without a data file", ErrInvalidBand)
	case b.PSF.Kernel == "" && b.PSF.Size <= 0:
		return fmt.Errorf("%w: psf needs a kernel file or a kernel size", ErrInvalidBand)
	case b.PSF.Kernel == "" && b.PSF.Star == "" && b.PSF.FWHM <= 0:
		return fmt.Errorf("%w: psf needs a kernel file, a star stamp or fwhm", ErrInvalidBand)
	}
	return nil
}

func (p PointSourceConfig) validate() error {
	if p.SourcePosition {
		return nil
	}
	if p.RA == nil || p.Dec == nil {
		return fmt.Errorf("%w: ra and dec are required without source_position", ErrInvalidSource)
	}
	if len(p.RA) != len(p.Dec) || (p.Amp != nil && len(p.Amp) != len(p.RA)) {
		return fmt.Errorf("%w: ra, dec and amp lengths differ", ErrInvalidSource)
	}
	return nil
}

// LoggingConfig converts the log section.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Development: c.Log.Development,
		Level:       c.Log.Level,
		File:        c.resolve(c.Log.File),
	}
}

// SolverOptions converts the solver section, leaving zero values to the defaults.
func (c *Config) SolverOptions() lens.SolverOptions {
	return lens.SolverOptions{
		SearchWindow: c.Solver.SearchWindow,
		NumGrid:      c.Solver.NumGrid,
		Precision:    c.Solver.Precision,
		CenterX:      c.Solver.CenterX,
		CenterY:      c.Solver.CenterY,
	}
}

// resolve makes a relative path relative to the run file.
func (c *Config) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.dir == "" {
		return path
	}
	return filepath.Join(c.dir, path)
}
