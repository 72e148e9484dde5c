package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

const (
	defaultConfigPath = "~/.config/astroreg/config.json"
	defaultParallel   = 4
)

// Config holds user-editable settings for the registration engine.
type Config struct {
	Processing   Processing         `json:"processing"`
	Logging      Logging            `json:"logging"`
	Paths        Paths              `json:"paths"`
	Registration RegistrationConfig `json:"registration"`
	Web          WebConfig          `json:"web"`
}

// Processing captures execution preferences.
type Processing struct {
	ParallelFrames int    `json:"parallel_frames"`
	TempDir        string `json:"temp_dir"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Paths configures default input/output locations.
type Paths struct {
	DefaultSequence string `json:"default_sequence"`
	DefaultOutput   string `json:"default_output"`
	DatabasePath    string `json:"database_path"`
}

// RegistrationConfig controls registration methods.
type RegistrationConfig struct {
	DefaultMethod string           `json:"default_method"`
	Layer         int              `json:"layer"`
	StopOnError   bool             `json:"stop_on_error"`
	Comet         CometConfig      `json:"comet"`
	Star          StarTrackConfig  `json:"star"`
	PSF           PSFConfig        `json:"psf"`
	Preview       PreviewConfig    `json:"preview"`
	Sequence      SequenceScanning `json:"sequence"`
}

// CometConfig tunes the moving-object registration method.
type CometConfig struct {
	Enabled      bool `json:"enabled"`
	DoubleSample bool `json:"double_sample"`
	Cumulative   bool `json:"cumulative"`
}

// StarTrackConfig tunes the brightest-star registration method.
type StarTrackConfig struct {
	Enabled   bool `json:"enabled"`
	SearchBox int  `json:"search_box"` // half-size of the ROI around the tracked source, pixels
}

// PSFConfig tunes point-source fitting.
type PSFConfig struct {
	SigmaThreshold float64 `json:"sigma_threshold"` // stddevs above background
	MinPixels      int     `json:"min_pixels"`
	MaxPixels      int     `json:"max_pixels"`
}

// PreviewConfig tunes shift preview export.
type PreviewConfig struct {
	Format string `json:"format"` // png, tiff
}

// SequenceScanning controls how frame directories are scanned.
type SequenceScanning struct {
	Extensions []string `json:"extensions"`
	WatchDirs  []string `json:"watch_dirs"`
}

// WebConfig controls the status server.
type WebConfig struct {
	Port int `json:"port"`
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("ASTROREG_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Processing: Processing{
			ParallelFrames: defaultParallel,
			TempDir:        os.TempDir(),
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: true,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DefaultSequence: ".",
			DefaultOutput:   "./output",
			DatabasePath:    filepath.Join(os.TempDir(), "astroreg.db"),
		},
		Registration: RegistrationConfig{
			DefaultMethod: "comet",
			Layer:         0,
			StopOnError:   true,
			Comet:         CometConfig{Enabled: true},
			Star:          StarTrackConfig{Enabled: true, SearchBox: 20},
			PSF:           PSFConfig{SigmaThreshold: 3.0, MinPixels: 2, MaxPixels: 1000},
			Preview:       PreviewConfig{Format: "png"},
			Sequence: SequenceScanning{
				Extensions: []string{".fit", ".fits", ".fts"},
			},
		},
		Web: WebConfig{Port: 8480},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
