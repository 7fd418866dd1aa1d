// Package config handles kmcuda CLI configuration via YAML files and
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Command-line flags (--clusters, --device-mask, etc.)
//  2. Environment variables (KMCUDA_*)
//  3. Config file (kmcuda.yaml)
//  4. Built-in defaults
//
// Environment variables (all use the KMCUDA_ prefix):
//   - KMCUDA_BACKEND="auto", "cpu" or "cuda"
//   - KMCUDA_DEVICE_MASK=1
//   - KMCUDA_INIT="kmeans++" or "random"
//   - KMCUDA_TOLERANCE=0.01
//   - KMCUDA_YINYANG_T=0.1
//   - KMCUDA_SEED=42
//   - KMCUDA_VERBOSITY=0
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds a clustering job's settings.
type Config struct {
	// Backend selects the device backend: auto, cpu or cuda.
	Backend string `yaml:"backend"`

	// DeviceMask requests device i via bit i.
	DeviceMask uint32 `yaml:"device_mask"`

	// Emulated device count for the cpu backend.
	CPUDevices int `yaml:"cpu_devices"`

	Clusters  uint32  `yaml:"clusters"`
	Features  uint16  `yaml:"features"`
	Init      string  `yaml:"init"` // "random" or "kmeans++"
	Tolerance float32 `yaml:"tolerance"`
	YinyangT  float32 `yaml:"yinyang_t"`
	Seed      uint32  `yaml:"seed"`
	Verbosity int32   `yaml:"verbosity"`

	// Input is the samples file: CSV (one row per sample) or raw
	// little-endian float32 (requires Features).
	Input string `yaml:"input"`

	CentroidsOut   string `yaml:"centroids_out"`
	AssignmentsOut string `yaml:"assignments_out"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Backend:        "auto",
		DeviceMask:     0b1,
		CPUDevices:     1,
		Clusters:       16,
		Init:           "kmeans++",
		Tolerance:      0.01,
		YinyangT:       0.1,
		Seed:           0,
		Verbosity:      0,
		CentroidsOut:   "centroids.csv",
		AssignmentsOut: "assignments.csv",
	}
}

// Load reads a YAML config file over the defaults, then applies environment
// overrides. An empty path skips the file and returns defaults plus env.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("KMCUDA_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("KMCUDA_DEVICE_MASK"); v != "" {
		if n, err := strconv.ParseUint(v, 0, 32); err == nil {
			cfg.DeviceMask = uint32(n)
		}
	}
	if v := os.Getenv("KMCUDA_INIT"); v != "" {
		cfg.Init = v
	}
	if v := os.Getenv("KMCUDA_TOLERANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.Tolerance = float32(f)
		}
	}
	if v := os.Getenv("KMCUDA_YINYANG_T"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.YinyangT = float32(f)
		}
	}
	if v := os.Getenv("KMCUDA_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 0, 32); err == nil {
			cfg.Seed = uint32(n)
		}
	}
	if v := os.Getenv("KMCUDA_VERBOSITY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			cfg.Verbosity = int32(n)
		}
	}
}

// Validate rejects settings the engine would refuse anyway, with clearer
// messages than the engine's sentinels.
func (c *Config) Validate() error {
	switch c.Backend {
	case "auto", "cpu", "cuda":
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	switch c.Init {
	case "random", "kmeans++":
	default:
		return fmt.Errorf("config: unknown init method %q", c.Init)
	}
	if c.DeviceMask == 0 {
		return fmt.Errorf("config: device_mask must select at least one device")
	}
	if c.Tolerance < 0 || c.Tolerance > 1 {
		return fmt.Errorf("config: tolerance %v outside [0,1]", c.Tolerance)
	}
	if c.YinyangT < 0 || c.YinyangT > 0.5 {
		return fmt.Errorf("config: yinyang_t %v outside [0,0.5]", c.YinyangT)
	}
	return nil
}
