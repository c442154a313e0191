// Package config loads cldispatch settings.
//
// Values come from, in increasing precedence: Default, a YAML file (Load),
// CLDISPATCH_* environment variables (LoadFromEnv) and command-line flags
// applied by the caller.
//
// Example file:
//
//	kernel:
//	  path: kernels/add.cl
//	  entry_point: ADD
//	device:
//	  type: gpu
//	input:
//	  a: [1, 2, 3]
//	  b: [4, 5, 6]
//	history:
//	  enabled: true
//	  dir: ./data/history
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/cldispatch/pkg/gpu/opencl"
	"github.com/orneryd/cldispatch/pkg/kernelsrc"
)

// Environment variables read by LoadFromEnv.
const (
	EnvKernelPath = "CLDISPATCH_KERNEL_PATH"
	EnvEntryPoint = "CLDISPATCH_ENTRY_POINT"
	EnvDeviceType = "CLDISPATCH_DEVICE_TYPE"
	EnvHistoryDir = "CLDISPATCH_HISTORY_DIR"
	EnvVerbose    = "CLDISPATCH_VERBOSE"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the full cldispatch configuration.
type Config struct {
	Kernel  KernelConfig  `yaml:"kernel"`
	Device  DeviceConfig  `yaml:"device"`
	Input   InputConfig   `yaml:"input"`
	Verify  VerifyConfig  `yaml:"verify"`
	History HistoryConfig `yaml:"history"`
	Log     LogConfig     `yaml:"log"`
}

// KernelConfig selects the kernel program.
type KernelConfig struct {
	// Path to an OpenCL C source file. Empty selects the built-in ADD kernel.
	Path         string `yaml:"path"`
	EntryPoint   string `yaml:"entry_point"`
	BuildOptions string `yaml:"build_options"`
}

// DeviceConfig selects the platform and devices.
type DeviceConfig struct {
	// PlatformIndex must be 0; the first enumerated platform is always used.
	PlatformIndex int    `yaml:"platform_index"`
	Type          string `yaml:"type"`
}

// InputConfig holds the two input vectors.
type InputConfig struct {
	A []float32 `yaml:"a"`
	B []float32 `yaml:"b"`
}

// VerifyConfig controls host-side checking of results.
type VerifyConfig struct {
	Enabled      bool    `yaml:"enabled"`
	AbsTolerance float32 `yaml:"abs_tolerance"`
}

// HistoryConfig controls the run ledger.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// LogConfig controls diagnostics output.
type LogConfig struct {
	Verbose bool `yaml:"verbose"`
}

// Default returns the built-in configuration: the ADD kernel on every
// device of the first platform over the sample vectors.
func Default() *Config {
	return &Config{
		Kernel: KernelConfig{EntryPoint: kernelsrc.DefaultEntryPoint},
		Device: DeviceConfig{Type: "all"},
		Input: InputConfig{
			A: []float32{0.1, 0.25, 0.1, 3.1, 1.5},
			B: []float32{2.0, 0.4, -0.1, 0.2, 0.4},
		},
		Verify:  VerifyConfig{Enabled: true, AbsTolerance: 1e-6},
		History: HistoryConfig{Dir: "./data/history"},
	}
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv applies CLDISPATCH_* environment variables to cfg.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv(EnvKernelPath); v != "" {
		cfg.Kernel.Path = v
	}
	if v := os.Getenv(EnvEntryPoint); v != "" {
		cfg.Kernel.EntryPoint = v
	}
	if v := os.Getenv(EnvDeviceType); v != "" {
		cfg.Device.Type = v
	}
	if v := os.Getenv(EnvHistoryDir); v != "" {
		cfg.History.Dir = v
		cfg.History.Enabled = true
	}
	if v := os.Getenv(EnvVerbose); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Log.Verbose = b
		}
	}
}

// Validate checks cfg for values the pipeline cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.Device.PlatformIndex != 0 {
		problems = append(problems, fmt.Sprintf("device.platform_index must be 0, got %d", c.Device.PlatformIndex))
	}
	if _, err := opencl.ParseDeviceType(c.Device.Type); err != nil {
		problems = append(problems, err.Error())
	}
	if strings.TrimSpace(c.Kernel.EntryPoint) == "" {
		problems = append(problems, "kernel.entry_point is empty")
	}
	if len(c.Input.A) == 0 {
		problems = append(problems, "input.a is empty")
	}
	if len(c.Input.A) != len(c.Input.B) {
		problems = append(problems, fmt.Sprintf("input.a has %d elements, input.b has %d", len(c.Input.A), len(c.Input.B)))
	}
	if c.Verify.AbsTolerance < 0 {
		problems = append(problems, "verify.abs_tolerance is negative")
	}
	if c.History.Enabled && c.History.Dir == "" {
		problems = append(problems, "history.dir is empty")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// DeviceType returns the parsed device filter. Call Validate first.
func (c *Config) DeviceType() opencl.DeviceType {
	t, err := opencl.ParseDeviceType(c.Device.Type)
	if err != nil {
		return opencl.DeviceTypeAll
	}
	return t
}
