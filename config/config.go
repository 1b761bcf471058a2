// Package config loads the server configuration from an optional YAML file.
// Command line flags are applied on top by the caller before Validate.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/shaderexec/runner"
	"github.com/jonwraymond/shaderexec/shader"
)

// ErrConfiguration is returned for an invalid configuration.
var ErrConfiguration = errors.New("config: invalid configuration")

// Config is the complete server configuration.
type Config struct {
	// WorkDir holds per-request scratch directories. Required.
	WorkDir string `yaml:"work_dir"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// LogFormat is text or json. Logs always go to stderr.
	LogFormat string `yaml:"log_format"`

	// HTTPAddr enables the HTTP API when set, for example "127.0.0.1:8080".
	HTTPAddr string `yaml:"http_addr"`

	// TargetEnv is the default Vulkan target environment.
	TargetEnv string `yaml:"target_env"`

	Compiler CompilerConfig `yaml:"compiler"`
	Runner   RunnerConfig   `yaml:"runner"`
	Display  DisplayConfig  `yaml:"display"`
	Limits   LimitsConfig   `yaml:"limits"`
}

// CompilerConfig configures shader compilation.
type CompilerConfig struct {
	GlslcPath string        `yaml:"glslc_path"`
	Timeout   time.Duration `yaml:"timeout"`

	// WGSL enables the in-process WGSL compiler.
	WGSL bool `yaml:"wgsl"`
}

// RunnerConfig configures test execution.
type RunnerConfig struct {
	VkrunnerPath string `yaml:"vkrunner_path"`

	// Timeout is the default execution timeout; MaxTimeout caps the
	// timeout a request may ask for.
	Timeout    time.Duration `yaml:"timeout"`
	MaxTimeout time.Duration `yaml:"max_timeout"`

	// ICDFilenames selects the Vulkan driver.
	ICDFilenames string `yaml:"icd_filenames"`

	// RuntimeDir is exported as XDG_RUNTIME_DIR.
	RuntimeDir string `yaml:"runtime_dir"`

	// Threads limits rasterizer threads per run. Zero leaves the driver
	// default.
	Threads int `yaml:"threads"`

	// Env holds extra variables for runner processes.
	Env map[string]string `yaml:"env"`

	// ScreenshotCommand captures the display after a run; "{output}" is
	// replaced by the target file.
	ScreenshotCommand []string      `yaml:"screenshot_command"`
	CaptureTimeout    time.Duration `yaml:"capture_timeout"`

	// ImageMaxEdge bounds inline image previews.
	ImageMaxEdge int `yaml:"image_max_edge"`
}

// DisplayConfig configures the virtual display. An empty Display runs
// headless.
type DisplayConfig struct {
	Display      string        `yaml:"display"`
	StartCommand []string      `yaml:"start_command"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

// LimitsConfig bounds resource use.
type LimitsConfig struct {
	// MaxConcurrent bounds requests in flight. Zero derives it from the
	// CPU count less ReservedCores.
	MaxConcurrent int `yaml:"max_concurrent"`
	ReservedCores int `yaml:"reserved_cores"`

	// QueueTimeout is how long a request waits for a slot.
	QueueTimeout time.Duration `yaml:"queue_timeout"`

	// MaxBufferBytes caps buffer sizes and data extents.
	MaxBufferBytes int `yaml:"max_buffer_bytes"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		TargetEnv: string(shader.TargetVulkan14),
		Compiler: CompilerConfig{
			GlslcPath: "glslc",
			Timeout:   30 * time.Second,
			WGSL:      true,
		},
		Runner: RunnerConfig{
			VkrunnerPath:   "vkrunner",
			Timeout:        30 * time.Second,
			MaxTimeout:     120 * time.Second,
			ICDFilenames:   runner.DefaultICDFilenames,
			CaptureTimeout: 10 * time.Second,
			ImageMaxEdge:   512,
		},
		Display: DisplayConfig{
			Display:      ":99",
			StartCommand: []string{"Xvfb", ":99", "-screen", "0", "1024x768x24", "-nolisten", "tcp"},
			ReadyTimeout: 10 * time.Second,
		},
		Limits: LimitsConfig{
			ReservedCores:  1,
			QueueTimeout:   10 * time.Second,
			MaxBufferBytes: 64 << 20,
		},
	}
}

// Load returns Default overlaid with the YAML file at path. An empty path
// returns Default. Unknown keys are rejected. The result is not validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("%w: read %s: %v", ErrConfiguration, path, err)
	}
	if err := cfg.decode(data); err != nil {
		return cfg, fmt.Errorf("%w: %s: %v", ErrConfiguration, path, err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks required fields and ranges. Returns ErrConfiguration
// listing every problem.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.WorkDir) == "" {
		problems = append(problems, "work_dir is required")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		problems = append(problems, fmt.Sprintf("log_format %q must be text or json", c.LogFormat))
	}
	if !shader.TargetEnv(c.TargetEnv).IsValid() {
		problems = append(problems, fmt.Sprintf("target_env %q is unknown", c.TargetEnv))
	}
	if c.Compiler.GlslcPath == "" {
		problems = append(problems, "compiler.glslc_path is required")
	}
	if c.Runner.VkrunnerPath == "" {
		problems = append(problems, "runner.vkrunner_path is required")
	}
	for name, d := range map[string]time.Duration{
		"compiler.timeout":       c.Compiler.Timeout,
		"runner.timeout":         c.Runner.Timeout,
		"runner.max_timeout":     c.Runner.MaxTimeout,
		"runner.capture_timeout": c.Runner.CaptureTimeout,
		"display.ready_timeout":  c.Display.ReadyTimeout,
		"limits.queue_timeout":   c.Limits.QueueTimeout,
	} {
		if d < 0 {
			problems = append(problems, name+" must not be negative")
		}
	}
	if c.Runner.MaxTimeout > 0 && c.Runner.Timeout > c.Runner.MaxTimeout {
		problems = append(problems, "runner.timeout exceeds runner.max_timeout")
	}
	if c.Runner.Threads < 0 {
		problems = append(problems, "runner.threads must not be negative")
	}
	if c.Runner.ImageMaxEdge < 0 {
		problems = append(problems, "runner.image_max_edge must not be negative")
	}
	if c.Limits.MaxConcurrent < 0 || c.Limits.ReservedCores < 0 || c.Limits.MaxBufferBytes < 0 {
		problems = append(problems, "limits must not be negative")
	}
	if c.Limits.MaxBufferBytes > shader.MaxBufferExtent {
		problems = append(problems, fmt.Sprintf("limits.max_buffer_bytes exceeds %d", shader.MaxBufferExtent))
	}
	if c.Display.Display != "" && !strings.HasPrefix(c.Display.Display, ":") {
		problems = append(problems, fmt.Sprintf("display.display %q must look like :N", c.Display.Display))
	}
	if len(problems) > 0 {
		slices.Sort(problems)
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("log_level %q must be debug, info, warn or error", name)
	}
	return level, nil
}

// Environment returns the runner environment described by c.
func (c *Config) Environment() runner.Environment {
	return runner.Environment{
		ICDFilenames: c.Runner.ICDFilenames,
		Display:      c.Display.Display,
		RuntimeDir:   c.Runner.RuntimeDir,
		Home:         c.WorkDir,
		Threads:      c.Runner.Threads,
		Extra:        c.Runner.Env,
	}
}
