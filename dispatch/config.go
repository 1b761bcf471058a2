package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/jonwraymond/shaderexec/capture"
	"github.com/jonwraymond/shaderexec/runner"
	"github.com/jonwraymond/shaderexec/script"
	"github.com/jonwraymond/shaderexec/shader"
	"github.com/jonwraymond/shaderexec/workspace"
)

// Default configuration values.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultMaxTimeout    = 120 * time.Second
	DefaultReservedCores = 1
	DefaultTargetEnv     = shader.TargetVulkan14
)

// ErrConfiguration is returned by New for an incomplete Config.
var ErrConfiguration = errors.New("dispatch: invalid configuration")

// Compilers turns a request's sources into artifacts.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: compiler rejections are *shader.CompileError.
type Compilers interface {
	CompileAll(ctx context.Context, req shader.Request, dir string) ([]shader.Artifact, error)
	Languages() []shader.Language
}

// Executor runs an assembled script in a session.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: cancellation kills the run before Execute returns.
type Executor interface {
	Execute(ctx context.Context, sess *workspace.Session, sc *script.Script, opts runner.Options) (runner.Result, error)
}

// Config configures a Dispatcher.
type Config struct {
	// Workspace hands out scratch directories.
	// Required.
	Workspace *workspace.Manager

	// Compilers compiles sources.
	// Required.
	Compilers Compilers

	// Executor runs test scripts.
	// Required.
	Executor Executor

	// MaxConcurrent bounds requests in flight.
	// Default: runtime.NumCPU() - ReservedCores, at least 1
	MaxConcurrent int

	// ReservedCores are kept free for the display server and the
	// transport when MaxConcurrent is derived.
	// Default: 1
	ReservedCores int

	// QueueTimeout is how long a request waits for a free slot. Zero
	// rejects immediately when all slots are busy.
	QueueTimeout time.Duration

	// DefaultTimeout is the execution timeout of requests without one.
	// Default: 30s
	DefaultTimeout time.Duration

	// MaxTimeout caps Request.TimeoutMs.
	// Default: 120s
	MaxTimeout time.Duration

	// MaxBufferBytes caps buffer sizes and data extents. At most
	// shader.MaxBufferExtent, which zero stands for.
	MaxBufferBytes int

	// ImageMaxEdge bounds the inline preview of captured images.
	// Default: 512
	ImageMaxEdge int

	// TargetEnv is used for requests that do not name one.
	// Default: vulkan1.4
	TargetEnv shader.TargetEnv

	// Logger receives one child logger per request.
	Logger *slog.Logger
}

// Validate checks that all required fields are set and that set values
// are in range. Returns ErrConfiguration otherwise.
func (c *Config) Validate() error {
	var missing []string
	if c.Workspace == nil {
		missing = append(missing, "Workspace")
	}
	if c.Compilers == nil {
		missing = append(missing, "Compilers")
	}
	if c.Executor == nil {
		missing = append(missing, "Executor")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s",
			ErrConfiguration, strings.Join(missing, ", "))
	}

	var invalid []string
	if c.MaxConcurrent < 0 {
		invalid = append(invalid, "MaxConcurrent")
	}
	if c.ReservedCores < 0 {
		invalid = append(invalid, "ReservedCores")
	}
	if c.QueueTimeout < 0 {
		invalid = append(invalid, "QueueTimeout")
	}
	if c.DefaultTimeout < 0 {
		invalid = append(invalid, "DefaultTimeout")
	}
	if c.MaxTimeout < 0 || (c.MaxTimeout > 0 && c.DefaultTimeout > c.MaxTimeout) {
		invalid = append(invalid, "MaxTimeout")
	}
	if c.MaxBufferBytes < 0 || c.MaxBufferBytes > shader.MaxBufferExtent {
		invalid = append(invalid, "MaxBufferBytes")
	}
	if c.ImageMaxEdge < 0 {
		invalid = append(invalid, "ImageMaxEdge")
	}
	if c.TargetEnv != "" && !c.TargetEnv.IsValid() {
		invalid = append(invalid, "TargetEnv")
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%w: invalid fields: %s",
			ErrConfiguration, strings.Join(invalid, ", "))
	}
	return nil
}

// applyDefaults sets default values for optional fields.
func (c *Config) applyDefaults() {
	if c.ReservedCores == 0 {
		c.ReservedCores = DefaultReservedCores
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = max(1, runtime.NumCPU()-c.ReservedCores)
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.MaxTimeout == 0 {
		c.MaxTimeout = max(DefaultMaxTimeout, c.DefaultTimeout)
	}
	if c.ImageMaxEdge == 0 {
		c.ImageMaxEdge = capture.DefaultMaxEdge
	}
	if c.TargetEnv == "" {
		c.TargetEnv = DefaultTargetEnv
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}
