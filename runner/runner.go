// Package runner executes assembled test scripts with VkRunner inside a
// request's scratch directory, under the shared display gate, with an
// explicit environment and a wall-clock timeout.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jonwraymond/shaderexec/capture"
	"github.com/jonwraymond/shaderexec/display"
	"github.com/jonwraymond/shaderexec/procexec"
	"github.com/jonwraymond/shaderexec/script"
	"github.com/jonwraymond/shaderexec/shader"
	"github.com/jonwraymond/shaderexec/workspace"
)

// Scratch file names used inside a session.
const (
	ImageFile      = "frame.ppm"
	ScreenshotFile = "screen.png"
)

// outputPlaceholder is replaced by the screenshot path in
// Config.ScreenshotCommand.
const outputPlaceholder = "{output}"

// ErrRunnerNotConfigured is returned when no process runner is configured.
var ErrRunnerNotConfigured = errors.New("vkrunner process runner not configured")

// Logger is the interface for logging.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: logging must be best-effort and must not panic.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config configures an Executor.
type Config struct {
	// VkrunnerPath is the runner binary.
	// Default: vkrunner (uses PATH from Env)
	VkrunnerPath string

	// Timeout is the default wall-clock budget of one run.
	// Default: 30s
	Timeout time.Duration

	// Env is the runner environment.
	Env Environment

	// Display gates access to the shared display.
	// If nil, a headless gate is used.
	Display *display.Manager

	// Runner starts processes.
	// If nil, Execute returns ErrRunnerNotConfigured.
	Runner procexec.Runner

	// ScreenshotCommand optionally captures the display after a run while
	// the gate is still held, for example ["import", "-window", "root",
	// "{output}"].
	ScreenshotCommand []string

	// CaptureTimeout bounds the screenshot command.
	// Default: 10s
	CaptureTimeout time.Duration

	// Logger is an optional logger for runner events.
	Logger Logger
}

// Options tune one execution.
type Options struct {
	// CaptureImage asks the runner to dump the framebuffer.
	CaptureImage bool

	// Timeout overrides Config.Timeout when positive.
	Timeout time.Duration
}

// Result describes a runner process that ran.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration

	// Completed is set when the runner printed its verdict.
	Completed bool

	// ImagePath is the framebuffer dump, when requested and produced.
	ImagePath string

	// ScreenshotPath is the display capture, when configured and produced.
	ScreenshotPath string

	// Warnings holds non-fatal problems such as a missing image.
	Warnings []string
}

// Executor runs scripts.
type Executor struct {
	path           string
	timeout        time.Duration
	env            []string
	display        *display.Manager
	runner         procexec.Runner
	screenshot     []string
	captureTimeout time.Duration
	logger         Logger
}

// New creates an Executor with defaults applied. The environment is
// rendered once here.
func New(cfg Config) *Executor {
	path := cfg.VkrunnerPath
	if path == "" {
		path = "vkrunner"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	captureTimeout := cfg.CaptureTimeout
	if captureTimeout == 0 {
		captureTimeout = 10 * time.Second
	}
	disp := cfg.Display
	if disp == nil {
		disp = display.New(display.Config{})
	}
	env := cfg.Env
	if env.Display == "" {
		env.Display = disp.Display()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{
		path:           path,
		timeout:        timeout,
		env:            env.List(),
		display:        disp,
		runner:         cfg.Runner,
		screenshot:     append([]string{}, cfg.ScreenshotCommand...),
		captureTimeout: captureTimeout,
		logger:         logger,
	}
}

// Environment returns the rendered runner environment.
func (e *Executor) Environment() []string {
	return append([]string{}, e.env...)
}

// Execute writes sc into the session and runs it. A run that prints the
// runner's verdict is returned without error whatever its exit code; the
// verdict itself is interpreted by the capture package. A run that ends
// without a verdict returns *shader.ExecutionError. Timeouts and
// cancellation kill the runner before Execute returns.
func (e *Executor) Execute(ctx context.Context, sess *workspace.Session, sc *script.Script, opts Options) (Result, error) {
	if e.runner == nil {
		return Result{}, ErrRunnerNotConfigured
	}
	if _, err := sess.WriteFile(script.FileName, sc.Bytes()); err != nil {
		return Result{}, err
	}

	guard, err := e.display.Acquire(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w: waiting for display: %v", shader.ErrTimeout, err)
		}
		if errors.Is(err, context.Canceled) {
			return Result{}, fmt.Errorf("%w: waiting for display: %v", shader.ErrCanceled, err)
		}
		return Result{}, &shader.ExecutionError{ExitCode: -1, Message: "display unavailable", Err: err}
	}
	defer guard.Release()

	timeout := e.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	var args []string
	if opts.CaptureImage {
		args = append(args, "--image", ImageFile)
	}
	args = append(args, script.FileName)

	e.logger.Info("running test script",
		"session", sess.ID,
		"lines", sc.Lines(),
		"probes", len(sc.Probes()),
		"timeout", timeout)

	res, err := e.runner.Run(ctx, procexec.Spec{
		Path:    e.path,
		Args:    args,
		Dir:     sess.Dir,
		Env:     e.env,
		Timeout: timeout,
	})
	out := Result{
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		Duration: res.Duration,
	}
	if err != nil {
		if errors.Is(err, shader.ErrTimeout) || errors.Is(err, shader.ErrCanceled) {
			e.logger.Warn("test run interrupted", "session", sess.ID, "error", err)
			return out, err
		}
		return out, &shader.ExecutionError{ExitCode: -1, Message: "could not start vkrunner", Err: err}
	}

	out.Completed = capture.HasVerdict(res.Stdout)
	if !out.Completed {
		msg := "vkrunner exited without a verdict"
		if res.ExitCode < 0 {
			msg = "vkrunner was killed by a signal"
		}
		return out, &shader.ExecutionError{ExitCode: res.ExitCode, Message: msg, Stderr: res.Stderr}
	}

	if opts.CaptureImage {
		path, _ := sess.Path(ImageFile)
		if info, statErr := os.Stat(path); statErr == nil && info.Size() > 0 {
			out.ImagePath = path
		} else {
			out.Warnings = append(out.Warnings, "vkrunner produced no framebuffer image")
		}
		if shot, warn := e.captureScreen(ctx, sess); warn != "" {
			out.Warnings = append(out.Warnings, warn)
		} else {
			out.ScreenshotPath = shot
		}
	}
	return out, nil
}

// captureScreen runs the screenshot command, if any, against the display.
// Failures are reported as a warning.
func (e *Executor) captureScreen(ctx context.Context, sess *workspace.Session) (path, warning string) {
	if len(e.screenshot) == 0 || e.display.Display() == "" {
		return "", ""
	}
	path, err := sess.Path(ScreenshotFile)
	if err != nil {
		return "", err.Error()
	}
	args := make([]string, 0, len(e.screenshot)-1)
	for _, a := range e.screenshot[1:] {
		args = append(args, strings.ReplaceAll(a, outputPlaceholder, path))
	}
	res, err := e.runner.Run(ctx, procexec.Spec{
		Path:    e.screenshot[0],
		Args:    args,
		Dir:     sess.Dir,
		Env:     e.env,
		Timeout: e.captureTimeout,
	})
	if err != nil {
		return "", fmt.Sprintf("screen capture failed: %v", err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Sprintf("screen capture exited with status %d", res.ExitCode)
	}
	if _, err := os.Stat(path); err != nil {
		return "", "screen capture produced no file"
	}
	return path, ""
}
