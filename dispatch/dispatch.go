// Package dispatch orchestrates a tool invocation end to end: decode and
// validate the request, wait for a concurrency slot, then compile,
// assemble, execute and capture inside a private workspace, and map the
// outcome to a response.
//
// Every call returns a response; failures of any stage, including panics,
// become an execution_error or compile_error. The workspace is removed
// before the call returns.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/jonwraymond/shaderexec/capture"
	"github.com/jonwraymond/shaderexec/response"
	"github.com/jonwraymond/shaderexec/runner"
	"github.com/jonwraymond/shaderexec/script"
	"github.com/jonwraymond/shaderexec/shader"
	"github.com/jonwraymond/shaderexec/workspace"
)

// Tool names.
const (
	ToolCompileRun   = "compile_run_shader"
	ToolCapabilities = "shader_capabilities"
)

// Tools returns the tool names in catalog order.
func Tools() []string {
	return []string{ToolCompileRun, ToolCapabilities}
}

// Dispatcher runs requests.
type Dispatcher struct {
	cfg    Config
	sem    *semaphore.Weighted
	limits shader.Limits
	logger *slog.Logger

	newID func() string
}

// New creates a Dispatcher. Returns ErrConfiguration if a required field
// is missing.
func New(cfg Config) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &Dispatcher{
		cfg: cfg,
		sem: semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		limits: shader.Limits{
			MaxTimeout:     cfg.MaxTimeout,
			Languages:      cfg.Compilers.Languages(),
			MaxBufferBytes: cfg.MaxBufferBytes,
		},
		logger: cfg.Logger,
		newID:  uuid.NewString,
	}, nil
}

// Dispatch runs the named tool with JSON-shaped arguments.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]any) response.ToolResponse {
	return d.dispatch(ctx, name, func() (shader.Request, error) { return DecodeRequest(args) })
}

// DispatchJSON runs the named tool with raw JSON arguments.
func (d *Dispatcher) DispatchJSON(ctx context.Context, name string, args []byte) response.ToolResponse {
	return d.dispatch(ctx, name, func() (shader.Request, error) { return DecodeRequestJSON(args) })
}

func (d *Dispatcher) dispatch(ctx context.Context, name string, decode func() (shader.Request, error)) response.ToolResponse {
	switch name {
	case ToolCompileRun:
		req, err := decode()
		if err != nil {
			resp := response.Build(response.State{RequestID: d.newID(), Err: err})
			d.logger.Info("request rejected", "request_id", resp.RequestID, "error", err)
			return resp
		}
		return d.Run(ctx, req)
	case ToolCapabilities:
		return d.CapabilitiesResponse()
	default:
		return response.Build(response.State{
			RequestID: d.newID(),
			Err:       &shader.ValidationError{Field: "name", Message: fmt.Sprintf("unknown tool %q", name)},
		})
	}
}

// Run executes req. req is copied; the caller may reuse it.
func (d *Dispatcher) Run(ctx context.Context, req shader.Request) (resp response.ToolResponse) {
	start := time.Now()
	id := d.newID()
	log := d.logger.With("request_id", id)

	req = req.Clone()
	st := response.State{RequestID: id, Stages: req.StageList()}

	defer func() {
		if r := recover(); r != nil {
			log.Error("request panicked", "panic", r, "stack", string(debug.Stack()))
			st.Err = fmt.Errorf("internal error: %v", r)
			st.Report = nil
			st.Duration = time.Since(start)
			resp = response.Build(st)
		}
	}()

	finish := func() response.ToolResponse {
		st.Duration = time.Since(start)
		resp := response.Build(st)
		args := []any{"kind", resp.Kind, "duration_ms", resp.DurationMs}
		if resp.ExecutionError != nil {
			args = append(args, "reason", resp.ExecutionError.Reason)
		}
		log.Info("request finished", args...)
		return resp
	}

	if req.TargetEnv == "" {
		req.TargetEnv = d.cfg.TargetEnv
	}
	if err := req.Validate(d.limits); err != nil {
		st.Err = err
		return finish()
	}

	if err := d.acquire(ctx); err != nil {
		st.Err = err
		return finish()
	}
	defer d.sem.Release(1)

	err := d.cfg.Workspace.With(ctx, func(sess *workspace.Session) error {
		st.ScratchDir = sess.Dir
		log.Info("request started", "session", sess.ID, "stages", st.Stages)
		st.Err = d.pipeline(ctx, log, req, sess, &st)
		resp = finish()
		return nil
	})
	if err != nil {
		if st.ScratchDir == "" {
			// The workspace could not be created.
			st.Err = err
			return finish()
		}
		log.Error("workspace cleanup failed", "error", err)
	}
	return resp
}

// acquire waits for a concurrency slot for at most QueueTimeout.
func (d *Dispatcher) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", shader.ErrCanceled, err)
	}
	if d.sem.TryAcquire(1) {
		return nil
	}
	if d.cfg.QueueTimeout <= 0 {
		return fmt.Errorf("%w: %d requests already running", shader.ErrResourceExhausted, d.cfg.MaxConcurrent)
	}
	waitCtx, cancel := context.WithTimeout(ctx, d.cfg.QueueTimeout)
	defer cancel()
	if err := d.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", shader.ErrCanceled, ctx.Err())
		}
		return fmt.Errorf("%w: no slot free after %v", shader.ErrResourceExhausted, d.cfg.QueueTimeout)
	}
	return nil
}

// pipeline compiles, assembles, runs and captures, recording what it
// learns in st. The returned error ends the request.
func (d *Dispatcher) pipeline(ctx context.Context, log *slog.Logger, req shader.Request, sess *workspace.Session, st *response.State) error {
	artifacts, err := d.cfg.Compilers.CompileAll(ctx, req, sess.Dir)
	if err != nil {
		return err
	}
	st.Artifacts = artifacts

	sc, err := script.Assemble(req, artifacts)
	if err != nil {
		return err
	}
	st.Script = sc.String()

	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: before execution: %v", shader.ErrTimeout, err)
		}
		return fmt.Errorf("%w: before execution: %v", shader.ErrCanceled, err)
	}

	timeout := d.cfg.DefaultTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	res, err := d.cfg.Executor.Execute(ctx, sess, sc, runner.Options{
		CaptureImage: req.CaptureImage,
		Timeout:      timeout,
	})
	st.ExitCode, st.Stderr = res.ExitCode, res.Stderr
	if err != nil {
		return err
	}
	st.Warnings = append(st.Warnings, res.Warnings...)

	report, err := capture.Parse(res.Stdout, sc.Probes())
	if err != nil {
		return err
	}
	st.Report = &report

	if res.ImagePath != "" {
		pngPath, _ := sess.Path("frame.png")
		img, err := capture.ConvertImage(res.ImagePath, pngPath, d.cfg.ImageMaxEdge)
		if err != nil {
			log.Warn("framebuffer conversion failed", "error", err)
			st.Warnings = append(st.Warnings, fmt.Sprintf("framebuffer image unreadable: %v", err))
		} else {
			st.Image = &img
		}
	}
	if res.ScreenshotPath != "" {
		img, err := capture.LoadPNG(res.ScreenshotPath, d.cfg.ImageMaxEdge)
		if err != nil {
			st.Warnings = append(st.Warnings, fmt.Sprintf("screenshot unreadable: %v", err))
		} else {
			st.Screenshot = &img
		}
	}
	return nil
}
