// Package response turns the terminal state of a request into the single
// ToolResponse returned to the caller.
//
// Every request ends in exactly one of three kinds: success (the test ran
// and every probe has an outcome), compile_error (a compiler rejected a
// source), or execution_error (anything else, qualified by a Reason).
// Build is deterministic: the same State always yields the same response.
package response

import (
	"time"

	"github.com/jonwraymond/shaderexec/shader"
)

// Kind is the response variant.
type Kind string

// Response kinds.
const (
	KindSuccess        Kind = "success"
	KindCompileError   Kind = "compile_error"
	KindExecutionError Kind = "execution_error"
)

// Reason qualifies an execution_error.
type Reason string

// Execution error reasons.
const (
	ReasonValidation        Reason = "validation"
	ReasonAssembly          Reason = "assembly"
	ReasonTimeout           Reason = "timeout"
	ReasonExecution         Reason = "execution"
	ReasonParse             Reason = "parse"
	ReasonResourceExhausted Reason = "resource_exhausted"
	ReasonCanceled          Reason = "canceled"
	ReasonInternal          Reason = "internal"
)

// ToolResponse is the result of one tool invocation. Exactly one of
// Success, CompileError and ExecutionError is set, matching Kind, except
// for a capabilities query, which is a success carrying Capabilities.
type ToolResponse struct {
	Kind       Kind           `json:"kind"`
	RequestID  string         `json:"request_id,omitempty"`
	Stages     []shader.Stage `json:"stages,omitempty"`
	Summary    string         `json:"summary"`
	DurationMs int64          `json:"duration_ms"`

	Success        *Success          `json:"success,omitempty"`
	CompileError   *CompileFailure   `json:"compile_error,omitempty"`
	ExecutionError *ExecutionFailure `json:"execution_error,omitempty"`
	Capabilities   *Capabilities     `json:"capabilities,omitempty"`
}

// OK reports whether the test ran and every probe passed.
func (r ToolResponse) OK() bool {
	return r.Kind == KindSuccess && r.Success != nil && r.Success.Passed
}

// Success is a completed test run.
type Success struct {
	// Passed is set when every probe passed.
	Passed bool `json:"passed"`

	// Probes holds one outcome per declared probe, in declared order.
	Probes []shader.ProbeOutcome `json:"probes"`

	// Image is the rendered framebuffer, when requested.
	Image *ImageRef `json:"image,omitempty"`

	// Screenshot is the display capture, when configured.
	Screenshot *ImageRef `json:"screenshot,omitempty"`

	// Diagnostics holds compiler warnings.
	Diagnostics []shader.Diagnostic `json:"diagnostics,omitempty"`

	Warnings []string `json:"warnings,omitempty"`

	// Script is the test script that ran.
	Script string `json:"script,omitempty"`
}

// Failed returns the outcomes of probes that did not pass.
func (s *Success) Failed() []shader.ProbeOutcome {
	var out []shader.ProbeOutcome
	for _, p := range s.Probes {
		if !p.Passed {
			out = append(out, p)
		}
	}
	return out
}

// CompileFailure is a compiler rejection.
type CompileFailure struct {
	Stage       shader.Stage        `json:"stage"`
	Diagnostics []shader.Diagnostic `json:"diagnostics"`
	Log         string              `json:"log,omitempty"`
}

// ExecutionFailure is any failure other than a compile error.
type ExecutionFailure struct {
	Reason  Reason `json:"reason"`
	Message string `json:"message"`

	// Field is the offending request field for validation and assembly
	// failures.
	Field string `json:"field,omitempty"`

	// ExitCode is the runner's exit status, when it ran.
	ExitCode *int   `json:"exit_code,omitempty"`
	Stderr   string `json:"stderr,omitempty"`

	// Failures holds runner failures not tied to a probe, such as
	// pipeline creation errors.
	Failures []string `json:"failures,omitempty"`

	// Script is the assembled test script, when assembly succeeded. Line
	// numbers in Failures refer to it.
	Script string `json:"script,omitempty"`
}

// ImageRef is an inline PNG. Name is a logical name, never a filesystem
// path.
type ImageRef struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`

	// Data holds the PNG bytes, downscaled for transport when the source
	// was larger; OriginalWidth and OriginalHeight give the source size.
	Data           []byte `json:"data"`
	OriginalWidth  int    `json:"original_width"`
	OriginalHeight int    `json:"original_height"`
}

func durationMs(d time.Duration) int64 {
	return d.Milliseconds()
}
