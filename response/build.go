package response

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jonwraymond/shaderexec/capture"
	"github.com/jonwraymond/shaderexec/shader"
)

// MaxStderrBytes bounds the runner stderr carried in a response. Longer
// output keeps its tail.
const MaxStderrBytes = 8 << 10

// State is everything known about a request when it ends.
type State struct {
	RequestID string
	Stages    []shader.Stage
	Duration  time.Duration

	// ScratchDir is removed from every string in the response.
	ScratchDir string

	// Artifacts are the compile results, used for compiler warnings.
	Artifacts []shader.Artifact

	// Script is the assembled test script, empty before assembly.
	Script string

	// Report is the parsed runner output. Required when Err is nil.
	Report *capture.Report

	// ExitCode and Stderr describe the runner process, when it ran.
	ExitCode int
	Stderr   string

	Image      *capture.Image
	Screenshot *capture.Image
	Warnings   []string

	// Err is the error that ended the request, if any.
	Err error
}

// Classify maps an error onto a response kind and, for execution errors,
// a reason.
func Classify(err error) (Kind, Reason) {
	var compileErr *shader.CompileError
	switch {
	case err == nil:
		return KindSuccess, ""
	case errors.As(err, &compileErr):
		return KindCompileError, ""
	case errors.Is(err, shader.ErrValidation):
		return KindExecutionError, ReasonValidation
	case errors.Is(err, shader.ErrAssembly):
		return KindExecutionError, ReasonAssembly
	case errors.Is(err, shader.ErrResourceExhausted):
		return KindExecutionError, ReasonResourceExhausted
	case errors.Is(err, shader.ErrCanceled), errors.Is(err, context.Canceled):
		return KindExecutionError, ReasonCanceled
	case errors.Is(err, shader.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindExecutionError, ReasonTimeout
	case errors.Is(err, shader.ErrParse):
		return KindExecutionError, ReasonParse
	case errors.Is(err, shader.ErrExecution):
		return KindExecutionError, ReasonExecution
	default:
		return KindExecutionError, ReasonInternal
	}
}

// Build maps st to a response.
func Build(st State) ToolResponse {
	resp := ToolResponse{
		RequestID:  st.RequestID,
		Stages:     append([]shader.Stage(nil), st.Stages...),
		DurationMs: durationMs(st.Duration),
	}
	label := stagesLabel(st.Stages)

	switch {
	case st.Err != nil:
		buildError(&resp, st, label)
	case st.Report == nil:
		resp.Kind = KindExecutionError
		resp.ExecutionError = &ExecutionFailure{Reason: ReasonInternal, Message: "request ended without a result"}
		resp.Summary = fmt.Sprintf("%s: internal error", label)
	default:
		buildReport(&resp, st, label)
	}

	scrub(&resp, st.ScratchDir)
	return resp
}

func buildError(resp *ToolResponse, st State, label string) {
	kind, reason := Classify(st.Err)
	resp.Kind = kind

	if kind == KindCompileError {
		var ce *shader.CompileError
		errors.As(st.Err, &ce)
		resp.CompileError = &CompileFailure{
			Stage:       ce.Stage,
			Diagnostics: append([]shader.Diagnostic{}, ce.Diagnostics...),
			Log:         ce.Log,
		}
		resp.Summary = fmt.Sprintf("%s shader failed to compile: %s", titled(ce.Stage.Name()), firstError(ce))
		return
	}

	fail := &ExecutionFailure{Reason: reason, Message: st.Err.Error(), Script: st.Script}
	var (
		ve *shader.ValidationError
		ae *shader.AssemblyError
		ee *shader.ExecutionError
	)
	switch {
	case errors.As(st.Err, &ve):
		fail.Field = ve.Field
	case errors.As(st.Err, &ae):
		fail.Field = ae.Field
	}
	if errors.As(st.Err, &ee) {
		code := ee.ExitCode
		fail.ExitCode = &code
		fail.Stderr = tail(ee.Stderr, MaxStderrBytes)
	} else if st.Stderr != "" {
		fail.Stderr = tail(st.Stderr, MaxStderrBytes)
	}
	resp.ExecutionError = fail
	resp.Summary = fmt.Sprintf("%s: %s", label, reasonPhrase(reason))
}

// buildReport handles a runner that printed a verdict. A verdict that is
// not explained by probe outcomes becomes an execution error.
func buildReport(resp *ToolResponse, st State, label string) {
	r := st.Report
	failedProbes := 0
	for _, p := range r.Probes {
		if !p.Passed {
			failedProbes++
		}
	}

	var execMsg string
	switch {
	case r.Verdict == capture.VerdictSkip:
		execMsg = "the device does not support a requirement of the test"
	case r.Verdict == capture.VerdictFail && len(r.Unattributed) > 0:
		f := r.Unattributed[0]
		execMsg = fmt.Sprintf("script line %d: %s", f.Line, f.Message)
	case r.Verdict == capture.VerdictFail && failedProbes == 0:
		execMsg = "runner reported failure without a failing probe"
		if len(r.Notes) > 0 {
			execMsg = r.Notes[len(r.Notes)-1]
		}
	}
	if execMsg != "" {
		code := st.ExitCode
		fail := &ExecutionFailure{
			Reason:   ReasonExecution,
			Message:  execMsg,
			ExitCode: &code,
			Stderr:   tail(st.Stderr, MaxStderrBytes),
			Script:   st.Script,
		}
		for _, f := range r.Unattributed {
			fail.Failures = append(fail.Failures, fmt.Sprintf("line %d: %s", f.Line, f.Message))
		}
		resp.Kind = KindExecutionError
		resp.ExecutionError = fail
		resp.Summary = fmt.Sprintf("%s: %s", label, execMsg)
		return
	}

	ok := &Success{
		Passed:     r.Passed(),
		Probes:     append([]shader.ProbeOutcome{}, r.Probes...),
		Image:      imageRef("framebuffer.png", st.Image),
		Screenshot: imageRef("screenshot.png", st.Screenshot),
		Warnings:   append([]string(nil), st.Warnings...),
		Script:     st.Script,
	}
	for _, a := range st.Artifacts {
		for _, d := range a.Diagnostics {
			if d.Severity != shader.SeverityError {
				ok.Diagnostics = append(ok.Diagnostics, d)
			}
		}
	}
	resp.Kind = KindSuccess
	resp.Success = ok

	switch n := len(ok.Probes); {
	case n == 0:
		resp.Summary = fmt.Sprintf("%s ran successfully with no probes", label)
	case failedProbes == 0:
		resp.Summary = fmt.Sprintf("%s: all %d %s passed", label, n, plural(n, "probe"))
	default:
		resp.Summary = fmt.Sprintf("%s: %d of %d %s failed", label, failedProbes, n, plural(n, "probe"))
	}
}

func imageRef(name string, img *capture.Image) *ImageRef {
	if img == nil {
		return nil
	}
	return &ImageRef{
		Name:           name,
		MIMEType:       "image/png",
		Width:          img.PreviewWidth,
		Height:         img.PreviewHeight,
		Data:           img.Preview,
		OriginalWidth:  img.Width,
		OriginalHeight: img.Height,
	}
}

func reasonPhrase(r Reason) string {
	switch r {
	case ReasonValidation:
		return "invalid request"
	case ReasonAssembly:
		return "test could not be assembled"
	case ReasonTimeout:
		return "timed out"
	case ReasonExecution:
		return "test run failed"
	case ReasonParse:
		return "runner output could not be read"
	case ReasonResourceExhausted:
		return "server is busy"
	case ReasonCanceled:
		return "canceled"
	default:
		return "internal error"
	}
}

// stagesLabel renders stages for summaries, for example
// "Vertex + Fragment shaders".
func stagesLabel(stages []shader.Stage) string {
	if len(stages) == 0 {
		return "Request"
	}
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = titled(s.Name())
	}
	return strings.Join(names, " + ") + " " + plural(len(stages), "shader")
}

// titled upper-cases the first letter of each word. Casers are not safe
// for concurrent use, so each call makes its own.
func titled(s string) string {
	return cases.Title(language.English).String(s)
}

func firstError(ce *shader.CompileError) string {
	for _, d := range ce.Diagnostics {
		if d.Severity == shader.SeverityError {
			if d.Line > 0 {
				return fmt.Sprintf("line %d: %s", d.Line, d.Message)
			}
			return d.Message
		}
	}
	if ce.Err != nil {
		return ce.Err.Error()
	}
	return "no diagnostics"
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func tail(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return "[truncated]\n" + s[len(s)-limit:]
}

// scrub removes the scratch directory from every string in resp. Paths
// inside it become bare file names.
func scrub(resp *ToolResponse, dir string) {
	dir = strings.TrimRight(dir, "/")
	if dir == "" {
		return
	}
	r := strings.NewReplacer(dir+"/", "", dir, ".")
	s := r.Replace

	resp.Summary = s(resp.Summary)
	if ok := resp.Success; ok != nil {
		for i := range ok.Probes {
			p := &ok.Probes[i]
			p.Description, p.Message = s(p.Description), s(p.Message)
			p.Expected, p.Observed = s(p.Expected), s(p.Observed)
		}
		for i := range ok.Warnings {
			ok.Warnings[i] = s(ok.Warnings[i])
		}
		ok.Script = s(ok.Script)
		scrubDiagnostics(ok.Diagnostics, s)
	}
	if ce := resp.CompileError; ce != nil {
		ce.Log = s(ce.Log)
		scrubDiagnostics(ce.Diagnostics, s)
	}
	if ee := resp.ExecutionError; ee != nil {
		ee.Message, ee.Stderr, ee.Script = s(ee.Message), s(ee.Stderr), s(ee.Script)
		for i := range ee.Failures {
			ee.Failures[i] = s(ee.Failures[i])
		}
	}
}

func scrubDiagnostics(diags []shader.Diagnostic, s func(string) string) {
	for i := range diags {
		diags[i].Message = s(diags[i].Message)
		diags[i].File = s(diags[i].File)
	}
}
