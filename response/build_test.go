package response

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jonwraymond/shaderexec/capture"
	"github.com/jonwraymond/shaderexec/shader"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantKind   Kind
		wantReason Reason
	}{
		{"nil", nil, KindSuccess, ""},
		{"compile", &shader.CompileError{Stage: shader.StageFragment}, KindCompileError, ""},
		{"wrapped compile", fmt.Errorf("stage: %w", &shader.CompileError{}), KindCompileError, ""},
		{"validation", &shader.ValidationError{Field: "timeout_ms"}, KindExecutionError, ReasonValidation},
		{"assembly", &shader.AssemblyError{Message: "x"}, KindExecutionError, ReasonAssembly},
		{"timeout", fmt.Errorf("%w: killed", shader.ErrTimeout), KindExecutionError, ReasonTimeout},
		{"deadline", context.DeadlineExceeded, KindExecutionError, ReasonTimeout},
		{"canceled", fmt.Errorf("%w: client went away", shader.ErrCanceled), KindExecutionError, ReasonCanceled},
		{"context canceled", context.Canceled, KindExecutionError, ReasonCanceled},
		{"busy", shader.ErrResourceExhausted, KindExecutionError, ReasonResourceExhausted},
		{"parse", &shader.ParseError{Message: "no verdict"}, KindExecutionError, ReasonParse},
		{"execution", &shader.ExecutionError{ExitCode: 1}, KindExecutionError, ReasonExecution},
		{"unknown", errors.New("boom"), KindExecutionError, ReasonInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, reason := Classify(tt.err)
			if kind != tt.wantKind || reason != tt.wantReason {
				t.Errorf("Classify() = (%s, %s), want (%s, %s)", kind, reason, tt.wantKind, tt.wantReason)
			}
		})
	}
}

func TestBuild_AllPass(t *testing.T) {
	resp := Build(State{
		RequestID: "r1",
		Stages:    []shader.Stage{shader.StageCompute},
		Duration:  1500 * time.Millisecond,
		Report: &capture.Report{
			Verdict: capture.VerdictPass,
			Probes:  []shader.ProbeOutcome{{Index: 0, Passed: true, Line: 9, Expected: "8"}},
		},
	})
	if resp.Kind != KindSuccess || resp.Success == nil {
		t.Fatalf("Build() = %+v, want success", resp)
	}
	if resp.CompileError != nil || resp.ExecutionError != nil {
		t.Error("more than one variant set")
	}
	if !resp.OK() || len(resp.Success.Probes) != 1 {
		t.Errorf("Success = %+v", resp.Success)
	}
	if resp.Summary != "Compute shader: all 1 probe passed" {
		t.Errorf("Summary = %q", resp.Summary)
	}
	if resp.DurationMs != 1500 || resp.RequestID != "r1" {
		t.Errorf("envelope = %+v", resp)
	}
}

func TestBuild_ProbeFailed(t *testing.T) {
	resp := Build(State{
		Stages: []shader.Stage{shader.StageCompute},
		Report: &capture.Report{
			Verdict: capture.VerdictFail,
			Probes: []shader.ProbeOutcome{{
				Index: 0, Line: 9, Expected: "8", Observed: "7", Message: "Probe failed",
			}},
		},
		ExitCode: 1,
	})
	if resp.Kind != KindSuccess {
		t.Fatalf("Kind = %s, want success", resp.Kind)
	}
	if resp.OK() {
		t.Error("OK() = true with a failed probe")
	}
	failed := resp.Success.Failed()
	if len(failed) != 1 || failed[0].Expected != "8" || failed[0].Observed != "7" {
		t.Errorf("Failed() = %+v", failed)
	}
	if resp.Summary != "Compute shader: 1 of 1 probe failed" {
		t.Errorf("Summary = %q", resp.Summary)
	}
}

func TestBuild_VerdictWithoutProbeFailure(t *testing.T) {
	tests := []struct {
		name   string
		report capture.Report
		want   string
	}{
		{
			name: "skip",
			report: capture.Report{
				Verdict: capture.VerdictSkip,
				Probes:  []shader.ProbeOutcome{{Message: "not evaluated"}},
			},
			want: "requirement",
		},
		{
			name: "pipeline failure",
			report: capture.Report{
				Verdict:      capture.VerdictFail,
				Probes:       []shader.ProbeOutcome{{Passed: true}},
				Unattributed: []capture.Failure{{Line: 7, Message: "Failed to create pipeline"}},
			},
			want: "script line 7: Failed to create pipeline",
		},
		{
			name:   "bare fail",
			report: capture.Report{Verdict: capture.VerdictFail, Notes: []string{"vkCreateDevice failed"}},
			want:   "vkCreateDevice failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := tt.report
			resp := Build(State{Report: &report, ExitCode: 1, Stderr: "err"})
			if resp.Kind != KindExecutionError || resp.ExecutionError == nil {
				t.Fatalf("Build() = %+v, want execution_error", resp)
			}
			e := resp.ExecutionError
			if e.Reason != ReasonExecution || !strings.Contains(e.Message, tt.want) {
				t.Errorf("ExecutionError = %+v, want message containing %q", e, tt.want)
			}
			if e.ExitCode == nil || *e.ExitCode != 1 || e.Stderr != "err" {
				t.Errorf("ExecutionError = %+v", e)
			}
		})
	}
}

func TestBuild_CompileError(t *testing.T) {
	resp := Build(State{
		Stages: []shader.Stage{shader.StageVertex, shader.StageFragment},
		Err: &shader.CompileError{
			Stage: shader.StageFragment,
			Diagnostics: []shader.Diagnostic{
				{Stage: shader.StageFragment, Severity: shader.SeverityError, Message: "extension not supported: GL_FOO", File: "shader.frag", Line: 2},
			},
		},
	})
	if resp.Kind != KindCompileError || resp.CompileError == nil {
		t.Fatalf("Build() = %+v", resp)
	}
	if resp.Success != nil || resp.ExecutionError != nil {
		t.Error("more than one variant set")
	}
	want := "Fragment shader failed to compile: line 2: extension not supported: GL_FOO"
	if resp.Summary != want {
		t.Errorf("Summary = %q, want %q", resp.Summary, want)
	}
	if resp.CompileError.Stage != shader.StageFragment || len(resp.CompileError.Diagnostics) != 1 {
		t.Errorf("CompileError = %+v", resp.CompileError)
	}
}

func TestBuild_ExecutionErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		reason    Reason
		field     string
		exitCode  *int
		summaryOf string
	}{
		{
			name:      "validation",
			err:       &shader.ValidationError{Field: "commands[0].compute", Message: "x must be in 1..65535"},
			reason:    ReasonValidation,
			field:     "commands[0].compute",
			summaryOf: "invalid request",
		},
		{
			name:      "assembly",
			err:       &shader.AssemblyError{Field: "probes[0].buffer", Message: "past end"},
			reason:    ReasonAssembly,
			field:     "probes[0].buffer",
			summaryOf: "could not be assembled",
		},
		{
			name:      "crash",
			err:       &shader.ExecutionError{ExitCode: -1, Message: "vkrunner was killed by a signal", Stderr: "Segmentation fault"},
			reason:    ReasonExecution,
			exitCode:  ptr(-1),
			summaryOf: "test run failed",
		},
		{
			name:      "busy",
			err:       fmt.Errorf("%w: 4 requests in flight", shader.ErrResourceExhausted),
			reason:    ReasonResourceExhausted,
			summaryOf: "busy",
		},
		{
			name:      "panic",
			err:       errors.New("panic: nil map"),
			reason:    ReasonInternal,
			summaryOf: "internal error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := Build(State{Stages: []shader.Stage{shader.StageCompute}, Err: tt.err})
			e := resp.ExecutionError
			if resp.Kind != KindExecutionError || e == nil {
				t.Fatalf("Build() = %+v", resp)
			}
			if e.Reason != tt.reason || e.Field != tt.field {
				t.Errorf("ExecutionError = %+v", e)
			}
			if (tt.exitCode == nil) != (e.ExitCode == nil) || (tt.exitCode != nil && *tt.exitCode != *e.ExitCode) {
				t.Errorf("ExitCode = %v, want %v", e.ExitCode, tt.exitCode)
			}
			if !strings.Contains(resp.Summary, tt.summaryOf) {
				t.Errorf("Summary = %q, want it to mention %q", resp.Summary, tt.summaryOf)
			}
		})
	}
}

func TestBuild_MissingReport(t *testing.T) {
	resp := Build(State{})
	if resp.Kind != KindExecutionError || resp.ExecutionError.Reason != ReasonInternal {
		t.Errorf("Build() = %+v, want internal error", resp)
	}
}

func TestBuild_ScrubsScratchDir(t *testing.T) {
	dir := "/var/lib/shaderexec/req-1234"
	resp := Build(State{
		ScratchDir: dir,
		Err: &shader.ExecutionError{
			ExitCode: 1,
			Message:  "failed to open " + dir + "/test.shader_test",
			Stderr:   "error in " + dir + "/frame.ppm\ncwd " + dir,
		},
	})
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), dir) {
		t.Errorf("response leaks scratch dir: %s", data)
	}
	if !strings.Contains(resp.ExecutionError.Stderr, "error in frame.ppm") {
		t.Errorf("Stderr = %q", resp.ExecutionError.Stderr)
	}

	compile := Build(State{
		ScratchDir: dir + "/",
		Err: &shader.CompileError{
			Stage:       shader.StageCompute,
			Log:         dir + "/comp.spv: error",
			Diagnostics: []shader.Diagnostic{{Severity: shader.SeverityError, File: dir + "/shader.comp", Message: "bad"}},
		},
	})
	if compile.CompileError.Diagnostics[0].File != "shader.comp" || compile.CompileError.Log != "comp.spv: error" {
		t.Errorf("CompileError = %+v", compile.CompileError)
	}
}

func TestBuild_CarriesScript(t *testing.T) {
	dir := "/var/lib/shaderexec/req-99"
	script := "# shaderexec generated test\n\n[compute shader binary]\n07230203\n\n[test]\nssbo 0 16\ncompute 1 1 1\nprobe ssbo uint 0 0 == 8\n# " + dir + "\n"

	tests := []struct {
		name  string
		state State
	}{
		{
			name: "success",
			state: State{
				Report: &capture.Report{Verdict: capture.VerdictPass, Probes: []shader.ProbeOutcome{{Passed: true}}},
			},
		},
		{
			name: "pipeline failure",
			state: State{
				Report: &capture.Report{
					Verdict:      capture.VerdictFail,
					Unattributed: []capture.Failure{{Line: 7, Message: "Failed to create pipeline"}},
				},
				ExitCode: 1,
			},
		},
		{
			name:  "runner crash",
			state: State{Err: &shader.ExecutionError{ExitCode: 2, Message: "runner exited"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := tt.state
			st.Stages = []shader.Stage{shader.StageCompute}
			st.ScratchDir = dir
			st.Script = script

			resp := Build(st)
			var got string
			switch {
			case resp.Success != nil:
				got = resp.Success.Script
			case resp.ExecutionError != nil:
				got = resp.ExecutionError.Script
			}
			if !strings.HasPrefix(got, "# shaderexec generated test\n") || !strings.Contains(got, "compute 1 1 1\n") {
				t.Errorf("Script = %q", got)
			}
			if strings.Contains(got, dir) {
				t.Errorf("Script leaks scratch dir: %q", got)
			}
		})
	}

	resp := Build(State{Stages: tests[1].state.Stages, Report: tests[1].state.Report, Script: script})
	text := resp.Text()
	for _, want := range []string{"script:\n", "   6  [test]\n", "   8  compute 1 1 1\n"} {
		if !strings.Contains(text, want) {
			t.Errorf("Text() missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "07230203") {
		t.Errorf("Text() includes the shader binary:\n%s", text)
	}

	if resp := Build(State{Err: &shader.ValidationError{Field: "sources", Message: "bad"}}); resp.ExecutionError.Script != "" {
		t.Errorf("validation error carries a script: %q", resp.ExecutionError.Script)
	}
}

func TestBuild_Image(t *testing.T) {
	resp := Build(State{
		Stages: []shader.Stage{shader.StageFragment},
		Report: &capture.Report{Verdict: capture.VerdictPass},
		Image: &capture.Image{
			Width: 1024, Height: 512,
			PNG:     []byte("full"),
			Preview: []byte("small"), PreviewWidth: 512, PreviewHeight: 256,
		},
		Warnings: []string{"screen capture failed"},
		Artifacts: []shader.Artifact{{
			Stage:       shader.StageFragment,
			Diagnostics: []shader.Diagnostic{{Severity: shader.SeverityWarning, Message: "unused variable"}},
		}},
	})
	img := resp.Success.Image
	if img == nil {
		t.Fatal("Image = nil")
	}
	if img.Name != "framebuffer.png" || img.MIMEType != "image/png" || string(img.Data) != "small" {
		t.Errorf("Image = %+v", img)
	}
	if img.Width != 512 || img.OriginalWidth != 1024 {
		t.Errorf("Image size = %dx%d of %dx%d", img.Width, img.Height, img.OriginalWidth, img.OriginalHeight)
	}
	if len(resp.Success.Diagnostics) != 1 || len(resp.Success.Warnings) != 1 {
		t.Errorf("Success = %+v", resp.Success)
	}
	if resp.Summary != "Fragment shader ran successfully with no probes" {
		t.Errorf("Summary = %q", resp.Summary)
	}
}

func TestStagesLabel(t *testing.T) {
	tests := []struct {
		stages []shader.Stage
		want   string
	}{
		{nil, "Request"},
		{[]shader.Stage{shader.StageCompute}, "Compute shader"},
		{[]shader.Stage{shader.StageVertex, shader.StageTessControl, shader.StageFragment}, "Vertex + Tessellation Control + Fragment shaders"},
	}
	for _, tt := range tests {
		if got := stagesLabel(tt.stages); got != tt.want {
			t.Errorf("stagesLabel(%v) = %q, want %q", tt.stages, got, tt.want)
		}
	}
}

func TestToolResponse_Text(t *testing.T) {
	resp := Build(State{
		Stages: []shader.Stage{shader.StageCompute},
		Report: &capture.Report{
			Verdict: capture.VerdictFail,
			Probes: []shader.ProbeOutcome{
				{Index: 0, Description: "probe ssbo uint 0 0 == 8", Passed: true},
				{Index: 1, Description: "probe ssbo uint 0 4 == 8", Expected: "8", Observed: "7"},
			},
		},
	})
	text := resp.Text()
	for _, want := range []string{
		"Compute shader: 1 of 2 probes failed",
		"[pass] probe 0: probe ssbo uint 0 0 == 8",
		"[FAIL] probe 1: probe ssbo uint 0 4 == 8",
		"expected: 8",
		"observed: 7",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Text() missing %q:\n%s", want, text)
		}
	}
}

func ptr(n int) *int { return &n }
