package capture

import (
	"errors"
	"testing"

	"github.com/jonwraymond/shaderexec/script"
	"github.com/jonwraymond/shaderexec/shader"
)

var twoProbes = []script.ProbeLine{
	{Index: 0, Line: 9, Description: "first", Expected: "8", Text: "probe ssbo uint 0 0 == 8"},
	{Index: 1, Line: 10, Description: "second", Expected: "1 2", Text: "probe ssbo uint 0 4 == 1 2"},
}

func TestParse_AllPass(t *testing.T) {
	report, err := Parse("PIGLIT: {\"result\": \"pass\" }\n", twoProbes)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if report.Verdict != VerdictPass || !report.Passed() {
		t.Errorf("report = %+v", report)
	}
	if len(report.Probes) != 2 {
		t.Fatalf("Probes = %d", len(report.Probes))
	}
	for i, p := range report.Probes {
		if !p.Passed || p.Index != i || p.Description != twoProbes[i].Description {
			t.Errorf("probe %d = %+v", i, p)
		}
	}
}

func TestParse_ProbeMismatch(t *testing.T) {
	stdout := "line 9: SSBO probe failed\n" +
		"  Reference: 8\n" +
		"  Observed:  7\n" +
		"PIGLIT: {\"result\": \"fail\" }\n"

	report, err := Parse(stdout, twoProbes)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if report.Verdict != VerdictFail || report.Passed() {
		t.Errorf("Verdict = %q", report.Verdict)
	}
	first := report.Probes[0]
	if first.Passed || first.Expected != "8" || first.Observed != "7" || first.Message != "SSBO probe failed" {
		t.Errorf("first probe = %+v", first)
	}
	if !report.Probes[1].Passed {
		t.Errorf("second probe = %+v, want passed", report.Probes[1])
	}
	if len(report.Unattributed) != 0 {
		t.Errorf("Unattributed = %+v", report.Unattributed)
	}
}

func TestParse_FilePrefixAndUnattributed(t *testing.T) {
	stdout := "vkrunner: warning: something\n" +
		"test.shader_test: line 4: Error creating pipeline\n" +
		"PIGLIT: {\"result\": \"fail\" }\n"

	report, err := Parse(stdout, twoProbes)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(report.Unattributed) != 1 || report.Unattributed[0].Line != 4 {
		t.Fatalf("Unattributed = %+v", report.Unattributed)
	}
	if report.Unattributed[0].Message != "Error creating pipeline" {
		t.Errorf("Message = %q", report.Unattributed[0].Message)
	}
	if len(report.Notes) != 1 {
		t.Errorf("Notes = %v", report.Notes)
	}
}

func TestParse_Skip(t *testing.T) {
	report, err := Parse("PIGLIT: {\"result\": \"skip\" }\n", twoProbes)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	for _, p := range report.Probes {
		if p.Passed {
			t.Errorf("probe %d passed on a skipped run", p.Index)
		}
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
	}{
		{"empty", ""},
		{"no verdict", "line 9: SSBO probe failed\n  Observed: 7\n"},
		{"unknown verdict", "PIGLIT: {\"result\": \"crash\" }\n"},
		{"two verdicts", "PIGLIT: {\"result\": \"pass\" }\nPIGLIT: {\"result\": \"pass\" }\n"},
		{"detail outside block", "  Observed: 7\nPIGLIT: {\"result\": \"fail\" }\n"},
		{"failure with pass verdict", "line 9: SSBO probe failed\nPIGLIT: {\"result\": \"pass\" }\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.stdout, twoProbes)
			if !errors.Is(err, shader.ErrParse) {
				t.Errorf("Parse() error = %v, want ErrParse", err)
			}
		})
	}
}

// runnerOutput holds stdout samples in RunnerOutputFormat.
var runnerOutput = []struct {
	name         string
	stdout       string
	verdict      Verdict
	expected     []string
	observed     []string
	unattributed int
}{
	{
		name:     "pass",
		stdout:   "PIGLIT: {\"result\": \"pass\" }\n",
		verdict:  VerdictPass,
		expected: []string{"8", "1 2"},
		observed: []string{"", ""},
	},
	{
		name: "ssbo probe with reference and observed",
		stdout: "test.shader_test: line 10: SSBO probe failed\n" +
			"  Reference: 1 2\n" +
			"  Observed:  1 3\n" +
			"PIGLIT: {\"result\": \"fail\" }\n",
		verdict:  VerdictFail,
		expected: []string{"8", "1 2"},
		observed: []string{"", "1 3"},
	},
	{
		name: "probe with expected and actual",
		stdout: "line 9: Probe color at (0,0)\n" +
			"  Expected: 9\n" +
			"  Actual: 7\n" +
			"line 3: Error creating pipeline\n" +
			"PIGLIT: {\"result\": \"fail\" }\r\n",
		verdict:      VerdictFail,
		expected:     []string{"9", "1 2"},
		observed:     []string{"7", ""},
		unattributed: 1,
	},
}

func TestParse_RunnerOutputFormat(t *testing.T) {
	if RunnerOutputFormat == "" {
		t.Fatal("RunnerOutputFormat is empty")
	}
	for _, tt := range runnerOutput {
		t.Run(tt.name, func(t *testing.T) {
			if !HasVerdict(tt.stdout) {
				t.Fatalf("HasVerdict() = false for %s output", RunnerOutputFormat)
			}
			report, err := Parse(tt.stdout, twoProbes)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if report.Verdict != tt.verdict || len(report.Unattributed) != tt.unattributed {
				t.Errorf("report = %+v", report)
			}
			for i, p := range report.Probes {
				if p.Expected != tt.expected[i] || p.Observed != tt.observed[i] {
					t.Errorf("probe %d = %+v, want expected %q observed %q", i, p, tt.expected[i], tt.observed[i])
				}
			}
		})
	}
}

func TestHasVerdict(t *testing.T) {
	if !HasVerdict("noise\nPIGLIT: {\"result\": \"fail\" }\r\n") {
		t.Error("HasVerdict() = false for output with a verdict")
	}
	if HasVerdict("Segmentation fault\n") {
		t.Error("HasVerdict() = true for output without a verdict")
	}
}
