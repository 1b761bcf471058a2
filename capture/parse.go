// Package capture interprets what a test run produced: the runner's
// standard output is parsed into per-probe outcomes, and the rendered
// framebuffer is converted to PNG.
package capture

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jonwraymond/shaderexec/script"
	"github.com/jonwraymond/shaderexec/shader"
)

// Verdict is the runner's overall result.
type Verdict string

// Runner verdicts.
const (
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
	VerdictSkip Verdict = "skip"
)

// RunnerOutputFormat names the runner output Parse is pinned to: the Rust
// VkRunner (2023 onward). It ends a run with a PIGLIT verdict line and
// reports each failure as "[file:] line N: message" followed by indented
// Reference, Expected, Observed or Actual details. The fixtures in
// parse_test.go are written in this format.
const RunnerOutputFormat = "vkrunner-rust/2023"

var (
	verdictRe = regexp.MustCompile(`^PIGLIT:\s*\{\s*"result"\s*:\s*"([a-z]*)"\s*\}\s*$`)
	// [file:] line N: message
	failureRe = regexp.MustCompile(`^(?:(.*?):\s*)?line (\d+):\s*(.*)$`)
	detailRe  = regexp.MustCompile(`^\s+(Reference|Expected|Observed|Actual)\s*:\s*(.*)$`)
)

// Failure is one failure block reported by the runner.
type Failure struct {
	// Line is the script line the runner blamed.
	Line     int
	Message  string
	Expected string
	Observed string
}

// Report is the parsed runner output.
type Report struct {
	Verdict Verdict

	// Probes holds one outcome per declared probe, in declared order.
	Probes []shader.ProbeOutcome

	// Unattributed holds failures on lines that are not probes, such as
	// pipeline creation errors.
	Unattributed []Failure

	// Notes holds other non-empty output lines.
	Notes []string
}

// Passed reports whether every probe passed.
func (r Report) Passed() bool {
	if r.Verdict != VerdictPass {
		return false
	}
	for _, p := range r.Probes {
		if !p.Passed {
			return false
		}
	}
	return true
}

// HasVerdict reports whether stdout contains the runner's verdict line,
// meaning the runner got through the whole script.
func HasVerdict(stdout string) bool {
	for _, line := range strings.Split(stdout, "\n") {
		if verdictRe.MatchString(strings.TrimRight(line, "\r")) {
			return true
		}
	}
	return false
}

// Parse reads runner stdout. probes are the script's probe locations; every
// declared probe gets exactly one outcome, failed unless the runner reported
// no failure for its line.
func Parse(stdout string, probes []script.ProbeLine) (Report, error) {
	var (
		report   Report
		failures []Failure
		current  *Failure
		verdicts int
	)

	flush := func() {
		if current != nil {
			failures = append(failures, *current)
			current = nil
		}
	}

	for i, raw := range strings.Split(stdout, "\n") {
		lineNo := i + 1
		line := strings.TrimRight(raw, "\r")

		if m := verdictRe.FindStringSubmatch(line); m != nil {
			flush()
			verdicts++
			if verdicts > 1 {
				return Report{}, &shader.ParseError{Line: lineNo, Message: "runner printed more than one verdict"}
			}
			switch v := Verdict(m[1]); v {
			case VerdictPass, VerdictFail, VerdictSkip:
				report.Verdict = v
			default:
				return Report{}, &shader.ParseError{Line: lineNo, Message: fmt.Sprintf("unknown verdict %q", m[1])}
			}
			continue
		}
		if m := detailRe.FindStringSubmatch(line); m != nil {
			if current == nil {
				return Report{}, &shader.ParseError{Line: lineNo, Message: fmt.Sprintf("%s line outside a failure block", m[1])}
			}
			switch m[1] {
			case "Observed", "Actual":
				current.Observed = strings.TrimSpace(m[2])
			default:
				current.Expected = strings.TrimSpace(m[2])
			}
			continue
		}
		if m := failureRe.FindStringSubmatch(line); m != nil {
			flush()
			n, err := strconv.Atoi(m[2])
			if err != nil {
				return Report{}, &shader.ParseError{Line: lineNo, Message: fmt.Sprintf("bad script line number %q", m[2])}
			}
			current = &Failure{Line: n, Message: strings.TrimSpace(m[3])}
			continue
		}
		// Any other text ends the current block.
		if strings.TrimSpace(line) != "" {
			flush()
			report.Notes = append(report.Notes, strings.TrimSpace(line))
		}
	}
	flush()

	if verdicts == 0 {
		return Report{}, &shader.ParseError{Message: "runner output has no verdict line"}
	}

	byLine := make(map[int]Failure, len(failures))
	probeLines := make(map[int]bool, len(probes))
	for _, p := range probes {
		probeLines[p.Line] = true
	}
	for _, f := range failures {
		if probeLines[f.Line] {
			if _, seen := byLine[f.Line]; !seen {
				byLine[f.Line] = f
			}
			continue
		}
		report.Unattributed = append(report.Unattributed, f)
	}

	if report.Verdict == VerdictPass && len(failures) > 0 {
		return Report{}, &shader.ParseError{Message: "runner reported failures together with a pass verdict"}
	}

	report.Probes = make([]shader.ProbeOutcome, len(probes))
	for i, p := range probes {
		out := shader.ProbeOutcome{
			Index:       p.Index,
			Description: p.Description,
			Line:        p.Line,
			Expected:    p.Expected,
		}
		switch f, failed := byLine[p.Line]; {
		case failed:
			out.Message = f.Message
			if f.Expected != "" {
				out.Expected = f.Expected
			}
			out.Observed = f.Observed
		case report.Verdict == VerdictSkip:
			out.Message = "not evaluated"
		default:
			// The runner carries on after a failing command, so a probe
			// without a failure block of its own passed.
			out.Passed = true
		}
		report.Probes[i] = out
	}
	return report, nil
}
