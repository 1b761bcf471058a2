// Package script renders a validated request and its compiled artifacts
// into a VkRunner shader_test script.
//
// Assembly is pure: it performs every semantic check the runner would
// otherwise fail on (unknown data types, buffer extents, undeclared
// bindings, stage and command mismatches) so that a bad request is rejected
// before any process is spawned.
package script

import (
	"fmt"
	"strings"

	"github.com/jonwraymond/shaderexec/shader"
)

// FileName is the name the script is written under in a session.
const FileName = "test.shader_test"

// ProbeLine locates one declared probe in the script.
type ProbeLine struct {
	// Index is the probe's position in the request.
	Index int

	// Line is the 1-based script line of the probe command.
	Line int

	Description string

	// Expected renders the expected values.
	Expected string

	// Text is the probe command as written to the script.
	Text string
}

// Script is an assembled test script.
type Script struct {
	lines  []string
	probes []ProbeLine
	stages []shader.Stage
}

// String returns the script text.
func (s *Script) String() string {
	return strings.Join(s.lines, "\n") + "\n"
}

// Bytes returns the script text as bytes.
func (s *Script) Bytes() []byte {
	return []byte(s.String())
}

// Lines returns the number of script lines.
func (s *Script) Lines() int {
	return len(s.lines)
}

// Line returns the 1-based line n, or "" when out of range.
func (s *Script) Line(n int) string {
	if n < 1 || n > len(s.lines) {
		return ""
	}
	return s.lines[n-1]
}

// Probes returns the probe locations in declared order.
func (s *Script) Probes() []ProbeLine {
	out := make([]ProbeLine, len(s.probes))
	copy(out, s.probes)
	return out
}

// Stages returns the stages embedded in the script, in pipeline order.
func (s *Script) Stages() []shader.Stage {
	out := make([]shader.Stage, len(s.stages))
	copy(out, s.stages)
	return out
}

// ProbeAt returns the probe declared on script line n.
func (s *Script) ProbeAt(n int) (ProbeLine, bool) {
	for _, p := range s.probes {
		if p.Line == n {
			return p, true
		}
	}
	return ProbeLine{}, false
}

func (s *Script) add(format string, args ...any) int {
	s.lines = append(s.lines, fmt.Sprintf(format, args...))
	return len(s.lines)
}
