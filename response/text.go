package response

import (
	"fmt"
	"slices"
	"strings"
)

// Text renders r for a human reader: the summary followed by the details
// an agent needs to act on it.
func (r ToolResponse) Text() string {
	var b strings.Builder
	b.WriteString(r.Summary)
	b.WriteString("\n")

	switch {
	case r.Capabilities != nil:
		c := r.Capabilities
		stages := make([]string, len(c.Stages))
		for i, s := range c.Stages {
			stages[i] = s.Stage
		}
		fmt.Fprintf(&b, "\nstages: %s", strings.Join(stages, ", "))
		fmt.Fprintf(&b, "\nlanguages: %s", strings.Join(c.Languages, ", "))
		fmt.Fprintf(&b, "\noptimization: %s", strings.Join(c.OptimizationLevels, ", "))
		fmt.Fprintf(&b, "\ntarget environments: %s (default %s)", strings.Join(c.TargetEnvs, ", "), c.DefaultTargetEnv)
		fmt.Fprintf(&b, "\nrequirements: %s", strings.Join(c.Requirements, ", "))
		fmt.Fprintf(&b, "\nprobe ops: %s", strings.Join(c.ProbeOps, " "))
		fmt.Fprintf(&b, "\ndata types: %s", strings.Join(c.DataTypes, " "))
		fmt.Fprintf(&b, "\nmax timeout: %dms", c.Limits.MaxTimeoutMs)
	case r.Success != nil:
		for _, p := range r.Success.Probes {
			status := "pass"
			if !p.Passed {
				status = "FAIL"
			}
			fmt.Fprintf(&b, "\n[%s] probe %d: %s", status, p.Index, p.Description)
			if !p.Passed {
				if p.Expected != "" {
					fmt.Fprintf(&b, "\n  expected: %s", p.Expected)
				}
				if p.Observed != "" {
					fmt.Fprintf(&b, "\n  observed: %s", p.Observed)
				}
				if p.Message != "" {
					fmt.Fprintf(&b, "\n  %s", p.Message)
				}
			}
		}
		for _, d := range r.Success.Diagnostics {
			fmt.Fprintf(&b, "\n%s", d)
		}
		for _, w := range r.Success.Warnings {
			fmt.Fprintf(&b, "\nwarning: %s", w)
		}
	case r.CompileError != nil:
		for _, d := range r.CompileError.Diagnostics {
			fmt.Fprintf(&b, "\n%s", d)
		}
	case r.ExecutionError != nil:
		e := r.ExecutionError
		fmt.Fprintf(&b, "\nreason: %s", e.Reason)
		if e.Field != "" {
			fmt.Fprintf(&b, "\nfield: %s", e.Field)
		}
		fmt.Fprintf(&b, "\n%s", e.Message)
		for _, f := range e.Failures {
			fmt.Fprintf(&b, "\n%s", f)
		}
		if e.Stderr != "" {
			fmt.Fprintf(&b, "\nstderr:\n%s", strings.TrimRight(e.Stderr, "\n"))
		}
		if section := testSection(e.Script); section != "" {
			fmt.Fprintf(&b, "\nscript:\n%s", section)
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// testSection returns the [test] section of script, each line prefixed
// with its script line number. Shader binaries are left out.
func testSection(script string) string {
	lines := strings.Split(strings.TrimRight(script, "\n"), "\n")
	start := slices.Index(lines, "[test]")
	if start < 0 {
		return ""
	}
	var b strings.Builder
	for i := start; i < len(lines); i++ {
		fmt.Fprintf(&b, "%4d  %s\n", i+1, lines[i])
	}
	return strings.TrimRight(b.String(), "\n")
}
