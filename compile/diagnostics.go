package compile

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/jonwraymond/shaderexec/shader"
)

var (
	// <file>:<line>: error: <message>, optionally with a column.
	locatedDiagRe = regexp.MustCompile(`^(.*?):(\d+):(?:(\d+):)?\s*(error|warning|note):\s*(.*)$`)
	// glslc: error: <message>
	toolDiagRe = regexp.MustCompile(`^(?:glslc|glslang[^:]*):\s*(error|warning|note):\s*(.*)$`)
	summaryRe  = regexp.MustCompile(`^\d+ (?:errors?|warnings?)(?: and \d+ (?:errors?|warnings?))? generated\.$`)
)

// parseDiagnostics extracts diagnostics from glslc output. file replaces the
// "<stdin>" placeholder glslc uses for piped sources.
func parseDiagnostics(output string, stage shader.Stage, file string) []shader.Diagnostic {
	var diags []shader.Diagnostic
	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimRight(raw, "\r")
		if strings.TrimSpace(line) == "" || summaryRe.MatchString(strings.TrimSpace(line)) {
			continue
		}
		if m := locatedDiagRe.FindStringSubmatch(line); m != nil {
			d := shader.Diagnostic{
				Stage:    stage,
				Severity: shader.Severity(m[4]),
				Message:  strings.TrimSpace(m[5]),
				File:     m[1],
			}
			if d.File == "<stdin>" || d.File == "-" {
				d.File = file
			}
			d.Line, _ = strconv.Atoi(m[2])
			if m[3] != "" {
				d.Column, _ = strconv.Atoi(m[3])
			}
			diags = append(diags, d)
			continue
		}
		if m := toolDiagRe.FindStringSubmatch(line); m != nil {
			diags = append(diags, shader.Diagnostic{
				Stage:    stage,
				Severity: shader.Severity(m[1]),
				Message:  strings.TrimSpace(m[2]),
			})
			continue
		}
		// Continuation lines (source excerpts, carets) belong to the
		// previous diagnostic.
		if n := len(diags); n > 0 {
			diags[n-1].Message += "\n" + strings.TrimSpace(line)
		}
	}
	return diags
}

// splitDiagnostics separates errors from warnings and notes.
func splitDiagnostics(diags []shader.Diagnostic) (errs, rest []shader.Diagnostic) {
	for _, d := range diags {
		if d.Severity == shader.SeverityError {
			errs = append(errs, d)
		} else {
			rest = append(rest, d)
		}
	}
	return errs, rest
}

// sourceFileName is the logical file name reported for a stage's source.
func sourceFileName(src shader.Source) string {
	ext := string(src.LanguageOf())
	if src.LanguageOf() == shader.LanguageGLSL {
		ext = string(src.Stage)
	}
	return "shader." + ext
}
