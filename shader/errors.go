package shader

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for failure classification. Every error produced by the
// pipeline matches exactly one of these via errors.Is.
var (
	// ErrValidation indicates a malformed or out-of-range request.
	ErrValidation = errors.New("validation error")

	// ErrCompile indicates the compiler rejected a source.
	ErrCompile = errors.New("compile error")

	// ErrAssembly indicates the test script could not be assembled from the
	// request and its artifacts.
	ErrAssembly = errors.New("assembly error")

	// ErrTimeout indicates a subprocess exceeded its wall-clock budget.
	ErrTimeout = errors.New("timeout")

	// ErrExecution indicates the runner crashed or exited without
	// completing the test.
	ErrExecution = errors.New("execution error")

	// ErrParse indicates runner output that does not follow the expected
	// grammar.
	ErrParse = errors.New("parse error")

	// ErrResourceExhausted indicates no execution slot became free in time.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrCanceled indicates the caller canceled the request.
	ErrCanceled = errors.New("canceled")
)

// ValidationError describes a rejected request field.
type ValidationError struct {
	// Field is the JSON path of the offending field, for example
	// "sources[0].stage".
	Field string

	// Message describes the problem.
	Message string
}

// Error returns the field and message.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Severity grades a compiler diagnostic.
type Severity string

// Diagnostic severities.
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityNote    Severity = "note"
)

// Diagnostic is one compiler message.
type Diagnostic struct {
	Stage    Stage    `json:"stage,omitempty"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
}

// String renders d in compiler style.
func (d Diagnostic) String() string {
	var b strings.Builder
	if d.File != "" {
		b.WriteString(d.File)
		b.WriteString(":")
	}
	if d.Line > 0 {
		fmt.Fprintf(&b, "%d:", d.Line)
		if d.Column > 0 {
			fmt.Fprintf(&b, "%d:", d.Column)
		}
	}
	if b.Len() > 0 {
		b.WriteString(" ")
	}
	fmt.Fprintf(&b, "%s: %s", d.Severity, d.Message)
	return b.String()
}

// CompileError reports compiler rejection of one or more stages.
type CompileError struct {
	// Stage is the first stage that failed.
	Stage Stage

	// Diagnostics holds the parsed compiler messages, errors first.
	Diagnostics []Diagnostic

	// Log is the raw compiler output.
	Log string

	// Err is the underlying error, if any.
	Err error
}

// Error returns the first error diagnostic.
func (e *CompileError) Error() string {
	for _, d := range e.Diagnostics {
		if d.Severity == SeverityError {
			return fmt.Sprintf("compile %s: %s", e.Stage.Name(), d.Message)
		}
	}
	if e.Err != nil {
		return fmt.Sprintf("compile %s: %v", e.Stage.Name(), e.Err)
	}
	return fmt.Sprintf("compile %s failed", e.Stage.Name())
}

// Unwrap returns the underlying error.
func (e *CompileError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrCompile.
func (e *CompileError) Is(target error) bool {
	return target == ErrCompile
}

// AssemblyError reports a request that cannot be expressed as a test script.
type AssemblyError struct {
	// Field is the request field that caused the failure, if known.
	Field string

	// Message describes the problem.
	Message string
}

// Error returns the message.
func (e *AssemblyError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is reports whether target is ErrAssembly.
func (e *AssemblyError) Is(target error) bool {
	return target == ErrAssembly
}

// ExecutionError reports a runner that did not complete the test.
type ExecutionError struct {
	// ExitCode is the runner exit status; -1 when killed by a signal.
	ExitCode int

	// Message describes the failure.
	Message string

	// Stderr is the runner's standard error.
	Stderr string

	// Err is the underlying error, if any.
	Err error
}

// Error returns the message and exit code.
func (e *ExecutionError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "runner failed"
	}
	return fmt.Sprintf("%s (exit code %d)", msg, e.ExitCode)
}

// Unwrap returns the underlying error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrExecution.
func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecution
}

// ParseError reports runner output that could not be interpreted.
type ParseError struct {
	// Line is the 1-based line of runner output, zero if unknown.
	Line int

	// Message describes the problem.
	Message string
}

// Error returns the message, with the output line if known.
func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s (output line %d)", e.Message, e.Line)
	}
	return e.Message
}

// Is reports whether target is ErrParse.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}
