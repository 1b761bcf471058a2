// Package procexec runs external tools as child processes with an explicit
// environment, a wall-clock timeout and process-group cleanup.
//
// Every subprocess the server starts (compiler, test runner, display
// server probes, screen capture) goes through a Runner so tests can swap in
// a fake.
package procexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jonwraymond/shaderexec/shader"
)

// DefaultMaxOutputBytes caps captured stdout and stderr per stream.
const DefaultMaxOutputBytes = 16 << 20

// Spec describes one process invocation.
type Spec struct {
	// Path is the executable, resolved through the PATH entry of Env when
	// it contains no slash.
	Path string

	// Args excludes the executable name.
	Args []string

	// Dir is the working directory.
	Dir string

	// Env is the complete environment. Nothing is inherited from the
	// server process.
	Env []string

	// Stdin is written to the child's standard input.
	Stdin []byte

	// Timeout bounds the wall-clock run time. Zero means only ctx applies.
	Timeout time.Duration
}

// Result is the outcome of a process that ran to exit.
type Result struct {
	// ExitCode is the exit status, or -1 when the process died from a
	// signal it did not receive from us.
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner starts processes.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: a nonzero exit is not an error. Timeouts return an error
// matching shader.ErrTimeout and caller cancellation one matching
// shader.ErrCanceled; in both cases the child is dead and reaped before
// Run returns.
type Runner interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// Local runs processes on the host.
type Local struct {
	// MaxOutputBytes caps each captured stream. Default:
	// DefaultMaxOutputBytes.
	MaxOutputBytes int
}

// Run starts spec.Path in its own process group and waits for it. On
// timeout or cancellation the whole group is killed with SIGKILL.
func (l *Local) Run(ctx context.Context, spec Spec) (Result, error) {
	if spec.Path == "" {
		return Result{}, errors.New("procexec: path is required")
	}
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", shader.ErrCanceled, err)
	}

	path, err := lookPath(spec.Path, spec.Env)
	if err != nil {
		return Result{}, err
	}

	limit := l.MaxOutputBytes
	if limit <= 0 {
		limit = DefaultMaxOutputBytes
	}

	cmd := exec.Command(path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append([]string{}, spec.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if spec.Stdin != nil {
		cmd.Stdin = bytes.NewReader(spec.Stdin)
	}
	stdout := &cappedBuffer{limit: limit}
	stderr := &cappedBuffer{limit: limit}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	var timer <-chan time.Time
	if spec.Timeout > 0 {
		t := time.NewTimer(spec.Timeout)
		defer t.Stop()
		timer = t.C
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("procexec: start %s: %w", spec.Path, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-timer:
		killGroup(cmd)
		<-done
		return Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1, Duration: time.Since(start)},
			fmt.Errorf("%w: %s exceeded %v", shader.ErrTimeout, spec.Path, spec.Timeout)
	case <-ctx.Done():
		killGroup(cmd)
		<-done
		res := Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1, Duration: time.Since(start)}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return res, fmt.Errorf("%w: %s: %v", shader.ErrTimeout, spec.Path, ctx.Err())
		}
		return res, fmt.Errorf("%w: %s: %v", shader.ErrCanceled, spec.Path, ctx.Err())
	}

	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return result, fmt.Errorf("procexec: wait %s: %w", spec.Path, waitErr)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	// Reap anything the child left behind in its group.
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	return result, nil
}

func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		_ = cmd.Process.Kill()
	}
}

// lookPath resolves name against the PATH entry of env rather than the
// server's own environment.
func lookPath(name string, env []string) (string, error) {
	if strings.Contains(name, "/") {
		return name, nil
	}
	pathList := ""
	for _, kv := range env {
		if v, ok := strings.CutPrefix(kv, "PATH="); ok {
			pathList = v
		}
	}
	if pathList == "" {
		return exec.LookPath(name)
	}
	for _, dir := range filepath.SplitList(pathList) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode().Perm()&0o111 != 0 {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("procexec: %s: %w", name, exec.ErrNotFound)
}

// cappedBuffer keeps the first limit bytes and discards the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.limit - c.buf.Len()
	if room <= 0 {
		c.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	return c.buf.Write(p)
}

func (c *cappedBuffer) String() string {
	if c.truncated {
		return c.buf.String() + "\n[output truncated]\n"
	}
	return c.buf.String()
}
