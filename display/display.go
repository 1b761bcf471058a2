// Package display owns the virtual X display shared by all test runs.
//
// The display server is started at most once per process. Access to it is
// serialized through a one-slot gate: a run holds a Guard for the duration
// of its runner process and screen capture, and releases it on every path.
package display

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Errors for display operations.
var (
	// ErrNotReady is returned when the display did not come up in time.
	ErrNotReady = errors.New("display not ready")

	// ErrStopped is returned by Acquire after Stop.
	ErrStopped = errors.New("display stopped")
)

// Logger is the interface for logging.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: logging must be best-effort and must not panic.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config configures a Manager.
type Config struct {
	// Display is the X display name, for example ":99". Empty means
	// headless: runs need no display and Start is a no-op.
	Display string

	// StartCommand launches the display server, for example
	// ["Xvfb", ":99", "-screen", "0", "1024x768x24", "-nolisten", "tcp"].
	// Empty means the display is provided externally and is only probed.
	StartCommand []string

	// ReadyTimeout bounds how long Start waits for the display.
	// Default: 10s
	ReadyTimeout time.Duration

	// SocketDir holds the X server sockets.
	// Default: /tmp/.X11-unix
	SocketDir string

	// Logger is an optional logger for display events.
	Logger Logger
}

// Manager starts, shares and stops the display.
type Manager struct {
	display      string
	startCommand []string
	readyTimeout time.Duration
	socketDir    string
	logger       Logger

	startOnce sync.Once
	startErr  error

	mu      sync.Mutex
	cmd     *exec.Cmd
	exited  chan struct{}
	stopped bool

	gate chan struct{}
	done chan struct{}
}

// New creates a Manager with defaults applied. It does not start anything.
func New(cfg Config) *Manager {
	readyTimeout := cfg.ReadyTimeout
	if readyTimeout == 0 {
		readyTimeout = 10 * time.Second
	}
	socketDir := cfg.SocketDir
	if socketDir == "" {
		socketDir = "/tmp/.X11-unix"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		display:      cfg.Display,
		startCommand: append([]string{}, cfg.StartCommand...),
		readyTimeout: readyTimeout,
		socketDir:    socketDir,
		logger:       logger,
		gate:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Display returns the display name runs should export as DISPLAY, or ""
// when headless.
func (m *Manager) Display() string {
	return m.display
}

// Start brings the display up. Only the first call does any work; later and
// concurrent callers observe its result.
func (m *Manager) Start(ctx context.Context) error {
	m.startOnce.Do(func() {
		m.startErr = m.start(ctx)
	})
	return m.startErr
}

func (m *Manager) start(ctx context.Context) error {
	if m.display == "" {
		m.logger.Info("running without a display")
		return nil
	}
	if m.ready() {
		m.logger.Info("using existing display", "display", m.display)
		return nil
	}
	if len(m.startCommand) == 0 {
		return fmt.Errorf("%w: %s is not served and no start command is configured", ErrNotReady, m.display)
	}

	cmd := exec.Command(m.startCommand[0], m.startCommand[1:]...)
	cmd.Env = []string{"PATH=" + os.Getenv("PATH")}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start display server: %w", err)
	}
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	m.mu.Lock()
	m.cmd = cmd
	m.exited = exited
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.readyTimeout)
	defer cancel()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if m.ready() {
			m.logger.Info("display server started", "display", m.display, "pid", cmd.Process.Pid)
			return nil
		}
		select {
		case <-exited:
			return fmt.Errorf("%w: display server exited: %s", ErrNotReady, strings.TrimSpace(stderr.String()))
		case <-ctx.Done():
			_ = m.Stop()
			return fmt.Errorf("%w: %s after %v", ErrNotReady, m.display, m.readyTimeout)
		case <-ticker.C:
		}
	}
}

// ready reports whether the display's socket exists.
func (m *Manager) ready() bool {
	num := strings.TrimPrefix(m.display, ":")
	if i := strings.IndexByte(num, '.'); i >= 0 {
		num = num[:i]
	}
	_, err := os.Stat(filepath.Join(m.socketDir, "X"+num))
	return err == nil
}

// Guard is exclusive access to the display.
type Guard struct {
	once sync.Once
	m    *Manager
}

// Release returns the display. Calling it more than once is a no-op.
func (g *Guard) Release() {
	if g == nil {
		return
	}
	g.once.Do(func() {
		<-g.m.gate
	})
}

// Acquire waits for exclusive access to the display.
func (m *Manager) Acquire(ctx context.Context) (*Guard, error) {
	select {
	case <-m.done:
		return nil, ErrStopped
	default:
	}
	select {
	case m.gate <- struct{}{}:
		return &Guard{m: m}, nil
	case <-m.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop kills a display server started by this Manager. Later Acquire
// calls fail with ErrStopped.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil
	}
	m.stopped = true
	close(m.done)
	if m.cmd == nil || m.cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-m.cmd.Process.Pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("stop display server: %w", err)
	}
	select {
	case <-m.exited:
	case <-time.After(2 * time.Second):
		_ = syscall.Kill(-m.cmd.Process.Pid, syscall.SIGKILL)
		<-m.exited
	}
	m.logger.Info("display server stopped", "display", m.display)
	return nil
}
