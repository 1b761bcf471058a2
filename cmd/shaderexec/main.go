// Command shaderexec serves the shader compile-and-run tools over MCP on
// standard input and output, and optionally over HTTP.
//
// Usage:
//
//	shaderexec --work-dir /var/lib/shaderexec [--config shaderexec.yaml] [--http 127.0.0.1:8080]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jonwraymond/shaderexec/compile"
	"github.com/jonwraymond/shaderexec/config"
	"github.com/jonwraymond/shaderexec/dispatch"
	"github.com/jonwraymond/shaderexec/display"
	"github.com/jonwraymond/shaderexec/procexec"
	"github.com/jonwraymond/shaderexec/runner"
	"github.com/jonwraymond/shaderexec/server"
	"github.com/jonwraymond/shaderexec/shader"
	"github.com/jonwraymond/shaderexec/workspace"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "shaderexec:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "YAML configuration file")
		workDir    = flag.String("work-dir", "", "directory for per-request scratch space")
		httpAddr   = flag.String("http", "", "serve the HTTP API on this address")
		logLevel   = flag.String("log-level", "", "debug, info, warn or error")
		logFormat  = flag.String("log-format", "", "text or json")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	for dst, src := range map[*string]string{
		&cfg.WorkDir:   *workDir,
		&cfg.HTTPAddr:  *httpAddr,
		&cfg.LogLevel:  *logLevel,
		&cfg.LogFormat: *logFormat,
	} {
		if src != "" {
			*dst = src
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.WorkDir, 0o750); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	ws, err := workspace.NewManager(workspace.Config{Root: cfg.WorkDir, Logger: logger})
	if err != nil {
		return err
	}
	if _, err := ws.Sweep(); err != nil {
		logger.Warn("sweeping stale workspaces", "error", err)
	}

	disp := display.New(display.Config{
		Display:      cfg.Display.Display,
		StartCommand: cfg.Display.StartCommand,
		ReadyTimeout: cfg.Display.ReadyTimeout,
		Logger:       logger,
	})
	if err := disp.Start(ctx); err != nil {
		return fmt.Errorf("display: %w", err)
	}
	defer func() {
		if err := disp.Stop(); err != nil {
			logger.Warn("stopping display", "error", err)
		}
	}()

	procs := &procexec.Local{}
	env := cfg.Environment()
	executor := runner.New(runner.Config{
		VkrunnerPath:      cfg.Runner.VkrunnerPath,
		Timeout:           cfg.Runner.Timeout,
		Env:               env,
		Display:           disp,
		Runner:            procs,
		ScreenshotCommand: cfg.Runner.ScreenshotCommand,
		CaptureTimeout:    cfg.Runner.CaptureTimeout,
		Logger:            logger,
	})

	compilers, err := newCompilers(cfg, executor.Environment(), procs, logger)
	if err != nil {
		return err
	}

	d, err := dispatch.New(dispatch.Config{
		Workspace:      ws,
		Compilers:      compilers,
		Executor:       executor,
		MaxConcurrent:  cfg.Limits.MaxConcurrent,
		ReservedCores:  cfg.Limits.ReservedCores,
		QueueTimeout:   cfg.Limits.QueueTimeout,
		DefaultTimeout: cfg.Runner.Timeout,
		MaxTimeout:     cfg.Runner.MaxTimeout,
		MaxBufferBytes: cfg.Limits.MaxBufferBytes,
		ImageMaxEdge:   cfg.Runner.ImageMaxEdge,
		TargetEnv:      shader.TargetEnv(cfg.TargetEnv),
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	catalog, err := server.NewCatalog()
	if err != nil {
		return err
	}

	if cfg.HTTPAddr != "" {
		srv := startHTTP(cfg.HTTPAddr, catalog, d, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http shutdown", "error", err)
			}
		}()
	}

	logger.Info("serving",
		"version", version,
		"work_dir", cfg.WorkDir,
		"display", disp.Display(),
		"languages", compilers.Languages(),
		"http", cfg.HTTPAddr,
	)
	mcpServer := server.NewMCPServer(server.MCPConfig{Name: "shaderexec", Version: version, Logger: logger}, catalog, d)
	if err := mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp: %w", err)
	}
	logger.Info("shutting down")
	return nil
}

func newLogger(cfg config.Config) *slog.Logger {
	level, _ := config.ParseLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newCompilers registers glslc for GLSL and HLSL, and naga for WGSL when
// enabled.
func newCompilers(cfg config.Config, env []string, procs procexec.Runner, logger *slog.Logger) (*compile.Registry, error) {
	reg := compile.NewRegistry()
	glslc := compile.NewGlslc(compile.GlslcConfig{
		Path:    cfg.Compiler.GlslcPath,
		Timeout: cfg.Compiler.Timeout,
		Env:     env,
		Runner:  procs,
		Logger:  logger,
	})
	for _, lang := range []shader.Language{shader.LanguageGLSL, shader.LanguageHLSL} {
		if err := reg.Register(lang, glslc); err != nil {
			return nil, err
		}
	}
	if cfg.Compiler.WGSL {
		if err := reg.Register(shader.LanguageWGSL, compile.NewNaga()); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func startHTTP(addr string, catalog *server.Catalog, d server.Dispatcher, logger *slog.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.NewRouter(catalog, d),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "error", err)
		}
	}()
	return srv
}
