package compile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jonwraymond/shaderexec/procexec"
	"github.com/jonwraymond/shaderexec/shader"
)

// ErrRunnerNotConfigured is returned when a Glslc has no process runner.
var ErrRunnerNotConfigured = errors.New("glslc runner not configured")

// GlslcConfig configures a Glslc compiler.
type GlslcConfig struct {
	// Path is the glslc binary.
	// Default: glslc (uses PATH from Env)
	Path string

	// Timeout bounds one compiler run.
	// Default: 30s
	Timeout time.Duration

	// Env is the complete compiler environment.
	Env []string

	// Runner starts the compiler process.
	// If nil, Compile returns ErrRunnerNotConfigured.
	Runner procexec.Runner

	// Logger is an optional logger for compiler events.
	Logger Logger
}

// Glslc compiles GLSL and HLSL with the glslc command line compiler.
type Glslc struct {
	path    string
	timeout time.Duration
	env     []string
	runner  procexec.Runner
	logger  Logger
}

// NewGlslc creates a Glslc with defaults applied.
func NewGlslc(cfg GlslcConfig) *Glslc {
	path := cfg.Path
	if path == "" {
		path = "glslc"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Glslc{
		path:    path,
		timeout: timeout,
		env:     cfg.Env,
		runner:  cfg.Runner,
		logger:  logger,
	}
}

// Args returns the glslc arguments for in, writing the module to out. The
// source is read from standard input.
func (g *Glslc) Args(in Input, out string) []string {
	args := []string{
		"--target-env=" + string(targetEnvOf(in.TargetEnv)),
		"-fshader-stage=" + string(in.Source.Stage),
	}
	switch in.Optimization {
	case shader.OptimizeNone:
		args = append(args, "-O0")
	case shader.OptimizeSize:
		args = append(args, "-Os")
	default:
		args = append(args, "-O")
	}
	if in.Source.LanguageOf() == shader.LanguageHLSL {
		args = append(args, "-x", "hlsl", "-fentry-point="+in.Source.Entry())
	}

	names := make([]string, 0, len(in.Defines))
	for name := range in.Defines {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if v := in.Defines[name]; v != "" {
			args = append(args, fmt.Sprintf("-D%s=%s", name, v))
		} else {
			args = append(args, "-D"+name)
		}
	}
	return append(args, "-o", out, "-")
}

// Compile runs glslc for one stage. With in.Dir set the module is written
// to <Dir>/<stage>.spv, otherwise it is read from standard output.
func (g *Glslc) Compile(ctx context.Context, in Input) (shader.Artifact, error) {
	if g.runner == nil {
		return shader.Artifact{}, ErrRunnerNotConfigured
	}
	lang := in.Source.LanguageOf()
	if lang != shader.LanguageGLSL && lang != shader.LanguageHLSL {
		return shader.Artifact{}, fmt.Errorf("glslc cannot compile %s", lang)
	}

	out := "-"
	if in.Dir != "" {
		out = filepath.Join(in.Dir, string(in.Source.Stage)+".spv")
	}

	res, err := g.runner.Run(ctx, procexec.Spec{
		Path:    g.path,
		Args:    g.Args(in, out),
		Dir:     in.Dir,
		Env:     g.env,
		Stdin:   []byte(in.Source.Code),
		Timeout: g.timeout,
	})
	if err != nil {
		return shader.Artifact{}, fmt.Errorf("compile %s: %w", in.Source.Stage.Name(), err)
	}

	diags := parseDiagnostics(res.Stderr, in.Source.Stage, sourceFileName(in.Source))
	if res.ExitCode != 0 {
		errs, rest := splitDiagnostics(diags)
		if len(errs) == 0 {
			errs = []shader.Diagnostic{{
				Stage:    in.Source.Stage,
				Severity: shader.SeverityError,
				Message:  fmt.Sprintf("glslc exited with status %d", res.ExitCode),
			}}
		}
		g.logger.Info("shader rejected by compiler",
			"stage", in.Source.Stage,
			"errors", len(errs))
		return shader.Artifact{}, &shader.CompileError{
			Stage:       in.Source.Stage,
			Diagnostics: append(errs, rest...),
			Log:         res.Stderr,
		}
	}

	var module []byte
	if out == "-" {
		module = []byte(res.Stdout)
	} else {
		module, err = os.ReadFile(out)
		if err != nil {
			return shader.Artifact{}, fmt.Errorf("compile %s: read output: %w", in.Source.Stage.Name(), err)
		}
	}

	art := shader.NewArtifact(in.Source.Stage, in.Digest(), module, diags)
	if _, err := art.Words(); err != nil {
		return shader.Artifact{}, fmt.Errorf("compile %s: %w", in.Source.Stage.Name(), err)
	}
	return art, nil
}

func targetEnvOf(env shader.TargetEnv) shader.TargetEnv {
	if env == "" {
		return shader.TargetVulkan14
	}
	return env
}
