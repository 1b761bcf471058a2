// Package compile turns shader sources into SPIR-V artifacts.
//
// Glslc drives the external glslc binary for GLSL and HLSL; Naga compiles
// WGSL in-process. A Registry maps each source language to its compiler and
// compiles every stage of a request concurrently.
package compile

import (
	"context"

	"github.com/jonwraymond/shaderexec/shader"
)

// Input is everything a compiler needs for one stage.
type Input struct {
	Source       shader.Source
	Defines      map[string]string
	Optimization shader.OptimizationLevel
	TargetEnv    shader.TargetEnv

	// Dir is a scratch directory the compiler may write into. Optional.
	Dir string
}

// Digest identifies the input; equal inputs yield equal digests.
func (in Input) Digest() string {
	return shader.InputDigest(in.Source, in.Defines, in.Optimization, in.TargetEnv)
}

// Compiler compiles one stage.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: a rejected source returns *shader.CompileError; a process
// timeout returns an error matching shader.ErrTimeout. Compilation is never
// retried.
// - Determinism: identical inputs produce byte-identical artifacts.
type Compiler interface {
	Compile(ctx context.Context, in Input) (shader.Artifact, error)
}

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
