package compile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/jonwraymond/shaderexec/procexec"
	"github.com/jonwraymond/shaderexec/shader"
)

const computeGLSL = `#version 450
layout(local_size_x = 1) in;
layout(std430, binding = 0) buffer Out { uint value; };
void main() { value = 8u; }
`

func TestGlslc_Args(t *testing.T) {
	g := NewGlslc(GlslcConfig{})

	tests := []struct {
		name string
		in   Input
		want []string
	}{
		{
			name: "glsl defaults",
			in: Input{
				Source: shader.Source{Stage: shader.StageCompute, Code: computeGLSL},
			},
			want: []string{"--target-env=vulkan1.4", "-fshader-stage=comp", "-O", "-o", "out.spv", "-"},
		},
		{
			name: "defines sorted and optimization",
			in: Input{
				Source:       shader.Source{Stage: shader.StageFragment, Code: "x"},
				Defines:      map[string]string{"WIDTH": "4", "DEBUG": "", "ALPHA": "1.5"},
				Optimization: shader.OptimizeNone,
				TargetEnv:    shader.TargetVulkan12,
			},
			want: []string{
				"--target-env=vulkan1.2", "-fshader-stage=frag", "-O0",
				"-DALPHA=1.5", "-DDEBUG", "-DWIDTH=4",
				"-o", "out.spv", "-",
			},
		},
		{
			name: "glsl entry point not passed",
			in: Input{
				Source: shader.Source{Stage: shader.StageCompute, Code: computeGLSL, EntryPoint: "main"},
			},
			want: []string{"--target-env=vulkan1.4", "-fshader-stage=comp", "-O", "-o", "out.spv", "-"},
		},
		{
			name: "hlsl",
			in: Input{
				Source:       shader.Source{Stage: shader.StageVertex, Language: shader.LanguageHLSL, Code: "x", EntryPoint: "VSMain"},
				Optimization: shader.OptimizeSize,
			},
			want: []string{
				"--target-env=vulkan1.4", "-fshader-stage=vert", "-Os",
				"-x", "hlsl", "-fentry-point=VSMain",
				"-o", "out.spv", "-",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.Args(tt.in, "out.spv")
			if !slices.Equal(got, tt.want) {
				t.Errorf("Args() = %v\nwant %v", got, tt.want)
			}
		})
	}
}

func TestGlslc_Compile(t *testing.T) {
	runner := &fakeRunner{handler: glslcHandler}
	g := NewGlslc(GlslcConfig{Runner: runner, Env: []string{"PATH=/usr/bin"}})
	dir := t.TempDir()

	in := Input{Source: shader.Source{Stage: shader.StageCompute, Code: computeGLSL}, Dir: dir}
	art, err := g.Compile(context.Background(), in)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if art.Stage != shader.StageCompute {
		t.Errorf("Stage = %q", art.Stage)
	}
	if art.InputDigest != in.Digest() {
		t.Error("artifact does not carry the input digest")
	}
	if !bytes.Equal(art.SPIRV, testModule(computeGLSL)) {
		t.Error("artifact bytes differ from compiler output")
	}

	spec := runner.LastCall()
	if spec.Path != "glslc" || string(spec.Stdin) != computeGLSL || spec.Dir != dir {
		t.Errorf("unexpected spec: path=%q dir=%q", spec.Path, spec.Dir)
	}
	if spec.Timeout == 0 {
		t.Error("compiler run has no timeout")
	}
}

func TestGlslc_Compile_Deterministic(t *testing.T) {
	runner := &fakeRunner{handler: glslcHandler}
	g := NewGlslc(GlslcConfig{Runner: runner})

	in := Input{
		Source:  shader.Source{Stage: shader.StageCompute, Code: computeGLSL},
		Defines: map[string]string{"N": "4", "M": "2"},
	}
	first, err := g.Compile(context.Background(), in)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	second, err := g.Compile(context.Background(), in)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if !bytes.Equal(first.SPIRV, second.SPIRV) || first.Digest != second.Digest {
		t.Error("identical inputs produced different artifacts")
	}
}

func TestGlslc_Compile_Rejected(t *testing.T) {
	runner := &fakeRunner{handler: func(procexec.Spec) (procexec.Result, error) {
		return procexec.Result{
			ExitCode: 1,
			Stderr: "<stdin>:2: error: '#extension' : extension not supported: GL_FOO_bar\n" +
				"<stdin>:5: warning: unused\n" +
				"1 error and 1 warning generated.\n",
		}, nil
	}}
	g := NewGlslc(GlslcConfig{Runner: runner})

	_, err := g.Compile(context.Background(), Input{
		Source: shader.Source{Stage: shader.StageCompute, Code: "#version 450\n#extension GL_FOO_bar : require\n"},
	})
	if !errors.Is(err, shader.ErrCompile) {
		t.Fatalf("Compile() error = %v, want ErrCompile", err)
	}
	var ce *shader.CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("error type = %T", err)
	}
	if len(ce.Diagnostics) != 2 {
		t.Fatalf("Diagnostics = %+v", ce.Diagnostics)
	}
	d := ce.Diagnostics[0]
	if d.Severity != shader.SeverityError || d.Line != 2 || d.File != "shader.comp" {
		t.Errorf("first diagnostic = %+v", d)
	}
	if ce.Log == "" {
		t.Error("raw compiler log missing")
	}
}

func TestGlslc_Compile_NoDiagnostics(t *testing.T) {
	runner := &fakeRunner{handler: func(procexec.Spec) (procexec.Result, error) {
		return procexec.Result{ExitCode: 2}, nil
	}}
	g := NewGlslc(GlslcConfig{Runner: runner})

	_, err := g.Compile(context.Background(), Input{Source: shader.Source{Stage: shader.StageVertex, Code: "x"}})
	var ce *shader.CompileError
	if !errors.As(err, &ce) || len(ce.Diagnostics) != 1 {
		t.Fatalf("Compile() error = %v", err)
	}
}

func TestGlslc_Compile_Timeout(t *testing.T) {
	runner := &fakeRunner{handler: func(procexec.Spec) (procexec.Result, error) {
		return procexec.Result{}, fmt.Errorf("%w: glslc exceeded 1s", shader.ErrTimeout)
	}}
	g := NewGlslc(GlslcConfig{Runner: runner})

	_, err := g.Compile(context.Background(), Input{Source: shader.Source{Stage: shader.StageCompute, Code: "x"}})
	if !errors.Is(err, shader.ErrTimeout) {
		t.Errorf("Compile() error = %v, want ErrTimeout", err)
	}
	if errors.Is(err, shader.ErrCompile) {
		t.Error("timeout reported as compile error")
	}
}

func TestGlslc_Compile_BadModule(t *testing.T) {
	runner := &fakeRunner{handler: func(procexec.Spec) (procexec.Result, error) {
		return procexec.Result{Stdout: "not spir-v"}, nil
	}}
	g := NewGlslc(GlslcConfig{Runner: runner})

	if _, err := g.Compile(context.Background(), Input{Source: shader.Source{Stage: shader.StageCompute, Code: "x"}}); err == nil {
		t.Error("Compile() expected error for invalid module")
	}
}

func TestGlslc_Compile_NotConfigured(t *testing.T) {
	g := NewGlslc(GlslcConfig{})
	_, err := g.Compile(context.Background(), Input{Source: shader.Source{Stage: shader.StageCompute, Code: "x"}})
	if !errors.Is(err, ErrRunnerNotConfigured) {
		t.Errorf("Compile() error = %v, want ErrRunnerNotConfigured", err)
	}
}

func TestParseDiagnostics(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   []shader.Diagnostic
	}{
		{
			name:   "located error",
			output: "<stdin>:7: error: 'x' : undeclared identifier\n1 error generated.\n",
			want: []shader.Diagnostic{
				{Stage: shader.StageFragment, Severity: shader.SeverityError, Message: "'x' : undeclared identifier", File: "shader.frag", Line: 7},
			},
		},
		{
			name:   "column",
			output: "shader.hlsl:3:14: error: unknown type\n",
			want: []shader.Diagnostic{
				{Stage: shader.StageFragment, Severity: shader.SeverityError, Message: "unknown type", File: "shader.hlsl", Line: 3, Column: 14},
			},
		},
		{
			name:   "tool error",
			output: "glslc: error: invalid value 'vulkan9' in '--target-env=vulkan9'\n",
			want: []shader.Diagnostic{
				{Stage: shader.StageFragment, Severity: shader.SeverityError, Message: "invalid value 'vulkan9' in '--target-env=vulkan9'"},
			},
		},
		{
			name:   "continuation",
			output: "<stdin>:1: error: syntax error\n  void main( {\n",
			want: []shader.Diagnostic{
				{Stage: shader.StageFragment, Severity: shader.SeverityError, Message: "syntax error\nvoid main( {", File: "shader.frag", Line: 1},
			},
		},
		{
			name:   "empty",
			output: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseDiagnostics(tt.output, shader.StageFragment, "shader.frag")
			if !slices.Equal(got, tt.want) {
				t.Errorf("parseDiagnostics() = %+v\nwant %+v", got, tt.want)
			}
		})
	}
}
