package dispatch

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jonwraymond/shaderexec/compile"
	"github.com/jonwraymond/shaderexec/procexec"
	"github.com/jonwraymond/shaderexec/runner"
	"github.com/jonwraymond/shaderexec/script"
	"github.com/jonwraymond/shaderexec/shader"
	"github.com/jonwraymond/shaderexec/workspace"
)

const computeGLSL = `#version 450
layout(local_size_x = 1) in;
layout(std430, binding = 0) buffer Out { uint value; };
void main() { value = 8u; }
`

const passVerdict = "PIGLIT: {\"result\": \"pass\" }\n"

// vkrunnerFunc answers one vkrunner invocation. script is the contents of
// the test file.
type vkrunnerFunc func(ctx context.Context, spec procexec.Spec, script string) (procexec.Result, error)

// fakeProcs stands in for glslc and vkrunner.
type fakeProcs struct {
	mu       sync.Mutex
	glslc    []procexec.Spec
	vkrunner []procexec.Spec
	run      vkrunnerFunc
}

func (f *fakeProcs) Run(ctx context.Context, spec procexec.Spec) (procexec.Result, error) {
	switch spec.Path {
	case "glslc":
		f.mu.Lock()
		f.glslc = append(f.glslc, spec)
		f.mu.Unlock()
		return fakeGlslc(spec)
	case "vkrunner":
		f.mu.Lock()
		f.vkrunner = append(f.vkrunner, spec)
		run := f.run
		f.mu.Unlock()
		data, err := os.ReadFile(filepath.Join(spec.Dir, spec.Args[len(spec.Args)-1]))
		if err != nil {
			return procexec.Result{}, err
		}
		return run(ctx, spec, string(data))
	default:
		return procexec.Result{}, fmt.Errorf("unexpected process %q", spec.Path)
	}
}

func (f *fakeProcs) RunnerCalls() []procexec.Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]procexec.Spec{}, f.vkrunner...)
}

func (f *fakeProcs) CompilerCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.glslc)
}

// fakeGlslc compiles anything except sources enabling GL_EXT_unsupported.
func fakeGlslc(spec procexec.Spec) (procexec.Result, error) {
	src := string(spec.Stdin)
	if strings.Contains(src, "GL_EXT_unsupported") {
		return procexec.Result{
			ExitCode: 1,
			Stderr:   "<stdin>:2: error: '#extension' : extension not supported: GL_EXT_unsupported\n1 error generated.\n",
		}, nil
	}
	words := []uint32{shader.SPIRVMagic, 0x00010600, 0, uint32(len(src)), 0}
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	out := spec.Args[len(spec.Args)-2]
	return procexec.Result{}, os.WriteFile(out, buf, 0o600)
}

// probeLines returns the 1-based lines of probe commands in a script.
func probeLines(text string) []int {
	var lines []int
	for i, l := range strings.Split(text, "\n") {
		if strings.HasPrefix(l, "probe ") {
			lines = append(lines, i+1)
		}
	}
	return lines
}

func passAll(context.Context, procexec.Spec, string) (procexec.Result, error) {
	return procexec.Result{Stdout: passVerdict}, nil
}

type harness struct {
	d     *Dispatcher
	procs *fakeProcs
	root  string
}

func newHarness(t *testing.T, run vkrunnerFunc, tweak func(*Config)) *harness {
	t.Helper()
	procs := &fakeProcs{run: run}

	root := t.TempDir()
	ws, err := workspace.NewManager(workspace.Config{Root: root})
	if err != nil {
		t.Fatal(err)
	}
	reg := compile.NewRegistry()
	glslc := compile.NewGlslc(compile.GlslcConfig{Runner: procs})
	for _, lang := range []shader.Language{shader.LanguageGLSL, shader.LanguageHLSL} {
		if err := reg.Register(lang, glslc); err != nil {
			t.Fatal(err)
		}
	}

	cfg := Config{
		Workspace:     ws,
		Compilers:     reg,
		Executor:      runner.New(runner.Config{Runner: procs}),
		MaxConcurrent: 4,
	}
	if tweak != nil {
		tweak(&cfg)
	}
	d, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return &harness{d: d, procs: procs, root: root}
}

// assertNoScratch fails when any session directory is left behind.
func (h *harness) assertNoScratch(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch directories left behind: %d", len(entries))
	}
}

func computeRequest() shader.Request {
	return shader.Request{
		Sources:  []shader.Source{{Stage: shader.StageCompute, Code: computeGLSL}},
		Buffers:  []shader.Buffer{{Binding: 0, Size: 4}},
		Commands: []shader.Command{{Compute: &shader.Compute{X: 1}}},
		Probes: []shader.Probe{{
			Buffer: &shader.BufferProbe{Binding: 0, Type: "uint", Values: []float64{8}},
		}},
	}
}

// panicExecutor panics inside the workspace.
type panicExecutor struct{}

func (panicExecutor) Execute(context.Context, *workspace.Session, *script.Script, runner.Options) (runner.Result, error) {
	panic("executor exploded")
}

// blockingExecutor holds every run until release is closed.
type blockingExecutor struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingExecutor) Execute(ctx context.Context, _ *workspace.Session, _ *script.Script, _ runner.Options) (runner.Result, error) {
	b.started <- struct{}{}
	select {
	case <-b.release:
		return runner.Result{Stdout: passVerdict, Completed: true}, nil
	case <-ctx.Done():
		return runner.Result{}, fmt.Errorf("%w: %v", shader.ErrCanceled, ctx.Err())
	}
}
