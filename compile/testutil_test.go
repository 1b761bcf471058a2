package compile

import (
	"context"
	"encoding/binary"
	"os"
	"sync"

	"github.com/jonwraymond/shaderexec/procexec"
	"github.com/jonwraymond/shaderexec/shader"
)

// fakeRunner records process specs and answers them with handler.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []procexec.Spec
	handler func(spec procexec.Spec) (procexec.Result, error)
}

func (f *fakeRunner) Run(_ context.Context, spec procexec.Spec) (procexec.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, spec)
	f.mu.Unlock()
	return f.handler(spec)
}

func (f *fakeRunner) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRunner) LastCall() procexec.Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

// testModule returns a minimal SPIR-V byte stream whose content depends on
// seed.
func testModule(seed string) []byte {
	words := []uint32{shader.SPIRVMagic, 0x00010600, 0, uint32(len(seed)), 0}
	for _, r := range seed {
		words = append(words, uint32(r))
	}
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return buf
}

// glslcHandler behaves like a successful glslc: it writes a module derived
// from stdin to the -o path.
func glslcHandler(spec procexec.Spec) (procexec.Result, error) {
	out := ""
	for i, a := range spec.Args {
		if a == "-o" && i+1 < len(spec.Args) {
			out = spec.Args[i+1]
		}
	}
	module := testModule(string(spec.Stdin))
	if out == "-" {
		return procexec.Result{Stdout: string(module)}, nil
	}
	if err := os.WriteFile(out, module, 0o600); err != nil {
		return procexec.Result{}, err
	}
	return procexec.Result{}, nil
}

// stubCompiler returns a fixed artifact or error.
type stubCompiler struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubCompiler) Compile(_ context.Context, in Input) (shader.Artifact, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return shader.Artifact{}, s.err
	}
	return shader.NewArtifact(in.Source.Stage, in.Digest(), testModule(in.Source.Code), nil), nil
}
