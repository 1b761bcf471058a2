package compile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/shaderexec/shader"
)

// ErrCompilerExists is returned when registering a second compiler for a
// language.
var ErrCompilerExists = errors.New("compiler already registered")

// Registry maps source languages to compilers.
type Registry struct {
	mu        sync.RWMutex
	compilers map[shader.Language]Compiler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		compilers: make(map[shader.Language]Compiler),
	}
}

// Register adds c as the compiler for lang.
func (r *Registry) Register(lang shader.Language, c Compiler) error {
	if c == nil {
		return fmt.Errorf("compiler is nil")
	}
	if !lang.IsValid() {
		return fmt.Errorf("unknown language %q", lang)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.compilers[lang]; exists {
		return fmt.Errorf("%w: %s", ErrCompilerExists, lang)
	}
	r.compilers[lang] = c
	return nil
}

// Get returns the compiler for lang.
func (r *Registry) Get(lang shader.Language) (Compiler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.compilers[lang]
	return c, ok
}

// Languages returns the registered languages sorted for deterministic
// output.
func (r *Registry) Languages() []shader.Language {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]shader.Language, 0, len(r.compilers))
	for lang := range r.compilers {
		out = append(out, lang)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CompileAll compiles every source of req concurrently and returns the
// artifacts in pipeline stage order. When several stages are rejected their
// diagnostics are merged into one *shader.CompileError. Any other failure
// (timeout, cancellation, missing compiler) takes precedence over compile
// errors.
func (r *Registry) CompileAll(ctx context.Context, req shader.Request, dir string) ([]shader.Artifact, error) {
	compilers := make([]Compiler, len(req.Sources))
	for i, src := range req.Sources {
		c, ok := r.Get(src.LanguageOf())
		if !ok {
			return nil, &shader.ValidationError{
				Field:   fmt.Sprintf("sources[%d].language", i),
				Message: fmt.Sprintf("no compiler available for %s", src.LanguageOf()),
			}
		}
		compilers[i] = c
	}

	artifacts := make([]shader.Artifact, len(req.Sources))
	errs := make([]error, len(req.Sources))

	var g errgroup.Group
	for i, src := range req.Sources {
		in := Input{
			Source:       src,
			Defines:      req.Defines,
			Optimization: req.Optimization,
			TargetEnv:    req.TargetEnv,
			Dir:          dir,
		}
		g.Go(func() error {
			artifacts[i], errs[i] = compilers[i].Compile(ctx, in)
			return nil
		})
	}
	_ = g.Wait()

	order := make([]int, len(req.Sources))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return req.Sources[order[a]].Stage.Less(req.Sources[order[b]].Stage)
	})

	var merged *shader.CompileError
	for _, i := range order {
		err := errs[i]
		if err == nil {
			continue
		}
		var ce *shader.CompileError
		if !errors.As(err, &ce) {
			return nil, err
		}
		if merged == nil {
			merged = &shader.CompileError{Stage: ce.Stage, Err: ce.Err}
		}
		merged.Diagnostics = append(merged.Diagnostics, ce.Diagnostics...)
		merged.Log = joinLogs(merged.Log, ce.Log)
	}
	if merged != nil {
		return nil, merged
	}

	out := make([]shader.Artifact, 0, len(order))
	for _, i := range order {
		out = append(out, artifacts[i])
	}
	return out, nil
}

func joinLogs(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "\n" + b
}
