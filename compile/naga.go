package compile

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/gogpu/naga"

	"github.com/jonwraymond/shaderexec/shader"
)

// nagaLocRe picks a "line:column" location out of naga error text.
var nagaLocRe = regexp.MustCompile(`\b(\d+):(\d+)\b`)

// Naga compiles WGSL to SPIR-V in-process.
type Naga struct {
	compile func(source string) ([]byte, error)
}

// NewNaga returns a WGSL compiler backed by github.com/gogpu/naga.
func NewNaga() *Naga {
	return &Naga{compile: naga.Compile}
}

// Compile translates one WGSL source. Defines, optimization level and target
// environment do not apply to WGSL and only feed the input digest.
func (n *Naga) Compile(ctx context.Context, in Input) (shader.Artifact, error) {
	if in.Source.LanguageOf() != shader.LanguageWGSL {
		return shader.Artifact{}, fmt.Errorf("naga cannot compile %s", in.Source.LanguageOf())
	}
	if len(in.Defines) > 0 {
		return shader.Artifact{}, &shader.ValidationError{Field: "defines", Message: "defines are not supported for wgsl sources"}
	}
	if err := ctx.Err(); err != nil {
		return shader.Artifact{}, fmt.Errorf("%w: %v", shader.ErrCanceled, err)
	}

	module, err := n.compile(in.Source.Code)
	if err != nil {
		d := shader.Diagnostic{
			Stage:    in.Source.Stage,
			Severity: shader.SeverityError,
			Message:  err.Error(),
			File:     sourceFileName(in.Source),
		}
		if m := nagaLocRe.FindStringSubmatch(err.Error()); m != nil {
			d.Line, _ = strconv.Atoi(m[1])
			d.Column, _ = strconv.Atoi(m[2])
		}
		return shader.Artifact{}, &shader.CompileError{
			Stage:       in.Source.Stage,
			Diagnostics: []shader.Diagnostic{d},
			Log:         err.Error(),
			Err:         err,
		}
	}

	art := shader.NewArtifact(in.Source.Stage, in.Digest(), module, nil)
	if _, err := art.Words(); err != nil {
		return shader.Artifact{}, fmt.Errorf("compile %s: %w", in.Source.Stage.Name(), err)
	}
	return art, nil
}
