package shader

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// SPIRVMagic is the first word of every SPIR-V module.
const SPIRVMagic uint32 = 0x07230203

// Artifact is the compiled SPIR-V for one stage. Artifacts are never
// mutated after NewArtifact returns.
type Artifact struct {
	Stage Stage

	// SPIRV holds the little-endian module bytes.
	SPIRV []byte

	// Digest is the hex SHA-256 of SPIRV.
	Digest string

	// InputDigest identifies the compile input that produced this artifact.
	InputDigest string

	// Diagnostics holds non-fatal compiler messages.
	Diagnostics []Diagnostic
}

// NewArtifact copies spirv and computes its digest.
func NewArtifact(stage Stage, inputDigest string, spirv []byte, diags []Diagnostic) Artifact {
	sum := sha256.Sum256(spirv)
	return Artifact{
		Stage:       stage,
		SPIRV:       slices.Clone(spirv),
		Digest:      hex.EncodeToString(sum[:]),
		InputDigest: inputDigest,
		Diagnostics: slices.Clone(diags),
	}
}

// Words decodes the module into 32-bit words and checks the header magic.
func (a Artifact) Words() ([]uint32, error) {
	if len(a.SPIRV) == 0 || len(a.SPIRV)%4 != 0 {
		return nil, fmt.Errorf("spir-v for %s stage has invalid length %d", a.Stage.Name(), len(a.SPIRV))
	}
	words := make([]uint32, len(a.SPIRV)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(a.SPIRV[i*4:])
	}
	if words[0] != SPIRVMagic {
		return nil, fmt.Errorf("spir-v for %s stage has bad magic %#08x", a.Stage.Name(), words[0])
	}
	return words, nil
}

// InputDigest returns a stable hex digest of everything that determines a
// compiler's output for src.
func InputDigest(src Source, defines map[string]string, opt OptimizationLevel, env TargetEnv) string {
	h := sha256.New()
	fmt.Fprintf(h, "stage=%s\nlanguage=%s\nentry=%s\nopt=%s\nenv=%s\n",
		src.Stage, src.LanguageOf(), src.Entry(), opt, env)
	names := make([]string, 0, len(defines))
	for name := range defines {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(h, "define %s=%s\n", name, defines[name])
	}
	h.Write([]byte(strings.TrimRight(src.Code, "\x00")))
	return hex.EncodeToString(h.Sum(nil))
}
