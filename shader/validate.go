package shader

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"
	"time"
)

// Numeric ranges accepted by Validate.
const (
	MaxWorkgroups = 65535
	MaxBinding    = 1023
	MaxSet        = 31

	// MaxIndex is the largest index an index buffer holds.
	MaxIndex = 65535

	// MaxBufferExtent bounds every buffer, whatever Limits.MaxBufferBytes
	// says.
	MaxBufferExtent = 1 << 30
)

var (
	identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	flagsRe      = regexp.MustCompile(`^[A-Za-z0-9_]+( *\| *[A-Za-z0-9_]+)*$`)
)

// Limits carries the server-side bounds a request is validated against.
type Limits struct {
	// MaxTimeout caps Request.TimeoutMs. Zero means no cap.
	MaxTimeout time.Duration

	// Languages lists the languages a compiler is registered for. Empty
	// means every language is accepted.
	Languages []Language

	// MaxBufferBytes caps declared buffer sizes and the extent of buffer
	// data and probes. Zero, or anything above MaxBufferExtent, means
	// MaxBufferExtent.
	MaxBufferBytes int
}

// BufferBytes returns the effective buffer cap.
func (l Limits) BufferBytes() int {
	if l.MaxBufferBytes <= 0 || l.MaxBufferBytes > MaxBufferExtent {
		return MaxBufferExtent
	}
	return l.MaxBufferBytes
}

// Validate checks the shape of r: enums, ranges, required fields. It does
// not check data types or buffer extents; the script assembler does.
func (r Request) Validate(limits Limits) error {
	if len(r.Sources) == 0 {
		return &ValidationError{Field: "sources", Message: "at least one source is required"}
	}
	seen := make(map[Stage]bool)
	hasWGSL := false
	for i, src := range r.Sources {
		field := fmt.Sprintf("sources[%d]", i)
		if !src.Stage.IsValid() {
			return &ValidationError{Field: field + ".stage", Message: fmt.Sprintf("unknown stage %q", src.Stage)}
		}
		if seen[src.Stage] {
			return &ValidationError{Field: field + ".stage", Message: fmt.Sprintf("duplicate %s stage", src.Stage.Name())}
		}
		seen[src.Stage] = true
		lang := src.LanguageOf()
		if !lang.IsValid() {
			return &ValidationError{Field: field + ".language", Message: fmt.Sprintf("unknown language %q", src.Language)}
		}
		if len(limits.Languages) > 0 && !slices.Contains(limits.Languages, lang) {
			return &ValidationError{Field: field + ".language", Message: fmt.Sprintf("no compiler available for %s", lang)}
		}
		if lang == LanguageWGSL {
			hasWGSL = true
		}
		if strings.TrimSpace(src.Code) == "" {
			return &ValidationError{Field: field + ".source", Message: "source is empty"}
		}
		if src.EntryPoint != "" && !identifierRe.MatchString(src.EntryPoint) {
			return &ValidationError{Field: field + ".entry_point", Message: fmt.Sprintf("invalid entry point %q", src.EntryPoint)}
		}
		if lang == LanguageGLSL && src.Entry() != "main" {
			return &ValidationError{Field: field + ".entry_point", Message: "glsl sources must use the entry point main"}
		}
	}
	if seen[StageCompute] && len(seen) > 1 {
		return &ValidationError{Field: "sources", Message: "compute cannot be combined with graphics stages"}
	}

	for name, value := range r.Defines {
		if !identifierRe.MatchString(name) {
			return &ValidationError{Field: "defines", Message: fmt.Sprintf("invalid define name %q", name)}
		}
		if strings.ContainsAny(value, "\r\n\x00") {
			return &ValidationError{Field: "defines." + name, Message: "value must be a single line"}
		}
	}
	if hasWGSL && len(r.Defines) > 0 {
		return &ValidationError{Field: "defines", Message: "defines are not supported for wgsl sources"}
	}
	if r.Optimization != "" && !r.Optimization.IsValid() {
		return &ValidationError{Field: "optimization", Message: fmt.Sprintf("unknown optimization level %q", r.Optimization)}
	}
	if r.TargetEnv != "" && !r.TargetEnv.IsValid() {
		return &ValidationError{Field: "target_env", Message: fmt.Sprintf("unknown target environment %q", r.TargetEnv)}
	}
	if r.TimeoutMs < 0 {
		return &ValidationError{Field: "timeout_ms", Message: "must not be negative"}
	}
	if limits.MaxTimeout > 0 && int64(r.TimeoutMs) > limits.MaxTimeout.Milliseconds() {
		return &ValidationError{Field: "timeout_ms", Message: fmt.Sprintf("exceeds maximum of %d", limits.MaxTimeout.Milliseconds())}
	}

	if err := r.Requirements.validate(); err != nil {
		return err
	}
	if err := r.Layouts.validate(); err != nil {
		return err
	}
	if err := r.validateBuffers(limits); err != nil {
		return err
	}
	for i, d := range r.Push {
		field := fmt.Sprintf("push_constants[%d]", i)
		if err := validateData(field, d); err != nil {
			return err
		}
		if err := checkDataEnd(field, d, r.PushLayout(), limits.BufferBytes()); err != nil {
			return err
		}
	}
	if err := r.VertexData.validate(); err != nil {
		return err
	}
	for i, idx := range r.Indices {
		if idx < 0 || idx > MaxIndex {
			return &ValidationError{Field: fmt.Sprintf("indices[%d]", i), Message: fmt.Sprintf("must be in 0..%d", MaxIndex)}
		}
	}
	if n := len(r.Tolerance); n != 0 && n != 1 && n != 4 {
		return &ValidationError{Field: "tolerance", Message: "expects one or four values"}
	}
	for i, t := range r.Tolerance {
		if t < 0 {
			return &ValidationError{Field: fmt.Sprintf("tolerance[%d]", i), Message: "must not be negative"}
		}
	}
	for i, c := range r.Commands {
		if err := c.validate(fmt.Sprintf("commands[%d]", i)); err != nil {
			return err
		}
	}
	for i, p := range r.Probes {
		field := fmt.Sprintf("probes[%d]", i)
		if err := p.validate(field); err != nil {
			return err
		}
		if bp := p.Buffer; bp != nil {
			d := BufferData{Type: bp.Type, Offset: bp.Offset, Values: bp.Values}
			if err := checkDataEnd(field+".buffer", d, r.LayoutOf(bp.KindOf()), limits.BufferBytes()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *Layouts) validate() error {
	if l == nil {
		return nil
	}
	for field, name := range map[string]string{"ssbo": l.Storage, "ubo": l.Uniform, "push": l.Push} {
		if _, ok := ParseLayout(name); name != "" && !ok {
			return &ValidationError{Field: "layouts." + field, Message: fmt.Sprintf("unknown layout %q, want std140 or std430", name)}
		}
	}
	return nil
}

func (req *Requirements) validate() error {
	if req == nil {
		return nil
	}
	for i, f := range req.Features {
		if !identifierRe.MatchString(f) {
			return &ValidationError{Field: fmt.Sprintf("requirements.features[%d]", i), Message: fmt.Sprintf("invalid feature name %q", f)}
		}
	}
	for field, format := range map[string]string{"framebuffer": req.Framebuffer, "depthstencil": req.DepthStencil} {
		if format != "" && !identifierRe.MatchString(format) {
			return &ValidationError{Field: "requirements." + field, Message: fmt.Sprintf("invalid format %q", format)}
		}
	}
	if n := len(req.FramebufferSize); n != 0 {
		if n != 2 || req.FramebufferSize[0] <= 0 || req.FramebufferSize[1] <= 0 {
			return &ValidationError{Field: "requirements.fbsize", Message: "expects positive width and height"}
		}
	}
	if req.SubgroupSize < 0 || req.SubgroupSize&(req.SubgroupSize-1) != 0 {
		return &ValidationError{Field: "requirements.subgroup_size", Message: "must be a power of two"}
	}
	if cm := req.CooperativeMatrix; cm != nil {
		if cm.M <= 0 || cm.N <= 0 || cm.K < 0 {
			return &ValidationError{Field: "requirements.cooperative_matrix", Message: "m and n must be positive"}
		}
		if cm.Type != "" && !identifierRe.MatchString(cm.Type) {
			return &ValidationError{Field: "requirements.cooperative_matrix.type", Message: fmt.Sprintf("invalid type %q", cm.Type)}
		}
	}
	return nil
}

func (r Request) validateBuffers(limits Limits) error {
	type slot struct {
		kind         BufferKind
		set, binding int
	}
	maxBytes := limits.BufferBytes()
	seen := make(map[slot]bool)
	for i, b := range r.Buffers {
		field := fmt.Sprintf("buffers[%d]", i)
		kind := b.KindOf()
		if kind != BufferStorage && kind != BufferUniform {
			return &ValidationError{Field: field + ".kind", Message: fmt.Sprintf("unknown buffer kind %q", b.Kind)}
		}
		if b.Set < 0 || b.Set > MaxSet {
			return &ValidationError{Field: field + ".set", Message: fmt.Sprintf("must be in 0..%d", MaxSet)}
		}
		if b.Binding < 0 || b.Binding > MaxBinding {
			return &ValidationError{Field: field + ".binding", Message: fmt.Sprintf("must be in 0..%d", MaxBinding)}
		}
		if b.Size < 0 {
			return &ValidationError{Field: field + ".size", Message: "must not be negative"}
		}
		if b.Size > maxBytes {
			return &ValidationError{Field: field + ".size", Message: fmt.Sprintf("exceeds maximum of %d bytes", maxBytes)}
		}
		if b.Size == 0 && len(b.Data) == 0 {
			return &ValidationError{Field: field, Message: "either size or data is required"}
		}
		s := slot{kind: kind, set: b.Set, binding: b.Binding}
		if seen[s] {
			return &ValidationError{Field: field + ".binding", Message: fmt.Sprintf("duplicate %s binding %d:%d", kind, b.Set, b.Binding)}
		}
		seen[s] = true
		for j, d := range b.Data {
			dataField := fmt.Sprintf("%s.data[%d]", field, j)
			if err := validateData(dataField, d); err != nil {
				return err
			}
			if err := checkDataEnd(dataField, d, r.LayoutOf(kind), maxBytes); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateData(field string, d BufferData) error {
	if d.Type == "" {
		return &ValidationError{Field: field + ".type", Message: "type is required"}
	}
	if d.Offset < 0 {
		return &ValidationError{Field: field + ".offset", Message: "must not be negative"}
	}
	if len(d.Values) == 0 {
		return &ValidationError{Field: field + ".values", Message: "at least one value is required"}
	}
	if len(d.Literals) != 0 && len(d.Literals) != len(d.Values) {
		return &ValidationError{Field: field + ".values", Message: "literals do not match the values"}
	}
	return nil
}

// checkDataEnd rejects data reaching past maxBytes. Unknown types are left
// to the assembler.
func checkDataEnd(field string, d BufferData, layout Layout, maxBytes int) error {
	if d.Offset > maxBytes {
		return &ValidationError{Field: field + ".offset", Message: fmt.Sprintf("exceeds maximum buffer size of %d bytes", maxBytes)}
	}
	typ, ok := LookupType(d.Type)
	if !ok {
		return nil
	}
	end, ok := typ.Extent(layout, d.Offset, len(d.Values)/typ.Components())
	if !ok || end > maxBytes {
		return &ValidationError{Field: field + ".values", Message: fmt.Sprintf("data reaches past the maximum buffer size of %d bytes", maxBytes)}
	}
	return nil
}

func (vd *VertexData) validate() error {
	if vd == nil {
		return nil
	}
	if len(vd.Attributes) == 0 {
		return &ValidationError{Field: "vertex_data.attributes", Message: "at least one attribute is required"}
	}
	for i, a := range vd.Attributes {
		if a.Location < 0 {
			return &ValidationError{Field: fmt.Sprintf("vertex_data.attributes[%d].location", i), Message: "must not be negative"}
		}
		if !identifierRe.MatchString(a.Format) {
			return &ValidationError{Field: fmt.Sprintf("vertex_data.attributes[%d].format", i), Message: fmt.Sprintf("invalid format %q", a.Format)}
		}
	}
	if len(vd.Rows) == 0 {
		return &ValidationError{Field: "vertex_data.rows", Message: "at least one row is required"}
	}
	return nil
}

func (c Command) validate(field string) error {
	set := 0
	for _, ok := range []bool{c.Compute != nil, c.DrawRect != nil, c.DrawArrays != nil, c.Clear != nil, c.Pipeline != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return &ValidationError{Field: field, Message: "exactly one of compute, draw_rect, draw_arrays, clear or pipeline is required"}
	}
	switch {
	case c.Compute != nil:
		x, y, z := c.Compute.Groups()
		for _, n := range []int{x, y, z} {
			if n < 1 || n > MaxWorkgroups {
				return &ValidationError{Field: field + ".compute", Message: fmt.Sprintf("workgroup counts must be in 1..%d", MaxWorkgroups)}
			}
		}
	case c.DrawRect != nil:
		if c.DrawRect.Width <= 0 || c.DrawRect.Height <= 0 {
			return &ValidationError{Field: field + ".draw_rect", Message: "width and height must be positive"}
		}
	case c.DrawArrays != nil:
		if !identifierRe.MatchString(c.DrawArrays.Topology) {
			return &ValidationError{Field: field + ".draw_arrays.topology", Message: fmt.Sprintf("invalid topology %q", c.DrawArrays.Topology)}
		}
		if c.DrawArrays.First < 0 || c.DrawArrays.Count < 1 {
			return &ValidationError{Field: field + ".draw_arrays", Message: "first must be non-negative and count positive"}
		}
	case c.Clear != nil:
		if n := len(c.Clear.Color); n != 0 && n != 4 {
			return &ValidationError{Field: field + ".clear.color", Message: "expects four components"}
		}
	case c.Pipeline != nil:
		return c.Pipeline.validate(field + ".pipeline")
	}
	return nil
}

func (p *PipelineState) validate(field string) error {
	if *p == (PipelineState{}) {
		return &ValidationError{Field: field, Message: "at least one setting is required"}
	}
	enums := []struct {
		name, value string
	}{
		{"depth_compare_op", p.DepthCompareOp},
		{"front_face", p.FrontFace},
		{"logic_op", p.LogicOp},
	}
	for _, e := range enums {
		if e.value != "" && !identifierRe.MatchString(e.value) {
			return &ValidationError{Field: field + "." + e.name, Message: fmt.Sprintf("invalid value %q", e.value)}
		}
	}
	for name, value := range map[string]string{"cull_mode": p.CullMode, "color_write_mask": p.ColorWriteMask} {
		if value != "" && !flagsRe.MatchString(value) {
			return &ValidationError{Field: field + "." + name, Message: fmt.Sprintf("invalid flags %q", value)}
		}
	}
	if w := p.LineWidth; w != nil && (math.IsNaN(*w) || math.IsInf(*w, 0) || *w <= 0) {
		return &ValidationError{Field: field + ".line_width", Message: "must be positive"}
	}
	for name, face := range map[string]*StencilFace{"front": p.Front, "back": p.Back} {
		if face == nil {
			continue
		}
		if *face == (StencilFace{}) {
			return &ValidationError{Field: field + "." + name, Message: "at least one setting is required"}
		}
		for op, value := range map[string]string{
			"fail_op":       face.FailOp,
			"pass_op":       face.PassOp,
			"depth_fail_op": face.DepthFailOp,
			"compare_op":    face.CompareOp,
		} {
			if value != "" && !identifierRe.MatchString(value) {
				return &ValidationError{Field: field + "." + name + "." + op, Message: fmt.Sprintf("invalid value %q", value)}
			}
		}
		if ref := face.Reference; ref != nil && (*ref < 0 || int64(*ref) > math.MaxUint32) {
			return &ValidationError{Field: field + "." + name + ".reference", Message: "must be in 0..4294967295"}
		}
	}
	return nil
}

func (p Probe) validate(field string) error {
	if (p.Buffer == nil) == (p.Pixel == nil) {
		return &ValidationError{Field: field, Message: "exactly one of buffer or pixel is required"}
	}
	if strings.ContainsAny(p.Description, "\r\n") {
		return &ValidationError{Field: field + ".description", Message: "must be a single line"}
	}
	if bp := p.Buffer; bp != nil {
		kind := bp.KindOf()
		if kind != BufferStorage && kind != BufferUniform {
			return &ValidationError{Field: field + ".buffer.kind", Message: fmt.Sprintf("unknown buffer kind %q", bp.Kind)}
		}
		if bp.Set < 0 || bp.Set > MaxSet {
			return &ValidationError{Field: field + ".buffer.set", Message: fmt.Sprintf("must be in 0..%d", MaxSet)}
		}
		if bp.Binding < 0 || bp.Binding > MaxBinding {
			return &ValidationError{Field: field + ".buffer.binding", Message: fmt.Sprintf("must be in 0..%d", MaxBinding)}
		}
		if !bp.OpOf().IsValid() {
			return &ValidationError{Field: field + ".buffer.op", Message: fmt.Sprintf("unknown operator %q", bp.Op)}
		}
		return validateData(field+".buffer", BufferData{Type: bp.Type, Offset: bp.Offset, Values: bp.Values})
	}
	pp := p.Pixel
	if n := len(pp.Color); n != 3 && n != 4 {
		return &ValidationError{Field: field + ".pixel.color", Message: "expects three or four components"}
	}
	if rel := pp.Relative; rel != nil {
		if pp.All || pp.X != 0 || pp.Y != 0 || pp.Width != 0 || pp.Height != 0 {
			return &ValidationError{Field: field + ".pixel.relative", Message: "cannot be combined with all or pixel coordinates"}
		}
		for _, v := range []float64{rel.X, rel.Y, rel.Width, rel.Height} {
			if math.IsNaN(v) || v < 0 || v > 1 {
				return &ValidationError{Field: field + ".pixel.relative", Message: "coordinates must be in 0..1"}
			}
		}
		if (rel.Width == 0) != (rel.Height == 0) {
			return &ValidationError{Field: field + ".pixel.relative", Message: "width and height must be set together"}
		}
		if rel.X+rel.Width > 1 || rel.Y+rel.Height > 1 {
			return &ValidationError{Field: field + ".pixel.relative", Message: "rectangle extends past the framebuffer"}
		}
		return nil
	}
	if pp.X < 0 || pp.Y < 0 || pp.Width < 0 || pp.Height < 0 {
		return &ValidationError{Field: field + ".pixel", Message: "coordinates must not be negative"}
	}
	if (pp.Width == 0) != (pp.Height == 0) {
		return &ValidationError{Field: field + ".pixel", Message: "width and height must be set together"}
	}
	return nil
}
