package script

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jonwraymond/shaderexec/shader"
)

// Values written per script line.
const (
	wordsPerLine   = 8
	indicesPerLine = 16
)

type bufferSlot struct {
	kind         shader.BufferKind
	set, binding int
}

func (b bufferSlot) String() string {
	if b.set == 0 {
		return strconv.Itoa(b.binding)
	}
	return fmt.Sprintf("%d:%d", b.set, b.binding)
}

// Assemble renders req and its artifacts into a script. req must already
// have passed shader.Request.Validate; artifacts must be the compile results
// of req's own sources.
func Assemble(req shader.Request, artifacts []shader.Artifact) (*Script, error) {
	byStage, err := matchArtifacts(req, artifacts)
	if err != nil {
		return nil, err
	}
	if err := checkCommands(req, byStage); err != nil {
		return nil, err
	}
	extents, err := bufferExtents(req)
	if err != nil {
		return nil, err
	}

	s := &Script{}
	s.add("# shaderexec generated test")

	if err := writeRequire(s, req.Requirements); err != nil {
		return nil, err
	}

	for _, stage := range shader.Stages() {
		art, ok := byStage[stage]
		if !ok {
			continue
		}
		if stage == shader.StageFragment && !req.HasStage(shader.StageVertex) {
			s.add("")
			s.add("[vertex shader passthrough]")
		}
		words, err := art.Words()
		if err != nil {
			return nil, &shader.AssemblyError{Field: "artifacts", Message: err.Error()}
		}
		s.add("")
		s.add("[%s shader binary]", stage.Name())
		for i := 0; i < len(words); i += wordsPerLine {
			end := min(i+wordsPerLine, len(words))
			hex := make([]string, 0, end-i)
			for _, w := range words[i:end] {
				hex = append(hex, fmt.Sprintf("%08x", w))
			}
			s.add("%s", strings.Join(hex, " "))
		}
		s.stages = append(s.stages, stage)
	}

	if req.VertexData != nil {
		if err := writeVertexData(s, req.VertexData); err != nil {
			return nil, err
		}
	}
	if len(req.Indices) > 0 {
		s.add("")
		s.add("[indices]")
		for i := 0; i < len(req.Indices); i += indicesPerLine {
			end := min(i+indicesPerLine, len(req.Indices))
			idx := make([]string, 0, end-i)
			for _, n := range req.Indices[i:end] {
				idx = append(idx, strconv.Itoa(n))
			}
			s.add("%s", strings.Join(idx, " "))
		}
	}

	s.add("")
	s.add("[test]")
	for _, src := range req.Sources {
		if src.EntryPoint != "" && src.EntryPoint != "main" {
			s.add("%s entrypoint %s", src.Stage.Name(), src.EntryPoint)
		}
	}
	if l := req.Layouts; l != nil {
		if l.Storage != "" {
			s.add("ssbo layout %s", req.LayoutOf(shader.BufferStorage))
		}
		if l.Uniform != "" {
			s.add("ubo layout %s", req.LayoutOf(shader.BufferUniform))
		}
		if l.Push != "" {
			s.add("push layout %s", req.PushLayout())
		}
	}

	for i, b := range req.Buffers {
		slot := bufferSlot{kind: b.KindOf(), set: b.Set, binding: b.Binding}
		if slot.kind == shader.BufferStorage {
			s.add("ssbo %s %d", slot, extents[slot])
		}
		for j, d := range b.Data {
			vals, err := formatValues(fmt.Sprintf("buffers[%d].data[%d]", i, j), d.Type, d.Values, d.Literals)
			if err != nil {
				return nil, err
			}
			s.add("%s %s subdata %s %d %s", slot.kind, slot, d.Type, d.Offset, vals)
		}
	}

	for i, d := range req.Push {
		vals, err := formatValues(fmt.Sprintf("push_constants[%d]", i), d.Type, d.Values, d.Literals)
		if err != nil {
			return nil, err
		}
		s.add("push %s %d %s", d.Type, d.Offset, vals)
	}

	if len(req.Tolerance) > 0 {
		s.add("tolerance %s", joinFloats(req.Tolerance, " "))
	}

	for _, c := range req.Commands {
		writeCommand(s, c)
	}

	for i, p := range req.Probes {
		field := fmt.Sprintf("probes[%d]", i)
		var text, expected string
		if p.Buffer != nil {
			text, expected, err = bufferProbe(field, p.Buffer, req.LayoutOf(p.Buffer.KindOf()), extents)
		} else {
			text, expected, err = pixelProbe(field, p.Pixel)
		}
		if err != nil {
			return nil, err
		}
		line := s.add("%s", text)
		desc := p.Description
		if desc == "" {
			desc = text
		}
		s.probes = append(s.probes, ProbeLine{
			Index:       i,
			Line:        line,
			Description: desc,
			Expected:    expected,
			Text:        text,
		})
	}
	return s, nil
}

// matchArtifacts pairs every source with exactly one artifact produced from
// that source's compile input.
func matchArtifacts(req shader.Request, artifacts []shader.Artifact) (map[shader.Stage]shader.Artifact, error) {
	byStage := make(map[shader.Stage]shader.Artifact, len(artifacts))
	for _, art := range artifacts {
		if _, dup := byStage[art.Stage]; dup {
			return nil, &shader.AssemblyError{Field: "artifacts", Message: fmt.Sprintf("two artifacts for the %s stage", art.Stage.Name())}
		}
		byStage[art.Stage] = art
	}
	for i, src := range req.Sources {
		art, ok := byStage[src.Stage]
		if !ok {
			return nil, &shader.AssemblyError{Field: fmt.Sprintf("sources[%d]", i), Message: fmt.Sprintf("no artifact for the %s stage", src.Stage.Name())}
		}
		want := shader.InputDigest(src, req.Defines, req.Optimization, req.TargetEnv)
		if art.InputDigest != want {
			return nil, &shader.AssemblyError{Field: fmt.Sprintf("sources[%d]", i), Message: fmt.Sprintf("artifact for the %s stage was compiled from a different request", src.Stage.Name())}
		}
	}
	if len(byStage) != len(req.Sources) {
		return nil, &shader.AssemblyError{Field: "artifacts", Message: "artifact for a stage the request does not contain"}
	}
	return byStage, nil
}

func checkCommands(req shader.Request, byStage map[shader.Stage]shader.Artifact) error {
	drawn := false
	for i, c := range req.Commands {
		field := fmt.Sprintf("commands[%d]", i)
		switch {
		case c.Compute != nil:
			if _, ok := byStage[shader.StageCompute]; !ok {
				return &shader.AssemblyError{Field: field, Message: "compute dispatch without a compute shader"}
			}
		case c.DrawRect != nil, c.DrawArrays != nil:
			if _, ok := byStage[shader.StageFragment]; !ok {
				return &shader.AssemblyError{Field: field, Message: "draw without a fragment shader"}
			}
			if c.DrawArrays != nil && req.VertexData == nil {
				return &shader.AssemblyError{Field: field, Message: "draw_arrays without vertex_data"}
			}
			if d := c.DrawArrays; d != nil && d.Indexed {
				if len(req.Indices) == 0 {
					return &shader.AssemblyError{Field: field + ".draw_arrays", Message: "indexed draw without indices"}
				}
				if d.First > len(req.Indices) || d.Count > len(req.Indices)-d.First {
					return &shader.AssemblyError{
						Field:   field + ".draw_arrays",
						Message: fmt.Sprintf("indices %d..%d past the %d given", d.First, d.First+d.Count, len(req.Indices)),
					}
				}
			}
			drawn = true
		case c.Clear != nil:
			drawn = true
		case c.Pipeline != nil:
			if _, ok := byStage[shader.StageFragment]; !ok {
				return &shader.AssemblyError{Field: field, Message: "pipeline state without a fragment shader"}
			}
			p := c.Pipeline
			enabled := func(b *bool) bool { return b != nil && *b }
			if (enabled(p.DepthTest) || enabled(p.StencilTest)) && (req.Requirements == nil || req.Requirements.DepthStencil == "") {
				return &shader.AssemblyError{Field: field + ".pipeline", Message: "depth or stencil testing needs requirements.depthstencil"}
			}
		}
	}
	for i, p := range req.Probes {
		if p.Pixel != nil && !drawn {
			return &shader.AssemblyError{Field: fmt.Sprintf("probes[%d]", i), Message: "framebuffer probe without a draw or clear command"}
		}
	}
	return nil
}

// bufferExtents returns the size in bytes of every declared buffer: the
// declared size, or the end of its data when no size is given. No extent
// exceeds shader.MaxBufferExtent.
func bufferExtents(req shader.Request) (map[bufferSlot]int, error) {
	extents := make(map[bufferSlot]int, len(req.Buffers))
	for i, b := range req.Buffers {
		slot := bufferSlot{kind: b.KindOf(), set: b.Set, binding: b.Binding}
		layout := req.LayoutOf(slot.kind)
		if b.Size > shader.MaxBufferExtent {
			return nil, &shader.AssemblyError{
				Field:   fmt.Sprintf("buffers[%d].size", i),
				Message: fmt.Sprintf("exceeds maximum of %d bytes", shader.MaxBufferExtent),
			}
		}
		if slot.kind == shader.BufferUniform && len(b.Data) == 0 {
			return nil, &shader.AssemblyError{Field: fmt.Sprintf("buffers[%d]", i), Message: "uniform buffers need data"}
		}
		end := 0
		for j, d := range b.Data {
			field := fmt.Sprintf("buffers[%d].data[%d]", i, j)
			typ, count, err := checkValues(field, d.Type, d.Values)
			if err != nil {
				return nil, err
			}
			dataEnd, ok := typ.Extent(layout, d.Offset, count)
			if !ok || dataEnd > shader.MaxBufferExtent {
				return nil, &shader.AssemblyError{
					Field:   field,
					Message: fmt.Sprintf("data reaches past the maximum buffer size of %d bytes", shader.MaxBufferExtent),
				}
			}
			if b.Size > 0 && dataEnd > b.Size {
				return nil, &shader.AssemblyError{
					Field:   field,
					Message: fmt.Sprintf("data ends at byte %d, past the declared buffer size %d", dataEnd, b.Size),
				}
			}
			end = max(end, dataEnd)
		}
		if b.Size > 0 {
			end = b.Size
		}
		extents[slot] = end
	}
	return extents, nil
}

// checkValues resolves typeName and returns how many elements values holds.
func checkValues(field, typeName string, values []float64) (shader.DataType, int, error) {
	typ, ok := shader.LookupType(typeName)
	if !ok {
		return shader.DataType{}, 0, &shader.AssemblyError{Field: field + ".type", Message: fmt.Sprintf("unknown data type %q", typeName)}
	}
	n := typ.Components()
	if len(values)%n != 0 {
		return shader.DataType{}, 0, &shader.AssemblyError{
			Field:   field + ".values",
			Message: fmt.Sprintf("%d values is not a multiple of %d components of %s", len(values), n, typeName),
		}
	}
	return typ, len(values) / n, nil
}

func bufferProbe(field string, p *shader.BufferProbe, layout shader.Layout, extents map[bufferSlot]int) (text, expected string, err error) {
	slot := bufferSlot{kind: p.KindOf(), set: p.Set, binding: p.Binding}
	if slot.kind != shader.BufferStorage {
		return "", "", &shader.AssemblyError{Field: field + ".buffer.kind", Message: "only storage buffers can be probed"}
	}
	extent, ok := extents[slot]
	if !ok {
		return "", "", &shader.AssemblyError{Field: field + ".buffer.binding", Message: fmt.Sprintf("probe on undeclared binding %s", slot)}
	}
	typ, count, err := checkValues(field+".buffer", p.Type, p.Values)
	if err != nil {
		return "", "", err
	}
	if end, ok := typ.Extent(layout, p.Offset, count); !ok || end > extent {
		return "", "", &shader.AssemblyError{
			Field:   field + ".buffer",
			Message: fmt.Sprintf("probe of %d %s values at byte %d reads past the buffer size %d", count, p.Type, p.Offset, extent),
		}
	}
	vals, err := formatValues(field+".buffer", p.Type, p.Values, p.Literals)
	if err != nil {
		return "", "", err
	}
	text = fmt.Sprintf("probe ssbo %s %s %d %s %s", p.Type, slot, p.Offset, p.OpOf(), vals)
	return text, vals, nil
}

func pixelProbe(field string, p *shader.PixelProbe) (text, expected string, err error) {
	for _, c := range p.Color {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return "", "", &shader.AssemblyError{Field: field + ".pixel.color", Message: "color must be finite"}
		}
	}
	format := "rgba"
	if len(p.Color) == 3 {
		format = "rgb"
	}
	switch {
	case p.All:
		expected = joinFloats(p.Color, " ")
		text = fmt.Sprintf("probe all %s %s", format, expected)
	case p.Relative != nil:
		r := p.Relative
		expected = "(" + joinFloats(p.Color, ", ") + ")"
		if r.Width > 0 {
			text = fmt.Sprintf("relative probe rect %s (%s) %s", format, joinFloats([]float64{r.X, r.Y, r.Width, r.Height}, ", "), expected)
		} else {
			text = fmt.Sprintf("relative probe %s (%s) %s", format, joinFloats([]float64{r.X, r.Y}, ", "), expected)
		}
	case p.Width > 0:
		expected = "(" + joinFloats(p.Color, ", ") + ")"
		text = fmt.Sprintf("probe rect %s (%d, %d, %d, %d) %s", format, p.X, p.Y, p.Width, p.Height, expected)
	default:
		expected = "(" + joinFloats(p.Color, ", ") + ")"
		text = fmt.Sprintf("probe %s (%d, %d) %s", format, p.X, p.Y, expected)
	}
	return text, expected, nil
}

func writeRequire(s *Script, req *shader.Requirements) error {
	if req == nil {
		return nil
	}
	var lines []string
	lines = append(lines, req.Features...)
	if req.Framebuffer != "" {
		lines = append(lines, "framebuffer "+req.Framebuffer)
	}
	if req.DepthStencil != "" {
		lines = append(lines, "depthstencil "+req.DepthStencil)
	}
	if len(req.FramebufferSize) == 2 {
		lines = append(lines, fmt.Sprintf("fbsize %d %d", req.FramebufferSize[0], req.FramebufferSize[1]))
	}
	if req.SubgroupSize > 0 {
		lines = append(lines, fmt.Sprintf("subgroup_size %d", req.SubgroupSize))
	}
	if cm := req.CooperativeMatrix; cm != nil {
		line := fmt.Sprintf("cooperative_matrix m=%d n=%d", cm.M, cm.N)
		if cm.K > 0 {
			line += fmt.Sprintf(" k=%d", cm.K)
		}
		if cm.Type != "" {
			if _, ok := shader.LookupType(cm.Type); !ok {
				return &shader.AssemblyError{Field: "requirements.cooperative_matrix.type", Message: fmt.Sprintf("unknown data type %q", cm.Type)}
			}
			line += " c=" + cm.Type
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return nil
	}
	s.add("")
	s.add("[require]")
	for _, l := range lines {
		s.add("%s", l)
	}
	return nil
}

func writeVertexData(s *Script, vd *shader.VertexData) error {
	header := make([]string, 0, len(vd.Attributes))
	for _, a := range vd.Attributes {
		header = append(header, fmt.Sprintf("%d/%s", a.Location, a.Format))
	}
	s.add("")
	s.add("[vertex data]")
	s.add("%s", strings.Join(header, " "))
	width := len(vd.Rows[0])
	for i, row := range vd.Rows {
		if len(row) != width || width == 0 {
			return &shader.AssemblyError{Field: fmt.Sprintf("vertex_data.rows[%d]", i), Message: fmt.Sprintf("row has %d values, want %d", len(row), width)}
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return &shader.AssemblyError{Field: fmt.Sprintf("vertex_data.rows[%d]", i), Message: "values must be finite"}
			}
		}
		s.add("%s", joinFloats(row, " "))
	}
	return nil
}

func writeCommand(s *Script, c shader.Command) {
	switch {
	case c.Compute != nil:
		x, y, z := c.Compute.Groups()
		s.add("compute %d %d %d", x, y, z)
	case c.DrawRect != nil:
		r := c.DrawRect
		s.add("draw rect %s", joinFloats([]float64{r.X, r.Y, r.Width, r.Height}, " "))
	case c.DrawArrays != nil:
		d := c.DrawArrays
		if d.Indexed {
			s.add("draw arrays indexed %s %d %d", d.Topology, d.First, d.Count)
		} else {
			s.add("draw arrays %s %d %d", d.Topology, d.First, d.Count)
		}
	case c.Clear != nil:
		if len(c.Clear.Color) == 4 {
			s.add("clear color %s", joinFloats(c.Clear.Color, " "))
		}
		if c.Clear.Depth != nil {
			s.add("clear depth %s", formatFloat(*c.Clear.Depth))
		}
		s.add("clear")
	case c.Pipeline != nil:
		writePipeline(s, c.Pipeline)
	}
}

func writePipeline(s *Script, p *shader.PipelineState) {
	flag := func(name string, b *bool) {
		if b != nil {
			s.add("%s %t", name, *b)
		}
	}
	value := func(name, v string) {
		if v != "" {
			s.add("%s %s", name, v)
		}
	}
	flag("depthTestEnable", p.DepthTest)
	flag("depthWriteEnable", p.DepthWrite)
	value("depthCompareOp", p.DepthCompareOp)
	flag("stencilTestEnable", p.StencilTest)
	for _, face := range []struct {
		name string
		f    *shader.StencilFace
	}{{"front", p.Front}, {"back", p.Back}} {
		if face.f == nil {
			continue
		}
		value(face.name+".failOp", face.f.FailOp)
		value(face.name+".passOp", face.f.PassOp)
		value(face.name+".depthFailOp", face.f.DepthFailOp)
		value(face.name+".compareOp", face.f.CompareOp)
		if face.f.Reference != nil {
			s.add("%s.reference %d", face.name, *face.f.Reference)
		}
	}
	value("frontFace", p.FrontFace)
	value("cullMode", p.CullMode)
	value("colorWriteMask", p.ColorWriteMask)
	flag("logicOpEnable", p.LogicOpEnable)
	value("logicOp", p.LogicOp)
	if p.LineWidth != nil {
		s.add("lineWidth %s", formatFloat(*p.LineWidth))
	}
}
