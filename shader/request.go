package shader

import (
	"maps"
	"slices"
)

// Request is one compile-and-run invocation.
type Request struct {
	Sources      []Source          `json:"sources" jsonschema:"shader sources, at most one per stage"`
	Defines      map[string]string `json:"defines,omitempty" jsonschema:"preprocessor defines applied to every GLSL or HLSL source"`
	Optimization OptimizationLevel `json:"optimization,omitempty" jsonschema:"one of none, size, performance"`
	TargetEnv    TargetEnv         `json:"target_env,omitempty" jsonschema:"Vulkan target environment such as vulkan1.3"`
	Requirements *Requirements     `json:"requirements,omitempty" jsonschema:"device features and formats the test needs"`
	Buffers      []Buffer          `json:"buffers,omitempty" jsonschema:"storage and uniform buffers bound before the commands run"`
	Push         []BufferData      `json:"push_constants,omitempty" jsonschema:"push constant values"`
	Layouts      *Layouts          `json:"layouts,omitempty" jsonschema:"memory layouts of buffer and push constant data"`
	VertexData   *VertexData       `json:"vertex_data,omitempty" jsonschema:"vertex attributes for draw_arrays"`
	Indices      []int             `json:"indices,omitempty" jsonschema:"index buffer for indexed draw_arrays"`
	Tolerance    []float64         `json:"tolerance,omitempty" jsonschema:"probe tolerance, one value or one per component"`
	Commands     []Command         `json:"commands,omitempty" jsonschema:"dispatch and draw commands in execution order"`
	Probes       []Probe           `json:"probes,omitempty" jsonschema:"assertions checked after all commands ran"`
	CaptureImage bool              `json:"capture_image,omitempty" jsonschema:"return the rendered framebuffer as a PNG"`
	TimeoutMs    int               `json:"timeout_ms,omitempty" jsonschema:"execution timeout in milliseconds, capped by the server"`
}

// Source is the code for one stage.
type Source struct {
	Stage      Stage    `json:"stage" jsonschema:"vert, tesc, tese, geom, frag or comp"`
	Language   Language `json:"language,omitempty" jsonschema:"glsl (default), hlsl or wgsl"`
	Code       string   `json:"source" jsonschema:"shader source text"`
	EntryPoint string   `json:"entry_point,omitempty" jsonschema:"entry point name, defaults to main"`
}

// Requirements lists what the device must support for the test to run.
type Requirements struct {
	Features          []string           `json:"features,omitempty" jsonschema:"device feature or extension names, for example shaderFloat64 or VK_KHR_shader_float16_int8"`
	Framebuffer       string             `json:"framebuffer,omitempty" jsonschema:"framebuffer VkFormat, for example R8G8B8A8_UNORM"`
	DepthStencil      string             `json:"depthstencil,omitempty" jsonschema:"depth/stencil VkFormat"`
	FramebufferSize   []int              `json:"fbsize,omitempty" jsonschema:"framebuffer width and height"`
	SubgroupSize      int                `json:"subgroup_size,omitempty" jsonschema:"required subgroup size for compute"`
	CooperativeMatrix *CooperativeMatrix `json:"cooperative_matrix,omitempty"`
}

// CooperativeMatrix describes a required cooperative matrix configuration.
type CooperativeMatrix struct {
	M    int    `json:"m"`
	N    int    `json:"n"`
	K    int    `json:"k,omitempty"`
	Type string `json:"type,omitempty" jsonschema:"component type, for example float16"`
}

// BufferKind selects the descriptor type of a Buffer.
type BufferKind string

// Buffer kinds.
const (
	BufferStorage BufferKind = "ssbo"
	BufferUniform BufferKind = "ubo"
)

// Buffer is a descriptor-bound buffer.
type Buffer struct {
	Kind    BufferKind   `json:"kind,omitempty" jsonschema:"ssbo (default) or ubo"`
	Set     int          `json:"set,omitempty" jsonschema:"descriptor set"`
	Binding int          `json:"binding" jsonschema:"binding number"`
	Size    int          `json:"size,omitempty" jsonschema:"size in bytes; defaults to the extent of data"`
	Data    []BufferData `json:"data,omitempty" jsonschema:"initial contents"`
}

// BufferData is a typed run of values at a byte offset.
type BufferData struct {
	Type   string    `json:"type" jsonschema:"data type such as uint, float, vec4 or mat4"`
	Offset int       `json:"offset,omitempty" jsonschema:"byte offset"`
	Values []float64 `json:"values" jsonschema:"values, a multiple of the type's component count"`

	// Literals holds the decoded JSON text of each value, parallel to
	// Values. 64-bit integer types are formatted from it exactly.
	Literals []string `json:"-"`
}

// Layouts overrides the default memory layout per buffer kind.
type Layouts struct {
	Storage string `json:"ssbo,omitempty" jsonschema:"std430 (default) or std140"`
	Uniform string `json:"ubo,omitempty" jsonschema:"std140 (default) or std430"`
	Push    string `json:"push,omitempty" jsonschema:"std430 (default) or std140"`
}

// VertexData is the contents of the vertex buffer.
type VertexData struct {
	Attributes []VertexAttribute `json:"attributes"`
	Rows       [][]float64       `json:"rows" jsonschema:"one row per vertex with the components of every attribute"`
}

// VertexAttribute is one vertex input.
type VertexAttribute struct {
	Location int    `json:"location"`
	Format   string `json:"format" jsonschema:"VkFormat without the VK_FORMAT_ prefix, for example R32G32_SFLOAT"`
}

// Command is one step of the test. Exactly one field must be set.
type Command struct {
	Compute    *Compute       `json:"compute,omitempty"`
	DrawRect   *DrawRect      `json:"draw_rect,omitempty"`
	DrawArrays *DrawArrays    `json:"draw_arrays,omitempty"`
	Clear      *Clear         `json:"clear,omitempty"`
	Pipeline   *PipelineState `json:"pipeline,omitempty" jsonschema:"fixed-function state applied to the draws that follow"`
}

// Compute dispatches workgroups.
type Compute struct {
	X int `json:"x"`
	Y int `json:"y,omitempty"`
	Z int `json:"z,omitempty"`
}

// Groups returns the workgroup counts with unset dimensions defaulted to one.
func (c Compute) Groups() (x, y, z int) {
	x, y, z = c.X, c.Y, c.Z
	if y == 0 {
		y = 1
	}
	if z == 0 {
		z = 1
	}
	return x, y, z
}

// DrawRect draws a rectangle in normalized device coordinates.
type DrawRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DrawArrays draws from the vertex data.
type DrawArrays struct {
	Topology string `json:"topology" jsonschema:"primitive topology, for example TRIANGLE_LIST"`
	First    int    `json:"first,omitempty"`
	Count    int    `json:"count"`
	Indexed  bool   `json:"indexed,omitempty" jsonschema:"draw through indices; first and count address the index buffer"`
}

// Clear clears the framebuffer.
type Clear struct {
	Color []float64 `json:"color,omitempty" jsonschema:"rgba clear color"`
	Depth *float64  `json:"depth,omitempty"`
}

// PipelineState sets graphics pipeline state. Unset fields keep their
// current value. Enum values are Vulkan names such as VK_COMPARE_OP_LESS.
type PipelineState struct {
	DepthTest      *bool        `json:"depth_test,omitempty"`
	DepthWrite     *bool        `json:"depth_write,omitempty"`
	DepthCompareOp string       `json:"depth_compare_op,omitempty" jsonschema:"VkCompareOp, for example VK_COMPARE_OP_LESS"`
	StencilTest    *bool        `json:"stencil_test,omitempty"`
	Front          *StencilFace `json:"front,omitempty" jsonschema:"stencil state of front faces"`
	Back           *StencilFace `json:"back,omitempty" jsonschema:"stencil state of back faces"`
	FrontFace      string       `json:"front_face,omitempty" jsonschema:"VkFrontFace, for example VK_FRONT_FACE_CLOCKWISE"`
	CullMode       string       `json:"cull_mode,omitempty" jsonschema:"VkCullModeFlags, for example VK_CULL_MODE_BACK_BIT"`
	ColorWriteMask string       `json:"color_write_mask,omitempty" jsonschema:"VkColorComponentFlags, for example VK_COLOR_COMPONENT_R_BIT|VK_COLOR_COMPONENT_A_BIT"`
	LogicOpEnable  *bool        `json:"logic_op_enable,omitempty"`
	LogicOp        string       `json:"logic_op,omitempty" jsonschema:"VkLogicOp, for example VK_LOGIC_OP_XOR"`
	LineWidth      *float64     `json:"line_width,omitempty"`
}

// StencilFace is the stencil state of one face.
type StencilFace struct {
	FailOp      string `json:"fail_op,omitempty" jsonschema:"VkStencilOp, for example VK_STENCIL_OP_KEEP"`
	PassOp      string `json:"pass_op,omitempty" jsonschema:"VkStencilOp"`
	DepthFailOp string `json:"depth_fail_op,omitempty" jsonschema:"VkStencilOp"`
	CompareOp   string `json:"compare_op,omitempty" jsonschema:"VkCompareOp"`
	Reference   *int   `json:"reference,omitempty" jsonschema:"stencil reference value"`
}

// Probe is an assertion over a buffer or the framebuffer. Exactly one of
// Buffer or Pixel must be set.
type Probe struct {
	Description string       `json:"description,omitempty" jsonschema:"label echoed back in the outcome"`
	Buffer      *BufferProbe `json:"buffer,omitempty"`
	Pixel       *PixelProbe  `json:"pixel,omitempty"`
}

// ProbeOp is a probe comparison operator.
type ProbeOp string

// Comparison operators understood by the runner.
const (
	OpEqual        ProbeOp = "=="
	OpNotEqual     ProbeOp = "!="
	OpLess         ProbeOp = "<"
	OpLessEqual    ProbeOp = "<="
	OpGreater      ProbeOp = ">"
	OpGreaterEqual ProbeOp = ">="
	OpFuzzyEqual   ProbeOp = "~="
)

// ProbeOps returns every supported operator.
func ProbeOps() []ProbeOp {
	return []ProbeOp{OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpFuzzyEqual}
}

// IsValid reports whether op is supported.
func (op ProbeOp) IsValid() bool {
	return slices.Contains(ProbeOps(), op)
}

// BufferProbe compares buffer contents with expected values.
type BufferProbe struct {
	Kind    BufferKind `json:"kind,omitempty" jsonschema:"ssbo (default) or ubo"`
	Set     int        `json:"set,omitempty"`
	Binding int        `json:"binding"`
	Type    string     `json:"type"`
	Offset  int        `json:"offset,omitempty"`
	Op      ProbeOp    `json:"op,omitempty" jsonschema:"comparison, defaults to =="`
	Values  []float64  `json:"values"`

	// Literals is the decoded text of Values, as in BufferData.
	Literals []string `json:"-"`
}

// PixelProbe compares framebuffer colors. With All set the whole
// framebuffer is checked; with Relative set a point or rectangle in
// framebuffer fractions; with Width and Height set a rectangle in pixels;
// otherwise the single pixel at X, Y.
type PixelProbe struct {
	All      bool            `json:"all,omitempty"`
	X        int             `json:"x,omitempty"`
	Y        int             `json:"y,omitempty"`
	Width    int             `json:"width,omitempty"`
	Height   int             `json:"height,omitempty"`
	Relative *RelativeRegion `json:"relative,omitempty" jsonschema:"region in fractions of the framebuffer size, instead of x, y, width and height"`
	Color    []float64       `json:"color" jsonschema:"expected rgb or rgba color"`
}

// RelativeRegion is a point, or a rectangle when Width and Height are set,
// with coordinates in 0..1.
type RelativeRegion struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
}

// Clone returns a deep copy of r so later stages never observe caller
// mutation.
func (r Request) Clone() Request {
	out := r
	out.Sources = slices.Clone(r.Sources)
	out.Defines = maps.Clone(r.Defines)
	if r.Requirements != nil {
		req := *r.Requirements
		req.Features = slices.Clone(req.Features)
		req.FramebufferSize = slices.Clone(req.FramebufferSize)
		if req.CooperativeMatrix != nil {
			cm := *req.CooperativeMatrix
			req.CooperativeMatrix = &cm
		}
		out.Requirements = &req
	}
	out.Buffers = make([]Buffer, len(r.Buffers))
	for i, b := range r.Buffers {
		b.Data = cloneData(b.Data)
		out.Buffers[i] = b
	}
	if r.Buffers == nil {
		out.Buffers = nil
	}
	out.Push = cloneData(r.Push)
	if r.Layouts != nil {
		l := *r.Layouts
		out.Layouts = &l
	}
	out.Indices = slices.Clone(r.Indices)
	if r.VertexData != nil {
		vd := VertexData{Attributes: slices.Clone(r.VertexData.Attributes)}
		for _, row := range r.VertexData.Rows {
			vd.Rows = append(vd.Rows, slices.Clone(row))
		}
		out.VertexData = &vd
	}
	out.Tolerance = slices.Clone(r.Tolerance)
	out.Commands = make([]Command, len(r.Commands))
	for i, c := range r.Commands {
		out.Commands[i] = c.clone()
	}
	if r.Commands == nil {
		out.Commands = nil
	}
	out.Probes = make([]Probe, len(r.Probes))
	for i, p := range r.Probes {
		if p.Buffer != nil {
			bp := *p.Buffer
			bp.Values = slices.Clone(bp.Values)
			bp.Literals = slices.Clone(bp.Literals)
			p.Buffer = &bp
		}
		if p.Pixel != nil {
			pp := *p.Pixel
			pp.Color = slices.Clone(pp.Color)
			if pp.Relative != nil {
				rel := *pp.Relative
				pp.Relative = &rel
			}
			p.Pixel = &pp
		}
		out.Probes[i] = p
	}
	if r.Probes == nil {
		out.Probes = nil
	}
	return out
}

func (c Command) clone() Command {
	out := Command{}
	if c.Compute != nil {
		v := *c.Compute
		out.Compute = &v
	}
	if c.DrawRect != nil {
		v := *c.DrawRect
		out.DrawRect = &v
	}
	if c.DrawArrays != nil {
		v := *c.DrawArrays
		out.DrawArrays = &v
	}
	if c.Clear != nil {
		v := Clear{Color: slices.Clone(c.Clear.Color)}
		if c.Clear.Depth != nil {
			d := *c.Clear.Depth
			v.Depth = &d
		}
		out.Clear = &v
	}
	if c.Pipeline != nil {
		out.Pipeline = c.Pipeline.clone()
	}
	return out
}

func (p *PipelineState) clone() *PipelineState {
	out := *p
	out.DepthTest = cloneBool(p.DepthTest)
	out.DepthWrite = cloneBool(p.DepthWrite)
	out.StencilTest = cloneBool(p.StencilTest)
	out.LogicOpEnable = cloneBool(p.LogicOpEnable)
	if p.LineWidth != nil {
		w := *p.LineWidth
		out.LineWidth = &w
	}
	for _, face := range []**StencilFace{&out.Front, &out.Back} {
		if *face == nil {
			continue
		}
		f := **face
		if f.Reference != nil {
			ref := *f.Reference
			f.Reference = &ref
		}
		*face = &f
	}
	return &out
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

func cloneData(in []BufferData) []BufferData {
	if in == nil {
		return nil
	}
	out := make([]BufferData, len(in))
	for i, d := range in {
		d.Values = slices.Clone(d.Values)
		d.Literals = slices.Clone(d.Literals)
		out[i] = d
	}
	return out
}

// StageList returns the stages of r's sources in pipeline order.
func (r Request) StageList() []Stage {
	out := make([]Stage, 0, len(r.Sources))
	for _, s := range r.Sources {
		out = append(out, s.Stage)
	}
	slices.SortFunc(out, func(a, b Stage) int {
		return a.order() - b.order()
	})
	return out
}

// HasStage reports whether r has a source for stage.
func (r Request) HasStage(stage Stage) bool {
	for _, s := range r.Sources {
		if s.Stage == stage {
			return true
		}
	}
	return false
}

// LanguageOf returns the effective language of s.
func (s Source) LanguageOf() Language {
	if s.Language == "" {
		return LanguageGLSL
	}
	return s.Language
}

// Entry returns the effective entry point of s.
func (s Source) Entry() string {
	if s.EntryPoint == "" {
		return "main"
	}
	return s.EntryPoint
}

// LayoutOf returns the layout of kind's data, honouring r.Layouts.
func (r Request) LayoutOf(kind BufferKind) Layout {
	name := ""
	if r.Layouts != nil {
		if kind == BufferUniform {
			name = r.Layouts.Uniform
		} else {
			name = r.Layouts.Storage
		}
	}
	if l, ok := ParseLayout(name); ok {
		return l
	}
	return LayoutFor(kind)
}

// PushLayout returns the layout of push constant data.
func (r Request) PushLayout() Layout {
	if r.Layouts != nil {
		if l, ok := ParseLayout(r.Layouts.Push); ok {
			return l
		}
	}
	return LayoutStd430
}

// KindOf returns the effective kind of b.
func (b Buffer) KindOf() BufferKind {
	if b.Kind == "" {
		return BufferStorage
	}
	return b.Kind
}

// KindOf returns the effective kind of p.
func (p BufferProbe) KindOf() BufferKind {
	if p.Kind == "" {
		return BufferStorage
	}
	return p.Kind
}

// OpOf returns the effective comparison of p.
func (p BufferProbe) OpOf() ProbeOp {
	if p.Op == "" {
		return OpEqual
	}
	return p.Op
}
