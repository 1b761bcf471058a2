package shader

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func computeRequest() Request {
	return Request{
		Sources: []Source{{
			Stage: StageCompute,
			Code:  "#version 450\nvoid main() {}\n",
		}},
		Buffers: []Buffer{{
			Binding: 0,
			Size:    16,
		}},
		Commands: []Command{{Compute: &Compute{X: 1}}},
		Probes: []Probe{{
			Buffer: &BufferProbe{Binding: 0, Type: "uint", Values: []float64{8}},
		}},
	}
}

func TestRequest_Validate(t *testing.T) {
	limits := Limits{
		MaxTimeout:     10 * time.Second,
		Languages:      []Language{LanguageGLSL, LanguageHLSL},
		MaxBufferBytes: 64 << 20,
	}
	enable := true

	tests := []struct {
		name   string
		mutate func(r *Request)
		field  string
	}{
		{name: "valid", mutate: func(r *Request) {}},
		{
			name:   "no sources",
			mutate: func(r *Request) { r.Sources = nil },
			field:  "sources",
		},
		{
			name:   "unknown stage",
			mutate: func(r *Request) { r.Sources[0].Stage = "pixel" },
			field:  "sources[0].stage",
		},
		{
			name: "duplicate stage",
			mutate: func(r *Request) {
				r.Sources = append(r.Sources, r.Sources[0])
			},
			field: "sources[1].stage",
		},
		{
			name:   "language without compiler",
			mutate: func(r *Request) { r.Sources[0].Language = LanguageWGSL },
			field:  "sources[0].language",
		},
		{
			name:   "empty source",
			mutate: func(r *Request) { r.Sources[0].Code = "  \n" },
			field:  "sources[0].source",
		},
		{
			name: "compute mixed with graphics",
			mutate: func(r *Request) {
				r.Sources = append(r.Sources, Source{Stage: StageFragment, Code: "void main() {}"})
			},
			field: "sources",
		},
		{
			name:   "bad define name",
			mutate: func(r *Request) { r.Defines = map[string]string{"1X": "1"} },
			field:  "defines",
		},
		{
			name:   "multi-line define",
			mutate: func(r *Request) { r.Defines = map[string]string{"N": "1\n#error"} },
			field:  "defines.N",
		},
		{
			name:   "unknown optimization",
			mutate: func(r *Request) { r.Optimization = "fast" },
			field:  "optimization",
		},
		{
			name:   "timeout above cap",
			mutate: func(r *Request) { r.TimeoutMs = 60000 },
			field:  "timeout_ms",
		},
		{
			name:   "timeout overflowing a duration",
			mutate: func(r *Request) { r.TimeoutMs = 9_300_000_000_000 },
			field:  "timeout_ms",
		},
		{
			name:   "glsl entry point other than main",
			mutate: func(r *Request) { r.Sources[0].EntryPoint = "foo" },
			field:  "sources[0].entry_point",
		},
		{
			name:   "glsl entry point main",
			mutate: func(r *Request) { r.Sources[0].EntryPoint = "main" },
		},
		{
			name: "hlsl entry point",
			mutate: func(r *Request) {
				r.Sources[0].Language = LanguageHLSL
				r.Sources[0].EntryPoint = "CSMain"
			},
		},
		{
			name:   "buffer size above cap",
			mutate: func(r *Request) { r.Buffers[0].Size = 64<<20 + 1 },
			field:  "buffers[0].size",
		},
		{
			name: "data offset above cap",
			mutate: func(r *Request) {
				r.Buffers[0] = Buffer{Binding: 0, Data: []BufferData{{Type: "uint", Offset: 1 << 40, Values: []float64{1}}}}
			},
			field: "buffers[0].data[0].offset",
		},
		{
			name: "data running past cap",
			mutate: func(r *Request) {
				r.Buffers[0] = Buffer{Binding: 0, Data: []BufferData{{Type: "vec4", Offset: 64<<20 - 8, Values: []float64{1, 2, 3, 4}}}}
			},
			field: "buffers[0].data[0].values",
		},
		{
			name: "std140 layout widens data past cap",
			mutate: func(r *Request) {
				r.Layouts = &Layouts{Storage: "std140"}
				r.Buffers[0] = Buffer{Binding: 0, Data: []BufferData{{Type: "float", Offset: 64<<20 - 16, Values: []float64{1, 2}}}}
			},
			field: "buffers[0].data[0].values",
		},
		{
			name: "probe offset wrapping int",
			mutate: func(r *Request) {
				r.Probes[0].Buffer.Offset = 9223372036854775800
				r.Probes[0].Buffer.Values = []float64{8, 8}
			},
			field: "probes[0].buffer.offset",
		},
		{
			name:   "push constants past cap",
			mutate: func(r *Request) { r.Push = []BufferData{{Type: "uint", Offset: 1 << 31, Values: []float64{1}}} },
			field:  "push_constants[0].offset",
		},
		{
			name:   "unknown layout",
			mutate: func(r *Request) { r.Layouts = &Layouts{Uniform: "row_major"} },
			field:  "layouts.ubo",
		},
		{
			name:   "index out of range",
			mutate: func(r *Request) { r.Indices = []int{0, 1, 65536} },
			field:  "indices[2]",
		},
		{
			name:   "empty pipeline state",
			mutate: func(r *Request) { r.Commands[0] = Command{Pipeline: &PipelineState{}} },
			field:  "commands[0].pipeline",
		},
		{
			name: "pipeline state",
			mutate: func(r *Request) {
				ref := 3
				r.Commands = append(r.Commands, Command{Pipeline: &PipelineState{
					DepthTest:      &enable,
					DepthCompareOp: "VK_COMPARE_OP_LESS",
					Front:          &StencilFace{PassOp: "VK_STENCIL_OP_REPLACE", Reference: &ref},
					CullMode:       "VK_CULL_MODE_FRONT_BIT | VK_CULL_MODE_BACK_BIT",
				}})
			},
		},
		{
			name: "pipeline enum with spaces",
			mutate: func(r *Request) {
				r.Commands[0] = Command{Pipeline: &PipelineState{DepthCompareOp: "LESS\ncompute 1 1 1"}}
			},
			field: "commands[0].pipeline.depth_compare_op",
		},
		{
			name: "stencil reference out of range",
			mutate: func(r *Request) {
				ref := -1
				r.Commands[0] = Command{Pipeline: &PipelineState{Back: &StencilFace{Reference: &ref}}}
			},
			field: "commands[0].pipeline.back.reference",
		},
		{
			name: "zero line width",
			mutate: func(r *Request) {
				w := 0.0
				r.Commands[0] = Command{Pipeline: &PipelineState{LineWidth: &w}}
			},
			field: "commands[0].pipeline.line_width",
		},
		{
			name: "two commands in one",
			mutate: func(r *Request) {
				r.Commands[0].Pipeline = &PipelineState{LogicOp: "VK_LOGIC_OP_XOR"}
			},
			field: "commands[0]",
		},
		{
			name: "relative probe outside the framebuffer",
			mutate: func(r *Request) {
				r.Probes[0] = Probe{Pixel: &PixelProbe{Relative: &RelativeRegion{X: 0.5, Y: 0.5, Width: 0.75, Height: 0.25}, Color: []float64{1, 0, 0}}}
			},
			field: "probes[0].pixel.relative",
		},
		{
			name: "relative probe with pixel coordinates",
			mutate: func(r *Request) {
				r.Probes[0] = Probe{Pixel: &PixelProbe{X: 3, Relative: &RelativeRegion{X: 0.5, Y: 0.5}, Color: []float64{1, 0, 0}}}
			},
			field: "probes[0].pixel.relative",
		},
		{
			name: "relative probe",
			mutate: func(r *Request) {
				r.Probes[0] = Probe{Pixel: &PixelProbe{Relative: &RelativeRegion{X: 0.25, Y: 0.25, Width: 0.5, Height: 0.5}, Color: []float64{1, 0, 0}}}
			},
		},
		{
			name:   "binding out of range",
			mutate: func(r *Request) { r.Buffers[0].Binding = 1024 },
			field:  "buffers[0].binding",
		},
		{
			name:   "set out of range",
			mutate: func(r *Request) { r.Buffers[0].Set = 32 },
			field:  "buffers[0].set",
		},
		{
			name:   "duplicate binding",
			mutate: func(r *Request) { r.Buffers = append(r.Buffers, Buffer{Binding: 0, Size: 4}) },
			field:  "buffers[1].binding",
		},
		{
			name:   "zero workgroups",
			mutate: func(r *Request) { r.Commands[0].Compute.X = 0 },
			field:  "commands[0].compute",
		},
		{
			name:   "too many workgroups",
			mutate: func(r *Request) { r.Commands[0].Compute.Z = 65536 },
			field:  "commands[0].compute",
		},
		{
			name:   "empty command",
			mutate: func(r *Request) { r.Commands[0] = Command{} },
			field:  "commands[0]",
		},
		{
			name:   "unknown probe op",
			mutate: func(r *Request) { r.Probes[0].Buffer.Op = "=~" },
			field:  "probes[0].buffer.op",
		},
		{
			name: "probe with two targets",
			mutate: func(r *Request) {
				r.Probes[0].Pixel = &PixelProbe{All: true, Color: []float64{1, 0, 0, 1}}
			},
			field: "probes[0]",
		},
		{
			name:   "bad tolerance",
			mutate: func(r *Request) { r.Tolerance = []float64{0.1, 0.1} },
			field:  "tolerance",
		},
		{
			name: "subgroup size not a power of two",
			mutate: func(r *Request) {
				r.Requirements = &Requirements{SubgroupSize: 12}
			},
			field: "requirements.subgroup_size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := computeRequest().Clone()
			tt.mutate(&req)
			err := req.Validate(limits)
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("Validate() error = %v, want ErrValidation", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Validate() error type = %T", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestRequest_Validate_WGSLDefines(t *testing.T) {
	req := Request{
		Sources: []Source{{Stage: StageCompute, Language: LanguageWGSL, Code: "@compute @workgroup_size(1) fn main() {}"}},
		Defines: map[string]string{"N": "4"},
	}
	err := req.Validate(Limits{})
	if err == nil || !strings.Contains(err.Error(), "wgsl") {
		t.Fatalf("Validate() error = %v, want wgsl define rejection", err)
	}
}

func TestRequest_Validate_DefaultBufferCap(t *testing.T) {
	req := computeRequest()
	req.Buffers[0] = Buffer{Binding: 0, Data: []BufferData{{Type: "uint", Offset: MaxBufferExtent, Values: []float64{1}}}}
	var ve *ValidationError
	if err := req.Validate(Limits{}); !errors.As(err, &ve) || ve.Field != "buffers[0].data[0].values" {
		t.Errorf("Validate() without a configured cap = %v, want the data rejected", err)
	}
}

func TestRequest_Clone(t *testing.T) {
	orig := computeRequest()
	orig.Defines = map[string]string{"N": "1"}
	on, ref := true, 1
	orig.Commands = append(orig.Commands, Command{Pipeline: &PipelineState{
		DepthTest: &on,
		Front:     &StencilFace{Reference: &ref},
	}})
	orig.Probes[0].Buffer.Literals = []string{"8"}
	clone := orig.Clone()

	clone.Defines["N"] = "2"
	clone.Probes[0].Buffer.Values[0] = 9
	clone.Probes[0].Buffer.Literals[0] = "9"
	clone.Commands[0].Compute.X = 7
	*clone.Commands[1].Pipeline.DepthTest = false
	*clone.Commands[1].Pipeline.Front.Reference = 2
	if !*orig.Commands[1].Pipeline.DepthTest || *orig.Commands[1].Pipeline.Front.Reference != 1 {
		t.Error("Clone shares pipeline state")
	}
	if orig.Probes[0].Buffer.Literals[0] != "8" {
		t.Error("Clone shares probe literals")
	}

	if orig.Defines["N"] != "1" {
		t.Error("Clone shares defines")
	}
	if orig.Probes[0].Buffer.Values[0] != 8 {
		t.Error("Clone shares probe values")
	}
	if orig.Commands[0].Compute.X != 1 {
		t.Error("Clone shares commands")
	}
}

func TestRequest_StageList(t *testing.T) {
	req := Request{Sources: []Source{{Stage: StageFragment}, {Stage: StageVertex}}}
	got := req.StageList()
	if len(got) != 2 || got[0] != StageVertex || got[1] != StageFragment {
		t.Errorf("StageList() = %v, want [vert frag]", got)
	}
}
