package shader

// Stage identifies a pipeline stage. Values match the glslc -fshader-stage
// names.
type Stage string

// Supported pipeline stages.
const (
	StageVertex      Stage = "vert"
	StageTessControl Stage = "tesc"
	StageTessEval    Stage = "tese"
	StageGeometry    Stage = "geom"
	StageFragment    Stage = "frag"
	StageCompute     Stage = "comp"
)

// Stages returns every stage in pipeline order.
func Stages() []Stage {
	return []Stage{
		StageVertex,
		StageTessControl,
		StageTessEval,
		StageGeometry,
		StageFragment,
		StageCompute,
	}
}

// IsValid reports whether s is a known stage.
func (s Stage) IsValid() bool {
	return s.order() >= 0
}

// Name returns the long stage name used in runner section headers,
// for example "tessellation control".
func (s Stage) Name() string {
	switch s {
	case StageVertex:
		return "vertex"
	case StageTessControl:
		return "tessellation control"
	case StageTessEval:
		return "tessellation evaluation"
	case StageGeometry:
		return "geometry"
	case StageFragment:
		return "fragment"
	case StageCompute:
		return "compute"
	default:
		return string(s)
	}
}

// IsGraphics reports whether s belongs to the graphics pipeline.
func (s Stage) IsGraphics() bool {
	return s.IsValid() && s != StageCompute
}

func (s Stage) order() int {
	for i, st := range Stages() {
		if st == s {
			return i
		}
	}
	return -1
}

// Less orders stages by their position in the pipeline.
func (s Stage) Less(other Stage) bool {
	return s.order() < other.order()
}

// Language is a shader source language.
type Language string

// Supported source languages.
const (
	LanguageGLSL Language = "glsl"
	LanguageHLSL Language = "hlsl"
	LanguageWGSL Language = "wgsl"
)

// IsValid reports whether l is a known language.
func (l Language) IsValid() bool {
	switch l {
	case LanguageGLSL, LanguageHLSL, LanguageWGSL:
		return true
	}
	return false
}

// OptimizationLevel controls compiler optimization.
type OptimizationLevel string

// Optimization levels.
const (
	OptimizeNone        OptimizationLevel = "none"
	OptimizeSize        OptimizationLevel = "size"
	OptimizePerformance OptimizationLevel = "performance"
)

// IsValid reports whether o is a known optimization level.
func (o OptimizationLevel) IsValid() bool {
	switch o {
	case OptimizeNone, OptimizeSize, OptimizePerformance:
		return true
	}
	return false
}

// TargetEnv is the Vulkan environment shaders are compiled for.
type TargetEnv string

// Target environments understood by glslc.
const (
	TargetVulkan10 TargetEnv = "vulkan1.0"
	TargetVulkan11 TargetEnv = "vulkan1.1"
	TargetVulkan12 TargetEnv = "vulkan1.2"
	TargetVulkan13 TargetEnv = "vulkan1.3"
	TargetVulkan14 TargetEnv = "vulkan1.4"
)

// IsValid reports whether t is a known target environment.
func (t TargetEnv) IsValid() bool {
	switch t {
	case TargetVulkan10, TargetVulkan11, TargetVulkan12, TargetVulkan13, TargetVulkan14:
		return true
	}
	return false
}
