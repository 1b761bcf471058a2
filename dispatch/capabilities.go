package dispatch

import (
	"github.com/jonwraymond/shaderexec/capture"
	"github.com/jonwraymond/shaderexec/response"
	"github.com/jonwraymond/shaderexec/shader"
)

// requirementNames are the keys accepted under Request.Requirements.
var requirementNames = []string{
	"features",
	"framebuffer",
	"depthstencil",
	"fbsize",
	"subgroup_size",
	"cooperative_matrix",
}

// commandNames are the keys of a Request command.
var commandNames = []string{"compute", "draw_rect", "draw_arrays", "clear", "pipeline"}

// Capabilities describes what this dispatcher accepts.
func (d *Dispatcher) Capabilities() response.Capabilities {
	c := response.Capabilities{
		Tools:              Tools(),
		OptimizationLevels: []string{string(shader.OptimizeNone), string(shader.OptimizeSize), string(shader.OptimizePerformance)},
		TargetEnvs: []string{
			string(shader.TargetVulkan10),
			string(shader.TargetVulkan11),
			string(shader.TargetVulkan12),
			string(shader.TargetVulkan13),
			string(shader.TargetVulkan14),
		},
		DefaultTargetEnv: string(d.cfg.TargetEnv),
		Requirements:     append([]string{}, requirementNames...),
		Commands:         append([]string{}, commandNames...),
		BufferKinds:      []string{string(shader.BufferStorage), string(shader.BufferUniform)},
		Layouts:          []string{shader.LayoutStd430.String(), shader.LayoutStd140.String()},
		DataTypes:        shader.TypeNames(),
		Limits: response.Limits{
			MaxTimeoutMs:     d.cfg.MaxTimeout.Milliseconds(),
			DefaultTimeoutMs: d.cfg.DefaultTimeout.Milliseconds(),
			MaxConcurrent:    d.cfg.MaxConcurrent,
			MaxWorkgroups:    shader.MaxWorkgroups,
			MaxBinding:       shader.MaxBinding,
			MaxSet:           shader.MaxSet,
			MaxBufferBytes:   d.limits.BufferBytes(),
			MaxIndex:         shader.MaxIndex,
			ImageMaxEdge:     d.cfg.ImageMaxEdge,
		},
		RunnerOutput: capture.RunnerOutputFormat,
	}
	for _, s := range shader.Stages() {
		c.Stages = append(c.Stages, response.StageInfo{Stage: string(s), Name: s.Name()})
	}
	for _, l := range d.limits.Languages {
		c.Languages = append(c.Languages, string(l))
	}
	for _, op := range shader.ProbeOps() {
		c.ProbeOps = append(c.ProbeOps, string(op))
	}
	return c
}

// CapabilitiesResponse wraps Capabilities in a success response.
func (d *Dispatcher) CapabilitiesResponse() response.ToolResponse {
	caps := d.Capabilities()
	return response.ToolResponse{
		Kind:         response.KindSuccess,
		RequestID:    d.newID(),
		Summary:      "shaderexec compiles shaders and runs them on a software Vulkan device",
		Capabilities: &caps,
	}
}
