// Package server exposes the dispatcher over MCP and HTTP, and keeps a
// searchable catalog of the tools it serves.
package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jonwraymond/tooldiscovery/index"
	"github.com/jonwraymond/tooldiscovery/search"
	"github.com/jonwraymond/tooldiscovery/tooldoc"
	"github.com/jonwraymond/toolfoundation/model"

	"github.com/jonwraymond/shaderexec/dispatch"
	"github.com/jonwraymond/shaderexec/shader"
)

// Namespace is the catalog namespace of every tool.
const Namespace = "shader"

// ErrUnknownTool is returned for names the catalog does not hold.
var ErrUnknownTool = errors.New("unknown tool")

// capabilitiesInput is the empty argument object of shader_capabilities.
type capabilitiesInput struct{}

const compileRunDescription = "Compile GLSL, HLSL or WGSL shaders to SPIR-V and run them on a " +
	"software Vulkan device. Buffers are bound, compute or draw commands executed, and " +
	"probes compare buffer contents or framebuffer pixels with expected values. " +
	"Returns compiler diagnostics, one outcome per probe and optionally the rendered image."

const capabilitiesDescription = "List the stages, languages, data types, probe operators, " +
	"requirements and limits accepted by compile_run_shader."

// Catalog indexes the served tools for search and documentation.
type Catalog struct {
	idx   index.Index
	docs  *tooldoc.InMemoryStore
	tools []model.Tool
}

// NewCatalog builds the catalog of dispatcher tools.
func NewCatalog() (*Catalog, error) {
	idx := index.NewInMemoryIndex(index.IndexOptions{
		Searcher: search.NewBM25Searcher(search.BM25Config{}),
	})
	docs := tooldoc.NewInMemoryStore(tooldoc.StoreOptions{Index: idx})
	c := &Catalog{idx: idx, docs: docs}

	requestSchema, err := jsonschema.For[shader.Request](nil)
	if err != nil {
		return nil, fmt.Errorf("server: request schema: %w", err)
	}
	emptySchema, err := jsonschema.For[capabilitiesInput](nil)
	if err != nil {
		return nil, fmt.Errorf("server: capabilities schema: %w", err)
	}

	entries := []struct {
		tool model.Tool
		doc  tooldoc.DocEntry
	}{
		{
			tool: model.Tool{
				Tool: mcp.Tool{
					Name:        dispatch.ToolCompileRun,
					Description: compileRunDescription,
					InputSchema: requestSchema,
				},
				Namespace: Namespace,
				Tags:      []string{"shader", "glsl", "hlsl", "wgsl", "spirv", "vulkan", "compute", "render", "test"},
			},
			doc: tooldoc.DocEntry{
				Summary: "Compile shaders and run a VkRunner test against them",
				Notes: "Compute cannot be combined with graphics stages. A fragment shader without a " +
					"vertex shader is drawn with a passthrough vertex stage. Probes are evaluated " +
					"after all commands; a failed probe is still a successful run with passed=false. " +
					"Graphics commands may set pipeline state (depth, stencil, culling, blending masks) " +
					"and draw indexed from the indices list. The generated script is returned as script.",
				Examples: []tooldoc.ToolExample{
					{
						Title: "Compute shader writes a constant",
						Args: map[string]any{
							"sources": []any{map[string]any{
								"stage":  "comp",
								"source": "#version 450\nlayout(local_size_x = 1) in;\nlayout(std430, binding = 0) buffer Out { uint value; };\nvoid main() { value = 8u; }\n",
							}},
							"buffers":  []any{map[string]any{"binding": 0, "size": 4}},
							"commands": []any{map[string]any{"compute": map[string]any{"x": 1}}},
							"probes": []any{map[string]any{
								"buffer": map[string]any{"binding": 0, "type": "uint", "values": []any{8}},
							}},
						},
					},
					{
						Title: "Fragment shader fills the framebuffer",
						Args: map[string]any{
							"sources": []any{map[string]any{
								"stage":  "frag",
								"source": "#version 450\nlayout(location = 0) out vec4 color;\nvoid main() { color = vec4(0.0, 1.0, 0.0, 1.0); }\n",
							}},
							"commands":      []any{map[string]any{"draw_rect": map[string]any{"x": -1, "y": -1, "width": 2, "height": 2}}},
							"probes":        []any{map[string]any{"pixel": map[string]any{"all": true, "color": []any{0, 1, 0, 1}}}},
							"capture_image": true,
						},
					},
				},
			},
		},
		{
			tool: model.Tool{
				Tool: mcp.Tool{
					Name:        dispatch.ToolCapabilities,
					Description: capabilitiesDescription,
					InputSchema: emptySchema,
				},
				Namespace: Namespace,
				Tags:      []string{"shader", "capabilities", "limits"},
			},
			doc: tooldoc.DocEntry{
				Summary: "Describe accepted shader stages, languages and limits",
			},
		},
	}

	for _, e := range entries {
		if err := idx.RegisterTool(e.tool, model.NewLocalBackend(e.tool.Name)); err != nil {
			return nil, fmt.Errorf("server: register %s: %w", e.tool.Name, err)
		}
		if err := docs.RegisterDoc(ToolID(e.tool.Name), e.doc); err != nil {
			return nil, fmt.Errorf("server: document %s: %w", e.tool.Name, err)
		}
		c.tools = append(c.tools, e.tool)
	}
	return c, nil
}

// ToolID returns the catalog ID of a tool name.
func ToolID(name string) string {
	return Namespace + ":" + name
}

// Name strips the namespace from a tool ID. Plain names are returned as is.
func Name(id string) string {
	return strings.TrimPrefix(id, Namespace+":")
}

// Tools returns the catalog's tools in registration order.
func (c *Catalog) Tools() []model.Tool {
	return append([]model.Tool{}, c.tools...)
}

// Search ranks tools against query.
func (c *Catalog) Search(query string, limit int) ([]index.Summary, error) {
	return c.idx.Search(query, limit)
}

// Describe returns the full documentation of a tool, by name or ID.
func (c *Catalog) Describe(nameOrID string) (tooldoc.ToolDoc, error) {
	name := Name(nameOrID)
	if !c.Has(name) {
		return tooldoc.ToolDoc{}, fmt.Errorf("%w: %s", ErrUnknownTool, nameOrID)
	}
	return c.docs.DescribeTool(ToolID(name), tooldoc.DetailFull)
}

// Examples returns up to max documented argument sets for a tool.
func (c *Catalog) Examples(nameOrID string, max int) ([]tooldoc.ToolExample, error) {
	name := Name(nameOrID)
	if !c.Has(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, nameOrID)
	}
	return c.docs.ListExamples(ToolID(name), max)
}

// Has reports whether name is a catalog tool.
func (c *Catalog) Has(name string) bool {
	for _, t := range c.tools {
		if t.Name == name {
			return true
		}
	}
	return false
}
