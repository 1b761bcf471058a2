package runner

import (
	"maps"
	"slices"
	"strconv"
)

// DefaultICDFilenames is the lavapipe ICD manifest shipped by Mesa on
// Debian-based images.
const DefaultICDFilenames = "/usr/share/vulkan/icd.d/lvp_icd.x86_64.json"

// Environment is the complete environment given to runner processes. It is
// built once at startup; nothing from the server's own environment leaks
// through unless listed here.
type Environment struct {
	// ICDFilenames selects the Vulkan driver manifest.
	ICDFilenames string

	// Display is exported as DISPLAY when non-empty.
	Display string

	// RuntimeDir is exported as XDG_RUNTIME_DIR when non-empty.
	RuntimeDir string

	// Path is exported as PATH.
	Path string

	// Home is exported as HOME when non-empty.
	Home string

	// Threads limits llvmpipe rasterizer threads. Zero leaves the driver
	// default.
	Threads int

	// Extra holds additional variables.
	Extra map[string]string
}

// Vars returns the variables as a map.
func (e Environment) Vars() map[string]string {
	vars := maps.Clone(e.Extra)
	if vars == nil {
		vars = make(map[string]string)
	}
	icd := e.ICDFilenames
	if icd == "" {
		icd = DefaultICDFilenames
	}
	vars["VK_ICD_FILENAMES"] = icd
	vars["VK_DRIVER_FILES"] = icd
	vars["LIBGL_ALWAYS_SOFTWARE"] = "1"
	path := e.Path
	if path == "" {
		path = "/usr/local/bin:/usr/bin:/bin"
	}
	vars["PATH"] = path
	if e.Display != "" {
		vars["DISPLAY"] = e.Display
	}
	if e.RuntimeDir != "" {
		vars["XDG_RUNTIME_DIR"] = e.RuntimeDir
	}
	if e.Home != "" {
		vars["HOME"] = e.Home
	}
	if e.Threads > 0 {
		vars["LP_NUM_THREADS"] = strconv.Itoa(e.Threads)
	}
	return vars
}

// List returns the variables as sorted KEY=VALUE pairs.
func (e Environment) List() []string {
	vars := e.Vars()
	keys := slices.Sorted(maps.Keys(vars))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+vars[k])
	}
	return out
}
