package response

// Capabilities describes what the server accepts. It is the payload of a
// shader_capabilities call, returned with Kind success.
type Capabilities struct {
	Tools              []string    `json:"tools"`
	Stages             []StageInfo `json:"stages"`
	Languages          []string    `json:"languages"`
	OptimizationLevels []string    `json:"optimization_levels"`
	TargetEnvs         []string    `json:"target_envs"`
	DefaultTargetEnv   string      `json:"default_target_env"`
	Requirements       []string    `json:"requirements"`
	Commands           []string    `json:"commands"`
	BufferKinds        []string    `json:"buffer_kinds"`
	Layouts            []string    `json:"layouts"`
	DataTypes          []string    `json:"data_types"`
	ProbeOps           []string    `json:"probe_ops"`
	Limits             Limits      `json:"limits"`

	// RunnerOutput is the runner output format results are parsed from.
	RunnerOutput string `json:"runner_output"`
}

// StageInfo names one pipeline stage.
type StageInfo struct {
	Stage string `json:"stage"`
	Name  string `json:"name"`
}

// Limits are the numeric bounds requests are validated against.
type Limits struct {
	MaxTimeoutMs     int64 `json:"max_timeout_ms"`
	DefaultTimeoutMs int64 `json:"default_timeout_ms"`
	MaxConcurrent    int   `json:"max_concurrent"`
	MaxWorkgroups    int   `json:"max_workgroups"`
	MaxBinding       int   `json:"max_binding"`
	MaxSet           int   `json:"max_set"`
	MaxBufferBytes   int   `json:"max_buffer_bytes"`
	MaxIndex         int   `json:"max_index"`
	ImageMaxEdge     int   `json:"image_max_edge"`
}
