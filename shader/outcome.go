package shader

// ProbeOutcome is the result of one declared probe.
type ProbeOutcome struct {
	// Index is the probe's position in Request.Probes.
	Index       int    `json:"index"`
	Description string `json:"description"`
	Passed      bool   `json:"passed"`

	// Line is the probe's line in the generated test script.
	Line     int    `json:"line"`
	Expected string `json:"expected,omitempty"`
	Observed string `json:"observed,omitempty"`
	Message  string `json:"message,omitempty"`
}
