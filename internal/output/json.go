package output

import (
	"encoding/json"
	"io"

	"github.com/bgricker/contractpipe/internal/discovery"
	"github.com/bgricker/contractpipe/internal/report"
)

// JSONRenderer emits structured execution data.
type JSONRenderer struct {
	out io.Writer
}

// NewJSON creates a JSON renderer writing to out.
func NewJSON(out io.Writer) *JSONRenderer {
	return &JSONRenderer{out: out}
}

// Report captures JSON output schema.
type Report struct {
	Command   string            `json:"command"`
	Plan      *Plan             `json:"plan,omitempty"`
	Batch     *report.Batch     `json:"batch,omitempty"`
	Contracts []discovery.Entry `json:"contracts,omitempty"`
	Checks    []Check           `json:"checks,omitempty"`
	Warnings  []string          `json:"warnings,omitempty"`
}

// Plan describes a pipeline without running it.
type Plan struct {
	Steps           []PlanStep `json:"steps"`
	Complexity      string     `json:"complexity,omitempty"`
	Vulnerabilities []string   `json:"vulnerabilities,omitempty"`
	Prompt          string     `json:"prompt,omitempty"`
}

// PlanStep is one step in execution order.
type PlanStep struct {
	Name      string   `json:"name"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// Check is one doctor result.
type Check struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Version string `json:"version,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Render encodes the report as JSON.
func (j *JSONRenderer) Render(report Report) error {
	enc := json.NewEncoder(j.out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
