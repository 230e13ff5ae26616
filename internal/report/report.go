// Package report holds the run records shared by renderers and the ledger.
package report

import "time"

const (
	// StatusPassed marks a run or step that succeeded.
	StatusPassed = "passed"
	// StatusFailed marks a run or step that failed.
	StatusFailed = "failed"
	// StatusSkipped marks a step that never ran.
	StatusSkipped = "skipped"
)

// StepResult captures the outcome of a single pipeline step.
type StepResult struct {
	Name       string        `json:"name"`
	Status     string        `json:"status"`
	Kind       string        `json:"kind,omitempty"`
	Value      string        `json:"value,omitempty"`
	Detail     string        `json:"detail,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
}

// Run captures one pipeline run of a batch.
type Run struct {
	ID              string        `json:"id"`
	Index           int           `json:"index"`
	Status          string        `json:"status"`
	Complexity      string        `json:"complexity,omitempty"`
	Vulnerabilities []string      `json:"vulnerabilities,omitempty"`
	Contract        string        `json:"contract,omitempty"`
	Report          string        `json:"report,omitempty"`
	FailedStep      string        `json:"failed_step,omitempty"`
	Error           string        `json:"error,omitempty"`
	Steps           []StepResult  `json:"steps"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"-"`
	DurationMS      int64         `json:"duration_ms"`
}

// Passed reports whether the run succeeded.
func (r Run) Passed() bool {
	return r.Status == StatusPassed
}

// Batch aggregates every run of one invocation.
type Batch struct {
	ID         string        `json:"id"`
	Runs       []Run         `json:"runs"`
	Total      int           `json:"total"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
	ExitCode   int           `json:"exit_code"`
}

// Add appends run and updates the counters.
func (b *Batch) Add(run Run) {
	b.Runs = append(b.Runs, run)
	b.Total++
	if run.Passed() {
		b.Succeeded++
	} else {
		b.Failed++
		b.ExitCode = 1
	}
}

// Statuses lists the run statuses in order.
func (b Batch) Statuses() []string {
	out := make([]string, 0, len(b.Runs))
	for _, r := range b.Runs {
		out = append(out, r.Status)
	}
	return out
}
