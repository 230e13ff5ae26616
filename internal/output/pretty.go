package output

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bgricker/contractpipe/internal/discovery"
	"github.com/bgricker/contractpipe/internal/report"
)

// PrettyRenderer renders results in a human-friendly format.
type PrettyRenderer struct {
	out io.Writer
}

// NewPretty creates a PrettyRenderer writing to the provided writer.
func NewPretty(out io.Writer) *PrettyRenderer {
	return &PrettyRenderer{out: out}
}

// RenderPlan prints the execution order of a pipeline.
func (p *PrettyRenderer) RenderPlan(plan Plan) error {
	if _, err := fmt.Fprintf(p.out, "Pipeline (%d steps)\n", len(plan.Steps)); err != nil {
		return err
	}
	for i, step := range plan.Steps {
		line := fmt.Sprintf("  %d. %s", i+1, step.Name)
		if len(step.DependsOn) > 0 {
			line += " (after " + strings.Join(step.DependsOn, ", ") + ")"
		}
		if _, err := fmt.Fprintln(p.out, line); err != nil {
			return err
		}
	}
	if plan.Complexity != "" {
		if _, err := fmt.Fprintf(p.out, "Complexity: %s\n", plan.Complexity); err != nil {
			return err
		}
	}
	if len(plan.Vulnerabilities) > 0 {
		if _, err := fmt.Fprintf(p.out, "Vulnerabilities: %s\n", strings.Join(plan.Vulnerabilities, ", ")); err != nil {
			return err
		}
	}
	if plan.Prompt != "" {
		if _, err := fmt.Fprintf(p.out, "Prompt:\n%s\n", indent(plan.Prompt, "  ")); err != nil {
			return err
		}
	}
	return nil
}

// RenderContracts lists saved contracts.
func (p *PrettyRenderer) RenderContracts(entries []discovery.Entry) error {
	for _, e := range entries {
		glyph := "-"
		note := "no report"
		if e.HasReport() {
			glyph = "•"
			note = e.Report
		}
		if _, err := fmt.Fprintf(p.out, "%s %s (%s)\n", glyph, e.Path, note); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(p.out, "%d contract(s)\n", len(entries))
	return err
}

// RenderChecks prints doctor results.
func (p *PrettyRenderer) RenderChecks(checks []Check) error {
	for _, c := range checks {
		status := report.StatusPassed
		if !c.OK {
			status = report.StatusFailed
		}
		line := fmt.Sprintf("%s %s", statusGlyph(status), c.Name)
		if c.Version != "" {
			line += " " + c.Version
		}
		if c.Detail != "" {
			line += ": " + c.Detail
		}
		if _, err := fmt.Fprintln(p.out, line); err != nil {
			return err
		}
	}
	return nil
}

// RenderBatch shows every run with its steps and a summary.
func (p *PrettyRenderer) RenderBatch(b report.Batch) error {
	var buffer bytes.Buffer
	for _, run := range b.Runs {
		writeRun(&buffer, run, b.Total)
		if _, err := buffer.WriteTo(p.out); err != nil {
			return err
		}
		buffer.Reset()
	}
	return renderSummary(p.out, b)
}

func writeRun(buf *bytes.Buffer, run report.Run, total int) {
	fmt.Fprintf(buf, "Contract %d/%d %s (%s)\n", run.Index, total, statusGlyph(run.Status), formatDuration(run.Duration))
	if run.Complexity != "" {
		fmt.Fprintf(buf, "  complexity: %s; vulnerabilities: %s\n", run.Complexity, strings.Join(run.Vulnerabilities, ", "))
	}
	for _, step := range run.Steps {
		fmt.Fprintf(buf, "    %s %s (%s)\n", statusGlyph(step.Status), step.Name, formatDuration(step.Duration))
		if step.Status == report.StatusFailed && step.Detail != "" {
			fmt.Fprintf(buf, "      %s: %s\n", step.Kind, strings.TrimSpace(indent(step.Detail, "      ")))
		}
	}
	if len(run.Steps) == 0 && run.Error != "" {
		fmt.Fprintf(buf, "      error: %s\n", run.Error)
	}
	if run.Contract != "" {
		fmt.Fprintf(buf, "  contract: %s\n", run.Contract)
	}
	if run.Report != "" {
		fmt.Fprintf(buf, "  report: %s\n", run.Report)
	}
}

func renderSummary(out io.Writer, b report.Batch) error {
	_, err := fmt.Fprintf(out, "SUMMARY: %d succeeded, %d failed (%s)\n", b.Succeeded, b.Failed, formatDuration(b.Duration))
	return err
}

// StreamingPrettyRenderer prints progress while a batch runs.
type StreamingPrettyRenderer struct {
	out   io.Writer
	total int
}

// NewStreamingPretty creates a StreamingPrettyRenderer.
func NewStreamingPretty(out io.Writer) *StreamingPrettyRenderer {
	return &StreamingPrettyRenderer{out: out}
}

// RunStarted shows the run as pending.
func (s *StreamingPrettyRenderer) RunStarted(index, total int) {
	s.total = total
	fmt.Fprintf(s.out, "⏳ contract %d/%d\n", index, total)
}

// RunFinished overwrites the pending line with the final status and shows
// step details for failed runs.
func (s *StreamingPrettyRenderer) RunFinished(run report.Run) {
	emoji := "✅"
	if !run.Passed() {
		emoji = "❌"
	}
	fmt.Fprintf(s.out, "\033[1A\033[K")
	label := fmt.Sprintf("contract %d/%d", run.Index, s.total)
	if run.Contract != "" {
		label += " " + run.Contract
	}
	fmt.Fprintf(s.out, "%s %s (%s)\n", emoji, label, formatDuration(run.Duration))
	if run.Passed() {
		return
	}
	var buf bytes.Buffer
	for _, step := range run.Steps {
		if step.Status == report.StatusSkipped {
			continue
		}
		fmt.Fprintf(&buf, "    %s %s (%s)\n", statusGlyph(step.Status), step.Name, formatDuration(step.Duration))
		if step.Status == report.StatusFailed && step.Detail != "" {
			fmt.Fprintf(&buf, "%s\n", indent(step.Detail, "      "))
		}
	}
	if len(run.Steps) == 0 && run.Error != "" {
		fmt.Fprintf(&buf, "%s\n", indent(run.Error, "      "))
	}
	buf.WriteTo(s.out)
}

// RenderSummary shows the final summary.
func (s *StreamingPrettyRenderer) RenderSummary(b report.Batch) error {
	return renderSummary(s.out, b)
}

func statusGlyph(status string) string {
	switch status {
	case report.StatusPassed:
		return "✓"
	case report.StatusFailed:
		return "✗"
	case report.StatusSkipped:
		return "-"
	default:
		return "?"
	}
}

func indent(s, pad string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = pad + lines[i]
	}
	return strings.Join(lines, "\n")
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Truncate(time.Millisecond).String()
}
