package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/orchestrator"
	"hostfleet/internal/types"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func yesNo(b bool) string {
	if b {
		return green("yes")
	}
	return faint("no")
}

func activeLabel(b bool) string {
	if b {
		return green("active")
	}
	return yellow("inactive")
}

func since(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func statusLabel(s orchestrator.Status) string {
	switch s {
	case orchestrator.StatusSuccess:
		return green("ok")
	case orchestrator.StatusFailure:
		return red("failed")
	case orchestrator.StatusSkipped:
		return yellow("skipped")
	default:
		return faint(string(s))
	}
}

func outcomeLabel(o types.Outcome) string {
	if o == types.OutcomeSuccess {
		return green(string(o))
	}
	return red(string(o))
}

// outcomeView is the JSON form of one batch outcome.
type outcomeView struct {
	Instance   types.InstanceRef   `json:"instance"`
	Status     orchestrator.Status `json:"status"`
	Detail     string              `json:"detail,omitempty"`
	Steps      []string            `json:"steps,omitempty"`
	ErrorCode  string              `json:"error_code,omitempty"`
	DurationMS int64               `json:"duration_ms"`
	TimelineID int64               `json:"timeline_id,omitempty"`
}

// reportView is the JSON form of a batch report.
type reportView struct {
	BatchID   string          `json:"batch_id"`
	Operation types.Operation `json:"operation"`
	Image     string          `json:"image,omitempty"`
	ExitCode  int             `json:"exit_code"`
	Aborted   string          `json:"aborted,omitempty"`
	Outcomes  []outcomeView   `json:"outcomes"`
}

func viewReport(r *orchestrator.Report) reportView {
	v := reportView{
		BatchID:   r.BatchID,
		Operation: r.Operation,
		Image:     r.Image,
		ExitCode:  r.ExitCode(),
		Outcomes:  make([]outcomeView, 0, len(r.Outcomes)),
	}
	if r.Aborted != nil {
		v.Aborted = r.Aborted.Error()
	}
	for _, o := range r.Outcomes {
		ov := outcomeView{
			Instance:   o.Instance,
			Status:     o.Status,
			Detail:     o.Detail,
			Steps:      o.Steps,
			DurationMS: o.Duration.Milliseconds(),
			TimelineID: o.TimelineID,
		}
		if o.Err != nil {
			ov.ErrorCode = string(apperrors.GetCode(o.Err))
		}
		v.Outcomes = append(v.Outcomes, ov)
	}
	return v
}

// printReport writes one line per target and a summary line.
func printReport(w io.Writer, r *orchestrator.Report) {
	for _, o := range r.Outcomes {
		detail := o.Detail
		if o.Status == orchestrator.StatusPlanned {
			detail = strings.Join(o.Steps, ", ")
		}
		fmt.Fprintf(w, "%-8s %-24s %s\n", statusLabel(o.Status), o.Instance.String(), detail)
	}

	if len(r.Outcomes) > 0 && r.Outcomes[0].Status == orchestrator.StatusPlanned {
		fmt.Fprintf(w, "%s: %d planned (dry run)\n", r.Operation, len(r.Outcomes))
		return
	}
	fmt.Fprintf(w, "%s: %d succeeded, %d failed, %d skipped (batch %s)\n",
		r.Operation, r.Succeeded(), r.Failed(), r.Skipped(), r.BatchID)
	if r.Image != "" {
		fmt.Fprintf(w, "image: %s\n", r.Image)
	}
	if r.Aborted != nil {
		fmt.Fprintf(w, "%s %v\n", red("aborted:"), r.Aborted)
	}
	for _, err := range r.RecordErrors {
		fmt.Fprintf(w, "%s %v\n", yellow("timeline:"), err)
	}
}

// confirm asks a yes/no question on out and reads the answer from in.
func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
