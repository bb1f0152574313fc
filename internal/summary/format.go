package summary

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// PrintText writes the human-readable report. Colors are used only when
// w is a terminal.
func PrintText(w io.Writer, snap Snapshot) {
	title := color.New(color.Bold)
	good := color.New(color.FgGreen)
	bad := color.New(color.FgRed)
	if !isTerminal(w) {
		title.DisableColor()
		good.DisableColor()
		bad.DisableColor()
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, title.Sprint("Sockdrill - Run Summary"))
	fmt.Fprintln(w, "=======================")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Duration:        %v\n", snap.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Scenarios run:   %d\n", snap.Started)
	fmt.Fprintf(w, "Messages sent:   %d\n", snap.Requests)
	fmt.Fprintf(w, "Steps completed: %d\n", snap.Responses)
	if snap.Errors > 0 {
		fmt.Fprintf(w, "Errors:          %s\n", bad.Sprintf("%d", snap.Errors))
	} else {
		fmt.Fprintf(w, "Errors:          %d\n", snap.Errors)
	}

	if snap.Latency.Count > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Step Times:")
		fmt.Fprintf(w, "  Min:    %s\n", formatDuration(snap.Latency.Min))
		fmt.Fprintf(w, "  Avg:    %s\n", formatDuration(snap.Latency.Mean))
		fmt.Fprintf(w, "  P50:    %s\n", formatDuration(snap.Latency.P50))
		fmt.Fprintf(w, "  P90:    %s\n", formatDuration(snap.Latency.P90))
		fmt.Fprintf(w, "  P95:    %s\n", formatDuration(snap.Latency.P95))
		fmt.Fprintf(w, "  P99:    %s\n", formatDuration(snap.Latency.P99))
		fmt.Fprintf(w, "  Max:    %s\n", formatDuration(snap.Latency.Max))
	}

	if snap.MatchOK > 0 || snap.MatchFail > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Matches:")
		fmt.Fprintf(w, "  %s %d passed\n", good.Sprint("✓"), snap.MatchOK)
		if snap.MatchFail > 0 {
			fmt.Fprintf(w, "  %s %d failed\n", bad.Sprint("✗"), snap.MatchFail)
		}
	}

	if len(snap.Statuses) > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "HTTP Status:")
		codes := make([]int, 0, len(snap.Statuses))
		for code := range snap.Statuses {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			fmt.Fprintf(w, "  %d x %d\n", snap.Statuses[code], code)
		}
	}

	if len(snap.Reasons) > 0 {
		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "Errors:")
		for _, r := range snap.Reasons {
			fmt.Fprintf(w, "  %d x %s\n", r.Count, r.Code)
		}
	}
}

// PrintJSON writes the report as indented JSON.
func PrintJSON(w io.Writer, snap Snapshot) {
	output := struct {
		Duration  string         `json:"duration"`
		Started   int            `json:"scenariosRun"`
		Requests  int            `json:"messagesSent"`
		Responses int            `json:"stepsCompleted"`
		Errors    int            `json:"errors"`
		MatchOK   int            `json:"matchesPassed"`
		MatchFail int            `json:"matchesFailed"`
		Latency   *jsonLatency   `json:"stepTimes,omitempty"`
		Statuses  map[string]int `json:"httpStatus,omitempty"`
		Reasons   map[string]int `json:"errorReasons,omitempty"`
	}{
		Duration:  snap.Duration.Round(time.Millisecond).String(),
		Started:   snap.Started,
		Requests:  snap.Requests,
		Responses: snap.Responses,
		Errors:    snap.Errors,
		MatchOK:   snap.MatchOK,
		MatchFail: snap.MatchFail,
	}
	if snap.Latency.Count > 0 {
		output.Latency = &jsonLatency{
			Count: snap.Latency.Count,
			Min:   formatDuration(snap.Latency.Min),
			Avg:   formatDuration(snap.Latency.Mean),
			P50:   formatDuration(snap.Latency.P50),
			P90:   formatDuration(snap.Latency.P90),
			P95:   formatDuration(snap.Latency.P95),
			P99:   formatDuration(snap.Latency.P99),
			Max:   formatDuration(snap.Latency.Max),
		}
	}
	if len(snap.Statuses) > 0 {
		output.Statuses = make(map[string]int, len(snap.Statuses))
		for code, n := range snap.Statuses {
			output.Statuses[fmt.Sprintf("%d", code)] = n
		}
	}
	if len(snap.Reasons) > 0 {
		output.Reasons = make(map[string]int, len(snap.Reasons))
		for _, r := range snap.Reasons {
			output.Reasons[r.Code] = r.Count
		}
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(output)
}

type jsonLatency struct {
	Count int64  `json:"count"`
	Min   string `json:"min"`
	Avg   string `json:"avg"`
	P50   string `json:"p50"`
	P90   string `json:"p90"`
	P95   string `json:"p95"`
	P99   string `json:"p99"`
	Max   string `json:"max"`
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// formatDuration renders step times at a precision matching their size.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}
