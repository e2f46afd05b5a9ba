// Package report turns a finished run into the figures shown to the user.
package report

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"

	"landmarkload/internal/runner"
	"landmarkload/internal/stats"
	"landmarkload/internal/tui/styles"
)

// Report separates successful samples from the two failure classes. Summary
// is nil when no attempt succeeded.
type Report struct {
	RunID             string         `json:"run_id"`
	URL               string         `json:"url"`
	Users             int            `json:"users"`
	RequestsPerUser   int            `json:"requests_per_user"`
	UsersCompleted    int            `json:"users_completed"`
	Attempts          int            `json:"attempts"`
	Successful        int            `json:"successful"`
	TransportFailures int            `json:"transport_failures"`
	ResponseFailures  int            `json:"response_failures"`
	Canceled          int            `json:"canceled"`
	Reasons           map[string]int `json:"failure_reasons,omitempty"`
	Elapsed           time.Duration  `json:"elapsed"`
	Summary           *stats.Summary `json:"summary,omitempty"`
}

func (r *Report) Failed() int {
	return r.TransportFailures + r.ResponseFailures
}

// Build aggregates res. The returned error is stats.ErrNoData when nothing
// succeeded; the report is still usable in that case.
func Build(res *runner.RunResult) (*Report, error) {
	rep := &Report{
		RunID:           res.ID,
		URL:             res.Config.URL,
		Users:           res.Config.Users,
		RequestsPerUser: res.Config.RequestsPerUser,
		UsersCompleted:  len(res.Users),
		Reasons:         make(map[string]int),
		Elapsed:         res.Elapsed(),
	}

	for _, a := range res.Attempts() {
		rep.Attempts++
		switch {
		case a.Success():
			rep.Successful++
		case a.Outcome == runner.OutcomeCanceled:
			rep.Canceled++
		case a.Outcome.IsResponseFailure():
			rep.ResponseFailures++
			rep.Reasons[reasonKey(a)]++
		default:
			rep.TransportFailures++
			rep.Reasons[reasonKey(a)]++
		}
	}

	summary, err := stats.Summarize(res.Samples())
	if err != nil {
		return rep, err
	}
	rep.Summary = &summary
	return rep, nil
}

const maxReasonLen = 100

// reasonKey groups failures by outcome and reason, the reason cut to at most
// maxReasonLen bytes on a rune boundary.
func reasonKey(a runner.Attempt) string {
	msg := a.Reason
	if len(msg) > maxReasonLen {
		n := maxReasonLen
		for n > 0 && !utf8.RuneStart(msg[n]) {
			n--
		}
		msg = msg[:n]
	}
	return string(a.Outcome) + ": " + msg
}

var (
	heading = lipgloss.NewStyle().Foreground(styles.ColorPrimary).Bold(true)
	label   = lipgloss.NewStyle().Foreground(styles.ColorSubtle).Width(24)
)

// Render writes the terminal report.
func Render(w io.Writer, rep *Report) error {
	var b strings.Builder
	line := strings.Repeat("=", 70)

	b.WriteString("\n" + heading.Render("LOAD TEST RESULTS") + "\n")
	b.WriteString(line + "\n")
	row(&b, "Target", rep.URL)
	row(&b, "Users x Requests", fmt.Sprintf("%d x %d", rep.Users, rep.RequestsPerUser))
	row(&b, "Wall Time", rep.Elapsed.Round(time.Millisecond).String())
	row(&b, "Successful Samples", styles.Success.Render(fmt.Sprint(rep.Successful)))
	row(&b, "Failed Attempts", failStyle(rep.Failed()).Render(fmt.Sprint(rep.Failed())))
	row(&b, "  Transport", fmt.Sprint(rep.TransportFailures))
	row(&b, "  Response", fmt.Sprint(rep.ResponseFailures))
	if rep.Canceled > 0 {
		row(&b, "Canceled", fmt.Sprint(rep.Canceled))
	}

	b.WriteString("\n" + heading.Render("RESPONSE TIME [Success Only]") + "\n")
	if rep.Summary == nil {
		b.WriteString(styles.Error.Render("   no data: every attempt failed") + "\n")
	} else {
		row(&b, "Total Requests", fmt.Sprint(rep.Summary.Count))
		row(&b, "Average Response Time", fmt.Sprintf("%.3f s", rep.Summary.Mean))
		row(&b, "Max Response Time", fmt.Sprintf("%.3f s", rep.Summary.Max))
	}

	if len(rep.Reasons) > 0 {
		b.WriteString("\n" + heading.Render("FAILURE SUMMARY") + "\n")
		keys := make([]string, 0, len(rep.Reasons))
		for k := range rep.Reasons {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if rep.Reasons[keys[i]] != rep.Reasons[keys[j]] {
				return rep.Reasons[keys[i]] > rep.Reasons[keys[j]]
			}
			return keys[i] < keys[j]
		})
		for _, k := range keys {
			fmt.Fprintf(&b, "   %d x %s\n", rep.Reasons[k], k)
		}
	}
	b.WriteString(line + "\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func row(b *strings.Builder, name, value string) {
	b.WriteString(label.Render(name) + ": " + value + "\n")
}

func failStyle(n int) lipgloss.Style {
	if n > 0 {
		return styles.Error
	}
	return styles.Text
}

// IsNoData reports whether err means the run produced no samples.
func IsNoData(err error) bool {
	return errors.Is(err, stats.ErrNoData)
}
