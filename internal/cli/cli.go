package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"landmarkload/internal/report"
	"landmarkload/internal/runner"
)

// Start runs a load test without the TUI, drawing one progress line per
// completed user on out.
func Start(ctx context.Context, out io.Writer, cfg runner.Config, opts ...runner.Option) (*runner.RunResult, *report.Report, error) {
	printHeader(out, cfg)

	opts = append(opts, runner.WithProgress(func(done, total int) {
		pct := float64(done) / float64(total)
		fmt.Fprintf(out, "\r%s %3.0f%% | %d/%d users", progressBar(pct, 30), pct*100, done, total)
	}))
	r := runner.NewRunner(cfg, opts...)

	res, runErr := r.Run(ctx)
	if res == nil {
		return nil, nil, runErr
	}
	fmt.Fprintln(out)

	rep, err := report.Build(res)
	if renderErr := report.Render(out, rep); renderErr != nil {
		return res, rep, renderErr
	}
	if runErr != nil {
		return res, rep, runErr
	}
	return res, rep, err
}

func printHeader(out io.Writer, cfg runner.Config) {
	concurrency := "unbounded"
	if cfg.Concurrency > 0 {
		concurrency = fmt.Sprint(cfg.Concurrency)
	}
	fmt.Fprintf(out, "\nSTARTING LANDMARK LOAD TEST\n")
	fmt.Fprintf(out, "%s\n", strings.Repeat("=", 70))
	fmt.Fprintf(out, "Target URL  : %s\n", cfg.URL)
	fmt.Fprintf(out, "Users       : %d\n", cfg.Users)
	fmt.Fprintf(out, "Req / User  : %d\n", cfg.RequestsPerUser)
	fmt.Fprintf(out, "Concurrency : %s\n", concurrency)
	fmt.Fprintf(out, "Timeout     : %s\n", cfg.Timeout)
	fmt.Fprintf(out, "%s\n\n", strings.Repeat("=", 70))
}

func progressBar(pct float64, width int) string {
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}
