// Package text prints the run summary to the console, one line per
// definition with severity-colored status.
package text

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/tfconvoy/tfconvoy/internal/core/domain"
	"github.com/tfconvoy/tfconvoy/internal/core/ports"
)

type Config struct {
	NoColor bool `yaml:"no_color" mapstructure:"no_color"`
}

type Reporter struct {
	config Config
	writer io.Writer
	logger ports.Logger
}

func NewReporter(cfg Config, logger ports.Logger) *Reporter {
	if cfg.NoColor || !isTerminal(os.Stdout) {
		color.NoColor = true
	}
	return &Reporter{config: cfg, writer: os.Stdout, logger: logger}
}

func isTerminal(f *os.File) bool {
	stat, _ := f.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

func (r *Reporter) Report(ctx context.Context, records []domain.ExecutionRecord) error {
	if len(records) == 0 {
		fmt.Fprintln(r.writer, "No definitions processed.")
		return nil
	}

	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	tw := tabwriter.NewWriter(r.writer, 0, 8, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "Definition\tAction\tStatus\tDuration\tDetail")

	errorCount := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var status string
		switch rec.Status {
		case domain.StatusApplied, domain.StatusDestroyed:
			status = green(string(rec.Status))
		case domain.StatusPlanned:
			status = yellow(string(rec.Status))
		case domain.StatusNoChanges, domain.StatusSkipped:
			status = cyan(string(rec.Status))
		case domain.StatusError:
			status = red(string(rec.Status))
			errorCount++
		default:
			status = string(rec.Status)
		}

		detail := rec.Detail
		if rec.Error != nil {
			detail = rec.Error.Error()
		} else if rec.PlanReused {
			detail = "reused saved plan"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			rec.Definition, rec.Action, status, rec.Duration.Round(time.Millisecond), detail)
	}

	if errorCount > 0 {
		fmt.Fprintf(tw, "\n%s\n", red(fmt.Sprintf("%d definition(s) failed", errorCount)))
	}
	return nil
}
