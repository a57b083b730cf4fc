package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"mortality-alerts/internal/analysis"
	"mortality-alerts/internal/mortality"
	"mortality-alerts/internal/storage"
)

// AnalyzeOptions override the configured analysis settings. Zero values
// keep the config.
type AnalyzeOptions struct {
	End          mortality.Period
	Strategy     string
	WindowMonths int
	TopN         int
	JSON         bool
}

// Analyze classifies month-over-month changes for every hospital.
func (a *App) Analyze(ctx context.Context, opts AnalyzeOptions) error {
	cfg := a.Config.Analysis
	strategy := cfg.Strategy
	if opts.Strategy != "" {
		strategy = opts.Strategy
	}
	classifier, err := analysis.NewClassifier(strategy, cfg.DeathThreshold)
	if err != nil {
		return err
	}
	deny, err := analysis.LoadDenylist(cfg.DenylistPath)
	if err != nil {
		return err
	}

	end := opts.End
	if end == (mortality.Period{}) {
		// the current month is usually partial
		end = mortality.PeriodOf(time.Now().UTC()).Prev()
	}
	window := cfg.WindowMonths
	if opts.WindowMonths > 0 {
		window = opts.WindowMonths
	}
	topN := cfg.TopN
	if opts.TopN > 0 {
		topN = opts.TopN
	}
	if window < 2 {
		return fmt.Errorf("analysis window must cover at least 2 months, got %d", window)
	}

	rt, err := a.open(ctx, true, false)
	if err != nil {
		return err
	}
	defer rt.close()

	periods := end.Trailing(window)
	records, err := rt.store.ListMonthly(ctx, storage.MonthlyFilter{From: &periods[0], To: &end})
	if err != nil {
		return err
	}

	report, err := analysis.Analyze(records, classifier, deny, analysis.Options{
		End:                   end,
		WindowMonths:          window,
		TopN:                  topN,
		RequireCompleteWindow: cfg.RequireCompleteWindow,
		MinRateChange:         cfg.MinRateChange,
	})
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(a.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return printReport(a.Out, report)
}

func printReport(out io.Writer, report analysis.Report) error {
	first, last := report.Window[0], report.Window[len(report.Window)-1]
	fmt.Fprintf(out, "Strategy %s, %s to %s: %d hospitals considered, %d denied, %d incomplete\n",
		report.Strategy, first, last, report.Considered, report.Denied, report.Incomplete)

	sections := []struct {
		title   string
		total   int
		changes []analysis.Change
	}{
		{"Worsened", report.TotalWorsened, report.Worsened},
		{"Improved", report.TotalImproved, report.Improved},
	}
	for _, sec := range sections {
		fmt.Fprintf(out, "\n%s (%d of %d)\n", sec.title, len(sec.changes), sec.total)
		if len(sec.changes) == 0 {
			continue
		}
		writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Hospital\tDeaths\tΔDeaths\tRate%\tΔRate")
		for _, c := range sec.changes {
			fmt.Fprintf(writer, "%s\t%d -> %d\t%+d\t%.2f -> %.2f\t%+.2f\n",
				c.HospitalName, c.PreviousDeaths, c.LastDeaths, c.DeathDifference,
				c.PreviousRate, c.LastRate, c.RateDifference)
		}
		if err := writer.Flush(); err != nil {
			return err
		}
	}
	return nil
}
