package app

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"mortality-alerts/internal/alertmodel"
	"mortality-alerts/internal/mortality"
	"mortality-alerts/internal/service"
)

// EvaluateOptions configure the evaluate command.
type EvaluateOptions struct {
	ModelID              int
	Period               mortality.Period
	ApplyExclusionFilter bool
	JSON                 bool
}

// SendOptions configure the send-alert command.
type SendOptions struct {
	ModelID int
	Period  mortality.Period
	DryRun  bool
}

// Evaluate runs one model and prints the alerting hospitals.
func (a *App) Evaluate(ctx context.Context, opts EvaluateOptions) error {
	rt, err := a.open(ctx, true, false)
	if err != nil {
		return err
	}
	defer rt.close()

	svc := a.newService(rt)
	modelID := a.Config.ResolveModel(opts.ModelID)
	ev, err := svc.Evaluate(ctx, service.EvaluateRequest{
		ModelID:              modelID,
		Period:               opts.Period,
		ApplyExclusionFilter: opts.ApplyExclusionFilter,
	})
	if err != nil {
		return err
	}
	if !ev.Known {
		return fmt.Errorf("%w: %d", alertmodel.ErrUnknownModel, modelID)
	}

	if opts.JSON {
		enc := json.NewEncoder(a.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(ev.Alerts)
	}
	return printEvaluation(a, ev)
}

func printEvaluation(a *App, ev service.Evaluation) error {
	fmt.Fprintf(a.Out, "%s (%s) for %s: %d of %d hospitals alert\n",
		ev.Model.Name(), ev.Model.Description(), ev.Period, ev.Summary.Alerts, ev.Summary.Evaluated)
	if len(ev.Alerts) == 0 {
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Hospital\tDeaths\tRate%\tThreshold\tSMR\tSource")
	for _, r := range ev.Alerts {
		smr := "-"
		if r.SMR != nil {
			smr = fmt.Sprintf("%.2f", *r.SMR)
		}
		fmt.Fprintf(writer, "%s\t%d\t%.2f\t%.2f\t%s\t%s\n",
			r.HospitalName, r.Deaths, r.MortalityRate, r.Threshold, smr, r.CurrentSource)
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	for reason, n := range ev.Summary.Skipped {
		if n > 0 {
			fmt.Fprintf(a.Out, "skipped (%s): %d\n", reason, n)
		}
	}
	if ev.Summary.Failed > 0 {
		fmt.Fprintf(a.Out, "failed: %d\n", ev.Summary.Failed)
	}
	return nil
}

// SendAlert evaluates with the exclusion filter and posts the digest.
func (a *App) SendAlert(ctx context.Context, opts SendOptions) error {
	rt, err := a.open(ctx, true, false)
	if err != nil {
		return err
	}
	defer rt.close()

	svc := a.newService(rt)
	started := time.Now()
	res, err := svc.SendAlert(ctx, service.SendRequest{
		ModelID: a.Config.ResolveModel(opts.ModelID),
		Period:  opts.Period,
		DryRun:  opts.DryRun,
	})
	if err != nil {
		return err
	}

	if opts.DryRun {
		fmt.Fprintln(a.Out, res.Text)
		return nil
	}
	a.Logger.Info().
		Str("run_id", res.RunID).
		Int("hospitals", res.HospitalCount).
		Dur("elapsed", time.Since(started)).
		Msg("digest delivered")
	fmt.Fprintln(a.Out, res.Message)
	return nil
}
