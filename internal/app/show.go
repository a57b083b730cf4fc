package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"mortality-alerts/internal/service"
)

// ShowOptions configure the stats command.
type ShowOptions struct {
	Deliveries bool
	Limit      int
}

// Stats prints every hospital's statistics row, or the latest audited
// deliveries when opts.Deliveries is set.
func (a *App) Stats(ctx context.Context, opts ShowOptions) error {
	rt, err := a.open(ctx, true, false)
	if err != nil {
		return err
	}
	defer rt.close()

	if opts.Deliveries {
		return a.showDeliveries(ctx, a.newService(rt), opts.Limit)
	}

	stats, err := rt.store.ListStatistics(ctx)
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		fmt.Fprintln(a.Out, "no statistics found; run init-history first")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Hospital\tAvg%\tStdDev\tThreshold3SD%\tUpdated (UTC)")
	for _, s := range stats {
		fmt.Fprintf(writer, "%s\t%.2f\t%.2f\t%.2f\t%s\n",
			s.HospitalName,
			s.AvgMortalityRate,
			s.StdDeviation,
			s.Threshold3SD,
			s.LastUpdated.UTC().Format(time.RFC3339),
		)
	}
	return writer.Flush()
}

func (a *App) showDeliveries(ctx context.Context, svc *service.Service, limit int) error {
	deliveries, err := svc.RecentDeliveries(ctx, limit)
	if err != nil {
		return err
	}
	if len(deliveries) == 0 {
		fmt.Fprintln(a.Out, "no deliveries found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tModel\tPeriod\tHospitals\tChannel\tStatus\tError")
	for _, d := range deliveries {
		status := "ok"
		errMsg := ""
		if !d.Success {
			status = "failed"
		}
		if d.Error != nil {
			errMsg = sanitizeInline(*d.Error)
		}
		fmt.Fprintf(writer, "%s\t%d\t%s\t%d\t%s\t%s\t%s\n",
			d.CreatedAt.UTC().Format(time.RFC3339),
			d.ModelID,
			d.Period,
			d.HospitalCount,
			d.Channel,
			status,
			errMsg,
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
