package app

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"mortality-alerts/internal/mortality"
)

// InitHistory backfills every month from the warehouse.
func (a *App) InitHistory(ctx context.Context) error {
	rt, err := a.open(ctx, true, true)
	if err != nil {
		return err
	}
	defer rt.close()

	report, err := a.newSyncer(rt).InitializeHistory(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "records: %d (inserted %d, updated %d), statistics: %d hospitals\n",
		report.Records, report.Upsert.Inserted, report.Upsert.Updated, report.Statistics)
	return nil
}

// SyncMonth overwrites one month for every hospital.
func (a *App) SyncMonth(ctx context.Context, period mortality.Period) error {
	rt, err := a.open(ctx, true, true)
	if err != nil {
		return err
	}
	defer rt.close()

	report, err := a.newSyncer(rt).SyncMonth(ctx, period)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s: %d hospitals (inserted %d, updated %d), %d statistics rows\n",
		report.Period, report.Hospitals, report.Upsert.Inserted, report.Upsert.Updated, report.Statistics)
	return nil
}

// DailyUpdate syncs one discharge date and prints its 3SD alerts. A zero day
// means yesterday.
func (a *App) DailyUpdate(ctx context.Context, day time.Time) error {
	rt, err := a.open(ctx, true, true)
	if err != nil {
		return err
	}
	defer rt.close()

	report, err := a.newSyncer(rt).DailyUpdate(ctx, day)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s: %d hospitals", report.Date.Format("2006-01-02"), report.Hospitals)
	if report.MonthRolledUp {
		fmt.Fprintf(a.Out, ", month rolled up (inserted %d, updated %d)", report.MonthUpsert.Inserted, report.MonthUpsert.Updated)
	}
	fmt.Fprintln(a.Out)

	if len(report.Alerts) == 0 {
		fmt.Fprintln(a.Out, "no hospital above its 3SD threshold")
		return nil
	}
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Hospital\tRate%\tThreshold%")
	for _, alert := range report.Alerts {
		fmt.Fprintf(writer, "%s\t%.2f\t%.2f\n", alert.HospitalName, alert.MortalityRate, alert.Threshold)
	}
	return writer.Flush()
}
