package app

import (
	"context"
	"errors"
	"fmt"

	"mortality-alerts/internal/ingest"
	"mortality-alerts/internal/mortality"
)

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From mortality.Period
	To   mortality.Period
}

// Backfill re-syncs every month in [From, To].
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if !opts.From.Valid() || !opts.To.Valid() {
		return errors.New("backfill range must use valid months")
	}
	if opts.To.Before(opts.From) {
		return errors.New("backfill range is empty, check --from/--to")
	}

	rt, err := a.open(ctx, true, true)
	if err != nil {
		return err
	}
	defer rt.close()

	syncer := a.newSyncer(rt)
	processed := 0
	failed := 0
	for p := opts.From; !opts.To.Before(p); p = p.Next() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		report, err := syncer.SyncMonth(ctx, p)
		if errors.Is(err, ingest.ErrLockHeld) {
			return err
		}
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Str("period", p.String()).Msg("month backfill failed")
			continue
		}
		processed++
		a.Logger.Info().Str("period", p.String()).Int("hospitals", report.Hospitals).Msg("month backfilled")
	}

	if _, err := syncer.RecomputeStatistics(ctx); err != nil {
		return err
	}

	a.Logger.Info().Int("processed", processed).Int("failed", failed).Msg("backfill complete")
	if failed > 0 {
		return fmt.Errorf("%d months failed to backfill, check logs", failed)
	}
	return nil
}
