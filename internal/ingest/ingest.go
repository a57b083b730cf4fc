package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"mortality-alerts/internal/mortality"
	"mortality-alerts/internal/storage"
	"mortality-alerts/internal/warehouse"
)

// ErrLockHeld is returned when another instance holds the sync lock.
var ErrLockHeld = errors.New("ingest: advisory lock held by another instance")

// FactSource is the part of the warehouse the sync jobs read.
type FactSource interface {
	warehouse.HistorySource
	warehouse.LiveAggregator
	warehouse.DailySource
}

// Options tune the Syncer.
type Options struct {
	LockKey int64
	Now     func() time.Time
}

// Syncer copies warehouse aggregates into the historical store.
type Syncer struct {
	store   storage.HistoricalStore
	source  FactSource
	locker  storage.AdvisoryLocker
	lockKey int64
	now     func() time.Time
	logger  zerolog.Logger
}

// New constructs a Syncer. The store doubles as the advisory locker when it
// supports it.
func New(store storage.HistoricalStore, source FactSource, opts Options, logger zerolog.Logger) *Syncer {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Syncer{
		store:   store,
		source:  source,
		locker:  locker,
		lockKey: opts.LockKey,
		now:     now,
		logger:  logger.With().Str("component", "ingest").Logger(),
	}
}

// HistoryReport summarises InitializeHistory.
type HistoryReport struct {
	Records    int
	Upsert     storage.UpsertResult
	Statistics int
}

// MonthReport summarises SyncMonth.
type MonthReport struct {
	Period     mortality.Period
	Hospitals  int
	Upsert     storage.UpsertResult
	Statistics int
}

// DailyAlert is a hospital whose daily rate exceeded its +3SD threshold.
type DailyAlert struct {
	HospitalName  string    `json:"hospital_name"`
	Date          time.Time `json:"date"`
	MortalityRate float64   `json:"mortality_rate"`
	Threshold     float64   `json:"threshold"`
}

// DailyReport summarises DailyUpdate.
type DailyReport struct {
	Date          time.Time
	Hospitals     int
	MonthRolledUp bool
	MonthUpsert   storage.UpsertResult
	Statistics    int
	Alerts        []DailyAlert
}

// InitializeHistory backfills every monthly aggregate and recomputes statistics.
func (s *Syncer) InitializeHistory(ctx context.Context) (HistoryReport, error) {
	var report HistoryReport
	err := s.withLock(ctx, "init_history", func(ctx context.Context) error {
		records, err := s.source.MonthlyAggregates(ctx)
		if err != nil {
			return fmt.Errorf("fetch monthly history: %w", err)
		}
		report.Records = len(records)
		if len(records) == 0 {
			s.logger.Warn().Msg("warehouse returned no monthly history")
			return nil
		}

		report.Upsert, err = s.store.UpsertMonthly(ctx, records)
		if err != nil {
			return fmt.Errorf("store monthly history: %w", err)
		}

		report.Statistics, err = s.recomputeStatistics(ctx)
		return err
	})
	if err != nil {
		return HistoryReport{}, err
	}

	s.logger.Info().
		Int("records", report.Records).
		Int("inserted", report.Upsert.Inserted).
		Int("updated", report.Upsert.Updated).
		Int("statistics", report.Statistics).
		Msg("history initialised")
	return report, nil
}

// SyncMonth overwrites one month for every hospital the warehouse reports
// and recomputes statistics.
func (s *Syncer) SyncMonth(ctx context.Context, period mortality.Period) (MonthReport, error) {
	if !period.Valid() {
		return MonthReport{}, fmt.Errorf("month must be within 1-12, got %d", period.Month)
	}

	report := MonthReport{Period: period}
	err := s.withLock(ctx, "sync_month", func(ctx context.Context) error {
		aggs, err := s.source.MonthAggregates(ctx, period)
		if err != nil {
			return fmt.Errorf("fetch month %s: %w", period, err)
		}
		report.Hospitals = len(aggs)
		if len(aggs) == 0 {
			s.logger.Warn().Str("period", period.String()).Msg("warehouse returned no rows for month")
			return nil
		}

		records := make([]mortality.MonthlyRecord, len(aggs))
		for i, agg := range aggs {
			records[i] = agg.Monthly(period)
		}
		report.Upsert, err = s.store.UpsertMonthly(ctx, records)
		if err != nil {
			return fmt.Errorf("store month %s: %w", period, err)
		}

		report.Statistics, err = s.recomputeStatistics(ctx)
		return err
	})
	if err != nil {
		return MonthReport{}, err
	}

	s.logger.Info().
		Str("period", period.String()).
		Int("hospitals", report.Hospitals).
		Int("inserted", report.Upsert.Inserted).
		Int("updated", report.Upsert.Updated).
		Int("statistics", report.Statistics).
		Msg("month synced")
	return report, nil
}

// DailyUpdate stores one day of aggregates, rolls the month up on its last
// day, recomputes statistics and returns hospitals above their +3SD
// threshold. A zero day means yesterday.
func (s *Syncer) DailyUpdate(ctx context.Context, day time.Time) (DailyReport, error) {
	if day.IsZero() {
		day = s.now().AddDate(0, 0, -1)
	}
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	report := DailyReport{Date: day}
	err := s.withLock(ctx, "daily_update", func(ctx context.Context) error {
		aggs, err := s.source.DailyAggregates(ctx, day)
		if err != nil {
			return fmt.Errorf("fetch daily aggregates: %w", err)
		}
		report.Hospitals = len(aggs)
		if len(aggs) == 0 {
			s.logger.Warn().Time("date", day).Msg("no discharges found for date")
			return nil
		}

		daily := make([]mortality.DailyRecord, len(aggs))
		for i, agg := range aggs {
			daily[i] = agg.Daily(day)
		}
		if err := s.store.UpsertDaily(ctx, daily); err != nil {
			return fmt.Errorf("store daily aggregates: %w", err)
		}

		if mortality.IsLastDayOfMonth(day) {
			report.MonthUpsert, err = s.rollUpMonth(ctx, mortality.PeriodOf(day), day)
			if err != nil {
				return err
			}
			report.MonthRolledUp = true
		}

		report.Statistics, err = s.recomputeStatistics(ctx)
		if err != nil {
			return err
		}

		report.Alerts, err = s.dailyAlerts(ctx, daily)
		return err
	})
	if err != nil {
		return DailyReport{}, err
	}

	s.logger.Info().
		Time("date", day).
		Int("hospitals", report.Hospitals).
		Bool("month_rolled_up", report.MonthRolledUp).
		Int("alerts", len(report.Alerts)).
		Msg("daily update complete")
	return report, nil
}

// RecomputeStatistics refreshes every hospital's statistics row.
func (s *Syncer) RecomputeStatistics(ctx context.Context) (int, error) {
	return s.recomputeStatistics(ctx)
}

func (s *Syncer) rollUpMonth(ctx context.Context, period mortality.Period, lastDay time.Time) (storage.UpsertResult, error) {
	rows, err := s.store.ListDaily(ctx, "", period.Start(), lastDay.AddDate(0, 0, 1))
	if err != nil {
		return storage.UpsertResult{}, fmt.Errorf("list daily rows for %s: %w", period, err)
	}

	type totals struct{ patients, deaths int }
	byHospital := make(map[string]*totals)
	order := make([]string, 0)
	for _, row := range rows {
		t, ok := byHospital[row.HospitalName]
		if !ok {
			t = &totals{}
			byHospital[row.HospitalName] = t
			order = append(order, row.HospitalName)
		}
		t.patients += row.TotalPatients
		t.deaths += row.Deaths
	}

	records := make([]mortality.MonthlyRecord, 0, len(order))
	for _, h := range order {
		t := byHospital[h]
		records = append(records, mortality.NewAggregate(h, t.patients, t.deaths).Monthly(period))
	}

	res, err := s.store.UpsertMonthly(ctx, records)
	if err != nil {
		return storage.UpsertResult{}, fmt.Errorf("roll up %s: %w", period, err)
	}
	s.logger.Info().Str("period", period.String()).Int("hospitals", len(records)).Msg("monthly aggregation rolled up from daily rows")
	return res, nil
}

func (s *Syncer) recomputeStatistics(ctx context.Context) (int, error) {
	records, err := s.store.ListMonthly(ctx, storage.MonthlyFilter{})
	if err != nil {
		return 0, fmt.Errorf("list monthly for statistics: %w", err)
	}

	grouped := mortality.GroupByHospital(records)
	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)

	now := s.now()
	stats := make([]mortality.HospitalStatistics, 0, len(names))
	for _, name := range names {
		st, ok := mortality.ComputeStatistics(name, grouped[name])
		if !ok {
			continue
		}
		st.LastUpdated = now
		stats = append(stats, st)
	}

	if err := s.store.UpsertStatistics(ctx, stats); err != nil {
		return 0, fmt.Errorf("store statistics: %w", err)
	}
	return len(stats), nil
}

func (s *Syncer) dailyAlerts(ctx context.Context, daily []mortality.DailyRecord) ([]DailyAlert, error) {
	stats, err := s.store.ListStatistics(ctx)
	if err != nil {
		return nil, fmt.Errorf("list statistics: %w", err)
	}
	thresholds := make(map[string]float64, len(stats))
	for _, st := range stats {
		thresholds[st.HospitalName] = st.Threshold3SD
	}

	alerts := make([]DailyAlert, 0)
	for _, rec := range daily {
		threshold, ok := thresholds[rec.HospitalName]
		if !ok || !(rec.MortalityRate > threshold) {
			continue
		}
		alerts = append(alerts, DailyAlert{
			HospitalName:  rec.HospitalName,
			Date:          rec.Date,
			MortalityRate: rec.MortalityRate,
			Threshold:     threshold,
		})
		s.logger.Warn().
			Str("hospital", rec.HospitalName).
			Float64("mortality_rate", rec.MortalityRate).
			Float64("threshold", threshold).
			Msg("daily mortality above +3SD threshold")
	}
	sort.SliceStable(alerts, func(i, j int) bool { return alerts[i].HospitalName < alerts[j].HospitalName })
	return alerts, nil
}

func (s *Syncer) withLock(ctx context.Context, job string, fn func(context.Context) error) error {
	if s.lockKey == 0 || s.locker == nil {
		return fn(ctx)
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		s.logger.Debug().Str("job", job).Msg("skip job because advisory lock held elsewhere")
		return ErrLockHeld
	}
	defer unlock()
	return fn(ctx)
}
