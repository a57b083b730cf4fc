package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mortality-alerts/internal/mortality"
	"mortality-alerts/internal/storage"
)

type fakeSource struct {
	history []mortality.MonthlyRecord
	month   map[mortality.Period][]mortality.Aggregate
	daily   map[string][]mortality.Aggregate
	err     error
	calls   int
}

func (f *fakeSource) MonthlyAggregates(ctx context.Context) ([]mortality.MonthlyRecord, error) {
	f.calls++
	return f.history, f.err
}

func (f *fakeSource) MonthAggregates(ctx context.Context, p mortality.Period) ([]mortality.Aggregate, error) {
	f.calls++
	return f.month[p], f.err
}

func (f *fakeSource) DailyAggregates(ctx context.Context, day time.Time) ([]mortality.Aggregate, error) {
	f.calls++
	return f.daily[day.Format("2006-01-02")], f.err
}

func fixedNow() time.Time { return time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC) }

func newSyncer(store storage.HistoricalStore, src FactSource, lockKey int64) *Syncer {
	return New(store, src, Options{LockKey: lockKey, Now: fixedNow}, zerolog.Nop())
}

func TestInitializeHistoryStoresRecordsAndStatistics(t *testing.T) {
	store := storage.NewMemoryStore()
	src := &fakeSource{history: []mortality.MonthlyRecord{
		mortality.NewAggregate("A", 10, 1).Monthly(mortality.Period{Year: 2025, Month: 1}),
		mortality.NewAggregate("A", 10, 3).Monthly(mortality.Period{Year: 2025, Month: 2}),
		mortality.NewAggregate("B", 5, 0).Monthly(mortality.Period{Year: 2025, Month: 1}),
	}}

	report, err := newSyncer(store, src, 0).InitializeHistory(context.Background())
	if err != nil {
		t.Fatalf("InitializeHistory: %v", err)
	}
	if report.Records != 3 || report.Upsert.Inserted != 3 || report.Statistics != 2 {
		t.Fatalf("unexpected report %+v", report)
	}

	stats, _ := store.ListStatistics(context.Background())
	var a mortality.HospitalStatistics
	for _, st := range stats {
		if st.HospitalName == "A" {
			a = st
		}
	}
	// rates 10 and 30: mean 20, population deviation 10
	if a.AvgMortalityRate != 20 || a.StdDeviation != 10 || a.Threshold3SD != 50 {
		t.Fatalf("unexpected statistics %+v", a)
	}
	if !a.LastUpdated.Equal(fixedNow()) {
		t.Fatalf("LastUpdated not stamped: %v", a.LastUpdated)
	}
}

func TestInitializeHistoryEmptyWarehouse(t *testing.T) {
	store := storage.NewMemoryStore()
	report, err := newSyncer(store, &fakeSource{}, 0).InitializeHistory(context.Background())
	if err != nil || report.Records != 0 {
		t.Fatalf("got %+v, %v", report, err)
	}
}

func TestSyncMonthReportsInsertedAndUpdated(t *testing.T) {
	store := storage.NewMemoryStore()
	p := mortality.Period{Year: 2025, Month: 5}
	_, _ = store.UpsertMonthly(context.Background(), []mortality.MonthlyRecord{
		mortality.NewAggregate("A", 4, 1).Monthly(p),
	})
	src := &fakeSource{month: map[mortality.Period][]mortality.Aggregate{
		p: {mortality.NewAggregate("A", 8, 2), mortality.NewAggregate("B", 3, 0)},
	}}

	report, err := newSyncer(store, src, 0).SyncMonth(context.Background(), p)
	if err != nil {
		t.Fatalf("SyncMonth: %v", err)
	}
	if report.Hospitals != 2 || report.Upsert.Inserted != 1 || report.Upsert.Updated != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	rows, _ := store.ListMonthly(context.Background(), storage.MonthlyFilter{Hospital: "A"})
	if len(rows) != 1 || rows[0].TotalPatients != 8 || rows[0].MortalityRate != 25 {
		t.Fatalf("month not overwritten: %+v", rows)
	}
}

func TestSyncMonthRecomputesStatistics(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	jan := mortality.Period{Year: 2025, Month: 1}
	feb := mortality.Period{Year: 2025, Month: 2}
	src := &fakeSource{
		history: []mortality.MonthlyRecord{mortality.NewAggregate("A", 10, 1).Monthly(jan)},
		month:   map[mortality.Period][]mortality.Aggregate{feb: {mortality.NewAggregate("A", 10, 3)}},
	}
	s := newSyncer(store, src, 0)
	if _, err := s.InitializeHistory(ctx); err != nil {
		t.Fatalf("InitializeHistory: %v", err)
	}

	report, err := s.SyncMonth(ctx, feb)
	if err != nil {
		t.Fatalf("SyncMonth: %v", err)
	}
	if report.Statistics != 1 {
		t.Fatalf("expected one statistics row, got %+v", report)
	}

	stats, _ := store.ListStatistics(ctx)
	if len(stats) != 1 {
		t.Fatalf("unexpected statistics %+v", stats)
	}
	// rates 10 and 30: mean 20, population deviation 10
	if st := stats[0]; st.AvgMortalityRate != 20 || st.StdDeviation != 10 || st.Threshold3SD != 50 {
		t.Fatalf("statistics not refreshed after month sync: %+v", st)
	}
}

func TestSyncMonthRejectsInvalidMonth(t *testing.T) {
	src := &fakeSource{}
	if _, err := newSyncer(storage.NewMemoryStore(), src, 0).SyncMonth(context.Background(), mortality.Period{Year: 2025, Month: 0}); err == nil {
		t.Fatal("expected validation error")
	}
	if src.calls != 0 {
		t.Fatal("warehouse must not be queried for an invalid month")
	}
}

func TestSyncMonthPropagatesWarehouseError(t *testing.T) {
	src := &fakeSource{err: errors.New("boom")}
	if _, err := newSyncer(storage.NewMemoryStore(), src, 0).SyncMonth(context.Background(), mortality.Period{Year: 2025, Month: 1}); err == nil {
		t.Fatal("expected error")
	}
}

func TestDailyUpdateAlertsAboveThreshold(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	// A: rates 10,10 give threshold 10; B: rates 10,30 give threshold 50.
	_, _ = store.UpsertMonthly(ctx, []mortality.MonthlyRecord{
		mortality.NewAggregate("A", 10, 1).Monthly(mortality.Period{Year: 2025, Month: 4}),
		mortality.NewAggregate("A", 10, 1).Monthly(mortality.Period{Year: 2025, Month: 5}),
		mortality.NewAggregate("B", 10, 1).Monthly(mortality.Period{Year: 2025, Month: 4}),
		mortality.NewAggregate("B", 10, 3).Monthly(mortality.Period{Year: 2025, Month: 5}),
	})
	src := &fakeSource{daily: map[string][]mortality.Aggregate{
		"2025-06-14": {mortality.NewAggregate("A", 4, 1), mortality.NewAggregate("B", 4, 1)},
	}}

	report, err := newSyncer(store, src, 0).DailyUpdate(ctx, time.Time{})
	if err != nil {
		t.Fatalf("DailyUpdate: %v", err)
	}
	if !report.Date.Equal(time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("default date should be yesterday, got %v", report.Date)
	}
	if report.MonthRolledUp {
		t.Fatal("mid-month update must not roll up")
	}
	if len(report.Alerts) != 1 || report.Alerts[0].HospitalName != "A" || report.Alerts[0].MortalityRate != 25 || report.Alerts[0].Threshold != 10 {
		t.Fatalf("unexpected alerts %+v", report.Alerts)
	}

	daily, _ := store.ListDaily(ctx, "", report.Date, report.Date.AddDate(0, 0, 1))
	if len(daily) != 2 {
		t.Fatalf("expected daily rows stored, got %d", len(daily))
	}
}

func TestDailyUpdateRollsUpLastDayOfMonth(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_ = store.UpsertDaily(ctx, []mortality.DailyRecord{
		mortality.NewAggregate("A", 3, 1).Daily(time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)),
		mortality.NewAggregate("A", 2, 0).Daily(time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)),
	})
	last := time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{daily: map[string][]mortality.Aggregate{
		"2025-04-30": {mortality.NewAggregate("A", 5, 1)},
	}}

	report, err := newSyncer(store, src, 0).DailyUpdate(ctx, last)
	if err != nil {
		t.Fatalf("DailyUpdate: %v", err)
	}
	if !report.MonthRolledUp || report.MonthUpsert.Inserted != 1 {
		t.Fatalf("expected month roll-up, got %+v", report)
	}

	rows, _ := store.ListMonthly(ctx, storage.MonthlyFilter{Hospital: "A"})
	if len(rows) != 1 {
		t.Fatalf("expected one monthly row, got %+v", rows)
	}
	if rows[0].Month != 4 || rows[0].TotalPatients != 8 || rows[0].Deaths != 2 || rows[0].MortalityRate != 25 {
		t.Fatalf("unexpected roll-up %+v", rows[0])
	}
}

func TestDailyUpdateNoRowsReturnsEarly(t *testing.T) {
	store := storage.NewMemoryStore()
	report, err := newSyncer(store, &fakeSource{}, 0).DailyUpdate(context.Background(), time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("DailyUpdate: %v", err)
	}
	if report.Hospitals != 0 || report.MonthRolledUp || len(report.Alerts) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestLockHeldSkipsJob(t *testing.T) {
	store := storage.NewMemoryStore()
	unlock, ok, _ := store.TryAdvisoryLock(context.Background(), 42)
	if !ok {
		t.Fatal("setup lock failed")
	}
	defer unlock()

	src := &fakeSource{}
	_, err := newSyncer(store, src, 42).InitializeHistory(context.Background())
	if !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	if src.calls != 0 {
		t.Fatal("warehouse queried while lock held")
	}
}

func TestLockReleasedAfterJob(t *testing.T) {
	store := storage.NewMemoryStore()
	s := newSyncer(store, &fakeSource{}, 7)
	if _, err := s.RecomputeStatistics(context.Background()); err != nil {
		t.Fatalf("RecomputeStatistics: %v", err)
	}
	if _, err := s.InitializeHistory(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := s.InitializeHistory(context.Background()); err != nil {
		t.Fatalf("lock not released: %v", err)
	}
}
