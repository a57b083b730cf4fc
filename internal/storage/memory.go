package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"mortality-alerts/internal/mortality"
)

type monthlyKey struct {
	hospital string
	period   mortality.Period
}

type dailyKey struct {
	hospital string
	date     string
}

// MemoryStore is an in-process HistoricalStore used by tests and dry runs.
type MemoryStore struct {
	mu         sync.Mutex
	monthly    map[monthlyKey]mortality.MonthlyRecord
	daily      map[dailyKey]mortality.DailyRecord
	stats      map[string]mortality.HospitalStatistics
	deliveries []DeliveryRecord
	locks      map[int64]bool
	now        func() time.Time
}

var (
	_ HistoricalStore = (*MemoryStore)(nil)
	_ AdvisoryLocker  = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		monthly: make(map[monthlyKey]mortality.MonthlyRecord),
		daily:   make(map[dailyKey]mortality.DailyRecord),
		stats:   make(map[string]mortality.HospitalStatistics),
		locks:   make(map[int64]bool),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ListHospitals returns the sorted distinct hospital names with monthly data.
func (m *MemoryStore) ListHospitals(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{})
	names := make([]string, 0)
	for k := range m.monthly {
		if _, ok := seen[k.hospital]; ok {
			continue
		}
		seen[k.hospital] = struct{}{}
		names = append(names, k.hospital)
	}
	sort.Strings(names)
	return names, nil
}

// ListMonthly lists monthly rows ordered by hospital then newest first.
func (m *MemoryStore) ListMonthly(ctx context.Context, filter MonthlyFilter) ([]mortality.MonthlyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]mortality.MonthlyRecord, 0)
	for _, rec := range m.monthly {
		if filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HospitalName != out[j].HospitalName {
			return out[i].HospitalName < out[j].HospitalName
		}
		return out[j].Period().Before(out[i].Period())
	})
	return out, nil
}

// UpsertMonthly overwrites rows keyed by (hospital, year, month).
func (m *MemoryStore) UpsertMonthly(ctx context.Context, records []mortality.MonthlyRecord) (UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res UpsertResult
	for _, rec := range records {
		k := monthlyKey{hospital: rec.HospitalName, period: rec.Period()}
		if _, exists := m.monthly[k]; exists {
			res.Updated++
		} else {
			res.Inserted++
		}
		rec.CreatedAt = m.now()
		m.monthly[k] = rec
	}
	return res, nil
}

// UpsertDaily overwrites rows keyed by (hospital, date).
func (m *MemoryStore) UpsertDaily(ctx context.Context, records []mortality.DailyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range records {
		m.daily[dailyKey{hospital: rec.HospitalName, date: rec.Date.Format("2006-01-02")}] = rec
	}
	return nil
}

// ListDaily lists daily rows in [from, to). An empty hospital lists all.
func (m *MemoryStore) ListDaily(ctx context.Context, hospital string, from, to time.Time) ([]mortality.DailyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]mortality.DailyRecord, 0)
	for _, rec := range m.daily {
		if hospital != "" && rec.HospitalName != hospital {
			continue
		}
		if rec.Date.Before(from) || !rec.Date.Before(to) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HospitalName != out[j].HospitalName {
			return out[i].HospitalName < out[j].HospitalName
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

// UpsertStatistics replaces statistics rows.
func (m *MemoryStore) UpsertStatistics(ctx context.Context, stats []mortality.HospitalStatistics) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, st := range stats {
		m.stats[st.HospitalName] = st
	}
	return nil
}

// ListStatistics lists statistics rows sorted by hospital.
func (m *MemoryStore) ListStatistics(ctx context.Context) ([]mortality.HospitalStatistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]mortality.HospitalStatistics, 0, len(m.stats))
	for _, st := range m.stats {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HospitalName < out[j].HospitalName })
	return out, nil
}

// InsertDelivery appends a delivery record.
func (m *MemoryStore) InsertDelivery(ctx context.Context, rec DeliveryRecord) (DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.ID = int64(len(m.deliveries) + 1)
	rec.CreatedAt = m.now()
	m.deliveries = append(m.deliveries, rec)
	return rec, nil
}

// ListRecentDeliveries lists deliveries newest first.
func (m *MemoryStore) ListRecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]DeliveryRecord, 0, limit)
	for i := len(m.deliveries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.deliveries[i])
	}
	return out, nil
}

// TryAdvisoryLock emulates a session-level advisory lock within the process.
func (m *MemoryStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locks[key] {
		return nil, false, nil
	}
	m.locks[key] = true
	return func() {
		m.mu.Lock()
		delete(m.locks, key)
		m.mu.Unlock()
	}, true, nil
}
