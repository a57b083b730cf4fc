package alertmodel

import "mortality-alerts/internal/mortality"

// Source records where a resolved current-period figure came from.
type Source int

const (
	SourceNone Source = iota
	SourceStore
	SourceLive
)

func (s Source) String() string {
	switch s {
	case SourceStore:
		return "store"
	case SourceLive:
		return "live"
	default:
		return "none"
	}
}

// Current is the resolved figure for the evaluation period.
type Current struct {
	Deaths        int
	MortalityRate float64
	Source        Source
}

// LiveAggregates maps hospital name to the live-computed figures for the
// evaluation month. It is populated once per run and only read afterwards.
type LiveAggregates map[string]mortality.Aggregate

// ResolveCurrent picks the stored row for period, then the live entry, then
// zero. A hospital absent from both sources is treated as having no activity.
func ResolveCurrent(hospital string, period mortality.Period, history []mortality.MonthlyRecord, live LiveAggregates) Current {
	if rec, ok := mortality.Find(history, period); ok {
		return Current{Deaths: rec.Deaths, MortalityRate: rec.MortalityRate, Source: SourceStore}
	}
	if agg, ok := live[hospital]; ok {
		return Current{Deaths: agg.Deaths, MortalityRate: agg.MortalityRate, Source: SourceLive}
	}
	return Current{}
}

// storedRate returns the stored rate for a past period, 0 when absent.
func storedRate(history []mortality.MonthlyRecord, p mortality.Period) float64 {
	if rec, ok := mortality.Find(history, p); ok {
		return rec.MortalityRate
	}
	return 0
}

// previousDeaths returns the stored death count for the month before period.
func previousDeaths(history []mortality.MonthlyRecord, period mortality.Period) (int, bool) {
	rec, ok := mortality.Find(history, period.Prev())
	if !ok {
		return 0, false
	}
	return rec.Deaths, true
}
