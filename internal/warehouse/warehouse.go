package warehouse

import (
	"context"
	"time"

	"mortality-alerts/internal/mortality"
)

// HistorySource returns the full monthly history computed from raw facts.
type HistorySource interface {
	MonthlyAggregates(ctx context.Context) ([]mortality.MonthlyRecord, error)
}

// LiveAggregator computes per-hospital totals for one month directly from raw facts.
type LiveAggregator interface {
	MonthAggregates(ctx context.Context, period mortality.Period) ([]mortality.Aggregate, error)
}

// DailySource computes per-hospital totals for one discharge date.
type DailySource interface {
	DailyAggregates(ctx context.Context, day time.Time) ([]mortality.Aggregate, error)
}

// ExpectedSource resolves expected death percentages for SMR models.
type ExpectedSource interface {
	ExpectedDeathPercentages(ctx context.Context, hospitals []string) (map[string]float64, error)
}

// BedDaySource computes daily patient bed days.
type BedDaySource interface {
	DailyBedDays(ctx context.Context, filter BedDayFilter) ([]BedDays, error)
}

// Source is every query the warehouse answers.
type Source interface {
	HistorySource
	LiveAggregator
	DailySource
	ExpectedSource
	BedDaySource
}

// BedDayFilter bounds a bed-day query. Dates are inclusive.
type BedDayFilter struct {
	Hospital string
	From     time.Time
	To       time.Time
}

// BedDays is the number of patients present at least six hours on a date.
type BedDays struct {
	Date         time.Time `json:"date"`
	HospitalName string    `json:"hospital_name"`
	TotalPBD     int       `json:"total_pbd"`
}
