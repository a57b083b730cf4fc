package alertmodel

import (
	"sort"

	"mortality-alerts/internal/mortality"
)

// StatusAlert is the only status an emitted result carries.
const StatusAlert = "Alert"

// MonthRate is one slot of the last-6-months series.
type MonthRate struct {
	Period        string  `json:"period"`
	MortalityRate float64 `json:"mortality_rate"`
}

// TrendInfo describes the three months that triggered model 13.
type TrendInfo struct {
	Month1 string  `json:"month1"`
	Month2 string  `json:"month2"`
	Month3 string  `json:"month3"`
	Rate1  float64 `json:"rate1"`
	Rate2  float64 `json:"rate2"`
	Rate3  float64 `json:"rate3"`
}

// AlertResult is one alerting hospital. It is produced per run and never
// persisted.
type AlertResult struct {
	HospitalName         string      `json:"hospital_name"`
	CurrentPeriod        string      `json:"current_period"`
	Deaths               int         `json:"deaths"`
	MortalityRate        float64     `json:"mortality_rate"`
	Threshold            float64     `json:"threshold"`
	SMR                  *float64    `json:"smr"`
	Status               string      `json:"status"`
	Last6MonthsMortality []MonthRate `json:"last_6_months_mortality"`
	TrendInfo            *TrendInfo  `json:"trend_info,omitempty"`
	CurrentSource        string      `json:"current_source"`
}

// SeriesMonths is the fixed length of the descriptive series.
const SeriesMonths = 6

// LastMonthsSeries builds the 6-slot series ending at period, oldest first,
// using stored rates and 0 for missing months.
func LastMonthsSeries(history []mortality.MonthlyRecord, period mortality.Period) []MonthRate {
	periods := period.Trailing(SeriesMonths)
	out := make([]MonthRate, len(periods))
	for i, p := range periods {
		out[i] = MonthRate{Period: p.String(), MortalityRate: storedRate(history, p)}
	}
	return out
}

// SuppressedByExclusion reports whether the death-count increase over the
// previous month is too small to notify. An unknown previous month never
// suppresses.
func SuppressedByExclusion(currentDeaths, previousDeaths int, previousKnown bool) bool {
	if !previousKnown {
		return false
	}
	return currentDeaths-previousDeaths <= MinDeathIncrease
}

// MinDeathIncrease is the largest month-over-month increase that is still
// treated as noise by the exclusion filter.
const MinDeathIncrease = 2

// Rank sorts results in place, descending on the model's ranking metric.
// Equal keys keep encounter order.
func Rank(m Model, results []AlertResult) {
	key := rankKey(m)
	sort.SliceStable(results, func(i, j int) bool {
		return key(results[i]) > key(results[j])
	})
}

func rankKey(m Model) func(AlertResult) float64 {
	switch {
	case m.Statistic == StatTrend:
		return func(r AlertResult) float64 { return r.MortalityRate }
	case m.Metric == MetricSMR:
		return func(r AlertResult) float64 {
			if r.SMR == nil {
				return 0
			}
			return *r.SMR
		}
	case m.Metric == MetricMortalityRate:
		return func(r AlertResult) float64 { return r.MortalityRate }
	default:
		return func(r AlertResult) float64 { return float64(r.Deaths) }
	}
}
