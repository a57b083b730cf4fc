package alertmodel

import (
	"sort"

	"mortality-alerts/internal/mortality"
)

// Extractor reads the metric value from a stored record.
type Extractor func(mortality.MonthlyRecord) float64

// DeathsOf extracts the raw death count.
func DeathsOf(rec mortality.MonthlyRecord) float64 { return float64(rec.Deaths) }

// RateOf extracts the mortality percentage.
func RateOf(rec mortality.MonthlyRecord) float64 { return rec.MortalityRate }

// SMROf returns an extractor dividing the rate by expected.
func SMROf(expected float64) Extractor {
	return func(rec mortality.MonthlyRecord) float64 {
		return rec.MortalityRate / expected
	}
}

// Baseline is the comparison value for one hospital. OK is false when no
// period remained in the lookback window.
type Baseline struct {
	Value   float64
	Periods []mortality.Period
	OK      bool
}

// LookbackWindow removes the excluded period and returns the records that
// belong to the most recent n distinct periods, newest first.
func LookbackWindow(history []mortality.MonthlyRecord, n int, exclude mortality.Period) ([]mortality.MonthlyRecord, []mortality.Period) {
	if n <= 0 {
		return nil, nil
	}

	kept := make([]mortality.MonthlyRecord, 0, len(history))
	for _, rec := range history {
		if rec.Period() == exclude {
			continue
		}
		kept = append(kept, rec)
	}
	mortality.SortDescending(kept)

	periods := make([]mortality.Period, 0, n)
	chosen := make(map[mortality.Period]struct{}, n)
	for _, rec := range kept {
		p := rec.Period()
		if _, seen := chosen[p]; seen {
			continue
		}
		if len(periods) == n {
			break
		}
		chosen[p] = struct{}{}
		periods = append(periods, p)
	}

	window := kept[:0:0]
	for _, rec := range kept {
		if _, ok := chosen[rec.Period()]; ok {
			window = append(window, rec)
		}
	}
	sort.SliceStable(periods, func(i, j int) bool { return periods[j].Before(periods[i]) })
	return window, periods
}

// ComputeBaseline reduces the metric over the lookback window with stat.
func ComputeBaseline(history []mortality.MonthlyRecord, lookback int, exclude mortality.Period, stat Statistic, extract Extractor) Baseline {
	window, periods := LookbackWindow(history, lookback, exclude)
	if len(periods) == 0 {
		return Baseline{}
	}

	values := make([]float64, len(window))
	for i, rec := range window {
		values[i] = extract(rec)
	}

	var v float64
	switch stat {
	case StatMax:
		v = values[0]
		for _, x := range values[1:] {
			if x > v {
				v = x
			}
		}
	case StatMeanPlusSD:
		v = mortality.Mean(values) + mortality.SampleStdDev(values)
	default:
		return Baseline{}
	}
	return Baseline{Value: v, Periods: periods, OK: true}
}
