package mortality

import (
	"math"
	"time"
)

// HospitalStatistics summarises a hospital's monthly mortality history for
// dashboard display and the daily +3SD check.
type HospitalStatistics struct {
	HospitalName     string
	AvgMortalityRate float64
	StdDeviation     float64
	Threshold3SD     float64
	LastUpdated      time.Time
}

// ComputeStatistics derives the statistics row from the hospital's monthly
// records. The deviation is the population deviation; fewer than two points
// give 0.
func ComputeStatistics(hospital string, records []MonthlyRecord) (HospitalStatistics, bool) {
	if len(records) == 0 {
		return HospitalStatistics{}, false
	}
	rates := make([]float64, len(records))
	for i, rec := range records {
		rates[i] = rec.MortalityRate
	}
	avg := Mean(rates)
	std := PopulationStdDev(rates)
	return HospitalStatistics{
		HospitalName:     hospital,
		AvgMortalityRate: avg,
		StdDeviation:     std,
		Threshold3SD:     avg + 3*std,
	}, true
}

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// SampleStdDev returns the n-1 standard deviation. One or zero points give 0.
func SampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return math.Sqrt(sumSquares(values) / float64(len(values)-1))
}

// PopulationStdDev returns the n standard deviation. One or zero points give 0.
func PopulationStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return math.Sqrt(sumSquares(values) / float64(len(values)))
}

func sumSquares(values []float64) float64 {
	m := Mean(values)
	var acc float64
	for _, v := range values {
		d := v - m
		acc += d * d
	}
	return acc
}
