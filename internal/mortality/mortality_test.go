package mortality

import (
	"math"
	"testing"
	"time"
)

func TestRateRoundsToTwoDecimals(t *testing.T) {
	cases := []struct {
		deaths, patients int
		want             float64
	}{
		{1, 3, 33.33},
		{2, 3, 66.67},
		{0, 10, 0},
		{5, 5, 100},
		{1, 7, 14.29},
		{1, 32, 3.12},
		{3, 32, 9.38},
		{3, 0, 0},
	}
	for _, tc := range cases {
		if got := Rate(tc.deaths, tc.patients); got != tc.want {
			t.Fatalf("Rate(%d,%d) = %v, want %v", tc.deaths, tc.patients, got, tc.want)
		}
	}
}

func TestRateMatchesDefinition(t *testing.T) {
	for patients := 1; patients <= 60; patients++ {
		for deaths := 0; deaths <= patients; deaths++ {
			want := math.RoundToEven(float64(deaths)/float64(patients)*100*100) / 100
			got := Rate(deaths, patients)
			if math.Abs(got-want) > 1e-9 {
				t.Fatalf("Rate(%d,%d) = %v, want %v", deaths, patients, got, want)
			}
		}
	}
}

func TestRoundRateHalfToEven(t *testing.T) {
	cases := map[float64]float64{0.125: 0.12, 0.135: 0.14, -0.125: -0.12, 2.13: 2.13}
	for in, want := range cases {
		if got := RoundRate(in); got != want {
			t.Fatalf("RoundRate(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestPeriodArithmetic(t *testing.T) {
	jan := Period{Year: 2025, Month: 1}
	if got := jan.Prev(); got != (Period{Year: 2024, Month: 12}) {
		t.Fatalf("Prev of January = %v", got)
	}
	dec := Period{Year: 2024, Month: 12}
	if got := dec.Next(); got != jan {
		t.Fatalf("Next of December = %v", got)
	}
	if jan.String() != "2025-01" {
		t.Fatalf("String = %s", jan.String())
	}
	if !dec.Before(jan) || jan.Before(dec) {
		t.Fatal("Before ordering wrong")
	}

	trail := Period{Year: 2025, Month: 3}.Trailing(6)
	want := []string{"2024-10", "2024-11", "2024-12", "2025-01", "2025-02", "2025-03"}
	if len(trail) != len(want) {
		t.Fatalf("Trailing length %d", len(trail))
	}
	for i, p := range trail {
		if p.String() != want[i] {
			t.Fatalf("Trailing[%d] = %s, want %s", i, p, want[i])
		}
	}
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("2025-11")
	if err != nil {
		t.Fatalf("ParsePeriod: %v", err)
	}
	if p != (Period{Year: 2025, Month: 11}) {
		t.Fatalf("unexpected period %v", p)
	}
	if _, err := ParsePeriod("2025-13"); err == nil {
		t.Fatal("month 13 should fail")
	}
}

func TestIsLastDayOfMonth(t *testing.T) {
	cases := map[string]bool{
		"2024-02-29": true,
		"2025-02-28": true,
		"2025-02-27": false,
		"2025-12-31": true,
		"2025-04-30": true,
		"2025-05-30": false,
	}
	for s, want := range cases {
		d, _ := time.Parse("2006-01-02", s)
		if got := IsLastDayOfMonth(d); got != want {
			t.Fatalf("IsLastDayOfMonth(%s) = %v", s, got)
		}
	}
}

func TestValidate(t *testing.T) {
	ok := MonthlyRecord{HospitalName: "H", Year: 2025, Month: 5, TotalPatients: 10, Deaths: 2}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}
	bad := []MonthlyRecord{
		{Year: 2025, Month: 5},
		{HospitalName: "H", Year: 2025, Month: 0},
		{HospitalName: "H", Year: 2025, Month: 5, TotalPatients: 1, Deaths: 2},
		{HospitalName: "H", Year: 2025, Month: 5, TotalPatients: -1},
	}
	for i, rec := range bad {
		if err := rec.Validate(); err == nil {
			t.Fatalf("case %d should be rejected", i)
		}
	}
}

func TestComputeStatistics(t *testing.T) {
	if _, ok := ComputeStatistics("H", nil); ok {
		t.Fatal("no records should yield no statistics")
	}

	single, ok := ComputeStatistics("H", []MonthlyRecord{{MortalityRate: 4.5}})
	if !ok {
		t.Fatal("single record should yield statistics")
	}
	if single.StdDeviation != 0 || math.IsNaN(single.StdDeviation) {
		t.Fatalf("single point std = %v, want 0", single.StdDeviation)
	}
	if single.Threshold3SD != 4.5 {
		t.Fatalf("threshold = %v", single.Threshold3SD)
	}

	stats, _ := ComputeStatistics("H", []MonthlyRecord{{MortalityRate: 2}, {MortalityRate: 4}})
	if stats.AvgMortalityRate != 3 || stats.StdDeviation != 1 || stats.Threshold3SD != 6 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestSampleStdDev(t *testing.T) {
	if SampleStdDev([]float64{7}) != 0 {
		t.Fatal("one point should be 0")
	}
	got := SampleStdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if math.Abs(got-2.138089935) > 1e-6 {
		t.Fatalf("sample std = %v", got)
	}
}

func TestSortDescending(t *testing.T) {
	recs := []MonthlyRecord{
		{Year: 2024, Month: 12},
		{Year: 2025, Month: 2},
		{Year: 2025, Month: 1},
	}
	SortDescending(recs)
	if recs[0].Period().String() != "2025-02" || recs[2].Period().String() != "2024-12" {
		t.Fatalf("unexpected order %+v", recs)
	}
}

func TestSortAscending(t *testing.T) {
	recs := []MonthlyRecord{
		{HospitalName: "B", Year: 2025, Month: 1},
		{HospitalName: "A", Year: 2025, Month: 2},
		{HospitalName: "A", Year: 2024, Month: 12},
	}
	SortAscending(recs)
	if recs[0].HospitalName != "A" || recs[0].Period().String() != "2024-12" || recs[2].HospitalName != "B" {
		t.Fatalf("unexpected order %+v", recs)
	}
}
