package mortality

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// MonthlyRecord is the per-hospital aggregate for one calendar month.
type MonthlyRecord struct {
	HospitalName  string
	Year          int
	Month         int
	TotalPatients int
	Deaths        int
	MortalityRate float64
	CreatedAt     time.Time
}

// Period returns the record's calendar month.
func (r MonthlyRecord) Period() Period {
	return Period{Year: r.Year, Month: r.Month}
}

// Validate rejects records that cannot have come from a consistent sync.
func (r MonthlyRecord) Validate() error {
	if r.HospitalName == "" {
		return errors.New("hospital name is empty")
	}
	if !r.Period().Valid() {
		return fmt.Errorf("month %d out of range", r.Month)
	}
	if r.TotalPatients < 0 || r.Deaths < 0 {
		return fmt.Errorf("negative counts (patients=%d deaths=%d)", r.TotalPatients, r.Deaths)
	}
	if r.Deaths > r.TotalPatients {
		return fmt.Errorf("deaths %d exceed patients %d", r.Deaths, r.TotalPatients)
	}
	return nil
}

// DailyRecord is the per-hospital aggregate for a single discharge date.
type DailyRecord struct {
	HospitalName  string
	Date          time.Time
	TotalPatients int
	Deaths        int
	MortalityRate float64
}

// Aggregate is a hospital's totals for an arbitrary window, as returned by the
// warehouse before it is pinned to a month or a day.
type Aggregate struct {
	HospitalName  string
	TotalPatients int
	Deaths        int
	MortalityRate float64
}

// NewAggregate computes the mortality rate for the given counts.
func NewAggregate(hospital string, patients, deaths int) Aggregate {
	return Aggregate{
		HospitalName:  hospital,
		TotalPatients: patients,
		Deaths:        deaths,
		MortalityRate: Rate(deaths, patients),
	}
}

// Monthly pins the aggregate to a period.
func (a Aggregate) Monthly(p Period) MonthlyRecord {
	return MonthlyRecord{
		HospitalName:  a.HospitalName,
		Year:          p.Year,
		Month:         p.Month,
		TotalPatients: a.TotalPatients,
		Deaths:        a.Deaths,
		MortalityRate: a.MortalityRate,
	}
}

// Daily pins the aggregate to a date.
func (a Aggregate) Daily(d time.Time) DailyRecord {
	return DailyRecord{
		HospitalName:  a.HospitalName,
		Date:          d,
		TotalPatients: a.TotalPatients,
		Deaths:        a.Deaths,
		MortalityRate: a.MortalityRate,
	}
}

// Rate returns deaths/patients*100 rounded half to even at two decimals, so
// 1 death in 32 patients is 3.12. Zero patients yields 0.
func Rate(deaths, patients int) float64 {
	if patients <= 0 {
		return 0
	}
	return decimal.NewFromInt(int64(deaths)).
		Mul(hundred).
		Div(decimal.NewFromInt(int64(patients))).
		RoundBank(2).
		InexactFloat64()
}

// RoundRate rounds a percentage to two decimals, half to even.
func RoundRate(v float64) float64 {
	return decimal.NewFromFloat(v).RoundBank(2).InexactFloat64()
}

// SortDescending orders records newest first by (year, month).
func SortDescending(records []MonthlyRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[j].Period().Before(records[i].Period())
	})
}

// SortAscending orders records by hospital name, then oldest month first.
func SortAscending(records []MonthlyRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.HospitalName != b.HospitalName {
			return a.HospitalName < b.HospitalName
		}
		return a.Period().Before(b.Period())
	})
}

// GroupByHospital buckets records by hospital name, preserving input order.
func GroupByHospital(records []MonthlyRecord) map[string][]MonthlyRecord {
	out := make(map[string][]MonthlyRecord)
	for _, rec := range records {
		out[rec.HospitalName] = append(out[rec.HospitalName], rec)
	}
	return out
}

// Find returns the record for a period, if present.
func Find(records []MonthlyRecord, p Period) (MonthlyRecord, bool) {
	for _, rec := range records {
		if rec.Year == p.Year && rec.Month == p.Month {
			return rec, true
		}
	}
	return MonthlyRecord{}, false
}
