package storage

import (
	"time"

	"mortality-alerts/internal/mortality"
)

// MonthlyFilter narrows a monthly listing. Zero values mean unbounded.
type MonthlyFilter struct {
	Hospital string
	From     *mortality.Period
	To       *mortality.Period
}

// Matches reports whether rec falls inside the filter.
func (f MonthlyFilter) Matches(rec mortality.MonthlyRecord) bool {
	if f.Hospital != "" && rec.HospitalName != f.Hospital {
		return false
	}
	p := rec.Period()
	if f.From != nil && p.Before(*f.From) {
		return false
	}
	if f.To != nil && f.To.Before(p) {
		return false
	}
	return true
}

// UpsertResult counts rows created versus overwritten by an upsert.
type UpsertResult struct {
	Inserted int
	Updated  int
}

// Add accumulates another result.
func (r *UpsertResult) Add(o UpsertResult) {
	r.Inserted += o.Inserted
	r.Updated += o.Updated
}

// DeliveryRecord audits one notifier dispatch.
type DeliveryRecord struct {
	ID            int64
	RunID         string
	ModelID       int
	Period        string
	HospitalCount int
	Channel       string
	Success       bool
	Error         *string
	CreatedAt     time.Time
}
