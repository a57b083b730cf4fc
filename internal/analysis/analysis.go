// Package analysis classifies hospitals whose mortality worsened or improved
// at the end of a window of months.
package analysis

import (
	"fmt"
	"math"
	"sort"

	"mortality-alerts/internal/mortality"
)

// Direction is the classification of one hospital.
type Direction int

const (
	Unchanged Direction = iota
	Worsened
	Improved
)

func (d Direction) String() string {
	switch d {
	case Worsened:
		return "worsened"
	case Improved:
		return "improved"
	default:
		return "unchanged"
	}
}

// Window is one hospital's records over the analysed months. Points has one
// entry per requested period, oldest first.
type Window struct {
	Hospital string
	Points   []Point
}

// Point is a month in the window. Present is false when the store has no row.
type Point struct {
	Period        mortality.Period
	Deaths        int
	MortalityRate float64
	Present       bool
}

func (w Window) last() (Point, bool) {
	if len(w.Points) == 0 {
		return Point{}, false
	}
	p := w.Points[len(w.Points)-1]
	return p, p.Present
}

func (w Window) previous() (Point, bool) {
	if len(w.Points) < 2 {
		return Point{}, false
	}
	p := w.Points[len(w.Points)-2]
	return p, p.Present
}

func (w Window) complete() bool {
	for _, p := range w.Points {
		if !p.Present {
			return false
		}
	}
	return true
}

// Classifier decides the direction of a window. Score orders hospitals within
// a direction: larger is worse.
type Classifier interface {
	Name() string
	Classify(w Window) (dir Direction, score float64)
}

// DeathDelta compares raw deaths in the last month against the month before.
type DeathDelta struct {
	Threshold int
}

// Name implements Classifier.
func (DeathDelta) Name() string { return "death_delta" }

// Classify marks the window worsened when deaths rose by at least Threshold
// and improved when they fell by at least Threshold.
func (c DeathDelta) Classify(w Window) (Direction, float64) {
	last, ok := w.last()
	if !ok {
		return Unchanged, 0
	}
	prev, ok := w.previous()
	if !ok {
		return Unchanged, 0
	}
	diff := last.Deaths - prev.Deaths
	switch {
	case diff >= c.Threshold:
		return Worsened, float64(diff)
	case diff <= -c.Threshold:
		return Improved, float64(diff)
	default:
		return Unchanged, float64(diff)
	}
}

// RateExtremum flags the last month when its rate is the strict maximum or
// minimum of the months present in the window.
type RateExtremum struct{}

// Name implements Classifier.
func (RateExtremum) Name() string { return "rate_extremum" }

// Classify implements Classifier.
func (RateExtremum) Classify(w Window) (Direction, float64) {
	last, ok := w.last()
	if !ok {
		return Unchanged, 0
	}
	hi, lo := math.Inf(-1), math.Inf(1)
	others := 0
	for _, p := range w.Points[:len(w.Points)-1] {
		if !p.Present {
			continue
		}
		others++
		hi = math.Max(hi, p.MortalityRate)
		lo = math.Min(lo, p.MortalityRate)
	}
	if others == 0 {
		return Unchanged, 0
	}
	switch {
	case last.MortalityRate > hi:
		return Worsened, last.MortalityRate - hi
	case last.MortalityRate < lo:
		return Improved, last.MortalityRate - lo
	default:
		return Unchanged, 0
	}
}

// NewClassifier resolves a strategy name.
func NewClassifier(strategy string, deathThreshold int) (Classifier, error) {
	switch strategy {
	case "", "death_delta":
		return DeathDelta{Threshold: deathThreshold}, nil
	case "rate_extremum":
		return RateExtremum{}, nil
	default:
		return nil, fmt.Errorf("unknown analysis strategy %q", strategy)
	}
}

// Options bound an analysis.
type Options struct {
	End                   mortality.Period
	WindowMonths          int
	TopN                  int
	RequireCompleteWindow bool
	// MinRateChange drops classified hospitals whose last-vs-previous rate
	// change is smaller in magnitude.
	MinRateChange float64
}

// Change is one classified hospital.
type Change struct {
	HospitalName    string  `json:"hospital_name"`
	Direction       string  `json:"direction"`
	Score           float64 `json:"score"`
	PreviousDeaths  int     `json:"previous_deaths"`
	LastDeaths      int     `json:"last_deaths"`
	PreviousRate    float64 `json:"previous_rate"`
	LastRate        float64 `json:"last_rate"`
	DeathDifference int     `json:"death_difference"`
	RateDifference  float64 `json:"rate_difference"`
	Points          []Point `json:"-"`
}

// Report is the result of Analyze.
type Report struct {
	Strategy      string
	Window        []mortality.Period
	Worsened      []Change
	Improved      []Change
	TotalWorsened int
	TotalImproved int
	Considered    int
	Denied        int
	Incomplete    int
}

// Analyze classifies every hospital in records over the window ending at
// opts.End. Worsened hospitals are ordered by descending score, improved by
// ascending score, each truncated to TopN when positive.
func Analyze(records []mortality.MonthlyRecord, c Classifier, deny *Denylist, opts Options) (Report, error) {
	if !opts.End.Valid() {
		return Report{}, fmt.Errorf("invalid analysis end period %s", opts.End)
	}
	if opts.WindowMonths < 2 {
		return Report{}, fmt.Errorf("analysis window must cover at least 2 months, got %d", opts.WindowMonths)
	}

	periods := opts.End.Trailing(opts.WindowMonths)
	report := Report{Strategy: c.Name(), Window: periods}

	grouped := mortality.GroupByHospital(records)
	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if deny.Excludes(name) {
			report.Denied++
			continue
		}
		w := buildWindow(name, grouped[name], periods)
		if opts.RequireCompleteWindow && !w.complete() {
			report.Incomplete++
			continue
		}
		report.Considered++

		dir, score := c.Classify(w)
		if dir == Unchanged {
			continue
		}
		ch := newChange(w, dir, score)
		if math.Abs(ch.RateDifference) < opts.MinRateChange {
			continue
		}
		if dir == Worsened {
			report.Worsened = append(report.Worsened, ch)
		} else {
			report.Improved = append(report.Improved, ch)
		}
	}

	sort.SliceStable(report.Worsened, func(i, j int) bool { return report.Worsened[i].Score > report.Worsened[j].Score })
	sort.SliceStable(report.Improved, func(i, j int) bool { return report.Improved[i].Score < report.Improved[j].Score })

	report.TotalWorsened = len(report.Worsened)
	report.TotalImproved = len(report.Improved)
	if opts.TopN > 0 {
		report.Worsened = head(report.Worsened, opts.TopN)
		report.Improved = head(report.Improved, opts.TopN)
	}
	return report, nil
}

func buildWindow(hospital string, records []mortality.MonthlyRecord, periods []mortality.Period) Window {
	w := Window{Hospital: hospital, Points: make([]Point, len(periods))}
	for i, p := range periods {
		w.Points[i] = Point{Period: p}
		if rec, ok := mortality.Find(records, p); ok {
			w.Points[i].Deaths = rec.Deaths
			w.Points[i].MortalityRate = rec.MortalityRate
			w.Points[i].Present = true
		}
	}
	return w
}

func newChange(w Window, dir Direction, score float64) Change {
	last, _ := w.last()
	prev, _ := w.previous()
	return Change{
		HospitalName:    w.Hospital,
		Direction:       dir.String(),
		Score:           score,
		PreviousDeaths:  prev.Deaths,
		LastDeaths:      last.Deaths,
		PreviousRate:    prev.MortalityRate,
		LastRate:        last.MortalityRate,
		DeathDifference: last.Deaths - prev.Deaths,
		RateDifference:  mortality.RoundRate(last.MortalityRate - prev.MortalityRate),
		Points:          w.Points,
	}
}

func head(in []Change, n int) []Change {
	if len(in) <= n {
		return in
	}
	return in[:n]
}
