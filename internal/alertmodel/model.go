package alertmodel

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownModel is returned by ParseModelID for identifiers outside 1-13.
var ErrUnknownModel = errors.New("alertmodel: unknown model")

// Metric is the quantity a model compares against its baseline.
type Metric int

const (
	MetricDeaths Metric = iota + 1
	MetricSMR
	MetricMortalityRate
)

func (m Metric) String() string {
	switch m {
	case MetricDeaths:
		return "deaths"
	case MetricSMR:
		return "smr"
	case MetricMortalityRate:
		return "mortality_rate"
	default:
		return "unknown"
	}
}

// Statistic is the reduction applied over the lookback window.
type Statistic int

const (
	StatMax Statistic = iota + 1
	StatMeanPlusSD
	StatTrend
)

func (s Statistic) String() string {
	switch s {
	case StatMax:
		return "max"
	case StatMeanPlusSD:
		return "mean+1sd"
	case StatTrend:
		return "increasing_trend"
	default:
		return "unknown"
	}
}

// TrendMonths is the number of consecutive months model 13 inspects.
const TrendMonths = 3

// Model describes one alert model variant as data.
type Model struct {
	ID             int
	Metric         Metric
	LookbackMonths int
	Statistic      Statistic
}

// Name returns the display name, e.g. "Model 10".
func (m Model) Name() string {
	return fmt.Sprintf("Model %d", m.ID)
}

// Key returns the route/CLI key, e.g. "model10".
func (m Model) Key() string {
	return fmt.Sprintf("model%d", m.ID)
}

// Description is a one-line human summary.
func (m Model) Description() string {
	if m.Statistic == StatTrend {
		return "mortality % increasing for 3 consecutive months"
	}
	return fmt.Sprintf("%s > %s of last %d months", m.Metric, m.Statistic, m.LookbackMonths)
}

var models = [...]Model{
	{ID: 1, Metric: MetricDeaths, LookbackMonths: 3, Statistic: StatMax},
	{ID: 2, Metric: MetricDeaths, LookbackMonths: 6, Statistic: StatMax},
	{ID: 3, Metric: MetricDeaths, LookbackMonths: 3, Statistic: StatMeanPlusSD},
	{ID: 4, Metric: MetricDeaths, LookbackMonths: 6, Statistic: StatMeanPlusSD},
	{ID: 5, Metric: MetricSMR, LookbackMonths: 3, Statistic: StatMax},
	{ID: 6, Metric: MetricSMR, LookbackMonths: 6, Statistic: StatMax},
	{ID: 7, Metric: MetricSMR, LookbackMonths: 3, Statistic: StatMeanPlusSD},
	{ID: 8, Metric: MetricSMR, LookbackMonths: 6, Statistic: StatMeanPlusSD},
	{ID: 9, Metric: MetricMortalityRate, LookbackMonths: 3, Statistic: StatMax},
	{ID: 10, Metric: MetricMortalityRate, LookbackMonths: 6, Statistic: StatMax},
	{ID: 11, Metric: MetricMortalityRate, LookbackMonths: 3, Statistic: StatMeanPlusSD},
	{ID: 12, Metric: MetricMortalityRate, LookbackMonths: 6, Statistic: StatMeanPlusSD},
	{ID: 13, Metric: MetricMortalityRate, Statistic: StatTrend},
}

// Lookup returns the descriptor for id.
func Lookup(id int) (Model, bool) {
	if id < 1 || id > len(models) {
		return Model{}, false
	}
	return models[id-1], true
}

// All returns every model in ID order.
func All() []Model {
	out := make([]Model, len(models))
	copy(out, models[:])
	return out
}

// ParseModelID accepts "10", "model10" or "Model 10".
func ParseModelID(s string) (int, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	raw = strings.TrimPrefix(raw, "model")
	raw = strings.TrimSpace(raw)
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownModel, s)
	}
	if _, ok := Lookup(id); !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownModel, id)
	}
	return id, nil
}
