package alertmodel

import (
	"fmt"

	"github.com/rs/zerolog"

	"mortality-alerts/internal/mortality"
)

// Input is everything one evaluation run reads. The maps are populated before
// Evaluate is called and are not mutated by it.
type Input struct {
	Period    mortality.Period
	Hospitals []string
	History   map[string][]mortality.MonthlyRecord
	Live      LiveAggregates
	Expected  map[string]float64
}

// Options toggle optional behaviour of a run.
type Options struct {
	// ApplyExclusionFilter drops alerts whose month-over-month death increase
	// is at most MinDeathIncrease. Used on the notification path only.
	ApplyExclusionFilter bool
}

// Run is the outcome of evaluating one model over all hospitals.
type Run struct {
	Model    Model
	Period   mortality.Period
	Alerts   []AlertResult
	Outcomes []Outcome
}

// Engine evaluates alert models.
type Engine struct {
	logger zerolog.Logger
}

// NewEngine constructs an Engine.
func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{logger: logger.With().Str("component", "alert_engine").Logger()}
}

// EvaluateModel looks up id and evaluates it. Unknown ids yield an empty run.
func (e *Engine) EvaluateModel(id int, in Input, opts Options) Run {
	m, ok := Lookup(id)
	if !ok {
		e.logger.Warn().Int("model", id).Msg("unknown model requested")
		return Run{Period: in.Period}
	}
	return e.Evaluate(m, in, opts)
}

// Evaluate runs m over every hospital in the roster sequentially and returns
// the ranked alerts with per-hospital outcomes.
func (e *Engine) Evaluate(m Model, in Input, opts Options) Run {
	logger := e.logger.With().Str("model", m.Key()).Str("period", in.Period.String()).Logger()

	run := Run{Model: m, Period: in.Period, Outcomes: make([]Outcome, 0, len(in.Hospitals))}
	for _, hospital := range in.Hospitals {
		out := e.evaluateHospital(m, hospital, in, opts)
		switch out.Kind {
		case OutcomeAlert:
			run.Alerts = append(run.Alerts, *out.Result)
		case OutcomeSuppressed:
			logger.Debug().Str("hospital", hospital).Int("deaths", out.Current.Deaths).Msg("alert suppressed by exclusion filter")
		case OutcomeFailed:
			logger.Error().Err(out.Err).Str("hospital", hospital).Msg("hospital evaluation failed; skipping")
		}
		run.Outcomes = append(run.Outcomes, out)
	}

	Rank(m, run.Alerts)

	sum := Summarize(run.Outcomes)
	logger.Info().
		Int("hospitals", sum.Evaluated).
		Int("alerts", sum.Alerts).
		Int("suppressed", sum.Suppressed).
		Int("failed", sum.Failed).
		Msg("model evaluated")
	return run
}

func (e *Engine) evaluateHospital(m Model, hospital string, in Input, opts Options) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = failed(hospital, fmt.Errorf("panic: %v", r))
		}
	}()

	history := in.History[hospital]
	if len(history) == 0 {
		return skipped(hospital, SkipNoHistory)
	}
	for _, rec := range history {
		if err := rec.Validate(); err != nil {
			return failed(hospital, fmt.Errorf("invalid record %s: %w", rec.Period(), err))
		}
	}

	if m.Statistic == StatTrend {
		return evaluateTrend(hospital, in, history, opts)
	}
	return evaluateThreshold(m, hospital, in, history, opts)
}

func evaluateThreshold(m Model, hospital string, in Input, history []mortality.MonthlyRecord, opts Options) Outcome {
	cur := ResolveCurrent(hospital, in.Period, history, in.Live)

	var (
		value   float64
		extract Extractor
		smr     *float64
	)
	switch m.Metric {
	case MetricDeaths:
		value = float64(cur.Deaths)
		extract = DeathsOf
	case MetricMortalityRate:
		value = cur.MortalityRate
		extract = RateOf
	case MetricSMR:
		expected, ok := in.Expected[hospital]
		if !ok || expected <= 0 {
			return skipped(hospital, SkipNoExpectedDeaths)
		}
		v := cur.MortalityRate / expected
		value = v
		smr = &v
		extract = SMROf(expected)
	default:
		return failed(hospital, fmt.Errorf("model %d has no metric", m.ID))
	}

	base := ComputeBaseline(history, m.LookbackMonths, in.Period, m.Statistic, extract)
	if !base.OK {
		return skipped(hospital, SkipNoBaseline)
	}

	out := Outcome{Hospital: hospital, Current: cur, Baseline: base.Value}
	if !(value > base.Value) {
		out.Kind = OutcomeNoAlert
		return out
	}
	if opts.ApplyExclusionFilter && suppress(history, in.Period, cur) {
		out.Kind = OutcomeSuppressed
		return out
	}

	series := LastMonthsSeries(history, in.Period)
	series[len(series)-1].MortalityRate = cur.MortalityRate

	out.Kind = OutcomeAlert
	out.Result = &AlertResult{
		HospitalName:         hospital,
		CurrentPeriod:        in.Period.String(),
		Deaths:               cur.Deaths,
		MortalityRate:        cur.MortalityRate,
		Threshold:            base.Value,
		SMR:                  smr,
		Status:               StatusAlert,
		Last6MonthsMortality: series,
		CurrentSource:        cur.Source.String(),
	}
	return out
}

func evaluateTrend(hospital string, in Input, history []mortality.MonthlyRecord, opts Options) Outcome {
	cur := ResolveCurrent(hospital, in.Period, history, in.Live)

	prev := in.Period.Prev()
	prevPrev := prev.Prev()
	rate3 := cur.MortalityRate
	rate2 := storedRate(history, prev)
	rate1 := storedRate(history, prevPrev)

	out := Outcome{Hospital: hospital, Current: cur, Baseline: rate1}
	if !(rate3 > rate2 && rate2 > rate1) {
		out.Kind = OutcomeNoAlert
		return out
	}
	if opts.ApplyExclusionFilter && suppress(history, in.Period, cur) {
		out.Kind = OutcomeSuppressed
		return out
	}

	out.Kind = OutcomeAlert
	out.Result = &AlertResult{
		HospitalName:         hospital,
		CurrentPeriod:        in.Period.String(),
		Deaths:               cur.Deaths,
		MortalityRate:        cur.MortalityRate,
		Threshold:            rate1,
		Status:               StatusAlert,
		Last6MonthsMortality: LastMonthsSeries(history, in.Period),
		TrendInfo: &TrendInfo{
			Month1: prevPrev.String(),
			Month2: prev.String(),
			Month3: in.Period.String(),
			Rate1:  rate1,
			Rate2:  rate2,
			Rate3:  rate3,
		},
		CurrentSource: cur.Source.String(),
	}
	return out
}

func suppress(history []mortality.MonthlyRecord, period mortality.Period, cur Current) bool {
	prevDeaths, known := previousDeaths(history, period)
	return SuppressedByExclusion(cur.Deaths, prevDeaths, known)
}
