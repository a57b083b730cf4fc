package alertmodel

// OutcomeKind classifies what happened to one hospital during a run.
type OutcomeKind int

const (
	OutcomeNoAlert OutcomeKind = iota
	OutcomeAlert
	OutcomeSkipped
	OutcomeSuppressed
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAlert:
		return "alert"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeSuppressed:
		return "suppressed"
	case OutcomeFailed:
		return "failed"
	default:
		return "no_alert"
	}
}

// SkipReason explains an OutcomeSkipped.
type SkipReason string

const (
	SkipNone             SkipReason = ""
	SkipNoHistory        SkipReason = "no_history"
	SkipNoBaseline       SkipReason = "no_baseline"
	SkipNoExpectedDeaths SkipReason = "no_expected_death_percentage"
)

// Outcome is the per-hospital record of an evaluation.
type Outcome struct {
	Hospital string
	Kind     OutcomeKind
	Reason   SkipReason
	Current  Current
	Baseline float64
	Err      error
	Result   *AlertResult
}

func skipped(hospital string, reason SkipReason) Outcome {
	return Outcome{Hospital: hospital, Kind: OutcomeSkipped, Reason: reason}
}

func failed(hospital string, err error) Outcome {
	return Outcome{Hospital: hospital, Kind: OutcomeFailed, Err: err}
}

// Summary counts outcomes by kind.
type Summary struct {
	Evaluated  int
	Alerts     int
	NoAlert    int
	Skipped    map[SkipReason]int
	Suppressed int
	Failed     int
}

// Summarize tallies a run's outcomes.
func Summarize(outcomes []Outcome) Summary {
	s := Summary{Evaluated: len(outcomes), Skipped: make(map[SkipReason]int)}
	for _, o := range outcomes {
		switch o.Kind {
		case OutcomeAlert:
			s.Alerts++
		case OutcomeSkipped:
			s.Skipped[o.Reason]++
		case OutcomeSuppressed:
			s.Suppressed++
		case OutcomeFailed:
			s.Failed++
		default:
			s.NoAlert++
		}
	}
	return s
}
