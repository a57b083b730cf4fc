// Package metrics writes evaluation run metrics in the Prometheus text
// exposition format for node_exporter's textfile collector.
package metrics

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"

	"mortality-alerts/internal/alertmodel"
)

const namespace = "mortalitywatch"

// Run is what one evaluation reports.
type Run struct {
	Model      string
	Period     string
	Duration   time.Duration
	Summary    alertmodel.Summary
	FinishedAt time.Time
}

// Recorder receives run metrics.
type Recorder interface {
	RecordRun(run Run) error
}

// Nop discards runs.
type Nop struct{}

// RecordRun implements Recorder.
func (Nop) RecordRun(Run) error { return nil }

// TextfileWriter keeps the latest run per model and rewrites the whole file
// on every record.
type TextfileWriter struct {
	path   string
	mu     sync.Mutex
	runs   map[string]Run
	logger zerolog.Logger
}

var (
	_ Recorder = (*TextfileWriter)(nil)
	_ Recorder = Nop{}
)

// NewTextfileWriter constructs a writer targeting path.
func NewTextfileWriter(path string, logger zerolog.Logger) *TextfileWriter {
	return &TextfileWriter{
		path:   path,
		runs:   make(map[string]Run),
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// RecordRun stores run and atomically replaces the textfile.
func (w *TextfileWriter) RecordRun(run Run) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.runs[run.Model] = run

	runs := make([]Run, 0, len(w.runs))
	for _, r := range w.runs {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Model < runs[j].Model })

	var buf bytes.Buffer
	for _, mf := range Families(runs) {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return fmt.Errorf("encode metric family %s: %w", mf.GetName(), err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(w.path), ".mortalitywatch-*.prom")
	if err != nil {
		return fmt.Errorf("create temp textfile: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp textfile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp textfile: %w", err)
	}
	if err := os.Rename(tmp.Name(), w.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace textfile: %w", err)
	}

	w.logger.Debug().Str("path", w.path).Str("model", run.Model).Msg("run metrics written")
	return nil
}

// Families converts runs into metric families, one sample per run and label set.
func Families(runs []Run) []*dto.MetricFamily {
	duration := gaugeFamily("run_duration_seconds", "Wall time of the last evaluation run.")
	evaluated := gaugeFamily("hospitals_evaluated", "Hospitals evaluated in the last run.")
	alerts := gaugeFamily("alerts", "Alerts emitted by the last run.")
	outcomes := gaugeFamily("outcomes", "Per-hospital outcomes of the last run by kind and reason.")
	finished := gaugeFamily("last_run_timestamp_seconds", "Unix time the last run finished.")

	for _, r := range runs {
		model := label("model", r.Model)
		period := label("period", r.Period)

		duration.Metric = append(duration.Metric, gauge(r.Duration.Seconds(), model))
		evaluated.Metric = append(evaluated.Metric, gauge(float64(r.Summary.Evaluated), model))
		alerts.Metric = append(alerts.Metric, gauge(float64(r.Summary.Alerts), model, period))
		finished.Metric = append(finished.Metric, gauge(float64(r.FinishedAt.Unix()), model))

		kinds := []struct {
			kind  alertmodel.OutcomeKind
			count int
		}{
			{alertmodel.OutcomeAlert, r.Summary.Alerts},
			{alertmodel.OutcomeNoAlert, r.Summary.NoAlert},
			{alertmodel.OutcomeSuppressed, r.Summary.Suppressed},
			{alertmodel.OutcomeFailed, r.Summary.Failed},
		}
		for _, k := range kinds {
			outcomes.Metric = append(outcomes.Metric,
				gauge(float64(k.count), model, label("kind", k.kind.String()), label("reason", "")))
		}

		reasons := make([]string, 0, len(r.Summary.Skipped))
		for reason := range r.Summary.Skipped {
			reasons = append(reasons, string(reason))
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			count := r.Summary.Skipped[alertmodel.SkipReason(reason)]
			outcomes.Metric = append(outcomes.Metric,
				gauge(float64(count), model, label("kind", alertmodel.OutcomeSkipped.String()), label("reason", reason)))
		}
	}

	return []*dto.MetricFamily{duration, evaluated, alerts, outcomes, finished}
}

func gaugeFamily(name, help string) *dto.MetricFamily {
	full := namespace + "_" + name
	return &dto.MetricFamily{
		Name: &full,
		Help: &help,
		Type: dto.MetricType_GAUGE.Enum(),
	}
}

func gauge(v float64, labels ...*dto.LabelPair) *dto.Metric {
	return &dto.Metric{
		Label: labels,
		Gauge: &dto.Gauge{Value: &v},
	}
}

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: &name, Value: &value}
}
