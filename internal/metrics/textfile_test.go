package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"

	"mortality-alerts/internal/alertmodel"
)

func readFamilies(t *testing.T, path string) map[string]*dto.MetricFamily {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open textfile: %v", err)
	}
	defer f.Close()

	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(f)
	if err != nil {
		t.Fatalf("parse textfile: %v", err)
	}
	return mfs
}

func valueFor(mf *dto.MetricFamily, labels map[string]string) (float64, bool) {
	for _, m := range mf.GetMetric() {
		matched := 0
		for _, lp := range m.GetLabel() {
			if want, ok := labels[lp.GetName()]; ok && want == lp.GetValue() {
				matched++
			}
		}
		if matched == len(labels) {
			return m.GetGauge().GetValue(), true
		}
	}
	return 0, false
}

func TestTextfileWriterKeepsLatestRunPerModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mortalitywatch.prom")
	w := NewTextfileWriter(path, zerolog.Nop())

	first := Run{
		Model:      "model10",
		Period:     "2025-06",
		Duration:   1500 * time.Millisecond,
		FinishedAt: time.Unix(1750000000, 0),
		Summary: alertmodel.Summary{
			Evaluated: 5, Alerts: 2, NoAlert: 1, Suppressed: 1,
			Skipped: map[alertmodel.SkipReason]int{alertmodel.SkipNoBaseline: 1},
		},
	}
	if err := w.RecordRun(first); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	second := first
	second.Model = "model5"
	second.Summary = alertmodel.Summary{Evaluated: 3, Failed: 1, Skipped: map[alertmodel.SkipReason]int{alertmodel.SkipNoExpectedDeaths: 2}}
	if err := w.RecordRun(second); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	mfs := readFamilies(t, path)

	if v, ok := valueFor(mfs["mortalitywatch_hospitals_evaluated"], map[string]string{"model": "model10"}); !ok || v != 5 {
		t.Fatalf("model10 evaluated = %v (%v)", v, ok)
	}
	if v, ok := valueFor(mfs["mortalitywatch_hospitals_evaluated"], map[string]string{"model": "model5"}); !ok || v != 3 {
		t.Fatalf("model5 evaluated = %v (%v)", v, ok)
	}
	if v, ok := valueFor(mfs["mortalitywatch_run_duration_seconds"], map[string]string{"model": "model10"}); !ok || v != 1.5 {
		t.Fatalf("duration = %v (%v)", v, ok)
	}
	if v, ok := valueFor(mfs["mortalitywatch_outcomes"], map[string]string{"model": "model5", "kind": "skipped", "reason": "no_expected_death_percentage"}); !ok || v != 2 {
		t.Fatalf("skipped outcomes = %v (%v)", v, ok)
	}
	if v, ok := valueFor(mfs["mortalitywatch_alerts"], map[string]string{"model": "model10", "period": "2025-06"}); !ok || v != 2 {
		t.Fatalf("alerts = %v (%v)", v, ok)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
}

func TestTextfileWriterFailsOnMissingDirectory(t *testing.T) {
	w := NewTextfileWriter(filepath.Join(t.TempDir(), "missing", "x.prom"), zerolog.Nop())
	if err := w.RecordRun(Run{Model: "model1", Summary: alertmodel.Summary{}}); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
