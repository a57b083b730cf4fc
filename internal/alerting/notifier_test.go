package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mortality-alerts/internal/alertmodel"
)

func model(t *testing.T, id int) alertmodel.Model {
	t.Helper()
	m, ok := alertmodel.Lookup(id)
	if !ok {
		t.Fatalf("model %d missing", id)
	}
	return m
}

func sampleDigest(t *testing.T) Digest {
	smr := 2.0
	return Digest{
		Model:  model(t, 10),
		Period: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		SentAt: time.Date(2025, 6, 9, 9, 0, 0, 0, time.UTC),
		Results: []alertmodel.AlertResult{
			{
				HospitalName:  "Alpha",
				CurrentPeriod: "2025-06",
				Deaths:        6,
				MortalityRate: 12.5,
				Threshold:     8,
				Status:        alertmodel.StatusAlert,
				Last6MonthsMortality: []alertmodel.MonthRate{
					{Period: "2025-05", MortalityRate: 8},
					{Period: "2025-06", MortalityRate: 12.5},
				},
			},
			{
				HospitalName:  "Beta",
				CurrentPeriod: "2025-06",
				Deaths:        2,
				MortalityRate: 10,
				Threshold:     9.1,
				SMR:           &smr,
				Status:        alertmodel.StatusAlert,
			},
		},
	}
}

func TestGoogleChatNotifierSuccess(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "mortalitywatch/") {
			t.Errorf("unexpected user agent %q", ua)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewGoogleChatNotifier(time.Second, zerolog.Nop())
	if err := n.Notify(context.Background(), Target{WebhookURL: srv.URL}, sampleDigest(t)); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if !strings.HasPrefix(received["text"], "*Quality Alert - Model 10*") {
		t.Fatalf("unexpected text %q", received["text"])
	}
}

func TestGoogleChatNotifierHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid webhook", http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewGoogleChatNotifier(time.Second, zerolog.Nop())
	err := n.Notify(context.Background(), Target{WebhookURL: srv.URL}, sampleDigest(t))
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected 400 error, got %v", err)
	}
}

func TestGoogleChatNotifierRequiresWebhook(t *testing.T) {
	n := NewGoogleChatNotifier(0, zerolog.Nop())
	if err := n.Notify(context.Background(), Target{}, sampleDigest(t)); !errors.Is(err, ErrNoWebhook) {
		t.Fatalf("expected ErrNoWebhook, got %v", err)
	}
}

func TestRenderDigest(t *testing.T) {
	text := Render(sampleDigest(t))
	for _, want := range []string{
		"*Period:* June 2025",
		"*Alert Date:* 2025-06-09 09:00:00",
		"*Hospitals with Alerts: 2*",
		"*1. Alpha*",
		"This Month Mortality Rate: *12.50%*",
		"This Month Deaths: *6*",
		"Threshold: 8.00%",
		"Last 6 Months: 2025-05: 8.00%, 2025-06: 12.50%",
		"*2. Beta*",
		"SMR: 2.00",
		"Total Deaths This Month: 8",
		"Average Mortality Rate: 11.25%",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("digest missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, EmptyDigestText) {
		t.Error("non-empty digest must not carry the empty message")
	}
}

func TestRenderEmptyDigest(t *testing.T) {
	d := Digest{Model: model(t, 1), Period: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), SentAt: time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)}
	text := Render(d)
	if !strings.HasPrefix(text, "*Quality Alert - Model 1*\n*Period:* January 2025") {
		t.Fatalf("unexpected header %q", text)
	}
	if !strings.HasSuffix(text, EmptyDigestText) {
		t.Fatalf("expected empty message, got %q", text)
	}
}

func TestThresholdUnits(t *testing.T) {
	if got := thresholdText(model(t, 1), 5); got != "5.00 deaths" {
		t.Errorf("deaths model: %q", got)
	}
	if got := thresholdText(model(t, 5), 1.5); got != "1.50" {
		t.Errorf("smr model: %q", got)
	}
	if got := thresholdText(model(t, 13), 4); got != "4.00%" {
		t.Errorf("trend model: %q", got)
	}
}
