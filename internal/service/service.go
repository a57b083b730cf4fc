package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mortality-alerts/internal/alerting"
	"mortality-alerts/internal/alertmodel"
	"mortality-alerts/internal/config"
	"mortality-alerts/internal/metrics"
	"mortality-alerts/internal/mortality"
	"mortality-alerts/internal/storage"
	"mortality-alerts/internal/warehouse"
)

var (
	// ErrEvaluationFailed marks a run that could not load its inputs.
	ErrEvaluationFailed = errors.New("evaluation failed")
	// ErrAlertingDisabled is returned by SendAlert when no target is configured.
	ErrAlertingDisabled = errors.New("alerting disabled")
)

// Deps are the collaborators of the service. Live and Expected may be nil
// when no warehouse is configured.
type Deps struct {
	Store    storage.HistoricalStore
	Live     warehouse.LiveAggregator
	Expected warehouse.ExpectedSource
	Notifier alerting.Notifier
	Metrics  metrics.Recorder
	Now      func() time.Time
}

// Service orchestrates evaluation runs and digest delivery.
type Service struct {
	store    storage.HistoricalStore
	live     warehouse.LiveAggregator
	expected warehouse.ExpectedSource
	notifier alerting.Notifier
	metrics  metrics.Recorder
	engine   *alertmodel.Engine
	now      func() time.Time
	logger   zerolog.Logger

	prefetchTimeout time.Duration

	mu       sync.RWMutex
	alerting config.AlertingConfig
}

// New constructs the service.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Service {
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	recorder := deps.Metrics
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	return &Service{
		store:           deps.Store,
		live:            deps.Live,
		expected:        deps.Expected,
		notifier:        deps.Notifier,
		metrics:         recorder,
		engine:          alertmodel.NewEngine(logger),
		now:             now,
		logger:          logger.With().Str("component", "service").Logger(),
		prefetchTimeout: cfg.Evaluation.PrefetchTimeout,
		alerting:        cfg.Alerting,
	}
}

// UpdateAlerting swaps the alerting section, e.g. after a config reload.
func (s *Service) UpdateAlerting(cfg config.AlertingConfig) {
	s.mu.Lock()
	s.alerting = cfg
	s.mu.Unlock()
	s.logger.Info().
		Bool("enabled", cfg.Enabled).
		Bool("google_chat", cfg.GoogleChat.Enabled && cfg.GoogleChat.WebhookURL != "").
		Msg("alerting configuration updated")
}

func (s *Service) alertingConfig() config.AlertingConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alerting
}

// EvaluateRequest selects a model and period. A zero period means the
// current calendar month.
type EvaluateRequest struct {
	ModelID              int
	Period               mortality.Period
	ApplyExclusionFilter bool
}

// Evaluation is the result of one run.
type Evaluation struct {
	RunID    string
	Model    alertmodel.Model
	Known    bool
	Period   mortality.Period
	Alerts   []alertmodel.AlertResult
	Outcomes []alertmodel.Outcome
	Summary  alertmodel.Summary
	LiveUsed bool
	Duration time.Duration
}

// Evaluate loads the roster and history once, prefetches the lookup maps the
// model needs and runs the engine. Input failures fail the whole run.
func (s *Service) Evaluate(ctx context.Context, req EvaluateRequest) (Evaluation, error) {
	started := s.now()
	period := req.Period
	if period == (mortality.Period{}) {
		period = mortality.PeriodOf(started)
	}

	ev := Evaluation{RunID: uuid.NewString(), Period: period, Alerts: []alertmodel.AlertResult{}}
	logger := s.logger.With().Str("run_id", ev.RunID).Int("model", req.ModelID).Str("period", period.String()).Logger()

	model, ok := alertmodel.Lookup(req.ModelID)
	if !ok {
		logger.Warn().Msg("unknown model requested; returning empty result")
		return ev, nil
	}
	ev.Model, ev.Known = model, true

	if !period.Valid() {
		return ev, fmt.Errorf("%w: invalid period %s", ErrEvaluationFailed, period)
	}
	if s.store == nil {
		return ev, fmt.Errorf("%w: %w", ErrEvaluationFailed, storage.ErrNotConfigured)
	}

	hospitals, err := s.store.ListHospitals(ctx)
	if err != nil {
		return ev, fmt.Errorf("%w: list hospitals: %w", ErrEvaluationFailed, err)
	}
	records, err := s.store.ListMonthly(ctx, storage.MonthlyFilter{})
	if err != nil {
		return ev, fmt.Errorf("%w: load monthly history: %w", ErrEvaluationFailed, err)
	}

	in := alertmodel.Input{
		Period:    period,
		Hospitals: hospitals,
		History:   mortality.GroupByHospital(records),
	}
	for _, hist := range in.History {
		mortality.SortDescending(hist)
	}

	if needsLive(in) {
		in.Live, err = s.prefetchLive(ctx, period, logger)
		if err != nil {
			return ev, fmt.Errorf("%w: %w", ErrEvaluationFailed, err)
		}
		ev.LiveUsed = in.Live != nil
	}
	if model.Metric == alertmodel.MetricSMR {
		in.Expected, err = s.prefetchExpected(ctx, hospitals, logger)
		if err != nil {
			return ev, fmt.Errorf("%w: %w", ErrEvaluationFailed, err)
		}
	}

	run := s.engine.Evaluate(model, in, alertmodel.Options{ApplyExclusionFilter: req.ApplyExclusionFilter})
	if run.Alerts != nil {
		ev.Alerts = run.Alerts
	}
	ev.Outcomes = run.Outcomes
	ev.Summary = alertmodel.Summarize(run.Outcomes)
	ev.Duration = s.now().Sub(started)

	if err := s.metrics.RecordRun(metrics.Run{
		Model:      model.Key(),
		Period:     period.String(),
		Duration:   ev.Duration,
		Summary:    ev.Summary,
		FinishedAt: s.now(),
	}); err != nil {
		logger.Warn().Err(err).Msg("failed to record run metrics")
	}

	logger.Info().
		Int("alerts", len(ev.Alerts)).
		Bool("live", ev.LiveUsed).
		Dur("duration", ev.Duration).
		Msg("evaluation complete")
	return ev, nil
}

// needsLive reports whether any hospital lacks a stored row for the period.
func needsLive(in alertmodel.Input) bool {
	for _, h := range in.Hospitals {
		if _, ok := mortality.Find(in.History[h], in.Period); !ok {
			return true
		}
	}
	return false
}

func (s *Service) prefetchCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.prefetchTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.prefetchTimeout)
}

func (s *Service) prefetchLive(ctx context.Context, period mortality.Period, logger zerolog.Logger) (alertmodel.LiveAggregates, error) {
	if s.live == nil {
		logger.Warn().Msg("warehouse not configured; missing current month resolves to zero")
		return nil, nil
	}
	ctx, cancel := s.prefetchCtx(ctx)
	defer cancel()

	aggs, err := s.live.MonthAggregates(ctx, period)
	if err != nil {
		return nil, fmt.Errorf("prefetch live aggregates: %w", err)
	}
	live := make(alertmodel.LiveAggregates, len(aggs))
	for _, a := range aggs {
		live[a.HospitalName] = a
	}
	logger.Debug().Int("hospitals", len(live)).Msg("live aggregates prefetched")
	return live, nil
}

func (s *Service) prefetchExpected(ctx context.Context, hospitals []string, logger zerolog.Logger) (map[string]float64, error) {
	if s.expected == nil {
		logger.Warn().Msg("warehouse not configured; SMR models will skip every hospital")
		return nil, nil
	}
	ctx, cancel := s.prefetchCtx(ctx)
	defer cancel()

	expected, err := s.expected.ExpectedDeathPercentages(ctx, hospitals)
	if err != nil {
		return nil, fmt.Errorf("prefetch expected death percentages: %w", err)
	}
	logger.Debug().Int("hospitals", len(expected)).Msg("expected death percentages prefetched")
	return expected, nil
}

// SendRequest selects what to deliver. DryRun renders without posting.
type SendRequest struct {
	ModelID int
	Period  mortality.Period
	DryRun  bool
}

// SendResult reports a delivery.
type SendResult struct {
	RunID         string
	Model         alertmodel.Model
	Period        mortality.Period
	HospitalCount int
	Delivered     bool
	Message       string
	Text          string
}

// SendAlert evaluates with the exclusion filter on and posts the digest. A
// digest is sent even when no hospital alerts.
func (s *Service) SendAlert(ctx context.Context, req SendRequest) (SendResult, error) {
	cfg := s.alertingConfig()
	if !req.DryRun && (!cfg.Enabled || !cfg.GoogleChat.Enabled || cfg.GoogleChat.WebhookURL == "" || s.notifier == nil) {
		return SendResult{Message: "Google Chat webhook URL not configured"}, ErrAlertingDisabled
	}

	ev, err := s.Evaluate(ctx, EvaluateRequest{ModelID: req.ModelID, Period: req.Period, ApplyExclusionFilter: true})
	if err != nil {
		return SendResult{RunID: ev.RunID, Message: err.Error()}, err
	}
	if !ev.Known {
		return SendResult{RunID: ev.RunID, Message: fmt.Sprintf("unknown model %d", req.ModelID)}, fmt.Errorf("%w: %d", alertmodel.ErrUnknownModel, req.ModelID)
	}

	res := SendResult{
		RunID:         ev.RunID,
		Model:         ev.Model,
		Period:        ev.Period,
		HospitalCount: len(ev.Alerts),
	}
	digest := alerting.Digest{
		Model:   ev.Model,
		Period:  ev.Period.Start(),
		SentAt:  s.now(),
		Results: ev.Alerts,
	}

	if req.DryRun {
		res.Text = alerting.Render(digest)
		res.Message = "dry run; digest not sent"
		return res, nil
	}

	sendCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	sendErr := s.notifier.Notify(sendCtx, alerting.Target{WebhookURL: cfg.GoogleChat.WebhookURL}, digest)
	s.audit(ctx, res, sendErr)

	if sendErr != nil {
		res.Message = fmt.Sprintf("Failed to send alert for %s: %v", ev.Model.Key(), sendErr)
		return res, fmt.Errorf("deliver digest: %w", sendErr)
	}

	res.Delivered = true
	if res.HospitalCount == 0 {
		res.Message = fmt.Sprintf("Alert sent successfully for %s. No hospitals meet the threshold criteria.", ev.Model.Key())
	} else {
		res.Message = fmt.Sprintf("Alert sent successfully for %s. %d hospitals with alerts.", ev.Model.Key(), res.HospitalCount)
	}
	return res, nil
}

func (s *Service) audit(ctx context.Context, res SendResult, sendErr error) {
	rec := storage.DeliveryRecord{
		RunID:         res.RunID,
		ModelID:       res.Model.ID,
		Period:        res.Period.String(),
		HospitalCount: res.HospitalCount,
		Channel:       "google_chat",
		Success:       sendErr == nil,
		CreatedAt:     s.now(),
	}
	if sendErr != nil {
		msg := sendErr.Error()
		rec.Error = &msg
	}
	if _, err := s.store.InsertDelivery(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str("run_id", res.RunID).Msg("failed to persist delivery record")
	}
}

// RecentDeliveries lists the latest audited deliveries.
func (s *Service) RecentDeliveries(ctx context.Context, limit int) ([]storage.DeliveryRecord, error) {
	if s.store == nil {
		return nil, storage.ErrNotConfigured
	}
	return s.store.ListRecentDeliveries(ctx, limit)
}
