package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mortality-alerts/internal/alerting"
	"mortality-alerts/internal/config"
	"mortality-alerts/internal/httpapi"
	"mortality-alerts/internal/ingest"
	"mortality-alerts/internal/metrics"
	"mortality-alerts/internal/scheduler"
	"mortality-alerts/internal/service"
	"mortality-alerts/internal/storage"
	"mortality-alerts/internal/warehouse"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config     *config.Config
	ConfigPath string
	Logger     zerolog.Logger
	// Out receives command output.
	Out io.Writer
}

// NewApp constructs a new application handle. configPath enables hot reload
// during run when non-empty.
func NewApp(cfg *config.Config, configPath string, logger zerolog.Logger) *App {
	return &App{
		Config:     cfg,
		ConfigPath: configPath,
		Logger:     logger.With().Str("component", "app").Logger(),
		Out:        os.Stdout,
	}
}

// runtime holds the opened backends for one command.
type runtime struct {
	store *storage.Store
	wh    *warehouse.Client
	close func()
}

func (rt *runtime) historical() storage.HistoricalStore {
	if rt.store == nil {
		return nil
	}
	return rt.store
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if a.Config.Database.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
	}
	return store, store.Close, nil
}

func (a *App) openWarehouse(ctx context.Context) (*warehouse.Client, func(), error) {
	db, err := warehouse.Open(ctx, a.Config.Warehouse)
	if err != nil {
		return nil, nil, err
	}
	if db == nil {
		return nil, nil, nil
	}

	client, err := warehouse.New(db, warehouse.Options{
		FactTable:    a.Config.Warehouse.FactTable,
		QueryTimeout: a.Config.Warehouse.QueryTimeout,
		BatchSize:    a.Config.Warehouse.ExpectedBatchSize,
	}, a.Logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return client, func() { db.Close() }, nil
}

// open connects the backends. requireStore and requireWarehouse turn a
// missing DSN into an error instead of a warning.
func (a *App) open(ctx context.Context, requireStore, requireWarehouse bool) (*runtime, error) {
	rt := &runtime{}
	var closers []func()
	rt.close = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		if requireStore {
			return nil, errors.New("database.dsn not configured")
		}
		a.Logger.Warn().Msg("database.dsn not configured; historical store disabled")
	} else {
		rt.store = store
		closers = append(closers, closeStore)
	}

	wh, closeWarehouse, err := a.openWarehouse(ctx)
	if err != nil {
		rt.close()
		return nil, err
	}
	if wh == nil {
		if requireWarehouse {
			rt.close()
			return nil, errors.New("warehouse.dsn not configured")
		}
		a.Logger.Warn().Msg("warehouse.dsn not configured; live data disabled")
	} else {
		rt.wh = wh
		closers = append(closers, closeWarehouse)
	}
	return rt, nil
}

func (a *App) newNotifier() alerting.Notifier {
	return alerting.NewGoogleChatNotifier(a.Config.Alerting.Timeout, a.Logger)
}

func (a *App) newRecorder() metrics.Recorder {
	if !a.Config.Metrics.Enabled {
		return metrics.Nop{}
	}
	return metrics.NewTextfileWriter(a.Config.Metrics.TextfilePath, a.Logger)
}

// newService assigns the warehouse interfaces only when a client exists so
// the service sees untyped nils otherwise.
func (a *App) newService(rt *runtime) *service.Service {
	deps := service.Deps{
		Store:    rt.historical(),
		Notifier: a.newNotifier(),
		Metrics:  a.newRecorder(),
	}
	if rt.wh != nil {
		deps.Live = rt.wh
		deps.Expected = rt.wh
	}
	return service.New(a.Config, deps, a.Logger)
}

func (a *App) newSyncer(rt *runtime) *ingest.Syncer {
	return ingest.New(rt.store, rt.wh, ingest.Options{LockKey: a.Config.Scheduler.AdvisoryLockKey}, a.Logger)
}

func (a *App) newAPI(rt *runtime, svc *service.Service) *httpapi.Server {
	gin.SetMode(a.Config.HTTP.Mode)
	var bedDays warehouse.BedDaySource
	if rt.wh != nil {
		bedDays = rt.wh
	}
	return httpapi.NewServer(rt.store, bedDays, svc, a.Logger)
}

// Run executes the long-running service: the daily sync, the weekly digest,
// the dashboard API and config hot reload.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.open(ctx, true, false)
	if err != nil {
		return err
	}
	defer rt.close()

	svc := a.newService(rt)
	g, gctx := errgroup.WithContext(ctx)

	daily := a.Config.Scheduler.DailySync
	switch {
	case !daily.Enabled:
		a.Logger.Info().Msg("daily sync disabled")
	case rt.wh == nil:
		a.Logger.Warn().Msg("daily sync needs a warehouse; skipping")
	default:
		syncer := a.newSyncer(rt)
		sched := scheduler.New(scheduler.Options{
			Name:         "daily_sync",
			Interval:     daily.Interval,
			Offset:       daily.Offset,
			AlignToStart: true,
			StartupDelay: a.Config.Scheduler.StartupDelay,
		}, a.Logger)
		g.Go(func() error {
			return sched.Run(gctx, func(ctx context.Context, slot time.Time) error {
				return a.dailyTick(ctx, syncer, slot)
			})
		})
	}

	weekly := a.Config.Scheduler.WeeklyAlert
	if weekly.Enabled {
		sched := scheduler.New(scheduler.Options{
			Name:         "weekly_alert",
			Interval:     weekly.Interval,
			Offset:       weekly.Offset,
			AlignToStart: true,
			StartupDelay: a.Config.Scheduler.StartupDelay,
		}, a.Logger)
		g.Go(func() error {
			return sched.Run(gctx, func(ctx context.Context, slot time.Time) error {
				return a.weeklyTick(ctx, svc, weekly.Model)
			})
		})
	}

	if a.Config.HTTP.Addr != "" {
		api := a.newAPI(rt, svc)
		g.Go(func() error {
			return a.serveHTTP(gctx, api.Handler())
		})
	}

	if a.ConfigPath != "" {
		g.Go(func() error {
			return config.Watch(gctx, a.ConfigPath, a.Logger, func(c *config.Config) {
				svc.UpdateAlerting(c.Alerting)
			})
		})
	}

	a.Logger.Info().Msg("starting mortality watch service")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("mortality watch service stopped")
	return nil
}

// dailyTick syncs the day before slot.
func (a *App) dailyTick(ctx context.Context, syncer *ingest.Syncer, slot time.Time) error {
	report, err := syncer.DailyUpdate(ctx, slot.AddDate(0, 0, -1))
	if errors.Is(err, ingest.ErrLockHeld) {
		a.Logger.Info().Msg("daily sync running elsewhere; skipping slot")
		return nil
	}
	if err != nil {
		return err
	}
	for _, alert := range report.Alerts {
		a.Logger.Warn().
			Str("hospital", alert.HospitalName).
			Float64("mortality_rate", alert.MortalityRate).
			Float64("threshold", alert.Threshold).
			Msg("daily mortality above 3SD threshold")
	}
	return nil
}

func (a *App) weeklyTick(ctx context.Context, svc *service.Service, modelID int) error {
	res, err := svc.SendAlert(ctx, service.SendRequest{ModelID: modelID})
	if errors.Is(err, service.ErrAlertingDisabled) {
		a.Logger.Warn().Int("model_id", modelID).Msg("weekly digest skipped: alerting disabled")
		return nil
	}
	if err != nil {
		return err
	}
	a.Logger.Info().Str("run_id", res.RunID).Int("hospitals", res.HospitalCount).Msg(res.Message)
	return nil
}

func (a *App) serveHTTP(ctx context.Context, handler http.Handler) error {
	srv := &http.Server{
		Addr:              a.Config.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", srv.Addr).Msg("dashboard API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	return ctx.Err()
}

// Serve runs only the dashboard API.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.open(ctx, true, false)
	if err != nil {
		return err
	}
	defer rt.close()

	api := a.newAPI(rt, a.newService(rt))
	err = a.serveHTTP(ctx, api.Handler())
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
