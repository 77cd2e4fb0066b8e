// Package app wires configuration, logging, storage, the backfill engine,
// and its two triggers into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cadence/internal/backfill"
	"cadence/internal/config"
	"cadence/internal/runtime/supervisor"
	"cadence/internal/server"
	"cadence/internal/storage"
	"cadence/internal/trigger"
	logx "cadence/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store  storage.Store
	engine *backfill.Engine
	srv    *server.Service
	cron   *trigger.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("storage is required: set storage.driver to sqlite or memory")
	}
	log.Info("storage enabled", logx.String("driver", sc.Driver))

	engine, err := backfill.New(backfill.Config{
		Timezone:       cfg.Backfill.Timezone,
		MaxCatchUp:     cfg.Backfill.MaxCatchUp,
		EnforceEndDate: cfg.Backfill.EnforceEndDate,
	}, store, log.With(logx.String("comp", "backfill")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	srv := server.New(server.Config{
		Enabled:    cfg.Server.Enabled,
		Addr:       cfg.Server.Addr,
		Token:      cfg.Server.Token,
		RatePerMin: cfg.Server.RatePerMin,
	}, engine, log.With(logx.String("comp", "server")))

	cron := trigger.New(trigger.Config{
		Enabled:  cfg.Cron.Enabled,
		Timezone: cfg.Cron.Timezone,
		Spec:     cfg.Cron.Spec,
	}, engine, engine.Location(), log.With(logx.String("comp", "cron")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		engine:  engine,
		srv:     srv,
		cron:    cron,
	}, nil
}

// Engine exposes the backfill entry point (used by one-shot invocations).
func (a *App) Engine() *backfill.Engine { return a.engine }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		_ = c
		return validate(cfg)
	})

	if a.srv.Enabled() {
		a.srv.Start(a.sup.Context())
	}
	if a.cron.Enabled() {
		a.cron.Start(a.sup.Context())
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applyReload(ctx context.Context, last, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	// Cron timezone/spec changes apply live; enable/disable toggles too.
	prevCron := a.cron.Enabled()
	a.cron.Apply(trigger.Config{
		Enabled:  cfg.Cron.Enabled,
		Timezone: cfg.Cron.Timezone,
		Spec:     cfg.Cron.Spec,
	})
	if prevCron && !cfg.Cron.Enabled {
		a.log.Info("cron trigger disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.cron.Stop(stopCtx)
		cancel()
	} else if !prevCron && cfg.Cron.Enabled {
		a.log.Info("cron trigger enabled via config")
		a.cron.Start(ctx)
	}

	// Storage, server, and engine settings bind at startup.
	if last != nil {
		if last.Storage != cfg.Storage {
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
		if last.Server != cfg.Server {
			a.log.Warn("server config changed; restart required for changes to take effect")
		}
		if last.Backfill != cfg.Backfill {
			a.log.Warn("backfill config changed; restart required for changes to take effect")
		}
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		// Never started (one-shot use); just release resources.
		err := a.store.Close()
		if a.logs != nil {
			_ = a.logs.Close()
		}
		return err
	}
	a.log.Info("stopping")

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
		if err := fn(stepCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("cron", 2*time.Second, func(c context.Context) error { a.cron.Stop(c); return nil })
	step("server", 2*time.Second, func(c context.Context) error { a.srv.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(c context.Context) error { _ = c; return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func validate(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if cfg.Server.RatePerMin < 0 {
		return fmt.Errorf("server.rate_per_min must be >= 0")
	}
	if cfg.Backfill.MaxCatchUp < 0 {
		return fmt.Errorf("backfill.max_catch_up must be >= 0")
	}
	for _, tz := range []struct{ key, val string }{
		{"backfill.timezone", cfg.Backfill.Timezone},
		{"cron.timezone", cfg.Cron.Timezone},
	} {
		if v := strings.TrimSpace(tz.val); v != "" {
			if _, err := time.LoadLocation(v); err != nil {
				return fmt.Errorf("%s: invalid %q: %w", tz.key, tz.val, err)
			}
		}
	}
	return nil
}
