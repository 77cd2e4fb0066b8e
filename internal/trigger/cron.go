// Package trigger fires the backfill on a cron schedule, midnight in the
// reference timezone by default.
package trigger

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"cadence/internal/backfill"
	logx "cadence/pkg/logx"
)

// DefaultSpec is local midnight, the moment yesterday's "today" rolls over.
const DefaultSpec = "0 0 * * *"

// Runner matches the backfill engine's entry point.
type Runner interface {
	Run(ctx context.Context, dryRun bool) (backfill.Result, error)
}

type Config struct {
	Enabled  bool
	Timezone string
	Spec     string
}

// Service wraps a cron scheduler around the engine. Overlap with a manual
// trigger is tolerated by design; the engine is idempotent.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	runner Runner
	loc    *time.Location

	c      *cron.Cron
	runCtx context.Context
	cancel context.CancelFunc
}

func New(cfg Config, runner Runner, loc *time.Location, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Spec) == "" {
		cfg.Spec = DefaultSpec
	}
	return &Service{cfg: cfg, runner: runner, loc: loc, log: log}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.startLocked()
}

func (s *Service) startLocked() {
	loc := s.loadLocationLocked()
	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(s.cfg.Spec, s.fire); err != nil {
		s.log.Error("invalid cron spec; trigger disabled",
			logx.String("spec", s.cfg.Spec), logx.Err(err))
		return
	}
	s.c = c
	c.Start()
	s.log.Info("cron trigger started",
		logx.String("spec", s.cfg.Spec), logx.String("tz", loc.String()))
}

func (s *Service) fire() {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	start := time.Now()
	res, err := s.runner.Run(ctx, false)
	if err != nil {
		// No internal retry: the next tick (or a manual trigger) retries.
		s.log.Error("scheduled backfill failed", logx.Err(err))
		return
	}
	s.log.Info("scheduled backfill",
		logx.String("today", res.TodayKey),
		logx.Int("series", res.SeriesProcessed),
		logx.Int("created", res.TasksCreated),
		logx.Int("skipped", res.Skipped),
		logx.Duration("took", time.Since(start)),
	)
}

// Apply updates the config; a timezone or spec change restarts the cron.
func (s *Service) Apply(cfg Config) {
	if strings.TrimSpace(cfg.Spec) == "" {
		cfg.Spec = DefaultSpec
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	oldSpec := s.cfg.Spec
	s.cfg = cfg

	if s.c == nil {
		return
	}
	if oldTZ != strings.TrimSpace(cfg.Timezone) || oldSpec != cfg.Spec {
		<-s.c.Stop().Done()
		s.c = nil
		s.startLocked()
	}
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.cancel = nil
	s.runCtx = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("cron trigger stopped")
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		if s.loc != nil {
			return s.loc
		}
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid cron timezone; falling back",
			logx.String("tz", tz), logx.Err(err))
		if s.loc != nil {
			return s.loc
		}
		return time.Local
	}
	return loc
}
