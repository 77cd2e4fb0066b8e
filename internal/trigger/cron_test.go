package trigger

import (
	"context"
	"errors"
	"testing"
	"time"

	"cadence/internal/backfill"
	logx "cadence/pkg/logx"
)

type stubRunner struct {
	calls int
	err   error
}

func (s *stubRunner) Run(ctx context.Context, dryRun bool) (backfill.Result, error) {
	_ = ctx
	if dryRun {
		panic("scheduled runs are never dry")
	}
	s.calls++
	return backfill.Result{Success: true, TodayKey: "2026-01-05"}, s.err
}

func TestDefaultSpec(t *testing.T) {
	s := New(Config{Enabled: true}, &stubRunner{}, time.UTC, logx.Nop())
	if s.cfg.Spec != DefaultSpec {
		t.Fatalf("spec = %q, want %q", s.cfg.Spec, DefaultSpec)
	}
}

func TestFireRunsEngine(t *testing.T) {
	stub := &stubRunner{}
	s := New(Config{Enabled: true}, stub, time.UTC, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	s.fire()
	if stub.calls != 1 {
		t.Fatalf("runner calls = %d, want 1", stub.calls)
	}

	// An engine failure is logged and absorbed; the next tick retries.
	stub.err = errors.New("storage down")
	s.fire()
	if stub.calls != 2 {
		t.Fatalf("runner calls = %d, want 2", stub.calls)
	}
}

func TestFireAfterStopIsNoop(t *testing.T) {
	stub := &stubRunner{}
	s := New(Config{Enabled: true}, stub, time.UTC, logx.Nop())
	s.Start(context.Background())
	s.Stop(context.Background())

	s.fire()
	if stub.calls != 0 {
		t.Fatalf("runner invoked after stop: %d", stub.calls)
	}
}

func TestInvalidSpecDisablesTrigger(t *testing.T) {
	s := New(Config{Enabled: true, Spec: "not a cron line"}, &stubRunner{}, time.UTC, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())
	if s.c != nil {
		t.Fatal("invalid spec must not start a scheduler")
	}
}

func TestApplyRestartsOnScheduleChange(t *testing.T) {
	s := New(Config{Enabled: true}, &stubRunner{}, time.UTC, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	before := s.c
	s.Apply(Config{Enabled: true, Spec: "30 2 * * *"})
	if s.c == before {
		t.Fatal("spec change must rebuild the scheduler")
	}

	same := s.c
	s.Apply(Config{Enabled: true, Spec: "30 2 * * *"})
	if s.c != same {
		t.Fatal("no-op apply must keep the scheduler")
	}
}

func TestLocationFallback(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	s := New(Config{Enabled: true, Timezone: "Not/AZone"}, &stubRunner{}, loc, logx.Nop())
	if got := s.loadLocationLocked(); got != loc {
		t.Fatalf("fallback location = %v, want %v", got, loc)
	}
	s = New(Config{Enabled: true, Timezone: "UTC"}, &stubRunner{}, loc, logx.Nop())
	if got := s.loadLocationLocked(); got.String() != "UTC" {
		t.Fatalf("explicit timezone ignored: %v", got)
	}
}
