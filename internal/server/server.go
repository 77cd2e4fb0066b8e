// Package server exposes the admin HTTP trigger for the backfill engine.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"cadence/internal/backfill"
	logx "cadence/pkg/logx"
)

// Runner is the single operation the admin surface exposes.
type Runner interface {
	Run(ctx context.Context, dryRun bool) (backfill.Result, error)
}

type Config struct {
	Enabled bool
	Addr    string
	Token   string

	// RatePerMin caps backfill triggers; surplus requests get 429.
	RatePerMin int
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8787"
	}
	if c.RatePerMin <= 0 {
		c.RatePerMin = 6
	}
	return c
}

// Service manages lifecycle for the admin HTTP listener.
type Service struct {
	mu     sync.Mutex
	cfg    Config
	log    logx.Logger
	runner Runner

	limiter *rate.Limiter
	srv     *http.Server
	ln      net.Listener
	addr    string
}

func New(cfg Config, runner Runner, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		runner:  runner,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMin)), cfg.RatePerMin),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Addr reports the actual listen address if running.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Service) Start(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return
	}

	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.log.Error("admin listen failed", logx.String("addr", s.cfg.Addr), logx.Err(err))
		return
	}

	s.srv = srv
	s.ln = ln
	s.addr = ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server error", logx.String("addr", s.addr), logx.Err(err))
		}
	}()
	s.log.Info("admin server listening", logx.String("addr", s.addr))
}

// Stop gracefully shuts down the admin server.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	ln := s.ln
	addr := s.addr
	s.srv = nil
	s.ln = nil
	s.addr = ""
	s.mu.Unlock()

	if srv == nil {
		return
	}
	shutdownCtx := ctx
	if shutdownCtx == nil {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("admin shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	if ln != nil {
		_ = ln.Close()
	}
	s.log.Info("admin server stopped", logx.String("addr", addr))
}

// Handler builds the route tree. Exposed for tests.
func (s *Service) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/backfill", s.handleBackfill).Methods(http.MethodPost)
	return r
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleBackfill(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, errBody("unauthorized"))
		return
	}
	if !s.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, errBody("rate limited"))
		return
	}

	dryRun := parseBoolParam(r, "dry_run")
	start := time.Now()
	res, err := s.runner.Run(r.Context(), dryRun)
	if err != nil {
		s.log.Error("manual backfill failed", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	s.log.Info("manual backfill",
		logx.Bool("dry_run", dryRun),
		logx.Int("created", res.TasksCreated),
		logx.Duration("took", time.Since(start)),
	)
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) authorized(r *http.Request) bool {
	s.mu.Lock()
	token := s.cfg.Token
	s.mu.Unlock()
	if token == "" {
		return true
	}
	h := r.Header.Get("Authorization")
	return strings.TrimPrefix(h, "Bearer ") == token && h != ""
}

func parseBoolParam(r *http.Request, name string) bool {
	switch strings.ToLower(r.URL.Query().Get(name)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func errBody(msg string) map[string]any {
	return map[string]any{"success": false, "error": msg}
}
