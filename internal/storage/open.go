package storage

import (
	"context"
	"errors"
	"strings"

	"cadence/internal/task"
	logx "cadence/pkg/logx"
)

// Store is the task repository API consumed by the backfill engine.
//
// InsertTask must fail with ErrDuplicateInstance (and nothing else) when the
// (seriesID, instanceDate) uniqueness constraint is violated; that error is
// the storage layer's final authority on the at-most-one-instance invariant.
type Store interface {
	ListRecurringTasks(ctx context.Context) ([]task.Task, error)
	FindBySeriesKey(ctx context.Context, seriesID, instanceDate string) (*task.Task, error)
	InsertTask(ctx context.Context, t task.Task) (task.Task, error)
	UpdateTaskSeriesFields(ctx context.Context, taskID, seriesID, instanceDate string) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
