package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// ErrDuplicateInstance reports an insert that lost the
// (seriesID, instanceDate) uniqueness race to a concurrent run. Callers treat
// it as a benign skip; the row they wanted already exists.
var ErrDuplicateInstance = errors.New("duplicate series instance")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "memory": in-process map backend (tests, ephemeral runs)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
