package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Storage is the task repository the engine reads and writes.
	Storage StorageConfig `json:"storage"`

	// Server is the admin HTTP trigger surface.
	Server ServerConfig `json:"server,omitempty"`

	// Cron fires the backfill once per day at local midnight.
	Cron CronConfig `json:"cron"`

	// Backfill controls the engine itself.
	Backfill BackfillConfig `json:"backfill"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the task repository backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./cadence.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ServerConfig controls the admin HTTP trigger.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8787").
//   - If you bind to a non-loopback address, set a token.
type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default: "127.0.0.1:8787"
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)

	// RatePerMin caps manual backfill triggers. Surplus requests get 429.
	RatePerMin int `json:"rate_per_min,omitempty"`
}

// CronConfig controls the scheduled trigger.
type CronConfig struct {
	Enabled bool `json:"enabled"`

	// Timezone names the location the cron spec is evaluated in.
	// Defaults to backfill.timezone when empty.
	Timezone string `json:"timezone,omitempty"`

	// Spec is a 5-field cron expression. Default: "0 0 * * *" (local midnight).
	Spec string `json:"spec,omitempty"`
}

// BackfillConfig controls the recurrence engine.
type BackfillConfig struct {
	// Timezone is the reference timezone all instance date-keys are
	// computed in. Default: "America/New_York".
	Timezone string `json:"timezone,omitempty"`

	// MaxCatchUp bounds the number of interval steps taken when walking a
	// dormant series forward to today. Default: 400.
	MaxCatchUp int `json:"max_catch_up,omitempty"`

	// EnforceEndDate skips generating instances dated past a series'
	// recurring end date. Off by default: historically the end date was
	// carried onto instances but never enforced.
	EnforceEndDate bool `json:"enforce_end_date,omitempty"`
}
