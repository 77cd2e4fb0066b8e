package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite3 "modernc.org/sqlite"

	"cadence/internal/task"
	logx "cadence/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// SQLITE_CONSTRAINT_UNIQUE extended result code.
const sqliteConstraintUnique = 2067

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const taskColumns = `id, title, description, assigned_to_id, client_id, space_id, campaign_id,
	status, due_date, completed_at, created_at,
	is_recurring, recurring_pattern, recurring_interval, recurring_end_date, schedule_from,
	checklist, recurrence_series_id, recurrence_instance_date`

func (s *sqliteStore) ListRecurringTasks(ctx context.Context) ([]task.Task, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE is_recurring = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) FindBySeriesKey(ctx context.Context, seriesID, instanceDate string) (*task.Task, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE recurrence_series_id = ? AND recurrence_instance_date = ?`,
		seriesID, instanceDate)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *sqliteStore) InsertTask(ctx context.Context, t task.Task) (task.Task, error) {
	if s == nil || s.db == nil {
		return task.Task{}, ErrDisabled
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	checklist, err := json.Marshal(t.Checklist)
	if err != nil {
		return task.Task{}, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks(`+taskColumns+`)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, t.Description, t.AssignedToID, t.ClientID, t.SpaceID, t.CampaignID,
		string(t.Status), nullTime(t.DueDate), nullTime(t.CompletedAt), fmtTime(t.CreatedAt),
		boolInt(t.IsRecurring), string(t.RecurringPattern), t.RecurringInterval,
		nullTime(t.RecurringEndDate), string(t.ScheduleFrom),
		string(checklist), nullStr(t.RecurrenceSeriesID), nullStr(t.RecurrenceInstanceDate),
	)
	if err != nil {
		if isSeriesKeyViolation(err) {
			return task.Task{}, fmt.Errorf("insert task %s/%s: %w",
				t.RecurrenceSeriesID, t.RecurrenceInstanceDate, ErrDuplicateInstance)
		}
		return task.Task{}, err
	}
	return t, nil
}

func (s *sqliteStore) UpdateTaskSeriesFields(ctx context.Context, taskID, seriesID, instanceDate string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET recurrence_series_id = ?, recurrence_instance_date = ? WHERE id = ?`,
		seriesID, instanceDate, taskID)
	if err != nil && isSeriesKeyViolation(err) {
		return fmt.Errorf("stamp task %s: %w", taskID, ErrDuplicateInstance)
	}
	return err
}

// isSeriesKeyViolation matches the unique-constraint failure on the
// (recurrence_series_id, recurrence_instance_date) index, and only that one.
// Other constraint violations stay real errors.
func isSeriesKeyViolation(err error) bool {
	var se *sqlite3.Error
	if errors.As(err, &se) {
		return se.Code() == sqliteConstraintUnique &&
			strings.Contains(se.Error(), "recurrence")
	}
	return false
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (task.Task, error) {
	var (
		t          task.Task
		status     string
		pattern    string
		anchor     string
		recurring  int64
		due        sql.NullString
		completed  sql.NullString
		created    string
		endDate    sql.NullString
		checklist  string
		seriesID   sql.NullString
		instanceDt sql.NullString
	)
	err := sc.Scan(
		&t.ID, &t.Title, &t.Description, &t.AssignedToID, &t.ClientID, &t.SpaceID, &t.CampaignID,
		&status, &due, &completed, &created,
		&recurring, &pattern, &t.RecurringInterval, &endDate, &anchor,
		&checklist, &seriesID, &instanceDt,
	)
	if err != nil {
		return task.Task{}, err
	}

	t.Status = task.Status(status)
	t.RecurringPattern = task.Pattern(pattern)
	t.ScheduleFrom = task.Anchor(anchor)
	t.IsRecurring = recurring != 0
	t.RecurrenceSeriesID = seriesID.String
	t.RecurrenceInstanceDate = instanceDt.String

	if t.CreatedAt, err = parseTime(created); err != nil {
		return task.Task{}, err
	}
	if t.DueDate, err = parseNullTime(due); err != nil {
		return task.Task{}, err
	}
	if t.CompletedAt, err = parseNullTime(completed); err != nil {
		return task.Task{}, err
	}
	if t.RecurringEndDate, err = parseNullTime(endDate); err != nil {
		return task.Task{}, err
	}
	if checklist != "" && checklist != "[]" {
		if err := json.Unmarshal([]byte(checklist), &t.Checklist); err != nil {
			return task.Task{}, fmt.Errorf("task %s: bad checklist: %w", t.ID, err)
		}
	}
	return t, nil
}

func fmtTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
