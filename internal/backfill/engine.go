// Package backfill ensures exactly one current instance exists per recurrence
// series. It is invoked by the midnight cron and the admin HTTP trigger,
// possibly concurrently; correctness under that concurrency comes from the
// existence check plus the repository's uniqueness constraint, with the
// duplicate-key insert failure treated as a benign skip.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cadence/internal/schedule"
	"cadence/internal/storage"
	"cadence/internal/task"
	logx "cadence/pkg/logx"
)

const (
	// DefaultTimezone is the reference timezone for instance date-keys.
	DefaultTimezone = "America/New_York"

	// defaultMaxCatchUp bounds catch-up stepping for long-dormant series.
	defaultMaxCatchUp = 400
)

type Config struct {
	Timezone       string
	MaxCatchUp     int
	EnforceEndDate bool
}

// Engine materializes the current instance of each recurrence series.
// It holds no state between runs; the clock and repository are injected so
// runs are deterministic under test.
type Engine struct {
	store storage.Store
	log   logx.Logger

	loc            *time.Location
	maxCatchUp     int
	enforceEndDate bool

	now func() time.Time
}

func New(cfg Config, store storage.Store, log logx.Logger) (*Engine, error) {
	if store == nil {
		return nil, errors.New("backfill: store is required")
	}
	tz := cfg.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("backfill: invalid timezone %q: %w", tz, err)
	}
	maxCatchUp := cfg.MaxCatchUp
	if maxCatchUp <= 0 {
		maxCatchUp = defaultMaxCatchUp
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		store:          store,
		log:            log,
		loc:            loc,
		maxCatchUp:     maxCatchUp,
		enforceEndDate: cfg.EnforceEndDate,
		now:            time.Now,
	}, nil
}

// Location reports the engine's reference timezone.
func (e *Engine) Location() *time.Location { return e.loc }

// Run loads all recurring tasks, groups them into series, and materializes
// the missing current instance of each series. With dryRun set it performs
// the full computation and reports the counts a real run would produce, but
// issues no writes.
//
// Run is safe to invoke repeatedly and concurrently: a second immediate run
// creates nothing, and a lost insert race counts as a skip, not an error.
func (e *Engine) Run(ctx context.Context, dryRun bool) (Result, error) {
	now := e.now()
	todayKey := schedule.DayKey(now, e.loc)
	res := Result{TodayKey: todayKey}

	tasks, err := e.store.ListRecurringTasks(ctx)
	if err != nil {
		return res, fmt.Errorf("list recurring tasks: %w", err)
	}

	groups := map[string][]task.Task{}
	for _, t := range tasks {
		id := t.RecurrenceSeriesID
		if id == "" {
			id = task.DeriveSeriesID(t)
		}
		groups[id] = append(groups[id], t)
	}

	seriesIDs := make([]string, 0, len(groups))
	for id := range groups {
		seriesIDs = append(seriesIDs, id)
	}
	sort.Strings(seriesIDs)

	for _, id := range seriesIDs {
		res.SeriesProcessed++
		e.processSeries(ctx, &res, id, groups[id], todayKey, dryRun)
	}

	res.Success = true
	e.log.Info("backfill run complete",
		logx.Bool("dry_run", dryRun),
		logx.String("today", todayKey),
		logx.Int("series", res.SeriesProcessed),
		logx.Int("updated", res.SeriesUpdated),
		logx.Int("created", res.TasksCreated),
		logx.Int("skipped", res.Skipped),
		logx.Int("errors", len(res.Errors)),
	)
	return res, nil
}

// processSeries decides the target instance date for one series and inserts
// the instance when missing. Failures are recorded on res and never abort the
// remaining series.
func (e *Engine) processSeries(ctx context.Context, res *Result, seriesID string, members []task.Task, todayKey string, dryRun bool) {
	tpl := pickTemplate(members)

	// A dirty template must not block the other series: fall back to a
	// daily/1 cadence instead of failing the run.
	pattern := tpl.RecurringPattern
	if !pattern.Valid() {
		pattern = task.Daily
	}
	interval := tpl.RecurringInterval
	if interval < 1 {
		interval = 1
	}
	anchor := tpl.ScheduleFrom
	if anchor != task.FromCompletion {
		anchor = task.FromDueDate
	}

	targetKey, ok := e.targetKey(res, seriesID, members, pattern, interval, anchor, todayKey)
	if !ok {
		return
	}

	// Existence check first: a concurrent run may already have materialized
	// this key. The uniqueness constraint below remains the final authority.
	existing, err := e.store.FindBySeriesKey(ctx, seriesID, targetKey)
	if err != nil {
		e.seriesErr(res, seriesID, fmt.Errorf("lookup %s: %w", targetKey, err))
		return
	}
	if existing != nil {
		res.Skipped++
		return
	}

	// Legacy rows predate the series-id column; stamp the template so future
	// runs take the fast explicit-id path.
	if tpl.RecurrenceSeriesID == "" || tpl.RecurrenceInstanceDate == "" {
		if !dryRun {
			tplKey := e.instanceKey(tpl, todayKey)
			if err := e.store.UpdateTaskSeriesFields(ctx, tpl.ID, seriesID, tplKey); err != nil {
				if errors.Is(err, storage.ErrDuplicateInstance) {
					e.log.Warn("series stamp collided; leaving row unstamped",
						logx.String("series", seriesID), logx.String("task", tpl.ID))
				} else {
					e.seriesErr(res, seriesID, fmt.Errorf("stamp template %s: %w", tpl.ID, err))
					return
				}
			}
		}
		res.SeriesUpdated++
	}

	if e.enforceEndDate && tpl.RecurringEndDate != nil {
		endKey := schedule.DayKey(*tpl.RecurringEndDate, e.loc)
		if targetKey > endKey {
			e.log.Debug("series past end date",
				logx.String("series", seriesID), logx.String("target", targetKey), logx.String("end", endKey))
			res.Skipped++
			return
		}
	}

	if dryRun {
		e.log.Debug("would create instance",
			logx.String("series", seriesID), logx.String("date", targetKey))
		res.TasksCreated++
		return
	}

	due, err := schedule.EndOfDay(targetKey, e.loc)
	if err != nil {
		e.seriesErr(res, seriesID, err)
		return
	}

	_, err = e.store.InsertTask(ctx, task.Task{
		Title:        tpl.Title,
		Description:  tpl.Description,
		AssignedToID: tpl.AssignedToID,
		ClientID:     tpl.ClientID,
		SpaceID:      tpl.SpaceID,
		CampaignID:   tpl.CampaignID,

		Status:  task.StatusTodo,
		DueDate: &due,

		IsRecurring:       true,
		RecurringPattern:  pattern,
		RecurringInterval: interval,
		RecurringEndDate:  tpl.RecurringEndDate,
		ScheduleFrom:      anchor,

		Checklist: task.ResetChecklist(tpl.Checklist),

		RecurrenceSeriesID:     seriesID,
		RecurrenceInstanceDate: targetKey,
	})
	if errors.Is(err, storage.ErrDuplicateInstance) {
		// A concurrent run won the race; the instance exists, nothing lost.
		e.log.Debug("lost insert race", logx.String("series", seriesID), logx.String("date", targetKey))
		res.Skipped++
		return
	}
	if err != nil {
		e.seriesErr(res, seriesID, fmt.Errorf("insert %s: %w", targetKey, err))
		return
	}
	res.TasksCreated++
	e.log.Info("instance created", logx.String("series", seriesID), logx.String("date", targetKey))
}

// targetKey computes the instance date the series should have next. The
// second return is false when nothing needs materializing (counted as a skip)
// or the computation failed (recorded on res).
func (e *Engine) targetKey(res *Result, seriesID string, members []task.Task, pattern task.Pattern, interval int, anchor task.Anchor, todayKey string) (string, bool) {
	if pattern == task.Daily {
		todayExists := false
		for _, m := range members {
			if e.instanceKey(m, todayKey) != todayKey {
				continue
			}
			if m.Open() {
				// Today's instance is present and still open.
				res.Skipped++
				return "", false
			}
			todayExists = true
		}
		if !todayExists {
			// Catch-up: first run after series creation, or a gap.
			return todayKey, true
		}
		// Today's instance is done; the next one is due an interval after
		// the end of today.
		endOfToday, err := schedule.EndOfDay(todayKey, e.loc)
		if err != nil {
			e.seriesErr(res, seriesID, err)
			return "", false
		}
		return schedule.NextKey(pattern, interval, endOfToday, e.loc), true
	}

	// Weekly/monthly/yearly: an open instance dated today or later means
	// there is already a current instance.
	base := ""
	for _, m := range members {
		key := e.instanceKey(m, todayKey)
		if m.Open() && key >= todayKey {
			res.Skipped++
			return "", false
		}
		if key > base {
			base = key
		}
	}

	if anchor == task.FromCompletion {
		if c := latestCompleted(members); c != nil {
			base = schedule.DayKey(*c.CompletedAt, e.loc)
		}
	}
	if base == "" {
		base = todayKey
	}

	// Step forward at least once so a completed instance dated today still
	// yields the following occurrence, then keep stepping in whole intervals
	// until reaching today. The guard bounds pathological configurations; a
	// series dormant longer than maxCatchUp intervals resumes behind today.
	key := base
	for i := 0; i < e.maxCatchUp; i++ {
		next, err := schedule.NextKeyFrom(pattern, interval, key, e.loc)
		if err != nil {
			e.seriesErr(res, seriesID, err)
			return "", false
		}
		key = next
		if key >= todayKey {
			return key, true
		}
	}
	e.log.Warn("catch-up guard reached",
		logx.String("series", seriesID), logx.String("base", base),
		logx.String("reached", key), logx.Int("max", e.maxCatchUp))
	return key, true
}

// instanceKey resolves the calendar day a member row represents. Legacy rows
// lack the explicit instance date, so fall through the row's other instants.
func (e *Engine) instanceKey(t task.Task, todayKey string) string {
	switch {
	case t.RecurrenceInstanceDate != "":
		return t.RecurrenceInstanceDate
	case t.DueDate != nil:
		return schedule.DayKey(*t.DueDate, e.loc)
	case t.CompletedAt != nil:
		return schedule.DayKey(*t.CompletedAt, e.loc)
	case !t.CreatedAt.IsZero():
		return schedule.DayKey(t.CreatedAt, e.loc)
	default:
		return todayKey
	}
}

func (e *Engine) seriesErr(res *Result, seriesID string, err error) {
	e.log.Error("series failed", logx.String("series", seriesID), logx.Err(err))
	res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", seriesID, err))
}

// pickTemplate selects the member that supplies content for new instances:
// the most recent dueDate wins, ties broken by most recent createdAt.
func pickTemplate(members []task.Task) task.Task {
	tpl := members[0]
	for _, m := range members[1:] {
		if laterTemplate(m, tpl) {
			tpl = m
		}
	}
	return tpl
}

func laterTemplate(a, b task.Task) bool {
	switch {
	case a.DueDate == nil && b.DueDate == nil:
		return a.CreatedAt.After(b.CreatedAt)
	case a.DueDate == nil:
		return false
	case b.DueDate == nil:
		return true
	case a.DueDate.Equal(*b.DueDate):
		return a.CreatedAt.After(b.CreatedAt)
	default:
		return a.DueDate.After(*b.DueDate)
	}
}

// latestCompleted returns the member with the most recent completedAt, or nil.
func latestCompleted(members []task.Task) *task.Task {
	var best *task.Task
	for i := range members {
		m := &members[i]
		if m.CompletedAt == nil {
			continue
		}
		if best == nil || m.CompletedAt.After(*best.CompletedAt) {
			best = m
		}
	}
	return best
}
