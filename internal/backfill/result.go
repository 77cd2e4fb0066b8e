package backfill

// Result summarizes one backfill run. It is the JSON body returned by the
// admin trigger and the payload logged by the cron trigger.
type Result struct {
	Success         bool   `json:"success"`
	TodayKey        string `json:"todayKey"`
	SeriesProcessed int    `json:"seriesProcessed"`
	SeriesUpdated   int    `json:"seriesUpdated"`
	TasksCreated    int    `json:"tasksCreated"`
	Skipped         int    `json:"skipped"`

	// Errors collects per-series failures. A bad series never aborts the
	// remaining series; it lands here instead.
	Errors []string `json:"errors,omitempty"`
}
