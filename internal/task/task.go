package task

import "time"

// Status is the workflow state of a task row.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Pattern is the recurrence cadence of a series.
type Pattern string

const (
	Daily   Pattern = "daily"
	Weekly  Pattern = "weekly"
	Monthly Pattern = "monthly"
	Yearly  Pattern = "yearly"
)

func (p Pattern) Valid() bool {
	switch p {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// Anchor selects the instant the next occurrence is computed from.
type Anchor string

const (
	FromDueDate    Anchor = "due_date"
	FromCompletion Anchor = "completion_date"
)

// ChecklistItem is one entry of a task's checklist. New instances carry the
// template's checklist with every item reset to not-completed.
type ChecklistItem struct {
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

// Task is a unit of work. Only the fields the scheduling engine reads and
// writes are modeled; the wider CRM row carries more.
type Task struct {
	ID string `json:"id"`

	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	AssignedToID string `json:"assignedToId,omitempty"`
	ClientID     string `json:"clientId,omitempty"`
	SpaceID      string `json:"spaceId,omitempty"`
	CampaignID   string `json:"campaignId,omitempty"`

	Status      Status     `json:"status"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`

	IsRecurring       bool       `json:"isRecurring"`
	RecurringPattern  Pattern    `json:"recurringPattern,omitempty"`
	RecurringInterval int        `json:"recurringInterval,omitempty"`
	RecurringEndDate  *time.Time `json:"recurringEndDate,omitempty"`
	ScheduleFrom      Anchor     `json:"scheduleFrom,omitempty"`

	Checklist []ChecklistItem `json:"checklist,omitempty"`

	// RecurrenceSeriesID groups successive occurrences of one recurring
	// definition. Legacy rows may lack it; the engine backfills it.
	RecurrenceSeriesID string `json:"recurrenceSeriesId,omitempty"`

	// RecurrenceInstanceDate is the YYYY-MM-DD calendar day (in the series'
	// reference timezone) this row represents.
	RecurrenceInstanceDate string `json:"recurrenceInstanceDate,omitempty"`
}

// Open reports whether the task still needs doing.
func (t Task) Open() bool { return t.Status != StatusCompleted }

// ResetChecklist returns a copy of items with every completed flag cleared.
func ResetChecklist(items []ChecklistItem) []ChecklistItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]ChecklistItem, len(items))
	for i, it := range items {
		out[i] = ChecklistItem{Text: it.Text}
	}
	return out
}
