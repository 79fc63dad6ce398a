package scheduler

import "time"

// Mode is a scheduled task's firing discipline.
type Mode string

const (
	ModeScheduled Mode = "scheduled"
	ModeCountdown Mode = "countdown"
	ModeRecurring Mode = "recurring"
)

// Task is one stored delayed command, per spec.md §3/§4.8.
type Task struct {
	ID             string
	TargetClientID string
	Command        any
	Mode           Mode
	ExecuteAt      time.Time
	IntervalMS     int64 // only meaningful for ModeRecurring
	CreatedAt      time.Time
	LastExecutedAt *time.Time
	Enabled        bool
}
