package scheduler

import "errors"

var (
	// ErrNotFound is returned by Get/Update/Cancel for an unknown task id.
	ErrNotFound = errors.New("scheduler: task not found")
	// ErrInvalidMode is returned for a mode outside {scheduled, countdown, recurring}.
	ErrInvalidMode = errors.New("scheduler: invalid mode")
	// ErrMissingParameter is returned when a mode's required parameter is
	// absent and no prior value can be reused.
	ErrMissingParameter = errors.New("scheduler: missing required parameter for mode")
)
