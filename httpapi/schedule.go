package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meshgate/iotbroker/scheduler"
)

// taskDTO is the wire shape for scheduler.Task: executeAt/createdAt/
// lastExecutedAt travel as millisecond epoch timestamps per spec.md §3's
// ScheduledTask definition, rather than scheduler.Task's time.Time fields.
type taskDTO struct {
	ID             string `json:"taskId"`
	TargetClientID string `json:"targetClientId"`
	Command        any    `json:"command"`
	Mode           string `json:"mode"`
	ExecuteAt      int64  `json:"executeAt"`
	Interval       int64  `json:"interval,omitempty"`
	CreatedAt      int64  `json:"createdAt"`
	LastExecutedAt *int64 `json:"lastExecutedAt,omitempty"`
	Enabled        bool   `json:"enabled"`
}

func toTaskDTO(t scheduler.Task) taskDTO {
	dto := taskDTO{
		ID:             t.ID,
		TargetClientID: t.TargetClientID,
		Command:        t.Command,
		Mode:           string(t.Mode),
		ExecuteAt:      t.ExecuteAt.UnixMilli(),
		Interval:       t.IntervalMS,
		CreatedAt:      t.CreatedAt.UnixMilli(),
		Enabled:        t.Enabled,
	}
	if t.LastExecutedAt != nil {
		ms := t.LastExecutedAt.UnixMilli()
		dto.LastExecutedAt = &ms
	}
	return dto
}

// handleCreateTask implements POST /schedule: create a delayed/countdown/
// recurring task targeting the device identified by toDevice, on behalf of
// the authKey-authenticated caller.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AuthKey   string `json:"authKey"`
		ToDevice  string `json:"toDevice"`
		Command   any    `json:"command"`
		Mode      string `json:"mode"`
		ExecuteAt *int64 `json:"executeAt"`
		Countdown int    `json:"countdown"`
		Interval  int    `json:"interval"`
	}
	if !s.readJSONLimited(w, r, &body) {
		return
	}
	if body.AuthKey == "" {
		writeBadRequest(w, "authKey is required")
		return
	}
	if body.ToDevice == "" {
		writeBadRequest(w, "toDevice is required")
		return
	}
	if _, ok := s.cache.GetDeviceByAuthKey(body.AuthKey); !ok {
		writeUnauthorized(w, "unknown authKey")
		return
	}

	opts := scheduler.CreateOptions{
		TargetClientID: body.ToDevice,
		Command:        body.Command,
		Mode:           scheduler.Mode(body.Mode),
		Countdown:      body.Countdown,
		Interval:       body.Interval,
	}
	if body.ExecuteAt != nil {
		t := time.UnixMilli(*body.ExecuteAt)
		opts.ExecuteAt = &t
	}

	task, err := s.scheduler.Create(opts)
	if errors.Is(err, scheduler.ErrMissingParameter) || errors.Is(err, scheduler.ErrInvalidMode) {
		writeBadRequest(w, err.Error())
		return
	}
	if err != nil {
		s.log.Error("creating scheduled task", "err", err)
		writeServerError(w, "creating scheduled task")
		return
	}
	writeOK(w, toTaskDTO(task))
}

// handleListTasks implements GET /schedule?authKey: every task targeting
// the authKey-authenticated caller's own clientId.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	authKey := r.URL.Query().Get("authKey")
	if authKey == "" {
		writeBadRequest(w, "authKey is required")
		return
	}
	snapshot, ok := s.cache.GetDeviceByAuthKey(authKey)
	if !ok {
		writeUnauthorized(w, "unknown authKey")
		return
	}

	tasks := s.scheduler.List(snapshot.ClientID)
	dtos := make([]taskDTO, len(tasks))
	for i, t := range tasks {
		dtos[i] = toTaskDTO(t)
	}
	writeOK(w, map[string]any{"tasks": dtos})
}

// handleUpdateTask implements PATCH /schedule/{taskId}. Fields omitted
// from the body leave the corresponding task field unchanged, per
// scheduler.UpdateOptions.
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")

	var body struct {
		Mode       *string `json:"mode"`
		Command    any     `json:"command"`
		HasCommand bool    `json:"hasCommand"`
		ExecuteAt  *int64  `json:"executeAt"`
		Countdown  *int    `json:"countdown"`
		Interval   *int    `json:"interval"`
		Enabled    *bool   `json:"enabled"`
	}
	if !s.readJSONLimited(w, r, &body) {
		return
	}

	opts := scheduler.UpdateOptions{
		Command:    body.Command,
		HasCommand: body.HasCommand,
		Countdown:  body.Countdown,
		Interval:   body.Interval,
		Enabled:    body.Enabled,
	}
	if body.Mode != nil {
		m := scheduler.Mode(*body.Mode)
		opts.Mode = &m
	}
	if body.ExecuteAt != nil {
		t := time.UnixMilli(*body.ExecuteAt)
		opts.ExecuteAt = &t
	}

	task, err := s.scheduler.Update(taskID, opts)
	switch {
	case errors.Is(err, scheduler.ErrNotFound):
		writeNotFoundTask(w)
	case errors.Is(err, scheduler.ErrMissingParameter), errors.Is(err, scheduler.ErrInvalidMode):
		writeBadRequest(w, err.Error())
	case err != nil:
		s.log.Error("updating scheduled task", "task_id", taskID, "err", err)
		writeServerError(w, "updating scheduled task")
	default:
		writeOK(w, toTaskDTO(task))
	}
}

// handleCancelTask implements DELETE /schedule/{taskId}.
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	if err := s.scheduler.Cancel(taskID); errors.Is(err, scheduler.ErrNotFound) {
		writeNotFoundTask(w)
		return
	} else if err != nil {
		s.log.Error("canceling scheduled task", "task_id", taskID, "err", err)
		writeServerError(w, "canceling scheduled task")
		return
	}
	writeOK(w, map[string]any{"status": "canceled"})
}
