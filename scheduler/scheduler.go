// Package scheduler implements the delayed-command scheduler: a
// process-local task store plus a periodic tick that turns due tasks into
// synthetic publishes re-entering the Broker Engine's delivery path.
package scheduler

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meshgate/iotbroker/broker"
	"github.com/meshgate/iotbroker/cache"
)

// DefaultTickInterval is the scheduler's scan period (schedulerTickMs).
const DefaultTickInterval = 1000 * time.Millisecond

// schedulerSender is the synthetic fromDevice identity attached to every
// task-fired publish.
const schedulerSender = "__scheduler__"

// Scheduler owns the task store and the tick loop that fires due tasks
// through delivery. It has no knowledge of MQTT or HTTP; it only needs
// "hand this forward message to its target locally".
type Scheduler struct {
	log      *slog.Logger
	delivery broker.Delivery

	mu    sync.Mutex
	tasks map[string]*Task
	now   func() time.Time
}

// New constructs a Scheduler that fires through delivery.
func New(delivery broker.Delivery, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		log:      log,
		delivery: delivery,
		tasks:    make(map[string]*Task),
		now:      time.Now,
	}
}

func randomTaskID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("scheduler: generating task id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// CreateOptions are the create-time parameters validated per spec.md §4.8.
// Countdown and Interval are given in whole seconds; ExecuteAt is an
// absolute fire time, required for ModeScheduled and optional for
// ModeRecurring (defaults to now+interval).
type CreateOptions struct {
	TargetClientID string
	Command        any
	Mode           Mode
	ExecuteAt      *time.Time
	Countdown      int
	Interval       int
}

// Create validates opts per mode and stores a new enabled task.
func (s *Scheduler) Create(opts CreateOptions) (Task, error) {
	id, err := randomTaskID()
	if err != nil {
		return Task{}, err
	}
	now := s.now()

	t := &Task{
		ID:             id,
		TargetClientID: opts.TargetClientID,
		Command:        opts.Command,
		Mode:           opts.Mode,
		CreatedAt:      now,
		Enabled:        true,
	}

	switch opts.Mode {
	case ModeScheduled:
		if opts.ExecuteAt == nil {
			return Task{}, fmt.Errorf("%w: scheduled requires executeAt", ErrMissingParameter)
		}
		t.ExecuteAt = *opts.ExecuteAt
	case ModeCountdown:
		if opts.Countdown <= 0 {
			return Task{}, fmt.Errorf("%w: countdown requires countdown > 0", ErrMissingParameter)
		}
		t.ExecuteAt = now.Add(time.Duration(opts.Countdown) * time.Second)
	case ModeRecurring:
		if opts.Interval <= 0 {
			return Task{}, fmt.Errorf("%w: recurring requires interval > 0", ErrMissingParameter)
		}
		t.IntervalMS = int64(opts.Interval) * 1000
		if opts.ExecuteAt != nil {
			t.ExecuteAt = *opts.ExecuteAt
		} else {
			t.ExecuteAt = now.Add(time.Duration(t.IntervalMS) * time.Millisecond)
		}
	default:
		return Task{}, fmt.Errorf("%w: %q", ErrInvalidMode, opts.Mode)
	}

	s.mu.Lock()
	s.tasks[id] = t
	s.mu.Unlock()
	return *t, nil
}

// UpdateOptions mirrors CreateOptions; nil/zero fields are left unchanged.
// A pointer field set to nil means "not supplied in this update".
type UpdateOptions struct {
	Mode       *Mode
	Command    any
	HasCommand bool
	ExecuteAt  *time.Time
	Countdown  *int
	Interval   *int
	Enabled    *bool
}

// Update applies opts to the task identified by id. When mode changes, the
// new mode's required parameter must be supplied or, for recurring only,
// already present from a prior create/update — matching spec.md §4.8's
// "update semantics mirror create" rule. A countdown-mode update with no
// countdown supplied intentionally leaves executeAt unchanged (an
// ambiguous-intent case the source leaves unresolved; see DESIGN.md).
func (s *Scheduler) Update(id string, opts UpdateOptions) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}

	now := s.now()
	newMode := t.Mode
	if opts.Mode != nil {
		newMode = *opts.Mode
	}
	modeChanged := newMode != t.Mode

	switch newMode {
	case ModeScheduled:
		if opts.ExecuteAt != nil {
			t.ExecuteAt = *opts.ExecuteAt
		} else if modeChanged {
			return Task{}, fmt.Errorf("%w: scheduled requires executeAt", ErrMissingParameter)
		}
	case ModeCountdown:
		if opts.Countdown != nil {
			if *opts.Countdown <= 0 {
				return Task{}, fmt.Errorf("%w: countdown requires countdown > 0", ErrMissingParameter)
			}
			t.ExecuteAt = now.Add(time.Duration(*opts.Countdown) * time.Second)
		}
		// No countdown supplied: executeAt deliberately left unchanged.
	case ModeRecurring:
		if opts.Interval != nil {
			if *opts.Interval <= 0 {
				return Task{}, fmt.Errorf("%w: recurring requires interval > 0", ErrMissingParameter)
			}
			t.IntervalMS = int64(*opts.Interval) * 1000
		} else if t.IntervalMS <= 0 {
			return Task{}, fmt.Errorf("%w: recurring requires interval > 0", ErrMissingParameter)
		}
		if opts.ExecuteAt != nil {
			t.ExecuteAt = *opts.ExecuteAt
		} else if modeChanged {
			t.ExecuteAt = now.Add(time.Duration(t.IntervalMS) * time.Millisecond)
		}
	default:
		return Task{}, fmt.Errorf("%w: %q", ErrInvalidMode, newMode)
	}

	t.Mode = newMode
	if opts.HasCommand {
		t.Command = opts.Command
	}
	if opts.Enabled != nil {
		t.Enabled = *opts.Enabled
	}
	return *t, nil
}

// Get returns a copy of the task identified by id.
func (s *Scheduler) Get(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// List returns every task targeting targetClientID. An empty
// targetClientID lists every task in the store.
func (s *Scheduler) List(targetClientID string) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if targetClientID != "" && t.TargetClientID != targetClientID {
			continue
		}
		out = append(out, *t)
	}
	return out
}

// Cancel removes a task. Canceling an unknown id is a no-op error.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

// Run blocks, scanning for due tasks every interval, until stop is closed.
func (s *Scheduler) Run(stop <-chan struct{}, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s.tick()
		}
	}
}

// tick fires every enabled task whose executeAt has passed, per spec.md
// §4.8: construct the forward message, deliver it locally, then either
// reschedule (recurring) or remove the task.
func (s *Scheduler) tick() {
	now := s.now()

	s.mu.Lock()
	var due []*Task
	for _, t := range s.tasks {
		if t.Enabled && !t.ExecuteAt.After(now) {
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		s.fire(t, now)
	}
}

func (s *Scheduler) fire(t *Task, now time.Time) {
	fm := cache.ForwardMessage{FromDevice: schedulerSender, Data: t.Command}
	s.delivery.DeliverLocal(t.TargetClientID, fm)
	s.log.Info("scheduler fired task", "task_id", t.ID, "target", t.TargetClientID, "mode", t.Mode)

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[t.ID]
	if !ok || cur != t {
		return // canceled or replaced concurrently between scan and fire
	}
	if cur.Mode == ModeRecurring {
		last := now
		cur.LastExecutedAt = &last
		cur.ExecuteAt = now.Add(time.Duration(cur.IntervalMS) * time.Millisecond)
		return
	}
	delete(s.tasks, t.ID)
}
