package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshgate/iotbroker/cache"
)

type fakeDelivery struct {
	delivered []cache.ForwardMessage
	targets   []string
}

func (f *fakeDelivery) DeliverLocal(targetClientID string, fm cache.ForwardMessage) {
	f.targets = append(f.targets, targetClientID)
	f.delivered = append(f.delivered, fm)
}

func newTestScheduler() (*Scheduler, *fakeDelivery, *clock) {
	fd := &fakeDelivery{}
	s := New(fd, nil)
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s.now = c.Now
	return s, fd, c
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCreateScheduledRequiresExecuteAt(t *testing.T) {
	s, _, _ := newTestScheduler()
	_, err := s.Create(CreateOptions{TargetClientID: "cid_a", Mode: ModeScheduled})
	require.ErrorIs(t, err, ErrMissingParameter)
}

func TestCreateCountdownComputesExecuteAt(t *testing.T) {
	s, _, c := newTestScheduler()
	task, err := s.Create(CreateOptions{TargetClientID: "cid_a", Mode: ModeCountdown, Countdown: 2})
	require.NoError(t, err)
	require.Equal(t, c.t.Add(2*time.Second), task.ExecuteAt)
}

func TestCreateRecurringDefaultsExecuteAtFromInterval(t *testing.T) {
	s, _, c := newTestScheduler()
	task, err := s.Create(CreateOptions{TargetClientID: "cid_a", Mode: ModeRecurring, Interval: 5})
	require.NoError(t, err)
	require.Equal(t, int64(5000), task.IntervalMS)
	require.Equal(t, c.t.Add(5*time.Second), task.ExecuteAt)
}

func TestCreateRejectsInvalidMode(t *testing.T) {
	s, _, _ := newTestScheduler()
	_, err := s.Create(CreateOptions{TargetClientID: "cid_a", Mode: "bogus"})
	require.ErrorIs(t, err, ErrInvalidMode)
}

func TestTickFiresDueCountdownTaskAndRemovesIt(t *testing.T) {
	s, fd, c := newTestScheduler()
	task, err := s.Create(CreateOptions{
		TargetClientID: "cid_a", Mode: ModeCountdown, Countdown: 1,
		Command: map[string]any{"op": "noop"},
	})
	require.NoError(t, err)

	c.Advance(2 * time.Second)
	s.tick()

	require.Len(t, fd.delivered, 1)
	require.Equal(t, "cid_a", fd.targets[0])
	require.Equal(t, schedulerSender, fd.delivered[0].FromDevice)

	_, ok := s.Get(task.ID)
	require.False(t, ok, "countdown task must be removed after firing")
}

func TestTickReschedulesRecurringTask(t *testing.T) {
	s, fd, c := newTestScheduler()
	task, err := s.Create(CreateOptions{TargetClientID: "cid_a", Mode: ModeRecurring, Interval: 1})
	require.NoError(t, err)
	firstExecuteAt := task.ExecuteAt

	c.Advance(2 * time.Second)
	s.tick()
	require.Len(t, fd.delivered, 1)

	again, ok := s.Get(task.ID)
	require.True(t, ok, "recurring task must survive firing")
	require.True(t, again.ExecuteAt.After(firstExecuteAt))
	require.NotNil(t, again.LastExecutedAt)
}

func TestUpdateCountdownWithoutCountdownLeavesExecuteAtUnchanged(t *testing.T) {
	s, _, _ := newTestScheduler()
	task, err := s.Create(CreateOptions{TargetClientID: "cid_a", Mode: ModeCountdown, Countdown: 10})
	require.NoError(t, err)
	before := task.ExecuteAt

	updated, err := s.Update(task.ID, UpdateOptions{HasCommand: true, Command: map[string]any{"op": "noop2"}})
	require.NoError(t, err)
	require.Equal(t, before, updated.ExecuteAt)
	require.Equal(t, map[string]any{"op": "noop2"}, updated.Command)
}

func TestUpdateSwitchingToRecurringWithoutIntervalFails(t *testing.T) {
	s, _, _ := newTestScheduler()
	task, err := s.Create(CreateOptions{TargetClientID: "cid_a", Mode: ModeScheduled, ExecuteAt: ptrTime(time.Now().Add(time.Hour))})
	require.NoError(t, err)

	recurring := ModeRecurring
	_, err = s.Update(task.ID, UpdateOptions{Mode: &recurring})
	require.ErrorIs(t, err, ErrMissingParameter)
}

func TestListFiltersByTarget(t *testing.T) {
	s, _, _ := newTestScheduler()
	_, err := s.Create(CreateOptions{TargetClientID: "cid_a", Mode: ModeCountdown, Countdown: 5})
	require.NoError(t, err)
	_, err = s.Create(CreateOptions{TargetClientID: "cid_b", Mode: ModeCountdown, Countdown: 5})
	require.NoError(t, err)

	require.Len(t, s.List("cid_a"), 1)
	require.Len(t, s.List(""), 2)
}

func TestCancelRemovesTask(t *testing.T) {
	s, _, _ := newTestScheduler()
	task, err := s.Create(CreateOptions{TargetClientID: "cid_a", Mode: ModeCountdown, Countdown: 5})
	require.NoError(t, err)

	require.NoError(t, s.Cancel(task.ID))
	_, ok := s.Get(task.ID)
	require.False(t, ok)

	require.ErrorIs(t, s.Cancel(task.ID), ErrNotFound)
}

func ptrTime(t time.Time) *time.Time { return &t }
