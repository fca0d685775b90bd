package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"habitloop/internal/models"
	"habitloop/internal/store"
)

type fakeReminderStore struct {
	reminders map[string]models.Reminder
	tasks     map[string]models.Task
	fired     map[string]bool
}

func (f *fakeReminderStore) GetReminder(ctx context.Context, id string) (models.Reminder, error) {
	r, ok := f.reminders[id]
	if !ok {
		return models.Reminder{}, store.ErrNotFound
	}
	return r, nil
}

func (f *fakeReminderStore) GetTask(ctx context.Context, id string) (models.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return models.Task{}, store.ErrNotFound
	}
	return t, nil
}

func (f *fakeReminderStore) MarkReminderFired(ctx context.Context, id string) (bool, error) {
	if f.fired[id] {
		return false, nil
	}
	f.fired[id] = true
	return true, nil
}

type recordingNotifier struct {
	delivered []string
}

func (n *recordingNotifier) Deliver(ctx context.Context, userID, message string) error {
	n.delivered = append(n.delivered, userID+": "+message)
	return nil
}

func reminderJob(reminderID string) models.Job {
	return models.Job{ID: "job-1", Type: models.JobReminderFire, MaxAttempts: 3,
		Payload: map[string]any{"reminder_id": reminderID}}
}

func TestReminderFiresWhenDue(t *testing.T) {
	st := &fakeReminderStore{
		reminders: map[string]models.Reminder{
			"r1": {ID: "r1", TaskID: "t1", UserID: "u1", Message: "water the plants",
				TriggerAt: time.Now().Add(-time.Minute)},
		},
		tasks: map[string]models.Task{"t1": {ID: "t1", UserID: "u1"}},
		fired: map[string]bool{},
	}
	n := &recordingNotifier{}
	h := NewReminderHandler(st, n, time.Second, zap.NewNop())

	require.NoError(t, h.Handle(context.Background(), reminderJob("r1")))
	assert.Len(t, n.delivered, 1)
	assert.True(t, st.fired["r1"])
}

// A reminder processed ahead of its trigger time defers to that
// instant instead of failing, so nothing is delivered early and no
// retry budget is spent.
func TestReminderNotDueDefersToTriggerTime(t *testing.T) {
	trigger := time.Now().Add(time.Hour).UTC()
	st := &fakeReminderStore{
		reminders: map[string]models.Reminder{
			"r1": {ID: "r1", TaskID: "t1", UserID: "u1", TriggerAt: trigger},
		},
		tasks: map[string]models.Task{"t1": {ID: "t1", UserID: "u1"}},
		fired: map[string]bool{},
	}
	n := &recordingNotifier{}
	h := NewReminderHandler(st, n, time.Second, zap.NewNop())

	err := h.Handle(context.Background(), reminderJob("r1"))
	require.Error(t, err)
	at, deferred := retryAt(err)
	require.True(t, deferred, "early reminder must carry a deferral instant")
	assert.True(t, at.Equal(trigger))
	assert.Empty(t, n.delivered)
	assert.False(t, st.fired["r1"])
}

// Enqueued reminder for an already-completed task: the job succeeds as
// a no-op, the reminder stays unfired, and nothing is delivered.
func TestReminderSkipsCompletedTask(t *testing.T) {
	st := &fakeReminderStore{
		reminders: map[string]models.Reminder{
			"r1": {ID: "r1", TaskID: "t1", UserID: "u1", TriggerAt: time.Now().Add(-time.Minute)},
		},
		tasks: map[string]models.Task{"t1": {ID: "t1", UserID: "u1", Completed: true}},
		fired: map[string]bool{},
	}
	n := &recordingNotifier{}
	h := NewReminderHandler(st, n, time.Second, zap.NewNop())

	require.NoError(t, h.Handle(context.Background(), reminderJob("r1")))
	assert.Empty(t, n.delivered)
	assert.False(t, st.fired["r1"])
}

func TestReminderAlreadyFiredIsNoOp(t *testing.T) {
	st := &fakeReminderStore{
		reminders: map[string]models.Reminder{
			"r1": {ID: "r1", TaskID: "t1", UserID: "u1", Fired: true,
				TriggerAt: time.Now().Add(-time.Minute)},
		},
		tasks: map[string]models.Task{"t1": {ID: "t1"}},
		fired: map[string]bool{},
	}
	n := &recordingNotifier{}
	h := NewReminderHandler(st, n, time.Second, zap.NewNop())

	require.NoError(t, h.Handle(context.Background(), reminderJob("r1")))
	assert.Empty(t, n.delivered, "retry must not deliver twice")
}

func TestReminderDeletedSkips(t *testing.T) {
	st := &fakeReminderStore{reminders: map[string]models.Reminder{}, tasks: map[string]models.Task{}, fired: map[string]bool{}}
	h := NewReminderHandler(st, &recordingNotifier{}, time.Second, zap.NewNop())
	require.NoError(t, h.Handle(context.Background(), reminderJob("gone")))
}

func TestReminderMissingPayloadIsFatal(t *testing.T) {
	st := &fakeReminderStore{}
	h := NewReminderHandler(st, &recordingNotifier{}, time.Second, zap.NewNop())
	err := h.Handle(context.Background(), models.Job{Type: models.JobReminderFire, Payload: map[string]any{}})
	assert.True(t, IsFatal(err))
}

type fakeRecurringStore struct {
	tasks     map[string]models.Task
	templates map[string]models.RecurringTemplate
	generated []time.Time
}

func (f *fakeRecurringStore) GetTask(ctx context.Context, id string) (models.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return models.Task{}, store.ErrNotFound
	}
	return t, nil
}

func (f *fakeRecurringStore) GetTemplate(ctx context.Context, id string) (models.RecurringTemplate, error) {
	tpl, ok := f.templates[id]
	if !ok {
		return models.RecurringTemplate{}, store.ErrNotFound
	}
	return tpl, nil
}

func (f *fakeRecurringStore) GenerateOccurrence(ctx context.Context, tpl models.RecurringTemplate, next time.Time) (models.Task, bool, error) {
	current := f.templates[tpl.ID]
	if !current.LastOccurrence.Before(next) {
		return models.Task{}, false, nil
	}
	current.LastOccurrence = next
	f.templates[tpl.ID] = current
	f.generated = append(f.generated, next)
	return models.Task{ID: "generated", UserID: tpl.UserID, DueDate: &next}, true, nil
}

// At-least-once replay: handling the same completion twice produces
// exactly one new occurrence.
func TestRecurringReplayGeneratesOnce(t *testing.T) {
	st := &fakeRecurringStore{
		templates: map[string]models.RecurringTemplate{
			"tpl1": {ID: "tpl1", UserID: "u1", Frequency: models.FreqDaily, Interval: 1,
				LastOccurrence: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)},
		},
	}
	h := NewRecurringHandler(st, zap.NewNop())
	j := models.Job{Type: models.JobRecurringTaskGenerate, MaxAttempts: 3,
		Payload: map[string]any{"template_id": "tpl1"}}

	require.NoError(t, h.Handle(context.Background(), j))
	require.NoError(t, h.Handle(context.Background(), j))
	assert.Len(t, st.generated, 1, "replay must not regenerate the occurrence")
}

func TestRecurringTemplateGoneSkips(t *testing.T) {
	st := &fakeRecurringStore{templates: map[string]models.RecurringTemplate{}}
	h := NewRecurringHandler(st, zap.NewNop())
	j := models.Job{Type: models.JobRecurringTaskGenerate,
		Payload: map[string]any{"template_id": "gone"}}
	require.NoError(t, h.Handle(context.Background(), j))
	assert.Empty(t, st.generated)
}

func TestRecurringMissingPayloadIsFatal(t *testing.T) {
	h := NewRecurringHandler(&fakeRecurringStore{}, zap.NewNop())
	err := h.Handle(context.Background(), models.Job{Type: models.JobRecurringTaskGenerate, Payload: map[string]any{}})
	assert.True(t, IsFatal(err))
}

type fakeStreakStore struct {
	states map[string]models.StreakState
	users  []string
	saves  int
}

func (f *fakeStreakStore) GetStreak(ctx context.Context, userID string) (models.StreakState, error) {
	return f.states[userID], nil
}

func (f *fakeStreakStore) SaveStreak(ctx context.Context, st models.StreakState) error {
	f.states[st.UserID] = st
	f.saves++
	return nil
}

func (f *fakeStreakStore) UsersWithCompletionsOn(ctx context.Context, day string) ([]string, error) {
	return f.users, nil
}

func TestStreakHandlerIsIdempotentPerDay(t *testing.T) {
	st := &fakeStreakStore{states: map[string]models.StreakState{
		"u1": {UserID: "u1"},
	}}
	h := NewStreakHandler(st, zap.NewNop())
	j := models.Job{Type: models.JobStreakCalculate, MaxAttempts: 3,
		Payload: map[string]any{"user_id": "u1", "date": "2026-03-05"}}

	require.NoError(t, h.Handle(context.Background(), j))
	assert.Equal(t, 1, st.states["u1"].CurrentStreak)
	assert.Equal(t, 1, st.saves)

	// Same day again: guarded by last_completion_date, no write.
	require.NoError(t, h.Handle(context.Background(), j))
	assert.Equal(t, 1, st.states["u1"].CurrentStreak)
	assert.Equal(t, 1, st.saves)
}

func TestStreakHandlerSweepsAllUsers(t *testing.T) {
	st := &fakeStreakStore{
		states: map[string]models.StreakState{"u1": {UserID: "u1"}, "u2": {UserID: "u2"}},
		users:  []string{"u1", "u2"},
	}
	h := NewStreakHandler(st, zap.NewNop())
	j := models.Job{Type: models.JobStreakCalculate, MaxAttempts: 3,
		Payload: map[string]any{"date": "2026-03-05"}}

	require.NoError(t, h.Handle(context.Background(), j))
	assert.Equal(t, 1, st.states["u1"].CurrentStreak)
	assert.Equal(t, 1, st.states["u2"].CurrentStreak)
}

type countingSweeper struct {
	remaining int64
}

func (c *countingSweeper) ExpireCredits(ctx context.Context, now time.Time) (int64, error) {
	n := c.remaining
	c.remaining = 0
	return n, nil
}

func TestCreditExpireRunTwiceIsIdempotent(t *testing.T) {
	sweeper := &countingSweeper{remaining: 3}
	h := NewCreditExpireHandler(sweeper, zap.NewNop())
	j := models.Job{Type: models.JobCreditExpire, MaxAttempts: 3, Payload: map[string]any{}}

	require.NoError(t, h.Handle(context.Background(), j))
	require.NoError(t, h.Handle(context.Background(), j))
	assert.Zero(t, sweeper.remaining, "second sweep finds nothing left to expire")
}

func TestSubscriptionNextStatus(t *testing.T) {
	grace := 72 * time.Hour
	periodEnd := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sub := func(status string) models.Subscription {
		return models.Subscription{ID: "s1", Status: status, CurrentPeriodEnd: periodEnd}
	}

	cases := []struct {
		name   string
		sub    models.Subscription
		now    time.Time
		expect string
	}{
		{"active before period end stays", sub(models.SubscriptionActive), periodEnd.Add(-time.Hour), models.SubscriptionActive},
		{"active past period end enters grace", sub(models.SubscriptionActive), periodEnd.Add(time.Hour), models.SubscriptionGrace},
		{"active far past grace expires", sub(models.SubscriptionActive), periodEnd.Add(grace + time.Hour), models.SubscriptionExpired},
		{"grace within window holds", sub(models.SubscriptionGrace), periodEnd.Add(time.Hour), models.SubscriptionGrace},
		{"grace past window expires", sub(models.SubscriptionGrace), periodEnd.Add(grace + time.Hour), models.SubscriptionExpired},
		{"grace with payment recovers", sub(models.SubscriptionGrace), periodEnd.Add(-time.Hour), models.SubscriptionActive},
		{"expired stays expired", sub(models.SubscriptionExpired), periodEnd.Add(grace + time.Hour), models.SubscriptionExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, nextStatus(tc.sub, grace, tc.now))
		})
	}
}
