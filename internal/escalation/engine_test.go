package escalation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clientops/replywatch/internal/calendar"
	"github.com/clientops/replywatch/internal/models"
	"github.com/clientops/replywatch/internal/scheduler"
	"github.com/clientops/replywatch/internal/storage"
)

var msk = time.FixedZone("MSK", 3*60*60)

const (
	superOwnerID  = int64(1)
	chatOwnerID   = int64(42)
	testConvID    = "-100200300"
	testChatTitle = "Acme / Geo campaign"
)

type scheduledCheck struct {
	args  scheduler.CheckArgs
	runAt time.Time
}

type fakeScheduler struct {
	scheduled []scheduledCheck
}

func (f *fakeScheduler) ScheduleCheck(ctx context.Context, args scheduler.CheckArgs, runAt time.Time) error {
	f.scheduled = append(f.scheduled, scheduledCheck{args: args, runAt: runAt})
	return nil
}

type sentNotification struct {
	recipientID int64
	text        string
}

type fakeNotifier struct {
	sent []sentNotification
	fail bool
}

func (f *fakeNotifier) Send(ctx context.Context, recipientID int64, text string) bool {
	f.sent = append(f.sent, sentNotification{recipientID: recipientID, text: text})
	return !f.fail
}

type fakeSuggester struct {
	calls int
	err   error
}

func (f *fakeSuggester) Suggest(ctx context.Context, text, conversationContext string) (string, []string, error) {
	f.calls++
	if f.err != nil {
		return "", nil, f.err
	}
	return "Draft reply for the client", []string{"check the campaign", "answer in the chat"}, nil
}

type fixture struct {
	store     *storage.MemoryStore
	sched     *fakeScheduler
	notifier  *fakeNotifier
	suggester *fakeSuggester
	engine    *Engine
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()

	cal, err := calendar.New(msk, "10:00", "19:00", nil)
	require.NoError(t, err)

	f := &fixture{
		store:     storage.NewMemoryStore(),
		sched:     &fakeScheduler{},
		notifier:  &fakeNotifier{},
		suggester: &fakeSuggester{},
	}
	f.engine = NewEngine(f.store, f.store, f.suggester, f.notifier, f.sched, cal,
		Config{
			Delays:  []time.Duration{15 * time.Minute, 30 * time.Minute, time.Hour},
			OwnerID: superOwnerID,
		}, zap.NewNop())
	f.engine.Now = func() time.Time { return now }
	return f
}

func (f *fixture) setNow(now time.Time) {
	f.engine.Now = func() time.Time { return now }
}

func (f *fixture) logClientMessage(t *testing.T, seq int64, sentAt time.Time) *models.LoggedMessage {
	t.Helper()
	msg := &models.LoggedMessage{
		ConversationID:   testConvID,
		ConversationName: testChatTitle,
		SequenceID:       seq,
		AuthorID:         777,
		AuthorName:       "Client Kate",
		AuthorKind:       models.AuthorOther,
		Text:             "When will the report be ready?",
		SentAt:           sentAt,
	}
	outcome, err := f.store.LogMessage(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, storage.Inserted, outcome)
	return msg
}

func (f *fixture) logResponsibleReply(t *testing.T, seq int64, sentAt time.Time) {
	t.Helper()
	msg := &models.LoggedMessage{
		ConversationID: testConvID,
		SequenceID:     seq,
		AuthorID:       chatOwnerID,
		AuthorName:     "Manager Nat",
		AuthorKind:     models.AuthorResponsible,
		Text:           "On it, sending within the hour",
		SentAt:         sentAt,
	}
	outcome, err := f.store.LogMessage(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, storage.Inserted, outcome)
}

func (f *fixture) startLadder(t *testing.T, msg *models.LoggedMessage) scheduler.CheckArgs {
	t.Helper()
	needsReply := true
	msg.NeedsReply = &needsReply
	require.NoError(t, f.engine.ScheduleFirstCheck(context.Background(), msg))
	require.Len(t, f.sched.scheduled, 1)
	return f.sched.scheduled[0].args
}

func TestScheduleFirstCheckInsideBusinessHours(t *testing.T) {
	sentAt := time.Date(2025, 6, 2, 14, 0, 0, 0, msk) // Monday
	f := newFixture(t, sentAt)
	msg := f.logClientMessage(t, 100, sentAt)

	f.startLadder(t, msg)

	want := sentAt.Add(15 * time.Minute)
	assert.True(t, f.sched.scheduled[0].runAt.Equal(want))
	assert.Equal(t, 0, f.sched.scheduled[0].args.Attempt)
	assert.Equal(t, int64(100), f.sched.scheduled[0].args.OriginSequenceID)

	stored, err := f.store.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, stored.Status)
	require.NotNil(t, stored.PendingUntil)
	assert.True(t, stored.PendingUntil.Equal(want))
}

func TestScheduleFirstCheckReanchorsPastClosing(t *testing.T) {
	// Friday 18:50 + 15m lands at 19:05, outside [10:00, 19:00).
	sentAt := time.Date(2025, 6, 6, 18, 50, 0, 0, msk)
	f := newFixture(t, sentAt)
	msg := f.logClientMessage(t, 100, sentAt)

	f.startLadder(t, msg)

	monday := time.Date(2025, 6, 9, 10, 0, 0, 0, msk)
	assert.True(t, f.sched.scheduled[0].runAt.Equal(monday),
		"got %v, want %v", f.sched.scheduled[0].runAt, monday)
}

func TestScheduleFirstCheckRequiresClassification(t *testing.T) {
	sentAt := time.Date(2025, 6, 2, 14, 0, 0, 0, msk)
	f := newFixture(t, sentAt)
	msg := f.logClientMessage(t, 100, sentAt)

	err := f.engine.ScheduleFirstCheck(context.Background(), msg)
	assert.Error(t, err)
	assert.Empty(t, f.sched.scheduled)
}

func TestRunCheckClosesOnResponsibleReply(t *testing.T) {
	sentAt := time.Date(2025, 6, 2, 14, 0, 0, 0, msk)
	f := newFixture(t, sentAt)
	msg := f.logClientMessage(t, 100, sentAt)
	args := f.startLadder(t, msg)

	f.logResponsibleReply(t, 105, sentAt.Add(5*time.Minute))
	f.setNow(sentAt.Add(15 * time.Minute))

	require.NoError(t, f.engine.RunCheck(context.Background(), args))

	stored, err := f.store.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAnswered, stored.Status)
	assert.Equal(t, int64(105), stored.ResolutionSequenceID)
	assert.Equal(t, "Manager Nat", stored.ResolvedBy)
	assert.Nil(t, stored.PendingUntil)

	assert.Empty(t, f.notifier.sent)
	assert.Len(t, f.sched.scheduled, 1, "no further attempt scheduled")
}

func TestRunCheckPicksEarliestReplyByOrdinal(t *testing.T) {
	sentAt := time.Date(2025, 6, 2, 14, 0, 0, 0, msk)
	f := newFixture(t, sentAt)
	msg := f.logClientMessage(t, 100, sentAt)
	args := f.startLadder(t, msg)

	// The later ordinal carries an earlier wall-clock time; ordinals win.
	f.logResponsibleReply(t, 110, sentAt.Add(10*time.Minute))
	f.logResponsibleReply(t, 103, sentAt.Add(12*time.Minute))
	f.setNow(sentAt.Add(15 * time.Minute))

	require.NoError(t, f.engine.RunCheck(context.Background(), args))

	stored, err := f.store.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(103), stored.ResolutionSequenceID)
}

func TestRunCheckNotifiesAndSchedulesNextFromSentAt(t *testing.T) {
	sentAt := time.Date(2025, 6, 2, 14, 0, 0, 0, msk)
	f := newFixture(t, sentAt)
	msg := f.logClientMessage(t, 100, sentAt)
	args := f.startLadder(t, msg)

	// The check fires five minutes late; the ladder still anchors to the
	// original SentAt, not to the firing time.
	f.setNow(sentAt.Add(20 * time.Minute))

	require.NoError(t, f.engine.RunCheck(context.Background(), args))

	require.Len(t, f.sched.scheduled, 2)
	next := f.sched.scheduled[1]
	assert.Equal(t, 1, next.args.Attempt)
	assert.True(t, next.runAt.Equal(sentAt.Add(30*time.Minute)),
		"got %v, want %v", next.runAt, sentAt.Add(30*time.Minute))

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, superOwnerID, f.notifier.sent[0].recipientID)
	assert.Contains(t, f.notifier.sent[0].text, testChatTitle)
	assert.Contains(t, f.notifier.sent[0].text, "15 minutes")
	assert.Contains(t, f.notifier.sent[0].text, "Draft reply for the client")
	assert.Equal(t, 1, f.suggester.calls)

	stored, err := f.store.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, stored.Status)
	require.NotNil(t, stored.PendingUntil)
	assert.True(t, stored.PendingUntil.Equal(next.runAt))
}

func TestRunCheckNotifiesChatOwnerToo(t *testing.T) {
	sentAt := time.Date(2025, 6, 2, 14, 0, 0, 0, msk)
	f := newFixture(t, sentAt)
	require.NoError(t, f.store.Upsert(context.Background(), &models.ChatOwner{
		ConversationID:  testConvID,
		ResponsibleID:   chatOwnerID,
		ResponsibleName: "Manager Nat",
		AssignedAt:      sentAt,
	}))

	msg := f.logClientMessage(t, 100, sentAt)
	args := f.startLadder(t, msg)
	f.setNow(sentAt.Add(15 * time.Minute))

	require.NoError(t, f.engine.RunCheck(context.Background(), args))

	require.Len(t, f.notifier.sent, 2)
	assert.Equal(t, superOwnerID, f.notifier.sent[0].recipientID)
	assert.Equal(t, chatOwnerID, f.notifier.sent[1].recipientID)
}

func TestRunCheckSkipsDuplicateOwnerNotification(t *testing.T) {
	sentAt := time.Date(2025, 6, 2, 14, 0, 0, 0, msk)
	f := newFixture(t, sentAt)
	require.NoError(t, f.store.Upsert(context.Background(), &models.ChatOwner{
		ConversationID: testConvID,
		ResponsibleID:  superOwnerID,
		AssignedAt:     sentAt,
	}))

	msg := f.logClientMessage(t, 100, sentAt)
	args := f.startLadder(t, msg)
	f.setNow(sentAt.Add(15 * time.Minute))

	require.NoError(t, f.engine.RunCheck(context.Background(), args))
	assert.Len(t, f.notifier.sent, 1)
}

func TestRunCheckSuggestsOnlyOnFirstAttempt(t *testing.T) {
	sentAt := time.Date(2025, 6, 2, 14, 0, 0, 0, msk)
	f := newFixture(t, sentAt)
	msg := f.logClientMessage(t, 100, sentAt)
	args := f.startLadder(t, msg)

	f.setNow(sentAt.Add(15 * time.Minute))
	require.NoError(t, f.engine.RunCheck(context.Background(), args))
	require.Len(t, f.sched.scheduled, 2)

	f.setNow(sentAt.Add(30 * time.Minute))
	require.NoError(t, f.engine.RunCheck(context.Background(), f.sched.scheduled[1].args))

	assert.Equal(t, 1, f.suggester.calls)
	require.Len(t, f.notifier.sent, 2)
	assert.Contains(t, f.notifier.sent[1].text, "30 minutes")
	assert.NotContains(t, f.notifier.sent[1].text, "Draft reply")
}

func TestRunCheckSuggestionFailureStillNotifies(t *testing.T) {
	sentAt := time.Date(2025, 6, 2, 14, 0, 0, 0, msk)
	f := newFixture(t, sentAt)
	f.suggester.err = errors.New("model unavailable")
	msg := f.logClientMessage(t, 100, sentAt)
	args := f.startLadder(t, msg)
	f.setNow(sentAt.Add(15 * time.Minute))

	require.NoError(t, f.engine.RunCheck(context.Background(), args))

	require.Len(t, f.notifier.sent, 1)
	assert.NotContains(t, f.notifier.sent[0].text, "Suggested reply")
	assert.Len(t, f.sched.scheduled, 2, "state still advances")
}

func TestRunCheckNotificationFailureStillAdvances(t *testing.T) {
	sentAt := time.Date(2025, 6, 2, 14, 0, 0, 0, msk)
	f := newFixture(t, sentAt)
	f.notifier.fail = true
	msg := f.logClientMessage(t, 100, sentAt)
	args := f.startLadder(t, msg)
	f.setNow(sentAt.Add(15 * time.Minute))

	require.NoError(t, f.engine.RunCheck(context.Background(), args))

	require.Len(t, f.sched.scheduled, 2)
	stored, err := f.store.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, stored.Status)
}

func TestRunCheckOutsideBusinessHoursMovesSameAttempt(t *testing.T) {
	sentAt := time.Date(2025, 6, 6, 18, 30, 0, 0, msk) // Friday
	f := newFixture(t, sentAt)
	msg := f.logClientMessage(t, 100, sentAt)
	args := f.startLadder(t, msg)

	// Wakes up on Saturday because of a missed fire.
	f.setNow(time.Date(2025, 6, 7, 12, 0, 0, 0, msk))

	require.NoError(t, f.engine.RunCheck(context.Background(), args))

	require.Len(t, f.sched.scheduled, 2)
	moved := f.sched.scheduled[1]
	assert.Equal(t, 0, moved.args.Attempt, "same attempt, no ladder advance")
	monday := time.Date(2025, 6, 9, 10, 0, 0, 0, msk)
	assert.True(t, moved.runAt.Equal(monday))

	assert.Empty(t, f.notifier.sent)
	assert.Equal(t, 0, f.suggester.calls)
}

func TestRunCheckFinalAttemptEscalates(t *testing.T) {
	sentAt := time.Date(2025, 6, 2, 14, 0, 0, 0, msk)
	f := newFixture(t, sentAt)
	msg := f.logClientMessage(t, 100, sentAt)
	args := f.startLadder(t, msg)
	args.Attempt = 2
	f.setNow(sentAt.Add(time.Hour))

	require.NoError(t, f.engine.RunCheck(context.Background(), args))

	stored, err := f.store.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEscalated, stored.Status)
	assert.Nil(t, stored.PendingUntil)
	assert.Len(t, f.sched.scheduled, 1, "no further job scheduled")
	require.Len(t, f.notifier.sent, 1)
	assert.Contains(t, f.notifier.sent[0].text, "1 hour")
}

func TestRunCheckIdempotentOnTerminalStatus(t *testing.T) {
	sentAt := time.Date(2025, 6, 2, 14, 0, 0, 0, msk)
	f := newFixture(t, sentAt)
	msg := f.logClientMessage(t, 100, sentAt)
	args := f.startLadder(t, msg)

	f.logResponsibleReply(t, 105, sentAt.Add(5*time.Minute))
	f.setNow(sentAt.Add(15 * time.Minute))

	require.NoError(t, f.engine.RunCheck(context.Background(), args))
	before, err := f.store.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)

	// Duplicate firing of the same attempt.
	require.NoError(t, f.engine.RunCheck(context.Background(), args))

	after, err := f.store.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, f.notifier.sent)
	assert.Len(t, f.sched.scheduled, 1)
}

func TestRunCheckMissingMessageIsNoOp(t *testing.T) {
	f := newFixture(t, time.Date(2025, 6, 2, 14, 0, 0, 0, msk))

	err := f.engine.RunCheck(context.Background(), scheduler.CheckArgs{
		MessageID:        "gone",
		ConversationID:   testConvID,
		OriginSequenceID: 1,
	})
	assert.NoError(t, err)
	assert.Empty(t, f.notifier.sent)
	assert.Empty(t, f.sched.scheduled)
}

func TestFullLadderEndsEscalated(t *testing.T) {
	sentAt := time.Date(2025, 6, 2, 14, 0, 0, 0, msk)
	f := newFixture(t, sentAt)
	msg := f.logClientMessage(t, 100, sentAt)
	f.startLadder(t, msg)

	wantTimes := []time.Time{
		sentAt.Add(15 * time.Minute),
		sentAt.Add(30 * time.Minute),
		sentAt.Add(time.Hour),
	}

	for i := 0; i < 3; i++ {
		check := f.sched.scheduled[i]
		assert.Equal(t, i, check.args.Attempt)
		assert.True(t, check.runAt.Equal(wantTimes[i]),
			"attempt %d: got %v, want %v", i, check.runAt, wantTimes[i])

		f.setNow(check.runAt)
		require.NoError(t, f.engine.RunCheck(context.Background(), check.args))
	}

	stored, err := f.store.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEscalated, stored.Status)
	assert.Len(t, f.sched.scheduled, 3)
	assert.Len(t, f.notifier.sent, 3)
	assert.Equal(t, 1, f.suggester.calls)
}

func TestHumanizeDelay(t *testing.T) {
	assert.Equal(t, "15 minutes", humanizeDelay(15*time.Minute))
	assert.Equal(t, "30 minutes", humanizeDelay(30*time.Minute))
	assert.Equal(t, "1 hour", humanizeDelay(time.Hour))
	assert.Equal(t, "2 hours", humanizeDelay(2*time.Hour))
	assert.Equal(t, "90 minutes", humanizeDelay(90*time.Minute))
}
