// Package escalation implements the reminder state machine that tracks an
// inbound client message from logged through waiting to answered or
// escalated.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clientops/replywatch/internal/calendar"
	"github.com/clientops/replywatch/internal/classifier"
	"github.com/clientops/replywatch/internal/models"
	"github.com/clientops/replywatch/internal/notify"
	"github.com/clientops/replywatch/internal/scheduler"
	"github.com/clientops/replywatch/internal/storage"
)

const contextLimit = 5

// Config carries the reminder ladder and the super-owner who receives every
// notification.
type Config struct {
	// Delays are measured from the original message's SentAt, never from a
	// prior check's firing time.
	Delays  []time.Duration
	OwnerID int64
}

// Engine decides, at each scheduled check, whether to close a waiting
// message, remind again, or escalate. All collaborators are injected; Now is
// replaceable for tests.
type Engine struct {
	ledger    storage.Ledger
	owners    storage.Owners
	suggester classifier.Suggester
	notifier  notify.Notifier
	sched     scheduler.Scheduler
	cal       *calendar.Calendar
	cfg       Config
	logger    *zap.Logger

	Now func() time.Time
}

func NewEngine(
	ledger storage.Ledger,
	owners storage.Owners,
	suggester classifier.Suggester,
	notifier notify.Notifier,
	sched scheduler.Scheduler,
	cal *calendar.Calendar,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		ledger:    ledger,
		owners:    owners,
		suggester: suggester,
		notifier:  notifier,
		sched:     sched,
		cal:       cal,
		cfg:       cfg,
		logger:    logger,
		Now:       time.Now,
	}
}

// SetScheduler injects the scheduler after construction. The durable
// scheduler's workers need the engine, so the two are wired in two steps.
func (e *Engine) SetScheduler(sched scheduler.Scheduler) { e.sched = sched }

// ScheduleFirstCheck moves a freshly classified message into waiting and
// enqueues the first reminder check at SentAt + delays[0], pushed forward to
// the next business start when that instant falls outside working hours.
func (e *Engine) ScheduleFirstCheck(ctx context.Context, msg *models.LoggedMessage) error {
	if msg.Status != models.StatusLogged {
		return fmt.Errorf("message %s is %s, expected logged", msg.ID, msg.Status)
	}
	if msg.NeedsReply == nil || !*msg.NeedsReply {
		return fmt.Errorf("message %s is not classified as needing a reply", msg.ID)
	}

	runAt := e.anchor(msg.SentAt.Add(e.cfg.Delays[0]))

	if err := e.ledger.MarkWaiting(ctx, msg.ID, true, runAt); err != nil {
		return fmt.Errorf("failed to mark message waiting: %w", err)
	}

	args := scheduler.CheckArgs{
		MessageID:        msg.ID,
		ConversationID:   msg.ConversationID,
		OriginSequenceID: msg.SequenceID,
		Attempt:          0,
	}
	if err := e.sched.ScheduleCheck(ctx, args, runAt); err != nil {
		return fmt.Errorf("failed to schedule first check: %w", err)
	}

	e.logger.Info("First reminder scheduled",
		zap.String("message_id", msg.ID),
		zap.Time("run_at", runAt))
	return nil
}

// RunCheck is invoked by the scheduler at or after the pending time. It is
// idempotent: a duplicate or late firing against a terminal message is a
// no-op, which is also the system's cancellation mechanism.
func (e *Engine) RunCheck(ctx context.Context, args scheduler.CheckArgs) error {
	msg, err := e.ledger.GetMessage(ctx, args.MessageID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load message: %w", err)
	}
	if msg.Status.Terminal() {
		return nil
	}

	now := e.Now()

	// Woke up outside business hours: move this same attempt forward, no
	// ladder advance.
	if !e.cal.IsBusinessTime(now) {
		runAt := e.cal.NextBusinessStart(now)
		if err := e.sched.ScheduleCheck(ctx, args, runAt); err != nil {
			return fmt.Errorf("failed to reschedule check: %w", err)
		}
		e.logger.Info("Outside business hours, check moved",
			zap.String("message_id", args.MessageID),
			zap.Int("attempt", args.Attempt),
			zap.Time("run_at", runAt))
		return nil
	}

	reply, err := e.ledger.FirstResponsibleReplyAfter(ctx, args.ConversationID, args.OriginSequenceID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to look for a reply: %w", err)
	}
	if reply != nil {
		res := models.Resolution{
			ResolvedBy:           reply.AuthorName,
			ResolutionSequenceID: reply.SequenceID,
			ResolutionText:       reply.Text,
			ResolvedAt:           now,
		}
		if err := e.ledger.MarkAnswered(ctx, args.MessageID, res); err != nil {
			return fmt.Errorf("failed to mark message answered: %w", err)
		}
		e.logger.Info("Reply found, message closed",
			zap.String("message_id", args.MessageID),
			zap.Int64("resolution_sequence_id", reply.SequenceID))
		return nil
	}

	e.notifyUnanswered(ctx, msg, args.Attempt)

	nextAttempt := args.Attempt + 1
	if nextAttempt < len(e.cfg.Delays) {
		runAt := e.anchor(msg.SentAt.Add(e.cfg.Delays[nextAttempt]))

		if err := e.ledger.MarkWaiting(ctx, msg.ID, true, runAt); err != nil {
			return fmt.Errorf("failed to update pending time: %w", err)
		}

		next := scheduler.CheckArgs{
			MessageID:        args.MessageID,
			ConversationID:   args.ConversationID,
			OriginSequenceID: args.OriginSequenceID,
			Attempt:          nextAttempt,
		}
		if err := e.sched.ScheduleCheck(ctx, next, runAt); err != nil {
			return fmt.Errorf("failed to schedule next check: %w", err)
		}

		e.logger.Info("Next reminder scheduled",
			zap.String("message_id", msg.ID),
			zap.Int("attempt", nextAttempt),
			zap.Time("run_at", runAt))
		return nil
	}

	if err := e.ledger.MarkEscalated(ctx, msg.ID); err != nil {
		return fmt.Errorf("failed to mark message escalated: %w", err)
	}
	e.logger.Info("Reminder ladder exhausted, message escalated",
		zap.String("message_id", msg.ID))
	return nil
}

// anchor pushes t to the next business start when it falls outside working
// hours.
func (e *Engine) anchor(t time.Time) time.Time {
	if e.cal.IsBusinessTime(t) {
		return t
	}
	return e.cal.NextBusinessStart(t)
}

// notifyUnanswered fans a reminder out to the super-owner and, when one is
// registered and different, the conversation's responsible owner. Delivery
// is best-effort: failures are recorded by the notifier and never block the
// state transition.
func (e *Engine) notifyUnanswered(ctx context.Context, msg *models.LoggedMessage, attempt int) {
	label := humanizeDelay(e.cfg.Delays[min(attempt, len(e.cfg.Delays)-1)])

	var b strings.Builder
	fmt.Fprintf(&b, "⏰ Reminder (%s)\n\n", label)
	fmt.Fprintf(&b, "Chat: %s\n", msg.ConversationName)
	fmt.Fprintf(&b, "From: %s\n", msg.AuthorName)
	fmt.Fprintf(&b, "Message: %s\n", msg.Text)
	fmt.Fprintf(&b, "Key: %s\n", msg.ThreadKey())

	// The first nudge also offers actionable help.
	if attempt == 0 {
		convContext := ConversationContext(ctx, e.ledger, msg.ConversationID, msg.SequenceID, contextLimit)
		reply, tasks, err := e.suggester.Suggest(ctx, msg.Text, convContext)
		if err != nil {
			e.logger.Error("Failed to generate suggestion",
				zap.Error(err),
				zap.String("message_id", msg.ID))
		} else {
			fmt.Fprintf(&b, "\nSuggested reply:\n%s\n", reply)
			if len(tasks) > 0 {
				b.WriteString("\nTasks:\n")
				for i, task := range tasks {
					fmt.Fprintf(&b, "%d. %s\n", i+1, task)
				}
			}
		}
	}

	text := b.String()

	e.notifier.Send(ctx, e.cfg.OwnerID, text)

	owner, err := e.owners.Get(ctx, msg.ConversationID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			e.logger.Error("Failed to look up chat owner",
				zap.Error(err),
				zap.String("conversation_id", msg.ConversationID))
		}
		return
	}
	if owner.ResponsibleID != e.cfg.OwnerID {
		e.notifier.Send(ctx, owner.ResponsibleID, text)
	}
}

// ConversationContext renders the most recent ledger messages before the
// given ordinal as a plain-text transcript for the AI collaborators.
func ConversationContext(ctx context.Context, ledger storage.Ledger, conversationID string, beforeSeq int64, limit int) string {
	messages, err := ledger.RecentMessages(ctx, conversationID, beforeSeq, limit)
	if err != nil || len(messages) == 0 {
		return ""
	}

	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		role := "Client"
		if msg.AuthorKind == models.AuthorResponsible {
			role = "Manager"
		}
		lines = append(lines, fmt.Sprintf("%s (%s): %s", role, msg.AuthorName, msg.Text))
	}
	return strings.Join(lines, "\n")
}

func humanizeDelay(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		hours := int(d / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return fmt.Sprintf("%d minutes", int(d/time.Minute))
}
