// Package jobs holds the proactive batch work: the daily inactivity nudge,
// the daily holiday greeting digest, and the commitment reminder sweep.
// Unlike the reactive reminder checks, the daily jobs consult the holiday
// table and stay silent on rest days.
package jobs

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
	"github.com/clientops/replywatch/internal/storage"
)

// Runner implements scheduler.PeriodicJobs.
type Runner struct {
	ledger      storage.Ledger
	owners      storage.Owners
	commitments storage.Commitments
	notifier    notify.Notifier
	greeter     classifier.Greeter
	cal         *calendar.Calendar
	ownerID     int64
	logger      *zap.Logger

	Now func() time.Time
}

func NewRunner(
	ledger storage.Ledger,
	owners storage.Owners,
	commitments storage.Commitments,
	notifier notify.Notifier,
	greeter classifier.Greeter,
	cal *calendar.Calendar,
	ownerID int64,
	logger *zap.Logger,
) *Runner {
	return &Runner{
		ledger:      ledger,
		owners:      owners,
		commitments: commitments,
		notifier:    notifier,
		greeter:     greeter,
		cal:         cal,
		ownerID:     ownerID,
		logger:      logger,
		Now:         time.Now,
	}
}

// RunInactivityCheck nudges the responsible owner of every conversation that
// has seen no message yet today. It does not run on weekends or holidays.
func (d *Runner) RunInactivityCheck(ctx context.Context) error {
	now := d.Now().In(d.cal.Location())

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		d.logger.Info("Weekend, skipping inactivity check")
		return nil
	}
	if name, ok := d.cal.HolidayName(now); ok {
		d.logger.Info("Holiday, skipping inactivity check", zap.String("holiday", name))
		return nil
	}

	chats, err := d.owners.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to list chat owners: %w", err)
	}
	if len(chats) == 0 {
		d.logger.Info("No chats to check")
		return nil
	}

	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, d.cal.Location())

	for _, chat := range chats {
		last, err := d.ledger.LastActivity(ctx, chat.ConversationID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			d.logger.Error("Failed to check chat activity",
				zap.Error(err),
				zap.String("conversation_id", chat.ConversationID))
			continue
		}
		if err == nil && !last.Before(todayStart) {
			continue
		}

		text := fmt.Sprintf("📢 %s: no messages yet today. Write the client an update on the work.",
			chat.ConversationName)

		d.notifier.Send(ctx, chat.ResponsibleID, text)
		if chat.ResponsibleID != d.ownerID {
			d.notifier.Send(ctx, d.ownerID, text)
		}
		d.logger.Info("Inactivity nudge sent",
			zap.String("conversation_id", chat.ConversationID),
			zap.Int64("responsible_id", chat.ResponsibleID))
	}
	return nil
}

// RunHolidayGreetings sends every responsible owner a digest of ready-to-send
// greetings for their chats when today is a holiday, plus a summary to the
// super-owner.
func (d *Runner) RunHolidayGreetings(ctx context.Context) error {
	now := d.Now().In(d.cal.Location())

	holiday, ok := d.cal.HolidayName(now)
	if !ok {
		return nil
	}
	d.logger.Info("Holiday today", zap.String("holiday", holiday))

	chats, err := d.owners.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to list chat owners: %w", err)
	}
	if len(chats) == 0 {
		return nil
	}

	byOwner := make(map[int64][]models.ChatOwner)
	for _, chat := range chats {
		byOwner[chat.ResponsibleID] = append(byOwner[chat.ResponsibleID], chat)
	}

	total := 0
	for responsibleID, ownerChats := range byOwner {
		var b strings.Builder
		fmt.Fprintf(&b, "🎊 Today is %s!\n\n", holiday)
		b.WriteString("A good moment to send the clients something warm. Ready texts below, copy and send:\n\n")

		for _, chat := range ownerChats {
			greeting, err := d.greeter.HolidayGreeting(ctx, holiday, chat.ConversationName)
			if err != nil {
				d.logger.Error("Failed to generate greeting",
					zap.Error(err),
					zap.String("conversation_id", chat.ConversationID))
				continue
			}
			fmt.Fprintf(&b, "📌 %s\n%s\n\n", chat.ConversationName, greeting)
			total++
		}

		d.notifier.Send(ctx, responsibleID, b.String())
	}

	summary := fmt.Sprintf("🎊 Happy %s!\n\nGreeting reminders went out to the team.\nChats covered: %d",
		holiday, total)
	d.notifier.Send(ctx, d.ownerID, summary)

	return nil
}

// RunCommitmentSweep delivers due commitment reminders to the responsible
// humans who made them. Outside business hours the sweep does nothing; due
// reminders stay pending and go out on the next working sweep.
func (d *Runner) RunCommitmentSweep(ctx context.Context) error {
	now := d.Now()

	if !d.cal.IsBusinessTime(now) {
		return nil
	}

	pending, err := d.commitments.PendingCommitments(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to list pending commitments: %w", err)
	}

	for _, c := range pending {
		var b strings.Builder
		fmt.Fprintf(&b, "⏰ Commitment reminder\n\n")
		fmt.Fprintf(&b, "Chat: %s\n", c.ConversationName)
		fmt.Fprintf(&b, "%s\n", c.Text)
		if c.Context != "" {
			fmt.Fprintf(&b, "\nContext: %s\n", c.Context)
		}

		if !d.notifier.Send(ctx, c.ResponsibleID, b.String()) {
			continue
		}
		if err := d.commitments.MarkCommitmentSent(ctx, c.ID, now); err != nil {
			d.logger.Error("Failed to mark commitment sent",
				zap.Error(err),
				zap.String("commitment_id", c.ID))
			continue
		}
		d.logger.Info("Commitment reminder sent",
			zap.String("commitment_id", c.ID),
			zap.Int64("responsible_id", c.ResponsibleID))
	}
	return nil
}
