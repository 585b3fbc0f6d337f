// Package scheduler runs escalation checks at their due time and drives the
// periodic batch jobs. The durable implementation is backed by River's Postgres
// job table so pending checks survive process restarts; an in-memory
// implementation serves local runs and tests.
package scheduler

import (
	"context"
	"time"
)

// CheckArgs identifies one escalation check. It is reconstructible from the
// ledger row, so losing a job at worst delays a reminder.
type CheckArgs struct {
	MessageID        string `json:"message_id"`
	ConversationID   string `json:"conversation_id"`
	OriginSequenceID int64  `json:"origin_sequence_id"`
	Attempt          int    `json:"attempt"`
}

// Kind implements river.JobArgs.
func (CheckArgs) Kind() string { return "reply_check" }

// Scheduler enqueues a check to run no earlier than runAt, once under normal
// operation. Minute-level precision is sufficient for the reminder ladder.
type Scheduler interface {
	ScheduleCheck(ctx context.Context, args CheckArgs, runAt time.Time) error
}

// CheckRunner is implemented by the escalation engine.
type CheckRunner interface {
	RunCheck(ctx context.Context, args CheckArgs) error
}

// PeriodicJobs is implemented by the batch-job layer.
type PeriodicJobs interface {
	RunInactivityCheck(ctx context.Context) error
	RunHolidayGreetings(ctx context.Context) error
	RunCommitmentSweep(ctx context.Context) error
}
