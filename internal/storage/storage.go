package storage

import (
	"context"
	"errors"
	"time"

	"github.com/clientops/replywatch/internal/models"
)

// InsertOutcome is the explicit result of an idempotent ledger insert.
type InsertOutcome int

const (
	Inserted InsertOutcome = iota
	AlreadyExists
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// Ledger is the durable store of every inbound/outbound chat message and the
// source of truth for whether a reply has occurred. All mutations are
// single-row updates keyed by id; the Mark methods never move a message out
// of a terminal status.
type Ledger interface {
	// LogMessage inserts a message, assigning msg.ID. A duplicate
	// conversation+sequence pair reports AlreadyExists instead of an error.
	LogMessage(ctx context.Context, msg *models.LoggedMessage) (InsertOutcome, error)

	GetMessage(ctx context.Context, id string) (*models.LoggedMessage, error)

	// RecentMessages returns up to limit messages of the conversation with
	// SequenceID below beforeSeq, oldest first.
	RecentMessages(ctx context.Context, conversationID string, beforeSeq int64, limit int) ([]models.LoggedMessage, error)

	// FirstResponsibleReplyAfter returns the responsible-author message with
	// the lowest SequenceID strictly greater than afterSeq, or ErrNotFound.
	FirstResponsibleReplyAfter(ctx context.Context, conversationID string, afterSeq int64) (*models.LoggedMessage, error)

	// LastActivity returns the SentAt of the newest message in the
	// conversation, or ErrNotFound when the conversation has no messages.
	LastActivity(ctx context.Context, conversationID string) (time.Time, error)

	MarkIgnored(ctx context.Context, id string) error
	MarkWaiting(ctx context.Context, id string, needsReply bool, pendingUntil time.Time) error
	MarkAnswered(ctx context.Context, id string, res models.Resolution) error
	MarkEscalated(ctx context.Context, id string) error

	Close() error
}

// Commitments stores promises captured from responsible messages and feeds
// the periodic reminder sweep.
type Commitments interface {
	// CreateCommitment inserts the row, assigning c.ID.
	CreateCommitment(ctx context.Context, c *models.Commitment) error

	// PendingCommitments returns unsent commitments whose RemindAt is at or
	// before the given instant, oldest RemindAt first.
	PendingCommitments(ctx context.Context, before time.Time) ([]models.Commitment, error)

	MarkCommitmentSent(ctx context.Context, id string, at time.Time) error
}

// Owners is the conversation ownership registry.
type Owners interface {
	// Get returns the active owner row, or ErrNotFound when unassigned.
	Get(ctx context.Context, conversationID string) (*models.ChatOwner, error)

	// Upsert inserts the row or overwrites every field of the existing one.
	Upsert(ctx context.Context, owner *models.ChatOwner) error

	All(ctx context.Context) ([]models.ChatOwner, error)
}

// Store bundles the registries a single backend provides.
type Store interface {
	Ledger
	Owners
	Commitments
}
