package models

import "time"

// Status tracks a logged message through the escalation lifecycle.
// Ignored, Answered and Escalated are terminal: once set they never regress.
type Status string

const (
	StatusLogged    Status = "logged"
	StatusIgnored   Status = "ignored"
	StatusWaiting   Status = "waiting"
	StatusAnswered  Status = "answered"
	StatusEscalated Status = "escalated"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusIgnored, StatusAnswered, StatusEscalated:
		return true
	}
	return false
}

// AuthorKind distinguishes the designated responsible humans (account
// managers) from everyone else in a conversation.
type AuthorKind string

const (
	AuthorResponsible AuthorKind = "responsible"
	AuthorOther       AuthorKind = "other"
)

// LoggedMessage is one row of the message ledger. A row is created once per
// physical chat message and never deleted; only the classification step and
// the escalation checks mutate it.
type LoggedMessage struct {
	ID               string     `json:"id"`
	ConversationID   string     `json:"conversation_id"`
	ConversationName string     `json:"conversation_name"`
	SequenceID       int64      `json:"sequence_id"`
	AuthorID         int64      `json:"author_id"`
	AuthorName       string     `json:"author_name"`
	AuthorKind       AuthorKind `json:"author_kind"`
	Text             string     `json:"text"`
	SentAt           time.Time  `json:"sent_at"`

	Status       Status     `json:"status"`
	NeedsReply   *bool      `json:"needs_reply,omitempty"`
	PendingUntil *time.Time `json:"pending_until,omitempty"`

	// Populated only when Status == StatusAnswered.
	ResolvedBy           string     `json:"resolved_by,omitempty"`
	ResolutionSequenceID int64      `json:"resolution_sequence_id,omitempty"`
	ResolutionText       string     `json:"resolution_text,omitempty"`
	ResolvedAt           *time.Time `json:"resolved_at,omitempty"`
}

// ThreadKey is the stable conversation:sequence identifier used in
// notifications and as the ledger's uniqueness key.
func (m *LoggedMessage) ThreadKey() string {
	return ThreadKey(m.ConversationID, m.SequenceID)
}

// Resolution carries the fields recorded when a responsible reply closes a
// waiting message.
type Resolution struct {
	ResolvedBy           string
	ResolutionSequenceID int64
	ResolutionText       string
	ResolvedAt           time.Time
}
