package models

import "time"

// Commitment is a promise a responsible human made in a chat ("I'll send the
// report by three"), captured for a later reminder. SentAt is nil while the
// reminder is still pending.
type Commitment struct {
	ID               string     `json:"id"`
	ConversationID   string     `json:"conversation_id"`
	ConversationName string     `json:"conversation_name"`
	ResponsibleID    int64      `json:"responsible_id"`
	Text             string     `json:"text"`
	Context          string     `json:"context,omitempty"`
	SourceSequenceID int64      `json:"source_sequence_id"`
	RemindAt         time.Time  `json:"remind_at"`
	CreatedAt        time.Time  `json:"created_at"`
	SentAt           *time.Time `json:"sent_at,omitempty"`
}
