package models

import (
	"fmt"
	"time"
)

// ChatOwner maps a conversation to the responsible human accountable for it.
// At most one active row exists per conversation; upserts supersede, rows are
// never deleted.
type ChatOwner struct {
	ConversationID   string    `json:"conversation_id"`
	ConversationName string    `json:"conversation_name"`
	ResponsibleID    int64     `json:"responsible_id"`
	ResponsibleName  string    `json:"responsible_name"`
	AssignedAt       time.Time `json:"assigned_at"`
}

// ThreadKey builds the conversation:sequence key shared by the ledger's
// uniqueness constraint and notification texts.
func ThreadKey(conversationID string, sequenceID int64) string {
	return fmt.Sprintf("%s:%d", conversationID, sequenceID)
}
