package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clientops/replywatch/internal/models"
)

// MemoryStore is an in-process Store used for local runs and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	messages    map[string]*models.LoggedMessage
	byThread    map[string]string // thread key -> message id
	owners      map[string]*models.ChatOwner
	commitments map[string]*models.Commitment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:    make(map[string]*models.LoggedMessage),
		byThread:    make(map[string]string),
		owners:      make(map[string]*models.ChatOwner),
		commitments: make(map[string]*models.Commitment),
	}
}

func (s *MemoryStore) LogMessage(ctx context.Context, msg *models.LoggedMessage) (InsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := msg.ThreadKey()
	if _, exists := s.byThread[key]; exists {
		return AlreadyExists, nil
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Status == "" {
		msg.Status = models.StatusLogged
	}

	stored := *msg
	s.messages[msg.ID] = &stored
	s.byThread[key] = msg.ID
	return Inserted, nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, id string) (*models.LoggedMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, exists := s.messages[id]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *msg
	return &copied, nil
}

func (s *MemoryStore) RecentMessages(ctx context.Context, conversationID string, beforeSeq int64, limit int) ([]models.LoggedMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.LoggedMessage
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID && msg.SequenceID < beforeSeq {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceID < out[j].SequenceID })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemoryStore) FirstResponsibleReplyAfter(ctx context.Context, conversationID string, afterSeq int64) (*models.LoggedMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *models.LoggedMessage
	for _, msg := range s.messages {
		if msg.ConversationID != conversationID || msg.AuthorKind != models.AuthorResponsible {
			continue
		}
		if msg.SequenceID <= afterSeq {
			continue
		}
		if best == nil || msg.SequenceID < best.SequenceID {
			best = msg
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	copied := *best
	return &copied, nil
}

func (s *MemoryStore) LastActivity(ctx context.Context, conversationID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last time.Time
	found := false
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID && msg.SentAt.After(last) {
			last = msg.SentAt
			found = true
		}
	}
	if !found {
		return time.Time{}, ErrNotFound
	}
	return last, nil
}

func (s *MemoryStore) MarkIgnored(ctx context.Context, id string) error {
	return s.update(id, func(msg *models.LoggedMessage) {
		needsReply := false
		msg.Status = models.StatusIgnored
		msg.NeedsReply = &needsReply
		msg.PendingUntil = nil
	})
}

func (s *MemoryStore) MarkWaiting(ctx context.Context, id string, needsReply bool, pendingUntil time.Time) error {
	return s.update(id, func(msg *models.LoggedMessage) {
		msg.Status = models.StatusWaiting
		msg.NeedsReply = &needsReply
		until := pendingUntil
		msg.PendingUntil = &until
	})
}

func (s *MemoryStore) MarkAnswered(ctx context.Context, id string, res models.Resolution) error {
	return s.update(id, func(msg *models.LoggedMessage) {
		msg.Status = models.StatusAnswered
		msg.PendingUntil = nil
		msg.ResolvedBy = res.ResolvedBy
		msg.ResolutionSequenceID = res.ResolutionSequenceID
		msg.ResolutionText = res.ResolutionText
		at := res.ResolvedAt
		msg.ResolvedAt = &at
	})
}

func (s *MemoryStore) MarkEscalated(ctx context.Context, id string) error {
	return s.update(id, func(msg *models.LoggedMessage) {
		msg.Status = models.StatusEscalated
		msg.PendingUntil = nil
	})
}

// update applies fn to the stored row unless it already reached a terminal
// status.
func (s *MemoryStore) update(id string, fn func(*models.LoggedMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, exists := s.messages[id]
	if !exists {
		return ErrNotFound
	}
	if msg.Status.Terminal() {
		return nil
	}
	fn(msg)
	return nil
}

func (s *MemoryStore) CreateCommitment(ctx context.Context, c *models.Commitment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	stored := *c
	s.commitments[c.ID] = &stored
	return nil
}

func (s *MemoryStore) PendingCommitments(ctx context.Context, before time.Time) ([]models.Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Commitment
	for _, c := range s.commitments {
		if c.SentAt == nil && !c.RemindAt.After(before) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemindAt.Before(out[j].RemindAt) })
	return out, nil
}

func (s *MemoryStore) MarkCommitmentSent(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.commitments[id]
	if !exists {
		return ErrNotFound
	}
	if c.SentAt == nil {
		sent := at
		c.SentAt = &sent
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, conversationID string) (*models.ChatOwner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owner, exists := s.owners[conversationID]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *owner
	return &copied, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, owner *models.ChatOwner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *owner
	s.owners[owner.ConversationID] = &copied
	return nil
}

func (s *MemoryStore) All(ctx context.Context) ([]models.ChatOwner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ChatOwner, 0, len(s.owners))
	for _, owner := range s.owners {
		out = append(out, *owner)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConversationName < out[j].ConversationName })
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
