package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/clientops/replywatch/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	UseInMemory bool
}

// PostgresStore implements Store on PostgreSQL via database/sql and lib/pq.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStore(config DatabaseConfig, logger *zap.Logger) (*PostgresStore, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	store := &PostgresStore{db: db, logger: logger}

	if err := store.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}
	logger.Info("Database schema ready", zap.String("dbname", config.DBName))

	return store, nil
}

func (s *PostgresStore) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	return nil
}

const messageColumns = `id, conversation_id, conversation_name, sequence_id,
	author_id, author_name, author_kind, text, sent_at, status, needs_reply,
	pending_until, resolved_by, resolution_sequence_id, resolution_text, resolved_at`

func (s *PostgresStore) LogMessage(ctx context.Context, msg *models.LoggedMessage) (InsertOutcome, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Status == "" {
		msg.Status = models.StatusLogged
	}

	query := `
		INSERT INTO chat_log (id, conversation_id, conversation_name, sequence_id,
			author_id, author_name, author_kind, text, sent_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.ConversationName,
		msg.SequenceID,
		msg.AuthorID,
		msg.AuthorName,
		msg.AuthorKind,
		msg.Text,
		msg.SentAt,
		msg.Status,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return AlreadyExists, nil
		}
		return 0, fmt.Errorf("error logging message: %w", err)
	}

	return Inserted, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.LoggedMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM chat_log WHERE id = $1`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting message: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) RecentMessages(ctx context.Context, conversationID string, beforeSeq int64, limit int) ([]models.LoggedMessage, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM chat_log
		WHERE conversation_id = $1 AND sequence_id < $2
		ORDER BY sequence_id DESC
		LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, conversationID, beforeSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying recent messages: %w", err)
	}
	defer rows.Close()

	var out []models.LoggedMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		out = append(out, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	// Oldest first for classifier context.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *PostgresStore) FirstResponsibleReplyAfter(ctx context.Context, conversationID string, afterSeq int64) (*models.LoggedMessage, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM chat_log
		WHERE conversation_id = $1 AND author_kind = $2 AND sequence_id > $3
		ORDER BY sequence_id ASC
		LIMIT 1`

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, conversationID, models.AuthorResponsible, afterSeq))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error finding responsible reply: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) LastActivity(ctx context.Context, conversationID string) (time.Time, error) {
	query := `SELECT max(sent_at) FROM chat_log WHERE conversation_id = $1`

	var last sql.NullTime
	if err := s.db.QueryRowContext(ctx, query, conversationID).Scan(&last); err != nil {
		return time.Time{}, fmt.Errorf("error querying last activity: %w", err)
	}
	if !last.Valid {
		return time.Time{}, ErrNotFound
	}
	return last.Time, nil
}

// notTerminal guards every status update: a row already in a terminal state
// is left untouched.
const notTerminal = `status NOT IN ('ignored', 'answered', 'escalated')`

func (s *PostgresStore) MarkIgnored(ctx context.Context, id string) error {
	query := `
		UPDATE chat_log
		SET status = 'ignored', needs_reply = FALSE, pending_until = NULL
		WHERE id = $1 AND ` + notTerminal

	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("error marking message ignored: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkWaiting(ctx context.Context, id string, needsReply bool, pendingUntil time.Time) error {
	query := `
		UPDATE chat_log
		SET status = 'waiting', needs_reply = $2, pending_until = $3
		WHERE id = $1 AND ` + notTerminal

	if _, err := s.db.ExecContext(ctx, query, id, needsReply, pendingUntil); err != nil {
		return fmt.Errorf("error marking message waiting: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkAnswered(ctx context.Context, id string, res models.Resolution) error {
	query := `
		UPDATE chat_log
		SET status = 'answered', pending_until = NULL,
			resolved_by = $2, resolution_sequence_id = $3,
			resolution_text = $4, resolved_at = $5
		WHERE id = $1 AND ` + notTerminal

	if _, err := s.db.ExecContext(ctx, query, id,
		res.ResolvedBy, res.ResolutionSequenceID, res.ResolutionText, res.ResolvedAt); err != nil {
		return fmt.Errorf("error marking message answered: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkEscalated(ctx context.Context, id string) error {
	query := `
		UPDATE chat_log
		SET status = 'escalated', pending_until = NULL
		WHERE id = $1 AND ` + notTerminal

	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("error marking message escalated: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateCommitment(ctx context.Context, c *models.Commitment) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO commitments (id, conversation_id, conversation_name, responsible_id,
			text, context, source_sequence_id, remind_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	if _, err := s.db.ExecContext(ctx, query,
		c.ID,
		c.ConversationID,
		c.ConversationName,
		c.ResponsibleID,
		c.Text,
		c.Context,
		c.SourceSequenceID,
		c.RemindAt,
		c.CreatedAt,
	); err != nil {
		return fmt.Errorf("error creating commitment: %w", err)
	}
	return nil
}

func (s *PostgresStore) PendingCommitments(ctx context.Context, before time.Time) ([]models.Commitment, error) {
	query := `
		SELECT id, conversation_id, conversation_name, responsible_id,
			text, context, source_sequence_id, remind_at, created_at
		FROM commitments
		WHERE sent_at IS NULL AND remind_at <= $1
		ORDER BY remind_at ASC`

	rows, err := s.db.QueryContext(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("error querying pending commitments: %w", err)
	}
	defer rows.Close()

	var out []models.Commitment
	for rows.Next() {
		var c models.Commitment
		if err := rows.Scan(
			&c.ID,
			&c.ConversationID,
			&c.ConversationName,
			&c.ResponsibleID,
			&c.Text,
			&c.Context,
			&c.SourceSequenceID,
			&c.RemindAt,
			&c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning commitment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkCommitmentSent(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE commitments SET sent_at = $2 WHERE id = $1 AND sent_at IS NULL`

	if _, err := s.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("error marking commitment sent: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, conversationID string) (*models.ChatOwner, error) {
	query := `
		SELECT conversation_id, conversation_name, responsible_id, responsible_name, assigned_at
		FROM chat_owners
		WHERE conversation_id = $1`

	owner := &models.ChatOwner{}
	err := s.db.QueryRowContext(ctx, query, conversationID).Scan(
		&owner.ConversationID,
		&owner.ConversationName,
		&owner.ResponsibleID,
		&owner.ResponsibleName,
		&owner.AssignedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting chat owner: %w", err)
	}
	return owner, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, owner *models.ChatOwner) error {
	query := `
		INSERT INTO chat_owners (conversation_id, conversation_name, responsible_id, responsible_name, assigned_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (conversation_id) DO UPDATE
		SET conversation_name = EXCLUDED.conversation_name,
			responsible_id = EXCLUDED.responsible_id,
			responsible_name = EXCLUDED.responsible_name,
			assigned_at = EXCLUDED.assigned_at`

	if _, err := s.db.ExecContext(ctx, query,
		owner.ConversationID,
		owner.ConversationName,
		owner.ResponsibleID,
		owner.ResponsibleName,
		owner.AssignedAt,
	); err != nil {
		return fmt.Errorf("error upserting chat owner: %w", err)
	}
	return nil
}

func (s *PostgresStore) All(ctx context.Context) ([]models.ChatOwner, error) {
	query := `
		SELECT conversation_id, conversation_name, responsible_id, responsible_name, assigned_at
		FROM chat_owners
		ORDER BY conversation_name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying chat owners: %w", err)
	}
	defer rows.Close()

	var owners []models.ChatOwner
	for rows.Next() {
		var owner models.ChatOwner
		if err := rows.Scan(
			&owner.ConversationID,
			&owner.ConversationName,
			&owner.ResponsibleID,
			&owner.ResponsibleName,
			&owner.AssignedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning chat owner: %w", err)
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.LoggedMessage, error) {
	msg := &models.LoggedMessage{}
	var (
		needsReply   sql.NullBool
		pendingUntil sql.NullTime
		resolvedAt   sql.NullTime
	)

	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.ConversationName,
		&msg.SequenceID,
		&msg.AuthorID,
		&msg.AuthorName,
		&msg.AuthorKind,
		&msg.Text,
		&msg.SentAt,
		&msg.Status,
		&needsReply,
		&pendingUntil,
		&msg.ResolvedBy,
		&msg.ResolutionSequenceID,
		&msg.ResolutionText,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	if needsReply.Valid {
		msg.NeedsReply = &needsReply.Bool
	}
	if pendingUntil.Valid {
		t := pendingUntil.Time
		msg.PendingUntil = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		msg.ResolvedAt = &t
	}
	return msg, nil
}
