package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/casalink/support-chat/internal/model"
)

// Postgres is the production Gateway. Atomicity for find-or-create and
// append comes from the database (ON CONFLICT and transactions), not from
// in-process locks.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects to the database and bootstraps the schema.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := &Postgres{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Postgres) ensureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL UNIQUE,
	assigned_admin TEXT NOT NULL DEFAULT '',
	last_message_text TEXT NOT NULL DEFAULT '',
	last_message_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_participants (
	conversation_id UUID NOT NULL REFERENCES conversations(id),
	user_id TEXT NOT NULL,
	unread INT NOT NULL DEFAULT 0,
	PRIMARY KEY (conversation_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id UUID PRIMARY KEY,
	seq BIGSERIAL,
	conversation_id UUID NOT NULL REFERENCES conversations(id),
	sender_id TEXT NOT NULL,
	sender_name TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	attachment_url TEXT NOT NULL DEFAULT '',
	attachment_name TEXT NOT NULL DEFAULT '',
	edited BOOLEAN NOT NULL DEFAULT FALSE,
	edited_at TIMESTAMPTZ,
	deleted BOOLEAN NOT NULL DEFAULT FALSE,
	read BOOLEAN NOT NULL DEFAULT FALSE,
	read_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_seq ON messages (conversation_id, seq);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// FindOrCreateConversation implements Gateway. The upsert on user_id makes
// concurrent first-open race-free: both racers land on the same row.
func (s *Postgres) FindOrCreateConversation(ctx context.Context, userID string) (*model.Conversation, bool, error) {
	now := time.Now().UTC()
	var (
		id      string
		created bool
	)
	// xmax = 0 distinguishes a fresh insert from a conflict-updated row.
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO conversations (id, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id, (xmax = 0)`,
		uuid.Must(uuid.NewV7()).String(), userID, now,
	).Scan(&id, &created)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find or create conversation: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_participants (conversation_id, user_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`, id, userID); err != nil {
		return nil, false, fmt.Errorf("failed to add participant: %w", err)
	}

	conv, err := s.loadConversation(ctx, s.db, id)
	if err != nil {
		return nil, false, err
	}
	return conv, created, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) loadConversation(ctx context.Context, q queryer, id string) (*model.Conversation, error) {
	conv := &model.Conversation{Unread: make(map[string]int)}
	var lastAt sql.NullTime
	err := q.QueryRowContext(ctx, `
		SELECT id, user_id, assigned_admin, last_message_text, last_message_at, created_at, updated_at
		FROM conversations WHERE id = $1`, id,
	).Scan(&conv.ID, &conv.UserID, &conv.AssignedAdmin, &conv.LastMessageText, &lastAt, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if lastAt.Valid {
		conv.LastMessageAt = lastAt.Time
	}

	rows, err := q.QueryContext(ctx, `
		SELECT user_id, unread FROM conversation_participants
		WHERE conversation_id = $1 ORDER BY user_id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load participants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var uid string
		var unread int
		if err := rows.Scan(&uid, &unread); err != nil {
			return nil, err
		}
		conv.Participants = append(conv.Participants, uid)
		conv.Unread[uid] = unread
	}
	return conv, rows.Err()
}

// GetConversation implements Gateway.
func (s *Postgres) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	return s.loadConversation(ctx, s.db, id)
}

// AppendMessage implements Gateway.
func (s *Postgres) AppendMessage(ctx context.Context, msg *model.Message, preview string) (*model.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_participants (conversation_id, user_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		msg.ConversationID, msg.SenderID); err != nil {
		return nil, fmt.Errorf("failed to ensure sender participant: %w", err)
	}

	stored := *msg
	err = tx.QueryRowContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, sender_name, kind, body,
			attachment_url, attachment_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.SenderName, string(msg.Kind),
		msg.Body, msg.AttachmentURL, msg.AttachmentName, msg.CreatedAt,
	).Scan(&stored.Seq)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_text = $2, last_message_at = $3, updated_at = $3
		WHERE id = $1`,
		msg.ConversationID, preview, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to update last message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversation_participants SET unread = unread + 1
		WHERE conversation_id = $1 AND user_id <> $2`,
		msg.ConversationID, msg.SenderID); err != nil {
		return nil, fmt.Errorf("failed to increment unread: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit append: %w", err)
	}
	return &stored, nil
}

const messageColumns = `id, seq, conversation_id, sender_id, sender_name, kind, body,
	attachment_url, attachment_name, edited, edited_at, deleted, read, read_at, created_at`

func scanMessage(row interface{ Scan(...any) error }) (*model.Message, error) {
	var (
		m        model.Message
		kind     string
		editedAt sql.NullTime
		readAt   sql.NullTime
	)
	err := row.Scan(&m.ID, &m.Seq, &m.ConversationID, &m.SenderID, &m.SenderName, &kind,
		&m.Body, &m.AttachmentURL, &m.AttachmentName, &m.Edited, &editedAt,
		&m.Deleted, &m.Read, &readAt, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Kind = model.Kind(kind)
	if editedAt.Valid {
		m.EditedAt = &editedAt.Time
	}
	if readAt.Valid {
		m.ReadAt = &readAt.Time
	}
	return &m, nil
}

// GetMessage implements Gateway.
func (s *Postgres) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	return scanMessage(row)
}

// EditMessage implements Gateway.
func (s *Postgres) EditMessage(ctx context.Context, id, body string, at time.Time) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE messages SET body = $2, edited = TRUE, edited_at = $3
		WHERE id = $1 AND deleted = FALSE
		RETURNING `+messageColumns, id, body, at)
	return scanMessage(row)
}

// SoftDeleteMessage implements Gateway.
func (s *Postgres) SoftDeleteMessage(ctx context.Context, id string, at time.Time) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE messages SET deleted = TRUE
		WHERE id = $1
		RETURNING `+messageColumns, id)
	return scanMessage(row)
}

// ListMessages implements Gateway.
func (s *Postgres) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	if _, err := s.loadConversation(ctx, s.db, conversationID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = $1 ORDER BY seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// MarkConversationRead implements Gateway.
func (s *Postgres) MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin mark read: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE messages SET read = TRUE, read_at = $3
		WHERE conversation_id = $1 AND sender_id <> $2 AND read = FALSE`,
		conversationID, readerID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	marked, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversation_participants SET unread = 0
		WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, readerID); err != nil {
		return 0, fmt.Errorf("failed to reset unread: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit mark read: %w", err)
	}
	return int(marked), nil
}

// SetAssignedAdmin implements Gateway.
func (s *Postgres) SetAssignedAdmin(ctx context.Context, conversationID, adminID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin assign: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE conversations SET assigned_admin = $2, updated_at = $3
		WHERE id = $1`, conversationID, adminID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to assign admin: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_participants (conversation_id, user_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`, conversationID, adminID); err != nil {
		return fmt.Errorf("failed to add admin participant: %w", err)
	}

	return tx.Commit()
}

// ListConversationsForAdmin implements Gateway.
func (s *Postgres) ListConversationsForAdmin(ctx context.Context) ([]model.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM conversations
		ORDER BY last_message_at DESC NULLS LAST, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]model.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := s.loadConversation(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *conv)
	}
	return out, nil
}

// Close implements Gateway.
func (s *Postgres) Close() error {
	return s.db.Close()
}
