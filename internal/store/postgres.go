package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/supportdesk/chat-platform/internal/model"
	"github.com/supportdesk/chat-platform/pkg/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	role         TEXT NOT NULL DEFAULT 'user'
);

CREATE TABLE IF NOT EXISTS conversations (
	id                TEXT PRIMARY KEY,
	title             TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	user_id           TEXT NOT NULL,
	assigned_admin_id TEXT,
	status            TEXT NOT NULL DEFAULT 'active',
	priority          TEXT NOT NULL DEFAULT 'normal',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_message_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	sender_id       TEXT,
	sender_role     TEXT NOT NULL,
	content         TEXT NOT NULL,
	type            TEXT NOT NULL DEFAULT 'text',
	metadata        JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages (conversation_id, created_at);

CREATE TABLE IF NOT EXISTS conversation_participants (
	conversation_id TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	role            TEXT NOT NULL DEFAULT 'user',
	joined_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_read_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	is_online       BOOLEAN NOT NULL DEFAULT FALSE,
	is_typing       BOOLEAN NOT NULL DEFAULT FALSE,
	typing_since    TIMESTAMPTZ,
	notify_email    BOOLEAN NOT NULL DEFAULT TRUE,
	notify_push     BOOLEAN NOT NULL DEFAULT TRUE,
	notify_in_app   BOOLEAN NOT NULL DEFAULT TRUE,
	PRIMARY KEY (conversation_id, user_id)
);
`

// Postgres implements MessageStore on database/sql.
type Postgres struct {
	db *sql.DB
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Postgres{db: db}, nil
}

// EnsureSchema creates the chat tables when they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func observe(op string, start time.Time) {
	metrics.RecordStoreQuery(op, time.Since(start).Seconds())
}

// InsertMessage stores a message and returns it with the store timestamp.
func (p *Postgres) InsertMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	defer observe("insert_message", time.Now())

	var meta []byte
	if msg.Metadata != nil {
		b, err := json.Marshal(msg.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		meta = b
	}

	stored := *msg
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, sender_role, content, type, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING created_at`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.SenderRole, msg.Content, msg.Type, meta,
	).Scan(&stored.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	return &stored, nil
}

// QueryMessages returns messages ordered by creation time ascending, with id
// as the tie-breaker so repeated reads stay stable.
func (p *Postgres) QueryMessages(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	defer observe("query_messages", time.Now())

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, sender_role, content, type, metadata, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3`,
		conversationID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var m model.Message
		var senderID sql.NullString
		var meta []byte
		if err := rows.Scan(&m.ID, &m.ConversationID, &senderID, &m.SenderRole, &m.Content, &m.Type, &meta, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if senderID.Valid {
			m.SenderID = &senderID.String
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &m.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// GetConversation returns (nil, nil) when the conversation does not exist.
func (p *Postgres) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	defer observe("get_conversation", time.Now())

	var c model.Conversation
	var adminID sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT id, title, description, user_id, assigned_admin_id, status, priority,
		       created_at, updated_at, last_message_at
		FROM conversations
		WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.Title, &c.Description, &c.UserID, &adminID, &c.Status, &c.Priority,
		&c.CreatedAt, &c.UpdatedAt, &c.LastMessageAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if adminID.Valid {
		c.AssignedAdminID = &adminID.String
	}
	return &c, nil
}

// InsertConversation stores a conversation row.
func (p *Postgres) InsertConversation(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	defer observe("insert_conversation", time.Now())

	stored := *conv
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO conversations (id, title, description, user_id, assigned_admin_id, status, priority,
		                           created_at, updated_at, last_message_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW(), NOW())
		RETURNING created_at, updated_at, last_message_at`,
		conv.ID, conv.Title, conv.Description, conv.UserID, conv.AssignedAdminID, conv.Status, conv.Priority,
	).Scan(&stored.CreatedAt, &stored.UpdatedAt, &stored.LastMessageAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert conversation: %w", err)
	}
	return &stored, nil
}

// UpdateConversation applies the non-nil fields of upd.
func (p *Postgres) UpdateConversation(ctx context.Context, id string, upd ConversationUpdate) error {
	defer observe("update_conversation", time.Now())

	sets := []string{}
	args := []any{}
	n := 1
	if upd.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", n))
		args = append(args, *upd.Status)
		n++
	}
	if upd.AssignedAdminID != nil {
		sets = append(sets, fmt.Sprintf("assigned_admin_id = $%d", n))
		args = append(args, *upd.AssignedAdminID)
		n++
	}
	if upd.LastMessageAt != nil {
		sets = append(sets, fmt.Sprintf("last_message_at = $%d", n))
		args = append(args, *upd.LastMessageAt)
		n++
	}
	if upd.UpdatedAt != nil {
		sets = append(sets, fmt.Sprintf("updated_at = $%d", n))
		args = append(args, *upd.UpdatedAt)
		n++
	} else {
		sets = append(sets, "updated_at = NOW()")
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE conversations SET %s WHERE id = $%d", strings.Join(sets, ", "), n)
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	return nil
}

// ListConversations returns conversations ordered by most recent activity,
// with per-viewer unread counts when a viewer is given.
func (p *Postgres) ListConversations(ctx context.Context, q ConversationQuery) ([]model.Conversation, error) {
	defer observe("list_conversations", time.Now())

	where := []string{"1=1"}
	args := []any{}
	n := 1
	if q.UserID != "" {
		where = append(where, fmt.Sprintf("c.user_id = $%d", n))
		args = append(args, q.UserID)
		n++
	}
	if q.Status != "" {
		where = append(where, fmt.Sprintf("c.status = $%d", n))
		args = append(args, q.Status)
		n++
	}
	if q.Priority != "" {
		where = append(where, fmt.Sprintf("c.priority = $%d", n))
		args = append(args, q.Priority)
		n++
	}

	unread := "0"
	if q.ViewerID != "" {
		unread = fmt.Sprintf(`(
			SELECT COUNT(*) FROM messages m
			WHERE m.conversation_id = c.id
			  AND m.created_at > COALESCE(
				(SELECT cp.last_read_at FROM conversation_participants cp
				 WHERE cp.conversation_id = c.id AND cp.user_id = $%d),
				'epoch'::timestamptz)
			  AND (m.sender_id IS NULL OR m.sender_id <> $%d)
		)`, n, n)
		args = append(args, q.ViewerID)
		n++
	}

	query := fmt.Sprintf(`
		SELECT c.id, c.title, c.description, c.user_id, c.assigned_admin_id, c.status, c.priority,
		       c.created_at, c.updated_at, c.last_message_at, %s AS unread
		FROM conversations c
		WHERE %s
		ORDER BY c.last_message_at DESC`, unread, strings.Join(where, " AND "))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var convs []model.Conversation
	for rows.Next() {
		var c model.Conversation
		var adminID sql.NullString
		if err := rows.Scan(&c.ID, &c.Title, &c.Description, &c.UserID, &adminID, &c.Status, &c.Priority,
			&c.CreatedAt, &c.UpdatedAt, &c.LastMessageAt, &c.UnreadCount); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		if adminID.Valid {
			c.AssignedAdminID = &adminID.String
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// DeleteConversation removes a single conversation row.
func (p *Postgres) DeleteConversation(ctx context.Context, id string) error {
	defer observe("delete_conversation", time.Now())
	if _, err := p.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// DeleteMessages removes all messages of a conversation.
func (p *Postgres) DeleteMessages(ctx context.Context, conversationID string) error {
	defer observe("delete_messages", time.Now())
	if _, err := p.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

// DeleteParticipants removes all participant rows of a conversation.
func (p *Postgres) DeleteParticipants(ctx context.Context, conversationID string) error {
	defer observe("delete_participants", time.Now())
	if _, err := p.db.ExecContext(ctx, `DELETE FROM conversation_participants WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("failed to delete participants: %w", err)
	}
	return nil
}

// UpsertParticipant inserts or refreshes the (conversation, user) row.
func (p *Postgres) UpsertParticipant(ctx context.Context, part *model.Participant) error {
	defer observe("upsert_participant", time.Now())
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO conversation_participants
			(conversation_id, user_id, role, joined_at, last_read_at, is_online,
			 notify_email, notify_push, notify_in_app)
		VALUES ($1, $2, $3, NOW(), NOW(), $4, $5, $6, $7)
		ON CONFLICT (conversation_id, user_id) DO UPDATE SET
			role = EXCLUDED.role,
			is_online = EXCLUDED.is_online,
			notify_email = EXCLUDED.notify_email,
			notify_push = EXCLUDED.notify_push,
			notify_in_app = EXCLUDED.notify_in_app`,
		part.ConversationID, part.UserID, part.Role, part.IsOnline,
		part.Notifications.Email, part.Notifications.Push, part.Notifications.InApp,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert participant: %w", err)
	}
	return nil
}

// UpdateParticipantLastRead advances the participant's last-read mark.
func (p *Postgres) UpdateParticipantLastRead(ctx context.Context, conversationID, userID string, at time.Time) error {
	defer observe("update_last_read", time.Now())
	_, err := p.db.ExecContext(ctx, `
		UPDATE conversation_participants
		SET last_read_at = $1
		WHERE conversation_id = $2 AND user_id = $3`,
		at, conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to update last read: %w", err)
	}
	return nil
}

// SetParticipantTyping writes the typing flag and its timestamp.
func (p *Postgres) SetParticipantTyping(ctx context.Context, conversationID, userID string, typing bool, at time.Time) error {
	defer observe("set_typing", time.Now())
	var since *time.Time
	if typing {
		since = &at
	}
	_, err := p.db.ExecContext(ctx, `
		UPDATE conversation_participants
		SET is_typing = $1, typing_since = $2
		WHERE conversation_id = $3 AND user_id = $4`,
		typing, since, conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to set typing flag: %w", err)
	}
	return nil
}

// ListParticipants returns all participant rows of a conversation.
func (p *Postgres) ListParticipants(ctx context.Context, conversationID string) ([]model.Participant, error) {
	defer observe("list_participants", time.Now())

	rows, err := p.db.QueryContext(ctx, `
		SELECT conversation_id, user_id, role, joined_at, last_read_at, is_online,
		       is_typing, typing_since, notify_email, notify_push, notify_in_app
		FROM conversation_participants
		WHERE conversation_id = $1
		ORDER BY joined_at ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var parts []model.Participant
	for rows.Next() {
		var part model.Participant
		var since sql.NullTime
		if err := rows.Scan(&part.ConversationID, &part.UserID, &part.Role, &part.JoinedAt, &part.LastReadAt,
			&part.IsOnline, &part.IsTyping, &since,
			&part.Notifications.Email, &part.Notifications.Push, &part.Notifications.InApp); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		if since.Valid {
			part.TypingSince = &since.Time
		}
		parts = append(parts, part)
	}
	return parts, rows.Err()
}

// GetActorProfile resolves a user's display name and role. Unknown users
// resolve to role "user" so permission checks stay conservative.
func (p *Postgres) GetActorProfile(ctx context.Context, userID string) (*model.ActorProfile, error) {
	defer observe("get_actor_profile", time.Now())

	profile := &model.ActorProfile{UserID: userID, Role: model.RoleUser}
	err := p.db.QueryRowContext(ctx, `
		SELECT display_name, role FROM users WHERE id = $1`,
		userID,
	).Scan(&profile.DisplayName, &profile.Role)
	if err == sql.ErrNoRows {
		return profile, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve actor role: %w", err)
	}
	return profile, nil
}

// Stats aggregates conversation and message counts plus the average delay
// between a conversation opening and the first staff reply.
func (p *Postgres) Stats(ctx context.Context) (*model.ChatStats, error) {
	defer observe("stats", time.Now())

	stats := &model.ChatStats{
		ConversationsByStatus: make(map[string]int),
		ConversationsByPrio:   make(map[string]int),
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT status, priority, COUNT(*) FROM conversations GROUP BY status, priority`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate conversations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status, priority string
		var count int
		if err := rows.Scan(&status, &priority, &count); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}
		stats.ConversationsByStatus[status] += count
		stats.ConversationsByPrio[priority] += count
		stats.TotalConversations += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&stats.TotalMessages); err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	err = p.db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(EXTRACT(EPOCH FROM fr.created_at - c.created_at)), 0)
		FROM conversations c
		JOIN LATERAL (
			SELECT m.created_at FROM messages m
			WHERE m.conversation_id = c.id
			  AND m.sender_role IN ('admin', 'moderator', 'support')
			ORDER BY m.created_at ASC
			LIMIT 1
		) fr ON TRUE`,
	).Scan(&stats.AvgResponseSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to compute response time: %w", err)
	}

	return stats, nil
}

// DeleteConversationCascade runs the three delete steps inside one
// transaction when the caller wants them atomic. Step order matches the
// non-transactional path: messages, participants, conversation.
func (p *Postgres) DeleteConversationCascade(ctx context.Context, conversationID string) error {
	defer observe("delete_cascade", time.Now())

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_participants WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("failed to delete participants: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, conversationID); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return tx.Commit()
}
