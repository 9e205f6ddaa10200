package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/defrilex/messaging/internal/models"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = 5 * time.Minute
	}
	if cfg.HealthCheckPeriod == 0 {
		cfg.HealthCheckPeriod = time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertUser inserts a user or refreshes its public identity.
func (s *PostgresStore) UpsertUser(ctx context.Context, user *models.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, first_name, last_name, avatar, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET first_name = EXCLUDED.first_name,
		    last_name = EXCLUDED.last_name,
		    avatar = EXCLUDED.avatar
	`, user.ID, user.FirstName, user.LastName, user.Avatar, user.CreatedAt)
	return err
}

// GetUserByID retrieves a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, first_name, last_name, avatar, created_at
		FROM users WHERE id = $1
	`, id).Scan(
		&user.ID,
		&user.FirstName,
		&user.LastName,
		&user.Avatar,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

const pgConversationColumns = `id, participant_low, participant_high, last_message, last_message_at, created_at, updated_at`

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	conv := &models.Conversation{}
	var low, high string
	err := row.Scan(
		&conv.ID,
		&low,
		&high,
		&conv.LastMessage,
		&conv.LastMessageAt,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	conv.Participants = []string{low, high}
	return conv, nil
}

// GetConversation retrieves a conversation by ID.
func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	return scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+pgConversationColumns+` FROM conversations WHERE id = $1`, id))
}

// FindConversationBetween retrieves the conversation for an unordered user pair.
func (s *PostgresStore) FindConversationBetween(ctx context.Context, a, b string) (*models.Conversation, error) {
	low, high, err := pairKey([]string{a, b})
	if err != nil {
		return nil, err
	}
	return scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+pgConversationColumns+` FROM conversations WHERE participant_low = $1 AND participant_high = $2`,
		low, high))
}

// CreateConversation inserts a conversation and its participant links.
// A unique violation on the pair means a concurrent caller won; its row is returned.
func (s *PostgresStore) CreateConversation(ctx context.Context, conv *models.Conversation) (*models.Conversation, bool, error) {
	low, high, err := pairKey(conv.Participants)
	if err != nil {
		return nil, false, err
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO conversations (id, participant_low, participant_high, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
		`, conv.ID, low, high, conv.CreatedAt, conv.UpdatedAt)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
			VALUES ($1, $2, $4), ($1, $3, $4)
		`, conv.ID, low, high, conv.CreatedAt)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "conversations_pair_key" {
			existing, findErr := s.FindConversationBetween(ctx, low, high)
			if findErr != nil {
				return nil, false, findErr
			}
			if existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	created := *conv
	created.Participants = []string{low, high}
	return &created, true, nil
}

// ListConversationsForUser retrieves a page of the user's conversations, newest activity first.
func (s *PostgresStore) ListConversationsForUser(ctx context.Context, userID string, limit, offset int) ([]models.ConversationSummary, int, error) {
	// Get total count
	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM conversation_participants WHERE user_id = $1`, userID,
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.participant_low, c.participant_high, c.last_message, c.last_message_at, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m
		         WHERE m.conversation_id = c.id AND m.sender_id <> $1 AND m.read_at IS NULL) AS unread_count,
		       o.id, o.first_name, o.last_name, o.avatar,
		       ls.id, ls.first_name, ls.last_name, ls.avatar
		FROM conversations c
		JOIN conversation_participants me ON me.conversation_id = c.id AND me.user_id = $1
		LEFT JOIN conversation_participants op ON op.conversation_id = c.id AND op.user_id <> $1
		LEFT JOIN users o ON o.id = op.user_id
		LEFT JOIN users ls ON ls.id = (
			SELECT m.sender_id FROM messages m
			WHERE m.conversation_id = c.id
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT 1
		)
		ORDER BY c.last_message_at IS NULL, c.last_message_at DESC, c.created_at DESC, c.id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []models.ConversationSummary{}
	for rows.Next() {
		var item models.ConversationSummary
		var low, high string
		var otherID, otherFirst, otherLast, otherAvatar *string
		var lastID, lastFirst, lastLast, lastAvatar *string
		err := rows.Scan(
			&item.ID,
			&low,
			&high,
			&item.LastMessage,
			&item.LastMessageAt,
			&item.CreatedAt,
			&item.UpdatedAt,
			&item.UnreadCount,
			&otherID, &otherFirst, &otherLast, &otherAvatar,
			&lastID, &lastFirst, &lastLast, &lastAvatar,
		)
		if err != nil {
			return nil, 0, err
		}
		item.Participants = []string{low, high}
		item.Participant = optionalUser(otherID, otherFirst, otherLast, otherAvatar)
		item.LastMessageSender = optionalUser(lastID, lastFirst, lastLast, lastAvatar)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return items, total, nil
}

// AppendMessage inserts a message and advances the conversation summary atomically.
// The summary only moves forward in time, so a late writer with an older
// timestamp does not overwrite a newer lastMessage.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	attachments, err := encodeAttachments(msg.Attachments)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO messages (id, conversation_id, sender_id, content, attachments, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, msg.ID, msg.ConversationID, msg.SenderID, msg.Content, attachments, msg.CreatedAt)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE conversations
			SET last_message = $2, last_message_at = $3, updated_at = $3
			WHERE id = $1 AND (last_message_at IS NULL OR last_message_at <= $3)
		`, msg.ConversationID, msg.Content, msg.CreatedAt)
		return err
	})
}

const pgMessageSelect = `
	SELECT m.id, m.conversation_id, m.sender_id, m.content, m.attachments, m.created_at, m.read_at,
	       u.id, u.first_name, u.last_name, u.avatar
	FROM messages m
	LEFT JOIN users u ON u.id = m.sender_id`

func scanMessage(row pgx.Row) (*models.Message, error) {
	msg := &models.Message{}
	var attachments []byte
	var userID, first, last, avatar *string
	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.Content,
		&attachments,
		&msg.CreatedAt,
		&msg.ReadAt,
		&userID, &first, &last, &avatar,
	)
	if err != nil {
		return nil, err
	}
	if msg.Attachments, err = decodeAttachments(attachments); err != nil {
		return nil, err
	}
	msg.Sender = optionalUser(userID, first, last, avatar)
	return msg, nil
}

// GetMessage retrieves a message by ID with its sender.
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	msg, err := scanMessage(s.pool.QueryRow(ctx, pgMessageSelect+` WHERE m.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// ListMessages retrieves a page of a conversation's messages, newest first.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, int, error) {
	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, conversationID,
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, pgMessageSelect+`
		WHERE m.conversation_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $2 OFFSET $3
	`, conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

// MarkConversationRead stamps every unread message not sent by readerID.
func (s *PostgresStore) MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET read_at = $3
		WHERE conversation_id = $1 AND sender_id <> $2 AND read_at IS NULL
	`, conversationID, readerID, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MarkMessageRead stamps a single message if it is unread and not sent by readerID.
func (s *PostgresStore) MarkMessageRead(ctx context.Context, messageID, readerID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET read_at = $3
		WHERE id = $1 AND sender_id <> $2 AND read_at IS NULL
	`, messageID, readerID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CountUnread returns the number of unread incoming messages across the user's conversations.
func (s *PostgresStore) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM messages m
		JOIN conversation_participants p ON p.conversation_id = m.conversation_id AND p.user_id = $1
		WHERE m.sender_id <> $1 AND m.read_at IS NULL
	`, userID).Scan(&count)
	return count, err
}

func encodeAttachments(attachments []models.Attachment) (string, error) {
	if attachments == nil {
		attachments = []models.Attachment{}
	}
	data, err := json.Marshal(attachments)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeAttachments(data []byte) ([]models.Attachment, error) {
	attachments := []models.Attachment{}
	if len(data) == 0 {
		return attachments, nil
	}
	if err := json.Unmarshal(data, &attachments); err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}
	return attachments, nil
}
