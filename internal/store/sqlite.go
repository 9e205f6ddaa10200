package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/defrilex/messaging/internal/models"
)

type userRow struct {
	ID        string `gorm:"primaryKey;size:64"`
	FirstName string `gorm:"not null"`
	LastName  string `gorm:"not null"`
	Avatar    *string
	CreatedAt time.Time
}

func (userRow) TableName() string { return "users" }

type conversationRow struct {
	ID              string     `gorm:"primaryKey;size:36"`
	ParticipantLow  string     `gorm:"not null;uniqueIndex:idx_conversations_pair,priority:1"`
	ParticipantHigh string     `gorm:"not null;uniqueIndex:idx_conversations_pair,priority:2"`
	LastMessage     *string
	LastMessageAt   *time.Time `gorm:"index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (conversationRow) TableName() string { return "conversations" }

type participantRow struct {
	ConversationID string `gorm:"primaryKey;size:36"`
	UserID         string `gorm:"primaryKey;size:64;index"`
	JoinedAt       time.Time
}

func (participantRow) TableName() string { return "conversation_participants" }

type messageRow struct {
	ID             string    `gorm:"primaryKey;size:26"`
	ConversationID string    `gorm:"not null;index:idx_messages_conversation_created,priority:1"`
	SenderID       string    `gorm:"not null;index"`
	Content        string    `gorm:"not null"`
	Attachments    string    `gorm:"not null"` // JSON array
	CreatedAt      time.Time `gorm:"index:idx_messages_conversation_created,priority:2"`
	ReadAt         *time.Time
}

func (messageRow) TableName() string { return "messages" }

// SQLiteStore handles SQLite database operations through gorm.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/defrilex.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/defrilex.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	dsn := dbPath + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	// Initialize schema
	if err := db.WithContext(ctx).AutoMigrate(&userRow{}, &conversationRow{}, &participantRow{}, &messageRow{}); err != nil {
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	if sqlDB, err := s.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// UpsertUser inserts a user or refreshes its public identity.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *models.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	row := userRow{
		ID:        user.ID,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Avatar:    user.Avatar,
		CreatedAt: user.CreatedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"first_name", "last_name", "avatar"}),
	}).Create(&row).Error
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var row userRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return row.toModel(), nil
}

func (r *userRow) toModel() *models.User {
	return &models.User{
		ID:        r.ID,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Avatar:    r.Avatar,
		CreatedAt: r.CreatedAt,
	}
}

func (r *conversationRow) toModel() *models.Conversation {
	return &models.Conversation{
		ID:            r.ID,
		Participants:  []string{r.ParticipantLow, r.ParticipantHigh},
		LastMessage:   r.LastMessage,
		LastMessageAt: r.LastMessageAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func (s *SQLiteStore) takeConversation(q *gorm.DB) (*models.Conversation, error) {
	var row conversationRow
	if err := q.Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return row.toModel(), nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	return s.takeConversation(s.db.WithContext(ctx).Where("id = ?", id))
}

// FindConversationBetween retrieves the conversation for an unordered user pair.
func (s *SQLiteStore) FindConversationBetween(ctx context.Context, a, b string) (*models.Conversation, error) {
	low, high, err := pairKey([]string{a, b})
	if err != nil {
		return nil, err
	}
	return s.takeConversation(s.db.WithContext(ctx).
		Where("participant_low = ? AND participant_high = ?", low, high))
}

// CreateConversation inserts a conversation and its participant links.
// ON CONFLICT DO NOTHING on the pair index lets a concurrent insert win; its row is returned.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *models.Conversation) (*models.Conversation, bool, error) {
	low, high, err := pairKey(conv.Participants)
	if err != nil {
		return nil, false, err
	}

	row := conversationRow{
		ID:              conv.ID,
		ParticipantLow:  low,
		ParticipantHigh: high,
		CreatedAt:       conv.CreatedAt,
		UpdatedAt:       conv.UpdatedAt,
	}

	created := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "participant_low"}, {Name: "participant_high"}},
			DoNothing: true,
		}).Create(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		created = true

		links := []participantRow{
			{ConversationID: row.ID, UserID: low, JoinedAt: row.CreatedAt},
			{ConversationID: row.ID, UserID: high, JoinedAt: row.CreatedAt},
		}
		return tx.Create(&links).Error
	})
	if err != nil {
		return nil, false, err
	}

	if !created {
		existing, err := s.FindConversationBetween(ctx, low, high)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("conversation for %s/%s conflicted but was not found", low, high)
		}
		return existing, false, nil
	}

	return row.toModel(), true, nil
}

// feedRow is one row of the conversation feed query.
type feedRow struct {
	ID                  string
	ParticipantLow      string
	ParticipantHigh     string
	LastMessage         *string
	LastMessageAt       *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
	UnreadCount         int64
	OtherID             *string
	OtherFirstName      *string
	OtherLastName       *string
	OtherAvatar         *string
	LastSenderID        *string
	LastSenderFirstName *string
	LastSenderLastName  *string
	LastSenderAvatar    *string
}

const sqliteFeedQuery = `
	SELECT c.id, c.participant_low, c.participant_high, c.last_message, c.last_message_at, c.created_at, c.updated_at,
	       (SELECT COUNT(*) FROM messages m
	         WHERE m.conversation_id = c.id AND m.sender_id <> @user AND m.read_at IS NULL) AS unread_count,
	       o.id AS other_id, o.first_name AS other_first_name, o.last_name AS other_last_name, o.avatar AS other_avatar,
	       ls.id AS last_sender_id, ls.first_name AS last_sender_first_name,
	       ls.last_name AS last_sender_last_name, ls.avatar AS last_sender_avatar
	FROM conversations c
	JOIN conversation_participants me ON me.conversation_id = c.id AND me.user_id = @user
	LEFT JOIN conversation_participants op ON op.conversation_id = c.id AND op.user_id <> @user
	LEFT JOIN users o ON o.id = op.user_id
	LEFT JOIN users ls ON ls.id = (
		SELECT m.sender_id FROM messages m
		WHERE m.conversation_id = c.id
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT 1
	)
	ORDER BY c.last_message_at IS NULL, c.last_message_at DESC, c.created_at DESC, c.id DESC
	LIMIT @limit OFFSET @offset`

// ListConversationsForUser retrieves a page of the user's conversations, newest activity first.
func (s *SQLiteStore) ListConversationsForUser(ctx context.Context, userID string, limit, offset int) ([]models.ConversationSummary, int, error) {
	db := s.db.WithContext(ctx)

	// Get total count
	var total int64
	if err := db.Model(&participantRow{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []feedRow
	err := db.Raw(sqliteFeedQuery, map[string]interface{}{
		"user":   userID,
		"limit":  limit,
		"offset": offset,
	}).Scan(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	items := make([]models.ConversationSummary, 0, len(rows))
	for _, r := range rows {
		items = append(items, models.ConversationSummary{
			Conversation: models.Conversation{
				ID:            r.ID,
				Participants:  []string{r.ParticipantLow, r.ParticipantHigh},
				LastMessage:   r.LastMessage,
				LastMessageAt: r.LastMessageAt,
				CreatedAt:     r.CreatedAt,
				UpdatedAt:     r.UpdatedAt,
			},
			UnreadCount:       r.UnreadCount,
			Participant:       optionalUser(r.OtherID, r.OtherFirstName, r.OtherLastName, r.OtherAvatar),
			LastMessageSender: optionalUser(r.LastSenderID, r.LastSenderFirstName, r.LastSenderLastName, r.LastSenderAvatar),
		})
	}

	return items, int(total), nil
}

// AppendMessage inserts a message and advances the conversation summary atomically.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	attachments, err := encodeAttachments(msg.Attachments)
	if err != nil {
		return err
	}

	row := messageRow{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		Attachments:    attachments,
		CreatedAt:      msg.CreatedAt,
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return tx.Model(&conversationRow{}).
			Where("id = ? AND (last_message_at IS NULL OR last_message_at <= ?)", msg.ConversationID, msg.CreatedAt).
			UpdateColumns(map[string]interface{}{
				"last_message":    msg.Content,
				"last_message_at": msg.CreatedAt,
				"updated_at":      msg.CreatedAt,
			}).Error
	})
}

func (r *messageRow) toModel() (*models.Message, error) {
	attachments, err := decodeAttachments([]byte(r.Attachments))
	if err != nil {
		return nil, err
	}
	return &models.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		Content:        r.Content,
		Attachments:    attachments,
		CreatedAt:      r.CreatedAt,
		ReadAt:         r.ReadAt,
	}, nil
}

// attachSenders loads the sender of every message in one query.
func (s *SQLiteStore) attachSenders(ctx context.Context, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	senderIDs := make([]string, 0, 2)
	for _, m := range messages {
		if !seen[m.SenderID] {
			seen[m.SenderID] = true
			senderIDs = append(senderIDs, m.SenderID)
		}
	}

	var users []userRow
	if err := s.db.WithContext(ctx).Where("id IN ?", senderIDs).Find(&users).Error; err != nil {
		return err
	}
	byID := make(map[string]*models.User, len(users))
	for i := range users {
		byID[users[i].ID] = users[i].toModel()
	}
	for i := range messages {
		messages[i].Sender = byID[messages[i].SenderID]
	}
	return nil
}

// GetMessage retrieves a message by ID with its sender.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var row messageRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	msg, err := row.toModel()
	if err != nil {
		return nil, err
	}
	one := []models.Message{*msg}
	if err := s.attachSenders(ctx, one); err != nil {
		return nil, err
	}
	return &one[0], nil
}

// ListMessages retrieves a page of a conversation's messages, newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, int, error) {
	db := s.db.WithContext(ctx)

	var total int64
	if err := db.Model(&messageRow{}).Where("conversation_id = ?", conversationID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []messageRow
	err := db.Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	messages := make([]models.Message, 0, len(rows))
	for i := range rows {
		msg, err := rows[i].toModel()
		if err != nil {
			return nil, 0, err
		}
		messages = append(messages, *msg)
	}
	if err := s.attachSenders(ctx, messages); err != nil {
		return nil, 0, err
	}

	return messages, int(total), nil
}

// MarkConversationRead stamps every unread message not sent by readerID.
func (s *SQLiteStore) MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&messageRow{}).
		Where("conversation_id = ? AND sender_id <> ? AND read_at IS NULL", conversationID, readerID).
		UpdateColumn("read_at", at)
	return res.RowsAffected, res.Error
}

// MarkMessageRead stamps a single message if it is unread and not sent by readerID.
func (s *SQLiteStore) MarkMessageRead(ctx context.Context, messageID, readerID string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&messageRow{}).
		Where("id = ? AND sender_id <> ? AND read_at IS NULL", messageID, readerID).
		UpdateColumn("read_at", at)
	return res.RowsAffected > 0, res.Error
}

// CountUnread returns the number of unread incoming messages across the user's conversations.
func (s *SQLiteStore) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&messageRow{}).
		Joins("JOIN conversation_participants p ON p.conversation_id = messages.conversation_id AND p.user_id = ?", userID).
		Where("messages.sender_id <> ? AND messages.read_at IS NULL", userID).
		Count(&count).Error
	return count, err
}
