package store

import (
	"context"
	"errors"
	"time"

	"github.com/defrilex/messaging/internal/models"
)

// ErrInvalidParticipants is returned when a conversation is not made of two distinct users.
var ErrInvalidParticipants = errors.New("conversation requires two distinct participants")

// DataStore defines the interface for persistent storage of users, conversations and messages.
// Both PostgresStore and SQLiteStore implement this interface.
// Lookups return nil, nil when the row does not exist.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	UpsertUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)

	// Conversation operations
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	FindConversationBetween(ctx context.Context, a, b string) (*models.Conversation, error)
	// CreateConversation inserts conv unless the pair already has a conversation,
	// in which case the existing one is returned with created=false.
	CreateConversation(ctx context.Context, conv *models.Conversation) (existing *models.Conversation, created bool, err error)
	ListConversationsForUser(ctx context.Context, userID string, limit, offset int) ([]models.ConversationSummary, int, error)

	// Message operations
	// AppendMessage inserts msg and advances the conversation summary in one transaction.
	AppendMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, int, error)
	MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) (int64, error)
	MarkMessageRead(ctx context.Context, messageID, readerID string, at time.Time) (bool, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
}

// Open returns a PostgresStore when databaseURL is set, otherwise a SQLiteStore at sqlitePath.
func Open(ctx context.Context, databaseURL, sqlitePath string) (DataStore, error) {
	if databaseURL != "" {
		pg, err := NewPostgresStore(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	lite, err := NewSQLiteStore(ctx, sqlitePath)
	if err != nil {
		return nil, err
	}
	return lite, nil
}

// pairKey orders two participant ids canonically so an unordered pair maps to one row.
func pairKey(participants []string) (low, high string, err error) {
	if len(participants) != 2 || participants[0] == "" || participants[1] == "" || participants[0] == participants[1] {
		return "", "", ErrInvalidParticipants
	}
	low, high = participants[0], participants[1]
	if high < low {
		low, high = high, low
	}
	return low, high, nil
}

// optionalUser builds a user from nullable joined columns, returning nil when the row was absent.
func optionalUser(id, firstName, lastName, avatar *string) *models.User {
	if id == nil {
		return nil
	}
	u := &models.User{ID: *id, Avatar: avatar}
	if firstName != nil {
		u.FirstName = *firstName
	}
	if lastName != nil {
		u.LastName = *lastName
	}
	return u
}
