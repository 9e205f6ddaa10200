// Package ids generates identifiers for conversations and messages.
package ids

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewConversationID generates a time-ordered UUID v7.
func NewConversationID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewMessageID generates a ULID. IDs minted in the same millisecond by one
// process are strictly increasing, so they break createdAt ties in order.
func NewMessageID() string {
	return ulid.Make().String()
}
