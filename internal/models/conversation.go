package models

import "time"

// Conversation represents a two-party messaging thread.
type Conversation struct {
	ID            string     `json:"id"`
	Participants  []string   `json:"participants"`
	LastMessage   *string    `json:"lastMessage"`   // Denormalized copy of the newest message
	LastMessageAt *time.Time `json:"lastMessageAt"` // Nil until the first message
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// HasParticipant reports whether userID is one of the conversation's participants.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// ConversationSummary is a feed entry as seen by one viewer.
type ConversationSummary struct {
	Conversation
	UnreadCount       int64 `json:"unreadCount"`
	Participant       *User `json:"participant"`
	LastMessageSender *User `json:"lastMessageSender"`
}
