package models

import "time"

// Attachment describes a file referenced by a message. Files themselves live elsewhere.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// Message is a single entry in a conversation.
// Only ReadAt changes after creation, and only from nil to a timestamp.
type Message struct {
	ID             string       `json:"id"` // ULID
	ConversationID string       `json:"conversationId"`
	SenderID       string       `json:"senderId"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments"`
	CreatedAt      time.Time    `json:"createdAt"`
	ReadAt         *time.Time   `json:"readAt"`
	Sender         *User        `json:"sender,omitempty"`
}
