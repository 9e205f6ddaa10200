package messaging

import (
	"errors"
	"strings"
)

var (
	// ErrConversationNotFound covers both a missing conversation and one the viewer is not part of.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrRecipientNotFound is returned when the recipient of a new conversation does not exist.
	ErrRecipientNotFound = errors.New("recipient not found")
	// ErrForbidden is returned when the sender is not a participant of the conversation.
	ErrForbidden = errors.New("not a participant of this conversation")
	// ErrMessageNotFound covers a missing message and one outside the viewer's conversations.
	ErrMessageNotFound = errors.New("message not found")
)

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned when request input fails validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// errOrNil returns e as an error only when it holds at least one field.
func (e *ValidationError) errOrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
