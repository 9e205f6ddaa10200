// Package messaging implements two-party conversations: resolving the
// conversation between two users, posting and listing messages, read state
// and the per-user conversation feed.
package messaging

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/defrilex/messaging/internal/ids"
	"github.com/defrilex/messaging/internal/metrics"
	"github.com/defrilex/messaging/internal/models"
	"github.com/defrilex/messaging/internal/store"
)

const (
	MaxContentLength  = 5000     // characters
	MaxAttachments    = 10
	MaxAttachmentSize = 10 << 20 // bytes

	DefaultMessagePageSize      = 50
	DefaultConversationPageSize = 20
	MaxPageSize                 = 100

	maxPage = 1_000_000
)

// Service coordinates the conversation directory, message ledger and feed.
type Service struct {
	store store.DataStore
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for createdAt and readAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a Service backed by ds.
func NewService(ds store.DataStore, opts ...Option) *Service {
	s := &Service{store: ds, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// timestamp returns the current time in UTC at the precision both stores keep.
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// ResolveRequest identifies a conversation either directly or by its other participant.
type ResolveRequest struct {
	ConversationID string
	RecipientID    string
}

// SendRequest is a message to post, addressed like ResolveRequest.
type SendRequest struct {
	ConversationID string
	RecipientID    string
	Content        string
	Attachments    []models.Attachment
}

// SendResult is the outcome of Send.
type SendResult struct {
	Message             *models.Message
	Conversation        *models.Conversation
	ConversationCreated bool
}

// Pagination describes a page within a counted result set.
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	TotalCount int  `json:"totalCount"`
	TotalPages int  `json:"totalPages"`
	HasMore    bool `json:"hasMore"`
}

// MessagePage is one page of a conversation, oldest message first.
type MessagePage struct {
	Conversation *models.Conversation
	Messages     []models.Message
	Pagination   Pagination
	MarkedRead   int64 // messages transitioned to read by this call
}

// ConversationPage is one page of a user's conversation feed.
type ConversationPage struct {
	Items      []models.ConversationSummary
	Pagination Pagination
}

// ResolveConversation returns the conversation addressed by req for viewerID,
// creating the viewer/recipient conversation when none exists yet.
func (s *Service) ResolveConversation(ctx context.Context, viewerID string, req ResolveRequest) (*models.Conversation, bool, error) {
	if req.ConversationID != "" {
		conv, err := s.store.GetConversation(ctx, req.ConversationID)
		if err != nil {
			return nil, false, fmt.Errorf("get conversation: %w", err)
		}
		if conv == nil || !conv.HasParticipant(viewerID) {
			return nil, false, ErrConversationNotFound
		}
		return conv, false, nil
	}

	verr := &ValidationError{}
	switch {
	case strings.TrimSpace(req.RecipientID) == "":
		verr.add("recipientId", "recipientId is required when conversationId is not provided")
	case req.RecipientID == viewerID:
		verr.add("recipientId", "cannot start a conversation with yourself")
	}
	if err := verr.errOrNil(); err != nil {
		return nil, false, err
	}

	recipient, err := s.store.GetUserByID(ctx, req.RecipientID)
	if err != nil {
		return nil, false, fmt.Errorf("get recipient: %w", err)
	}
	if recipient == nil {
		return nil, false, ErrRecipientNotFound
	}

	conv, err := s.store.FindConversationBetween(ctx, viewerID, req.RecipientID)
	if err != nil {
		return nil, false, fmt.Errorf("find conversation: %w", err)
	}
	if conv != nil {
		return conv, false, nil
	}

	now := s.timestamp()
	conv, created, err := s.store.CreateConversation(ctx, &models.Conversation{
		ID:           ids.NewConversationID(),
		Participants: []string{viewerID, req.RecipientID},
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("create conversation: %w", err)
	}
	if created {
		metrics.ConversationsCreated.Inc()
	}
	return conv, created, nil
}

// ValidateMessage checks content and attachments without touching storage.
func ValidateMessage(content string, attachments []models.Attachment) error {
	verr := &ValidationError{}
	checkMessage(verr, content, attachments)
	return verr.errOrNil()
}

func checkMessage(verr *ValidationError, content string, attachments []models.Attachment) {
	if strings.TrimSpace(content) == "" {
		verr.add("content", "content is required")
	} else if utf8.RuneCountInString(content) > MaxContentLength {
		verr.add("content", fmt.Sprintf("content must be at most %d characters", MaxContentLength))
	}

	if len(attachments) > MaxAttachments {
		verr.add("attachments", fmt.Sprintf("at most %d attachments are allowed", MaxAttachments))
	}
	for i, a := range attachments {
		field := fmt.Sprintf("attachments[%d]", i)
		if strings.TrimSpace(a.URL) == "" {
			verr.add(field+".url", "url is required")
		}
		if strings.TrimSpace(a.Name) == "" {
			verr.add(field+".name", "name is required")
		}
		if a.Size < 0 || a.Size > MaxAttachmentSize {
			verr.add(field+".size", fmt.Sprintf("size must be between 0 and %d bytes", MaxAttachmentSize))
		}
	}
}

// PostMessage appends a message from senderID to conv and advances the conversation summary.
func (s *Service) PostMessage(ctx context.Context, conv *models.Conversation, senderID, content string, attachments []models.Attachment) (*models.Message, error) {
	if err := ValidateMessage(content, attachments); err != nil {
		return nil, err
	}
	if !conv.HasParticipant(senderID) {
		return nil, ErrForbidden
	}

	if attachments == nil {
		attachments = []models.Attachment{}
	}
	msg := &models.Message{
		ID:             ids.NewMessageID(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		Content:        content,
		Attachments:    attachments,
		CreatedAt:      s.timestamp(),
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	sender, err := s.store.GetUserByID(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("get sender: %w", err)
	}
	msg.Sender = sender

	if len(attachments) > 0 {
		metrics.MessagesSent.WithLabelValues("with").Inc()
	} else {
		metrics.MessagesSent.WithLabelValues("without").Inc()
	}
	return msg, nil
}

// Send validates the message, resolves its conversation and posts it.
// Invalid input is rejected before any conversation is created.
// RecipientID is always required; ConversationID, when set, selects the conversation.
func (s *Service) Send(ctx context.Context, senderID string, req SendRequest) (*SendResult, error) {
	verr := &ValidationError{}
	if strings.TrimSpace(req.RecipientID) == "" {
		verr.add("recipientId", "recipientId is required")
	}
	checkMessage(verr, req.Content, req.Attachments)
	if err := verr.errOrNil(); err != nil {
		return nil, err
	}

	conv, created, err := s.ResolveConversation(ctx, senderID, ResolveRequest{
		ConversationID: req.ConversationID,
		RecipientID:    req.RecipientID,
	})
	if err != nil {
		return nil, err
	}

	msg, err := s.PostMessage(ctx, conv, senderID, req.Content, req.Attachments)
	if err != nil {
		return nil, err
	}

	return &SendResult{Message: msg, Conversation: conv, ConversationCreated: created}, nil
}

// ListMessages returns a page of the conversation oldest-first and marks every
// unread message from the other participant as read. Messages in the returned
// page carry their state from before the call.
func (s *Service) ListMessages(ctx context.Context, conversationID, viewerID string, page, pageSize int) (*MessagePage, error) {
	if strings.TrimSpace(conversationID) == "" {
		verr := &ValidationError{}
		verr.add("conversationId", "conversationId is required")
		return nil, verr
	}
	page, pageSize = normalizePage(page, pageSize, DefaultMessagePageSize)

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if conv == nil || !conv.HasParticipant(viewerID) {
		return nil, ErrConversationNotFound
	}

	messages, total, err := s.store.ListMessages(ctx, conv.ID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	marked, err := s.store.MarkConversationRead(ctx, conv.ID, viewerID, s.timestamp())
	if err != nil {
		return nil, fmt.Errorf("mark conversation read: %w", err)
	}
	if marked > 0 {
		metrics.MessagesMarkedRead.WithLabelValues("bulk").Add(float64(marked))
	}

	// Stored newest-first for offset paging; callers read oldest-first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return &MessagePage{
		Conversation: conv,
		Messages:     messages,
		Pagination:   newPagination(page, pageSize, total),
		MarkedRead:   marked,
	}, nil
}

// MarkMessageRead marks a single incoming message read. Marking an already
// read message or one the viewer sent is a no-op.
func (s *Service) MarkMessageRead(ctx context.Context, messageID, viewerID string) (*models.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}

	conv, err := s.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if conv == nil || !conv.HasParticipant(viewerID) {
		return nil, ErrMessageNotFound
	}

	if msg.SenderID == viewerID || msg.ReadAt != nil {
		return msg, nil
	}

	at := s.timestamp()
	ok, err := s.store.MarkMessageRead(ctx, msg.ID, viewerID, at)
	if err != nil {
		return nil, fmt.Errorf("mark message read: %w", err)
	}
	if !ok {
		// Read concurrently; return the stored stamp.
		current, err := s.store.GetMessage(ctx, msg.ID)
		if err != nil {
			return nil, fmt.Errorf("get message: %w", err)
		}
		if current != nil {
			return current, nil
		}
		return msg, nil
	}

	metrics.MessagesMarkedRead.WithLabelValues("single").Inc()
	msg.ReadAt = &at
	return msg, nil
}

// ListConversations returns the viewer's conversations, most recent activity first.
func (s *Service) ListConversations(ctx context.Context, viewerID string, page, pageSize int) (*ConversationPage, error) {
	page, pageSize = normalizePage(page, pageSize, DefaultConversationPageSize)

	items, total, err := s.store.ListConversationsForUser(ctx, viewerID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if items == nil {
		items = []models.ConversationSummary{}
	}

	return &ConversationPage{
		Items:      items,
		Pagination: newPagination(page, pageSize, total),
	}, nil
}

// UnreadTotal counts unread incoming messages across all of the viewer's conversations.
func (s *Service) UnreadTotal(ctx context.Context, viewerID string) (int64, error) {
	n, err := s.store.CountUnread(ctx, viewerID)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// normalizePage clamps page to [1, maxPage] and pageSize to [1, MaxPageSize].
// A pageSize of zero selects def.
func normalizePage(page, pageSize, def int) (int, int) {
	if page < 1 {
		page = 1
	}
	if page > maxPage {
		page = maxPage
	}
	if pageSize == 0 {
		pageSize = def
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

func newPagination(page, limit, total int) Pagination {
	totalPages := 0
	if total > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return Pagination{
		Page:       page,
		Limit:      limit,
		TotalCount: total,
		TotalPages: totalPages,
		HasMore:    page < totalPages,
	}
}
