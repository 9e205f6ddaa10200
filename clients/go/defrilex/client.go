// Package defrilex provides a client for the Defrilex messaging API.
package defrilex

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is a Defrilex messaging API client.
type Client struct {
	BaseURL    string
	Token      string // Bearer token; empty for public endpoints only
	HTTPClient *http.Client
}

// NewClient creates a new client.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string       `json:"error"`
	Details    []FieldError `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("defrilex error %d: %s", e.StatusCode, e.Message)
	for _, d := range e.Details {
		msg += fmt.Sprintf(" (%s: %s)", d.Field, d.Message)
	}
	return msg
}

// doRequest performs an HTTP request and decodes a JSON response into out.
func (c *Client) doRequest(method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(respBody, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// User is a public user identity.
type User struct {
	ID        string  `json:"id"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Avatar    *string `json:"avatar"`
}

// Attachment describes a file referenced by a message.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// Message is a single conversation entry.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationId"`
	SenderID       string       `json:"senderId"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments"`
	CreatedAt      time.Time    `json:"createdAt"`
	ReadAt         *time.Time   `json:"readAt"`
	Sender         *User        `json:"sender,omitempty"`
}

// Pagination describes a page within a result set.
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	TotalCount int  `json:"totalCount"`
	TotalPages int  `json:"totalPages"`
	HasMore    bool `json:"hasMore"`
}

// Conversation is an entry of the conversation feed.
type Conversation struct {
	ID                string     `json:"id"`
	LastMessage       *string    `json:"lastMessage"`
	LastMessageAt     *time.Time `json:"lastMessageAt"`
	UnreadCount       int64      `json:"unreadCount"`
	Participant       *User      `json:"participant"`
	LastMessageSender *User      `json:"lastMessageSender"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// SendRequest is the body of a send. RecipientID is always required;
// ConversationID, when set, selects the conversation.
type SendRequest struct {
	ConversationID string       `json:"conversationId,omitempty"`
	RecipientID    string       `json:"recipientId"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments,omitempty"`
}

type messageEnvelope struct {
	Message *Message `json:"message"`
}

// MessagesResponse is a page of messages, oldest first.
type MessagesResponse struct {
	Messages   []Message  `json:"messages"`
	Pagination Pagination `json:"pagination"`
}

// ConversationsResponse is a page of the conversation feed.
type ConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Pagination    Pagination     `json:"pagination"`
}

// HealthResponse is the server health report.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Checks  map[string]struct {
		Status  string `json:"status"`
		Latency string `json:"latency,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"checks"`
	Timestamp string `json:"timestamp"`
}

// Send posts a message.
func (c *Client) Send(req SendRequest) (*Message, error) {
	var resp messageEnvelope
	if err := c.doRequest(http.MethodPost, "/messages", req, &resp); err != nil {
		return nil, err
	}
	return resp.Message, nil
}

// Messages fetches a page of a conversation. Reading marks incoming messages read.
// Zero page or limit uses the server default.
func (c *Client) Messages(conversationID string, page, limit int) (*MessagesResponse, error) {
	q := url.Values{}
	q.Set("conversationId", conversationID)
	setPage(q, page, limit)

	var resp MessagesResponse
	if err := c.doRequest(http.MethodGet, "/messages?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Conversations fetches a page of the conversation feed.
func (c *Client) Conversations(page, limit int) (*ConversationsResponse, error) {
	q := url.Values{}
	setPage(q, page, limit)

	path := "/conversations"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp ConversationsResponse
	if err := c.doRequest(http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MarkRead marks one message read.
func (c *Client) MarkRead(messageID string) (*Message, error) {
	var resp messageEnvelope
	if err := c.doRequest(http.MethodPost, "/messages/"+url.PathEscape(messageID)+"/read", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Message, nil
}

// Unread returns the total unread count.
func (c *Client) Unread() (int64, error) {
	var resp struct {
		UnreadCount int64 `json:"unreadCount"`
	}
	if err := c.doRequest(http.MethodGet, "/messages/unread", nil, &resp); err != nil {
		return 0, err
	}
	return resp.UnreadCount, nil
}

// GetUser fetches a public user identity.
func (c *Client) GetUser(userID string) (*User, error) {
	var user User
	if err := c.doRequest(http.MethodGet, "/users/"+url.PathEscape(userID), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Health checks server health. A degraded server is reported through the error.
func (c *Client) Health() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func setPage(q url.Values, page, limit int) {
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
}
