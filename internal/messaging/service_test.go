package messaging

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/defrilex/messaging/internal/models"
	"github.com/defrilex/messaging/internal/store"
)

// stepClock returns a clock that advances by one second on every call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func newTestService(t *testing.T) (*Service, store.DataStore) {
	t.Helper()
	ds, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "messaging.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(ds.Close)

	for _, u := range []models.User{
		{ID: "alice", FirstName: "Alice", LastName: "A"},
		{ID: "bob", FirstName: "Bob", LastName: "B"},
		{ID: "carol", FirstName: "Carol", LastName: "C"},
	} {
		u := u
		if err := ds.UpsertUser(context.Background(), &u); err != nil {
			t.Fatalf("UpsertUser: %v", err)
		}
	}

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return NewService(ds, WithClock(stepClock(start))), ds
}

func mustSend(t *testing.T, svc *Service, sender string, req SendRequest) *SendResult {
	t.Helper()
	res, err := svc.Send(context.Background(), sender, req)
	if err != nil {
		t.Fatalf("Send(%s): %v", sender, err)
	}
	return res
}

func fieldsOf(t *testing.T, err error) []string {
	t.Helper()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	fields := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		fields = append(fields, f.Field)
	}
	return fields
}

func TestConversationScenario(t *testing.T) {
	svc, ds := newTestService(t)
	ctx := context.Background()

	first := mustSend(t, svc, "alice", SendRequest{RecipientID: "bob", Content: "Hi Bob"})
	if !first.ConversationCreated {
		t.Fatal("first message should create the conversation")
	}
	if first.Message.Sender == nil || first.Message.Sender.FirstName != "Alice" {
		t.Errorf("sender = %+v", first.Message.Sender)
	}

	reply := mustSend(t, svc, "bob", SendRequest{ConversationID: first.Conversation.ID, RecipientID: "alice", Content: "Hi Alice"})
	if reply.ConversationCreated || reply.Conversation.ID != first.Conversation.ID {
		t.Fatalf("reply went to %s (created=%v)", reply.Conversation.ID, reply.ConversationCreated)
	}

	third := mustSend(t, svc, "alice", SendRequest{RecipientID: "bob", Content: "Are you free?"})
	if third.Conversation.ID != first.Conversation.ID {
		t.Fatalf("third message created a second conversation")
	}

	// Bob opens the conversation.
	page, err := svc.ListMessages(ctx, first.Conversation.ID, "bob", 1, 50)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	want := []string{"Hi Bob", "Hi Alice", "Are you free?"}
	if len(page.Messages) != len(want) {
		t.Fatalf("got %d messages, want %d", len(page.Messages), len(want))
	}
	for i, content := range want {
		if page.Messages[i].Content != content {
			t.Errorf("messages[%d] = %q, want %q", i, page.Messages[i].Content, content)
		}
	}
	if page.MarkedRead != 2 {
		t.Errorf("MarkedRead = %d, want 2", page.MarkedRead)
	}
	for _, m := range page.Messages {
		if m.ReadAt != nil {
			t.Errorf("page should show pre-read state, %s has readAt", m.ID)
		}
	}
	if page.Pagination != (Pagination{Page: 1, Limit: 50, TotalCount: 3, TotalPages: 1, HasMore: false}) {
		t.Errorf("pagination = %+v", page.Pagination)
	}

	// Reading again shows the new state; Bob's own message stays unread.
	again, err := svc.ListMessages(ctx, first.Conversation.ID, "bob", 1, 50)
	if err != nil {
		t.Fatalf("ListMessages again: %v", err)
	}
	if again.MarkedRead != 0 {
		t.Errorf("second MarkedRead = %d, want 0", again.MarkedRead)
	}
	for _, m := range again.Messages {
		if m.SenderID == "alice" && m.ReadAt == nil {
			t.Errorf("alice's message %s still unread", m.ID)
		}
		if m.SenderID == "bob" && m.ReadAt != nil {
			t.Errorf("bob's own message %s was marked read", m.ID)
		}
	}

	feed, err := svc.ListConversations(ctx, "bob", 1, 20)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(feed.Items) != 1 {
		t.Fatalf("feed has %d items, want 1", len(feed.Items))
	}
	item := feed.Items[0]
	if item.UnreadCount != 0 {
		t.Errorf("unreadCount = %d, want 0", item.UnreadCount)
	}
	if item.LastMessage == nil || *item.LastMessage != "Are you free?" {
		t.Errorf("lastMessage = %v", item.LastMessage)
	}
	if item.Participant == nil || item.Participant.ID != "alice" {
		t.Errorf("participant = %+v", item.Participant)
	}
	if item.LastMessageSender == nil || item.LastMessageSender.ID != "alice" {
		t.Errorf("lastMessageSender = %+v", item.LastMessageSender)
	}

	aliceUnread, err := svc.UnreadTotal(ctx, "alice")
	if err != nil || aliceUnread != 1 {
		t.Errorf("UnreadTotal(alice) = %d, %v; want 1", aliceUnread, err)
	}

	// Carol is not part of the conversation; her attempts leave no trace.
	before := snapshotConversation(t, ds, first.Conversation.ID)
	if _, err := svc.ListMessages(ctx, first.Conversation.ID, "carol", 1, 50); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("carol ListMessages err = %v, want ErrConversationNotFound", err)
	}
	if _, err := svc.Send(ctx, "carol", SendRequest{ConversationID: first.Conversation.ID, RecipientID: "bob", Content: "hey"}); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("carol Send err = %v, want ErrConversationNotFound", err)
	}
	assertConversationUnchanged(t, before, snapshotConversation(t, ds, first.Conversation.ID))

	for _, other := range []string{"alice", "bob"} {
		conv, err := ds.FindConversationBetween(ctx, "carol", other)
		if err != nil || conv != nil {
			t.Errorf("carol/%s conversation = %+v, %v; want none", other, conv, err)
		}
	}
	carolFeed, err := svc.ListConversations(ctx, "carol", 1, 20)
	if err != nil || len(carolFeed.Items) != 0 {
		t.Errorf("carol feed = %+v, %v; want empty", carolFeed, err)
	}
}

type conversationSnapshot struct {
	conv     *models.Conversation
	messages []models.Message
	total    int
}

func snapshotConversation(t *testing.T, ds store.DataStore, id string) conversationSnapshot {
	t.Helper()
	ctx := context.Background()
	conv, err := ds.GetConversation(ctx, id)
	if err != nil || conv == nil {
		t.Fatalf("GetConversation(%s) = %+v, %v", id, conv, err)
	}
	msgs, total, err := ds.ListMessages(ctx, id, MaxPageSize, 0)
	if err != nil {
		t.Fatalf("ListMessages(%s): %v", id, err)
	}
	return conversationSnapshot{conv: conv, messages: msgs, total: total}
}

func assertConversationUnchanged(t *testing.T, before, after conversationSnapshot) {
	t.Helper()
	if after.total != before.total || len(after.messages) != len(before.messages) {
		t.Fatalf("message count %d -> %d", before.total, after.total)
	}
	if !equalStringPtr(before.conv.LastMessage, after.conv.LastMessage) {
		t.Errorf("lastMessage %v -> %v", before.conv.LastMessage, after.conv.LastMessage)
	}
	if !equalTimePtr(before.conv.LastMessageAt, after.conv.LastMessageAt) {
		t.Errorf("lastMessageAt %v -> %v", before.conv.LastMessageAt, after.conv.LastMessageAt)
	}
	for i := range before.messages {
		b, a := before.messages[i], after.messages[i]
		if b.ID != a.ID || !equalTimePtr(b.ReadAt, a.ReadAt) {
			t.Errorf("message %s readAt %v -> %s %v", b.ID, b.ReadAt, a.ID, a.ReadAt)
		}
	}
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func TestSendRequiresRecipient(t *testing.T) {
	svc, ds := newTestService(t)
	ctx := context.Background()

	res := mustSend(t, svc, "alice", SendRequest{RecipientID: "bob", Content: "hello"})
	before := snapshotConversation(t, ds, res.Conversation.ID)

	tests := []struct {
		name string
		req  SendRequest
	}{
		{name: "with conversation", req: SendRequest{ConversationID: res.Conversation.ID, Content: "again"}},
		{name: "blank", req: SendRequest{ConversationID: res.Conversation.ID, RecipientID: "  ", Content: "again"}},
		{name: "nothing", req: SendRequest{Content: "again"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Send(ctx, "alice", tt.req)
			fields := fieldsOf(t, err)
			if len(fields) != 1 || fields[0] != "recipientId" {
				t.Errorf("fields = %v, want [recipientId]", fields)
			}
		})
	}

	_, err := svc.Send(ctx, "alice", SendRequest{Content: " "})
	if fields := fieldsOf(t, err); len(fields) != 2 {
		t.Errorf("fields = %v, want recipientId and content", fields)
	}

	assertConversationUnchanged(t, before, snapshotConversation(t, ds, res.Conversation.ID))
}

func TestResolveConversationIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, created, err := svc.ResolveConversation(ctx, "alice", ResolveRequest{RecipientID: "bob"})
	if err != nil || !created {
		t.Fatalf("first resolve = %v, %v", created, err)
	}
	if conv.LastMessage != nil || conv.LastMessageAt != nil {
		t.Errorf("new conversation has summary: %+v", conv)
	}

	for _, tc := range []struct{ viewer, recipient string }{{"alice", "bob"}, {"bob", "alice"}} {
		again, created, err := svc.ResolveConversation(ctx, tc.viewer, ResolveRequest{RecipientID: tc.recipient})
		if err != nil {
			t.Fatalf("resolve %s->%s: %v", tc.viewer, tc.recipient, err)
		}
		if created || again.ID != conv.ID {
			t.Errorf("resolve %s->%s = %s (created=%v), want %s", tc.viewer, tc.recipient, again.ID, created, conv.ID)
		}
	}

	byID, created, err := svc.ResolveConversation(ctx, "bob", ResolveRequest{ConversationID: conv.ID})
	if err != nil || created || byID.ID != conv.ID {
		t.Errorf("resolve by id = %v, %v, %v", byID, created, err)
	}
}

func TestResolveConversationErrors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conv, _, err := svc.ResolveConversation(ctx, "alice", ResolveRequest{RecipientID: "bob"})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		viewer  string
		req     ResolveRequest
		wantErr error
		field   string
	}{
		{name: "unknown conversation", viewer: "alice", req: ResolveRequest{ConversationID: "nope"}, wantErr: ErrConversationNotFound},
		{name: "outsider", viewer: "carol", req: ResolveRequest{ConversationID: conv.ID}, wantErr: ErrConversationNotFound},
		{name: "unknown recipient", viewer: "alice", req: ResolveRequest{RecipientID: "zed"}, wantErr: ErrRecipientNotFound},
		{name: "self", viewer: "alice", req: ResolveRequest{RecipientID: "alice"}, field: "recipientId"},
		{name: "no address", viewer: "alice", req: ResolveRequest{}, field: "recipientId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.ResolveConversation(ctx, tt.viewer, tt.req)
			if tt.field != "" {
				fields := fieldsOf(t, err)
				if len(fields) != 1 || fields[0] != tt.field {
					t.Errorf("fields = %v, want [%s]", fields, tt.field)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSendRejectsEmptyContentWithoutSideEffects(t *testing.T) {
	svc, ds := newTestService(t)
	ctx := context.Background()

	for _, content := range []string{"", "   ", "\n\t"} {
		_, err := svc.Send(ctx, "alice", SendRequest{RecipientID: "bob", Content: content})
		fields := fieldsOf(t, err)
		if len(fields) != 1 || fields[0] != "content" {
			t.Errorf("content %q: fields = %v", content, fields)
		}
	}

	conv, err := ds.FindConversationBetween(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if conv != nil {
		t.Fatalf("rejected send created conversation %s", conv.ID)
	}

	// A rejected post into an existing conversation leaves the summary alone.
	res := mustSend(t, svc, "alice", SendRequest{RecipientID: "bob", Content: "first"})
	if _, err := svc.PostMessage(ctx, res.Conversation, "bob", " ", nil); err == nil {
		t.Fatal("PostMessage with blank content succeeded")
	}
	stored, err := ds.GetConversation(ctx, res.Conversation.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.LastMessage == nil || *stored.LastMessage != "first" {
		t.Errorf("lastMessage = %v, want first", stored.LastMessage)
	}
	_, total, err := ds.ListMessages(ctx, res.Conversation.ID, 10, 0)
	if err != nil || total != 1 {
		t.Errorf("message count = %d, %v; want 1", total, err)
	}
}

func TestValidateMessage(t *testing.T) {
	ok := models.Attachment{URL: "https://files/brief.pdf", Name: "brief.pdf", Type: "application/pdf", Size: 1024}

	tests := []struct {
		name        string
		content     string
		attachments []models.Attachment
		fields      []string
	}{
		{name: "valid", content: "hello", attachments: []models.Attachment{ok}},
		{name: "max length", content: strings.Repeat("é", MaxContentLength)},
		{name: "too long", content: strings.Repeat("a", MaxContentLength+1), fields: []string{"content"}},
		{name: "blank", content: " ", fields: []string{"content"}},
		{name: "too many attachments", content: "x", attachments: make11(ok), fields: []string{"attachments"}},
		{name: "missing url and name", content: "x", attachments: []models.Attachment{{Size: 1}}, fields: []string{"attachments[0].url", "attachments[0].name"}},
		{name: "oversized", content: "x", attachments: []models.Attachment{ok, {URL: "u", Name: "n", Size: MaxAttachmentSize + 1}}, fields: []string{"attachments[1].size"}},
		{name: "negative size", content: "x", attachments: []models.Attachment{{URL: "u", Name: "n", Size: -1}}, fields: []string{"attachments[0].size"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage(tt.content, tt.attachments)
			if len(tt.fields) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			got := fieldsOf(t, err)
			if strings.Join(got, ",") != strings.Join(tt.fields, ",") {
				t.Errorf("fields = %v, want %v", got, tt.fields)
			}
		})
	}
}

func make11(a models.Attachment) []models.Attachment {
	out := make([]models.Attachment, MaxAttachments+1)
	for i := range out {
		out[i] = a
	}
	return out
}

func TestPostMessageForbiddenForOutsider(t *testing.T) {
	svc, _ := newTestService(t)
	conv, _, err := svc.ResolveConversation(context.Background(), "alice", ResolveRequest{RecipientID: "bob"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.PostMessage(context.Background(), conv, "carol", "hi", nil); !errors.Is(err, ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}
}

func TestListMessagesPaging(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	var convID string
	for i := 0; i < 5; i++ {
		res := mustSend(t, svc, "alice", SendRequest{RecipientID: "bob", Content: string(rune('a' + i))})
		convID = res.Conversation.ID
	}

	first, err := svc.ListMessages(ctx, convID, "alice", 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got := contents(first.Messages); got != "de" {
		t.Errorf("page 1 = %q, want de", got)
	}
	if first.Pagination != (Pagination{Page: 1, Limit: 2, TotalCount: 5, TotalPages: 3, HasMore: true}) {
		t.Errorf("page 1 pagination = %+v", first.Pagination)
	}

	last, err := svc.ListMessages(ctx, convID, "alice", 3, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got := contents(last.Messages); got != "a" {
		t.Errorf("page 3 = %q, want a", got)
	}
	if last.Pagination.HasMore {
		t.Error("page 3 reports hasMore")
	}

	beyond, err := svc.ListMessages(ctx, convID, "alice", 9, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(beyond.Messages) != 0 || beyond.Pagination.HasMore {
		t.Errorf("beyond last page = %+v", beyond)
	}

	// Alice wrote every message, so her reads mark nothing.
	if first.MarkedRead != 0 {
		t.Errorf("sender marked %d of her own messages", first.MarkedRead)
	}

	if _, err := svc.ListMessages(ctx, "", "alice", 1, 2); err == nil {
		t.Error("missing conversation id accepted")
	}
}

func contents(messages []models.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Content)
	}
	return b.String()
}

func TestMarkMessageRead(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res := mustSend(t, svc, "alice", SendRequest{RecipientID: "bob", Content: "ping"})
	id := res.Message.ID

	own, err := svc.MarkMessageRead(ctx, id, "alice")
	if err != nil || own.ReadAt != nil {
		t.Fatalf("sender mark = %+v, %v; want unchanged", own, err)
	}

	read, err := svc.MarkMessageRead(ctx, id, "bob")
	if err != nil || read.ReadAt == nil {
		t.Fatalf("recipient mark = %+v, %v; want readAt", read, err)
	}

	again, err := svc.MarkMessageRead(ctx, id, "bob")
	if err != nil || again.ReadAt == nil || !again.ReadAt.Equal(*read.ReadAt) {
		t.Errorf("second mark = %+v, %v; want same readAt", again, err)
	}

	if _, err := svc.MarkMessageRead(ctx, id, "carol"); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("outsider err = %v, want ErrMessageNotFound", err)
	}
	if _, err := svc.MarkMessageRead(ctx, "missing", "bob"); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("missing err = %v, want ErrMessageNotFound", err)
	}

	if n, _ := svc.UnreadTotal(ctx, "bob"); n != 0 {
		t.Errorf("UnreadTotal(bob) = %d, want 0", n)
	}
}

func TestListConversationsOrdering(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	withBob := mustSend(t, svc, "alice", SendRequest{RecipientID: "bob", Content: "one"})
	withCarol := mustSend(t, svc, "alice", SendRequest{RecipientID: "carol", Content: "two"})

	feed, err := svc.ListConversations(ctx, "alice", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if feed.Pagination.Limit != DefaultConversationPageSize {
		t.Errorf("limit = %d, want default %d", feed.Pagination.Limit, DefaultConversationPageSize)
	}
	if len(feed.Items) != 2 || feed.Items[0].ID != withCarol.Conversation.ID {
		t.Fatalf("feed order wrong: %+v", feed.Items)
	}

	mustSend(t, svc, "bob", SendRequest{ConversationID: withBob.Conversation.ID, RecipientID: "alice", Content: "three"})
	feed, err = svc.ListConversations(ctx, "alice", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if feed.Items[0].ID != withBob.Conversation.ID || feed.Items[0].UnreadCount != 1 {
		t.Errorf("bob's reply should lead the feed: %+v", feed.Items[0])
	}

	empty, err := svc.ListConversations(ctx, "nobody", 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty.Items) != 0 || empty.Pagination != (Pagination{Page: 1, Limit: 10}) {
		t.Errorf("empty feed = %+v", empty)
	}
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		page, size, def     int
		wantPage, wantLimit int
	}{
		{0, 0, 50, 1, 50},
		{-3, 10, 50, 1, 10},
		{2, 500, 50, 2, 100},
		{1, -1, 20, 1, 1},
		{maxPage + 1, 20, 20, maxPage, 20},
	}
	for _, tt := range tests {
		page, limit := normalizePage(tt.page, tt.size, tt.def)
		if page != tt.wantPage || limit != tt.wantLimit {
			t.Errorf("normalizePage(%d, %d, %d) = %d, %d; want %d, %d", tt.page, tt.size, tt.def, page, limit, tt.wantPage, tt.wantLimit)
		}
	}
}

func TestNewPagination(t *testing.T) {
	tests := []struct {
		page, limit, total int
		want               Pagination
	}{
		{1, 20, 0, Pagination{Page: 1, Limit: 20}},
		{1, 20, 20, Pagination{Page: 1, Limit: 20, TotalCount: 20, TotalPages: 1}},
		{1, 20, 21, Pagination{Page: 1, Limit: 20, TotalCount: 21, TotalPages: 2, HasMore: true}},
		{2, 20, 21, Pagination{Page: 2, Limit: 20, TotalCount: 21, TotalPages: 2}},
		{5, 20, 21, Pagination{Page: 5, Limit: 20, TotalCount: 21, TotalPages: 2}},
	}
	for _, tt := range tests {
		if got := newPagination(tt.page, tt.limit, tt.total); got != tt.want {
			t.Errorf("newPagination(%d, %d, %d) = %+v, want %+v", tt.page, tt.limit, tt.total, got, tt.want)
		}
	}
}
