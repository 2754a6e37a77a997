package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"chatd/internal/models"
)

type fakeStore struct {
	mu      sync.Mutex
	members map[int64][]int64 // conversation -> member user ids
	saved   []*models.Message
	nextID  int64
	saveErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{members: make(map[int64][]int64)}
}

func (s *fakeStore) IsConversationMember(conversationID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.members[conversationID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) SaveMessage(conversationID, senderID int64, body string, replyToID *int64) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return nil, s.saveErr
	}
	s.nextID++
	msg := &models.Message{
		ID:             s.nextID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		ReplyToID:      replyToID,
		CreatedAt:      time.Now().UTC(),
	}
	s.saved = append(s.saved, msg)
	return msg, nil
}

func (s *fakeStore) ConversationMemberIDs(conversationID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.members[conversationID]...), nil
}

func (s *fakeStore) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

// receiveFrame pops one queued payload off a client's send channel.
func receiveFrame(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case payload := <-c.send:
		return payload
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected a queued frame, got none")
		return nil
	}
}

func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case payload := <-c.send:
		t.Fatalf("expected no frame, got %s", payload)
	default:
	}
}

func decodeNewMessage(t *testing.T, payload []byte) models.NewMessageFrame {
	t.Helper()
	var frame models.NewMessageFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("failed to decode frame: %v", err)
	}
	if frame.Type != "new_message" {
		t.Fatalf("expected new_message frame, got %q", frame.Type)
	}
	return frame
}

func decodeError(t *testing.T, payload []byte) models.ErrorFrame {
	t.Helper()
	var frame models.ErrorFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("failed to decode frame: %v", err)
	}
	if frame.Type != "error" {
		t.Fatalf("expected error frame, got %q", frame.Type)
	}
	return frame
}

func TestSendFansOutToAllMemberConnections(t *testing.T) {
	store := newFakeStore()
	store.members[7] = []int64{1, 2}
	hub := NewHub()
	router := NewRouter(store, hub)

	// User 1 has two live connections, user 2 has one.
	senderConn := newTestClient(hub, router, testUser(1, "Alice", "Archer"))
	senderOther := newTestClient(hub, router, testUser(1, "Alice", "Archer"))
	receiver := newTestClient(hub, router, testUser(2, "Bob", "Baker"))
	hub.Register(senderConn)
	hub.Register(senderOther)
	hub.Register(receiver)

	router.Send(senderConn, models.InboundFrame{Type: "send_message", ConversationID: 7, Body: "hi"})

	if got := store.savedCount(); got != 1 {
		t.Fatalf("expected exactly one persisted message, got %d", got)
	}

	frames := []models.NewMessageFrame{
		decodeNewMessage(t, receiveFrame(t, senderConn)),
		decodeNewMessage(t, receiveFrame(t, senderOther)),
		decodeNewMessage(t, receiveFrame(t, receiver)),
	}

	for _, frame := range frames {
		if frame.Message.ID != frames[0].Message.ID {
			t.Errorf("frames carry different message ids: %d vs %d", frame.Message.ID, frames[0].Message.ID)
		}
		if frame.Message.Body != "hi" {
			t.Errorf("expected body %q, got %q", "hi", frame.Message.Body)
		}
		if !frame.Message.CreatedAt.Equal(frames[0].Message.CreatedAt) {
			t.Errorf("frames carry different timestamps")
		}
		if frame.Message.SenderID != 1 || frame.Message.FirstName != "Alice" || frame.Message.LastName != "Archer" {
			t.Errorf("unexpected sender attribution: %+v", frame.Message)
		}
	}

	// Exactly one frame per connection.
	assertNoFrame(t, senderConn)
	assertNoFrame(t, senderOther)
	assertNoFrame(t, receiver)
}

func TestSendFromNonMemberIsSilentlyDropped(t *testing.T) {
	store := newFakeStore()
	store.members[7] = []int64{1, 2}
	hub := NewHub()
	router := NewRouter(store, hub)

	member := newTestClient(hub, router, testUser(1, "Alice", "Archer"))
	outsider := newTestClient(hub, router, testUser(3, "Carol", "Cole"))
	hub.Register(member)
	hub.Register(outsider)

	router.Send(outsider, models.InboundFrame{Type: "send_message", ConversationID: 7, Body: "let me in"})

	if got := store.savedCount(); got != 0 {
		t.Fatalf("expected nothing persisted, got %d messages", got)
	}
	// No delivery and, deliberately, no error reply either.
	assertNoFrame(t, member)
	assertNoFrame(t, outsider)
}

func TestSendWithEmptyBodyIsRejected(t *testing.T) {
	store := newFakeStore()
	store.members[7] = []int64{1, 2}
	hub := NewHub()
	router := NewRouter(store, hub)

	sender := newTestClient(hub, router, testUser(1, "Alice", "Archer"))
	receiver := newTestClient(hub, router, testUser(2, "Bob", "Baker"))
	hub.Register(sender)
	hub.Register(receiver)

	router.Send(sender, models.InboundFrame{Type: "send_message", ConversationID: 7, Body: "   \t  "})

	if got := store.savedCount(); got != 0 {
		t.Fatalf("expected nothing persisted, got %d messages", got)
	}
	decodeError(t, receiveFrame(t, sender))
	assertNoFrame(t, sender)
	assertNoFrame(t, receiver)
}

func TestSendStoreFailureReportedToSenderOnly(t *testing.T) {
	store := newFakeStore()
	store.members[7] = []int64{1, 2}
	store.saveErr = errors.New("disk full")
	hub := NewHub()
	router := NewRouter(store, hub)

	sender := newTestClient(hub, router, testUser(1, "Alice", "Archer"))
	receiver := newTestClient(hub, router, testUser(2, "Bob", "Baker"))
	hub.Register(sender)
	hub.Register(receiver)

	router.Send(sender, models.InboundFrame{Type: "send_message", ConversationID: 7, Body: "hello"})

	decodeError(t, receiveFrame(t, sender))
	assertNoFrame(t, receiver)
}

func TestOfflineMemberGetsNoPush(t *testing.T) {
	store := newFakeStore()
	store.members[7] = []int64{1, 2}
	hub := NewHub()
	router := NewRouter(store, hub)

	// User 2 is a member but has no live connections.
	sender := newTestClient(hub, router, testUser(1, "Alice", "Archer"))
	hub.Register(sender)

	router.Send(sender, models.InboundFrame{Type: "send_message", ConversationID: 7, Body: "anyone there?"})

	if got := store.savedCount(); got != 1 {
		t.Fatalf("expected the message persisted for later history fetch, got %d", got)
	}
	decodeNewMessage(t, receiveFrame(t, sender))
}

func TestSendCarriesReplyTo(t *testing.T) {
	store := newFakeStore()
	store.members[7] = []int64{1}
	hub := NewHub()
	router := NewRouter(store, hub)

	sender := newTestClient(hub, router, testUser(1, "Alice", "Archer"))
	hub.Register(sender)

	replyTo := int64(99)
	router.Send(sender, models.InboundFrame{Type: "send_message", ConversationID: 7, Body: "re: that", ReplyToID: &replyTo})

	frame := decodeNewMessage(t, receiveFrame(t, sender))
	if frame.Message.ReplyToID == nil || *frame.Message.ReplyToID != 99 {
		t.Errorf("expected reply_to_id 99, got %v", frame.Message.ReplyToID)
	}
}

func TestFullSendBufferSkipsOnlyThatConnection(t *testing.T) {
	store := newFakeStore()
	store.members[7] = []int64{1, 2}
	hub := NewHub()
	router := NewRouter(store, hub)

	sender := newTestClient(hub, router, testUser(1, "Alice", "Archer"))
	slow := newTestClient(hub, router, testUser(2, "Bob", "Baker"))
	hub.Register(sender)
	hub.Register(slow)

	// Saturate the slow connection's buffer.
	for i := 0; i < sendBuffer; i++ {
		slow.send <- []byte("backlog")
	}

	router.Send(sender, models.InboundFrame{Type: "send_message", ConversationID: 7, Body: "still going"})

	if got := store.savedCount(); got != 1 {
		t.Fatalf("expected the message persisted despite the slow peer, got %d", got)
	}
	decodeNewMessage(t, receiveFrame(t, sender))
}
