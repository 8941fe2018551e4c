package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// mockStore is an in-memory MessageStore with fault injection.
type mockStore struct {
	mu           sync.Mutex
	participants map[string][]string
	saved        []MessageRecord
	nextID       int

	failSave        bool
	failParticipant bool
}

func newMockStore() *mockStore {
	return &mockStore{participants: make(map[string][]string)}
}

func (s *mockStore) addParticipant(conversationID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[conversationID] = append(s.participants[conversationID], userID)
}

func (s *mockStore) IsParticipant(_ context.Context, userID, conversationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failParticipant {
		return false, errors.New("store unavailable")
	}
	for _, id := range s.participants[conversationID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *mockStore) SaveMessage(_ context.Context, conversationID, senderID, content, attachmentRef string) (MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return MessageRecord{}, errors.New("write failed")
	}
	s.nextID++
	record := MessageRecord{
		ID:             "msg-" + strconv.Itoa(s.nextID),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		AttachmentRef:  attachmentRef,
		CreatedAt:      time.Now(),
	}
	s.saved = append(s.saved, record)
	return record, nil
}

func (s *mockStore) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

type relayFixture struct {
	hub   *Hub
	store *mockStore
	relay *Relay
}

func newRelayFixture() *relayFixture {
	hub := newTestHub()
	store := newMockStore()
	return &relayFixture{
		hub:   hub,
		store: store,
		relay: NewRelay(hub, store, zerolog.Nop()),
	}
}

func TestRelay_SendExcludesSenderIncludesOtherDevices(t *testing.T) {
	f := newRelayFixture()
	f.store.addParticipant("conv-1", "user-a")
	f.store.addParticipant("conv-1", "user-b")

	a1 := testConn("a1", "user-a")
	a2 := testConn("a2", "user-a")
	b1 := testConn("b1", "user-b")
	for _, conn := range []*Connection{a1, a2, b1} {
		f.hub.Register(conn)
		f.hub.Join("conv-1", conn)
	}

	f.relay.HandleSend(context.Background(), a1, ClientMessage{
		Action:         ActionSend,
		ConversationID: "conv-1",
		Content:        "hello",
		ClientRef:      "local-7",
	})

	for _, conn := range []*Connection{a2, b1} {
		evt := recvEvent(t, conn)
		if evt.Type != EventNewMessage {
			t.Fatalf("expected new_message on %s, got %s", conn.ID, evt.Type)
		}
		var payload NewMessagePayload
		decodePayload(t, evt, &payload)
		if payload.ConversationID != "conv-1" || payload.SenderID != "user-a" || payload.Content != "hello" {
			t.Fatalf("unexpected payload: %+v", payload)
		}
		if payload.ClientRef != "local-7" {
			t.Fatalf("expected client_ref echoed, got %q", payload.ClientRef)
		}
	}
	assertNoEvent(t, a1)

	if f.store.savedCount() != 1 {
		t.Fatalf("expected 1 persisted message, got %d", f.store.savedCount())
	}
}

func TestRelay_NoBroadcastWithoutPersistence(t *testing.T) {
	f := newRelayFixture()
	f.store.addParticipant("conv-1", "user-a")
	f.store.addParticipant("conv-1", "user-b")
	f.store.failSave = true

	sender := testConn("a1", "user-a")
	recipient := testConn("b1", "user-b")
	for _, conn := range []*Connection{sender, recipient} {
		f.hub.Register(conn)
		f.hub.Join("conv-1", conn)
	}

	f.relay.HandleSend(context.Background(), sender, ClientMessage{
		ConversationID: "conv-1",
		Content:        "hello",
		ClientRef:      "local-1",
	})

	evt := recvEvent(t, sender)
	if evt.Type != EventError {
		t.Fatalf("expected error event for sender, got %s", evt.Type)
	}
	var payload ErrorPayload
	decodePayload(t, evt, &payload)
	if payload.Code != ErrCodeSendFailed {
		t.Fatalf("expected %s, got %s", ErrCodeSendFailed, payload.Code)
	}
	if payload.ClientRef != "local-1" {
		t.Fatalf("expected client_ref echoed in error, got %q", payload.ClientRef)
	}

	assertNoEvent(t, recipient)
	if f.store.savedCount() != 0 {
		t.Fatalf("expected nothing persisted, got %d", f.store.savedCount())
	}
}

func TestRelay_NonParticipantRejectedToSenderOnly(t *testing.T) {
	f := newRelayFixture()
	f.store.addParticipant("conv-1", "user-b")

	outsider := testConn("a1", "user-a")
	member := testConn("b1", "user-b")
	f.hub.Register(outsider)
	f.hub.Register(member)
	f.hub.Join("conv-1", member)

	f.relay.HandleSend(context.Background(), outsider, ClientMessage{
		ConversationID: "conv-1",
		Content:        "hello",
	})

	evt := recvEvent(t, outsider)
	var payload ErrorPayload
	decodePayload(t, evt, &payload)
	if payload.Code != ErrCodeNotParticipant {
		t.Fatalf("expected %s, got %s", ErrCodeNotParticipant, payload.Code)
	}
	assertNoEvent(t, member)
	if f.store.savedCount() != 0 {
		t.Fatalf("expected nothing persisted, got %d", f.store.savedCount())
	}
}

func TestRelay_ValidationRejectsEmptyFields(t *testing.T) {
	f := newRelayFixture()
	sender := testConn("a1", "user-a")
	f.hub.Register(sender)

	tests := []ClientMessage{
		{ConversationID: "", Content: "hello"},
		{ConversationID: "conv-1", Content: ""},
	}
	for _, msg := range tests {
		f.relay.HandleSend(context.Background(), sender, msg)
		evt := recvEvent(t, sender)
		var payload ErrorPayload
		decodePayload(t, evt, &payload)
		if payload.Code != ErrCodeInvalidMessage {
			t.Fatalf("expected %s, got %s", ErrCodeInvalidMessage, payload.Code)
		}
	}
}

// Messages from one connection reach recipients in send order.
func TestRelay_OrderingWithinConversation(t *testing.T) {
	f := newRelayFixture()
	f.store.addParticipant("conv-1", "user-a")
	f.store.addParticipant("conv-1", "user-b")

	const sends = 10

	// Buffers sized to hold the whole burst: nothing drains the channels
	// while the sends are issued.
	sender := newConnection("a1", "user-a", newFakeTransport(), sends*2, time.Minute)
	recipient := newConnection("b1", "user-b", newFakeTransport(), sends*2, time.Minute)
	for _, conn := range []*Connection{sender, recipient} {
		f.hub.Register(conn)
		f.hub.Join("conv-1", conn)
	}
	for i := 0; i < sends; i++ {
		f.relay.HandleSend(context.Background(), sender, ClientMessage{
			ConversationID: "conv-1",
			Content:        fmt.Sprintf("message %d", i),
		})
	}

	for i := 0; i < sends; i++ {
		evt := recvEvent(t, recipient)
		var payload NewMessagePayload
		decodePayload(t, evt, &payload)
		want := fmt.Sprintf("message %d", i)
		if payload.Content != want {
			t.Fatalf("position %d: expected %q, got %q", i, want, payload.Content)
		}
	}
}

func TestRelay_JoinRequiresParticipation(t *testing.T) {
	f := newRelayFixture()
	f.store.addParticipant("conv-1", "user-b")

	outsider := testConn("a1", "user-a")
	f.hub.Register(outsider)

	f.relay.HandleJoin(context.Background(), outsider, ClientMessage{ConversationID: "conv-1"})

	evt := recvEvent(t, outsider)
	var payload ErrorPayload
	decodePayload(t, evt, &payload)
	if payload.Code != ErrCodeNotParticipant {
		t.Fatalf("expected %s, got %s", ErrCodeNotParticipant, payload.Code)
	}
	if f.hub.RoomCount() != 0 {
		t.Fatalf("expected no rooms, got %d", f.hub.RoomCount())
	}
}

func TestRelay_JoinAndLeave(t *testing.T) {
	f := newRelayFixture()
	f.store.addParticipant("conv-1", "user-a")

	conn := testConn("a1", "user-a")
	f.hub.Register(conn)

	f.relay.HandleJoin(context.Background(), conn, ClientMessage{ConversationID: "conv-1"})
	if f.hub.RoomCount() != 1 {
		t.Fatalf("expected 1 room, got %d", f.hub.RoomCount())
	}

	f.relay.HandleLeave(conn, ClientMessage{ConversationID: "conv-1"})
	if f.hub.RoomCount() != 0 {
		t.Fatalf("expected 0 rooms, got %d", f.hub.RoomCount())
	}
}

func TestRelay_StoreErrorOnParticipantCheck(t *testing.T) {
	f := newRelayFixture()
	f.store.failParticipant = true

	sender := testConn("a1", "user-a")
	f.hub.Register(sender)

	f.relay.HandleSend(context.Background(), sender, ClientMessage{
		ConversationID: "conv-1",
		Content:        "hello",
	})

	evt := recvEvent(t, sender)
	var payload ErrorPayload
	decodePayload(t, evt, &payload)
	if payload.Code != ErrCodeSendFailed {
		t.Fatalf("expected %s, got %s", ErrCodeSendFailed, payload.Code)
	}
}

func TestRelay_NotifyMessageReachesWholeRoom(t *testing.T) {
	f := newRelayFixture()
	a1 := testConn("a1", "user-a")
	b1 := testConn("b1", "user-b")
	for _, conn := range []*Connection{a1, b1} {
		f.hub.Register(conn)
		f.hub.Join("conv-1", conn)
	}

	f.relay.NotifyMessage(MessageRecord{
		ID:             "msg-1",
		ConversationID: "conv-1",
		SenderID:       "user-a",
		Content:        "via rest",
		CreatedAt:      time.Now(),
	})

	for _, conn := range []*Connection{a1, b1} {
		evt := recvEvent(t, conn)
		if evt.Type != EventNewMessage {
			t.Fatalf("expected new_message, got %s", evt.Type)
		}
	}
}
