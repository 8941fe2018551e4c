package chat

import (
	"testing"
	"time"
)

func TestRoomManager_JoinIsIdempotent(t *testing.T) {
	m := NewRoomManager()
	conn := testConn("c1", "user-a")

	m.Join("conv-1", conn)
	m.Join("conv-1", conn)

	if m.MemberCount("conv-1") != 1 {
		t.Fatalf("expected 1 member, got %d", m.MemberCount("conv-1"))
	}
	if got := m.RoomsOf(conn); len(got) != 1 || got[0] != "conv-1" {
		t.Fatalf("expected membership [conv-1], got %v", got)
	}
}

func TestRoomManager_LeaveDropsEmptyRoom(t *testing.T) {
	m := NewRoomManager()
	conn := testConn("c1", "user-a")

	m.Join("conv-1", conn)
	m.Leave("conv-1", conn)

	if m.RoomCount() != 0 {
		t.Fatalf("expected 0 rooms, got %d", m.RoomCount())
	}
	if got := m.RoomsOf(conn); len(got) != 0 {
		t.Fatalf("expected no memberships, got %v", got)
	}
}

func TestRoomManager_LeaveAll(t *testing.T) {
	m := NewRoomManager()
	conn := testConn("c1", "user-a")
	other := testConn("c2", "user-b")

	m.Join("conv-1", conn)
	m.Join("conv-2", conn)
	m.Join("conv-2", other)

	left := m.LeaveAll(conn)

	if len(left) != 2 {
		t.Fatalf("expected 2 rooms left, got %v", left)
	}
	if m.MemberCount("conv-1") != 0 {
		t.Fatalf("expected conv-1 empty, got %d", m.MemberCount("conv-1"))
	}
	if m.MemberCount("conv-2") != 1 {
		t.Fatalf("expected conv-2 to keep the other member, got %d", m.MemberCount("conv-2"))
	}
	if m.RoomCount() != 1 {
		t.Fatalf("expected 1 room remaining, got %d", m.RoomCount())
	}
}

func TestRoomManager_BroadcastContinuesPastFailures(t *testing.T) {
	m := NewRoomManager()
	// No buffer: every send fails.
	broken := newConnection("c1", "user-a", newFakeTransport(), 0, time.Minute)
	ok1 := testConn("c2", "user-b")
	ok2 := testConn("c3", "user-c")

	m.Join("conv-1", broken)
	m.Join("conv-1", ok1)
	m.Join("conv-1", ok2)

	failed := m.Broadcast("conv-1", []byte(`{}`), nil)

	if len(failed) != 1 || failed[0] != broken {
		t.Fatalf("expected only the broken connection to fail, got %v", failed)
	}
	for _, conn := range []*Connection{ok1, ok2} {
		if len(conn.send) != 1 {
			t.Fatalf("connection %s did not receive the frame", conn.ID)
		}
	}
}

func TestRoomManager_BroadcastToUnknownRoom(t *testing.T) {
	m := NewRoomManager()
	if failed := m.Broadcast("missing", []byte(`{}`), nil); failed != nil {
		t.Fatalf("expected no failures, got %v", failed)
	}
}
