package chat

import (
	"testing"
	"time"
)

func TestConnection_StateTransitions(t *testing.T) {
	conn := testConn("c1", "user-a")

	if conn.State() != StateOpen {
		t.Fatalf("expected open, got %v", conn.State())
	}

	conn.markClosing()
	if conn.State() != StateClosing {
		t.Fatalf("expected closing, got %v", conn.State())
	}

	// Closing never goes back to open.
	conn.markClosing()
	if conn.State() != StateClosing {
		t.Fatalf("expected closing, got %v", conn.State())
	}

	conn.markClosed()
	if conn.State() != StateClosed {
		t.Fatalf("expected closed, got %v", conn.State())
	}
}

func TestConnection_TrySendAfterClosing(t *testing.T) {
	conn := testConn("c1", "user-a")

	if !conn.trySend([]byte(`{}`)) {
		t.Fatal("expected send to succeed while open")
	}

	conn.markClosing()
	if conn.trySend([]byte(`{}`)) {
		t.Fatal("expected send to fail once closing")
	}
}

func TestConnection_TrySendFullBuffer(t *testing.T) {
	conn := newConnection("c1", "user-a", newFakeTransport(), 1, time.Minute)

	if !conn.trySend([]byte(`{}`)) {
		t.Fatal("expected first send to succeed")
	}
	if conn.trySend([]byte(`{}`)) {
		t.Fatal("expected second send to fail with a full buffer")
	}
}

func TestConnection_WritePumpDrainsAndCloses(t *testing.T) {
	transport := newFakeTransport()
	conn := newConnection("c1", "user-a", transport, 8, time.Minute)

	go conn.writePump()

	conn.trySend([]byte(`{"one":1}`))
	conn.trySend([]byte(`{"two":2}`))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(transport.writtenFrames()) == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	frames := transport.writtenFrames()
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames written, got %d", len(frames))
	}
	if string(frames[0]) != `{"one":1}` {
		t.Fatalf("unexpected first frame: %s", frames[0])
	}

	close(conn.send)
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if transport.isClosed() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !transport.isClosed() {
		t.Fatal("expected transport closed after send channel close")
	}
}
