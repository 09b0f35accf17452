package server

import (
	"errors"
	"testing"
)

// TestWSConnSendQueue tests the outgoing queue of a WebSocket connection.
// It verifies that payloads are queued in order and that a full queue
// reports an error instead of blocking.
func TestWSConnSendQueue(t *testing.T) {
	c := newWSConn(nil, "127.0.0.1:12345", defaultMaxMessageSize, quietLogger())

	for i := 0; i < sendBufferSize; i++ {
		if err := c.Send([]byte{byte(i)}); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}
	if err := c.Send([]byte("overflow")); !errors.Is(err, ErrSendBufferFull) {
		t.Errorf("Expected ErrSendBufferFull, got %v", err)
	}

	first := <-c.send
	if len(first) != 1 || first[0] != 0 {
		t.Errorf("Expected the first payload to come out first, got %v", first)
	}
}

// TestWSConnClose tests that closing is idempotent and stops sends while
// keeping queued payloads readable.
func TestWSConnClose(t *testing.T) {
	c := newWSConn(nil, "127.0.0.1:12345", defaultMaxMessageSize, quietLogger())

	if err := c.Send([]byte("queued")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := c.Close(); !errors.Is(err, ErrConnClosed) {
		t.Errorf("Expected ErrConnClosed on second close, got %v", err)
	}
	if err := c.Send([]byte("late")); !errors.Is(err, ErrConnClosed) {
		t.Errorf("Expected ErrConnClosed after close, got %v", err)
	}

	msg, ok := <-c.send
	if !ok || string(msg) != "queued" {
		t.Errorf("Expected queued payload before close, got %q %v", msg, ok)
	}
	if _, ok := <-c.send; ok {
		t.Error("Expected the queue to be closed")
	}
}
