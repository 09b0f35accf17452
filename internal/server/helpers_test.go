package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
)

var errDeliveryFailed = errors.New("delivery failed")

// fakeConn records every payload handed to it.
type fakeConn struct {
	mu        sync.Mutex
	sent      [][]byte
	sendCalls int
	closed    bool
	failSend  bool
}

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sendCalls++
	if c.closed {
		return ErrConnClosed
	}
	if c.failSend {
		return errDeliveryFailed
	}
	c.sent = append(c.sent, append([]byte(nil), payload...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendCalls
}

// envelopes decodes everything sent so far and forgets it.
func (c *fakeConn) envelopes(t *testing.T) []receivedEnvelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]receivedEnvelope, 0, len(c.sent))
	for _, raw := range c.sent {
		var env receivedEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("Failed to decode sent payload %s: %v", raw, err)
		}
		out = append(out, env)
	}
	c.sent = nil
	return out
}

type receivedEnvelope struct {
	Command     Command         `json:"command"`
	Data        json.RawMessage `json:"data"`
	Information string          `json:"information"`
}

func (e receivedEnvelope) stringData(t *testing.T) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(e.Data, &s); err != nil {
		t.Fatalf("Expected string data in %s envelope, got %s", e.Command, e.Data)
	}
	return s
}

func (e receivedEnvelope) listData(t *testing.T) []string {
	t.Helper()
	var names []string
	if err := json.Unmarshal(e.Data, &names); err != nil || names == nil {
		t.Fatalf("Expected list data in %s envelope, got %s", e.Command, e.Data)
	}
	return names
}

func (e receivedEnvelope) boolData(t *testing.T) bool {
	t.Helper()
	var b bool
	if err := json.Unmarshal(e.Data, &b); err != nil {
		t.Fatalf("Expected boolean data in %s envelope, got %s", e.Command, e.Data)
	}
	return b
}

func (e receivedEnvelope) messageData(t *testing.T) (string, string) {
	t.Helper()
	var payload struct {
		FromUser string `json:"from_user"`
		Message  string `json:"message"`
	}
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		t.Fatalf("Expected message payload in %s envelope, got %s", e.Command, e.Data)
	}
	return payload.FromUser, payload.Message
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// fixedRandom always yields n, so every rename suffix is n+1.
func fixedRandom(n int) func(int) int {
	return func(int) int { return n }
}

func newTestManager(t *testing.T, cfg *Config, admins []AdminCredential, opts ...Option) *Manager {
	t.Helper()
	if cfg == nil {
		cfg = NewConfig()
	}
	cfg.Admins = admins
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Invalid test config: %v", err)
	}
	identities, err := NewIdentityRegistry(admins)
	if err != nil {
		t.Fatalf("Failed to build identity registry: %v", err)
	}
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return NewManager(cfg, identities, opts...)
}

func admit(t *testing.T, m *Manager, username, password string) (*fakeConn, AdmissionResult) {
	t.Helper()
	conn := &fakeConn{}
	result := m.Admit(AdmissionRequest{Username: username, Password: password, RemoteAddr: "127.0.0.1:12345"}, conn)
	return conn, result
}

func mustAdmit(t *testing.T, m *Manager, username, password string) *fakeConn {
	t.Helper()
	conn, result := admit(t, m, username, password)
	if result.Outcome != Accepted {
		t.Fatalf("Expected %q to be accepted, got %s (%s)", username, result.Outcome, result.Reason)
	}
	return conn
}

func drain(t *testing.T, conns ...*fakeConn) {
	t.Helper()
	for _, c := range conns {
		c.envelopes(t)
	}
}
