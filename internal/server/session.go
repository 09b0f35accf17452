package server

import (
	"time"

	"github.com/google/uuid"
)

// Conn is the transport handle of one connection. Send must not block; a
// connection that cannot take the payload right away returns an error.
type Conn interface {
	Send(payload []byte) error
	Close() error
}

// Session is one admitted participant. Username never changes once the
// session is in the table.
type Session struct {
	ID          uuid.UUID
	Username    string
	RemoteAddr  string
	ConnectedAt time.Time

	password string
	conn     Conn
}

// sessionTable maps usernames to sessions and keeps a reverse index by
// connection. Callers hold the Manager mutex.
type sessionTable struct {
	byName map[string]*Session
	byConn map[Conn]*Session
	order  []string
}

func newSessionTable() *sessionTable {
	return &sessionTable{
		byName: make(map[string]*Session),
		byConn: make(map[Conn]*Session),
	}
}

func (t *sessionTable) len() int {
	return len(t.byName)
}

func (t *sessionTable) has(username string) bool {
	_, ok := t.byName[username]
	return ok
}

func (t *sessionTable) get(username string) *Session {
	return t.byName[username]
}

func (t *sessionTable) getByConn(conn Conn) *Session {
	return t.byConn[conn]
}

func (t *sessionTable) insert(s *Session) {
	t.byName[s.Username] = s
	t.byConn[s.conn] = s
	t.order = append(t.order, s.Username)
}

func (t *sessionTable) remove(s *Session) {
	delete(t.byName, s.Username)
	delete(t.byConn, s.conn)
	for i, name := range t.order {
		if name == s.Username {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// usernames lists active usernames in admission order.
func (t *sessionTable) usernames() []string {
	return append([]string{}, t.order...)
}

// snapshot lists active sessions in admission order.
func (t *sessionTable) snapshot() []*Session {
	sessions := make([]*Session, 0, len(t.order))
	for _, name := range t.order {
		sessions = append(sessions, t.byName[name])
	}
	return sessions
}

// clear empties the table and returns what it held.
func (t *sessionTable) clear() []*Session {
	sessions := t.snapshot()
	t.byName = make(map[string]*Session)
	t.byConn = make(map[Conn]*Session)
	t.order = nil
	return sessions
}
