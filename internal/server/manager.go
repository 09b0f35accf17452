// Package server coordinates session admission, command routing, and
// disconnect cleanup for the wschat system via the Manager type.
package server

import (
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxRenameAttempts bounds how many suffixes are tried for one cause of
// rejection before the connection is refused.
const maxRenameAttempts = 30

const (
	reasonOriginMismatch   = "The origin is not allowed."
	reasonCapacity         = "The max connections limit is reached."
	reasonMissingCreds     = "The username & password have to be passed in the query string."
	reasonInvalidCreds     = "Invalid user credentials. The username has to be at least 3 alphanumeric characters, and the password at least 6 alphanumeric characters."
	reasonBanned           = "The user is banned"
	reasonUsernameExists   = "The username exists already."
	infoConnectionAccepted = "Connection accepted"
	infoNewConnection      = "A new user is connected."
	infoUserDisconnected   = "The user is disconnected."
	infoChatMessage        = "A chat message."
	infoPrivateMessage     = "A private message."
	infoBanNotAdmin        = "Only an admin can ban a user."
	infoBanUnknownTarget   = "The user to ban did not exist."
	infoBanAdminTarget     = "An admin user can not be banned."
	infoUnknownCommand     = "Please make sure that you are sending the right command."
	dataUnknownCommand     = "Unknown command"
)

// ErrUnknownSession is returned by Unicast when no session has the username.
var ErrUnknownSession = errors.New("no such session")

// Outcome classifies how an event was handled.
type Outcome int

const (
	// Accepted means the connection was admitted.
	Accepted Outcome = iota + 1
	// Rejected means the connection was refused with a failed_connection notice.
	Rejected
	// Dropped means the event was ignored without a response.
	Dropped
	// Handled means a command ran, successfully or with a failure notice.
	Handled
	// Closed means the issuing connection was closed.
	Closed
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Dropped:
		return "dropped"
	case Handled:
		return "handled"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// AdmissionRequest carries what the transport knows about a new connection.
type AdmissionRequest struct {
	Username   string
	Password   string
	Origin     string
	RemoteAddr string
}

// AdmissionResult reports the admission decision. Username is the final,
// possibly suffixed, name of an accepted session.
type AdmissionResult struct {
	Outcome   Outcome
	Username  string
	SessionID uuid.UUID
	Reason    string
}

// DispatchResult reports how one inbound message was handled.
type DispatchResult struct {
	Outcome Outcome
	Command Command
}

// Stats is a point-in-time view of the manager.
type Stats struct {
	Connections    int      `json:"connections"`
	MaxConnections int      `json:"max_connections"`
	Users          []string `json:"users"`
	Banned         []string `json:"banned"`
}

// Option configures a Manager or a Server.
type Option func(*options)

type options struct {
	logger   *log.Logger
	randIntN func(n int) int
	observer func(Envelope)
}

// WithLogger sets the logger. The default is log.Default().
func WithLogger(logger *log.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRandom replaces the source of rename suffixes. fn must return a value
// in [0, n).
func WithRandom(fn func(n int) int) Option {
	return func(o *options) {
		if fn != nil {
			o.randIntN = fn
		}
	}
}

// WithObserver registers fn to see every envelope the manager emits, once
// per envelope. fn runs with the manager locked and must not call back into
// it.
func WithObserver(fn func(Envelope)) Option {
	return func(o *options) {
		o.observer = fn
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:   log.Default(),
		randIntN: rand.IntN,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Manager owns the session table and the ban list and serializes every
// admission, command and disconnect through a single mutex.
type Manager struct {
	mu         sync.Mutex
	closed     bool
	sessions   *sessionTable
	bans       *BanList
	identities *IdentityRegistry

	maxConnections int
	allowedOrigin  string

	logger   *log.Logger
	randIntN func(n int) int
	observer func(Envelope)
}

// NewManager creates a Manager for a validated configuration.
func NewManager(cfg *Config, identities *IdentityRegistry, opts ...Option) *Manager {
	o := buildOptions(opts)
	maxConnections := cfg.MaxConnections
	if maxConnections <= 1 {
		maxConnections = defaultMaxConnections
	}

	return &Manager{
		sessions:       newSessionTable(),
		bans:           NewBanList(),
		identities:     identities,
		maxConnections: maxConnections,
		allowedOrigin:  cfg.AllowedOrigin,
		logger:         o.logger,
		randIntN:       o.randIntN,
		observer:       o.observer,
	}
}

// Admit runs the admission checks for a new connection. On rejection the
// client receives a failed_connection envelope and conn is closed; on an
// origin mismatch conn is closed without a response.
func (m *Manager) Admit(req AdmissionRequest, conn Conn) AdmissionResult {
	if !originAllowed(m.allowedOrigin, req.Origin) {
		m.logger.Printf("Blocked connection from %s: origin %q is not allowed", req.RemoteAddr, req.Origin)
		m.closeConn(conn, req.RemoteAddr)
		return AdmissionResult{Outcome: Dropped, Reason: reasonOriginMismatch}
	}

	var check PasswordCheck
	if validCredentials(req.Username, req.Password) {
		check = m.identities.Verify(req.Username, req.Password)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		m.logger.Printf("Dropping connection from %s: the manager is closed", req.RemoteAddr)
		m.closeConn(conn, req.RemoteAddr)
		return AdmissionResult{Outcome: Dropped}
	}

	if reason := m.precheck(req); reason != "" {
		return m.reject(conn, req, reason)
	}

	username, ok := m.resolveUsername(req.Username, check)
	if !ok {
		return m.reject(conn, req, reasonUsernameExists)
	}

	session := &Session{
		ID:          uuid.New(),
		Username:    username,
		RemoteAddr:  req.RemoteAddr,
		ConnectedAt: time.Now(),
		password:    req.Password,
		conn:        conn,
	}

	present := m.sessions.usernames()
	m.sessions.insert(session)
	m.logger.Printf("Session %s admitted as %q from %s. Total sessions: %d", session.ID, username, req.RemoteAddr, m.sessions.len())

	m.sendLocked(session, Envelope{Command: CommandSuccessfulConnection, Data: present, Information: infoConnectionAccepted})
	m.broadcastLocked(Envelope{Command: CommandNewConnection, Data: username, Information: infoNewConnection})

	return AdmissionResult{Outcome: Accepted, Username: username, SessionID: session.ID}
}

// precheck covers capacity, presence, shape and ban status, in that order.
func (m *Manager) precheck(req AdmissionRequest) string {
	switch {
	case m.sessions.len()+1 > m.maxConnections:
		return reasonCapacity
	case req.Username == "" || req.Password == "":
		return reasonMissingCreds
	case !validCredentials(req.Username, req.Password):
		return reasonInvalidCreds
	case m.bans.Contains(req.Username):
		return reasonBanned
	default:
		return ""
	}
}

func (m *Manager) reject(conn Conn, req AdmissionRequest, reason string) AdmissionResult {
	m.logger.Printf("Rejected connection from %s (username %q): %s", req.RemoteAddr, req.Username, reason)
	m.sendConnLocked(conn, req.RemoteAddr, Envelope{Command: CommandFailedConnection, Data: nil, Information: reason})
	m.closeConn(conn, req.RemoteAddr)
	return AdmissionResult{Outcome: Rejected, Reason: reason}
}

type nameVerdict int

const (
	nameAccepted nameVerdict = iota
	nameRetry
	nameExhausted
)

// renameBudget counts suffixes spent per cause.
type renameBudget struct {
	collisions     int
	impersonations int
}

// attemptName judges one candidate. A taken name or an admin name claimed
// with the wrong password asks for a retry until that cause has used up
// maxRenameAttempts.
func (m *Manager) attemptName(candidate string, check PasswordCheck, budget *renameBudget) nameVerdict {
	switch {
	case m.sessions.has(candidate):
		if budget.collisions == maxRenameAttempts {
			return nameExhausted
		}
		budget.collisions++
		return nameRetry
	case check.Impersonates(candidate):
		if budget.impersonations == maxRenameAttempts {
			return nameExhausted
		}
		budget.impersonations++
		return nameRetry
	default:
		return nameAccepted
	}
}

func (m *Manager) resolveUsername(candidate string, check PasswordCheck) (string, bool) {
	var budget renameBudget
	for {
		switch m.attemptName(candidate, check, &budget) {
		case nameAccepted:
			return candidate, true
		case nameExhausted:
			return "", false
		case nameRetry:
			candidate += strconv.Itoa(m.randIntN(m.maxConnections) + 1)
		}
	}
}

// HandleMessage decodes and executes one frame sent on conn.
func (m *Manager) HandleMessage(conn Conn, raw []byte) DispatchResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	issuer := m.sessions.getByConn(conn)
	if issuer == nil {
		m.logger.Printf("Message on a connection without a session; closing it")
		m.closeConn(conn, "")
		return DispatchResult{Outcome: Closed}
	}

	msg, err := DecodeInbound(raw)
	if err != nil {
		m.logger.Printf("Dropping message from %q: %v", issuer.Username, err)
		return DispatchResult{Outcome: Dropped}
	}

	switch cmd := msg.(type) {
	case ChatMessage:
		m.broadcastLocked(Envelope{
			Command:     CommandChatMessage,
			Data:        MessagePayload{FromUser: issuer.Username, Message: cmd.Text},
			Information: infoChatMessage,
		})
		return DispatchResult{Outcome: Handled, Command: CommandChatMessage}

	case PrivateMessage:
		return m.handlePrivateMessage(issuer, cmd)

	case BanUser:
		return m.handleBan(issuer, cmd)

	default:
		m.logger.Printf("Unknown command %q from %q; closing connection", msg.Command(), issuer.Username)
		m.sendLocked(issuer, Envelope{Command: CommandSystemInformation, Data: dataUnknownCommand, Information: infoUnknownCommand})
		m.closeConn(issuer.conn, issuer.RemoteAddr)
		return DispatchResult{Outcome: Closed, Command: msg.Command()}
	}
}

func (m *Manager) handlePrivateMessage(issuer *Session, cmd PrivateMessage) DispatchResult {
	target := m.sessions.get(cmd.ToUser)
	if target == nil {
		return DispatchResult{Outcome: Dropped, Command: CommandPrivateMessage}
	}

	m.sendLocked(target, Envelope{
		Command:     CommandPrivateMessage,
		Data:        MessagePayload{FromUser: issuer.Username, Message: cmd.Message},
		Information: infoPrivateMessage,
	})
	return DispatchResult{Outcome: Handled, Command: CommandPrivateMessage}
}

// handleBan answers the issuer only. Admin status is decided by username
// alone; the issuer's password was settled at admission.
func (m *Manager) handleBan(issuer *Session, cmd BanUser) DispatchResult {
	result := DispatchResult{Outcome: Handled, Command: CommandBanUser}

	if !m.identities.IsAdmin(issuer.Username) {
		m.sendLocked(issuer, banResponse(false, infoBanNotAdmin))
		return result
	}

	target := m.sessions.get(cmd.Username)
	if target == nil {
		m.sendLocked(issuer, banResponse(false, infoBanUnknownTarget))
		return result
	}

	if m.identities.IsAdmin(target.Username) {
		m.sendLocked(issuer, banResponse(false, infoBanAdminTarget))
		return result
	}

	m.bans.Add(target.Username)
	m.logger.Printf("Admin %q banned %q", issuer.Username, target.Username)
	m.sendLocked(issuer, banResponse(true, fmt.Sprintf("The user %s has been banned.", target.Username)))

	m.sessions.remove(target)
	m.closeConn(target.conn, target.RemoteAddr)
	m.broadcastLocked(userDisconnected(target.Username))
	return result
}

func banResponse(ok bool, info string) Envelope {
	return Envelope{Command: CommandBanUser, Data: ok, Information: info}
}

func userDisconnected(username string) Envelope {
	return Envelope{Command: CommandUserDisconnected, Data: username, Information: infoUserDisconnected}
}

// Disconnect removes the session that owns conn and announces its
// departure. It returns false when conn never completed admission.
func (m *Manager) Disconnect(conn Conn) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.sessions.getByConn(conn)
	if session == nil {
		return "", false
	}

	m.sessions.remove(session)
	m.logger.Printf("Session %s (%q) disconnected. Total sessions: %d", session.ID, session.Username, m.sessions.len())
	m.broadcastLocked(userDisconnected(session.Username))
	return session.Username, true
}

// Broadcast sends env to every session and returns the number of delivery
// attempts.
func (m *Manager) Broadcast(env Envelope) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.broadcastLocked(env)
}

// Unicast sends env to the session named username.
func (m *Manager) Unicast(username string, env Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.sessions.get(username)
	if session == nil {
		return fmt.Errorf("%w: %q", ErrUnknownSession, username)
	}
	m.sendLocked(session, env)
	return nil
}

func (m *Manager) broadcastLocked(env Envelope) int {
	m.notify(env)

	payload, err := env.Encode()
	if err != nil {
		m.logger.Printf("Error encoding %s envelope: %v", env.Command, err)
		return 0
	}

	sessions := m.sessions.snapshot()
	for _, s := range sessions {
		if err := s.conn.Send(payload); err != nil {
			m.logger.Printf("Skipping delivery to %q: %v", s.Username, err)
		}
	}
	return len(sessions)
}

func (m *Manager) sendLocked(s *Session, env Envelope) {
	m.sendConnLocked(s.conn, s.Username, env)
}

func (m *Manager) sendConnLocked(conn Conn, peer string, env Envelope) {
	m.notify(env)

	payload, err := env.Encode()
	if err != nil {
		m.logger.Printf("Error encoding %s envelope: %v", env.Command, err)
		return
	}
	if err := conn.Send(payload); err != nil {
		m.logger.Printf("Error sending %s to %s: %v", env.Command, peer, err)
	}
}

func (m *Manager) notify(env Envelope) {
	if m.observer != nil {
		m.observer(env)
	}
}

func (m *Manager) closeConn(conn Conn, peer string) {
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil && !isExpectedCloseError(err) && !errors.Is(err, ErrConnClosed) {
		m.logger.Printf("Error closing connection %s: %v", peer, err)
	}
}

// close empties the session table without announcing anything, refuses
// further admissions and returns the sessions it held.
func (m *Manager) close() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.sessions.clear()
}

// open lets admissions through again after close.
func (m *Manager) open() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = false
}

// Usernames lists the active usernames in admission order.
func (m *Manager) Usernames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions.usernames()
}

// Len returns the number of active sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions.len()
}

// IsBanned reports whether username is on the ban list.
func (m *Manager) IsBanned(username string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bans.Contains(username)
}

// Banned lists the banned usernames in ban order.
func (m *Manager) Banned() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bans.Names()
}

// Stats returns a snapshot for the stats endpoint.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Connections:    m.sessions.len(),
		MaxConnections: m.maxConnections,
		Users:          m.sessions.usernames(),
		Banned:         m.bans.Names(),
	}
}
