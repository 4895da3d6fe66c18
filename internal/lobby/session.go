package lobby

import (
	"time"

	"github.com/udisondev/uberlobby/internal/db"
	"github.com/udisondev/uberlobby/internal/protocol"
)

// sessionState tracks where a connection is in its lifecycle.
type sessionState int

const (
	stateUnbound sessionState = iota
	stateAwaitLogin
	stateLoggedIn
	stateRemoving
)

// heldLogin keeps a verified credential pair while the client works
// through the agreement text.
type heldLogin struct {
	user  *db.UserRow
	agent string
	cpu   string
}

// Session is one connected lobby client as the dispatcher sees it.
// Every field is owned by the dispatcher goroutine; the embedded
// Client is the only part other goroutines touch.
type Session struct {
	id     int64
	client *Client

	// static sessions (ChanServ) have no socket; their outbound lines
	// are interpreted in-process.
	static bool

	state sessionState

	ip        string
	localIP   string
	country   string
	agent     string
	cpu       string
	sysID     string
	macID     string
	connected time.Time
	lastData  time.Time

	user   *db.UserRow
	access Access
	bot    bool
	rank   int

	// prevLogin is the account's last_login before this session, used
	// for channel history replay.
	prevLogin time.Time

	inGame      bool
	away        bool
	inGameSince time.Time
	ingameAccum time.Duration

	pending *heldLogin

	channels map[string]struct{}

	battleID     int32
	battleStatus BattleStatus
	teamColor    uint32
	scriptPass   string

	// externally observed UDP endpoint, reported by the NAT helper
	udpIP   string
	udpPort int

	// ignores maps ignored username to the stated reason.
	ignores map[string]string

	// msgID holds the #id prefix of the command being handled, echoed
	// on direct replies only.
	msgID string

	// floodSince marks when the send backlog first crossed the flood
	// threshold; zero when under it.
	floodSince time.Time
}

func newSession(id int64, client *Client, now time.Time) *Session {
	return &Session{
		id:        id,
		client:    client,
		state:     stateUnbound,
		ip:        client.IP(),
		connected: now,
		lastData:  now,
		channels:  make(map[string]struct{}),
		ignores:   make(map[string]string),
	}
}

// Username returns the logged-in name or "" before login.
func (s *Session) Username() string {
	if s.user == nil {
		return ""
	}
	return s.user.Username
}

// UserID returns the account id or 0 before login.
func (s *Session) UserID() int32 {
	if s.user == nil {
		return 0
	}
	return s.user.ID
}

// LoggedIn reports whether the session finished LOGIN.
func (s *Session) LoggedIn() bool { return s.state == stateLoggedIn }

// Status packs the current client status byte.
func (s *Session) Status() uint8 {
	return ComposeStatus(s.inGame, s.away, s.rank, s.access, s.bot)
}

// Ignores reports whether the session's user ignores the named user.
func (s *Session) Ignores(username string) bool {
	_, ok := s.ignores[username]
	return ok
}

// send queues one line on the session's socket. Static sessions have
// none; the server routes their traffic separately.
func (s *Session) send(line string) {
	if s.client != nil {
		s.client.Send(line)
	}
}

// reply sends a direct response, echoing the in-flight message id.
func (s *Session) reply(line string) {
	s.send(protocol.WithID(s.msgID, line))
}
