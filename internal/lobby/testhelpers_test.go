package lobby

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/udisondev/uberlobby/internal/config"
	"github.com/udisondev/uberlobby/internal/db"
	"github.com/udisondev/uberlobby/internal/filter"
	"github.com/udisondev/uberlobby/internal/geoip"
	"github.com/udisondev/uberlobby/internal/mail"
	"github.com/udisondev/uberlobby/internal/protocol"
)

// Argon hashing is deliberately slow, so all seeded accounts share one
// password computed once per test binary.
const testPassword = "hunter2hunter2"

var (
	credOnce sync.Once
	testWire string
	testHash string
)

func testCredentials() (wire, hash string) {
	credOnce.Do(func() {
		testWire = WirePassword(testPassword)
		var err error
		testHash, err = HashPassword(testWire)
		if err != nil {
			panic(err)
		}
	})
	return testWire, testHash
}

// fakeConn is a net.Conn whose remote address parses like a real TCP
// peer. Reads block until the conn is closed; writes are discarded
// (tests read queued frames straight from the client's send channel
// instead of running the write pump).
type fakeAddr string

func (fakeAddr) Network() string  { return "tcp" }
func (a fakeAddr) String() string { return string(a) }

type fakeConn struct {
	remote    string
	closeCh   chan struct{}
	closeOnce sync.Once
}

func newFakeConn(remote string) *fakeConn {
	return &fakeConn{remote: remote, closeCh: make(chan struct{})}
}

func (c *fakeConn) Read([]byte) (int, error) {
	<-c.closeCh
	return 0, io.EOF
}

func (c *fakeConn) Write(b []byte) (int, error) { return len(b), nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closeCh) })
	return nil
}

func (c *fakeConn) LocalAddr() net.Addr  { return fakeAddr("127.0.0.1:8200") }
func (c *fakeConn) RemoteAddr() net.Addr { return fakeAddr(c.remote) }

func (c *fakeConn) SetDeadline(time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

// testEnv drives a Server without sockets or goroutines: the test
// goroutine plays the dispatcher, so handlers are called directly and
// every queued reply can be drained synchronously.
type testEnv struct {
	t   *testing.T
	s   *Server
	ms  *memStore
	ctx context.Context

	nextPort int
}

func testConfig() config.Lobby {
	cfg := config.Default()
	cfg.MOTDFile, cfg.AgreementFile, cfg.ProxiesFile = "", "", ""
	return cfg
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvFull(t, testConfig(), newMemStore())
}

func newTestEnvWith(t *testing.T, cfg config.Lobby) *testEnv {
	t.Helper()
	return newTestEnvFull(t, cfg, newMemStore())
}

func newTestEnvFromStore(t *testing.T, ms *memStore) *testEnv {
	t.Helper()
	return newTestEnvFull(t, testConfig(), ms)
}

func newTestEnvFull(t *testing.T, cfg config.Lobby, ms *memStore) *testEnv {
	t.Helper()
	geo, err := geoip.Load("")
	require.NoError(t, err)
	f, err := filter.New([]string{"bollocks"})
	require.NoError(t, err)

	s := NewServer(cfg, ms.store(), geo, f, mail.NewQueue(mail.LogSender{}, 64))
	env := &testEnv{t: t, s: s, ms: ms, ctx: context.Background(), nextPort: 40000}
	require.NoError(t, s.bootstrap(env.ctx))
	return env
}

// connect binds a fresh session the way the accept path does and
// swallows the banner.
func (e *testEnv) connect() *Session {
	e.t.Helper()
	return e.connectFrom("127.0.0.1")
}

func (e *testEnv) connectFrom(ip string) *Session {
	e.t.Helper()
	e.nextPort++
	client, err := NewClient(newFakeConn(fmt.Sprintf("%s:%d", ip, e.nextPort)))
	require.NoError(e.t, err)
	sess := e.s.bindSession(client)
	require.NotNil(e.t, sess, "server full")
	e.drain(sess)
	return sess
}

// dispatch feeds one protocol line through the command table.
func (e *testEnv) dispatch(sess *Session, line string) {
	e.t.Helper()
	msg, ok := protocol.Parse(line)
	require.True(e.t, ok, "unparseable line %q", line)
	e.s.dispatch(e.ctx, sess, msg)
}

// drain empties the session's send queue and returns the queued lines
// without trailing newlines.
func (e *testEnv) drain(sess *Session) []string {
	return drainClient(sess.client)
}

func drainClient(c *Client) []string {
	var out []string
	for {
		select {
		case frame := <-c.sendCh:
			c.queuedBytes.Add(int64(-len(frame)))
			out = append(out, strings.TrimSuffix(string(frame), "\n"))
		default:
			return out
		}
	}
}

// seedUser inserts an account with the shared password. Access defaults
// to user when empty.
func (e *testEnv) seedUser(name string, access Access) *db.UserRow {
	e.t.Helper()
	_, hash := testCredentials()
	return e.ms.Users.seed(db.UserRow{
		Username: name,
		Password: hash,
		Email:    strings.ToLower(name) + "@example.com",
		Access:   access.String(),
		Verified: true,
	})
}

// login connects and authenticates name, seeding the account first when
// it does not exist yet. Fails the test unless the login is accepted.
func (e *testEnv) login(name string, access Access) *Session {
	e.t.Helper()
	if e.ms.Users.byName(name) == nil {
		e.seedUser(name, access)
	}
	wire, _ := testCredentials()
	sess := e.connect()
	e.dispatch(sess, fmt.Sprintf("LOGIN %s %s 3200 * TestLobby 1.0", name, wire))
	require.Equal(e.t, stateLoggedIn, sess.state, "LOGIN %s not accepted: %v", name, e.drain(sess))
	e.drain(sess)
	return sess
}

// drainAll drains every live session, typically after a broadcast.
func (e *testEnv) drainAll() {
	for _, sess := range e.s.sessions {
		if !sess.static {
			e.drain(sess)
		}
	}
}

// runPosted executes tasks queued via post from off-dispatcher callers.
func (e *testEnv) runPosted() int {
	n := 0
	for {
		select {
		case task := <-e.s.tasks:
			task()
			n++
		default:
			return n
		}
	}
}

// joined reports whether sess is a member of the named channel.
func (e *testEnv) joined(sess *Session, channel string) bool {
	ch, ok := e.s.channels[channel]
	if !ok {
		return false
	}
	_, member := ch.members[sess.id]
	return member
}

func requireLine(t *testing.T, lines []string, want string) {
	t.Helper()
	require.Contains(t, lines, want, "expected %q in %v", want, lines)
}

func requireLinePrefix(t *testing.T, lines []string, prefix string) string {
	t.Helper()
	for _, line := range lines {
		if strings.HasPrefix(line, prefix) {
			return line
		}
	}
	t.Fatalf("no line with prefix %q in %v", prefix, lines)
	return ""
}
