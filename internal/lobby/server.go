// Package lobby implements the multiplayer lobby engine: the TCP line
// protocol server, session/channel/battle state and the command
// dispatcher that serializes all mutations on a single goroutine.
package lobby

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/udisondev/uberlobby/internal/config"
	"github.com/udisondev/uberlobby/internal/db"
	"github.com/udisondev/uberlobby/internal/filter"
	"github.com/udisondev/uberlobby/internal/geoip"
	"github.com/udisondev/uberlobby/internal/mail"
	"github.com/udisondev/uberlobby/internal/protocol"
)

// Server is the lobby server. All maps below are owned by the
// dispatcher goroutine; nothing else may touch them.
type Server struct {
	cfg    config.Lobby
	store  Store
	geo    *geoip.Resolver
	filter *filter.Filter
	mail   *mail.Queue

	motd      []string
	agreement []string
	proxies   map[string]struct{}

	tasks chan func()
	done  chan struct{}

	sessions  map[int64]*Session
	usernames map[string]*Session
	channels  map[string]*Channel
	battles   map[int32]*Battle

	nextSessionID int64
	nextBattleID  int32

	commands map[string]command
	chanServ *ChanServ

	// failed-login limiter per IP plus the registration (per IP) and
	// rename (per user) throttle counters, decayed by the 20-minute
	// scheduler step.
	loginLimiters map[string]*rate.Limiter
	registrations map[string]int
	renameCounts  map[int32]int

	springVersion    string
	minSpringVersion string

	// runCtx is the Serve context. Static-session command execution
	// and other dispatcher-internal store calls use it.
	runCtx context.Context

	listener net.Listener
	mu       sync.Mutex

	started time.Time
}

// NewServer wires the engine. Call Run to start serving.
func NewServer(cfg config.Lobby, store Store, geo *geoip.Resolver, f *filter.Filter, mailQueue *mail.Queue) *Server {
	s := &Server{
		cfg:           cfg,
		store:         store,
		geo:           geo,
		filter:        f,
		mail:          mailQueue,
		proxies:       make(map[string]struct{}),
		tasks:         make(chan func(), 1024),
		done:          make(chan struct{}),
		sessions:      make(map[int64]*Session),
		usernames:     make(map[string]*Session),
		channels:      make(map[string]*Channel),
		battles:       make(map[int32]*Battle),
		loginLimiters: make(map[string]*rate.Limiter),
		registrations: make(map[string]int),
		renameCounts:  make(map[int32]int),
		springVersion: cfg.SpringVersion,
		runCtx:        context.Background(),
		started:       time.Now(),
	}
	s.loadFiles()
	s.commands = s.commandTable()
	s.chanServ = newChanServ(s)
	return s
}

// loadFiles reads the MOTD, agreement and trusted-proxies files.
// Missing files fall back to built-in defaults. Also invoked on SIGHUP.
func (s *Server) loadFiles() {
	s.motd = readLines(s.cfg.MOTDFile)
	if len(s.motd) == 0 {
		s.motd = []string{"Welcome to the lobby server, version " + s.cfg.ServerVersion}
	}
	s.agreement = readLines(s.cfg.AgreementFile)
	if len(s.agreement) == 0 {
		s.agreement = []string{
			"By using this service you agree to behave,",
			"to follow the moderators' instructions,",
			"and to not abuse other players.",
		}
	}
	proxies := make(map[string]struct{})
	for _, line := range readLines(s.cfg.ProxiesFile) {
		proxies[line] = struct{}{}
	}
	s.proxies = proxies
}

func readLines(path string) []string {
	if path == "" {
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("reading data file failed", "path", path, "error", err)
		}
		return nil
	}
	defer file.Close()

	var lines []string
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// Reload re-reads data files and the word filter. Posted from the
// SIGHUP handler in main.
func (s *Server) Reload() {
	s.post(func() {
		s.loadFiles()
		if s.cfg.WordlistFile != "" {
			if err := s.filter.Reload(s.cfg.WordlistFile); err != nil {
				slog.Warn("wordlist reload failed", "error", err)
			}
		}
		if s.cfg.GeoIPFile != "" {
			if err := s.geo.Reload(s.cfg.GeoIPFile); err != nil {
				slog.Warn("geoip reload failed", "error", err)
			}
		}
		slog.Info("data files reloaded",
			"motd_lines", len(s.motd), "agreement_lines", len(s.agreement), "proxies", len(s.proxies))
	})
}

// Addr returns the listen address, nil before Run.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// post hands a task to the dispatcher goroutine. Used by connection
// readers, the scheduler, the NAT helper and the ops server; handler
// code already on the dispatcher must call functions directly instead.
func (s *Server) post(task func()) {
	select {
	case s.tasks <- task:
	case <-s.done:
	}
}

// runDispatcher is the single goroutine that owns all lobby state.
func (s *Server) runDispatcher(ctx context.Context) error {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case task := <-s.tasks:
			task()
		}
	}
}

// bootstrap restores registered channels from the store and seats
// ChanServ in each of them.
func (s *Server) bootstrap(ctx context.Context) error {
	rows, err := s.store.Channels.All(ctx)
	if err != nil {
		return fmt.Errorf("loading registered channels: %w", err)
	}
	for _, row := range rows {
		ch := newChannelFromRow(row)

		ops, err := s.store.Channels.Ops(ctx, row.ID)
		if err != nil {
			return fmt.Errorf("loading ops for #%s: %w", row.Name, err)
		}
		for _, op := range ops {
			ch.ops[op.UserID] = op.Username
		}

		mutes, err := s.store.Channels.Mutes(ctx, row.ID)
		if err != nil {
			return fmt.Errorf("loading mutes for #%s: %w", row.Name, err)
		}
		for _, m := range mutes {
			ch.mutes[m.UserID] = penalty{username: m.Username, reason: m.Reason, expires: m.Expires}
		}

		bans, err := s.store.Channels.Bans(ctx, row.ID)
		if err != nil {
			return fmt.Errorf("loading bans for #%s: %w", row.Name, err)
		}
		for _, b := range bans {
			ch.bans[b.UserID] = penalty{username: b.Username, reason: b.Reason, expires: b.Expires}
		}

		s.channels[row.Name] = ch
	}

	forwards, err := s.store.Channels.Forwards(ctx)
	if err != nil {
		return fmt.Errorf("loading channel forwards: %w", err)
	}
	for _, fw := range forwards {
		if ch, ok := s.channels[fw.SourceName]; ok {
			ch.forwards = append(ch.forwards, fw.TargetName)
		}
	}

	if v, err := s.store.Settings.Setting(ctx, db.SettingMinSpringVersion); err == nil {
		s.minSpringVersion = v
	}

	s.chanServ.joinRegisteredChannels()
	slog.Info("lobby state restored", "channels", len(s.channels))
	return nil
}

// Run listens on the configured address and serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx ends. Split from Run so
// tests can pass their own listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.runCtx = ctx
	if err := s.bootstrap(ctx); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	go s.acceptLoop(ctx, ln)

	slog.Info("lobby server started", "address", ln.Addr())
	return s.runDispatcher(ctx)
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			slog.Error("failed to accept new connection", "error", err)
			continue
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			if err := tcpConn.SetKeepAlive(true); err != nil {
				slog.Warn("set keepalive failed", "error", err)
			}
			if err := tcpConn.SetKeepAlivePeriod(30 * time.Second); err != nil {
				slog.Warn("set keepalive period failed", "error", err)
			}
		}

		wg.Go(func() {
			s.handleConnection(ctx, conn)
		})
	}
}

// handleConnection is the per-connection reader goroutine. It decodes
// lines and posts them to the dispatcher; all writes go through the
// client's writePump.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	client, err := NewClient(conn)
	if err != nil {
		slog.Error("failed to wrap connection", "remote", conn.RemoteAddr(), "error", err)
		conn.Close()
		return
	}

	go client.writePump()
	defer client.Close()

	go func() {
		<-ctx.Done()
		client.Close()
	}()

	bound := make(chan *Session, 1)
	s.post(func() { bound <- s.bindSession(client) })

	var sess *Session
	select {
	case sess = <-bound:
	case <-ctx.Done():
		return
	case <-s.done:
		return
	}
	if sess == nil {
		return
	}

	defer s.post(func() { s.removeSession(ctx, sess, "connection closed") })

	r := protocol.NewLineReader(conn)
	for {
		line, err := r.ReadLine()
		if err != nil {
			if errors.Is(err, protocol.ErrLineTooLong) {
				metricOversizeLines.Inc()
				s.post(func() { sess.send("SERVERMSG Protocol error: line too long") })
				continue
			}
			return
		}
		msg, ok := protocol.Parse(line)
		if !ok {
			continue
		}
		s.post(func() { s.dispatch(ctx, sess, msg) })
	}
}

// bindSession registers a fresh connection with the dispatcher, sends
// the banner and returns the session, or nil when the server is full.
func (s *Server) bindSession(client *Client) *Session {
	if s.cfg.Limits.MaxClients > 0 && len(s.sessions) >= s.cfg.Limits.MaxClients {
		client.Send("SERVERMSG Server is full, try again later")
		client.CloseWhenDrained()
		return nil
	}

	s.nextSessionID++
	sess := newSession(s.nextSessionID, client, time.Now())
	sess.country = s.geo.Lookup(sess.ip)
	sess.state = stateAwaitLogin
	s.sessions[sess.id] = sess
	metricSessionsActive.Set(float64(len(s.sessions)))

	sess.send(fmt.Sprintf("TASServer %s %s %d 0", s.cfg.ServerVersion, s.springVersion, s.cfg.NATPort))
	slog.Info("new connection", "session", sess.id, "ip", sess.ip, "country", sess.country)
	return sess
}

// removeSession tears a session down: battle, channels, username map,
// REMOVEUSER broadcast, ingame-time persistence. Idempotent.
func (s *Server) removeSession(ctx context.Context, sess *Session, reason string) {
	if sess.state == stateRemoving {
		return
	}
	wasLoggedIn := sess.state == stateLoggedIn
	sess.state = stateRemoving

	if sess.battleID != 0 {
		s.leaveBattle(sess, "")
	}
	for name := range sess.channels {
		if ch, ok := s.channels[name]; ok {
			s.removeFromChannel(sess, ch, "")
		}
	}

	if wasLoggedIn {
		username := sess.Username()
		delete(s.usernames, username)
		s.broadcastExcept(sess, "REMOVEUSER "+username)
		metricUsersLoggedIn.Set(float64(len(s.usernames)))

		ingame := sess.ingameAccum
		if sess.inGame {
			ingame += time.Since(sess.inGameSince)
		}
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		if err := s.store.Users.EndSession(saveCtx, sess.UserID(), ingame); err != nil {
			slog.Error("persisting session end failed", "user", username, "error", err)
		}
	}

	delete(s.sessions, sess.id)
	metricSessionsActive.Set(float64(len(s.sessions)))
	if sess.client != nil {
		sess.client.CloseWhenDrained()
	}
	slog.Info("session closed", "session", sess.id, "user", sess.Username(), "reason", reason)
}

// Status is a point-in-time snapshot for the ops server.
type Status struct {
	Sessions int           `json:"sessions"`
	Users    int           `json:"users"`
	Channels int           `json:"channels"`
	Battles  int           `json:"battles"`
	Uptime   time.Duration `json:"uptime"`
	Version  string        `json:"version"`
}

// Snapshot asks the dispatcher for current counts.
func (s *Server) Snapshot(ctx context.Context) (Status, error) {
	out := make(chan Status, 1)
	s.post(func() {
		out <- Status{
			Sessions: len(s.sessions),
			Users:    len(s.usernames),
			Channels: len(s.channels),
			Battles:  len(s.battles),
			Uptime:   time.Since(s.started),
			Version:  s.cfg.ServerVersion,
		}
	})
	select {
	case st := <-out:
		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	case <-s.done:
		return Status{}, errors.New("server stopped")
	}
}
