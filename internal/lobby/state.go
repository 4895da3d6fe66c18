package lobby

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/udisondev/uberlobby/internal/db"
)

// Fan-out helpers. Static sessions (ChanServ) are always delivered
// last so their reactions enqueue after every other recipient's copy
// of the event.

func (s *Server) deliver(sess *Session, line string) {
	if sess.static {
		s.chanServ.receive(line)
		return
	}
	sess.send(line)
	metricMessagesSent.Inc()
}

func (s *Server) fanout(targets []*Session, line string) {
	var statics []*Session
	for _, t := range targets {
		if t.static {
			statics = append(statics, t)
			continue
		}
		t.send(line)
		metricMessagesSent.Inc()
	}
	for range statics {
		s.chanServ.receive(line)
	}
}

// loggedIn collects every logged-in session except the given one.
func (s *Server) loggedIn(except *Session) []*Session {
	out := make([]*Session, 0, len(s.usernames))
	for _, t := range s.usernames {
		if t != except {
			out = append(out, t)
		}
	}
	return out
}

// broadcast sends to every logged-in session, statics last.
func (s *Server) broadcast(line string) {
	s.fanout(s.loggedIn(nil), line)
}

func (s *Server) broadcastExcept(except *Session, line string) {
	s.fanout(s.loggedIn(except), line)
}

// channelMembers resolves the member set, skipping stale ids.
func (s *Server) channelMembers(ch *Channel, except *Session) []*Session {
	out := make([]*Session, 0, len(ch.members))
	for id := range ch.members {
		t, ok := s.sessions[id]
		if !ok || t == except {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (s *Server) channelFanout(ch *Channel, line string) {
	s.fanout(s.channelMembers(ch, nil), line)
}

// channelSay delivers a channel line where the sender's own copy must
// echo the in-flight message id.
func (s *Server) channelSay(ch *Channel, sender *Session, line string) {
	var statics []*Session
	for _, t := range s.channelMembers(ch, nil) {
		if t.static {
			statics = append(statics, t)
			continue
		}
		if t == sender {
			t.reply(line)
		} else {
			t.send(line)
		}
		metricMessagesSent.Inc()
	}
	for range statics {
		s.chanServ.receive(line)
	}
}

func (s *Server) battleMembers(b *Battle) []*Session {
	out := make([]*Session, 0, len(b.members))
	for id := range b.members {
		if t, ok := s.sessions[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (s *Server) battleFanout(b *Battle, line string) {
	s.fanout(s.battleMembers(b), line)
}

// findUser resolves a logged-in session by exact username.
func (s *Server) findUser(name string) (*Session, bool) {
	t, ok := s.usernames[name]
	return t, ok
}

// addUserLine formats the ADDUSER announcement for a session.
func (s *Server) addUserLine(sess *Session) string {
	return fmt.Sprintf("ADDUSER %s %s %s %d %s",
		sess.Username(), sess.country, sess.cpu, sess.UserID(), sess.agent)
}

// worldSnapshot pushes the complete server state to a fresh login:
// every user, every battle, then LOGININFOEND and nonzero statuses.
func (s *Server) worldSnapshot(sess *Session) {
	for _, t := range s.usernames {
		sess.reply(s.addUserLine(t))
	}
	for _, b := range s.battles {
		sess.reply(s.battleOpenedLine(b))
		sess.reply(fmt.Sprintf("UPDATEBATTLEINFO %d %d %d %d %s",
			b.id, b.spectators, boolToInt(b.locked), b.mapHash, b.mapName))
		for id := range b.members {
			t, ok := s.sessions[id]
			if !ok || t.id == b.hostID {
				continue
			}
			sess.reply(fmt.Sprintf("JOINEDBATTLE %d %s", b.id, t.Username()))
		}
	}
	sess.reply("LOGININFOEND")
	for _, t := range s.usernames {
		if st := t.Status(); st != 0 {
			sess.reply(fmt.Sprintf("CLIENTSTATUS %s %d", t.Username(), st))
		}
	}
}

// broadcastStatus announces a session's status byte to all logged-in.
func (s *Server) broadcastStatus(sess *Session) {
	s.broadcast(fmt.Sprintf("CLIENTSTATUS %s %d", sess.Username(), sess.Status()))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Channel membership

// channelAuthority reports op-or-better inside ch: server mod/admin,
// founder, or channel op.
func (s *Server) channelAuthority(sess *Session, ch *Channel) bool {
	if sess.static || sess.access.IsMod() {
		return true
	}
	return ch.IsOp(sess.UserID())
}

// joinChannel runs the join algorithm including forward cascading.
// visited guards against forward cycles.
func (s *Server) joinChannel(ctx context.Context, sess *Session, name, key string, visited map[string]bool) {
	if visited[name] {
		return
	}
	visited[name] = true

	if !ValidChannelName(name) {
		sess.reply("JOINFAILED " + name + " Invalid channel name")
		return
	}

	ch, ok := s.channels[name]
	if !ok {
		ch = newChannel(name)
		s.channels[name] = ch
		metricChannelsActive.Set(float64(len(s.channels)))
	}

	if _, member := ch.members[sess.id]; member {
		return
	}

	authority := s.channelAuthority(sess, ch)
	if ch.key != "" && key != ch.key && !authority {
		sess.reply("JOINFAILED " + name + " Channel is locked")
		return
	}
	if p, banned := ch.Banned(sess.UserID(), time.Now()); banned && !authority {
		reason := "You are banned from this channel"
		if p.reason != "" {
			reason += ": " + p.reason
		}
		sess.reply("JOINFAILED " + name + " " + reason)
		return
	}

	ch.members[sess.id] = struct{}{}
	sess.channels[name] = struct{}{}

	sess.reply("JOIN " + name)
	if ch.topic != "" {
		sess.reply(fmt.Sprintf("CHANNELTOPIC %s %s %d %s",
			name, ch.topicSetter, ch.topicTime.Unix(), ch.topic))
	}
	names := make([]string, 0, len(ch.members))
	for id := range ch.members {
		if t, ok := s.sessions[id]; ok {
			names = append(names, t.Username())
		}
	}
	for start := 0; start < len(names); start += 10 {
		end := start + 10
		if end > len(names) {
			end = len(names)
		}
		sess.reply("CLIENTS " + name + " " + strings.Join(names[start:end], " "))
	}

	s.fanout(s.channelMembers(ch, sess), fmt.Sprintf("JOINED %s %s", name, sess.Username()))

	if ch.registered {
		if err := s.store.Channels.RecordUse(ctx, ch.id); err != nil {
			slog.Warn("recording channel use failed", "channel", name, "error", err)
		}
		if ch.storeHistory && !sess.static {
			s.replayHistory(ctx, sess, ch)
		}
	}

	for _, target := range ch.forwards {
		s.joinChannel(ctx, sess, target, "", visited)
	}
}

// replayHistory sends rows newer than the user's previous login.
func (s *Server) replayHistory(ctx context.Context, sess *Session, ch *Channel) {
	since := sess.prevLogin
	if since.IsZero() {
		since = time.Now().Add(-14 * 24 * time.Hour)
	}
	rows, err := s.store.Channels.HistorySince(ctx, ch.id, since, 25)
	if err != nil {
		slog.Warn("loading channel history failed", "channel", ch.name, "error", err)
		return
	}
	s.sendHistoryRows(sess, ch, rows)
}

// sendHistoryRows wraps history rows in the replay envelope. Empty
// input sends nothing.
func (s *Server) sendHistoryRows(sess *Session, ch *Channel, rows []db.HistoryRow) {
	if len(rows) == 0 {
		return
	}
	sess.reply("CHANNELMESSAGESBEGIN " + ch.name)
	for _, row := range rows {
		sess.reply(fmt.Sprintf("CHANNELMESSAGE %s %d %d %s %d %s",
			ch.name, row.ID, row.Time.Unix(), row.Author, boolToInt(row.Ex), row.Msg))
	}
	sess.reply("CHANNELMESSAGESEND " + ch.name)
}

// removeFromChannel drops membership and GCs empty unregistered
// channels. A non-empty announce replaces the LEFT line.
func (s *Server) removeFromChannel(sess *Session, ch *Channel, announce string) {
	if _, member := ch.members[sess.id]; !member {
		return
	}
	delete(ch.members, sess.id)
	delete(sess.channels, ch.name)
	ch.spam.Forget(sess.id)

	if announce == "" {
		announce = fmt.Sprintf("LEFT %s %s", ch.name, sess.Username())
	}
	s.channelFanout(ch, announce)

	if !ch.registered && len(ch.members) == 0 {
		delete(s.channels, ch.name)
		metricChannelsActive.Set(float64(len(s.channels)))
	}
}

// muteChannelUser records a mute in memory and, for registered
// channels, in the store. Duration 0 means indefinite.
func (s *Server) muteChannelUser(ctx context.Context, ch *Channel, userID int32, username, reason string, d time.Duration) {
	var expires time.Time
	if d > 0 {
		expires = time.Now().Add(d)
	}
	ch.mutes[userID] = penalty{username: username, reason: reason, expires: expires}
	if ch.registered {
		if err := s.store.Channels.AddMute(ctx, ch.id, db.ChannelPenaltyRow{
			UserID: userID, Username: username, Reason: reason, Expires: expires,
		}); err != nil {
			slog.Warn("persisting mute failed", "channel", ch.name, "user", username, "error", err)
		}
	}
}

func (s *Server) unmuteChannelUser(ctx context.Context, ch *Channel, userID int32) {
	delete(ch.mutes, userID)
	if ch.registered {
		if err := s.store.Channels.RemoveMute(ctx, ch.id, userID); err != nil {
			slog.Warn("removing mute failed", "channel", ch.name, "error", err)
		}
	}
}

// sayChannel runs the moderation pipeline for SAY/SAYEX and fans the
// message out, sender included.
func (s *Server) sayChannel(ctx context.Context, sess *Session, ch *Channel, msg string, ex bool) {
	if _, member := ch.members[sess.id]; !member {
		sess.reply("SERVERMSG You are not a member of #" + ch.name)
		return
	}

	now := time.Now()
	if _, muted := ch.Muted(sess.UserID(), now); muted {
		sess.reply(fmt.Sprintf("CHANNELMESSAGE %s %s is muted in this channel", ch.name, sess.Username()))
		return
	}

	if ch.antispam && !sess.static && !sess.access.IsMod() {
		if ch.spam.Charge(sess.id, len(msg), now) {
			d := time.Duration(ch.spam.settings.Duration) * time.Second
			s.muteChannelUser(ctx, ch, sess.UserID(), sess.Username(), "spamming", d)
			if !ch.spam.settings.Quiet {
				s.channelFanout(ch, fmt.Sprintf(
					"CHANNELMESSAGE %s %s auto-muted for spamming",
					ch.name, sess.Username()))
			}
			return
		}
	}

	if s.cfg.Censor && s.filter != nil {
		msg = s.filter.Apply(msg)
	}

	verb := "SAID"
	if ex {
		verb = "SAIDEX"
	}
	s.channelSay(ch, sess, fmt.Sprintf("%s %s %s %s", verb, ch.name, sess.Username(), msg))

	if ch.registered && ch.storeHistory && !sess.static {
		if _, err := s.store.Channels.AppendHistory(ctx, ch.id, sess.Username(), msg, ex); err != nil {
			slog.Warn("appending channel history failed", "channel", ch.name, "error", err)
		}
	}
}

// Battles

func (s *Server) battleOpenedLine(b *Battle) string {
	ip := ""
	if hostSess, ok := s.sessions[b.hostID]; ok {
		ip = hostSess.ip
	}
	return fmt.Sprintf("BATTLEOPENED %d %d %d %s %s %d %d %d %d %d %s\t%s\t%s\t%s\t%s",
		b.id, b.typ, b.natType, b.host, ip, b.port, b.maxPlayers,
		boolToInt(b.Passworded()), b.rankLimit, b.mapHash,
		b.engineName, b.engineVersion, b.mapName, b.title, b.game)
}

// joinerBattleSnapshot pushes the in-battle state to a fresh member.
func (s *Server) joinerBattleSnapshot(sess *Session, b *Battle) {
	for id := range b.members {
		t, ok := s.sessions[id]
		if !ok || t == sess {
			continue
		}
		sess.reply(clientBattleStatusLine(t))
	}
	for _, name := range b.BotNames() {
		bot := b.bots[name]
		sess.reply(fmt.Sprintf("ADDBOT %d %s %s %d %d %s",
			b.id, bot.Name, bot.Owner, uint32(bot.Status), bot.Color, bot.AI))
	}
	for _, ally := range b.RectAllies() {
		r := b.rects[ally]
		sess.reply(fmt.Sprintf("ADDSTARTRECT %d %d %d %d %d",
			ally, r.Left, r.Top, r.Right, r.Bottom))
	}
	if len(b.tags) > 0 {
		pairs := make([]string, 0, len(b.tags))
		for _, k := range b.TagKeys() {
			pairs = append(pairs, k+"="+b.tags[k])
		}
		sess.reply("SETSCRIPTTAGS " + strings.Join(pairs, "\t"))
	}
	if len(b.disabledUnits) > 0 {
		sess.reply("DISABLEUNITS " + strings.Join(b.disabledUnits, " "))
	}
	sess.reply("REQUESTBATTLESTATUS")
}

// removeOwnedBots drops every bot slot owned by the leaver.
func (s *Server) removeOwnedBots(b *Battle, username string) {
	for _, name := range b.BotsOwnedBy(username) {
		delete(b.bots, name)
		s.battleFanout(b, fmt.Sprintf("REMOVEBOT %d %s", b.id, name))
	}
}

// leaveBattle takes sess out of its battle. A host departure
// dissolves the battle via closeBattle.
func (s *Server) leaveBattle(sess *Session, reason string) {
	b, ok := s.battles[sess.battleID]
	if !ok {
		sess.battleID = 0
		return
	}
	if b.hostID == sess.id {
		s.closeBattle(b)
		return
	}

	s.removeOwnedBots(b, sess.Username())
	if sess.battleStatus.Spectator() && b.spectators > 0 {
		b.spectators--
	}
	delete(b.members, sess.id)
	delete(b.forcedSpectators, sess.id)
	s.detachFromBattle(sess)

	line := fmt.Sprintf("LEFTBATTLE %d %s", b.id, sess.Username())
	if reason != "" {
		sess.reply("SERVERMSG " + reason)
	}
	s.broadcast(line)
}

// closeBattle dissolves a battle: every non-host member is ejected
// with a LEFTBATTLE line, then BATTLECLOSED goes to everyone.
func (s *Server) closeBattle(b *Battle) {
	for id := range b.members {
		t, ok := s.sessions[id]
		if !ok {
			continue
		}
		if t.id != b.hostID {
			s.broadcast(fmt.Sprintf("LEFTBATTLE %d %s", b.id, t.Username()))
		}
		s.detachFromBattle(t)
	}
	delete(s.battles, b.id)
	metricBattlesOpen.Set(float64(len(s.battles)))
	s.broadcast("BATTLECLOSED " + strconv.Itoa(int(b.id)))
}

// detachFromBattle clears the session's battle-scoped state.
func (s *Server) detachFromBattle(sess *Session) {
	sess.battleID = 0
	sess.battleStatus = 0
	sess.teamColor = 0
	sess.scriptPass = ""
}
