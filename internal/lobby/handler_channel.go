package lobby

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/udisondev/uberlobby/internal/db"
	"github.com/udisondev/uberlobby/internal/protocol"
)

// resolveChannel strips an optional '#' prefix and looks the channel up.
func (s *Server) resolveChannel(name string) (*Channel, bool) {
	ch, ok := s.channels[strings.TrimPrefix(name, "#")]
	return ch, ok
}

// resolveTarget finds the user id and canonical name for a command
// target, online or not.
func (s *Server) resolveTarget(ctx context.Context, name string) (int32, string, error) {
	if t, ok := s.findUser(name); ok {
		return t.UserID(), t.Username(), nil
	}
	user, err := s.store.Users.FindByName(ctx, name)
	if err != nil {
		return 0, "", err
	}
	return user.ID, user.Username, nil
}

// handleChannels lists channels: one CHANNEL line each, then
// ENDOFCHANNELS.
func (s *Server) handleChannels(_ context.Context, sess *Session, _ string) {
	names := make([]string, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ch := s.channels[name]
		line := fmt.Sprintf("CHANNEL %s %d", name, len(ch.members))
		if ch.topic != "" {
			line += " " + ch.topic
		}
		sess.reply(line)
	}
	sess.reply("ENDOFCHANNELS")
}

// handleJoin enters a channel: JOIN <chan> [key]
func (s *Server) handleJoin(ctx context.Context, sess *Session, args string) {
	head, _ := protocol.SplitArgs(args, 2)
	if len(head) < 1 {
		sess.reply("SERVERMSG Bad syntax for JOIN")
		return
	}
	name := strings.TrimPrefix(head[0], "#")
	key := ""
	if len(head) > 1 {
		key = head[1]
	}
	s.joinChannel(ctx, sess, name, key, map[string]bool{})
}

// handleLeave exits a channel: LEAVE <chan>
func (s *Server) handleLeave(_ context.Context, sess *Session, args string) {
	name := strings.TrimSpace(args)
	if name == "" {
		sess.reply("SERVERMSG Bad syntax for LEAVE")
		return
	}
	if ch, ok := s.resolveChannel(name); ok {
		s.removeFromChannel(sess, ch, "")
	}
}

func (s *Server) handleSay(ctx context.Context, sess *Session, args string) {
	s.say(ctx, sess, args, false)
}

func (s *Server) handleSayEx(ctx context.Context, sess *Session, args string) {
	s.say(ctx, sess, args, true)
}

func (s *Server) say(ctx context.Context, sess *Session, args string, ex bool) {
	head, msg := protocol.SplitArgs(args, 1)
	if len(head) < 1 || msg == "" {
		sess.reply("SERVERMSG Bad syntax for SAY")
		return
	}
	name := strings.TrimPrefix(head[0], "#")
	ch, ok := s.channels[name]
	if !ok {
		sess.reply("SERVERMSG You are not a member of #" + name)
		return
	}
	s.sayChannel(ctx, sess, ch, msg, ex)
}

// handleSayPrivate relays a private message:
// SAYPRIVATE <user> <msg>
func (s *Server) handleSayPrivate(_ context.Context, sess *Session, args string) {
	head, msg := protocol.SplitArgs(args, 1)
	if len(head) < 1 || msg == "" {
		sess.reply("SERVERMSG Bad syntax for SAYPRIVATE")
		return
	}
	target, ok := s.findUser(head[0])
	if !ok {
		sess.reply("SERVERMSG " + head[0] + " is not online")
		return
	}

	sess.reply(fmt.Sprintf("SAYPRIVATE %s %s", target.Username(), msg))
	if target.Ignores(sess.Username()) {
		return
	}
	s.deliver(target, fmt.Sprintf("SAIDPRIVATE %s %s", sess.Username(), msg))
}

// handleChannelTopic sets or clears a topic:
// CHANNELTOPIC <chan> <topic…>
func (s *Server) handleChannelTopic(ctx context.Context, sess *Session, args string) {
	head, topic := protocol.SplitArgs(args, 1)
	if len(head) < 1 || topic == "" {
		sess.reply("SERVERMSG Bad syntax for CHANNELTOPIC")
		return
	}
	ch, ok := s.resolveChannel(head[0])
	if !ok {
		sess.reply("SERVERMSG Channel #" + head[0] + " does not exist")
		return
	}
	if !s.channelAuthority(sess, ch) {
		sess.reply("SERVERMSG You are not an operator of #" + ch.name)
		return
	}

	stored := topic
	if topic == "*" {
		stored = ""
	}
	ch.topic = stored
	ch.topicSetter = sess.Username()
	ch.topicTime = time.Now()
	if ch.registered {
		if err := s.store.Channels.SetTopic(ctx, ch.id, stored, sess.Username()); err != nil {
			s.internalError(sess, "storing channel topic failed", err)
			return
		}
	}
	s.channelFanout(ch, fmt.Sprintf("CHANNELTOPIC %s %s %d %s",
		ch.name, ch.topicSetter, ch.topicTime.Unix(), topic))
}

// handleGetChannelMessages replays stored history:
// GETCHANNELMESSAGES <chan> <afterID>
func (s *Server) handleGetChannelMessages(ctx context.Context, sess *Session, args string) {
	head, _ := protocol.SplitArgs(args, 2)
	if len(head) < 2 {
		sess.reply("SERVERMSG Bad syntax for GETCHANNELMESSAGES")
		return
	}
	afterID, err := strconv.ParseInt(head[1], 10, 64)
	if err != nil {
		sess.reply("SERVERMSG Bad syntax for GETCHANNELMESSAGES")
		return
	}
	ch, ok := s.resolveChannel(head[0])
	if !ok {
		sess.reply("SERVERMSG Channel #" + head[0] + " does not exist")
		return
	}
	if _, member := ch.members[sess.id]; !member {
		sess.reply("SERVERMSG You are not a member of #" + ch.name)
		return
	}
	if !ch.registered || !ch.storeHistory {
		sess.reply("SERVERMSG Channel #" + ch.name + " does not store history")
		return
	}
	rows, err := s.store.Channels.HistoryAfter(ctx, ch.id, afterID, 100)
	if err != nil {
		s.internalError(sess, "loading channel history failed", err)
		return
	}
	s.sendHistoryRows(sess, ch, rows)
}

// handleMute silences a user in a channel:
// MUTE <chan> <user> [seconds] [reason…]
func (s *Server) handleMute(ctx context.Context, sess *Session, args string) {
	head, reason := protocol.SplitArgs(args, 3)
	if len(head) < 2 {
		sess.reply("SERVERMSG Bad syntax for MUTE")
		return
	}
	ch, ok := s.resolveChannel(head[0])
	if !ok {
		sess.reply("SERVERMSG Channel #" + head[0] + " does not exist")
		return
	}
	if !s.channelAuthority(sess, ch) {
		sess.reply("SERVERMSG You are not an operator of #" + ch.name)
		return
	}

	var d time.Duration
	if len(head) > 2 {
		secs, err := strconv.Atoi(head[2])
		if err != nil || secs < 0 {
			sess.reply("SERVERMSG Bad syntax for MUTE")
			return
		}
		d = time.Duration(secs) * time.Second
	}

	targetID, targetName, err := s.resolveTarget(ctx, head[1])
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			sess.reply("SERVERMSG Unknown user " + head[1])
			return
		}
		s.internalError(sess, "resolving mute target failed", err)
		return
	}

	s.muteChannelUser(ctx, ch, targetID, targetName, reason, d)
	announce := fmt.Sprintf("%s muted by %s", targetName, sess.Username())
	if reason != "" {
		announce += ": " + reason
	}
	s.channelFanout(ch, "CHANNELMESSAGE "+ch.name+" "+announce)
}

// handleUnmute lifts a mute: UNMUTE <chan> <user>
func (s *Server) handleUnmute(ctx context.Context, sess *Session, args string) {
	head, _ := protocol.SplitArgs(args, 2)
	if len(head) < 2 {
		sess.reply("SERVERMSG Bad syntax for UNMUTE")
		return
	}
	ch, ok := s.resolveChannel(head[0])
	if !ok {
		sess.reply("SERVERMSG Channel #" + head[0] + " does not exist")
		return
	}
	if !s.channelAuthority(sess, ch) {
		sess.reply("SERVERMSG You are not an operator of #" + ch.name)
		return
	}
	targetID, targetName, err := s.resolveTarget(ctx, head[1])
	if err != nil {
		sess.reply("SERVERMSG Unknown user " + head[1])
		return
	}
	if _, muted := ch.mutes[targetID]; !muted {
		sess.reply("SERVERMSG " + targetName + " is not muted in #" + ch.name)
		return
	}
	s.unmuteChannelUser(ctx, ch, targetID)
	s.channelFanout(ch, fmt.Sprintf("CHANNELMESSAGE %s %s unmuted by %s",
		ch.name, targetName, sess.Username()))
}

// handleMuteList lists active mutes: MUTELIST <chan>
func (s *Server) handleMuteList(_ context.Context, sess *Session, args string) {
	name := strings.TrimSpace(args)
	if name == "" {
		sess.reply("SERVERMSG Bad syntax for MUTELIST")
		return
	}
	ch, ok := s.resolveChannel(name)
	if !ok {
		sess.reply("SERVERMSG Channel #" + name + " does not exist")
		return
	}
	now := time.Now()
	sess.reply("MUTELISTBEGIN " + ch.name)
	for _, p := range ch.MuteEntries(now) {
		remaining := "indefinite"
		if !p.expires.IsZero() {
			remaining = strconv.Itoa(int(p.expires.Sub(now) / time.Second))
		}
		sess.reply(fmt.Sprintf("MUTELIST %s %s", p.username, remaining))
	}
	sess.reply("MUTELISTEND")
}

// handleForceLeaveChannel kicks a user from a channel:
// FORCELEAVECHANNEL <chan> <user> [reason…]
func (s *Server) handleForceLeaveChannel(_ context.Context, sess *Session, args string) {
	head, reason := protocol.SplitArgs(args, 2)
	if len(head) < 2 {
		sess.reply("SERVERMSG Bad syntax for FORCELEAVECHANNEL")
		return
	}
	ch, ok := s.resolveChannel(head[0])
	if !ok {
		sess.reply("SERVERMSG Channel #" + head[0] + " does not exist")
		return
	}
	if !s.channelAuthority(sess, ch) {
		sess.reply("SERVERMSG You are not an operator of #" + ch.name)
		return
	}
	target, ok := s.findUser(head[1])
	if !ok {
		sess.reply("SERVERMSG " + head[1] + " is not online")
		return
	}
	if _, member := ch.members[target.id]; !member {
		sess.reply("SERVERMSG " + target.Username() + " is not in #" + ch.name)
		return
	}

	notice := fmt.Sprintf("FORCELEAVECHANNEL %s %s", ch.name, sess.Username())
	if reason != "" {
		notice += " " + reason
	}
	s.deliver(target, notice)

	announce := fmt.Sprintf("LEFT %s %s kicked by %s", ch.name, target.Username(), sess.Username())
	if reason != "" {
		announce += ": " + reason
	}
	s.removeFromChannel(target, ch, announce)
}
