package lobby

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/udisondev/uberlobby/internal/db"
	"github.com/udisondev/uberlobby/internal/protocol"
)

// ChanServUsername is the reserved name of the channel service bot.
const ChanServUsername = "ChanServ"

// ChanServ is the built-in channel service. It runs as a static
// session (id 0, no socket) on the dispatcher: fan-outs addressed to
// it loop back into receive, which executes !commands directly against
// the same server operations the wire handlers use.
type ChanServ struct {
	srv  *Server
	sess *Session
}

// newChanServ seats the service session in the server maps so it shows
// up in ADDUSER pushes and receives every fan-out last.
func newChanServ(s *Server) *ChanServ {
	now := time.Now()
	sess := &Session{
		id:        0,
		static:    true,
		state:     stateLoggedIn,
		country:   "??",
		cpu:       "0",
		agent:     "uberlobby",
		connected: now,
		lastData:  now,
		user: &db.UserRow{
			Username: ChanServUsername,
			Access:   AccessAdmin.String(),
			Bot:      true,
		},
		access:   AccessAdmin,
		bot:      true,
		channels: make(map[string]struct{}),
		ignores:  make(map[string]string),
	}
	s.sessions[sess.id] = sess
	s.usernames[ChanServUsername] = sess
	return &ChanServ{srv: s, sess: sess}
}

// joinRegisteredChannels seats ChanServ in every restored channel.
// Called from bootstrap before any client can connect, so no JOINED
// fan-out is needed.
func (c *ChanServ) joinRegisteredChannels() {
	for name, ch := range c.srv.channels {
		if !ch.registered {
			continue
		}
		ch.members[c.sess.id] = struct{}{}
		c.sess.channels[name] = struct{}{}
	}
}

// receive is ChanServ's inbound side: every fan-out line delivered to
// the static session lands here. Only SAID/SAIDPRIVATE carrying a
// !command are acted on.
func (c *ChanServ) receive(line string) {
	msg, ok := protocol.Parse(line)
	if !ok {
		return
	}

	var from, text string
	switch msg.Command {
	case "SAIDPRIVATE":
		head, rest := protocol.SplitArgs(msg.Args, 1)
		if len(head) < 1 {
			return
		}
		from, text = head[0], rest
	case "SAID":
		head, rest := protocol.SplitArgs(msg.Args, 2)
		if len(head) < 2 {
			return
		}
		from, text = head[1], rest
	default:
		return
	}

	if from == ChanServUsername || !strings.HasPrefix(text, "!") {
		return
	}
	actor, ok := c.srv.findUser(from)
	if !ok || actor.static {
		return
	}
	c.execute(c.srv.runCtx, actor, strings.TrimPrefix(text, "!"))
}

// tell answers the actor the way a private message from ChanServ
// looks on the wire.
func (c *ChanServ) tell(actor *Session, msg string) {
	c.srv.deliver(actor, "SAIDPRIVATE "+ChanServUsername+" "+msg)
}

func (c *ChanServ) fail(actor *Session, op string, err error) {
	slog.Error(op, "error", err)
	c.tell(actor, "Internal error, try again later")
}

func (c *ChanServ) execute(ctx context.Context, actor *Session, text string) {
	word, rest, _ := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(word) {
	case "help":
		c.cmdHelp(actor)
	case "info":
		c.cmdInfo(actor, rest)
	case "register":
		c.cmdRegister(ctx, actor, rest)
	case "unregister":
		c.cmdUnregister(ctx, actor, rest)
	case "changefounder":
		c.cmdChangeFounder(ctx, actor, rest)
	case "spamprotection":
		c.cmdSpamProtection(ctx, actor, rest)
	case "spamsettings":
		c.cmdSpamSettings(ctx, actor, rest)
	case "op":
		c.cmdOp(ctx, actor, rest, true)
	case "deop":
		c.cmdOp(ctx, actor, rest, false)
	case "topic":
		c.cmdTopic(ctx, actor, rest)
	case "lock":
		c.cmdLock(ctx, actor, rest, true)
	case "unlock":
		c.cmdLock(ctx, actor, rest, false)
	case "kick":
		c.cmdKick(actor, rest)
	case "chanmsg":
		c.cmdChanMsg(actor, rest)
	case "mute":
		c.cmdMute(ctx, actor, rest)
	case "unmute":
		c.cmdUnmute(ctx, actor, rest)
	case "mutelist":
		c.cmdMuteList(actor, rest)
	case "ban":
		c.cmdBan(ctx, actor, rest)
	case "unban":
		c.cmdUnban(ctx, actor, rest)
	case "history":
		c.cmdHistory(ctx, actor, rest)
	case "forward":
		c.cmdForward(ctx, actor, rest, true)
	case "unforward":
		c.cmdForward(ctx, actor, rest, false)
	default:
		c.tell(actor, "Unknown command !"+word+", try !help")
	}
}

// channelArg resolves the leading #chan token and returns the rest.
func (c *ChanServ) channelArg(actor *Session, args string) (*Channel, string, bool) {
	name, rest, _ := strings.Cut(args, " ")
	if name == "" {
		c.tell(actor, "Missing channel argument, try !help")
		return nil, "", false
	}
	ch, ok := c.srv.resolveChannel(name)
	if !ok {
		c.tell(actor, "Channel #"+strings.TrimPrefix(name, "#")+" does not exist")
		return nil, "", false
	}
	return ch, strings.TrimSpace(rest), true
}

// canAdmin covers server mods and the channel founder.
func (c *ChanServ) canAdmin(actor *Session, ch *Channel) bool {
	return actor.access.IsMod() || ch.IsFounder(actor.UserID())
}

// canOperate additionally admits channel ops.
func (c *ChanServ) canOperate(actor *Session, ch *Channel) bool {
	return c.canAdmin(actor, ch) || ch.IsOp(actor.UserID())
}

func (c *ChanServ) denyAdmin(actor *Session, ch *Channel) {
	c.tell(actor, "You do not have permission to administer #"+ch.name)
}

func (c *ChanServ) denyOp(actor *Session, ch *Channel) {
	c.tell(actor, "You are not an operator of #"+ch.name)
}

func (c *ChanServ) cmdHelp(actor *Session) {
	lines := []string{
		"Channel service commands:",
		"!help, !info [#chan]",
		"!register #chan [founder], !unregister #chan, !changefounder #chan <user>",
		"!spamprotection #chan [on|off], !spamsettings #chan <timeout> <quiet> <aggressiveness> <bonuslength> <duration>",
		"!op #chan <user>, !deop #chan <user>",
		"!topic #chan <text>, !lock #chan <key>, !unlock #chan, !chanmsg #chan <text>",
		"!kick #chan <user> [reason], !mute #chan <user> [minutes], !unmute #chan <user>, !mutelist #chan",
		"!ban #chan <user> [minutes] [reason…], !unban #chan <user>",
		"!history #chan on|off, !forward #chan #target, !unforward #chan #target",
	}
	for _, l := range lines {
		c.tell(actor, l)
	}
}

func (c *ChanServ) cmdInfo(actor *Session, args string) {
	if args == "" {
		c.tell(actor, fmt.Sprintf("uberlobby %s: %d users online, %d channels, %d battles, up %s",
			c.srv.cfg.ServerVersion, len(c.srv.usernames), len(c.srv.channels), len(c.srv.battles),
			time.Since(c.srv.started).Round(time.Second)))
		return
	}

	ch, _, ok := c.channelArg(actor, args)
	if !ok {
		return
	}
	if ch.registered {
		c.tell(actor, fmt.Sprintf("#%s is registered to %s, %d members",
			ch.name, ch.founderName, len(ch.members)))
	} else {
		c.tell(actor, fmt.Sprintf("#%s is not registered, %d members", ch.name, len(ch.members)))
	}
	if len(ch.ops) > 0 {
		names := make([]string, 0, len(ch.ops))
		for _, name := range ch.ops {
			names = append(names, name)
		}
		sort.Strings(names)
		c.tell(actor, "Operators: "+strings.Join(names, ", "))
	}
	st := ch.spam.settings
	c.tell(actor, fmt.Sprintf("Anti-spam %s (timeout=%d quiet=%d aggressiveness=%d bonuslength=%d duration=%d), history %s",
		onOff(ch.antispam), st.Timeout, boolToInt(st.Quiet), st.Aggressiveness,
		st.BonusLength, st.Duration, onOff(ch.storeHistory)))
	if ch.topic != "" {
		c.tell(actor, "Topic: "+ch.topic)
	}
}

func (c *ChanServ) cmdRegister(ctx context.Context, actor *Session, args string) {
	if !actor.access.IsMod() {
		c.tell(actor, "Registering channels needs moderator access")
		return
	}
	nameTok, founderName, _ := strings.Cut(args, " ")
	name := strings.TrimPrefix(nameTok, "#")
	if !ValidChannelName(name) {
		c.tell(actor, "Usage: !register #chan [founder]")
		return
	}
	founderName = strings.TrimSpace(founderName)
	if founderName == "" {
		founderName = actor.Username()
	}
	if ch, ok := c.srv.channels[name]; ok && ch.registered {
		c.tell(actor, "#"+name+" is already registered to "+ch.founderName)
		return
	}

	founderID, canonical, err := c.srv.resolveTarget(ctx, founderName)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.tell(actor, "Unknown user "+founderName)
			return
		}
		c.fail(actor, "resolving channel founder failed", err)
		return
	}
	row, err := c.srv.store.Channels.Register(ctx, name, founderID)
	if err != nil {
		c.fail(actor, "registering channel failed", err)
		return
	}

	ch, ok := c.srv.channels[name]
	if !ok {
		ch = newChannel(name)
		c.srv.channels[name] = ch
		metricChannelsActive.Set(float64(len(c.srv.channels)))
	}
	ch.id = row.ID
	ch.registered = true
	ch.founderID = founderID
	ch.founderName = canonical
	ch.antispam = row.Antispam
	ch.spam.SetSettings(row.Spam)
	ch.storeHistory = row.StoreHistory

	if _, member := ch.members[c.sess.id]; !member {
		ch.members[c.sess.id] = struct{}{}
		c.sess.channels[name] = struct{}{}
		c.srv.fanout(c.srv.channelMembers(ch, c.sess),
			fmt.Sprintf("JOINED %s %s", name, ChanServUsername))
	}
	c.tell(actor, "#"+name+" registered to "+canonical)
}

func (c *ChanServ) cmdUnregister(ctx context.Context, actor *Session, args string) {
	ch, _, ok := c.channelArg(actor, args)
	if !ok {
		return
	}
	if !c.canAdmin(actor, ch) {
		c.denyAdmin(actor, ch)
		return
	}
	if !ch.registered {
		c.tell(actor, "#"+ch.name+" is not registered")
		return
	}
	if err := c.srv.store.Channels.Unregister(ctx, ch.id); err != nil {
		c.fail(actor, "unregistering channel failed", err)
		return
	}
	ch.registered = false
	ch.id = 0
	ch.founderID = 0
	ch.founderName = ""
	ch.storeHistory = false
	c.srv.removeFromChannel(c.sess, ch, "")
	c.tell(actor, "#"+ch.name+" unregistered")
}

func (c *ChanServ) cmdChangeFounder(ctx context.Context, actor *Session, args string) {
	ch, rest, ok := c.channelArg(actor, args)
	if !ok {
		return
	}
	if !c.canAdmin(actor, ch) {
		c.denyAdmin(actor, ch)
		return
	}
	if !ch.registered {
		c.tell(actor, "#"+ch.name+" is not registered")
		return
	}
	name, _, _ := strings.Cut(rest, " ")
	if name == "" {
		c.tell(actor, "Usage: !changefounder #chan <user>")
		return
	}
	targetID, canonical, err := c.srv.resolveTarget(ctx, name)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.tell(actor, "Unknown user "+name)
			return
		}
		c.fail(actor, "resolving new founder failed", err)
		return
	}
	if err := c.srv.store.Channels.SetFounder(ctx, ch.id, targetID); err != nil {
		c.fail(actor, "changing channel founder failed", err)
		return
	}
	ch.founderID = targetID
	ch.founderName = canonical
	c.srv.channelFanout(ch, fmt.Sprintf("CHANNELMESSAGE %s %s is the new founder", ch.name, canonical))
	c.tell(actor, "#"+ch.name+" founder is now "+canonical)
}

func (c *ChanServ) cmdSpamProtection(ctx context.Context, actor *Session, args string) {
	ch, mode, ok := c.channelArg(actor, args)
	if !ok {
		return
	}
	if !c.canAdmin(actor, ch) {
		c.denyAdmin(actor, ch)
		return
	}
	switch strings.ToLower(mode) {
	case "":
		c.tell(actor, "Anti-spam protection for #"+ch.name+" is "+onOff(ch.antispam))
		return
	case "on":
		ch.antispam = true
	case "off":
		ch.antispam = false
	default:
		c.tell(actor, "Usage: !spamprotection #chan [on|off]")
		return
	}
	if ch.registered {
		if err := c.srv.store.Channels.SetAntispam(ctx, ch.id, ch.antispam); err != nil {
			c.fail(actor, "storing antispam flag failed", err)
			return
		}
	}
	c.tell(actor, "Anti-spam protection for #"+ch.name+" is now "+onOff(ch.antispam))
}

func (c *ChanServ) cmdSpamSettings(ctx context.Context, actor *Session, args string) {
	const usage = "Usage: !spamsettings #chan <timeout> <quiet> <aggressiveness> <bonuslength> <duration>"
	ch, rest, ok := c.channelArg(actor, args)
	if !ok {
		return
	}
	if !c.canAdmin(actor, ch) {
		c.denyAdmin(actor, ch)
		return
	}

	fields := strings.Fields(rest)
	if len(fields) != 5 {
		c.tell(actor, usage)
		return
	}
	vals := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			c.tell(actor, usage)
			return
		}
		vals[i] = v
	}

	switch {
	case vals[0] < 1 || vals[0] > 3600:
		c.tell(actor, "timeout must be 1..3600 seconds")
	case vals[1] != 0 && vals[1] != 1:
		c.tell(actor, "quiet must be 0 or 1")
	case vals[2] < 1 || vals[2] > 1000:
		c.tell(actor, "aggressiveness must be 1..1000")
	case vals[3] < 1 || vals[3] > 10000:
		c.tell(actor, "bonuslength must be 1..10000")
	case vals[4] < 1 || vals[4] > 86400:
		c.tell(actor, "duration must be 1..86400 seconds")
	default:
		settings := db.AntispamSettings{
			Timeout:        vals[0],
			Quiet:          vals[1] == 1,
			Aggressiveness: vals[2],
			BonusLength:    vals[3],
			Duration:       vals[4],
		}
		ch.spam.SetSettings(settings)
		if ch.registered {
			if err := c.srv.store.Channels.SetAntispamSettings(ctx, ch.id, settings); err != nil {
				c.fail(actor, "storing antispam settings failed", err)
				return
			}
		}
		c.tell(actor, "Anti-spam settings for #"+ch.name+" updated")
	}
}

func (c *ChanServ) cmdOp(ctx context.Context, actor *Session, args string, add bool) {
	ch, rest, ok := c.channelArg(actor, args)
	if !ok {
		return
	}
	if !c.canAdmin(actor, ch) {
		c.denyAdmin(actor, ch)
		return
	}
	name, _, _ := strings.Cut(rest, " ")
	if name == "" {
		if add {
			c.tell(actor, "Usage: !op #chan <user>")
		} else {
			c.tell(actor, "Usage: !deop #chan <user>")
		}
		return
	}
	targetID, canonical, err := c.srv.resolveTarget(ctx, name)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.tell(actor, "Unknown user "+name)
			return
		}
		c.fail(actor, "resolving op target failed", err)
		return
	}

	if add {
		if ch.IsOp(targetID) {
			c.tell(actor, canonical+" is already an operator of #"+ch.name)
			return
		}
		ch.ops[targetID] = canonical
		if ch.registered {
			if err := c.srv.store.Channels.AddOp(ctx, ch.id, targetID); err != nil {
				c.fail(actor, "storing channel op failed", err)
				return
			}
		}
		c.srv.channelFanout(ch, fmt.Sprintf("CHANNELMESSAGE %s %s opped by %s",
			ch.name, canonical, actor.Username()))
		return
	}

	if _, isOp := ch.ops[targetID]; !isOp {
		c.tell(actor, canonical+" is not an operator of #"+ch.name)
		return
	}
	delete(ch.ops, targetID)
	if ch.registered {
		if err := c.srv.store.Channels.RemoveOp(ctx, ch.id, targetID); err != nil {
			c.fail(actor, "removing channel op failed", err)
			return
		}
	}
	c.srv.channelFanout(ch, fmt.Sprintf("CHANNELMESSAGE %s %s deopped by %s",
		ch.name, canonical, actor.Username()))
}

func (c *ChanServ) cmdTopic(ctx context.Context, actor *Session, args string) {
	ch, text, ok := c.channelArg(actor, args)
	if !ok {
		return
	}
	if !c.canOperate(actor, ch) {
		c.denyOp(actor, ch)
		return
	}
	if text == "" {
		c.tell(actor, "Usage: !topic #chan <text> ('*' clears)")
		return
	}

	stored := text
	if text == "*" {
		stored = ""
	}
	ch.topic = stored
	ch.topicSetter = actor.Username()
	ch.topicTime = time.Now()
	if ch.registered {
		if err := c.srv.store.Channels.SetTopic(ctx, ch.id, stored, actor.Username()); err != nil {
			c.fail(actor, "storing channel topic failed", err)
			return
		}
	}
	c.srv.channelFanout(ch, fmt.Sprintf("CHANNELTOPIC %s %s %d %s",
		ch.name, ch.topicSetter, ch.topicTime.Unix(), text))
}

func (c *ChanServ) cmdLock(ctx context.Context, actor *Session, args string, lock bool) {
	ch, rest, ok := c.channelArg(actor, args)
	if !ok {
		return
	}
	if !c.canOperate(actor, ch) {
		c.denyOp(actor, ch)
		return
	}

	if lock {
		key, _, _ := strings.Cut(rest, " ")
		if key == "" || key == "*" {
			c.tell(actor, "Usage: !lock #chan <key>")
			return
		}
		ch.key = key
	} else {
		ch.key = ""
	}
	if ch.registered {
		if err := c.srv.store.Channels.SetKey(ctx, ch.id, ch.key); err != nil {
			c.fail(actor, "storing channel key failed", err)
			return
		}
	}
	if lock {
		c.tell(actor, "#"+ch.name+" locked")
	} else {
		c.tell(actor, "#"+ch.name+" unlocked")
	}
}

func (c *ChanServ) cmdKick(actor *Session, args string) {
	ch, rest, ok := c.channelArg(actor, args)
	if !ok {
		return
	}
	if !c.canOperate(actor, ch) {
		c.denyOp(actor, ch)
		return
	}
	name, reason, _ := strings.Cut(rest, " ")
	if name == "" {
		c.tell(actor, "Usage: !kick #chan <user> [reason]")
		return
	}
	target, ok := c.srv.findUser(name)
	if !ok {
		c.tell(actor, name+" is not online")
		return
	}
	if target.static {
		c.tell(actor, "You cannot kick "+target.Username())
		return
	}
	if _, member := ch.members[target.id]; !member {
		c.tell(actor, target.Username()+" is not in #"+ch.name)
		return
	}

	reason = strings.TrimSpace(reason)
	notice := fmt.Sprintf("FORCELEAVECHANNEL %s %s", ch.name, actor.Username())
	if reason != "" {
		notice += " " + reason
	}
	c.srv.deliver(target, notice)

	announce := fmt.Sprintf("LEFT %s %s kicked by %s", ch.name, target.Username(), actor.Username())
	if reason != "" {
		announce += ": " + reason
	}
	c.srv.removeFromChannel(target, ch, announce)
}

func (c *ChanServ) cmdChanMsg(actor *Session, args string) {
	ch, text, ok := c.channelArg(actor, args)
	if !ok {
		return
	}
	if !c.canOperate(actor, ch) {
		c.denyOp(actor, ch)
		return
	}
	if text == "" {
		c.tell(actor, "Usage: !chanmsg #chan <text>")
		return
	}
	c.srv.channelFanout(ch, "CHANNELMESSAGE "+ch.name+" "+text)
}

func (c *ChanServ) cmdMute(ctx context.Context, actor *Session, args string) {
	ch, rest, ok := c.channelArg(actor, args)
	if !ok {
		return
	}
	if !c.canOperate(actor, ch) {
		c.denyOp(actor, ch)
		return
	}
	fields := strings.Fields(rest)
	if len(fields) < 1 || len(fields) > 2 {
		c.tell(actor, "Usage: !mute #chan <user> [minutes]")
		return
	}
	minutes := 0
	if len(fields) == 2 {
		v, err := strconv.Atoi(fields[1])
		if err != nil || v < 0 {
			c.tell(actor, "Usage: !mute #chan <user> [minutes]")
			return
		}
		minutes = v
	}
	targetID, canonical, err := c.srv.resolveTarget(ctx, fields[0])
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.tell(actor, "Unknown user "+fields[0])
			return
		}
		c.fail(actor, "resolving mute target failed", err)
		return
	}

	c.srv.muteChannelUser(ctx, ch, targetID, canonical, "", time.Duration(minutes)*time.Minute)
	c.srv.channelFanout(ch, fmt.Sprintf("CHANNELMESSAGE %s %s muted by %s",
		ch.name, canonical, actor.Username()))
}

func (c *ChanServ) cmdUnmute(ctx context.Context, actor *Session, args string) {
	ch, rest, ok := c.channelArg(actor, args)
	if !ok {
		return
	}
	if !c.canOperate(actor, ch) {
		c.denyOp(actor, ch)
		return
	}
	name, _, _ := strings.Cut(rest, " ")
	if name == "" {
		c.tell(actor, "Usage: !unmute #chan <user>")
		return
	}
	targetID, canonical, err := c.srv.resolveTarget(ctx, name)
	if err != nil {
		c.tell(actor, "Unknown user "+name)
		return
	}
	if _, muted := ch.mutes[targetID]; !muted {
		c.tell(actor, canonical+" is not muted in #"+ch.name)
		return
	}
	c.srv.unmuteChannelUser(ctx, ch, targetID)
	c.srv.channelFanout(ch, fmt.Sprintf("CHANNELMESSAGE %s %s unmuted by %s",
		ch.name, canonical, actor.Username()))
}

func (c *ChanServ) cmdMuteList(actor *Session, args string) {
	ch, _, ok := c.channelArg(actor, args)
	if !ok {
		return
	}
	if !c.canOperate(actor, ch) {
		c.denyOp(actor, ch)
		return
	}
	now := time.Now()
	entries := ch.MuteEntries(now)
	if len(entries) == 0 {
		c.tell(actor, "No active mutes in #"+ch.name)
		return
	}
	c.tell(actor, fmt.Sprintf("%d active mute(s) in #%s:", len(entries), ch.name))
	for _, p := range entries {
		remaining := "indefinite"
		if !p.expires.IsZero() {
			remaining = p.expires.Sub(now).Round(time.Second).String()
		}
		line := p.username + " (" + remaining + ")"
		if p.reason != "" {
			line += ": " + p.reason
		}
		c.tell(actor, line)
	}
}

func (c *ChanServ) cmdBan(ctx context.Context, actor *Session, args string) {
	ch, rest, ok := c.channelArg(actor, args)
	if !ok {
		return
	}
	if !c.canAdmin(actor, ch) {
		c.denyAdmin(actor, ch)
		return
	}
	name, tail, _ := strings.Cut(rest, " ")
	if name == "" {
		c.tell(actor, "Usage: !ban #chan <user> [minutes] [reason…]")
		return
	}

	minutes := 0
	reason := strings.TrimSpace(tail)
	if first, more, _ := strings.Cut(reason, " "); first != "" {
		if v, err := strconv.Atoi(first); err == nil && v >= 0 {
			minutes = v
			reason = strings.TrimSpace(more)
		}
	}

	targetID, canonical, err := c.srv.resolveTarget(ctx, name)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.tell(actor, "Unknown user "+name)
			return
		}
		c.fail(actor, "resolving ban target failed", err)
		return
	}

	var expires time.Time
	if minutes > 0 {
		expires = time.Now().Add(time.Duration(minutes) * time.Minute)
	}
	ch.bans[targetID] = penalty{username: canonical, reason: reason, expires: expires}
	if ch.registered {
		if err := c.srv.store.Channels.AddBan(ctx, ch.id, db.ChannelPenaltyRow{
			UserID: targetID, Username: canonical, Reason: reason, Expires: expires,
		}); err != nil {
			c.fail(actor, "storing channel ban failed", err)
			return
		}
	}

	if target, online := c.srv.findUser(canonical); online && !target.static {
		if _, member := ch.members[target.id]; member {
			announce := fmt.Sprintf("LEFT %s %s banned by %s", ch.name, canonical, actor.Username())
			if reason != "" {
				announce += ": " + reason
			}
			c.srv.deliver(target, fmt.Sprintf("FORCELEAVECHANNEL %s %s", ch.name, actor.Username()))
			c.srv.removeFromChannel(target, ch, announce)
		}
	}
	c.tell(actor, canonical+" banned from #"+ch.name)
}

func (c *ChanServ) cmdUnban(ctx context.Context, actor *Session, args string) {
	ch, rest, ok := c.channelArg(actor, args)
	if !ok {
		return
	}
	if !c.canAdmin(actor, ch) {
		c.denyAdmin(actor, ch)
		return
	}
	name, _, _ := strings.Cut(rest, " ")
	if name == "" {
		c.tell(actor, "Usage: !unban #chan <user>")
		return
	}
	targetID, canonical, err := c.srv.resolveTarget(ctx, name)
	if err != nil {
		c.tell(actor, "Unknown user "+name)
		return
	}
	if _, banned := ch.bans[targetID]; !banned {
		c.tell(actor, canonical+" is not banned from #"+ch.name)
		return
	}
	delete(ch.bans, targetID)
	if ch.registered {
		if err := c.srv.store.Channels.RemoveBan(ctx, ch.id, targetID); err != nil {
			c.fail(actor, "removing channel ban failed", err)
			return
		}
	}
	c.tell(actor, "Ban on "+canonical+" removed from #"+ch.name)
}

func (c *ChanServ) cmdHistory(ctx context.Context, actor *Session, args string) {
	ch, rest, ok := c.channelArg(actor, args)
	if !ok {
		return
	}
	if !c.canAdmin(actor, ch) {
		c.denyAdmin(actor, ch)
		return
	}
	if !ch.registered {
		c.tell(actor, "#"+ch.name+" must be registered to store history")
		return
	}
	var enabled bool
	switch strings.ToLower(rest) {
	case "on":
		enabled = true
	case "off":
		enabled = false
	default:
		c.tell(actor, "Usage: !history #chan on|off")
		return
	}
	if err := c.srv.store.Channels.SetHistory(ctx, ch.id, enabled); err != nil {
		c.fail(actor, "storing history flag failed", err)
		return
	}
	ch.storeHistory = enabled
	c.tell(actor, "History storage for #"+ch.name+" is now "+onOff(enabled))
}

func (c *ChanServ) cmdForward(ctx context.Context, actor *Session, args string, add bool) {
	if !actor.access.IsMod() {
		c.tell(actor, "Managing channel forwards needs moderator access")
		return
	}
	srcTok, dstTok, _ := strings.Cut(args, " ")
	dstTok = strings.TrimSpace(dstTok)
	if srcTok == "" || dstTok == "" {
		if add {
			c.tell(actor, "Usage: !forward #chan #target")
		} else {
			c.tell(actor, "Usage: !unforward #chan #target")
		}
		return
	}
	src, ok := c.srv.resolveChannel(srcTok)
	if !ok {
		c.tell(actor, "Channel #"+strings.TrimPrefix(srcTok, "#")+" does not exist")
		return
	}
	dst, ok := c.srv.resolveChannel(dstTok)
	if !ok {
		c.tell(actor, "Channel #"+strings.TrimPrefix(dstTok, "#")+" does not exist")
		return
	}
	if !src.registered || !dst.registered {
		c.tell(actor, "Both channels must be registered")
		return
	}

	if add {
		if slices.Contains(src.forwards, dst.name) {
			c.tell(actor, "#"+src.name+" already forwards to #"+dst.name)
			return
		}
		if err := c.srv.store.Channels.AddForward(ctx, src.id, dst.id, actor.UserID()); err != nil {
			c.fail(actor, "storing channel forward failed", err)
			return
		}
		src.forwards = append(src.forwards, dst.name)
		c.tell(actor, "Joins to #"+src.name+" now forward to #"+dst.name)
		return
	}

	idx := slices.Index(src.forwards, dst.name)
	if idx < 0 {
		c.tell(actor, "#"+src.name+" does not forward to #"+dst.name)
		return
	}
	if err := c.srv.store.Channels.RemoveForward(ctx, src.id, dst.id); err != nil {
		c.fail(actor, "removing channel forward failed", err)
		return
	}
	src.forwards = slices.Delete(src.forwards, idx, idx+1)
	c.tell(actor, "Forward from #"+src.name+" to #"+dst.name+" removed")
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
