package lobby

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/udisondev/uberlobby/internal/protocol"
)

// parseHash accepts the decimal and hex spellings clients use for map
// and game hashes.
func parseHash(s string) int32 {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return int32(v)
	}
	if v, err := strconv.ParseUint(s, 16, 64); err == nil {
		return int32(uint32(v))
	}
	return 0
}

func clientBattleStatusLine(t *Session) string {
	return fmt.Sprintf("CLIENTBATTLESTATUS %s %d %d",
		t.Username(), uint32(t.battleStatus), t.teamColor)
}

// memberBattle returns the battle sess is in, or nil after a denial.
func (s *Server) memberBattle(sess *Session) *Battle {
	b, ok := s.battles[sess.battleID]
	if !ok {
		sess.reply("SERVERMSG You are not in a battle")
		return nil
	}
	return b
}

// hostedBattle returns the battle sess hosts, or nil after a denial.
func (s *Server) hostedBattle(sess *Session) *Battle {
	b, ok := s.battles[sess.battleID]
	if !ok || b.hostID != sess.id {
		sess.reply("SERVERMSG You are not hosting a battle")
		return nil
	}
	return b
}

// battleMemberByName finds a member session of b by username.
func (s *Server) battleMemberByName(b *Battle, name string) (*Session, bool) {
	t, ok := s.findUser(name)
	if !ok {
		return nil, false
	}
	if _, member := b.members[t.id]; !member {
		return nil, false
	}
	return t, true
}

// handleOpenBattle creates a battle room:
// OPENBATTLE <type> <natType> <password> <port> <maxPlayers>
// [<gameHash>] <rank> <mapHash> {engine}\t{version}\t{map}\t{title}\t{game}
func (s *Server) handleOpenBattle(_ context.Context, sess *Session, args string) {
	if sess.battleID != 0 {
		sess.reply("OPENBATTLEFAILED You are already in a battle")
		return
	}
	headStr, tail, foundTab := strings.Cut(args, "\t")
	sentences := protocol.Sentences(tail)
	if !foundTab || len(sentences) != 5 {
		sess.reply("OPENBATTLEFAILED Bad syntax")
		return
	}

	tokens := strings.Fields(headStr)
	var typStr, natStr, password, portStr, maxStr, gameHashStr, rankStr, mapHashStr string
	switch len(tokens) {
	case 8:
		typStr, natStr, password, portStr = tokens[0], tokens[1], tokens[2], tokens[3]
		maxStr, gameHashStr, rankStr, mapHashStr = tokens[4], tokens[5], tokens[6], tokens[7]
	case 7:
		// legacy form without a game hash
		typStr, natStr, password, portStr = tokens[0], tokens[1], tokens[2], tokens[3]
		maxStr, gameHashStr, rankStr, mapHashStr = tokens[4], "0", tokens[5], tokens[6]
	default:
		sess.reply("OPENBATTLEFAILED Bad syntax")
		return
	}

	typ, err1 := strconv.Atoi(typStr)
	nat, err2 := strconv.Atoi(natStr)
	port, err3 := strconv.Atoi(portStr)
	maxPlayers, err4 := strconv.Atoi(maxStr)
	rank, err5 := strconv.Atoi(rankStr)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil ||
		typ < 0 || typ > 1 || nat < NATNone || nat > NATFixedPorts ||
		port <= 0 || port > 65535 || maxPlayers < 1 {
		sess.reply("OPENBATTLEFAILED Bad syntax")
		return
	}

	s.nextBattleID++
	b := newBattle(s.nextBattleID, sess.id, sess.Username())
	b.typ = typ
	b.natType = nat
	b.password = password
	b.port = port
	b.maxPlayers = maxPlayers
	b.gameHash = parseHash(gameHashStr)
	b.rankLimit = rank
	b.mapHash = parseHash(mapHashStr)
	b.engineName = sentences[0]
	b.engineVersion = sentences[1]
	b.mapName = sentences[2]
	b.title = sentences[3]
	b.game = sentences[4]
	b.spectators = 1 // the host starts unplaced

	s.battles[b.id] = b
	metricBattlesOpen.Set(float64(len(s.battles)))
	sess.battleID = b.id
	sess.battleStatus = 0
	sess.teamColor = 0

	sess.reply(fmt.Sprintf("OPENBATTLE %d", b.id))
	sess.reply("REQUESTBATTLESTATUS")
	s.broadcastExcept(sess, s.battleOpenedLine(b))
	s.broadcastExcept(sess, fmt.Sprintf("JOINEDBATTLE %d %s", b.id, sess.Username()))
}

// handleJoinBattle enters a battle:
// JOINBATTLE <battleID> [password] [scriptPassword]
func (s *Server) handleJoinBattle(_ context.Context, sess *Session, args string) {
	head, _ := protocol.SplitArgs(args, 3)
	if len(head) < 1 {
		sess.reply("JOINBATTLEDENIED Bad syntax")
		return
	}
	id, err := strconv.Atoi(head[0])
	if err != nil {
		sess.reply("JOINBATTLEDENIED Bad syntax")
		return
	}
	password, scriptPass := "", ""
	if len(head) > 1 {
		password = head[1]
	}
	if len(head) > 2 {
		scriptPass = head[2]
	}

	if sess.battleID != 0 {
		sess.reply("JOINBATTLEDENIED You are already in a battle")
		return
	}
	b, ok := s.battles[int32(id)]
	if !ok {
		sess.reply("JOINBATTLEDENIED Battle does not exist")
		return
	}
	if _, banned := b.bannedUsers[sess.UserID()]; banned {
		sess.reply("JOINBATTLEDENIED You are banned from this battle")
		return
	}
	if b.Passworded() && password != b.password {
		sess.reply("JOINBATTLEDENIED Invalid password")
		return
	}
	if b.locked {
		sess.reply("JOINBATTLEDENIED Battle is locked")
		return
	}
	if b.Full() {
		sess.reply("JOINBATTLEDENIED Battle is full")
		return
	}
	if sess.rank < b.rankLimit {
		sess.reply("JOINBATTLEDENIED Your rank is too low")
		return
	}

	b.members[sess.id] = struct{}{}
	b.spectators++ // joiners start unplaced
	sess.battleID = b.id
	sess.battleStatus = 0
	sess.teamColor = 0
	sess.scriptPass = scriptPass

	sess.reply(fmt.Sprintf("JOINBATTLEACCEPTED %d", b.id))

	// The host's copy carries the script password.
	base := fmt.Sprintf("JOINEDBATTLE %d %s", b.id, sess.Username())
	hostLine := base
	if scriptPass != "" {
		hostLine = base + " " + scriptPass
	}
	var statics []*Session
	for _, t := range s.loggedIn(nil) {
		if t.static {
			statics = append(statics, t)
			continue
		}
		if t.id == b.hostID {
			t.send(hostLine)
		} else {
			t.send(base)
		}
		metricMessagesSent.Inc()
	}
	for range statics {
		s.chanServ.receive(base)
	}

	s.joinerBattleSnapshot(sess, b)
}

func (s *Server) handleLeaveBattle(_ context.Context, sess *Session, _ string) {
	if sess.battleID == 0 {
		return
	}
	s.leaveBattle(sess, "")
}

// handleCloseBattle dissolves a battle: CLOSEBATTLE [battleID]
// Hosts close their own battle; admins may close any by id.
func (s *Server) handleCloseBattle(_ context.Context, sess *Session, args string) {
	arg := strings.TrimSpace(args)
	if arg == "" {
		if b := s.hostedBattle(sess); b != nil {
			s.closeBattle(b)
		}
		return
	}
	id, err := strconv.Atoi(arg)
	if err != nil {
		sess.reply("SERVERMSG Bad syntax for CLOSEBATTLE")
		return
	}
	b, ok := s.battles[int32(id)]
	if !ok {
		sess.reply("SERVERMSG No such battle")
		return
	}
	if b.hostID != sess.id && !sess.access.IsAdmin() {
		sess.reply("SERVERMSG You are not hosting that battle")
		return
	}
	s.closeBattle(b)
}

// handleUpdateBattleInfo rebroadcasts host battle info:
// UPDATEBATTLEINFO <spectatorCount> <locked> <mapHash> {mapName}
func (s *Server) handleUpdateBattleInfo(_ context.Context, sess *Session, args string) {
	b := s.hostedBattle(sess)
	if b == nil {
		return
	}
	head, mapName := protocol.SplitArgs(args, 3)
	if len(head) < 3 || mapName == "" {
		sess.reply("SERVERMSG Bad syntax for UPDATEBATTLEINFO")
		return
	}
	spectators, err1 := strconv.Atoi(head[0])
	locked, err2 := strconv.Atoi(head[1])
	if err1 != nil || err2 != nil || spectators < 0 {
		sess.reply("SERVERMSG Bad syntax for UPDATEBATTLEINFO")
		return
	}

	b.spectators = spectators
	b.locked = locked != 0
	b.mapHash = parseHash(head[2])
	b.mapName = mapName

	s.broadcast(fmt.Sprintf("UPDATEBATTLEINFO %d %d %d %d %s",
		b.id, b.spectators, boolToInt(b.locked), b.mapHash, b.mapName))
}

// handleMyBattleStatus merges the client's battle status:
// MYBATTLESTATUS <status> <teamColor>
func (s *Server) handleMyBattleStatus(_ context.Context, sess *Session, args string) {
	b := s.memberBattle(sess)
	if b == nil {
		return
	}
	head, _ := protocol.SplitArgs(args, 2)
	if len(head) < 2 {
		sess.reply("SERVERMSG Bad syntax for MYBATTLESTATUS")
		return
	}
	rawStatus, err1 := strconv.ParseUint(head[0], 10, 32)
	rawColor, err2 := strconv.ParseUint(head[1], 10, 32)
	if err1 != nil || err2 != nil {
		sess.reply("SERVERMSG Bad syntax for MYBATTLESTATUS")
		return
	}

	_, forced := b.forcedSpectators[sess.id]
	merged := SanitizeBattleStatus(sess.battleStatus, BattleStatus(rawStatus), forced)

	wasSpectator := sess.battleStatus.Spectator()
	isSpectator := merged.Spectator()
	if wasSpectator && !isSpectator {
		if b.spectators > 0 {
			b.spectators--
		}
	} else if !wasSpectator && isSpectator {
		b.spectators++
	}

	color := uint32(rawColor)
	if merged == sess.battleStatus && color == sess.teamColor {
		return
	}
	sess.battleStatus = merged
	sess.teamColor = color
	s.battleFanout(b, clientBattleStatusLine(sess))
}

func (s *Server) handleSayBattle(_ context.Context, sess *Session, args string) {
	s.sayBattle(sess, args, false)
}

func (s *Server) handleSayBattleEx(_ context.Context, sess *Session, args string) {
	s.sayBattle(sess, args, true)
}

func (s *Server) sayBattle(sess *Session, msg string, ex bool) {
	b := s.memberBattle(sess)
	if b == nil {
		return
	}
	if msg == "" {
		return
	}
	if s.cfg.Censor && s.filter != nil {
		msg = s.filter.Apply(msg)
	}
	verb := "SAIDBATTLE"
	if ex {
		verb = "SAIDBATTLEEX"
	}
	s.battleFanout(b, fmt.Sprintf("%s %s %s", verb, sess.Username(), msg))
}

// handleStartBattle flips the battle in-game (host only).
func (s *Server) handleStartBattle(_ context.Context, sess *Session, _ string) {
	b := s.hostedBattle(sess)
	if b == nil {
		return
	}
	if b.inGame {
		return
	}
	b.inGame = true
	if !sess.inGame {
		sess.inGame = true
		sess.inGameSince = time.Now()
		s.broadcastStatus(sess)
	}
}

// forceTarget resolves a forcing command's target inside the host's
// battle.
func (s *Server) forceTarget(sess *Session, b *Battle, name string) (*Session, bool) {
	t, ok := s.battleMemberByName(b, name)
	if !ok {
		sess.reply("SERVERMSG " + name + " is not in your battle")
		return nil, false
	}
	return t, true
}

// handleHandicap sets a player's handicap: HANDICAP <user> <0..100>
func (s *Server) handleHandicap(_ context.Context, sess *Session, args string) {
	b := s.hostedBattle(sess)
	if b == nil {
		return
	}
	head, _ := protocol.SplitArgs(args, 2)
	if len(head) < 2 {
		sess.reply("SERVERMSG Bad syntax for HANDICAP")
		return
	}
	value, err := strconv.Atoi(head[1])
	if err != nil || value < 0 || value > 100 {
		sess.reply("SERVERMSG Bad syntax for HANDICAP")
		return
	}
	t, ok := s.forceTarget(sess, b, head[0])
	if !ok {
		return
	}
	t.battleStatus = t.battleStatus.WithHandicap(value)
	s.battleFanout(b, clientBattleStatusLine(t))
}

// handleForceTeamNo moves a player: FORCETEAMNO <user> <0..15>
func (s *Server) handleForceTeamNo(_ context.Context, sess *Session, args string) {
	b := s.hostedBattle(sess)
	if b == nil {
		return
	}
	head, _ := protocol.SplitArgs(args, 2)
	if len(head) < 2 {
		sess.reply("SERVERMSG Bad syntax for FORCETEAMNO")
		return
	}
	team, err := strconv.Atoi(head[1])
	if err != nil || team < 0 || team > 15 {
		sess.reply("SERVERMSG Bad syntax for FORCETEAMNO")
		return
	}
	t, ok := s.forceTarget(sess, b, head[0])
	if !ok {
		return
	}
	t.battleStatus = t.battleStatus.WithTeam(team)
	s.battleFanout(b, clientBattleStatusLine(t))
}

// handleForceAllyNo moves a player's ally team:
// FORCEALLYNO <user> <0..15>
func (s *Server) handleForceAllyNo(_ context.Context, sess *Session, args string) {
	b := s.hostedBattle(sess)
	if b == nil {
		return
	}
	head, _ := protocol.SplitArgs(args, 2)
	if len(head) < 2 {
		sess.reply("SERVERMSG Bad syntax for FORCEALLYNO")
		return
	}
	ally, err := strconv.Atoi(head[1])
	if err != nil || ally < 0 || ally > 15 {
		sess.reply("SERVERMSG Bad syntax for FORCEALLYNO")
		return
	}
	t, ok := s.forceTarget(sess, b, head[0])
	if !ok {
		return
	}
	t.battleStatus = t.battleStatus.WithAlly(ally)
	s.battleFanout(b, clientBattleStatusLine(t))
}

// handleForceTeamColor recolors a player:
// FORCETEAMCOLOR <user> <color>
func (s *Server) handleForceTeamColor(_ context.Context, sess *Session, args string) {
	b := s.hostedBattle(sess)
	if b == nil {
		return
	}
	head, _ := protocol.SplitArgs(args, 2)
	if len(head) < 2 {
		sess.reply("SERVERMSG Bad syntax for FORCETEAMCOLOR")
		return
	}
	color, err := strconv.ParseUint(head[1], 10, 32)
	if err != nil {
		sess.reply("SERVERMSG Bad syntax for FORCETEAMCOLOR")
		return
	}
	t, ok := s.forceTarget(sess, b, head[0])
	if !ok {
		return
	}
	t.teamColor = uint32(color)
	s.battleFanout(b, clientBattleStatusLine(t))
}

// handleForceSpectatorMode benches a player:
// FORCESPECTATORMODE <user>
func (s *Server) handleForceSpectatorMode(_ context.Context, sess *Session, args string) {
	b := s.hostedBattle(sess)
	if b == nil {
		return
	}
	name := strings.TrimSpace(args)
	if name == "" {
		sess.reply("SERVERMSG Bad syntax for FORCESPECTATORMODE")
		return
	}
	t, ok := s.forceTarget(sess, b, name)
	if !ok {
		return
	}
	b.forcedSpectators[t.id] = struct{}{}
	if !t.battleStatus.Spectator() {
		t.battleStatus = t.battleStatus.WithSpectator()
		b.spectators++
		s.battleFanout(b, clientBattleStatusLine(t))
	}
}

// handleKickFromBattle ejects a player and bars rejoining:
// KICKFROMBATTLE <user>
func (s *Server) handleKickFromBattle(_ context.Context, sess *Session, args string) {
	b := s.hostedBattle(sess)
	if b == nil {
		return
	}
	name := strings.TrimSpace(args)
	if name == "" {
		sess.reply("SERVERMSG Bad syntax for KICKFROMBATTLE")
		return
	}
	t, ok := s.forceTarget(sess, b, name)
	if !ok {
		return
	}
	if t.id == b.hostID {
		sess.reply("SERVERMSG You cannot kick yourself")
		return
	}
	b.bannedUsers[t.UserID()] = struct{}{}
	s.leaveBattle(t, "You were kicked from the battle by "+sess.Username())
}

// handleAddBot fills an AI slot:
// ADDBOT <name> <battleStatus> <teamColor> {aiName}
func (s *Server) handleAddBot(_ context.Context, sess *Session, args string) {
	b := s.memberBattle(sess)
	if b == nil {
		return
	}
	head, ai := protocol.SplitArgs(args, 3)
	if len(head) < 3 || ai == "" {
		sess.reply("SERVERMSG Bad syntax for ADDBOT")
		return
	}
	rawStatus, err1 := strconv.ParseUint(head[1], 10, 32)
	rawColor, err2 := strconv.ParseUint(head[2], 10, 32)
	if err1 != nil || err2 != nil {
		sess.reply("SERVERMSG Bad syntax for ADDBOT")
		return
	}
	name := head[0]
	if _, exists := b.bots[name]; exists {
		sess.reply("SERVERMSG Bot name already in use")
		return
	}
	bot := &BattleBot{
		Name:   name,
		Owner:  sess.Username(),
		Status: BattleStatus(rawStatus),
		Color:  uint32(rawColor),
		AI:     ai,
	}
	b.bots[name] = bot
	s.battleFanout(b, fmt.Sprintf("ADDBOT %d %s %s %d %d %s",
		b.id, bot.Name, bot.Owner, uint32(bot.Status), bot.Color, bot.AI))
}

// handleUpdateBot adjusts an AI slot (owner or host):
// UPDATEBOT <name> <battleStatus> <teamColor>
func (s *Server) handleUpdateBot(_ context.Context, sess *Session, args string) {
	b := s.memberBattle(sess)
	if b == nil {
		return
	}
	head, _ := protocol.SplitArgs(args, 3)
	if len(head) < 3 {
		sess.reply("SERVERMSG Bad syntax for UPDATEBOT")
		return
	}
	bot, ok := b.bots[head[0]]
	if !ok {
		sess.reply("SERVERMSG No such bot")
		return
	}
	if bot.Owner != sess.Username() && b.hostID != sess.id {
		sess.reply("SERVERMSG You do not own that bot")
		return
	}
	rawStatus, err1 := strconv.ParseUint(head[1], 10, 32)
	rawColor, err2 := strconv.ParseUint(head[2], 10, 32)
	if err1 != nil || err2 != nil {
		sess.reply("SERVERMSG Bad syntax for UPDATEBOT")
		return
	}
	bot.Status = BattleStatus(rawStatus)
	bot.Color = uint32(rawColor)
	s.battleFanout(b, fmt.Sprintf("UPDATEBOT %d %s %d %d",
		b.id, bot.Name, uint32(bot.Status), bot.Color))
}

// handleRemoveBot frees an AI slot (owner or host): REMOVEBOT <name>
func (s *Server) handleRemoveBot(_ context.Context, sess *Session, args string) {
	b := s.memberBattle(sess)
	if b == nil {
		return
	}
	name := strings.TrimSpace(args)
	bot, ok := b.bots[name]
	if !ok {
		sess.reply("SERVERMSG No such bot")
		return
	}
	if bot.Owner != sess.Username() && b.hostID != sess.id {
		sess.reply("SERVERMSG You do not own that bot")
		return
	}
	delete(b.bots, name)
	s.battleFanout(b, fmt.Sprintf("REMOVEBOT %d %s", b.id, name))
}

// handleAddStartRect places an ally team's start box (host only):
// ADDSTARTRECT <allyNo> <left> <top> <right> <bottom>
func (s *Server) handleAddStartRect(_ context.Context, sess *Session, args string) {
	b := s.hostedBattle(sess)
	if b == nil {
		return
	}
	head, _ := protocol.SplitArgs(args, 5)
	if len(head) < 5 {
		sess.reply("SERVERMSG Bad syntax for ADDSTARTRECT")
		return
	}
	vals := make([]int, 5)
	for i, tok := range head {
		v, err := strconv.Atoi(tok)
		if err != nil {
			sess.reply("SERVERMSG Bad syntax for ADDSTARTRECT")
			return
		}
		vals[i] = v
	}
	ally := vals[0]
	if ally < 0 || ally > 15 {
		sess.reply("SERVERMSG Bad syntax for ADDSTARTRECT")
		return
	}
	for _, c := range vals[1:] {
		if c < 0 || c > 200 {
			sess.reply("SERVERMSG Bad syntax for ADDSTARTRECT")
			return
		}
	}
	b.rects[ally] = StartRect{Left: vals[1], Top: vals[2], Right: vals[3], Bottom: vals[4]}
	s.battleFanout(b, fmt.Sprintf("ADDSTARTRECT %d %d %d %d %d",
		ally, vals[1], vals[2], vals[3], vals[4]))
}

// handleRemoveStartRect clears a start box (host only):
// REMOVESTARTRECT <allyNo>
func (s *Server) handleRemoveStartRect(_ context.Context, sess *Session, args string) {
	b := s.hostedBattle(sess)
	if b == nil {
		return
	}
	ally, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil {
		sess.reply("SERVERMSG Bad syntax for REMOVESTARTRECT")
		return
	}
	if _, ok := b.rects[ally]; !ok {
		return
	}
	delete(b.rects, ally)
	s.battleFanout(b, fmt.Sprintf("REMOVESTARTRECT %d", ally))
}

// handleSetScriptTags merges script tags (host only):
// SETSCRIPTTAGS key=value[\tkey=value…]
func (s *Server) handleSetScriptTags(_ context.Context, sess *Session, args string) {
	b := s.hostedBattle(sess)
	if b == nil {
		return
	}
	var accepted []string
	for _, pair := range protocol.Sentences(args) {
		key, value, found := strings.Cut(pair, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if !found || key == "" {
			continue
		}
		b.tags[key] = value
		accepted = append(accepted, key+"="+value)
	}
	if len(accepted) == 0 {
		sess.reply("SERVERMSG Bad syntax for SETSCRIPTTAGS")
		return
	}
	s.battleFanout(b, "SETSCRIPTTAGS "+strings.Join(accepted, "\t"))
}

// handleRemoveScriptTags drops script tags (host only):
// REMOVESCRIPTTAGS key [key…]
func (s *Server) handleRemoveScriptTags(_ context.Context, sess *Session, args string) {
	b := s.hostedBattle(sess)
	if b == nil {
		return
	}
	var removed []string
	for _, key := range strings.Fields(args) {
		key = strings.ToLower(key)
		if _, ok := b.tags[key]; ok {
			delete(b.tags, key)
			removed = append(removed, key)
		}
	}
	if len(removed) == 0 {
		return
	}
	s.battleFanout(b, "REMOVESCRIPTTAGS "+strings.Join(removed, " "))
}

// handleDisableUnits blocks units (host only): DISABLEUNITS u1 [u2…]
func (s *Server) handleDisableUnits(_ context.Context, sess *Session, args string) {
	b := s.hostedBattle(sess)
	if b == nil {
		return
	}
	units := strings.Fields(args)
	if len(units) == 0 {
		sess.reply("SERVERMSG Bad syntax for DISABLEUNITS")
		return
	}
	known := make(map[string]struct{}, len(b.disabledUnits))
	for _, u := range b.disabledUnits {
		known[u] = struct{}{}
	}
	for _, u := range units {
		if _, dup := known[u]; !dup {
			b.disabledUnits = append(b.disabledUnits, u)
			known[u] = struct{}{}
		}
	}
	s.battleFanout(b, "DISABLEUNITS "+strings.Join(units, " "))
}

// handleEnableUnits unblocks units (host only): ENABLEUNITS u1 [u2…]
func (s *Server) handleEnableUnits(_ context.Context, sess *Session, args string) {
	b := s.hostedBattle(sess)
	if b == nil {
		return
	}
	units := strings.Fields(args)
	if len(units) == 0 {
		sess.reply("SERVERMSG Bad syntax for ENABLEUNITS")
		return
	}
	drop := make(map[string]struct{}, len(units))
	for _, u := range units {
		drop[u] = struct{}{}
	}
	kept := b.disabledUnits[:0]
	for _, u := range b.disabledUnits {
		if _, gone := drop[u]; !gone {
			kept = append(kept, u)
		}
	}
	b.disabledUnits = kept
	s.battleFanout(b, "ENABLEUNITS "+strings.Join(units, " "))
}

// handleEnableAllUnits clears the disabled set (host only).
func (s *Server) handleEnableAllUnits(_ context.Context, sess *Session, _ string) {
	b := s.hostedBattle(sess)
	if b == nil {
		return
	}
	b.disabledUnits = nil
	s.battleFanout(b, "ENABLEALLUNITS")
}

// handleRequestBattleStatus re-sends every member's status to the
// requester.
func (s *Server) handleRequestBattleStatus(_ context.Context, sess *Session, _ string) {
	b := s.memberBattle(sess)
	if b == nil {
		return
	}
	for _, t := range s.battleMembers(b) {
		sess.reply(clientBattleStatusLine(t))
	}
}
