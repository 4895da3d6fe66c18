package lobby

import (
	"context"
	"time"

	"github.com/udisondev/uberlobby/internal/protocol"
)

type handlerFunc func(ctx context.Context, sess *Session, args string)

type command struct {
	handler       handlerFunc
	minAccess     Access
	requiresLogin bool
}

// commandTable maps uppercase command names to handlers with their
// gates. Channel/battle-scoped authority (op, founder, host) is
// checked inside the handlers; minAccess covers server roles only.
func (s *Server) commandTable() map[string]command {
	open := func(h handlerFunc) command {
		return command{handler: h, minAccess: AccessAgreement}
	}
	user := func(h handlerFunc) command {
		return command{handler: h, minAccess: AccessUser, requiresLogin: true}
	}
	mod := func(h handlerFunc) command {
		return command{handler: h, minAccess: AccessMod, requiresLogin: true}
	}
	admin := func(h handlerFunc) command {
		return command{handler: h, minAccess: AccessAdmin, requiresLogin: true}
	}

	return map[string]command{
		// Pre-login surface
		"PING":                 open(s.handlePing),
		"EXIT":                 open(s.handleExit),
		"LOGIN":                open(s.handleLogin),
		"REGISTER":             open(s.handleRegister),
		"CONFIRMAGREEMENT":     open(s.handleConfirmAgreement),
		"RESETPASSWORDREQUEST": open(s.handleResetPasswordRequest),
		"RESETPASSWORD":        open(s.handleResetPassword),
		"RESENDVERIFICATION":   open(s.handleResendVerification),
		"VERIFY":               open(s.handleVerify),

		// Account
		"MYSTATUS":           user(s.handleMyStatus),
		"CHANGEPASSWORD":     user(s.handleChangePassword),
		"RENAMEACCOUNT":      user(s.handleRenameAccount),
		"CHANGEEMAILREQUEST": user(s.handleChangeEmailRequest),
		"CHANGEEMAIL":        user(s.handleChangeEmail),

		// Channels
		"CHANNELS":           user(s.handleChannels),
		"JOIN":               user(s.handleJoin),
		"LEAVE":              user(s.handleLeave),
		"SAY":                user(s.handleSay),
		"SAYEX":              user(s.handleSayEx),
		"SAYPRIVATE":         user(s.handleSayPrivate),
		"CHANNELTOPIC":       user(s.handleChannelTopic),
		"GETCHANNELMESSAGES": user(s.handleGetChannelMessages),
		"MUTE":               user(s.handleMute),
		"UNMUTE":             user(s.handleUnmute),
		"MUTELIST":           user(s.handleMuteList),
		"FORCELEAVECHANNEL":  user(s.handleForceLeaveChannel),

		// Social
		"IGNORE":               user(s.handleIgnore),
		"UNIGNORE":             user(s.handleUnignore),
		"IGNORELIST":           user(s.handleIgnoreList),
		"FRIENDREQUEST":        user(s.handleFriendRequest),
		"ACCEPTFRIENDREQUEST":  user(s.handleAcceptFriendRequest),
		"FRIEND":               user(s.handleAcceptFriendRequest),
		"DECLINEFRIENDREQUEST": user(s.handleDeclineFriendRequest),
		"UNFRIEND":             user(s.handleUnfriend),
		"FRIENDLIST":           user(s.handleFriendList),
		"FRIENDREQUESTLIST":    user(s.handleFriendRequestList),

		// Battles
		"OPENBATTLE":          user(s.handleOpenBattle),
		"OPENBATTLEEX":        user(s.handleOpenBattle),
		"JOINBATTLE":          user(s.handleJoinBattle),
		"LEAVEBATTLE":         user(s.handleLeaveBattle),
		"CLOSEBATTLE":         user(s.handleCloseBattle),
		"UPDATEBATTLEINFO":    user(s.handleUpdateBattleInfo),
		"MYBATTLESTATUS":      user(s.handleMyBattleStatus),
		"SAYBATTLE":           user(s.handleSayBattle),
		"SAYBATTLEEX":         user(s.handleSayBattleEx),
		"STARTBATTLE":         user(s.handleStartBattle),
		"HANDICAP":            user(s.handleHandicap),
		"FORCETEAMNO":         user(s.handleForceTeamNo),
		"FORCEALLYNO":         user(s.handleForceAllyNo),
		"FORCETEAMCOLOR":      user(s.handleForceTeamColor),
		"FORCESPECTATORMODE":  user(s.handleForceSpectatorMode),
		"KICKFROMBATTLE":      user(s.handleKickFromBattle),
		"ADDBOT":              user(s.handleAddBot),
		"REMOVEBOT":           user(s.handleRemoveBot),
		"UPDATEBOT":           user(s.handleUpdateBot),
		"ADDSTARTRECT":        user(s.handleAddStartRect),
		"REMOVESTARTRECT":     user(s.handleRemoveStartRect),
		"SETSCRIPTTAGS":       user(s.handleSetScriptTags),
		"REMOVESCRIPTTAGS":    user(s.handleRemoveScriptTags),
		"DISABLEUNITS":        user(s.handleDisableUnits),
		"ENABLEUNITS":         user(s.handleEnableUnits),
		"ENABLEALLUNITS":      user(s.handleEnableAllUnits),
		"REQUESTBATTLESTATUS": user(s.handleRequestBattleStatus),

		// Moderation
		"KICKUSER": mod(s.handleKickUser),
		"BAN":      mod(s.handleBan),
		"UNBAN":    mod(s.handleUnban),
		"LISTBANS": mod(s.handleListBans),

		// Administration
		"BROADCAST": admin(s.handleBroadcast),
		"SETACCESS": admin(s.handleSetAccess),
	}
}

// dispatch runs on the dispatcher goroutine for every inbound frame.
func (s *Server) dispatch(ctx context.Context, sess *Session, msg protocol.Message) {
	if sess.state == stateRemoving {
		return
	}
	sess.lastData = time.Now()
	sess.msgID = msg.ID
	defer func() { sess.msgID = "" }()

	cmd, ok := s.commands[msg.Command]
	if !ok {
		metricUnknownCommands.Inc()
		sess.reply(`SERVERMSG Unknown command "` + msg.Command + `"`)
		return
	}
	metricCommandsTotal.WithLabelValues(msg.Command).Inc()

	if cmd.requiresLogin && sess.state != stateLoggedIn {
		sess.reply("SERVERMSG You must be logged in to execute " + msg.Command)
		return
	}
	if cmd.requiresLogin && !sess.access.Satisfies(cmd.minAccess) {
		sess.reply("SERVERMSG You do not have permission to execute " + msg.Command)
		return
	}

	cmd.handler(ctx, sess, msg.Args)
}

func (s *Server) handlePing(_ context.Context, sess *Session, _ string) {
	sess.reply("PONG")
}

func (s *Server) handleExit(ctx context.Context, sess *Session, _ string) {
	s.removeSession(ctx, sess, "exited")
}
