package lobby

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/udisondev/uberlobby/internal/db"
	"github.com/udisondev/uberlobby/internal/protocol"
)

// handleKickUser disconnects a user: KICKUSER <user> [reason…]
func (s *Server) handleKickUser(ctx context.Context, sess *Session, args string) {
	head, reason := protocol.SplitArgs(args, 1)
	if len(head) < 1 {
		sess.reply("SERVERMSG Bad syntax for KICKUSER")
		return
	}
	target, ok := s.findUser(head[0])
	if !ok {
		sess.reply("SERVERMSG " + head[0] + " is not online")
		return
	}
	if target.static || (target.access.IsAdmin() && !sess.access.IsAdmin()) {
		sess.reply("SERVERMSG You cannot kick " + target.Username())
		return
	}

	notice := "SERVERMSG You were kicked from the server by " + sess.Username()
	if reason != "" {
		notice += ": " + reason
	}
	target.send(notice)
	slog.Info("user kicked", "target", target.Username(), "by", sess.Username(), "reason", reason)
	s.removeSession(ctx, target, "kicked by "+sess.Username())
}

// handleBan persists a ban and kicks the target:
// BAN <user> <days> <reason…>   (0 days = permanent)
func (s *Server) handleBan(ctx context.Context, sess *Session, args string) {
	head, reason := protocol.SplitArgs(args, 2)
	if len(head) < 2 || reason == "" {
		sess.reply("SERVERMSG Bad syntax for BAN")
		return
	}
	days, err := strconv.Atoi(head[1])
	if err != nil || days < 0 {
		sess.reply("SERVERMSG Bad syntax for BAN")
		return
	}
	targetID, targetName, err := s.resolveTarget(ctx, head[0])
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			sess.reply("SERVERMSG Unknown user " + head[0])
			return
		}
		s.internalError(sess, "resolving ban target failed", err)
		return
	}

	duration := time.Duration(days) * 24 * time.Hour
	if err := s.store.Bans.Add(ctx, sess.UserID(), targetID, "", "", reason, duration); err != nil {
		s.internalError(sess, "storing ban failed", err)
		return
	}

	span := "permanently"
	if days > 0 {
		span = fmt.Sprintf("for %d days", days)
	}
	sess.reply(fmt.Sprintf("SERVERMSG Banned %s %s: %s", targetName, span, reason))
	slog.Info("user banned", "target", targetName, "by", sess.Username(), "days", days, "reason", reason)

	if target, online := s.findUser(targetName); online {
		target.send("SERVERMSG You have been banned: " + reason)
		s.removeSession(ctx, target, "banned by "+sess.Username())
	}
}

// handleUnban lifts every ban on a user: UNBAN <user>
func (s *Server) handleUnban(ctx context.Context, sess *Session, args string) {
	name := strings.TrimSpace(args)
	if name == "" {
		sess.reply("SERVERMSG Bad syntax for UNBAN")
		return
	}
	targetID, targetName, err := s.resolveTarget(ctx, name)
	if err != nil {
		sess.reply("SERVERMSG Unknown user " + name)
		return
	}
	removed, err := s.store.Bans.RemoveByUser(ctx, targetID)
	if err != nil {
		s.internalError(sess, "removing bans failed", err)
		return
	}
	sess.reply(fmt.Sprintf("SERVERMSG Removed %d ban(s) for %s", removed, targetName))
}

// handleListBans prints the active bans, one SERVERMSG each.
func (s *Server) handleListBans(ctx context.Context, sess *Session, _ string) {
	bans, err := s.store.Bans.List(ctx)
	if err != nil {
		s.internalError(sess, "listing bans failed", err)
		return
	}
	sess.reply(fmt.Sprintf("SERVERMSG %d active ban(s)", len(bans)))
	for _, b := range bans {
		var identity []string
		if b.Username != "" {
			identity = append(identity, b.Username)
		}
		if b.IP != "" {
			identity = append(identity, "ip="+b.IP)
		}
		if b.Email != "" {
			identity = append(identity, "email="+b.Email)
		}
		expires := "never"
		if !b.EndDate.IsZero() {
			expires = b.EndDate.UTC().Format("2006-01-02 15:04")
		}
		sess.reply(fmt.Sprintf("SERVERMSG BAN %d: %s by %s, expires %s: %s",
			b.ID, strings.Join(identity, " "), b.IssuerName, expires, b.Reason))
	}
}

// handleBroadcast pushes an announcement to every logged-in session:
// BROADCAST <msg>
func (s *Server) handleBroadcast(_ context.Context, sess *Session, args string) {
	msg := strings.TrimSpace(args)
	if msg == "" {
		sess.reply("SERVERMSG Bad syntax for BROADCAST")
		return
	}
	slog.Info("admin broadcast", "by", sess.Username(), "message", msg)
	s.broadcast("BROADCAST " + msg)
}

// handleSetAccess changes a user's server role:
// SETACCESS <user> <user|mod|admin>
func (s *Server) handleSetAccess(ctx context.Context, sess *Session, args string) {
	head, _ := protocol.SplitArgs(args, 2)
	if len(head) < 2 {
		sess.reply("SERVERMSG Bad syntax for SETACCESS")
		return
	}
	access, err := ParseAccess(head[1])
	if err != nil || (access != AccessUser && access != AccessMod && access != AccessAdmin) {
		sess.reply("SERVERMSG Access level must be one of user, mod, admin")
		return
	}
	targetID, targetName, err := s.resolveTarget(ctx, head[0])
	if err != nil {
		sess.reply("SERVERMSG Unknown user " + head[0])
		return
	}

	bot := false
	if target, online := s.findUser(targetName); online {
		bot = target.bot
	} else if row, rerr := s.store.Users.FindByID(ctx, targetID); rerr == nil {
		bot = row.Bot
	}
	if err := s.store.Users.SetAccess(ctx, targetID, access.String(), bot); err != nil {
		s.internalError(sess, "storing access change failed", err)
		return
	}

	sess.reply(fmt.Sprintf("SERVERMSG Access level of %s set to %s", targetName, access))
	slog.Info("access changed", "target", targetName, "by", sess.Username(), "access", access.String())

	if target, online := s.findUser(targetName); online {
		target.access = access
		target.user.Access = access.String()
		target.send("SERVERMSGBOX Your access level is now " + access.String())
		s.broadcastStatus(target)
	}
}
