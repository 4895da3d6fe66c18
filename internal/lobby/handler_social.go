package lobby

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/udisondev/uberlobby/internal/db"
	"github.com/udisondev/uberlobby/internal/protocol"
)

// sendIgnoreList emits the IGNORELIST envelope from the in-memory map.
func (s *Server) sendIgnoreList(sess *Session) {
	names := make([]string, 0, len(sess.ignores))
	for name := range sess.ignores {
		names = append(names, name)
	}
	sort.Strings(names)

	sess.reply("IGNORELISTBEGIN")
	for _, name := range names {
		line := "IGNORELIST " + name
		if reason := sess.ignores[name]; reason != "" {
			line += " " + reason
		}
		sess.reply(line)
	}
	sess.reply("IGNORELISTEND")
}

func (s *Server) sendFriendList(ctx context.Context, sess *Session) {
	if sess.static {
		return
	}
	friends, err := s.store.Users.ListFriends(ctx, sess.UserID())
	if err != nil {
		slog.Warn("loading friend list failed", "user", sess.Username(), "error", err)
		return
	}
	sess.reply("FRIENDLISTBEGIN")
	for _, name := range friends {
		sess.reply("FRIENDLIST " + name)
	}
	sess.reply("FRIENDLISTEND")
}

func (s *Server) sendFriendRequestList(ctx context.Context, sess *Session) {
	if sess.static {
		return
	}
	reqs, err := s.store.Users.ListFriendRequests(ctx, sess.UserID())
	if err != nil {
		slog.Warn("loading friend requests failed", "user", sess.Username(), "error", err)
		return
	}
	sess.reply("FRIENDREQUESTLISTBEGIN")
	for _, req := range reqs {
		line := "FRIENDREQUESTLIST " + req.Username
		if req.Msg != "" {
			line += " " + req.Msg
		}
		sess.reply(line)
	}
	sess.reply("FRIENDREQUESTLISTEND")
}

// handleIgnore adds a user to the ignore list: IGNORE <user> [reason…]
func (s *Server) handleIgnore(ctx context.Context, sess *Session, args string) {
	head, reason := protocol.SplitArgs(args, 1)
	if len(head) < 1 {
		sess.reply("SERVERMSG Bad syntax for IGNORE")
		return
	}
	targetID, targetName, err := s.resolveTarget(ctx, head[0])
	if err != nil {
		sess.reply("SERVERMSG Unknown user " + head[0])
		return
	}
	if targetID == sess.UserID() {
		sess.reply("SERVERMSG You cannot ignore yourself")
		return
	}
	if err := s.store.Users.AddIgnore(ctx, sess.UserID(), targetID, reason); err != nil {
		s.internalError(sess, "storing ignore failed", err)
		return
	}
	sess.ignores[targetName] = reason
	s.sendIgnoreList(sess)
}

// handleUnignore removes an ignore entry: UNIGNORE <user>
func (s *Server) handleUnignore(ctx context.Context, sess *Session, args string) {
	name := strings.TrimSpace(args)
	if name == "" {
		sess.reply("SERVERMSG Bad syntax for UNIGNORE")
		return
	}
	targetID, targetName, err := s.resolveTarget(ctx, name)
	if err != nil {
		sess.reply("SERVERMSG Unknown user " + name)
		return
	}
	if err := s.store.Users.RemoveIgnore(ctx, sess.UserID(), targetID); err != nil {
		s.internalError(sess, "removing ignore failed", err)
		return
	}
	delete(sess.ignores, targetName)
	s.sendIgnoreList(sess)
}

func (s *Server) handleIgnoreList(_ context.Context, sess *Session, _ string) {
	s.sendIgnoreList(sess)
}

// ignoresStored checks the persisted ignore list when the target is
// offline.
func (s *Server) ignoresStored(ctx context.Context, ownerID int32, name string) bool {
	rows, err := s.store.Users.ListIgnores(ctx, ownerID)
	if err != nil {
		return false
	}
	for _, row := range rows {
		if row.Username == name {
			return true
		}
	}
	return false
}

// handleFriendRequest files a friend request:
// FRIENDREQUEST <user> [msg…]
func (s *Server) handleFriendRequest(ctx context.Context, sess *Session, args string) {
	head, msg := protocol.SplitArgs(args, 1)
	if len(head) < 1 {
		sess.reply("SERVERMSG Bad syntax for FRIENDREQUEST")
		return
	}
	targetID, targetName, err := s.resolveTarget(ctx, head[0])
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			sess.reply("SERVERMSG Unknown user " + head[0])
			return
		}
		s.internalError(sess, "resolving friend request target failed", err)
		return
	}
	if targetID == sess.UserID() {
		sess.reply("SERVERMSG You cannot friend yourself")
		return
	}

	friends, err := s.store.Users.ListFriends(ctx, sess.UserID())
	if err == nil {
		for _, name := range friends {
			if name == targetName {
				sess.reply("SERVERMSG You are already friends with " + targetName)
				return
			}
		}
	}

	// Requests to someone ignoring the sender are dropped without a
	// tell.
	target, online := s.findUser(targetName)
	ignored := false
	if online {
		ignored = target.Ignores(sess.Username())
	} else {
		ignored = s.ignoresStored(ctx, targetID, sess.Username())
	}
	if ignored {
		sess.reply("SERVERMSG Friend request sent to " + targetName)
		return
	}

	if err := s.store.Users.AddFriendRequest(ctx, sess.UserID(), targetID, msg); err != nil {
		s.internalError(sess, "storing friend request failed", err)
		return
	}
	sess.reply("SERVERMSG Friend request sent to " + targetName)
	if online {
		s.sendFriendRequestList(ctx, target)
	}
}

// handleAcceptFriendRequest turns a pending request into a friendship:
// ACCEPTFRIENDREQUEST <user>
func (s *Server) handleAcceptFriendRequest(ctx context.Context, sess *Session, args string) {
	name := strings.TrimSpace(args)
	if name == "" {
		sess.reply("SERVERMSG Bad syntax for ACCEPTFRIENDREQUEST")
		return
	}
	targetID, targetName, err := s.resolveTarget(ctx, name)
	if err != nil {
		sess.reply("SERVERMSG Unknown user " + name)
		return
	}

	reqs, err := s.store.Users.ListFriendRequests(ctx, sess.UserID())
	if err != nil {
		s.internalError(sess, "loading friend requests failed", err)
		return
	}
	found := false
	for _, req := range reqs {
		if req.Username == targetName {
			found = true
			break
		}
	}
	if !found {
		sess.reply("SERVERMSG No friend request from " + targetName)
		return
	}

	if err := s.store.Users.RemoveFriendRequest(ctx, targetID, sess.UserID()); err != nil {
		s.internalError(sess, "removing friend request failed", err)
		return
	}
	if err := s.store.Users.AddFriend(ctx, sess.UserID(), targetID); err != nil {
		s.internalError(sess, "storing friendship failed", err)
		return
	}

	s.sendFriendList(ctx, sess)
	if target, online := s.findUser(targetName); online {
		s.sendFriendList(ctx, target)
	}
}

// handleDeclineFriendRequest drops a pending request:
// DECLINEFRIENDREQUEST <user>
func (s *Server) handleDeclineFriendRequest(ctx context.Context, sess *Session, args string) {
	name := strings.TrimSpace(args)
	if name == "" {
		sess.reply("SERVERMSG Bad syntax for DECLINEFRIENDREQUEST")
		return
	}
	targetID, _, err := s.resolveTarget(ctx, name)
	if err != nil {
		sess.reply("SERVERMSG Unknown user " + name)
		return
	}
	if err := s.store.Users.RemoveFriendRequest(ctx, targetID, sess.UserID()); err != nil {
		s.internalError(sess, "removing friend request failed", err)
		return
	}
	s.sendFriendRequestList(ctx, sess)
}

// handleUnfriend dissolves a friendship: UNFRIEND <user>
func (s *Server) handleUnfriend(ctx context.Context, sess *Session, args string) {
	name := strings.TrimSpace(args)
	if name == "" {
		sess.reply("SERVERMSG Bad syntax for UNFRIEND")
		return
	}
	targetID, targetName, err := s.resolveTarget(ctx, name)
	if err != nil {
		sess.reply("SERVERMSG Unknown user " + name)
		return
	}
	if err := s.store.Users.RemoveFriend(ctx, sess.UserID(), targetID); err != nil {
		s.internalError(sess, "removing friendship failed", err)
		return
	}
	s.sendFriendList(ctx, sess)
	if target, online := s.findUser(targetName); online {
		s.sendFriendList(ctx, target)
	}
}

func (s *Server) handleFriendList(ctx context.Context, sess *Session, _ string) {
	s.sendFriendList(ctx, sess)
}

func (s *Server) handleFriendRequestList(ctx context.Context, sess *Session, _ string) {
	s.sendFriendRequestList(ctx, sess)
}
