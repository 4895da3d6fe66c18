package lobby

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/udisondev/uberlobby/internal/db"
	"github.com/udisondev/uberlobby/internal/protocol"
)

var (
	usernameRE = regexp.MustCompile(`^[A-Za-z0-9_\[\]]{1,20}$`)
	emailRE    = regexp.MustCompile(`(?i)^[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,6}$`)
)

func (s *Server) internalError(sess *Session, op string, err error) {
	slog.Error(op, "session", sess.id, "user", sess.Username(), "error", err)
	sess.reply("SERVERMSG Internal error")
}

// loginLimiter returns the failed-login limiter for an address,
// creating it on first use. Tokens are consumed on failures only.
func (s *Server) loginLimiter(ip string) *rate.Limiter {
	l, ok := s.loginLimiters[ip]
	if !ok {
		refill := time.Duration(s.cfg.Limits.LoginRefillSeconds) * time.Second
		l = rate.NewLimiter(rate.Every(refill), s.cfg.Limits.LoginBurst)
		s.loginLimiters[ip] = l
	}
	return l
}

// agentVersion extracts the trailing version token of a lobby agent
// string like "SpringLobby 0.270".
func agentVersion(agent string) string {
	fields := strings.Fields(agent)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

func numericPrefix(s string) int {
	n := 0
	seen := false
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			break
		}
		n = n*10 + int(s[i]-'0')
		seen = true
	}
	if !seen {
		return -1
	}
	return n
}

// versionAtLeast compares dot-separated numeric versions. A version
// with no leading digits cannot be compared and passes.
func versionAtLeast(have, want string) bool {
	hs, ws := strings.Split(have, "."), strings.Split(want, ".")
	if numericPrefix(hs[0]) < 0 {
		return true
	}
	for i := 0; i < len(hs) || i < len(ws); i++ {
		h, w := 0, 0
		if i < len(hs) {
			h = numericPrefix(hs[i])
		}
		if i < len(ws) {
			w = numericPrefix(ws[i])
		}
		if h != w {
			return h > w
		}
	}
	return true
}

// validEmail checks the address shape and the domain blacklist.
func (s *Server) validEmail(ctx context.Context, email string) (bool, string) {
	if !emailRE.MatchString(email) {
		return false, "Invalid email address"
	}
	domain := strings.ToLower(email[strings.LastIndex(email, "@")+1:])
	blacklisted, err := s.store.Bans.IsDomainBlacklisted(ctx, domain)
	if err != nil {
		slog.Warn("domain blacklist lookup failed", "domain", domain, "error", err)
		return true, ""
	}
	if blacklisted {
		return false, "Email domain is blacklisted"
	}
	return true, ""
}

func (s *Server) sendAgreement(sess *Session) {
	for _, line := range s.agreement {
		sess.reply("AGREEMENT " + line)
	}
	sess.reply("AGREEMENTEND")
}

// handleLogin authenticates a connection:
// LOGIN <user> <pw> <cpu> <local_ip> <agent>[\t<sys_id>[\t<mac_id>]]
func (s *Server) handleLogin(ctx context.Context, sess *Session, args string) {
	if sess.state == stateLoggedIn {
		sess.reply("DENIED Already logged in")
		return
	}

	head, rest := protocol.SplitArgs(args, 4)
	if len(head) < 4 || rest == "" {
		sess.reply("DENIED Bad login syntax")
		return
	}
	username, wirePW, cpu, localIP := head[0], head[1], head[2], head[3]
	sentences := protocol.Sentences(rest)
	agent := sentences[0]
	if len(sentences) > 1 {
		sess.sysID = sentences[1]
	}
	if len(sentences) > 2 {
		sess.macID = sentences[2]
	}
	sess.localIP = localIP

	// Connections from trusted proxies report the real client address
	// as local_ip.
	if _, trusted := s.proxies[sess.ip]; trusted && localIP != "" && localIP != "*" {
		sess.ip = localIP
		sess.country = s.geo.Lookup(sess.ip)
	}

	limiter := s.loginLimiter(sess.ip)
	if limiter.Tokens() < 1 {
		metricLoginFailures.Inc()
		sess.reply("DENIED Too many failed login attempts, wait a minute")
		return
	}

	user, err := s.store.Users.FindByName(ctx, username)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			s.internalError(sess, "login lookup failed", err)
			return
		}
		limiter.Allow()
		metricLoginFailures.Inc()
		if alt, aerr := s.store.Users.FindByNameInsensitive(ctx, username); aerr == nil {
			sess.reply(fmt.Sprintf("DENIED Invalid username. Did you mean '%s'?", alt.Username))
			return
		}
		sess.reply("DENIED Invalid username or password")
		return
	}

	ok, upgrade := VerifyPassword(user.Password, wirePW)
	if !ok {
		limiter.Allow()
		metricLoginFailures.Inc()
		sess.reply("DENIED Invalid password")
		return
	}
	if upgrade {
		if hash, herr := HashPassword(wirePW); herr == nil {
			if serr := s.store.Users.SetPassword(ctx, user.ID, hash); serr == nil {
				user.Password = hash
			}
		}
	}

	access, aerr := ParseAccess(user.Access)
	if aerr != nil {
		slog.Warn("account has unknown access level", "user", user.Username, "access", user.Access)
	}

	if !access.IsAdmin() {
		ban, berr := s.store.Bans.Check(ctx, user.ID, sess.ip, user.Email)
		if berr != nil && !errors.Is(berr, db.ErrNotFound) {
			s.internalError(sess, "ban check failed", berr)
			return
		}
		if ban != nil {
			metricLoginFailures.Inc()
			msg := "DENIED You are banned: " + ban.Reason
			if !ban.EndDate.IsZero() {
				msg += " (until " + ban.EndDate.UTC().Format("2006-01-02 15:04") + ")"
			}
			sess.reply(msg)
			return
		}
	}

	if s.minSpringVersion != "" && !versionAtLeast(agentVersion(agent), s.minSpringVersion) {
		sess.reply("DENIED Your client is too old, please update to a newer version")
		return
	}

	if access == AccessAgreement || access == AccessFresh {
		sess.pending = &heldLogin{user: user, agent: agent, cpu: cpu}
		s.sendAgreement(sess)
		return
	}
	s.completeLogin(ctx, sess, user, access, agent, cpu)
}

// completeLogin flips the session to logged-in and pushes the world
// snapshot. Any prior live session of the account is ghosted first.
func (s *Server) completeLogin(ctx context.Context, sess *Session, user *db.UserRow, access Access, agent, cpu string) {
	if old, ok := s.usernames[user.Username]; ok && old != sess {
		old.send("SERVERMSG Ghosted")
		s.removeSession(ctx, old, "ghosted by new login")
	}

	sess.user = user
	sess.access = access
	sess.bot = user.Bot || access == AccessBot
	sess.rank = RankFor(user.IngameTime)
	sess.prevLogin = user.LastLogin
	sess.agent = agent
	sess.cpu = cpu
	sess.state = stateLoggedIn
	s.usernames[user.Username] = sess
	metricUsersLoggedIn.Set(float64(len(s.usernames)))
	metricLogins.Inc()

	if err := s.store.Users.AppendLogin(ctx, user.ID, db.LoginRecord{
		IP:      sess.ip,
		LocalIP: sess.localIP,
		Agent:   agent,
		SysID:   sess.sysID,
		MacID:   sess.macID,
		Country: sess.country,
	}); err != nil {
		slog.Error("recording login failed", "user", user.Username, "error", err)
	}

	if rows, err := s.store.Users.ListIgnores(ctx, user.ID); err == nil {
		for _, row := range rows {
			sess.ignores[row.Username] = row.Reason
		}
	} else {
		slog.Warn("loading ignore list failed", "user", user.Username, "error", err)
	}

	sess.reply("ACCEPTED " + user.Username)
	for _, line := range s.motd {
		sess.reply("MOTD " + line)
	}
	s.worldSnapshot(sess)

	s.broadcastExcept(sess, s.addUserLine(sess))
	if sess.Status() != 0 {
		s.broadcastStatus(sess)
	}
	slog.Info("user logged in",
		"user", user.Username, "session", sess.id, "ip", sess.ip, "access", access.String())
}

// handleRegister creates an account: REGISTER <user> <pw> [email]
func (s *Server) handleRegister(ctx context.Context, sess *Session, args string) {
	if sess.state == stateLoggedIn {
		sess.reply("REGISTRATIONDENIED Already logged in")
		return
	}
	head, _ := protocol.SplitArgs(args, 3)
	if len(head) < 2 {
		sess.reply("REGISTRATIONDENIED Bad syntax")
		return
	}
	username, wirePW := head[0], head[1]
	email := ""
	if len(head) > 2 {
		email = head[2]
	}

	if !usernameRE.MatchString(username) || s.filter.Apply(username) != username {
		sess.reply("REGISTRATIONDENIED Invalid username")
		return
	}
	if _, err := s.store.Users.FindByNameInsensitive(ctx, username); err == nil {
		sess.reply("REGISTRATIONDENIED Username already exists")
		return
	} else if !errors.Is(err, db.ErrNotFound) {
		s.internalError(sess, "registration lookup failed", err)
		return
	}
	if !ValidWirePassword(wirePW) {
		sess.reply("REGISTRATIONDENIED Invalid password")
		return
	}
	if s.cfg.Verification.Enabled && email == "" {
		sess.reply("REGISTRATIONDENIED Email address required")
		return
	}
	if email != "" {
		if ok, reason := s.validEmail(ctx, email); !ok {
			sess.reply("REGISTRATIONDENIED " + reason)
			return
		}
	}

	if ban, err := s.store.Bans.Check(ctx, 0, sess.ip, email); err == nil && ban != nil {
		sess.reply("REGISTRATIONDENIED You are banned: " + ban.Reason)
		return
	}
	if s.registrations[sess.ip] >= s.cfg.Limits.RegistrationsPerIP {
		sess.reply("REGISTRATIONDENIED Too many registrations from your address, try again later")
		return
	}

	hash, err := HashPassword(wirePW)
	if err != nil {
		s.internalError(sess, "hashing password failed", err)
		return
	}
	user, err := s.store.Users.Register(ctx, username, hash, email, sess.ip)
	if err != nil {
		s.internalError(sess, "registering account failed", err)
		return
	}
	s.registrations[sess.ip]++
	metricRegistrations.Inc()

	if s.cfg.Verification.Enabled {
		code, cerr := s.store.Verifications.Create(ctx, user.ID, email, db.VerifyRegister)
		if cerr != nil {
			slog.Error("creating verification failed", "user", username, "error", cerr)
		} else {
			s.mail.SendVerification(email, username, code)
		}
	}
	sess.reply("REGISTRATIONACCEPTED")
	slog.Info("account registered", "user", username, "ip", sess.ip, "email", email != "")
}

// handleConfirmAgreement promotes a held login after the client
// confirmed the agreement: CONFIRMAGREEMENT [code]
func (s *Server) handleConfirmAgreement(ctx context.Context, sess *Session, args string) {
	if sess.pending == nil {
		sess.reply("SERVERMSG No agreement pending")
		return
	}
	user := sess.pending.user

	if s.cfg.Verification.Enabled && !user.Verified {
		code := strings.TrimSpace(args)
		if code == "" {
			sess.reply("DENIED Verification code required")
			return
		}
		v, err := s.store.Verifications.Pending(ctx, user.ID, db.VerifyRegister)
		if err != nil {
			sess.reply("DENIED No pending verification, request a new code")
			return
		}
		if err := s.store.Verifications.Consume(ctx, v, code); err != nil {
			sess.reply("DENIED " + verificationDenial(err))
			return
		}
		user.Verified = true
	}

	user.Access = AccessUser.String()
	if err := s.store.Users.Save(ctx, user); err != nil {
		s.internalError(sess, "promoting account failed", err)
		return
	}
	agent, cpu := sess.pending.agent, sess.pending.cpu
	sess.pending = nil
	s.completeLogin(ctx, sess, user, AccessUser, agent, cpu)
}

func verificationDenial(err error) string {
	switch {
	case errors.Is(err, db.ErrCodeExpired):
		return "Verification code expired, request a new one"
	case errors.Is(err, db.ErrCodeMismatch):
		return "Invalid verification code"
	case errors.Is(err, db.ErrTooManyAttempts):
		return "Too many attempts, request a new code"
	default:
		return "Verification failed"
	}
}

// handleResetPasswordRequest mails a reset code:
// RESETPASSWORDREQUEST <email>
func (s *Server) handleResetPasswordRequest(ctx context.Context, sess *Session, args string) {
	email := strings.TrimSpace(args)
	if email == "" {
		sess.reply("SERVERMSG Bad syntax for RESETPASSWORDREQUEST")
		return
	}
	user, err := s.store.Users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			sess.reply("SERVERMSG No account with that email address")
			return
		}
		s.internalError(sess, "password reset lookup failed", err)
		return
	}
	code, err := s.store.Verifications.Create(ctx, user.ID, email, db.VerifyPasswordReset)
	if err != nil {
		s.internalError(sess, "creating reset code failed", err)
		return
	}
	s.mail.SendPasswordReset(email, code)
	sess.reply("SERVERMSG Password reset code sent")
}

// handleResetPassword applies a reset: RESETPASSWORD <email> <code>
func (s *Server) handleResetPassword(ctx context.Context, sess *Session, args string) {
	head, _ := protocol.SplitArgs(args, 2)
	if len(head) < 2 {
		sess.reply("SERVERMSG Bad syntax for RESETPASSWORD")
		return
	}
	email, code := head[0], head[1]

	v, err := s.store.Verifications.PendingByEmail(ctx, email, db.VerifyPasswordReset)
	if err != nil {
		sess.reply("SERVERMSG No pending password reset for that address")
		return
	}
	if err := s.store.Verifications.Consume(ctx, v, code); err != nil {
		sess.reply("SERVERMSG " + verificationDenial(err))
		return
	}

	plain, err := RandomPassword()
	if err != nil {
		s.internalError(sess, "generating password failed", err)
		return
	}
	wire := WirePassword(plain)
	hash, err := HashPassword(wire)
	if err != nil {
		s.internalError(sess, "hashing password failed", err)
		return
	}
	if err := s.store.Users.SetPassword(ctx, v.UserID, hash); err != nil {
		s.internalError(sess, "storing password failed", err)
		return
	}
	s.mail.SendNewPassword(email, wire)
	sess.reply("SERVERMSG Your password has been reset, check your email")
}

// handleResendVerification re-mails a pending registration code:
// RESENDVERIFICATION <email>
func (s *Server) handleResendVerification(ctx context.Context, sess *Session, args string) {
	email := strings.TrimSpace(args)
	if email == "" {
		sess.reply("SERVERMSG Bad syntax for RESENDVERIFICATION")
		return
	}
	user, err := s.store.Users.FindByEmail(ctx, email)
	if err != nil {
		sess.reply("SERVERMSG No account with that email address")
		return
	}
	v, err := s.store.Verifications.Resend(ctx, user.ID, db.VerifyRegister)
	if err != nil {
		if errors.Is(err, db.ErrTooManyResends) {
			sess.reply("SERVERMSG Too many resends, contact an administrator")
			return
		}
		sess.reply("SERVERMSG No pending verification for that address")
		return
	}
	s.mail.SendVerification(email, user.Username, v.Code)
	sess.reply("SERVERMSG Verification code resent")
}

// handleVerify marks a registration verified: VERIFY <email> <code>
func (s *Server) handleVerify(ctx context.Context, sess *Session, args string) {
	head, _ := protocol.SplitArgs(args, 2)
	if len(head) < 2 {
		sess.reply("SERVERMSG Bad syntax for VERIFY")
		return
	}
	email, code := head[0], head[1]

	user, err := s.store.Users.FindByEmail(ctx, email)
	if err != nil {
		sess.reply("SERVERMSG No account with that email address")
		return
	}
	v, err := s.store.Verifications.Pending(ctx, user.ID, db.VerifyRegister)
	if err != nil {
		sess.reply("SERVERMSG No pending verification for that address")
		return
	}
	if err := s.store.Verifications.Consume(ctx, v, code); err != nil {
		sess.reply("SERVERMSG " + verificationDenial(err))
		return
	}
	user.Verified = true
	if err := s.store.Users.Save(ctx, user); err != nil {
		s.internalError(sess, "saving verified account failed", err)
		return
	}
	sess.reply("SERVERMSG Email verified, you may now log in")
}

// handleMyStatus merges the client-writable status bits:
// MYSTATUS <status>
func (s *Server) handleMyStatus(_ context.Context, sess *Session, args string) {
	raw, err := strconv.ParseUint(strings.TrimSpace(args), 10, 32)
	if err != nil {
		sess.reply("SERVERMSG Bad syntax for MYSTATUS")
		return
	}
	wantInGame := raw&uint64(statusInGame) != 0
	wantAway := raw&uint64(statusAway) != 0

	before := sess.Status()
	now := time.Now()
	if wantInGame && !sess.inGame {
		sess.inGameSince = now
	}
	if !wantInGame && sess.inGame {
		sess.ingameAccum += now.Sub(sess.inGameSince)
	}
	sess.inGame = wantInGame
	sess.away = wantAway
	sess.rank = RankFor(sess.user.IngameTime + int64(sess.ingameAccum.Seconds()))

	if b, ok := s.battles[sess.battleID]; ok && b.hostID == sess.id {
		b.inGame = wantInGame
	}

	if sess.Status() != before {
		s.broadcastStatus(sess)
	}
}

// handleChangePassword rotates a password:
// CHANGEPASSWORD <oldpw> <newpw>
func (s *Server) handleChangePassword(ctx context.Context, sess *Session, args string) {
	head, _ := protocol.SplitArgs(args, 2)
	if len(head) < 2 {
		sess.reply("SERVERMSG Bad syntax for CHANGEPASSWORD")
		return
	}
	oldPW, newPW := head[0], head[1]

	if ok, _ := VerifyPassword(sess.user.Password, oldPW); !ok {
		sess.reply("SERVERMSG Incorrect old password")
		return
	}
	if !ValidWirePassword(newPW) {
		sess.reply("SERVERMSG Invalid new password")
		return
	}
	hash, err := HashPassword(newPW)
	if err != nil {
		s.internalError(sess, "hashing password failed", err)
		return
	}
	if err := s.store.Users.SetPassword(ctx, sess.UserID(), hash); err != nil {
		s.internalError(sess, "storing password failed", err)
		return
	}
	sess.user.Password = hash
	sess.reply("SERVERMSG Password changed successfully")
}

// handleRenameAccount renames the logged-in account and closes the
// session: RENAMEACCOUNT <newname>
func (s *Server) handleRenameAccount(ctx context.Context, sess *Session, args string) {
	newName := strings.TrimSpace(args)
	if newName == "" {
		sess.reply("SERVERMSG Bad syntax for RENAMEACCOUNT")
		return
	}
	if !usernameRE.MatchString(newName) || s.filter.Apply(newName) != newName {
		sess.reply("SERVERMSG Invalid username")
		return
	}
	if alt, err := s.store.Users.FindByNameInsensitive(ctx, newName); err == nil && alt.ID != sess.UserID() {
		sess.reply("SERVERMSG Username already in use")
		return
	}
	if s.renameCounts[sess.UserID()] >= s.cfg.Limits.RenamesPerUser {
		sess.reply("SERVERMSG Too many renames, try again later")
		return
	}

	oldName := sess.Username()
	if err := s.store.Users.Rename(ctx, sess.UserID(), oldName, newName); err != nil {
		s.internalError(sess, "renaming account failed", err)
		return
	}
	s.renameCounts[sess.UserID()]++
	sess.reply(fmt.Sprintf("SERVERMSG Your account has been renamed to %s, reconnect with the new name", newName))
	slog.Info("account renamed", "old", oldName, "new", newName)
	s.removeSession(ctx, sess, "renamed")
}

// handleChangeEmailRequest mails a code to the new address:
// CHANGEEMAILREQUEST <newemail>
func (s *Server) handleChangeEmailRequest(ctx context.Context, sess *Session, args string) {
	email := strings.TrimSpace(args)
	if email == "" {
		sess.reply("SERVERMSG Bad syntax for CHANGEEMAILREQUEST")
		return
	}
	if ok, reason := s.validEmail(ctx, email); !ok {
		sess.reply("SERVERMSG " + reason)
		return
	}
	code, err := s.store.Verifications.Create(ctx, sess.UserID(), email, db.VerifyEmailChange)
	if err != nil {
		s.internalError(sess, "creating email change code failed", err)
		return
	}
	s.mail.SendVerification(email, sess.Username(), code)
	sess.reply("SERVERMSG Verification code sent to " + email)
}

// handleChangeEmail applies an address change:
// CHANGEEMAIL <newemail> [code]
func (s *Server) handleChangeEmail(ctx context.Context, sess *Session, args string) {
	head, _ := protocol.SplitArgs(args, 2)
	if len(head) < 1 {
		sess.reply("SERVERMSG Bad syntax for CHANGEEMAIL")
		return
	}
	email := head[0]
	if ok, reason := s.validEmail(ctx, email); !ok {
		sess.reply("SERVERMSG " + reason)
		return
	}

	if s.cfg.Verification.Enabled {
		if len(head) < 2 {
			sess.reply("SERVERMSG Verification code required")
			return
		}
		v, err := s.store.Verifications.Pending(ctx, sess.UserID(), db.VerifyEmailChange)
		if err != nil || !strings.EqualFold(v.Email, email) {
			sess.reply("SERVERMSG No pending email change for that address")
			return
		}
		if err := s.store.Verifications.Consume(ctx, v, head[1]); err != nil {
			sess.reply("SERVERMSG " + verificationDenial(err))
			return
		}
	}

	sess.user.Email = email
	if err := s.store.Users.Save(ctx, sess.user); err != nil {
		s.internalError(sess, "saving email change failed", err)
		return
	}
	sess.reply("SERVERMSG Email address changed")
}
