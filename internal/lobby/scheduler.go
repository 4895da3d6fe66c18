package lobby

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/load"
)

const (
	muteSweepEvery = time.Second
	idleSweepEvery = 10 * time.Second
	decayEvery     = 20 * time.Minute
	cleanEvery     = 24 * time.Hour

	loginTimeout = 60 * time.Second
	idleTimeout  = 60 * time.Second

	// Per-session sweeps are skipped while the host load average is
	// past this.
	maxLoadAverage = 8.0
)

// RunScheduler drives the periodic maintenance sweeps until ctx ends.
// Each tick posts a closure to the dispatcher; only the daily store
// cleanup runs here directly since it never touches lobby state.
// The store cleanup also runs once at startup.
func (s *Server) RunScheduler(ctx context.Context) error {
	s.cleanStores(ctx)

	mutes := time.NewTicker(muteSweepEvery)
	defer mutes.Stop()
	idle := time.NewTicker(idleSweepEvery)
	defer idle.Stop()
	decay := time.NewTicker(decayEvery)
	defer decay.Stop()
	clean := time.NewTicker(cleanEvery)
	defer clean.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-mutes.C:
			if overloaded() {
				continue
			}
			s.post(func() { s.sweepMutesAndFloods(ctx) })
		case <-idle.C:
			if overloaded() {
				continue
			}
			s.post(func() { s.sweepIdleSessions(ctx) })
		case <-decay.C:
			s.post(s.decayThrottles)
		case <-clean.C:
			s.cleanStores(ctx)
		}
	}
}

// overloaded reports whether the 1-minute load average is past the
// threshold.
func overloaded() bool {
	avg, err := load.Avg()
	if err != nil {
		return false
	}
	if avg.Load1 > maxLoadAverage {
		slog.Warn("host overloaded, skipping sweep", "load1", avg.Load1)
		return true
	}
	return false
}

// sweepMutesAndFloods expires channel mutes and culls flooded
// connections. Runs on the dispatcher.
func (s *Server) sweepMutesAndFloods(ctx context.Context) {
	now := time.Now()

	for _, ch := range s.channels {
		for _, p := range ch.ExpiredMutes(now) {
			s.channelFanout(ch, fmt.Sprintf(
				"CHANNELMESSAGE %s %s has been unmuted (mute expired).", ch.name, p.username))
		}
	}

	limit := int64(s.cfg.Limits.FloodBytes)
	if limit <= 0 {
		return
	}
	grace := time.Duration(s.cfg.Limits.FloodGraceSeconds) * time.Second
	for _, sess := range s.sessions {
		if sess.static {
			continue
		}
		if sess.client.QueuedBytes() < limit {
			sess.floodSince = time.Time{}
			continue
		}
		if sess.floodSince.IsZero() {
			sess.floodSince = now
			continue
		}
		if now.Sub(sess.floodSince) >= grace {
			sess.send("SERVERMSG Connection flooded")
			metricFloodedSessions.Inc()
			slog.Warn("flooded session culled",
				"session", sess.id, "user", sess.Username(), "queued", sess.client.QueuedBytes())
			s.removeSession(ctx, sess, "flooded")
		}
	}
}

// sweepIdleSessions drops connections that never logged in or went
// silent. Runs on the dispatcher.
func (s *Server) sweepIdleSessions(ctx context.Context) {
	now := time.Now()
	for _, sess := range s.sessions {
		if sess.static {
			continue
		}
		switch sess.state {
		case stateAwaitLogin:
			if now.Sub(sess.connected) > loginTimeout {
				sess.send("SERVERMSG timed out, no login within 60 seconds!")
				s.removeSession(ctx, sess, "login timeout")
			}
		case stateLoggedIn:
			if now.Sub(sess.lastData) > idleTimeout {
				sess.send("SERVERMSG timed out, no data or PING received for >60 seconds, closing connection")
				s.removeSession(ctx, sess, "idle timeout")
			}
		}
	}
}

// decayThrottles steps the registration and rename counters down and
// drops login limiters that refilled completely. Runs on the
// dispatcher.
func (s *Server) decayThrottles() {
	for ip, n := range s.registrations {
		if n <= 1 {
			delete(s.registrations, ip)
		} else {
			s.registrations[ip] = n - 1
		}
	}
	for id, n := range s.renameCounts {
		if n <= 1 {
			delete(s.renameCounts, id)
		} else {
			s.renameCounts[id] = n - 1
		}
	}
	burst := float64(s.cfg.Limits.LoginBurst)
	for ip, lim := range s.loginLimiters {
		if lim.Tokens() >= burst {
			delete(s.loginLimiters, ip)
		}
	}
}

// cleanStores runs the daily database maintenance. Store-only work, so
// it stays off the dispatcher.
func (s *Server) cleanStores(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	now := time.Now()

	if stats, err := s.store.Users.Clean(cctx, now); err != nil {
		slog.Error("user cleanup failed", "error", err)
	} else {
		slog.Info("user cleanup done",
			"unconfirmed", stats.UnconfirmedAccounts,
			"never_played", stats.NeverPlayedAccounts,
			"ancient", stats.AncientAccounts)
	}

	if demoted, err := s.store.Users.AuditAccess(cctx, now); err != nil {
		slog.Error("access audit failed", "error", err)
	} else if demoted > 0 {
		slog.Info("access audit done", "demoted", demoted)
	}

	if stats, err := s.store.Channels.Clean(cctx, now); err != nil {
		slog.Error("channel cleanup failed", "error", err)
	} else {
		slog.Info("channel cleanup done",
			"expired_mutes", stats.ExpiredMutes,
			"expired_bans", stats.ExpiredBans,
			"old_history", stats.OldHistory,
			"idle_channels", stats.IdleChannels)
	}

	if removed, err := s.store.Bans.Clean(cctx, now); err != nil {
		slog.Error("ban cleanup failed", "error", err)
	} else if removed > 0 {
		slog.Info("ban cleanup done", "removed", removed)
	}

	if removed, err := s.store.Verifications.Clean(cctx, now); err != nil {
		slog.Error("verification cleanup failed", "error", err)
	} else if removed > 0 {
		slog.Info("verification cleanup done", "removed", removed)
	}
}
