package lobby

import (
	"time"

	"github.com/udisondev/uberlobby/internal/db"
)

// spamScore tracks one member's floating spam score in a channel.
// The score decays linearly at 1/timeout per second; decay is applied
// lazily whenever the score is touched.
type spamScore struct {
	score   float64
	touched time.Time
}

// spamScorer charges messages against per-member scores using the
// channel's antispam settings.
type spamScorer struct {
	settings db.AntispamSettings
	members  map[int64]*spamScore
}

func newSpamScorer(settings db.AntispamSettings) *spamScorer {
	return &spamScorer{settings: settings, members: make(map[int64]*spamScore)}
}

// Charge applies the cost of a message of msgLen bytes for session id
// at time now. Returns true when the score crossed the aggressiveness
// threshold and the sender must be auto-muted.
func (sc *spamScorer) Charge(id int64, msgLen int, now time.Time) bool {
	entry, ok := sc.members[id]
	if !ok {
		entry = &spamScore{touched: now}
		sc.members[id] = entry
	}
	sc.decay(entry, now)

	bonus := sc.settings.BonusLength
	if bonus <= 0 {
		bonus = 1
	}
	cost := 1.0
	if extra := msgLen - bonus; extra > 0 {
		cost += float64(extra) / float64(bonus)
	}
	entry.score += cost

	if entry.score > float64(sc.settings.Aggressiveness) {
		// Reset so the user is not instantly re-muted on the first
		// message after the mute expires.
		entry.score = 0
		return true
	}
	return false
}

// Score returns the current decayed score for session id.
func (sc *spamScorer) Score(id int64, now time.Time) float64 {
	entry, ok := sc.members[id]
	if !ok {
		return 0
	}
	sc.decay(entry, now)
	return entry.score
}

// Forget drops the member's state, used when they leave the channel.
func (sc *spamScorer) Forget(id int64) {
	delete(sc.members, id)
}

// SetSettings swaps the channel's antispam tuning.
func (sc *spamScorer) SetSettings(s db.AntispamSettings) {
	sc.settings = s
}

func (sc *spamScorer) decay(entry *spamScore, now time.Time) {
	timeout := sc.settings.Timeout
	if timeout <= 0 {
		timeout = 1
	}
	elapsed := now.Sub(entry.touched).Seconds()
	if elapsed > 0 {
		entry.score -= elapsed / float64(timeout)
		if entry.score < 0 {
			entry.score = 0
		}
	}
	entry.touched = now
}
