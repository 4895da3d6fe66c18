package lobby

import (
	"regexp"
	"sort"
	"time"

	"github.com/udisondev/uberlobby/internal/db"
)

var channelNameRE = regexp.MustCompile(`^[A-Za-z0-9_\[\]]{1,20}$`)

// ValidChannelName checks the bare channel name (no '#' prefix).
func ValidChannelName(name string) bool {
	return channelNameRE.MatchString(name)
}

// penalty is an in-memory mute or ban entry. A zero expires means
// indefinite.
type penalty struct {
	username string
	reason   string
	expires  time.Time
}

func (p penalty) expired(now time.Time) bool {
	return !p.expires.IsZero() && !now.Before(p.expires)
}

// Channel is one chat room. Unregistered channels live only in memory
// and vanish with their last member; registered ones (founder set)
// mirror their metadata, ops and penalties to the store.
type Channel struct {
	name string

	// persisted identity, zero for unregistered channels
	id         int32
	registered bool

	founderID   int32
	founderName string

	topic       string
	topicSetter string
	topicTime   time.Time

	key string

	// ops maps user id to username.
	ops map[int32]string

	mutes map[int32]penalty
	bans  map[int32]penalty

	forwards []string

	// members holds session ids; the server resolves them.
	members map[int64]struct{}

	antispam     bool
	spam         *spamScorer
	storeHistory bool
}

func newChannel(name string) *Channel {
	return &Channel{
		name:    name,
		ops:     make(map[int32]string),
		mutes:   make(map[int32]penalty),
		bans:    make(map[int32]penalty),
		members: make(map[int64]struct{}),
		spam:    newSpamScorer(db.DefaultAntispamSettings()),
	}
}

// newChannelFromRow restores a registered channel loaded at boot.
func newChannelFromRow(row db.ChannelRow) *Channel {
	ch := newChannel(row.Name)
	ch.id = row.ID
	ch.registered = true
	ch.founderID = row.FounderID
	ch.founderName = row.FounderName
	ch.key = row.Key
	ch.topic = row.Topic
	ch.topicSetter = row.TopicSetter
	ch.topicTime = row.TopicTime
	ch.antispam = row.Antispam
	ch.spam.SetSettings(row.Spam)
	ch.storeHistory = row.StoreHistory
	return ch
}

// IsOp reports channel-operator status (founder included).
func (ch *Channel) IsOp(userID int32) bool {
	if userID == 0 {
		return false
	}
	if ch.registered && userID == ch.founderID {
		return true
	}
	_, ok := ch.ops[userID]
	return ok
}

// IsFounder reports channel ownership.
func (ch *Channel) IsFounder(userID int32) bool {
	return ch.registered && userID != 0 && userID == ch.founderID
}

// Muted returns the active mute for userID, dropping it if expired.
func (ch *Channel) Muted(userID int32, now time.Time) (penalty, bool) {
	p, ok := ch.mutes[userID]
	if !ok {
		return penalty{}, false
	}
	if p.expired(now) {
		delete(ch.mutes, userID)
		return penalty{}, false
	}
	return p, true
}

// Banned returns the active ban for userID, dropping it if expired.
func (ch *Channel) Banned(userID int32, now time.Time) (penalty, bool) {
	p, ok := ch.bans[userID]
	if !ok {
		return penalty{}, false
	}
	if p.expired(now) {
		delete(ch.bans, userID)
		return penalty{}, false
	}
	return p, true
}

// ExpiredMutes removes and returns all mutes past their expiry.
func (ch *Channel) ExpiredMutes(now time.Time) []penalty {
	var out []penalty
	for id, p := range ch.mutes {
		if p.expired(now) {
			out = append(out, p)
			delete(ch.mutes, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].username < out[j].username })
	return out
}

// MuteEntries lists active mutes sorted by name for MUTELIST.
func (ch *Channel) MuteEntries(now time.Time) []penalty {
	out := make([]penalty, 0, len(ch.mutes))
	for id, p := range ch.mutes {
		if p.expired(now) {
			delete(ch.mutes, id)
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].username < out[j].username })
	return out
}
