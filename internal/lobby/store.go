package lobby

import (
	"context"
	"time"

	"github.com/udisondev/uberlobby/internal/db"
)

// The engine talks to persistence through these interfaces so tests
// can swap in an in-memory store. *db.DB satisfies all of them.

// UserStore is the account side of the store.
type UserStore interface {
	FindByName(ctx context.Context, username string) (*db.UserRow, error)
	FindByNameInsensitive(ctx context.Context, username string) (*db.UserRow, error)
	FindByID(ctx context.Context, id int32) (*db.UserRow, error)
	FindByEmail(ctx context.Context, email string) (*db.UserRow, error)
	Register(ctx context.Context, username, passwordHash, email, ip string) (*db.UserRow, error)
	Save(ctx context.Context, u *db.UserRow) error
	SetPassword(ctx context.Context, id int32, passwordHash string) error
	SetAccess(ctx context.Context, id int32, access string, bot bool) error
	Rename(ctx context.Context, id int32, oldName, newName string) error
	AppendLogin(ctx context.Context, id int32, rec db.LoginRecord) error
	EndSession(ctx context.Context, id int32, ingame time.Duration) error
	AddIgnore(ctx context.Context, userID, ignoredID int32, reason string) error
	RemoveIgnore(ctx context.Context, userID, ignoredID int32) error
	ListIgnores(ctx context.Context, userID int32) ([]db.IgnoreRow, error)
	AddFriend(ctx context.Context, a, b int32) error
	RemoveFriend(ctx context.Context, a, b int32) error
	ListFriends(ctx context.Context, userID int32) ([]string, error)
	AddFriendRequest(ctx context.Context, fromID, toID int32, msg string) error
	RemoveFriendRequest(ctx context.Context, fromID, toID int32) error
	ListFriendRequests(ctx context.Context, toID int32) ([]db.FriendRequestRow, error)
	Clean(ctx context.Context, now time.Time) (db.UserCleanStats, error)
	AuditAccess(ctx context.Context, now time.Time) (int64, error)
}

// ChannelStore is the registered-channel side of the store.
type ChannelStore interface {
	All(ctx context.Context) ([]db.ChannelRow, error)
	FindByName(ctx context.Context, name string) (*db.ChannelRow, error)
	Register(ctx context.Context, name string, founderID int32) (*db.ChannelRow, error)
	Unregister(ctx context.Context, id int32) error
	SetTopic(ctx context.Context, id int32, topic, setter string) error
	SetKey(ctx context.Context, id int32, key string) error
	SetFounder(ctx context.Context, id, founderID int32) error
	SetAntispam(ctx context.Context, id int32, enabled bool) error
	SetAntispamSettings(ctx context.Context, id int32, s db.AntispamSettings) error
	SetHistory(ctx context.Context, id int32, enabled bool) error
	RecordUse(ctx context.Context, id int32) error
	Ops(ctx context.Context, id int32) ([]db.ChannelUserRef, error)
	AddOp(ctx context.Context, chanID, userID int32) error
	RemoveOp(ctx context.Context, chanID, userID int32) error
	Mutes(ctx context.Context, chanID int32) ([]db.ChannelPenaltyRow, error)
	AddMute(ctx context.Context, chanID int32, p db.ChannelPenaltyRow) error
	RemoveMute(ctx context.Context, chanID, userID int32) error
	Bans(ctx context.Context, chanID int32) ([]db.ChannelPenaltyRow, error)
	AddBan(ctx context.Context, chanID int32, p db.ChannelPenaltyRow) error
	RemoveBan(ctx context.Context, chanID, userID int32) error
	Forwards(ctx context.Context) ([]db.ForwardRow, error)
	AddForward(ctx context.Context, sourceID, targetID, issuerID int32) error
	RemoveForward(ctx context.Context, sourceID, targetID int32) error
	AppendHistory(ctx context.Context, chanID int32, author, msg string, ex bool) (int64, error)
	HistoryAfter(ctx context.Context, chanID int32, afterID int64, limit int) ([]db.HistoryRow, error)
	HistorySince(ctx context.Context, chanID int32, since time.Time, limit int) ([]db.HistoryRow, error)
	Clean(ctx context.Context, now time.Time) (db.ChannelCleanStats, error)
}

// BanStore is the server-ban and email-blacklist side of the store.
type BanStore interface {
	Check(ctx context.Context, userID int32, ip, email string) (*db.BanRow, error)
	Add(ctx context.Context, issuerID, userID int32, ip, email, reason string, duration time.Duration) error
	RemoveByUser(ctx context.Context, userID int32) (int64, error)
	RemoveByIP(ctx context.Context, ip string) (int64, error)
	RemoveByEmail(ctx context.Context, email string) (int64, error)
	List(ctx context.Context) ([]db.BanRow, error)
	Clean(ctx context.Context, now time.Time) (int64, error)
	IsDomainBlacklisted(ctx context.Context, domain string) (bool, error)
	BlacklistDomain(ctx context.Context, domain string) error
	UnblacklistDomain(ctx context.Context, domain string) error
}

// VerificationStore is the email-verification side of the store.
type VerificationStore interface {
	Create(ctx context.Context, userID int32, email, purpose string) (string, error)
	Pending(ctx context.Context, userID int32, purpose string) (*db.VerificationRow, error)
	PendingByEmail(ctx context.Context, email, purpose string) (*db.VerificationRow, error)
	Resend(ctx context.Context, userID int32, purpose string) (*db.VerificationRow, error)
	Consume(ctx context.Context, v *db.VerificationRow, code string) error
	Clean(ctx context.Context, now time.Time) (int64, error)
}

// SettingStore holds small server-wide key/value settings.
type SettingStore interface {
	Setting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Store aggregates everything the engine persists through.
type Store struct {
	Users         UserStore
	Channels      ChannelStore
	Bans          BanStore
	Verifications VerificationStore
	Settings      SettingStore
}

// NewStore adapts the concrete database to the engine's interfaces.
func NewStore(d *db.DB) Store {
	return Store{
		Users:         d.Users,
		Channels:      d.Channels,
		Bans:          d.Bans,
		Verifications: d.Verifications,
		Settings:      d,
	}
}
