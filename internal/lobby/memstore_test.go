package lobby

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/udisondev/uberlobby/internal/db"
)

// memStore is an in-memory store backend for engine tests. The four
// repository fakes share one user table so cross references (op lists,
// founder names, ban issuers) resolve the way the SQL joins do.
type memStore struct {
	Users  *memUsers
	Chans  *memChannels
	Bans   *memBans
	Verifs *memVerifs

	settings map[string]string
}

func newMemStore() *memStore {
	users := &memUsers{
		rows:     make(map[int32]*db.UserRow),
		ignores:  make(map[int32]map[int32]string),
		friends:  make(map[int32]map[int32]struct{}),
		requests: make(map[int32]map[int32]string),
	}
	ms := &memStore{
		Users: users,
		Chans: &memChannels{
			users:   users,
			rows:    make(map[int32]*db.ChannelRow),
			ops:     make(map[int32]map[int32]struct{}),
			mutes:   make(map[int32][]db.ChannelPenaltyRow),
			bans:    make(map[int32][]db.ChannelPenaltyRow),
			history: make(map[int32][]db.HistoryRow),
		},
		Bans:     &memBans{users: users, blacklist: make(map[string]struct{})},
		Verifs:   &memVerifs{},
		settings: make(map[string]string),
	}
	return ms
}

func (ms *memStore) store() Store {
	return Store{
		Users:         ms.Users,
		Channels:      ms.Chans,
		Bans:          ms.Bans,
		Verifications: ms.Verifs,
		Settings:      ms,
	}
}

func (ms *memStore) Setting(_ context.Context, key string) (string, error) {
	v, ok := ms.settings[key]
	if !ok {
		return "", db.ErrNotFound
	}
	return v, nil
}

func (ms *memStore) SetSetting(_ context.Context, key, value string) error {
	ms.settings[key] = value
	return nil
}

// memUsers

type memUsers struct {
	nextID int32
	rows   map[int32]*db.UserRow

	ignores  map[int32]map[int32]string   // owner -> ignored -> reason
	friends  map[int32]map[int32]struct{} // symmetric
	requests map[int32]map[int32]string   // to -> from -> msg

	logins      []db.LoginRecord
	endSessions []time.Duration
}

// seed inserts a user row directly, assigning an id when missing.
func (u *memUsers) seed(row db.UserRow) *db.UserRow {
	if row.ID == 0 {
		u.nextID++
		row.ID = u.nextID
	} else if row.ID > u.nextID {
		u.nextID = row.ID
	}
	if row.Access == "" {
		row.Access = "user"
	}
	if row.RegisterDate.IsZero() {
		row.RegisterDate = time.Now()
	}
	cp := row
	u.rows[row.ID] = &cp
	return &cp
}

func (u *memUsers) byName(name string) *db.UserRow {
	for _, row := range u.rows {
		if row.Username == name {
			return row
		}
	}
	return nil
}

func (u *memUsers) username(id int32) string {
	if row, ok := u.rows[id]; ok {
		return row.Username
	}
	return ""
}

func copyUser(row *db.UserRow) *db.UserRow {
	cp := *row
	return &cp
}

func (u *memUsers) FindByName(_ context.Context, username string) (*db.UserRow, error) {
	if row := u.byName(username); row != nil {
		return copyUser(row), nil
	}
	return nil, db.ErrNotFound
}

func (u *memUsers) FindByNameInsensitive(_ context.Context, username string) (*db.UserRow, error) {
	for _, row := range u.rows {
		if strings.EqualFold(row.Username, username) {
			return copyUser(row), nil
		}
	}
	return nil, db.ErrNotFound
}

func (u *memUsers) FindByID(_ context.Context, id int32) (*db.UserRow, error) {
	if row, ok := u.rows[id]; ok {
		return copyUser(row), nil
	}
	return nil, db.ErrNotFound
}

func (u *memUsers) FindByEmail(_ context.Context, email string) (*db.UserRow, error) {
	for _, row := range u.rows {
		if row.Email != "" && strings.EqualFold(row.Email, email) {
			return copyUser(row), nil
		}
	}
	return nil, db.ErrNotFound
}

func (u *memUsers) Register(_ context.Context, username, passwordHash, email, ip string) (*db.UserRow, error) {
	u.nextID++
	row := &db.UserRow{
		ID:           u.nextID,
		Username:     username,
		Password:     passwordHash,
		Email:        email,
		Access:       "agreement",
		RegisterDate: time.Now(),
		LastIP:       ip,
	}
	u.rows[row.ID] = row
	return copyUser(row), nil
}

func (u *memUsers) Save(_ context.Context, in *db.UserRow) error {
	row, ok := u.rows[in.ID]
	if !ok {
		return db.ErrNotFound
	}
	row.Email = in.Email
	row.Access = in.Access
	row.Bot = in.Bot
	row.Verified = in.Verified
	row.IngameTime = in.IngameTime
	row.LastLogin = in.LastLogin
	row.LastIP = in.LastIP
	row.LastAgent = in.LastAgent
	row.LastSysID = in.LastSysID
	row.LastMacID = in.LastMacID
	return nil
}

func (u *memUsers) SetPassword(_ context.Context, id int32, passwordHash string) error {
	row, ok := u.rows[id]
	if !ok {
		return db.ErrNotFound
	}
	row.Password = passwordHash
	return nil
}

func (u *memUsers) SetAccess(_ context.Context, id int32, access string, bot bool) error {
	row, ok := u.rows[id]
	if !ok {
		return db.ErrNotFound
	}
	row.Access = access
	row.Bot = bot
	return nil
}

func (u *memUsers) Rename(_ context.Context, id int32, _, newName string) error {
	row, ok := u.rows[id]
	if !ok {
		return db.ErrNotFound
	}
	row.Username = newName
	return nil
}

func (u *memUsers) AppendLogin(_ context.Context, id int32, rec db.LoginRecord) error {
	row, ok := u.rows[id]
	if !ok {
		return db.ErrNotFound
	}
	u.logins = append(u.logins, rec)
	row.LastLogin = time.Now()
	row.LastIP = rec.IP
	row.LastAgent = rec.Agent
	row.LastSysID = rec.SysID
	row.LastMacID = rec.MacID
	return nil
}

func (u *memUsers) EndSession(_ context.Context, id int32, ingame time.Duration) error {
	row, ok := u.rows[id]
	if !ok {
		return db.ErrNotFound
	}
	u.endSessions = append(u.endSessions, ingame)
	row.IngameTime += int64(ingame.Seconds())
	return nil
}

func (u *memUsers) AddIgnore(_ context.Context, userID, ignoredID int32, reason string) error {
	m, ok := u.ignores[userID]
	if !ok {
		m = make(map[int32]string)
		u.ignores[userID] = m
	}
	m[ignoredID] = reason
	return nil
}

func (u *memUsers) RemoveIgnore(_ context.Context, userID, ignoredID int32) error {
	delete(u.ignores[userID], ignoredID)
	return nil
}

func (u *memUsers) ListIgnores(_ context.Context, userID int32) ([]db.IgnoreRow, error) {
	var out []db.IgnoreRow
	for id, reason := range u.ignores[userID] {
		out = append(out, db.IgnoreRow{Username: u.username(id), Reason: reason})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (u *memUsers) AddFriend(_ context.Context, a, b int32) error {
	for _, pair := range [][2]int32{{a, b}, {b, a}} {
		m, ok := u.friends[pair[0]]
		if !ok {
			m = make(map[int32]struct{})
			u.friends[pair[0]] = m
		}
		m[pair[1]] = struct{}{}
	}
	return nil
}

func (u *memUsers) RemoveFriend(_ context.Context, a, b int32) error {
	delete(u.friends[a], b)
	delete(u.friends[b], a)
	return nil
}

func (u *memUsers) ListFriends(_ context.Context, userID int32) ([]string, error) {
	var out []string
	for id := range u.friends[userID] {
		out = append(out, u.username(id))
	}
	sort.Strings(out)
	return out, nil
}

func (u *memUsers) AddFriendRequest(_ context.Context, fromID, toID int32, msg string) error {
	m, ok := u.requests[toID]
	if !ok {
		m = make(map[int32]string)
		u.requests[toID] = m
	}
	m[fromID] = msg
	return nil
}

func (u *memUsers) RemoveFriendRequest(_ context.Context, fromID, toID int32) error {
	delete(u.requests[toID], fromID)
	return nil
}

func (u *memUsers) ListFriendRequests(_ context.Context, toID int32) ([]db.FriendRequestRow, error) {
	var out []db.FriendRequestRow
	for fromID, msg := range u.requests[toID] {
		out = append(out, db.FriendRequestRow{Username: u.username(fromID), Msg: msg})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (u *memUsers) Clean(_ context.Context, _ time.Time) (db.UserCleanStats, error) {
	return db.UserCleanStats{}, nil
}

func (u *memUsers) AuditAccess(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

// memChannels

type memChannels struct {
	users *memUsers

	nextID int32
	rows   map[int32]*db.ChannelRow

	ops      map[int32]map[int32]struct{}
	mutes    map[int32][]db.ChannelPenaltyRow
	bans     map[int32][]db.ChannelPenaltyRow
	forwards []db.ForwardRow

	nextHistID int64
	history    map[int32][]db.HistoryRow
}

func (c *memChannels) All(_ context.Context) ([]db.ChannelRow, error) {
	out := make([]db.ChannelRow, 0, len(c.rows))
	for _, row := range c.rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *memChannels) FindByName(_ context.Context, name string) (*db.ChannelRow, error) {
	for _, row := range c.rows {
		if row.Name == name {
			cp := *row
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func (c *memChannels) Register(_ context.Context, name string, founderID int32) (*db.ChannelRow, error) {
	founder := c.users.username(founderID)
	if founder == "" {
		return nil, fmt.Errorf("registering channel %q: no such founder %d", name, founderID)
	}
	c.nextID++
	row := &db.ChannelRow{
		ID:          c.nextID,
		Name:        name,
		FounderID:   founderID,
		FounderName: founder,
		TopicTime:   time.Now(),
		Antispam:    true,
		Spam:        db.DefaultAntispamSettings(),
		LastUsed:    time.Now(),
	}
	c.rows[row.ID] = row
	cp := *row
	return &cp, nil
}

func (c *memChannels) Unregister(_ context.Context, id int32) error {
	delete(c.rows, id)
	delete(c.ops, id)
	delete(c.mutes, id)
	delete(c.bans, id)
	delete(c.history, id)
	kept := c.forwards[:0]
	for _, fw := range c.forwards {
		if fw.SourceID != id && fw.TargetID != id {
			kept = append(kept, fw)
		}
	}
	c.forwards = kept
	return nil
}

func (c *memChannels) row(id int32) (*db.ChannelRow, error) {
	row, ok := c.rows[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return row, nil
}

func (c *memChannels) SetTopic(_ context.Context, id int32, topic, setter string) error {
	row, err := c.row(id)
	if err != nil {
		return err
	}
	row.Topic = topic
	row.TopicSetter = setter
	row.TopicTime = time.Now()
	return nil
}

func (c *memChannels) SetKey(_ context.Context, id int32, key string) error {
	row, err := c.row(id)
	if err != nil {
		return err
	}
	row.Key = key
	return nil
}

func (c *memChannels) SetFounder(_ context.Context, id, founderID int32) error {
	row, err := c.row(id)
	if err != nil {
		return err
	}
	row.FounderID = founderID
	row.FounderName = c.users.username(founderID)
	return nil
}

func (c *memChannels) SetAntispam(_ context.Context, id int32, enabled bool) error {
	row, err := c.row(id)
	if err != nil {
		return err
	}
	row.Antispam = enabled
	return nil
}

func (c *memChannels) SetAntispamSettings(_ context.Context, id int32, s db.AntispamSettings) error {
	row, err := c.row(id)
	if err != nil {
		return err
	}
	row.Spam = s
	return nil
}

func (c *memChannels) SetHistory(_ context.Context, id int32, enabled bool) error {
	row, err := c.row(id)
	if err != nil {
		return err
	}
	row.StoreHistory = enabled
	return nil
}

func (c *memChannels) RecordUse(_ context.Context, id int32) error {
	row, err := c.row(id)
	if err != nil {
		return err
	}
	row.LastUsed = time.Now()
	return nil
}

func (c *memChannels) Ops(_ context.Context, id int32) ([]db.ChannelUserRef, error) {
	var out []db.ChannelUserRef
	for userID := range c.ops[id] {
		out = append(out, db.ChannelUserRef{UserID: userID, Username: c.users.username(userID)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (c *memChannels) AddOp(_ context.Context, chanID, userID int32) error {
	m, ok := c.ops[chanID]
	if !ok {
		m = make(map[int32]struct{})
		c.ops[chanID] = m
	}
	m[userID] = struct{}{}
	return nil
}

func (c *memChannels) RemoveOp(_ context.Context, chanID, userID int32) error {
	delete(c.ops[chanID], userID)
	return nil
}

func penaltyRows(rows []db.ChannelPenaltyRow) []db.ChannelPenaltyRow {
	out := make([]db.ChannelPenaltyRow, len(rows))
	copy(out, rows)
	return out
}

func upsertPenalty(rows []db.ChannelPenaltyRow, p db.ChannelPenaltyRow) []db.ChannelPenaltyRow {
	for i, row := range rows {
		if row.UserID == p.UserID {
			rows[i] = p
			return rows
		}
	}
	return append(rows, p)
}

func dropPenalty(rows []db.ChannelPenaltyRow, userID int32) []db.ChannelPenaltyRow {
	kept := rows[:0]
	for _, row := range rows {
		if row.UserID != userID {
			kept = append(kept, row)
		}
	}
	return kept
}

func (c *memChannels) Mutes(_ context.Context, chanID int32) ([]db.ChannelPenaltyRow, error) {
	return penaltyRows(c.mutes[chanID]), nil
}

func (c *memChannels) AddMute(_ context.Context, chanID int32, p db.ChannelPenaltyRow) error {
	c.mutes[chanID] = upsertPenalty(c.mutes[chanID], p)
	return nil
}

func (c *memChannels) RemoveMute(_ context.Context, chanID, userID int32) error {
	c.mutes[chanID] = dropPenalty(c.mutes[chanID], userID)
	return nil
}

func (c *memChannels) Bans(_ context.Context, chanID int32) ([]db.ChannelPenaltyRow, error) {
	return penaltyRows(c.bans[chanID]), nil
}

func (c *memChannels) AddBan(_ context.Context, chanID int32, p db.ChannelPenaltyRow) error {
	c.bans[chanID] = upsertPenalty(c.bans[chanID], p)
	return nil
}

func (c *memChannels) RemoveBan(_ context.Context, chanID, userID int32) error {
	c.bans[chanID] = dropPenalty(c.bans[chanID], userID)
	return nil
}

func (c *memChannels) Forwards(_ context.Context) ([]db.ForwardRow, error) {
	out := make([]db.ForwardRow, len(c.forwards))
	copy(out, c.forwards)
	return out, nil
}

func (c *memChannels) AddForward(_ context.Context, sourceID, targetID, _ int32) error {
	src, err := c.row(sourceID)
	if err != nil {
		return err
	}
	dst, err := c.row(targetID)
	if err != nil {
		return err
	}
	c.forwards = append(c.forwards, db.ForwardRow{
		SourceID: sourceID, SourceName: src.Name,
		TargetID: targetID, TargetName: dst.Name,
	})
	return nil
}

func (c *memChannels) RemoveForward(_ context.Context, sourceID, targetID int32) error {
	kept := c.forwards[:0]
	for _, fw := range c.forwards {
		if fw.SourceID != sourceID || fw.TargetID != targetID {
			kept = append(kept, fw)
		}
	}
	c.forwards = kept
	return nil
}

func (c *memChannels) AppendHistory(_ context.Context, chanID int32, author, msg string, ex bool) (int64, error) {
	c.nextHistID++
	c.history[chanID] = append(c.history[chanID], db.HistoryRow{
		ID: c.nextHistID, Author: author, Msg: msg, Ex: ex, Time: time.Now(),
	})
	return c.nextHistID, nil
}

func (c *memChannels) HistoryAfter(_ context.Context, chanID int32, afterID int64, limit int) ([]db.HistoryRow, error) {
	var out []db.HistoryRow
	for _, row := range c.history[chanID] {
		if row.ID > afterID {
			out = append(out, row)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (c *memChannels) HistorySince(_ context.Context, chanID int32, since time.Time, limit int) ([]db.HistoryRow, error) {
	var out []db.HistoryRow
	for _, row := range c.history[chanID] {
		if row.Time.After(since) {
			out = append(out, row)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (c *memChannels) Clean(_ context.Context, _ time.Time) (db.ChannelCleanStats, error) {
	return db.ChannelCleanStats{}, nil
}

// memBans

type memBans struct {
	users *memUsers

	nextID    int32
	rows      []db.BanRow
	blacklist map[string]struct{}
}

func (b *memBans) active(row db.BanRow, now time.Time) bool {
	return row.EndDate.IsZero() || row.EndDate.After(now)
}

func (b *memBans) Check(_ context.Context, userID int32, ip, email string) (*db.BanRow, error) {
	now := time.Now()
	for _, row := range b.rows {
		if !b.active(row, now) {
			continue
		}
		if (userID != 0 && row.UserID == userID) ||
			(ip != "" && row.IP == ip) ||
			(email != "" && strings.EqualFold(row.Email, email)) {
			cp := row
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func (b *memBans) Add(_ context.Context, issuerID, userID int32, ip, email, reason string, duration time.Duration) error {
	b.nextID++
	row := db.BanRow{
		ID:         b.nextID,
		IssuerName: b.users.username(issuerID),
		UserID:     userID,
		Username:   b.users.username(userID),
		IP:         ip,
		Email:      email,
		Reason:     reason,
		StartDate:  time.Now(),
	}
	if duration > 0 {
		row.EndDate = time.Now().Add(duration)
	}
	b.rows = append(b.rows, row)
	return nil
}

func (b *memBans) removeMatching(match func(db.BanRow) bool) int64 {
	var removed int64
	kept := b.rows[:0]
	for _, row := range b.rows {
		if match(row) {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	b.rows = kept
	return removed
}

func (b *memBans) RemoveByUser(_ context.Context, userID int32) (int64, error) {
	return b.removeMatching(func(row db.BanRow) bool { return row.UserID == userID }), nil
}

func (b *memBans) RemoveByIP(_ context.Context, ip string) (int64, error) {
	return b.removeMatching(func(row db.BanRow) bool { return row.IP == ip }), nil
}

func (b *memBans) RemoveByEmail(_ context.Context, email string) (int64, error) {
	return b.removeMatching(func(row db.BanRow) bool { return strings.EqualFold(row.Email, email) }), nil
}

func (b *memBans) List(_ context.Context) ([]db.BanRow, error) {
	now := time.Now()
	var out []db.BanRow
	for _, row := range b.rows {
		if b.active(row, now) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (b *memBans) Clean(_ context.Context, now time.Time) (int64, error) {
	return b.removeMatching(func(row db.BanRow) bool {
		return !row.EndDate.IsZero() && row.EndDate.Before(now)
	}), nil
}

func (b *memBans) IsDomainBlacklisted(_ context.Context, domain string) (bool, error) {
	_, ok := b.blacklist[strings.ToLower(domain)]
	return ok, nil
}

func (b *memBans) BlacklistDomain(_ context.Context, domain string) error {
	b.blacklist[strings.ToLower(domain)] = struct{}{}
	return nil
}

func (b *memBans) UnblacklistDomain(_ context.Context, domain string) error {
	delete(b.blacklist, strings.ToLower(domain))
	return nil
}

// memVerifs

type memVerifs struct {
	nextID   int64
	nextCode int
	rows     []*db.VerificationRow
}

func (v *memVerifs) Create(_ context.Context, userID int32, email, purpose string) (string, error) {
	kept := v.rows[:0]
	for _, row := range v.rows {
		if row.UserID != userID || row.Purpose != purpose {
			kept = append(kept, row)
		}
	}
	v.rows = kept

	v.nextID++
	v.nextCode++
	row := &db.VerificationRow{
		ID:      v.nextID,
		UserID:  userID,
		Email:   email,
		Code:    fmt.Sprintf("%06d", 100000+v.nextCode),
		Purpose: purpose,
		Expiry:  time.Now().Add(48 * time.Hour),
	}
	v.rows = append(v.rows, row)
	return row.Code, nil
}

func (v *memVerifs) Pending(_ context.Context, userID int32, purpose string) (*db.VerificationRow, error) {
	for _, row := range v.rows {
		if row.UserID == userID && row.Purpose == purpose {
			cp := *row
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func (v *memVerifs) PendingByEmail(_ context.Context, email, purpose string) (*db.VerificationRow, error) {
	for i := len(v.rows) - 1; i >= 0; i-- {
		row := v.rows[i]
		if strings.EqualFold(row.Email, email) && row.Purpose == purpose {
			cp := *row
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func (v *memVerifs) Resend(_ context.Context, userID int32, purpose string) (*db.VerificationRow, error) {
	for _, row := range v.rows {
		if row.UserID == userID && row.Purpose == purpose {
			if row.Resends >= 3 {
				return nil, db.ErrTooManyResends
			}
			row.Resends++
			cp := *row
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func (v *memVerifs) Consume(_ context.Context, in *db.VerificationRow, code string) error {
	var row *db.VerificationRow
	idx := -1
	for i, r := range v.rows {
		if r.ID == in.ID {
			row, idx = r, i
			break
		}
	}
	if row == nil {
		return db.ErrNotFound
	}
	if time.Now().After(row.Expiry) {
		return db.ErrCodeExpired
	}
	if row.Attempts >= 3 {
		return db.ErrTooManyAttempts
	}
	if row.Code != code {
		row.Attempts++
		if row.Attempts >= 3 {
			return db.ErrTooManyAttempts
		}
		return db.ErrCodeMismatch
	}
	v.rows = append(v.rows[:idx], v.rows[idx+1:]...)
	return nil
}

func (v *memVerifs) Clean(_ context.Context, now time.Time) (int64, error) {
	var removed int64
	kept := v.rows[:0]
	for _, row := range v.rows {
		if row.Expiry.Before(now) {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	v.rows = kept
	return removed, nil
}
