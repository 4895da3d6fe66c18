package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AntispamSettings are the per-channel spam-scorer knobs.
type AntispamSettings struct {
	Timeout        int
	Aggressiveness int
	BonusLength    int
	Duration       int
	Quiet          bool
}

// DefaultAntispamSettings mirrors the column defaults.
func DefaultAntispamSettings() AntispamSettings {
	return AntispamSettings{Timeout: 10, Aggressiveness: 5, BonusLength: 50, Duration: 30, Quiet: false}
}

// ChannelRow represents a registered channel.
type ChannelRow struct {
	ID           int32
	Name         string
	FounderID    int32
	FounderName  string
	Key          string
	Topic        string
	TopicSetter  string
	TopicTime    time.Time
	Antispam     bool
	Spam         AntispamSettings
	StoreHistory bool
	LastUsed     time.Time
}

// ChannelUserRef names a user attached to a channel (op list).
type ChannelUserRef struct {
	UserID   int32
	Username string
}

// ChannelPenaltyRow is one mute or ban entry. A zero Expires means
// indefinite.
type ChannelPenaltyRow struct {
	UserID   int32
	Username string
	IssuerID int32
	Reason   string
	Expires  time.Time
}

// ForwardRow is one join-forwarding edge between registered channels.
type ForwardRow struct {
	SourceID   int32
	SourceName string
	TargetID   int32
	TargetName string
}

// HistoryRow is one stored channel message.
type HistoryRow struct {
	ID     int64
	Author string
	Msg    string
	Ex     bool
	Time   time.Time
}

// ChannelCleanStats reports what the daily channel cleanup removed.
type ChannelCleanStats struct {
	ExpiredMutes int64
	ExpiredBans  int64
	OldHistory   int64
	IdleChannels int64
}

const channelColumns = `c.id, c.name, c.founder_id, u.username, c.key, c.topic, c.topic_setter,
	c.topic_time, c.antispam, c.antispam_timeout, c.antispam_aggressiveness,
	c.antispam_bonuslength, c.antispam_duration, c.antispam_quiet, c.store_history, c.last_used`

// ChannelRepository manages registered channels and their moderation state.
type ChannelRepository struct {
	db *pgxpool.Pool
}

// NewChannelRepository creates a new ChannelRepository.
func NewChannelRepository(db *pgxpool.Pool) *ChannelRepository {
	return &ChannelRepository{db: db}
}

func scanChannel(row pgx.Row) (*ChannelRow, error) {
	var c ChannelRow
	err := row.Scan(&c.ID, &c.Name, &c.FounderID, &c.FounderName, &c.Key, &c.Topic, &c.TopicSetter,
		&c.TopicTime, &c.Antispam, &c.Spam.Timeout, &c.Spam.Aggressiveness,
		&c.Spam.BonusLength, &c.Spam.Duration, &c.Spam.Quiet, &c.StoreHistory, &c.LastUsed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning channel row: %w", err)
	}
	return &c, nil
}

// All returns every registered channel, for boot-time reload.
func (r *ChannelRepository) All(ctx context.Context) ([]ChannelRow, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+channelColumns+` FROM channels c JOIN users u ON u.id = c.founder_id ORDER BY c.name`)
	if err != nil {
		return nil, fmt.Errorf("querying channels: %w", err)
	}
	defer rows.Close()

	var result []ChannelRow
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating channel rows: %w", err)
	}
	return result, nil
}

// FindByName looks a registered channel up by name.
func (r *ChannelRepository) FindByName(ctx context.Context, name string) (*ChannelRow, error) {
	return scanChannel(r.db.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM channels c JOIN users u ON u.id = c.founder_id WHERE c.name = $1`,
		name))
}

// Register persists a channel with the given founder.
func (r *ChannelRepository) Register(ctx context.Context, name string, founderID int32) (*ChannelRow, error) {
	c, err := scanChannel(r.db.QueryRow(ctx,
		`WITH ins AS (
		   INSERT INTO channels (name, founder_id) VALUES ($1, $2) RETURNING *
		 )
		 SELECT `+channelColumns+` FROM ins c JOIN users u ON u.id = c.founder_id`,
		name, founderID))
	if err != nil {
		return nil, fmt.Errorf("registering channel %q: %w", name, err)
	}
	slog.Info("registered channel", "channel", name, "founder", founderID)
	return c, nil
}

// Unregister deletes a channel and, via cascade, its moderation rows.
func (r *ChannelRepository) Unregister(ctx context.Context, id int32) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM channels WHERE id = $1`, id); err != nil {
		return fmt.Errorf("unregistering channel %d: %w", id, err)
	}
	return nil
}

// SetTopic stores the topic with its setter; the timestamp is refreshed.
func (r *ChannelRepository) SetTopic(ctx context.Context, id int32, topic, setter string) error {
	if _, err := r.db.Exec(ctx,
		`UPDATE channels SET topic = $2, topic_setter = $3, topic_time = now() WHERE id = $1`,
		id, topic, setter); err != nil {
		return fmt.Errorf("setting topic for channel %d: %w", id, err)
	}
	return nil
}

// SetKey stores the lock key; empty unlocks.
func (r *ChannelRepository) SetKey(ctx context.Context, id int32, key string) error {
	if _, err := r.db.Exec(ctx,
		`UPDATE channels SET key = $2 WHERE id = $1`, id, key); err != nil {
		return fmt.Errorf("setting key for channel %d: %w", id, err)
	}
	return nil
}

// SetFounder transfers channel ownership.
func (r *ChannelRepository) SetFounder(ctx context.Context, id, founderID int32) error {
	if _, err := r.db.Exec(ctx,
		`UPDATE channels SET founder_id = $2 WHERE id = $1`, id, founderID); err != nil {
		return fmt.Errorf("setting founder for channel %d: %w", id, err)
	}
	return nil
}

// SetAntispam toggles the spam scorer.
func (r *ChannelRepository) SetAntispam(ctx context.Context, id int32, enabled bool) error {
	if _, err := r.db.Exec(ctx,
		`UPDATE channels SET antispam = $2 WHERE id = $1`, id, enabled); err != nil {
		return fmt.Errorf("setting antispam for channel %d: %w", id, err)
	}
	return nil
}

// SetAntispamSettings stores the scorer knobs.
func (r *ChannelRepository) SetAntispamSettings(ctx context.Context, id int32, s AntispamSettings) error {
	if _, err := r.db.Exec(ctx,
		`UPDATE channels SET antispam_timeout = $2, antispam_aggressiveness = $3,
		   antispam_bonuslength = $4, antispam_duration = $5, antispam_quiet = $6
		 WHERE id = $1`,
		id, s.Timeout, s.Aggressiveness, s.BonusLength, s.Duration, s.Quiet); err != nil {
		return fmt.Errorf("setting antispam settings for channel %d: %w", id, err)
	}
	return nil
}

// SetHistory toggles message history storage.
func (r *ChannelRepository) SetHistory(ctx context.Context, id int32, enabled bool) error {
	if _, err := r.db.Exec(ctx,
		`UPDATE channels SET store_history = $2 WHERE id = $1`, id, enabled); err != nil {
		return fmt.Errorf("setting history for channel %d: %w", id, err)
	}
	return nil
}

// RecordUse refreshes last_used so the idle-channel cleanup spares it.
func (r *ChannelRepository) RecordUse(ctx context.Context, id int32) error {
	if _, err := r.db.Exec(ctx,
		`UPDATE channels SET last_used = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("recording use of channel %d: %w", id, err)
	}
	return nil
}

// Ops returns the channel's operator list.
func (r *ChannelRepository) Ops(ctx context.Context, id int32) ([]ChannelUserRef, error) {
	rows, err := r.db.Query(ctx,
		`SELECT o.user_id, u.username FROM channel_ops o JOIN users u ON u.id = o.user_id
		 WHERE o.channel_id = $1 ORDER BY u.username`, id)
	if err != nil {
		return nil, fmt.Errorf("querying ops for channel %d: %w", id, err)
	}
	defer rows.Close()

	var result []ChannelUserRef
	for rows.Next() {
		var ref ChannelUserRef
		if err := rows.Scan(&ref.UserID, &ref.Username); err != nil {
			return nil, fmt.Errorf("scanning op row: %w", err)
		}
		result = append(result, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating op rows: %w", err)
	}
	return result, nil
}

// AddOp grants operator status.
func (r *ChannelRepository) AddOp(ctx context.Context, chanID, userID int32) error {
	if _, err := r.db.Exec(ctx,
		`INSERT INTO channel_ops (channel_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		chanID, userID); err != nil {
		return fmt.Errorf("adding op %d to channel %d: %w", userID, chanID, err)
	}
	return nil
}

// RemoveOp revokes operator status.
func (r *ChannelRepository) RemoveOp(ctx context.Context, chanID, userID int32) error {
	if _, err := r.db.Exec(ctx,
		`DELETE FROM channel_ops WHERE channel_id = $1 AND user_id = $2`,
		chanID, userID); err != nil {
		return fmt.Errorf("removing op %d from channel %d: %w", userID, chanID, err)
	}
	return nil
}

func (r *ChannelRepository) penalties(ctx context.Context, table string, chanID int32) ([]ChannelPenaltyRow, error) {
	rows, err := r.db.Query(ctx,
		`SELECT p.user_id, u.username, p.issuer_id, p.reason, p.expires
		 FROM `+table+` p JOIN users u ON u.id = p.user_id
		 WHERE p.channel_id = $1 ORDER BY u.username`, chanID)
	if err != nil {
		return nil, fmt.Errorf("querying %s for channel %d: %w", table, chanID, err)
	}
	defer rows.Close()

	var result []ChannelPenaltyRow
	for rows.Next() {
		var p ChannelPenaltyRow
		var expires *time.Time
		if err := rows.Scan(&p.UserID, &p.Username, &p.IssuerID, &p.Reason, &expires); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", table, err)
		}
		if expires != nil {
			p.Expires = *expires
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s rows: %w", table, err)
	}
	return result, nil
}

func (r *ChannelRepository) addPenalty(ctx context.Context, table string, chanID int32, p ChannelPenaltyRow) error {
	var expires any
	if !p.Expires.IsZero() {
		expires = p.Expires
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO `+table+` (channel_id, user_id, issuer_id, reason, expires)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (channel_id, user_id)
		 DO UPDATE SET issuer_id = EXCLUDED.issuer_id, reason = EXCLUDED.reason, expires = EXCLUDED.expires`,
		chanID, p.UserID, p.IssuerID, p.Reason, expires)
	if err != nil {
		return fmt.Errorf("adding %s entry for channel %d: %w", table, chanID, err)
	}
	return nil
}

func (r *ChannelRepository) removePenalty(ctx context.Context, table string, chanID, userID int32) error {
	if _, err := r.db.Exec(ctx,
		`DELETE FROM `+table+` WHERE channel_id = $1 AND user_id = $2`,
		chanID, userID); err != nil {
		return fmt.Errorf("removing %s entry for channel %d: %w", table, chanID, err)
	}
	return nil
}

// Mutes returns the channel's persisted mute list.
func (r *ChannelRepository) Mutes(ctx context.Context, chanID int32) ([]ChannelPenaltyRow, error) {
	return r.penalties(ctx, "channel_mutes", chanID)
}

// AddMute persists a mute entry.
func (r *ChannelRepository) AddMute(ctx context.Context, chanID int32, p ChannelPenaltyRow) error {
	return r.addPenalty(ctx, "channel_mutes", chanID, p)
}

// RemoveMute deletes a mute entry.
func (r *ChannelRepository) RemoveMute(ctx context.Context, chanID, userID int32) error {
	return r.removePenalty(ctx, "channel_mutes", chanID, userID)
}

// Bans returns the channel's persisted ban list.
func (r *ChannelRepository) Bans(ctx context.Context, chanID int32) ([]ChannelPenaltyRow, error) {
	return r.penalties(ctx, "channel_bans", chanID)
}

// AddBan persists a ban entry.
func (r *ChannelRepository) AddBan(ctx context.Context, chanID int32, p ChannelPenaltyRow) error {
	return r.addPenalty(ctx, "channel_bans", chanID, p)
}

// RemoveBan deletes a ban entry.
func (r *ChannelRepository) RemoveBan(ctx context.Context, chanID, userID int32) error {
	return r.removePenalty(ctx, "channel_bans", chanID, userID)
}

// Forwards returns every forwarding edge, for boot-time reload.
func (r *ChannelRepository) Forwards(ctx context.Context) ([]ForwardRow, error) {
	rows, err := r.db.Query(ctx,
		`SELECT f.source_id, s.name, f.target_id, t.name
		 FROM channel_forwards f
		 JOIN channels s ON s.id = f.source_id
		 JOIN channels t ON t.id = f.target_id
		 ORDER BY s.name, t.name`)
	if err != nil {
		return nil, fmt.Errorf("querying channel forwards: %w", err)
	}
	defer rows.Close()

	var result []ForwardRow
	for rows.Next() {
		var f ForwardRow
		if err := rows.Scan(&f.SourceID, &f.SourceName, &f.TargetID, &f.TargetName); err != nil {
			return nil, fmt.Errorf("scanning forward row: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating forward rows: %w", err)
	}
	return result, nil
}

// AddForward creates a forwarding edge.
func (r *ChannelRepository) AddForward(ctx context.Context, sourceID, targetID, issuerID int32) error {
	if _, err := r.db.Exec(ctx,
		`INSERT INTO channel_forwards (source_id, target_id, issuer_id) VALUES ($1, $2, $3)
		 ON CONFLICT DO NOTHING`, sourceID, targetID, issuerID); err != nil {
		return fmt.Errorf("adding forward %d -> %d: %w", sourceID, targetID, err)
	}
	return nil
}

// RemoveForward deletes a forwarding edge.
func (r *ChannelRepository) RemoveForward(ctx context.Context, sourceID, targetID int32) error {
	if _, err := r.db.Exec(ctx,
		`DELETE FROM channel_forwards WHERE source_id = $1 AND target_id = $2`,
		sourceID, targetID); err != nil {
		return fmt.Errorf("removing forward %d -> %d: %w", sourceID, targetID, err)
	}
	return nil
}

// AppendHistory stores one channel message and returns its id.
func (r *ChannelRepository) AppendHistory(ctx context.Context, chanID int32, author, msg string, ex bool) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO channel_history (channel_id, author, msg, ex_msg) VALUES ($1, $2, $3, $4)
		 RETURNING id`, chanID, author, msg, ex).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("appending history for channel %d: %w", chanID, err)
	}
	return id, nil
}

func (r *ChannelRepository) scanHistory(rows pgx.Rows) ([]HistoryRow, error) {
	defer rows.Close()
	var result []HistoryRow
	for rows.Next() {
		var h HistoryRow
		if err := rows.Scan(&h.ID, &h.Author, &h.Msg, &h.Ex, &h.Time); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		result = append(result, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history rows: %w", err)
	}
	return result, nil
}

// HistoryAfter returns up to limit messages with id greater than afterID.
func (r *ChannelRepository) HistoryAfter(ctx context.Context, chanID int32, afterID int64, limit int) ([]HistoryRow, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, author, msg, ex_msg, time FROM channel_history
		 WHERE channel_id = $1 AND id > $2 ORDER BY id LIMIT $3`,
		chanID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history for channel %d: %w", chanID, err)
	}
	return r.scanHistory(rows)
}

// HistorySince returns up to limit messages newer than the given time.
func (r *ChannelRepository) HistorySince(ctx context.Context, chanID int32, since time.Time, limit int) ([]HistoryRow, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, author, msg, ex_msg, time FROM channel_history
		 WHERE channel_id = $1 AND time > $2 ORDER BY id LIMIT $3`,
		chanID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history for channel %d: %w", chanID, err)
	}
	return r.scanHistory(rows)
}

// Clean prunes expired mutes/bans, two-week-old history, and channels whose
// last use is more than 180 days back.
func (r *ChannelRepository) Clean(ctx context.Context, now time.Time) (ChannelCleanStats, error) {
	var stats ChannelCleanStats

	tag, err := r.db.Exec(ctx,
		`DELETE FROM channel_mutes WHERE expires IS NOT NULL AND expires < $1`, now)
	if err != nil {
		return stats, fmt.Errorf("pruning expired channel mutes: %w", err)
	}
	stats.ExpiredMutes = tag.RowsAffected()

	tag, err = r.db.Exec(ctx,
		`DELETE FROM channel_bans WHERE expires IS NOT NULL AND expires < $1`, now)
	if err != nil {
		return stats, fmt.Errorf("pruning expired channel bans: %w", err)
	}
	stats.ExpiredBans = tag.RowsAffected()

	tag, err = r.db.Exec(ctx,
		`DELETE FROM channel_history WHERE time < $1`, now.Add(-14*24*time.Hour))
	if err != nil {
		return stats, fmt.Errorf("pruning old channel history: %w", err)
	}
	stats.OldHistory = tag.RowsAffected()

	tag, err = r.db.Exec(ctx,
		`DELETE FROM channels WHERE last_used < $1`, now.Add(-180*24*time.Hour))
	if err != nil {
		return stats, fmt.Errorf("pruning idle channels: %w", err)
	}
	stats.IdleChannels = tag.RowsAffected()

	return stats, nil
}
