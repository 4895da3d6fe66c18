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

// UserRow represents a row in the users table.
type UserRow struct {
	ID           int32
	Username     string
	Password     string // at-rest hash, see lobby password scheme
	Email        string // empty when unset
	Access       string // agreement, fresh, user, mod, admin
	Bot          bool
	Verified     bool
	IngameTime   int64 // seconds
	RegisterDate time.Time
	LastLogin    time.Time
	LastIP       string
	LastAgent    string
	LastSysID    string
	LastMacID    string
}

// LoginRecord captures one successful login for the logins audit table.
type LoginRecord struct {
	IP      string
	LocalIP string
	Agent   string
	SysID   string
	MacID   string
	Country string
}

// IgnoreRow is one entry of a user's ignore list.
type IgnoreRow struct {
	Username string
	Reason   string
}

// FriendRequestRow is one pending incoming friend request.
type FriendRequestRow struct {
	Username string
	Msg      string
}

// UserCleanStats reports what the daily user cleanup removed.
type UserCleanStats struct {
	UnconfirmedAccounts int64
	NeverPlayedAccounts int64
	AncientAccounts     int64
}

const userColumns = `id, username, password, COALESCE(email, ''), access, bot, verified,
	ingame_time, register_date, last_login, last_ip, last_agent, last_sys_id, last_mac_id`

// UserRepository manages users and their child rows (logins, renames,
// ignores, friends, friend requests).
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) scanUser(row pgx.Row) (*UserRow, error) {
	var u UserRow
	err := row.Scan(&u.ID, &u.Username, &u.Password, &u.Email, &u.Access, &u.Bot, &u.Verified,
		&u.IngameTime, &u.RegisterDate, &u.LastLogin, &u.LastIP, &u.LastAgent, &u.LastSysID, &u.LastMacID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning user row: %w", err)
	}
	return &u, nil
}

// FindByName looks a user up by exact username.
func (r *UserRepository) FindByName(ctx context.Context, username string) (*UserRow, error) {
	return r.scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

// FindByNameInsensitive looks a user up by username ignoring case. Used for
// collision checks and the "did you mean" login hint.
func (r *UserRepository) FindByNameInsensitive(ctx context.Context, username string) (*UserRow, error) {
	return r.scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(username) = lower($1)`, username))
}

// FindByID looks a user up by id.
func (r *UserRepository) FindByID(ctx context.Context, id int32) (*UserRow, error) {
	return r.scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// FindByEmail looks a user up by email ignoring case.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*UserRow, error) {
	return r.scanUser(r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

// Register inserts a new account with access=agreement and returns the row.
func (r *UserRepository) Register(ctx context.Context, username, passwordHash, email, ip string) (*UserRow, error) {
	u, err := r.scanUser(r.db.QueryRow(ctx,
		`INSERT INTO users (username, password, email, last_ip)
		 VALUES ($1, $2, NULLIF($3, ''), $4)
		 RETURNING `+userColumns,
		username, passwordHash, email, ip))
	if err != nil {
		return nil, fmt.Errorf("registering user %q: %w", username, err)
	}
	slog.Info("registered account", "user", username, "id", u.ID)
	return u, nil
}

// Save writes back the mutable fields of a user row.
func (r *UserRepository) Save(ctx context.Context, u *UserRow) error {
	_, err := r.db.Exec(ctx,
		`UPDATE users SET email = NULLIF($2, ''), access = $3, bot = $4, verified = $5,
		   ingame_time = $6, last_login = $7, last_ip = $8, last_agent = $9,
		   last_sys_id = $10, last_mac_id = $11
		 WHERE id = $1`,
		u.ID, u.Email, u.Access, u.Bot, u.Verified,
		u.IngameTime, u.LastLogin, u.LastIP, u.LastAgent, u.LastSysID, u.LastMacID,
	)
	if err != nil {
		return fmt.Errorf("saving user %d: %w", u.ID, err)
	}
	return nil
}

// SetPassword replaces the stored password hash.
func (r *UserRepository) SetPassword(ctx context.Context, id int32, passwordHash string) error {
	if _, err := r.db.Exec(ctx,
		`UPDATE users SET password = $2 WHERE id = $1`, id, passwordHash); err != nil {
		return fmt.Errorf("setting password for user %d: %w", id, err)
	}
	return nil
}

// SetAccess updates the access role and bot flag.
func (r *UserRepository) SetAccess(ctx context.Context, id int32, access string, bot bool) error {
	if _, err := r.db.Exec(ctx,
		`UPDATE users SET access = $2, bot = $3 WHERE id = $1`, id, access, bot); err != nil {
		return fmt.Errorf("setting access for user %d: %w", id, err)
	}
	return nil
}

// Rename changes the username and records the rename for audit.
func (r *UserRepository) Rename(ctx context.Context, id int32, oldName, newName string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning rename tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE users SET username = $2 WHERE id = $1`, id, newName); err != nil {
		return fmt.Errorf("renaming user %d: %w", id, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO renames (user_id, old_username, new_username) VALUES ($1, $2, $3)`,
		id, oldName, newName); err != nil {
		return fmt.Errorf("recording rename for user %d: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing rename for user %d: %w", id, err)
	}
	slog.Info("renamed account", "id", id, "old", oldName, "new", newName)
	return nil
}

// AppendLogin records a successful login and refreshes the user's last_*
// columns.
func (r *UserRepository) AppendLogin(ctx context.Context, id int32, rec LoginRecord) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning login tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO logins (user_id, ip, local_ip, agent, sys_id, mac_id, country)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, rec.IP, rec.LocalIP, rec.Agent, rec.SysID, rec.MacID, rec.Country); err != nil {
		return fmt.Errorf("inserting login row for user %d: %w", id, err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE users SET last_login = now(), last_ip = $2, last_agent = $3,
		   last_sys_id = $4, last_mac_id = $5
		 WHERE id = $1`,
		id, rec.IP, rec.Agent, rec.SysID, rec.MacID); err != nil {
		return fmt.Errorf("updating last login for user %d: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing login for user %d: %w", id, err)
	}
	return nil
}

// EndSession closes the user's open login row and credits in-game time.
func (r *UserRepository) EndSession(ctx context.Context, id int32, ingame time.Duration) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning end-session tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE logins SET end_time = now()
		 WHERE id = (SELECT id FROM logins WHERE user_id = $1 ORDER BY time DESC LIMIT 1)`,
		id); err != nil {
		return fmt.Errorf("closing login row for user %d: %w", id, err)
	}
	if secs := int64(ingame.Seconds()); secs > 0 {
		if _, err := tx.Exec(ctx,
			`UPDATE users SET ingame_time = ingame_time + $2 WHERE id = $1`, id, secs); err != nil {
			return fmt.Errorf("crediting ingame time for user %d: %w", id, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing end-session for user %d: %w", id, err)
	}
	return nil
}

// AddIgnore inserts or refreshes an ignore entry.
func (r *UserRepository) AddIgnore(ctx context.Context, userID, ignoredID int32, reason string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO ignores (user_id, ignored_user_id, reason) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, ignored_user_id) DO UPDATE SET reason = EXCLUDED.reason`,
		userID, ignoredID, reason)
	if err != nil {
		return fmt.Errorf("adding ignore %d -> %d: %w", userID, ignoredID, err)
	}
	return nil
}

// RemoveIgnore deletes an ignore entry.
func (r *UserRepository) RemoveIgnore(ctx context.Context, userID, ignoredID int32) error {
	if _, err := r.db.Exec(ctx,
		`DELETE FROM ignores WHERE user_id = $1 AND ignored_user_id = $2`,
		userID, ignoredID); err != nil {
		return fmt.Errorf("removing ignore %d -> %d: %w", userID, ignoredID, err)
	}
	return nil
}

// ListIgnores returns the usernames the user ignores, with reasons.
func (r *UserRepository) ListIgnores(ctx context.Context, userID int32) ([]IgnoreRow, error) {
	rows, err := r.db.Query(ctx,
		`SELECT u.username, i.reason
		 FROM ignores i JOIN users u ON u.id = i.ignored_user_id
		 WHERE i.user_id = $1 ORDER BY u.username`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying ignores for user %d: %w", userID, err)
	}
	defer rows.Close()

	var result []IgnoreRow
	for rows.Next() {
		var ig IgnoreRow
		if err := rows.Scan(&ig.Username, &ig.Reason); err != nil {
			return nil, fmt.Errorf("scanning ignore row: %w", err)
		}
		result = append(result, ig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ignore rows: %w", err)
	}
	return result, nil
}

// normalizePair orders a friend pair so each pair is stored once.
func normalizePair(a, b int32) (int32, int32) {
	if a > b {
		return b, a
	}
	return a, b
}

// AddFriend records a confirmed friendship (both directions).
func (r *UserRepository) AddFriend(ctx context.Context, a, b int32) error {
	first, second := normalizePair(a, b)
	_, err := r.db.Exec(ctx,
		`INSERT INTO friends (first_user_id, second_user_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`, first, second)
	if err != nil {
		return fmt.Errorf("adding friends %d,%d: %w", a, b, err)
	}
	return nil
}

// RemoveFriend dissolves a friendship.
func (r *UserRepository) RemoveFriend(ctx context.Context, a, b int32) error {
	first, second := normalizePair(a, b)
	if _, err := r.db.Exec(ctx,
		`DELETE FROM friends WHERE first_user_id = $1 AND second_user_id = $2`,
		first, second); err != nil {
		return fmt.Errorf("removing friends %d,%d: %w", a, b, err)
	}
	return nil
}

// ListFriends returns usernames of the user's friends.
func (r *UserRepository) ListFriends(ctx context.Context, userID int32) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT u.username FROM friends f
		 JOIN users u ON u.id = CASE WHEN f.first_user_id = $1 THEN f.second_user_id ELSE f.first_user_id END
		 WHERE f.first_user_id = $1 OR f.second_user_id = $1
		 ORDER BY u.username`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying friends for user %d: %w", userID, err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning friend row: %w", err)
		}
		result = append(result, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating friend rows: %w", err)
	}
	return result, nil
}

// AddFriendRequest stores a pending request unless one already exists.
func (r *UserRepository) AddFriendRequest(ctx context.Context, fromID, toID int32, msg string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO friend_requests (from_user_id, to_user_id, msg) VALUES ($1, $2, $3)
		 ON CONFLICT DO NOTHING`, fromID, toID, msg)
	if err != nil {
		return fmt.Errorf("adding friend request %d -> %d: %w", fromID, toID, err)
	}
	return nil
}

// RemoveFriendRequest drops a pending request in either direction.
func (r *UserRepository) RemoveFriendRequest(ctx context.Context, fromID, toID int32) error {
	if _, err := r.db.Exec(ctx,
		`DELETE FROM friend_requests WHERE from_user_id = $1 AND to_user_id = $2`,
		fromID, toID); err != nil {
		return fmt.Errorf("removing friend request %d -> %d: %w", fromID, toID, err)
	}
	return nil
}

// ListFriendRequests returns pending incoming requests for the user.
func (r *UserRepository) ListFriendRequests(ctx context.Context, toID int32) ([]FriendRequestRow, error) {
	rows, err := r.db.Query(ctx,
		`SELECT u.username, fr.msg
		 FROM friend_requests fr JOIN users u ON u.id = fr.from_user_id
		 WHERE fr.to_user_id = $1 ORDER BY fr.time`, toID)
	if err != nil {
		return nil, fmt.Errorf("querying friend requests for user %d: %w", toID, err)
	}
	defer rows.Close()

	var result []FriendRequestRow
	for rows.Next() {
		var fr FriendRequestRow
		if err := rows.Scan(&fr.Username, &fr.Msg); err != nil {
			return nil, fmt.Errorf("scanning friend request row: %w", err)
		}
		result = append(result, fr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating friend request rows: %w", err)
	}
	return result, nil
}

// Clean prunes stale accounts: agreement accounts older than three days,
// never-in-game accounts idle four weeks, and anything idle five years.
// Elevated and bot accounts are never pruned.
func (r *UserRepository) Clean(ctx context.Context, now time.Time) (UserCleanStats, error) {
	var stats UserCleanStats

	tag, err := r.db.Exec(ctx,
		`DELETE FROM users WHERE access = 'agreement' AND register_date < $1`,
		now.Add(-3*24*time.Hour))
	if err != nil {
		return stats, fmt.Errorf("pruning unconfirmed accounts: %w", err)
	}
	stats.UnconfirmedAccounts = tag.RowsAffected()

	tag, err = r.db.Exec(ctx,
		`DELETE FROM users
		 WHERE ingame_time = 0 AND last_login < $1
		   AND access NOT IN ('mod', 'admin') AND NOT bot`,
		now.Add(-28*24*time.Hour))
	if err != nil {
		return stats, fmt.Errorf("pruning never-played accounts: %w", err)
	}
	stats.NeverPlayedAccounts = tag.RowsAffected()

	tag, err = r.db.Exec(ctx,
		`DELETE FROM users
		 WHERE last_login < $1 AND access NOT IN ('mod', 'admin') AND NOT bot`,
		now.Add(-5*365*24*time.Hour))
	if err != nil {
		return stats, fmt.Errorf("pruning ancient accounts: %w", err)
	}
	stats.AncientAccounts = tag.RowsAffected()

	return stats, nil
}

// AuditAccess demotes mod/admin roles and bot flags unused for over a year.
// Returns the number of touched accounts.
func (r *UserRepository) AuditAccess(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-365 * 24 * time.Hour)

	tag, err := r.db.Exec(ctx,
		`UPDATE users SET access = 'user' WHERE access IN ('mod', 'admin') AND last_login < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("demoting idle elevated accounts: %w", err)
	}
	demoted := tag.RowsAffected()

	tag, err = r.db.Exec(ctx,
		`UPDATE users SET bot = FALSE WHERE bot AND last_login < $1`, cutoff)
	if err != nil {
		return demoted, fmt.Errorf("clearing idle bot flags: %w", err)
	}
	return demoted + tag.RowsAffected(), nil
}
