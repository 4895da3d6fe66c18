package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// Setting keys in server_settings.
const (
	SettingMinSpringVersion = "min_spring_version"
)

// DB wraps a pgx connection pool and exposes the lobby repositories.
type DB struct {
	pool *pgxpool.Pool

	Users         *UserRepository
	Channels      *ChannelRepository
	Bans          *BanRepository
	Verifications *VerificationRepository
}

// New connects to PostgreSQL and returns a DB handle.
func New(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	d := &DB{pool: pool}
	d.Users = NewUserRepository(pool)
	d.Channels = NewChannelRepository(pool)
	d.Bans = NewBanRepository(pool)
	d.Verifications = NewVerificationRepository(pool)
	return d, nil
}

// Close closes the database connection pool.
func (d *DB) Close() {
	d.pool.Close()
}

// Pool returns the underlying pgx pool.
func (d *DB) Pool() *pgxpool.Pool {
	return d.pool
}

// Setting reads a value from server_settings. Returns ErrNotFound when the
// key has never been set.
func (d *DB) Setting(ctx context.Context, key string) (string, error) {
	var value string
	err := d.pool.QueryRow(ctx,
		`SELECT value FROM server_settings WHERE key = $1`, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("querying setting %q: %w", key, err)
	}
	return value, nil
}

// SetSetting writes a value into server_settings, replacing any previous one.
func (d *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO server_settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}
	return nil
}
