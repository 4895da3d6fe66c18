package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BanRow represents a server-level ban. Any of Username/IP/Email may be the
// matched identity; a zero EndDate means permanent.
type BanRow struct {
	ID         int32
	IssuerName string
	UserID     int32 // 0 when the ban targets only an ip or email
	Username   string
	IP         string
	Email      string
	Reason     string
	StartDate  time.Time
	EndDate    time.Time
}

// BanRepository manages server bans and the blacklist of email domains.
type BanRepository struct {
	db *pgxpool.Pool
}

// NewBanRepository creates a new BanRepository.
func NewBanRepository(db *pgxpool.Pool) *BanRepository {
	return &BanRepository{db: db}
}

const banColumns = `b.id, COALESCE(i.username, ''), COALESCE(b.user_id, 0), COALESCE(u.username, ''),
	COALESCE(b.ip, ''), COALESCE(b.email, ''), b.reason, b.start_date, b.end_date`

func scanBan(row pgx.Row) (*BanRow, error) {
	var b BanRow
	var endDate *time.Time
	err := row.Scan(&b.ID, &b.IssuerName, &b.UserID, &b.Username,
		&b.IP, &b.Email, &b.Reason, &b.StartDate, &endDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning ban row: %w", err)
	}
	if endDate != nil {
		b.EndDate = *endDate
	}
	return &b, nil
}

// Check returns the first active ban matching the user id, ip or email, or
// ErrNotFound. Zero/empty identities are skipped.
func (r *BanRepository) Check(ctx context.Context, userID int32, ip, email string) (*BanRow, error) {
	return scanBan(r.db.QueryRow(ctx,
		`SELECT `+banColumns+`
		 FROM bans b
		 LEFT JOIN users i ON i.id = b.issuer_id
		 LEFT JOIN users u ON u.id = b.user_id
		 WHERE (b.end_date IS NULL OR b.end_date > now())
		   AND (($1 <> 0 AND b.user_id = $1)
		     OR ($2 <> '' AND b.ip = $2)
		     OR ($3 <> '' AND lower(b.email) = lower($3)))
		 ORDER BY b.id LIMIT 1`,
		userID, ip, email))
}

// Add persists a ban. Empty identity fields are stored as NULL; a zero
// duration means permanent.
func (r *BanRepository) Add(ctx context.Context, issuerID, userID int32, ip, email, reason string, duration time.Duration) error {
	var endDate any
	if duration > 0 {
		endDate = time.Now().Add(duration)
	}
	var target any
	if userID != 0 {
		target = userID
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO bans (issuer_id, user_id, ip, email, reason, end_date)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6)`,
		issuerID, target, ip, email, reason, endDate)
	if err != nil {
		return fmt.Errorf("adding ban: %w", err)
	}
	return nil
}

// RemoveByUser lifts every ban for a user id.
func (r *BanRepository) RemoveByUser(ctx context.Context, userID int32) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM bans WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("removing bans for user %d: %w", userID, err)
	}
	return tag.RowsAffected(), nil
}

// RemoveByIP lifts every ban for an ip.
func (r *BanRepository) RemoveByIP(ctx context.Context, ip string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM bans WHERE ip = $1`, ip)
	if err != nil {
		return 0, fmt.Errorf("removing bans for ip %s: %w", ip, err)
	}
	return tag.RowsAffected(), nil
}

// RemoveByEmail lifts every ban for an email.
func (r *BanRepository) RemoveByEmail(ctx context.Context, email string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM bans WHERE lower(email) = lower($1)`, email)
	if err != nil {
		return 0, fmt.Errorf("removing bans for email %s: %w", email, err)
	}
	return tag.RowsAffected(), nil
}

// List returns all active bans.
func (r *BanRepository) List(ctx context.Context) ([]BanRow, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+banColumns+`
		 FROM bans b
		 LEFT JOIN users i ON i.id = b.issuer_id
		 LEFT JOIN users u ON u.id = b.user_id
		 WHERE b.end_date IS NULL OR b.end_date > now()
		 ORDER BY b.id`)
	if err != nil {
		return nil, fmt.Errorf("querying bans: %w", err)
	}
	defer rows.Close()

	var result []BanRow
	for rows.Next() {
		b, err := scanBan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ban rows: %w", err)
	}
	return result, nil
}

// Clean removes bans whose end date has passed.
func (r *BanRepository) Clean(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM bans WHERE end_date IS NOT NULL AND end_date < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("pruning expired bans: %w", err)
	}
	return tag.RowsAffected(), nil
}

// IsDomainBlacklisted reports whether the email domain is blocked for
// registration.
func (r *BanRepository) IsDomainBlacklisted(ctx context.Context, domain string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM blacklisted_email_domains WHERE domain = lower($1))`,
		domain).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking blacklisted domain %q: %w", domain, err)
	}
	return exists, nil
}

// BlacklistDomain blocks an email domain for registration.
func (r *BanRepository) BlacklistDomain(ctx context.Context, domain string) error {
	if _, err := r.db.Exec(ctx,
		`INSERT INTO blacklisted_email_domains (domain) VALUES (lower($1)) ON CONFLICT DO NOTHING`,
		domain); err != nil {
		return fmt.Errorf("blacklisting domain %q: %w", domain, err)
	}
	return nil
}

// UnblacklistDomain re-allows an email domain.
func (r *BanRepository) UnblacklistDomain(ctx context.Context, domain string) error {
	if _, err := r.db.Exec(ctx,
		`DELETE FROM blacklisted_email_domains WHERE domain = lower($1)`, domain); err != nil {
		return fmt.Errorf("unblacklisting domain %q: %w", domain, err)
	}
	return nil
}
