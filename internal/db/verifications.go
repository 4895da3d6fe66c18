package db

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Verification purposes.
const (
	VerifyRegister      = "register"
	VerifyEmailChange   = "email_change"
	VerifyPasswordReset = "password_reset"
)

// Verification flow errors.
var (
	ErrCodeExpired     = errors.New("verification code expired")
	ErrCodeMismatch    = errors.New("verification code mismatch")
	ErrTooManyAttempts = errors.New("too many verification attempts")
	ErrTooManyResends  = errors.New("too many verification resends")
)

const (
	verificationTTL  = 2 * 24 * time.Hour
	maxVerifyTries   = 3
	maxVerifyResends = 3
)

// VerificationRow is one pending verification code.
type VerificationRow struct {
	ID       int64
	UserID   int32
	Email    string
	Code     string
	Purpose  string
	Expiry   time.Time
	Attempts int
	Resends  int
}

// VerificationRepository manages pending email verification codes.
type VerificationRepository struct {
	db *pgxpool.Pool
}

// NewVerificationRepository creates a new VerificationRepository.
func NewVerificationRepository(db *pgxpool.Pool) *VerificationRepository {
	return &VerificationRepository{db: db}
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generating verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Create replaces any pending code for (user, purpose) with a fresh one and
// returns it for mailing.
func (r *VerificationRepository) Create(ctx context.Context, userID int32, email, purpose string) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("beginning verification tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM verifications WHERE user_id = $1 AND purpose = $2`, userID, purpose); err != nil {
		return "", fmt.Errorf("clearing old verification for user %d: %w", userID, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO verifications (user_id, email, code, purpose, expiry)
		 VALUES ($1, $2, $3, $4, $5)`,
		userID, email, code, purpose, time.Now().Add(verificationTTL)); err != nil {
		return "", fmt.Errorf("creating verification for user %d: %w", userID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("committing verification for user %d: %w", userID, err)
	}
	return code, nil
}

func scanVerification(row pgx.Row) (*VerificationRow, error) {
	var v VerificationRow
	err := row.Scan(&v.ID, &v.UserID, &v.Email, &v.Code, &v.Purpose, &v.Expiry, &v.Attempts, &v.Resends)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning verification row: %w", err)
	}
	return &v, nil
}

// Pending returns the pending code row for (user, purpose).
func (r *VerificationRepository) Pending(ctx context.Context, userID int32, purpose string) (*VerificationRow, error) {
	return scanVerification(r.db.QueryRow(ctx,
		`SELECT id, user_id, email, code, purpose, expiry, attempts, resends
		 FROM verifications WHERE user_id = $1 AND purpose = $2`, userID, purpose))
}

// PendingByEmail returns the pending code row for (email, purpose); used by
// the pre-login VERIFY path.
func (r *VerificationRepository) PendingByEmail(ctx context.Context, email, purpose string) (*VerificationRow, error) {
	return scanVerification(r.db.QueryRow(ctx,
		`SELECT id, user_id, email, code, purpose, expiry, attempts, resends
		 FROM verifications WHERE lower(email) = lower($1) AND purpose = $2
		 ORDER BY id DESC LIMIT 1`, email, purpose))
}

// Resend returns the pending code for re-mailing, tracking the resend cap.
func (r *VerificationRepository) Resend(ctx context.Context, userID int32, purpose string) (*VerificationRow, error) {
	v, err := r.Pending(ctx, userID, purpose)
	if err != nil {
		return nil, err
	}
	if v.Resends >= maxVerifyResends {
		return nil, ErrTooManyResends
	}
	if _, err := r.db.Exec(ctx,
		`UPDATE verifications SET resends = resends + 1 WHERE id = $1`, v.ID); err != nil {
		return nil, fmt.Errorf("counting resend for verification %d: %w", v.ID, err)
	}
	v.Resends++
	return v, nil
}

// Consume checks the supplied code against the pending row. On success the
// row is deleted; a mismatch counts an attempt, three failures invalidate
// the code.
func (r *VerificationRepository) Consume(ctx context.Context, v *VerificationRow, code string) error {
	if time.Now().After(v.Expiry) {
		return ErrCodeExpired
	}
	if v.Attempts >= maxVerifyTries {
		return ErrTooManyAttempts
	}
	if v.Code != code {
		if _, err := r.db.Exec(ctx,
			`UPDATE verifications SET attempts = attempts + 1 WHERE id = $1`, v.ID); err != nil {
			return fmt.Errorf("counting attempt for verification %d: %w", v.ID, err)
		}
		if v.Attempts+1 >= maxVerifyTries {
			return ErrTooManyAttempts
		}
		return ErrCodeMismatch
	}
	if _, err := r.db.Exec(ctx,
		`DELETE FROM verifications WHERE id = $1`, v.ID); err != nil {
		return fmt.Errorf("consuming verification %d: %w", v.ID, err)
	}
	return nil
}

// Clean removes expired verification codes.
func (r *VerificationRepository) Clean(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM verifications WHERE expiry < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("pruning expired verifications: %w", err)
	}
	return tag.RowsAffected(), nil
}
