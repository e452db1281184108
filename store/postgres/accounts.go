// Package postgres implements acctguard.CredentialStore on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrEthical07/acctguard"
	"github.com/MrEthical07/acctguard/lockout"
)

// DBTX is the subset of *pgxpool.Pool the store needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AccountStore implements acctguard.CredentialStore using PostgreSQL.
type AccountStore struct {
	db  DBTX
	now func() time.Time
}

// NewAccountStore creates a PostgreSQL-backed account store.
func NewAccountStore(db DBTX) *AccountStore {
	return &AccountStore{db: db, now: time.Now}
}

const accountColumns = `id, full_name, username, COALESCE(email, ''), COALESCE(phone, ''), password_hash, role,
		is_active, failed_login_count, locked_until, phone_verified, email_verified, last_login_at, created_at, updated_at`

// FindByIdentifier matches username, email or phone through the identity
// table, so at most one account can match.
func (s *AccountStore) FindByIdentifier(ctx context.Context, identifier string) (*acctguard.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		JOIN account_identities ON account_identities.account_id = accounts.id
		WHERE account_identities.identifier = $1`

	return s.scanAccount(ctx, query, acctguard.NormalizeIdentifier(identifier))
}

// FindByContact matches the email or phone column for channel only.
func (s *AccountStore) FindByContact(ctx context.Context, channel acctguard.Channel, value string) (*acctguard.Account, error) {
	var column string
	switch channel {
	case acctguard.ChannelEmail:
		column = "email"
	case acctguard.ChannelPhone:
		column = "phone"
	default:
		return nil, acctguard.ErrRecordNotFound
	}

	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE ` + column + ` = $1`

	return s.scanAccount(ctx, query, acctguard.NormalizeIdentifier(value))
}

// FindByID retrieves an account by id.
func (s *AccountStore) FindByID(ctx context.Context, id string) (*acctguard.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, acctguard.ErrRecordNotFound
	}

	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE id = $1`

	return s.scanAccount(ctx, query, id)
}

// createQuery inserts the account and its identities in one statement; a
// taken identifier in any field aborts both.
const createQuery = `
		WITH account AS (
			INSERT INTO accounts (id, full_name, username, email, phone, password_hash, role, is_active, phone_verified, email_verified, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING id
		)
		INSERT INTO account_identities (identifier, kind, account_id)
		SELECT v.identifier, v.kind, account.id
		FROM account, (VALUES ($3::text, 'username'), ($4::text, 'email'), ($5::text, 'phone')) AS v (identifier, kind)
		WHERE v.identifier IS NOT NULL`

// Create inserts a new account.
func (s *AccountStore) Create(ctx context.Context, in acctguard.NewAccount) (*acctguard.Account, error) {
	now := s.now().UTC().Truncate(time.Microsecond)
	a := &acctguard.Account{
		ID:            uuid.NewString(),
		FullName:      in.FullName,
		Username:      acctguard.NormalizeIdentifier(in.Username),
		Email:         acctguard.NormalizeIdentifier(in.Email),
		Phone:         acctguard.NormalizeIdentifier(in.Phone),
		PasswordHash:  in.PasswordHash,
		Role:          in.Role,
		IsActive:      in.IsActive,
		PhoneVerified: in.PhoneVerified,
		EmailVerified: in.EmailVerified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err := s.db.Exec(ctx, createQuery,
		a.ID,
		a.FullName,
		a.Username,
		nullIfEmpty(a.Email),
		nullIfEmpty(a.Phone),
		a.PasswordHash,
		string(a.Role),
		a.IsActive,
		a.PhoneVerified,
		a.EmailVerified,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &acctguard.DuplicateIdentityError{Field: conflictField(err, a)}
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}

	return a, nil
}

// lockoutQuery applies lockout.Policy.Next in one statement so concurrent
// failures for the same row serialize on the row lock. SET expressions see
// the pre-update row.
//
// $1 id, $2 success, $3 now, $4 threshold, $5 now + duration.
const lockoutQuery = `
		UPDATE accounts SET
			failed_login_count = CASE
				WHEN $2::boolean THEN 0
				WHEN locked_until IS NOT NULL AND locked_until <= $3::timestamptz THEN 1
				ELSE failed_login_count + 1
			END,
			locked_until = CASE
				WHEN $2::boolean THEN NULL
				WHEN locked_until IS NOT NULL AND locked_until <= $3::timestamptz THEN
					CASE WHEN 1 >= $4::int THEN $5::timestamptz ELSE NULL END
				WHEN locked_until IS NOT NULL THEN locked_until
				WHEN failed_login_count + 1 >= $4::int THEN $5::timestamptz
				ELSE NULL
			END,
			last_login_at = CASE WHEN $2::boolean THEN $3::timestamptz ELSE last_login_at END,
			updated_at = $3::timestamptz
		WHERE id = $1
		RETURNING failed_login_count, locked_until`

// UpdateLockoutState records one credential check outcome atomically.
func (s *AccountStore) UpdateLockoutState(ctx context.Context, id string, outcome lockout.Outcome, policy lockout.Policy, now time.Time) (lockout.State, error) {
	var (
		state       lockout.State
		lockedUntil *time.Time
	)

	err := s.db.QueryRow(ctx, lockoutQuery,
		id,
		outcome == lockout.Success,
		now,
		policy.Threshold,
		now.Add(policy.Duration),
	).Scan(&state.FailedCount, &lockedUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return lockout.State{}, acctguard.ErrRecordNotFound
		}
		return lockout.State{}, fmt.Errorf("update lockout state: %w", err)
	}

	state.LockedUntil = lockedUntil
	return state, nil
}

// ResetLockout clears the failure count and lock.
func (s *AccountStore) ResetLockout(ctx context.Context, id string) error {
	query := `UPDATE accounts SET failed_login_count = 0, locked_until = NULL, updated_at = $2 WHERE id = $1`
	return s.exec(ctx, "reset lockout", query, id, s.now().UTC())
}

// SetVerified marks the channel verified.
func (s *AccountStore) SetVerified(ctx context.Context, id string, channel acctguard.Channel) error {
	var query string
	switch channel {
	case acctguard.ChannelPhone:
		query = `UPDATE accounts SET phone_verified = TRUE, updated_at = $2 WHERE id = $1`
	case acctguard.ChannelEmail:
		query = `UPDATE accounts SET email_verified = TRUE, updated_at = $2 WHERE id = $1`
	default:
		return fmt.Errorf("set verified: unknown channel %q", channel)
	}
	return s.exec(ctx, "set verified", query, id, s.now().UTC())
}

// UpdatePasswordHash replaces the stored hash.
func (s *AccountStore) UpdatePasswordHash(ctx context.Context, id string, hash string) error {
	query := `UPDATE accounts SET password_hash = $2, updated_at = $3 WHERE id = $1`
	return s.exec(ctx, "update password hash", query, id, hash, s.now().UTC())
}

func (s *AccountStore) exec(ctx context.Context, op, query string, args ...any) error {
	ct, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ct.RowsAffected() == 0 {
		return acctguard.ErrRecordNotFound
	}
	return nil
}

// scanAccount executes a query expected to return a single account row.
func (s *AccountStore) scanAccount(ctx context.Context, query string, args ...any) (*acctguard.Account, error) {
	var (
		a    acctguard.Account
		role string
	)

	err := s.db.QueryRow(ctx, query, args...).Scan(
		&a.ID,
		&a.FullName,
		&a.Username,
		&a.Email,
		&a.Phone,
		&a.PasswordHash,
		&role,
		&a.IsActive,
		&a.FailedLoginCount,
		&a.LockedUntil,
		&a.PhoneVerified,
		&a.EmailVerified,
		&a.LastLoginAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, acctguard.ErrRecordNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}

	a.Role = acctguard.Role(role)
	return &a, nil
}

func nullIfEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// isUniqueViolation checks for SQLSTATE 23505.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "23505")
}

// conflictField maps the violated unique index to the identity field. A
// conflict on account_identities names the taken value in its detail,
// "Key (identifier)=(<value>) already exists.".
func conflictField(err error, a *acctguard.Account) string {
	msg := err.Error()
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		msg = pgErr.ConstraintName + " " + pgErr.Detail
	}

	switch {
	case strings.Contains(msg, "accounts_email_key"):
		return "email"
	case strings.Contains(msg, "accounts_phone_key"):
		return "phone"
	case strings.Contains(msg, "accounts_username_key"):
		return "username"
	}

	for _, f := range []struct{ name, value string }{
		{"username", a.Username},
		{"email", a.Email},
		{"phone", a.Phone},
	} {
		if f.value != "" && strings.Contains(msg, "=("+f.value+")") {
			return f.name
		}
	}
	return ""
}
