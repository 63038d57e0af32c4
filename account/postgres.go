package account

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed migrations/0001_auth_accounts.up.sql
var schemaSQL string

const accountColumns = `id, username, email, password_hash, verified, failed_attempts, locked_until, version, created_at, updated_at`

// DB is the subset of *pgxpool.Pool used by PostgresStore.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on a PostgreSQL table.
type PostgresStore struct {
	db  DB
	now func() time.Time
}

// NewPostgresStore creates a PostgreSQL-backed account store.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// Migrate creates the accounts table when it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate auth_accounts: %w", err)
	}
	return nil
}

// Create inserts acct with version 1.
func (s *PostgresStore) Create(ctx context.Context, acct Account) (Account, error) {
	now := s.now().UTC()
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = now
	}
	acct.UpdatedAt = acct.CreatedAt
	acct.Email = NormalizeEmail(acct.Email)
	acct.Version = 1

	query := `
		INSERT INTO auth_accounts (id, username, username_key, email, password_hash, verified, failed_attempts, locked_until, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.db.Exec(ctx, query,
		acct.ID,
		acct.Username,
		NormalizeUsername(acct.Username),
		acct.Email,
		acct.PasswordHash,
		acct.Verified,
		acct.FailedAttempts,
		nullableTime(acct.LockedUntil),
		acct.Version,
		acct.CreatedAt,
		acct.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Account{}, ErrDuplicate
		}
		return Account{}, fmt.Errorf("%w: insert account: %v", ErrUnavailable, err)
	}

	return acct, nil
}

// GetByID retrieves an account by id.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (Account, error) {
	return s.scanOne(ctx, `SELECT `+accountColumns+` FROM auth_accounts WHERE id = $1`, id)
}

// GetByUsername retrieves an account by its case-folded username.
func (s *PostgresStore) GetByUsername(ctx context.Context, username string) (Account, error) {
	return s.scanOne(ctx, `SELECT `+accountColumns+` FROM auth_accounts WHERE username_key = $1`, NormalizeUsername(username))
}

// GetByEmail retrieves an account by its case-folded email.
func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (Account, error) {
	return s.scanOne(ctx, `SELECT `+accountColumns+` FROM auth_accounts WHERE email = $1`, NormalizeEmail(email))
}

// CompareAndSwap updates the mutable columns of one row when its version
// still equals expectedVersion.
func (s *PostgresStore) CompareAndSwap(ctx context.Context, next Account, expectedVersion uint64) (Account, error) {
	query := `
		UPDATE auth_accounts
		SET password_hash = $1, verified = $2, failed_attempts = $3, locked_until = $4, updated_at = $5, version = version + 1
		WHERE id = $6 AND version = $7
		RETURNING ` + accountColumns

	updated, err := scanAccount(s.db.QueryRow(ctx, query,
		next.PasswordHash,
		next.Verified,
		next.FailedAttempts,
		nullableTime(next.LockedUntil),
		s.now().UTC(),
		next.ID,
		expectedVersion,
	))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Account{}, fmt.Errorf("%w: update account: %v", ErrUnavailable, err)
	}

	// No row matched: either the account is gone or the version moved.
	if _, getErr := s.GetByID(ctx, next.ID); getErr != nil {
		return Account{}, getErr
	}
	return Account{}, ErrVersionConflict
}

func (s *PostgresStore) scanOne(ctx context.Context, query string, arg any) (Account, error) {
	acct, err := scanAccount(s.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("%w: select account: %v", ErrUnavailable, err)
	}
	return acct, nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		acct        Account
		lockedUntil *time.Time
		version     int64
	)
	err := row.Scan(
		&acct.ID,
		&acct.Username,
		&acct.Email,
		&acct.PasswordHash,
		&acct.Verified,
		&acct.FailedAttempts,
		&lockedUntil,
		&version,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	)
	if err != nil {
		return Account{}, err
	}
	if lockedUntil != nil {
		acct.LockedUntil = lockedUntil.UTC()
	}
	acct.Version = uint64(version)
	return acct, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}

// isUniqueViolation reports a PostgreSQL unique constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "23505")
}
