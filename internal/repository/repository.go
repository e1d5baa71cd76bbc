package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrAlreadyPaid     = errors.New("participant already paid")
	ErrTabNotOpen      = errors.New("tab is not open")
	ErrDuplicateTxHash = errors.New("transaction hash already recorded")
	ErrHistoryExists   = errors.New("settlement history already recorded")
	ErrOTPInvalid      = errors.New("otp invalid or expired")
)

const uniqueViolation = "23505"

// Repository is the postgres-backed store for tabs, participants, users and codes
type Repository struct {
	db      *sql.DB
	timeout time.Duration
}

func New(db *sql.DB, queryTimeout time.Duration) *Repository {
	if queryTimeout <= 0 {
		queryTimeout = 5 * time.Second
	}
	return &Repository{db: db, timeout: queryTimeout}
}

func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

type scanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
