package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gr4yha7/ghosttab-backend/internal/models"
)

func (r *Repository) CreateOTP(ctx context.Context, otp *models.OTPCode) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO otp_codes (id, email, code_hash, type, metadata, expires_at, used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)`,
		otp.ID, otp.Email, otp.CodeHash, otp.Type, otp.Metadata, otp.ExpiresAt, otp.CreatedAt,
	)
	return err
}

// ConsumeOTP marks the newest live code matching (email, hash, type) as used.
// match inspects the stored metadata first; if it fails the code stays unused.
func (r *Repository) ConsumeOTP(ctx context.Context, email, codeHash string, typ models.OTPType, now time.Time, match func(models.Metadata) error) (models.Metadata, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var (
		id       string
		metadata models.Metadata
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, metadata FROM otp_codes
		WHERE email = $1 AND code_hash = $2 AND type = $3 AND used = FALSE AND expires_at > $4
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE`,
		email, codeHash, typ, now,
	).Scan(&id, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOTPInvalid
	}
	if err != nil {
		return nil, err
	}

	if match != nil {
		if err := match(metadata); err != nil {
			return nil, err
		}
	}

	res, err := tx.ExecContext(ctx, `UPDATE otp_codes SET used = TRUE WHERE id = $1 AND used = FALSE`, id)
	if err != nil {
		return nil, err
	}
	if err := requireOneRow(res, ErrOTPInvalid); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return metadata, nil
}

// DeleteExpiredOTPs removes expired codes and used codes older than usedBefore
func (r *Repository) DeleteExpiredOTPs(ctx context.Context, now, usedBefore time.Time) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM otp_codes WHERE expires_at < $1 OR (used = TRUE AND created_at < $2)`,
		now, usedBefore,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
