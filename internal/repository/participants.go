package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gr4yha7/ghosttab-backend/internal/models"
	"github.com/shopspring/decimal"
)

var participantColumnList = []string{
	"id", "tab_id", "user_id", "share_amount", "paid", "paid_amount", "paid_tx_hash", "paid_at",
	"verified", "days_late", "penalty_amount", "final_amount", "settled_early",
	"last_reminder_sent_at", "reminder_count", "created_at",
}

var participantColumns = strings.Join(participantColumnList, ", ")

func scanParticipant(row scanner, extra ...any) (*models.TabParticipant, error) {
	var (
		p                    models.TabParticipant
		txHash               sql.NullString
		paidAt, lastReminder sql.NullTime
	)
	dest := []any{
		&p.ID, &p.TabID, &p.UserID, &p.ShareAmount, &p.Paid, &p.PaidAmount, &txHash, &paidAt,
		&p.Verified, &p.DaysLate, &p.PenaltyAmount, &p.FinalAmount, &p.SettledEarly,
		&lastReminder, &p.ReminderCount, &p.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	p.PaidTxHash = txHash.String
	p.PaidAt = timePtr(paidAt)
	p.LastReminderSentAt = timePtr(lastReminder)
	return &p, nil
}

func (r *Repository) GetParticipant(ctx context.Context, tabID, userID string) (*models.TabParticipant, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	row := r.db.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM tab_participants WHERE tab_id = $1 AND user_id = $2`,
		tabID, userID,
	)
	p, err := scanParticipant(row)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// ListParticipants returns the tab's participants joined with their public user fields
func (r *Repository) ListParticipants(ctx context.Context, tabID string) ([]models.ParticipantView, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+prefixed("p", participantColumnList)+`, u.username, u.wallet_address
		FROM tab_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.tab_id = $1
		ORDER BY p.created_at, p.id`,
		tabID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ParticipantView
	for rows.Next() {
		var username, wallet string
		p, err := scanParticipant(rows, &username, &wallet)
		if err != nil {
			return nil, err
		}
		out = append(out, models.ParticipantView{TabParticipant: *p, Username: username, WalletAddress: wallet})
	}
	return out, rows.Err()
}

// VerifyParticipant marks an invitation as accepted
func (r *Repository) VerifyParticipant(ctx context.Context, tabID, userID string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE tab_participants SET verified = TRUE WHERE tab_id = $1 AND user_id = $2`,
		tabID, userID,
	)
	if err != nil {
		return err
	}
	return requireOneRow(res, ErrNotFound)
}

// Reshare is the share layout after a participant leaves
type Reshare struct {
	Shares      map[string]decimal.Decimal // participant id -> new share
	TotalAmount decimal.Decimal
}

// ReshareFunc computes the new layout from the locked tab state
type ReshareFunc func(tab *models.Tab, removed models.TabParticipant, remaining []models.TabParticipant) (Reshare, error)

// RemoveParticipant deletes an unpaid participant and applies reshare to the
// remaining rows. The tab row lock serializes concurrent declines.
func (r *Repository) RemoveParticipant(ctx context.Context, tabID, userID string, reshare ReshareFunc) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tab, err := scanTab(tx.QueryRowContext(ctx, `SELECT `+tabColumns+` FROM tabs WHERE id = $1 FOR UPDATE`, tabID))
	if err != nil {
		return notFound(err)
	}
	if !tab.IsOpen() {
		return ErrTabNotOpen
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+participantColumns+` FROM tab_participants WHERE tab_id = $1 ORDER BY created_at, id FOR UPDATE`,
		tabID,
	)
	if err != nil {
		return err
	}
	var (
		removed   *models.TabParticipant
		remaining []models.TabParticipant
	)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			rows.Close()
			return err
		}
		if p.UserID == userID {
			removed = p
			continue
		}
		remaining = append(remaining, *p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if removed == nil {
		return ErrNotFound
	}
	if removed.Paid {
		return ErrAlreadyPaid
	}

	layout, err := reshare(tab, *removed, remaining)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM tab_participants WHERE id = $1 AND paid = FALSE`, removed.ID)
	if err != nil {
		return err
	}
	if err := requireOneRow(res, ErrAlreadyPaid); err != nil {
		return err
	}

	for _, p := range remaining {
		share, ok := layout.Shares[p.ID]
		if !ok || share.Equal(p.ShareAmount) {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE tab_participants SET share_amount = $2 WHERE id = $1 AND paid = FALSE`,
			p.ID, share,
		); err != nil {
			return fmt.Errorf("update share %s: %w", p.ID, err)
		}
	}

	if !layout.TotalAmount.Equal(tab.TotalAmount) {
		if _, err := tx.ExecContext(ctx,
			`UPDATE tabs SET total_amount = $2, updated_at = NOW() WHERE id = $1`,
			tabID, layout.TotalAmount,
		); err != nil {
			return fmt.Errorf("update tab total: %w", err)
		}
	}

	return tx.Commit()
}

// PaymentRecord is everything written when a participant settles
type PaymentRecord struct {
	ParticipantID string
	TabID         string
	PaidAmount    decimal.Decimal
	TxHash        string
	PaidAt        time.Time
	DaysLate      int
	Penalty       decimal.Decimal
	Final         decimal.Decimal
}

// MarkParticipantPaid flips paid false->true exactly once. The tab row is held
// FOR SHARE so a concurrent cancel cannot interleave.
func (r *Repository) MarkParticipantPaid(ctx context.Context, rec PaymentRecord) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status models.TabStatus
	if err := tx.QueryRowContext(ctx, `SELECT status FROM tabs WHERE id = $1 FOR SHARE`, rec.TabID).Scan(&status); err != nil {
		return notFound(err)
	}
	if status != models.TabStatusOpen {
		return ErrTabNotOpen
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE tab_participants SET
			paid = TRUE,
			paid_amount = $2,
			paid_tx_hash = $3,
			paid_at = $4,
			days_late = $5,
			penalty_amount = $6,
			final_amount = $7,
			settled_early = $8
		WHERE id = $1 AND paid = FALSE`,
		rec.ParticipantID, rec.PaidAmount, nullString(rec.TxHash), rec.PaidAt,
		rec.DaysLate, rec.Penalty, rec.Final, rec.DaysLate == 0,
	)
	if err != nil {
		if isUniqueViolation(err, "tab_participants_paid_tx_hash_key") {
			return ErrDuplicateTxHash
		}
		return err
	}
	if err := requireOneRow(res, ErrAlreadyPaid); err != nil {
		return err
	}

	return tx.Commit()
}

// IsTxHashRecorded reports whether any participant already settled with txHash
func (r *Repository) IsTxHashRecorded(ctx context.Context, txHash string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var id string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM tab_participants WHERE paid_tx_hash = $1`, txHash).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
