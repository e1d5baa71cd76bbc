package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gr4yha7/ghosttab-backend/internal/models"
	"github.com/lib/pq"
)

const userColumns = `id, username, email, wallet_address, trust_score, settlements_on_time, settlements_late, total_settlements`

func scanUser(row scanner) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.WalletAddress,
		&u.TrustScore, &u.SettlementsOnTime, &u.SettlementsLate, &u.TotalSettlements)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repository) GetUser(ctx context.Context, userID string) (*models.User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

// GetUsers loads several users at once, keyed by id. Missing ids are absent.
func (r *Repository) GetUsers(ctx context.Context, userIDs []string) (map[string]*models.User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, pq.Array(userIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*models.User, len(userIDs))
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out[u.ID] = u
	}
	return out, rows.Err()
}

// GetFriendshipStatus returns the strongest relationship in either direction,
// or "" when none exists
func (r *Repository) GetFriendshipStatus(ctx context.Context, userID, otherID string) (models.FriendshipStatus, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var status models.FriendshipStatus
	err := r.db.QueryRowContext(ctx, `
		SELECT status FROM friendships
		WHERE (user_id = $1 AND friend_id = $2) OR (user_id = $2 AND friend_id = $1)
		ORDER BY (status = 'ACCEPTED') DESC
		LIMIT 1`,
		userID, otherID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return status, err
}

// ScoreFunc derives a trust score from cumulative stats
type ScoreFunc func(models.TrustStats) int

// RecordSettlementOutcome applies one settlement to the user's trust counters
// and appends the history row. The user row lock serializes concurrent
// settlements by the same user. A repeated (user, tab) pair is rejected with
// ErrHistoryExists and changes nothing.
func (r *Repository) RecordSettlementOutcome(ctx context.Context, o models.SettlementOutcome, score ScoreFunc, at time.Time) (*models.SettlementHistory, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var before int
	var stats models.TrustStats
	err = tx.QueryRowContext(ctx, `
		SELECT trust_score, settlements_on_time, settlements_late, total_settlements
		FROM users WHERE id = $1 FOR UPDATE`,
		o.UserID,
	).Scan(&before, &stats.OnTime, &stats.Late, &stats.Total)
	if err != nil {
		return nil, notFound(err)
	}

	stats.Total++
	if o.OnTime {
		stats.OnTime++
	} else {
		stats.Late++
	}
	after := score(stats)

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET trust_score = $2, settlements_on_time = $3, settlements_late = $4, total_settlements = $5
		WHERE id = $1`,
		o.UserID, after, stats.OnTime, stats.Late, stats.Total,
	); err != nil {
		return nil, fmt.Errorf("update trust counters: %w", err)
	}

	h := &models.SettlementHistory{
		ID:               uuid.NewString(),
		UserID:           o.UserID,
		TabID:            o.TabID,
		SettledOnTime:    o.OnTime,
		DaysLate:         o.DaysLate,
		PenaltyAmount:    o.PenaltyAmount,
		TrustScoreBefore: before,
		TrustScoreAfter:  after,
		CreatedAt:        at,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO settlement_history (id, user_id, tab_id, settled_on_time, days_late, penalty_amount,
			trust_score_before, trust_score_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		h.ID, h.UserID, h.TabID, h.SettledOnTime, h.DaysLate, h.PenaltyAmount,
		h.TrustScoreBefore, h.TrustScoreAfter, h.CreatedAt,
	); err != nil {
		if isUniqueViolation(err, "") {
			return nil, ErrHistoryExists
		}
		return nil, fmt.Errorf("insert settlement history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return h, nil
}

// ListSettlementHistory returns the user's most recent history rows
func (r *Repository) ListSettlementHistory(ctx context.Context, userID string, limit int) ([]models.SettlementHistory, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, tab_id, settled_on_time, days_late, penalty_amount,
			trust_score_before, trust_score_after, created_at
		FROM settlement_history
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SettlementHistory
	for rows.Next() {
		var h models.SettlementHistory
		if err := rows.Scan(&h.ID, &h.UserID, &h.TabID, &h.SettledOnTime, &h.DaysLate, &h.PenaltyAmount,
			&h.TrustScoreBefore, &h.TrustScoreAfter, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
