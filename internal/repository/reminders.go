package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// DueParticipant is an unpaid participant of an OPEN tab with a deadline
type DueParticipant struct {
	TabID              string
	TabTitle           string
	CreatorID          string
	Currency           string
	Deadline           time.Time
	PenaltyRateBps     int
	ParticipantID      string
	UserID             string
	ShareAmount        decimal.Decimal
	LastReminderSentAt *time.Time
	ReminderCount      int
	Email              string
	Username           string
}

const dueParticipantQuery = `
	SELECT t.id, t.title, t.creator_id, t.currency, t.settlement_deadline, t.penalty_rate_bps,
		p.id, p.user_id, p.share_amount, p.last_reminder_sent_at, p.reminder_count,
		u.email, u.username
	FROM tabs t
	JOIN tab_participants p ON p.tab_id = t.id AND p.paid = FALSE
	JOIN users u ON u.id = p.user_id
	WHERE t.status = 'OPEN' AND t.settlement_deadline >= $1 AND t.settlement_deadline < $2
	ORDER BY t.settlement_deadline, t.id, p.created_at`

// ListDueParticipants returns unpaid participants of OPEN tabs whose deadline
// falls in [from, to)
func (r *Repository) ListDueParticipants(ctx context.Context, from, to time.Time) ([]DueParticipant, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, dueParticipantQuery, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DueParticipant
	for rows.Next() {
		var (
			d            DueParticipant
			lastReminder sql.NullTime
		)
		if err := rows.Scan(&d.TabID, &d.TabTitle, &d.CreatorID, &d.Currency, &d.Deadline, &d.PenaltyRateBps,
			&d.ParticipantID, &d.UserID, &d.ShareAmount, &lastReminder, &d.ReminderCount,
			&d.Email, &d.Username); err != nil {
			return nil, err
		}
		d.LastReminderSentAt = timePtr(lastReminder)
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListOverdueParticipants returns unpaid participants of OPEN tabs whose
// deadline is before now
func (r *Repository) ListOverdueParticipants(ctx context.Context, now time.Time) ([]DueParticipant, error) {
	return r.ListDueParticipants(ctx, time.Unix(0, 0).UTC(), now)
}

// ClaimReminder stamps the participant's reminder slot if the cooldown has
// elapsed. Only one caller per window gets true.
func (r *Repository) ClaimReminder(ctx context.Context, participantID string, now, cutoff time.Time) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE tab_participants
		SET last_reminder_sent_at = $2, reminder_count = reminder_count + 1
		WHERE id = $1 AND paid = FALSE
			AND (last_reminder_sent_at IS NULL OR last_reminder_sent_at <= $3)`,
		participantID, now, cutoff,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ClaimOverdueNotice stamps the tab's creator-summary slot under the same cooldown
func (r *Repository) ClaimOverdueNotice(ctx context.Context, tabID string, now, cutoff time.Time) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE tabs SET last_overdue_notice_at = $2
		WHERE id = $1 AND status = 'OPEN'
			AND (last_overdue_notice_at IS NULL OR last_overdue_notice_at <= $3)`,
		tabID, now, cutoff,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
