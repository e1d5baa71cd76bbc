package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/gr4yha7/ghosttab-backend/internal/models"
	"github.com/shopspring/decimal"
)

var tabColumnList = []string{
	"id", "creator_id", "title", "description", "category", "total_amount", "currency",
	"status", "split_mode", "settlement_deadline", "penalty_rate_bps", "settlement_wallet",
	"last_overdue_notice_at", "created_at", "updated_at",
}

var tabColumns = strings.Join(tabColumnList, ", ")

func prefixed(alias string, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = alias + "." + c
	}
	return strings.Join(out, ", ")
}

func tabDest(t *models.Tab, deadline, notice *sql.NullTime) []any {
	return []any{
		&t.ID, &t.CreatorID, &t.Title, &t.Description, &t.Category, &t.TotalAmount, &t.Currency,
		&t.Status, &t.SplitMode, deadline, &t.PenaltyRateBps, &t.SettlementWallet,
		notice, &t.CreatedAt, &t.UpdatedAt,
	}
}

func scanTab(row scanner, extra ...any) (*models.Tab, error) {
	var t models.Tab
	var deadline, notice sql.NullTime
	if err := row.Scan(append(tabDest(&t, &deadline, &notice), extra...)...); err != nil {
		return nil, err
	}
	t.SettlementDeadline = timePtr(deadline)
	t.LastOverdueNoticeAt = timePtr(notice)
	return &t, nil
}

// CreateTab inserts the tab and all of its participants in one transaction
func (r *Repository) CreateTab(ctx context.Context, tab *models.Tab, participants []models.TabParticipant) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tabs (id, creator_id, title, description, category, total_amount, currency,
			status, split_mode, settlement_deadline, penalty_rate_bps, settlement_wallet, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`,
		tab.ID, tab.CreatorID, tab.Title, tab.Description, tab.Category, tab.TotalAmount, tab.Currency,
		tab.Status, tab.SplitMode, nullTime(tab.SettlementDeadline), tab.PenaltyRateBps, tab.SettlementWallet, tab.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert tab: %w", err)
	}

	for _, p := range participants {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tab_participants (id, tab_id, user_id, share_amount, verified, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			p.ID, tab.ID, p.UserID, p.ShareAmount, p.Verified, p.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert participant %s: %w", p.UserID, err)
		}
	}

	return tx.Commit()
}

func (r *Repository) GetTab(ctx context.Context, tabID string) (*models.Tab, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+tabColumns+` FROM tabs WHERE id = $1`, tabID)
	tab, err := scanTab(row)
	if err != nil {
		return nil, notFound(err)
	}
	return tab, nil
}

// ListUserTabs returns tabs the user created or participates in, newest first
func (r *Repository) ListUserTabs(ctx context.Context, userID string, f models.TabFilter) ([]models.UserTab, int, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+prefixed("t", tabColumnList)+`,
			COALESCE(me.share_amount, 0), COALESCE(me.paid, FALSE),
			(SELECT COUNT(*) FROM tab_participants c WHERE c.tab_id = t.id),
			COUNT(*) OVER()
		FROM tabs t
		LEFT JOIN tab_participants me ON me.tab_id = t.id AND me.user_id = $1
		WHERE (t.creator_id = $1 OR me.id IS NOT NULL)
			AND ($2 = '' OR t.status = $2)
			AND ($3 = '' OR t.category = $3)
			AND ($4 = '' OR t.title ILIKE '%' || $4 || '%')
		ORDER BY t.created_at DESC
		LIMIT $5 OFFSET $6`,
		userID, string(f.Status), string(f.Category), f.Search, f.Limit, (f.Page-1)*f.Limit,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		tabs  []models.UserTab
		total int
	)
	for rows.Next() {
		var (
			share decimal.Decimal
			paid  bool
			count int
		)
		tab, err := scanTab(rows, &share, &paid, &count, &total)
		if err != nil {
			return nil, 0, err
		}
		tabs = append(tabs, models.UserTab{Tab: *tab, UserShare: share, UserPaid: paid, ParticipantCount: count})
	}
	return tabs, total, rows.Err()
}

// TabUpdate holds the optional creator-editable fields
type TabUpdate struct {
	Title       *string
	Description *string
	Category    *models.TabCategory
}

// UpdateTabDetails applies the update only while the tab is still OPEN
func (r *Repository) UpdateTabDetails(ctx context.Context, tabID string, u TabUpdate) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var category *string
	if u.Category != nil {
		c := string(*u.Category)
		category = &c
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE tabs SET
			title = COALESCE($2, title),
			description = COALESCE($3, description),
			category = COALESCE($4, category),
			updated_at = NOW()
		WHERE id = $1 AND status = 'OPEN'`,
		tabID, u.Title, u.Description, category,
	)
	if err != nil {
		return err
	}
	return requireOneRow(res, ErrTabNotOpen)
}

// CancelTab moves an OPEN tab to CANCELLED. Any other status is left untouched.
func (r *Repository) CancelTab(ctx context.Context, tabID string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE tabs SET status = 'CANCELLED', updated_at = NOW() WHERE id = $1 AND status = 'OPEN'`,
		tabID,
	)
	if err != nil {
		return err
	}
	return requireOneRow(res, ErrTabNotOpen)
}

// CompleteTabIfAllPaid transitions OPEN to SETTLED when no participant is
// unpaid. It reports true only to the caller whose statement performed the
// transition.
func (r *Repository) CompleteTabIfAllPaid(ctx context.Context, tabID string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE tabs SET status = 'SETTLED', updated_at = NOW()
		WHERE id = $1 AND status = 'OPEN'
			AND EXISTS (SELECT 1 FROM tab_participants WHERE tab_id = $1)
			AND NOT EXISTS (SELECT 1 FROM tab_participants WHERE tab_id = $1 AND paid = FALSE)`,
		tabID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func requireOneRow(res sql.Result, otherwise error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return otherwise
	}
	return nil
}
