package calculator

import (
	"github.com/gr4yha7/ghosttab-backend/internal/apperr"
	"github.com/gr4yha7/ghosttab-backend/internal/models"
	"github.com/shopspring/decimal"
)

// Share is a computed share for one participant
type Share struct {
	UserID string
	Amount decimal.Decimal
}

// Split assigns a share to every participant. When any participant carries a
// custom share, all shares are taken as given and must sum to total exactly.
// Otherwise total is divided evenly at the currency scale.
func Split(total decimal.Decimal, scale int32, participants []models.ParticipantDraft) ([]Share, models.SplitMode, error) {
	if len(participants) == 0 {
		return nil, "", apperr.Validation("at least one participant required")
	}
	if !total.IsPositive() {
		return nil, "", apperr.Validation("total amount must be positive")
	}
	if !fitsScale(total, scale) {
		return nil, "", apperr.Validationf("total amount supports at most %d decimal places", scale)
	}

	custom := false
	for _, p := range participants {
		if p.ShareAmount != nil {
			custom = true
			break
		}
	}

	shares := make([]Share, len(participants))
	if !custom {
		parts := Equal(total, len(participants), scale)
		if !parts[len(parts)-1].IsPositive() {
			return nil, "", apperr.Validation("total amount is too small to split across participants")
		}
		for i, amount := range parts {
			shares[i] = Share{UserID: participants[i].UserID, Amount: amount}
		}
		return shares, models.SplitEqual, nil
	}

	sum := decimal.Zero
	for i, p := range participants {
		if p.ShareAmount == nil || !p.ShareAmount.IsPositive() {
			return nil, "", apperr.Validation("every participant needs a positive share when custom shares are used").
				WithDetail("userId", p.UserID)
		}
		if !fitsScale(*p.ShareAmount, scale) {
			return nil, "", apperr.Validationf("share amount supports at most %d decimal places", scale).
				WithDetail("userId", p.UserID)
		}
		sum = sum.Add(*p.ShareAmount)
		shares[i] = Share{UserID: p.UserID, Amount: *p.ShareAmount}
	}
	if !sum.Equal(total) {
		return nil, "", apperr.Validation("shares must equal total").
			WithDetail("total", total.String()).
			WithDetail("sum", sum.String())
	}
	return shares, models.SplitCustom, nil
}

// Equal divides total into n parts at scale. The first parts each absorb one
// smallest unit of the remainder so the parts always sum to total.
func Equal(total decimal.Decimal, n int, scale int32) []decimal.Decimal {
	if n <= 0 {
		return nil
	}
	quotient, remainder := total.QuoRem(decimal.NewFromInt(int64(n)), scale)
	unit := decimal.New(1, -scale)
	extra := remainder.Div(unit).IntPart()

	parts := make([]decimal.Decimal, n)
	for i := range parts {
		parts[i] = quotient
		if int64(i) < extra {
			parts[i] = parts[i].Add(unit)
		}
	}
	return parts
}

func fitsScale(d decimal.Decimal, scale int32) bool {
	return d.Equal(d.Truncate(scale))
}
