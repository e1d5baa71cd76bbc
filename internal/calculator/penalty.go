package calculator

import (
	"time"

	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

var basisPointsPerUnit = decimal.NewFromInt(10000)

// Assessment is the penalty outcome for a share at a point in time
type Assessment struct {
	DaysLate int
	Penalty  decimal.Decimal
	Final    decimal.Decimal
}

func (a Assessment) OnTime() bool {
	return a.DaysLate == 0
}

// DaysLate counts started days past the deadline. Zero when there is no
// deadline or it has not passed.
func DaysLate(deadline *time.Time, now time.Time) int {
	if deadline == nil || !now.After(*deadline) {
		return 0
	}
	late := now.Sub(*deadline)
	days := int(late / day)
	if late%day != 0 {
		days++
	}
	return days
}

// Penalty is a flat one-time surcharge: share * rateBps / 10000, rounded to scale.
// The number of days late does not multiply it.
func Penalty(share decimal.Decimal, rateBps int, daysLate int, scale int32) decimal.Decimal {
	if daysLate <= 0 || rateBps <= 0 {
		return decimal.Zero
	}
	return share.Mul(decimal.NewFromInt(int64(rateBps))).Div(basisPointsPerUnit).Round(scale)
}

// Assess computes days late, penalty and the final amount owed
func Assess(share decimal.Decimal, rateBps int, deadline *time.Time, now time.Time, scale int32) Assessment {
	daysLate := DaysLate(deadline, now)
	penalty := Penalty(share, rateBps, daysLate, scale)
	return Assessment{
		DaysLate: daysLate,
		Penalty:  penalty,
		Final:    share.Add(penalty),
	}
}
