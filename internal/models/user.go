package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "PENDING"
	FriendshipAccepted FriendshipStatus = "ACCEPTED"
	FriendshipBlocked  FriendshipStatus = "BLOCKED"
)

// User holds the identity fields the engine reads plus the trust counters it owns
type User struct {
	ID                string `json:"id" db:"id"`
	Username          string `json:"username" db:"username"`
	Email             string `json:"email,omitempty" db:"email"`
	WalletAddress     string `json:"walletAddress,omitempty" db:"wallet_address"`
	TrustScore        int    `json:"trustScore" db:"trust_score"`
	SettlementsOnTime int    `json:"settlementsOnTime" db:"settlements_on_time"`
	SettlementsLate   int    `json:"settlementsLate" db:"settlements_late"`
	TotalSettlements  int    `json:"totalSettlements" db:"total_settlements"`
}

// TrustStats are the cumulative counters a trust score is derived from
type TrustStats struct {
	OnTime int `json:"settlementsOnTime"`
	Late   int `json:"settlementsLate"`
	Total  int `json:"totalSettlements"`
}

func (u *User) Stats() TrustStats {
	return TrustStats{OnTime: u.SettlementsOnTime, Late: u.SettlementsLate, Total: u.TotalSettlements}
}

// SettlementOutcome is what the trust engine records for one settlement
type SettlementOutcome struct {
	UserID        string
	TabID         string
	OnTime        bool
	DaysLate      int
	PenaltyAmount decimal.Decimal
}

// SettlementHistory is the append-only audit row behind a trust score change
type SettlementHistory struct {
	ID               string          `json:"id" db:"id"`
	UserID           string          `json:"userId" db:"user_id"`
	TabID            string          `json:"tabId" db:"tab_id"`
	SettledOnTime    bool            `json:"settledOnTime" db:"settled_on_time"`
	DaysLate         int             `json:"daysLate" db:"days_late"`
	PenaltyAmount    decimal.Decimal `json:"penaltyAmount" db:"penalty_amount"`
	TrustScoreBefore int             `json:"trustScoreBefore" db:"trust_score_before"`
	TrustScoreAfter  int             `json:"trustScoreAfter" db:"trust_score_after"`
	CreatedAt        time.Time       `json:"createdAt" db:"created_at"`
}

// TrustProfile is the read model for a user's reputation
type TrustProfile struct {
	UserID  string              `json:"userId"`
	Score   int                 `json:"trustScore"`
	Tier    string              `json:"tier"`
	Stats   TrustStats          `json:"stats"`
	History []SettlementHistory `json:"history"`
}
