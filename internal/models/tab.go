package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TabStatus string

const (
	TabStatusOpen      TabStatus = "OPEN"
	TabStatusSettled   TabStatus = "SETTLED"
	TabStatusCancelled TabStatus = "CANCELLED"
)

type TabCategory string

const (
	CategoryDining         TabCategory = "DINING"
	CategoryTravel         TabCategory = "TRAVEL"
	CategoryGroceries      TabCategory = "GROCERIES"
	CategoryEntertainment  TabCategory = "ENTERTAINMENT"
	CategoryUtilities      TabCategory = "UTILITIES"
	CategoryGifts          TabCategory = "GIFTS"
	CategoryTransportation TabCategory = "TRANSPORTATION"
	CategoryAccommodation  TabCategory = "ACCOMMODATION"
	CategoryOther          TabCategory = "OTHER"
)

// SplitMode records how shares were assigned at creation
type SplitMode string

const (
	SplitEqual  SplitMode = "EQUAL"
	SplitCustom SplitMode = "CUSTOM"
)

// Tab represents a shared expense split among participants
type Tab struct {
	ID                  string          `json:"id" db:"id"`
	CreatorID           string          `json:"creatorId" db:"creator_id"`
	Title               string          `json:"title" db:"title"`
	Description         string          `json:"description,omitempty" db:"description"`
	Category            TabCategory     `json:"category" db:"category"`
	TotalAmount         decimal.Decimal `json:"totalAmount" db:"total_amount"`
	Currency            string          `json:"currency" db:"currency"`
	Status              TabStatus       `json:"status" db:"status"`
	SplitMode           SplitMode       `json:"splitMode" db:"split_mode"`
	SettlementDeadline  *time.Time      `json:"settlementDeadline,omitempty" db:"settlement_deadline"`
	PenaltyRateBps      int             `json:"penaltyRateBasisPoints" db:"penalty_rate_bps"`
	SettlementWallet    string          `json:"settlementWallet,omitempty" db:"settlement_wallet"`
	LastOverdueNoticeAt *time.Time      `json:"-" db:"last_overdue_notice_at"`
	CreatedAt           time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time       `json:"updatedAt" db:"updated_at"`
}

func (t *Tab) IsOpen() bool {
	return t.Status == TabStatusOpen
}

// TabParticipant is one user's share of a tab
type TabParticipant struct {
	ID                 string          `json:"id" db:"id"`
	TabID              string          `json:"tabId" db:"tab_id"`
	UserID             string          `json:"userId" db:"user_id"`
	ShareAmount        decimal.Decimal `json:"shareAmount" db:"share_amount"`
	Paid               bool            `json:"paid" db:"paid"`
	PaidAmount         decimal.Decimal `json:"paidAmount" db:"paid_amount"`
	PaidTxHash         string          `json:"paidTxHash,omitempty" db:"paid_tx_hash"`
	PaidAt             *time.Time      `json:"paidAt,omitempty" db:"paid_at"`
	Verified           bool            `json:"verified" db:"verified"`
	DaysLate           int             `json:"daysLate" db:"days_late"`
	PenaltyAmount      decimal.Decimal `json:"penaltyAmount" db:"penalty_amount"`
	FinalAmount        decimal.Decimal `json:"finalAmount" db:"final_amount"`
	SettledEarly       bool            `json:"settledEarly" db:"settled_early"`
	LastReminderSentAt *time.Time      `json:"-" db:"last_reminder_sent_at"`
	ReminderCount      int             `json:"-" db:"reminder_count"`
	CreatedAt          time.Time       `json:"createdAt" db:"created_at"`
}

// ParticipantView joins a participant with the public user fields
type ParticipantView struct {
	TabParticipant
	Username      string `json:"username"`
	WalletAddress string `json:"walletAddress,omitempty"`
}

// TabSummary is derived from the participant rows
type TabSummary struct {
	TotalPaid  decimal.Decimal `json:"totalPaid"`
	Remaining  decimal.Decimal `json:"remaining"`
	AllSettled bool            `json:"allSettled"`
}

// TabDetail is the projection returned to participants
type TabDetail struct {
	Tab
	Participants []ParticipantView `json:"participants"`
	Summary      TabSummary        `json:"summary"`
}

// UserTab is a row of the caller's tab listing
type UserTab struct {
	Tab
	UserShare        decimal.Decimal `json:"userShare"`
	UserPaid         bool            `json:"userPaid"`
	ParticipantCount int             `json:"participantCount"`
}

// TabFilter narrows a user's tab listing
type TabFilter struct {
	Status   TabStatus
	Category TabCategory
	Search   string
	Page     int
	Limit    int
}

// TabPage is one page of a tab listing
type TabPage struct {
	Tabs  []UserTab `json:"tabs"`
	Total int       `json:"total"`
	Page  int       `json:"page"`
	Limit int       `json:"limit"`
}

// Summarize computes paid/remaining totals for a set of participants
func Summarize(total decimal.Decimal, participants []TabParticipant) TabSummary {
	paid := decimal.Zero
	all := len(participants) > 0
	for _, p := range participants {
		if p.Paid {
			paid = paid.Add(p.ShareAmount)
		} else {
			all = false
		}
	}
	return TabSummary{TotalPaid: paid, Remaining: total.Sub(paid), AllSettled: all}
}

// ParticipantDraft is a participant before it is persisted
type ParticipantDraft struct {
	UserID      string           `json:"userId" validate:"required"`
	ShareAmount *decimal.Decimal `json:"shareAmount,omitempty"`
}

// CreateTabRequest is the payload for opening a tab
type CreateTabRequest struct {
	Title              string             `json:"title" validate:"required,min=1,max=100"`
	Description        string             `json:"description" validate:"max=500"`
	Category           TabCategory        `json:"category" validate:"omitempty,oneof=DINING TRAVEL GROCERIES ENTERTAINMENT UTILITIES GIFTS TRANSPORTATION ACCOMMODATION OTHER"`
	TotalAmount        decimal.Decimal    `json:"totalAmount"`
	Currency           string             `json:"currency" validate:"omitempty,min=2,max=10"`
	SettlementDeadline *time.Time         `json:"settlementDeadline"`
	PenaltyRateBps     *int               `json:"penaltyRateBasisPoints" validate:"omitempty,min=0,max=10000"`
	SettlementWallet   string             `json:"settlementWallet" validate:"omitempty,eth_addr"`
	Participants       []ParticipantDraft `json:"participants" validate:"dive"`
}

// UpdateTabRequest carries the creator-editable fields
type UpdateTabRequest struct {
	Title       *string      `json:"title" validate:"omitempty,min=1,max=100"`
	Description *string      `json:"description" validate:"omitempty,max=500"`
	Category    *TabCategory `json:"category" validate:"omitempty,oneof=DINING TRAVEL GROCERIES ENTERTAINMENT UTILITIES GIFTS TRANSPORTATION ACCOMMODATION OTHER"`
}

// VerifyParticipationRequest accepts or declines an invitation
type VerifyParticipationRequest struct {
	OTPCode string `json:"otpCode" validate:"required,min=4,max=10,numeric"`
	Accept  *bool  `json:"accept" validate:"required"`
}

// SettleRequest is a participant's payment claim
type SettleRequest struct {
	TxHash string          `json:"txHash" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
}
