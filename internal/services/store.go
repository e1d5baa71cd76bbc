package services

import (
	"context"
	"errors"
	"time"

	"github.com/gr4yha7/ghosttab-backend/internal/apperr"
	"github.com/gr4yha7/ghosttab-backend/internal/models"
	"github.com/gr4yha7/ghosttab-backend/internal/repository"
)

// TabStore is the tab and participant persistence the services depend on
type TabStore interface {
	CreateTab(ctx context.Context, tab *models.Tab, participants []models.TabParticipant) error
	GetTab(ctx context.Context, tabID string) (*models.Tab, error)
	ListUserTabs(ctx context.Context, userID string, f models.TabFilter) ([]models.UserTab, int, error)
	UpdateTabDetails(ctx context.Context, tabID string, u repository.TabUpdate) error
	CancelTab(ctx context.Context, tabID string) error
	CompleteTabIfAllPaid(ctx context.Context, tabID string) (bool, error)

	GetParticipant(ctx context.Context, tabID, userID string) (*models.TabParticipant, error)
	ListParticipants(ctx context.Context, tabID string) ([]models.ParticipantView, error)
	VerifyParticipant(ctx context.Context, tabID, userID string) error
	RemoveParticipant(ctx context.Context, tabID, userID string, reshare repository.ReshareFunc) error
	MarkParticipantPaid(ctx context.Context, rec repository.PaymentRecord) error
	IsTxHashRecorded(ctx context.Context, txHash string) (bool, error)
}

type UserStore interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetUsers(ctx context.Context, userIDs []string) (map[string]*models.User, error)
	GetFriendshipStatus(ctx context.Context, userID, otherID string) (models.FriendshipStatus, error)
	RecordSettlementOutcome(ctx context.Context, o models.SettlementOutcome, score repository.ScoreFunc, at time.Time) (*models.SettlementHistory, error)
	ListSettlementHistory(ctx context.Context, userID string, limit int) ([]models.SettlementHistory, error)
}

type OTPStore interface {
	CreateOTP(ctx context.Context, otp *models.OTPCode) error
	ConsumeOTP(ctx context.Context, email, codeHash string, typ models.OTPType, now time.Time, match func(models.Metadata) error) (models.Metadata, error)
	DeleteExpiredOTPs(ctx context.Context, now, usedBefore time.Time) (int64, error)
}

type ReminderStore interface {
	ListDueParticipants(ctx context.Context, from, to time.Time) ([]repository.DueParticipant, error)
	ListOverdueParticipants(ctx context.Context, now time.Time) ([]repository.DueParticipant, error)
	ClaimReminder(ctx context.Context, participantID string, now, cutoff time.Time) (bool, error)
	ClaimOverdueNotice(ctx context.Context, tabID string, now, cutoff time.Time) (bool, error)
}

// Notifier delivers push notifications and email without blocking the caller
type Notifier interface {
	Notify(userIDs []string, n models.Notification)
	Email(e models.Email)
}

var _ interface {
	TabStore
	UserStore
	OTPStore
	ReminderStore
} = (*repository.Repository)(nil)

// storeErr maps repository sentinels onto error kinds. resource names the
// entity reported when a lookup comes back empty.
func storeErr(err error, resource string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(resource)
	case errors.Is(err, repository.ErrTabNotOpen):
		return apperr.Validation("tab is not open")
	case errors.Is(err, repository.ErrAlreadyPaid):
		return apperr.Validation("already settled")
	case errors.Is(err, repository.ErrDuplicateTxHash):
		return apperr.Validation("transaction already used")
	case errors.Is(err, repository.ErrOTPInvalid):
		return apperr.Validation("invalid or expired OTP")
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.Internal("storage failure", err)
}
