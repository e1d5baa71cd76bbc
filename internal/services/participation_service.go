package services

import (
	"context"

	"github.com/gr4yha7/ghosttab-backend/internal/apperr"
	"github.com/gr4yha7/ghosttab-backend/internal/audit"
	"github.com/gr4yha7/ghosttab-backend/internal/calculator"
	"github.com/gr4yha7/ghosttab-backend/internal/config"
	"github.com/gr4yha7/ghosttab-backend/internal/models"
	"github.com/gr4yha7/ghosttab-backend/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ParticipationService runs the OTP-gated accept/decline flow for invitations
type ParticipationService struct {
	tabs     TabStore
	users    UserStore
	otp      OTPManager
	notifier Notifier
	audit    *audit.AuditLogger
	cfg      config.TabConfig
	logger   *zap.Logger
}

func NewParticipationService(tabs TabStore, users UserStore, otp OTPManager, notifier Notifier, auditLog *audit.AuditLogger, cfg config.TabConfig, logger *zap.Logger) *ParticipationService {
	return &ParticipationService{
		tabs:     tabs,
		users:    users,
		otp:      otp,
		notifier: notifier,
		audit:    auditLog,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "participation")),
	}
}

// Verify accepts or declines userID's invitation to tabID with the code they received
func (s *ParticipationService) Verify(ctx context.Context, tabID, userID, code string, accept bool) error {
	tab, err := s.tabs.GetTab(ctx, tabID)
	if err != nil {
		return storeErr(err, "tab")
	}
	if !tab.IsOpen() {
		return apperr.Validation("tab is not open")
	}
	if tab.CreatorID == userID {
		return apperr.Validation("the creator does not need to verify participation")
	}
	p, err := s.tabs.GetParticipant(ctx, tabID, userID)
	if err != nil {
		return storeErr(err, "participant")
	}
	if p.Verified && accept {
		return apperr.Validation("participation already verified")
	}
	if p.Paid {
		return apperr.Validation("already settled")
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return storeErr(err, "user")
	}

	reshare := s.reshare(s.cfg.Scale(tab.Currency))
	if !accept {
		// Reject an impossible decline before the code is spent.
		views, err := s.tabs.ListParticipants(ctx, tabID)
		if err != nil {
			return storeErr(err, "tab")
		}
		var remaining []models.TabParticipant
		for _, v := range views {
			if v.UserID != userID {
				remaining = append(remaining, v.TabParticipant)
			}
		}
		if _, err := reshare(tab, *p, remaining); err != nil {
			return err
		}
	}

	if _, err := s.otp.Verify(ctx, user.Email, code, models.OTPTabParticipation, func(md models.Metadata) error {
		if md.String("tabId") != tabID {
			return apperr.Validation("OTP does not match this tab")
		}
		return nil
	}); err != nil {
		return err
	}

	if accept {
		if err := s.tabs.VerifyParticipant(ctx, tabID, userID); err != nil {
			return storeErr(err, "participant")
		}
		s.audit.LogParticipation(tabID, userID, "ACCEPTED")
		s.notifier.Notify([]string{tab.CreatorID}, models.Notification{
			Type:  models.NotificationTabUpdated,
			Title: "Invitation accepted",
			Body:  user.Username + " joined " + tab.Title,
			Data:  map[string]any{"tabId": tabID, "userId": userID},
		})
		return nil
	}

	if err := s.tabs.RemoveParticipant(ctx, tabID, userID, reshare); err != nil {
		return storeErr(err, "participant")
	}
	s.audit.LogParticipation(tabID, userID, "DECLINED")
	s.logger.Info("participant declined", zap.String("tab_id", tabID), zap.String("user_id", userID))

	s.notifier.Notify([]string{tab.CreatorID}, models.Notification{
		Type:  models.NotificationTabUpdated,
		Title: "Invitation declined",
		Body:  user.Username + " declined " + tab.Title + "; shares were recalculated",
		Data:  map[string]any{"tabId": tabID, "userId": userID},
	})

	// Removing the last unpaid participant can complete the tab.
	settled, err := s.tabs.CompleteTabIfAllPaid(ctx, tabID)
	if err != nil {
		s.logger.Error("complete tab after decline", zap.String("tab_id", tabID), zap.Error(err))
		return nil
	}
	if settled {
		s.audit.LogTabTransition(tabID, userID, string(models.TabStatusOpen), string(models.TabStatusSettled))
		notifyTabSettled(ctx, s.tabs, s.notifier, s.logger, tab)
	}
	return nil
}

// reshare restores the share sum after a decline. Equal tabs spread what is
// still owed over the unpaid participants; custom tabs keep their shares and
// shrink the total.
func (s *ParticipationService) reshare(scale int32) repository.ReshareFunc {
	return func(tab *models.Tab, removed models.TabParticipant, remaining []models.TabParticipant) (repository.Reshare, error) {
		if tab.SplitMode == models.SplitCustom {
			total := tab.TotalAmount.Sub(removed.ShareAmount)
			if len(remaining) == 0 || !total.IsPositive() {
				return repository.Reshare{}, apperr.Validation("the last participant cannot decline")
			}
			return repository.Reshare{TotalAmount: total}, nil
		}

		owed := tab.TotalAmount
		var unpaid []models.TabParticipant
		for _, p := range remaining {
			if p.Paid {
				owed = owed.Sub(p.ShareAmount)
				continue
			}
			unpaid = append(unpaid, p)
		}
		if len(unpaid) == 0 {
			return repository.Reshare{}, apperr.Validation("no unpaid participant left to absorb the declined share")
		}
		parts := calculator.Equal(owed, len(unpaid), scale)
		if !parts[len(parts)-1].IsPositive() {
			return repository.Reshare{}, apperr.Validation("remaining amount is too small to split")
		}
		shares := make(map[string]decimal.Decimal, len(unpaid))
		for i, p := range unpaid {
			shares[p.ID] = parts[i]
		}
		return repository.Reshare{Shares: shares, TotalAmount: tab.TotalAmount}, nil
	}
}

// notifyTabSettled tells every participant and the creator the tab is closed
func notifyTabSettled(ctx context.Context, tabs TabStore, notifier Notifier, logger *zap.Logger, tab *models.Tab) {
	views, err := tabs.ListParticipants(ctx, tab.ID)
	if err != nil {
		logger.Warn("list participants for settled notice", zap.String("tab_id", tab.ID), zap.Error(err))
	}
	ids := []string{tab.CreatorID}
	for _, v := range views {
		if v.UserID != tab.CreatorID {
			ids = append(ids, v.UserID)
		}
	}
	notifier.Notify(ids, models.Notification{
		Type:  models.NotificationTabSettled,
		Title: "Tab settled",
		Body:  tab.Title + " is fully settled",
		Data:  map[string]any{"tabId": tab.ID},
	})
}
