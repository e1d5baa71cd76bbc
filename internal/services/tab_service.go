package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gr4yha7/ghosttab-backend/internal/apperr"
	"github.com/gr4yha7/ghosttab-backend/internal/audit"
	"github.com/gr4yha7/ghosttab-backend/internal/calculator"
	"github.com/gr4yha7/ghosttab-backend/internal/config"
	"github.com/gr4yha7/ghosttab-backend/internal/models"
	"github.com/gr4yha7/ghosttab-backend/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// OTPManager is the part of OTPService used by the tab flows
type OTPManager interface {
	Issue(ctx context.Context, email string, typ models.OTPType, metadata models.Metadata) error
	Verify(ctx context.Context, email, code string, typ models.OTPType, match func(models.Metadata) error) (models.Metadata, error)
	AllowResend(ctx context.Context, email string) error
}

type TabService struct {
	tabs     TabStore
	users    UserStore
	otp      OTPManager
	notifier Notifier
	audit    *audit.AuditLogger
	cfg      config.TabConfig
	assets   map[string]config.Asset
	logger   *zap.Logger
	now      func() time.Time
}

func NewTabService(tabs TabStore, users UserStore, otp OTPManager, notifier Notifier, auditLog *audit.AuditLogger, cfg config.TabConfig, assets map[string]config.Asset, logger *zap.Logger) *TabService {
	return &TabService{
		tabs:     tabs,
		users:    users,
		otp:      otp,
		notifier: notifier,
		audit:    auditLog,
		cfg:      cfg,
		assets:   assets,
		logger:   logger.With(zap.String("component", "tabs")),
		now:      time.Now,
	}
}

func participationMetadata(tab *models.Tab, share decimal.Decimal) models.Metadata {
	return models.Metadata{
		"tabId":       tab.ID,
		"tabTitle":    tab.Title,
		"shareAmount": share.String(),
		"currency":    tab.Currency,
		"creatorId":   tab.CreatorID,
	}
}

func (s *TabService) CreateTab(ctx context.Context, creatorID string, req models.CreateTabRequest) (*models.TabDetail, error) {
	now := s.now().UTC()

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}
	if _, ok := s.assets[currency]; !ok {
		return nil, apperr.Validationf("unsupported currency %s", currency)
	}
	if req.SettlementDeadline != nil && !req.SettlementDeadline.After(now) {
		return nil, apperr.Validation("settlement deadline must be in the future")
	}
	penalty := s.cfg.DefaultPenalty
	if req.PenaltyRateBps != nil {
		penalty = *req.PenaltyRateBps
	}
	category := req.Category
	if category == "" {
		category = models.CategoryOther
	}

	seen := make(map[string]bool, len(req.Participants))
	ids := []string{creatorID}
	for _, p := range req.Participants {
		if seen[p.UserID] {
			return nil, apperr.Validation("duplicate participant").WithDetail("userId", p.UserID)
		}
		seen[p.UserID] = true
		if p.UserID != creatorID {
			ids = append(ids, p.UserID)
		}
	}

	shares, mode, err := calculator.Split(req.TotalAmount, s.cfg.Scale(currency), req.Participants)
	if err != nil {
		return nil, err
	}

	users, err := s.users.GetUsers(ctx, ids)
	if err != nil {
		return nil, apperr.Internal("load participants", err)
	}
	if users[creatorID] == nil {
		return nil, apperr.NotFound("user")
	}
	for _, id := range ids[1:] {
		u := users[id]
		if u == nil {
			return nil, apperr.Validation("participant not found").WithDetail("userId", id)
		}
		status, err := s.users.GetFriendshipStatus(ctx, creatorID, id)
		if err != nil {
			return nil, apperr.Internal("check friendship", err)
		}
		if status != models.FriendshipAccepted {
			return nil, apperr.Validation("participant is not a friend").WithDetail("userId", id)
		}
		if u.Email == "" {
			return nil, apperr.Validation("participant has no email address").WithDetail("userId", id)
		}
	}

	tab := &models.Tab{
		ID:                 uuid.NewString(),
		CreatorID:          creatorID,
		Title:              strings.TrimSpace(req.Title),
		Description:        req.Description,
		Category:           category,
		TotalAmount:        req.TotalAmount,
		Currency:           currency,
		Status:             models.TabStatusOpen,
		SplitMode:          mode,
		SettlementDeadline: req.SettlementDeadline,
		PenaltyRateBps:     penalty,
		SettlementWallet:   req.SettlementWallet,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	participants := make([]models.TabParticipant, len(shares))
	views := make([]models.ParticipantView, len(shares))
	for i, sh := range shares {
		participants[i] = models.TabParticipant{
			ID:          uuid.NewString(),
			TabID:       tab.ID,
			UserID:      sh.UserID,
			ShareAmount: sh.Amount,
			Verified:    sh.UserID == creatorID,
			CreatedAt:   now,
		}
		u := users[sh.UserID]
		views[i] = models.ParticipantView{TabParticipant: participants[i], Username: u.Username, WalletAddress: u.WalletAddress}
	}

	if err := s.tabs.CreateTab(ctx, tab, participants); err != nil {
		return nil, apperr.Internal("create tab", err)
	}
	s.audit.LogTabTransition(tab.ID, creatorID, "", string(models.TabStatusOpen))

	var invited []string
	for _, p := range participants {
		if p.UserID == creatorID {
			continue
		}
		invited = append(invited, p.UserID)
		if err := s.otp.Issue(ctx, users[p.UserID].Email, models.OTPTabParticipation, participationMetadata(tab, p.ShareAmount)); err != nil {
			s.logger.Warn("participation code not sent",
				zap.String("tab_id", tab.ID), zap.String("user_id", p.UserID), zap.Error(err))
		}
	}
	if len(invited) > 0 {
		s.notifier.Notify(invited, models.Notification{
			Type:  models.NotificationTabCreated,
			Title: "New tab",
			Body:  users[creatorID].Username + " added you to " + tab.Title,
			Data:  map[string]any{"tabId": tab.ID},
		})
	}

	s.logger.Info("tab created",
		zap.String("tab_id", tab.ID),
		zap.String("creator_id", creatorID),
		zap.Int("participants", len(participants)),
		zap.String("split_mode", string(mode)),
	)

	return &models.TabDetail{
		Tab:          *tab,
		Participants: views,
		Summary:      models.Summarize(tab.TotalAmount, participants),
	}, nil
}

// GetTab returns the tab to its creator and participants only
func (s *TabService) GetTab(ctx context.Context, tabID, userID string) (*models.TabDetail, error) {
	tab, err := s.tabs.GetTab(ctx, tabID)
	if err != nil {
		return nil, storeErr(err, "tab")
	}
	views, err := s.tabs.ListParticipants(ctx, tabID)
	if err != nil {
		return nil, storeErr(err, "tab")
	}

	member := tab.CreatorID == userID
	rows := make([]models.TabParticipant, len(views))
	for i, v := range views {
		rows[i] = v.TabParticipant
		if v.UserID == userID {
			member = true
		}
	}
	if !member {
		return nil, apperr.Forbidden("you are not a participant of this tab")
	}
	if views == nil {
		views = []models.ParticipantView{}
	}

	return &models.TabDetail{Tab: *tab, Participants: views, Summary: models.Summarize(tab.TotalAmount, rows)}, nil
}

func (s *TabService) GetUserTabs(ctx context.Context, userID string, f models.TabFilter) (*models.TabPage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	tabs, total, err := s.tabs.ListUserTabs(ctx, userID, f)
	if err != nil {
		return nil, storeErr(err, "tab")
	}
	if tabs == nil {
		tabs = []models.UserTab{}
	}
	return &models.TabPage{Tabs: tabs, Total: total, Page: f.Page, Limit: f.Limit}, nil
}

// loadOwnedOpenTab returns the tab when userID created it and it is still OPEN
func (s *TabService) loadOwnedOpenTab(ctx context.Context, tabID, userID string) (*models.Tab, error) {
	tab, err := s.tabs.GetTab(ctx, tabID)
	if err != nil {
		return nil, storeErr(err, "tab")
	}
	if tab.CreatorID != userID {
		return nil, apperr.Forbidden("only the tab creator can do this")
	}
	if !tab.IsOpen() {
		return nil, apperr.Validation("tab is not open")
	}
	return tab, nil
}

func (s *TabService) UpdateTab(ctx context.Context, tabID, userID string, req models.UpdateTabRequest) (*models.Tab, error) {
	if _, err := s.loadOwnedOpenTab(ctx, tabID, userID); err != nil {
		return nil, err
	}
	var title *string
	if req.Title != nil {
		t := strings.TrimSpace(*req.Title)
		title = &t
	}
	if err := s.tabs.UpdateTabDetails(ctx, tabID, repository.TabUpdate{
		Title:       title,
		Description: req.Description,
		Category:    req.Category,
	}); err != nil {
		return nil, storeErr(err, "tab")
	}

	tab, err := s.tabs.GetTab(ctx, tabID)
	if err != nil {
		return nil, storeErr(err, "tab")
	}
	s.notifyOthers(ctx, tab, userID, models.Notification{
		Type:  models.NotificationTabUpdated,
		Title: "Tab updated",
		Body:  tab.Title + " was updated",
		Data:  map[string]any{"tabId": tab.ID},
	})
	return tab, nil
}

// CancelTab moves an OPEN tab to CANCELLED. Only the creator may cancel.
func (s *TabService) CancelTab(ctx context.Context, tabID, userID string) error {
	tab, err := s.loadOwnedOpenTab(ctx, tabID, userID)
	if err != nil {
		return err
	}
	if err := s.tabs.CancelTab(ctx, tabID); err != nil {
		return storeErr(err, "tab")
	}
	s.audit.LogTabTransition(tabID, userID, string(models.TabStatusOpen), string(models.TabStatusCancelled))

	s.notifyOthers(ctx, tab, userID, models.Notification{
		Type:  models.NotificationTabUpdated,
		Title: "Tab cancelled",
		Body:  tab.Title + " was cancelled",
		Data:  map[string]any{"tabId": tab.ID, "status": string(models.TabStatusCancelled)},
	})
	return nil
}

// ResendOTP issues a fresh participation code to an invited participant
func (s *TabService) ResendOTP(ctx context.Context, tabID, userID string) error {
	tab, err := s.tabs.GetTab(ctx, tabID)
	if err != nil {
		return storeErr(err, "tab")
	}
	if !tab.IsOpen() {
		return apperr.Validation("tab is not open")
	}
	if tab.CreatorID == userID {
		return apperr.Validation("the creator does not need a verification code")
	}
	p, err := s.tabs.GetParticipant(ctx, tabID, userID)
	if err != nil {
		return storeErr(err, "participant")
	}
	if p.Verified {
		return apperr.Validation("participation already verified")
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return storeErr(err, "user")
	}
	if err := s.otp.AllowResend(ctx, user.Email); err != nil {
		return err
	}
	return s.otp.Issue(ctx, user.Email, models.OTPTabParticipation, participationMetadata(tab, p.ShareAmount))
}

func (s *TabService) notifyOthers(ctx context.Context, tab *models.Tab, actorID string, n models.Notification) {
	views, err := s.tabs.ListParticipants(ctx, tab.ID)
	if err != nil {
		s.logger.Warn("list participants for notification", zap.String("tab_id", tab.ID), zap.Error(err))
		return
	}
	var ids []string
	for _, v := range views {
		if v.UserID != actorID {
			ids = append(ids, v.UserID)
		}
	}
	if len(ids) > 0 {
		s.notifier.Notify(ids, n)
	}
}
