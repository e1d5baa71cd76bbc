package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gr4yha7/ghosttab-backend/internal/apperr"
	"github.com/gr4yha7/ghosttab-backend/internal/audit"
	"github.com/gr4yha7/ghosttab-backend/internal/calculator"
	"github.com/gr4yha7/ghosttab-backend/internal/config"
	"github.com/gr4yha7/ghosttab-backend/internal/ledger"
	"github.com/gr4yha7/ghosttab-backend/internal/metrics"
	"github.com/gr4yha7/ghosttab-backend/internal/models"
	"github.com/gr4yha7/ghosttab-backend/internal/repository"
	"go.uber.org/zap"
)

type TrustUpdater interface {
	UpdateTrustScore(ctx context.Context, o models.SettlementOutcome) (*models.SettlementHistory, error)
}

// SettlementService validates payment claims against the ledger and records them
type SettlementService struct {
	tabs      TabStore
	users     UserStore
	verifier  ledger.Verifier
	trust     TrustUpdater
	notifier  Notifier
	audit     *audit.AuditLogger
	metrics   *metrics.Metrics
	tabCfg    config.TabConfig
	ledgerCfg config.LedgerConfig
	logger    *zap.Logger
	now       func() time.Time
}

func NewSettlementService(
	tabs TabStore,
	users UserStore,
	verifier ledger.Verifier,
	trust TrustUpdater,
	notifier Notifier,
	auditLog *audit.AuditLogger,
	m *metrics.Metrics,
	tabCfg config.TabConfig,
	ledgerCfg config.LedgerConfig,
	logger *zap.Logger,
) *SettlementService {
	return &SettlementService{
		tabs:      tabs,
		users:     users,
		verifier:  verifier,
		trust:     trust,
		notifier:  notifier,
		audit:     auditLog,
		metrics:   m,
		tabCfg:    tabCfg,
		ledgerCfg: ledgerCfg,
		logger:    logger.With(zap.String("component", "settlement")),
		now:       time.Now,
	}
}

// Settle records userID's payment of their share in tabID. Every check,
// including the ledger lookup, runs before the single conditional write that
// flips the participant to paid.
func (s *SettlementService) Settle(ctx context.Context, tabID, userID string, req models.SettleRequest) (*models.TabParticipant, error) {
	p, err := s.settle(ctx, tabID, userID, req)
	switch {
	case err == nil:
		s.metrics.Settlements.WithLabelValues("success").Inc()
	case apperr.KindOf(err) == apperr.KindInternal:
		s.metrics.Settlements.WithLabelValues("error").Inc()
		s.audit.LogError(tabID, userID, err)
	default:
		s.metrics.Settlements.WithLabelValues("rejected").Inc()
	}
	return p, err
}

func (s *SettlementService) settle(ctx context.Context, tabID, userID string, req models.SettleRequest) (*models.TabParticipant, error) {
	tab, err := s.tabs.GetTab(ctx, tabID)
	if err != nil {
		return nil, storeErr(err, "tab")
	}
	p, err := s.tabs.GetParticipant(ctx, tabID, userID)
	if err != nil {
		return nil, storeErr(err, "participant")
	}
	if p.Paid {
		return nil, apperr.Validation("already settled")
	}
	if !tab.IsOpen() {
		return nil, apperr.Validation("tab is not open")
	}
	if !p.Verified {
		return nil, apperr.Validation("participation has not been verified")
	}

	txHash := strings.ToLower(strings.TrimSpace(req.TxHash))
	if !ledger.ValidHash(txHash) {
		return nil, apperr.Validation("invalid transaction hash")
	}

	payer, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, storeErr(err, "user")
	}
	if payer.WalletAddress == "" {
		return nil, apperr.Validation("register a wallet address before settling")
	}
	asset, ok := s.ledgerCfg.Assets[tab.Currency]
	if !ok {
		return nil, apperr.Validationf("currency %s cannot be settled on the ledger", tab.Currency)
	}

	now := s.now().UTC()
	scale := s.tabCfg.Scale(tab.Currency)
	owed := calculator.Assess(p.ShareAmount, tab.PenaltyRateBps, tab.SettlementDeadline, now, scale)
	if req.Amount.LessThan(owed.Final) {
		return nil, apperr.Validation("payment amount is less than the amount owed").
			WithDetail("required", owed.Final.String()).
			WithDetail("received", req.Amount.String()).
			WithDetail("penalty", owed.Penalty.String())
	}

	used, err := s.tabs.IsTxHashRecorded(ctx, txHash)
	if err != nil {
		return nil, storeErr(err, "transaction")
	}
	if used {
		return nil, apperr.Validation("transaction already used")
	}

	tx, err := s.verify(ctx, txHash, asset)
	if err != nil {
		return nil, err
	}
	if !tx.Confirmed {
		return nil, apperr.Validation("transaction is not confirmed yet")
	}
	if !tx.Amount.Round(scale).Equal(p.ShareAmount) {
		return nil, apperr.Validation("transferred amount does not match your share").
			WithDetail("expected", p.ShareAmount.String()).
			WithDetail("received", tx.Amount.String())
	}
	if !strings.EqualFold(tx.From, payer.WalletAddress) {
		return nil, apperr.Validation("transaction sender does not match your wallet address")
	}
	recipient := tab.SettlementWallet
	if recipient == "" {
		recipient = s.ledgerCfg.SettlementAddress
	}
	if !strings.EqualFold(tx.To, recipient) {
		return nil, apperr.Validation("transaction recipient does not match the settlement address")
	}

	rec := repository.PaymentRecord{
		ParticipantID: p.ID,
		TabID:         tabID,
		PaidAmount:    req.Amount,
		TxHash:        txHash,
		PaidAt:        now,
		DaysLate:      owed.DaysLate,
		Penalty:       owed.Penalty,
		Final:         owed.Final,
	}
	if err := s.tabs.MarkParticipantPaid(ctx, rec); err != nil {
		return nil, storeErr(err, "participant")
	}
	s.audit.LogSettlement(tabID, userID, txHash, req.Amount, owed.DaysLate)
	s.logger.Info("participant settled",
		zap.String("tab_id", tabID),
		zap.String("user_id", userID),
		zap.String("tx_hash", txHash),
		zap.Int("days_late", owed.DaysLate),
	)

	// The payment is committed; follow-up work must not be cut short by the caller.
	after := context.WithoutCancel(ctx)
	s.recordTrust(after, tab, userID, owed)

	if userID != tab.CreatorID {
		s.notifier.Notify([]string{tab.CreatorID}, models.Notification{
			Type:  models.NotificationPaymentReceived,
			Title: "Payment received",
			Body:  payer.Username + " paid " + req.Amount.String() + " " + tab.Currency + " for " + tab.Title,
			Data:  map[string]any{"tabId": tabID, "userId": userID, "txHash": txHash},
		})
	}
	s.completeIfAllPaid(after, tab, userID)

	paid := *p
	paid.Paid = true
	paid.PaidAmount = req.Amount
	paid.PaidTxHash = txHash
	paid.PaidAt = &now
	paid.DaysLate = owed.DaysLate
	paid.PenaltyAmount = owed.Penalty
	paid.FinalAmount = owed.Final
	paid.SettledEarly = owed.OnTime()
	return &paid, nil
}

func (s *SettlementService) verify(ctx context.Context, txHash string, asset config.Asset) (*ledger.Transaction, error) {
	start := time.Now()
	tx, err := s.verifier.VerifyTransaction(ctx, txHash, asset)
	outcome := "ok"
	defer func() {
		s.metrics.LedgerVerifyDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	switch {
	case err == nil:
		return tx, nil
	case errors.Is(err, ledger.ErrTxNotFound):
		outcome = "not_found"
		return nil, apperr.NotFound("transaction")
	case errors.Is(err, ledger.ErrInvalidHash):
		outcome = "invalid"
		return nil, apperr.Validation("invalid transaction hash")
	case errors.Is(err, ledger.ErrAssetMismatch):
		outcome = "invalid"
		return nil, apperr.Validation("transaction does not transfer the tab currency")
	case errors.Is(err, ledger.ErrTxReverted):
		outcome = "invalid"
		return nil, apperr.Validation("transaction failed on the ledger")
	default:
		outcome = "error"
		return nil, apperr.Internal("ledger verification failed", err)
	}
}

func (s *SettlementService) recordTrust(ctx context.Context, tab *models.Tab, userID string, owed calculator.Assessment) {
	_, err := s.trust.UpdateTrustScore(ctx, models.SettlementOutcome{
		UserID:        userID,
		TabID:         tab.ID,
		OnTime:        owed.OnTime(),
		DaysLate:      owed.DaysLate,
		PenaltyAmount: owed.Penalty,
	})
	if err == nil {
		return
	}
	if errors.Is(err, ErrTrustAlreadyRecorded) {
		s.logger.Warn("trust outcome already recorded", zap.String("tab_id", tab.ID), zap.String("user_id", userID))
		return
	}
	s.metrics.TrustUpdateFailures.Inc()
	s.audit.LogTrustInconsistency(tab.ID, userID, owed.DaysLate, err)
	s.logger.Error("trust update failed after settlement",
		zap.String("tab_id", tab.ID), zap.String("user_id", userID), zap.Error(err))
}

// completeIfAllPaid closes the tab when this settlement was the last one.
// Only the caller whose update performs the transition sends TAB_SETTLED.
func (s *SettlementService) completeIfAllPaid(ctx context.Context, tab *models.Tab, userID string) {
	settled, err := s.tabs.CompleteTabIfAllPaid(ctx, tab.ID)
	if err != nil {
		s.logger.Error("complete tab", zap.String("tab_id", tab.ID), zap.Error(err))
		return
	}
	if !settled {
		return
	}
	s.metrics.TabsSettled.Inc()
	s.audit.LogTabTransition(tab.ID, userID, string(models.TabStatusOpen), string(models.TabStatusSettled))
	s.logger.Info("tab settled", zap.String("tab_id", tab.ID))
	notifyTabSettled(ctx, s.tabs, s.notifier, s.logger, tab)
}
