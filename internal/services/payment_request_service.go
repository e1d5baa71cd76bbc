package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/gr4yha7/ghosttab-backend/internal/apperr"
	"github.com/gr4yha7/ghosttab-backend/internal/calculator"
	"github.com/gr4yha7/ghosttab-backend/internal/config"
	"github.com/gr4yha7/ghosttab-backend/internal/ledger"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

const qrSize = 256

// PaymentRequest tells a participant exactly what to send and where
type PaymentRequest struct {
	TabID         string          `json:"tabId"`
	Currency      string          `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	PenaltyAmount decimal.Decimal `json:"penaltyAmount"`
	TotalDue      decimal.Decimal `json:"totalDue"`
	Recipient     string          `json:"recipient"`
	Token         string          `json:"token,omitempty"`
	ChainID       int64           `json:"chainId"`
	URI           string          `json:"uri"`
	QRCode        string          `json:"qrCode"`
}

// PaymentRequestService renders a participant's outstanding share as an
// EIP-681 URI and QR code. The on-chain amount is the base share; any
// penalty is claimed in the settle call.
type PaymentRequestService struct {
	tabs      TabStore
	tabCfg    config.TabConfig
	ledgerCfg config.LedgerConfig
	now       func() time.Time
}

func NewPaymentRequestService(tabs TabStore, tabCfg config.TabConfig, ledgerCfg config.LedgerConfig) *PaymentRequestService {
	return &PaymentRequestService{tabs: tabs, tabCfg: tabCfg, ledgerCfg: ledgerCfg, now: time.Now}
}

func (s *PaymentRequestService) Build(ctx context.Context, tabID, userID string) (*PaymentRequest, error) {
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
	asset, ok := s.ledgerCfg.Assets[tab.Currency]
	if !ok {
		return nil, apperr.Validationf("currency %s cannot be settled on the ledger", tab.Currency)
	}

	recipient := tab.SettlementWallet
	if recipient == "" {
		recipient = s.ledgerCfg.SettlementAddress
	}
	owed := calculator.Assess(p.ShareAmount, tab.PenaltyRateBps, tab.SettlementDeadline, s.now().UTC(), s.tabCfg.Scale(tab.Currency))
	uri := paymentURI(asset, recipient, s.ledgerCfg.ChainID, p.ShareAmount)

	png, err := qrcode.Encode(uri, qrcode.Medium, qrSize)
	if err != nil {
		return nil, apperr.Internal("encode qr code", err)
	}

	return &PaymentRequest{
		TabID:         tab.ID,
		Currency:      tab.Currency,
		Amount:        p.ShareAmount,
		PenaltyAmount: owed.Penalty,
		TotalDue:      owed.Final,
		Recipient:     recipient,
		Token:         asset.Token,
		ChainID:       s.ledgerCfg.ChainID,
		URI:           uri,
		QRCode:        base64.StdEncoding.EncodeToString(png),
	}, nil
}

// paymentURI builds an EIP-681 transfer request
func paymentURI(asset config.Asset, recipient string, chainID int64, amount decimal.Decimal) string {
	units := ledger.ToUnits(amount, asset.Decimals)
	if asset.Native() {
		return fmt.Sprintf("ethereum:%s@%d?value=%s", recipient, chainID, units)
	}
	return fmt.Sprintf("ethereum:%s@%d/transfer?address=%s&uint256=%s", asset.Token, chainID, recipient, units)
}
