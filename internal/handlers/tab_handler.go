package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gr4yha7/ghosttab-backend/internal/apperr"
	"github.com/gr4yha7/ghosttab-backend/internal/models"
	"github.com/gr4yha7/ghosttab-backend/internal/services"
	"go.uber.org/zap"
)

type TabAPI interface {
	CreateTab(ctx context.Context, creatorID string, req models.CreateTabRequest) (*models.TabDetail, error)
	GetTab(ctx context.Context, tabID, userID string) (*models.TabDetail, error)
	GetUserTabs(ctx context.Context, userID string, f models.TabFilter) (*models.TabPage, error)
	UpdateTab(ctx context.Context, tabID, userID string, req models.UpdateTabRequest) (*models.Tab, error)
	CancelTab(ctx context.Context, tabID, userID string) error
	ResendOTP(ctx context.Context, tabID, userID string) error
}

type ParticipationAPI interface {
	Verify(ctx context.Context, tabID, userID, code string, accept bool) error
}

type SettlementAPI interface {
	Settle(ctx context.Context, tabID, userID string, req models.SettleRequest) (*models.TabParticipant, error)
}

type PaymentRequestAPI interface {
	Build(ctx context.Context, tabID, userID string) (*services.PaymentRequest, error)
}

type TabHandler struct {
	tabs          TabAPI
	participation ParticipationAPI
	settlement    SettlementAPI
	payments      PaymentRequestAPI
	validator     *ValidationHelper
	logger        *zap.Logger
}

func NewTabHandler(tabs TabAPI, participation ParticipationAPI, settlement SettlementAPI, payments PaymentRequestAPI, logger *zap.Logger) *TabHandler {
	return &TabHandler{
		tabs:          tabs,
		participation: participation,
		settlement:    settlement,
		payments:      payments,
		validator:     NewValidationHelper(),
		logger:        logger.With(zap.String("component", "tab_handler")),
	}
}

// Routes mounts the tab endpoints on an authenticated router
func (h *TabHandler) Routes(r chi.Router) {
	r.Route("/tabs", func(r chi.Router) {
		r.Post("/", h.CreateTab)
		r.Get("/", h.ListTabs)
		r.Route("/{tabId}", func(r chi.Router) {
			r.Get("/", h.GetTab)
			r.Patch("/", h.UpdateTab)
			r.Post("/cancel", h.CancelTab)
			r.Post("/verify", h.VerifyParticipation)
			r.Post("/resend-otp", h.ResendOTP)
			r.Post("/settle", h.Settle)
			r.Get("/payment-request", h.PaymentRequest)
		})
	})
}

// CreateTab opens a tab and invites its participants
// @Summary Create tab
// @Tags Tabs
// @Router /tabs [post]
func (h *TabHandler) CreateTab(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}
	var req models.CreateTabRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	tab, err := h.tabs.CreateTab(r.Context(), userID, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusCreated, tab)
}

// ListTabs pages through the caller's tabs
// @Summary List tabs
// @Tags Tabs
// @Router /tabs [get]
func (h *TabHandler) ListTabs(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}
	f, err := parseTabFilter(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	page, err := h.tabs.GetUserTabs(r.Context(), userID, f)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, page)
}

func parseTabFilter(r *http.Request) (models.TabFilter, error) {
	q := r.URL.Query()
	f := models.TabFilter{
		Status:   models.TabStatus(strings.ToUpper(q.Get("status"))),
		Category: models.TabCategory(strings.ToUpper(q.Get("category"))),
		Search:   strings.TrimSpace(q.Get("search")),
	}
	switch f.Status {
	case "", models.TabStatusOpen, models.TabStatusSettled, models.TabStatusCancelled:
	default:
		return f, apperr.Validation("invalid status filter").WithDetail("status", string(f.Status))
	}
	for key, dst := range map[string]*int{"page": &f.Page, "limit": &f.Limit} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return f, apperr.Validationf("%s must be a positive integer", key)
		}
		*dst = n
	}
	return f, nil
}

// GetTab returns a tab with participants and payment summary
// @Summary Get tab
// @Tags Tabs
// @Router /tabs/{tabId} [get]
func (h *TabHandler) GetTab(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}
	tab, err := h.tabs.GetTab(r.Context(), chi.URLParam(r, "tabId"), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, tab)
}

// UpdateTab edits title, description or category
// @Summary Update tab
// @Tags Tabs
// @Router /tabs/{tabId} [patch]
func (h *TabHandler) UpdateTab(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}
	var req models.UpdateTabRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	tab, err := h.tabs.UpdateTab(r.Context(), chi.URLParam(r, "tabId"), userID, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, tab)
}

// CancelTab cancels an open tab
// @Summary Cancel tab
// @Tags Tabs
// @Router /tabs/{tabId}/cancel [post]
func (h *TabHandler) CancelTab(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.tabs.CancelTab(r.Context(), chi.URLParam(r, "tabId"), userID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "tab cancelled"})
}

// VerifyParticipation accepts or declines an invitation with its OTP
// @Summary Verify participation
// @Tags Participation
// @Router /tabs/{tabId}/verify [post]
func (h *TabHandler) VerifyParticipation(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}
	var req models.VerifyParticipationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	accept := *req.Accept
	if err := h.participation.Verify(r.Context(), chi.URLParam(r, "tabId"), userID, req.OTPCode, accept); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	msg := "participation accepted"
	if !accept {
		msg = "participation declined"
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: msg, Data: map[string]bool{"accepted": accept}})
}

// ResendOTP sends a new participation code
// @Summary Resend participation code
// @Tags Participation
// @Router /tabs/{tabId}/resend-otp [post]
func (h *TabHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.tabs.ResendOTP(r.Context(), chi.URLParam(r, "tabId"), userID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "verification code sent"})
}

// Settle records the caller's on-chain payment
// @Summary Settle share
// @Tags Settlement
// @Router /tabs/{tabId}/settle [post]
func (h *TabHandler) Settle(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}
	var req models.SettleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, r, h.logger, apperr.Validation("amount must be positive"))
		return
	}

	p, err := h.settlement.Settle(r.Context(), chi.URLParam(r, "tabId"), userID, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "payment settled", Data: p})
}

// PaymentRequest returns the payment URI and QR code for the caller's share
// @Summary Payment request
// @Tags Settlement
// @Router /tabs/{tabId}/payment-request [get]
func (h *TabHandler) PaymentRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}
	req, err := h.payments.Build(r.Context(), chi.URLParam(r, "tabId"), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, req)
}
