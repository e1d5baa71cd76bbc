package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gr4yha7/ghosttab-backend/internal/models"
	"github.com/gr4yha7/ghosttab-backend/internal/services"
	"go.uber.org/zap"
)

type TrustAPI interface {
	GetTrustProfile(ctx context.Context, userID string) (*models.TrustProfile, error)
}

type ReminderAPI interface {
	Run(ctx context.Context) (services.RunReport, error)
}

type TrustHandler struct {
	trust  TrustAPI
	logger *zap.Logger
}

func NewTrustHandler(trust TrustAPI, logger *zap.Logger) *TrustHandler {
	return &TrustHandler{trust: trust, logger: logger.With(zap.String("component", "trust_handler"))}
}

func (h *TrustHandler) Routes(r chi.Router) {
	r.Get("/users/me/trust", h.GetMyTrust)
}

// GetMyTrust returns the caller's score, tier and recent history
// @Summary Trust profile
// @Tags Trust
// @Router /users/me/trust [get]
func (h *TrustHandler) GetMyTrust(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r, h.logger)
	if !ok {
		return
	}
	profile, err := h.trust.GetTrustProfile(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, profile)
}

type AdminHandler struct {
	reminders ReminderAPI
	logger    *zap.Logger
}

func NewAdminHandler(reminders ReminderAPI, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{reminders: reminders, logger: logger.With(zap.String("component", "admin_handler"))}
}

func (h *AdminHandler) Routes(r chi.Router) {
	r.Post("/admin/reminders/run", h.RunReminders)
}

// RunReminders runs both reminder phases now and reports what was sent.
// A partial failure still returns the report.
// @Summary Run reminders
// @Tags Admin
// @Router /admin/reminders/run [post]
func (h *AdminHandler) RunReminders(w http.ResponseWriter, r *http.Request) {
	report, err := h.reminders.Run(r.Context())
	if err != nil {
		h.logger.Error("manual reminder run incomplete", zap.Error(err))
		writeJSON(w, http.StatusOK, Response{Success: false, Message: "reminder run incomplete", Data: report})
		return
	}
	writeData(w, http.StatusOK, report)
}
