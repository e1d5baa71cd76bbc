package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gr4yha7/ghosttab-backend/internal/apperr"
	"github.com/gr4yha7/ghosttab-backend/internal/middleware"
	"github.com/gr4yha7/ghosttab-backend/internal/models"
	"github.com/gr4yha7/ghosttab-backend/internal/services"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockTabs struct{ mock.Mock }

func (m *mockTabs) CreateTab(ctx context.Context, creatorID string, req models.CreateTabRequest) (*models.TabDetail, error) {
	args := m.Called(ctx, creatorID, req)
	d, _ := args.Get(0).(*models.TabDetail)
	return d, args.Error(1)
}

func (m *mockTabs) GetTab(ctx context.Context, tabID, userID string) (*models.TabDetail, error) {
	args := m.Called(ctx, tabID, userID)
	d, _ := args.Get(0).(*models.TabDetail)
	return d, args.Error(1)
}

func (m *mockTabs) GetUserTabs(ctx context.Context, userID string, f models.TabFilter) (*models.TabPage, error) {
	args := m.Called(ctx, userID, f)
	p, _ := args.Get(0).(*models.TabPage)
	return p, args.Error(1)
}

func (m *mockTabs) UpdateTab(ctx context.Context, tabID, userID string, req models.UpdateTabRequest) (*models.Tab, error) {
	args := m.Called(ctx, tabID, userID, req)
	t, _ := args.Get(0).(*models.Tab)
	return t, args.Error(1)
}

func (m *mockTabs) CancelTab(ctx context.Context, tabID, userID string) error {
	return m.Called(ctx, tabID, userID).Error(0)
}

func (m *mockTabs) ResendOTP(ctx context.Context, tabID, userID string) error {
	return m.Called(ctx, tabID, userID).Error(0)
}

type mockParticipation struct{ mock.Mock }

func (m *mockParticipation) Verify(ctx context.Context, tabID, userID, code string, accept bool) error {
	return m.Called(ctx, tabID, userID, code, accept).Error(0)
}

type mockSettlement struct{ mock.Mock }

func (m *mockSettlement) Settle(ctx context.Context, tabID, userID string, req models.SettleRequest) (*models.TabParticipant, error) {
	args := m.Called(ctx, tabID, userID, req)
	p, _ := args.Get(0).(*models.TabParticipant)
	return p, args.Error(1)
}

type mockPayments struct{ mock.Mock }

func (m *mockPayments) Build(ctx context.Context, tabID, userID string) (*services.PaymentRequest, error) {
	args := m.Called(ctx, tabID, userID)
	p, _ := args.Get(0).(*services.PaymentRequest)
	return p, args.Error(1)
}

type mockTrust struct{ mock.Mock }

func (m *mockTrust) GetTrustProfile(ctx context.Context, userID string) (*models.TrustProfile, error) {
	args := m.Called(ctx, userID)
	p, _ := args.Get(0).(*models.TrustProfile)
	return p, args.Error(1)
}

type mockReminders struct{ mock.Mock }

func (m *mockReminders) Run(ctx context.Context) (services.RunReport, error) {
	args := m.Called(ctx)
	return args.Get(0).(services.RunReport), args.Error(1)
}

type apiFixture struct {
	tabs          *mockTabs
	participation *mockParticipation
	settlement    *mockSettlement
	payments      *mockPayments
	trust         *mockTrust
	reminders     *mockReminders
	router        chi.Router
}

// asUser stands in for the JWT middleware
func asUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-Test-User"); id != "" {
			r = r.WithContext(middleware.WithUserID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func newAPIFixture() *apiFixture {
	f := &apiFixture{
		tabs: new(mockTabs), participation: new(mockParticipation), settlement: new(mockSettlement),
		payments: new(mockPayments), trust: new(mockTrust), reminders: new(mockReminders),
	}
	logger := zap.NewNop()
	tabHandler := NewTabHandler(f.tabs, f.participation, f.settlement, f.payments, logger)
	trustHandler := NewTrustHandler(f.trust, logger)
	adminHandler := NewAdminHandler(f.reminders, logger)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(asUser)
		tabHandler.Routes(r)
		trustHandler.Routes(r)
		adminHandler.Routes(r)
	})
	f.router = r
	return f
}

func (f *apiFixture) do(method, path, userID, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("X-Test-User", userID)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func TestCreateTabHandler(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		f := newAPIFixture()
		f.tabs.On("CreateTab", mock.Anything, "u1", mock.MatchedBy(func(req models.CreateTabRequest) bool {
			return req.Title == "Dinner" && req.TotalAmount.Equal(decimal.NewFromInt(90)) && len(req.Participants) == 3
		})).Return(&models.TabDetail{Tab: models.Tab{ID: "tab-1", Title: "Dinner"}}, nil)

		rec := f.do(http.MethodPost, "/api/v1/tabs", "u1",
			`{"title":"Dinner","totalAmount":"90","participants":[{"userId":"u1"},{"userId":"u2"},{"userId":"u3"}]}`)

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), `"id":"tab-1"`)
		assert.Contains(t, rec.Body.String(), `"success":true`)
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		f := newAPIFixture()
		rec := f.do(http.MethodPost, "/api/v1/tabs", "u1", `{"title":"Dinner","totalAmount":"90","bogus":1}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Code)
	})

	t.Run("field rules report json names", func(t *testing.T) {
		f := newAPIFixture()
		rec := f.do(http.MethodPost, "/api/v1/tabs", "u1", `{"title":"","totalAmount":"90","category":"SPACE"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		e := decodeError(t, rec)
		assert.Contains(t, e.Details, "title")
		assert.Contains(t, e.Details, "category")
		f.tabs.AssertNotCalled(t, "CreateTab", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		f := newAPIFixture()
		rec := f.do(http.MethodPost, "/api/v1/tabs", "", `{}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
		msg    string
	}{
		{"not found", apperr.NotFound("tab"), http.StatusNotFound, "NOT_FOUND", "tab not found"},
		{"forbidden", apperr.Forbidden("you are not a participant of this tab"), http.StatusForbidden, "FORBIDDEN", "you are not a participant of this tab"},
		{"conflict", apperr.Conflict("too many"), http.StatusConflict, "CONFLICT", "too many"},
		{"internal cause stays private", apperr.Internal("storage failure", assert.AnError), http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"},
		{"plain error", assert.AnError, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture()
			f.tabs.On("GetTab", mock.Anything, "tab-1", "u1").Return(nil, tt.err)

			rec := f.do(http.MethodGet, "/api/v1/tabs/tab-1", "u1", "")
			assert.Equal(t, tt.status, rec.Code)
			e := decodeError(t, rec)
			assert.Equal(t, tt.code, e.Code)
			assert.Equal(t, tt.msg, e.Error)
			assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
		})
	}
}

func TestListTabsHandler(t *testing.T) {
	f := newAPIFixture()
	f.tabs.On("GetUserTabs", mock.Anything, "u1", models.TabFilter{
		Status: models.TabStatusOpen, Category: models.CategoryDining, Search: "pizza", Page: 2, Limit: 5,
	}).Return(&models.TabPage{Tabs: []models.UserTab{}, Page: 2, Limit: 5}, nil)

	rec := f.do(http.MethodGet, "/api/v1/tabs?status=open&category=dining&search=pizza&page=2&limit=5", "u1", "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/v1/tabs?status=lost", "u1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/tabs?page=zero", "u1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyParticipationHandler(t *testing.T) {
	t.Run("decline", func(t *testing.T) {
		f := newAPIFixture()
		f.participation.On("Verify", mock.Anything, "tab-1", "u2", "123456", false).Return(nil)

		rec := f.do(http.MethodPost, "/api/v1/tabs/tab-1/verify", "u2", `{"otpCode":"123456","accept":false}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), "participation declined")
	})

	t.Run("accept is required", func(t *testing.T) {
		f := newAPIFixture()
		rec := f.do(http.MethodPost, "/api/v1/tabs/tab-1/verify", "u2", `{"otpCode":"123456"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeError(t, rec).Details, "accept")
	})

	t.Run("code must be numeric", func(t *testing.T) {
		f := newAPIFixture()
		rec := f.do(http.MethodPost, "/api/v1/tabs/tab-1/verify", "u2", `{"otpCode":"12ab56","accept":true}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSettleHandler(t *testing.T) {
	hash := "0x" + strings.Repeat("ab", 32)

	t.Run("settled", func(t *testing.T) {
		f := newAPIFixture()
		f.settlement.On("Settle", mock.Anything, "tab-1", "u2", mock.MatchedBy(func(req models.SettleRequest) bool {
			return req.TxHash == hash && req.Amount.Equal(decimal.RequireFromString("105"))
		})).Return(&models.TabParticipant{UserID: "u2", Paid: true}, nil)

		rec := f.do(http.MethodPost, "/api/v1/tabs/tab-1/settle", "u2", `{"txHash":"`+hash+`","amount":"105"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), `"paid":true`)
	})

	t.Run("underpayment details reach the client", func(t *testing.T) {
		f := newAPIFixture()
		f.settlement.On("Settle", mock.Anything, "tab-1", "u2", mock.Anything).Return(nil,
			apperr.Validation("payment amount is less than the amount owed").
				WithDetail("required", "105").WithDetail("received", "100"))

		rec := f.do(http.MethodPost, "/api/v1/tabs/tab-1/settle", "u2", `{"txHash":"`+hash+`","amount":100}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		e := decodeError(t, rec)
		assert.Equal(t, "105", e.Details["required"])
		assert.Equal(t, "100", e.Details["received"])
	})

	t.Run("non-positive amount", func(t *testing.T) {
		f := newAPIFixture()
		rec := f.do(http.MethodPost, "/api/v1/tabs/tab-1/settle", "u2", `{"txHash":"`+hash+`","amount":"0"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		f.settlement.AssertNotCalled(t, "Settle", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("oversized body", func(t *testing.T) {
		f := newAPIFixture()
		rec := f.do(http.MethodPost, "/api/v1/tabs/tab-1/settle", "u2", `{"txHash":"`+strings.Repeat("a", maxBodyBytes)+`"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSimpleTabActions(t *testing.T) {
	f := newAPIFixture()
	f.tabs.On("CancelTab", mock.Anything, "tab-1", "u1").Return(nil)
	f.tabs.On("ResendOTP", mock.Anything, "tab-1", "u2").Return(apperr.Conflict("too many verification codes requested, try again later"))
	f.tabs.On("UpdateTab", mock.Anything, "tab-1", "u1", mock.Anything).Return(&models.Tab{ID: "tab-1", Title: "Brunch"}, nil)
	f.payments.On("Build", mock.Anything, "tab-1", "u2").Return(&services.PaymentRequest{TabID: "tab-1", URI: "ethereum:0xabc@250"}, nil)

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/v1/tabs/tab-1/cancel", "u1", "").Code)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/v1/tabs/tab-1/resend-otp", "u2", "").Code)

	rec := f.do(http.MethodPatch, "/api/v1/tabs/tab-1", "u1", `{"title":"Brunch"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Brunch")

	rec = f.do(http.MethodGet, "/api/v1/tabs/tab-1/payment-request", "u2", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ethereum:0xabc@250")
}

func TestTrustAndAdminHandlers(t *testing.T) {
	f := newAPIFixture()
	f.trust.On("GetTrustProfile", mock.Anything, "u1").Return(&models.TrustProfile{UserID: "u1", Score: 105, Tier: "Good"}, nil)
	f.reminders.On("Run", mock.Anything).Return(services.RunReport{Upcoming: 3, Overdue: 1}, nil)

	rec := f.do(http.MethodGet, "/api/v1/users/me/trust", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"trustScore":105`)

	rec = f.do(http.MethodPost, "/api/v1/admin/reminders/run", "ops", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"upcoming":3`)
}
