package services

import (
	"context"
	"testing"
	"time"

	"github.com/gr4yha7/ghosttab-backend/internal/apperr"
	"github.com/gr4yha7/ghosttab-backend/internal/audit"
	"github.com/gr4yha7/ghosttab-backend/internal/config"
	"github.com/gr4yha7/ghosttab-backend/internal/models"
	"github.com/gr4yha7/ghosttab-backend/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var tabNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type tabFixture struct {
	store    *MockStore
	otp      *MockOTP
	notifier *RecordingNotifier
	svc      *TabService
}

func newTabFixture() *tabFixture {
	f := &tabFixture{store: new(MockStore), otp: new(MockOTP), notifier: &RecordingNotifier{}}
	cfg := config.TabConfig{DefaultCurrency: "USDC", DefaultPenalty: 500, DefaultScale: 2}
	assets := map[string]config.Asset{"USDC": usdcAsset}
	f.svc = NewTabService(f.store, f.store, f.otp, f.notifier, audit.NewAuditLogger(zap.NewNop()), cfg, assets, zap.NewNop())
	f.svc.now = func() time.Time { return tabNow }
	return f
}

func friends() map[string]*models.User {
	return map[string]*models.User{
		"creator": {ID: "creator", Username: "host", Email: "host@x.io"},
		"u1":      {ID: "u1", Username: "ann", Email: "ann@x.io"},
		"u2":      {ID: "u2", Username: "bo", Email: "bo@x.io"},
	}
}

func createRequest() models.CreateTabRequest {
	deadline := tabNow.Add(72 * time.Hour)
	return models.CreateTabRequest{
		Title:              " Dinner ",
		TotalAmount:        dec("100"),
		SettlementDeadline: &deadline,
		Participants: []models.ParticipantDraft{
			{UserID: "creator"}, {UserID: "u1"}, {UserID: "u2"},
		},
	}
}

func TestCreateTab_EqualSplit(t *testing.T) {
	f := newTabFixture()
	f.store.On("GetUsers", mock.Anything, []string{"creator", "u1", "u2"}).Return(friends(), nil)
	f.store.On("GetFriendshipStatus", mock.Anything, "creator", mock.Anything).Return(models.FriendshipAccepted, nil)
	f.store.On("CreateTab", mock.Anything, mock.AnythingOfType("*models.Tab"), mock.MatchedBy(func(ps []models.TabParticipant) bool {
		return len(ps) == 3 && ps[0].Verified && !ps[1].Verified && !ps[2].Verified
	})).Return(nil)
	f.otp.On("Issue", mock.Anything, "ann@x.io", models.OTPTabParticipation, mock.Anything).Return(nil)
	f.otp.On("Issue", mock.Anything, "bo@x.io", models.OTPTabParticipation, mock.Anything).Return(nil)

	detail, err := f.svc.CreateTab(context.Background(), "creator", createRequest())
	require.NoError(t, err)

	assert.Equal(t, "Dinner", detail.Title)
	assert.Equal(t, "USDC", detail.Currency)
	assert.Equal(t, models.SplitEqual, detail.SplitMode)
	assert.Equal(t, models.TabStatusOpen, detail.Status)
	assert.Equal(t, 500, detail.PenaltyRateBps)
	assert.Equal(t, models.CategoryOther, detail.Category)
	require.Len(t, detail.Participants, 3)
	assert.True(t, detail.Participants[0].ShareAmount.Equal(dec("33.34")))
	assert.True(t, detail.Participants[1].ShareAmount.Equal(dec("33.33")))
	assert.True(t, detail.Summary.Remaining.Equal(dec("100")))

	created := f.notifier.OfType(models.NotificationTabCreated)
	require.Len(t, created, 1)
	assert.ElementsMatch(t, []string{"u1", "u2"}, created[0].UserIDs)

	f.otp.AssertNumberOfCalls(t, "Issue", 2)
	issued := f.otp.Calls[0].Arguments.Get(3).(models.Metadata)
	assert.Equal(t, detail.ID, issued.String("tabId"))
}

func TestCreateTab_OTPFailureDoesNotFailCreation(t *testing.T) {
	f := newTabFixture()
	f.store.On("GetUsers", mock.Anything, mock.Anything).Return(friends(), nil)
	f.store.On("GetFriendshipStatus", mock.Anything, "creator", mock.Anything).Return(models.FriendshipAccepted, nil)
	f.store.On("CreateTab", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.otp.On("Issue", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(apperr.Internal("store otp", assert.AnError))

	_, err := f.svc.CreateTab(context.Background(), "creator", createRequest())
	require.NoError(t, err)
	assert.Len(t, f.notifier.OfType(models.NotificationTabCreated), 1)
}

func TestCreateTab_Rejections(t *testing.T) {
	past := tabNow.Add(-time.Hour)

	tests := []struct {
		name   string
		mutate func(*models.CreateTabRequest)
		setup  func(*MockStore)
		kind   apperr.Kind
	}{
		{
			name:   "unsupported currency",
			mutate: func(r *models.CreateTabRequest) { r.Currency = "DOGE" },
			kind:   apperr.KindValidation,
		},
		{
			name:   "deadline in the past",
			mutate: func(r *models.CreateTabRequest) { r.SettlementDeadline = &past },
			kind:   apperr.KindValidation,
		},
		{
			name: "duplicate participant",
			mutate: func(r *models.CreateTabRequest) {
				r.Participants = append(r.Participants, models.ParticipantDraft{UserID: "u1"})
			},
			kind: apperr.KindValidation,
		},
		{
			name: "custom shares off by a cent",
			mutate: func(r *models.CreateTabRequest) {
				a, b := dec("50"), dec("49.99")
				r.Participants = []models.ParticipantDraft{{UserID: "creator", ShareAmount: &a}, {UserID: "u1", ShareAmount: &b}}
			},
			kind: apperr.KindValidation,
		},
		{
			name: "participant is not a friend",
			setup: func(s *MockStore) {
				s.On("GetUsers", mock.Anything, mock.Anything).Return(friends(), nil)
				s.On("GetFriendshipStatus", mock.Anything, "creator", "u1").Return(models.FriendshipAccepted, nil)
				s.On("GetFriendshipStatus", mock.Anything, "creator", "u2").Return(models.FriendshipPending, nil)
			},
			kind: apperr.KindValidation,
		},
		{
			name: "unknown participant",
			setup: func(s *MockStore) {
				users := friends()
				delete(users, "u2")
				s.On("GetUsers", mock.Anything, mock.Anything).Return(users, nil)
				s.On("GetFriendshipStatus", mock.Anything, "creator", mock.Anything).Return(models.FriendshipAccepted, nil)
			},
			kind: apperr.KindValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTabFixture()
			if tt.setup != nil {
				tt.setup(f.store)
			}
			req := createRequest()
			if tt.mutate != nil {
				tt.mutate(&req)
			}

			_, err := f.svc.CreateTab(context.Background(), "creator", req)
			assert.True(t, apperr.Is(err, tt.kind), "got %v", err)
			f.store.AssertNotCalled(t, "CreateTab", mock.Anything, mock.Anything, mock.Anything)
			assert.Empty(t, f.notifier.Notifications)
		})
	}
}

func openTab() *models.Tab {
	return &models.Tab{ID: "tab-1", CreatorID: "creator", Title: "Dinner", Currency: "USDC", TotalAmount: dec("100"), Status: models.TabStatusOpen}
}

func TestGetTab_MembersOnly(t *testing.T) {
	f := newTabFixture()
	f.store.On("GetTab", mock.Anything, "tab-1").Return(openTab(), nil)
	f.store.On("ListParticipants", mock.Anything, "tab-1").Return([]models.ParticipantView{
		{TabParticipant: models.TabParticipant{UserID: "creator", ShareAmount: dec("50"), Paid: true}},
		{TabParticipant: models.TabParticipant{UserID: "u1", ShareAmount: dec("50")}},
	}, nil)

	detail, err := f.svc.GetTab(context.Background(), "tab-1", "u1")
	require.NoError(t, err)
	assert.True(t, detail.Summary.TotalPaid.Equal(dec("50")))
	assert.False(t, detail.Summary.AllSettled)

	_, err = f.svc.GetTab(context.Background(), "tab-1", "stranger")
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestGetUserTabs_ClampsPaging(t *testing.T) {
	f := newTabFixture()
	f.store.On("ListUserTabs", mock.Anything, "u1", models.TabFilter{Page: 1, Limit: maxPageSize}).Return(nil, 0, nil)

	page, err := f.svc.GetUserTabs(context.Background(), "u1", models.TabFilter{Limit: 1000})
	require.NoError(t, err)
	assert.NotNil(t, page.Tabs)
	assert.Equal(t, maxPageSize, page.Limit)
}

func TestCancelTab(t *testing.T) {
	t.Run("creator cancels", func(t *testing.T) {
		f := newTabFixture()
		f.store.On("GetTab", mock.Anything, "tab-1").Return(openTab(), nil)
		f.store.On("CancelTab", mock.Anything, "tab-1").Return(nil)
		f.store.On("ListParticipants", mock.Anything, "tab-1").Return([]models.ParticipantView{
			{TabParticipant: models.TabParticipant{UserID: "creator"}},
			{TabParticipant: models.TabParticipant{UserID: "u1"}},
		}, nil)

		require.NoError(t, f.svc.CancelTab(context.Background(), "tab-1", "creator"))
		updates := f.notifier.OfType(models.NotificationTabUpdated)
		require.Len(t, updates, 1)
		assert.Equal(t, []string{"u1"}, updates[0].UserIDs)
	})

	t.Run("participant cannot cancel", func(t *testing.T) {
		f := newTabFixture()
		f.store.On("GetTab", mock.Anything, "tab-1").Return(openTab(), nil)

		err := f.svc.CancelTab(context.Background(), "tab-1", "u1")
		assert.True(t, apperr.Is(err, apperr.KindForbidden))
		f.store.AssertNotCalled(t, "CancelTab", mock.Anything, mock.Anything)
	})

	t.Run("settled tab stays settled", func(t *testing.T) {
		f := newTabFixture()
		tab := openTab()
		tab.Status = models.TabStatusSettled
		f.store.On("GetTab", mock.Anything, "tab-1").Return(tab, nil)

		err := f.svc.CancelTab(context.Background(), "tab-1", "creator")
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("lost the race to settlement", func(t *testing.T) {
		f := newTabFixture()
		f.store.On("GetTab", mock.Anything, "tab-1").Return(openTab(), nil)
		f.store.On("CancelTab", mock.Anything, "tab-1").Return(repository.ErrTabNotOpen)

		err := f.svc.CancelTab(context.Background(), "tab-1", "creator")
		assert.True(t, apperr.Is(err, apperr.KindValidation))
		assert.Empty(t, f.notifier.Notifications)
	})
}

func TestResendOTP(t *testing.T) {
	t.Run("issues a fresh code", func(t *testing.T) {
		f := newTabFixture()
		f.store.On("GetTab", mock.Anything, "tab-1").Return(openTab(), nil)
		f.store.On("GetParticipant", mock.Anything, "tab-1", "u1").Return(&models.TabParticipant{UserID: "u1", ShareAmount: dec("50")}, nil)
		f.store.On("GetUser", mock.Anything, "u1").Return(friends()["u1"], nil)
		f.otp.On("AllowResend", mock.Anything, "ann@x.io").Return(nil)
		f.otp.On("Issue", mock.Anything, "ann@x.io", models.OTPTabParticipation, mock.MatchedBy(func(md models.Metadata) bool {
			return md.String("tabId") == "tab-1" && md.String("shareAmount") == "50"
		})).Return(nil)

		require.NoError(t, f.svc.ResendOTP(context.Background(), "tab-1", "u1"))
		f.otp.AssertExpectations(t)
	})

	t.Run("rate limited", func(t *testing.T) {
		f := newTabFixture()
		f.store.On("GetTab", mock.Anything, "tab-1").Return(openTab(), nil)
		f.store.On("GetParticipant", mock.Anything, "tab-1", "u1").Return(&models.TabParticipant{UserID: "u1"}, nil)
		f.store.On("GetUser", mock.Anything, "u1").Return(friends()["u1"], nil)
		f.otp.On("AllowResend", mock.Anything, "ann@x.io").Return(apperr.Conflict("too many"))

		err := f.svc.ResendOTP(context.Background(), "tab-1", "u1")
		assert.True(t, apperr.Is(err, apperr.KindConflict))
		f.otp.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("already verified", func(t *testing.T) {
		f := newTabFixture()
		f.store.On("GetTab", mock.Anything, "tab-1").Return(openTab(), nil)
		f.store.On("GetParticipant", mock.Anything, "tab-1", "u1").Return(&models.TabParticipant{UserID: "u1", Verified: true}, nil)

		err := f.svc.ResendOTP(context.Background(), "tab-1", "u1")
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})
}
