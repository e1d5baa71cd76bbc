package services

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/gr4yha7/ghosttab-backend/internal/apperr"
	"github.com/gr4yha7/ghosttab-backend/internal/config"
	"github.com/gr4yha7/ghosttab-backend/internal/models"
	"github.com/gr4yha7/ghosttab-backend/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var otpNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func newTestOTPService(t *testing.T) (*OTPService, *MockStore, redismock.ClientMock, *RecordingNotifier) {
	t.Helper()
	store := new(MockStore)
	rdb, rmock := redismock.NewClientMock()
	notifier := &RecordingNotifier{}
	svc := NewOTPService(store, rdb, notifier, config.OTPConfig{
		Length:       6,
		Expiry:       10 * time.Minute,
		ResendLimit:  2,
		ResendWindow: time.Hour,
		Pepper:       "pepper",
	}, zap.NewNop())
	svc.now = func() time.Time { return otpNow }
	svc.generate = func(int) (string, error) { return "482913", nil }
	return svc, store, rmock, notifier
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 20; i++ {
		code, err := generateCode(6)
		require.NoError(t, err)
		assert.Len(t, code, 6)
		assert.Regexp(t, `^[0-9]{6}$`, code)
	}
}

func TestOTPIssue(t *testing.T) {
	svc, store, _, notifier := newTestOTPService(t)

	var stored *models.OTPCode
	store.On("CreateOTP", mock.Anything, mock.AnythingOfType("*models.OTPCode")).
		Run(func(args mock.Arguments) { stored = args.Get(1).(*models.OTPCode) }).
		Return(nil)

	md := models.Metadata{"tabId": "tab-1"}
	require.NoError(t, svc.Issue(context.Background(), " Ann@X.io ", models.OTPTabParticipation, md))

	require.NotNil(t, stored)
	assert.Equal(t, "ann@x.io", stored.Email)
	assert.NotEqual(t, "482913", stored.CodeHash)
	assert.Equal(t, svc.digest("482913"), stored.CodeHash)
	assert.Equal(t, otpNow.Add(10*time.Minute), stored.ExpiresAt)
	assert.Equal(t, "tab-1", stored.Metadata.String("tabId"))

	require.Len(t, notifier.Emails, 1)
	email := notifier.Emails[0]
	assert.Equal(t, "ann@x.io", email.To)
	assert.Equal(t, otpEmailTemplate, email.Template)
	assert.Equal(t, "482913", email.Data["code"])
	assert.Equal(t, "tab-1", email.Data["tabId"])
}

func TestOTPIssue_StoreFailure(t *testing.T) {
	svc, store, _, notifier := newTestOTPService(t)
	store.On("CreateOTP", mock.Anything, mock.Anything).Return(assert.AnError)

	err := svc.Issue(context.Background(), "ann@x.io", models.OTPTabParticipation, nil)
	assert.True(t, apperr.Is(err, apperr.KindInternal))
	assert.Empty(t, notifier.Emails)
}

func TestOTPVerify(t *testing.T) {
	t.Run("consumes by digest", func(t *testing.T) {
		svc, store, _, _ := newTestOTPService(t)
		store.On("ConsumeOTP", mock.Anything, "ann@x.io", svc.digest("482913"), models.OTPTabParticipation, atTime(otpNow), mock.Anything).
			Return(models.Metadata{"tabId": "tab-1"}, nil)

		md, err := svc.Verify(context.Background(), "ANN@x.io", "482913", models.OTPTabParticipation, nil)
		require.NoError(t, err)
		assert.Equal(t, "tab-1", md.String("tabId"))
	})

	t.Run("wrong or expired code", func(t *testing.T) {
		svc, store, _, _ := newTestOTPService(t)
		store.On("ConsumeOTP", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, repository.ErrOTPInvalid)

		_, err := svc.Verify(context.Background(), "ann@x.io", "000000", models.OTPTabParticipation, nil)
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})
}

func TestDigestDependsOnPepper(t *testing.T) {
	a, _, _, _ := newTestOTPService(t)
	b, _, _, _ := newTestOTPService(t)
	b.cfg.Pepper = "other"

	assert.Equal(t, a.digest("123456"), a.digest("123456"))
	assert.NotEqual(t, a.digest("123456"), b.digest("123456"))
	assert.NotEqual(t, a.digest("123456"), a.digest("123457"))
}

func TestAllowResend(t *testing.T) {
	svc, _, rmock, _ := newTestOTPService(t)
	key := "otp:resend:ann@x.io"

	rmock.ExpectIncr(key).SetVal(1)
	rmock.ExpectExpire(key, time.Hour).SetVal(true)
	rmock.ExpectIncr(key).SetVal(2)
	rmock.ExpectIncr(key).SetVal(3)

	ctx := context.Background()
	require.NoError(t, svc.AllowResend(ctx, "Ann@x.io"))
	require.NoError(t, svc.AllowResend(ctx, "ann@x.io"))
	err := svc.AllowResend(ctx, "ann@x.io")
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	assert.NoError(t, rmock.ExpectationsWereMet())
}

func TestAllowResend_RedisDown(t *testing.T) {
	svc, _, rmock, _ := newTestOTPService(t)
	rmock.ExpectIncr("otp:resend:ann@x.io").SetErr(assert.AnError)

	err := svc.AllowResend(context.Background(), "ann@x.io")
	assert.True(t, apperr.Is(err, apperr.KindInternal))
}

func TestCleanupExpired(t *testing.T) {
	svc, store, _, _ := newTestOTPService(t)
	store.On("DeleteExpiredOTPs", mock.Anything, atTime(otpNow), atTime(otpNow.Add(-24*time.Hour))).Return(int64(3), nil)

	n, err := svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
