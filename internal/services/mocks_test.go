package services

import (
	"context"
	"sync"
	"time"

	"github.com/gr4yha7/ghosttab-backend/internal/config"
	"github.com/gr4yha7/ghosttab-backend/internal/ledger"
	"github.com/gr4yha7/ghosttab-backend/internal/models"
	"github.com/gr4yha7/ghosttab-backend/internal/repository"
	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateTab(ctx context.Context, tab *models.Tab, participants []models.TabParticipant) error {
	return m.Called(ctx, tab, participants).Error(0)
}

func (m *MockStore) GetTab(ctx context.Context, tabID string) (*models.Tab, error) {
	args := m.Called(ctx, tabID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Tab), args.Error(1)
}

func (m *MockStore) ListUserTabs(ctx context.Context, userID string, f models.TabFilter) ([]models.UserTab, int, error) {
	args := m.Called(ctx, userID, f)
	tabs, _ := args.Get(0).([]models.UserTab)
	return tabs, args.Int(1), args.Error(2)
}

func (m *MockStore) UpdateTabDetails(ctx context.Context, tabID string, u repository.TabUpdate) error {
	return m.Called(ctx, tabID, u).Error(0)
}

func (m *MockStore) CancelTab(ctx context.Context, tabID string) error {
	return m.Called(ctx, tabID).Error(0)
}

func (m *MockStore) CompleteTabIfAllPaid(ctx context.Context, tabID string) (bool, error) {
	args := m.Called(ctx, tabID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) GetParticipant(ctx context.Context, tabID, userID string) (*models.TabParticipant, error) {
	args := m.Called(ctx, tabID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TabParticipant), args.Error(1)
}

func (m *MockStore) ListParticipants(ctx context.Context, tabID string) ([]models.ParticipantView, error) {
	args := m.Called(ctx, tabID)
	views, _ := args.Get(0).([]models.ParticipantView)
	return views, args.Error(1)
}

func (m *MockStore) VerifyParticipant(ctx context.Context, tabID, userID string) error {
	return m.Called(ctx, tabID, userID).Error(0)
}

func (m *MockStore) RemoveParticipant(ctx context.Context, tabID, userID string, reshare repository.ReshareFunc) error {
	return m.Called(ctx, tabID, userID, reshare).Error(0)
}

func (m *MockStore) MarkParticipantPaid(ctx context.Context, rec repository.PaymentRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockStore) IsTxHashRecorded(ctx context.Context, txHash string) (bool, error) {
	args := m.Called(ctx, txHash)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) GetUser(ctx context.Context, userID string) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockStore) GetUsers(ctx context.Context, userIDs []string) (map[string]*models.User, error) {
	args := m.Called(ctx, userIDs)
	users, _ := args.Get(0).(map[string]*models.User)
	return users, args.Error(1)
}

func (m *MockStore) GetFriendshipStatus(ctx context.Context, userID, otherID string) (models.FriendshipStatus, error) {
	args := m.Called(ctx, userID, otherID)
	return args.Get(0).(models.FriendshipStatus), args.Error(1)
}

func (m *MockStore) RecordSettlementOutcome(ctx context.Context, o models.SettlementOutcome, score repository.ScoreFunc, at time.Time) (*models.SettlementHistory, error) {
	args := m.Called(ctx, o, score, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SettlementHistory), args.Error(1)
}

func (m *MockStore) ListSettlementHistory(ctx context.Context, userID string, limit int) ([]models.SettlementHistory, error) {
	args := m.Called(ctx, userID, limit)
	h, _ := args.Get(0).([]models.SettlementHistory)
	return h, args.Error(1)
}

func (m *MockStore) CreateOTP(ctx context.Context, otp *models.OTPCode) error {
	return m.Called(ctx, otp).Error(0)
}

func (m *MockStore) ConsumeOTP(ctx context.Context, email, codeHash string, typ models.OTPType, now time.Time, match func(models.Metadata) error) (models.Metadata, error) {
	args := m.Called(ctx, email, codeHash, typ, now, match)
	md, _ := args.Get(0).(models.Metadata)
	return md, args.Error(1)
}

func (m *MockStore) DeleteExpiredOTPs(ctx context.Context, now, usedBefore time.Time) (int64, error) {
	args := m.Called(ctx, now, usedBefore)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) ListDueParticipants(ctx context.Context, from, to time.Time) ([]repository.DueParticipant, error) {
	args := m.Called(ctx, from, to)
	due, _ := args.Get(0).([]repository.DueParticipant)
	return due, args.Error(1)
}

func (m *MockStore) ListOverdueParticipants(ctx context.Context, now time.Time) ([]repository.DueParticipant, error) {
	args := m.Called(ctx, now)
	due, _ := args.Get(0).([]repository.DueParticipant)
	return due, args.Error(1)
}

func (m *MockStore) ClaimReminder(ctx context.Context, participantID string, now, cutoff time.Time) (bool, error) {
	args := m.Called(ctx, participantID, now, cutoff)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) ClaimOverdueNotice(ctx context.Context, tabID string, now, cutoff time.Time) (bool, error) {
	args := m.Called(ctx, tabID, now, cutoff)
	return args.Bool(0), args.Error(1)
}

// RecordingNotifier captures deliveries synchronously
type RecordingNotifier struct {
	mu            sync.Mutex
	Notifications []SentNotification
	Emails        []models.Email
}

type SentNotification struct {
	UserIDs      []string
	Notification models.Notification
}

func (r *RecordingNotifier) Notify(userIDs []string, n models.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Notifications = append(r.Notifications, SentNotification{UserIDs: userIDs, Notification: n})
}

func (r *RecordingNotifier) Email(e models.Email) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Emails = append(r.Emails, e)
}

func (r *RecordingNotifier) OfType(t models.NotificationType) []SentNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []SentNotification
	for _, n := range r.Notifications {
		if n.Notification.Type == t {
			out = append(out, n)
		}
	}
	return out
}

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) VerifyTransaction(ctx context.Context, txHash string, asset config.Asset) (*ledger.Transaction, error) {
	args := m.Called(ctx, txHash, asset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Transaction), args.Error(1)
}

type MockTrust struct {
	mock.Mock
}

func (m *MockTrust) UpdateTrustScore(ctx context.Context, o models.SettlementOutcome) (*models.SettlementHistory, error) {
	args := m.Called(ctx, o)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SettlementHistory), args.Error(1)
}

type MockOTP struct {
	mock.Mock
}

func (m *MockOTP) Issue(ctx context.Context, email string, typ models.OTPType, metadata models.Metadata) error {
	return m.Called(ctx, email, typ, metadata).Error(0)
}

func (m *MockOTP) Verify(ctx context.Context, email, code string, typ models.OTPType, match func(models.Metadata) error) (models.Metadata, error) {
	args := m.Called(ctx, email, code, typ, match)
	md, _ := args.Get(0).(models.Metadata)
	return md, args.Error(1)
}

func (m *MockOTP) AllowResend(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}

func atTime(want time.Time) any {
	return mock.MatchedBy(func(got time.Time) bool { return got.Equal(want) })
}
