package services

import (
	"context"
	"errors"
	"time"

	"github.com/gr4yha7/ghosttab-backend/internal/models"
	"github.com/gr4yha7/ghosttab-backend/internal/repository"
	"go.uber.org/zap"
)

const (
	BaseTrustScore = 100
	MaxTrustScore  = 150

	latePenaltyPoints = 10
	onTimeBonusStep   = 10
	onTimeBonusPoints = 5
	maxOnTimeBonus    = 50

	trustHistoryLimit = 20
)

// ErrTrustAlreadyRecorded is returned when a settlement was already scored
var ErrTrustAlreadyRecorded = errors.New("trust outcome already recorded for this tab")

// Score derives a trust score from cumulative settlement stats
func Score(stats models.TrustStats) int {
	bonus := (stats.OnTime / onTimeBonusStep) * onTimeBonusPoints
	if bonus > maxOnTimeBonus {
		bonus = maxOnTimeBonus
	}
	score := BaseTrustScore - stats.Late*latePenaltyPoints + bonus
	switch {
	case score < 0:
		return 0
	case score > MaxTrustScore:
		return MaxTrustScore
	}
	return score
}

func Tier(score int) string {
	switch {
	case score >= 120:
		return "Excellent"
	case score >= 100:
		return "Good"
	case score >= 70:
		return "Fair"
	default:
		return "Poor"
	}
}

type TrustService struct {
	users  UserStore
	logger *zap.Logger
	now    func() time.Time
}

func NewTrustService(users UserStore, logger *zap.Logger) *TrustService {
	return &TrustService{
		users:  users,
		logger: logger.With(zap.String("component", "trust")),
		now:    time.Now,
	}
}

// UpdateTrustScore applies one settlement outcome. Counters and the history
// row are written in a single transaction; a second call for the same
// (user, tab) returns ErrTrustAlreadyRecorded and changes nothing.
func (s *TrustService) UpdateTrustScore(ctx context.Context, o models.SettlementOutcome) (*models.SettlementHistory, error) {
	h, err := s.users.RecordSettlementOutcome(ctx, o, Score, s.now().UTC())
	if errors.Is(err, repository.ErrHistoryExists) {
		return nil, ErrTrustAlreadyRecorded
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("trust score updated",
		zap.String("user_id", o.UserID),
		zap.String("tab_id", o.TabID),
		zap.Bool("on_time", o.OnTime),
		zap.Int("before", h.TrustScoreBefore),
		zap.Int("after", h.TrustScoreAfter),
	)
	return h, nil
}

func (s *TrustService) GetTrustProfile(ctx context.Context, userID string) (*models.TrustProfile, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, storeErr(err, "user")
	}
	history, err := s.users.ListSettlementHistory(ctx, userID, trustHistoryLimit)
	if err != nil {
		return nil, storeErr(err, "user")
	}
	if history == nil {
		history = []models.SettlementHistory{}
	}
	return &models.TrustProfile{
		UserID:  user.ID,
		Score:   user.TrustScore,
		Tier:    Tier(user.TrustScore),
		Stats:   user.Stats(),
		History: history,
	}, nil
}
