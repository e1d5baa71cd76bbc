package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gr4yha7/ghosttab-backend/internal/apperr"
	"github.com/gr4yha7/ghosttab-backend/internal/config"
	"github.com/gr4yha7/ghosttab-backend/internal/models"
	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
)

const (
	otpEmailTemplate = "tab_participation_otp"
	usedOTPRetention = 24 * time.Hour
)

// OTPService issues and consumes one-time codes. Only argon2id digests of
// codes are persisted.
type OTPService struct {
	store    OTPStore
	rdb      redis.Cmdable
	notifier Notifier
	cfg      config.OTPConfig
	logger   *zap.Logger
	now      func() time.Time
	generate func(length int) (string, error)
}

func NewOTPService(store OTPStore, rdb redis.Cmdable, notifier Notifier, cfg config.OTPConfig, logger *zap.Logger) *OTPService {
	if cfg.Length <= 0 {
		cfg.Length = 6
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = 10 * time.Minute
	}
	return &OTPService{
		store:    store,
		rdb:      rdb,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "otp")),
		now:      time.Now,
		generate: generateCode,
	}
}

func generateCode(length int) (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", length, n), nil
}

func (s *OTPService) digest(code string) string {
	key := argon2.IDKey([]byte(code), []byte(s.cfg.Pepper), 2, 19*1024, 1, 32)
	return hex.EncodeToString(key)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Issue creates a code scoped to (email, typ), stores its digest with
// metadata and queues the email carrying the code.
func (s *OTPService) Issue(ctx context.Context, email string, typ models.OTPType, metadata models.Metadata) error {
	code, err := s.generate(s.cfg.Length)
	if err != nil {
		return apperr.Internal("generate otp", err)
	}
	now := s.now().UTC()
	otp := &models.OTPCode{
		ID:        uuid.NewString(),
		Email:     normalizeEmail(email),
		CodeHash:  s.digest(code),
		Type:      typ,
		Metadata:  metadata,
		ExpiresAt: now.Add(s.cfg.Expiry),
		CreatedAt: now,
	}
	if err := s.store.CreateOTP(ctx, otp); err != nil {
		return apperr.Internal("store otp", err)
	}

	data := map[string]any{
		"code":          code,
		"expiresInMins": int(s.cfg.Expiry / time.Minute),
	}
	for k, v := range metadata {
		data[k] = v
	}
	s.notifier.Email(models.Email{
		To:       otp.Email,
		Subject:  "Your GhostTab verification code",
		Template: otpEmailTemplate,
		Data:     data,
	})
	return nil
}

// Verify consumes the newest live code matching (email, code, typ). match
// inspects the stored metadata before the code is marked used; when it
// fails the code stays usable.
func (s *OTPService) Verify(ctx context.Context, email, code string, typ models.OTPType, match func(models.Metadata) error) (models.Metadata, error) {
	md, err := s.store.ConsumeOTP(ctx, normalizeEmail(email), s.digest(code), typ, s.now().UTC(), match)
	if err != nil {
		return nil, storeErr(err, "otp")
	}
	return md, nil
}

func resendKey(email string) string {
	return "otp:resend:" + normalizeEmail(email)
}

// AllowResend counts a resend against the per-email window
func (s *OTPService) AllowResend(ctx context.Context, email string) error {
	if s.cfg.ResendLimit <= 0 {
		return nil
	}
	key := resendKey(email)
	n, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return apperr.Internal("otp rate limit", err)
	}
	if n == 1 {
		if err := s.rdb.Expire(ctx, key, s.cfg.ResendWindow).Err(); err != nil {
			s.logger.Warn("set resend window", zap.String("key", key), zap.Error(err))
		}
	}
	if n > int64(s.cfg.ResendLimit) {
		return apperr.Conflict("too many verification codes requested, try again later")
	}
	return nil
}

// CleanupExpired removes expired codes and used codes older than a day
func (s *OTPService) CleanupExpired(ctx context.Context) (int64, error) {
	now := s.now().UTC()
	n, err := s.store.DeleteExpiredOTPs(ctx, now, now.Add(-usedOTPRetention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired otp codes removed", zap.Int64("count", n))
	}
	return n, nil
}
