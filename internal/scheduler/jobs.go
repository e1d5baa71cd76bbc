package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/gr4yha7/ghosttab-backend/internal/services"
	"go.uber.org/zap"
)

const (
	reminderJobName   = "payment_reminders"
	otpCleanupJobName = "otp_cleanup"

	reminderRunTimeout   = 10 * time.Minute
	otpCleanupRunTimeout = time.Minute
)

type ReminderRunner interface {
	Run(ctx context.Context) (services.RunReport, error)
}

type OTPCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// ReminderJob sends upcoming and overdue reminders on a cron schedule
type ReminderJob struct {
	runner ReminderRunner
	spec   string
	logger *zap.Logger
}

func NewReminderJob(runner ReminderRunner, spec string, logger *zap.Logger) *ReminderJob {
	return &ReminderJob{runner: runner, spec: spec, logger: logger}
}

func (j *ReminderJob) GetName() string {
	return reminderJobName
}

func (j *ReminderJob) GetSchedule() gocron.JobDefinition {
	return gocron.CronJob(j.spec, false)
}

func (j *ReminderJob) Execute(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, reminderRunTimeout)
	defer cancel()

	start := time.Now()
	report, err := j.runner.Run(ctx)
	if err != nil {
		j.logger.Error("reminder run incomplete", zap.Error(err), zap.Int("failures", report.Failures))
		return
	}
	j.logger.Debug("reminder run", zap.Duration("took", time.Since(start)))
}

// OTPCleanupJob purges expired and spent codes
type OTPCleanupJob struct {
	cleaner  OTPCleaner
	interval time.Duration
	logger   *zap.Logger
}

func NewOTPCleanupJob(cleaner OTPCleaner, interval time.Duration, logger *zap.Logger) *OTPCleanupJob {
	if interval <= 0 {
		interval = time.Hour
	}
	return &OTPCleanupJob{cleaner: cleaner, interval: interval, logger: logger}
}

func (j *OTPCleanupJob) GetName() string {
	return otpCleanupJobName
}

func (j *OTPCleanupJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

func (j *OTPCleanupJob) Execute(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, otpCleanupRunTimeout)
	defer cancel()

	if _, err := j.cleaner.CleanupExpired(ctx); err != nil {
		j.logger.Error("otp cleanup failed", zap.Error(err))
	}
}
