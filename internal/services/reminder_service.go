package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gr4yha7/ghosttab-backend/internal/calculator"
	"github.com/gr4yha7/ghosttab-backend/internal/config"
	"github.com/gr4yha7/ghosttab-backend/internal/metrics"
	"github.com/gr4yha7/ghosttab-backend/internal/models"
	"github.com/gr4yha7/ghosttab-backend/internal/repository"
	"go.uber.org/zap"
)

const (
	kindUpcoming       = "upcoming"
	kindOverdue        = "overdue"
	kindCreatorSummary = "creator_summary"
)

type reminderStage struct {
	daysBefore int
	title      string
}

var reminderStages = []reminderStage{
	{daysBefore: 3, title: "Reminder"},
	{daysBefore: 1, title: "Urgent Reminder"},
	{daysBefore: 0, title: "Final Reminder"},
}

// RunReport counts what one reminder run sent
type RunReport struct {
	Upcoming       int `json:"upcoming"`
	Overdue        int `json:"overdue"`
	CreatorNotices int `json:"creatorNotices"`
	Failures       int `json:"failures"`
}

// ReminderService drives deadline reminders and overdue escalation. Every
// send is preceded by an atomic claim on the stored timestamp, so repeated or
// concurrent runs inside the cooldown send nothing twice.
type ReminderService struct {
	store    ReminderStore
	notifier Notifier
	metrics  *metrics.Metrics
	tabCfg   config.TabConfig
	cfg      config.ReminderConfig
	logger   *zap.Logger
	now      func() time.Time
}

func NewReminderService(store ReminderStore, notifier Notifier, m *metrics.Metrics, tabCfg config.TabConfig, cfg config.ReminderConfig, logger *zap.Logger) *ReminderService {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 23 * time.Hour
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	return &ReminderService{
		store:    store,
		notifier: notifier,
		metrics:  m,
		tabCfg:   tabCfg,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "reminders")),
		now:      time.Now,
	}
}

// Run executes both phases. A failing phase does not stop the other.
func (s *ReminderService) Run(ctx context.Context) (RunReport, error) {
	var report RunReport
	upErr := s.sendUpcoming(ctx, &report)
	overErr := s.handleOverdue(ctx, &report)
	s.logger.Info("reminder run finished",
		zap.Int("upcoming", report.Upcoming),
		zap.Int("overdue", report.Overdue),
		zap.Int("creator_notices", report.CreatorNotices),
		zap.Int("failures", report.Failures),
	)
	return report, errors.Join(upErr, overErr)
}

func (s *ReminderService) SendUpcomingReminders(ctx context.Context) (RunReport, error) {
	var report RunReport
	err := s.sendUpcoming(ctx, &report)
	return report, err
}

func (s *ReminderService) HandleOverdue(ctx context.Context) (RunReport, error) {
	var report RunReport
	err := s.handleOverdue(ctx, &report)
	return report, err
}

func (s *ReminderService) sendUpcoming(ctx context.Context, report *RunReport) error {
	now := s.now().In(s.cfg.Location())
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	cutoff := now.Add(-s.cfg.Cooldown)

	var errs []error
	for _, stage := range reminderStages {
		from := today.AddDate(0, 0, stage.daysBefore)
		due, err := s.store.ListDueParticipants(ctx, from, from.AddDate(0, 0, 1))
		if err != nil {
			errs = append(errs, fmt.Errorf("list due in %d days: %w", stage.daysBefore, err))
			continue
		}
		for _, d := range due {
			if !s.claim(ctx, d, now, cutoff, kindUpcoming, report) {
				continue
			}
			s.sendReminder(d, stage, now)
			report.Upcoming++
			s.metrics.RemindersSent.WithLabelValues(kindUpcoming).Inc()
		}
	}
	return errors.Join(errs...)
}

func (s *ReminderService) handleOverdue(ctx context.Context, report *RunReport) error {
	now := s.now().In(s.cfg.Location())
	cutoff := now.Add(-s.cfg.Cooldown)

	overdue, err := s.store.ListOverdueParticipants(ctx, now)
	if err != nil {
		return fmt.Errorf("list overdue: %w", err)
	}

	byTab := make(map[string][]repository.DueParticipant)
	var order []string
	for _, d := range overdue {
		if _, ok := byTab[d.TabID]; !ok {
			order = append(order, d.TabID)
		}
		byTab[d.TabID] = append(byTab[d.TabID], d)

		if !s.claim(ctx, d, now, cutoff, kindOverdue, report) {
			continue
		}
		s.sendOverdue(d, now)
		report.Overdue++
		s.metrics.RemindersSent.WithLabelValues(kindOverdue).Inc()
	}

	for _, tabID := range order {
		unpaid := byTab[tabID]
		claimCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		claimed, err := s.store.ClaimOverdueNotice(claimCtx, tabID, now, cutoff)
		cancel()
		if err != nil {
			report.Failures++
			s.metrics.ReminderFailures.WithLabelValues(kindCreatorSummary).Inc()
			s.logger.Warn("claim overdue notice", zap.String("tab_id", tabID), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		s.sendCreatorSummary(unpaid, now)
		report.CreatorNotices++
		s.metrics.RemindersSent.WithLabelValues(kindCreatorSummary).Inc()
	}
	return nil
}

// claim stamps the participant's reminder slot; false means skip. Failures
// are logged and counted and never abort the run.
func (s *ReminderService) claim(ctx context.Context, d repository.DueParticipant, now, cutoff time.Time, kind string, report *RunReport) bool {
	if d.LastReminderSentAt != nil && d.LastReminderSentAt.After(cutoff) {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	ok, err := s.store.ClaimReminder(ctx, d.ParticipantID, now, cutoff)
	if err != nil {
		report.Failures++
		s.metrics.ReminderFailures.WithLabelValues(kind).Inc()
		s.logger.Warn("claim reminder",
			zap.String("tab_id", d.TabID), zap.String("participant_id", d.ParticipantID), zap.Error(err))
		return false
	}
	return ok
}

func (s *ReminderService) sendReminder(d repository.DueParticipant, stage reminderStage, now time.Time) {
	when := "today"
	switch stage.daysBefore {
	case 0:
	case 1:
		when = "tomorrow"
	default:
		when = "in " + strconv.Itoa(stage.daysBefore) + " days"
	}
	body := fmt.Sprintf("Your share of %s %s for %s is due %s", d.ShareAmount, d.Currency, d.TabTitle, when)
	if d.PenaltyRateBps > 0 {
		body += fmt.Sprintf(". A %s%% late penalty applies after the deadline", bpsPercent(d.PenaltyRateBps))
	}

	data := map[string]any{
		"tabId":       d.TabID,
		"shareAmount": d.ShareAmount.String(),
		"currency":    d.Currency,
		"deadline":    d.Deadline.UTC().Format(time.RFC3339),
		"daysLeft":    stage.daysBefore,
	}
	s.notifier.Notify([]string{d.UserID}, models.Notification{
		Type:      models.NotificationPaymentReminder,
		Title:     stage.title,
		Body:      body,
		Data:      data,
		CreatedAt: now.UTC(),
	})
	s.notifier.Email(models.Email{
		To:       d.Email,
		Subject:  stage.title + ": " + d.TabTitle,
		Template: "payment_reminder",
		Data:     withUsername(data, d.Username),
	})
}

func (s *ReminderService) sendOverdue(d repository.DueParticipant, now time.Time) {
	owed := calculator.Assess(d.ShareAmount, d.PenaltyRateBps, &d.Deadline, now, s.tabCfg.Scale(d.Currency))
	daysOverdue := owed.DaysLate

	data := map[string]any{
		"tabId":         d.TabID,
		"shareAmount":   d.ShareAmount.String(),
		"penaltyAmount": owed.Penalty.String(),
		"totalDue":      owed.Final.String(),
		"currency":      d.Currency,
		"daysOverdue":   daysOverdue,
	}
	s.notifier.Notify([]string{d.UserID}, models.Notification{
		Type:      models.NotificationPaymentReminder,
		Title:     "Payment Overdue",
		Body:      fmt.Sprintf("%s is %d day(s) overdue. You now owe %s %s", d.TabTitle, daysOverdue, owed.Final, d.Currency),
		Data:      data,
		CreatedAt: now.UTC(),
	})
	s.notifier.Email(models.Email{
		To:       d.Email,
		Subject:  "Payment overdue: " + d.TabTitle,
		Template: "payment_overdue",
		Data:     withUsername(data, d.Username),
	})
}

func (s *ReminderService) sendCreatorSummary(unpaid []repository.DueParticipant, now time.Time) {
	first := unpaid[0]
	names := make([]string, len(unpaid))
	for i, d := range unpaid {
		names[i] = d.Username
	}
	daysOverdue := calculator.DaysLate(&first.Deadline, now)
	s.notifier.Notify([]string{first.CreatorID}, models.Notification{
		Type:  models.NotificationPaymentReminder,
		Title: "Overdue payments",
		Body: fmt.Sprintf("%d participant(s) still owe on %s, %d day(s) overdue: %s",
			len(unpaid), first.TabTitle, daysOverdue, strings.Join(names, ", ")),
		Data: map[string]any{
			"tabId":        first.TabID,
			"unpaidCount":  len(unpaid),
			"daysOverdue":  daysOverdue,
			"participants": names,
		},
		CreatedAt: now.UTC(),
	})
}

func withUsername(data map[string]any, username string) map[string]any {
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out["username"] = username
	return out
}

// bpsPercent renders basis points as a percentage, e.g. 500 -> "5", 250 -> "2.5"
func bpsPercent(bps int) string {
	return strconv.FormatFloat(float64(bps)/100, 'f', -1, 64)
}
