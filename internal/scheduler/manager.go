package scheduler

import (
	"context"
	"fmt"

	"github.com/go-co-op/gocron/v2"
	"github.com/gr4yha7/ghosttab-backend/internal/config"
	"go.uber.org/zap"
)

// Job is a unit of recurring work
type Job interface {
	GetName() string
	GetSchedule() gocron.JobDefinition
	Execute(ctx context.Context)
}

// Manager owns the gocron scheduler and the context handed to running jobs
type Manager struct {
	scheduler gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *zap.Logger
}

func NewManager(cfg config.ReminderConfig, logger *zap.Logger) (*Manager, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(cfg.Location()))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		scheduler: s,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With(zap.String("component", "scheduler")),
	}, nil
}

// Register adds a job. A run still in progress when the next one is due
// pushes that run to the following slot.
func (m *Manager) Register(job Job) error {
	_, err := m.scheduler.NewJob(
		job.GetSchedule(),
		gocron.NewTask(func() { job.Execute(m.ctx) }),
		gocron.WithName(job.GetName()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("register job %s: %w", job.GetName(), err)
	}
	m.logger.Info("job registered", zap.String("job", job.GetName()))
	return nil
}

// JobNames lists the registered jobs
func (m *Manager) JobNames() []string {
	jobs := m.scheduler.Jobs()
	names := make([]string, len(jobs))
	for i, j := range jobs {
		names[i] = j.Name()
	}
	return names
}

func (m *Manager) Start() {
	m.scheduler.Start()
	m.logger.Info("scheduler started", zap.Int("jobs", len(m.scheduler.Jobs())))
}

// Stop cancels running jobs and waits for them to return
func (m *Manager) Stop() {
	m.cancel()
	if err := m.scheduler.Shutdown(); err != nil {
		m.logger.Error("scheduler shutdown", zap.Error(err))
	}
	m.logger.Info("scheduler stopped")
}
