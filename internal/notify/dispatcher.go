package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gr4yha7/ghosttab-backend/internal/models"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, userID string, n models.Notification) error
}

type Mailer interface {
	Enqueue(ctx context.Context, e models.Email) error
}

// Dispatcher delivers notifications and email off the request path.
// Delivery is at most once; failures are logged and counted, never returned.
type Dispatcher struct {
	pool      *ants.Pool
	publisher Publisher
	mailer    Mailer
	timeout   time.Duration
	dropped   prometheus.Counter
	logger    *zap.Logger
	now       func() time.Time
}

func NewDispatcher(size int, timeout time.Duration, publisher Publisher, mailer Mailer, dropped prometheus.Counter, logger *zap.Logger) (*Dispatcher, error) {
	if size <= 0 {
		size = 16
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pool, err := ants.NewPool(size, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		pool:      pool,
		publisher: publisher,
		mailer:    mailer,
		timeout:   timeout,
		dropped:   dropped,
		logger:    logger.With(zap.String("component", "notify")),
		now:       time.Now,
	}, nil
}

// Notify publishes n to each user
func (d *Dispatcher) Notify(userIDs []string, n models.Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.now().UTC()
	}
	for _, userID := range userIDs {
		userID := userID
		msg := n
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		d.submit(func(ctx context.Context) {
			if err := d.publisher.Publish(ctx, userID, msg); err != nil {
				d.fail("publish notification", err, zap.String("user_id", userID), zap.String("type", string(msg.Type)))
			}
		})
	}
}

// Email queues e for delivery
func (d *Dispatcher) Email(e models.Email) {
	d.submit(func(ctx context.Context) {
		if err := d.mailer.Enqueue(ctx, e); err != nil {
			d.fail("enqueue email", err, zap.String("template", e.Template))
		}
	})
}

func (d *Dispatcher) submit(job func(ctx context.Context)) {
	err := d.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		job(ctx)
	})
	if err != nil {
		d.fail("submit delivery", err)
	}
}

func (d *Dispatcher) fail(msg string, err error, fields ...zap.Field) {
	if d.dropped != nil {
		d.dropped.Inc()
	}
	d.logger.Warn(msg, append(fields, zap.Error(err))...)
}

// Close waits up to timeout for queued deliveries to finish
func (d *Dispatcher) Close(timeout time.Duration) error {
	return d.pool.ReleaseTimeout(timeout)
}
