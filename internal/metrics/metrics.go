package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the service collectors on a private registry
type Metrics struct {
	Registry *prometheus.Registry

	Settlements          *prometheus.CounterVec
	TabsSettled          prometheus.Counter
	TrustUpdateFailures  prometheus.Counter
	LedgerVerifyDuration *prometheus.HistogramVec
	RemindersSent        *prometheus.CounterVec
	ReminderFailures     *prometheus.CounterVec
	NotificationsDropped prometheus.Counter
	HTTPRequests         *prometheus.CounterVec
	HTTPDuration         *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ghosttab",
			Name:      "settlements_total",
			Help:      "Settlement attempts by result.",
		}, []string{"result"}),
		TabsSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ghosttab",
			Name:      "tabs_settled_total",
			Help:      "Tabs transitioned to SETTLED.",
		}),
		TrustUpdateFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ghosttab",
			Name:      "trust_update_failures_total",
			Help:      "Trust score updates that failed after a recorded settlement.",
		}),
		LedgerVerifyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ghosttab",
			Name:      "ledger_verify_duration_seconds",
			Help:      "Ledger transaction lookups.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		RemindersSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ghosttab",
			Name:      "reminders_sent_total",
			Help:      "Reminder and overdue notices sent.",
		}, []string{"kind"}),
		ReminderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ghosttab",
			Name:      "reminder_failures_total",
			Help:      "Reminder sends that failed.",
		}, []string{"kind"}),
		NotificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ghosttab",
			Name:      "notifications_dropped_total",
			Help:      "Notifications that could not be published.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ghosttab",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ghosttab",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.Registry.MustRegister(
		m.Settlements,
		m.TabsSettled,
		m.TrustUpdateFailures,
		m.LedgerVerifyDuration,
		m.RemindersSent,
		m.ReminderFailures,
		m.NotificationsDropped,
		m.HTTPRequests,
		m.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}
