package audit

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	EventSettlement        = "SETTLEMENT"
	EventTabTransition     = "TAB_TRANSITION"
	EventTrustInconsistent = "TRUST_INCONSISTENCY"
	EventParticipation     = "PARTICIPATION"
	EventError             = "ERROR"
)

type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	TabID     string            `json:"tab_id"`
	UserID    string            `json:"user_id,omitempty"`
	Amount    string            `json:"amount,omitempty"`
	Status    string            `json:"status"`
	Details   map[string]string `json:"details,omitempty"`
}

// AuditLogger writes audit events to a dedicated named logger
type AuditLogger struct {
	log *zap.Logger
	now func() time.Time
}

func NewAuditLogger(log *zap.Logger) *AuditLogger {
	return &AuditLogger{log: log.Named("audit"), now: time.Now}
}

func (a *AuditLogger) LogSettlement(tabID, userID, txHash string, amount decimal.Decimal, daysLate int) {
	a.write(AuditEvent{
		EventType: EventSettlement,
		TabID:     tabID,
		UserID:    userID,
		Amount:    amount.String(),
		Status:    "SUCCESS",
		Details: map[string]string{
			"tx_hash":   txHash,
			"days_late": strconv.Itoa(daysLate),
		},
	})
}

func (a *AuditLogger) LogTabTransition(tabID, actorID, from, to string) {
	a.write(AuditEvent{
		EventType: EventTabTransition,
		TabID:     tabID,
		UserID:    actorID,
		Status:    "SUCCESS",
		Details:   map[string]string{"from": from, "to": to},
	})
}

func (a *AuditLogger) LogParticipation(tabID, userID, decision string) {
	a.write(AuditEvent{
		EventType: EventParticipation,
		TabID:     tabID,
		UserID:    userID,
		Status:    "SUCCESS",
		Details:   map[string]string{"decision": decision},
	})
}

// LogTrustInconsistency records a settlement whose trust update failed. These
// rows need reconciliation.
func (a *AuditLogger) LogTrustInconsistency(tabID, userID string, daysLate int, err error) {
	a.write(AuditEvent{
		EventType: EventTrustInconsistent,
		TabID:     tabID,
		UserID:    userID,
		Status:    "RECONCILE",
		Details: map[string]string{
			"days_late": strconv.Itoa(daysLate),
			"error":     err.Error(),
		},
	})
}

func (a *AuditLogger) LogError(tabID, userID string, err error) {
	a.write(AuditEvent{
		EventType: EventError,
		TabID:     tabID,
		UserID:    userID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *AuditLogger) write(event AuditEvent) {
	event.Timestamp = a.now()
	fields := []zap.Field{
		zap.String("event_type", event.EventType),
		zap.Time("event_time", event.Timestamp),
		zap.String("tab_id", event.TabID),
		zap.String("status", event.Status),
	}
	if event.UserID != "" {
		fields = append(fields, zap.String("user_id", event.UserID))
	}
	if event.Amount != "" {
		fields = append(fields, zap.String("amount", event.Amount))
	}
	if len(event.Details) > 0 {
		fields = append(fields, zap.Any("details", event.Details))
	}

	if event.Status == "SUCCESS" {
		a.log.Info("AUDIT", fields...)
		return
	}
	a.log.Warn("AUDIT", fields...)
}
