package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type OTPType string

const (
	OTPTabParticipation OTPType = "TAB_PARTICIPATION"
)

// OTPCode is a one-time code. Only the digest of the code is stored.
type OTPCode struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	CodeHash  string    `json:"-" db:"code_hash"`
	Type      OTPType   `json:"type" db:"type"`
	Metadata  Metadata  `json:"metadata" db:"metadata"`
	ExpiresAt time.Time `json:"expiresAt" db:"expires_at"`
	Used      bool      `json:"used" db:"used"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Metadata is a JSONB column
type Metadata map[string]any

// Value implements driver.Valuer for Metadata
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for Metadata
func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, m)
}

// String returns a string-valued entry or ""
func (m Metadata) String(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
