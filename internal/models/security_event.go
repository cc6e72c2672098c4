package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Severity grades a security event
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Security event types
const (
	EventLoginFailed        = "auth_login_failed"
	EventLoginLocked        = "auth_login_locked"
	EventOTPSent            = "auth_otp_sent"
	EventOTPDeliveryFailed  = "auth_otp_delivery_failed"
	EventOTPInvalid         = "auth_otp_invalid"
	EventOTPExhausted       = "auth_otp_exhausted"
	EventOTPRejected        = "auth_otp_rejected"
	EventOTPIPMismatch      = "auth_otp_ip_mismatch"
	EventOTPDecryptFailed   = "auth_otp_decrypt_failed"
	EventLoginSuccess       = "auth_login_success"
	EventLoginSuspicious    = "auth_login_suspicious"
	EventLoginDegraded      = "auth_login_degraded"
	EventRateLimitExceeded  = "rate_limit_exceeded"
	EventCSRFRejected       = "csrf_rejected"
	EventConfigurationError = "security_configuration_error"
)

// SecurityEvent is an append-only audit record
type SecurityEvent struct {
	ID        string        `db:"id"`
	EventType string        `db:"event_type"`
	Severity  Severity      `db:"severity"`
	Message   string        `db:"message"`
	UserID    *string       `db:"user_id"`
	IPAddress string        `db:"ip_address"`
	UserAgent string        `db:"user_agent"`
	Path      string        `db:"path"`
	Metadata  EventMetadata `db:"metadata"`
	CreatedAt time.Time     `db:"created_at"`
}

// EventMetadata holds additional structured context for a security event
type EventMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (m *EventMetadata) Scan(value interface{}) error {
	if value == nil {
		*m = make(EventMetadata)
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata type %T: %w", value, ErrBadRequest)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	*m = EventMetadata(decoded)
	return nil
}

// Value implements driver.Valuer for JSONB
func (m EventMetadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]interface{}(m))
}

// String returns the metadata value stored under key, or "" when absent
func (m EventMetadata) String(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// NewSecurityEvent starts an event stamped with the request's network context
func NewSecurityEvent(rc RequestContext, eventType string, severity Severity, message string) *SecurityEvent {
	return &SecurityEvent{
		EventType: eventType,
		Severity:  severity,
		Message:   message,
		IPAddress: rc.ClientIP,
		UserAgent: rc.UserAgent,
		Path:      rc.Path,
		Metadata:  make(EventMetadata),
		CreatedAt: rc.Now,
	}
}

// WithUser sets the subject of the event when known
func (e *SecurityEvent) WithUser(userID string) *SecurityEvent {
	if userID != "" {
		e.UserID = &userID
	}
	return e
}

// With adds a metadata entry
func (e *SecurityEvent) With(key string, value interface{}) *SecurityEvent {
	if e.Metadata == nil {
		e.Metadata = make(EventMetadata)
	}
	e.Metadata[key] = value
	return e
}
