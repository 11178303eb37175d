// Package audit provides security audit logging for SIEM consumption.
// Events are logged as structured JSON under the "security_audit" logger so
// they can be filtered out of the regular service logs.
package audit

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventTableHintInjection is logged when libinjection flags an operator table hint.
	EventTableHintInjection SecurityEventType = "table_hint_injection"
	// EventAdminAuthFailure is logged when an admin request carries a missing or wrong token.
	EventAdminAuthFailure SecurityEventType = "admin_auth_failure"
)

// SecurityEvent represents an auditable security event.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// InjectionDetails contains specifics of a flagged input value.
type InjectionDetails struct {
	Field       string `json:"field"`
	Value       string `json:"value"`
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
}

// SecurityAuditor logs security events for SIEM consumption.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor with a dedicated logger namespace.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogInjectionAttempt records an input that matched a SQL injection pattern.
// Logged at ERROR level with "critical" severity.
func (a *SecurityAuditor) LogInjectionAttempt(details InjectionDetails) {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventTableHintInjection,
		Details:   details,
		Severity:  "critical",
	}

	// Marshaling known types does not fail.
	eventJSON, _ := json.Marshal(event)

	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", string(eventJSON)),
		zap.String("field", details.Field),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("severity", "critical"),
	)
}

// LogAdminAuthFailure records a rejected admin request. reason is "missing_token"
// or "invalid_token"; the supplied token itself is never logged.
func (a *SecurityAuditor) LogAdminAuthFailure(path, reason, clientIP string) {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventAdminAuthFailure,
		ClientIP:  clientIP,
		Details: map[string]string{
			"path":   path,
			"reason": reason,
		},
		Severity: "warning",
	}

	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("Admin authentication failed",
		zap.String("event_json", string(eventJSON)),
		zap.String("path", path),
		zap.String("reason", reason),
		zap.String("client_ip", clientIP),
		zap.String("severity", "warning"),
	)
}
