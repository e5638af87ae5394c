package server

import (
	"time"
)

// AuditLogEntry captures one API call for the audit feed.
type AuditLogEntry struct {
	Timestamp       time.Time `json:"timestamp"`
	Handler         string    `json:"handler"`
	Method          string    `json:"method"`
	Path            string    `json:"path"`
	StatusCode      int       `json:"status_code"`
	UserID          string    `json:"user_id,omitempty"`
	RecoveryEventID string    `json:"recovery_event_id,omitempty"`
	NewStatus       string    `json:"new_status,omitempty"`
	Request         string    `json:"request,omitempty"`
	Response        string    `json:"response,omitempty"`
}
