package models

import "time"

// Severity classifies a notification for display and auto-dismiss timing.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// NotificationAction is an optional descriptor a UI can render as a button,
// e.g. {Label: "View video", Target: "video:abc123"}.
type NotificationAction struct {
	Label  string `json:"label"`
	Target string `json:"target"`
}

// Notification is one entry in the user-facing event log. The list is
// insertion-ordered newest first and capped; see notify.Center.
type Notification struct {
	ID         string              `json:"id"`
	Message    string              `json:"message"`
	Severity   Severity            `json:"severity"`
	CreatedAt  time.Time           `json:"created_at"`
	Read       bool                `json:"read"`
	Persistent bool                `json:"persistent"`
	Action     *NotificationAction `json:"action,omitempty"`
}
