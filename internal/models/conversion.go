package models

import (
	"time"
)

// CallStatus is the terminal status of a tracked call.
type CallStatus string

const (
	CallStatusCompleted CallStatus = "completed"
	CallStatusMissed    CallStatus = "missed"
	CallStatusBusy      CallStatus = "busy"
	CallStatusFailed    CallStatus = "failed"
)

// Conversion is a resolved call tied (when possible) to a visitor. Calls
// without a resolvable visitor identity are still stored for call-volume
// reporting but never participate in attribution.
type Conversion struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	// VisitorID is empty when the call could not be matched to a visitor.
	VisitorID string `json:"visitor_id,omitempty"`

	CompletedAt time.Time  `json:"completed_at"`
	Status      CallStatus `json:"status"`

	// Value is optional revenue associated with the call.
	Value float64 `json:"value,omitempty"`
}

// Attributable reports whether this conversion participates in attribution:
// it must be completed and carry a visitor identity.
func (c *Conversion) Attributable() bool {
	return c.VisitorID != "" && c.Status == CallStatusCompleted
}
