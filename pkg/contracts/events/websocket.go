// Package events contains the WebSocket event contracts of the report service.
package events

import (
	"time"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// MessageTypeOperationSnapshot carries the full state of a report run
	MessageTypeOperationSnapshot MessageType = "operation:snapshot"

	// Connection messages
	MessageTypeConnect MessageType = "connect"
	MessageTypeError   MessageType = "error"
)

// Message is the envelope written to every WebSocket client
type Message struct {
	Type      MessageType `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// OperationSnapshot is the only message used for run progress
type OperationSnapshot struct {
	OperationID string         `json:"operation_id"`
	Kind        string         `json:"kind,omitempty"`
	Status      string         `json:"status"` // running|completed|failed|aborted|cancelled
	Phase       string         `json:"phase"`
	Progress    int            `json:"progress"` // 0-100
	CurrentStep string         `json:"current_step"`
	Steps       []StepSnapshot `json:"steps"`
	StartedAt   time.Time      `json:"started_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	Message     string         `json:"message,omitempty"`
	Artifacts   []string       `json:"artifacts,omitempty"`
}

// StepSnapshot represents the state of a single step
type StepSnapshot struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`   // pending|running|completed|failed|skipped
	Progress int    `json:"progress"` // 0-100, stage-local
	Weight   int    `json:"weight"`   // share of the overall progress
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}
