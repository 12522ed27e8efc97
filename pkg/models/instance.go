package models

import "time"

// InstanceStatus represents the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusPending   InstanceStatus = "pending"
	InstanceStatusRunning   InstanceStatus = "running"
	InstanceStatusPaused    InstanceStatus = "paused"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusFailed    InstanceStatus = "failed"
	InstanceStatusCancelled InstanceStatus = "cancelled"
)

// IsTerminal reports whether the status permits no further transitions.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusFailed || s == InstanceStatusCancelled
}

// NodeOutcome is the terminal per-node result recorded in instance history.
type NodeOutcome string

const (
	NodeOutcomeCompleted NodeOutcome = "completed"
	NodeOutcomeFailed    NodeOutcome = "failed"
	NodeOutcomeSkipped   NodeOutcome = "skipped"
)

// Event is one immutable entry in an instance's append-only history.
// StatusChange is set only on events that transition the instance status.
type Event struct {
	Timestamp    time.Time      `json:"timestamp"`
	NodeID       string         `json:"node_id,omitempty"`
	NodeOutcome  NodeOutcome    `json:"node_outcome,omitempty"`
	StatusChange InstanceStatus `json:"status_change,omitempty"`
	Message      string         `json:"message"`
	Result       map[string]any `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// WorkflowInstance is one run of a definition. It is created when a
// definition is first run, mutated only through the store, and never
// deleted, only appended-to.
type WorkflowInstance struct {
	ID           string         `json:"id"`
	DefinitionID string         `json:"definition_id" validate:"required"`
	UserID       string         `json:"user_id"`
	Status       InstanceStatus `json:"status"`
	Cursor       int            `json:"cursor"` // Next plan position to attempt
	History      []Event        `json:"history"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// LastOutcome returns the most recent recorded outcome for a node, if any.
func (i *WorkflowInstance) LastOutcome(nodeID string) (NodeOutcome, bool) {
	for idx := len(i.History) - 1; idx >= 0; idx-- {
		event := i.History[idx]
		if event.NodeID == nodeID && event.NodeOutcome != "" {
			return event.NodeOutcome, true
		}
	}

	return "", false
}
