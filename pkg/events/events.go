// Package events defines event types for instance lifecycle notifications.
// Presentation layers subscribe to this stream; they never own state.
package events

import (
	"time"

	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Kafka topic for execution lifecycle events.
const Topic = "outreach.executions"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Instance lifecycle events.
	InstanceStartedEvent   EventType = "instance.started"
	InstanceCompletedEvent EventType = "instance.completed"
	InstanceFailedEvent    EventType = "instance.failed"
	InstancePausedEvent    EventType = "instance.paused"
	InstanceResumedEvent   EventType = "instance.resumed"
	InstanceCancelledEvent EventType = "instance.cancelled"

	// Per-node events.
	NodeCompletedEvent EventType = "node.completed"
	NodeFailedEvent    EventType = "node.failed"
	NodeSkippedEvent   EventType = "node.skipped"
)

type BaseEvent struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	InstanceID   string         `json:"instance_id"`
	DefinitionID string         `json:"definition_id"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type InstanceStarted struct {
	BaseEvent

	UserID    string `json:"user_id"`
	NodeCount int    `json:"node_count"`
	Cursor    int    `json:"cursor"`
}

func (e InstanceStarted) GetType() EventType {
	return InstanceStartedEvent
}

type InstanceCompleted struct {
	BaseEvent

	NodesSucceeded int           `json:"nodes_succeeded"`
	NodesFailed    int           `json:"nodes_failed"`
	NodesSkipped   int           `json:"nodes_skipped"`
	Duration       time.Duration `json:"duration"`
}

func (e InstanceCompleted) GetType() EventType {
	return InstanceCompletedEvent
}

type InstanceFailed struct {
	BaseEvent

	NodesSucceeded int           `json:"nodes_succeeded"`
	NodesFailed    int           `json:"nodes_failed"`
	Duration       time.Duration `json:"duration"`
}

func (e InstanceFailed) GetType() EventType {
	return InstanceFailedEvent
}

type InstancePaused struct {
	BaseEvent

	Cursor int `json:"cursor"`
}

func (e InstancePaused) GetType() EventType {
	return InstancePausedEvent
}

type InstanceResumed struct {
	BaseEvent

	Cursor int `json:"cursor"`
}

func (e InstanceResumed) GetType() EventType {
	return InstanceResumedEvent
}

type InstanceCancelled struct {
	BaseEvent

	Cursor int `json:"cursor"`
}

func (e InstanceCancelled) GetType() EventType {
	return InstanceCancelledEvent
}

type NodeCompleted struct {
	BaseEvent

	NodeID     string         `json:"node_id"`
	Platform   string         `json:"platform"`
	ActionType string         `json:"action_type"`
	Data       map[string]any `json:"data,omitempty"`
}

func (e NodeCompleted) GetType() EventType {
	return NodeCompletedEvent
}

type NodeFailed struct {
	BaseEvent

	NodeID     string           `json:"node_id"`
	Platform   string           `json:"platform"`
	ActionType string           `json:"action_type"`
	ErrorKind  models.ErrorKind `json:"error_kind"`
	Error      string           `json:"error"`
	Attempts   int              `json:"attempts"`
}

func (e NodeFailed) GetType() EventType {
	return NodeFailedEvent
}

type NodeSkipped struct {
	BaseEvent

	NodeID string `json:"node_id"`
	Reason string `json:"reason"`
}

func (e NodeSkipped) GetType() EventType {
	return NodeSkippedEvent
}

func NewBaseEvent(eventType EventType, instanceID, definitionID string) BaseEvent {
	return BaseEvent{
		ID:           uuid.New().String(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		InstanceID:   instanceID,
		DefinitionID: definitionID,
		Metadata:     make(map[string]any),
	}
}
