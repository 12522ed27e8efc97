// Package models defines the core domain models for rate-limited outreach workflows.
package models

import "time"

// Node is a single external action request within a workflow graph.
type Node struct {
	ID         string         `json:"id"          validate:"required"`
	Platform   string         `json:"platform"    validate:"required"`
	ActionType string         `json:"action_type" validate:"required"`
	Label      string         `json:"label,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Edge is a directed dependency between two nodes: To may not execute
// until From has reached a terminal per-node outcome.
type Edge struct {
	From string `json:"from" validate:"required"`
	To   string `json:"to"   validate:"required"`
}

// WorkflowDefinition is the static, user-authored graph of actions and
// dependencies. It is immutable once an instance has started running.
type WorkflowDefinition struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"  validate:"required,min=3"`
	Owner       string    `json:"owner"`
	Nodes       []Node    `json:"nodes" validate:"required,min=1,dive"`
	Connections []Edge    `json:"connections" validate:"dive"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Platforms returns the distinct platforms referenced by the definition,
// in first-appearance order.
func (d *WorkflowDefinition) Platforms() []string {
	seen := make(map[string]bool, len(d.Nodes))
	platforms := make([]string, 0, len(d.Nodes))

	for _, node := range d.Nodes {
		if !seen[node.Platform] {
			seen[node.Platform] = true

			platforms = append(platforms, node.Platform)
		}
	}

	return platforms
}

// NodeByID returns the node with the given id, if present.
func (d *WorkflowDefinition) NodeByID(id string) (Node, bool) {
	for _, node := range d.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return Node{}, false
}
