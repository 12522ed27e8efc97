// Package ingest converts graphs produced by the external drag-and-drop
// editor into workflow definitions. The editor speaks in skills; the core
// speaks in platform/action pairs.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// ErrUnknownSkill indicates an editor node references a skill with no
// platform/action binding.
var ErrUnknownSkill = errors.New("unknown skill")

// EditorNode is one node as drawn in the editor.
type EditorNode struct {
	ID     string         `json:"id"`
	Skill  string         `json:"skill"`
	Label  string         `json:"label,omitempty"`
	Config map[string]any `json:"config,omitempty"`
}

// EditorConnection is one directed edge as drawn in the editor.
type EditorConnection struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// EditorGraph is the wire format consumed from the editor.
type EditorGraph struct {
	Name        string             `json:"name,omitempty"`
	Nodes       []EditorNode       `json:"nodes"`
	Connections []EditorConnection `json:"connections"`
}

type binding struct {
	platform   string
	actionType string
}

// skillTable binds the editor's named skills to platform actions. Skills
// not listed here may still use the explicit "platform.action" form.
var skillTable = map[string]binding{
	"search_profiles": {platform: "discovery", actionType: "search"},
	"view_profile":    {platform: "linkedin", actionType: "view"},
	"like_post":       {platform: "linkedin", actionType: "like"},
	"send_connection": {platform: "linkedin", actionType: "connect"},
	"send_message":    {platform: "linkedin", actionType: "message"},
	"like_tweet":      {platform: "twitter", actionType: "like"},
	"follow_account":  {platform: "twitter", actionType: "follow"},
	"send_email":      {platform: "email", actionType: "send"},
}

var graphSchema = map[string]any{
	"type":     "object",
	"required": []string{"nodes"},
	"properties": map[string]any{
		"name": map[string]any{"type": "string"},
		"nodes": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items": map[string]any{
				"type":     "object",
				"required": []string{"id", "skill"},
				"properties": map[string]any{
					"id":     map[string]any{"type": "string", "minLength": 1},
					"skill":  map[string]any{"type": "string", "minLength": 1},
					"label":  map[string]any{"type": "string"},
					"config": map[string]any{"type": "object"},
				},
			},
		},
		"connections": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []string{"from", "to"},
				"properties": map[string]any{
					"from": map[string]any{"type": "string", "minLength": 1},
					"to":   map[string]any{"type": "string", "minLength": 1},
				},
			},
		},
	},
}

// Parse validates an editor payload against the graph schema and maps it
// into a workflow definition. Graph-level invariants (unique ids, no
// dangling edges, no cycles) are the compiler's responsibility.
func Parse(body []byte) (*models.WorkflowDefinition, error) {
	var payload map[string]any

	err := json.Unmarshal(body, &payload)
	if err != nil {
		return nil, fmt.Errorf("invalid editor payload: %w", err)
	}

	err = validateSchema(payload)
	if err != nil {
		return nil, err
	}

	var graph EditorGraph

	err = json.Unmarshal(body, &graph)
	if err != nil {
		return nil, fmt.Errorf("invalid editor payload: %w", err)
	}

	return MapGraph(graph)
}

// MapGraph converts an already-decoded editor graph into a definition.
func MapGraph(graph EditorGraph) (*models.WorkflowDefinition, error) {
	definition := &models.WorkflowDefinition{
		Name:        graph.Name,
		Nodes:       make([]models.Node, 0, len(graph.Nodes)),
		Connections: make([]models.Edge, 0, len(graph.Connections)),
	}

	if definition.Name == "" {
		definition.Name = "untitled workflow"
	}

	for _, editorNode := range graph.Nodes {
		platform, actionType, err := resolveSkill(editorNode.Skill)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", editorNode.ID, err)
		}

		definition.Nodes = append(definition.Nodes, models.Node{
			ID:         editorNode.ID,
			Platform:   platform,
			ActionType: actionType,
			Label:      editorNode.Label,
			Parameters: editorNode.Config,
		})
	}

	for _, connection := range graph.Connections {
		definition.Connections = append(definition.Connections, models.Edge{
			From: connection.From,
			To:   connection.To,
		})
	}

	return definition, nil
}

// resolveSkill maps a named skill, or the explicit "platform.action"
// form, to its platform/action binding.
func resolveSkill(skill string) (string, string, error) {
	if bound, ok := skillTable[skill]; ok {
		return bound.platform, bound.actionType, nil
	}

	platform, actionType, ok := strings.Cut(skill, ".")
	if ok && platform != "" && actionType != "" {
		return platform, actionType, nil
	}

	return "", "", fmt.Errorf("%w: %s", ErrUnknownSkill, skill)
}

func validateSchema(payload map[string]any) error {
	schemaLoader := gojsonschema.NewGoLoader(graphSchema)
	dataLoader := gojsonschema.NewGoLoader(payload)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("failed to validate editor payload: %w", err)
	}

	if !result.Valid() {
		descriptions := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			descriptions = append(descriptions, desc.String())
		}

		return fmt.Errorf("invalid editor payload: %s", strings.Join(descriptions, "; "))
	}

	return nil
}
