// Package compiler validates workflow graphs and produces deterministic,
// dependency-respecting execution plans.
package compiler

import (
	"errors"
	"fmt"

	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/models"
)

// ErrorKind classifies a compile failure.
type ErrorKind string

const (
	// ErrorKindInvalidGraph covers duplicate node ids and dangling edge references.
	ErrorKindInvalidGraph ErrorKind = "invalid_graph"
	// ErrorKindCyclicGraph indicates the graph contains at least one cycle.
	ErrorKindCyclicGraph ErrorKind = "cyclic_graph"
)

// CompileError is returned before any instance is created; a definition
// that does not compile is never run.
type CompileError struct {
	Kind    ErrorKind
	Message string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("graph compilation failed (%s): %s", e.Kind, e.Message)
}

// IsCompileError reports whether err is a CompileError of the given kind.
func IsCompileError(err error, kind ErrorKind) bool {
	var compileErr *CompileError

	return errors.As(err, &compileErr) && compileErr.Kind == kind
}

// DFS colors for cycle detection.
const (
	white = iota // unvisited
	gray         // on the current DFS stack
	black        // fully explored
)

// Compile validates nodes and connections and returns an ordered execution
// plan. The order is a stable BFS topological sort: the ready queue is
// seeded with zero-incoming nodes in their original array order, and a
// successor is enqueued only once its entire incoming set has been
// appended. Compiling the same input twice yields an identical plan.
func Compile(definitionID string, nodes []models.Node, connections []models.Edge) (*models.ExecutionPlan, error) {
	index := make(map[string]int, len(nodes))

	for i, node := range nodes {
		if node.ID == "" {
			return nil, &CompileError{Kind: ErrorKindInvalidGraph, Message: fmt.Sprintf("node at position %d has no id", i)}
		}

		if _, exists := index[node.ID]; exists {
			return nil, &CompileError{Kind: ErrorKindInvalidGraph, Message: fmt.Sprintf("duplicate node id %q", node.ID)}
		}

		index[node.ID] = i
	}

	// Adjacency in edge-declaration order, deduplicated.
	outgoing := make(map[string][]string, len(nodes))
	incoming := make(map[string][]string, len(nodes))
	seenEdge := make(map[models.Edge]bool, len(connections))

	for _, edge := range connections {
		if _, ok := index[edge.From]; !ok {
			return nil, &CompileError{Kind: ErrorKindInvalidGraph, Message: fmt.Sprintf("edge references unknown node %q", edge.From)}
		}

		if _, ok := index[edge.To]; !ok {
			return nil, &CompileError{Kind: ErrorKindInvalidGraph, Message: fmt.Sprintf("edge references unknown node %q", edge.To)}
		}

		if seenEdge[edge] {
			continue
		}

		seenEdge[edge] = true
		outgoing[edge.From] = append(outgoing[edge.From], edge.To)
		incoming[edge.To] = append(incoming[edge.To], edge.From)
	}

	if cycleNode := findCycle(nodes, outgoing); cycleNode != "" {
		return nil, &CompileError{Kind: ErrorKindCyclicGraph, Message: fmt.Sprintf("cycle detected through node %q", cycleNode)}
	}

	plan := &models.ExecutionPlan{
		DefinitionID: definitionID,
		Nodes:        make([]models.CompiledNode, 0, len(nodes)),
	}

	appended := make(map[string]bool, len(nodes))
	queue := make([]string, 0, len(nodes))

	for _, node := range nodes {
		if len(incoming[node.ID]) == 0 {
			queue = append(queue, node.ID)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		node := nodes[index[id]]
		dependsOn := incoming[id]

		if dependsOn == nil {
			dependsOn = []string{}
		}

		plan.Nodes = append(plan.Nodes, models.CompiledNode{Node: node, DependsOn: dependsOn})
		appended[id] = true

		for _, successor := range outgoing[id] {
			if appended[successor] || queued(queue, successor) {
				continue
			}

			ready := true

			for _, predecessor := range incoming[successor] {
				if !appended[predecessor] {
					ready = false

					break
				}
			}

			if ready {
				queue = append(queue, successor)
			}
		}
	}

	return plan, nil
}

func queued(queue []string, id string) bool {
	for _, queuedID := range queue {
		if queuedID == id {
			return true
		}
	}

	return false
}

// findCycle runs DFS coloring over every node and returns the id of a node
// on a back edge, or "" when the graph is acyclic. Roots are visited in
// original array order so the reported node is deterministic.
func findCycle(nodes []models.Node, outgoing map[string][]string) string {
	colors := make(map[string]int, len(nodes))

	var visit func(id string) string

	visit = func(id string) string {
		colors[id] = gray

		for _, successor := range outgoing[id] {
			switch colors[successor] {
			case gray:
				return successor
			case white:
				if found := visit(successor); found != "" {
					return found
				}
			}
		}

		colors[id] = black

		return ""
	}

	for _, node := range nodes {
		if colors[node.ID] == white {
			if found := visit(node.ID); found != "" {
				return found
			}
		}
	}

	return ""
}
