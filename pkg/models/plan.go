package models

// CompiledNode is one entry of an execution plan. DependsOn is the full
// set of immediate predecessor ids; the engine gates on this set at
// execution time, not merely on list position.
type CompiledNode struct {
	Node      Node     `json:"node"`
	DependsOn []string `json:"depends_on"`
}

// ExecutionPlan is the compiled, ordered, dependency-annotated form of a
// definition. It is pure data and owned by exactly one instance; compiling
// the same definition twice yields an identical plan.
type ExecutionPlan struct {
	DefinitionID string         `json:"definition_id"`
	Nodes        []CompiledNode `json:"nodes"`
}

// Len returns the number of plan positions.
func (p *ExecutionPlan) Len() int {
	return len(p.Nodes)
}
