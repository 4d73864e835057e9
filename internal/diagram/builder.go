package diagram

import (
	"fmt"
	"strings"

	"github.com/batonflow/baton/pkg/schema"
)

// Build constructs a DiagramModel from a workflow definition. Every routing
// field becomes a labeled edge; an absent success route becomes an edge to
// the virtual end node, since an empty route terminates the run. Absent
// on_error draws nothing: that is a failure, not a completion.
func Build(def *schema.WorkflowDefinition) *DiagramModel {
	model := &DiagramModel{Title: titleFromDef(def)}

	start := &Node{ID: "__start__", Label: "start", Kind: NodeKindStart}
	model.Nodes = append(model.Nodes, start)

	for i := range def.Steps {
		step := &def.Steps[i]
		node := stepToNode(step)
		if step.Type == schema.StepTypeParallel {
			buildBranches(node, step)
		}
		model.Nodes = append(model.Nodes, node)
	}

	end := &Node{ID: "__end__", Label: "end", Kind: NodeKindEnd}
	model.Nodes = append(model.Nodes, end)

	if len(def.Steps) > 0 {
		model.Edges = append(model.Edges, Edge{From: "__start__", To: def.Steps[0].ID})
	} else {
		model.Edges = append(model.Edges, Edge{From: "__start__", To: "__end__"})
	}

	for i := range def.Steps {
		step := &def.Steps[i]
		model.Edges = append(model.Edges, stepEdges(step)...)
	}

	return model
}

// stepEdges derives the outgoing edges of one step from its routing fields.
func stepEdges(step *schema.WorkflowStep) []Edge {
	var edges []Edge
	route := func(label, target string) {
		if target == "" {
			target = "__end__"
		}
		edges = append(edges, Edge{From: step.ID, To: target, Label: label})
	}

	switch step.Type {
	case schema.StepTypeCondition:
		route("then", step.Then)
		route("else", step.Else)
	case schema.StepTypeApproval:
		route("approve", step.OnApprove)
		route("reject", step.OnReject)
	case schema.StepTypeParallel:
		// Fan out into the branches, then join on the success route.
		joinTo := step.Next
		if joinTo == "" {
			joinTo = "__end__"
		}
		for i := range step.Steps {
			child := branchID(step.ID, &step.Steps[i])
			edges = append(edges, Edge{From: step.ID, To: child})
			edges = append(edges, Edge{From: child, To: joinTo})
		}
		if len(step.Steps) == 0 {
			route("", step.Next)
		}
	default:
		route("", step.Next)
	}

	if step.OnError != "" {
		edges = append(edges, Edge{From: step.ID, To: step.OnError, Label: "on error"})
	}
	return edges
}

// stepToNode maps a WorkflowStep to a diagram Node.
func stepToNode(step *schema.WorkflowStep) *Node {
	return &Node{
		ID:    step.ID,
		Label: nodeLabel(step),
		Kind:  stepTypeToKind(step.Type),
	}
}

// stepTypeToKind converts a schema.StepType to a NodeKind.
func stepTypeToKind(st schema.StepType) NodeKind {
	switch st {
	case schema.StepTypeAgent:
		return NodeKindAgent
	case schema.StepTypeTransform:
		return NodeKindTransform
	case schema.StepTypeCondition:
		return NodeKindCondition
	case schema.StepTypeParallel:
		return NodeKindParallel
	case schema.StepTypeApproval:
		return NodeKindApproval
	default:
		return NodeKindAgent
	}
}

// nodeLabel creates a human-readable label for a node.
func nodeLabel(step *schema.WorkflowStep) string {
	switch step.Type {
	case schema.StepTypeAgent:
		if step.Agent != "" {
			return fmt.Sprintf("%s\n(%s)", step.ID, step.Agent)
		}
	case schema.StepTypeCondition:
		if step.Condition != "" {
			return fmt.Sprintf("%s\n%s", step.ID, truncateLabel(step.Condition, 40))
		}
	case schema.StepTypeApproval:
		if step.Message != "" {
			return fmt.Sprintf("%s\n%s", step.ID, truncateLabel(step.Message, 40))
		}
	}
	return step.ID
}

// buildBranches attaches a subgraph of the parallel step's nested steps.
// Nested ids follow result naming: parentID.childID.
func buildBranches(node *Node, step *schema.WorkflowStep) {
	if len(step.Steps) == 0 {
		return
	}
	sg := &SubGraph{Label: "branches"}
	for i := range step.Steps {
		child := &step.Steps[i]
		sg.Nodes = append(sg.Nodes, &Node{
			ID:    branchID(step.ID, child),
			Label: nodeLabel(child),
			Kind:  stepTypeToKind(child.Type),
		})
	}
	node.Children = append(node.Children, sg)
}

func branchID(parentID string, child *schema.WorkflowStep) string {
	return parentID + "." + child.ID
}

// truncateLabel bounds a label to max runes on its first line.
func truncateLabel(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "..."
}

// titleFromDef generates a diagram title from the definition.
func titleFromDef(def *schema.WorkflowDefinition) string {
	if def.Description != "" {
		return fmt.Sprintf("%s: %s", def.ID, truncateLabel(def.Description, 60))
	}
	if def.ID != "" {
		return def.ID
	}
	return "workflow"
}
