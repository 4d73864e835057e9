// Package diagram renders a workflow's routing graph as a Mermaid flowchart.
// The model is built from the definition alone; it carries no runtime state.
package diagram

// NodeKind classifies a diagram node by its workflow step type.
type NodeKind string

const (
	NodeKindAgent     NodeKind = "agent"
	NodeKindTransform NodeKind = "transform"
	NodeKindCondition NodeKind = "condition"
	NodeKindParallel  NodeKind = "parallel"
	NodeKindApproval  NodeKind = "approval"
	NodeKindStart     NodeKind = "start"
	NodeKindEnd       NodeKind = "end"
)

// DiagramModel is the intermediate representation the renderer consumes.
type DiagramModel struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node represents a single step in the diagram.
type Node struct {
	ID       string
	Label    string
	Kind     NodeKind
	Children []*SubGraph // parallel branches
}

// SubGraph frames the nested steps of a parallel node.
type SubGraph struct {
	Label string
	Nodes []*Node
}

// Edge is one routing hop. Label names the routing field that creates it
// ("then", "on error", ...); an empty label is a plain next hop.
type Edge struct {
	From  string
	To    string
	Label string
}
