package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")

	// Title as comment.
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	// Render nodes with shapes based on kind.
	for _, node := range model.Nodes {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))

		// Subgraphs for parallel branches.
		for _, sg := range node.Children {
			b.WriteString(fmt.Sprintf("    subgraph %s[\"%s: %s\"]\n",
				mermaidSafeID(node.ID+"_"+sg.Label), node.ID, sg.Label))
			for _, subNode := range sg.Nodes {
				b.WriteString(fmt.Sprintf("        %s\n", mermaidNodeDef(subNode)))
			}
			b.WriteString("    end\n")
		}
	}

	// Render edges.
	for _, edge := range model.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		b.WriteString(fmt.Sprintf("    %s -->%s %s\n",
			mermaidSafeID(edge.From), label, mermaidSafeID(edge.To)))
	}

	// Kind class definitions.
	b.WriteString("\n")
	b.WriteString("    classDef agent fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef transform fill:#4a235a,stroke:#331845,color:#fff\n")
	b.WriteString("    classDef condition fill:#b7791a,stroke:#8a5c14,color:#fff\n")
	b.WriteString("    classDef parallel fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef approval fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef terminal fill:#4a4a4a,stroke:#333,color:#aaa\n")

	// Apply kind classes.
	for _, node := range model.Nodes {
		writeNodeClass(&b, node)
		for _, sg := range node.Children {
			for _, subNode := range sg.Nodes {
				writeNodeClass(&b, subNode)
			}
		}
	}

	return b.String()
}

func writeNodeClass(b *strings.Builder, node *Node) {
	if cls := mermaidKindClass(node.Kind); cls != "" {
		b.WriteString(fmt.Sprintf("    class %s %s\n", mermaidSafeID(node.ID), cls))
	}
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := mermaidEscapeLabel(node.Label)

	switch node.Kind {
	case NodeKindCondition:
		return fmt.Sprintf("%s{%q}", id, label)
	case NodeKindTransform:
		return fmt.Sprintf("%s[/%q/]", id, label)
	case NodeKindParallel:
		return fmt.Sprintf("%s[[%q]]", id, label)
	case NodeKindApproval:
		return fmt.Sprintf("%s([%q])", id, label)
	case NodeKindStart, NodeKindEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	default: // agent
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
// Replaces dots and dashes with underscores.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

// mermaidEscapeLabel makes a label safe inside a quoted Mermaid string:
// newlines become <br/> and double quotes become #quot;.
func mermaidEscapeLabel(s string) string {
	r := strings.NewReplacer("\n", "<br/>", `"`, "#quot;")
	return r.Replace(s)
}

// mermaidKindClass maps a node kind to its classDef name.
func mermaidKindClass(kind NodeKind) string {
	switch kind {
	case NodeKindAgent:
		return "agent"
	case NodeKindTransform:
		return "transform"
	case NodeKindCondition:
		return "condition"
	case NodeKindParallel:
		return "parallel"
	case NodeKindApproval:
		return "approval"
	case NodeKindStart, NodeKindEnd:
		return "terminal"
	default:
		return ""
	}
}
