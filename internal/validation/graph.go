package validation

import (
	"fmt"

	"github.com/batonflow/baton/pkg/schema"
)

// validateGraph analyzes the routing graph. Cycles are legal (loops are
// built by routing backwards and bounded by runtime guards), so the checks
// are reachability from the entry step and direct self-loops, both
// warnings.
func validateGraph(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if len(def.Steps) == 0 {
		return result
	}

	edges := make(map[string][]string, len(def.Steps))
	for i := range def.Steps {
		s := &def.Steps[i]
		for _, ref := range s.RoutingRefs() {
			edges[s.ID] = append(edges[s.ID], ref.Target)
			if ref.Target == s.ID {
				result.AddWarning(fmt.Sprintf("steps[%s].%s", s.ID, ref.Field),
					schema.ErrCodeValidation,
					fmt.Sprintf("step %q routes to itself", s.ID))
			}
		}
	}

	// BFS from the entry step.
	entry := def.Steps[0].ID
	reachable := map[string]bool{entry: true}
	queue := []string{entry}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, target := range edges[node] {
			if !reachable[target] {
				reachable[target] = true
				queue = append(queue, target)
			}
		}
	}

	for _, s := range def.Steps {
		if !reachable[s.ID] {
			result.AddWarning(fmt.Sprintf("steps[%s]", s.ID),
				schema.ErrCodeValidation,
				fmt.Sprintf("step %q is unreachable from the entry step", s.ID))
		}
	}

	return result
}
