package expressions

import "context"

// Engine evaluates expressions against workflow data.
// Four implementations: Path (transforms and conditions), CEL (approval
// policies), Expr (agent enable rules), GoJQ (run history queries).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
