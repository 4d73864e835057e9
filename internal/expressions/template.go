package expressions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/batonflow/baton/pkg/schema"
)

// RenderTemplate resolves ${{...}} placeholders in a message string.
// Approval prompts use it so a message can reference workflow data:
//
//	"Deploy ${{plan.version}} to ${{input.environment}}?"
//
// Each placeholder body is evaluated by the engine against the scope and the
// result is embedded inline. Text without placeholders passes through
// unchanged. Nested or unclosed placeholders are errors.
func RenderTemplate(ctx context.Context, engine Engine, message string, scope map[string]any) (string, error) {
	if !strings.Contains(message, "${{") {
		return message, nil
	}

	var out strings.Builder
	out.Grow(len(message))

	i := 0
	for i < len(message) {
		idx := strings.Index(message[i:], "${{")
		if idx == -1 {
			out.WriteString(message[i:])
			break
		}

		out.WriteString(message[i : i+idx])
		start := i + idx + 3

		end := strings.Index(message[start:], "}}")
		if end == -1 {
			return "", schema.NewError(schema.ErrCodeExpression, "unclosed ${{ placeholder")
		}
		end += start

		body := strings.TrimSpace(message[start:end])
		if body == "" {
			return "", schema.NewError(schema.ErrCodeExpression, "empty ${{ }} placeholder")
		}
		if strings.Contains(body, "${{") {
			return "", schema.NewError(schema.ErrCodeExpression,
				"nested placeholders not allowed: ${{...}} cannot contain ${{")
		}

		val, err := engine.Evaluate(ctx, body, scope)
		if err != nil {
			return "", err
		}
		out.WriteString(stringify(val))

		i = end + 2
	}

	return out.String(), nil
}

// stringify converts a resolved value into its inline text form. Strings
// embed without quotes; composites JSON-encode.
func stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
