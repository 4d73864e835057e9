package journal

import (
	"context"
	"encoding/json"

	"github.com/batonflow/baton/internal/expressions"
)

// Query is the read side of the journal: it assembles JSON-native run
// documents and filters them with jq expressions. Backs the CLI history
// command and the history query tool.
type Query struct {
	journal Journal
	jq      *expressions.GoJQEngine
}

// NewQuery creates a query layer over j.
func NewQuery(j Journal) *Query {
	return &Query{journal: j, jq: expressions.NewGoJQEngine()}
}

// RunDocument loads one run and its event stream as a jq-ready document:
//
//	{"run": {...}, "events": [{...}, ...]}
func (q *Query) RunDocument(ctx context.Context, runID string) (map[string]any, error) {
	run, err := q.journal.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	events, err := q.journal.ListEvents(ctx, runID, 0)
	if err != nil {
		return nil, err
	}
	doc := map[string]any{
		"run":    toNative(run),
		"events": toNativeList(events),
	}
	return doc, nil
}

// RunsDocument loads runs matching the filter as {"runs": [{...}, ...]}.
// Event streams are not loaded; use RunDocument for a single run's detail.
func (q *Query) RunsDocument(ctx context.Context, filter RunFilter) (map[string]any, error) {
	runs, err := q.journal.ListRuns(ctx, filter)
	if err != nil {
		return nil, err
	}
	return map[string]any{"runs": toNativeList(runs)}, nil
}

// EvalRun applies a jq expression to a single run document and returns all
// outputs. An empty expression means the identity filter.
func (q *Query) EvalRun(ctx context.Context, runID, expression string) ([]any, error) {
	doc, err := q.RunDocument(ctx, runID)
	if err != nil {
		return nil, err
	}
	return q.jq.EvaluateAll(ctx, orIdentity(expression), doc)
}

// EvalRuns applies a jq expression to the runs listing document.
func (q *Query) EvalRuns(ctx context.Context, filter RunFilter, expression string) ([]any, error) {
	doc, err := q.RunsDocument(ctx, filter)
	if err != nil {
		return nil, err
	}
	return q.jq.EvaluateAll(ctx, orIdentity(expression), doc)
}

func orIdentity(expression string) string {
	if expression == "" {
		return "."
	}
	return expression
}

// toNative round-trips v through JSON so jq sees only native types
// (map[string]any, []any, float64, string, bool, nil). RawMessage columns
// inline as their decoded values.
func toNative(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func toNativeList[T any](list []T) []any {
	out := make([]any, 0, len(list))
	for _, item := range list {
		out = append(out, toNative(item))
	}
	return out
}
