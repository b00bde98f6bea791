package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/Lechros/chatda/internal/mangle"
)

type QueryFactsTool struct {
	engine *mangle.Engine
}

func (t *QueryFactsTool) Name() string { return "query-facts" }
func (t *QueryFactsTool) Description() string {
	return `Evaluate one Mangle atom against the overlay fact log.

Base predicates: page_context, listing_scan, compare_added, compare_rejected,
panel_state, bubble_phase, host_drift, remote_failure, chat_turn.
Derived: compared(M), detail_visit(M), bubble_dismissed(M), drifted(C),
compared_on_detail(M).

EXAMPLE: query-facts(query: "compared_on_detail(M).")

Returns: {results: [{Var: value}], count}`
}
func (t *QueryFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Atom ending in a period, e.g. drifted(C).",
			},
		},
		"required": []string{"query"},
	}
}
func (t *QueryFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.engine == nil || !t.engine.Ready() {
		return nil, mangle.ErrNotReady
	}
	query := getStringArg(args, "query")
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	results, err := t.engine.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"results": results, "count": len(results)}, nil
}

type ReadFactsTool struct {
	engine *mangle.Engine
}

func (t *ReadFactsTool) Name() string { return "read-facts" }
func (t *ReadFactsTool) Description() string {
	return `Read the most recent buffered facts, optionally for one predicate.

since (e.g. "5m") keeps only facts recorded within that window; it needs a
predicate.

Returns: {facts, count, predicates}`
}
func (t *ReadFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type": "string",
			},
			"limit": map[string]interface{}{
				"type":    "integer",
				"default": 25,
			},
			"since": map[string]interface{}{
				"type":        "string",
				"description": "Go duration, e.g. 30s or 5m",
			},
		},
	}
}
func (t *ReadFactsTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	if t.engine == nil || !t.engine.Ready() {
		return nil, mangle.ErrNotReady
	}
	predicate := getStringArg(args, "predicate")
	limit := clampLimit(getIntArg(args, "limit", 25))

	var facts []mangle.Fact
	if raw := getStringArg(args, "since"); raw != "" {
		window, err := time.ParseDuration(raw)
		if err != nil || window <= 0 {
			return nil, fmt.Errorf("since must be a positive duration like 5m")
		}
		if predicate == "" {
			return nil, fmt.Errorf("since requires predicate")
		}
		facts = newest(t.engine.Since(predicate, time.Now().Add(-window)), limit)
	} else {
		facts = recentFacts(t.engine, predicate, limit)
	}
	return map[string]interface{}{
		"facts":      facts,
		"count":      len(facts),
		"predicates": t.engine.Predicates(),
	}, nil
}
