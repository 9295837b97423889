package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// RegisterBuiltins installs the built-in server tools.
func RegisterBuiltins(r *Registry) {
	r.MustRegister("clock.now", nowExecutor)
	r.MustRegister("table.aggregate", aggregateExecutor)
	r.MustRegister("report.export", exportExecutor)
}

func nowExecutor(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	out, _ := json.Marshal(map[string]any{"now": time.Now().UTC().Format(time.RFC3339)})
	return out, nil
}

// aggregateExecutor computes simple aggregates over a numeric series.
func aggregateExecutor(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var in struct {
		Values []float64 `json:"values"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid aggregate args: %w", err)
	}
	if len(in.Values) == 0 {
		return json.Marshal(map[string]any{"count": 0})
	}
	sorted := append([]float64(nil), in.Values...)
	sort.Float64s(sorted)
	var sum float64
	for _, v := range in.Values {
		sum += v
	}
	return json.Marshal(map[string]any{
		"count": len(in.Values),
		"sum":   sum,
		"mean":  sum / float64(len(in.Values)),
		"min":   sorted[0],
		"max":   sorted[len(sorted)-1],
	})
}

// exportExecutor simulates exporting a finished report to an external sink.
func exportExecutor(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var in struct {
		Destination string `json:"destination"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid export args: %w", err)
	}
	if in.Destination == "" {
		in.Destination = "default"
	}
	return json.Marshal(map[string]any{"exported": true, "destination": in.Destination})
}
