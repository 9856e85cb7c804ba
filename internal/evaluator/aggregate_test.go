package evaluator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/t77yq/alert-engine/internal/model"
)

func TestAggregate(t *testing.T) {
	mixed := []any{3.0, "x", 7, nil, json.Number("2"), "x", 3.0}

	tests := []struct {
		name     string
		values   []any
		strategy model.Aggregation
		want     float64
	}{
		{"count includes non-numeric", mixed, model.AggCount, 7},
		{"sum numeric subset", mixed, model.AggSum, 15},
		{"avg numeric subset", mixed, model.AggAvg, 3.75},
		{"min numeric subset", mixed, model.AggMin, 2},
		{"max numeric subset", mixed, model.AggMax, 7},
		{"distinct count all values", mixed, model.AggDistinctCount, 5},
		{"distinct treats 1 and 1.0 alike", []any{1, 1.0, int64(1)}, model.AggDistinctCount, 1},
		{"avg of empty subset", []any{"a", "b"}, model.AggAvg, 0},
		{"min of empty subset", []any{}, model.AggMin, 0},
		{"max of empty subset", nil, model.AggMax, 0},
		{"numeric strings are not numeric", []any{"5", "6"}, model.AggSum, 0},
		{"unknown strategy", []any{1, 2}, model.Aggregation("median"), 0},
		{"count of empty", []any{}, model.AggCount, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Aggregate(tt.values, tt.strategy), 1e-9)
		})
	}
}

func TestAggregateMaxIdempotent(t *testing.T) {
	for _, v := range []float64{-3, 0, 42.5} {
		reduced := Aggregate([]any{v, v - 1}, model.AggMax)
		assert.Equal(t, reduced, Aggregate([]any{reduced}, model.AggMax))
	}
}
