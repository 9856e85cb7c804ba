package evaluator

import (
	"fmt"

	"github.com/t77yq/alert-engine/internal/model"
)

// Aggregate reduces values to a scalar. count and distinct_count see every
// entry; sum, avg, min and max only the numeric ones. An empty numeric
// subset and an unknown strategy both yield 0.
func Aggregate(values []any, strategy model.Aggregation) float64 {
	switch strategy {
	case model.AggCount:
		return float64(len(values))
	case model.AggDistinctCount:
		seen := make(map[string]struct{}, len(values))
		for _, v := range values {
			seen[distinctKey(v)] = struct{}{}
		}
		return float64(len(seen))
	case model.AggSum, model.AggAvg, model.AggMin, model.AggMax:
		return reduceNumeric(values, strategy)
	default:
		return 0
	}
}

func reduceNumeric(values []any, strategy model.Aggregation) float64 {
	var (
		n        int
		sum      float64
		min, max float64
	)
	for _, v := range values {
		f, ok := isNumber(v)
		if !ok {
			continue
		}
		if n == 0 || f < min {
			min = f
		}
		if n == 0 || f > max {
			max = f
		}
		sum += f
		n++
	}
	if n == 0 {
		return 0
	}

	switch strategy {
	case model.AggSum:
		return sum
	case model.AggAvg:
		return sum / float64(n)
	case model.AggMin:
		return min
	default:
		return max
	}
}

// distinctKey groups values by equality. Numbers compare by value across
// integer and float representations.
func distinctKey(v any) string {
	if f, ok := isNumber(v); ok {
		return fmt.Sprintf("n:%v", f)
	}
	return fmt.Sprintf("%T:%v", v, v)
}
