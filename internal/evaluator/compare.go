package evaluator

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/t77yq/alert-engine/internal/model"
)

// Compare applies op to actual. expected is the condition value, values the
// set for in/not_in and pattern the regex for regex_match. Errors mean the
// comparison could not be carried out (bad regex, non-numeric operand).
func Compare(op model.Operator, actual, expected any, values []any, pattern string) (bool, error) {
	switch op {
	case model.OpIsNull:
		return isNull(actual), nil
	case model.OpIsNotNull:
		return !isNull(actual), nil
	case model.OpEquals:
		return equal(actual, expected), nil
	case model.OpNotEquals:
		return !equal(actual, expected), nil
	case model.OpGreaterThan, model.OpLessThan, model.OpGreaterThanOrEqual, model.OpLessThanOrEqual:
		return compareNumeric(op, actual, expected)
	case model.OpContains:
		return contains(actual, expected), nil
	case model.OpNotContains:
		return !contains(actual, expected), nil
	case model.OpRegexMatch:
		return MatchPattern(pattern, actual)
	case model.OpIn:
		return memberOf(actual, values), nil
	case model.OpNotIn:
		return !memberOf(actual, values), nil
	default:
		return false, fmt.Errorf("%w: %s", ErrUnknownOperator, op)
	}
}

// MatchPattern compiles pattern and tests the string form of value
func MatchPattern(pattern string, value any) (bool, error) {
	if pattern == "" {
		return false, ErrMissingPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return re.MatchString(stringify(value)), nil
}

func compareNumeric(op model.Operator, actual, expected any) (bool, error) {
	a, err := ToFloat64(actual)
	if err != nil {
		return false, fmt.Errorf("observed value: %w", err)
	}
	b, err := ToFloat64(expected)
	if err != nil {
		return false, fmt.Errorf("threshold value: %w", err)
	}

	switch op {
	case model.OpGreaterThan:
		return a > b, nil
	case model.OpLessThan:
		return a < b, nil
	case model.OpGreaterThanOrEqual:
		return a >= b, nil
	default:
		return a <= b, nil
	}
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func equal(a, b any) bool {
	if isNull(a) || isNull(b) {
		return isNull(a) && isNull(b)
	}
	fa, errA := ToFloat64(a)
	fb, errB := ToFloat64(b)
	if errA == nil && errB == nil {
		return fa == fb
	}
	return stringify(a) == stringify(b)
}

func contains(haystack, needle any) bool {
	if items, ok := haystack.([]any); ok {
		return memberOf(needle, items)
	}
	return strings.Contains(stringify(haystack), stringify(needle))
}

func memberOf(v any, set []any) bool {
	for _, candidate := range set {
		if equal(v, candidate) {
			return true
		}
	}
	return false
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ToFloat64 coerces numbers and numeric strings
func ToFloat64(val any) (float64, error) {
	switch v := val.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to float64", v)
		}
		return f, nil
	case []byte:
		return ToFloat64(string(v))
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", val)
	}
}

// isNumber reports whether v is a numeric value (strings do not count)
func isNumber(v any) (float64, bool) {
	switch v.(type) {
	case float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		f, err := ToFloat64(v)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
