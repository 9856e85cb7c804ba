package datasource

import (
	"strconv"
	"strings"
	"time"

	"github.com/t77yq/alert-engine/internal/model"
)

// lookupPath walks a decoded JSON document along a dotted path such as
// "data.items.0.value". An empty path returns the document itself.
func lookupPath(doc any, path string) (any, bool) {
	if path == "" {
		return doc, true
	}
	current := doc
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			current = node[i]
		default:
			return nil, false
		}
	}
	return current, true
}

// windowStart returns the beginning of the condition's time window
func windowStart(cond *model.Condition, now time.Time) (time.Time, bool) {
	if cond.Window == nil || cond.Window.Minutes <= 0 {
		return time.Time{}, false
	}
	width := time.Duration(cond.Window.Minutes) * time.Minute
	if cond.Window.Kind == model.WindowTumbling {
		// the current bucket, aligned to the window width
		return now.Truncate(width), true
	}
	return now.Add(-width), true
}
