package fetcher

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// lookupNumber walks doc along path (string keys and int indexes) and returns
// the number found there. An explicit null yields an invalid NullDecimal; a
// missing key, out-of-range index or non-number is an error.
func lookupNumber(doc any, path ...any) (decimal.NullDecimal, error) {
	node := doc
	for i, step := range path {
		switch key := step.(type) {
		case string:
			obj, ok := node.(map[string]any)
			if !ok {
				return decimal.NullDecimal{}, fmt.Errorf("%s: not an object", renderPath(path[:i]))
			}
			next, ok := obj[key]
			if !ok {
				return decimal.NullDecimal{}, fmt.Errorf("%s: missing key", renderPath(path[:i+1]))
			}
			node = next
		case int:
			arr, ok := node.([]any)
			if !ok {
				return decimal.NullDecimal{}, fmt.Errorf("%s: not an array", renderPath(path[:i]))
			}
			if key < 0 || key >= len(arr) {
				return decimal.NullDecimal{}, fmt.Errorf("%s: index out of range", renderPath(path[:i+1]))
			}
			node = arr[key]
		default:
			return decimal.NullDecimal{}, fmt.Errorf("unsupported path step %T", step)
		}
	}

	switch v := node.(type) {
	case nil:
		return decimal.NullDecimal{}, nil
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.NullDecimal{}, fmt.Errorf("%s: %w", renderPath(path), err)
		}
		return decimal.NewNullDecimal(d), nil
	default:
		return decimal.NullDecimal{}, fmt.Errorf("%s: expected number, got %T", renderPath(path), node)
	}
}

func renderPath(path []any) string {
	var b strings.Builder
	for _, step := range path {
		switch key := step.(type) {
		case string:
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			b.WriteString(key)
		case int:
			fmt.Fprintf(&b, "[%d]", key)
		}
	}
	if b.Len() == 0 {
		return "$"
	}
	return b.String()
}
