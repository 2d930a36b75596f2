package kinds

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"
)

// Sort returns the list in stable ascending order. Elements must all be
// numbers or all be strings; strings compare by code point.
func Sort(data json.RawMessage) (any, error) {
	v, err := decode(data)
	if err != nil {
		return nil, err
	}
	items, err := list(v, "comparable values")
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return []any{}, nil
	}

	if _, ok := items[0].(string); ok {
		strs := make([]string, len(items))
		for idx, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, invalid("cannot compare string with %s at element %d", typeName(item), idx)
			}
			strs[idx] = s
		}
		slices.SortStableFunc(strs, strings.Compare)
		return strs, nil
	}

	nums, err := parseNumbers(items)
	if err != nil {
		return nil, invalid("elements must all be numbers or all be strings: %v", err)
	}
	slices.SortStableFunc(nums, number.cmp)
	out := make([]any, len(nums))
	for idx, n := range nums {
		out[idx] = n.value()
	}
	return out, nil
}

// Hash returns the SHA-256 hex digest of a string payload. Any other JSON
// value is hashed as its compact JSON text.
func Hash(data json.RawMessage) (any, error) {
	v, err := decode(data)
	if err != nil {
		return nil, err
	}
	var text []byte
	if s, ok := v.(string); ok {
		text = []byte(s)
	} else {
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return nil, invalid("data is not valid JSON: %v", err)
		}
		text = buf.Bytes()
	}
	sum := sha256.Sum256(text)
	return hex.EncodeToString(sum[:]), nil
}
