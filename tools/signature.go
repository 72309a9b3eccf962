package tools

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// Signature computes a deterministic fingerprint of (tool name,
// normalized arguments). Arguments are round-tripped through a map so
// key order and whitespace do not affect the result.
func Signature(name string, arguments json.RawMessage) string {
	normalized := normalizeArgs(arguments)
	h := sha256.Sum256(normalized)
	return fmt.Sprintf("%s:%x", name, h[:8])
}

func normalizeArgs(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(v) // map keys marshal in sorted order
	if err != nil {
		return raw
	}
	return out
}
