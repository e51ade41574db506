// Package normalize canonicalizes operation params for the Agent Ledger
// uniqueness invariant (§3): recursive key-sort, value ordering inside
// arrays preserved, applied after credential fields have been replaced by
// their ciphertext token.
package normalize

import (
	"encoding/json"
	"sort"
)

// Params returns the canonical JSON serialization of v: a JSON value with
// every object's keys recursively sorted lexicographically. Arrays keep
// their original element order.
func Params(v map[string]any) (string, error) {
	canon := canonicalize(v)
	b, err := json.Marshal(canon)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func canonicalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(orderedMap, 0, len(keys))
		for _, k := range keys {
			out = append(out, kv{k, canonicalize(t[k])})
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return t
	}
}

// orderedMap marshals as a JSON object preserving insertion order, which
// canonicalize populates in sorted-key order — encoding/json's map
// marshaling already sorts string keys, but we build our own ordered
// representation so nested arrays-of-objects keep per-object key sort
// without relying on re-marshaling semantics.
type kv struct {
	K string
	V any
}
type orderedMap []kv

func (m orderedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, p := range m {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(p.K)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(p.V)
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}
