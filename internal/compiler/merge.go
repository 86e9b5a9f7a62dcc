package compiler

import (
	"encoding/json"

	"nlquant/internal/domain"
	"nlquant/internal/spec"
)

// Merge deep-merges overlay onto base and returns a new document. Overlay
// leaves win; maps merge recursively; any other overlay value (including
// arrays) replaces the base value wholesale. Neither input is mutated.
func Merge(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, ov := range overlay {
		if bm, ok := out[k].(map[string]any); ok {
			if om, ok := ov.(map[string]any); ok {
				out[k] = Merge(bm, om)
				continue
			}
		}
		out[k] = ov
	}
	return out
}

// specToDoc round-trips an accepted spec back into a generic document so
// caller overrides can merge onto it.
func specToDoc(s *spec.Spec) (map[string]any, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, domain.E(domain.ErrInternal, "encoding spec", map[string]any{"cause": err.Error()})
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, domain.E(domain.ErrInternal, "decoding spec", map[string]any{"cause": err.Error()})
	}
	return doc, nil
}
