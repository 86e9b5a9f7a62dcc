package spec

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalJSON renders v as compact JSON with sorted object keys. Numbers
// pass through json.Number so the byte form is stable across round trips.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	// encoding/json sorts map keys and emits no insignificant whitespace.
	return json.Marshal(generic)
}

// ComputeStrategyVersion hashes the canonical form of the spec excluding the
// strategy_version and strategy_id fields. It is a pure function of spec
// content: reordering keys or re-running compilation on semantically
// identical input yields the identical hash.
func ComputeStrategyVersion(s *Spec) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	var m map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return "", err
	}
	delete(m, "strategy_version")
	delete(m, "strategy_id")
	canon, err := CanonicalJSON(m)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:])[:32], nil
}

// Finalize recomputes strategy_version and derives strategy_id from it.
// Call after any mutation; the version is never authored directly.
func (s *Spec) Finalize() error {
	version, err := ComputeStrategyVersion(s)
	if err != nil {
		return fmt.Errorf("computing strategy version: %w", err)
	}
	s.StrategyVersion = version
	s.StrategyID = "s_" + version[:12]
	return nil
}
