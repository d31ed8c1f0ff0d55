// Package models - custom.go defines the free-form custom-data object carried
// by every entity and its merge-update semantics.
package models

// Custom is an open key/value object. Values are whatever the JSON decoder
// produced; the store persists them as a JSON document.
type Custom map[string]any

// MergeCustom applies patch onto old without mutating either argument.
// Existing keys not present in patch survive; present keys are overwritten.
// A key set to nil in patch removes it, which is the documented way to clear
// a value (wholesale replacement requires an explicit clear-then-reset dance).
func MergeCustom(old, patch Custom) Custom {
	merged := make(Custom, len(old)+len(patch))
	for k, v := range old {
		merged[k] = v
	}
	for k, v := range patch {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	return merged
}

// Clone returns a shallow copy of c. Nested values are shared; controllers
// only ever replace nested values whole, never mutate them in place.
func (c Custom) Clone() Custom {
	out := make(Custom, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
