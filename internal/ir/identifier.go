package ir

import (
	"fmt"
	"slices"
	"strings"
)

// Identifier names a component in the tree: either a plain string or a
// dictionary of key → Value.
//
// Dictionary keys are kept sorted in canonical (UTF-16) order so that two
// dictionaries with the same entries are indistinguishable regardless of
// construction order. Identifier is immutable after construction.
type Identifier struct {
	str  string
	keys []string
	vals []Value
	dict bool
}

// StringID returns a plain string identifier.
func StringID(s string) Identifier {
	return Identifier{str: s}
}

// DictID returns a dictionary identifier.
func DictID(entries map[string]Value) Identifier {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)

	vals := make([]Value, len(keys))
	for i, k := range keys {
		vals[i] = entries[k]
	}
	return Identifier{keys: keys, vals: vals, dict: true}
}

// ParseID converts a decoded declaration (string or map) into an Identifier.
// Map values go through FromAny.
func ParseID(raw any) (Identifier, error) {
	switch val := raw.(type) {
	case Identifier:
		return val, nil
	case string:
		return StringID(val), nil
	case map[string]any:
		entries := make(map[string]Value, len(val))
		for k, rv := range val {
			v, err := FromAny(rv)
			if err != nil {
				return Identifier{}, fmt.Errorf("id key %q: %w", k, err)
			}
			entries[k] = v
		}
		return DictID(entries), nil
	default:
		return Identifier{}, fmt.Errorf("id must be a string or a mapping, got %T", raw)
	}
}

// IsDict reports whether the id is a dictionary.
func (id Identifier) IsDict() bool { return id.dict }

// IsZero reports whether the id is the empty string id or an empty dictionary.
func (id Identifier) IsZero() bool {
	if id.dict {
		return len(id.keys) == 0
	}
	return id.str == ""
}

// Keys returns the sorted dictionary keys. The slice must not be modified.
func (id Identifier) Keys() []string { return id.keys }

// Values returns the dictionary values aligned with Keys. The slice must not
// be modified.
func (id Identifier) Values() []Value { return id.vals }

// Get returns the value stored at key.
func (id Identifier) Get(key string) (Value, bool) {
	for i, k := range id.keys {
		if k == key {
			return id.vals[i], true
		}
	}
	return Value{}, false
}

// Signature is the comma-joined sorted key list used to group pattern ids.
// String ids have no signature.
func (id Identifier) Signature() string {
	return strings.Join(id.keys, ",")
}

// HasWildcard reports whether any dictionary position is a wildcard.
func (id Identifier) HasWildcard() bool {
	for _, v := range id.vals {
		if v.IsWildcard() {
			return true
		}
	}
	return false
}

// IsMultiValued reports whether the id can resolve to more than one
// component once MATCH positions are bound.
func (id Identifier) IsMultiValued() bool {
	for _, v := range id.vals {
		if v.IsMultiValued() {
			return true
		}
	}
	return false
}

// WildcardKeys returns the keys holding the given wildcard, in key order.
func (id Identifier) WildcardKeys(w Wildcard) []string {
	var keys []string
	for i, v := range id.vals {
		if v.Is(w) {
			keys = append(keys, id.keys[i])
		}
	}
	return keys
}

// Equal reports structural equality.
func (id Identifier) Equal(o Identifier) bool {
	if id.dict != o.dict {
		return false
	}
	if !id.dict {
		return id.str == o.str
	}
	if !slices.Equal(id.keys, o.keys) {
		return false
	}
	for i := range id.vals {
		if !id.vals[i].Equal(o.vals[i]) {
			return false
		}
	}
	return true
}

// With returns a copy with the value at key replaced. Keys not present in
// the id are ignored.
func (id Identifier) With(key string, v Value) Identifier {
	if !id.dict {
		return id
	}
	vals := slices.Clone(id.vals)
	for i, k := range id.keys {
		if k == key {
			vals[i] = v
		}
	}
	return Identifier{keys: id.keys, vals: vals, dict: true}
}

// String returns the canonical form: the raw string for string ids and
// canonical JSON (sorted keys, NFC strings, wildcards as ["NAME"]) for
// dictionaries. Two ids are equal iff their canonical forms are equal.
func (id Identifier) String() string {
	if !id.dict {
		return id.str
	}
	b, err := marshalCanonicalID(id)
	if err != nil {
		return fmt.Sprintf("<invalid id: %v>", err)
	}
	return string(b)
}

// Interface returns the id as a plain Go value: a string, or a
// map[string]any whose values come from Value.Interface.
func (id Identifier) Interface() any {
	if !id.dict {
		return id.str
	}
	m := make(map[string]any, len(id.keys))
	for i, k := range id.keys {
		m[k] = id.vals[i].Interface()
	}
	return m
}

// CompareIDs orders ids by their canonical form.
func CompareIDs(a, b Identifier) int {
	return strings.Compare(a.String(), b.String())
}
