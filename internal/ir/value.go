package ir

import (
	"cmp"
	"fmt"
	"math"
	"strconv"
	"unicode/utf16"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	// KindNumber is a numeric literal.
	KindNumber Kind = iota + 1
	// KindBool is a boolean literal.
	KindBool
	// KindString is a string literal.
	KindString
	// KindWildcard is one of ALL, MATCH, ALLSMALLER.
	KindWildcard
	// KindSentinel is a synthetic placeholder strictly below or above every
	// literal. Sentinels only appear in placeholder domains built for cycle
	// analysis, never in ids declared by users or present in a tree.
	KindSentinel
)

// Wildcard identifies a pattern marker inside a dictionary id.
type Wildcard uint8

const (
	// NoWildcard is the zero value: the position holds a literal.
	NoWildcard Wildcard = iota
	// All matches every value at its key.
	All
	// Match binds one value shared by every endpoint of a callback instance.
	Match
	// AllSmaller matches every value strictly smaller than the bound value.
	AllSmaller
)

// String returns the declaration spelling of the wildcard.
func (w Wildcard) String() string {
	switch w {
	case All:
		return "ALL"
	case Match:
		return "MATCH"
	case AllSmaller:
		return "ALLSMALLER"
	default:
		return ""
	}
}

// ParseWildcard maps a declaration spelling back to its Wildcard.
func ParseWildcard(s string) (Wildcard, bool) {
	switch s {
	case "ALL":
		return All, true
	case "MATCH":
		return Match, true
	case "ALLSMALLER":
		return AllSmaller, true
	default:
		return NoWildcard, false
	}
}

// Value is one position of a dictionary id: a literal or a wildcard.
//
// Value is a tagged variant. Construct it with Num, Bool, Str, Wild, Below
// or Above; the zero Value is invalid.
type Value struct {
	kind Kind
	num  float64
	flag bool
	str  string
	wild Wildcard
}

// Num returns a numeric literal.
func Num(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool returns a boolean literal.
func Bool(b bool) Value { return Value{kind: KindBool, flag: b} }

// Str returns a string literal.
func Str(s string) Value { return Value{kind: KindString, str: s} }

// Wild returns a wildcard value.
func Wild(w Wildcard) Value { return Value{kind: KindWildcard, wild: w} }

// Below returns the sentinel that sorts before every literal.
func Below() Value { return Value{kind: KindSentinel, flag: false} }

// Above returns the sentinel that sorts after every literal.
func Above() Value { return Value{kind: KindSentinel, flag: true} }

// Kind reports the variant.
func (v Value) Kind() Kind { return v.kind }

// IsWildcard reports whether v is a wildcard marker.
func (v Value) IsWildcard() bool { return v.kind == KindWildcard }

// Wildcard returns the marker, or NoWildcard for literals.
func (v Value) Wildcard() Wildcard {
	if v.kind != KindWildcard {
		return NoWildcard
	}
	return v.wild
}

// Is reports whether v is the given wildcard.
func (v Value) Is(w Wildcard) bool { return v.kind == KindWildcard && v.wild == w }

// IsMultiValued reports whether v can stand for more than one concrete value
// once bound (ALL and ALLSMALLER).
func (v Value) IsMultiValued() bool { return v.Is(All) || v.Is(AllSmaller) }

// Float returns the numeric payload. Only meaningful for KindNumber.
func (v Value) Float() float64 { return v.num }

// Interface returns the literal as a plain Go value (float64, bool, string).
// Wildcards are returned as a single-element list holding their name, the
// same shape used when declaring them.
func (v Value) Interface() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindBool:
		return v.flag
	case KindString:
		return v.str
	case KindWildcard:
		return []any{v.wild.String()}
	case KindSentinel:
		if v.flag {
			return []any{"ABOVE"}
		}
		return []any{"BELOW"}
	default:
		return nil
	}
}

// String renders v for logs and diagnostics.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return formatNumber(v.num)
	case KindBool:
		return strconv.FormatBool(v.flag)
	case KindString:
		return strconv.Quote(v.str)
	case KindWildcard:
		return v.wild.String()
	case KindSentinel:
		if v.flag {
			return "<above>"
		}
		return "<below>"
	default:
		return "<invalid>"
	}
}

// Equal reports whether two values are the same literal or the same wildcard.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == o.num
	case KindBool, KindSentinel:
		return v.flag == o.flag
	case KindString:
		return v.str == o.str
	case KindWildcard:
		return v.wild == o.wild
	default:
		return true
	}
}

// rank orders the variants: below-sentinel, numbers, booleans, strings,
// above-sentinel, then wildcards.
func (v Value) rank() int {
	switch v.kind {
	case KindSentinel:
		if v.flag {
			return 4
		}
		return 0
	case KindNumber:
		return 1
	case KindBool:
		return 2
	case KindString:
		return 3
	case KindWildcard:
		return 5
	default:
		return 6
	}
}

// Compare is the total order over literals: numbers numerically, then
// false before true, then strings by UTF-16 code units. Sentinels sit
// outside the literal range. Wildcards sort last so slices containing them
// still sort deterministically; ALLSMALLER never consults that part.
func (v Value) Compare(o Value) int {
	if c := cmp.Compare(v.rank(), o.rank()); c != 0 {
		return c
	}
	switch v.kind {
	case KindNumber:
		return cmp.Compare(v.num, o.num)
	case KindBool:
		return cmp.Compare(boolRank(v.flag), boolRank(o.flag))
	case KindString:
		return compareUTF16(v.str, o.str)
	case KindWildcard:
		return cmp.Compare(v.wild, o.wild)
	default:
		return 0
	}
}

// Less reports v < o under Compare.
func (v Value) Less(o Value) bool { return v.Compare(o) < 0 }

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

// FromAny converts a decoded JSON/YAML/CUE scalar into a Value.
//
// Strings, booleans and every Go numeric type become literals. A
// single-element list holding "ALL", "MATCH" or "ALLSMALLER" becomes the
// wildcard.
func FromAny(raw any) (Value, error) {
	switch val := raw.(type) {
	case Value:
		return val, nil
	case string:
		return Str(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Num(float64(val)), nil
	case int64:
		return Num(float64(val)), nil
	case int32:
		return Num(float64(val)), nil
	case uint64:
		return Num(float64(val)), nil
	case float32:
		return Num(float64(val)), nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return Value{}, fmt.Errorf("non-finite number %v", val)
		}
		return Num(val), nil
	case []any:
		if len(val) != 1 {
			return Value{}, fmt.Errorf("wildcard list must hold exactly one name, got %d", len(val))
		}
		name, ok := val[0].(string)
		if !ok {
			return Value{}, fmt.Errorf("wildcard name must be a string, got %T", val[0])
		}
		w, ok := ParseWildcard(name)
		if !ok {
			return Value{}, fmt.Errorf("unknown wildcard %q", name)
		}
		return Wild(w), nil
	case nil:
		return Value{}, fmt.Errorf("null is not a valid id value")
	default:
		return Value{}, fmt.Errorf("unsupported id value type %T", raw)
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// compareUTF16 compares strings using UTF-16 code unit ordering, the order
// RFC 8785 prescribes for object keys. Go's native string comparison works
// on UTF-8 bytes and disagrees for characters outside the BMP.
func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := min(len(a16), len(b16))
	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	return cmp.Compare(len(a16), len(b16))
}
