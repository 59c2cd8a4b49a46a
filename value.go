package mongomock

import (
	"reflect"
	"strings"

	"github.com/tidwall/gjson"
)

// valueKind is the rank of a json value kind in the engine's cross-type sort order:
// absent < null < number < string < object < array < boolean
type valueKind int

const (
	kindAbsent valueKind = iota
	kindNull
	kindNumber
	kindString
	kindObject
	kindArray
	kindBool
)

func kindOf(v gjson.Result) valueKind {
	if !v.Exists() {
		return kindAbsent
	}
	switch v.Type {
	case gjson.Null:
		return kindNull
	case gjson.Number:
		return kindNumber
	case gjson.String:
		return kindString
	case gjson.True, gjson.False:
		return kindBool
	default:
		if v.IsArray() {
			return kindArray
		}
		return kindObject
	}
}

// equalValues reports deep equality between two json values. Object field order
// is irrelevant; numbers compare numerically regardless of textual form.
func equalValues(a, b gjson.Result) bool {
	ka, kb := kindOf(a), kindOf(b)
	if ka != kb {
		// absent and null are distinct states but equal to themselves only
		return false
	}
	switch ka {
	case kindAbsent, kindNull:
		return true
	case kindNumber:
		return a.Num == b.Num
	case kindString:
		return a.Str == b.Str
	case kindBool:
		return a.Bool() == b.Bool()
	default:
		return reflect.DeepEqual(a.Value(), b.Value())
	}
}

// equalAny is equalValues over decoded json values, used for array element dedup
func equalAny(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// orderValues compares two values for the ordering filter operators. It only
// succeeds for values of the same orderable kind - a mismatch means the
// comparison (and therefore the operator) does not apply.
func orderValues(a, b gjson.Result) (int, bool) {
	ka, kb := kindOf(a), kindOf(b)
	if ka != kb {
		return 0, false
	}
	switch ka {
	case kindNumber:
		switch {
		case a.Num < b.Num:
			return -1, true
		case a.Num > b.Num:
			return 1, true
		}
		return 0, true
	case kindString:
		return strings.Compare(a.Str, b.Str), true
	default:
		return 0, false
	}
}

// sortValues is a total order over json values used by the sort executor:
// kind rank first, then a within-kind comparison. Objects and arrays fall
// back to raw json comparison, which is deterministic if arbitrary.
func sortValues(a, b gjson.Result) int {
	ka, kb := kindOf(a), kindOf(b)
	if ka != kb {
		if ka < kb {
			return -1
		}
		return 1
	}
	switch ka {
	case kindAbsent, kindNull:
		return 0
	case kindNumber:
		switch {
		case a.Num < b.Num:
			return -1
		case a.Num > b.Num:
			return 1
		}
		return 0
	case kindString:
		return strings.Compare(a.Str, b.Str)
	case kindBool:
		av, bv := a.Bool(), b.Bool()
		switch {
		case !av && bv:
			return -1
		case av && !bv:
			return 1
		}
		return 0
	default:
		return strings.Compare(a.Raw, b.Raw)
	}
}

// containsEqual reports whether the array result contains an element deeply equal to v
func containsEqual(arr gjson.Result, v gjson.Result) bool {
	if !arr.IsArray() {
		return false
	}
	found := false
	arr.ForEach(func(_, element gjson.Result) bool {
		if equalValues(element, v) {
			found = true
			return false
		}
		return true
	})
	return found
}

// isNumeric reports whether the value is a json number
func isNumeric(v gjson.Result) bool {
	return v.Exists() && v.Type == gjson.Number
}

// isIntegral reports whether the float has no fractional component
func isIntegral(f float64) bool {
	return f == float64(int64(f))
}
