package mongomock

import (
	"regexp"
	"strings"

	"github.com/dot-do/mongomock/errors"
	"github.com/tidwall/gjson"
)

// fieldEntry is a single key/value pair of a json object, in document order
type fieldEntry struct {
	key   string
	value gjson.Result
}

func objectEntries(obj gjson.Result) []fieldEntry {
	var out []fieldEntry
	obj.ForEach(func(key, value gjson.Result) bool {
		out = append(out, fieldEntry{key: key.Str, value: value})
		return true
	})
	return out
}

// Matches returns whether the document satisfies the filter expression.
// A nil or empty filter matches every document.
func (d *Document) Matches(filter *Document) (bool, error) {
	if filter == nil {
		return true, nil
	}
	return matchFilter(d.result, filter.result)
}

func matchFilter(doc gjson.Result, filter gjson.Result) (bool, error) {
	if !filter.IsObject() {
		return false, errors.New(errors.Validation, "filter must be a document")
	}
	for _, e := range objectEntries(filter) {
		switch e.key {
		case "$and", "$or", "$nor":
			pass, err := matchLogical(doc, e.key, e.value)
			if err != nil {
				return false, err
			}
			if !pass {
				return false, nil
			}
		default:
			if strings.HasPrefix(e.key, "$") {
				return false, errors.New(errors.UnsupportedOperator, "unsupported filter operator: %s", e.key)
			}
			pass, err := matchField(doc, e.key, e.value)
			if err != nil {
				return false, err
			}
			if !pass {
				return false, nil
			}
		}
	}
	return true, nil
}

func matchLogical(doc gjson.Result, op string, arg gjson.Result) (bool, error) {
	if !arg.IsArray() {
		return false, errors.New(errors.Validation, "%s requires an array of filters", op)
	}
	subs := arg.Array()
	if len(subs) == 0 {
		return false, errors.New(errors.Validation, "%s requires a non-empty array of filters", op)
	}
	anyMatched := false
	for _, sub := range subs {
		pass, err := matchFilter(doc, sub)
		if err != nil {
			return false, err
		}
		switch op {
		case "$and":
			if !pass {
				return false, nil
			}
		case "$or":
			if pass {
				anyMatched = true
			}
		case "$nor":
			if pass {
				return false, nil
			}
		}
	}
	if op == "$or" {
		return anyMatched, nil
	}
	return true, nil
}

func matchField(doc gjson.Result, field string, condition gjson.Result) (bool, error) {
	fieldVal := doc.Get(field)
	if isOperatorDoc(condition) {
		return matchOperators(fieldVal, condition)
	}
	return literalMatch(fieldVal, condition), nil
}

// isOperatorDoc reports whether the condition is an operator expression
// rather than a literal value to compare against
func isOperatorDoc(condition gjson.Result) bool {
	if !condition.IsObject() {
		return false
	}
	has := false
	condition.ForEach(func(key, _ gjson.Result) bool {
		if strings.HasPrefix(key.Str, "$") {
			has = true
			return false
		}
		return true
	})
	return has
}

// literalMatch implements bare-value comparison: equality, or - when the field
// holds an array - membership of the value in the array. A null literal also
// matches an absent field.
func literalMatch(fieldVal gjson.Result, v gjson.Result) bool {
	if kindOf(v) == kindNull && kindOf(fieldVal) == kindAbsent {
		return true
	}
	if equalValues(fieldVal, v) {
		return true
	}
	return containsEqual(fieldVal, v)
}

// filterOperator evaluates a single per-field operator. opDoc is the full
// operator expression the operator appears in, for operators that consume a
// sibling key ($regex reads $options).
type filterOperator func(fieldVal gjson.Result, arg gjson.Result, opDoc gjson.Result) (bool, error)

// filterOperators is the closed set of recognized per-field filter operators.
// Anything absent from this table fails with UnsupportedOperator.
var filterOperators = map[string]filterOperator{
	"$eq":        matchEq,
	"$ne":        matchNe,
	"$gt":        matchOrdering("$gt"),
	"$gte":       matchOrdering("$gte"),
	"$lt":        matchOrdering("$lt"),
	"$lte":       matchOrdering("$lte"),
	"$in":        matchIn,
	"$nin":       matchNin,
	"$exists":    matchExists,
	"$regex":     matchRegex,
	"$size":      matchSize,
	"$all":       matchAll,
}

// $elemMatch and $not recurse through matchOperators, so they are registered
// here to avoid an initialization cycle in the table above.
func init() {
	filterOperators["$elemMatch"] = matchElemMatch
	filterOperators["$not"] = matchNot
}

func matchOperators(fieldVal gjson.Result, opDoc gjson.Result) (bool, error) {
	entries := objectEntries(opDoc)
	hasRegex := false
	for _, e := range entries {
		if !strings.HasPrefix(e.key, "$") {
			return false, errors.New(errors.Validation, "cannot mix operators and literal fields in expression: %s", opDoc.Raw)
		}
		if e.key == "$regex" {
			hasRegex = true
		}
	}
	for _, e := range entries {
		if e.key == "$options" {
			if !hasRegex {
				return false, errors.New(errors.Validation, "$options requires $regex")
			}
			continue
		}
		handler, ok := filterOperators[e.key]
		if !ok {
			return false, errors.New(errors.UnsupportedOperator, "unsupported filter operator: %s", e.key)
		}
		pass, err := handler(fieldVal, e.value, opDoc)
		if err != nil {
			return false, err
		}
		if !pass {
			return false, nil
		}
	}
	return true, nil
}

func matchEq(fieldVal gjson.Result, arg gjson.Result, _ gjson.Result) (bool, error) {
	return literalMatch(fieldVal, arg), nil
}

// matchNe treats an absent field as not-equal, so it matches
func matchNe(fieldVal gjson.Result, arg gjson.Result, _ gjson.Result) (bool, error) {
	return !literalMatch(fieldVal, arg), nil
}

// matchOrdering implements $gt/$gte/$lt/$lte. An absent field or a kind
// mismatch makes the comparison inapplicable and the operator non-matching.
func matchOrdering(op string) filterOperator {
	return func(fieldVal gjson.Result, arg gjson.Result, _ gjson.Result) (bool, error) {
		c, ok := orderValues(fieldVal, arg)
		if !ok {
			return false, nil
		}
		switch op {
		case "$gt":
			return c > 0, nil
		case "$gte":
			return c >= 0, nil
		case "$lt":
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	}
}

func matchIn(fieldVal gjson.Result, arg gjson.Result, _ gjson.Result) (bool, error) {
	if !arg.IsArray() {
		return false, errors.New(errors.Validation, "$in requires an array")
	}
	for _, candidate := range arg.Array() {
		if literalMatch(fieldVal, candidate) {
			return true, nil
		}
	}
	return false, nil
}

func matchNin(fieldVal gjson.Result, arg gjson.Result, opDoc gjson.Result) (bool, error) {
	if !arg.IsArray() {
		return false, errors.New(errors.Validation, "$nin requires an array")
	}
	pass, err := matchIn(fieldVal, arg, opDoc)
	if err != nil {
		return false, err
	}
	return !pass, nil
}

func matchExists(fieldVal gjson.Result, arg gjson.Result, _ gjson.Result) (bool, error) {
	return fieldVal.Exists() == arg.Bool(), nil
}

func matchRegex(fieldVal gjson.Result, arg gjson.Result, opDoc gjson.Result) (bool, error) {
	if arg.Type != gjson.String {
		return false, errors.New(errors.Validation, "$regex requires a string pattern")
	}
	re, err := compileRegex(arg.Str, opDoc.Get("$options").Str)
	if err != nil {
		return false, err
	}
	if fieldVal.Type != gjson.String {
		return false, nil
	}
	return re.MatchString(fieldVal.Str), nil
}

func compileRegex(pattern, options string) (*regexp.Regexp, error) {
	var flags string
	for _, f := range options {
		switch f {
		case 'i', 'm', 's':
			flags += string(f)
		default:
			return nil, errors.New(errors.Validation, "unsupported $options flag: %c", f)
		}
	}
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.Wrap(err, errors.Validation, "invalid $regex pattern")
	}
	return re, nil
}

func matchSize(fieldVal gjson.Result, arg gjson.Result, _ gjson.Result) (bool, error) {
	if !isNumeric(arg) || !isIntegral(arg.Num) {
		return false, errors.New(errors.Validation, "$size requires an integer")
	}
	if !fieldVal.IsArray() {
		return false, nil
	}
	return len(fieldVal.Array()) == int(arg.Num), nil
}

func matchAll(fieldVal gjson.Result, arg gjson.Result, _ gjson.Result) (bool, error) {
	if !arg.IsArray() {
		return false, errors.New(errors.Validation, "$all requires an array")
	}
	if !fieldVal.IsArray() {
		return false, nil
	}
	for _, required := range arg.Array() {
		if !containsEqual(fieldVal, required) {
			return false, nil
		}
	}
	return true, nil
}

// matchElemMatch passes when any single array element independently satisfies
// the sub-expression. Operator sub-expressions apply to the element itself;
// filter sub-expressions apply to the element as a document.
func matchElemMatch(fieldVal gjson.Result, arg gjson.Result, _ gjson.Result) (bool, error) {
	if !arg.IsObject() {
		return false, errors.New(errors.Validation, "$elemMatch requires a document")
	}
	if !fieldVal.IsArray() {
		return false, nil
	}
	operatorForm := isOperatorDoc(arg)
	for _, element := range fieldVal.Array() {
		var (
			pass bool
			err  error
		)
		if operatorForm {
			pass, err = matchOperators(element, arg)
		} else {
			if !element.IsObject() {
				continue
			}
			pass, err = matchFilter(element, arg)
		}
		if err != nil {
			return false, err
		}
		if pass {
			return true, nil
		}
	}
	return false, nil
}

func matchNot(fieldVal gjson.Result, arg gjson.Result, _ gjson.Result) (bool, error) {
	if !isOperatorDoc(arg) {
		return false, errors.New(errors.Validation, "$not requires an operator expression")
	}
	pass, err := matchOperators(fieldVal, arg)
	if err != nil {
		return false, err
	}
	return !pass, nil
}
