package mongomock

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/dot-do/mongomock/errors"
	"github.com/tidwall/gjson"
)

// applyUpdate applies the update expression to the document and returns a new
// document. The input is never mutated, and every operator observes the same
// pre-image snapshot regardless of what earlier operators in the expression wrote.
// onInsert is true only on the insert branch of an upsert.
func applyUpdate(pre *Document, update *Document, onInsert bool) (*Document, error) {
	if update == nil || !update.Valid() {
		return nil, errors.New(errors.Validation, "invalid update document")
	}
	out := pre.Clone()
	for _, e := range objectEntries(update.result) {
		if !strings.HasPrefix(e.key, "$") {
			return nil, errors.New(errors.Validation, "update documents require operator expressions, found field: %s", e.key)
		}
		if !e.value.IsObject() {
			return nil, errors.New(errors.Validation, "%s requires a document argument", e.key)
		}
		if e.key == "$setOnInsert" {
			if !onInsert {
				continue
			}
			if err := applySet(out, pre, e.value); err != nil {
				return nil, err
			}
			continue
		}
		handler, ok := updateOperators[e.key]
		if !ok {
			return nil, errors.New(errors.UnsupportedOperator, "unsupported update operator: %s", e.key)
		}
		if err := handler(out, pre, e.value); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// isReplacement reports whether the document is a plain replacement document
// rather than an update operator expression
func isReplacement(update *Document) bool {
	replacement := true
	update.result.ForEach(func(key, _ gjson.Result) bool {
		if strings.HasPrefix(key.Str, "$") {
			replacement = false
			return false
		}
		return true
	})
	return replacement
}

// updateOperator applies one operator's field map against the output document,
// reading prior state only from the pre-image snapshot
type updateOperator func(out *Document, pre *Document, fields gjson.Result) error

// updateOperators is the closed set of recognized update operators. Anything
// absent from this table fails with UnsupportedOperator. $setOnInsert is
// dispatched separately because it needs the upsert branch.
var updateOperators = map[string]updateOperator{
	"$set":         applySet,
	"$unset":       applyUnset,
	"$inc":         applyArithmetic("$inc"),
	"$mul":         applyArithmetic("$mul"),
	"$min":         applyMinMax("$min"),
	"$max":         applyMinMax("$max"),
	"$rename":      applyRename,
	"$currentDate": applyCurrentDate,
	"$push":        applyPush,
	"$addToSet":    applyAddToSet,
	"$addAllToSet": applyAddAllToSet,
	"$pop":         applyPop,
	"$pull":        applyPull,
	"$pullAll":     applyPullAll,
	"$bit":         applyBit,
}

func applySet(out *Document, _ *Document, fields gjson.Result) error {
	for _, e := range objectEntries(fields) {
		if err := out.set(e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}

func applyUnset(out *Document, _ *Document, fields gjson.Result) error {
	for _, e := range objectEntries(fields) {
		if err := out.Del(e.key); err != nil {
			return err
		}
	}
	return nil
}

// applyArithmetic implements $inc and $mul - an absent target behaves as 0
func applyArithmetic(op string) updateOperator {
	return func(out *Document, pre *Document, fields gjson.Result) error {
		for _, e := range objectEntries(fields) {
			if !isNumeric(e.value) {
				return errors.New(errors.Validation, "%s requires numeric arguments, field: %s", op, e.key)
			}
			cur := pre.get(e.key)
			if cur.Exists() && !isNumeric(cur) {
				return errors.New(errors.Validation, "cannot apply %s to non-numeric field: %s", op, e.key)
			}
			var result float64
			if op == "$inc" {
				result = cur.Num + e.value.Num
			} else {
				result = cur.Num * e.value.Num
			}
			if err := setNumber(out, e.key, result); err != nil {
				return err
			}
		}
		return nil
	}
}

// applyMinMax writes only when the target is absent or the new value improves
// on the existing one under the engine's sort order
func applyMinMax(op string) updateOperator {
	return func(out *Document, pre *Document, fields gjson.Result) error {
		for _, e := range objectEntries(fields) {
			cur := pre.get(e.key)
			improves := !cur.Exists()
			if !improves {
				c := sortValues(e.value, cur)
				if op == "$min" {
					improves = c < 0
				} else {
					improves = c > 0
				}
			}
			if improves {
				if err := out.set(e.key, e.value); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

// applyRename moves the value at the source path to the target path, as a
// no-op when the source is absent
func applyRename(out *Document, pre *Document, fields gjson.Result) error {
	for _, e := range objectEntries(fields) {
		if e.value.Type != gjson.String || e.value.Str == "" {
			return errors.New(errors.Validation, "$rename requires a non-empty string target for field: %s", e.key)
		}
		src := pre.get(e.key)
		if !src.Exists() {
			continue
		}
		if err := out.Del(e.key); err != nil {
			return err
		}
		if err := out.set(e.value.Str, src); err != nil {
			return err
		}
	}
	return nil
}

func applyCurrentDate(out *Document, _ *Document, fields gjson.Result) error {
	now := time.Now().UTC()
	for _, e := range objectEntries(fields) {
		switch {
		case e.value.Type == gjson.True:
			if err := out.Set(e.key, now.Format(time.RFC3339Nano)); err != nil {
				return err
			}
		case e.value.IsObject():
			switch e.value.Get("$type").Str {
			case "date":
				if err := out.Set(e.key, now.Format(time.RFC3339Nano)); err != nil {
					return err
				}
			case "timestamp":
				if err := out.Set(e.key, map[string]any{"t": now.Unix(), "i": 1}); err != nil {
					return err
				}
			default:
				return errors.New(errors.Validation, "$currentDate $type must be 'date' or 'timestamp'")
			}
		default:
			return errors.New(errors.Validation, "$currentDate requires true or a $type document for field: %s", e.key)
		}
	}
	return nil
}

// applyPush appends to an array field. With $each it appends a batch, then
// applies $position, $sort and finally $slice, in that order.
func applyPush(out *Document, pre *Document, fields gjson.Result) error {
	for _, e := range objectEntries(fields) {
		arr, err := arrayAt(pre, e.key, "$push")
		if err != nil {
			return err
		}
		if e.value.IsObject() && e.value.Get("$each").Exists() {
			each := e.value.Get("$each")
			if !each.IsArray() {
				return errors.New(errors.Validation, "$each requires an array")
			}
			batch := decodeArray(each)
			position := len(arr)
			if pos := e.value.Get("$position"); pos.Exists() {
				if !isNumeric(pos) || !isIntegral(pos.Num) {
					return errors.New(errors.Validation, "$position requires an integer")
				}
				position = clampPosition(int(pos.Num), len(arr))
			}
			arr = append(arr[:position:position], append(batch, arr[position:]...)...)
			if spec := e.value.Get("$sort"); spec.Exists() {
				if err := sortArray(arr, spec); err != nil {
					return err
				}
			}
			if slice := e.value.Get("$slice"); slice.Exists() {
				if !isNumeric(slice) || !isIntegral(slice.Num) {
					return errors.New(errors.Validation, "$slice requires an integer")
				}
				arr = sliceArray(arr, int(slice.Num))
			}
		} else {
			arr = append(arr, e.value.Value())
		}
		if err := out.Set(e.key, arr); err != nil {
			return err
		}
	}
	return nil
}

// applyAddToSet appends only values not already deeply equal to an element
func applyAddToSet(out *Document, pre *Document, fields gjson.Result) error {
	for _, e := range objectEntries(fields) {
		var candidates []any
		if e.value.IsObject() && e.value.Get("$each").Exists() {
			each := e.value.Get("$each")
			if !each.IsArray() {
				return errors.New(errors.Validation, "$each requires an array")
			}
			candidates = decodeArray(each)
		} else {
			candidates = []any{e.value.Value()}
		}
		if err := addAllToSet(out, pre, e.key, candidates); err != nil {
			return err
		}
	}
	return nil
}

func applyAddAllToSet(out *Document, pre *Document, fields gjson.Result) error {
	for _, e := range objectEntries(fields) {
		if !e.value.IsArray() {
			return errors.New(errors.Validation, "$addAllToSet requires an array for field: %s", e.key)
		}
		if err := addAllToSet(out, pre, e.key, decodeArray(e.value)); err != nil {
			return err
		}
	}
	return nil
}

func addAllToSet(out *Document, pre *Document, field string, candidates []any) error {
	arr, err := arrayAt(pre, field, "$addToSet")
	if err != nil {
		return err
	}
	for _, candidate := range candidates {
		exists := false
		for _, element := range arr {
			if equalAny(element, candidate) {
				exists = true
				break
			}
		}
		if !exists {
			arr = append(arr, candidate)
		}
	}
	return out.Set(field, arr)
}

// applyPop removes the last element, or the first when -1 is given
func applyPop(out *Document, pre *Document, fields gjson.Result) error {
	for _, e := range objectEntries(fields) {
		if !isNumeric(e.value) || (e.value.Num != 1 && e.value.Num != -1) {
			return errors.New(errors.Validation, "$pop requires 1 or -1 for field: %s", e.key)
		}
		arr, err := arrayAt(pre, e.key, "$pop")
		if err != nil {
			return err
		}
		if len(arr) == 0 {
			continue
		}
		if e.value.Num == 1 {
			arr = arr[:len(arr)-1]
		} else {
			arr = arr[1:]
		}
		if err := out.Set(e.key, arr); err != nil {
			return err
		}
	}
	return nil
}

// applyPull removes elements equal to a literal or satisfying a sub-filter
func applyPull(out *Document, pre *Document, fields gjson.Result) error {
	for _, e := range objectEntries(fields) {
		arr, err := arrayAt(pre, e.key, "$pull")
		if err != nil {
			return err
		}
		if !pre.Exists(e.key) {
			continue
		}
		kept := make([]any, 0, len(arr))
		for _, element := range arr {
			remove, err := pullMatches(element, e.value)
			if err != nil {
				return err
			}
			if !remove {
				kept = append(kept, element)
			}
		}
		if err := out.Set(e.key, kept); err != nil {
			return err
		}
	}
	return nil
}

func pullMatches(element any, condition gjson.Result) (bool, error) {
	elem := resultOf(element)
	if condition.IsObject() {
		if isOperatorDoc(condition) {
			return matchOperators(elem, condition)
		}
		if !elem.IsObject() {
			return false, nil
		}
		return matchFilter(elem, condition)
	}
	return equalValues(elem, condition), nil
}

func applyPullAll(out *Document, pre *Document, fields gjson.Result) error {
	for _, e := range objectEntries(fields) {
		if !e.value.IsArray() {
			return errors.New(errors.Validation, "$pullAll requires an array for field: %s", e.key)
		}
		arr, err := arrayAt(pre, e.key, "$pullAll")
		if err != nil {
			return err
		}
		if !pre.Exists(e.key) {
			continue
		}
		remove := decodeArray(e.value)
		kept := make([]any, 0, len(arr))
		for _, element := range arr {
			found := false
			for _, r := range remove {
				if equalAny(element, r) {
					found = true
					break
				}
			}
			if !found {
				kept = append(kept, element)
			}
		}
		if err := out.Set(e.key, kept); err != nil {
			return err
		}
	}
	return nil
}

// applyBit performs a bitwise and/or/xor against an integer field, treating an
// absent target as 0
func applyBit(out *Document, pre *Document, fields gjson.Result) error {
	for _, e := range objectEntries(fields) {
		if !e.value.IsObject() {
			return errors.New(errors.Validation, "$bit requires a document for field: %s", e.key)
		}
		cur := pre.get(e.key)
		if cur.Exists() && (!isNumeric(cur) || !isIntegral(cur.Num)) {
			return errors.New(errors.Validation, "cannot apply $bit to non-integer field: %s", e.key)
		}
		value := int64(cur.Num)
		for _, op := range objectEntries(e.value) {
			if !isNumeric(op.value) || !isIntegral(op.value.Num) {
				return errors.New(errors.Validation, "$bit operands must be integers")
			}
			operand := int64(op.value.Num)
			switch op.key {
			case "and":
				value &= operand
			case "or":
				value |= operand
			case "xor":
				value ^= operand
			default:
				return errors.New(errors.Validation, "$bit operation must be and, or, or xor, got: %s", op.key)
			}
		}
		if err := out.Set(e.key, value); err != nil {
			return err
		}
	}
	return nil
}

// setNumber writes integral results as json integers so counters stay integers
func setNumber(out *Document, field string, f float64) error {
	if isIntegral(f) {
		return out.Set(field, int64(f))
	}
	return out.Set(field, f)
}

// arrayAt decodes the array field from the pre-image, treating absent as empty
func arrayAt(pre *Document, field string, op string) ([]any, error) {
	cur := pre.get(field)
	if !cur.Exists() {
		return []any{}, nil
	}
	if !cur.IsArray() {
		return nil, errors.New(errors.Validation, "cannot apply %s to non-array field: %s", op, field)
	}
	return decodeArray(cur), nil
}

func decodeArray(arr gjson.Result) []any {
	elements := arr.Array()
	out := make([]any, 0, len(elements))
	for _, element := range elements {
		out = append(out, element.Value())
	}
	return out
}

// resultOf re-parses a decoded json value so the comparison helpers apply to it
func resultOf(v any) gjson.Result {
	bits, _ := json.Marshal(v)
	return gjson.ParseBytes(bits)
}

func clampPosition(pos, length int) int {
	if pos < 0 {
		pos = length + pos
	}
	if pos < 0 {
		return 0
	}
	if pos > length {
		return length
	}
	return pos
}

func sliceArray(arr []any, n int) []any {
	switch {
	case n == 0:
		return []any{}
	case n > 0:
		if n > len(arr) {
			return arr
		}
		return arr[:n]
	default:
		if -n > len(arr) {
			return arr
		}
		return arr[len(arr)+n:]
	}
}

// sortArray sorts in place by value order (spec 1/-1) or by embedded document
// fields (spec {field: direction, ...})
func sortArray(arr []any, spec gjson.Result) error {
	if isNumeric(spec) {
		if spec.Num != 1 && spec.Num != -1 {
			return errors.New(errors.Validation, "$sort requires 1, -1, or a field specification")
		}
		direction := int(spec.Num)
		sort.SliceStable(arr, func(i, j int) bool {
			return direction*sortValues(resultOf(arr[i]), resultOf(arr[j])) < 0
		})
		return nil
	}
	if !spec.IsObject() {
		return errors.New(errors.Validation, "$sort requires 1, -1, or a field specification")
	}
	keys := objectEntries(spec)
	for _, k := range keys {
		if !isNumeric(k.value) || (k.value.Num != 1 && k.value.Num != -1) {
			return errors.New(errors.Validation, "$sort directions must be 1 or -1")
		}
	}
	sort.SliceStable(arr, func(i, j int) bool {
		a, b := resultOf(arr[i]), resultOf(arr[j])
		for _, k := range keys {
			c := sortValues(a.Get(k.key), b.Get(k.key))
			if c != 0 {
				return int(k.value.Num)*c < 0
			}
		}
		return false
	})
	return nil
}
