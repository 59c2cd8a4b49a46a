package mongomock

import (
	"github.com/dot-do/mongomock/errors"
	"github.com/samber/lo"
	"github.com/tidwall/gjson"
)

// runPipeline applies an ordered list of aggregation stages to the working
// sequence. $match, $sort, $skip, $limit and $project reuse the query
// executor's primitives.
func runPipeline(docs Documents, pipeline []*Document) (Documents, error) {
	working := docs
	for _, stage := range pipeline {
		entries := objectEntries(stage.result)
		if len(entries) != 1 {
			return nil, errors.New(errors.Validation, "each pipeline stage requires exactly one operator, got: %s", stage.String())
		}
		var err error
		working, err = runStage(working, entries[0])
		if err != nil {
			return nil, err
		}
	}
	return working, nil
}

func runStage(docs Documents, stage fieldEntry) (Documents, error) {
	switch stage.key {
	case "$match":
		if !stage.value.IsObject() {
			return nil, errors.New(errors.Validation, "$match requires a document")
		}
		filter := &Document{result: stage.value}
		var out Documents
		for _, doc := range docs {
			pass, err := doc.Matches(filter)
			if err != nil {
				return nil, err
			}
			if pass {
				out = append(out, doc)
			}
		}
		return out, nil
	case "$sort":
		fields, err := sortFieldsFromDocument(stage.value)
		if err != nil {
			return nil, err
		}
		sorted := make(Documents, len(docs))
		copy(sorted, docs)
		if err := sortDocuments(sorted, fields); err != nil {
			return nil, err
		}
		return sorted, nil
	case "$skip":
		if !isNumeric(stage.value) || !isIntegral(stage.value.Num) || stage.value.Num < 0 {
			return nil, errors.New(errors.Validation, "$skip requires a non-negative integer")
		}
		n := int(stage.value.Num)
		if n >= len(docs) {
			return Documents{}, nil
		}
		return docs[n:], nil
	case "$limit":
		if !isNumeric(stage.value) || !isIntegral(stage.value.Num) || stage.value.Num < 0 {
			return nil, errors.New(errors.Validation, "$limit requires a non-negative integer")
		}
		n := int(stage.value.Num)
		if n < len(docs) {
			return docs[:n], nil
		}
		return docs, nil
	case "$project":
		if !stage.value.IsObject() {
			return nil, errors.New(errors.Validation, "$project requires a document")
		}
		projection := &Document{result: stage.value}
		out := make(Documents, 0, len(docs))
		for _, doc := range docs {
			p, err := projectDocument(doc, projection)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, nil
	case "$count":
		if stage.value.Type != gjson.String || stage.value.Str == "" {
			return nil, errors.New(errors.Validation, "$count requires a non-empty field name")
		}
		doc := NewDocument()
		if err := doc.Set(stage.value.Str, len(docs)); err != nil {
			return nil, err
		}
		return Documents{doc}, nil
	case "$group":
		return runGroup(docs, stage.value)
	default:
		return nil, errors.New(errors.UnsupportedOperator, "unsupported pipeline stage: %s", stage.key)
	}
}

// evalExpr evaluates a group expression against a document. The expression
// language is deliberately small: "$field" references and literals only.
func evalExpr(doc *Document, expr gjson.Result) gjson.Result {
	if expr.Type == gjson.String && len(expr.Str) > 1 && expr.Str[0] == '$' {
		return doc.get(expr.Str[1:])
	}
	return expr
}

type group struct {
	key  gjson.Result
	docs Documents
}

// runGroup buckets documents by the evaluated _id expression and applies
// accumulators per bucket. Groups are emitted in first-seen key order.
func runGroup(docs Documents, spec gjson.Result) (Documents, error) {
	if !spec.IsObject() {
		return nil, errors.New(errors.Validation, "$group requires a document")
	}
	idExpr := spec.Get(idField)
	if !idExpr.Exists() {
		return nil, errors.New(errors.Validation, "$group requires an _id expression")
	}
	var (
		order  []string
		groups = map[string]*group{}
	)
	for _, doc := range docs {
		key := evalExpr(doc, idExpr)
		mapKey := key.Raw
		if !key.Exists() {
			mapKey = "null"
		}
		g, ok := groups[mapKey]
		if !ok {
			g = &group{key: key}
			groups[mapKey] = g
			order = append(order, mapKey)
		}
		g.docs = append(g.docs, doc)
	}
	accumulations := lo.Filter(objectEntries(spec), func(e fieldEntry, _ int) bool {
		return e.key != idField
	})
	out := make(Documents, 0, len(order))
	for _, mapKey := range order {
		g := groups[mapKey]
		doc := NewDocument()
		if g.key.Exists() {
			if err := doc.set(idField, g.key); err != nil {
				return nil, err
			}
		} else {
			if err := doc.Set(idField, nil); err != nil {
				return nil, err
			}
		}
		for _, acc := range accumulations {
			if err := accumulate(doc, acc, g.docs); err != nil {
				return nil, err
			}
		}
		out = append(out, doc)
	}
	return out, nil
}

func accumulate(out *Document, acc fieldEntry, docs Documents) error {
	entries := objectEntries(acc.value)
	if !acc.value.IsObject() || len(entries) != 1 {
		return errors.New(errors.Validation, "accumulator for %s requires exactly one operator", acc.key)
	}
	fn, ok := accumulators[entries[0].key]
	if !ok {
		return errors.New(errors.UnsupportedOperator, "unsupported accumulator: %s", entries[0].key)
	}
	return fn(out, acc.key, entries[0].value, docs)
}

type accumulator func(out *Document, field string, expr gjson.Result, docs Documents) error

// accumulators is the closed set of recognized $group accumulators
var accumulators = map[string]accumulator{
	"$sum":      accSum,
	"$avg":      accAvg,
	"$min":      accMinMax(-1),
	"$max":      accMinMax(1),
	"$first":    accFirst,
	"$last":     accLast,
	"$push":     accPush,
	"$addToSet": accAddToSet,
}

// accSum sums numeric expression values; non-numeric values contribute
// nothing, so $sum:1 counts documents
func accSum(out *Document, field string, expr gjson.Result, docs Documents) error {
	var total float64
	for _, doc := range docs {
		v := evalExpr(doc, expr)
		if isNumeric(v) {
			total += v.Num
		}
	}
	return setNumber(out, field, total)
}

func accAvg(out *Document, field string, expr gjson.Result, docs Documents) error {
	var (
		total float64
		count int
	)
	for _, doc := range docs {
		v := evalExpr(doc, expr)
		if isNumeric(v) {
			total += v.Num
			count++
		}
	}
	if count == 0 {
		return out.Set(field, nil)
	}
	return out.Set(field, total/float64(count))
}

func accMinMax(direction int) accumulator {
	return func(out *Document, field string, expr gjson.Result, docs Documents) error {
		var best gjson.Result
		for _, doc := range docs {
			v := evalExpr(doc, expr)
			if !v.Exists() {
				continue
			}
			if !best.Exists() || direction*sortValues(v, best) > 0 {
				best = v
			}
		}
		if !best.Exists() {
			return out.Set(field, nil)
		}
		return out.set(field, best)
	}
}

func accFirst(out *Document, field string, expr gjson.Result, docs Documents) error {
	if len(docs) == 0 {
		return out.Set(field, nil)
	}
	return setEvaluated(out, field, evalExpr(docs[0], expr))
}

func accLast(out *Document, field string, expr gjson.Result, docs Documents) error {
	if len(docs) == 0 {
		return out.Set(field, nil)
	}
	return setEvaluated(out, field, evalExpr(docs[len(docs)-1], expr))
}

func accPush(out *Document, field string, expr gjson.Result, docs Documents) error {
	values := make([]any, 0, len(docs))
	for _, doc := range docs {
		v := evalExpr(doc, expr)
		if v.Exists() {
			values = append(values, v.Value())
		}
	}
	return out.Set(field, values)
}

func accAddToSet(out *Document, field string, expr gjson.Result, docs Documents) error {
	var values []any
	for _, doc := range docs {
		v := evalExpr(doc, expr)
		if !v.Exists() {
			continue
		}
		decoded := v.Value()
		exists := false
		for _, existing := range values {
			if equalAny(existing, decoded) {
				exists = true
				break
			}
		}
		if !exists {
			values = append(values, decoded)
		}
	}
	if values == nil {
		values = []any{}
	}
	return out.Set(field, values)
}

func setEvaluated(out *Document, field string, v gjson.Result) error {
	if !v.Exists() {
		return out.Set(field, nil)
	}
	return out.set(field, v)
}
