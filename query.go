package mongomock

import (
	"sort"

	"github.com/dot-do/mongomock/errors"
	"github.com/tidwall/gjson"
)

// SortField orders results by a field in a direction: 1 ascending, -1 descending
type SortField struct {
	Field     string `json:"field" validate:"required"`
	Direction int    `json:"direction" validate:"oneof=1 -1"`
}

// executeFind runs the fixed query pipeline against a scanned sequence:
// filter, then sort, then skip, then limit, then project. The order is never
// rearranged, even where it would be equivalent.
func executeFind(docs Documents, filter *Document, sortFields []SortField, skip, limit int64, projection *Document) (Documents, error) {
	if skip < 0 || limit < 0 {
		return nil, errors.New(errors.Validation, "skip and limit must be non-negative")
	}
	var results Documents
	for _, doc := range docs {
		pass, err := doc.Matches(filter)
		if err != nil {
			return nil, err
		}
		if pass {
			results = append(results, doc)
		}
	}
	if err := sortDocuments(results, sortFields); err != nil {
		return nil, err
	}
	if skip > 0 {
		if skip >= int64(len(results)) {
			results = Documents{}
		} else {
			results = results[skip:]
		}
	}
	if limit > 0 && int64(len(results)) > limit {
		results = results[:limit]
	}
	if projection != nil {
		projected := make(Documents, 0, len(results))
		for _, doc := range results {
			p, err := projectDocument(doc, projection)
			if err != nil {
				return nil, err
			}
			projected = append(projected, p)
		}
		results = projected
	}
	return results, nil
}

// sortDocuments is a stable multi-key sort. A missing field sorts before
// present values in ascending order and after them in descending order; ties
// fall through to the next key, and a final tie preserves scan order.
func sortDocuments(docs Documents, fields []SortField) error {
	if len(fields) == 0 {
		return nil
	}
	for _, f := range fields {
		if f.Field == "" {
			return errors.New(errors.Validation, "sort requires a field name")
		}
		if f.Direction != 1 && f.Direction != -1 {
			return errors.New(errors.Validation, "sort direction must be 1 or -1, got: %d", f.Direction)
		}
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, f := range fields {
			c := sortValues(docs[i].get(f.Field), docs[j].get(f.Field))
			if c != 0 {
				return f.Direction*c < 0
			}
		}
		return false
	})
	return nil
}

// sortFieldsFromDocument converts a {field: direction, ...} document to sort
// fields, preserving key order
func sortFieldsFromDocument(spec gjson.Result) ([]SortField, error) {
	if !spec.IsObject() {
		return nil, errors.New(errors.Validation, "sort must be a document of field directions")
	}
	var fields []SortField
	for _, e := range objectEntries(spec) {
		if !isNumeric(e.value) || (e.value.Num != 1 && e.value.Num != -1) {
			return nil, errors.New(errors.Validation, "sort direction for %s must be 1 or -1", e.key)
		}
		fields = append(fields, SortField{Field: e.key, Direction: int(e.value.Num)})
	}
	return fields, nil
}

// projectDocument applies a projection. A projection is either pure inclusion
// or pure exclusion; the only exception is that _id may be explicitly excluded
// inside an inclusion projection. Inclusion retains _id unless excluded.
func projectDocument(doc *Document, projection *Document) (*Document, error) {
	if !projection.Valid() {
		return nil, errors.New(errors.Validation, "projection must be a document")
	}
	var included, excluded []string
	idFlag := -1 // -1 unspecified, 0 excluded, 1 included
	for _, e := range objectEntries(projection.result) {
		include, err := projectionFlag(e)
		if err != nil {
			return nil, err
		}
		if e.key == idField {
			if include {
				idFlag = 1
			} else {
				idFlag = 0
			}
			continue
		}
		if include {
			included = append(included, e.key)
		} else {
			excluded = append(excluded, e.key)
		}
	}
	if len(included) > 0 && len(excluded) > 0 {
		return nil, errors.New(errors.Validation, "cannot mix inclusion and exclusion in a projection")
	}
	switch {
	case len(included) > 0 || idFlag == 1:
		out := NewDocument()
		if idFlag != 0 && doc.Exists(idField) {
			if err := out.set(idField, doc.get(idField)); err != nil {
				return nil, err
			}
		}
		for _, path := range included {
			v := doc.get(path)
			if !v.Exists() {
				continue
			}
			if err := out.set(path, v); err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		out := doc.Clone()
		if idFlag == 0 {
			if err := out.Del(idField); err != nil {
				return nil, err
			}
		}
		if err := out.DelAll(excluded...); err != nil {
			return nil, err
		}
		return out, nil
	}
}

func projectionFlag(e fieldEntry) (bool, error) {
	switch e.value.Type {
	case gjson.True:
		return true, nil
	case gjson.False:
		return false, nil
	case gjson.Number:
		return e.value.Num != 0, nil
	default:
		return false, errors.New(errors.Validation, "projection value for %s must be 0, 1, or a boolean", e.key)
	}
}
