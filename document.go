package mongomock

import (
	"encoding/json"
	"io"
	"reflect"

	"github.com/dot-do/mongomock/errors"
	"github.com/dot-do/mongomock/util"
	flat2 "github.com/nqd/flat"
	"github.com/samber/lo"
	"github.com/spf13/cast"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const idField = "_id"

// Document is a json document with ordered fields and dot notation field access
type Document struct {
	result gjson.Result
}

// UnmarshalJSON satisfies the json Unmarshaler interface
func (d *Document) UnmarshalJSON(bytes []byte) error {
	doc, err := NewDocumentFromBytes(bytes)
	if err != nil {
		return err
	}
	*d = *doc
	return nil
}

// MarshalJSON satisfies the json Marshaler interface
func (d *Document) MarshalJSON() ([]byte, error) {
	return d.Bytes(), nil
}

// NewDocument creates a new empty json document
func NewDocument() *Document {
	parsed := gjson.Parse("{}")
	return &Document{
		result: parsed,
	}
}

// NewDocumentFromBytes creates a new document from the given json bytes
func NewDocumentFromBytes(jsonBytes []byte) (*Document, error) {
	if !gjson.ValidBytes(jsonBytes) {
		return nil, errors.New(errors.Validation, "invalid json: %s", string(jsonBytes))
	}
	d := &Document{
		result: gjson.ParseBytes(jsonBytes),
	}
	if !d.Valid() {
		return nil, errors.New(errors.Validation, "invalid document")
	}
	return d, nil
}

// NewDocumentFrom creates a new document from the given value - the value must be json compatible
func NewDocumentFrom(value any) (*Document, error) {
	bits, err := json.Marshal(value)
	if err != nil {
		return nil, errors.New(errors.Validation, "failed to json encode value: %#v", value)
	}
	return NewDocumentFromBytes(bits)
}

// Valid returns whether the document is a json object
func (d *Document) Valid() bool {
	return gjson.ValidBytes(d.Bytes()) && d.result.IsObject()
}

// String returns the document as a json string
func (d *Document) String() string {
	return d.result.Raw
}

// Bytes returns the document as json bytes
func (d *Document) Bytes() []byte {
	return []byte(d.result.Raw)
}

// Value returns the document as a map
func (d *Document) Value() map[string]any {
	return cast.ToStringMap(d.result.Value())
}

// Clone allocates a new document with identical values
func (d *Document) Clone() *Document {
	raw := d.result.Raw
	return &Document{result: gjson.Parse(raw)}
}

// Get gets a field on the document. Dot notation is supported for nested fields.
// An absent field (including a missing intermediate path) returns nil.
func (d *Document) Get(field string) any {
	return d.result.Get(field).Value()
}

// GetString gets a string field value on the document
func (d *Document) GetString(field string) string {
	return d.result.Get(field).String()
}

// GetFloat gets a float field value on the document
func (d *Document) GetFloat(field string) float64 {
	return cast.ToFloat64(d.Get(field))
}

// GetArray gets an array field on the document
func (d *Document) GetArray(field string) []any {
	return cast.ToSlice(d.Get(field))
}

// Exists returns whether the field is present on the document, independent of its value
func (d *Document) Exists(field string) bool {
	return d.result.Get(field).Exists()
}

// get returns the raw gjson result at the path
func (d *Document) get(field string) gjson.Result {
	return d.result.Get(field)
}

// ID returns the document's _id field as a string
func (d *Document) ID() string {
	return d.result.Get(idField).String()
}

// Set sets a field on the document. Dot notation is supported.
func (d *Document) Set(field string, val any) error {
	return d.SetAll(map[string]any{
		field: val,
	})
}

func (d *Document) set(field string, val any) error {
	var (
		result string
		err    error
	)
	switch val := val.(type) {
	case gjson.Result:
		result, err = sjson.SetRaw(d.result.Raw, field, val.Raw)
	case json.RawMessage:
		result, err = sjson.SetRaw(d.result.Raw, field, string(val))
	default:
		result, err = sjson.Set(d.result.Raw, field, val)
	}
	if err != nil {
		return errors.Wrap(err, errors.Validation, "failed to set field: %s", field)
	}
	if !gjson.Valid(result) {
		return errors.New(errors.Validation, "invalid document")
	}
	d.result = gjson.Parse(result)
	return nil
}

// SetAll sets all fields on the document. Dot notation is supported.
func (d *Document) SetAll(values map[string]any) error {
	var err error
	for k, v := range values {
		err = d.set(k, v)
		if err != nil {
			return err
		}
	}
	return nil
}

// Merge merges the document with the provided document. This is not an overwrite.
func (d *Document) Merge(with *Document) error {
	if with == nil {
		return nil
	}
	if !with.Valid() {
		return errors.New(errors.Validation, "invalid document")
	}
	withMap := with.Value()
	flattened, err := flat2.Flatten(withMap, nil)
	if err != nil {
		return errors.Wrap(err, errors.Validation, "failed to flatten document")
	}
	return d.SetAll(flattened)
}

// Del deletes a field from the document. Deleting an absent field is a no-op.
func (d *Document) Del(field string) error {
	return d.DelAll(field)
}

// DelAll deletes fields from the document
func (d *Document) DelAll(fields ...string) error {
	for _, field := range fields {
		result, err := sjson.Delete(d.result.Raw, field)
		if err != nil {
			return errors.Wrap(err, errors.Validation, "failed to delete field: %s", field)
		}
		d.result = gjson.Parse(result)
	}
	return nil
}

// FieldOp is the type of change made to a json field
type FieldOp string

const (
	// Replace indicates that a field value was replaced
	Replace FieldOp = "replace"
	// Add indicates that a field value was added
	Add FieldOp = "add"
	// Remove indicates that a field value was removed
	Remove FieldOp = "remove"
)

// FieldChange is a change to a json field
type FieldChange struct {
	Op          FieldOp `json:"op"`
	Path        string  `json:"path"`
	Value       any     `json:"value,omitempty"`
	ValueBefore any     `json:"valueBefore,omitempty"`
}

// Diff returns the structural difference between the document and the before document,
// expressed as leaf-path field changes
func (d *Document) Diff(before *Document) []FieldChange {
	var changes []FieldChange
	if before == nil {
		before = NewDocument()
	}
	var (
		beforePaths = before.FieldPaths()
		afterPaths  = d.FieldPaths()
	)
	for _, path := range beforePaths {
		exists := d.result.Get(path).Exists()
		switch {
		case !exists:
			changes = append(changes, FieldChange{
				Op:          Remove,
				Path:        path,
				ValueBefore: before.Get(path),
			})
		case !reflect.DeepEqual(d.Get(path), before.Get(path)):
			changes = append(changes, FieldChange{
				Op:          Replace,
				Path:        path,
				Value:       d.Get(path),
				ValueBefore: before.Get(path),
			})
		}
	}
	for _, path := range afterPaths {
		if !before.result.Get(path).Exists() {
			changes = append(changes, FieldChange{
				Op:    Add,
				Path:  path,
				Value: d.Get(path),
			})
		}
	}
	return changes
}

// FieldPaths returns the paths to fields & nested fields in dot notation format.
// Arrays are treated as leaves.
func (d *Document) FieldPaths() []string {
	paths := &[]string{}
	d.paths(d.result, paths)
	return *paths
}

func (d *Document) paths(result gjson.Result, pathValues *[]string) {
	result.ForEach(func(key, value gjson.Result) bool {
		if value.IsObject() {
			d.paths(value, pathValues)
		} else {
			*pathValues = append(*pathValues, value.Path(d.result.Raw))
		}
		return true
	})
}

// Scan scans the json document into the value based on json tags
func (d *Document) Scan(value any) error {
	return util.Decode(d.Value(), &value)
}

// Encode encodes the json document to the io writer
func (d *Document) Encode(w io.Writer) error {
	_, err := w.Write(d.Bytes())
	return errors.Wrap(err, errors.Internal, "failed to encode document")
}

// Documents is an array of documents
type Documents []*Document

// Slice slices the documents into a subarray of documents
func (documents Documents) Slice(start, end int) Documents {
	return lo.Slice[*Document](documents, start, end)
}

// Filter applies the filter function against the documents
func (documents Documents) Filter(predicate func(document *Document, i int) bool) Documents {
	return lo.Filter[*Document](documents, predicate)
}

// Map applies the mapper function against the documents
func (documents Documents) Map(mapper func(t *Document, i int) *Document) Documents {
	return lo.Map[*Document, *Document](documents, mapper)
}

// ForEach applies the function to each document in the documents
func (documents Documents) ForEach(fn func(next *Document, i int)) {
	lo.ForEach[*Document](documents, fn)
}
