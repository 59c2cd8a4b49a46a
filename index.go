package mongomock

import (
	"fmt"
	"strings"

	"github.com/dot-do/mongomock/errors"
	"github.com/spf13/cast"
)

// IndexModel is index metadata. Indexes are bookkeeping only: they are
// recorded, named and listed, but never consulted during scans.
type IndexModel struct {
	// Name is the index name, derived from the key pattern when empty
	Name string `json:"name"`
	// Keys is the key pattern document, for example {"email": 1, "age": -1}
	Keys *Document `json:"key" validate:"required"`
	// Unique marks the index as unique. Uniqueness is only enforced for _id.
	Unique bool `json:"unique,omitempty"`
}

func idIndex() IndexModel {
	keys, _ := NewDocumentFrom(map[string]any{idField: 1})
	return IndexModel{
		Name:   "_id_",
		Keys:   keys,
		Unique: true,
	}
}

// indexName derives the conventional name of a key pattern ("email_1_age_-1")
func indexName(keys *Document) string {
	var parts []string
	for _, entry := range objectEntries(keys.result) {
		parts = append(parts, fmt.Sprintf("%s_%d", entry.key, cast.ToInt(entry.value.Value())))
	}
	return strings.Join(parts, "_")
}

func (c *Collection) createIndex(model IndexModel) (string, error) {
	if model.Keys == nil || len(objectEntries(model.Keys.result)) == 0 {
		return "", errors.New(errors.Validation, "createIndex: empty key pattern")
	}
	if model.Name == "" {
		model.Name = indexName(model.Keys)
	}
	for _, existing := range c.indexes {
		if existing.Name == model.Name {
			if existing.Keys.String() == model.Keys.String() {
				return existing.Name, nil
			}
			return "", errors.New(errors.Validation, fmt.Sprintf("createIndex: an index named %s already exists with a different key pattern", model.Name))
		}
	}
	c.indexes = append(c.indexes, model)
	return model.Name, nil
}

func (c *Collection) dropIndex(name string) error {
	if name == "_id_" {
		return errors.New(errors.Validation, "dropIndex: cannot drop _id_ index")
	}
	for i, existing := range c.indexes {
		if existing.Name == name {
			c.indexes = append(c.indexes[:i], c.indexes[i+1:]...)
			return nil
		}
	}
	return errors.New(errors.Validation, fmt.Sprintf("dropIndex: index not found with name %s", name))
}

func (c *Collection) listIndexes() []IndexModel {
	out := make([]IndexModel, len(c.indexes))
	copy(out, c.indexes)
	return out
}
