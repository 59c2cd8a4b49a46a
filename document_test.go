package mongomock

import (
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
)

func TestDocument(t *testing.T) {
	type contact struct {
		Email string `json:"email"`
		Phone string `json:"phone,omitempty"`
	}
	type user struct {
		ID      string  `json:"_id"`
		Contact contact `json:"contact"`
		Name    string  `json:"name"`
		Age     int     `json:"age"`
	}
	const email = "john.smith@yahoo.com"
	usr := user{ID: gofakeit.UUID(), Contact: contact{Email: email, Phone: gofakeit.Phone()}, Name: "john smith", Age: 50}
	doc, err := NewDocumentFrom(&usr)
	if err != nil {
		t.Fatal(err)
	}
	t.Run("valid", func(t *testing.T) {
		assert.True(t, doc.Valid())
		bad, err := NewDocumentFromBytes([]byte("not json"))
		assert.Error(t, err)
		assert.Nil(t, bad)
	})
	t.Run("get", func(t *testing.T) {
		assert.Equal(t, usr.ID, doc.GetString("_id"))
		assert.Equal(t, email, doc.GetString("contact.email"))
		assert.Equal(t, float64(50), doc.GetFloat("age"))
		assert.Nil(t, doc.Get("missing"))
		assert.False(t, doc.Exists("missing"))
	})
	t.Run("set", func(t *testing.T) {
		clone := doc.Clone()
		assert.NoError(t, clone.Set("contact.email", "overwritten@gmail.com"))
		assert.Equal(t, "overwritten@gmail.com", clone.GetString("contact.email"))
		assert.Equal(t, email, doc.GetString("contact.email"))
	})
	t.Run("del", func(t *testing.T) {
		clone := doc.Clone()
		assert.NoError(t, clone.Del("contact.email"))
		assert.False(t, clone.Exists("contact.email"))
		assert.True(t, doc.Exists("contact.email"))
	})
	t.Run("merge", func(t *testing.T) {
		clone := doc.Clone()
		patch, _ := NewDocumentFrom(map[string]any{
			"age": 51,
			"contact": map[string]any{
				"email": "merged@gmail.com",
			},
		})
		assert.NoError(t, clone.Merge(patch))
		assert.Equal(t, float64(51), clone.GetFloat("age"))
		assert.Equal(t, "merged@gmail.com", clone.GetString("contact.email"))
		assert.Equal(t, usr.Contact.Phone, clone.GetString("contact.phone"))
	})
	t.Run("diff", func(t *testing.T) {
		after := doc.Clone()
		assert.NoError(t, after.Set("age", 51))
		assert.NoError(t, after.Set("nickname", "john"))
		assert.NoError(t, after.Del("contact.phone"))
		changes := after.Diff(doc)
		ops := map[string]FieldOp{}
		for _, change := range changes {
			ops[change.Path] = change.Op
		}
		assert.Equal(t, Replace, ops["age"])
		assert.Equal(t, Add, ops["nickname"])
		assert.Equal(t, Remove, ops["contact.phone"])
	})
	t.Run("scan", func(t *testing.T) {
		var decoded user
		assert.NoError(t, doc.Scan(&decoded))
		assert.Equal(t, usr.Name, decoded.Name)
	})
	t.Run("field value ordering", func(t *testing.T) {
		a, _ := NewDocumentFrom(map[string]any{"v": nil})
		b, _ := NewDocumentFrom(map[string]any{"v": 1})
		c, _ := NewDocumentFrom(map[string]any{"v": "1"})
		assert.Equal(t, -1, sortValues(a.get("v"), b.get("v")))
		assert.Equal(t, -1, sortValues(b.get("v"), c.get("v")))
		assert.Equal(t, 1, sortValues(c.get("v"), b.get("v")))
	})
}

func TestDocuments(t *testing.T) {
	var docs Documents
	for i := 0; i < 5; i++ {
		doc, _ := NewDocumentFrom(map[string]any{"_id": i, "even": i%2 == 0})
		docs = append(docs, doc)
	}
	t.Run("filter", func(t *testing.T) {
		even := docs.Filter(func(document *Document, i int) bool {
			return document.Get("even") == true
		})
		assert.Equal(t, 3, len(even))
	})
	t.Run("slice", func(t *testing.T) {
		assert.Equal(t, 2, len(docs.Slice(1, 3)))
	})
}
