package testutil

import (
	"context"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/dot-do/mongomock"
)

const (
	// TestDatabase is the database name used across the test suite
	TestDatabase = "testing"
	// UserCollection holds generated user documents
	UserCollection = "user"
	// TaskCollection holds generated task documents
	TaskCollection = "task"
)

// UserSchema is a yaml json schema for user documents, usable as a collection validator
const UserSchema = `
type: object
required:
  - _id
  - name
  - contact
properties:
  _id:
    type: string
  name:
    type: string
  contact:
    type: object
    properties:
      email:
        type: string
  age:
    type: integer
    minimum: 0
`

// NewUserDoc returns a randomized user document with a generated string _id
func NewUserDoc() *mongomock.Document {
	doc, err := mongomock.NewDocumentFrom(map[string]any{
		"_id":  gofakeit.UUID(),
		"name": gofakeit.Name(),
		"contact": map[string]any{
			"email": gofakeit.Email(),
		},
		"account_id":      gofakeit.IntRange(0, 100),
		"language":        gofakeit.Language(),
		"birthday_month":  gofakeit.Month(),
		"favorite_number": gofakeit.Second(),
		"gender":          gofakeit.Gender(),
		"age":             gofakeit.IntRange(0, 100),
		"tags":            []any{gofakeit.Word(), gofakeit.Word()},
	})
	if err != nil {
		panic(err)
	}
	return doc
}

// NewTaskDoc returns a randomized task document owned by the given user
func NewTaskDoc(usrID string) *mongomock.Document {
	doc, err := mongomock.NewDocumentFrom(map[string]any{
		"_id":     gofakeit.UUID(),
		"user":    usrID,
		"content": gofakeit.LoremIpsumSentence(5),
	})
	if err != nil {
		panic(err)
	}
	return doc
}

// TestDB runs fn against a fresh engine with a short cursor timeout, closing
// it when fn returns
func TestDB(fn func(ctx context.Context, db *mongomock.DB)) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := mongomock.New(ctx, mongomock.Config{
		CursorIdleTimeout: time.Minute,
	})
	if err != nil {
		return err
	}
	defer db.Close(ctx)
	fn(ctx, db)
	return nil
}
