package errors_test

import (
	"fmt"
	"testing"

	"github.com/dot-do/mongomock/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrors(t *testing.T) {
	t.Run("wrap nil error", func(t *testing.T) {
		var err error
		err = errors.Wrap(err, errors.Validation, "")
		assert.Nil(t, err)
	})
	t.Run("wrap std error", func(t *testing.T) {
		err := errors.Wrap(fmt.Errorf("failed"), errors.Validation, "bad filter")
		e := errors.Extract(err)
		assert.Equal(t, errors.Validation, e.Code)
		assert.Contains(t, e.Messages, "bad filter")
		assert.NotNil(t, e.Err)
	})
	t.Run("wrap typed error appends message", func(t *testing.T) {
		err := errors.New(errors.DuplicateKey, "duplicate _id: %s", "abc")
		err = errors.Wrap(err, 0, "insert failed")
		e := errors.Extract(err)
		assert.Equal(t, errors.DuplicateKey, e.Code)
		assert.Len(t, e.Messages, 2)
	})
	t.Run("extract foreign error", func(t *testing.T) {
		e := errors.Extract(fmt.Errorf("boom"))
		assert.Equal(t, errors.Internal, e.Code)
	})
	t.Run("code predicates", func(t *testing.T) {
		assert.True(t, errors.IsDuplicateKey(errors.New(errors.DuplicateKey, "dup")))
		assert.True(t, errors.IsCursorNotFound(errors.New(errors.CursorNotFound, "stale")))
		assert.True(t, errors.IsUnsupportedOperator(errors.New(errors.UnsupportedOperator, "$frobnicate")))
		assert.True(t, errors.IsValidation(errors.New(errors.Validation, "bad")))
		assert.False(t, errors.IsValidation(nil))
		assert.False(t, errors.IsValidation(fmt.Errorf("plain")))
	})
}
