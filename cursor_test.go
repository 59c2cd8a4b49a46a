package mongomock

import (
	"testing"
	"time"

	"github.com/dot-do/mongomock/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLogger(t *testing.T) Logger {
	t.Helper()
	lgr, err := NewLogger("error", nil)
	require.NoError(t, err)
	return lgr
}

func TestCursorManager(t *testing.T) {
	docsOf := func(n int) Documents {
		var docs Documents
		for i := 0; i < n; i++ {
			docs = append(docs, mustDoc(t, map[string]any{"_id": i}))
		}
		return docs
	}
	t.Run("drain in batches", func(t *testing.T) {
		m := newCursorManager(time.Minute, silentLogger(t))
		defer m.stop()
		id := m.open("db", "coll", docsOf(5))
		require.NotEmpty(t, id)

		batch, next, err := m.getMore(id, 2)
		require.NoError(t, err)
		assert.Len(t, batch, 2)
		assert.Equal(t, id, next)

		batch, next, err = m.getMore(id, 2)
		require.NoError(t, err)
		assert.Len(t, batch, 2)
		assert.Equal(t, id, next)

		batch, next, err = m.getMore(id, 2)
		require.NoError(t, err)
		assert.Len(t, batch, 1)
		assert.Empty(t, next)

		_, _, err = m.getMore(id, 2)
		assert.True(t, errors.IsCursorNotFound(err))
	})
	t.Run("close", func(t *testing.T) {
		m := newCursorManager(time.Minute, silentLogger(t))
		defer m.stop()
		id := m.open("db", "coll", docsOf(3))
		require.NoError(t, m.close(id))
		assert.True(t, errors.IsCursorNotFound(m.close(id)))
		_, _, err := m.getMore(id, 1)
		assert.True(t, errors.IsCursorNotFound(err))
	})
	t.Run("unknown cursor", func(t *testing.T) {
		m := newCursorManager(time.Minute, silentLogger(t))
		defer m.stop()
		_, _, err := m.getMore("nope", 1)
		assert.True(t, errors.IsCursorNotFound(err))
	})
	t.Run("idle cursors are reaped", func(t *testing.T) {
		m := newCursorManager(20*time.Millisecond, silentLogger(t))
		defer m.stop()
		id := m.open("db", "coll", docsOf(3))
		assert.Eventually(t, func() bool {
			return !m.cursors.Exists(id)
		}, time.Second, 10*time.Millisecond)
		_, _, err := m.getMore(id, 1)
		assert.True(t, errors.IsCursorNotFound(err))
	})
}
