package mongomock

import (
	"context"
	"testing"
	"time"

	"github.com/dot-do/mongomock/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) (*DB, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	db, err := New(ctx, Config{
		Logger:            silentLogger(t),
		CursorIdleTimeout: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close(ctx)
	})
	return db, ctx
}

func TestChangeStream(t *testing.T) {
	t.Run("events arrive in commit order", func(t *testing.T) {
		db, ctx := testDB(t)
		stream, err := db.Watch(ctx, "app", "user", nil, nil)
		require.NoError(t, err)
		defer stream.Close(ctx)

		_, err = db.InsertOne(ctx, "app", "user", mustDoc(t, map[string]any{"_id": "u1", "name": "alice"}))
		require.NoError(t, err)
		_, err = db.UpdateOne(ctx, "app", "user", mustDoc(t, map[string]any{"_id": "u1"}),
			mustDoc(t, map[string]any{"$set": map[string]any{"name": "alicia"}, "$unset": map[string]any{"tmp": ""}}), nil)
		require.NoError(t, err)
		_, err = db.DeleteOne(ctx, "app", "user", mustDoc(t, map[string]any{"_id": "u1"}))
		require.NoError(t, err)

		require.True(t, stream.Next(ctx))
		ev := stream.Current()
		assert.Equal(t, "insert", ev.OperationType)
		assert.Equal(t, "app", ev.Ns.DB)
		assert.Equal(t, "user", ev.Ns.Coll)
		assert.Equal(t, "u1", ev.DocumentKey.GetString("_id"))
		assert.Equal(t, "alice", ev.FullDocument.GetString("name"))

		require.True(t, stream.Next(ctx))
		ev = stream.Current()
		assert.Equal(t, "update", ev.OperationType)
		assert.Nil(t, ev.FullDocument)
		require.NotNil(t, ev.UpdateDescription)
		assert.Equal(t, "alicia", ev.UpdateDescription.UpdatedFields.GetString("name"))

		require.True(t, stream.Next(ctx))
		assert.Equal(t, "delete", stream.Current().OperationType)
		assert.Nil(t, stream.Current().FullDocument)
	})
	t.Run("update description tracks removed fields", func(t *testing.T) {
		db, ctx := testDB(t)
		_, err := db.InsertOne(ctx, "app", "user", mustDoc(t, map[string]any{"_id": "u1", "tmp": 1}))
		require.NoError(t, err)
		stream, err := db.Watch(ctx, "app", "user", nil, nil)
		require.NoError(t, err)
		defer stream.Close(ctx)

		_, err = db.UpdateOne(ctx, "app", "user", mustDoc(t, map[string]any{"_id": "u1"}),
			mustDoc(t, map[string]any{"$unset": map[string]any{"tmp": ""}}), nil)
		require.NoError(t, err)

		require.True(t, stream.Next(ctx))
		assert.Equal(t, []string{"tmp"}, stream.Current().UpdateDescription.RemovedFields)
	})
	t.Run("watch scope filters namespaces", func(t *testing.T) {
		db, ctx := testDB(t)
		stream, err := db.Watch(ctx, "app", "user", nil, nil)
		require.NoError(t, err)
		defer stream.Close(ctx)

		_, err = db.InsertOne(ctx, "app", "task", mustDoc(t, map[string]any{"_id": "t1"}))
		require.NoError(t, err)
		_, err = db.InsertOne(ctx, "other", "user", mustDoc(t, map[string]any{"_id": "u9"}))
		require.NoError(t, err)
		_, err = db.InsertOne(ctx, "app", "user", mustDoc(t, map[string]any{"_id": "u1"}))
		require.NoError(t, err)

		require.True(t, stream.Next(ctx))
		assert.Equal(t, "u1", stream.Current().DocumentKey.GetString("_id"))
	})
	t.Run("database scope sees every collection", func(t *testing.T) {
		db, ctx := testDB(t)
		stream, err := db.Watch(ctx, "app", "", nil, nil)
		require.NoError(t, err)
		defer stream.Close(ctx)

		_, err = db.InsertOne(ctx, "app", "task", mustDoc(t, map[string]any{"_id": "t1"}))
		require.NoError(t, err)
		require.True(t, stream.Next(ctx))
		assert.Equal(t, "task", stream.Current().Ns.Coll)
	})
	t.Run("match pipeline", func(t *testing.T) {
		db, ctx := testDB(t)
		stream, err := db.Watch(ctx, "app", "user", Documents{
			mustDoc(t, map[string]any{"$match": map[string]any{"operationType": "delete"}}),
		}, nil)
		require.NoError(t, err)
		defer stream.Close(ctx)

		_, err = db.InsertOne(ctx, "app", "user", mustDoc(t, map[string]any{"_id": "u1"}))
		require.NoError(t, err)
		_, err = db.DeleteOne(ctx, "app", "user", mustDoc(t, map[string]any{"_id": "u1"}))
		require.NoError(t, err)

		require.True(t, stream.Next(ctx))
		assert.Equal(t, "delete", stream.Current().OperationType)
	})
	t.Run("unsupported pipeline stage", func(t *testing.T) {
		db, ctx := testDB(t)
		_, err := db.Watch(ctx, "app", "user", Documents{
			mustDoc(t, map[string]any{"$lookup": map[string]any{}}),
		}, nil)
		assert.True(t, errors.IsUnsupportedOperator(err))
	})
	t.Run("update lookup resolves the current document", func(t *testing.T) {
		db, ctx := testDB(t)
		_, err := db.InsertOne(ctx, "app", "user", mustDoc(t, map[string]any{"_id": "u1", "n": 0}))
		require.NoError(t, err)
		stream, err := db.Watch(ctx, "app", "user", nil, &WatchOptions{FullDocument: FullDocumentUpdateLookup})
		require.NoError(t, err)
		defer stream.Close(ctx)

		_, err = db.UpdateOne(ctx, "app", "user", mustDoc(t, map[string]any{"_id": "u1"}),
			mustDoc(t, map[string]any{"$set": map[string]any{"n": 1}}), nil)
		require.NoError(t, err)

		require.True(t, stream.Next(ctx))
		require.NotNil(t, stream.Current().FullDocument)
		assert.Equal(t, float64(1), stream.Current().FullDocument.GetFloat("n"))
	})
	t.Run("required full document fails when the document is gone", func(t *testing.T) {
		db, ctx := testDB(t)
		_, err := db.InsertOne(ctx, "app", "user", mustDoc(t, map[string]any{"_id": "u1", "n": 0}))
		require.NoError(t, err)
		stream, err := db.Watch(ctx, "app", "user", nil, &WatchOptions{FullDocument: FullDocumentRequired})
		require.NoError(t, err)
		defer stream.Close(ctx)

		_, err = db.UpdateOne(ctx, "app", "user", mustDoc(t, map[string]any{"_id": "u1"}),
			mustDoc(t, map[string]any{"$set": map[string]any{"n": 1}}), nil)
		require.NoError(t, err)

		require.True(t, stream.Next(ctx))
		require.NotNil(t, stream.Current().FullDocument)
		assert.Equal(t, float64(1), stream.Current().FullDocument.GetFloat("n"))

		_, err = db.UpdateOne(ctx, "app", "user", mustDoc(t, map[string]any{"_id": "u1"}),
			mustDoc(t, map[string]any{"$set": map[string]any{"n": 2}}), nil)
		require.NoError(t, err)
		_, err = db.DeleteOne(ctx, "app", "user", mustDoc(t, map[string]any{"_id": "u1"}))
		require.NoError(t, err)

		assert.False(t, stream.Next(ctx))
		assert.True(t, errors.IsValidation(stream.Err()))
	})
	t.Run("resume token survives an id stripping projection", func(t *testing.T) {
		db, ctx := testDB(t)
		stream, err := db.Watch(ctx, "app", "user", Documents{
			mustDoc(t, map[string]any{"$project": map[string]any{"_id": 0, "operationType": 1, "documentKey": 1}}),
		}, nil)
		require.NoError(t, err)
		defer stream.Close(ctx)

		_, err = db.InsertOne(ctx, "app", "user", mustDoc(t, map[string]any{"_id": "u1"}))
		require.NoError(t, err)
		_, err = db.InsertOne(ctx, "app", "user", mustDoc(t, map[string]any{"_id": "u2"}))
		require.NoError(t, err)

		require.True(t, stream.Next(ctx))
		assert.Empty(t, stream.Current().ID)
		token := stream.ResumeToken()
		require.NotEmpty(t, token)
		stream.Close(ctx)

		resumed, err := db.Watch(ctx, "app", "user", nil, &WatchOptions{ResumeAfter: token})
		require.NoError(t, err)
		defer resumed.Close(ctx)
		require.True(t, resumed.Next(ctx))
		assert.Equal(t, "u2", resumed.Current().DocumentKey.GetString("_id"))
	})
	t.Run("resume delivers each event exactly once", func(t *testing.T) {
		db, ctx := testDB(t)
		stream, err := db.Watch(ctx, "app", "user", nil, nil)
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			_, err = db.InsertOne(ctx, "app", "user", mustDoc(t, map[string]any{"_id": i}))
			require.NoError(t, err)
		}
		require.True(t, stream.Next(ctx))
		require.True(t, stream.Next(ctx))
		token := stream.ResumeToken()
		require.NotEmpty(t, token)
		require.NoError(t, stream.Close(ctx))

		resumed, err := db.Watch(ctx, "app", "user", nil, &WatchOptions{ResumeAfter: token})
		require.NoError(t, err)
		defer resumed.Close(ctx)
		var seen []float64
		for i := 0; i < 3; i++ {
			require.True(t, resumed.Next(ctx))
			seen = append(seen, resumed.Current().DocumentKey.GetFloat("_id"))
		}
		assert.Equal(t, []float64{2, 3, 4}, seen)
	})
	t.Run("malformed resume token", func(t *testing.T) {
		db, ctx := testDB(t)
		_, err := db.Watch(ctx, "app", "user", nil, &WatchOptions{ResumeAfter: "zzz"})
		assert.True(t, errors.IsValidation(err))
	})
	t.Run("unknown resume token", func(t *testing.T) {
		db, ctx := testDB(t)
		_, err := db.Watch(ctx, "app", "user", nil, &WatchOptions{ResumeAfter: tokenFor(99)})
		assert.True(t, errors.IsValidation(err))
	})
	t.Run("blocked next wakes on context cancellation", func(t *testing.T) {
		db, ctx := testDB(t)
		stream, err := db.Watch(ctx, "app", "user", nil, nil)
		require.NoError(t, err)
		defer stream.Close(ctx)

		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		assert.False(t, stream.Next(cctx))
		assert.ErrorIs(t, stream.Err(), context.DeadlineExceeded)
	})
	t.Run("drop and rename emit events", func(t *testing.T) {
		db, ctx := testDB(t)
		_, err := db.InsertOne(ctx, "app", "user", mustDoc(t, map[string]any{"_id": 1}))
		require.NoError(t, err)
		stream, err := db.Watch(ctx, "app", "", nil, nil)
		require.NoError(t, err)
		defer stream.Close(ctx)

		require.NoError(t, db.RenameCollection(ctx, "app", "user", "person"))
		require.NoError(t, db.DropCollection(ctx, "app", "person"))

		require.True(t, stream.Next(ctx))
		assert.Equal(t, "rename", stream.Current().OperationType)
		require.True(t, stream.Next(ctx))
		assert.Equal(t, "drop", stream.Current().OperationType)
		assert.Equal(t, "person", stream.Current().Ns.Coll)
	})
}
