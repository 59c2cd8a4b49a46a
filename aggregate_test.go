package mongomock

import (
	"testing"

	"github.com/dot-do/mongomock/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func salesFixture(t *testing.T) Documents {
	t.Helper()
	var docs Documents
	for _, row := range []struct {
		id       int
		category string
		amount   float64
	}{
		{1, "food", 10},
		{2, "tools", 250},
		{3, "food", 30},
		{4, "books", 15},
		{5, "food", 20},
	} {
		docs = append(docs, mustDoc(t, map[string]any{
			"_id":      row.id,
			"category": row.category,
			"amount":   row.amount,
		}))
	}
	return docs
}

func stages(t *testing.T, specs ...map[string]any) Documents {
	t.Helper()
	var pipeline Documents
	for _, spec := range specs {
		pipeline = append(pipeline, mustDoc(t, spec))
	}
	return pipeline
}

func TestRunPipeline(t *testing.T) {
	docs := salesFixture(t)
	t.Run("match then group preserves first seen order", func(t *testing.T) {
		out, err := runPipeline(docs, stages(t,
			map[string]any{"$match": map[string]any{"amount": map[string]any{"$lt": 100}}},
			map[string]any{"$group": map[string]any{
				"_id":   "$category",
				"total": map[string]any{"$sum": "$amount"},
				"count": map[string]any{"$sum": 1},
			}},
		))
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, "food", out[0].GetString("_id"))
		assert.Equal(t, float64(60), out[0].GetFloat("total"))
		assert.Equal(t, float64(3), out[0].GetFloat("count"))
		assert.Equal(t, "books", out[1].GetString("_id"))
	})
	t.Run("group accumulators", func(t *testing.T) {
		out, err := runPipeline(docs, stages(t,
			map[string]any{"$group": map[string]any{
				"_id": nil,
				"avg": map[string]any{"$avg": "$amount"},
				"min": map[string]any{"$min": "$amount"},
				"max": map[string]any{"$max": "$amount"},
				"all": map[string]any{"$push": "$category"},
				"set": map[string]any{"$addToSet": "$category"},
			}},
		))
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, float64(65), out[0].GetFloat("avg"))
		assert.Equal(t, float64(10), out[0].GetFloat("min"))
		assert.Equal(t, float64(250), out[0].GetFloat("max"))
		assert.Len(t, out[0].GetArray("all"), 5)
		assert.Equal(t, []any{"food", "tools", "books"}, out[0].GetArray("set"))
	})
	t.Run("first and last respect prior sort", func(t *testing.T) {
		out, err := runPipeline(docs, stages(t,
			map[string]any{"$sort": map[string]any{"amount": 1}},
			map[string]any{"$group": map[string]any{
				"_id":      nil,
				"cheapest": map[string]any{"$first": "$_id"},
				"dearest":  map[string]any{"$last": "$_id"},
			}},
		))
		require.NoError(t, err)
		assert.Equal(t, float64(1), out[0].GetFloat("cheapest"))
		assert.Equal(t, float64(2), out[0].GetFloat("dearest"))
	})
	t.Run("sort skip limit project", func(t *testing.T) {
		out, err := runPipeline(docs, stages(t,
			map[string]any{"$sort": map[string]any{"amount": -1}},
			map[string]any{"$skip": 1},
			map[string]any{"$limit": 2},
			map[string]any{"$project": map[string]any{"category": 1, "_id": 0}},
		))
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, "food", out[0].GetString("category"))
		assert.False(t, out[0].Exists("_id"))
		assert.False(t, out[0].Exists("amount"))
	})
	t.Run("count", func(t *testing.T) {
		out, err := runPipeline(docs, stages(t,
			map[string]any{"$match": map[string]any{"category": "food"}},
			map[string]any{"$count": "n"},
		))
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, float64(3), out[0].GetFloat("n"))
	})
	t.Run("sum ignores non numeric values", func(t *testing.T) {
		mixed := Documents{
			mustDoc(t, map[string]any{"v": 1}),
			mustDoc(t, map[string]any{"v": "nope"}),
			mustDoc(t, map[string]any{"v": 2}),
		}
		out, err := runPipeline(mixed, stages(t,
			map[string]any{"$group": map[string]any{
				"_id": nil,
				"sum": map[string]any{"$sum": "$v"},
			}},
		))
		require.NoError(t, err)
		assert.Equal(t, float64(3), out[0].GetFloat("sum"))
	})
	t.Run("unknown stage", func(t *testing.T) {
		_, err := runPipeline(docs, stages(t,
			map[string]any{"$lookup": map[string]any{}},
		))
		assert.True(t, errors.IsUnsupportedOperator(err))
	})
	t.Run("stage with two operators fails", func(t *testing.T) {
		_, err := runPipeline(docs, stages(t,
			map[string]any{"$match": map[string]any{}, "$limit": 1},
		))
		assert.True(t, errors.IsValidation(err))
	})
	t.Run("empty pipeline passes documents through", func(t *testing.T) {
		out, err := runPipeline(docs, nil)
		require.NoError(t, err)
		assert.Len(t, out, 5)
	})
}
