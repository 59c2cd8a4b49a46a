package mongomock

import (
	"fmt"
	"testing"

	"github.com/dot-do/mongomock/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestStore(t *testing.T) {
	t.Run("insert and duplicate key", func(t *testing.T) {
		s := NewStore()
		doc := mustDoc(t, map[string]any{"_id": "a", "v": 1})
		require.NoError(t, s.Insert("db", "coll", doc))
		err := s.Insert("db", "coll", mustDoc(t, map[string]any{"_id": "a"}))
		assert.True(t, errors.IsDuplicateKey(err))
		assert.Contains(t, err.Error(), "E11000")
	})
	t.Run("string and number ids do not collide", func(t *testing.T) {
		s := NewStore()
		require.NoError(t, s.Insert("db", "coll", mustDoc(t, map[string]any{"_id": 1})))
		require.NoError(t, s.Insert("db", "coll", mustDoc(t, map[string]any{"_id": "1"})))
		assert.Equal(t, 2, s.Count("db", "coll"))
	})
	t.Run("insertion order survives deletes", func(t *testing.T) {
		s := NewStore()
		for i := 0; i < 5; i++ {
			require.NoError(t, s.Insert("db", "coll", mustDoc(t, map[string]any{"_id": i})))
		}
		removed := s.DeleteWhere("db", "coll", func(d *Document) bool {
			return d.GetFloat("_id") == 2
		})
		assert.Equal(t, 1, removed)
		docs := s.Scan("db", "coll")
		require.Len(t, docs, 4)
		assert.Equal(t, float64(3), docs[2].GetFloat("_id"))
		got, ok := s.GetByID("db", "coll", "4")
		require.True(t, ok)
		assert.Equal(t, float64(4), got.GetFloat("_id"))
	})
	t.Run("rename", func(t *testing.T) {
		s := NewStore()
		require.NoError(t, s.Insert("db", "from", mustDoc(t, map[string]any{"_id": 1})))
		committed := false
		require.NoError(t, s.RenameCollection("db", "from", "to", func() { committed = true }))
		assert.True(t, committed)
		assert.Equal(t, 1, s.Count("db", "to"))
		assert.Equal(t, 0, s.Count("db", "from"))

		committed = false
		err := s.RenameCollection("db", "missing", "other", func() { committed = true })
		assert.True(t, errors.IsValidation(err))
		assert.False(t, committed)

		require.NoError(t, s.Insert("db", "from", mustDoc(t, map[string]any{"_id": 1})))
		err = s.RenameCollection("db", "from", "to", nil)
		assert.True(t, errors.IsDuplicateKey(err))
	})
	t.Run("drops and listings", func(t *testing.T) {
		s := NewStore()
		require.NoError(t, s.Insert("db1", "b", mustDoc(t, map[string]any{"_id": 1})))
		require.NoError(t, s.Insert("db1", "a", mustDoc(t, map[string]any{"_id": 1})))
		require.NoError(t, s.Insert("db2", "c", mustDoc(t, map[string]any{"_id": 1})))
		assert.Equal(t, []string{"a", "b"}, s.ListCollectionNames("db1"))
		assert.Equal(t, []string{"db1", "db2"}, s.ListDatabaseNames())

		committed := 0
		assert.True(t, s.DropCollection("db1", "a", func() { committed++ }))
		assert.False(t, s.DropCollection("db1", "a", func() { committed++ }))
		assert.Equal(t, 1, committed)
		assert.Equal(t, []string{"b"}, s.ListCollectionNames("db1"))

		assert.True(t, s.DropDatabase("db2", nil))
		assert.False(t, s.DropDatabase("db2", nil))
		assert.Equal(t, []string{"db1"}, s.ListDatabaseNames())
	})
	t.Run("concurrent writers never collide", func(t *testing.T) {
		s := NewStore()
		egp := errgroup.Group{}
		for i := 0; i < 8; i++ {
			i := i
			egp.Go(func() error {
				for j := 0; j < 50; j++ {
					doc := mustDoc(t, map[string]any{"_id": fmt.Sprintf("%d-%d", i, j)})
					if err := s.Insert("db", "coll", doc); err != nil {
						return err
					}
				}
				return nil
			})
		}
		require.NoError(t, egp.Wait())
		assert.Equal(t, 400, s.Count("db", "coll"))
	})
	t.Run("write critical section is atomic", func(t *testing.T) {
		s := NewStore()
		require.NoError(t, s.Insert("db", "coll", mustDoc(t, map[string]any{"_id": "ctr", "n": 0})))
		egp := errgroup.Group{}
		for i := 0; i < 8; i++ {
			egp.Go(func() error {
				for j := 0; j < 25; j++ {
					err := s.Write("db", "coll", func(c *Collection) error {
						doc, _ := c.get(`"ctr"`)
						post := doc.Clone()
						if err := post.Set("n", doc.GetFloat("n")+1); err != nil {
							return err
						}
						c.replace(`"ctr"`, post)
						return nil
					})
					if err != nil {
						return err
					}
				}
				return nil
			})
		}
		require.NoError(t, egp.Wait())
		doc, ok := s.GetByID("db", "coll", `"ctr"`)
		require.True(t, ok)
		assert.Equal(t, float64(200), doc.GetFloat("n"))
	})
}
