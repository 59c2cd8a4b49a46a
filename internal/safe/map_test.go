package safe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMap(t *testing.T) {
	m := NewMap[int]()
	m.Set("a", 1)
	m.Set("b", 2)
	v, ok := m.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.True(t, m.Exists("b"))
	assert.Equal(t, 2, m.Len())
	m.Del("a")
	assert.False(t, m.Exists("a"))
	count := 0
	m.Range(func(key string, v int) bool {
		count++
		return true
	})
	assert.Equal(t, 1, count)
}
