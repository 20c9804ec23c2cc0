package loopcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/industrial-twin/opcua-aas-bridge/internal/model"
)

func ref(path string) model.ElementRef {
	return model.ElementRef{SubmodelID: "sm1", IDShortPath: path}
}

func TestCache_InsertThenContains(t *testing.T) {
	c := New(10, time.Minute)
	hash := []byte{1, 2, 3}

	assert.False(t, c.Contains(ref("a.b"), hash))
	c.Insert(ref("a.b"), hash)
	assert.True(t, c.Contains(ref("a.b"), hash))
}

func TestCache_DifferentHashMisses(t *testing.T) {
	c := New(10, time.Minute)
	c.Insert(ref("a.b"), []byte{1})
	assert.False(t, c.Contains(ref("a.b"), []byte{2}))
}

func TestCache_DifferentElementMisses(t *testing.T) {
	c := New(10, time.Minute)
	c.Insert(ref("a.b"), []byte{1})
	assert.False(t, c.Contains(ref("a.c"), []byte{1}))
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New(10, 20*time.Millisecond)
	c.Insert(ref("a.b"), []byte{1})
	require.True(t, c.Contains(ref("a.b"), []byte{1}))

	time.Sleep(50 * time.Millisecond)
	assert.False(t, c.Contains(ref("a.b"), []byte{1}))
}

func TestCache_BoundedSize(t *testing.T) {
	c := New(4, time.Minute)
	for i := 0; i < 10; i++ {
		c.Insert(ref(string(rune('a'+i))), []byte{byte(i)})
	}
	assert.LessOrEqual(t, c.Len(), 4)
}

func TestCache_DefaultsAppliedOnZero(t *testing.T) {
	c := New(0, 0)
	assert.NotNil(t, c.lru)
	assert.Equal(t, DefaultTTL, c.ttl)
}
