package ids

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tickClock 每次读取前进 1ms
type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func TestGeneratorMonotonicAndUnique(t *testing.T) {
	clock := &tickClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	g := NewGenerator(7, clock.Now)

	seen := make(map[uint64]struct{})
	var prev uint64
	for i := 0; i < 1000; i++ {
		id := g.Next()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %d", id)
		seen[id] = struct{}{}
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestGeneratorNodeBits(t *testing.T) {
	clock := &tickClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	g := NewGenerator(42, clock.Now)
	id := g.Next()
	assert.Equal(t, uint64(42), id>>nodeShift&nodeMask)
}

func TestGeneratorSequenceWithinSameMillis(t *testing.T) {
	// 固定时钟：同一毫秒内只靠序列区分
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g := NewGenerator(1, func() time.Time { return fixed })

	a := g.Next()
	b := g.Next()
	assert.Equal(t, a+1, b)
}

func TestGeneratorInvalidNodeNormalized(t *testing.T) {
	g := NewGenerator(4096, nil)
	assert.Equal(t, uint64(1), g.node)
	g = NewGenerator(-5, nil)
	assert.Equal(t, uint64(1), g.node)
}

func TestDefaultGenerator(t *testing.T) {
	SetNodeID(3)
	a := Generate()
	b := Generate()
	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, GenerateString())
	assert.Equal(t, uint64(3), a>>nodeShift&nodeMask)
}
