package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock 手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newWatchdogHarness(lifetime time.Duration) (*Watchdog, *ConnectionStorage, *Stats, *fakeClock) {
	clock := newFakeClock()
	storage := NewConnectionStorage()
	stats := NewStats(clock.Now)
	w := NewWatchdog(storage, stats, lifetime)
	return w, storage, stats, clock
}

// S6：不活跃超过 lifetime 的连接在下一轮巡检收到 INACTIVE_CONNECTION
func TestWatchdogClosesInactiveConnection(t *testing.T) {
	w, storage, stats, clock := newWatchdogHarness(60 * time.Second)

	conn := bindFake(10)
	storage.Add(10, conn)
	stats.Get(10) // 建立 lastActive 基线

	clock.Advance(61 * time.Second)
	w.SweepOnce()

	closed, code, reason := conn.isClosed()
	assert.True(t, closed)
	assert.Equal(t, StatusInactiveConnection, code)
	assert.Contains(t, reason, "Inactive more than 60 seconds")
	// 注册表不在这里收尾，等 OnClose
	assert.True(t, storage.Exists(conn.UniqueID()))
}

// 活跃连接收到 PING "." 并进入等待 PONG 集合
func TestWatchdogPingsActiveConnection(t *testing.T) {
	w, storage, stats, clock := newWatchdogHarness(60 * time.Second)

	conn := bindFake(10)
	storage.Add(10, conn)
	stats.Get(10)

	clock.Advance(10 * time.Second)
	w.SweepOnce()

	ops := conn.sentOps()
	require.Len(t, ops, 1)
	assert.Equal(t, OpPing, ops[0])
	assert.Equal(t, ".", string(conn.sentFrames()[0]))

	// 没回 PONG：宽限后被断开
	assert.Equal(t, 1, storage.DisconnectWithoutPong())
	assert.False(t, storage.Exists(conn.UniqueID()))
}

// 及时回 PONG 的连接在两阶段巡检后保留
func TestWatchdogRetainsResponsiveConnection(t *testing.T) {
	w, storage, stats, clock := newWatchdogHarness(60 * time.Second)

	conn := bindFake(10)
	storage.Add(10, conn)
	stats.Get(10)

	clock.Advance(10 * time.Second)
	w.SweepOnce()

	// 模拟 PONG 到达
	storage.MarkPongReceived(conn)
	stats.Get(10).Touch()

	assert.Equal(t, 0, storage.DisconnectWithoutPong())
	assert.True(t, storage.Exists(conn.UniqueID()))
}

// PING 写失败的连接被直接移除
func TestWatchdogRemovesConnOnPingError(t *testing.T) {
	w, storage, stats, clock := newWatchdogHarness(60 * time.Second)

	conn := bindFake(10)
	conn.setWriteErr(assert.AnError)
	storage.Add(10, conn)
	stats.Get(10)

	clock.Advance(10 * time.Second)
	w.SweepOnce()

	assert.False(t, storage.Exists(conn.UniqueID()))
	assert.Equal(t, 0, storage.DisconnectWithoutPong())
}

// Stop 打断睡眠，循环干净退出
func TestWatchdogStopInterruptsLoop(t *testing.T) {
	w, _, _, _ := newWatchdogHarness(60 * time.Second)

	w.Run()
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not stop")
	}
}
