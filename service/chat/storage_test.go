package chat

import (
	"testing"

	errs "WSChat/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bindFake(uid UserID) *fakeConn {
	c := newFakeConn()
	c.BindUser(uid)
	return c
}

func TestStorageAddRemoveSize(t *testing.T) {
	st := NewConnectionStorage()
	c1 := bindFake(1)
	c2 := bindFake(1)
	c3 := bindFake(2)

	st.Add(1, c1)
	st.Add(1, c2)
	st.Add(2, c3)

	assert.Equal(t, 2, st.Size(1))
	assert.Equal(t, 1, st.Size(2))
	assert.True(t, st.Exists(c1.UniqueID()))

	// 重复登记幂等
	st.Add(1, c1)
	assert.Equal(t, 2, st.Size(1))

	st.Remove(c1)
	assert.Equal(t, 1, st.Size(1))
	assert.False(t, st.Exists(c1.UniqueID()))

	st.RemoveKey(2, c3.UniqueID())
	assert.Equal(t, 0, st.Size(2))
}

func TestStorageGetNotFound(t *testing.T) {
	st := NewConnectionStorage()
	_, err := st.Get(99)
	require.Error(t, err)
	assert.True(t, errs.ErrConnectionNotFound.Is(err))
}

func TestStorageGetSnapshotSafeDuringRemove(t *testing.T) {
	st := NewConnectionStorage()
	c1 := bindFake(1)
	c2 := bindFake(1)
	st.Add(1, c1)
	st.Add(1, c2)

	conns, err := st.Get(1)
	require.NoError(t, err)
	for _, c := range conns {
		st.Remove(c) // 迭代期间移除不会失效
	}
	assert.Equal(t, 0, st.Size(1))
}

// pongWait ⊆ 在线连接：未登记的连接标不上，移除连带清掉
func TestStoragePongWaitSubsetInvariant(t *testing.T) {
	st := NewConnectionStorage()
	registered := bindFake(1)
	stranger := bindFake(2)
	st.Add(1, registered)

	st.MarkPongWait(stranger)
	assert.Equal(t, 0, st.DisconnectWithoutPong())

	st.MarkPongWait(registered)
	st.Remove(registered)
	assert.Equal(t, 0, st.DisconnectWithoutPong())
}

func TestStorageMarkPongReceived(t *testing.T) {
	st := NewConnectionStorage()
	c := bindFake(1)
	st.Add(1, c)

	assert.False(t, st.MarkPongReceived(c)) // 没在等待
	st.MarkPongWait(c)
	assert.True(t, st.MarkPongReceived(c))
	assert.Equal(t, 0, st.DisconnectWithoutPong())
	assert.True(t, st.Exists(c.UniqueID()))
}

func TestStorageDisconnectWithoutPong(t *testing.T) {
	st := NewConnectionStorage()
	quiet := bindFake(1)
	noisy := bindFake(1)
	st.Add(1, quiet)
	st.Add(1, noisy)

	st.MarkPongWait(quiet)
	st.MarkPongWait(noisy)
	st.MarkPongReceived(noisy)

	assert.Equal(t, 1, st.DisconnectWithoutPong())
	closed, code, _ := quiet.isClosed()
	assert.True(t, closed)
	assert.Equal(t, StatusInactiveConnection, code)
	assert.False(t, st.Exists(quiet.UniqueID()))
	assert.True(t, st.Exists(noisy.UniqueID()))

	// 集合已清空，二次调用为零
	assert.Equal(t, 0, st.DisconnectWithoutPong())
}

func TestStorageForEachSnapshot(t *testing.T) {
	st := NewConnectionStorage()
	st.Add(1, bindFake(1))
	st.Add(2, bindFake(2))

	visited := map[UserID]int{}
	st.ForEach(func(uid UserID, conns map[ConnID]Conn) {
		visited[uid] = len(conns)
		for cid := range conns {
			st.RemoveKey(uid, cid) // 回调里移除是安全的
		}
	})
	assert.Equal(t, map[UserID]int{1: 1, 2: 1}, visited)
	assert.Equal(t, 0, st.Size(1))
	assert.Equal(t, 0, st.Size(2))
}

func TestStorageCloseAll(t *testing.T) {
	st := NewConnectionStorage()
	c1 := bindFake(1)
	c2 := bindFake(2)
	st.Add(1, c1)
	st.Add(2, c2)

	st.CloseAll(StatusInactiveConnection, "shutdown")
	assert.Equal(t, 0, st.Size(1))
	closed, _, reason := c2.isClosed()
	assert.True(t, closed)
	assert.Equal(t, "shutdown", reason)
}
