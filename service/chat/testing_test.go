package chat

import (
	"net/url"
	"strconv"
	"sync"

	"WSChat/config"
)

// fakeConn 测试用的内存连接：写立即完成并回调，
// 可注入写错误模拟坏管道/瞬时错误。
type fakeConn struct {
	id  ConnID
	mu  sync.Mutex
	uid UserID

	frames   [][]byte
	ops      []Opcode
	writeErr error

	closed      bool
	closeCode   int
	closeReason string
}

var fakeConnSeq ConnID

func newFakeConn() *fakeConn {
	fakeConnSeq++
	return &fakeConn{id: fakeConnSeq}
}

func (c *fakeConn) UniqueID() ConnID { return c.id }

func (c *fakeConn) UserID() UserID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uid
}

func (c *fakeConn) BindUser(uid UserID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uid = uid
}

func (c *fakeConn) RemoteAddr() string { return "test:0" }

func (c *fakeConn) Send(data []byte, op Opcode, cb WriteCallback) {
	c.mu.Lock()
	err := c.writeErr
	if err == nil {
		c.frames = append(c.frames, append([]byte(nil), data...))
		c.ops = append(c.ops, op)
	}
	c.mu.Unlock()

	if cb != nil {
		if err != nil {
			cb(0, err)
		} else {
			cb(len(data), nil)
		}
	}
}

func (c *fakeConn) SendClose(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
}

func (c *fakeConn) setWriteErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *fakeConn) sentFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *fakeConn) sentOps() []Opcode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Opcode(nil), c.ops...)
}

func (c *fakeConn) isClosed() (bool, int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode, c.closeReason
}

// testSettings 聊天核心测试的基线配置
func testSettings() config.Settings {
	s := config.Default()
	s.Chat.Message.MaxSize = "10M"
	return s
}

func newTestServer(mutate func(*config.Settings)) *Server {
	settings := testSettings()
	if mutate != nil {
		mutate(&settings)
	}
	srv, err := NewServer(settings, nil)
	if err != nil {
		panic(err)
	}
	return srv
}

// connectUser 按正常握手路径登记一个用户连接
func connectUser(s *Server, uid UserID) *fakeConn {
	conn := newFakeConn()
	req := &Request{Params: url.Values{"id": []string{strconv.FormatUint(uint64(uid), 10)}}}
	if !s.OnOpen(conn, req) {
		panic("connect rejected")
	}
	return conn
}
