package chat

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"WSChat/logger"
	"WSChat/tools/ids"
	"WSChat/tools/safe"

	"github.com/gorilla/websocket"
)

// WriteCallback 异步写完成回调。err 为 nil 时 n 是写出的字节数。
type WriteCallback func(n int, err error)

// Conn 核心视角里的连接句柄。核心从不构造底层连接，
// 只持有传输层给出的句柄；关闭以 SendClose 表达意图，
// 真正的资源回收由传输层在读循环退出时完成。
type Conn interface {
	// UniqueID 传输层生成的进程内唯一连接标识
	UniqueID() ConnID
	// UserID 注册后绑定的用户；未绑定时为 0
	UserID() UserID
	// BindUser 连接通过校验后由 OnOpen 调用一次
	BindUser(uid UserID)
	RemoteAddr() string
	// Send 异步写，完成后回调 cb（可为 nil）。不会阻塞路由线程。
	Send(data []byte, op Opcode, cb WriteCallback)
	// SendClose 发送关闭帧并断开
	SendClose(code int, reason string)
}

var errSendQueueFull = errors.New("send queue full")

const (
	sendQueueSize = 256
	writeWait     = 5 * time.Second
)

type outFrame struct {
	data []byte
	op   Opcode
	cb   WriteCallback
}

// wsConn 基于 gorilla/websocket 的 Conn 实现。
// gorilla 的 WriteMessage 不能并发调用，所以每条连接
// 用单写协程 + 缓冲队列做写泵。
type wsConn struct {
	ws       *websocket.Conn
	uniqueID ConnID
	userID   atomic.Uint64
	remote   string

	sendQ     chan outFrame
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn) *wsConn {
	remote := ""
	if ra := ws.RemoteAddr(); ra != nil {
		remote = ra.String()
	}
	c := &wsConn{
		ws:       ws,
		uniqueID: ConnID(ids.Generate()),
		remote:   remote,
		sendQ:    make(chan outFrame, sendQueueSize),
		done:     make(chan struct{}),
	}
	safe.Go(c.writePump)
	return c
}

func (c *wsConn) UniqueID() ConnID { return c.uniqueID }

func (c *wsConn) UserID() UserID { return UserID(c.userID.Load()) }

func (c *wsConn) BindUser(uid UserID) { c.userID.Store(uint64(uid)) }

func (c *wsConn) RemoteAddr() string { return c.remote }

func (c *wsConn) Send(data []byte, op Opcode, cb WriteCallback) {
	select {
	case <-c.done:
		if cb != nil {
			cb(0, net.ErrClosed)
		}
		return
	default:
	}

	select {
	case c.sendQ <- outFrame{data: data, op: op, cb: cb}:
	default:
		// 队列满：按瞬时错误上报，连接保留
		logger.Warnf("[Conn] send queue full, drop frame conn=%d user=%d", c.uniqueID, c.UserID())
		if cb != nil {
			cb(0, errSendQueueFull)
		}
	}
}

func (c *wsConn) SendClose(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(writeWait)
		msg := websocket.FormatCloseMessage(code, reason)
		if err := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			logger.Debugf("[Conn] write close frame err conn=%d: %v", c.uniqueID, err)
		}
		_ = c.ws.Close()
	})
}

// shutdown 读循环退出后由传输层调用，不再发送关闭帧
func (c *wsConn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *wsConn) writePump() {
	for {
		select {
		case <-c.done:
			// 排空队列，挂起的回调都按连接关闭收尾
			for {
				select {
				case f := <-c.sendQ:
					if f.cb != nil {
						f.cb(0, net.ErrClosed)
					}
				default:
					return
				}
			}
		case f := <-c.sendQ:
			err := c.writeFrame(f)
			if f.cb != nil {
				if err != nil {
					f.cb(0, err)
				} else {
					f.cb(len(f.data), nil)
				}
			} else if err != nil {
				logger.Debugf("[Conn] write err conn=%d user=%d: %v", c.uniqueID, c.UserID(), err)
			}
		}
	}
}

func (c *wsConn) writeFrame(f outFrame) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	switch f.op {
	case OpPing:
		return c.ws.WriteControl(websocket.PingMessage, f.data, time.Now().Add(writeWait))
	case OpPong:
		return c.ws.WriteControl(websocket.PongMessage, f.data, time.Now().Add(writeWait))
	case OpBinary:
		return c.ws.WriteMessage(websocket.BinaryMessage, f.data)
	default:
		return c.ws.WriteMessage(websocket.TextMessage, f.data)
	}
}

// isBrokenPipe 判定写失败是否意味着连接已死。
// 死连接从注册表移除，瞬时错误只入未投递队列。
func isBrokenPipe(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr)
}
