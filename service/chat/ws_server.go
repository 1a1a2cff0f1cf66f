package chat

import (
	"errors"
	"io"
	"net"
	"net/http"

	"WSChat/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// readChunkSize 读循环的分块大小。超过一块的消息以
// FRAGMENT_BEGIN/CONTINUE/END 进入核心，由重组器拼接并
// 执行 maxMessageSize 策略。
const readChunkSize = 32 * 1024

// readLimitSlack 传输层读上限的富余量：应用层先以
// MESSAGE_TOO_BIG 关闭，超出富余量才由 gorilla 兜底。
const readLimitSlack = 64 * 1024

// Endpoint 把 gin/gorilla 的握手与帧流接到核心回调上
type Endpoint struct {
	s *Server
}

func NewEndpoint(s *Server) *Endpoint {
	return &Endpoint{s: s}
}

// Handle WebSocket 升级入口
func (e *Endpoint) Handle(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败
		logger.Infof("[WS] upgrade websocket error: %v", err)
		return
	}

	conn := newWSConn(ws)
	req := NewRequest(c.Request)

	if !e.s.OnOpen(conn, req) {
		// 关闭帧已由 OnOpen 发出
		return
	}

	ws.SetReadLimit(e.s.MaxMessageSize() + readLimitSlack)
	ws.SetPongHandler(func(string) error {
		e.s.OnPong(conn)
		return nil
	})

	status, reason := e.readLoop(ws, conn)
	conn.shutdown()
	e.s.OnClose(conn, status, reason)
}

// readLoop 只读不写；出错即退出，写泵由 conn 自己收尾。
// 返回观测到的关闭码与原因。
func (e *Endpoint) readLoop(ws *websocket.Conn, conn *wsConn) (int, string) {
	for {
		mt, r, err := ws.NextReader()
		if err != nil {
			var closeErr *websocket.CloseError
			switch {
			case errors.As(err, &closeErr):
				logger.Debugf("[WS] peer closed conn=%d code=%d", conn.UniqueID(), closeErr.Code)
				return closeErr.Code, closeErr.Text
			case isTimeout(err):
				logger.Infof("[WS] read timeout conn=%d err=%v", conn.UniqueID(), err)
			default:
				logger.Debugf("[WS] read err conn=%d err=%v", conn.UniqueID(), err)
			}
			return websocket.CloseAbnormalClosure, err.Error()
		}

		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if err := e.deliverFrames(conn, mt, r); err != nil {
			logger.Debugf("[WS] read body err conn=%d err=%v", conn.UniqueID(), err)
			return websocket.CloseAbnormalClosure, err.Error()
		}
	}
}

// deliverFrames 把一条 WebSocket 消息切成核心帧。
// 单块放得下就是一个 TEXT/BINARY 帧，否则按分片序列投递。
func (e *Endpoint) deliverFrames(conn *wsConn, mt int, r io.Reader) error {
	single, begin := OpText, OpFragmentBeginText
	if mt == websocket.BinaryMessage {
		single, begin = OpBinary, OpFragmentBeginBinary
	}

	buf := make([]byte, readChunkSize)
	n, err := io.ReadFull(r, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		e.s.OnMessage(conn, single, append([]byte(nil), buf[:n]...))
		return nil
	}
	if err != nil {
		return err
	}

	e.s.OnMessage(conn, begin, append([]byte(nil), buf[:n]...))
	for {
		n, err = io.ReadFull(r, buf)
		switch err {
		case nil:
			e.s.OnMessage(conn, OpFragmentContinue, append([]byte(nil), buf[:n]...))
		case io.EOF, io.ErrUnexpectedEOF:
			e.s.OnMessage(conn, OpFragmentEnd, append([]byte(nil), buf[:n]...))
			return nil
		default:
			return err
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
