package chat

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"WSChat/config"
	"WSChat/logger"
	"WSChat/tools/safe"
)

// OnMessageSentListener 带外消费者（机器人/webhook）。
// 每条进入路由的消息都会拿到一份拷贝，与收件人是否在线无关。
// 在路由线程上同步调用，不允许阻塞。
type OnMessageSentListener func(payload Payload)

// OnServerStopListener 停机回调
type OnServerStopListener func()

// OnConnectionListener 连接登记/注销通知（在线状态镜像用）
type OnConnectionListener func(uid UserID, cid ConnID, connected bool)

// Server 聊天核心：连接注册表 + 路由引擎 + 分片重组 + 看门狗驱动。
// 所有传输层回调（OnOpen/OnMessage/OnClose/写完成）都可能并发到达，
// 各共享结构自带锁；路由路径不持锁跨越网络写。
type Server struct {
	settings       config.Settings
	maxMessageSize int64

	auth        Authenticator
	storage     *ConnectionStorage
	reassembler *FrameReassembler
	undelivered *UndeliveredQueue
	stats       *Stats
	watchdog    *Watchdog

	enableDeliveryStatus bool
	enableUndelivered    bool
	enableSendBack       bool
	ignoreSendBackTypes  map[string]struct{}

	listenerMu    sync.RWMutex
	msgListeners  []OnMessageSentListener
	stopListeners []OnServerStopListener
	connListeners []OnConnectionListener

	clock    func() time.Time
	stopOnce sync.Once
}

// NewServer 由启动期的 Settings 构造；构造后配置不再变化。
func NewServer(settings config.Settings, auth Authenticator) (*Server, error) {
	maxSize, err := config.ParseByteSize(settings.Chat.Message.MaxSize)
	if err != nil {
		return nil, err
	}
	if auth == nil {
		auth = noauthAuth{}
	}

	ignore := make(map[string]struct{}, len(settings.Chat.Message.IgnoreTypesSendBack))
	for _, t := range settings.Chat.Message.IgnoreTypesSendBack {
		ignore[strings.ToLower(t)] = struct{}{}
	}

	s := &Server{
		settings:             settings,
		maxMessageSize:       maxSize,
		auth:                 auth,
		storage:              NewConnectionStorage(),
		reassembler:          NewFrameReassembler(maxSize),
		undelivered:          NewUndeliveredQueue(settings.Chat.UndeliveredQueueSize),
		stats:                NewStats(time.Now),
		enableDeliveryStatus: settings.Chat.Message.EnableDeliveryStatus,
		enableUndelivered:    settings.Chat.EnableUndeliveredQueue,
		enableSendBack:       settings.Chat.Message.EnableSendBack,
		ignoreSendBackTypes:  ignore,
		clock:                time.Now,
	}

	if settings.Server.Watchdog.Enabled {
		lifetime := time.Duration(settings.Server.Watchdog.ConnectionLifetimeSeconds) * time.Second
		s.watchdog = NewWatchdog(s.storage, s.stats, lifetime)
	}
	return s, nil
}

func (s *Server) Storage() *ConnectionStorage { return s.storage }
func (s *Server) Stats() *Stats               { return s.stats }
func (s *Server) Undelivered() *UndeliveredQueue {
	return s.undelivered
}
func (s *Server) MaxMessageSize() int64 { return s.maxMessageSize }

// IsOnline 用户是否持有至少一条在线连接
func (s *Server) IsOnline(uid UserID) bool { return s.storage.Size(uid) > 0 }

// ===== 监听器 =====

func (s *Server) AddMessageListener(cb OnMessageSentListener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.msgListeners = append(s.msgListeners, cb)
}

func (s *Server) AddStopListener(cb OnServerStopListener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.stopListeners = append(s.stopListeners, cb)
}

func (s *Server) AddConnectionListener(cb OnConnectionListener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.connListeners = append(s.connListeners, cb)
}

// callOnMessageListeners 按注册顺序同步调用；单个监听器 panic
// 不中断链条。监听器调用 happens-before 本条消息的传输层写提交。
func (s *Server) callOnMessageListeners(p *Payload) {
	s.listenerMu.RLock()
	listeners := append([]OnMessageSentListener(nil), s.msgListeners...)
	s.listenerMu.RUnlock()

	for _, cb := range listeners {
		cb := cb
		safe.Call("message listener", func() { cb(*p.Clone()) })
	}
}

func (s *Server) notifyConnection(uid UserID, cid ConnID, connected bool) {
	s.listenerMu.RLock()
	listeners := append([]OnConnectionListener(nil), s.connListeners...)
	s.listenerMu.RUnlock()

	for _, cb := range listeners {
		cb := cb
		safe.Call("connection listener", func() { cb(uid, cid, connected) })
	}
}

// ===== 连接生命周期 =====

// OnOpen 握手完成后调用。认证、校验 id 参数、登记、补投。
// 返回 false 表示连接已被关闭，调用方不应进入读循环。
func (s *Server) OnOpen(conn Conn, req *Request) bool {
	if !s.auth.Validate(req) {
		conn.SendClose(StatusUnauthorized, "Unauthorized")
		return false
	}

	if len(req.Params) == 0 {
		logger.Warnf("[Chat::Connect] invalid request from %s", conn.RemoteAddr())
		conn.SendClose(StatusInvalidQueryParams, "Invalid request")
		return false
	}
	if !req.HasParam("id") {
		logger.Warnf("[Chat::Connect] id required in query parameter")
		conn.SendClose(StatusInvalidQueryParams, "Id required in query parameter: ?id={id}")
		return false
	}

	rawID := req.Param("id")
	id, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil || id == 0 {
		reason := fmt.Sprintf("Passed invalid id: id=%s", rawID)
		logger.Warnf("[Chat::Connect] %s", reason)
		conn.SendClose(StatusInvalidQueryParams, reason)
		return false
	}
	uid := UserID(id)

	if s.settings.Server.AllowOverrideConnection {
		// 单端模式：新连接顶掉该用户既有连接
		if old, err := s.storage.Get(uid); err == nil {
			for _, c := range old {
				s.storage.Remove(c)
				c.SendClose(StatusInactiveConnection, "Replaced by a new connection")
			}
		}
	}

	conn.BindUser(uid)
	s.storage.Add(uid, conn)
	s.stats.Get(uid).AddConnection()
	s.notifyConnection(uid, conn.UniqueID(), true)

	logger.Debugf("[Chat::Connect] user %d connected (%s) conn=%d", uid, conn.RemoteAddr(), conn.UniqueID())

	// 先登记再补投：补投失败的消息会重新入队，自愈
	if n := s.RedeliverMessagesTo(uid); n > 0 {
		logger.Debugf("[Chat::Undelivered] redelivered %d message(s) to user %d", n, uid)
	}
	return true
}

// OnClose 读循环退出或对端关闭。看门狗先移除过的连接直接返回。
func (s *Server) OnClose(conn Conn, status int, reason string) {
	if !s.storage.Exists(conn.UniqueID()) {
		return
	}

	uid := conn.UserID()
	logger.Debugf("[Chat::Disconnect] user %d (conn=%d) disconnected: %s[%d]", uid, conn.UniqueID(), reason, status)

	s.stats.Get(uid).AddDisconnection()
	s.storage.Remove(conn)
	if s.storage.Size(uid) == 0 {
		// 最后一条连接下线才清重组缓冲，半成品靠下一个 BEGIN 重置
		s.reassembler.Drop(uid)
	}
	s.notifyConnection(uid, conn.UniqueID(), false)
}

// OnError 只记录，不改变注册表
func (s *Server) OnError(conn Conn, err error) {
	logger.Warnf("[Chat::Error] conn=%d user=%d: %v", conn.UniqueID(), conn.UserID(), err)
}

// OnPong 收到 PONG：移出等待集合并刷新活跃时间
func (s *Server) OnPong(conn Conn) {
	s.storage.MarkPongReceived(conn)
	s.stats.Get(conn.UserID()).Touch()
}

// ===== 入站消息 =====

// OnMessage 传输层的帧回调。分片帧先经重组器；完整消息解析、
// 校验、可选回显后进入路由。
func (s *Server) OnMessage(conn Conn, op Opcode, data []byte) {
	sender := conn.UserID()

	var (
		raw    []byte
		binary bool
	)
	switch op {
	case OpPong:
		s.OnPong(conn)
		return
	case OpPing, OpClose:
		return
	case OpText:
		raw = data
	case OpBinary:
		raw = data
		binary = true
	case OpFragmentBeginText:
		logger.Debugf("[Chat::Message] fragmented frame begin user=%d", sender)
		s.reassembler.Begin(sender, data, false)
		return
	case OpFragmentBeginBinary:
		logger.Debugf("[Chat::Message] fragmented frame begin (binary) user=%d", sender)
		s.reassembler.Begin(sender, data, true)
		return
	case OpFragmentContinue:
		s.reassembler.Continue(sender, data)
		return
	case OpFragmentEnd:
		logger.Debugf("[Chat::Message] fragmented frame end user=%d", sender)
		buf, isBinary, err := s.reassembler.End(sender, data)
		if err != nil {
			conn.SendClose(StatusMessageTooBig, s.reassembler.MaxMessageSizeReason())
			return
		}
		raw = buf
		binary = isBinary
	default:
		return
	}

	payload := ParsePayload(raw, binary)
	if !payload.IsValid() {
		conn.SendClose(StatusInvalidMessagePayload, "Invalid payload. "+payload.Error())
		return
	}

	if s.enableSendBack && !payload.IsForBot() {
		if _, ignored := s.ignoreSendBackTypes[strings.ToLower(payload.Type)]; !ignored {
			s.SendTo(payload.Sender, payload)
		}
	}

	s.Send(payload)
}

// ===== 路由 =====

// Send 监听器扇出先行；机器人消息到此为止，
// 其余按收件人逐一投递，0 号收件人跳过。
func (s *Server) Send(payload *Payload) {
	s.callOnMessageListeners(payload)

	if payload.IsForBot() {
		logger.Debugf("[Chat::Send] bot message, listeners only")
		return
	}

	for _, uid := range payload.Recipients {
		if uid == 0 {
			continue
		}
		s.SendTo(uid, payload)
	}
}

// SendTo 向单个收件人的全部连接异步写出。
// 写完成回调里处理坏管道摘除与未投递入队；
// Send/SendTo 对调用方从不失败。
func (s *Server) SendTo(recipient UserID, payload *Payload) {
	data := payload.ToJSON()
	size := len(data)

	conns, err := s.storage.Get(recipient)
	if err != nil {
		// 无在线连接（或与关闭竞态）：入队 + 反馈一次未送达
		s.handleUndeliverable(recipient, payload)
		s.onMessageSent(payload.WithRecipient(recipient), size, false)
		return
	}

	captured := payload.Clone()
	for _, conn := range conns {
		conn := conn
		logger.Debugf("[Chat::Send] sending to recipient %d conn=%d", recipient, conn.UniqueID())

		// TEXT 固定写死：payload.IsBinary() 标记保留，出站暂不用 BINARY
		conn.Send(data, OpText, func(n int, werr error) {
			if werr != nil {
				logger.Debugf("[Chat::Send] unable to send to %d: %v", recipient, werr)
				if isBrokenPipe(werr) {
					logger.Debugf("[Chat::Send] disconnecting broken connection %d (conn=%d)", recipient, conn.UniqueID())
					s.storage.RemoveKey(recipient, conn.UniqueID())
				}
				s.handleUndeliverable(recipient, captured)
				return
			}
			s.onMessageSent(captured.WithRecipient(recipient), n, true)
		})
	}
}

// onMessageSent 送达反馈：统计 + 可选回执。
// send-status 自身短路，杜绝回执递归。
func (s *Server) onMessageSent(payload *Payload, bytes int, hasSent bool) {
	if payload.IsTypeOfSentStatus() {
		return
	}

	s.stats.Get(payload.Sender).AddSendMessage().AddBytesTransferred(bytes)

	for _, uid := range payload.Recipients {
		if hasSent {
			s.stats.Get(uid).AddReceivedMessage().AddBytesTransferred(bytes)
		}
	}

	if s.enableDeliveryStatus && hasSent {
		s.Send(CreateSendStatus(payload))
	}
}

// handleUndeliverable 未投递处理：队列关掉就静默丢弃
func (s *Server) handleUndeliverable(uid UserID, payload *Payload) {
	if !s.enableUndelivered {
		logger.Debugf("[Chat::Send] user %d unavailable, skipping message", uid)
		return
	}
	s.undelivered.Enqueue(uid, payload.WithRecipient(uid))
	logger.Debugf("[Chat::Send] user %d unavailable, message queued", uid)
}

// RedeliverMessagesTo 把收件人积压的消息按入队顺序重新路由，
// 返回补投数量。仍然失败的会再次入队。
func (s *Server) RedeliverMessagesTo(uid UserID) int {
	if !s.enableUndelivered {
		return 0
	}
	queued := s.undelivered.PopAll(uid)
	for _, p := range queued {
		s.Send(p)
	}
	return len(queued)
}

// ===== 生命周期 =====

// StartWatchdog 启动活性看门狗（配置开启时）
func (s *Server) StartWatchdog() {
	if s.watchdog == nil {
		return
	}
	logger.Infof("[Watchdog] started with interval in 1 minute and lifetime=%ds",
		s.settings.Server.Watchdog.ConnectionLifetimeSeconds)
	s.watchdog.Run()
}

// Watchdog 暴露给测试
func (s *Server) Watchdog() *Watchdog { return s.watchdog }

// Stop 停机：打断看门狗、通知停机监听器、关闭全部连接。
// 幂等。
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		if s.watchdog != nil {
			s.watchdog.Stop()
		}

		s.listenerMu.RLock()
		listeners := append([]OnServerStopListener(nil), s.stopListeners...)
		s.listenerMu.RUnlock()
		for _, cb := range listeners {
			cb := cb
			safe.Call("stop listener", func() { cb() })
		}

		s.storage.CloseAll(StatusInactiveConnection, "Server shutting down")
		logger.Infof("[Chat] server stopped")
	})
}
