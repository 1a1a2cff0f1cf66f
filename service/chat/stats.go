package chat

import (
	"sync"
	"time"
)

// Statistics 单个用户的计数器。锁在用户粒度上。
type Statistics struct {
	mu sync.Mutex

	userID           UserID
	connections      uint64
	disconnections   uint64
	sentMessages     uint64
	receivedMessages uint64
	bytesTransferred uint64
	lastActive       time.Time

	clock func() time.Time
}

func newStatistics(uid UserID, clock func() time.Time) *Statistics {
	return &Statistics{
		userID:     uid,
		lastActive: clock(),
		clock:      clock,
	}
}

func (s *Statistics) AddConnection() *Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections++
	s.lastActive = s.clock()
	return s
}

func (s *Statistics) AddDisconnection() *Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnections++
	s.lastActive = s.clock()
	return s
}

func (s *Statistics) AddSendMessage() *Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentMessages++
	s.lastActive = s.clock()
	return s
}

func (s *Statistics) AddReceivedMessage() *Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receivedMessages++
	s.lastActive = s.clock()
	return s
}

func (s *Statistics) AddBytesTransferred(n int) *Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytesTransferred += uint64(n)
	return s
}

// Touch 刷新活跃时间（PONG 到达时）
func (s *Statistics) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = s.clock()
}

// InactiveTime 距最后一次活动的时长，看门狗据此判定超时
func (s *Statistics) InactiveTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock().Sub(s.lastActive)
}

// StatSnapshot REST 接口用的只读视图
type StatSnapshot struct {
	UserID           UserID `json:"userId"`
	Connections      uint64 `json:"connections"`
	Disconnections   uint64 `json:"disconnections"`
	SentMessages     uint64 `json:"sentMessages"`
	ReceivedMessages uint64 `json:"receivedMessages"`
	BytesTransferred uint64 `json:"bytesTransferred"`
	LastActive       string `json:"lastActive"`
	InactiveSeconds  int64  `json:"inactiveSeconds"`
}

func (s *Statistics) Snapshot() StatSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatSnapshot{
		UserID:           s.userID,
		Connections:      s.connections,
		Disconnections:   s.disconnections,
		SentMessages:     s.sentMessages,
		ReceivedMessages: s.receivedMessages,
		BytesTransferred: s.bytesTransferred,
		LastActive:       s.lastActive.UTC().Format(time.RFC3339),
		InactiveSeconds:  int64(s.clock().Sub(s.lastActive).Seconds()),
	}
}

// Stats 按需懒创建的用户统计表
type Stats struct {
	mu    sync.Mutex
	m     map[UserID]*Statistics
	clock func() time.Time
}

func NewStats(clock func() time.Time) *Stats {
	if clock == nil {
		clock = time.Now
	}
	return &Stats{
		m:     make(map[UserID]*Statistics),
		clock: clock,
	}
}

// Get 首次引用时创建
func (s *Stats) Get(uid UserID) *Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[uid]
	if !ok {
		st = newStatistics(uid, s.clock)
		s.m[uid] = st
	}
	return st
}

// Has 是否已有该用户的统计
func (s *Stats) Has(uid UserID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[uid]
	return ok
}

// Snapshot 全量导出
func (s *Stats) Snapshot() []StatSnapshot {
	s.mu.Lock()
	all := make([]*Statistics, 0, len(s.m))
	for _, st := range s.m {
		all = append(all, st)
	}
	s.mu.Unlock()

	out := make([]StatSnapshot, 0, len(all))
	for _, st := range all {
		out = append(out, st.Snapshot())
	}
	return out
}
