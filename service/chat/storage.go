package chat

import (
	"sync"

	"WSChat/logger"
	errs "WSChat/tools/errs"
)

// ConnectionStorage 线程安全的 user -> (connId -> Conn) 多重索引。
// 一个用户可同时持有多条连接（多端）。pongWait 记录已发 PING
// 等待 PONG 的连接，必须是主索引的子集。
type ConnectionStorage struct {
	mu       sync.Mutex
	byUser   map[UserID]map[ConnID]Conn
	pongWait map[ConnID]Conn
}

func NewConnectionStorage() *ConnectionStorage {
	return &ConnectionStorage{
		byUser:   make(map[UserID]map[ConnID]Conn),
		pongWait: make(map[ConnID]Conn),
	}
}

// Add 登记连接。同一 connId 重复登记是幂等的。
func (s *ConnectionStorage) Add(uid UserID, conn Conn) {
	if conn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	mm := s.byUser[uid]
	if mm == nil {
		mm = make(map[ConnID]Conn)
		s.byUser[uid] = mm
	}
	mm[conn.UniqueID()] = conn
}

// Remove 按 (conn.UserID, conn.UniqueID) 移除
func (s *ConnectionStorage) Remove(conn Conn) {
	if conn == nil {
		return
	}
	s.RemoveKey(conn.UserID(), conn.UniqueID())
}

// RemoveKey 直接按键移除；同时维护 pongWait 子集不变式
func (s *ConnectionStorage) RemoveKey(uid UserID, cid ConnID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeKeyLocked(uid, cid)
}

func (s *ConnectionStorage) removeKeyLocked(uid UserID, cid ConnID) {
	if mm := s.byUser[uid]; mm != nil {
		delete(mm, cid)
		if len(mm) == 0 {
			delete(s.byUser, uid)
		}
	}
	delete(s.pongWait, cid)
}

// Get 返回用户全部连接的快照。没有任何条目时返回 ErrConnectionNotFound，
// 调用方可在迭代期间安全地 Remove。
func (s *ConnectionStorage) Get(uid UserID) ([]Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mm := s.byUser[uid]
	if len(mm) == 0 {
		return nil, errs.ErrConnectionNotFound.WrapMsg("get", "uid", uid)
	}
	out := make([]Conn, 0, len(mm))
	for _, c := range mm {
		out = append(out, c)
	}
	return out, nil
}

// Size 用户当前的在线连接数
func (s *ConnectionStorage) Size(uid UserID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byUser[uid])
}

// Exists 连接是否仍在注册表里
func (s *ConnectionStorage) Exists(cid ConnID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, mm := range s.byUser {
		if _, ok := mm[cid]; ok {
			return true
		}
	}
	return false
}

// MarkPongWait 把连接加入等待 PONG 集合。
// 不变式：只有仍在主索引里的连接才会被标记。
func (s *ConnectionStorage) MarkPongWait(conn Conn) {
	if conn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	mm := s.byUser[conn.UserID()]
	if mm == nil {
		return
	}
	if _, ok := mm[conn.UniqueID()]; !ok {
		return
	}
	s.pongWait[conn.UniqueID()] = conn
}

// MarkPongReceived 收到 PONG，移出等待集合。返回是否确实在等待。
func (s *ConnectionStorage) MarkPongReceived(conn Conn) bool {
	if conn == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pongWait[conn.UniqueID()]; !ok {
		return false
	}
	delete(s.pongWait, conn.UniqueID())
	return true
}

// DisconnectWithoutPong 关闭并移除所有仍在等待 PONG 的连接，
// 返回关闭数量，集合清空。
func (s *ConnectionStorage) DisconnectWithoutPong() int {
	s.mu.Lock()
	victims := make([]Conn, 0, len(s.pongWait))
	for cid, c := range s.pongWait {
		victims = append(victims, c)
		s.removeKeyLocked(c.UserID(), cid)
	}
	s.pongWait = make(map[ConnID]Conn)
	s.mu.Unlock()

	// 持锁期间不碰 socket
	for _, c := range victims {
		c.SendClose(StatusInactiveConnection, "No pong received")
	}
	return len(victims)
}

// ForEach 以快照迭代，回调里可以放心调用 Remove/RemoveKey。
func (s *ConnectionStorage) ForEach(f func(uid UserID, conns map[ConnID]Conn)) {
	s.mu.Lock()
	snapshot := make(map[UserID]map[ConnID]Conn, len(s.byUser))
	for uid, mm := range s.byUser {
		conns := make(map[ConnID]Conn, len(mm))
		for cid, c := range mm {
			conns[cid] = c
		}
		snapshot[uid] = conns
	}
	s.mu.Unlock()

	for uid, conns := range snapshot {
		f(uid, conns)
	}
}

// CloseAll 停机时关闭全部连接
func (s *ConnectionStorage) CloseAll(code int, reason string) {
	s.mu.Lock()
	victims := make([]Conn, 0)
	for _, mm := range s.byUser {
		for _, c := range mm {
			victims = append(victims, c)
		}
	}
	s.byUser = make(map[UserID]map[ConnID]Conn)
	s.pongWait = make(map[ConnID]Conn)
	s.mu.Unlock()

	for _, c := range victims {
		c.SendClose(code, reason)
	}
	if len(victims) > 0 {
		logger.Infof("[Storage] closed %d connection(s)", len(victims))
	}
}
