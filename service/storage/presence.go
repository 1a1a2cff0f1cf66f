package storage

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"WSChat/logger"
	"WSChat/service/chat"
	"WSChat/tools/safe"

	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ===== 配置 =====

type PresenceConfig struct {
	NodeID  string        // 节点ID（写入事件体；key 不含节点）
	Channel string        // Pub/Sub 频道名
	KeyTTL  time.Duration // 在线集合的保底过期，防泄漏
}

func (c *PresenceConfig) norm() {
	if c.Channel == "" {
		c.Channel = "online_changes"
	}
	if c.KeyTTL <= 0 {
		c.KeyTTL = 24 * time.Hour
	}
}

// presenceEvent 发布到频道的事件体
type presenceEvent struct {
	Event  string `json:"event"` // online / offline
	UserID uint64 `json:"userId"`
	ConnID uint64 `json:"connId"`
	Node   string `json:"node"`
	Ts     int64  `json:"ts"`
}

// PresenceManager 把本进程的连接登记镜像到 Redis：
// online:<uid> 集合存连接ID，变化同时发布到频道，
// 供外部系统订阅在线状态。尽力而为，失败只记日志。
type PresenceManager struct {
	rdb *redis.Client
	cfg PresenceConfig
}

func NewPresenceManager(rdb *redis.Client, cfg PresenceConfig) *PresenceManager {
	cfg.norm()
	return &PresenceManager{rdb: rdb, cfg: cfg}
}

func (m *PresenceManager) key(uid chat.UserID) string {
	return "online:" + strconv.FormatUint(uint64(uid), 10)
}

// Listener 挂到 ChatServer 的连接监听器上
func (m *PresenceManager) Listener() chat.OnConnectionListener {
	return func(uid chat.UserID, cid chat.ConnID, connected bool) {
		// 路由线程上不做网络 IO
		safe.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()

			var err error
			if connected {
				err = m.Online(ctx, uid, cid)
			} else {
				err = m.Offline(ctx, uid, cid)
			}
			if err != nil {
				logger.Warnf("[Presence] mirror failed user=%d conn=%d: %v", uid, cid, err)
			}
		})
	}
}

// Online 登记一条连接并广播上线事件
func (m *PresenceManager) Online(ctx context.Context, uid chat.UserID, cid chat.ConnID) error {
	key := m.key(uid)
	pipe := m.rdb.TxPipeline()
	pipe.SAdd(ctx, key, uint64(cid))
	pipe.Expire(ctx, key, m.cfg.KeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return pkgerrors.Wrap(err, "presence online")
	}
	return m.publish(ctx, "online", uid, cid)
}

// Offline 注销一条连接并广播下线事件；最后一条连接下线时删除集合
func (m *PresenceManager) Offline(ctx context.Context, uid chat.UserID, cid chat.ConnID) error {
	key := m.key(uid)
	if err := m.rdb.SRem(ctx, key, uint64(cid)).Err(); err != nil {
		return pkgerrors.Wrap(err, "presence offline")
	}
	if n, err := m.rdb.SCard(ctx, key).Result(); err == nil && n == 0 {
		_ = m.rdb.Del(ctx, key).Err()
	}
	return m.publish(ctx, "offline", uid, cid)
}

// IsOnline 跨节点在线判断（REST 查询用）
func (m *PresenceManager) IsOnline(ctx context.Context, uid chat.UserID) (bool, error) {
	n, err := m.rdb.SCard(ctx, m.key(uid)).Result()
	if err != nil {
		return false, pkgerrors.Wrap(err, "presence check")
	}
	return n > 0, nil
}

func (m *PresenceManager) publish(ctx context.Context, event string, uid chat.UserID, cid chat.ConnID) error {
	body, _ := json.Marshal(presenceEvent{
		Event:  event,
		UserID: uint64(uid),
		ConnID: uint64(cid),
		Node:   m.cfg.NodeID,
		Ts:     time.Now().UnixMilli(),
	})
	if err := m.rdb.Publish(ctx, m.cfg.Channel, body).Err(); err != nil {
		return pkgerrors.Wrap(err, "presence publish")
	}
	return nil
}
