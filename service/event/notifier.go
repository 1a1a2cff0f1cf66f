package event

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"WSChat/config"
	"WSChat/logger"
	"WSChat/service/chat"
	"WSChat/tools/safe"

	"github.com/google/uuid"
)

// Event 投递给外部目标（机器人/webhook 消费侧）的事件信封
type Event struct {
	ID         string          `json:"id"`
	Node       string          `json:"node"`
	Type       string          `json:"type"`
	Sender     chat.UserID     `json:"sender"`
	Recipients []chat.UserID   `json:"recipients"`
	Online     bool            `json:"online"`
	Payload    json.RawMessage `json:"payload"`
	Ts         int64           `json:"ts"`
}

// Target 单个外部投递目标
type Target interface {
	Name() string
	Publish(ev *Event) error
	Close() error
}

const targetQueueSize = 1024

// targetWorker 每个目标一条有界队列 + 单消费协程。
// 队列满丢最老的一条，慢目标拖不垮路由线程。
type targetWorker struct {
	target Target
	q      chan *Event
	done   chan struct{}
	wg     *sync.WaitGroup
}

// Notifier 把 ChatServer 的消息监听扇出到一组外部目标。
// sendStrategy=onlineOnly 时跳过所有收件人都离线的消息。
type Notifier struct {
	cfg     config.EventSettings
	node    string
	online  func(chat.UserID) bool
	workers []*targetWorker
	wg      sync.WaitGroup
}

// NewNotifier 按配置构造目标。onlineCheck 通常接 ChatServer.IsOnline。
func NewNotifier(cfg config.EventSettings, node string, onlineCheck func(chat.UserID) bool) (*Notifier, error) {
	targets := make([]Target, 0, len(cfg.Targets))
	for _, tc := range cfg.Targets {
		target, err := newTarget(tc)
		if err != nil {
			for _, t := range targets {
				_ = t.Close()
			}
			return nil, err
		}
		targets = append(targets, target)
	}
	return NewNotifierWithTargets(cfg, node, onlineCheck, targets...), nil
}

// NewNotifierWithTargets 直接挂既有目标（自定义目标或单测用）
func NewNotifierWithTargets(cfg config.EventSettings, node string, onlineCheck func(chat.UserID) bool, targets ...Target) *Notifier {
	n := &Notifier{
		cfg:    cfg,
		node:   node,
		online: onlineCheck,
	}
	for _, target := range targets {
		w := &targetWorker{
			target: target,
			q:      make(chan *Event, targetQueueSize),
			done:   make(chan struct{}),
			wg:     &n.wg,
		}
		n.workers = append(n.workers, w)
		n.wg.Add(1)
		safe.Go(func() { n.runWorker(w) })
		logger.Infof("[Event] target %s ready", target.Name())
	}
	return n
}

func newTarget(tc config.EventTarget) (Target, error) {
	switch strings.ToLower(tc.Type) {
	case "kafka":
		return newKafkaTarget(tc.Data)
	case "nats":
		return newNatsTarget(tc.Data)
	case "redis":
		return newRedisTarget(tc.Data)
	default:
		return nil, errUnknownTarget(tc.Type)
	}
}

// Listener 注册到 ChatServer.AddMessageListener。
// 在路由线程上只做入队，不做网络 IO。
func (n *Notifier) Listener() chat.OnMessageSentListener {
	return func(p chat.Payload) {
		if len(n.workers) == 0 {
			return
		}

		online := false
		for _, uid := range p.Recipients {
			if uid != 0 && n.online != nil && n.online(uid) {
				online = true
				break
			}
		}
		if strings.EqualFold(n.cfg.SendStrategy, "onlineOnly") && !online && !p.IsForBot() {
			return
		}

		ev := &Event{
			ID:         uuid.NewString(),
			Node:       n.node,
			Type:       p.Type,
			Sender:     p.Sender,
			Recipients: p.Recipients,
			Online:     online,
			Payload:    p.ToJSON(),
			Ts:         time.Now().UnixMilli(),
		}
		for _, w := range n.workers {
			w.enqueue(ev)
		}
	}
}

func (w *targetWorker) enqueue(ev *Event) {
	select {
	case w.q <- ev:
		return
	default:
	}
	// 队列满：腾掉最老的一条再入队
	select {
	case old := <-w.q:
		logger.Warnf("[Event] target %s queue full, dropped event %s", w.target.Name(), old.ID)
	default:
	}
	select {
	case w.q <- ev:
	default:
	}
}

func (n *Notifier) runWorker(w *targetWorker) {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev := <-w.q:
			n.publishWithRetry(w.target, ev)
		}
	}
}

func (n *Notifier) publishWithRetry(t Target, ev *Event) {
	err := t.Publish(ev)
	if err == nil {
		return
	}

	if !n.cfg.EnableRetry {
		logger.Warnf("[Event] target %s publish failed: %v", t.Name(), err)
		return
	}

	interval := time.Duration(n.cfg.RetryIntervalSeconds) * time.Second
	for attempt := 1; attempt <= n.cfg.RetryCount; attempt++ {
		time.Sleep(interval)
		if err = t.Publish(ev); err == nil {
			return
		}
		logger.Warnf("[Event] target %s retry %d/%d failed: %v", t.Name(), attempt, n.cfg.RetryCount, err)
	}
}

// Close 停掉所有目标协程并关闭目标连接
func (n *Notifier) Close() {
	for _, w := range n.workers {
		close(w.done)
	}
	n.wg.Wait()
	for _, w := range n.workers {
		if err := w.target.Close(); err != nil {
			logger.Warnf("[Event] target %s close: %v", w.target.Name(), err)
		}
	}
}
