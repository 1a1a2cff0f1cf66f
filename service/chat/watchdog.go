package chat

import (
	"fmt"
	"sync"
	"time"

	"WSChat/logger"
	"WSChat/tools/safe"
)

const (
	watchdogInterval = time.Minute
	pongGraceWindow  = 2 * time.Second
)

// Watchdog 活性看门狗。独立协程上循环：
//
//	睡 1 分钟 -> 快照全部连接：超时的发 INACTIVE_CONNECTION 关闭帧，
//	其余发 PING "." 并标记等待 PONG -> 睡 2 秒宽限 ->
//	把没回 PONG 的统一断开 -> 重复，直到 Stop。
//
// 睡眠可注入（单测用）；不活跃判定的时钟注入在 Stats 上。
type Watchdog struct {
	storage  *ConnectionStorage
	stats    *Stats
	lifetime time.Duration

	// Sleep 可注入的可打断睡眠；返回 false 表示被 Stop 打断
	Sleep func(d time.Duration) bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewWatchdog(storage *ConnectionStorage, stats *Stats, lifetime time.Duration) *Watchdog {
	w := &Watchdog{
		storage:  storage,
		stats:    stats,
		lifetime: lifetime,
		stopCh:   make(chan struct{}),
	}
	w.Sleep = w.interruptibleSleep
	return w
}

func (w *Watchdog) interruptibleSleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.stopCh:
		return false
	case <-t.C:
		return true
	}
}

// Run 启动看门狗协程
func (w *Watchdog) Run() {
	w.wg.Add(1)
	safe.Go(func() {
		defer w.wg.Done()
		w.loop()
	})
}

func (w *Watchdog) loop() {
	for {
		if !w.Sleep(watchdogInterval) {
			logger.Infof("[Watchdog] stopping...")
			return
		}
		w.SweepOnce()
		if !w.Sleep(pongGraceWindow) {
			logger.Infof("[Watchdog] stopping...")
			return
		}
		if disconnected := w.storage.DisconnectWithoutPong(); disconnected > 0 {
			logger.Debugf("[Watchdog] disconnected %d dangling connection(s)", disconnected)
		}
	}
}

// SweepOnce 单轮巡检（不含宽限窗）。导出供单测直接驱动。
func (w *Watchdog) SweepOnce() {
	lifetimeSec := int64(w.lifetime.Seconds())

	w.storage.ForEach(func(uid UserID, conns map[ConnID]Conn) {
		st := w.stats.Get(uid)
		for cid, conn := range conns {
			if conn == nil {
				w.storage.RemoveKey(uid, cid)
				continue
			}

			inactive := st.InactiveTime()
			if inactive >= w.lifetime {
				// 这里只发关闭帧，注册表靠 OnClose 收尾
				conn.SendClose(StatusInactiveConnection,
					fmt.Sprintf("Inactive more than %d seconds (%d)", lifetimeSec, int64(inactive.Seconds())))
				continue
			}

			conn := conn
			conn.Send([]byte("."), OpPing, func(_ int, err error) {
				if err != nil {
					// 连接已坏：坏管道、EOF 或其它，直接移除
					w.storage.Remove(conn)
					return
				}
				w.storage.MarkPongWait(conn)
			})
		}
	})
}

// Stop 打断看门狗并等它退出
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}
