package ids

import (
	"strconv"
	"sync"
	"time"
)

// 64位ID布局：41位毫秒时间戳 | 10位节点 | 12位序列
const (
	seqBits  = 12
	nodeBits = 10

	seqMask  = (1 << seqBits) - 1
	nodeMask = (1 << nodeBits) - 1
	timeMask = (1 << 41) - 1

	nodeShift = seqBits
	timeShift = seqBits + nodeBits
)

// Generator 进程内唯一、按时间递增的ID发生器。
// 时钟可注入（单测用），与看门狗/统计的做法一致。
type Generator struct {
	mu    sync.Mutex
	clock func() time.Time
	epoch int64
	node  uint64
	seq   uint64
	last  int64
}

// NewGenerator node 取 0~1023，越界归一。clock 为 nil 时用 time.Now。
func NewGenerator(node int64, clock func() time.Time) *Generator {
	if node < 0 || node > nodeMask {
		node = 1
	}
	if clock == nil {
		clock = time.Now
	}
	return &Generator{
		clock: clock,
		epoch: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
		node:  uint64(node),
	}
}

// Next 生成下一个ID。同一毫秒内靠序列号区分，
// 序列溢出或时钟回拨都等到时间前进再发号。
func (g *Generator) Next() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for now < g.last {
		// 时钟回拨
		now = g.now()
	}

	if now == g.last {
		g.seq = (g.seq + 1) & seqMask
		if g.seq == 0 {
			for now <= g.last {
				now = g.now()
			}
		}
	} else {
		g.seq = 0
	}
	g.last = now

	ts := uint64(now-g.epoch) & timeMask
	return ts<<timeShift | g.node<<nodeShift | g.seq
}

func (g *Generator) now() int64 {
	return g.clock().UnixMilli()
}

// ---- 包级默认实例 ----

var (
	defaultGen *Generator
	defaultMu  sync.Mutex
)

func def() *Generator {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultGen == nil {
		defaultGen = NewGenerator(1, nil)
	}
	return defaultGen
}

// Generate 用默认实例生成一个ID
func Generate() uint64 {
	return def().Next()
}

func GenerateString() string {
	return strconv.FormatUint(Generate(), 10)
}

// SetNodeID 重建默认实例（0~1023），在 main() 初始化时调用
func SetNodeID(node int64) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultGen = NewGenerator(node, nil)
}
