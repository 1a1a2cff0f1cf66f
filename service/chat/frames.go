package chat

import (
	"bytes"
	"sync"

	"WSChat/config"
	errs "WSChat/tools/errs"
)

// Opcode 业务帧操作码，取值与 RFC6455 的 fin|opcode 字节一致
type Opcode byte

const (
	OpFragmentContinue    Opcode = 0x00
	OpFragmentBeginText   Opcode = 0x01
	OpFragmentBeginBinary Opcode = 0x02
	OpFragmentEnd         Opcode = 0x80
	OpText                Opcode = 0x81
	OpBinary              Opcode = 0x82
	OpClose               Opcode = 0x88
	OpPing                Opcode = 0x89
	OpPong                Opcode = 0x8A
)

// 应用层关闭码（4xxx 私有区间）
const (
	StatusUnauthorized          = 4000
	StatusInvalidQueryParams    = 4001
	StatusInvalidMessagePayload = 4002
	StatusMessageTooBig         = 4003
	StatusInactiveConnection    = 4010
)

const messageTooBigError = 2101

// ErrMessageTooBig 重组后的消息超过 maxMessageSize
var ErrMessageTooBig = errs.NewCodeError(messageTooBigError, "message too big")

type frameBuffer struct {
	buf    bytes.Buffer
	binary bool
}

// FrameReassembler 按发送者累积分片帧，直到终止帧到达。
// map 由单个互斥锁保护，不同发送者的重组在调用方层面并行。
type FrameReassembler struct {
	mu             sync.Mutex
	buffers        map[UserID]*frameBuffer
	maxMessageSize int64
}

func NewFrameReassembler(maxMessageSize int64) *FrameReassembler {
	return &FrameReassembler{
		buffers:        make(map[UserID]*frameBuffer),
		maxMessageSize: maxMessageSize,
	}
}

// Begin 写入首个分片。已有的半成品缓冲直接丢弃：BEGIN 永远重置。
func (r *FrameReassembler) Begin(sender UserID, data []byte, binary bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fb := &frameBuffer{binary: binary}
	fb.buf.Write(data)
	r.buffers[sender] = fb
}

// Continue 追加中间分片。没有对应缓冲时静默丢弃，返回 false。
func (r *FrameReassembler) Continue(sender UserID, data []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	fb, ok := r.buffers[sender]
	if !ok {
		return false
	}
	fb.buf.Write(data)
	return true
}

// End 拼接终止分片并移除缓冲。返回完整消息和二进制标记；
// 超过 maxMessageSize 时返回 ErrMessageTooBig，缓冲同样被丢弃，不投递。
func (r *FrameReassembler) End(sender UserID, data []byte) ([]byte, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fb, ok := r.buffers[sender]
	if !ok {
		fb = &frameBuffer{}
	}
	delete(r.buffers, sender)

	fb.buf.Write(data)
	if int64(fb.buf.Len()) > r.maxMessageSize {
		return nil, fb.binary, ErrMessageTooBig.WrapMsg("reassembled", "len", fb.buf.Len(), "max", r.maxMessageSize)
	}
	return fb.buf.Bytes(), fb.binary, nil
}

// Has 是否存在 sender 的半成品缓冲
func (r *FrameReassembler) Has(sender UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.buffers[sender]
	return ok
}

// Drop 丢弃 sender 的缓冲（连接异常关闭时调用）
func (r *FrameReassembler) Drop(sender UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buffers, sender)
}

// MaxMessageSizeReason 组装关闭原因，带人类可读的上限
func (r *FrameReassembler) MaxMessageSizeReason() string {
	return "Message too big. Maximum size: " + config.HumanReadableBytes(r.maxMessageSize)
}
