package chat

import (
	"encoding/json"
	"time"
)

// UserID 用户标识。0 保留，表示“无用户/机器人槽位”。
type UserID uint64

// ConnID 连接标识，由传输层生成，进程内唯一。
type ConnID uint64

// TypeSendStatus 服务端送达回执的保留消息类型
const TypeSendStatus = "send-status"

// Payload 消息信封：
//
//	{ "type": "text", "sender": 10, "recipients": [20], "text": "hi",
//	  "data": {...}, "time": "2020-01-01T00:00:00Z" }
//
// 未知 type 原样透传。
type Payload struct {
	Type       string         `json:"type"`
	Sender     UserID         `json:"sender"`
	Recipients []UserID       `json:"recipients"`
	Text       string         `json:"text,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Time       string         `json:"time,omitempty"`

	binary   bool
	parseErr string
}

// ParsePayload 解析并校验一条入站消息。校验失败不返回 error，
// 而是让 IsValid() 为 false、Error() 带上原因（关闭原因里要用）。
func ParsePayload(raw []byte, binary bool) *Payload {
	p := &Payload{binary: binary}
	if err := json.Unmarshal(raw, p); err != nil {
		p.parseErr = err.Error()
		return p
	}
	p.validate()
	return p
}

func (p *Payload) validate() {
	if p.Type == "" {
		p.parseErr = "type is required"
		return
	}
	if p.Sender == 0 && !p.IsForBot() {
		p.parseErr = "sender is required"
		return
	}
}

// IsValid 信封是否通过解析与校验
func (p *Payload) IsValid() bool { return p.parseErr == "" }

// Error 校验失败原因，合法信封返回空串
func (p *Payload) Error() string { return p.parseErr }

// IsForBot 收件人为空或全为 0 时，消息只走监听器扇出，不做寻址投递
func (p *Payload) IsForBot() bool {
	for _, r := range p.Recipients {
		if r != 0 {
			return false
		}
	}
	return true
}

// IsTypeOfSentStatus 送达回执消息，被排除在统计回路之外
func (p *Payload) IsTypeOfSentStatus() bool { return p.Type == TypeSendStatus }

// IsBinary 入站帧是否二进制。标记保留在模型里；
// 出站帧当前始终按 TEXT 发送。
func (p *Payload) IsBinary() bool { return p.binary }

// ToJSON 无损序列化
func (p *Payload) ToJSON() []byte {
	data, err := json.Marshal(p)
	if err != nil {
		// Payload 的字段都可序列化，仅 Data 里出现非法值时才会走到这里
		return []byte("{}")
	}
	return data
}

// Clone 深拷贝（监听器和回调捕获用）
func (p *Payload) Clone() *Payload {
	out := *p
	out.Recipients = append([]UserID(nil), p.Recipients...)
	if p.Data != nil {
		out.Data = make(map[string]any, len(p.Data))
		for k, v := range p.Data {
			out.Data[k] = v
		}
	}
	return &out
}

// WithRecipient 拷贝并把收件人收窄为单个 uid
func (p *Payload) WithRecipient(uid UserID) *Payload {
	out := p.Clone()
	out.Recipients = []UserID{uid}
	return out
}

// CreateSendStatus 构造送达回执：发给原消息的发送者
func CreateSendStatus(origin *Payload) *Payload {
	return &Payload{
		Type:       TypeSendStatus,
		Sender:     0,
		Recipients: []UserID{origin.Sender},
		Data: map[string]any{
			"originType": origin.Type,
			"hasSent":    true,
		},
		Time: time.Now().UTC().Format(time.RFC3339),
	}
}
