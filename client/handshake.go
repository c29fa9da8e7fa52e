package client

import "time"

// Handshake join 的可靠性只靠客户端重试；服务端按地址幂等
type Handshake struct {
	retry    time.Duration
	timeout  time.Duration
	started  time.Time
	lastSent time.Time
	acked    bool
	id       int
}

func NewHandshake(retry, timeout time.Duration) *Handshake {
	return &Handshake{retry: retry, timeout: timeout}
}

// Start 记录开始时间；调用方应立即发送第一条 join
func (h *Handshake) Start(now time.Time) {
	h.started = now
	h.lastSent = now
}

// Due 未确认且距上次发送已满重试间隔时返回 true，并记为已发送
func (h *Handshake) Due(now time.Time) bool {
	if h.acked || h.started.IsZero() {
		return false
	}
	if now.Sub(h.lastSent) < h.retry {
		return false
	}
	h.lastSent = now
	return true
}

// Ack 收到 join_ack；重复的 ack 会覆盖为同一 ID
func (h *Handshake) Ack(id int) {
	h.acked = true
	h.id = id
}

func (h *Handshake) Started() bool { return !h.started.IsZero() }
func (h *Handshake) Acked() bool   { return h.acked }
func (h *Handshake) ID() int      { return h.id }

// Unreachable 超时仍未确认
func (h *Handshake) Unreachable(now time.Time) bool {
	return !h.acked && !h.started.IsZero() && now.Sub(h.started) >= h.timeout
}
