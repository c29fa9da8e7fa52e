package client

import (
	"time"

	"laneracer/protocol"
)

// Config 客户端网络参数
type Config struct {
	Name        string
	WireFormat  string
	JoinRetry   time.Duration // join 重发间隔
	JoinTimeout time.Duration // 超过后标记“无法连接”，但继续重试
	Heartbeat   time.Duration // 无按键时 input 的最长发送间隔
	Smoothing   float64       // 渲染位置每帧向目标靠近的比例
}

func DefaultConfig() Config {
	return Config{
		Name:        "Player",
		WireFormat:  protocol.FormatJSON,
		JoinRetry:   800 * time.Millisecond,
		JoinTimeout: 8 * time.Second,
		Heartbeat:   time.Second,
		Smoothing:   0.3,
	}
}
