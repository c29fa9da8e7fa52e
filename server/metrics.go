package server

import (
	"sync/atomic"
	"time"
)

// Metrics 记录服务端运行期的关键指标（用于监控与调试）
type Metrics struct {
	TickCount        int64 // 统计的 Tick 次数
	TotalTickNs      int64 // Tick 累计耗时（纳秒）
	Overruns         int64 // 超出 Tick 预算的次数
	ClampedDeltas    int64 // dt 被截断的次数
	PacketsIn        int64
	PacketsOut       int64
	SendErrors       int64
	ReceiveErrors    int64
	DecodeErrors     int64 // 格式错误或缺字段
	UnknownTypes     int64 // 未知消息类型
	UnknownAddresses int64 // 来自未加入地址的 input/heartbeat
	Joins            int64
	Leaves           int64
	Timeouts         int64
	ObstaclesSpawned int64
	Collisions       int64
	Rounds           int64
	Spectators       int64 // 当前旁观连接数
}

func (m *Metrics) IncPacketsIn()       { atomic.AddInt64(&m.PacketsIn, 1) }
func (m *Metrics) IncPacketsOut()      { atomic.AddInt64(&m.PacketsOut, 1) }
func (m *Metrics) IncSendErrors()      { atomic.AddInt64(&m.SendErrors, 1) }
func (m *Metrics) IncReceiveErrors()   { atomic.AddInt64(&m.ReceiveErrors, 1) }
func (m *Metrics) IncDecodeErrors()    { atomic.AddInt64(&m.DecodeErrors, 1) }
func (m *Metrics) IncUnknownTypes()    { atomic.AddInt64(&m.UnknownTypes, 1) }
func (m *Metrics) IncUnknownAddress()  { atomic.AddInt64(&m.UnknownAddresses, 1) }
func (m *Metrics) IncJoins()           { atomic.AddInt64(&m.Joins, 1) }
func (m *Metrics) IncLeaves()          { atomic.AddInt64(&m.Leaves, 1) }
func (m *Metrics) AddTimeouts(n int)   { atomic.AddInt64(&m.Timeouts, int64(n)) }
func (m *Metrics) IncSpawned()         { atomic.AddInt64(&m.ObstaclesSpawned, 1) }
func (m *Metrics) AddCollisions(n int) { atomic.AddInt64(&m.Collisions, int64(n)) }
func (m *Metrics) IncRounds()          { atomic.AddInt64(&m.Rounds, 1) }
func (m *Metrics) IncOverruns()        { atomic.AddInt64(&m.Overruns, 1) }
func (m *Metrics) IncClamped()         { atomic.AddInt64(&m.ClampedDeltas, 1) }
func (m *Metrics) AddSpectators(n int) { atomic.AddInt64(&m.Spectators, int64(n)) }

func (m *Metrics) AddTick(d time.Duration) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, d.Nanoseconds())
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":        tick,
		"avg_tick_ms":       avgMs,
		"overruns":          atomic.LoadInt64(&m.Overruns),
		"clamped_deltas":    atomic.LoadInt64(&m.ClampedDeltas),
		"packets_in":        atomic.LoadInt64(&m.PacketsIn),
		"packets_out":       atomic.LoadInt64(&m.PacketsOut),
		"send_errors":       atomic.LoadInt64(&m.SendErrors),
		"receive_errors":    atomic.LoadInt64(&m.ReceiveErrors),
		"decode_errors":     atomic.LoadInt64(&m.DecodeErrors),
		"unknown_types":     atomic.LoadInt64(&m.UnknownTypes),
		"unknown_addresses": atomic.LoadInt64(&m.UnknownAddresses),
		"joins":             atomic.LoadInt64(&m.Joins),
		"leaves":            atomic.LoadInt64(&m.Leaves),
		"timeouts":          atomic.LoadInt64(&m.Timeouts),
		"obstacles_spawned": atomic.LoadInt64(&m.ObstaclesSpawned),
		"collisions":        atomic.LoadInt64(&m.Collisions),
		"rounds":            atomic.LoadInt64(&m.Rounds),
		"spectators":        atomic.LoadInt64(&m.Spectators),
	}
}
