package server

import (
	"net"
	"time"
)

// LaneCount 车道数量固定为 3
const LaneCount = 3

// PlayerID 服务端分配的玩家编号（从 1 开始单调递增）
type PlayerID int

// Player 玩家实体（服务端权威状态），只由持有 World 锁的一方修改
type Player struct {
	ID       PlayerID
	Name     string
	Addr     net.Addr
	LastSeen time.Time // 最近一次 join/input/heartbeat 的时间

	Lane         int     // 当前所在车道（换道完成前保持起始车道）
	TargetLane   int     // 换道目标
	MoveProgress float64 // 换道进度 [0,1]，1 表示已就位
	X            float64 // 由车道插值得到，不单独作为权威
	Y            float64
	VelocityY    float64 // 纵向速度：向前为负

	Score         float64
	Finished      bool      // 单向：一局内只会 false→true
	Blink         time.Time // 最近一次被撞（或完成）的时间，零值表示从未
	Streak        int       // 连续碰撞次数
	LastCollision time.Time
}

func newPlayer(id PlayerID, name string, addr net.Addr, now time.Time, r Rules) *Player {
	p := &Player{ID: id, Name: name, Addr: addr, LastSeen: now}
	p.resetForRound(r, now)
	return p
}

// resetForRound 新一局开始时重置所有临时字段，保留身份与地址
func (p *Player) resetForRound(r Rules, now time.Time) {
	p.Lane = r.StartLane
	p.TargetLane = r.StartLane
	p.MoveProgress = 1
	p.X = r.LaneX[r.StartLane]
	p.Y = r.StartY
	p.VelocityY = 0
	p.Score = 0
	p.Finished = false
	p.Blink = time.Time{}
	p.Streak = 0
	p.LastCollision = time.Time{}
	p.LastSeen = now
}

// Invulnerable 是否处于被撞后的无敌窗口内
func (p *Player) Invulnerable(now time.Time, blink time.Duration) bool {
	return !p.Blink.IsZero() && now.Sub(p.Blink) < blink
}

// Settled 换道是否已完成
func (p *Player) Settled() bool {
	return p.MoveProgress >= 1
}
