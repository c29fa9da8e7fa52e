package server

import (
	"time"

	"laneracer/protocol"
)

// applyInput 解释客户端意图（不直接移动位置），由下一次 Tick 推进
// 纵向：只按上 → 向前；只按下 → 向后；都按或都不按 → 停止（按消息覆盖，不累加）
// 换道：仅在当前换道完成且距上次碰撞已过锁定时间时接受
func applyInput(p *Player, in protocol.Input, now time.Time, r Rules) {
	switch {
	case in.Up && !in.Down:
		p.VelocityY = -r.VerticalSpeed
	case in.Down && !in.Up:
		p.VelocityY = r.VerticalSpeed
	default:
		p.VelocityY = 0
	}

	if !p.Settled() {
		return
	}
	if !p.LastCollision.IsZero() && now.Sub(p.LastCollision) < r.LaneChangeLockout {
		return
	}
	target := p.Lane
	switch {
	case in.Left && !in.Right && p.Lane > 0:
		target = p.Lane - 1
	case in.Right && !in.Left && p.Lane < LaneCount-1:
		target = p.Lane + 1
	}
	if target != p.Lane {
		p.TargetLane = target
		p.MoveProgress = 0
	}
}
