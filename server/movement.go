package server

import "math"

// 缓动曲线 ease-out-back 的系数
const (
	easeC1 = 1.70158
	easeC2 = easeC1 * 1.525
)

// easeOutBack 在终点附近略微越过再回弹；ease(1)=1，起点处约为 0.107
func easeOutBack(x float64) float64 {
	return 1 + easeC2*math.Pow(x-1, 3) + easeC1*math.Pow(x-1, 2)
}

// stepMovement 推进单个玩家的换道与纵向移动
func stepMovement(p *Player, dt, progress float64, r Rules) {
	if p.MoveProgress < 1 {
		duration := r.LaneChangeDuration.Seconds()
		if progress > 0.7 {
			duration *= r.LateGameLaneFactor
		}
		p.MoveProgress = math.Min(1, p.MoveProgress+dt/duration)

		startX := r.LaneX[p.Lane]
		targetX := r.LaneX[p.TargetLane]
		p.X = startX + (targetX-startX)*easeOutBack(p.MoveProgress)

		if p.MoveProgress >= 1 {
			p.Lane = p.TargetLane
			p.X = r.LaneX[p.Lane]
		}
	}

	if p.VelocityY != 0 {
		p.Y = clamp(p.Y+p.VelocityY*dt, r.MinY, r.MaxY)
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
