package server

import (
	"math"
	"time"
)

// hitboxesOverlap 玩家固定尺寸包围盒与障碍物（向内收缩 padding）包围盒的 AABB 相交
func hitboxesOverlap(p *Player, o *Obstacle, r Rules) bool {
	pl, pr := p.X-r.PlayerHalfWidth, p.X+r.PlayerHalfWidth
	pt, pb := p.Y-r.PlayerHalfHeight, p.Y+r.PlayerHalfHeight

	ol := o.X - o.Kind.Width/2 + r.ObstaclePadding
	or := o.X + o.Kind.Width/2 - r.ObstaclePadding
	ot := o.Y - o.Kind.Height/2 + r.ObstaclePadding
	ob := o.Y + o.Kind.Height/2 - r.ObstaclePadding

	return pr > ol && pl < or && pb > ot && pt < ob
}

// Hit 一次碰撞结果，用于日志与统计
type Hit struct {
	Player   *Player
	Obstacle *Obstacle
	Penalty  int
}

// resolveCollisions 检测并结算碰撞，返回剩余障碍物与命中列表
// 每个障碍物至多结算一次（按玩家 ID 顺序先到先得）；无敌中或已完成的玩家跳过
func resolveCollisions(players []*Player, obstacles []*Obstacle, now time.Time, r Rules) ([]*Obstacle, []Hit) {
	var hits []Hit
	kept := obstacles[:0]
	for _, o := range obstacles {
		hit := false
		for _, p := range players {
			// 连续碰撞计数在每次检测前惰性重置
			if !p.LastCollision.IsZero() && now.Sub(p.LastCollision) > r.StreakReset {
				p.Streak = 0
			}
			if p.Invulnerable(now, r.BlinkDuration) || p.Finished {
				continue
			}
			if o.Lane != p.Lane || !hitboxesOverlap(p, o, r) {
				continue
			}
			penalty := applyCollision(p, o, now, r)
			hits = append(hits, Hit{Player: p, Obstacle: o, Penalty: penalty})
			hit = true
			break
		}
		if !hit {
			kept = append(kept, o)
		}
	}
	return kept, hits
}

// applyCollision 扣分：连撞时按 1 + 0.3×连撞次数 放大（取整），分数不低于 0
func applyCollision(p *Player, o *Obstacle, now time.Time, r Rules) int {
	penalty := o.Kind.Penalty
	if p.Streak > 0 {
		penalty = int(float64(penalty) * (1 + float64(p.Streak)*r.StreakPenaltyStep))
	}
	p.Score = math.Max(0, p.Score-float64(penalty))
	p.Blink = now
	p.LastCollision = now
	p.Streak++
	return penalty
}

// awardPoints 每 Tick 为未完成玩家加分；到达满分即标记完成（单向）并刷新闪烁时间
func awardPoints(players []*Player, pointsPerTick, progress float64, now time.Time, r Rules) []*Player {
	var finished []*Player
	for _, p := range players {
		if p.Finished || p.Score >= r.MaxScore {
			continue
		}
		collisionModifier := math.Max(0.5, 1-float64(p.Streak)*0.1)
		difficultyBonus := 1 + progress*0.3
		p.Score = math.Min(r.MaxScore, p.Score+pointsPerTick*collisionModifier*difficultyBonus)
		if p.Score >= r.MaxScore {
			p.Finished = true
			p.Blink = now
			finished = append(finished, p)
		}
	}
	return finished
}
