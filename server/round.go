package server

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Round 一局游戏的状态；每局开始时整体重置，只由游戏循环修改
type Round struct {
	ID         uuid.UUID
	Running    bool
	Start      time.Time
	Duration   time.Duration // 随难度变化
	Seq        uint64        // 广播序号，一局内严格递增，重置为 0
	Progress   float64       // elapsed / duration，截断到 [0,1]
	Difficulty Difficulty
}

func newRound(now time.Time, r Rules) Round {
	return Round{
		ID:       uuid.New(),
		Running:  true,
		Start:    now,
		Duration: r.BaseDuration,
		Difficulty: Difficulty{
			Level:           1,
			SpawnCooldown:   r.BaseSpawnCooldown,
			SpawnChance:     r.BaseSpawnChance,
			SpeedMultiplier: 1,
			RoundDuration:   r.BaseDuration,
		},
	}
}

// progressAt 当前进度
func (g *Round) progressAt(now time.Time) float64 {
	if g.Start.IsZero() || g.Duration <= 0 {
		return 0
	}
	return math.Max(0, math.Min(1, now.Sub(g.Start).Seconds()/g.Duration.Seconds()))
}

// timeLeft 剩余秒数，不小于 0
func (g *Round) timeLeft(now time.Time) float64 {
	if g.Start.IsZero() {
		return 0
	}
	return math.Max(0, (g.Duration - now.Sub(g.Start)).Seconds())
}

// expired 时长是否已到
func (g *Round) expired(now time.Time) bool {
	return !g.Start.IsZero() && now.Sub(g.Start) >= g.Duration
}
