package server

import (
	"math"
	"time"
)

// Difficulty 每个 Tick 重新计算的难度及其派生量
type Difficulty struct {
	Level           float64
	SpawnCooldown   time.Duration
	SpawnChance     float64
	SpeedMultiplier float64
	RoundDuration   time.Duration
}

// computeDifficulty 难度 = 进度因子 × 人数因子 × 表现因子
//   - 进度因子：1.0 → 2.5
//   - 人数因子：人越多略简单，下限 0.7
//   - 表现因子：任一玩家超过满分 70% 时为 1.2
func computeDifficulty(progress float64, players []*Player, r Rules) Difficulty {
	progressFactor := 1 + progress*1.5
	playerFactor := math.Max(0.7, 1.3-float64(len(players))*0.15)
	performanceFactor := 1.0
	for _, p := range players {
		if p.Score > r.MaxScore*0.7 {
			performanceFactor = 1.2
			break
		}
	}
	level := progressFactor * playerFactor * performanceFactor

	cooldown := math.Max(0.5, r.BaseSpawnCooldown.Seconds()/level)
	speed := 1 + progress*0.8
	if progress > 0.8 {
		speed *= 1.2
	}
	duration := r.BaseDuration.Seconds() * (1 + (level-1)*0.3)

	return Difficulty{
		Level:           level,
		SpawnCooldown:   seconds(cooldown),
		SpawnChance:     math.Min(0.95, r.BaseSpawnChance*level),
		SpeedMultiplier: speed,
		RoundDuration:   seconds(duration),
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
