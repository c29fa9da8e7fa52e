package server

import (
	"math/rand"
	"sort"
	"time"

	"laneracer/protocol"
)

// ObstacleType 障碍物类型的固定属性
type ObstacleType struct {
	Name        string
	Width       float64
	Height      float64
	Speed       float64 // 像素/秒
	Penalty     int
	Color       string
	SpawnWeight float64
	MinCooldown time.Duration
}

// DefaultObstacleTypes 顺序固定，保证加权抽取在相同种子下可复现
func DefaultObstacleTypes() []ObstacleType {
	return []ObstacleType{
		{Name: "car", Width: 80, Height: 120, Speed: 140, Penalty: 10, Color: "#FF6B6B", SpawnWeight: 0.6, MinCooldown: 1200 * time.Millisecond},
		{Name: "truck", Width: 100, Height: 160, Speed: 110, Penalty: 20, Color: "#4ECDC4", SpawnWeight: 0.3, MinCooldown: 1500 * time.Millisecond},
		{Name: "bus", Width: 90, Height: 180, Speed: 100, Penalty: 25, Color: "#45B7D1", SpawnWeight: 0.1, MinCooldown: 2 * time.Second},
		{Name: "bike", Width: 60, Height: 80, Speed: 160, Penalty: 5, Color: "#96CEB4", SpawnWeight: 0.4, MinCooldown: 800 * time.Millisecond},
		{Name: "rock", Width: 70, Height: 70, Speed: 130, Penalty: 15, Color: "#A1887F", SpawnWeight: 0.2, MinCooldown: time.Second},
	}
}

// Obstacle 一个下落中的障碍物；车道在生命周期内不变
type Obstacle struct {
	ID   uint64
	Kind *ObstacleType
	Lane int
	X, Y float64 // 中心点；Y 向下增大
}

func newObstacle(id uint64, kind *ObstacleType, lane int, r Rules) *Obstacle {
	return &Obstacle{ID: id, Kind: kind, Lane: lane, X: r.LaneX[lane], Y: -kind.Height}
}

// advance 按速度×倍率×dt 下移
func (o *Obstacle) advance(dt, multiplier float64) {
	o.Y += o.Kind.Speed * multiplier * dt
}

// offscreen 完全移出可视区域（含缓冲）后应被回收
func (o *Obstacle) offscreen(r Rules) bool {
	return o.Y >= r.ScreenHeight+o.Kind.Height+r.DespawnBuffer
}

func (o *Obstacle) snapshot() protocol.ObstacleState {
	return protocol.ObstacleState{
		X:      o.X,
		Y:      o.Y,
		Lane:   o.Lane,
		ID:     o.ID,
		Type:   o.Kind.Name,
		Color:  o.Kind.Color,
		Width:  o.Kind.Width,
		Height: o.Kind.Height,
	}
}

// weightTable 每次生成前按当前难度重建的累积权重表
type weightTable struct {
	types      []*ObstacleType
	cumulative []float64 // 归一化后的前缀和，末项为 1
}

// buildWeightTable 高惩罚类型随进度与表现加权，低惩罚类型随进度降权；最小权重 0.05
func buildWeightTable(types []ObstacleType, progress, avgScore, maxScore float64) weightTable {
	performance := 1 + (avgScore/maxScore)*0.5
	weights := make([]float64, len(types))
	var total float64
	for i, t := range types {
		w := t.SpawnWeight
		switch {
		case t.Penalty >= 20:
			w *= (1 + progress*2.5) * performance
		case t.Penalty <= 10:
			w *= 1 - progress*0.7
		default:
			w *= (1 + progress*1.2) * performance
		}
		if w < 0.05 {
			w = 0.05
		}
		weights[i] = w
		total += w
	}

	table := weightTable{
		types:      make([]*ObstacleType, len(types)),
		cumulative: make([]float64, len(types)),
	}
	var acc float64
	for i := range types {
		acc += weights[i] / total
		table.types[i] = &types[i]
		table.cumulative[i] = acc
	}
	if n := len(table.cumulative); n > 0 {
		table.cumulative[n-1] = 1
	}
	return table
}

// pick 将 [0,1) 上的一次均匀抽样经二分查找映射到类型
func (t weightTable) pick(u float64) *ObstacleType {
	i := sort.SearchFloat64s(t.cumulative, u)
	if i < len(t.cumulative) && t.cumulative[i] == u {
		i++
	}
	if i >= len(t.types) {
		i = len(t.types) - 1
	}
	return t.types[i]
}

// probability 第 i 个类型的归一化概率
func (t weightTable) probability(i int) float64 {
	if i == 0 {
		return t.cumulative[0]
	}
	return t.cumulative[i] - t.cumulative[i-1]
}

// spawner 生成障碍物；冷却/概率/上限由难度控制器给出
type spawner struct {
	rng       *rand.Rand
	nextID    uint64
	lastSpawn time.Time
	lastKind  *ObstacleType
}

func (s *spawner) reset(now time.Time) {
	s.nextID = 1
	s.lastSpawn = now
	s.lastKind = nil
}

// cooldown 有效冷却；启用类型冷却时取上一次生成类型的最小冷却与全局冷却的较大者
func (s *spawner) cooldown(d Difficulty, r Rules) time.Duration {
	cd := d.SpawnCooldown
	if r.TypeCooldowns && s.lastKind != nil && s.lastKind.MinCooldown > cd {
		cd = s.lastKind.MinCooldown
	}
	return cd
}

// trySpawn 满足冷却、数量上限与概率三项条件时生成一个障碍物
func (s *spawner) trySpawn(now time.Time, active int, d Difficulty, progress, avgScore float64, r Rules) *Obstacle {
	if now.Sub(s.lastSpawn) < s.cooldown(d, r) {
		return nil
	}
	if active >= r.MaxObstacles {
		return nil
	}
	if s.rng.Float64() >= d.SpawnChance {
		return nil
	}
	lane := s.rng.Intn(LaneCount)
	kind := buildWeightTable(r.ObstacleTypes, progress, avgScore, r.MaxScore).pick(s.rng.Float64())
	o := newObstacle(s.nextID, kind, lane, r)
	s.nextID++
	s.lastSpawn = now
	s.lastKind = kind
	return o
}
