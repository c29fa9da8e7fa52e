package server

import (
	"math"
	"math/rand"
	"net"
	"sync"
	"time"

	"laneracer/protocol"
)

// World 共享游戏状态：玩家会话、障碍物、当前局
// 接收循环与游戏循环都通过 mu 串行访问，每次持锁只覆盖一次处理或一个 Tick
type World struct {
	mu sync.Mutex

	rules         Rules
	pointsPerTick float64

	sessions  *Sessions
	obstacles []*Obstacle
	round     Round
	spawn     spawner
}

// NewWorld 创建世界；rng 决定障碍物生成序列
func NewWorld(cfg Config, rng *rand.Rand) *World {
	return &World{
		rules:         cfg.Rules,
		pointsPerTick: cfg.PointsPerTick(),
		sessions:      newSessions(cfg.Rules),
		spawn:         spawner{rng: rng},
	}
}

// Join 加入或重连，返回玩家 ID 以及是否为新玩家
func (w *World) Join(name string, addr net.Addr, now time.Time) (PlayerID, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, created := w.sessions.Join(name, addr, now)
	return p.ID, created
}

// Input 处理输入：任何输入都刷新活跃时间，只有对局进行中才改变意图
func (w *World) Input(addr net.Addr, in protocol.Input, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.sessions.Touch(addr, now)
	if !ok {
		return false
	}
	if w.round.Running {
		applyInput(p, in, now, w.rules)
	}
	return true
}

// Heartbeat 刷新活跃时间；未知地址返回 false
func (w *World) Heartbeat(addr net.Addr, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.sessions.Touch(addr, now)
	return ok
}

// Leave 立即移除玩家
func (w *World) Leave(addr net.Addr) (PlayerEvent, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.sessions.Leave(addr)
	if !ok {
		return PlayerEvent{}, false
	}
	return playerEvent(p), true
}

// Sweep 移除心跳超时的玩家
func (w *World) Sweep(now time.Time) []PlayerEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	return playerEvents(w.sessions.Sweep(now))
}

// PlayerCount 当前玩家数
func (w *World) PlayerCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessions.Len()
}

// Rules 当前玩法参数的副本
func (w *World) Rules() Rules {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rules
}

// UpdateRules 在锁内修改运行期可调参数（管理接口使用）
func (w *World) UpdateRules(fn func(*Rules)) Rules {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(&w.rules)
	w.sessions.rules = w.rules
	return w.rules
}

// PlayerInfo 管理接口用的会话摘要
type PlayerInfo struct {
	ID       PlayerID  `json:"id"`
	Name     string    `json:"name"`
	Addr     string    `json:"addr"`
	Score    float64   `json:"score"`
	Finished bool      `json:"finished"`
	Lane     int       `json:"lane"`
	LastSeen time.Time `json:"last_seen"`
}

// Players 会话列表
func (w *World) Players() []PlayerInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	ps := w.sessions.Players()
	out := make([]PlayerInfo, 0, len(ps))
	for _, p := range ps {
		out = append(out, PlayerInfo{
			ID:       p.ID,
			Name:     p.Name,
			Addr:     p.Addr.String(),
			Score:    p.Score,
			Finished: p.Finished,
			Lane:     p.Lane,
			LastSeen: p.LastSeen,
		})
	}
	return out
}

// RoundInfo 当前局的只读副本
func (w *World) RoundInfo() Round {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.round
}

// ResetRound 开始新一局：重置玩家临时字段（保留身份与地址）、清空障碍物、序号归零
func (w *World) ResetRound(now time.Time) Round {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range w.sessions.Players() {
		p.resetForRound(w.rules, now)
	}
	w.obstacles = nil
	w.spawn.reset(now)
	w.round = newRound(now, w.rules)
	return w.round
}

// PlayerEvent 持锁时复制的玩家摘要，供锁外记录日志
type PlayerEvent struct {
	ID     PlayerID
	Name   string
	Addr   string
	Streak int
}

func playerEvent(p *Player) PlayerEvent {
	return PlayerEvent{ID: p.ID, Name: p.Name, Addr: p.Addr.String(), Streak: p.Streak}
}

func playerEvents(ps []*Player) []PlayerEvent {
	if len(ps) == 0 {
		return nil
	}
	out := make([]PlayerEvent, 0, len(ps))
	for _, p := range ps {
		out = append(out, playerEvent(p))
	}
	return out
}

// ObstacleEvent 障碍物摘要
type ObstacleEvent struct {
	ID   uint64
	Kind string
	Lane int
	X    float64
}

func obstacleEvent(o *Obstacle) ObstacleEvent {
	return ObstacleEvent{ID: o.ID, Kind: o.Kind.Name, Lane: o.Lane, X: o.X}
}

// HitEvent 一次碰撞；Streak 为结算后的连撞次数
type HitEvent struct {
	Player   PlayerEvent
	Obstacle ObstacleEvent
	Penalty  int
}

// TickResult 一个 Tick 的产出；事件均为值拷贝，锁外读取不会与接收协程竞争
type TickResult struct {
	Ended      bool
	State      protocol.State
	Recipients []net.Addr
	Spawned    *ObstacleEvent
	Hits       []HitEvent
	Finished   []PlayerEvent
	Removed    []PlayerEvent
}

// Tick 在一次持锁内完成：移动 → 障碍物 → 碰撞 → 计分 → 结束判定 → 快照 → 超时清理
// 结束时不产出快照，由 EndRound 广播最终状态
func (w *World) Tick(now time.Time, dt float64) TickResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	var res TickResult
	players := w.sessions.Players()

	for _, p := range players {
		stepMovement(p, dt, w.round.Progress, w.rules)
	}

	if o := w.updateObstacles(now, dt, players); o != nil {
		ev := obstacleEvent(o)
		res.Spawned = &ev
	}

	var hits []Hit
	w.obstacles, hits = resolveCollisions(players, w.obstacles, now, w.rules)
	for _, h := range hits {
		res.Hits = append(res.Hits, HitEvent{
			Player:   playerEvent(h.Player),
			Obstacle: obstacleEvent(h.Obstacle),
			Penalty:  h.Penalty,
		})
	}
	res.Finished = playerEvents(awardPoints(players, w.pointsPerTick, w.round.Progress, now, w.rules))

	if w.shouldEnd(now, players) {
		res.Ended = true
		return res
	}

	res.State, res.Recipients = w.snapshotLocked(now)
	res.Removed = playerEvents(w.sessions.Sweep(now))
	return res
}

// updateObstacles 更新进度与难度，移动/回收障碍物，并尝试生成新障碍物
func (w *World) updateObstacles(now time.Time, dt float64, players []*Player) *Obstacle {
	w.round.Progress = w.round.progressAt(now)
	w.round.Difficulty = computeDifficulty(w.round.Progress, players, w.rules)
	w.round.Duration = w.round.Difficulty.RoundDuration

	kept := w.obstacles[:0]
	for _, o := range w.obstacles {
		o.advance(dt, w.round.Difficulty.SpeedMultiplier)
		if !o.offscreen(w.rules) {
			kept = append(kept, o)
		}
	}
	w.obstacles = kept

	if !w.round.Running {
		return nil
	}
	o := w.spawn.trySpawn(now, len(w.obstacles), w.round.Difficulty, w.round.Progress, averageScore(players), w.rules)
	if o != nil {
		w.obstacles = append(w.obstacles, o)
	}
	return o
}

// shouldEnd 时间到，或当前所有玩家都已完成
func (w *World) shouldEnd(now time.Time, players []*Player) bool {
	if w.round.expired(now) {
		return true
	}
	if len(players) == 0 {
		return false
	}
	for _, p := range players {
		if !p.Finished {
			return false
		}
	}
	return true
}

// EndRound 停止本局并返回 running=false 的最终快照
func (w *World) EndRound(now time.Time) (protocol.State, []net.Addr) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.round.Running = false
	return w.snapshotLocked(now)
}

// Snapshot 生成一次广播快照（序号递增）
func (w *World) Snapshot(now time.Time) (protocol.State, []net.Addr) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked(now)
}

func (w *World) snapshotLocked(now time.Time) (protocol.State, []net.Addr) {
	players := w.sessions.Players()
	w.round.Seq++

	st := protocol.State{
		Seq:          w.round.Seq,
		RoundID:      w.round.ID.String(),
		Players:      make([]protocol.PlayerState, 0, len(players)),
		Obstacles:    make([]protocol.ObstacleState, 0, len(w.obstacles)),
		TimeLeft:     w.round.timeLeft(now),
		GameRunning:  w.round.Running,
		GameProgress: w.round.Progress,
		Difficulty:   w.round.Difficulty.Level,
		TotalPlayers: len(players),
		ServerTime:   unixSeconds(now),
	}
	addrs := make([]net.Addr, 0, len(players))
	for _, p := range players {
		st.Players = append(st.Players, protocol.PlayerState{
			ID:           int(p.ID),
			X:            p.X,
			Y:            p.Y,
			Name:         p.Name,
			Score:        math.Round(p.Score),
			Finished:     p.Finished,
			Lane:         p.Lane,
			Blink:        unixSeconds(p.Blink),
			TargetLane:   p.TargetLane,
			MoveProgress: p.MoveProgress,
		})
		addrs = append(addrs, p.Addr)
	}
	for _, o := range w.obstacles {
		st.Obstacles = append(st.Obstacles, o.snapshot())
	}
	return st, addrs
}

// obstacleSpecs join_ack 中下发的类型表
func (w *World) obstacleSpecs() map[string]protocol.ObstacleSpec {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]protocol.ObstacleSpec, len(w.rules.ObstacleTypes))
	for _, t := range w.rules.ObstacleTypes {
		out[t.Name] = protocol.ObstacleSpec{
			Width:       t.Width,
			Height:      t.Height,
			Speed:       t.Speed,
			Penalty:     t.Penalty,
			Color:       t.Color,
			SpawnWeight: t.SpawnWeight,
			MinCooldown: t.MinCooldown.Seconds(),
		}
	}
	return out
}

func averageScore(players []*Player) float64 {
	if len(players) == 0 {
		return 0
	}
	var sum float64
	for _, p := range players {
		sum += p.Score
	}
	return sum / float64(len(players))
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}
