package server

import (
	"context"
	"sort"
)

// runGameLoop 轮次状态机：Idle（无人）→ Waiting（已有玩家，准备开局）→ Running → Ended → ...，退出时回到 Idle
func (s *Server) runGameLoop(ctx context.Context) {
	defer s.setPhase(PhaseIdle)
	for ctx.Err() == nil {
		if !s.waitForPlayers(ctx) {
			continue
		}
		s.log.Info("players present, starting new round")
		if !sleepCtx(ctx, s.cfg.StartDelay) {
			return
		}

		round := s.world.ResetRound(s.now())
		s.metrics.IncRounds()
		s.setPhase(PhaseRunning)
		s.log.Infof("round %s started with %d players", round.ID, s.world.PlayerCount())

		s.runRound(ctx)

		s.setPhase(PhaseEnded)
		if !sleepCtx(ctx, s.cfg.RoundPause) {
			return
		}
	}
}

// waitForPlayers 无人时保持 Idle 轮询，有玩家加入即切到 Waiting 并返回 true
// 超过等待超时记录警告并返回 false（不广播任何状态）
func (s *Server) waitForPlayers(ctx context.Context) bool {
	start := s.now()
	s.log.Info("waiting for players to join")
	for {
		if s.world.PlayerCount() > 0 {
			s.setPhase(PhaseWaiting)
			return true
		}
		s.setPhase(PhaseIdle)
		if s.now().Sub(start) > s.cfg.WaitTimeout {
			s.log.Warn("wait for players timeout reached")
			return false
		}
		if !sleepCtx(ctx, s.cfg.WaitPoll) {
			return false
		}
	}
}

// runRound 固定 Tick 循环：截断 dt → 模拟 → 结束判定 → 广播 → 清理超时 → 休眠剩余预算
func (s *Server) runRound(ctx context.Context) {
	interval := s.cfg.TickInterval()
	maxDt := s.cfg.MaxDelta.Seconds()
	last := s.now()

	for {
		start := s.now()
		dt := start.Sub(last).Seconds()
		last = start
		if dt <= 0 {
			dt = interval.Seconds()
		} else if dt > maxDt {
			dt = maxDt
			s.metrics.IncClamped()
		}

		res := s.world.Tick(start, dt)
		s.report(res)
		if res.Ended {
			break
		}
		s.broadcast(res.State, res.Recipients)

		elapsed := s.now().Sub(start)
		s.metrics.AddTick(elapsed)
		if ctx.Err() != nil {
			break
		}
		if remaining := interval - elapsed; remaining > 0 {
			if !sleepCtx(ctx, remaining) {
				break
			}
		} else {
			// 超时不补帧，下一 Tick 的 dt 会被截断
			s.metrics.IncOverruns()
			s.log.Warnf("game loop running behind: %.3fs", (-remaining).Seconds())
		}
	}

	state, recipients := s.world.EndRound(s.now())
	s.broadcast(state, recipients)
	s.logRoundSummary()
}

// report 将一个 Tick 的事件写入日志与指标
func (s *Server) report(res TickResult) {
	if o := res.Spawned; o != nil {
		s.metrics.IncSpawned()
		s.log.Debugf("spawned %s in lane %d at x=%.0f", o.Kind, o.Lane, o.X)
	}
	if len(res.Hits) > 0 {
		s.metrics.AddCollisions(len(res.Hits))
		for _, h := range res.Hits {
			s.log.Infof("collision: %s hit %s in lane %d, penalty %d (streak %d)",
				h.Player.Name, h.Obstacle.Kind, h.Obstacle.Lane, h.Penalty, h.Player.Streak)
		}
	}
	for _, p := range res.Finished {
		s.log.Infof("%s reached max score with %d consecutive collisions", p.Name, p.Streak)
	}
	if len(res.Removed) > 0 {
		s.metrics.AddTimeouts(len(res.Removed))
		for _, p := range res.Removed {
			s.log.Infof("player timeout: %s (id %d) from %s", p.Name, p.ID, p.Addr)
		}
	}
}

func (s *Server) logRoundSummary() {
	players := s.world.Players()
	sort.SliceStable(players, func(i, j int) bool { return players[i].Score > players[j].Score })
	s.log.Info("round completed, final scores:")
	for _, p := range players {
		s.log.Infof("  %s: %.0f finished=%t", p.Name, p.Score, p.Finished)
	}
}
