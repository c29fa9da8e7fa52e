package server

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"laneracer/protocol"
	"laneracer/transport"
)

// Phase 调度器所处阶段
type Phase int32

const (
	PhaseIdle    Phase = iota // 没有玩家，或调度器未运行
	PhaseWaiting              // 已有玩家加入，等待开局
	PhaseRunning
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseWaiting:
		return "waiting"
	case PhaseRunning:
		return "running"
	case PhaseEnded:
		return "ended"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Server 权威游戏服务器：一个接收协程 + 一个固定 Tick 游戏循环，共享 World
type Server struct {
	cfg        Config
	log        *zap.SugaredLogger
	conn       transport.Conn
	codec      protocol.Codec
	world      *World
	metrics    *Metrics
	spectators *SpectatorHub

	phase atomic.Int32
	now   func() time.Time
}

// New 组装服务器；conn 由调用方绑定（绑定失败属于致命错误，在 main 中处理）
func New(cfg Config, conn transport.Conn, log *zap.SugaredLogger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	codec, err := protocol.CodecByName(cfg.WireFormat)
	if err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	metrics := &Metrics{}
	s := &Server{
		cfg:        cfg,
		log:        log,
		conn:       conn,
		codec:      codec,
		world:      NewWorld(cfg, rand.New(rand.NewSource(seed))),
		metrics:    metrics,
		spectators: NewSpectatorHub(metrics, log),
		now:        time.Now,
	}
	return s, nil
}

func (s *Server) World() *World             { return s.world }
func (s *Server) Metrics() *Metrics         { return s.metrics }
func (s *Server) Spectators() *SpectatorHub { return s.spectators }
func (s *Server) Phase() Phase              { return Phase(s.phase.Load()) }
func (s *Server) setPhase(p Phase)          { s.phase.Store(int32(p)) }
func (s *Server) Codec() protocol.Codec     { return s.codec }

// Run 启动接收协程并在当前协程运行游戏循环，直到 ctx 取消
// 取消后接收循环尽快退出，游戏循环跑完当前 Tick 并广播最终状态
func (s *Server) Run(ctx context.Context) error {
	s.log.Infof("server listening on %s (wire=%s, tick=%dHz)", s.conn.LocalAddr(), s.codec.Name(), s.cfg.TickRate)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.receiveLoop(ctx)
	}()

	s.runGameLoop(ctx)
	wg.Wait()
	s.spectators.CloseAll()

	m := s.metrics.Snapshot()
	s.log.Infof("server stopped: rounds=%v spawned=%v collisions=%v", m["rounds"], m["obstacles_spawned"], m["collisions"])
	return nil
}

// sleepCtx 可被取消的休眠；被取消时返回 false
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
