package server

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"laneracer/protocol"
	"laneracer/transport"
)

func TestJoinRepliesWithAck(t *testing.T) {
	s, conn := newTestServer(t, testConfig())
	s.handleDatagram(transport.Datagram{Data: encode(t, protocol.Join{Name: "alice"}), Addr: addr(1)})

	msgs := conn.decoded(t)
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	ack, ok := msgs[0].(protocol.JoinAck)
	if !ok {
		t.Fatalf("reply is %s, want join_ack", msgs[0].Type())
	}
	if ack.ID <= 0 {
		t.Fatalf("join_ack id = %d, want positive", ack.ID)
	}
	if len(ack.ObstacleTypes) != 5 || ack.ObstacleTypes["truck"].Penalty != 20 {
		t.Fatalf("obstacle table = %+v", ack.ObstacleTypes)
	}
	if ack.Settings.BlinkDuration != 1.5 || ack.Settings.CollisionCooldown != 2 {
		t.Fatalf("settings = %+v", ack.Settings)
	}
	if got := conn.packets()[0].addr.String(); got != addr(1).String() {
		t.Fatalf("ack sent to %s", got)
	}
}

func TestDuplicateJoinKeepsID(t *testing.T) {
	s, conn := newTestServer(t, testConfig())
	join := encode(t, protocol.Join{Name: "alice"})
	s.handleDatagram(transport.Datagram{Data: join, Addr: addr(1)})
	s.handleDatagram(transport.Datagram{Data: join, Addr: addr(1)})

	msgs := conn.decoded(t)
	if len(msgs) != 2 {
		t.Fatalf("each join should be acked, got %d replies", len(msgs))
	}
	if msgs[0].(protocol.JoinAck).ID != msgs[1].(protocol.JoinAck).ID {
		t.Fatalf("duplicate join produced a new id")
	}
	if s.world.PlayerCount() != 1 || s.metrics.Joins != 1 {
		t.Fatalf("players=%d joins=%d", s.world.PlayerCount(), s.metrics.Joins)
	}
}

func TestUnknownAddressIsIgnored(t *testing.T) {
	s, conn := newTestServer(t, testConfig())
	s.handleDatagram(transport.Datagram{Data: encode(t, protocol.Input{Up: true}), Addr: addr(5)})
	s.handleDatagram(transport.Datagram{Data: encode(t, protocol.Heartbeat{}), Addr: addr(5)})
	s.handleDatagram(transport.Datagram{Data: encode(t, protocol.Leave{}), Addr: addr(5)})

	if n := len(conn.packets()); n != 0 {
		t.Fatalf("server replied %d times to an unknown address", n)
	}
	if s.metrics.UnknownAddresses != 2 || s.world.PlayerCount() != 0 {
		t.Fatalf("unknown=%d players=%d", s.metrics.UnknownAddresses, s.world.PlayerCount())
	}
}

func TestHeartbeatIsAcked(t *testing.T) {
	s, conn := newTestServer(t, testConfig())
	s.handleDatagram(transport.Datagram{Data: encode(t, protocol.Join{Name: "alice"}), Addr: addr(1)})
	s.handleDatagram(transport.Datagram{Data: encode(t, protocol.Heartbeat{}), Addr: addr(1)})

	msgs := conn.decoded(t)
	if len(msgs) != 2 || msgs[1].Type() != protocol.TypeHeartbeatAck {
		t.Fatalf("expected heartbeat_ack, got %v", msgs)
	}
}

func TestLeaveRemovesPlayer(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	s.handleDatagram(transport.Datagram{Data: encode(t, protocol.Join{Name: "alice"}), Addr: addr(1)})
	s.handleDatagram(transport.Datagram{Data: encode(t, protocol.Leave{}), Addr: addr(1)})
	if s.world.PlayerCount() != 0 || s.metrics.Leaves != 1 {
		t.Fatalf("players=%d leaves=%d", s.world.PlayerCount(), s.metrics.Leaves)
	}
}

func TestBadDatagramsAreCountedAndDropped(t *testing.T) {
	s, conn := newTestServer(t, testConfig())
	for _, raw := range []string{
		`not json`,
		`{"name":"no type"}`,
		`{"type":"join"}`,
	} {
		s.handleDatagram(transport.Datagram{Data: []byte(raw), Addr: addr(1)})
	}
	s.handleDatagram(transport.Datagram{Data: []byte(`{"type":"teleport"}`), Addr: addr(1)})
	s.handleDatagram(transport.Datagram{Data: []byte(`{"type":"heartbeat_ack"}`), Addr: addr(1)})

	if s.metrics.DecodeErrors != 3 {
		t.Fatalf("decode errors = %d, want 3", s.metrics.DecodeErrors)
	}
	if s.metrics.UnknownTypes != 2 {
		t.Fatalf("unknown types = %d, want 2", s.metrics.UnknownTypes)
	}
	if len(conn.packets()) != 0 || s.world.PlayerCount() != 0 {
		t.Fatalf("bad datagrams must have no effect")
	}
}

func fastConfig() Config {
	cfg := testConfig()
	cfg.WaitPoll = 5 * time.Millisecond
	cfg.WaitTimeout = 20 * time.Millisecond
	cfg.StartDelay = 0
	cfg.RoundPause = 20 * time.Millisecond
	cfg.Rules.BaseDuration = 300 * time.Millisecond
	return cfg
}

// waitFor 轮询直到 cond 成立，超时则失败
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func sentStates(t *testing.T, conn *fakeConn) []protocol.State {
	t.Helper()
	var out []protocol.State
	for _, m := range conn.decoded(t) {
		if st, ok := m.(protocol.State); ok {
			out = append(out, st)
		}
	}
	return out
}

func stopServer(t *testing.T, cancel context.CancelFunc, done <-chan error) {
	t.Helper()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not stop")
	}
}

// 无人时保持 Idle，不开局也不广播；有人加入后进入 Waiting
func TestSchedulerIdleUntilPlayerJoins(t *testing.T) {
	cfg := fastConfig()
	cfg.StartDelay = time.Second
	s, conn := newTestServer(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	if s.Phase() != PhaseIdle {
		t.Fatalf("phase = %s, want idle", s.Phase())
	}
	if n := len(conn.packets()); n != 0 {
		t.Fatalf("sent %d packets with nobody joined", n)
	}

	conn.deliver(addr(1), encode(t, protocol.Join{Name: "alice"}))
	waitFor(t, "waiting phase", func() bool { return s.Phase() == PhaseWaiting })

	stopServer(t, cancel, done)
	if s.metrics.Rounds != 0 {
		t.Fatalf("a round started before the start delay elapsed")
	}
	if len(sentStates(t, conn)) != 0 {
		t.Fatalf("states broadcast outside a round")
	}
	if s.Phase() != PhaseIdle {
		t.Fatalf("phase after stop = %s, want idle", s.Phase())
	}
}

// 对局中取消：跑完当前 Tick，广播 running=false 的最终状态后退出
func TestSchedulerCancelMidRoundSendsFinalState(t *testing.T) {
	cfg := fastConfig()
	cfg.Rules.BaseDuration = 10 * time.Second
	s, conn := newTestServer(t, cfg)
	conn.deliver(addr(1), encode(t, protocol.Join{Name: "alice"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, "running states", func() bool {
		return s.Phase() == PhaseRunning && len(sentStates(t, conn)) >= 3
	})
	stopServer(t, cancel, done)

	msgs := conn.decoded(t)
	last, ok := msgs[len(msgs)-1].(protocol.State)
	if !ok {
		t.Fatalf("last packet is %s, want state", msgs[len(msgs)-1].Type())
	}
	if last.GameRunning {
		t.Fatalf("last state still running")
	}
	if len(last.Players) != 1 || last.Players[0].Name != "alice" {
		t.Fatalf("final state players = %+v", last.Players)
	}
	var final int
	for _, st := range sentStates(t, conn) {
		if !st.GameRunning {
			final++
		}
	}
	if final != 1 || s.metrics.Rounds != 1 {
		t.Fatalf("final states=%d rounds=%d, want 1 and 1", final, s.metrics.Rounds)
	}
}

// Tick 超出预算时只记录，不补帧，循环继续
func TestSchedulerKeepsTickingAfterOverrun(t *testing.T) {
	cfg := fastConfig()
	cfg.Rules.BaseDuration = 10 * time.Second
	s, conn := newTestServer(t, cfg)
	// 每次读时钟前进 20ms，超过 60Hz 的 16.7ms 预算
	var calls atomic.Int64
	s.now = func() time.Time {
		return t0.Add(time.Duration(calls.Add(1)) * 20 * time.Millisecond)
	}
	conn.deliver(addr(1), encode(t, protocol.Join{Name: "alice"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, "several ticks", func() bool { return len(sentStates(t, conn)) >= 5 })
	stopServer(t, cancel, done)

	if s.metrics.Overruns == 0 {
		t.Fatalf("no overruns recorded")
	}
	if s.metrics.TickCount < 5 {
		t.Fatalf("tick count = %d, loop stopped after overrun", s.metrics.TickCount)
	}
	if s.metrics.ClampedDeltas != 0 {
		t.Fatalf("40ms deltas should not be clamped, got %d", s.metrics.ClampedDeltas)
	}
}

// 锁外汇报读取的是 Tick 内复制的值，接收协程同时改名不会与之竞争
func TestReportUsesCopiesWhileReceiverRenames(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	w := s.world
	w.Join("alice", addr(1), t0)
	w.ResetRound(t0)
	w.mu.Lock()
	w.obstacles = append(w.obstacles, testObstacle("car", 1, 300, w.rules))
	w.mu.Unlock()

	res := w.Tick(t0.Add(frame), frame.Seconds())
	if len(res.Hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(res.Hits))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			s.report(res)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			w.Join(fmt.Sprintf("renamed-%d", i), addr(1), t0)
		}
	}()
	wg.Wait()

	if got := res.Hits[0].Player.Name; got != "alice" {
		t.Fatalf("hit event name = %q, want the name at tick time", got)
	}
	if got := w.Players()[0].Name; got != "renamed-99" {
		t.Fatalf("player name = %q", got)
	}
	if res.Hits[0].Player.Streak != 1 || res.Hits[0].Obstacle.Kind != "car" {
		t.Fatalf("hit event = %+v", res.Hits[0])
	}
}

func TestSchedulerRunsRoundAndBroadcastsFinalState(t *testing.T) {
	s, conn := newTestServer(t, fastConfig())
	conn.deliver(addr(1), encode(t, protocol.Join{Name: "alice"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	var states []protocol.State
	deadline := time.After(3 * time.Second)
	for states == nil {
		var all []protocol.State
		for _, m := range conn.decoded(t) {
			if st, ok := m.(protocol.State); ok {
				all = append(all, st)
			}
		}
		// 截取第一局：直到第一条 running=false 的最终状态
		for i, st := range all {
			if !st.GameRunning {
				states = all[:i+1]
				break
			}
		}
		if states != nil {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("no final state after 3s (%d states)", len(all))
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	var running int
	var last uint64
	for _, st := range states {
		if st.GameRunning {
			running++
		}
		if st.Seq <= last {
			t.Fatalf("seq not increasing within the round: %d after %d", st.Seq, last)
		}
		last = st.Seq
		if len(st.Players) != 1 || st.Players[0].Name != "alice" {
			t.Fatalf("unexpected players: %+v", st.Players)
		}
	}
	if running == 0 {
		t.Fatalf("no running states broadcast")
	}
	if s.metrics.Rounds < 1 || s.metrics.TickCount == 0 {
		t.Fatalf("rounds=%d ticks=%d", s.metrics.Rounds, s.metrics.TickCount)
	}
}
