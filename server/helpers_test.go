package server

import (
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"laneracer/protocol"
	"laneracer/transport"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func addr(port int) net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

type sentPacket struct {
	data []byte
	addr net.Addr
}

// fakeConn 内存传输：测试向 inbox 注入报文，并检查 sent
type fakeConn struct {
	mu     sync.Mutex
	inbox  []transport.Datagram
	sent   []sentPacket
	closed bool
}

func (f *fakeConn) deliver(from net.Addr, b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox = append(f.inbox, transport.Datagram{Data: b, Addr: from})
}

func (f *fakeConn) Send(b []byte, to net.Addr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return transport.ErrClosed
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	f.sent = append(f.sent, sentPacket{data: cp, addr: to})
	return nil
}

func (f *fakeConn) Poll(max int) ([]transport.Datagram, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, transport.ErrClosed
	}
	n := len(f.inbox)
	if n > max {
		n = max
	}
	out := f.inbox[:n:n]
	f.inbox = f.inbox[n:]
	if n == 0 {
		// 模拟短暂阻塞的轮询
		f.mu.Unlock()
		time.Sleep(time.Millisecond)
		f.mu.Lock()
	}
	return out, nil
}

func (f *fakeConn) LocalAddr() net.Addr { return addr(9999) }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) packets() []sentPacket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentPacket(nil), f.sent...)
}

// decoded 解码所有已发送报文
func (f *fakeConn) decoded(t *testing.T) []protocol.Message {
	t.Helper()
	var out []protocol.Message
	for _, p := range f.packets() {
		m, err := (protocol.JSONCodec{}).Decode(p.data)
		if err != nil {
			t.Fatalf("decode sent packet %q: %v", p.data, err)
		}
		out = append(out, m)
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Seed = 42
	cfg.Log = LogConfig{Level: "debug"}
	return cfg
}

func newTestWorld(cfg Config) *World {
	return NewWorld(cfg, rand.New(rand.NewSource(cfg.Seed)))
}

func newTestServer(t *testing.T, cfg Config) (*Server, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	s, err := New(cfg, conn, zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return s, conn
}

func encode(t *testing.T, m protocol.Message) []byte {
	t.Helper()
	b, err := (protocol.JSONCodec{}).Encode(m)
	if err != nil {
		t.Fatalf("encode %s: %v", m.Type(), err)
	}
	return b
}

func testPlayer(id PlayerID, r Rules) *Player {
	return newPlayer(id, "p", addr(10000+int(id)), t0, r)
}

func testObstacle(kind string, lane int, y float64, r Rules) *Obstacle {
	for i := range r.ObstacleTypes {
		if r.ObstacleTypes[i].Name == kind {
			o := newObstacle(1, &r.ObstacleTypes[i], lane, r)
			o.Y = y
			return o
		}
	}
	panic("unknown obstacle type " + kind)
}
