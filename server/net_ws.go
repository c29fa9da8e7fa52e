package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	spectatorQueue = 64
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
)

// ClientConn 单个旁观者连接：写协程从 send 队列取数据写出
type ClientConn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func NewClientConn(ws *websocket.Conn) *ClientConn {
	return &ClientConn{
		ws:   ws,
		send: make(chan []byte, spectatorQueue),
		done: make(chan struct{}),
	}
}

// Enqueue 将要发送的消息压入队列（非阻塞，满则丢弃）
func (c *ClientConn) Enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		// 慢速旁观者丢帧，不阻塞 Tick
		return false
	}
}

// Close 幂等关闭；send 不关闭，写协程通过 done 退出
func (c *ClientConn) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定期 ping
func (c *ClientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 旁观者只读；丢弃入站消息，仅用于感知断开与 pong
func (c *ClientConn) readPump(onClose func()) {
	defer func() {
		onClose()
		c.Close()
	}()
	c.ws.SetReadLimit(1 << 12)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error { return c.ws.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 旁观流只读，允许所有来源
		return true
	},
}

// SpectatorHub 把每次广播的 JSON 状态镜像给 WebSocket 旁观者
type SpectatorHub struct {
	mu      sync.Mutex
	conns   map[*ClientConn]struct{}
	closed  bool
	metrics *Metrics
	log     *zap.SugaredLogger
}

func NewSpectatorHub(metrics *Metrics, log *zap.SugaredLogger) *SpectatorHub {
	return &SpectatorHub{
		conns:   make(map[*ClientConn]struct{}),
		metrics: metrics,
		log:     log,
	}
}

// HandleWS WebSocket 接入：GET /ws/spectate
func (h *SpectatorHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("spectator upgrade error: %v", err)
		return
	}
	c := NewClientConn(ws)
	if !h.add(c) {
		c.Close()
		return
	}
	h.log.Infof("spectator connected from %s", r.RemoteAddr)

	go c.writePump()
	go c.readPump(func() {
		if h.remove(c) {
			h.log.Infof("spectator disconnected from %s", r.RemoteAddr)
		}
	})
}

func (h *SpectatorHub) add(c *ClientConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c] = struct{}{}
	h.metrics.AddSpectators(1)
	return true
}

func (h *SpectatorHub) remove(c *ClientConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return false
	}
	delete(h.conns, c)
	h.metrics.AddSpectators(-1)
	return true
}

// Broadcast 非阻塞分发给所有旁观者
func (h *SpectatorHub) Broadcast(b []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		c.Enqueue(b)
	}
}

// Len 当前旁观连接数
func (h *SpectatorHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// CloseAll 关停时断开所有旁观者，之后拒绝新连接
func (h *SpectatorHub) CloseAll() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[*ClientConn]struct{})
	h.closed = true
	h.metrics.AddSpectators(-len(conns))
	h.mu.Unlock()

	for c := range conns {
		c.Close()
	}
}
