package client

import (
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"laneracer/protocol"
	"laneracer/transport"
)

// Keys 当前帧按住的方向键
type Keys struct {
	Left, Right, Up, Down bool
}

func (k Keys) Any() bool { return k.Left || k.Right || k.Up || k.Down }

// Client 单协程网络驱动：每帧依次执行握手重试、发送输入、收包、平滑
type Client struct {
	cfg    Config
	conn   transport.Conn
	server net.Addr
	codec  protocol.Codec
	log    *zap.SugaredLogger

	hs       *Handshake
	rec      *Reconciler
	lastSend time.Time

	obstacleTypes map[string]protocol.ObstacleSpec
	settings      protocol.Settings
}

func New(conn transport.Conn, server net.Addr, cfg Config, log *zap.SugaredLogger) (*Client, error) {
	codec, err := protocol.CodecByName(cfg.WireFormat)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:    cfg,
		conn:   conn,
		server: server,
		codec:  codec,
		log:    log,
		hs:     NewHandshake(cfg.JoinRetry, cfg.JoinTimeout),
		rec:    NewReconciler(cfg.Smoothing),
	}, nil
}

// ObstacleTypes join_ack 下发的障碍物类型表
func (c *Client) ObstacleTypes() map[string]protocol.ObstacleSpec { return c.obstacleTypes }

// Settings join_ack 下发的显示参数
func (c *Client) Settings() protocol.Settings { return c.settings }

// Frame 推进一帧并返回渲染视图
func (c *Client) Frame(now time.Time, keys Keys) View {
	if !c.hs.Started() {
		c.hs.Start(now)
		c.sendJoin()
	} else if c.hs.Due(now) {
		c.sendJoin()
	}

	if c.hs.Acked() && (keys.Any() || now.Sub(c.lastSend) >= c.cfg.Heartbeat) {
		c.send(protocol.Input{Left: keys.Left, Right: keys.Right, Up: keys.Up, Down: keys.Down})
		c.lastSend = now
	}

	c.receive()
	c.rec.Smooth()

	v := c.rec.View()
	v.Joined = c.hs.Acked()
	v.PlayerID = c.hs.ID()
	v.Unreachable = c.hs.Unreachable(now)
	return v
}

func (c *Client) receive() {
	dgs, err := c.conn.Poll(64)
	for _, dg := range dgs {
		if dg.Addr == nil || dg.Addr.String() != c.server.String() {
			c.log.Warnf("dropping datagram from unexpected source %v", dg.Addr)
			continue
		}
		c.handle(dg.Data)
	}
	if err != nil && !errors.Is(err, transport.ErrClosed) {
		c.log.Warnf("receive error: %v", err)
	}
}

func (c *Client) handle(b []byte) {
	msg, err := c.codec.Decode(b)
	if err != nil {
		c.log.Warnf("discarding message: %v", err)
		return
	}
	switch m := msg.(type) {
	case protocol.JoinAck:
		if !c.hs.Acked() {
			c.log.Infof("received join_ack: id=%d", m.ID)
		}
		c.hs.Ack(m.ID)
		c.obstacleTypes = m.ObstacleTypes
		c.settings = m.Settings
		c.rec.SetBlinkDuration(m.Settings.BlinkDuration)
	case protocol.State:
		c.rec.Apply(m)
	case protocol.HeartbeatAck:
	default:
		c.log.Warnf("ignoring unexpected %s message", msg.Type())
	}
}

func (c *Client) sendJoin() {
	c.send(protocol.Join{Name: c.cfg.Name})
}

func (c *Client) send(m protocol.Message) {
	b, err := c.codec.Encode(m)
	if err != nil {
		c.log.Errorf("encode %s: %v", m.Type(), err)
		return
	}
	if err := c.conn.Send(b, c.server); err != nil {
		c.log.Warnf("send %s: %v", m.Type(), err)
	}
}

// Close 通知服务端离开（尽力而为），并关闭套接字
func (c *Client) Close() error {
	if c.hs.Acked() {
		c.send(protocol.Leave{})
	}
	return c.conn.Close()
}
