package server

import (
	"context"
	"errors"
	"net"
	"time"

	"laneracer/protocol"
	"laneracer/transport"
)

// maxPollBatch 单次轮询最多处理的报文数，避免接收协程长时间占用
const maxPollBatch = 64

// receiveLoop 非阻塞轮询 UDP，将入站消息直接应用到共享状态；只在关停时退出
func (s *Server) receiveLoop(ctx context.Context) {
	for ctx.Err() == nil {
		dgs, err := s.conn.Poll(maxPollBatch)
		for _, dg := range dgs {
			s.handleDatagram(dg)
		}
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return
			}
			s.metrics.IncReceiveErrors()
			s.log.Warnf("unexpected error in receive loop: %v", err)
			sleepCtx(ctx, 100*time.Millisecond)
		}
	}
}

// handleDatagram 解码并分发；任何错误只记录，不影响循环
func (s *Server) handleDatagram(dg transport.Datagram) {
	s.metrics.IncPacketsIn()
	msg, err := s.codec.Decode(dg.Data)
	if err != nil {
		if protocol.IsUnknownType(err) {
			s.metrics.IncUnknownTypes()
			s.log.Warnf("unknown message type from %s: %v", dg.Addr, err)
			return
		}
		s.metrics.IncDecodeErrors()
		s.log.Warnf("error handling message from %s: %v", dg.Addr, err)
		return
	}

	now := s.now()
	switch m := msg.(type) {
	case protocol.Join:
		s.handleJoin(m, dg.Addr, now)
	case protocol.Input:
		if !s.world.Input(dg.Addr, m, now) {
			s.metrics.IncUnknownAddress()
		}
	case protocol.Heartbeat:
		if !s.world.Heartbeat(dg.Addr, now) {
			s.metrics.IncUnknownAddress()
			return
		}
		s.send(protocol.HeartbeatAck{}, dg.Addr)
	case protocol.Leave:
		if p, ok := s.world.Leave(dg.Addr); ok {
			s.metrics.IncLeaves()
			s.log.Infof("player left: %s from %s", p.Name, dg.Addr)
		}
	default:
		// 服务端下行消息被客户端回送：视为未知类型忽略
		s.metrics.IncUnknownTypes()
		s.log.Warnf("unexpected %s message from %s", msg.Type(), dg.Addr)
	}
}

// handleJoin 幂等：同一地址重复 join 返回同一 ID，并再次回复 join_ack
func (s *Server) handleJoin(m protocol.Join, addr net.Addr, now time.Time) {
	id, created := s.world.Join(m.Name, addr, now)
	if created {
		s.metrics.IncJoins()
		s.log.Infof("new player joined: %s (id %d) from %s", m.Name, id, addr)
	} else {
		s.log.Infof("player reconnected: %s from %s", m.Name, addr)
	}
	rules := s.world.Rules()
	s.send(protocol.JoinAck{
		ID:            int(id),
		ObstacleTypes: s.world.obstacleSpecs(),
		Settings: protocol.Settings{
			BlinkDuration:     rules.BlinkDuration.Seconds(),
			CollisionCooldown: rules.CollisionCooldown.Seconds(),
		},
	}, addr)
}

// send 尽力发送单条消息
func (s *Server) send(m protocol.Message, addr net.Addr) {
	b, err := s.codec.Encode(m)
	if err != nil {
		s.log.Errorf("encode %s: %v", m.Type(), err)
		return
	}
	s.sendRaw(b, addr)
}

func (s *Server) sendRaw(b []byte, addr net.Addr) {
	if err := s.conn.Send(b, addr); err != nil {
		s.metrics.IncSendErrors()
		s.log.Warnf("failed to send message to %s: %v", addr, err)
		return
	}
	s.metrics.IncPacketsOut()
}

// broadcast 将状态编码一次后发给所有玩家；旁观者始终收到 JSON 文本
func (s *Server) broadcast(st protocol.State, recipients []net.Addr) {
	b, err := s.codec.Encode(st)
	if err != nil {
		s.log.Errorf("encode state: %v", err)
		return
	}
	for _, addr := range recipients {
		s.sendRaw(b, addr)
	}

	if s.spectators.Len() == 0 {
		return
	}
	if s.codec.Name() != protocol.FormatJSON {
		if b, err = (protocol.JSONCodec{}).Encode(st); err != nil {
			s.log.Errorf("encode spectator state: %v", err)
			return
		}
	}
	s.spectators.Broadcast(b)
}
