package transport

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// MaxDatagram 单个报文的最大读取尺寸
const MaxDatagram = 8192

// DefaultPollWait 每次轮询允许阻塞的最长时间
const DefaultPollWait = time.Millisecond

// ErrClosed 底层套接字已关闭（正常关停时接收循环据此退出）
var ErrClosed = fmt.Errorf("transport closed: %w", net.ErrClosed)

// Datagram 一个收到的报文及其来源地址
type Datagram struct {
	Data []byte
	Addr net.Addr
}

// Conn 是服务端与客户端共用的报文传输抽象，测试中可替换为内存实现
type Conn interface {
	Send(b []byte, addr net.Addr) error
	Poll(max int) ([]Datagram, error)
	LocalAddr() net.Addr
	Close() error
}

// UDP 尽力而为的 UDP 传输：发送即忘，接收为非阻塞轮询
type UDP struct {
	conn     net.PacketConn
	buf      []byte
	pollWait time.Duration
}

// Listen 在 addr 上绑定 UDP 端口（如 ":9999" 表示所有网卡）
func Listen(addr string, pollWait time.Duration) (*UDP, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve udp address %q: %w", addr, err)
	}
	conn, err := net.ListenPacket("udp", udpAddr.String())
	if err != nil {
		return nil, fmt.Errorf("listen udp %q: %w", udpAddr.String(), err)
	}
	return newUDP(conn, pollWait), nil
}

// Dial 为客户端绑定一个临时本地端口，并解析服务端地址
func Dial(server string, pollWait time.Duration) (*UDP, net.Addr, error) {
	raddr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve server address %q: %w", server, err)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, nil, fmt.Errorf("open client socket: %w", err)
	}
	return newUDP(conn, pollWait), raddr, nil
}

func newUDP(conn net.PacketConn, pollWait time.Duration) *UDP {
	if pollWait <= 0 {
		pollWait = DefaultPollWait
	}
	return &UDP{conn: conn, buf: make([]byte, MaxDatagram), pollWait: pollWait}
}

// Send 发送一个报文；失败只返回错误供记录，不做重试
func (u *UDP) Send(b []byte, addr net.Addr) error {
	if addr == nil {
		return errors.New("send: nil address")
	}
	if _, err := u.conn.WriteTo(b, addr); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("send to %s: %w", addr, err)
	}
	return nil
}

// Poll 读出当前已到达的报文（至多 max 个）；没有报文时返回空切片而非错误
func (u *UDP) Poll(max int) ([]Datagram, error) {
	var out []Datagram
	for max <= 0 || len(out) < max {
		_ = u.conn.SetReadDeadline(time.Now().Add(u.pollWait))
		n, addr, err := u.conn.ReadFrom(u.buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				return out, ErrClosed
			}
			return out, fmt.Errorf("receive: %w", err)
		}
		data := make([]byte, n)
		copy(data, u.buf[:n])
		out = append(out, Datagram{Data: data, Addr: addr})
	}
	return out, nil
}

func (u *UDP) LocalAddr() net.Addr { return u.conn.LocalAddr() }

func (u *UDP) Close() error { return u.conn.Close() }

var _ Conn = (*UDP)(nil)
