package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/nsf/termbox-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"laneracer/client"
	"laneracer/transport"
)

// 终端客户端：termbox 读取方向键并绘制赛道，每帧调用 client.Frame
func main() {
	cfg := client.DefaultConfig()
	var serverAddr, logFile string
	flag.StringVar(&serverAddr, "server", "127.0.0.1:9999", "server UDP address")
	flag.StringVar(&cfg.Name, "name", cfg.Name, "player name")
	flag.StringVar(&cfg.WireFormat, "wire", cfg.WireFormat, "wire format: json or msgpack")
	flag.StringVar(&logFile, "log", "client.log", "log file (the terminal is used for drawing)")
	flag.Parse()

	log := newFileLogger(logFile)
	defer func() { _ = log.Sync() }()

	conn, addr, err := transport.Dial(serverAddr, time.Millisecond)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", serverAddr, err)
		os.Exit(1)
	}
	c, err := client.New(conn, addr, cfg, log)
	if err != nil {
		_ = conn.Close()
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	if err := termbox.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "termbox: %v\n", err)
		os.Exit(1)
	}
	defer termbox.Close()

	events := make(chan termbox.Event, 16)
	go func() {
		for {
			ev := termbox.PollEvent()
			if ev.Type == termbox.EventInterrupt {
				return
			}
			events <- ev
		}
	}()

	keys := newHeldKeys(150 * time.Millisecond)
	ticker := time.NewTicker(time.Second / 60)
	defer ticker.Stop()
	for now := range ticker.C {
	drain:
		for {
			select {
			case ev := <-events:
				if ev.Type == termbox.EventKey {
					if ev.Key == termbox.KeyEsc || ev.Key == termbox.KeyCtrlC || ev.Ch == 'q' {
						termbox.Interrupt()
						return
					}
					keys.press(ev.Key, now)
				}
			default:
				break drain
			}
		}
		draw(c.Frame(now, keys.state(now)), cfg.Name)
	}
}

// heldKeys 终端没有按键抬起事件：最近一次按下后的短时间内视为按住
type heldKeys struct {
	hold time.Duration
	last map[termbox.Key]time.Time
}

func newHeldKeys(hold time.Duration) *heldKeys {
	return &heldKeys{hold: hold, last: make(map[termbox.Key]time.Time)}
}

func (h *heldKeys) press(k termbox.Key, now time.Time) { h.last[k] = now }

func (h *heldKeys) down(k termbox.Key, now time.Time) bool {
	t, ok := h.last[k]
	return ok && now.Sub(t) <= h.hold
}

func (h *heldKeys) state(now time.Time) client.Keys {
	return client.Keys{
		Left:  h.down(termbox.KeyArrowLeft, now),
		Right: h.down(termbox.KeyArrowRight, now),
		Up:    h.down(termbox.KeyArrowUp, now),
		Down:  h.down(termbox.KeyArrowDown, now),
	}
}

func newFileLogger(path string) *zap.SugaredLogger {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(enc),
		zapcore.AddSync(&lumberjack.Logger{Filename: path, MaxSize: 5, MaxBackups: 1}),
		zapcore.InfoLevel,
	)
	return zap.New(core).Sugar()
}
