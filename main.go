package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"laneracer/server"
	"laneracer/transport"
)

// 赛道竞速服务端入口：加载配置 → 绑定 UDP → 运行调度器（可选管理 HTTP）
func main() {
	var envFile, addr, adminAddr, wire string
	flag.StringVar(&envFile, "env", ".env", "optional dotenv file with RACER_* overrides")
	flag.StringVar(&addr, "addr", "", "UDP listen address, overrides RACER_LISTEN_ADDR (default :9999)")
	flag.StringVar(&adminAddr, "admin", "", "admin HTTP address, overrides RACER_ADMIN_ADDR (empty disables)")
	flag.StringVar(&wire, "wire", "", "wire format: json or msgpack")
	flag.Parse()

	cfg, err := server.LoadConfig(envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if addr != "" {
		cfg.ListenAddr = addr
	}
	if adminAddr != "" {
		cfg.AdminAddr = adminAddr
	}
	if wire != "" {
		cfg.WireFormat = wire
	}

	log, err := server.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	conn, err := transport.Listen(cfg.ListenAddr, cfg.PollWait)
	if err != nil {
		// 端口被占用等绑定失败属于致命错误
		log.Errorf("failed to bind %s: %v", cfg.ListenAddr, err)
		_ = log.Sync()
		os.Exit(1)
	}

	srv, err := server.New(cfg, conn, log)
	if err != nil {
		log.Errorf("server: %v", err)
		_ = conn.Close()
		_ = log.Sync()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var admin *http.Server
	if cfg.AdminAddr != "" {
		admin = &http.Server{Addr: cfg.AdminAddr, Handler: server.NewAdminRouter(srv)}
		go func() {
			log.Infof("admin listening on http://%s", cfg.AdminAddr)
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("admin listen: %v", err)
			}
		}()
	}

	if err := srv.Run(ctx); err != nil {
		log.Errorf("server stopped with error: %v", err)
	}
	_ = conn.Close()

	if admin != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := admin.Shutdown(shutdownCtx); err != nil {
			log.Warnf("admin shutdown: %v", err)
		}
	}
}
