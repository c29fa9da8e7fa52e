package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"go.uber.org/zap"
)

// NewAdminRouter 管理与监控接口：
//
//	GET  /healthz          存活检查
//	GET  /metrics          运行指标与当前局信息
//	GET  /admin/config     当前可调参数
//	POST /admin/config     以 JSON 载荷更新部分字段
//	GET  /admin/players    玩家会话列表
//	GET  /ws/spectate      旁观者 WebSocket（只读 JSON 状态流）
func NewAdminRouter(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(requestLogger(s.log))
		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("ok"))
		})
		r.Get("/metrics", s.handleMetrics)
		r.Get("/admin/config", s.handleGetConfig)
		r.Post("/admin/config", s.handleUpdateConfig)
		r.Get("/admin/players", s.handlePlayers)
	})
	// 长连接不经过请求日志
	r.Get("/ws/spectate", s.spectators.HandleWS)
	return r
}

// requestLogger 以 zap 记录每个请求的方法、路径、状态码与耗时
func requestLogger(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debugw("admin request",
				"id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"elapsed", time.Since(start),
			)
		})
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	round := s.world.RoundInfo()
	payload := map[string]any{
		"phase":      s.Phase().String(),
		"round_id":   round.ID.String(),
		"seq":        round.Seq,
		"players":    s.world.PlayerCount(),
		"difficulty": round.Difficulty.Level,
		"metrics":    s.metrics.Snapshot(),
	}
	writeJSON(w, http.StatusOK, payload)
}

// tunables 运行期可调参数；指针字段用于区分“未提供”
type tunables struct {
	MaxObstacles        *int     `json:"max_obstacles,omitempty"`
	BaseSpawnCooldownMs *int     `json:"base_spawn_cooldown_ms,omitempty"`
	BaseSpawnChance     *float64 `json:"base_spawn_chance,omitempty"`
	TypeCooldowns       *bool    `json:"type_cooldowns,omitempty"`
}

func currentTunables(r Rules) tunables {
	cooldown := int(r.BaseSpawnCooldown / time.Millisecond)
	return tunables{
		MaxObstacles:        &r.MaxObstacles,
		BaseSpawnCooldownMs: &cooldown,
		BaseSpawnChance:     &r.BaseSpawnChance,
		TypeCooldowns:       &r.TypeCooldowns,
	}
}

func (t tunables) validate() error {
	var errs []error
	if t.MaxObstacles != nil && *t.MaxObstacles < 0 {
		errs = append(errs, fmt.Errorf("max_obstacles must be >= 0, got %d", *t.MaxObstacles))
	}
	if t.BaseSpawnCooldownMs != nil && *t.BaseSpawnCooldownMs <= 0 {
		errs = append(errs, fmt.Errorf("base_spawn_cooldown_ms must be > 0, got %d", *t.BaseSpawnCooldownMs))
	}
	if t.BaseSpawnChance != nil && (*t.BaseSpawnChance < 0 || *t.BaseSpawnChance > 1) {
		errs = append(errs, fmt.Errorf("base_spawn_chance must be within [0,1], got %v", *t.BaseSpawnChance))
	}
	return errors.Join(errs...)
}

func (t tunables) apply(r *Rules) {
	if t.MaxObstacles != nil {
		r.MaxObstacles = *t.MaxObstacles
	}
	if t.BaseSpawnCooldownMs != nil {
		r.BaseSpawnCooldown = time.Duration(*t.BaseSpawnCooldownMs) * time.Millisecond
	}
	if t.BaseSpawnChance != nil {
		r.BaseSpawnChance = *t.BaseSpawnChance
	}
	if t.TypeCooldowns != nil {
		r.TypeCooldowns = *t.TypeCooldowns
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentTunables(s.world.Rules()))
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var body tunables
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := body.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rules := s.world.UpdateRules(body.apply)
	s.log.Infof("config updated: max_obstacles=%d base_spawn_cooldown=%s base_spawn_chance=%.2f type_cooldowns=%t",
		rules.MaxObstacles, rules.BaseSpawnCooldown, rules.BaseSpawnChance, rules.TypeCooldowns)
	writeJSON(w, http.StatusOK, currentTunables(rules))
}

func (s *Server) handlePlayers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.world.Players())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
