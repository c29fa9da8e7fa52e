package server

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"laneracer/protocol"
)

// Config 服务端运行配置（网络、调度、日志），玩法参数在 Rules 中
type Config struct {
	ListenAddr string        // UDP 监听地址，默认所有网卡 :9999
	AdminAddr  string        // 管理 HTTP 地址，空表示不启用
	WireFormat string        // json | msgpack
	TickRate   int           // 每秒 Tick 数
	MaxDelta   time.Duration // 单 Tick dt 上限，吸收调度抖动
	PollWait   time.Duration // 接收轮询单次最长阻塞

	WaitPoll    time.Duration // 等待玩家时的轮询间隔
	WaitTimeout time.Duration // 等待玩家的超时（超时后记录并继续等待）
	StartDelay  time.Duration // 有玩家后到开局的准备时间
	RoundPause  time.Duration // 一局结束到下一轮等待的间隔

	Seed  int64 // 随机种子，0 表示按时间
	Rules Rules
	Log   LogConfig
}

// Rules 玩法参数；由 DefaultRules 给出默认值，部分字段可经管理接口在运行期调整
type Rules struct {
	ScreenWidth  float64
	ScreenHeight float64
	LaneX        [LaneCount]float64
	StartLane    int
	StartY       float64
	MinY         float64
	MaxY         float64

	VerticalSpeed      float64       // 像素/秒
	LaneChangeDuration time.Duration // 换道动画时长
	LateGameLaneFactor float64       // 进度超过 0.7 后换道时长系数
	LaneChangeLockout  time.Duration // 碰撞后禁止换道的时长

	BlinkDuration      time.Duration // 无敌（闪烁）窗口
	CollisionCooldown  time.Duration // 仅下发给客户端展示
	StreakReset        time.Duration // 连续碰撞计数的重置间隔
	StreakPenaltyStep  float64
	PlayerHalfWidth    float64
	PlayerHalfHeight   float64
	ObstaclePadding    float64
	DespawnBuffer      float64
	MaxScore           float64
	BaseDuration       time.Duration
	HeartbeatTimeout   time.Duration
	BaseSpawnCooldown  time.Duration
	BaseSpawnChance    float64
	MaxObstacles       int
	TypeCooldowns      bool // 是否启用每种障碍物的最小冷却，默认关闭
	ObstacleTypes      []ObstacleType
	MaxNameLength      int
	DefaultPlayerName  string
}

// LogConfig 日志输出配置
type LogConfig struct {
	File       string
	Level      string
	Console    bool
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultRules 全部玩法常量的默认值
func DefaultRules() Rules {
	return Rules{
		ScreenWidth:        1000,
		ScreenHeight:       700,
		LaneX:              [LaneCount]float64{300, 500, 700},
		StartLane:          1,
		StartY:             300,
		MinY:               100,
		MaxY:               600,
		VerticalSpeed:      200,
		LaneChangeDuration: 300 * time.Millisecond,
		LateGameLaneFactor: 0.8,
		LaneChangeLockout:  500 * time.Millisecond,
		BlinkDuration:      1500 * time.Millisecond,
		CollisionCooldown:  2 * time.Second,
		StreakReset:        3 * time.Second,
		StreakPenaltyStep:  0.3,
		PlayerHalfWidth:    30,
		PlayerHalfHeight:   40,
		ObstaclePadding:    5,
		DespawnBuffer:      100,
		MaxScore:           300,
		BaseDuration:       40 * time.Second,
		HeartbeatTimeout:   5 * time.Second,
		BaseSpawnCooldown:  1500 * time.Millisecond,
		BaseSpawnChance:    0.7,
		MaxObstacles:       8,
		ObstacleTypes:      DefaultObstacleTypes(),
		MaxNameLength:      20,
		DefaultPlayerName:  "Player",
	}
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		ListenAddr:  ":9999",
		AdminAddr:   "",
		WireFormat:  protocol.FormatJSON,
		TickRate:    60,
		MaxDelta:    100 * time.Millisecond,
		PollWait:    time.Millisecond,
		WaitPoll:    500 * time.Millisecond,
		WaitTimeout: 30 * time.Second,
		StartDelay:  2 * time.Second,
		RoundPause:  5 * time.Second,
		Rules:       DefaultRules(),
		Log: LogConfig{
			File:       "server.log",
			Level:      "info",
			Console:    true,
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// TickInterval 固定 Tick 周期
func (c Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}

// PointsPerTick 每 Tick 基础得分：满分 /（基础时长 × Tick 率）
func (c Config) PointsPerTick() float64 {
	return c.Rules.MaxScore / (c.Rules.BaseDuration.Seconds() * float64(c.TickRate))
}

// Validate 检查配置是否可用
func (c Config) Validate() error {
	var errs []error
	if c.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("tick rate must be > 0, got %d", c.TickRate))
	}
	if c.MaxDelta <= 0 {
		errs = append(errs, errors.New("max delta must be > 0"))
	}
	if _, err := protocol.CodecByName(c.WireFormat); err != nil {
		errs = append(errs, err)
	}
	r := c.Rules
	if r.StartLane < 0 || r.StartLane >= LaneCount {
		errs = append(errs, fmt.Errorf("start lane %d out of range", r.StartLane))
	}
	if r.MinY > r.MaxY {
		errs = append(errs, fmt.Errorf("min y %.1f above max y %.1f", r.MinY, r.MaxY))
	}
	if r.MaxScore <= 0 || r.BaseDuration <= 0 {
		errs = append(errs, errors.New("max score and base duration must be > 0"))
	}
	if r.LaneChangeDuration <= 0 {
		errs = append(errs, errors.New("lane change duration must be > 0"))
	}
	if len(r.ObstacleTypes) == 0 {
		errs = append(errs, errors.New("at least one obstacle type is required"))
	}
	return errors.Join(errs...)
}

// LoadConfig 读取 .env（不存在不报错）后用 RACER_* 环境变量覆盖默认值
func LoadConfig(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	cfg := DefaultConfig()
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s=%q: %w", key, v, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s=%q: %w", key, v, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s=%q: %w", key, v, err))
				return
			}
			*dst = b
		}
	}

	str("RACER_LISTEN_ADDR", &cfg.ListenAddr)
	str("RACER_ADMIN_ADDR", &cfg.AdminAddr)
	str("RACER_WIRE_FORMAT", &cfg.WireFormat)
	integer("RACER_TICK_RATE", &cfg.TickRate)
	duration("RACER_MAX_DELTA", &cfg.MaxDelta)
	duration("RACER_WAIT_TIMEOUT", &cfg.WaitTimeout)
	duration("RACER_START_DELAY", &cfg.StartDelay)
	duration("RACER_ROUND_PAUSE", &cfg.RoundPause)
	duration("RACER_HEARTBEAT_TIMEOUT", &cfg.Rules.HeartbeatTimeout)
	duration("RACER_BASE_DURATION", &cfg.Rules.BaseDuration)
	integer("RACER_MAX_OBSTACLES", &cfg.Rules.MaxObstacles)
	boolean("RACER_TYPE_COOLDOWNS", &cfg.Rules.TypeCooldowns)
	str("RACER_LOG_FILE", &cfg.Log.File)
	str("RACER_LOG_LEVEL", &cfg.Log.Level)
	boolean("RACER_LOG_CONSOLE", &cfg.Log.Console)
	if v, ok := lookup("RACER_SEED"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid RACER_SEED=%q: %w", v, err))
		} else {
			cfg.Seed = n
		}
	}
	return errors.Join(errs...)
}
