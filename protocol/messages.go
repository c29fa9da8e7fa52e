package protocol

// 消息类型标识（线上字段 "type"）
const (
	TypeJoin         = "join"
	TypeJoinAck      = "join_ack"
	TypeInput        = "input"
	TypeHeartbeat    = "heartbeat"
	TypeHeartbeatAck = "heartbeat_ack"
	TypeLeave        = "leave"
	TypeState        = "state"
)

// Message 是所有线上消息的封闭集合，每种消息一个具体类型
type Message interface {
	Type() string
	isMessage()
}

// Join 客户端请求加入（唯一需要可靠送达的消息，由客户端重试保证）
type Join struct {
	Name string
}

// JoinAck 服务端确认加入，携带分配的 ID、障碍物类型表和部分规则参数
type JoinAck struct {
	ID            int
	ObstacleTypes map[string]ObstacleSpec
	Settings      Settings
}

// Input 客户端输入标志；同时充当空闲时的心跳
type Input struct {
	Left, Right, Up, Down bool
}

type Heartbeat struct{}

type HeartbeatAck struct{}

type Leave struct{}

// State 每个 Tick 广播的权威状态快照
type State struct {
	Seq          uint64
	RoundID      string
	Players      []PlayerState
	Obstacles    []ObstacleState
	TimeLeft     float64
	GameRunning  bool
	GameProgress float64
	Difficulty   float64
	TotalPlayers int
	ServerTime   float64
}

// ObstacleSpec 障碍物类型的静态属性（随 join_ack 下发给客户端用于渲染）
type ObstacleSpec struct {
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Speed       float64 `json:"speed"`
	Penalty     int     `json:"penalty"`
	Color       string  `json:"color"`
	SpawnWeight float64 `json:"spawn_weight"`
	MinCooldown float64 `json:"min_cooldown"`
}

// Settings 客户端需要知道的规则参数
type Settings struct {
	BlinkDuration     float64 `json:"blink_duration"`
	CollisionCooldown float64 `json:"collision_cooldown"`
}

// PlayerState 广播中的单个玩家
type PlayerState struct {
	ID           int     `json:"id"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Name         string  `json:"name"`
	Score        float64 `json:"score"`
	Finished     bool    `json:"finished"`
	Lane         int     `json:"lane"`
	Blink        float64 `json:"blink"`
	TargetLane   int     `json:"target_lane"`
	MoveProgress float64 `json:"move_progress"`
}

// ObstacleState 广播中的单个障碍物
type ObstacleState struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Lane   int     `json:"lane"`
	ID     uint64  `json:"id"`
	Type   string  `json:"type"`
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (Join) Type() string         { return TypeJoin }
func (JoinAck) Type() string      { return TypeJoinAck }
func (Input) Type() string        { return TypeInput }
func (Heartbeat) Type() string    { return TypeHeartbeat }
func (HeartbeatAck) Type() string { return TypeHeartbeatAck }
func (Leave) Type() string        { return TypeLeave }
func (State) Type() string        { return TypeState }

func (Join) isMessage()         {}
func (JoinAck) isMessage()      {}
func (Input) isMessage()        {}
func (Heartbeat) isMessage()    {}
func (HeartbeatAck) isMessage() {}
func (Leave) isMessage()        {}
func (State) isMessage()        {}

// Any 任一方向键是否按下
func (in Input) Any() bool {
	return in.Left || in.Right || in.Up || in.Down
}
