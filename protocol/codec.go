package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec 负责消息与字节之间的转换；JSON 与 msgpack 两种实现，两端须一致
type Codec interface {
	Name() string
	Encode(m Message) ([]byte, error)
	Decode(b []byte) (Message, error)
}

const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// CodecByName 按名称选择编解码器，空字符串等价于 json
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", FormatJSON:
		return JSONCodec{}, nil
	case FormatMsgpack:
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown wire format %q", name)
	}
}

// DecodeErrorKind 解码失败的分类
type DecodeErrorKind string

const (
	KindMalformed    DecodeErrorKind = "malformed"
	KindMissingField DecodeErrorKind = "missing_field"
	KindUnknownType  DecodeErrorKind = "unknown_type"
)

// DecodeError 解码失败：调用方记录日志后丢弃该报文
type DecodeError struct {
	Kind  DecodeErrorKind
	Type  string
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case KindMissingField:
		return fmt.Sprintf("decode %s: missing field %q", e.Type, e.Field)
	case KindUnknownType:
		return fmt.Sprintf("decode: unknown message type %q", e.Type)
	default:
		return fmt.Sprintf("decode: malformed payload: %v", e.Err)
	}
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsUnknownType 报告错误是否为未知消息类型
func IsUnknownType(err error) bool {
	var de *DecodeError
	return errors.As(err, &de) && de.Kind == KindUnknownType
}

// Flag 输入标志：兼容布尔值与 0/1 数字两种写法
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	switch s := string(bytes.TrimSpace(b)); s {
	case "true":
		*f = true
	case "false", "null":
		*f = false
	default:
		var n float64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("flag: %w", err)
		}
		*f = n != 0
	}
	return nil
}

func (f *Flag) DecodeMsgpack(dec *msgpack.Decoder) error {
	v, err := dec.DecodeInterfaceLoose()
	if err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*f = false
	case bool:
		*f = Flag(x)
	case int64:
		*f = x != 0
	case uint64:
		*f = x != 0
	case float64:
		*f = x != 0
	default:
		return fmt.Errorf("flag: unsupported value %T", v)
	}
	return nil
}

// inbound 是入站报文的扁平结构；必填字段用指针以区分“缺失”和“零值”
type inbound struct {
	Type          *string                 `json:"type"`
	Name          *string                 `json:"name"`
	ID            *int                    `json:"id"`
	ObstacleTypes map[string]ObstacleSpec `json:"obstacle_types"`
	Settings      Settings                `json:"settings"`
	Left          Flag                    `json:"left"`
	Right         Flag                    `json:"right"`
	Up            Flag                    `json:"up"`
	Down          Flag                    `json:"down"`
	Seq           *uint64                 `json:"seq"`
	RoundID       string                  `json:"round_id"`
	Players       []PlayerState           `json:"players"`
	Obstacles     []ObstacleState         `json:"obstacles"`
	TimeLeft      float64                 `json:"time_left"`
	GameRunning   bool                    `json:"game_running"`
	GameProgress  float64                 `json:"game_progress"`
	Difficulty    float64                 `json:"difficulty"`
	TotalPlayers  int                     `json:"total_players"`
	ServerTime    float64                 `json:"server_time"`
}

// toMessage 将入站结构映射为具体消息类型（穷举所有已知类型）
func (w *inbound) toMessage() (Message, error) {
	if w.Type == nil {
		return nil, &DecodeError{Kind: KindMissingField, Field: "type"}
	}
	t := *w.Type
	switch t {
	case TypeJoin:
		if w.Name == nil {
			return nil, &DecodeError{Kind: KindMissingField, Type: t, Field: "name"}
		}
		return Join{Name: *w.Name}, nil
	case TypeJoinAck:
		if w.ID == nil {
			return nil, &DecodeError{Kind: KindMissingField, Type: t, Field: "id"}
		}
		return JoinAck{ID: *w.ID, ObstacleTypes: w.ObstacleTypes, Settings: w.Settings}, nil
	case TypeInput:
		return Input{Left: bool(w.Left), Right: bool(w.Right), Up: bool(w.Up), Down: bool(w.Down)}, nil
	case TypeHeartbeat:
		return Heartbeat{}, nil
	case TypeHeartbeatAck:
		return HeartbeatAck{}, nil
	case TypeLeave:
		return Leave{}, nil
	case TypeState:
		if w.Seq == nil {
			return nil, &DecodeError{Kind: KindMissingField, Type: t, Field: "seq"}
		}
		return State{
			Seq:          *w.Seq,
			RoundID:      w.RoundID,
			Players:      w.Players,
			Obstacles:    w.Obstacles,
			TimeLeft:     w.TimeLeft,
			GameRunning:  w.GameRunning,
			GameProgress: w.GameProgress,
			Difficulty:   w.Difficulty,
			TotalPlayers: w.TotalPlayers,
			ServerTime:   w.ServerTime,
		}, nil
	default:
		return nil, &DecodeError{Kind: KindUnknownType, Type: t}
	}
}

// 出站结构：每种消息只写出自己的字段
type (
	bareOut struct {
		Type string `json:"type"`
	}
	joinOut struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	joinAckOut struct {
		Type          string                  `json:"type"`
		ID            int                     `json:"id"`
		ObstacleTypes map[string]ObstacleSpec `json:"obstacle_types"`
		Settings      Settings                `json:"settings"`
	}
	inputOut struct {
		Type  string `json:"type"`
		Left  bool   `json:"left"`
		Right bool   `json:"right"`
		Up    bool   `json:"up"`
		Down  bool   `json:"down"`
	}
	stateOut struct {
		Type         string          `json:"type"`
		Seq          uint64          `json:"seq"`
		RoundID      string          `json:"round_id"`
		Players      []PlayerState   `json:"players"`
		Obstacles    []ObstacleState `json:"obstacles"`
		TimeLeft     float64         `json:"time_left"`
		GameRunning  bool            `json:"game_running"`
		GameProgress float64         `json:"game_progress"`
		Difficulty   float64         `json:"difficulty"`
		TotalPlayers int             `json:"total_players"`
		ServerTime   float64         `json:"server_time"`
	}
)

func outbound(m Message) (any, error) {
	switch v := m.(type) {
	case Join:
		return joinOut{Type: TypeJoin, Name: v.Name}, nil
	case JoinAck:
		return joinAckOut{Type: TypeJoinAck, ID: v.ID, ObstacleTypes: v.ObstacleTypes, Settings: v.Settings}, nil
	case Input:
		return inputOut{Type: TypeInput, Left: v.Left, Right: v.Right, Up: v.Up, Down: v.Down}, nil
	case Heartbeat, HeartbeatAck, Leave:
		return bareOut{Type: v.Type()}, nil
	case State:
		players, obstacles := v.Players, v.Obstacles
		if players == nil {
			players = []PlayerState{}
		}
		if obstacles == nil {
			obstacles = []ObstacleState{}
		}
		return stateOut{
			Type:         TypeState,
			Seq:          v.Seq,
			RoundID:      v.RoundID,
			Players:      players,
			Obstacles:    obstacles,
			TimeLeft:     v.TimeLeft,
			GameRunning:  v.GameRunning,
			GameProgress: v.GameProgress,
			Difficulty:   v.Difficulty,
			TotalPlayers: v.TotalPlayers,
			ServerTime:   v.ServerTime,
		}, nil
	case nil:
		return nil, errors.New("encode: nil message")
	default:
		return nil, fmt.Errorf("encode: unsupported message %T", m)
	}
}

// JSONCodec 紧凑 JSON（无换行），与原始客户端兼容
type JSONCodec struct{}

func (JSONCodec) Name() string { return FormatJSON }

func (JSONCodec) Encode(m Message) ([]byte, error) {
	out, err := outbound(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func (JSONCodec) Decode(b []byte) (Message, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, &DecodeError{Kind: KindMalformed, Err: errors.New("empty payload")}
	}
	var w inbound
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, &DecodeError{Kind: KindMalformed, Err: err}
	}
	return w.toMessage()
}

// MsgpackCodec 二进制编码，字段名沿用 json 标签
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return FormatMsgpack }

func (MsgpackCodec) Encode(m Message) ([]byte, error) {
	out, err := outbound(m)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.UseCompactInts(true)
	if err := enc.Encode(out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (MsgpackCodec) Decode(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, &DecodeError{Kind: KindMalformed, Err: errors.New("empty payload")}
	}
	var w inbound
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(&w); err != nil {
		return nil, &DecodeError{Kind: KindMalformed, Err: err}
	}
	return w.toMessage()
}
