package client

import (
	"sort"

	"laneracer/protocol"
)

// PlayerView 渲染用的玩家视图：X/Y 为平滑后的渲染位置
type PlayerView struct {
	ID       int
	Name     string
	X, Y     float64
	TargetX  float64
	TargetY  float64
	Lane     int
	Score    float64
	Finished bool
	Blinking bool
}

// View 一帧的完整渲染输入
type View struct {
	PlayerID    int
	Joined      bool
	Unreachable bool

	RoundID    string
	Players    []PlayerView // 按 ID 排序
	Scoreboard []PlayerView // 按分数降序
	Obstacles  []protocol.ObstacleState
	TimeLeft   float64
	Running    bool
	Progress   float64
	Difficulty float64
	Ended      bool
	Winner     string
}

type tracked struct {
	target  protocol.PlayerState
	renderX float64
	renderY float64
}

// Reconciler 按序号过滤状态并平滑渲染位置
// 序号每局从 1 开始，round_id 变化时重置过滤器；已离开的局不再接受
type Reconciler struct {
	smoothing float64
	blink     float64

	roundID string
	lastSeq uint64
	haveSeq bool
	left    map[string]struct{} // 已被取代的 round_id

	players    map[int]*tracked
	obstacles  []protocol.ObstacleState
	timeLeft   float64
	running    bool
	progress   float64
	difficulty float64
	serverTime float64
}

func NewReconciler(smoothing float64) *Reconciler {
	return &Reconciler{
		smoothing: smoothing,
		players:   make(map[int]*tracked),
		left:      make(map[string]struct{}),
	}
}

// SetBlinkDuration 由 join_ack 下发的无敌时长（秒）
func (r *Reconciler) SetBlinkDuration(seconds float64) { r.blink = seconds }

// LastSeq 当前局已接受的最大序号
func (r *Reconciler) LastSeq() uint64 { return r.lastSeq }

// Apply 接受较新的状态；序号不大于已见序号、或来自已离开的局的状态被丢弃并返回 false
func (r *Reconciler) Apply(st protocol.State) bool {
	if st.RoundID != r.roundID {
		if _, ok := r.left[st.RoundID]; ok {
			// 乱序到达的上一局状态
			return false
		}
		if r.haveSeq {
			r.left[r.roundID] = struct{}{}
		}
		r.roundID = st.RoundID
		r.haveSeq = false
	}
	if r.haveSeq && st.Seq <= r.lastSeq {
		return false
	}
	r.lastSeq = st.Seq
	r.haveSeq = true

	next := make(map[int]*tracked, len(st.Players))
	for _, ps := range st.Players {
		t, ok := r.players[ps.ID]
		if !ok {
			// 首次出现直接对齐，避免从原点滑入
			t = &tracked{renderX: ps.X, renderY: ps.Y}
		}
		t.target = ps
		next[ps.ID] = t
	}
	r.players = next
	r.obstacles = append(r.obstacles[:0], st.Obstacles...)
	r.timeLeft = st.TimeLeft
	r.running = st.GameRunning
	r.progress = st.GameProgress
	r.difficulty = st.Difficulty
	r.serverTime = st.ServerTime
	return true
}

// Smooth 每帧调用一次：rendered += (target - rendered) * smoothing
func (r *Reconciler) Smooth() {
	for _, t := range r.players {
		t.renderX += (t.target.X - t.renderX) * r.smoothing
		t.renderY += (t.target.Y - t.renderY) * r.smoothing
	}
}

// View 生成渲染视图；本局结束后给出得分最高者
func (r *Reconciler) View() View {
	v := View{
		RoundID:    r.roundID,
		Players:    make([]PlayerView, 0, len(r.players)),
		Obstacles:  append([]protocol.ObstacleState(nil), r.obstacles...),
		TimeLeft:   r.timeLeft,
		Running:    r.running,
		Progress:   r.progress,
		Difficulty: r.difficulty,
	}
	for _, t := range r.players {
		v.Players = append(v.Players, PlayerView{
			ID:       t.target.ID,
			Name:     t.target.Name,
			X:        t.renderX,
			Y:        t.renderY,
			TargetX:  t.target.X,
			TargetY:  t.target.Y,
			Lane:     t.target.Lane,
			Score:    t.target.Score,
			Finished: t.target.Finished,
			Blinking: t.target.Blink > 0 && r.serverTime-t.target.Blink < r.blink,
		})
	}
	sort.Slice(v.Players, func(i, j int) bool { return v.Players[i].ID < v.Players[j].ID })

	v.Scoreboard = append([]PlayerView(nil), v.Players...)
	sort.SliceStable(v.Scoreboard, func(i, j int) bool { return v.Scoreboard[i].Score > v.Scoreboard[j].Score })

	// 服务端只在对局中广播，未运行的状态只可能是某局的最终状态
	if r.haveSeq && !r.running && len(v.Scoreboard) > 0 {
		v.Ended = true
		v.Winner = v.Scoreboard[0].Name
	}
	return v
}
