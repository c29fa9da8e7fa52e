package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"laneracer/protocol"
)

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAdminHealthz(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	rec := doRequest(t, NewAdminRouter(s), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}
}

func TestAdminMetrics(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	s.world.Join("alice", addr(1), t0)
	rec := doRequest(t, NewAdminRouter(s), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
	var payload struct {
		Phase   string         `json:"phase"`
		Players int            `json:"players"`
		Metrics map[string]any `json:"metrics"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if payload.Phase != "idle" || payload.Players != 1 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if _, ok := payload.Metrics["tick_count"]; !ok {
		t.Fatalf("metrics snapshot missing tick_count")
	}
}

func TestAdminConfigGetAndUpdate(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := NewAdminRouter(s)

	rec := doRequest(t, h, http.MethodGet, "/admin/config", "")
	var cur tunables
	if err := json.Unmarshal(rec.Body.Bytes(), &cur); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if *cur.MaxObstacles != 8 || *cur.BaseSpawnCooldownMs != 1500 || *cur.TypeCooldowns {
		t.Fatalf("unexpected defaults: %s", rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodPost, "/admin/config", `{"max_obstacles":3,"type_cooldowns":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status %d: %s", rec.Code, rec.Body.String())
	}
	r := s.world.Rules()
	if r.MaxObstacles != 3 || !r.TypeCooldowns || r.BaseSpawnChance != 0.7 {
		t.Fatalf("rules after update: max=%d type=%t chance=%v", r.MaxObstacles, r.TypeCooldowns, r.BaseSpawnChance)
	}
}

func TestAdminConfigRejectsInvalid(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := NewAdminRouter(s)
	for _, body := range []string{
		`{`,
		`{"base_spawn_chance":2}`,
		`{"base_spawn_cooldown_ms":0}`,
		`{"max_obstacles":-1}`,
	} {
		if rec := doRequest(t, h, http.MethodPost, "/admin/config", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status %d, want 400", body, rec.Code)
		}
	}
	if s.world.Rules().MaxObstacles != 8 {
		t.Fatalf("rejected update modified rules")
	}
}

func TestAdminPlayers(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	s.world.Join("alice", addr(1), t0)
	s.world.Join("bob", addr(2), t0)
	rec := doRequest(t, NewAdminRouter(s), http.MethodGet, "/admin/players", "")
	var players []PlayerInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &players); err != nil {
		t.Fatalf("decode players: %v", err)
	}
	if len(players) != 2 || players[0].Name != "alice" || players[1].ID != 2 {
		t.Fatalf("players = %+v", players)
	}
}

func TestSpectatorReceivesBroadcastState(t *testing.T) {
	cfg := testConfig()
	cfg.WireFormat = protocol.FormatMsgpack
	s, conn := newTestServer(t, cfg)
	srv := httptest.NewServer(NewAdminRouter(s))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/spectate", nil)
	if err != nil {
		t.Fatalf("dial spectator: %v", err)
	}
	defer ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.spectators.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("spectator never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.world.Join("alice", addr(1), t0)
	s.world.ResetRound(t0)
	st, recipients := s.world.Snapshot(t0)
	s.broadcast(st, recipients)

	if len(conn.packets()) != 1 {
		t.Fatalf("player should receive the msgpack state too")
	}

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read spectator frame: %v", err)
	}
	m, err := (protocol.JSONCodec{}).Decode(data)
	if err != nil {
		t.Fatalf("spectator frame is not JSON state: %v", err)
	}
	got, ok := m.(protocol.State)
	if !ok || got.Seq != st.Seq || len(got.Players) != 1 {
		t.Fatalf("spectator state = %+v", m)
	}

	s.spectators.CloseAll()
	if s.spectators.Len() != 0 {
		t.Fatalf("spectators left after CloseAll")
	}
}
