package server

import (
	"net"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// Sessions 按来源地址跟踪已连接玩家；不自带锁，调用方须持有 World.mu
type Sessions struct {
	rules  Rules
	byAddr map[string]*Player
	nextID PlayerID
}

func newSessions(r Rules) *Sessions {
	return &Sessions{rules: r, byAddr: make(map[string]*Player), nextID: 1}
}

// Join 同一地址重复加入时只更新名字与活跃时间并返回原 ID（幂等重连）
func (s *Sessions) Join(name string, addr net.Addr, now time.Time) (*Player, bool) {
	name = s.cleanName(name)
	key := addr.String()
	if p, ok := s.byAddr[key]; ok {
		p.Name = name
		p.LastSeen = now
		return p, false
	}
	p := newPlayer(s.nextID, name, addr, now, s.rules)
	s.nextID++
	s.byAddr[key] = p
	return p, true
}

// Touch 刷新活跃时间；未知地址返回 false
func (s *Sessions) Touch(addr net.Addr, now time.Time) (*Player, bool) {
	p, ok := s.byAddr[addr.String()]
	if !ok {
		return nil, false
	}
	p.LastSeen = now
	return p, true
}

// Leave 立即移除，无宽限期
func (s *Sessions) Leave(addr net.Addr) (*Player, bool) {
	key := addr.String()
	p, ok := s.byAddr[key]
	if ok {
		delete(s.byAddr, key)
	}
	return p, ok
}

// Sweep 移除超过心跳超时仍无活动的玩家，返回被移除者
func (s *Sessions) Sweep(now time.Time) []*Player {
	var removed []*Player
	for key, p := range s.byAddr {
		if now.Sub(p.LastSeen) > s.rules.HeartbeatTimeout {
			removed = append(removed, p)
			delete(s.byAddr, key)
		}
	}
	sortByID(removed)
	return removed
}

// Lookup 按地址查找
func (s *Sessions) Lookup(addr net.Addr) (*Player, bool) {
	p, ok := s.byAddr[addr.String()]
	return p, ok
}

func (s *Sessions) Len() int { return len(s.byAddr) }

// Players 按 ID 排序的玩家列表，保证广播与碰撞检测顺序稳定
func (s *Sessions) Players() []*Player {
	out := make([]*Player, 0, len(s.byAddr))
	for _, p := range s.byAddr {
		out = append(out, p)
	}
	sortByID(out)
	return out
}

func (s *Sessions) cleanName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return s.rules.DefaultPlayerName
	}
	if s.rules.MaxNameLength > 0 && utf8.RuneCountInString(name) > s.rules.MaxNameLength {
		name = string([]rune(name)[:s.rules.MaxNameLength])
	}
	return name
}

func sortByID(ps []*Player) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
}
