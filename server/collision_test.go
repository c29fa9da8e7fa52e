package server

import (
	"math"
	"testing"
	"time"
)

func TestCollisionSameLaneAppliesOnce(t *testing.T) {
	r := DefaultRules()
	p := testPlayer(1, r)
	p.Score = 100
	obstacles := []*Obstacle{testObstacle("car", 1, p.Y, r)}

	kept, hits := resolveCollisions([]*Player{p}, obstacles, t0, r)
	if len(hits) != 1 || hits[0].Penalty != 10 {
		t.Fatalf("hits = %+v", hits)
	}
	if len(kept) != 0 {
		t.Fatalf("colliding obstacle must be removed")
	}
	if p.Score != 90 || p.Streak != 1 || !p.Blink.Equal(t0) || !p.LastCollision.Equal(t0) {
		t.Fatalf("after hit: score=%v streak=%d blink=%v", p.Score, p.Streak, p.Blink)
	}

	_, hits = resolveCollisions([]*Player{p}, kept, t0.Add(time.Second), r)
	if len(hits) != 0 {
		t.Fatalf("removed obstacle hit again")
	}
}

func TestCollisionDifferentLaneNeverHits(t *testing.T) {
	r := DefaultRules()
	p := testPlayer(1, r)
	o := testObstacle("truck", 0, p.Y, r)
	// 即使包围盒重叠，车道不同也不算碰撞
	o.X = p.X
	kept, hits := resolveCollisions([]*Player{p}, []*Obstacle{o}, t0, r)
	if len(hits) != 0 || len(kept) != 1 {
		t.Fatalf("different lane collided: hits=%d kept=%d", len(hits), len(kept))
	}
}

func TestCollisionNoOverlapSameLane(t *testing.T) {
	r := DefaultRules()
	p := testPlayer(1, r)
	o := testObstacle("car", 1, p.Y-200, r)
	if _, hits := resolveCollisions([]*Player{p}, []*Obstacle{o}, t0, r); len(hits) != 0 {
		t.Fatalf("non-overlapping obstacle collided")
	}
}

func TestCollisionSkipsInvulnerablePlayer(t *testing.T) {
	r := DefaultRules()
	p := testPlayer(1, r)
	p.Score = 50
	p.Blink = t0.Add(-time.Second)

	kept, hits := resolveCollisions([]*Player{p}, []*Obstacle{testObstacle("car", 1, p.Y, r)}, t0, r)
	if len(hits) != 0 || len(kept) != 1 || p.Score != 50 {
		t.Fatalf("invulnerable player was hit")
	}

	p.Blink = t0.Add(-1500 * time.Millisecond)
	if _, hits := resolveCollisions([]*Player{p}, kept, t0, r); len(hits) != 1 {
		t.Fatalf("player should be hittable once the blink window has passed")
	}
}

func TestCollisionSkipsFinishedPlayer(t *testing.T) {
	r := DefaultRules()
	p := testPlayer(1, r)
	p.Score, p.Finished = 300, true
	_, hits := resolveCollisions([]*Player{p}, []*Obstacle{testObstacle("bus", 1, p.Y, r)}, t0, r)
	if len(hits) != 0 || p.Score != 300 {
		t.Fatalf("finished player was penalized")
	}
}

func TestCollisionFirstPlayerByIDWins(t *testing.T) {
	r := DefaultRules()
	a, b := testPlayer(1, r), testPlayer(2, r)
	a.Score, b.Score = 100, 100
	_, hits := resolveCollisions([]*Player{a, b}, []*Obstacle{testObstacle("car", 1, a.Y, r)}, t0, r)
	if len(hits) != 1 || hits[0].Player != a {
		t.Fatalf("expected exactly one hit on player 1, got %+v", hits)
	}
	if b.Score != 100 || !b.Blink.IsZero() {
		t.Fatalf("second player must not be affected")
	}
}

func TestCollisionStreakPenalty(t *testing.T) {
	r := DefaultRules()
	p := testPlayer(1, r)
	p.Score = 200
	p.Streak = 2
	p.LastCollision = t0.Add(-2 * time.Second)

	_, hits := resolveCollisions([]*Player{p}, []*Obstacle{testObstacle("car", 1, p.Y, r)}, t0, r)
	// int(10 × 1.6)
	if len(hits) != 1 || hits[0].Penalty != 16 || p.Score != 184 || p.Streak != 3 {
		t.Fatalf("streak penalty: hits=%+v score=%v streak=%d", hits, p.Score, p.Streak)
	}
}

func TestCollisionStreakResetsAfterQuietPeriod(t *testing.T) {
	r := DefaultRules()
	p := testPlayer(1, r)
	p.Score = 200
	p.Streak = 3
	p.LastCollision = t0.Add(-3500 * time.Millisecond)

	_, hits := resolveCollisions([]*Player{p}, []*Obstacle{testObstacle("car", 1, p.Y, r)}, t0, r)
	if len(hits) != 1 || hits[0].Penalty != 10 || p.Streak != 1 {
		t.Fatalf("streak should reset before scoring: hits=%+v streak=%d", hits, p.Streak)
	}
}

func TestCollisionScoreNeverNegative(t *testing.T) {
	r := DefaultRules()
	p := testPlayer(1, r)
	p.Score = 5
	resolveCollisions([]*Player{p}, []*Obstacle{testObstacle("bus", 1, p.Y, r)}, t0, r)
	if p.Score != 0 {
		t.Fatalf("score = %v, want 0", p.Score)
	}
}

func TestAwardPoints(t *testing.T) {
	r := DefaultRules()
	ppt := DefaultConfig().PointsPerTick()
	if ppt != 0.125 {
		t.Fatalf("points per tick = %v, want 0.125", ppt)
	}

	calm, streaky := testPlayer(1, r), testPlayer(2, r)
	streaky.Streak = 10
	awardPoints([]*Player{calm, streaky}, ppt, 0, t0, r)
	if calm.Score != 0.125 {
		t.Fatalf("calm score = %v", calm.Score)
	}
	if streaky.Score != 0.0625 {
		t.Fatalf("collision modifier must floor at 0.5, score = %v", streaky.Score)
	}

	late := testPlayer(3, r)
	awardPoints([]*Player{late}, ppt, 1, t0, r)
	if math.Abs(late.Score-0.125*1.3) > 1e-12 {
		t.Fatalf("difficulty bonus: score = %v", late.Score)
	}
}

func TestAwardPointsFinishIsOneWay(t *testing.T) {
	r := DefaultRules()
	p := testPlayer(1, r)
	p.Score = 299.95

	finished := awardPoints([]*Player{p}, 0.125, 0, t0, r)
	if len(finished) != 1 || !p.Finished || p.Score != r.MaxScore || !p.Blink.Equal(t0) {
		t.Fatalf("finish not recorded: finished=%d score=%v", len(finished), p.Score)
	}
	if again := awardPoints([]*Player{p}, 0.125, 0, t0.Add(time.Second), r); len(again) != 0 {
		t.Fatalf("finish reported twice")
	}
	if p.Score != r.MaxScore || !p.Finished {
		t.Fatalf("finished player changed: score=%v finished=%t", p.Score, p.Finished)
	}
}
