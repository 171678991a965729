package sound

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakePlayer struct {
	mu    sync.Mutex
	plays map[Kind]int
	err   error
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{plays: make(map[Kind]int)}
}

func (p *fakePlayer) Play(kind Kind) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays[kind]++
	return p.err
}

func (p *fakePlayer) count(kind Kind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays[kind]
}

func waitFor(t *testing.T, within time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", within)
}

func TestIndependentLoopsPerTable(t *testing.T) {
	p := newFakePlayer()
	c := NewController(p, 10*time.Millisecond, time.Second, zap.NewNop(), nil)
	defer c.StopAll()

	c.Play(KindStaffCall, 5)
	c.Play(KindStaffCall, 9)
	waitFor(t, time.Second, func() bool { return len(c.PlayingTables()) == 2 })

	c.Stop(5)
	got := c.PlayingTables()
	if len(got) != 1 || got[0] != 9 {
		t.Fatalf("stopping table 5 must not touch table 9: %v", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	p := newFakePlayer()
	c := NewController(p, 10*time.Millisecond, time.Second, zap.NewNop(), nil)

	c.Play(KindStaffCall, 5)
	c.Stop(5)
	c.Stop(5) // no panic, no effect
	if len(c.PlayingTables()) != 0 {
		t.Fatalf("expected no loops")
	}
}

func TestTimeoutStopsAlertOnly(t *testing.T) {
	p := newFakePlayer()
	c := NewController(p, 10*time.Millisecond, 50*time.Millisecond, zap.NewNop(), nil)

	c.Play(KindStaffCall, 5)
	waitFor(t, time.Second, func() bool { return len(c.PlayingTables()) == 0 })
	// The loop replayed while it lived, then gave up.
	if p.count(KindStaffCall) < 2 {
		t.Fatalf("expected looping before timeout, plays=%d", p.count(KindStaffCall))
	}
}

func TestSecondPlayRestartsWithoutDuplicateLoop(t *testing.T) {
	p := newFakePlayer()
	c := NewController(p, time.Hour, time.Hour, zap.NewNop(), nil)
	defer c.StopAll()

	c.Play(KindStaffCall, 5)
	waitFor(t, time.Second, func() bool { return p.count(KindStaffCall) == 1 })
	c.Play(KindStaffCall, 5)
	waitFor(t, time.Second, func() bool { return p.count(KindStaffCall) == 2 })

	if got := c.PlayingTables(); len(got) != 1 {
		t.Fatalf("a replacement call must reuse the loop, got %v", got)
	}
}

func TestOneShotKindDoesNotLoop(t *testing.T) {
	p := newFakePlayer()
	c := NewController(p, 10*time.Millisecond, time.Second, zap.NewNop(), nil)

	c.Play(KindNewOrder, 5)
	if len(c.PlayingTables()) != 0 {
		t.Fatalf("one-shot kinds must not register a loop")
	}
	if p.count(KindNewOrder) != 1 {
		t.Fatalf("want a single play, got %d", p.count(KindNewOrder))
	}
}

func TestAutoplayBlockedSurfacesOnce(t *testing.T) {
	p := newFakePlayer()
	p.err = ErrAutoplayBlocked

	var mu sync.Mutex
	prompts := 0
	c := NewController(p, 10*time.Millisecond, time.Second, zap.NewNop(), func() {
		mu.Lock()
		prompts++
		mu.Unlock()
	})
	defer c.StopAll()

	c.Play(KindStaffCall, 5)
	c.Play(KindStaffCall, 9)
	waitFor(t, time.Second, func() bool { return p.count(KindStaffCall) >= 4 })

	mu.Lock()
	got := prompts
	mu.Unlock()
	if got != 1 {
		t.Fatalf("enable-sound affordance must surface exactly once, got %d", got)
	}
	if !c.Blocked() {
		t.Fatalf("controller should report blocked")
	}
	c.Enable()
	if c.Blocked() {
		t.Fatalf("Enable must clear the blocked flag")
	}
}
