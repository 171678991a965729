// Package sound drives the looping audio alerts on staff terminals. Each
// table's alert loops independently until acknowledged or timed out; the
// timeout stops only the alert, never the underlying staff-call request.
package sound

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrAutoplayBlocked is returned by a Player whose environment refuses to
// play audio without a prior user gesture.
var ErrAutoplayBlocked = errors.New("autoplay blocked")

type Kind string

const (
	KindStaffCall Kind = "staffCall"
	KindNewOrder  Kind = "newOrder"
)

// Player produces one playback of an alert sound.
type Player interface {
	Play(kind Kind) error
}

type loop struct {
	restart chan struct{}
	stop    chan struct{}
}

type Controller struct {
	player   Player
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger

	mu        sync.Mutex
	loops     map[int64]*loop
	blocked   bool
	announced bool
	onBlocked func()
}

// NewController builds a controller replaying every interval and giving up
// after timeout. onBlocked, if non-nil, fires once the first time playback
// is refused, so the UI can offer an enable-sound control instead of
// failing silently forever.
func NewController(p Player, interval, timeout time.Duration, log *zap.Logger, onBlocked func()) *Controller {
	return &Controller{
		player:    p,
		interval:  interval,
		timeout:   timeout,
		log:       log,
		loops:     make(map[int64]*loop),
		onBlocked: onBlocked,
	}
}

// Play starts an alert. Staff-call alerts loop per table; a second Play for
// a table already alerting restarts the sound from the top without spawning
// a second loop timer. Other kinds play once.
func (c *Controller) Play(kind Kind, tableID int64) {
	if kind != KindStaffCall {
		c.playOnce(kind)
		return
	}

	c.mu.Lock()
	if l := c.loops[tableID]; l != nil {
		c.mu.Unlock()
		select {
		case l.restart <- struct{}{}:
		default:
		}
		return
	}
	l := &loop{restart: make(chan struct{}, 1), stop: make(chan struct{})}
	c.loops[tableID] = l
	c.mu.Unlock()

	go c.run(tableID, l)
}

func (c *Controller) run(tableID int64, l *loop) {
	expiry := time.NewTimer(c.timeout)
	defer expiry.Stop()
	tick := time.NewTicker(c.interval)
	defer tick.Stop()

	c.playOnce(KindStaffCall)
	for {
		select {
		case <-l.stop:
			return

		case <-l.restart:
			// Replacement call for the same table: alert from the top.
			c.playOnce(KindStaffCall)
			if !expiry.Stop() {
				<-expiry.C
			}
			expiry.Reset(c.timeout)
			tick.Reset(c.interval)

		case <-tick.C:
			c.playOnce(KindStaffCall)

		case <-expiry.C:
			// Alert gives up; the staff-call request stays pending until a
			// real acknowledgement.
			c.remove(tableID, l)
			c.log.Info("alert timed out", zap.Int64("table_id", tableID))
			return
		}
	}
}

func (c *Controller) playOnce(kind Kind) {
	err := c.player.Play(kind)
	if err == nil {
		return
	}
	if errors.Is(err, ErrAutoplayBlocked) {
		c.mu.Lock()
		c.blocked = true
		announce := !c.announced
		c.announced = true
		fn := c.onBlocked
		c.mu.Unlock()
		if announce && fn != nil {
			fn()
		}
		return
	}
	c.log.Warn("playback failed", zap.Error(err))
}

// Stop ends the table's alert loop. Idempotent; other tables' loops are
// untouched.
func (c *Controller) Stop(tableID int64) {
	c.mu.Lock()
	l := c.loops[tableID]
	delete(c.loops, tableID)
	c.mu.Unlock()
	if l != nil {
		close(l.stop)
	}
}

// StopAll ends every alert loop.
func (c *Controller) StopAll() {
	c.mu.Lock()
	loops := c.loops
	c.loops = make(map[int64]*loop)
	c.mu.Unlock()
	for _, l := range loops {
		close(l.stop)
	}
}

// remove is the loop goroutine clearing its own entry on timeout; a
// concurrent Stop may already have swapped it out.
func (c *Controller) remove(tableID int64, l *loop) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loops[tableID] == l {
		delete(c.loops, tableID)
	}
}

// PlayingTables lists tables with a live alert loop, ascending.
func (c *Controller) PlayingTables() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, 0, len(c.loops))
	for id := range c.loops {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Blocked reports whether playback has been refused pending a user gesture.
func (c *Controller) Blocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocked
}

// Enable clears the blocked flag after the user gesture that unlocks audio.
func (c *Controller) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocked = false
}
