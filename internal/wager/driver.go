package wager

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// SendText posts a line of chat to the channel the session runs in.
type SendText func(text string)

// DriverConfig carries the timing knobs around a session.
type DriverConfig struct {
	Session      Config
	ReplyTimeout time.Duration // how long to wait for a classified reply
	ResendDelay  time.Duration // pause before re-issuing the bet on timeout

	Clock clock.Clock // nil for the wall clock
	Send  SendText
	Done  func(total int64)
}

// Driver owns a session and its reply timer. The moderation pump feeds it
// parsed replies; the driver serializes them against timer expiry so the
// session only ever advances from one place at a time.
type Driver struct {
	cfg DriverConfig
	clk clock.Clock

	mu      sync.Mutex
	session *Session
	timer   *clock.Timer
}

func NewDriver(cfg DriverConfig) *Driver {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	d := &Driver{cfg: cfg, clk: clk}
	d.session = NewSession(cfg.Session, d.placeBet, cfg.Done)
	return d
}

// Start kicks off a session of nBets rounds. Ignored while one is active.
func (d *Driver) Start(nBets int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session.Active() {
		return
	}
	d.session = NewSession(d.cfg.Session, d.placeBet, d.cfg.Done)
	d.session.Start(nBets)
}

// Active reports whether a session is awaiting a reply.
func (d *Driver) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session.Active()
}

// Offer hands a parsed reply to the session. Unrelated results are dropped
// without touching the timer.
func (d *Driver) Offer(r Result) {
	if r.Kind == Unrelated {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.session.Active() {
		return
	}
	d.stopTimerLocked()
	d.session.HandleReply(r)
	if !d.session.Active() {
		d.stopTimerLocked()
	}
}

// placeBet runs with d.mu held (all session transitions happen under it).
func (d *Driver) placeBet(stake int64) {
	if d.cfg.Send != nil {
		d.cfg.Send(fmt.Sprintf("!gamble %d", stake))
	}
	d.armTimerLocked()
}

func (d *Driver) armTimerLocked() {
	d.stopTimerLocked()
	d.timer = d.clk.AfterFunc(d.cfg.ReplyTimeout, d.onTimeout)
}

func (d *Driver) stopTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Driver) onTimeout() {
	d.mu.Lock()
	if !d.session.Active() {
		d.mu.Unlock()
		return
	}
	// Hold off briefly before re-issuing so a slow reply still wins.
	d.timer = d.clk.AfterFunc(d.cfg.ResendDelay, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.session.Active() {
			d.session.HandleTimeout()
		}
	})
	d.mu.Unlock()
}
