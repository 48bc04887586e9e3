package wager

import "log"

// State of a wager session.
type State int

const (
	Idle State = iota
	AwaitingReply
	Finished
)

// PlaceBet submits a bet of the given stake to the responder.
type PlaceBet func(stake int64)

// Config carries the externally supplied wager parameters.
type Config struct {
	BaseStake     int64
	MaxLossFactor int64 // losses above BaseStake*MaxLossFactor stop the session
}

// Session is the sequential betting state machine. It issues at most one
// outstanding bet at a time and advances only on a parsed reply or a
// timeout; elapsed time alone never advances state. Wins reset the stake to
// base; a normal loss doubles the next stake to recoup it.
type Session struct {
	cfg   Config
	place PlaceBet
	done  func(total int64)

	state     State
	remaining int
	total     int64
	lastStake int64
}

// NewSession builds an idle session. done, when non-nil, receives the final
// running total once the session finishes.
func NewSession(cfg Config, place PlaceBet, done func(total int64)) *Session {
	return &Session{cfg: cfg, place: place, done: done}
}

// Start opens a session of nBets rounds with an opening bet at the base
// stake. Starting an active session is ignored.
func (s *Session) Start(nBets int) {
	if s.state == AwaitingReply || nBets <= 0 {
		return
	}
	log.Printf("wager: starting %d bet(s)", nBets)
	s.state = AwaitingReply
	s.remaining = nBets
	s.total = 0
	s.lastStake = s.cfg.BaseStake
	s.place(s.lastStake)
}

// HandleReply advances the session on a classified reply. Unrelated replies
// do not advance state: the responder's reply, not elapsed time, is
// authoritative.
func (s *Session) HandleReply(r Result) {
	if s.state != AwaitingReply || r.Kind == Unrelated {
		return
	}

	if r.Kind == OutOfFunds {
		log.Printf("wager: ran out of points, stopping now")
		s.finish()
		return
	}

	var next int64
	switch r.Kind {
	case Win, WinAllIn:
		s.total += r.Amount
		next = s.cfg.BaseStake
	case Loss, LossAllIn:
		magnitude := -r.Amount
		if magnitude > s.cfg.BaseStake*s.cfg.MaxLossFactor {
			// Catastrophic loss: stop before consuming the round.
			log.Printf("wager: massive loss (%d), stopping now", magnitude)
			s.total += r.Amount
			s.finish()
			return
		}
		s.total += r.Amount
		next = 2 * magnitude
	}

	s.remaining--
	if s.remaining <= 0 {
		s.finish()
		return
	}
	log.Printf("wager: %d remaining, running total %d", s.remaining, s.total)
	s.lastStake = next
	s.place(s.lastStake)
}

// HandleTimeout re-issues the last bet after no classifiable reply arrived
// in time. The retry is idempotent: state does not advance.
func (s *Session) HandleTimeout() {
	if s.state != AwaitingReply {
		return
	}
	log.Printf("wager: timed out waiting for a result, re-sending stake %d", s.lastStake)
	s.place(s.lastStake)
}

// Active reports whether a bet is outstanding.
func (s *Session) Active() bool { return s.state == AwaitingReply }

// Total returns the running win/loss total.
func (s *Session) Total() int64 { return s.total }

// Remaining returns the rounds left in the session.
func (s *Session) Remaining() int { return s.remaining }

// CurrentState returns the session lifecycle state.
func (s *Session) CurrentState() State { return s.state }

func (s *Session) finish() {
	s.state = Finished
	log.Printf("wager: session completed with %d profit", s.total)
	if s.done != nil {
		s.done(s.total)
	}
}
