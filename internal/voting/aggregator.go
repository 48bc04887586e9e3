// Package voting implements a windowed threshold vote with a post-outcome
// cooldown. One aggregator serves one voting scope (a channel).
package voting

import (
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/you/gnasty-mod/internal/core"
)

// Outcome of a finished vote session.
type Outcome int

const (
	OutcomeFail Outcome = iota
	OutcomePass
)

func (o Outcome) String() string {
	if o == OutcomePass {
		return "pass"
	}
	return "fail"
}

// Say posts announcement text to the aggregator's channel.
type Say func(text string)

// OnEnd is called with the outcome and vote count of every finished session.
type OnEnd func(Outcome, int)

// Config carries the externally supplied vote parameters.
type Config struct {
	VotesRequired   int
	VotePeriod      time.Duration
	FailTimeout     time.Duration // cooldown after a failed session
	PassTimeout     time.Duration // cooldown after a passed session
	DoubleNames     []string      // identities whose single vote counts twice
	AnnounceMessage string        // posted when a new session starts

	Clock clock.Clock // nil for the wall clock
	Say   Say
	OnEnd OnEnd
}

type state int

const (
	stateOpen state = iota
	stateClosed
)

// Aggregator collects votes while open, passes when the threshold is reached
// before the window elapses, and stays closed for a cooldown after every
// outcome. Votes submitted while closed are rejected with the remaining
// cooldown reported back to the chatter.
type Aggregator struct {
	cfg    Config
	clk    clock.Clock
	double map[string]struct{}

	mu          sync.Mutex
	state       state
	voters      map[string]struct{}
	windowTimer *clock.Timer
	reopenAt    time.Time
}

func New(cfg Config) *Aggregator {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	double := make(map[string]struct{}, len(cfg.DoubleNames))
	for _, n := range cfg.DoubleNames {
		double[strings.ToLower(n)] = struct{}{}
	}
	log.Printf("voting: aggregator ready, %d votes required in %s (timeouts %s|%s)",
		cfg.VotesRequired, cfg.VotePeriod, cfg.FailTimeout, cfg.PassTimeout)
	return &Aggregator{
		cfg:    cfg,
		clk:    clk,
		double: double,
		state:  stateOpen, // votes open on startup
		voters: make(map[string]struct{}),
	}
}

// AddVote registers one vote from the subject. The first vote of a session
// starts the window timer; a duplicate from the same identity is ignored;
// double-weighted identities insert one synthetic extra entry. Reaching the
// threshold before the window elapses ends the session immediately with the
// window timer canceled, not merely ignored.
func (a *Aggregator) AddVote(subject core.Subject) {
	var (
		announce []string
		ended    *sessionEnd
	)

	a.mu.Lock()
	if a.state == stateClosed {
		remaining := a.reopenAt.Sub(a.clk.Now())
		a.mu.Unlock()
		log.Printf("voting: closed, reopens in %ds", int(remaining.Seconds()))
		a.say(fmt.Sprintf("Voting will open again in %d min", int(math.Ceil(remaining.Minutes()))))
		return
	}

	key := strings.ToLower(subject.Name)
	before := len(a.voters)
	a.voters[key] = struct{}{}
	if _, ok := a.double[key]; ok {
		a.voters[key+"_2"] = struct{}{}
	}
	count := len(a.voters)

	switch {
	case count == before:
		// Duplicate vote, ignore.
	case before == 0:
		a.windowTimer = a.clk.AfterFunc(a.cfg.VotePeriod, a.onWindowElapsed)
		log.Printf("voting: new vote started (%d/%d) by %s", count, a.cfg.VotesRequired, subject.Name)
		announce = append(announce, fmt.Sprintf("%s Started a new vote. You have %ds to get %d more votes",
			subject.Name, int(a.cfg.VotePeriod.Seconds()), a.cfg.VotesRequired-count))
		if a.cfg.AnnounceMessage != "" {
			announce = append(announce, "/announce "+a.cfg.AnnounceMessage)
		}
	default:
		log.Printf("voting: vote added (%d/%d) by %s", count, a.cfg.VotesRequired, subject.Name)
		announce = append(announce, fmt.Sprintf("%s Your vote was registered. (%d/%d)",
			subject.Name, count, a.cfg.VotesRequired))
	}

	if count >= a.cfg.VotesRequired {
		if a.windowTimer != nil {
			a.windowTimer.Stop()
			a.windowTimer = nil
		}
		ended = a.endLocked()
	}
	a.mu.Unlock()

	for _, text := range announce {
		a.say(text)
	}
	if ended != nil {
		a.announceEnd(*ended)
	}
}

// Open reports whether votes are currently being collected.
func (a *Aggregator) Open() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == stateOpen
}

// VoterCount returns the current number of vote entries (synthetic double
// entries included).
func (a *Aggregator) VoterCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.voters)
}

func (a *Aggregator) onWindowElapsed() {
	a.mu.Lock()
	if a.state != stateOpen || len(a.voters) == 0 {
		a.mu.Unlock()
		return
	}
	a.windowTimer = nil
	ended := a.endLocked()
	a.mu.Unlock()

	if ended != nil {
		a.announceEnd(*ended)
	}
}

type sessionEnd struct {
	outcome Outcome
	count   int
}

// endLocked resolves the session outcome, clears the voters and re-enters
// the cooldown. Caller holds the lock and announces the returned end.
func (a *Aggregator) endLocked() *sessionEnd {
	count := len(a.voters)
	outcome := OutcomeFail
	if count >= a.cfg.VotesRequired {
		outcome = OutcomePass
	}
	cooldown := a.cfg.FailTimeout
	if outcome == OutcomePass {
		cooldown = a.cfg.PassTimeout
	}

	a.voters = make(map[string]struct{})
	a.state = stateClosed
	a.reopenAt = a.clk.Now().Add(cooldown)
	a.clk.AfterFunc(cooldown, a.reopen)

	return &sessionEnd{outcome: outcome, count: count}
}

func (a *Aggregator) announceEnd(end sessionEnd) {
	if end.outcome == OutcomePass {
		log.Printf("voting: vote passed (%d/%d)", end.count, a.cfg.VotesRequired)
		a.say("Vote passed!")
	} else {
		log.Printf("voting: vote failed (%d/%d)", end.count, a.cfg.VotesRequired)
		a.say(fmt.Sprintf("Vote failed, only %d out of %d", end.count, a.cfg.VotesRequired))
	}
	if a.cfg.OnEnd != nil {
		a.cfg.OnEnd(end.outcome, end.count)
	}
}

func (a *Aggregator) reopen() {
	a.mu.Lock()
	a.state = stateOpen
	a.mu.Unlock()
	log.Printf("voting: votes enabled")
}

func (a *Aggregator) say(text string) {
	if a.cfg.Say != nil {
		a.cfg.Say(text)
	}
}
