// Package action implements the "act unless canceled within the grace
// period" primitive: a flagged subject is timed out immediately and banned
// when the grace period elapses, unless the event is canceled first.
package action

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/you/gnasty-mod/internal/core"
)

var (
	// ErrDuplicateRegistration is returned when a subject already has a
	// pending deferred action; the first registration wins.
	ErrDuplicateRegistration = errors.New("action: subject already has a pending action")

	// ErrCancelConflict is returned when cancel is requested on a handle
	// that was never armed or has already fired or been canceled.
	ErrCancelConflict = errors.New("action: cancel conflict")

	// ErrAlreadyApplied is the sentinel a transport returns when the final
	// action was already in effect (e.g. the user is already banned). The
	// registry treats it as success.
	ErrAlreadyApplied = errors.New("action: already applied")
)

// State is the lifecycle of a deferred action.
type State int

const (
	StatePending State = iota
	StateFired
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "TIMED"
	case StateFired:
		return "BANNED"
	case StateCanceled:
		return "UNBANNED"
	}
	return "NOOP"
}

// Finalize is the operation executed when the grace period elapses.
type Finalize func(ctx context.Context) error

// Interim issues and reverses the provisional restraining action.
type Interim interface {
	TimeoutUser(ctx context.Context, channel string, subject core.Subject, d time.Duration, reason string) error
	UnbanUser(ctx context.Context, channel string, subject core.Subject) error
}

// Observer is notified of every deferred-action state transition, e.g. for
// audit persistence.
type Observer func(h *Handle, state State)

// Handle identifies one registered deferred action.
type Handle struct {
	ID       string
	Subject  core.Subject
	Channel  string
	Deadline time.Time

	state State
	timer *clock.Timer
	fin   Finalize
}

// Registry owns all pending deferred actions, at most one per subject.
// Cancellation and firing are mutually exclusive: whichever takes the
// Pending state transition under the lock wins, the other becomes a no-op
// (fire) or a conflict (cancel).
type Registry struct {
	clk      clock.Clock
	interim  Interim
	grace    time.Duration
	reason   string
	observer Observer

	mu      sync.Mutex
	pending map[string]*Handle // keyed by subject ID
}

// Config carries the registry collaborators and the grace period.
type Config struct {
	Clock       clock.Clock // nil for the wall clock
	Interim     Interim
	GracePeriod time.Duration
	Reason      string // reason attached to timeout/ban actions
	Observer    Observer
}

func NewRegistry(cfg Config) *Registry {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	reason := cfg.Reason
	if reason == "" {
		reason = "Spam bot filtered, contact a mod if this was a mistake"
	}
	return &Registry{
		clk:      clk,
		interim:  cfg.Interim,
		grace:    cfg.GracePeriod,
		reason:   reason,
		observer: cfg.Observer,
		pending:  make(map[string]*Handle),
	}
}

// Register creates a deferred action for the subject: the interim timeout is
// issued synchronously, then a timer is armed for the grace period; at expiry
// finalize runs and the subject is removed. A subject with an action already
// pending is rejected with ErrDuplicateRegistration.
func (r *Registry) Register(ctx context.Context, channel string, subject core.Subject, finalize Finalize) (*Handle, error) {
	r.mu.Lock()
	if _, ok := r.pending[subject.ID]; ok {
		r.mu.Unlock()
		log.Printf("action: user %s already has a pending action", subject.Name)
		return nil, ErrDuplicateRegistration
	}
	h := &Handle{
		ID:       uuid.NewString(),
		Subject:  subject,
		Channel:  channel,
		Deadline: r.clk.Now().Add(r.grace),
		state:    StatePending,
		fin:      finalize,
	}
	r.pending[subject.ID] = h
	r.mu.Unlock()

	if err := r.interim.TimeoutUser(ctx, channel, subject, r.grace, r.reason); err != nil && !errors.Is(err, ErrAlreadyApplied) {
		// The provisional timeout could not be issued; drop the registration
		// so the subject is not banned without having been restrained first.
		r.mu.Lock()
		if r.pending[subject.ID] == h {
			delete(r.pending, subject.ID)
		}
		r.mu.Unlock()
		return nil, err
	}

	// The interim send can trail behind the chat rate limiter, and the
	// subject is already visible in the pending set. Re-check under the
	// lock so a cancel issued meanwhile is honored instead of being raced
	// by the timer.
	r.mu.Lock()
	if h.state != StatePending {
		r.mu.Unlock()
		log.Printf("action: %s was canceled before the ban timer armed", subject.Name)
		return h, nil
	}
	h.timer = r.clk.AfterFunc(r.grace, func() { r.fire(subject.ID) })
	r.mu.Unlock()

	r.notify(h, StatePending)
	log.Printf("action: started %s ban timer for user %s", r.grace, subject.Name)
	return h, nil
}

// Cancel stops a pending action before it fires and reverses the interim
// timeout. It fails with ErrCancelConflict when the handle was never
// registered or has already fired or been canceled. A handle whose timer
// has not armed yet is still cancelable; marking it Canceled here keeps
// Register from arming the timer afterwards.
func (r *Registry) Cancel(ctx context.Context, h *Handle) error {
	if h == nil {
		return ErrCancelConflict
	}

	r.mu.Lock()
	if cur := r.pending[h.Subject.ID]; cur != h || h.state != StatePending {
		r.mu.Unlock()
		return ErrCancelConflict
	}
	h.state = StateCanceled
	if h.timer != nil {
		h.timer.Stop()
	}
	delete(r.pending, h.Subject.ID)
	r.mu.Unlock()

	log.Printf("action: canceling ban on %s", h.Subject.Name)
	r.notify(h, StateCanceled)

	if err := r.interim.UnbanUser(ctx, h.Channel, h.Subject); err != nil && !errors.Is(err, ErrAlreadyApplied) {
		return err
	}
	return nil
}

// CancelByName cancels the pending action whose subject display name matches
// (case-insensitive). Returns ErrCancelConflict when no such action exists.
func (r *Registry) CancelByName(ctx context.Context, name string) (*Handle, error) {
	r.mu.Lock()
	var found *Handle
	for _, h := range r.pending {
		if strings.EqualFold(h.Subject.Name, name) {
			found = h
			break
		}
	}
	r.mu.Unlock()
	if found == nil {
		return nil, ErrCancelConflict
	}
	return found, r.Cancel(ctx, found)
}

// Pending reports whether the subject currently has a pending action.
func (r *Registry) Pending(subjectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[subjectID]
	return ok
}

// PendingInfo is a read-only view of one pending action.
type PendingInfo struct {
	Handle   string       `json:"handle"`
	Subject  core.Subject `json:"subject"`
	Channel  string       `json:"channel"`
	Deadline time.Time    `json:"deadline"`
}

// Snapshot returns a copy of the pending set for external observers; the
// live map is never shared.
func (r *Registry) Snapshot() []PendingInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PendingInfo, 0, len(r.pending))
	for _, h := range r.pending {
		out = append(out, PendingInfo{Handle: h.ID, Subject: h.Subject, Channel: h.Channel, Deadline: h.Deadline})
	}
	return out
}

// fire runs when the grace timer elapses. A cancellation that won the race
// has already removed the handle, making this a no-op.
func (r *Registry) fire(subjectID string) {
	r.mu.Lock()
	h, ok := r.pending[subjectID]
	if !ok || h.state != StatePending {
		r.mu.Unlock()
		return
	}
	h.state = StateFired
	delete(r.pending, subjectID)
	r.mu.Unlock()

	log.Printf("action: executing ban on %s", h.Subject.Name)
	err := h.fin(context.Background())
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyApplied):
		log.Printf("action: user %s already banned", h.Subject.Name)
	default:
		// No automatic retry: a repeat could double-apply a punitive action.
		// The event stays recorded for manual operator follow-up.
		log.Printf("action: finalize failed for %s, leaving for manual follow-up: %v", h.Subject.Name, err)
	}
	r.notify(h, StateFired)
}

func (r *Registry) notify(h *Handle, state State) {
	if r.observer != nil {
		r.observer(h, state)
	}
}
