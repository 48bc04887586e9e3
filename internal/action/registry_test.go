package action

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/you/gnasty-mod/internal/core"
)

type fakeInterim struct {
	mu         sync.Mutex
	timeouts   []string
	unbans     []string
	timeoutErr error
	unbanErr   error
}

func (f *fakeInterim) TimeoutUser(_ context.Context, _ string, subject core.Subject, _ time.Duration, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timeoutErr != nil {
		return f.timeoutErr
	}
	f.timeouts = append(f.timeouts, subject.Name)
	return nil
}

func (f *fakeInterim) UnbanUser(_ context.Context, _ string, subject core.Subject) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unbanErr != nil {
		return f.unbanErr
	}
	f.unbans = append(f.unbans, subject.Name)
	return nil
}

func (f *fakeInterim) unbanCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.unbans)
}

type banRecorder struct {
	mu    sync.Mutex
	bans  []string
	err   error
	calls int
}

func (b *banRecorder) finalize(name string) Finalize {
	return func(context.Context) error {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.calls++
		if b.err != nil {
			return b.err
		}
		b.bans = append(b.bans, name)
		return nil
	}
}

func (b *banRecorder) banned() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.bans...)
}

func subject(name string) core.Subject {
	return core.Subject{ID: "id-" + name, Name: name}
}

func TestRegisterFiresAfterGracePeriod(t *testing.T) {
	mock := clock.NewMock()
	interim := &fakeInterim{}
	bans := &banRecorder{}

	var transitions []State
	reg := NewRegistry(Config{
		Clock:       mock,
		Interim:     interim,
		GracePeriod: 2 * time.Minute,
		Observer:    func(_ *Handle, s State) { transitions = append(transitions, s) },
	})

	h, err := reg.Register(context.Background(), "chan", subject("bot"), bans.finalize("bot"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(interim.timeouts) != 1 || interim.timeouts[0] != "bot" {
		t.Fatalf("expected one immediate timeout, got %v", interim.timeouts)
	}
	if !reg.Pending(h.Subject.ID) {
		t.Fatal("subject should be pending after registration")
	}

	mock.Add(time.Minute)
	if got := bans.banned(); len(got) != 0 {
		t.Fatalf("ban before grace period elapsed: %v", got)
	}

	mock.Add(time.Minute)
	if got := bans.banned(); len(got) != 1 || got[0] != "bot" {
		t.Fatalf("expected ban after grace period, got %v", got)
	}
	if reg.Pending(h.Subject.ID) {
		t.Fatal("fired action should no longer be pending")
	}
	if len(transitions) != 2 || transitions[0] != StatePending || transitions[1] != StateFired {
		t.Fatalf("unexpected transitions: %v", transitions)
	}
}

func TestCancelBeforeExpiry(t *testing.T) {
	mock := clock.NewMock()
	interim := &fakeInterim{}
	bans := &banRecorder{}

	reg := NewRegistry(Config{Clock: mock, Interim: interim, GracePeriod: 2 * time.Minute})

	h, err := reg.Register(context.Background(), "chan", subject("innocent"), bans.finalize("innocent"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := reg.Cancel(context.Background(), h); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if interim.unbanCount() != 1 {
		t.Fatalf("expected one unban, got %d", interim.unbanCount())
	}

	// the timer must not fire afterwards
	mock.Add(5 * time.Minute)
	if got := bans.banned(); len(got) != 0 {
		t.Fatalf("canceled action still fired: %v", got)
	}
}

// blockingInterim parks TimeoutUser until released, standing in for a send
// stuck behind the chat rate limiter.
type blockingInterim struct {
	fakeInterim
	entered chan struct{}
	release chan struct{}
}

func (b *blockingInterim) TimeoutUser(ctx context.Context, channel string, subject core.Subject, d time.Duration, reason string) error {
	close(b.entered)
	<-b.release
	return b.fakeInterim.TimeoutUser(ctx, channel, subject, d, reason)
}

func TestCancelDuringInFlightRegistration(t *testing.T) {
	mock := clock.NewMock()
	interim := &blockingInterim{entered: make(chan struct{}), release: make(chan struct{})}
	bans := &banRecorder{}
	reg := NewRegistry(Config{Clock: mock, Interim: interim, GracePeriod: 2 * time.Minute})

	s := subject("SpamBot")
	done := make(chan error, 1)
	go func() {
		_, err := reg.Register(context.Background(), "chan", s, bans.finalize("SpamBot"))
		done <- err
	}()
	<-interim.entered

	// The subject is already listed as pending; a cancel issued while the
	// timeout send is still in flight must stick.
	if !reg.Pending(s.ID) {
		t.Fatal("subject should be pending while the timeout is in flight")
	}
	if _, err := reg.CancelByName(context.Background(), "spambot"); err != nil {
		t.Fatalf("cancel during in-flight registration: %v", err)
	}

	close(interim.release)
	if err := <-done; err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.Pending(s.ID) {
		t.Fatal("canceled subject must not stay pending")
	}

	mock.Add(5 * time.Minute)
	if got := bans.banned(); len(got) != 0 {
		t.Fatalf("canceled registration still fired: %v", got)
	}
	if interim.unbanCount() != 1 {
		t.Fatalf("expected one unban, got %d", interim.unbanCount())
	}
}

func TestCancelAfterFireConflicts(t *testing.T) {
	mock := clock.NewMock()
	interim := &fakeInterim{}
	bans := &banRecorder{}

	reg := NewRegistry(Config{Clock: mock, Interim: interim, GracePeriod: time.Minute})

	h, err := reg.Register(context.Background(), "chan", subject("bot"), bans.finalize("bot"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	mock.Add(time.Minute)
	if err := reg.Cancel(context.Background(), h); !errors.Is(err, ErrCancelConflict) {
		t.Fatalf("cancel after fire = %v, want ErrCancelConflict", err)
	}
	if interim.unbanCount() != 0 {
		t.Fatal("conflicting cancel must not unban")
	}
}

func TestDoubleCancelConflicts(t *testing.T) {
	mock := clock.NewMock()
	interim := &fakeInterim{}
	reg := NewRegistry(Config{Clock: mock, Interim: interim, GracePeriod: time.Minute})

	h, err := reg.Register(context.Background(), "chan", subject("x"), func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Cancel(context.Background(), h); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if err := reg.Cancel(context.Background(), h); !errors.Is(err, ErrCancelConflict) {
		t.Fatalf("second cancel = %v, want ErrCancelConflict", err)
	}
}

func TestCancelUnarmedHandleConflicts(t *testing.T) {
	reg := NewRegistry(Config{Clock: clock.NewMock(), Interim: &fakeInterim{}, GracePeriod: time.Minute})
	if err := reg.Cancel(context.Background(), nil); !errors.Is(err, ErrCancelConflict) {
		t.Fatalf("cancel(nil) = %v, want ErrCancelConflict", err)
	}
	if err := reg.Cancel(context.Background(), &Handle{}); !errors.Is(err, ErrCancelConflict) {
		t.Fatalf("cancel of unarmed handle = %v, want ErrCancelConflict", err)
	}
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	mock := clock.NewMock()
	interim := &fakeInterim{}
	reg := NewRegistry(Config{Clock: mock, Interim: interim, GracePeriod: time.Minute})

	s := subject("bot")
	if _, err := reg.Register(context.Background(), "chan", s, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := reg.Register(context.Background(), "chan", s, func(context.Context) error { return nil }); !errors.Is(err, ErrDuplicateRegistration) {
		t.Fatalf("second register = %v, want ErrDuplicateRegistration", err)
	}
	if len(interim.timeouts) != 1 {
		t.Fatalf("duplicate registration must not re-issue the timeout, got %d", len(interim.timeouts))
	}
}

func TestRegisterRollsBackOnTimeoutFailure(t *testing.T) {
	mock := clock.NewMock()
	interim := &fakeInterim{timeoutErr: errors.New("send failed")}
	bans := &banRecorder{}
	reg := NewRegistry(Config{Clock: mock, Interim: interim, GracePeriod: time.Minute})

	s := subject("bot")
	if _, err := reg.Register(context.Background(), "chan", s, bans.finalize("bot")); err == nil {
		t.Fatal("expected register to fail when the timeout cannot be issued")
	}
	if reg.Pending(s.ID) {
		t.Fatal("failed registration must not stay pending")
	}

	mock.Add(5 * time.Minute)
	if got := bans.banned(); len(got) != 0 {
		t.Fatalf("rolled-back registration still fired: %v", got)
	}
}

func TestAlreadyAppliedTreatedAsSuccess(t *testing.T) {
	mock := clock.NewMock()
	interim := &fakeInterim{}
	bans := &banRecorder{err: ErrAlreadyApplied}

	var fired []State
	reg := NewRegistry(Config{
		Clock:       mock,
		Interim:     interim,
		GracePeriod: time.Minute,
		Observer:    func(_ *Handle, s State) { fired = append(fired, s) },
	})

	if _, err := reg.Register(context.Background(), "chan", subject("bot"), bans.finalize("bot")); err != nil {
		t.Fatalf("register: %v", err)
	}

	mock.Add(time.Minute)
	if len(fired) != 2 || fired[1] != StateFired {
		t.Fatalf("already-applied finalize should still complete the transition, got %v", fired)
	}
	bans.mu.Lock()
	calls := bans.calls
	bans.mu.Unlock()
	if calls != 1 {
		t.Fatalf("finalize must not be retried, got %d calls", calls)
	}
}

func TestCancelByName(t *testing.T) {
	mock := clock.NewMock()
	interim := &fakeInterim{}
	reg := NewRegistry(Config{Clock: mock, Interim: interim, GracePeriod: time.Minute})

	if _, err := reg.Register(context.Background(), "chan", subject("SpamBot99"), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("register: %v", err)
	}

	h, err := reg.CancelByName(context.Background(), "spambot99")
	if err != nil {
		t.Fatalf("cancel by name: %v", err)
	}
	if h.Subject.Name != "SpamBot99" {
		t.Fatalf("canceled %q", h.Subject.Name)
	}

	if _, err := reg.CancelByName(context.Background(), "nobody"); !errors.Is(err, ErrCancelConflict) {
		t.Fatalf("cancel of unknown name = %v, want ErrCancelConflict", err)
	}
}

func TestSnapshot(t *testing.T) {
	mock := clock.NewMock()
	reg := NewRegistry(Config{Clock: mock, Interim: &fakeInterim{}, GracePeriod: time.Minute})

	if _, err := reg.Register(context.Background(), "chan", subject("a"), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := reg.Register(context.Background(), "chan", subject("b"), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("register: %v", err)
	}

	snap := reg.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot length = %d, want 2", len(snap))
	}
	for _, p := range snap {
		if p.Handle == "" || p.Channel != "chan" {
			t.Fatalf("incomplete snapshot entry: %+v", p)
		}
		if !p.Deadline.Equal(mock.Now().Add(time.Minute)) {
			t.Fatalf("deadline = %v, want %v", p.Deadline, mock.Now().Add(time.Minute))
		}
	}
}
