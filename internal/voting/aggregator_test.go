package voting

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/you/gnasty-mod/internal/core"
)

type chatLog struct {
	mu    sync.Mutex
	lines []string
}

func (c *chatLog) say(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, text)
}

func (c *chatLog) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func (c *chatLog) contains(substr string) bool {
	for _, l := range c.all() {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

func voter(name string) core.Subject {
	return core.Subject{ID: "id-" + strings.ToLower(name), Name: name}
}

func newTestAggregator(t *testing.T, mock *clock.Mock, chat *chatLog, onEnd OnEnd) *Aggregator {
	t.Helper()
	return New(Config{
		VotesRequired: 3,
		VotePeriod:    time.Minute,
		FailTimeout:   10 * time.Minute,
		PassTimeout:   30 * time.Minute,
		DoubleNames:   []string{"streamer"},
		Clock:         mock,
		Say:           chat.say,
		OnEnd:         onEnd,
	})
}

func TestVotePassesAtThreshold(t *testing.T) {
	mock := clock.NewMock()
	chat := &chatLog{}
	var outcome Outcome
	var count int
	a := newTestAggregator(t, mock, chat, func(o Outcome, c int) { outcome, count = o, c })

	a.AddVote(voter("alice"))
	a.AddVote(voter("bob"))
	a.AddVote(voter("carol"))

	if outcome != OutcomePass || count != 3 {
		t.Fatalf("outcome=%v count=%d, want pass/3", outcome, count)
	}
	if !chat.contains("Vote passed!") {
		t.Fatalf("missing pass announcement, got %v", chat.all())
	}
	if a.Open() {
		t.Fatal("aggregator should be closed for the cooldown after a pass")
	}

	// The window timer was canceled on pass; advancing past it must not
	// produce a second session end.
	mock.Add(2 * time.Minute)
	if chat.contains("Vote failed") {
		t.Fatalf("canceled window timer still fired: %v", chat.all())
	}
}

func TestVoteFailsWhenWindowElapses(t *testing.T) {
	mock := clock.NewMock()
	chat := &chatLog{}
	var ended []Outcome
	a := newTestAggregator(t, mock, chat, func(o Outcome, _ int) { ended = append(ended, o) })

	a.AddVote(voter("alice"))
	a.AddVote(voter("bob"))

	mock.Add(time.Minute)
	if len(ended) != 1 || ended[0] != OutcomeFail {
		t.Fatalf("ended=%v, want one fail", ended)
	}
	if !chat.contains("Vote failed, only 2 out of 3") {
		t.Fatalf("missing fail announcement, got %v", chat.all())
	}
	if a.VoterCount() != 0 {
		t.Fatalf("voters not cleared after session end: %d", a.VoterCount())
	}
}

func TestDuplicateVoteIgnored(t *testing.T) {
	mock := clock.NewMock()
	chat := &chatLog{}
	a := newTestAggregator(t, mock, chat, nil)

	a.AddVote(voter("alice"))
	a.AddVote(voter("ALICE"))
	if a.VoterCount() != 1 {
		t.Fatalf("voter count = %d, want 1", a.VoterCount())
	}
}

func TestDoubleNameCountsTwice(t *testing.T) {
	mock := clock.NewMock()
	chat := &chatLog{}
	var count int
	a := newTestAggregator(t, mock, chat, func(_ Outcome, c int) { count = c })

	a.AddVote(voter("Streamer"))
	if a.VoterCount() != 2 {
		t.Fatalf("voter count = %d, want 2 for a double-weighted identity", a.VoterCount())
	}

	a.AddVote(voter("bob"))
	if count != 3 {
		t.Fatalf("session did not pass at threshold, count=%d", count)
	}
}

func TestVoteRejectedDuringCooldown(t *testing.T) {
	mock := clock.NewMock()
	chat := &chatLog{}
	a := newTestAggregator(t, mock, chat, nil)

	a.AddVote(voter("alice"))
	mock.Add(time.Minute) // window elapses, session fails, cooldown 10 min

	mock.Add(4 * time.Minute)
	a.AddVote(voter("bob"))
	if !chat.contains("Voting will open again in 6 min") {
		t.Fatalf("missing cooldown announcement, got %v", chat.all())
	}
	if a.VoterCount() != 0 {
		t.Fatal("rejected vote must not be counted")
	}
}

func TestReopensAfterCooldown(t *testing.T) {
	mock := clock.NewMock()
	chat := &chatLog{}
	a := newTestAggregator(t, mock, chat, nil)

	a.AddVote(voter("alice"))
	mock.Add(time.Minute)
	if a.Open() {
		t.Fatal("should be closed right after the session fails")
	}

	mock.Add(10 * time.Minute)
	if !a.Open() {
		t.Fatal("should reopen once the cooldown elapses")
	}

	a.AddVote(voter("alice"))
	if a.VoterCount() != 1 {
		t.Fatalf("vote after reopen not counted: %d", a.VoterCount())
	}
}

func TestFirstVoteAnnouncesWindow(t *testing.T) {
	mock := clock.NewMock()
	chat := &chatLog{}
	a := newTestAggregator(t, mock, chat, nil)

	a.AddVote(voter("alice"))
	if !chat.contains("alice Started a new vote. You have 60s to get 2 more votes") {
		t.Fatalf("missing start announcement, got %v", chat.all())
	}

	a.AddVote(voter("bob"))
	if !chat.contains("bob Your vote was registered. (2/3)") {
		t.Fatalf("missing progress announcement, got %v", chat.all())
	}
}
