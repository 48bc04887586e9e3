// Package moderator drives the moderation pipeline: every chat event flows
// through one goroutine that scores messages, schedules deferred bans,
// collects break votes, relays wager replies, and answers chat commands.
package moderator

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/you/gnasty-mod/internal/action"
	"github.com/you/gnasty-mod/internal/auditstore"
	"github.com/you/gnasty-mod/internal/core"
	"github.com/you/gnasty-mod/internal/notify"
	"github.com/you/gnasty-mod/internal/rules"
	"github.com/you/gnasty-mod/internal/scoring"
	"github.com/you/gnasty-mod/internal/twitchirc"
	"github.com/you/gnasty-mod/internal/voting"
	"github.com/you/gnasty-mod/internal/wager"
)

// Chat is the outbound side of the connected channel.
type Chat interface {
	Send(ctx context.Context, text string) error
	BanUser(ctx context.Context, channel string, subject core.Subject, reason string) error
}

// Metrics is the subset of collectors the pipeline reports to. A nil
// Metrics disables reporting.
type Metrics interface {
	IncDecision(outcome string)
	IncActionState(state string)
	SetPendingActions(n float64)
	IncKeywordHit()
	IncDBWriteErrors()
}

type Config struct {
	Channel string
	OwnNick string

	Engine   *scoring.Engine
	Rules    *rules.Store
	Registry *action.Registry
	Votes    *voting.Aggregator
	Wager    *wager.Driver
	Parser   *wager.Parser
	Notifier *notify.Notifier
	Store    *auditstore.Store
	Chat     Chat
	Metrics  Metrics

	// Grace period quoted in the flagged announcement.
	GracePeriod time.Duration
	BanReason   string

	// TrackFirstMessages treats chatters absent from the seen cache as
	// first-time chatters when the first-msg tag is missing.
	TrackFirstMessages bool
	SeenCacheSize      int

	// FollowLookup resolves follow age for scoring. Optional.
	FollowLookup func(ctx context.Context, subject core.Subject) (following bool, days int, err error)

	GoalText string
	// Leave is called when a ?leave command is accepted.
	Leave func()
}

type Moderator struct {
	cfg    Config
	seen   *lru.Cache[string, struct{}]
	events chan core.ChatEvent
	gifts  chan twitchirc.GiftEvent
}

func New(cfg Config) (*Moderator, error) {
	if cfg.SeenCacheSize <= 0 {
		cfg.SeenCacheSize = 4096
	}
	seen, err := lru.New[string, struct{}](cfg.SeenCacheSize)
	if err != nil {
		return nil, err
	}
	if cfg.BanReason == "" {
		cfg.BanReason = "Spam bot filtered, contact a mod if this was a mistake"
	}
	return &Moderator{
		cfg:    cfg,
		seen:   seen,
		events: make(chan core.ChatEvent, 256),
		gifts:  make(chan twitchirc.GiftEvent, 64),
	}, nil
}

// Offer queues a chat event for the pipeline. Drops with a log line when
// the pipeline is saturated.
func (m *Moderator) Offer(ev core.ChatEvent) {
	select {
	case m.events <- ev:
	default:
		log.Printf("moderator: event queue full; dropping message from %s", ev.Subject.Name)
	}
}

// OfferGift queues a gift event.
func (m *Moderator) OfferGift(g twitchirc.GiftEvent) {
	select {
	case m.gifts <- g:
	default:
		log.Printf("moderator: gift queue full; dropping gift from %s", g.Subject.Name)
	}
}

// Run consumes queued events until the context ends. All moderation state
// is touched from this goroutine only.
func (m *Moderator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-m.events:
			m.HandleEvent(ctx, ev)
		case g := <-m.gifts:
			m.handleGift(g)
		}
	}
}

// HandleEvent processes one chat event synchronously.
func (m *Moderator) HandleEvent(ctx context.Context, ev core.ChatEvent) {
	if strings.EqualFold(ev.Subject.Name, m.cfg.OwnNick) {
		return
	}

	if m.cfg.Parser != nil {
		if r := m.cfg.Parser.Parse(ev); r.Kind != wager.Unrelated {
			if m.cfg.Wager != nil {
				m.cfg.Wager.Offer(r)
			}
			return
		}
	}

	if m.cfg.Notifier != nil && m.cfg.Notifier.Check(ev) {
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.IncKeywordHit()
		}
	}

	if strings.HasPrefix(ev.Text, "?") {
		m.handleCommand(ctx, ev)
		return
	}

	m.applyFirstMessage(&ev)
	m.enrichFollow(ctx, &ev)

	d := m.cfg.Engine.Evaluate(ev)
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.IncDecision(d.Outcome.String())
	}

	switch d.Outcome {
	case core.OutcomeMatch:
		m.flag(ctx, d)
	case core.OutcomeIgnored:
		slog.Info("moderator: match ignored",
			"user", ev.Subject.Name, "score", d.Score, "reason", d.Reason.String())
		m.record(d, "NOOP")
	case core.OutcomeNoMatch:
		if d.NearMiss {
			slog.Info("moderator: near miss",
				"user", ev.Subject.Name, "score", d.Score, "text", ev.Text)
			m.record(d, "NONE")
		}
	case core.OutcomeError:
		slog.Warn("moderator: evaluation failed; passing message through",
			"user", ev.Subject.Name)
	}
}

func (m *Moderator) flag(ctx context.Context, d core.Decision) {
	subject := d.Event.Subject
	channel := d.Event.Channel
	_, err := m.cfg.Registry.Register(ctx, channel, subject, func(fctx context.Context) error {
		return m.cfg.Chat.BanUser(fctx, channel, subject, m.cfg.BanReason)
	})
	if err != nil {
		log.Printf("moderator: could not schedule ban for %s: %v", subject.Name, err)
		return
	}

	m.record(d, action.StatePending.String())
	m.syncPendingGauge()

	mins := int(m.cfg.GracePeriod / time.Minute)
	if mins < 1 {
		mins = 1
	}
	m.say(ctx, fmt.Sprintf("%s has been timed out as a suspected spam bot and will be banned in %d min. Mods: '?fp %s' if this is a mistake.",
		subject.Name, mins, subject.Name))
}

// ObserveAction is wired as the registry observer; it keeps the audit trail
// and the pending gauge in step with state transitions.
func (m *Moderator) ObserveAction(h *action.Handle, state action.State) {
	if m.cfg.Store != nil {
		if err := m.cfg.Store.UpdateStatus(h.Subject.ID, state.String()); err != nil {
			log.Printf("moderator: status update failed for %s: %v", h.Subject.Name, err)
			if m.cfg.Metrics != nil {
				m.cfg.Metrics.IncDBWriteErrors()
			}
		}
	}
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.IncActionState(state.String())
	}
	m.syncPendingGauge()
}

func (m *Moderator) syncPendingGauge() {
	if m.cfg.Metrics != nil && m.cfg.Registry != nil {
		m.cfg.Metrics.SetPendingActions(float64(len(m.cfg.Registry.Snapshot())))
	}
}

func (m *Moderator) record(d core.Decision, status string) {
	if m.cfg.Store == nil {
		return
	}
	if err := m.cfg.Store.RecordDecision(d, status); err != nil {
		log.Printf("moderator: audit write failed: %v", err)
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.IncDBWriteErrors()
		}
	}
}

func (m *Moderator) applyFirstMessage(ev *core.ChatEvent) {
	key := ev.Channel + "/" + ev.Subject.ID
	if m.cfg.TrackFirstMessages && !ev.FirstMessage {
		if _, ok := m.seen.Get(key); !ok {
			ev.FirstMessage = true
		}
	}
	m.seen.Add(key, struct{}{})
}

// followLookupTimeout bounds the per-message follow lookup. The lookup runs
// on the pipeline goroutine, so a hung Helix endpoint must not stall
// moderation behind it.
const followLookupTimeout = 3 * time.Second

func (m *Moderator) enrichFollow(ctx context.Context, ev *core.ChatEvent) {
	if m.cfg.FollowLookup == nil || ev.Staff() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, followLookupTimeout)
	defer cancel()
	following, days, err := m.cfg.FollowLookup(ctx, ev.Subject)
	if err != nil {
		log.Printf("moderator: follow lookup failed for %s: %v", ev.Subject.Name, err)
		return
	}
	ev.Following = following
	ev.FollowDays = days
}

func (m *Moderator) handleGift(g twitchirc.GiftEvent) {
	if m.cfg.Store == nil {
		return
	}
	var err error
	switch {
	case g.Subs > 0:
		err = m.cfg.Store.AddSubs(g.Subject.ID, g.Subject.Name, g.Channel, g.Subs)
	case g.Bits > 0:
		err = m.cfg.Store.AddBits(g.Subject.ID, g.Subject.Name, g.Channel, g.Bits)
	case g.Redeems > 0:
		err = m.cfg.Store.AddRedeems(g.Subject.ID, g.Subject.Name, g.Channel, g.Redeems)
	}
	if err != nil {
		log.Printf("moderator: gift write failed for %s: %v", g.Subject.Name, err)
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.IncDBWriteErrors()
		}
	}
}

func (m *Moderator) say(ctx context.Context, text string) {
	if m.cfg.Chat == nil {
		return
	}
	if err := m.cfg.Chat.Send(ctx, text); err != nil {
		log.Printf("moderator: send failed: %v", err)
	}
}
