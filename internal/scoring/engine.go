package scoring

import (
	"log/slog"

	"github.com/you/gnasty-mod/internal/core"
	"github.com/you/gnasty-mod/internal/rules"
)

// Engine evaluates chat events against the active rule set. It does no I/O:
// follow state and the first-message flag ride on the event itself.
type Engine struct {
	store         *rules.Store
	nearMissFloor float64
}

// New returns an engine backed by the given rule store. A NoMatch whose score
// reaches nearMissFloor is flagged as a near miss on the decision.
func New(store *rules.Store, nearMissFloor float64) *Engine {
	return &Engine{store: store, nearMissFloor: nearMissFloor}
}

// Evaluate scores one event. When no rule set has been loaded the engine is
// treated as disabled and every evaluation returns an Error decision; it
// never silently matches.
func (e *Engine) Evaluate(ev core.ChatEvent) core.Decision {
	rs := e.store.Current()
	if rs == nil {
		slog.Warn("scoring: no filter config loaded, check will not be run")
		return core.Decision{Outcome: core.OutcomeError, Event: ev}
	}

	d := core.Decision{RuleSetName: rs.Name, Event: ev}
	d.Score = score(rs, ev)

	if d.Score >= rs.MinScore {
		d.Outcome = core.OutcomeMatch
	} else {
		d.Outcome = core.OutcomeNoMatch
		if e.nearMissFloor > 0 && d.Score >= e.nearMissFloor {
			d.NearMiss = true
		}
	}

	applyIgnores(rs, ev, &d)
	return d
}

func score(rs *rules.RuleSet, ev core.ChatEvent) float64 {
	filtered := normalize(ev.Text)

	var total float64
	for _, tier := range rs.Tiers {
		// Duplicate phrases count once per tier. Matching is case
		// insensitive but the dedup is not: "Spam spam" counts twice.
		matches := tier.Pattern.FindAllString(filtered, -1)
		distinct := make(map[string]struct{}, len(matches))
		for _, m := range matches {
			distinct[m] = struct{}{}
		}
		total += float64(tier.Weight * len(distinct))
	}

	// The cyrillic bonus looks at the raw text and applies once, independent
	// of tier matching.
	if rs.CyrillicScore > 0 && cyrillicRe.MatchString(ev.Text) {
		slog.Warn("scoring: matched cyrillics", "user", ev.Subject.Name)
		total += rs.CyrillicScore
	}

	// Not following, or following for no longer than the cutoff, multiplies
	// the score at most once.
	if !ev.Following || ev.FollowDays <= rs.Multipliers.FollowTimeDaysCutoff {
		total *= rs.Multipliers.FollowTimeMultiplier
	}
	if ev.FirstMessage {
		total *= rs.Multipliers.FirstTimeChatterMultiplier
	}
	return total
}

// applyIgnores downgrades a tentative Match in fixed precedence order:
// friendly-bot > channel-staff > VIP > subscriber > follower. Only the first
// applicable rule is recorded. The friendly-bot check is silent and overrides
// regardless of the tentative outcome; the rest only apply to a Match.
func applyIgnores(rs *rules.RuleSet, ev core.ChatEvent, d *core.Decision) {
	switch {
	case rs.Options.SilentIgnoreBots && rs.IsFriendlyBot(ev.Subject.Name):
		d.Outcome = core.OutcomeIgnored
		d.Reason = core.IgnoreFriendlyBot
	case rs.Options.IgnoreChannelStaff && ev.Staff():
		downgrade(d, core.IgnoreChannelStaff)
	case rs.Options.IgnoreVIP && ev.VIP:
		downgrade(d, core.IgnoreVIP)
	case rs.Options.IgnoreSubscriber && ev.Subscriber:
		downgrade(d, core.IgnoreSubscriber)
	case rs.Options.IgnoreFollower && ev.Following:
		downgrade(d, core.IgnoreFollower)
	}
}

func downgrade(d *core.Decision, reason core.IgnoreReason) {
	if d.Outcome != core.OutcomeMatch {
		return
	}
	d.Outcome = core.OutcomeIgnored
	d.Reason = reason
}
