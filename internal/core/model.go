package core

import "time"

// Subject identifies a chatter: the platform-stable ID plus the display name
// chat commands and announcements refer to.
type Subject struct {
	ID   string
	Name string
}

// ChatEvent is the unified structure delivered by the transport and consumed
// by the moderation pipeline. It is immutable once received.
type ChatEvent struct {
	ID           string    // platform-native message ID (or composed)
	Ts           time.Time // message timestamp
	Subject      Subject
	Channel      string
	Text         string
	Broadcaster  bool
	Mod          bool
	VIP          bool
	Subscriber   bool
	FirstMessage bool   // first message this chatter ever sent in the channel
	Following    bool   // chatter follows the channel
	FollowDays   int    // days followed; meaningful only when Following
	RawJSON      string // optional: raw source payload for debugging
}

// Staff reports whether the sender is broadcaster or moderator.
func (e ChatEvent) Staff() bool { return e.Broadcaster || e.Mod }

// Outcome classifies the result of evaluating a ChatEvent against a rule set.
type Outcome int

const (
	OutcomeError   Outcome = iota // no result could be produced
	OutcomeNoMatch                // message was not matched
	OutcomeMatch                  // message was matched
	OutcomeIgnored                // message was matched but ignored
)

func (o Outcome) String() string {
	switch o {
	case OutcomeError:
		return "error"
	case OutcomeNoMatch:
		return "no_match"
	case OutcomeMatch:
		return "match"
	case OutcomeIgnored:
		return "ignored"
	}
	return "unknown"
}

// IgnoreReason details why a matched message was given a pass.
type IgnoreReason int

const (
	IgnoreNone IgnoreReason = iota
	IgnoreFriendlyBot
	IgnoreChannelStaff
	IgnoreVIP
	IgnoreSubscriber
	IgnoreFollower
)

func (r IgnoreReason) String() string {
	switch r {
	case IgnoreFriendlyBot:
		return "FRIENDLY_BOT"
	case IgnoreChannelStaff:
		return "CHANNEL_STAFF"
	case IgnoreVIP:
		return "VIP"
	case IgnoreSubscriber:
		return "SUBSCRIBER"
	case IgnoreFollower:
		return "FOLLOWER"
	}
	return ""
}

// Decision is the scoring verdict for a single ChatEvent.
type Decision struct {
	RuleSetName string
	Outcome     Outcome
	Score       float64
	Reason      IgnoreReason // set when Outcome is OutcomeIgnored
	NearMiss    bool         // NoMatch whose score reached the near-miss floor
	Event       ChatEvent
}
