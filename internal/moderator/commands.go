package moderator

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/you/gnasty-mod/internal/auditstore"
	"github.com/you/gnasty-mod/internal/core"
)

// handleCommand dispatches "?" commands. Moderation commands are gated on
// broadcaster or mod badges; informational ones are open to everyone.
func (m *Moderator) handleCommand(ctx context.Context, ev core.ChatEvent) {
	fields := strings.Fields(ev.Text)
	if len(fields) == 0 {
		return
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "?"))
	args := fields[1:]

	switch cmd {
	case "fp":
		if !ev.Staff() || len(args) == 0 {
			return
		}
		m.cancelAction(ctx, args[0])

	case "reload":
		if !ev.Staff() {
			return
		}
		if _, err := m.cfg.Rules.Reload(); err != nil {
			log.Printf("moderator: reload failed: %v", err)
			m.say(ctx, "Filter config reload failed, keeping the previous config.")
			return
		}
		m.say(ctx, "Filter config reloaded.")

	case "votebreak":
		if m.cfg.Votes != nil {
			m.cfg.Votes.AddVote(ev.Subject)
		}

	case "gamble":
		if !ev.Staff() || m.cfg.Wager == nil {
			return
		}
		n := 1
		if len(args) > 0 {
			parsed, err := strconv.Atoi(args[0])
			if err != nil || parsed < 1 {
				m.say(ctx, fmt.Sprintf("@%s usage: ?gamble <rounds>", ev.Subject.Name))
				return
			}
			n = parsed
		}
		m.cfg.Wager.Start(n)

	case "count", "subs", "bits", "redeems", "check":
		name := ev.Subject.Name
		if len(args) > 0 {
			name = args[0]
		}
		m.sayCounts(ctx, name, ev.Channel)

	case "tickets":
		name := ev.Subject.Name
		if len(args) > 0 {
			name = args[0]
		}
		m.sayTickets(ctx, name, ev.Channel)

	case "raffle":
		if !ev.Staff() {
			return
		}
		m.drawRaffle(ctx, ev.Channel)

	case "hello":
		m.say(ctx, fmt.Sprintf("Hello, @%s!", ev.Subject.Name))

	case "goal":
		if m.cfg.GoalText != "" {
			m.say(ctx, m.cfg.GoalText)
		}

	case "leave":
		if !ev.Staff() || m.cfg.Leave == nil {
			return
		}
		m.say(ctx, "Goodbye!")
		m.cfg.Leave()
	}
}

func (m *Moderator) cancelAction(ctx context.Context, name string) {
	name = strings.TrimPrefix(name, "@")
	h, err := m.cfg.Registry.CancelByName(ctx, name)
	if err != nil {
		log.Printf("moderator: fp for %s: %v", name, err)
		m.say(ctx, fmt.Sprintf("No pending ban found for %s.", name))
		return
	}
	m.say(ctx, fmt.Sprintf("@%s was marked as a false positive and untimed out.", h.Subject.Name))
}

func (m *Moderator) sayCounts(ctx context.Context, name, channel string) {
	if m.cfg.Store == nil {
		return
	}
	name = strings.TrimPrefix(name, "@")
	c, err := m.cfg.Store.CountsByName(name, channel)
	if err != nil {
		if errors.Is(err, auditstore.ErrNotFound) {
			m.say(ctx, fmt.Sprintf("No gifts on record for %s.", name))
		} else {
			log.Printf("moderator: counts lookup failed for %s: %v", name, err)
		}
		return
	}
	m.say(ctx, fmt.Sprintf("%s has gifted %d subs, %d bits and %d redeems.",
		c.Username, c.Subs, c.Bits, c.Redeems))
}

func (m *Moderator) sayTickets(ctx context.Context, name, channel string) {
	if m.cfg.Store == nil {
		return
	}
	name = strings.TrimPrefix(name, "@")
	c, err := m.cfg.Store.CountsByName(name, channel)
	if err != nil {
		if errors.Is(err, auditstore.ErrNotFound) {
			m.say(ctx, fmt.Sprintf("%s has no raffle tickets yet.", name))
		} else {
			log.Printf("moderator: tickets lookup failed for %s: %v", name, err)
		}
		return
	}
	m.say(ctx, fmt.Sprintf("%s has %d raffle tickets.", c.Username, c.Tickets()))
}

func (m *Moderator) drawRaffle(ctx context.Context, channel string) {
	if m.cfg.Store == nil {
		return
	}
	winner, err := m.cfg.Store.DrawRaffle(channel)
	if err != nil {
		if errors.Is(err, auditstore.ErrNotFound) {
			m.say(ctx, "Nobody holds a raffle ticket yet.")
		} else {
			log.Printf("moderator: raffle draw failed: %v", err)
		}
		return
	}
	m.say(ctx, fmt.Sprintf("The raffle winner is @%s with %d tickets! PogChamp", winner.Username, winner.Tickets()))
}
