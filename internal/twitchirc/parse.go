package twitchirc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/you/gnasty-mod/internal/core"
)

func parsePrivmsg(line, channel string) (core.ChatEvent, bool) {
	original := line
	tags, prefix, cmd, chanName, trailing, ok := splitLine(line)
	if !ok || cmd != "PRIVMSG" || !strings.EqualFold(chanName, channel) {
		return core.ChatEvent{}, false
	}

	user := extractUser(prefix)
	if display := tags["display-name"]; display != "" {
		user = display
	}

	ts := time.Now().UTC()
	if tsStr := tags["tmi-sent-ts"]; tsStr != "" {
		if ms, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
			ts = time.Unix(0, ms*int64(time.Millisecond)).UTC()
		}
	}

	id := tags["id"]
	if id == "" {
		id = fmt.Sprintf("%s-%d", user, ts.UnixNano())
	}

	badges := tags["badges"]
	rawMap := map[string]any{
		"tags":   tags,
		"prefix": prefix,
		"line":   original,
	}
	rawJSON, _ := json.Marshal(rawMap)

	return core.ChatEvent{
		ID:           id,
		Ts:           ts,
		Subject:      core.Subject{ID: tags["user-id"], Name: user},
		Channel:      chanName,
		Text:         trailing,
		Broadcaster:  hasBadge(badges, "broadcaster"),
		Mod:          tags["mod"] == "1",
		VIP:          tags["vip"] == "1" || hasBadge(badges, "vip"),
		Subscriber:   tags["subscriber"] == "1" || hasBadge(badges, "subscriber") || hasBadge(badges, "founder"),
		FirstMessage: tags["first-msg"] == "1",
		RawJSON:      string(rawJSON),
	}, true
}

// GiftEvent is a subscription gift, a bit cheer, or a channel point
// redemption seen in the channel.
type GiftEvent struct {
	Subject core.Subject
	Channel string
	Subs    int64
	Bits    int64
	Redeems int64
}

func parseGift(line, channel string) (GiftEvent, bool) {
	tags, prefix, cmd, chanName, _, ok := splitLine(line)
	if !ok || !strings.EqualFold(chanName, channel) {
		return GiftEvent{}, false
	}

	user := extractUser(prefix)
	if display := tags["display-name"]; display != "" {
		user = display
	}
	subject := core.Subject{ID: tags["user-id"], Name: user}

	switch cmd {
	case "USERNOTICE":
		switch tags["msg-id"] {
		case "subgift":
			return GiftEvent{Subject: subject, Channel: chanName, Subs: 1}, true
		case "submysterygift":
			n := int64(1)
			if v, err := strconv.ParseInt(tags["msg-param-mass-gift-count"], 10, 64); err == nil && v > 0 {
				n = v
			}
			return GiftEvent{Subject: subject, Channel: chanName, Subs: n}, true
		}
	case "PRIVMSG":
		if v, err := strconv.ParseInt(tags["bits"], 10, 64); err == nil && v > 0 {
			return GiftEvent{Subject: subject, Channel: chanName, Bits: v}, true
		}
		// Messages attached to a channel point reward carry the reward id.
		if tags["custom-reward-id"] != "" {
			return GiftEvent{Subject: subject, Channel: chanName, Redeems: 1}, true
		}
	}
	return GiftEvent{}, false
}

// splitLine breaks a tagged IRC line into its parts. trailing is the text
// after the final " :".
func splitLine(line string) (tags map[string]string, prefix, cmd, chanName, trailing string, ok bool) {
	tags = map[string]string{}
	rest := line

	if strings.HasPrefix(rest, "@") {
		idx := strings.Index(rest, " ")
		if idx == -1 {
			return nil, "", "", "", "", false
		}
		for _, kv := range strings.Split(rest[1:idx], ";") {
			if kv == "" {
				continue
			}
			parts := strings.SplitN(kv, "=", 2)
			val := ""
			if len(parts) == 2 {
				val = unescapeIRC(parts[1])
			}
			tags[parts[0]] = val
		}
		rest = strings.TrimSpace(rest[idx+1:])
	}

	if !strings.HasPrefix(rest, ":") {
		return nil, "", "", "", "", false
	}
	rest = rest[1:]

	idx := strings.Index(rest, " ")
	if idx == -1 {
		return nil, "", "", "", "", false
	}
	prefix = rest[:idx]
	rest = strings.TrimSpace(rest[idx+1:])

	idx = strings.Index(rest, " ")
	if idx == -1 {
		return nil, "", "", "", "", false
	}
	cmd = strings.ToUpper(rest[:idx])
	rest = strings.TrimSpace(rest[idx+1:])

	if !strings.HasPrefix(rest, "#") {
		return nil, "", "", "", "", false
	}
	rest = rest[1:]
	if idx = strings.Index(rest, " "); idx == -1 {
		chanName = rest
		return tags, prefix, cmd, chanName, "", true
	}
	chanName = rest[:idx]
	rest = strings.TrimSpace(rest[idx+1:])

	if strings.HasPrefix(rest, ":") {
		trailing = rest[1:]
	}
	return tags, prefix, cmd, chanName, trailing, true
}

func hasBadge(badges, name string) bool {
	for _, b := range strings.Split(badges, ",") {
		if strings.HasPrefix(b, name+"/") {
			return true
		}
	}
	return false
}

func extractUser(prefix string) string {
	if strings.HasPrefix(prefix, ":") {
		prefix = prefix[1:]
	}
	if idx := strings.Index(prefix, "!"); idx != -1 {
		return prefix[:idx]
	}
	return prefix
}

func unescapeIRC(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 's':
			b.WriteByte(' ')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case ':':
			b.WriteByte(';')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
