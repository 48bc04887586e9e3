// Package notify surfaces chat lines containing configured keywords as
// highlighted log entries for the operator.
package notify

import (
	"log/slog"
	"strings"

	"github.com/you/gnasty-mod/internal/core"
)

type Notifier struct {
	keywords map[string]struct{}
}

// New builds a notifier for the given keyword list. Matching is by whole
// lowercased word.
func New(keywords []string) *Notifier {
	set := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			set[kw] = struct{}{}
		}
	}
	return &Notifier{keywords: set}
}

// Check logs a notification when the event text contains a keyword and
// reports whether it did.
func (n *Notifier) Check(ev core.ChatEvent) bool {
	if len(n.keywords) == 0 {
		return false
	}
	for _, word := range strings.Fields(strings.ToLower(ev.Text)) {
		if _, ok := n.keywords[word]; ok {
			slog.Warn("notify: keyword mentioned",
				"user", ev.Subject.Name,
				"channel", ev.Channel,
				"message", ev.Text)
			return true
		}
	}
	return false
}
