package notify

import (
	"testing"

	"github.com/you/gnasty-mod/internal/core"
)

func event(text string) core.ChatEvent {
	return core.ChatEvent{Subject: core.Subject{ID: "u1", Name: "chatter"}, Channel: "gnastyp", Text: text}
}

func TestCheckMatchesWholeWords(t *testing.T) {
	n := New([]string{"giveaway", " RAID "})

	cases := []struct {
		text string
		want bool
	}{
		{"big GIVEAWAY tonight", true},
		{"incoming raid", true},
		{"giveawayy soon", false},
		{"nothing to see", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := n.Check(event(tc.text)); got != tc.want {
			t.Fatalf("Check(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestCheckNoKeywords(t *testing.T) {
	n := New(nil)
	if n.Check(event("giveaway")) {
		t.Fatal("notifier without keywords must never match")
	}
}
