package httpapi

import (
	"net/url"
	"testing"
	"time"

	"github.com/you/gnasty-mod/internal/auditstore"
)

func TestParseFiltersDefaults(t *testing.T) {
	f, err := ParseFilters(url.Values{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Limit != defaultLimit {
		t.Fatalf("limit = %d, want %d", f.Limit, defaultLimit)
	}
	if f.NearMiss != nil || f.Since != nil || len(f.Statuses) != 0 || len(f.Usernames) != 0 {
		t.Fatalf("unexpected non-zero filters: %+v", f)
	}
}

func TestParseFiltersFull(t *testing.T) {
	v := url.Values{}
	v.Set("limit", "50")
	v.Set("near_miss", "true")
	v.Set("since", "2024-05-01T00:00:00Z")
	v.Add("status", "timed,BANNED")
	v.Add("username", "spam, Bot")

	f, err := ParseFilters(v)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Limit != 50 {
		t.Fatalf("limit = %d", f.Limit)
	}
	if f.NearMiss == nil || !*f.NearMiss {
		t.Fatal("near_miss not set")
	}
	if f.Since == nil || !f.Since.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("since = %v", f.Since)
	}
	if len(f.Statuses) != 2 || f.Statuses[0] != "TIMED" || f.Statuses[1] != "BANNED" {
		t.Fatalf("statuses = %v", f.Statuses)
	}
	if len(f.Usernames) != 2 || f.Usernames[0] != "spam" || f.Usernames[1] != "bot" {
		t.Fatalf("usernames = %v", f.Usernames)
	}
}

func TestParseFiltersLimitClamped(t *testing.T) {
	v := url.Values{}
	v.Set("limit", "99999")
	f, err := ParseFilters(v)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Limit != maxLimit {
		t.Fatalf("limit = %d, want clamp to %d", f.Limit, maxLimit)
	}
}

func TestParseFiltersSinceUnix(t *testing.T) {
	v := url.Values{}
	v.Set("since", "1700000000")
	f, err := ParseFilters(v)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Since == nil || !f.Since.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Fatalf("since = %v", f.Since)
	}
}

func TestParseFiltersSinceDuration(t *testing.T) {
	v := url.Values{}
	v.Set("since", "24h")
	f, err := ParseFilters(v)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Since == nil {
		t.Fatal("since not set")
	}
	want := time.Now().Add(-24 * time.Hour)
	if diff := f.Since.Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("since = %v, want about %v", f.Since, want)
	}
}

func TestParseFiltersRejectsBadInput(t *testing.T) {
	bad := []url.Values{
		{"limit": {"0"}},
		{"limit": {"-3"}},
		{"limit": {"abc"}},
		{"near_miss": {"sometimes"}},
		{"since": {"not-a-time"}},
		{"status": {"SHADOWREALM"}},
	}
	for _, v := range bad {
		if _, err := ParseFilters(v); err == nil {
			t.Fatalf("expected error for %v", v)
		}
	}
}

func TestFiltersMatches(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ev := auditstore.FilterEvent{
		Username: "SpamBot99",
		Status:   "TIMED",
		NearMiss: false,
		Ts:       ts,
	}

	boolPtr := func(b bool) *bool { return &b }
	timePtr := func(t time.Time) *time.Time { return &t }

	cases := []struct {
		name string
		f    Filters
		want bool
	}{
		{"empty matches all", Filters{}, true},
		{"status match", Filters{Statuses: []string{"TIMED"}}, true},
		{"status mismatch", Filters{Statuses: []string{"BANNED"}}, false},
		{"status any of", Filters{Statuses: []string{"BANNED", "TIMED"}}, true},
		{"username substring", Filters{Usernames: []string{"spambot"}}, true},
		{"username mismatch", Filters{Usernames: []string{"angel"}}, false},
		{"near miss mismatch", Filters{NearMiss: boolPtr(true)}, false},
		{"near miss match", Filters{NearMiss: boolPtr(false)}, true},
		{"since before event", Filters{Since: timePtr(ts.Add(-time.Hour))}, true},
		{"since after event", Filters{Since: timePtr(ts.Add(time.Hour))}, false},
	}
	for _, tc := range cases {
		if got := tc.f.Matches(ev); got != tc.want {
			t.Fatalf("%s: Matches = %v, want %v", tc.name, got, tc.want)
		}
	}
}
