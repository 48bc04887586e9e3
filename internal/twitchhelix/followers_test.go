package twitchhelix

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/you/gnasty-mod/internal/core"
)

type helixFixture struct {
	srv         *httptest.Server
	tokenCalls  atomic.Int64
	userCalls   atomic.Int64
	followCalls atomic.Int64
	followedAt  time.Time
}

func newHelixFixture(t *testing.T) *helixFixture {
	t.Helper()
	f := &helixFixture{followedAt: time.Now().Add(-72 * time.Hour)}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "app-token", "expires_in": 3600})
	})
	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		f.userCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer app-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("login") != "gnastyp" {
			_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]string{{"id": "777"}}})
	})
	mux.HandleFunc("/channels/followers", func(w http.ResponseWriter, r *http.Request) {
		f.followCalls.Add(1)
		if r.URL.Query().Get("broadcaster_id") != "777" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.URL.Query().Get("user_id") != "1001" {
			fmt.Fprint(w, `{"data":[]}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"followed_at": f.followedAt.UTC().Format(time.RFC3339)}},
		})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	oldBase, oldToken := helixBaseURL, oauthTokenURL
	helixBaseURL = f.srv.URL
	oauthTokenURL = f.srv.URL + "/oauth2/token"
	t.Cleanup(func() { helixBaseURL, oauthTokenURL = oldBase, oldToken })

	return f
}

func TestFollowAge(t *testing.T) {
	f := newHelixFixture(t)
	c := NewClient("cid", "secret")

	following, days, err := c.FollowAge(context.Background(), "gnastyp", core.Subject{ID: "1001", Name: "follower"})
	if err != nil {
		t.Fatalf("follow age: %v", err)
	}
	if !following || days != 3 {
		t.Fatalf("following=%v days=%d, want true/3", following, days)
	}
	if f.tokenCalls.Load() != 1 || f.userCalls.Load() != 1 || f.followCalls.Load() != 1 {
		t.Fatalf("calls = %d/%d/%d", f.tokenCalls.Load(), f.userCalls.Load(), f.followCalls.Load())
	}
}

func TestFollowAgeNotFollowing(t *testing.T) {
	newHelixFixture(t)
	c := NewClient("cid", "secret")

	following, days, err := c.FollowAge(context.Background(), "gnastyp", core.Subject{ID: "2002", Name: "stranger"})
	if err != nil {
		t.Fatalf("follow age: %v", err)
	}
	if following || days != 0 {
		t.Fatalf("following=%v days=%d, want false/0", following, days)
	}
}

func TestFollowAgeCaches(t *testing.T) {
	f := newHelixFixture(t)
	c := NewClient("cid", "secret")
	subject := core.Subject{ID: "1001", Name: "follower"}

	if _, _, err := c.FollowAge(context.Background(), "gnastyp", subject); err != nil {
		t.Fatalf("first lookup: %v", err)
	}
	if _, _, err := c.FollowAge(context.Background(), "gnastyp", subject); err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if f.followCalls.Load() != 1 {
		t.Fatalf("follow calls = %d, want the second lookup served from cache", f.followCalls.Load())
	}
	if f.tokenCalls.Load() != 1 {
		t.Fatalf("token calls = %d, want the app token reused", f.tokenCalls.Load())
	}
}

func TestFollowAgeNumericChannelSkipsUserLookup(t *testing.T) {
	f := newHelixFixture(t)
	c := NewClient("cid", "secret")

	if _, _, err := c.FollowAge(context.Background(), "777", core.Subject{ID: "1001", Name: "follower"}); err != nil {
		t.Fatalf("follow age: %v", err)
	}
	if f.userCalls.Load() != 0 {
		t.Fatalf("user calls = %d, want numeric channel resolved directly", f.userCalls.Load())
	}
}

func TestFollowAgeRequiresCredentials(t *testing.T) {
	c := NewClient("", "")
	if _, _, err := c.FollowAge(context.Background(), "gnastyp", core.Subject{ID: "1001"}); err == nil {
		t.Fatal("expected an error without client credentials")
	}

	c = NewClient("cid", "secret")
	if _, _, err := c.FollowAge(context.Background(), "gnastyp", core.Subject{}); err == nil {
		t.Fatal("expected an error without a subject id")
	}
}
