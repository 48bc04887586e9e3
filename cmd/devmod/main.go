// devmod is a development harness: it loads a filter config and scores
// hand-crafted chat events over HTTP, so rule changes can be tried without
// connecting to a live channel.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/you/gnasty-mod/internal/auditstore"
	"github.com/you/gnasty-mod/internal/core"
	"github.com/you/gnasty-mod/internal/rules"
	"github.com/you/gnasty-mod/internal/scoring"
)

type evaluateReq struct {
	Username     string `json:"username"`
	UserID       string `json:"user_id,omitempty"`
	Text         string `json:"text"`
	Channel      string `json:"channel,omitempty"`
	Broadcaster  bool   `json:"broadcaster,omitempty"`
	Mod          bool   `json:"mod,omitempty"`
	VIP          bool   `json:"vip,omitempty"`
	Subscriber   bool   `json:"subscriber,omitempty"`
	FirstMessage bool   `json:"first_message,omitempty"`
	Following    bool   `json:"following,omitempty"`
	FollowDays   int    `json:"follow_days,omitempty"`
}

type evaluateResp struct {
	Outcome  string  `json:"outcome"`
	Score    float64 `json:"score"`
	Reason   string  `json:"reason,omitempty"`
	NearMiss bool    `json:"near_miss"`
	RuleSet  string  `json:"ruleset"`
}

func main() {
	var (
		addr          string
		rulesPath     string
		sqlitePath    string
		cyrillicScore float64
		nearMissFloor float64
	)

	flag.StringVar(&addr, "addr", ":8766", "HTTP listen address")
	flag.StringVar(&rulesPath, "rules", "filter_config.json", "Path to the filter config JSON file")
	flag.StringVar(&sqlitePath, "db", "", "Optional SQLite path; evaluations are recorded when set")
	flag.Float64Var(&cyrillicScore, "cyrillic-score", 10, "Score added when cyrillic characters match")
	flag.Float64Var(&nearMissFloor, "near-miss-floor", 2, "Score at which a non-match is reported as a near miss")
	flag.Parse()

	store := rules.NewStore(rulesPath, cyrillicScore)
	if _, err := store.Reload(); err != nil {
		log.Fatalf("devmod: load rules: %v", err)
	}
	if err := store.Watch(); err != nil {
		log.Printf("devmod: watch rules: %v", err)
	}
	engine := scoring.New(store, nearMissFloor)

	var audit *auditstore.Store
	if sqlitePath != "" {
		var err error
		audit, err = auditstore.Open(sqlitePath)
		if err != nil {
			log.Fatalf("devmod: open sqlite: %v", err)
		}
		defer audit.Close()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /evaluate", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req evaluateReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Username == "" || req.Text == "" {
			http.Error(w, "username and text required", http.StatusBadRequest)
			return
		}
		if req.UserID == "" {
			req.UserID = uuid.NewString()
		}
		if req.Channel == "" {
			req.Channel = "devmod"
		}

		d := engine.Evaluate(core.ChatEvent{
			ID:           uuid.NewString(),
			Ts:           time.Now().UTC(),
			Subject:      core.Subject{ID: req.UserID, Name: req.Username},
			Channel:      req.Channel,
			Text:         req.Text,
			Broadcaster:  req.Broadcaster,
			Mod:          req.Mod,
			VIP:          req.VIP,
			Subscriber:   req.Subscriber,
			FirstMessage: req.FirstMessage,
			Following:    req.Following,
			FollowDays:   req.FollowDays,
		})

		if audit != nil {
			if err := audit.RecordDecision(d, "NONE"); err != nil {
				log.Printf("devmod: record: %v", err)
			}
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(evaluateResp{
			Outcome:  d.Outcome.String(),
			Score:    d.Score,
			Reason:   d.Reason.String(),
			NearMiss: d.NearMiss,
			RuleSet:  d.RuleSetName,
		})
	})

	mux.HandleFunc("GET /rules", func(w http.ResponseWriter, _ *http.Request) {
		rs := store.Current()
		if rs == nil {
			http.Error(w, "no rules loaded", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name":      rs.Name,
			"tiers":     len(rs.Tiers),
			"min_score": rs.MinScore,
			"bots":      len(rs.BotNames),
		})
	})

	log.Printf("devmod listening on %s (rules=%s)", addr, rulesPath)
	log.Fatal(http.ListenAndServe(addr, mux))
}
