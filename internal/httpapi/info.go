package httpapi

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"
)

// BuildInfo identifies the running binary on /info.
type BuildInfo struct {
	Version  string
	Revision string
	BuiltAt  time.Time
}

// infoResponse pairs build identity with live moderation state, so a
// dashboard can show which channel and filter config this instance runs.
type infoResponse struct {
	Version  string `json:"version"`
	Revision string `json:"rev"`
	BuiltAt  string `json:"built_at,omitempty"`
	Go       string `json:"go"`
	Uptime   string `json:"uptime"`
	Channel  string `json:"channel,omitempty"`
	RuleSet  string `json:"ruleset,omitempty"`
	Pending  int    `json:"pending_actions"`
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	resp := infoResponse{
		Version:  s.opts.Build.Version,
		Revision: s.opts.Build.Revision,
		Go:       runtime.Version(),
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Channel:  s.opts.Channel,
	}
	if !s.opts.Build.BuiltAt.IsZero() {
		resp.BuiltAt = s.opts.Build.BuiltAt.UTC().Format(time.RFC3339)
	}
	if s.opts.RulesetName != nil {
		resp.RuleSet = s.opts.RulesetName()
	}
	if s.pending != nil {
		resp.Pending = len(s.pending.Snapshot())
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(resp)
}
