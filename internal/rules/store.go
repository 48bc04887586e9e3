package rules

import (
	"log/slog"
	"sync/atomic"
)

// Store holds the active RuleSet and swaps it atomically on reload.
// In-flight evaluations keep the snapshot they took at invocation start.
// The store is "unconfigured" (Current returns nil) until the first
// successful load.
type Store struct {
	path          string
	cyrillicScore float64
	current       atomic.Pointer[RuleSet]
}

func NewStore(path string, cyrillicScore float64) *Store {
	return &Store{path: path, cyrillicScore: cyrillicScore}
}

// Current returns the active rule set snapshot, or nil when unconfigured.
func (s *Store) Current() *RuleSet {
	return s.current.Load()
}

// Path returns the configured rules file location.
func (s *Store) Path() string { return s.path }

// Reload loads the rules file and swaps it in. On failure the previous rule
// set stays active.
func (s *Store) Reload() (*RuleSet, error) {
	rs, err := Load(s.path, s.cyrillicScore)
	if err != nil {
		return nil, err
	}
	s.current.Store(rs)
	slog.Info("rules: loaded filter config",
		"name", rs.Name,
		"tiers", len(rs.Tiers),
		"min_score", rs.MinScore,
		"bots", len(rs.BotNames))
	return rs, nil
}
