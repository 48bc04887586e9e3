package rules

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Tier is one scoring bucket: its weight doubles as its identity, so the
// numeric key from the config file must be preserved exactly.
type Tier struct {
	Weight  int
	Pattern *regexp.Regexp
}

// Multipliers scale a message score based on the sender's relation to the
// channel.
type Multipliers struct {
	FollowTimeDaysCutoff       int
	FollowTimeMultiplier       float64
	FirstTimeChatterMultiplier float64
}

// Options are the ignore-policy flags.
type Options struct {
	SilentIgnoreBots   bool
	IgnoreChannelStaff bool
	IgnoreVIP          bool
	IgnoreSubscriber   bool
	IgnoreFollower     bool
}

// RuleSet is one fully validated filter configuration. Instances are
// immutable after Load; replacement happens by atomic swap in the Store.
type RuleSet struct {
	Name          string
	Tiers         []Tier
	MinScore      float64
	CyrillicScore float64 // 0 disables the cyrillic bonus
	Multipliers   Multipliers
	BotNames      map[string]struct{}
	Options       Options
}

// IsFriendlyBot reports whether the display name is on the friendly-bot list.
func (r *RuleSet) IsFriendlyBot(name string) bool {
	_, ok := r.BotNames[strings.ToLower(name)]
	return ok
}

type fileFormat struct {
	Name         string              `json:"name"`
	FlaggedTiers map[string][]string `json:"flaggedTiers"`
	MinScore     float64             `json:"minScore"`
	Multipliers  struct {
		FollowTimeDaysCutoff       int     `json:"follow_time_days_cutoff"`
		FollowTimeMultiplier       float64 `json:"follow_time_multiplier"`
		FirstTimeChatterMultiplier float64 `json:"first_time_chatter_multiplier"`
	} `json:"multipliers"`
	BotNames []string `json:"bot_names"`
	Options  struct {
		SilentIgnoreBots   bool `json:"silent_ignore_bots"`
		IgnoreChannelStaff bool `json:"ignore_channel_staff"`
		IgnoreVIP          bool `json:"ignore_vip"`
		IgnoreSubscriber   bool `json:"ignore_subscriber"`
		IgnoreFollower     bool `json:"ignore_follower"`
	} `json:"options"`
}

// Load reads and validates a filter configuration file. A tier key that does
// not parse as a base-10 integer rejects the whole file; a tier with an empty
// pattern list is skipped with a warning. cyrillicScore is carried onto the
// rule set (0 disables the bonus).
func Load(path string, cyrillicScore float64) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(data, cyrillicScore)
}

// Parse validates raw JSON rule configuration. See Load.
func Parse(data []byte, cyrillicScore float64) (*RuleSet, error) {
	var raw fileFormat
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	if strings.TrimSpace(raw.Name) == "" {
		return nil, fmt.Errorf("rules: name is required")
	}

	rs := &RuleSet{
		Name:          raw.Name,
		MinScore:      raw.MinScore,
		CyrillicScore: cyrillicScore,
		Multipliers: Multipliers{
			FollowTimeDaysCutoff:       raw.Multipliers.FollowTimeDaysCutoff,
			FollowTimeMultiplier:       raw.Multipliers.FollowTimeMultiplier,
			FirstTimeChatterMultiplier: raw.Multipliers.FirstTimeChatterMultiplier,
		},
		BotNames: make(map[string]struct{}, len(raw.BotNames)),
		Options: Options{
			SilentIgnoreBots:   raw.Options.SilentIgnoreBots,
			IgnoreChannelStaff: raw.Options.IgnoreChannelStaff,
			IgnoreVIP:          raw.Options.IgnoreVIP,
			IgnoreSubscriber:   raw.Options.IgnoreSubscriber,
			IgnoreFollower:     raw.Options.IgnoreFollower,
		},
	}
	if rs.Multipliers.FollowTimeMultiplier == 0 {
		rs.Multipliers.FollowTimeMultiplier = 1
	}
	if rs.Multipliers.FirstTimeChatterMultiplier == 0 {
		rs.Multipliers.FirstTimeChatterMultiplier = 1
	}

	for _, name := range raw.BotNames {
		rs.BotNames[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
	}

	// Deterministic tier order so evaluation and logging are stable.
	keys := make([]string, 0, len(raw.FlaggedTiers))
	for key := range raw.FlaggedTiers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		weight, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("rules: tier key %q is not an integer", key)
		}
		patterns := raw.FlaggedTiers[key]
		if len(patterns) == 0 {
			slog.Warn("rules: skipping tier with empty list", "tier", key)
			continue
		}
		re, err := regexp.Compile("(?i)" + strings.Join(patterns, "|"))
		if err != nil {
			return nil, fmt.Errorf("rules: tier %q: %w", key, err)
		}
		rs.Tiers = append(rs.Tiers, Tier{Weight: weight, Pattern: re})
	}

	return rs, nil
}
