package config

import (
	"encoding/json"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/you/gnasty-mod/internal/twitchauth"
)

type Config struct {
	Twitch TwitchConfig
	Rules  RulesConfig
	Action ActionConfig
	Voting VotingConfig
	Wager  WagerConfig
	Store  StoreConfig
	HTTP   HTTPConfig
	Notify NotifyConfig
	Goal   string
}

type TwitchConfig struct {
	Channel      string
	Nick         string
	Token        string
	TokenFile    string
	ClientID     string
	ClientSecret string
}

type RulesConfig struct {
	Path          string
	CyrillicScore float64
	NearMissFloor float64
	// TrackFirstMessages enables the seen-chatter fallback when the
	// first-msg tag is absent.
	TrackFirstMessages bool
	SeenCacheSize      int
}

type ActionConfig struct {
	GraceMinutes int
	BanReason    string
}

type VotingConfig struct {
	VotesRequired  int
	PeriodSeconds  int
	FailTimeoutSec int
	PassTimeoutSec int
	DoubleNames    []string
	Announce       string
}

type WagerConfig struct {
	Responder       string
	BaseStake       int64
	MaxLossFactor   int64
	ReplyTimeoutSec int
	ResendDelaySec  int
}

type StoreConfig struct {
	SQLitePath string
}

type HTTPConfig struct {
	Addr        string
	RateRPS     int
	RateBurst   int
	CORSOrigins []string
}

type NotifyConfig struct {
	Keywords []string
}

const (
	defaultSQLitePath    = "moderation.db"
	defaultCyrillicScore = 10
	defaultNearMissFloor = 2
	defaultGraceMinutes  = 2
	defaultVotesRequired = 3
	defaultVotePeriodSec = 60
	defaultFailTimeout   = 600
	defaultPassTimeout   = 10800
	defaultResponder     = "StreamElements"
	defaultBaseStake     = 1
	defaultMaxLossFactor = 500
	defaultReplyTimeout  = 5
	defaultResendDelay   = 10
	defaultHTTPAddr      = ":8080"
)

func Load() Config {
	cfg := Config{}

	cfg.Twitch.Channel = strings.TrimSpace(os.Getenv("GNASTY_MOD_CHANNEL"))
	cfg.Twitch.Nick = strings.TrimSpace(os.Getenv("GNASTY_MOD_NICK"))
	cfg.Twitch.Token = strings.TrimSpace(os.Getenv("GNASTY_MOD_TOKEN"))
	cfg.Twitch.TokenFile = strings.TrimSpace(os.Getenv("GNASTY_MOD_TOKEN_FILE"))
	cfg.Twitch.ClientID = strings.TrimSpace(os.Getenv("GNASTY_MOD_CLIENT_ID"))
	cfg.Twitch.ClientSecret = strings.TrimSpace(os.Getenv("GNASTY_MOD_CLIENT_SECRET"))

	cfg.Rules.Path = strings.TrimSpace(os.Getenv("GNASTY_MOD_RULES_PATH"))
	if cfg.Rules.Path == "" {
		cfg.Rules.Path = "filter_config.json"
	}
	cfg.Rules.CyrillicScore = readFloat("GNASTY_MOD_CYRILLIC_SCORE", defaultCyrillicScore)
	cfg.Rules.NearMissFloor = readFloat("GNASTY_MOD_NEAR_MISS_FLOOR", defaultNearMissFloor)
	cfg.Rules.TrackFirstMessages = readBool("GNASTY_MOD_TRACK_FIRST_MESSAGES", true)
	cfg.Rules.SeenCacheSize = readInt("GNASTY_MOD_SEEN_CACHE_SIZE", 4096)

	cfg.Action.GraceMinutes = readInt("GNASTY_MOD_GRACE_MINUTES", defaultGraceMinutes)
	cfg.Action.BanReason = strings.TrimSpace(os.Getenv("GNASTY_MOD_BAN_REASON"))

	cfg.Voting.VotesRequired = readInt("GNASTY_MOD_VOTES_REQUIRED", defaultVotesRequired)
	cfg.Voting.PeriodSeconds = readInt("GNASTY_MOD_VOTE_PERIOD_SEC", defaultVotePeriodSec)
	cfg.Voting.FailTimeoutSec = readInt("GNASTY_MOD_VOTE_FAIL_TIMEOUT_SEC", defaultFailTimeout)
	cfg.Voting.PassTimeoutSec = readInt("GNASTY_MOD_VOTE_PASS_TIMEOUT_SEC", defaultPassTimeout)
	cfg.Voting.DoubleNames = splitList(os.Getenv("GNASTY_MOD_VOTE_DOUBLE_NAMES"))
	cfg.Voting.Announce = strings.TrimSpace(os.Getenv("GNASTY_MOD_VOTE_ANNOUNCE"))
	if cfg.Voting.Announce == "" {
		cfg.Voting.Announce = "Break vote is open! Type ?votebreak to vote."
	}

	cfg.Wager.Responder = strings.TrimSpace(os.Getenv("GNASTY_MOD_WAGER_RESPONDER"))
	if cfg.Wager.Responder == "" {
		cfg.Wager.Responder = defaultResponder
	}
	cfg.Wager.BaseStake = readInt64("GNASTY_MOD_WAGER_BASE_STAKE", defaultBaseStake)
	cfg.Wager.MaxLossFactor = readInt64("GNASTY_MOD_WAGER_MAX_LOSS_FACTOR", defaultMaxLossFactor)
	cfg.Wager.ReplyTimeoutSec = readInt("GNASTY_MOD_WAGER_REPLY_TIMEOUT_SEC", defaultReplyTimeout)
	cfg.Wager.ResendDelaySec = readInt("GNASTY_MOD_WAGER_RESEND_DELAY_SEC", defaultResendDelay)

	cfg.Store.SQLitePath = strings.TrimSpace(os.Getenv("GNASTY_MOD_SQLITE_PATH"))
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = defaultSQLitePath
	}

	cfg.HTTP.Addr = strings.TrimSpace(os.Getenv("GNASTY_MOD_HTTP_ADDR"))
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = defaultHTTPAddr
	}
	cfg.HTTP.RateRPS = readInt("GNASTY_MOD_HTTP_RATE_RPS", 0)
	cfg.HTTP.RateBurst = readInt("GNASTY_MOD_HTTP_RATE_BURST", 0)
	cfg.HTTP.CORSOrigins = splitList(os.Getenv("GNASTY_MOD_HTTP_CORS_ORIGINS"))

	cfg.Notify.Keywords = splitList(os.Getenv("GNASTY_MOD_NOTIFY_KEYWORDS"))
	cfg.Goal = strings.TrimSpace(os.Getenv("GNASTY_MOD_GOAL"))

	return cfg
}

// ResolveToken resolves the chat token, preferring the file when set so a
// rotated token is picked up on the next reconnect.
func (t TwitchConfig) ResolveToken() string {
	if t.TokenFile != "" {
		if tok, err := twitchauth.ReadTokenFile(t.TokenFile); err == nil && tok != "" {
			return tok
		}
	}
	return t.Token
}

func (a ActionConfig) GracePeriod() time.Duration {
	minutes := a.GraceMinutes
	if minutes <= 0 {
		minutes = defaultGraceMinutes
	}
	return time.Duration(minutes) * time.Minute
}

func (v VotingConfig) Period() time.Duration {
	return time.Duration(v.PeriodSeconds) * time.Second
}

func (v VotingConfig) FailTimeout() time.Duration {
	return time.Duration(v.FailTimeoutSec) * time.Second
}

func (v VotingConfig) PassTimeout() time.Duration {
	return time.Duration(v.PassTimeoutSec) * time.Second
}

func (w WagerConfig) ReplyTimeout() time.Duration {
	return time.Duration(w.ReplyTimeoutSec) * time.Second
}

func (w WagerConfig) ResendDelay() time.Duration {
	return time.Duration(w.ResendDelaySec) * time.Second
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return dedupe(out)
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(v))
	}
	sort.Strings(out)
	return out
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n <= 0 {
		return def
	}
	return n
}

func readInt64(name string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func readFloat(name string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		return def
	}
	return f
}

func readBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func (c Config) Summary() Summary {
	return Summary{
		Channel:       c.Twitch.Channel,
		Nick:          c.Twitch.Nick,
		Token:         redactString(c.Twitch.Token),
		TokenFile:     c.Twitch.TokenFile,
		RulesPath:     c.Rules.Path,
		SQLitePath:    c.Store.SQLitePath,
		HTTPAddr:      c.HTTP.Addr,
		GraceMinutes:  c.Action.GraceMinutes,
		VotesRequired: c.Voting.VotesRequired,
		Responder:     c.Wager.Responder,
		NotifyWords:   len(c.Notify.Keywords),
	}
}

type Summary struct {
	Channel       string `json:"channel"`
	Nick          string `json:"nick,omitempty"`
	Token         string `json:"token,omitempty"`
	TokenFile     string `json:"token_file,omitempty"`
	RulesPath     string `json:"rules_path"`
	SQLitePath    string `json:"sqlite_path"`
	HTTPAddr      string `json:"http_addr"`
	GraceMinutes  int    `json:"grace_minutes"`
	VotesRequired int    `json:"votes_required"`
	Responder     string `json:"responder"`
	NotifyWords   int    `json:"notify_words"`
}

func (c Config) Redacted() map[string]any {
	return map[string]any{
		"twitch": map[string]any{
			"channel":       c.Twitch.Channel,
			"nick":          c.Twitch.Nick,
			"token":         redactString(c.Twitch.Token),
			"token_file":    c.Twitch.TokenFile,
			"client_id":     redactString(c.Twitch.ClientID),
			"client_secret": redactString(c.Twitch.ClientSecret),
		},
		"rules": map[string]any{
			"path":            c.Rules.Path,
			"cyrillic_score":  c.Rules.CyrillicScore,
			"near_miss_floor": c.Rules.NearMissFloor,
			"track_first":     c.Rules.TrackFirstMessages,
		},
		"action": map[string]any{
			"grace_minutes": c.Action.GraceMinutes,
		},
		"voting": map[string]any{
			"required":     c.Voting.VotesRequired,
			"period_sec":   c.Voting.PeriodSeconds,
			"fail_sec":     c.Voting.FailTimeoutSec,
			"pass_sec":     c.Voting.PassTimeoutSec,
			"double_names": append([]string(nil), c.Voting.DoubleNames...),
		},
		"wager": map[string]any{
			"responder":       c.Wager.Responder,
			"base_stake":      c.Wager.BaseStake,
			"max_loss_factor": c.Wager.MaxLossFactor,
		},
		"store": map[string]any{
			"sqlite_path": c.Store.SQLitePath,
		},
		"http": map[string]any{
			"addr":         c.HTTP.Addr,
			"rate_rps":     c.HTTP.RateRPS,
			"rate_burst":   c.HTTP.RateBurst,
			"cors_origins": append([]string(nil), c.HTTP.CORSOrigins...),
		},
		"notify": map[string]any{
			"keywords": len(c.Notify.Keywords),
		},
	}
}

func (c Config) RedactedJSON() []byte {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return data
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}

func (c Config) SummaryJSON() []byte {
	summary := struct {
		Config Summary `json:"config_summary"`
	}{Config: c.Summary()}
	data, _ := json.Marshal(summary)
	return data
}
