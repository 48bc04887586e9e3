package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/you/gnasty-mod/internal/action"
	"github.com/you/gnasty-mod/internal/auditstore"
	"github.com/you/gnasty-mod/internal/config"
	"github.com/you/gnasty-mod/internal/core"
	httpadmin "github.com/you/gnasty-mod/internal/http"
	"github.com/you/gnasty-mod/internal/httpapi"
	"github.com/you/gnasty-mod/internal/moderator"
	"github.com/you/gnasty-mod/internal/notify"
	"github.com/you/gnasty-mod/internal/rules"
	"github.com/you/gnasty-mod/internal/scoring"
	"github.com/you/gnasty-mod/internal/twitchauth"
	"github.com/you/gnasty-mod/internal/twitchhelix"
	"github.com/you/gnasty-mod/internal/twitchirc"
	"github.com/you/gnasty-mod/internal/version"
	"github.com/you/gnasty-mod/internal/voting"
	"github.com/you/gnasty-mod/internal/wager"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		versionFlag  bool
		dbPath       string
		channel      string
		nick         string
		token        string
		tokenFile    string
		rulesPath    string
		httpAddr     string
		graceMinutes int
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&dbPath, "sqlite", "", "Path to SQLite database file")
	flag.StringVar(&channel, "channel", "", "Twitch channel to moderate (without #)")
	flag.StringVar(&nick, "nick", "", "Twitch nickname to login as")
	flag.StringVar(&token, "token", "", "Twitch OAuth token (format: oauth:xxxxx)")
	flag.StringVar(&tokenFile, "token-file", "", "Path to file containing the Twitch OAuth token")
	flag.StringVar(&rulesPath, "rules", "", "Path to the filter config JSON file")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP status address (e.g., :8080)")
	flag.IntVar(&graceMinutes, "grace-minutes", 0, "Minutes between timeout and ban")
	flag.Parse()

	if versionFlag {
		fmt.Printf(
			"moderator version: %s (commit %s, built %s)\n",
			version.Version,
			version.Commit,
			version.BuildTime,
		)
		os.Exit(0)
	}

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	cfg := config.Load()
	if overrides["sqlite"] {
		cfg.Store.SQLitePath = strings.TrimSpace(dbPath)
	}
	if overrides["channel"] {
		cfg.Twitch.Channel = strings.TrimSpace(channel)
	}
	if overrides["nick"] {
		cfg.Twitch.Nick = strings.TrimSpace(nick)
	}
	if overrides["token"] {
		cfg.Twitch.Token = strings.TrimSpace(token)
	}
	if overrides["token-file"] {
		cfg.Twitch.TokenFile = strings.TrimSpace(tokenFile)
	}
	if overrides["rules"] {
		cfg.Rules.Path = strings.TrimSpace(rulesPath)
	}
	if overrides["http-addr"] {
		cfg.HTTP.Addr = strings.TrimSpace(httpAddr)
	}
	if overrides["grace-minutes"] && graceMinutes > 0 {
		cfg.Action.GraceMinutes = graceMinutes
	}

	if cfg.Twitch.Channel == "" || cfg.Twitch.Nick == "" {
		log.Fatal("moderator: channel and nick are required")
	}

	log.Printf("%s", cfg.SummaryJSON())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("moderator: received %s, shutting down", sig)
		cancel()
	}()

	store, err := auditstore.Open(cfg.Store.SQLitePath)
	if err != nil {
		log.Fatalf("moderator: open sqlite: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("moderator: closing store: %v", err)
		}
	}()
	if err := store.Ping(); err != nil {
		log.Fatalf("moderator: ping sqlite: %v", err)
	}

	ruleStore := rules.NewStore(cfg.Rules.Path, cfg.Rules.CyrillicScore)
	if _, err := ruleStore.Reload(); err != nil {
		log.Printf("moderator: filter config unavailable, scoring disabled until it loads: %v", err)
	}
	if err := ruleStore.Watch(); err != nil {
		slog.Error("moderator: watch filter config", "err", err)
	}

	engine := scoring.New(ruleStore, cfg.Rules.NearMissFloor)

	// The pipeline is created after its collaborators; closures capture the
	// variable so early callbacks before assignment are safe no-ops.
	var mod *moderator.Moderator

	client := twitchirc.New(twitchirc.Config{
		Channel:       cfg.Twitch.Channel,
		Nick:          cfg.Twitch.Nick,
		Token:         cfg.Twitch.ResolveToken(),
		TokenProvider: cfg.Twitch.ResolveToken,
	}, func(ev core.ChatEvent) {
		if mod != nil {
			mod.Offer(ev)
		}
	}, func(g twitchirc.GiftEvent) {
		if mod != nil {
			mod.OfferGift(g)
		}
	})

	if tok := cfg.Twitch.ResolveToken(); tok != "" {
		if login, err := twitchauth.ValidateLogin(tok); err != nil {
			log.Printf("moderator: token validation failed: %v", err)
		} else if !strings.EqualFold(login, cfg.Twitch.Nick) {
			log.Printf("moderator: token belongs to %s, not %s", login, cfg.Twitch.Nick)
		}
	}

	say := func(text string) {
		sendCtx, sendCancel := context.WithTimeout(ctx, 10*time.Second)
		defer sendCancel()
		if err := client.Send(sendCtx, text); err != nil {
			log.Printf("moderator: send failed: %v", err)
		}
	}

	build := httpapi.BuildInfo{Version: version.Version, Revision: version.Commit}
	if version.BuildTime != "" && version.BuildTime != "unknown" {
		if t, err := time.Parse(time.RFC3339, version.BuildTime); err == nil {
			build.BuiltAt = t
		}
	}

	registry := action.NewRegistry(action.Config{
		Interim:     client,
		GracePeriod: cfg.Action.GracePeriod(),
		Reason:      cfg.Action.BanReason,
		Observer: func(h *action.Handle, state action.State) {
			if mod != nil {
				mod.ObserveAction(h, state)
			}
		},
	})

	api := httpapi.New(store, registry, httpapi.Options{
		Addr:        cfg.HTTP.Addr,
		RateRPS:     cfg.HTTP.RateRPS,
		RateBurst:   cfg.HTTP.RateBurst,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Build:       build,
		Channel:     cfg.Twitch.Channel,
		RulesetName: func() string {
			if rs := ruleStore.Current(); rs != nil {
				return rs.Name
			}
			return ""
		},
	})
	metrics := api.Metrics()

	votes := voting.New(voting.Config{
		VotesRequired:   cfg.Voting.VotesRequired,
		VotePeriod:      cfg.Voting.Period(),
		FailTimeout:     cfg.Voting.FailTimeout(),
		PassTimeout:     cfg.Voting.PassTimeout(),
		DoubleNames:     cfg.Voting.DoubleNames,
		AnnounceMessage: cfg.Voting.Announce,
		Say:             say,
		OnEnd: func(o voting.Outcome, n int) {
			metrics.IncVoteSession(o.String())
		},
	})

	wagerDriver := wager.NewDriver(wager.DriverConfig{
		Session: wager.Config{
			BaseStake:     cfg.Wager.BaseStake,
			MaxLossFactor: cfg.Wager.MaxLossFactor,
		},
		ReplyTimeout: cfg.Wager.ReplyTimeout(),
		ResendDelay:  cfg.Wager.ResendDelay(),
		Send:         say,
		Done: func(total int64) {
			metrics.IncWagerSession()
			say(fmt.Sprintf("Gambling session over, net result: %d points.", total))
		},
	})
	wagerParser := wager.NewParser(cfg.Twitch.Nick, cfg.Wager.Responder)

	var followLookup func(context.Context, core.Subject) (bool, int, error)
	if cfg.Twitch.ClientID != "" && cfg.Twitch.ClientSecret != "" {
		helix := twitchhelix.NewClient(cfg.Twitch.ClientID, cfg.Twitch.ClientSecret)
		followLookup = func(lctx context.Context, subject core.Subject) (bool, int, error) {
			return helix.FollowAge(lctx, cfg.Twitch.Channel, subject)
		}
		log.Printf("moderator: helix follow lookup enabled")
	}

	mod, err = moderator.New(moderator.Config{
		Channel:            cfg.Twitch.Channel,
		OwnNick:            cfg.Twitch.Nick,
		Engine:             engine,
		Rules:              ruleStore,
		Registry:           registry,
		Votes:              votes,
		Wager:              wagerDriver,
		Parser:             wagerParser,
		Notifier:           notify.New(cfg.Notify.Keywords),
		Store:              store,
		Chat:               client,
		Metrics:            metrics,
		GracePeriod:        cfg.Action.GracePeriod(),
		BanReason:          cfg.Action.BanReason,
		TrackFirstMessages: cfg.Rules.TrackFirstMessages,
		FollowLookup:       followLookup,
		SeenCacheSize:      cfg.Rules.SeenCacheSize,
		GoalText:           cfg.Goal,
		Leave:              cancel,
	})
	if err != nil {
		log.Fatalf("moderator: pipeline: %v", err)
	}

	admin := httpadmin.New(&rulesReloader{store: ruleStore}, &actionCanceler{ctx: ctx, registry: registry})
	admin.Register(api.Mux())

	go func() {
		if err := api.Start(); err != nil {
			log.Fatalf("moderator: http api: %v", err)
		}
	}()
	log.Printf("moderator: http api ready on %s", cfg.HTTP.Addr)

	go func() {
		if err := mod.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("moderator: pipeline exited: %v", err)
			cancel()
		}
	}()

	go func() {
		if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("moderator: twitch client exited: %v", err)
			cancel()
		}
	}()
	log.Printf("moderator: joined moderation loop for #%s", cfg.Twitch.Channel)

	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Printf("moderator: http api shutdown: %v", err)
	}
	cancelShutdown()

	// allow worker goroutines to finish cleanly
	time.Sleep(100 * time.Millisecond)
	log.Printf("moderator: shutdown complete")
}

type rulesReloader struct {
	store *rules.Store
}

func (r *rulesReloader) ReloadRules() (string, error) {
	rs, err := r.store.Reload()
	if err != nil {
		return "", err
	}
	return rs.Name, nil
}

type actionCanceler struct {
	ctx      context.Context
	registry *action.Registry
}

func (c *actionCanceler) CancelPending(name string) (string, error) {
	h, err := c.registry.CancelByName(c.ctx, name)
	if err != nil {
		return "", err
	}
	return h.Subject.Name, nil
}
