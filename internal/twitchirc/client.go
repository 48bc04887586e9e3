// Package twitchirc connects to Twitch chat over the IRC-over-WebSocket
// gateway, turns PRIVMSG lines into chat events, and sends rate-limited
// messages and moderation commands back.
package twitchirc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"golang.org/x/time/rate"

	"github.com/you/gnasty-mod/internal/core"
)

const defaultURL = "wss://irc-ws.chat.twitch.tv"

type Config struct {
	Channel       string
	Nick          string
	Token         string
	TokenProvider func() string
	URL           string

	// Outbound PRIVMSG budget. Twitch allows 20 messages per 30s for a
	// regular user; mods get 100.
	SendRate  rate.Limit
	SendBurst int
}

type Handler func(core.ChatEvent)

// GiftHandler receives subscription gifts and bit cheers observed in chat.
type GiftHandler func(GiftEvent)

type Client struct {
	cfg     Config
	handle  Handler
	gifts   GiftHandler
	limiter *rate.Limiter

	mu   sync.Mutex
	conn *websocket.Conn
}

var errAuthFailed = errors.New("twitchirc: authentication failed")

func New(cfg Config, h Handler, g GiftHandler) *Client {
	if cfg.URL == "" {
		cfg.URL = defaultURL
	}
	if cfg.SendRate <= 0 {
		cfg.SendRate = rate.Every(30 * time.Second / 20)
	}
	if cfg.SendBurst <= 0 {
		cfg.SendBurst = 1
	}
	return &Client{
		cfg:     cfg,
		handle:  h,
		gifts:   g,
		limiter: rate.NewLimiter(cfg.SendRate, cfg.SendBurst),
	}
}

func (c *Client) Run(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.Channel) == "" || strings.TrimSpace(c.cfg.Nick) == "" {
		return errors.New("twitchirc: channel and nick are required")
	}

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := c.runOnce(ctx)
		if err == nil {
			backoff = time.Second
			continue
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ctx.Err()
		}

		if errors.Is(err, errAuthFailed) {
			log.Printf("twitchirc: authentication failed; retrying in %s", backoff)
		} else {
			log.Printf("twitchirc: disconnected: %v; reconnecting in %s", err, backoff)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if backoff < 60*time.Second {
			backoff *= 2
			if backoff > 60*time.Second {
				backoff = 60 * time.Second
			}
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	token := strings.TrimSpace(c.cfg.Token)
	if c.cfg.TokenProvider != nil {
		if provided := strings.TrimSpace(c.cfg.TokenProvider()); provided != "" {
			token = provided
		}
	}
	if token == "" {
		return errors.New("twitchirc: token is required")
	}
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}

	log.Printf("twitchirc: connecting to %s", c.cfg.URL)
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, c.cfg.URL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(1 << 20)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	send := func(line string) error {
		return conn.Write(ctx, websocket.MessageText, []byte(line+"\r\n"))
	}

	if err := send("PASS " + token); err != nil {
		return fmt.Errorf("send PASS: %w", err)
	}
	if err := send("NICK " + c.cfg.Nick); err != nil {
		return fmt.Errorf("send NICK: %w", err)
	}
	if err := send("CAP REQ :twitch.tv/tags twitch.tv/commands"); err != nil {
		return fmt.Errorf("send CAP REQ: %w", err)
	}
	if err := send("JOIN #" + c.cfg.Channel); err != nil {
		return fmt.Errorf("send JOIN: %w", err)
	}
	log.Printf("twitchirc: joined #%s as %s", c.cfg.Channel, c.cfg.Nick)

	// keepalive PING so an idle channel does not look like a dead socket
	keepaliveDone := make(chan struct{})
	defer close(keepaliveDone)
	go func() {
		ticker := time.NewTicker(4 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-keepaliveDone:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = send("PING :keepalive")
			}
		}
	}()

	var (
		total    int
		window   int
		nextTick = time.Now().Add(10 * time.Second)
	)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		now := time.Now()
		if now.After(nextTick) || now.Equal(nextTick) {
			log.Printf("twitchirc: recv %d msgs (total %d)", window, total)
			window = 0
			nextTick = now.Add(10 * time.Second)
		}

		for _, line := range strings.Split(string(data), "\r\n") {
			line = strings.TrimRight(line, "\r\n")
			if line == "" {
				continue
			}

			if authFailure(line) {
				log.Printf("twitchirc: authentication failed per server NOTICE")
				return errAuthFailed
			}

			if strings.HasPrefix(line, "PING ") {
				if err := send("PONG " + strings.TrimPrefix(line, "PING ")); err != nil {
					return fmt.Errorf("send PONG: %w", err)
				}
				continue
			}

			if strings.Contains(line, " RECONNECT") {
				return errors.New("server requested reconnect")
			}

			if gift, ok := parseGift(line, c.cfg.Channel); ok {
				if c.gifts != nil {
					c.gifts(gift)
				}
			}

			if ev, ok := parsePrivmsg(line, c.cfg.Channel); ok {
				total++
				window++
				if c.handle != nil {
					c.handle(ev)
				}
			}
		}
	}
}

func authFailure(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "login authentication failed") ||
		strings.Contains(lower, "improperly formatted auth") ||
		strings.Contains(lower, "authentication failed")
}
