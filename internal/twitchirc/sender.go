package twitchirc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nhooyr.io/websocket"

	"github.com/you/gnasty-mod/internal/core"
)

var errNotConnected = errors.New("twitchirc: not connected")

// Send writes one rate-limited PRIVMSG to the joined channel.
func (c *Client) Send(ctx context.Context, text string) error {
	return c.sendLine(ctx, "PRIVMSG #"+c.cfg.Channel+" :"+text)
}

func (c *Client) sendLine(ctx context.Context, line string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	return conn.Write(ctx, websocket.MessageText, []byte(line+"\r\n"))
}

// TimeoutUser issues a channel timeout for the subject.
func (c *Client) TimeoutUser(ctx context.Context, channel string, subject core.Subject, d time.Duration, reason string) error {
	secs := int(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	return c.sendLine(ctx, fmt.Sprintf("PRIVMSG #%s :/timeout %s %d %s", channel, subject.Name, secs, reason))
}

// BanUser permanently bans the subject from the channel.
func (c *Client) BanUser(ctx context.Context, channel string, subject core.Subject, reason string) error {
	return c.sendLine(ctx, fmt.Sprintf("PRIVMSG #%s :/ban %s %s", channel, subject.Name, reason))
}

// UnbanUser lifts a timeout or ban on the subject.
func (c *Client) UnbanUser(ctx context.Context, channel string, subject core.Subject) error {
	return c.sendLine(ctx, fmt.Sprintf("PRIVMSG #%s :/unban %s", channel, subject.Name))
}
