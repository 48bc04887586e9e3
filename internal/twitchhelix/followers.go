// Package twitchhelix resolves follow relationships through the Helix API
// so the scoring multipliers can take follow age into account.
package twitchhelix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/you/gnasty-mod/internal/core"
)

const (
	defaultTTL = 10 * time.Minute
	userTTL    = 6 * time.Hour
)

var (
	helixBaseURL  = "https://api.twitch.tv/helix"
	oauthTokenURL = "https://id.twitch.tv/oauth2/token"
	followersPath = "/channels/followers"
	usersPath     = "/users"
)

type Client struct {
	ClientID     string
	ClientSecret string
	HTTP         *http.Client
	TTL          time.Duration

	mu           sync.Mutex
	token        cachedToken
	broadcasters map[string]cacheEntry
	follows      map[string]cacheEntry
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

type helixFollowersResponse struct {
	Data []struct {
		FollowedAt time.Time `json:"followed_at"`
	} `json:"data"`
}

type helixUsersResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func NewClient(clientID, clientSecret string) *Client {
	return &Client{ClientID: clientID, ClientSecret: clientSecret}
}

// FollowAge reports whether the subject follows the channel and for how many
// whole days. Results are cached per subject.
func (c *Client) FollowAge(ctx context.Context, channel string, subject core.Subject) (bool, int, error) {
	if strings.TrimSpace(c.ClientID) == "" || strings.TrimSpace(c.ClientSecret) == "" {
		return false, 0, errors.New("twitchhelix: client credentials not configured")
	}
	if subject.ID == "" {
		return false, 0, errors.New("twitchhelix: subject has no user id")
	}

	ttl := c.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	cacheKey := strings.ToLower(channel) + "/" + subject.ID
	if followedAt, ok := c.cachedFollow(cacheKey); ok {
		return followAge(followedAt)
	}

	token, err := c.appToken(ctx)
	if err != nil {
		return false, 0, err
	}

	broadcasterID, err := c.broadcasterID(ctx, token, channel)
	if err != nil {
		return false, 0, err
	}

	followedAt, err := c.fetchFollow(ctx, token, broadcasterID, subject.ID)
	if err != nil {
		return false, 0, err
	}
	c.storeFollow(cacheKey, followedAt, ttl)
	return followAge(followedAt)
}

// followAge converts a followed-at timestamp into the (following, days)
// pair; the zero time means the subject does not follow.
func followAge(followedAt time.Time) (bool, int, error) {
	if followedAt.IsZero() {
		return false, 0, nil
	}
	days := int(time.Since(followedAt) / (24 * time.Hour))
	return true, days, nil
}

func (c *Client) cachedFollow(key string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.follows == nil {
		return time.Time{}, false
	}
	entry, ok := c.follows[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return time.Time{}, false
	}
	t, ok := entry.value.(time.Time)
	return t, ok
}

func (c *Client) storeFollow(key string, followedAt time.Time, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.follows == nil {
		c.follows = map[string]cacheEntry{}
	}
	c.follows[key] = cacheEntry{value: followedAt, expiresAt: time.Now().Add(ttl)}
}

func (c *Client) broadcasterID(ctx context.Context, token, channel string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(channel))
	if isNumericID(key) {
		return key, nil
	}

	c.mu.Lock()
	if c.broadcasters != nil {
		if entry, ok := c.broadcasters[key]; ok && time.Now().Before(entry.expiresAt) {
			id, _ := entry.value.(string)
			c.mu.Unlock()
			if id != "" {
				return id, nil
			}
		}
	}
	c.mu.Unlock()

	id, err := c.lookupUserID(ctx, token, key)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	if c.broadcasters == nil {
		c.broadcasters = map[string]cacheEntry{}
	}
	c.broadcasters[key] = cacheEntry{value: id, expiresAt: time.Now().Add(userTTL)}
	c.mu.Unlock()

	log.Printf("twitchhelix: resolved broadcaster %s to id %s", key, id)
	return id, nil
}

func (c *Client) fetchFollow(ctx context.Context, token, broadcasterID, userID string) (time.Time, error) {
	base := strings.TrimSuffix(helixBaseURL, "/")
	endpoint := base + followersPath +
		"?broadcaster_id=" + url.QueryEscape(broadcasterID) +
		"&user_id=" + url.QueryEscape(userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Client-Id", strings.TrimSpace(c.ClientID))

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return time.Time{}, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed helixFollowersResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return time.Time{}, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return time.Time{}, nil
	}
	return parsed.Data[0].FollowedAt, nil
}

func (c *Client) lookupUserID(ctx context.Context, token, login string) (string, error) {
	base := strings.TrimSuffix(helixBaseURL, "/")
	endpoint := base + usersPath + "?login=" + url.QueryEscape(login)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Client-Id", strings.TrimSpace(c.ClientID))

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var parsed helixUsersResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Data) == 0 || parsed.Data[0].ID == "" {
		return "", errors.New("user not found")
	}
	return parsed.Data[0].ID, nil
}

func (c *Client) appToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token.token != "" && time.Now().Before(c.token.expiresAt) {
		token := c.token.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	form := url.Values{}
	form.Set("client_id", strings.TrimSpace(c.ClientID))
	form.Set("client_secret", strings.TrimSpace(c.ClientSecret))
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, oauthTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token status %d", resp.StatusCode)
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}

	token := strings.TrimSpace(parsed.AccessToken)
	if token == "" {
		return "", errors.New("empty access_token")
	}

	expiresIn := time.Duration(parsed.ExpiresIn) * time.Second
	if parsed.ExpiresIn <= 0 {
		expiresIn = time.Hour
	}

	c.mu.Lock()
	c.token = cachedToken{token: token, expiresAt: time.Now().Add(expiresIn)}
	c.mu.Unlock()

	return token, nil
}

// defaultHTTP caps request time so callers without their own client never
// wait on a hung endpoint indefinitely.
var defaultHTTP = &http.Client{Timeout: 10 * time.Second}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return defaultHTTP
}

func isNumericID(value string) bool {
	if value == "" {
		return false
	}
	for i := 0; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			return false
		}
	}
	return true
}
