// Package twitchauth holds the small OAuth helpers the moderator needs:
// reading a token from disk and validating it against the id service.
package twitchauth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// ReadTokenFile loads an OAuth token from a file, stripping the oauth:
// prefix and surrounding whitespace.
func ReadTokenFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(string(b))
	return strings.TrimPrefix(line, "oauth:"), nil
}

// ValidateLogin checks the token against the Twitch id service and returns
// the login it belongs to.
func ValidateLogin(access string) (string, error) {
	access = strings.TrimPrefix(strings.TrimSpace(access), "oauth:")
	req, _ := http.NewRequest(http.MethodGet, "https://id.twitch.tv/oauth2/validate", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("validate status %d", resp.StatusCode)
	}
	var v struct {
		Login string `json:"login"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return "", err
	}
	if v.Login == "" {
		return "", fmt.Errorf("no login")
	}
	return v.Login, nil
}
