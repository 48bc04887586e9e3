package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/you/gnasty-mod/internal/auditstore"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Filters captures the parsed query parameters for audit lookups.
type Filters struct {
	Statuses  []string
	Usernames []string
	NearMiss  *bool
	Since     *time.Time
	Limit     int
}

// ParseFilters parses query parameters into a Filters struct.
func ParseFilters(values url.Values) (Filters, error) {
	f := Filters{Limit: defaultLimit}

	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Filters{}, errors.New("limit must be a positive integer")
		}
		if n > maxLimit {
			n = maxLimit
		}
		f.Limit = n
	}

	if raw := values.Get("near_miss"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Filters{}, errors.New("near_miss must be a boolean")
		}
		f.NearMiss = &b
	}

	if rawSince := values.Get("since"); rawSince != "" {
		parsed, err := parseSince(rawSince)
		if err != nil {
			return Filters{}, err
		}
		f.Since = &parsed
	}

	for _, raw := range values["status"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			canonical, ok := normalizeStatus(part)
			if !ok {
				return Filters{}, errors.New("invalid status filter")
			}
			f.Statuses = append(f.Statuses, canonical)
		}
	}

	for _, raw := range values["username"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			f.Usernames = append(f.Usernames, strings.ToLower(part))
		}
	}

	return f, nil
}

// FiltersFromRequest parses filters from an HTTP request.
func FiltersFromRequest(r *http.Request) (Filters, error) {
	return ParseFilters(r.URL.Query())
}

func normalizeStatus(s string) (string, bool) {
	switch strings.ToUpper(s) {
	case "TIMED", "BANNED", "UNBANNED", "NOOP", "NONE":
		return strings.ToUpper(s), true
	default:
		return "", false
	}
}

func parseSince(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return time.Now().Add(-d).UTC(), nil
	}
	return time.Time{}, errors.New("invalid since parameter")
}

// Matches reports whether the audit row satisfies the filters.
func (f Filters) Matches(ev auditstore.FilterEvent) bool {
	if len(f.Statuses) > 0 {
		match := false
		for _, s := range f.Statuses {
			if ev.Status == s {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	if len(f.Usernames) > 0 {
		username := strings.ToLower(ev.Username)
		match := false
		for _, u := range f.Usernames {
			if strings.Contains(username, u) {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	if f.NearMiss != nil && ev.NearMiss != *f.NearMiss {
		return false
	}

	if f.Since != nil && ev.Ts.Before(f.Since.UTC()) {
		return false
	}

	return true
}
