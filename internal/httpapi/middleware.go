package httpapi

import (
	"compress/gzip"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// statusWriter records the status code and body size for request metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

type gzipWriter struct {
	http.ResponseWriter
	gz *gzip.Writer
}

func (g gzipWriter) Write(b []byte) (int, error) { return g.gz.Write(b) }

// negotiateGzip compresses the response when the client asks for it. Every
// route here serves plain JSON, so there is no upgrade or streaming case to
// step around; only large decision listings benefit, the rest is cheap either
// way. Returns nil when the response stays uncompressed.
func negotiateGzip(w *statusWriter, r *http.Request) *gzip.Writer {
	if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		return nil
	}
	gz := gzip.NewWriter(w.ResponseWriter)
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Add("Vary", "Accept-Encoding")
	w.ResponseWriter = gzipWriter{ResponseWriter: w.ResponseWriter, gz: gz}
	return gz
}

// visitorLimiter applies a per-IP token bucket. Operators sometimes expose
// the audit API to dashboards on the open internet, and one scraper must not
// starve everyone else.
type visitorLimiter struct {
	mu    sync.Mutex
	seen  map[string]*visitor
	rps   rate.Limit
	burst int
}

type visitor struct {
	lim  *rate.Limiter
	last time.Time
}

const (
	visitorTTL   = 5 * time.Minute
	visitorSweep = 1024 // map size that triggers a stale-entry sweep
)

func newVisitorLimiter(rps, burst int) *visitorLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &visitorLimiter{
		seen:  make(map[string]*visitor),
		rps:   rate.Limit(rps),
		burst: burst,
	}
}

func (l *visitorLimiter) Allow(ip string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	v := l.seen[ip]
	if v == nil {
		if len(l.seen) >= visitorSweep {
			for addr, old := range l.seen {
				if now.Sub(old.last) > visitorTTL {
					delete(l.seen, addr)
				}
			}
		}
		v = &visitor{lim: rate.NewLimiter(l.rps, l.burst)}
		l.seen[ip] = v
	}
	v.last = now
	return v.lim.Allow()
}

// remoteIP trusts the first X-Forwarded-For hop; the service is expected to
// sit behind at most one reverse proxy.
func remoteIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// originPolicy is the browser cross-origin allowlist for dashboard use.
// A nil policy answers no CORS headers at all, which keeps same-origin and
// non-browser clients working while browsers refuse cross-origin reads.
type originPolicy struct {
	any     bool
	allowed map[string]struct{}
}

func newOriginPolicy(origins []string) *originPolicy {
	if len(origins) == 0 {
		return nil
	}
	p := &originPolicy{allowed: make(map[string]struct{})}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		switch o {
		case "":
		case "*":
			p.any = true
			p.allowed = nil
			return p
		default:
			p.allowed[o] = struct{}{}
		}
	}
	return p
}

func (p *originPolicy) allows(origin string) bool {
	if p == nil {
		return false
	}
	if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
		return false
	}
	if p.any {
		return true
	}
	_, ok := p.allowed[origin]
	return ok
}

// preflight answers CORS OPTIONS requests. It reports whether the request
// was consumed and with which status.
func (p *originPolicy) preflight(w http.ResponseWriter, r *http.Request) (bool, int) {
	if p == nil || r.Method != http.MethodOptions {
		return false, 0
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false, 0
	}
	if !p.allows(origin) {
		w.WriteHeader(http.StatusForbidden)
		return true, http.StatusForbidden
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
	if hdrs := r.Header.Get("Access-Control-Request-Headers"); hdrs != "" {
		w.Header().Set("Access-Control-Allow-Headers", hdrs)
	}
	w.Header().Set("Access-Control-Max-Age", "300")
	w.Header().Add("Vary", "Origin")
	w.WriteHeader(http.StatusNoContent)
	return true, http.StatusNoContent
}

// decorate adds CORS headers to an ordinary response. It reports false when
// the request carries an Origin the policy rejects.
func (p *originPolicy) decorate(w http.ResponseWriter, r *http.Request) bool {
	if p == nil {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if !p.allows(origin) {
		return false
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Add("Vary", "Origin")
	return true
}
