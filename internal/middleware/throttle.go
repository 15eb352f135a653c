package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle is a coarse per-client-IP request limiter protecting the whole
// API surface. Plan quotas are enforced separately inside the engine; this
// layer only stops a single client from flooding the server.
type Throttle struct {
	mu       sync.Mutex
	clients  map[string]*throttleEntry
	rps      rate.Limit
	burst    int
	maxIdle  time.Duration
	lastScan time.Time
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewThrottle creates a per-IP throttle.
func NewThrottle(rps float64, burst int) *Throttle {
	return &Throttle{
		clients:  make(map[string]*throttleEntry),
		rps:      rate.Limit(rps),
		burst:    burst,
		maxIdle:  10 * time.Minute,
		lastScan: time.Now(),
	}
}

// Handler wraps the next handler, rejecting over-rate clients with 429.
func (t *Throttle) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *Throttle) allow(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if now.Sub(t.lastScan) > t.maxIdle {
		for ip, entry := range t.clients {
			if now.Sub(entry.lastSeen) > t.maxIdle {
				delete(t.clients, ip)
			}
		}
		t.lastScan = now
	}

	entry, ok := t.clients[ip]
	if !ok {
		entry = &throttleEntry{limiter: rate.NewLimiter(t.rps, t.burst)}
		t.clients[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
