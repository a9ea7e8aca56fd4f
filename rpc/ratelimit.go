package rpc

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"nftescrow/observability"
	"nftescrow/observability/logging"
)

const (
	visitorTTL           = 5 * time.Minute
	maxForwardedForAddrs = 16
)

// RateLimit bounds requests per client. A zero RequestsPerMinute disables
// limiting. Forwarding headers are only honoured when the connection comes
// from one of TrustedProxies (IPs or CIDRs).
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
	TrustedProxies    []string
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client address.
type RateLimiter struct {
	logger   *slog.Logger
	limit    RateLimit
	trusted  []*net.IPNet
	mu       sync.Mutex
	visitors map[string]*rateEntry
	clockNow func() time.Time
	lastGC   time.Time
}

func NewRateLimiter(limit RateLimit, logger *slog.Logger) (*RateLimiter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	trusted, err := ParseTrustedProxies(limit.TrustedProxies)
	if err != nil {
		return nil, err
	}
	return &RateLimiter{
		logger:   logger,
		limit:    limit,
		trusted:  trusted,
		visitors: make(map[string]*rateEntry),
		clockNow: time.Now,
	}, nil
}

// ParseTrustedProxies accepts bare IPs and CIDR blocks.
func ParseTrustedProxies(entries []string) ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			_, block, err := net.ParseCIDR(entry)
			if err != nil {
				return nil, fmt.Errorf("rpc: invalid trusted proxy %q: %w", entry, err)
			}
			nets = append(nets, block)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, fmt.Errorf("rpc: invalid trusted proxy %q", entry)
		}
		bits := 8 * net.IPv4len
		if ip.To4() == nil {
			bits = 8 * net.IPv6len
		} else {
			ip = ip.To4()
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets, nil
}

func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.limit.RequestsPerMinute <= 0 {
			next.ServeHTTP(w, req)
			return
		}
		identifier := r.clientID(req)
		if !r.allow(identifier) {
			observability.ModuleMetrics().RecordThrottle(moduleName, "client_rate")
			r.logger.Warn("rate limited", logging.MaskField("client", identifier))
			w.Header().Set("Content-Type", "application/json")
			writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *RateLimiter) allow(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clockNow()
	r.sweep(now)
	entry, ok := r.visitors[id]
	if !ok {
		perSecond := r.limit.RequestsPerMinute / 60.0
		burst := r.limit.Burst
		if burst <= 0 {
			burst = 1
		}
		entry = &rateEntry{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
		r.visitors[id] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// sweep drops idle visitors. Caller holds r.mu.
func (r *RateLimiter) sweep(now time.Time) {
	if now.Sub(r.lastGC) < visitorTTL {
		return
	}
	for id, entry := range r.visitors {
		if now.Sub(entry.lastSeen) >= visitorTTL {
			delete(r.visitors, id)
		}
	}
	r.lastGC = now
}

func (r *RateLimiter) isTrusted(ip net.IP) bool {
	for _, block := range r.trusted {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

// clientID keys the limiter. X-Real-IP and the first X-Forwarded-For entry
// only count when the direct peer is a trusted proxy.
func (r *RateLimiter) clientID(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	peer := net.ParseIP(host)
	if peer == nil || !r.isTrusted(peer) {
		return host
	}
	if ip := canonicalIP(req.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.SplitN(forwarded, ",", maxForwardedForAddrs+1)
		if ip := canonicalIP(parts[0]); ip != "" {
			return ip
		}
	}
	return host
}

func canonicalIP(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	ip := net.ParseIP(strings.Trim(raw, "[]"))
	if ip == nil {
		return ""
	}
	return ip.String()
}
