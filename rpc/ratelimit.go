package rpc

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"licensestake/observability"
)

const visitorTTL = 5 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per caller. Authenticated callers are
// keyed by principal, anonymous ones by client IP.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	proxies  *proxyResolver
	mu       sync.Mutex
	visitors map[string]*visitor
	clockNow func() time.Time
}

func NewRateLimiter(perSecond float64, burst int, trustProxyHeaders bool, trustedProxies []string) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		proxies:  newProxyResolver(trustProxyHeaders, trustedProxies),
		visitors: make(map[string]*visitor),
		clockNow: time.Now,
	}
}

func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		key := "ip:" + r.proxies.clientIP(req)
		if principal, ok := PrincipalFrom(req.Context()); ok {
			key = "principal:" + principal.Hex()
		}
		if !r.allow(key) {
			observability.API().RecordRejection("ratelimit", "bucket_empty")
			w.Header().Set("Retry-After", "1")
			writeJSONError(w, req, http.StatusTooManyRequests, "rate_limited", http.StatusText(http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *RateLimiter) allow(key string) bool {
	now := r.clockNow()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, v := range r.visitors {
		if now.Sub(v.lastSeen) > visitorTTL {
			delete(r.visitors, id)
		}
	}
	v, ok := r.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// proxyResolver derives the client IP, honouring forwarding headers only from
// trusted proxies.
type proxyResolver struct {
	trustHeaders bool
	trusted      map[string]struct{}
}

func newProxyResolver(trustHeaders bool, proxies []string) *proxyResolver {
	trusted := make(map[string]struct{}, len(proxies))
	for _, proxy := range proxies {
		if ip := net.ParseIP(strings.TrimSpace(proxy)); ip != nil {
			trusted[ip.String()] = struct{}{}
		}
	}
	return &proxyResolver{trustHeaders: trustHeaders, trusted: trusted}
}

func (p *proxyResolver) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if p == nil || !p.trustHeaders {
		return host
	}
	if _, ok := p.trusted[host]; !ok {
		return host
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	return host
}
