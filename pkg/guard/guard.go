package guard

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/prefixset/prefixset/pkg/events"
	"github.com/prefixset/prefixset/pkg/logger"
)

// Mode determines how Store membership is interpreted.
type Mode int

const (
	// Blocklist denies requests whose client IP is in the set and allows
	// everything else.
	Blocklist Mode = iota
	// Allowlist allows only requests whose client IP is in the set.
	Allowlist
)

// IPStrategy selects how the client IP is extracted from a request.
type IPStrategy int

const (
	// Direct uses the TCP peer address and ignores all headers.
	Direct IPStrategy = iota
	// XFF reads the first address in X-Forwarded-For.
	XFF
	// RealIP reads X-Real-IP.
	RealIP
	// Custom reads a caller-provided header name.
	Custom
)

// Guard is an http.Handler middleware that allows or blocks requests based
// on Store membership of the extracted client IP.
type Guard struct {
	next    http.Handler
	store   *Store
	mode    Mode
	sink    *events.Shipper
	edlMode string

	strategy       IPStrategy
	customHeader   string
	trustedProxies []netip.Prefix
}

// Option configures a Guard at construction time.
type Option func(*Guard)

// WithIPStrategy sets the client-IP extraction strategy and the trusted
// proxy ranges that must hold before headers are honored. trustedProxies
// entries may be CIDRs, bare IPs, or the keywords "loopback"/"private".
func WithIPStrategy(strategy IPStrategy, customHeader string, trustedProxies []string) Option {
	return func(g *Guard) {
		g.strategy = strategy
		g.customHeader = customHeader
		g.trustedProxies = parseTrustedProxies(trustedProxies)
	}
}

// WithEventSink attaches a shipper that receives a BlockEvent for every
// denied request. Shipping is fire-and-forget and never affects the
// allow/block decision.
func WithEventSink(shipper *events.Shipper, edlMode string) Option {
	return func(g *Guard) {
		g.sink = shipper
		g.edlMode = edlMode
	}
}

// New wraps next with a Guard evaluating store under mode.
func New(next http.Handler, store *Store, mode Mode, opts ...Option) *Guard {
	g := &Guard{
		next:    next,
		store:   store,
		mode:    mode,
		strategy: Direct,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Store returns the Guard's backing Store, so callers can Update it after
// a refresh without reconstructing the middleware.
func (g *Guard) Store() *Store {
	return g.store
}

func (g *Guard) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("recovered from panic in guard: %v", r)
			http.Error(rw, "Internal Server Error", http.StatusInternalServerError)
		}
	}()

	clientIPStr := g.extractClientIP(req)
	if clientIPStr == "" {
		http.Error(rw, "Unable to determine client IP", http.StatusBadRequest)
		return
	}

	clientIP, err := netip.ParseAddr(clientIPStr)
	if err != nil {
		logger.Debugf("invalid client IP %q: %v", clientIPStr, err)
		http.Error(rw, "Invalid IP address", http.StatusBadRequest)
		return
	}

	inSet := g.store.Contains(clientIP)
	blocked := inSet
	if g.mode == Allowlist {
		blocked = !inSet
	}

	if !blocked {
		g.next.ServeHTTP(rw, req)
		return
	}

	logger.Debugf("blocking request from %s", clientIPStr)
	ServeBlockPage(rw)
	g.reportBlock(req, clientIPStr)
}

func (g *Guard) reportBlock(req *http.Request, clientIP string) {
	if g.sink == nil {
		return
	}

	scheme := "http"
	if req.TLS != nil || req.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}

	event := events.NewBlockEvent(
		clientIP,
		directIP(req.RemoteAddr),
		req.Method,
		req.Host,
		req.URL.Path,
		scheme,
		req.Header.Get("User-Agent"),
		g.edlMode,
	)
	g.sink.SendEvent(event)
}

func (g *Guard) extractClientIP(r *http.Request) string {
	direct := directIP(r.RemoteAddr)

	if g.strategy == Direct || len(g.trustedProxies) == 0 {
		return direct
	}

	if !g.isFromTrustedProxy(direct) {
		logger.Warnf("request from untrusted proxy %s, ignoring headers", direct)
		return direct
	}

	switch g.strategy {
	case XFF:
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if len(parts) > 0 {
				return strings.TrimSpace(parts[0])
			}
		}
	case RealIP:
		if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
			return strings.TrimSpace(realIP)
		}
	case Custom:
		if g.customHeader != "" {
			if custom := r.Header.Get(g.customHeader); custom != "" {
				return strings.TrimSpace(custom)
			}
		}
	}

	return direct
}

func (g *Guard) isFromTrustedProxy(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, trusted := range g.trustedProxies {
		if trusted.Contains(addr) {
			return true
		}
	}
	return false
}

func directIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

func parseTrustedProxies(proxies []string) []netip.Prefix {
	var result []netip.Prefix

	for _, proxy := range proxies {
		switch strings.ToLower(proxy) {
		case "loopback":
			if p, err := netip.ParsePrefix("127.0.0.0/8"); err == nil {
				result = append(result, p)
			}
			if p, err := netip.ParsePrefix("::1/128"); err == nil {
				result = append(result, p)
			}
			continue
		case "private":
			for _, r := range []string{
				"10.0.0.0/8",
				"172.16.0.0/12",
				"192.168.0.0/16",
				"fc00::/7",
				"fe80::/10",
			} {
				if p, err := netip.ParsePrefix(r); err == nil {
					result = append(result, p)
				}
			}
			continue
		}

		if p, err := netip.ParsePrefix(proxy); err == nil {
			result = append(result, p)
			continue
		}

		if addr, err := netip.ParseAddr(proxy); err == nil {
			bits := "/32"
			if addr.Is6() {
				bits = "/128"
			}
			if p, err := netip.ParsePrefix(proxy + bits); err == nil {
				result = append(result, p)
				continue
			}
		}

		logger.Warnf("failed to parse trusted proxy: %s", proxy)
	}

	return result
}
