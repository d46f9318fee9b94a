package lim

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"zerobin/svc/util"
)

const (
	maxLimiters     = 10000
	cleanupInterval = 5 * time.Minute
	limiterTTL      = 30 * time.Minute
	adaptiveWindow  = 60 * time.Second
	counterTimeout  = 100 * time.Millisecond
)

// Counter is a shared fixed-window counter, implemented by db.Redis.
type Counter interface {
	RateLimit(ctx context.Context, key string, limit int, window time.Duration) (int, error)
}

type Limiter struct {
	counter           Counter
	trustedProxies    []string
	detector          *AnomalyDetector
	adaptiveModeUntil int64
	localLimiters     map[string]*limiterEntry
	mu                sync.Mutex
	conservativeLimit int
	burstLimit        int
	rpm               int
	quit              chan struct{}
	stopOnce          sync.Once
	evictionSem       chan struct{}
}
type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// New builds a per-client limiter. counter may be nil, in which case only
// in-process token buckets are used.
func New(rpm, perIPBurst, conservativeLimit int, counter Counter, trustedProxies []string) *Limiter {
	for _, proxy := range trustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				panic(fmt.Sprintf("invalid CIDR in trustedProxies: %s: %v", proxy, err))
			}
		} else {
			if net.ParseIP(proxy) == nil {
				panic(fmt.Sprintf("invalid IP in trustedProxies: %s", proxy))
			}
		}
	}
	l := &Limiter{
		counter:           counter,
		trustedProxies:    trustedProxies,
		localLimiters:     make(map[string]*limiterEntry),
		conservativeLimit: conservativeLimit,
		burstLimit:        perIPBurst,
		rpm:               rpm,
		quit:              make(chan struct{}),
		evictionSem:       make(chan struct{}, 1),
	}
	l.detector = NewAnomalyDetector(l.TriggerAdaptiveMode)
	l.detector.Start()
	go l.cleanupLoop()
	return l
}
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictExpiredLimiters()
		case <-l.quit:
			return
		}
	}
}
func (l *Limiter) evictExpiredLimiters() {
	now := time.Now()
	l.mu.Lock()
	evicted := 0
	for key, entry := range l.localLimiters {
		if now.Sub(entry.lastAccess) > limiterTTL {
			delete(l.localLimiters, key)
			evicted++
		}
	}
	remaining := len(l.localLimiters)
	l.mu.Unlock()
	if evicted > 0 {
		util.Debug().Int("evicted", evicted).Int("remaining", remaining).Msg("rate limiter cleanup")
	}
}
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.quit)
		l.detector.Stop()
	})
}
func (l *Limiter) TriggerAdaptiveMode() {
	atomic.StoreInt64(&l.adaptiveModeUntil, time.Now().Add(adaptiveWindow).Unix())
}
func (l *Limiter) isAdaptiveMode() bool {
	until := atomic.LoadInt64(&l.adaptiveModeUntil)
	return time.Now().Unix() < until
}
func (l *Limiter) RecordRequest() {
	l.detector.RecordRequest()
}
func (l *Limiter) RecordError() {
	l.detector.RecordError()
}

// ClientIP resolves the client address of r honouring the trusted proxies.
func (l *Limiter) ClientIP(r *http.Request) string {
	return GetRealIP(r, l.trustedProxies)
}

func halve(n int) int {
	if n/2 < 1 {
		return 1
	}
	return n / 2
}

func (l *Limiter) CheckLimit(r *http.Request, endpoint string) *RateLimitResult {
	ip := l.ClientIP(r)
	now := time.Now()
	if l.counter == nil {
		return l.local(ip, endpoint, l.rpm, l.burstLimit)
	}
	limit := l.rpm
	if l.isAdaptiveMode() {
		limit = halve(limit)
	}
	ctx, cancel := context.WithTimeout(r.Context(), counterTimeout)
	defer cancel()
	usage, err := l.counter.RateLimit(ctx, "zerobin:rl:"+endpoint+":"+ip, limit, time.Minute)
	if err != nil {
		util.Warn().Err(err).Msg("shared rate limit unavailable, using conservative local limit")
		return l.local(ip, endpoint, l.conservativeLimit, l.conservativeLimit)
	}
	if usage > limit {
		return &RateLimitResult{
			Allowed:   false,
			Limit:     limit,
			Remaining: 0,
			Reset:     now.Add(time.Minute),
		}
	}
	return &RateLimitResult{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - usage,
		Reset:     now.Add(time.Minute),
	}
}

func (l *Limiter) local(ip, endpoint string, perMinute, burst int) *RateLimitResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	threshold := (maxLimiters * 9) / 10
	if len(l.localLimiters) >= threshold {
		toEvict := len(l.localLimiters) / 10
		if toEvict > 0 {
			select {
			case l.evictionSem <- struct{}{}:
				go func() {
					defer func() { <-l.evictionSem }()
					l.asyncEvictOldest(toEvict)
				}()
			default:
			}
		}
	}
	if len(l.localLimiters) >= maxLimiters {
		util.Warn().
			Int("limiters", len(l.localLimiters)).
			Str("ip", util.RedactIP(ip)).
			Msg("rate limiter at capacity, rejecting request")
		return &RateLimitResult{
			Allowed:   false,
			Limit:     perMinute,
			Remaining: 0,
			Reset:     time.Now().Add(time.Minute),
		}
	}
	if l.isAdaptiveMode() {
		perMinute, burst = halve(perMinute), halve(burst)
	}
	key := ip + ":" + endpoint
	entry, exists := l.localLimiters[key]
	if !exists {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(perMinute)/60.0, burst),
		}
		l.localLimiters[key] = entry
	}
	entry.lastAccess = time.Now()
	if !entry.limiter.Allow() {
		return &RateLimitResult{
			Allowed:   false,
			Limit:     perMinute,
			Remaining: 0,
			Reset:     time.Now().Add(time.Minute),
		}
	}
	return &RateLimitResult{
		Allowed:   true,
		Limit:     perMinute,
		Remaining: int(entry.limiter.Tokens()),
		Reset:     time.Now().Add(time.Minute),
	}
}
func (l *Limiter) asyncEvictOldest(count int) {
	l.mu.Lock()
	if len(l.localLimiters) < (maxLimiters*8)/10 {
		l.mu.Unlock()
		return
	}
	type kv struct {
		key        string
		lastAccess time.Time
	}
	entries := make([]kv, 0, len(l.localLimiters))
	for k, v := range l.localLimiters {
		entries = append(entries, kv{k, v.lastAccess})
	}
	l.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastAccess.Before(entries[j].lastAccess)
	})
	l.mu.Lock()
	defer l.mu.Unlock()
	evicted := 0
	for i := 0; i < count && i < len(entries); i++ {
		if _, exists := l.localLimiters[entries[i].key]; exists {
			delete(l.localLimiters, entries[i].key)
			evicted++
		}
	}
	if evicted > 0 {
		util.Debug().
			Int("evicted", evicted).
			Msg("async limiter eviction completed")
	}
}

// GetRealIP walks X-Forwarded-For from the right and returns the first
// address that is not a trusted proxy. Without trusted proxies the header is ignored.
func GetRealIP(r *http.Request, trustedProxies []string) string {
	remoteIP := stripPort(r.RemoteAddr)
	if len(trustedProxies) == 0 || !isTrustedProxy(remoteIP, trustedProxies) {
		return remoteIP
	}
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return remoteIP
	}

	const maxIPsToParse = 100
	parsedCount := 0
	remaining := xff
	for len(remaining) > 0 && parsedCount < maxIPsToParse {
		lastComma := strings.LastIndexByte(remaining, ',')
		var ipStr string
		if lastComma == -1 {
			ipStr = strings.TrimSpace(remaining)
			remaining = ""
		} else {
			ipStr = strings.TrimSpace(remaining[lastComma+1:])
			remaining = remaining[:lastComma]
		}
		if ipStr == "" {
			continue
		}
		parsedCount++
		if net.ParseIP(ipStr) == nil {
			util.Warn().Str("ip", util.RedactIP(ipStr)).Msg("invalid IP in X-Forwarded-For, skipping")
			continue
		}
		if !isTrustedProxy(ipStr, trustedProxies) {
			return ipStr
		}
	}
	if parsedCount >= maxIPsToParse {
		util.Warn().Int("parsed", parsedCount).Str("remote", util.RedactIP(remoteIP)).Msg("XFF header excessive, truncated parsing")
	}
	return remoteIP
}
func isTrustedProxy(ip string, trustedProxies []string) bool {
	for _, proxy := range trustedProxies {
		if ip == proxy {
			return true
		}
		if strings.Contains(proxy, "/") {
			_, subnet, err := net.ParseCIDR(proxy)
			if err == nil {
				parsedIP := net.ParseIP(ip)
				if parsedIP != nil && subnet.Contains(parsedIP) {
					return true
				}
			}
		}
	}
	return false
}
func stripPort(ip string) string {
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}
