package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Limiter is a per-client token bucket. Each client may burst up to Burst
// requests and is refilled at RequestsPerSecond.
type Limiter struct {
	mu           sync.Mutex
	clients      map[string]*bucket
	stopCleanup  chan struct{}
	shutdownOnce sync.Once

	rate            float64
	burst           float64
	cleanupInterval time.Duration
	idleTTL         time.Duration
	now             func() time.Time

	hits atomic.Int64
}

type bucket struct {
	tokens float64
	last   time.Time
}

type Config struct {
	RequestsPerSecond int
	Burst             int
	CleanupInterval   time.Duration
	// IdleTTL is how long an untouched client entry is kept.
	IdleTTL time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 20,
		Burst:             40,
		CleanupInterval:   5 * time.Minute,
		IdleTTL:           10 * time.Minute,
	}
}

// NewLimiter starts a limiter and its cleanup goroutine. Call Stop to release
// it.
func NewLimiter(config Config) *Limiter {
	def := DefaultConfig()
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = def.RequestsPerSecond
	}
	if config.Burst < config.RequestsPerSecond {
		config.Burst = config.RequestsPerSecond
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = def.IdleTTL
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	rl := &Limiter{
		clients:         make(map[string]*bucket),
		stopCleanup:     make(chan struct{}),
		rate:            float64(config.RequestsPerSecond),
		burst:           float64(config.Burst),
		cleanupInterval: config.CleanupInterval,
		idleTTL:         config.IdleTTL,
		now:             config.Now,
	}
	go rl.startCleanup()
	return rl
}

// Allow takes one token from the client's bucket.
func (rl *Limiter) Allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, exists := rl.clients[clientIP]
	if !exists {
		rl.clients[clientIP] = &bucket{tokens: rl.burst - 1, last: now}
		return true
	}

	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = math.Min(rl.burst, b.tokens+elapsed*rl.rate)
	}
	b.last = now

	if b.tokens < 1 {
		rl.hits.Add(1)
		return false
	}
	b.tokens--
	return true
}

// RetryAfter is the number of whole seconds until one token is available.
func (rl *Limiter) RetryAfter() int {
	return int(math.Ceil(1 / rl.rate))
}

func (rl *Limiter) startCleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *Limiter) cleanupStaleEntries() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idleTTL)
	removed := 0
	for ip, b := range rl.clients {
		if b.last.Before(cutoff) {
			delete(rl.clients, ip)
			removed++
		}
	}
	return removed
}

// ActiveClients returns the number of currently tracked clients.
func (rl *Limiter) ActiveClients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Stop shuts down the cleanup goroutine. Safe to call more than once.
func (rl *Limiter) Stop() {
	rl.shutdownOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

type Metrics struct {
	TotalHits   int64
	ClientCount int64
}

func (rl *Limiter) GetMetrics() Metrics {
	return Metrics{
		TotalHits:   rl.hits.Load(),
		ClientCount: int64(rl.ActiveClients()),
	}
}

// Middleware rejects requests over the limit with 429. onLimit, when set,
// replaces the default response.
func (rl *Limiter) Middleware(extractIP func(*http.Request) string, onLimit func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(extractIP(r)) {
				w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfter()))
				if onLimit != nil {
					onLimit(w, r)
				} else {
					http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
