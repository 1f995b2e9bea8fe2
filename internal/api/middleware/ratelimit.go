package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    int     = 2
	defaultMaxClients          int     = 10000
	defaultGlobalRPS           int     = 100
	defaultClientRPS           int     = 20
	defaultUnknownClientRPS    int     = 10
	thresholdMultiplier        float64 = 0.8
	thresholdPercentage        int     = 80
	rateLimiterCleanupInterval         = 5 * time.Minute
	rateLimiterIdleTimeout             = 1 * time.Hour
)

type (
	// RateLimiter decides whether a request from a client may proceed.
	RateLimiter interface {
		// Allow reports whether a request from clientKey is within limits.
		// An empty clientKey means the client could not be identified.
		Allow(clientKey string) bool
	}

	// InMemoryRateLimiter implements RateLimiter with golang.org/x/time/rate token buckets.
	//
	// Every request consumes a token from the global bucket and then from its
	// client's bucket. Requests without a client key, and clients seen after
	// MaxClients is reached, share the unknown-client bucket.
	//
	// Client buckets idle longer than IdleTimeout are removed periodically.
	InMemoryRateLimiter struct {
		global        *rate.Limiter
		perClient     map[string]*clientLimiter
		unknownClient *rate.Limiter
		mu            sync.RWMutex
		cleanupTicker *time.Ticker
		done          chan struct{}
		closeOnce     sync.Once

		clientRPS       int
		clientBurst     int
		cleanupInterval time.Duration
		idleTimeout     time.Duration
		maxClients      int
		warnedAt        int
	}

	clientLimiter struct {
		limiter    *rate.Limiter
		lastAccess time.Time
		mu         sync.Mutex
	}
)

// NewInMemoryRateLimiter creates a rate limiter and starts its cleanup goroutine.
// Callers must Close it.
//
// Example:
//
//	rl := NewInMemoryRateLimiter(&Config{
//	    GlobalRPS:        100,
//	    ClientRPS:        20,
//	    UnknownClientRPS: 10,
//	})
//	defer rl.Close()
func NewInMemoryRateLimiter(config *Config) *InMemoryRateLimiter {
	maxClients := config.MaxClients
	if maxClients <= 0 {
		maxClients = defaultMaxClients
	}

	rl := &InMemoryRateLimiter{
		global: rate.NewLimiter(rate.Limit(config.GlobalRPS),
			computeBurstCapacity(config.GlobalRPS, config.GlobalBurst)),
		perClient: make(map[string]*clientLimiter),
		unknownClient: rate.NewLimiter(rate.Limit(config.UnknownClientRPS),
			computeBurstCapacity(config.UnknownClientRPS, config.UnknownClientBurst)),
		done:            make(chan struct{}),
		clientRPS:       config.ClientRPS,
		clientBurst:     computeBurstCapacity(config.ClientRPS, config.ClientBurst),
		cleanupInterval: config.CleanupInterval,
		idleTimeout:     config.IdleTimeout,
		maxClients:      maxClients,
	}

	rl.startCleanup()

	return rl
}

// computeBurstCapacity returns burstOverride when set, otherwise 2 × rate.
//
//	computeBurstCapacity(100, 0)   // 200
//	computeBurstCapacity(100, 500) // 500
func computeBurstCapacity(rate, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rate * burstCapacityMultiplier
}

// Allow implements RateLimiter.
func (rl *InMemoryRateLimiter) Allow(clientKey string) bool {
	if !rl.global.Allow() {
		return false
	}

	if clientKey == "" {
		return rl.unknownClient.Allow()
	}

	cl, ok := rl.clientFor(clientKey)
	if !ok {
		return rl.unknownClient.Allow()
	}

	cl.mu.Lock()
	cl.lastAccess = time.Now()
	cl.mu.Unlock()

	return cl.limiter.Allow()
}

// clientFor returns the bucket for clientKey, creating it lazily.
// It returns false when the client table is full.
func (rl *InMemoryRateLimiter) clientFor(clientKey string) (*clientLimiter, bool) {
	rl.mu.RLock()
	cl, ok := rl.perClient[clientKey]
	rl.mu.RUnlock()

	if ok {
		return cl, true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if cl, ok = rl.perClient[clientKey]; ok {
		return cl, true
	}

	current := len(rl.perClient)
	if current >= rl.maxClients {
		return nil, false
	}

	cl = &clientLimiter{
		limiter:    rate.NewLimiter(rate.Limit(rl.clientRPS), rl.clientBurst),
		lastAccess: time.Now(),
	}
	rl.perClient[clientKey] = cl

	threshold := int(float64(rl.maxClients) * thresholdMultiplier)
	if current+1 >= threshold && rl.warnedAt < threshold {
		rl.warnedAt = current + 1

		slog.Warn("rate limiter approaching max clients limit",
			slog.Int("current_clients", current+1),
			slog.Int("max_clients", rl.maxClients),
			slog.Int("threshold_percent", thresholdPercentage),
		)
	}

	return cl, true
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (rl *InMemoryRateLimiter) Close() error {
	rl.closeOnce.Do(func() {
		if rl.cleanupTicker != nil {
			rl.cleanupTicker.Stop()
		}

		close(rl.done)
	})

	return nil
}

func (rl *InMemoryRateLimiter) startCleanup() {
	cleanupInterval := rl.cleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = rateLimiterCleanupInterval
	}

	rl.cleanupTicker = time.NewTicker(cleanupInterval)

	go func() {
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.done:
				return
			}
		}
	}()
}

// cleanup removes client buckets that have not been used within the idle timeout.
func (rl *InMemoryRateLimiter) cleanup() {
	idleTimeout := rl.idleTimeout
	if idleTimeout == 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, cl := range rl.perClient {
		cl.mu.Lock()
		lastAccess := cl.lastAccess
		cl.mu.Unlock()

		if now.Sub(lastAccess) > idleTimeout {
			delete(rl.perClient, key)
		}
	}

	if len(rl.perClient) < int(float64(rl.maxClients)*thresholdMultiplier) {
		rl.warnedAt = 0
	}
}

// clientCount returns the number of tracked client buckets.
func (rl *InMemoryRateLimiter) clientCount() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	return len(rl.perClient)
}

// ClientKey identifies the client of r by the host part of its remote address.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// RateLimit returns a middleware that answers 429 with an RFC 7807 body when
// limiter rejects the request's client.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := ClientKey(r)

			if limiter.Allow(clientKey) {
				next.ServeHTTP(w, r)

				return
			}

			correlationID := GetCorrelationID(r.Context())

			logger.Warn("Rate limit exceeded",
				slog.String("correlation_id", correlationID),
				slog.String("client", clientKey),
				slog.String("path", r.URL.Path),
			)

			w.Header().Set("Retry-After", "1")

			detail := "Rate limit exceeded. Please retry after some time."
			if err := writeRFC7807Error(w, r, http.StatusTooManyRequests, detail, correlationID); err != nil {
				logger.Error("Failed to write rate limit response",
					slog.String("correlation_id", correlationID),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
			}
		})
	}
}
