package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// maxTrackedClients caps the bucket table so an address-spoofing flood
// cannot grow it without bound. Requests from new addresses are refused
// while the table is full; existing buckets keep working.
const maxTrackedClients = 100_000

// RateLimiter applies a per-client token bucket: each remote address may
// burst up to burst requests and thereafter sustain rate requests per
// second. Buckets refill lazily on access, so an idle address costs
// nothing until the cleanup loop evicts it.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64
	burst   int
}

// bucket tracks one client. seen doubles as the refill anchor and the
// idle-eviction timestamp since both advance on every request.
type bucket struct {
	tokens float64
	seen   time.Time
}

func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
	}
}

// Handler enforces the limit and annotates every response with
// X-RateLimit-* headers. Rejected requests get a 429 with Retry-After
// set to the whole seconds until the bucket holds a token again.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remaining, wait, ok := rl.take(clientIP(r))

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(rl.burst))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Second).Unix(), 10))

		if !ok {
			h.Set("Retry-After", strconv.Itoa(int(wait)+1))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// take spends one token for ip. On refusal it reports the seconds until
// the next token accrues.
func (rl *RateLimiter) take(ip string) (remaining int, wait float64, ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, tracked := rl.buckets[ip]
	switch {
	case tracked:
		b.tokens = min(float64(rl.burst), b.tokens+now.Sub(b.seen).Seconds()*rl.rate)
		b.seen = now
	case len(rl.buckets) >= maxTrackedClients:
		return 0, 1 / rl.rate, false
	default:
		b = &bucket{tokens: float64(rl.burst), seen: now}
		rl.buckets[ip] = b
	}

	if b.tokens < 1 {
		return 0, (1 - b.tokens) / rl.rate, false
	}
	b.tokens--
	return int(b.tokens), 0, true
}

// StartCleanup evicts buckets idle for longer than maxIdle, checking
// every interval. The returned func stops the loop.
func (rl *RateLimiter) StartCleanup(interval, maxIdle time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.cleanup(maxIdle)
			}
		}
	}()
	return cancel
}

func (rl *RateLimiter) cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	for ip, b := range rl.buckets {
		if b.seen.Before(cutoff) {
			delete(rl.buckets, ip)
		}
	}
}

// Len reports how many client buckets are live.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// clientIP keys buckets by the transport peer address. Forwarding
// headers are ignored: anything the client controls would let it mint
// fresh buckets at will.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
