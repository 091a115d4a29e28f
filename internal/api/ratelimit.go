package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ashureev/medprofile/internal/identity"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// WriteLimiter throttles writes per user with a token bucket.
type WriteLimiter struct {
	mu        sync.Mutex
	rps       rate.Limit
	burst     int
	users     map[string]*userLimiter
	lastPrune time.Time
	now       func() time.Time
}

// NewWriteLimiter allows rps sustained writes per user with bursts of burst.
func NewWriteLimiter(rps float64, burst int) *WriteLimiter {
	return &WriteLimiter{
		rps:   rate.Limit(rps),
		burst: burst,
		users: make(map[string]*userLimiter),
		now:   time.Now,
	}
}

// Allow reports whether userID may write now.
func (l *WriteLimiter) Allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	u, ok := l.users[userID]
	if !ok {
		u = &userLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.users[userID] = u
	}
	u.lastSeen = now
	return u.limiter.AllowN(now, 1)
}

func (l *WriteLimiter) pruneLocked(now time.Time) {
	if now.Sub(l.lastPrune) < time.Minute {
		return
	}
	l.lastPrune = now
	for id, u := range l.users {
		if now.Sub(u.lastSeen) > limiterIdleTTL {
			delete(l.users, id)
		}
	}
}

// Middleware rejects writes over the limit with 429.
func (l *WriteLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := identity.UserIDFromContext(r.Context())
		if !l.Allow(userID) {
			slog.Warn("Write rate limit exceeded", "user_id", userID, "path", r.URL.Path)
			w.Header().Set("Retry-After", strconv.Itoa(l.retryAfterSeconds()))
			Error(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *WriteLimiter) retryAfterSeconds() int {
	if l.rps <= 0 {
		return 1
	}
	secs := int(1/float64(l.rps) + 0.999)
	if secs < 1 {
		secs = 1
	}
	return secs
}
