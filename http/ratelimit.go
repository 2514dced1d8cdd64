package http

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limit is a token bucket: Burst requests at once, refilled one per Every.
// ByUser keys the bucket on the authenticated player instead of the client
// address, and only applies behind AuthMiddleware.
type Limit struct {
	Name   string
	Every  time.Duration
	Burst  int
	ByUser bool
}

var (
	loginLimit    = Limit{Name: "login", Every: 12 * time.Second, Burst: 5}
	registerLimit = Limit{Name: "register", Every: 20 * time.Second, Burst: 3}
	gameplayLimit = Limit{Name: "gameplay", Every: 200 * time.Millisecond, Burst: 20, ByUser: true}
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle holds the buckets of every Limit. Buckets idle longer than ttl are
// dropped by a background sweep until Close.
type Throttle struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	ttl     time.Duration
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

func NewThrottle(ttl time.Duration) *Throttle {
	t := &Throttle{
		buckets: make(map[string]*bucket),
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go t.sweepLoop()
	return t
}

func (t *Throttle) Close() {
	t.once.Do(func() { close(t.stop) })
}

// take spends one token from the bucket at key, reporting how long the
// caller has to wait when the bucket is empty.
func (t *Throttle) take(l Limit, key string) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(l.Every), l.Burst)}
		t.buckets[key] = b
	}
	b.lastSeen = now

	if b.limiter.AllowN(now, 1) {
		return true, 0
	}
	r := b.limiter.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, wait
}

func (t *Throttle) sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-t.ttl)
	for key, b := range t.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(t.buckets, key)
		}
	}
}

func (t *Throttle) sweepLoop() {
	ticker := time.NewTicker(t.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

func (t *Throttle) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}

// Middleware rejects requests past l with 429 and a Retry-After in seconds.
func (t *Throttle) Middleware(l Limit) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := t.take(l, l.Name+"|"+clientKey(r, l.ByUser))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeMessage(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request, byUser bool) string {
	if byUser {
		if id, ok := GetUserIDFromContext(r.Context()); ok {
			return "user:" + strconv.FormatInt(id, 10)
		}
	}
	// Forwarding headers are client controlled, so only RemoteAddr counts.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
