package resilience

import (
	"context"
	"math"
	"sync"
	"time"
)

// backoffFloor is the point below which a decaying backoff is treated as cleared
const backoffFloor = time.Millisecond

// RateLimiterConfig configures a sliding-window limiter with 429 backoff.
// One limiter is created per external endpoint class (RPC, notifications).
type RateLimiterConfig struct {
	Name        string
	Window      time.Duration // rolling window length
	MaxRequests int           // requests admitted per window
	BaseBackoff time.Duration // backoff unit applied on a 429
	Multiplier  float64       // growth per consecutive 429
	MaxBackoff  time.Duration // backoff ceiling

	// OnAcquire is called after a request is admitted with the time it waited
	OnAcquire func(waited time.Duration)
	// On429 is called after a rejection with the new backoff
	On429 func(backoff time.Duration)
}

// RPCRateLimits returns the limits used for the blockchain RPC endpoint
func RPCRateLimits() RateLimiterConfig {
	return RateLimiterConfig{
		Name:        "rpc",
		Window:      60 * time.Second,
		MaxRequests: 15,
		BaseBackoff: 5 * time.Second,
		Multiplier:  1.5,
		MaxBackoff:  10 * time.Second,
	}
}

// NotificationRateLimits returns the limits used for the chat notification channel
func NotificationRateLimits() RateLimiterConfig {
	return RateLimiterConfig{
		Name:        "notification",
		Window:      60 * time.Second,
		MaxRequests: 20,
		BaseBackoff: 5 * time.Second,
		Multiplier:  2.0,
		MaxBackoff:  60 * time.Second,
	}
}

// RateLimitState is a snapshot of limiter state
type RateLimitState struct {
	RecentRequests []time.Time   `json:"recent_requests"`
	CurrentBackoff time.Duration `json:"current_backoff"`
	Consecutive429 int           `json:"consecutive_429"`
	Last429        time.Time     `json:"last_429"`
}

// RateLimiter gates outbound calls by request count per rolling window and by
// backoff after rate-limit rejections. Safe for concurrent use.
type RateLimiter struct {
	cfg RateLimiterConfig

	mu             sync.Mutex
	requests       []time.Time // ascending
	backoff        time.Duration
	consecutive429 int
	last429        time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 15
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 5 * time.Second
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1.5
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}

	return &RateLimiter{
		cfg:      cfg,
		requests: make([]time.Time, 0, cfg.MaxRequests),
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Name returns the limiter name
func (rl *RateLimiter) Name() string {
	return rl.cfg.Name
}

// Acquire blocks until a request is permitted by both the active backoff and the
// window capacity, then records it. It only returns an error when ctx ends.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	start := rl.now()
	backoffServed := false

	for {
		rl.mu.Lock()
		now := rl.now()
		rl.prune(now)

		var wait time.Duration
		if rl.backoff > 0 && !backoffServed {
			elapsed := now.Sub(rl.last429)
			if elapsed < rl.backoff {
				wait = rl.backoff - elapsed
				backoffServed = true
			} else {
				rl.decay()
			}
		}

		if wait == 0 && len(rl.requests) >= rl.cfg.MaxRequests {
			wait = rl.requests[0].Add(rl.cfg.Window).Sub(now)
		}

		if wait <= 0 {
			rl.requests = append(rl.requests, now)
			rl.mu.Unlock()
			if rl.cfg.OnAcquire != nil {
				rl.cfg.OnAcquire(now.Sub(start))
			}
			return nil
		}
		rl.mu.Unlock()

		if err := rl.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Handle429Error records a rate-limit rejection and grows the backoff:
// min(base * multiplier^consecutive, max)
func (rl *RateLimiter) Handle429Error() time.Duration {
	rl.mu.Lock()
	rl.consecutive429++
	rl.last429 = rl.now()

	backoff := float64(rl.cfg.BaseBackoff) * math.Pow(rl.cfg.Multiplier, float64(rl.consecutive429))
	if backoff > float64(rl.cfg.MaxBackoff) {
		backoff = float64(rl.cfg.MaxBackoff)
	}
	rl.backoff = time.Duration(backoff)
	current := rl.backoff
	rl.mu.Unlock()

	if rl.cfg.On429 != nil {
		rl.cfg.On429(current)
	}
	return current
}

// HandleSuccess walks the consecutive rejection count back down and clears
// the backoff once it reaches zero
func (rl *RateLimiter) HandleSuccess() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.consecutive429 > 0 {
		rl.consecutive429--
	}
	if rl.consecutive429 == 0 {
		rl.backoff = 0
	}
}

// CurrentBackoff returns the active backoff
func (rl *RateLimiter) CurrentBackoff() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.backoff
}

// State returns a copy of the limiter state
func (rl *RateLimiter) State() RateLimitState {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.prune(rl.now())
	recent := make([]time.Time, len(rl.requests))
	copy(recent, rl.requests)

	return RateLimitState{
		RecentRequests: recent,
		CurrentBackoff: rl.backoff,
		Consecutive429: rl.consecutive429,
		Last429:        rl.last429,
	}
}

// Reset clears all tracked requests and backoff
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.requests = rl.requests[:0]
	rl.backoff = 0
	rl.consecutive429 = 0
	rl.last429 = time.Time{}
}

// prune drops requests that left the window (caller must hold lock)
func (rl *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-rl.cfg.Window)
	i := 0
	for i < len(rl.requests) && !rl.requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		rl.requests = append(rl.requests[:0], rl.requests[i:]...)
	}
}

// decay halves the backoff (caller must hold lock)
func (rl *RateLimiter) decay() {
	rl.backoff /= 2
	if rl.backoff < backoffFloor {
		rl.backoff = 0
	}
}

// WithRateLimit acquires rl, runs fn and reports the outcome back to the
// limiter: rate-limit errors grow the backoff, successes shrink it. A nil rl
// runs fn ungated.
func WithRateLimit[T any](ctx context.Context, rl *RateLimiter, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if rl == nil {
		return fn(ctx)
	}
	if err := rl.Acquire(ctx); err != nil {
		return zero, err
	}

	res, err := fn(ctx)
	if err != nil {
		if IsRateLimitError(err) {
			rl.Handle429Error()
		}
		return zero, err
	}

	rl.HandleSuccess()
	return res, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
