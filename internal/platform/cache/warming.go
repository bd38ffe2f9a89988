package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Prosniperv2/V2.0/internal/platform/observability"
)

// DefaultWarmupTimeout bounds a whole warmup run
const DefaultWarmupTimeout = 30 * time.Second

// WarmupProvider pre-populates a cache before the bot starts trading.
// Warmup must be idempotent.
type WarmupProvider interface {
	Name() string
	Warmup(ctx context.Context) error
}

// Warmer runs providers one after another before trading starts
type Warmer struct {
	providers []WarmupProvider
	timeout   time.Duration
	logger    *observability.Logger
}

// NewWarmer creates a warmer. A non-positive timeout uses DefaultWarmupTimeout.
func NewWarmer(logger *observability.Logger, timeout time.Duration) *Warmer {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if timeout <= 0 {
		timeout = DefaultWarmupTimeout
	}
	return &Warmer{timeout: timeout, logger: logger.Named("cache-warmer")}
}

// Register adds a provider
func (w *Warmer) Register(provider WarmupProvider) {
	w.providers = append(w.providers, provider)
}

// Warmup runs every provider in registration order. A failing provider does
// not stop the rest; all failures are returned joined.
func (w *Warmer) Warmup(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	var errs []error
	for _, p := range w.providers {
		start := time.Now()
		if err := p.Warmup(ctx); err != nil {
			w.logger.LogWarn(ctx, "cache warmup failed",
				slog.String("provider", p.Name()),
				slog.Duration("took", time.Since(start)),
				slog.Any("error", err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		w.logger.LogDebug(ctx, "cache warmed",
			slog.String("provider", p.Name()),
			slog.Duration("took", time.Since(start)),
		)
	}
	return errors.Join(errs...)
}
