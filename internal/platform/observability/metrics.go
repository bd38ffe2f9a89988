package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Metrics holds all application metrics
type Metrics struct {
	meter   metric.Meter
	enabled bool

	// Rate limiter
	RateLimitAcquires metric.Int64Counter
	RateLimitWait     metric.Float64Histogram
	RateLimit429s     metric.Int64Counter

	// DEX quotes
	DEXQuoteCalls    metric.Int64Counter
	DEXQuoteDuration metric.Float64Histogram
	BestQuoteSource  metric.Int64Counter

	// Swaps
	SwapAttempts metric.Int64Counter
	SwapResults  metric.Int64Counter
	SwapDuration metric.Float64Histogram
	GasPriceGwei metric.Float64Gauge

	// Discovery and positions
	PairsDiscovered metric.Int64Counter
	PositionsOpen   metric.Int64UpDownCounter
	PositionsClosed metric.Int64Counter

	// Notifications
	NotificationsSent metric.Int64Counter

	// RPC endpoint metrics
	RPCEndpointHealth metric.Int64Gauge

	// Cache metrics
	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter

	// Circuit breaker metrics
	CircuitBreakerState metric.Int64Gauge

	// Error metrics
	Errors metric.Int64Counter
}

// MetricsOption adjusts the metric pipeline
type MetricsOption func(*metricsOptions)

type metricsOptions struct {
	otlpEndpoint string
	otlpInsecure bool
	otlpInterval time.Duration
}

// WithOTLPExport adds a periodic OTLP gRPC reader next to the Prometheus one.
// An empty endpoint leaves the pipeline unchanged.
func WithOTLPExport(endpoint string, insecure bool) MetricsOption {
	return func(o *metricsOptions) {
		o.otlpEndpoint = endpoint
		o.otlpInsecure = insecure
	}
}

// NewMetrics creates a new Metrics instance. When disabled every instrument is
// backed by a noop meter, so Record* calls are always safe.
func NewMetrics(serviceName string, enabled bool, opts ...MetricsOption) (*Metrics, error) {
	options := metricsOptions{otlpInterval: 30 * time.Second}
	for _, opt := range opts {
		opt(&options)
	}

	if !enabled {
		m := &Metrics{meter: noop.NewMeterProvider().Meter(serviceName)}
		if err := m.initMetrics(); err != nil {
			return nil, err
		}
		return m, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("2.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	providerOpts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	}

	if options.otlpEndpoint != "" {
		otlpOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(options.otlpEndpoint)}
		if options.otlpInsecure {
			otlpOpts = append(otlpOpts, otlpmetricgrpc.WithInsecure())
		}
		otlpExporter, err := otlpmetricgrpc.New(context.Background(), otlpOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		providerOpts = append(providerOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(otlpExporter, sdkmetric.WithInterval(options.otlpInterval)),
		))
	}

	provider := sdkmetric.NewMeterProvider(providerOpts...)

	m := &Metrics{
		meter:   provider.Meter(serviceName),
		enabled: true,
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

// NewNoopMetrics returns metrics that record nothing
func NewNoopMetrics() *Metrics {
	m, _ := NewMetrics("noop", false)
	return m
}

func (m *Metrics) initMetrics() error {
	var err error

	if m.RateLimitAcquires, err = m.meter.Int64Counter(
		"sniper.ratelimit.acquires",
		metric.WithDescription("Requests admitted by a rate limiter"),
	); err != nil {
		return err
	}

	if m.RateLimitWait, err = m.meter.Float64Histogram(
		"sniper.ratelimit.wait",
		metric.WithDescription("Time spent suspended in a rate limiter"),
		metric.WithUnit("ms"),
	); err != nil {
		return err
	}

	if m.RateLimit429s, err = m.meter.Int64Counter(
		"sniper.ratelimit.rejections",
		metric.WithDescription("Rate-limit (429) responses reported by callers"),
	); err != nil {
		return err
	}

	if m.DEXQuoteCalls, err = m.meter.Int64Counter(
		"sniper.dex.quote.calls",
		metric.WithDescription("Router quote calls by outcome"),
	); err != nil {
		return err
	}

	if m.DEXQuoteDuration, err = m.meter.Float64Histogram(
		"sniper.dex.quote.duration",
		metric.WithDescription("Router quote call duration"),
		metric.WithUnit("ms"),
	); err != nil {
		return err
	}

	if m.BestQuoteSource, err = m.meter.Int64Counter(
		"sniper.dex.best_quote",
		metric.WithDescription("DEX selected as best quote source"),
	); err != nil {
		return err
	}

	if m.SwapAttempts, err = m.meter.Int64Counter(
		"sniper.swap.attempts",
		metric.WithDescription("Swap transaction submission attempts"),
	); err != nil {
		return err
	}

	if m.SwapResults, err = m.meter.Int64Counter(
		"sniper.swap.results",
		metric.WithDescription("Terminal swap outcomes"),
	); err != nil {
		return err
	}

	if m.SwapDuration, err = m.meter.Float64Histogram(
		"sniper.swap.duration",
		metric.WithDescription("End-to-end swap execution duration"),
		metric.WithUnit("ms"),
	); err != nil {
		return err
	}

	if m.GasPriceGwei, err = m.meter.Float64Gauge(
		"sniper.gas.price",
		metric.WithDescription("Current gas price"),
		metric.WithUnit("gwei"),
	); err != nil {
		return err
	}

	if m.PairsDiscovered, err = m.meter.Int64Counter(
		"sniper.discovery.pairs",
		metric.WithDescription("New pairs seen on watched factories"),
	); err != nil {
		return err
	}

	if m.PositionsOpen, err = m.meter.Int64UpDownCounter(
		"sniper.positions.open",
		metric.WithDescription("Currently open positions"),
	); err != nil {
		return err
	}

	if m.PositionsClosed, err = m.meter.Int64Counter(
		"sniper.positions.closed",
		metric.WithDescription("Closed positions by exit reason"),
	); err != nil {
		return err
	}

	if m.NotificationsSent, err = m.meter.Int64Counter(
		"sniper.notifications.sent",
		metric.WithDescription("Notifications by channel and status"),
	); err != nil {
		return err
	}

	if m.RPCEndpointHealth, err = m.meter.Int64Gauge(
		"sniper.rpc.endpoint.health",
		metric.WithDescription("RPC endpoint health status (1=healthy, 0=unhealthy)"),
	); err != nil {
		return err
	}

	if m.CacheHits, err = m.meter.Int64Counter(
		"sniper.cache.hits",
		metric.WithDescription("Total cache hits"),
	); err != nil {
		return err
	}

	if m.CacheMisses, err = m.meter.Int64Counter(
		"sniper.cache.misses",
		metric.WithDescription("Total cache misses"),
	); err != nil {
		return err
	}

	if m.CircuitBreakerState, err = m.meter.Int64Gauge(
		"sniper.circuit_breaker.state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
	); err != nil {
		return err
	}

	m.Errors, err = m.meter.Int64Counter(
		"sniper.errors",
		metric.WithDescription("Total errors encountered"),
	)
	return err
}

// RecordRateLimitAcquire records one admitted request and the time it waited
func (m *Metrics) RecordRateLimitAcquire(ctx context.Context, limiter string, waited time.Duration) {
	attrs := metric.WithAttributes(attribute.String("limiter", limiter))
	m.RateLimitAcquires.Add(ctx, 1, attrs)
	m.RateLimitWait.Record(ctx, float64(waited.Milliseconds()), attrs)
}

// RecordRateLimit429 records a rate-limit rejection
func (m *Metrics) RecordRateLimit429(ctx context.Context, limiter string) {
	m.RateLimit429s.Add(ctx, 1, metric.WithAttributes(attribute.String("limiter", limiter)))
}

// RecordDEXQuote records a router quote call
func (m *Metrics) RecordDEXQuote(ctx context.Context, dex, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("dex", dex),
		attribute.String("outcome", outcome),
	)
	m.DEXQuoteCalls.Add(ctx, 1, attrs)
	m.DEXQuoteDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordBestQuote records which DEX won a best-price request
func (m *Metrics) RecordBestQuote(ctx context.Context, dex, direction string, fallback bool) {
	m.BestQuoteSource.Add(ctx, 1, metric.WithAttributes(
		attribute.String("dex", dex),
		attribute.String("direction", direction),
		attribute.Bool("fallback", fallback),
	))
}

// RecordSwapAttempt records one submission attempt
func (m *Metrics) RecordSwapAttempt(ctx context.Context, direction string, attempt int, sent bool) {
	m.SwapAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("direction", direction),
		attribute.Int("attempt", attempt),
		attribute.Bool("sent", sent),
	))
}

// RecordSwapResult records the terminal outcome of a swap
func (m *Metrics) RecordSwapResult(ctx context.Context, direction, result string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("direction", direction),
		attribute.String("result", result),
	)
	m.SwapResults.Add(ctx, 1, attrs)
	m.SwapDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordGasPrice records the current gas price in gwei
func (m *Metrics) RecordGasPrice(ctx context.Context, gwei float64) {
	m.GasPriceGwei.Record(ctx, gwei)
}

// RecordPairDiscovered records a new pair event
func (m *Metrics) RecordPairDiscovered(ctx context.Context, dex, priority string) {
	m.PairsDiscovered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("dex", dex),
		attribute.String("priority", priority),
	))
}

// RecordPositionOpened increments the open positions gauge
func (m *Metrics) RecordPositionOpened(ctx context.Context) {
	m.PositionsOpen.Add(ctx, 1)
}

// RecordPositionClosed decrements open positions and counts the exit reason
func (m *Metrics) RecordPositionClosed(ctx context.Context, reason string) {
	m.PositionsOpen.Add(ctx, -1)
	m.PositionsClosed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordNotification records a notification delivery
func (m *Metrics) RecordNotification(ctx context.Context, channel string, delivered bool) {
	m.NotificationsSent.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.Bool("delivered", delivered),
	))
}

// RecordRPCEndpointHealth records RPC endpoint health status
func (m *Metrics) RecordRPCEndpointHealth(ctx context.Context, url string, healthy bool) {
	val := int64(0)
	if healthy {
		val = 1
	}
	m.RPCEndpointHealth.Record(ctx, val, metric.WithAttributes(
		attribute.String("url", url),
	))
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit(ctx context.Context, cache string) {
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("cache", cache)))
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss(ctx context.Context, cache string) {
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("cache", cache)))
}

// SetCircuitBreakerState sets circuit breaker state
// 0 = closed, 1 = open, 2 = half-open
func (m *Metrics) SetCircuitBreakerState(ctx context.Context, service string, state int64) {
	m.CircuitBreakerState.Record(ctx, state, metric.WithAttributes(attribute.String("service", service)))
}

// RecordError records an error
func (m *Metrics) RecordError(ctx context.Context, errorType string) {
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("type", errorType)))
}

// Handler returns the HTTP handler for Prometheus metrics
func (m *Metrics) Handler() http.Handler {
	if !m.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("metrics disabled"))
		})
	}
	// The OTel Prometheus exporter registers with the default registry
	return promhttp.Handler()
}
