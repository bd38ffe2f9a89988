// Package discovery turns factory pair-creation events into vetted token
// candidates for the trading strategy.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Prosniperv2/V2.0/internal/blockchain"
	"github.com/Prosniperv2/V2.0/internal/notification"
	"github.com/Prosniperv2/V2.0/internal/platform/cache"
	"github.com/Prosniperv2/V2.0/internal/platform/observability"
	"github.com/Prosniperv2/V2.0/internal/platform/worker"
)

// Priority ranks a candidate by how directly it can be bought with WETH
type Priority string

const (
	// PriorityHigh marks a token paired directly with WETH
	PriorityHigh Priority = "HIGH"
	// PriorityMedium marks a token paired with anything else
	PriorityMedium Priority = "MEDIUM"
)

// UnknownSymbol is used when a token does not answer symbol()
const UnknownSymbol = "UNKNOWN"

// Candidate is a newly listed token that passed vetting
type Candidate struct {
	Token        common.Address
	Symbol       string
	Priority     Priority
	DEX          string
	Pool         common.Address
	BlockNumber  uint64
	DiscoveredAt time.Time
}

// Handler consumes vetted candidates
type Handler func(ctx context.Context, c Candidate)

// PairSource emits newly created pairs. *blockchain.PairWatcher implements it.
type PairSource interface {
	Pairs() <-chan blockchain.NewPair
}

// Stats are discovery counters
type Stats struct {
	Pairs      uint64 `json:"pairs"`
	Duplicates uint64 `json:"duplicates"`
	Rejected   uint64 `json:"rejected"`
	Dispatched uint64 `json:"dispatched"`
}

// Monitor filters discovered pairs down to unseen, deployed tokens and hands
// them to the handler on a worker pool
type Monitor struct {
	source      PairSource
	backend     blockchain.Backend
	seen        cache.Cache
	seenTTL     time.Duration
	minCodeSize int
	weth        common.Address
	skip        map[common.Address]struct{}
	pool        *worker.Pool
	handler     Handler
	notifier    notification.Notifier

	logger  *observability.Logger
	metrics *observability.Metrics

	pairs      atomic.Uint64
	duplicates atomic.Uint64
	rejected   atomic.Uint64
	dispatched atomic.Uint64
}

// MonitorConfig holds monitor configuration
type MonitorConfig struct {
	Source  PairSource
	Backend blockchain.Backend
	// Seen records tokens already dispatched
	Seen        cache.Cache
	SeenTTL     time.Duration // default 48h
	MinCodeSize int           // default 100 bytes
	WETH        common.Address
	// Skip lists routing tokens that are never candidates (WETH is always skipped)
	Skip     []common.Address
	Pool     *worker.Pool
	Handler  Handler
	Notifier notification.Notifier
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

// NewMonitor creates a discovery monitor
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if cfg.Source == nil || cfg.Backend == nil {
		return nil, fmt.Errorf("pair source and backend are required")
	}
	if cfg.Seen == nil {
		return nil, fmt.Errorf("seen cache is required")
	}
	if cfg.Pool == nil || cfg.Handler == nil {
		return nil, fmt.Errorf("worker pool and handler are required")
	}
	if cfg.SeenTTL <= 0 {
		cfg.SeenTTL = 48 * time.Hour
	}
	if cfg.MinCodeSize <= 0 {
		cfg.MinCodeSize = 100
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notification.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewNoopMetrics()
	}

	skip := map[common.Address]struct{}{cfg.WETH: {}}
	for _, addr := range cfg.Skip {
		skip[addr] = struct{}{}
	}

	return &Monitor{
		source:      cfg.Source,
		backend:     cfg.Backend,
		seen:        cfg.Seen,
		seenTTL:     cfg.SeenTTL,
		minCodeSize: cfg.MinCodeSize,
		weth:        cfg.WETH,
		skip:        skip,
		pool:        cfg.Pool,
		handler:     cfg.Handler,
		notifier:    cfg.Notifier,
		logger:      cfg.Logger.Named("discovery"),
		metrics:     cfg.Metrics,
	}, nil
}

// Candidates splits a pair into the tokens worth vetting. A WETH pair yields
// the other token at high priority; any other pair yields both at medium.
func Candidates(pair blockchain.NewPair, weth common.Address) []Candidate {
	base := Candidate{
		DEX:          pair.DEX,
		Pool:         pair.Pool,
		BlockNumber:  pair.BlockNumber,
		DiscoveredAt: pair.DetectedAt,
	}

	switch weth {
	case pair.Token0:
		base.Token, base.Priority = pair.Token1, PriorityHigh
		return []Candidate{base}
	case pair.Token1:
		base.Token, base.Priority = pair.Token0, PriorityHigh
		return []Candidate{base}
	}

	first, second := base, base
	first.Token, first.Priority = pair.Token0, PriorityMedium
	second.Token, second.Priority = pair.Token1, PriorityMedium
	return []Candidate{first, second}
}

// Run consumes pairs until the source closes or ctx is cancelled
func (m *Monitor) Run(ctx context.Context) error {
	pairs := m.source.Pairs()
	for {
		select {
		case <-ctx.Done():
			return nil
		case pair, ok := <-pairs:
			if !ok {
				return nil
			}
			m.pairs.Add(1)
			m.handlePair(ctx, pair)
		}
	}
}

func (m *Monitor) handlePair(ctx context.Context, pair blockchain.NewPair) {
	for _, c := range Candidates(pair, m.weth) {
		if _, skip := m.skip[c.Token]; skip {
			continue
		}
		if !m.markSeen(ctx, c.Token) {
			m.duplicates.Add(1)
			continue
		}

		err := m.pool.Submit(ctx, worker.Task{
			ID:  "vet-" + c.Token.Hex(),
			Run: func(ctx context.Context) error { return m.vet(ctx, c) },
		})
		if err != nil {
			m.logger.LogWarn(ctx, "failed to queue candidate",
				slog.String("token", c.Token.Hex()),
				slog.Any("error", err),
			)
		}
	}
}

// markSeen reports whether token is new. Cache failures let the token through.
func (m *Monitor) markSeen(ctx context.Context, token common.Address) bool {
	added, err := m.seen.SetIfAbsent(ctx, SeenKey(token), time.Now().UTC().Format(time.RFC3339), m.seenTTL)
	if err != nil {
		m.logger.LogWarn(ctx, "seen-set update failed", slog.String("token", token.Hex()), slog.Any("error", err))
		return true
	}
	return added
}

// SeenKey is the cache key marking token as processed
func SeenKey(token common.Address) string {
	return "seen:" + strings.ToLower(token.Hex())
}

func (m *Monitor) vet(ctx context.Context, c Candidate) error {
	code, err := m.backend.CodeAt(ctx, c.Token, nil)
	if err != nil {
		m.rejected.Add(1)
		return fmt.Errorf("code lookup for %s failed: %w", c.Token.Hex(), err)
	}
	if len(code) < m.minCodeSize {
		m.rejected.Add(1)
		m.logger.Debug("candidate rejected",
			slog.String("token", c.Token.Hex()),
			slog.Int("code_size", len(code)),
		)
		return nil
	}

	c.Symbol = m.symbol(ctx, c.Token)
	if c.DiscoveredAt.IsZero() {
		c.DiscoveredAt = time.Now()
	}

	m.dispatched.Add(1)
	m.metrics.RecordPairDiscovered(ctx, c.DEX, string(c.Priority))
	m.logger.LogInfo(ctx, "new token candidate",
		slog.String("token", c.Token.Hex()),
		slog.String("symbol", c.Symbol),
		slog.String("priority", string(c.Priority)),
		slog.String("dex", c.DEX),
		slog.Uint64("block", c.BlockNumber),
	)

	event := notification.NewEvent(notification.KindDetected, c.Token.Hex())
	event.Symbol = c.Symbol
	event.DEX = c.DEX
	event.Priority = string(c.Priority)
	if err := m.notifier.Notify(ctx, event); err != nil {
		m.logger.LogWarn(ctx, "detection notification failed", slog.Any("error", err))
	}

	m.handler(ctx, c)
	return nil
}

func (m *Monitor) symbol(ctx context.Context, token common.Address) string {
	var out []interface{}
	err := blockchain.NewERC20Contract(token, m.backend).Call(&bind.CallOpts{Context: ctx}, &out, "symbol")
	if err != nil || len(out) == 0 {
		return UnknownSymbol
	}
	if s, ok := out[0].(string); ok && s != "" {
		return s
	}
	return UnknownSymbol
}

// Stats returns discovery counters
func (m *Monitor) Stats() Stats {
	return Stats{
		Pairs:      m.pairs.Load(),
		Duplicates: m.duplicates.Load(),
		Rejected:   m.rejected.Load(),
		Dispatched: m.dispatched.Load(),
	}
}
