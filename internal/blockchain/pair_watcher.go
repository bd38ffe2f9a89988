package blockchain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Prosniperv2/V2.0/internal/platform/observability"
)

// Factory creation event topics
var (
	// PairCreated(address,address,address,uint256), V2 factories
	PairCreatedTopic = common.HexToHash("0x0d3648bd0f6ba80134a33ba9275ac585d9d315f0ad8355cddefde31afa28d0e9")
	// PoolCreated(address,address,uint24,int24,address), V3 factories
	PoolCreatedTopic = common.HexToHash("0x783cca1c0412dd0d695e784568c96da2e9c22ff989357a2e8b1d9b2b4e6b7118")
	// AerodromePoolCreatedTopic is emitted by the Aerodrome pool factory
	AerodromePoolCreatedTopic = common.HexToHash("0x91ccaa7a278130b65168c3a0c8d3bcae84cf5e43704342bd3ec0b59e59c036db")
	// BaseSwapPairCreatedTopic is emitted by the BaseSwap factory
	BaseSwapPairCreatedTopic = common.HexToHash("0x8b73c3c69bb8fe3d512ecc4cf759cc79239f7b179b0ffacaa9a75d522b39400f")
)

// CreationTopics are the topic0 values the watcher filters on
var CreationTopics = []common.Hash{
	PairCreatedTopic,
	PoolCreatedTopic,
	AerodromePoolCreatedTopic,
	BaseSwapPairCreatedTopic,
}

// NewPair is a pair or pool announced by a factory
type NewPair struct {
	Token0      common.Address
	Token1      common.Address
	Pool        common.Address
	Factory     common.Address
	DEX         string
	BlockNumber uint64
	TxHash      common.Hash
	DetectedAt  time.Time
}

// FactorySource is a factory contract to watch
type FactorySource struct {
	DEX     string
	Address common.Address
}

// PairWatcher polls the chain head and scans new blocks for factory creation events
type PairWatcher struct {
	backend      Backend
	factories    map[common.Address]string
	addresses    []common.Address
	pollInterval time.Duration
	errorBackoff time.Duration
	maxRange     uint64

	logger *observability.Logger
	tracer observability.Tracer

	pairs chan NewPair

	mu        sync.RWMutex
	lastBlock uint64
}

// PairWatcherConfig holds pair watcher configuration
type PairWatcherConfig struct {
	Backend      Backend
	Factories    []FactorySource
	PollInterval time.Duration // default 1s
	ErrorBackoff time.Duration // default 10s
	MaxRange     uint64        // max blocks per scan, default 5
	BufferSize   int
	Logger       *observability.Logger
	Tracer       observability.Tracer
}

// NewPairWatcher creates a pair watcher
func NewPairWatcher(cfg PairWatcherConfig) (*PairWatcher, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if len(cfg.Factories) == 0 {
		return nil, fmt.Errorf("at least one factory is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 10 * time.Second
	}
	if cfg.MaxRange == 0 {
		cfg.MaxRange = 5
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}

	w := &PairWatcher{
		backend:      cfg.Backend,
		factories:    make(map[common.Address]string, len(cfg.Factories)),
		pollInterval: cfg.PollInterval,
		errorBackoff: cfg.ErrorBackoff,
		maxRange:     cfg.MaxRange,
		logger:       cfg.Logger.Named("pair-watcher"),
		tracer:       cfg.Tracer,
		pairs:        make(chan NewPair, cfg.BufferSize),
	}
	for _, f := range cfg.Factories {
		if _, dup := w.factories[f.Address]; dup {
			continue
		}
		w.factories[f.Address] = f.DEX
		w.addresses = append(w.addresses, f.Address)
	}

	return w, nil
}

// Pairs returns the channel of discovered pairs. It is closed when Run returns.
func (w *PairWatcher) Pairs() <-chan NewPair {
	return w.pairs
}

// LastBlock returns the last fully scanned block
func (w *PairWatcher) LastBlock() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastBlock
}

// Run polls until ctx is cancelled. Scanning starts at the current head.
func (w *PairWatcher) Run(ctx context.Context) error {
	defer close(w.pairs)

	w.logger.Info("starting pair watcher",
		slog.Int("factories", len(w.addresses)),
		slog.Duration("poll_interval", w.pollInterval),
	)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := w.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.LogError(ctx, "pair watcher poll failed", err)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.errorBackoff):
			}
		}
	}
}

func (w *PairWatcher) poll(ctx context.Context) error {
	head, err := w.backend.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("block number fetch failed: %w", err)
	}

	last := w.LastBlock()
	if last == 0 {
		w.setLastBlock(head)
		return nil
	}
	if head <= last {
		return nil
	}

	from := last + 1
	if head-last > w.maxRange {
		from = head - w.maxRange + 1
		w.logger.Warn("skipping blocks beyond scan range",
			slog.Uint64("last_block", last),
			slog.Uint64("head", head),
			slog.Uint64("skipped", from-last-1),
		)
	}

	if err := w.scan(ctx, from, head); err != nil {
		return err
	}
	w.setLastBlock(head)
	return nil
}

func (w *PairWatcher) scan(ctx context.Context, from, to uint64) error {
	ctx, span := w.tracer.StartSpan(ctx, "PairWatcher.scan",
		attribute.Int64("from_block", int64(from)),
		attribute.Int64("to_block", int64(to)),
	)
	defer span.End()

	logs, err := w.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: w.addresses,
		Topics:    [][]common.Hash{CreationTopics},
	})
	if err != nil {
		span.NoticeError(err)
		return fmt.Errorf("filter logs %d-%d failed: %w", from, to, err)
	}

	now := time.Now()
	found := 0
	for _, lg := range logs {
		pair, ok := DecodePairLog(lg)
		if !ok {
			continue
		}
		pair.DEX = w.factories[lg.Address]
		pair.DetectedAt = now

		select {
		case w.pairs <- pair:
			found++
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	span.SetAttributes(attribute.Int("pairs_found", found))
	if found > 0 {
		w.logger.Debug("scanned blocks",
			slog.Uint64("from", from),
			slog.Uint64("to", to),
			slog.Int("pairs", found),
		)
	}
	return nil
}

func (w *PairWatcher) setLastBlock(n uint64) {
	w.mu.Lock()
	w.lastBlock = n
	w.mu.Unlock()
}

// DecodePairLog extracts tokens and pool from a factory creation log.
// Tokens are the first two indexed topics on every supported factory.
func DecodePairLog(lg types.Log) (NewPair, bool) {
	if len(lg.Topics) < 3 || lg.Removed {
		return NewPair{}, false
	}

	pair := NewPair{
		Token0:      common.BytesToAddress(lg.Topics[1].Bytes()),
		Token1:      common.BytesToAddress(lg.Topics[2].Bytes()),
		Factory:     lg.Address,
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash,
	}

	switch lg.Topics[0] {
	case PoolCreatedTopic:
		// data: int24 tickSpacing, address pool
		if len(lg.Data) >= 64 {
			pair.Pool = common.BytesToAddress(lg.Data[32:64])
		}
	default:
		// data: address pair, uint256
		if len(lg.Data) >= 32 {
			pair.Pool = common.BytesToAddress(lg.Data[0:32])
		}
	}

	return pair, true
}
