package blockchain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	testWETH    = common.HexToAddress("0x4200000000000000000000000000000000000006")
	testToken   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testPool    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testFactory = common.HexToAddress("0x33128a8fC17869897dcE68Ed026d694621f6FDfD")
)

func TestCreationTopics_MatchEventSignatures(t *testing.T) {
	tests := []struct {
		signature string
		topic     common.Hash
	}{
		{"PairCreated(address,address,address,uint256)", PairCreatedTopic},
		{"PoolCreated(address,address,uint24,int24,address)", PoolCreatedTopic},
	}

	for _, tt := range tests {
		if got := crypto.Keccak256Hash([]byte(tt.signature)); got != tt.topic {
			t.Errorf("%s: expected %s, got %s", tt.signature, tt.topic.Hex(), got.Hex())
		}
	}
}

func v2Log(token0, token1, pair common.Address, block uint64) types.Log {
	data := make([]byte, 64)
	copy(data[12:32], pair.Bytes())
	data[63] = 1
	return types.Log{
		Address:     testFactory,
		Topics:      []common.Hash{PairCreatedTopic, common.BytesToHash(token0.Bytes()), common.BytesToHash(token1.Bytes())},
		Data:        data,
		BlockNumber: block,
	}
}

func v3Log(token0, token1, pool common.Address, block uint64) types.Log {
	data := make([]byte, 64)
	data[31] = 60 // tick spacing
	copy(data[44:64], pool.Bytes())
	return types.Log{
		Address:     testFactory,
		Topics:      []common.Hash{PoolCreatedTopic, common.BytesToHash(token0.Bytes()), common.BytesToHash(token1.Bytes()), common.BigToHash(common.Big1)},
		Data:        data,
		BlockNumber: block,
	}
}

func TestDecodePairLog(t *testing.T) {
	tests := []struct {
		name     string
		log      types.Log
		wantOK   bool
		wantPool common.Address
	}{
		{"v2 pair", v2Log(testWETH, testToken, testPool, 10), true, testPool},
		{"v3 pool", v3Log(testToken, testWETH, testPool, 11), true, testPool},
		{"too few topics", types.Log{Topics: []common.Hash{PairCreatedTopic}}, false, common.Address{}},
		{"removed by reorg", func() types.Log { l := v2Log(testWETH, testToken, testPool, 12); l.Removed = true; return l }(), false, common.Address{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair, ok := DecodePairLog(tt.log)
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v", tt.wantOK, ok)
			}
			if !ok {
				return
			}
			if pair.Pool != tt.wantPool {
				t.Errorf("expected pool %s, got %s", tt.wantPool.Hex(), pair.Pool.Hex())
			}
			if pair.Token0 != common.BytesToAddress(tt.log.Topics[1].Bytes()) || pair.Token1 != common.BytesToAddress(tt.log.Topics[2].Bytes()) {
				t.Errorf("unexpected tokens %s %s", pair.Token0.Hex(), pair.Token1.Hex())
			}
		})
	}
}

func TestNewPairWatcher_Validation(t *testing.T) {
	if _, err := NewPairWatcher(PairWatcherConfig{}); err == nil {
		t.Error("expected error without backend")
	}
	if _, err := NewPairWatcher(PairWatcherConfig{Backend: &fakeBackend{}}); err == nil {
		t.Error("expected error without factories")
	}
}

type chainHead struct {
	mu   sync.Mutex
	head uint64
}

func (c *chainHead) get() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *chainHead) set(n uint64) {
	c.mu.Lock()
	c.head = n
	c.mu.Unlock()
}

func TestPairWatcher_EmitsPairsFromNewBlocks(t *testing.T) {
	head := &chainHead{head: 100}
	var mu sync.Mutex
	var queries []ethereum.FilterQuery

	backend := &fakeBackend{
		blockNumber: head.get,
		logs: func(q ethereum.FilterQuery) ([]types.Log, error) {
			mu.Lock()
			queries = append(queries, q)
			mu.Unlock()
			return []types.Log{v2Log(testWETH, testToken, testPool, q.ToBlock.Uint64())}, nil
		},
	}

	w, err := NewPairWatcher(PairWatcherConfig{
		Backend:      backend,
		Factories:    []FactorySource{{DEX: "uniswap_v3", Address: testFactory}},
		PollInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for w.LastBlock() != 100 {
		if time.Now().After(deadline) {
			t.Fatal("watcher never synced to head")
		}
		time.Sleep(2 * time.Millisecond)
	}
	head.set(102)

	select {
	case pair := <-w.Pairs():
		if pair.DEX != "uniswap_v3" || pair.Pool != testPool || pair.Token1 != testToken {
			t.Errorf("unexpected pair %+v", pair)
		}
		if pair.DetectedAt.IsZero() {
			t.Error("expected detection time")
		}
	case <-time.After(time.Second):
		t.Fatal("no pair emitted")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(queries) == 0 {
		t.Fatal("expected a log query")
	}
	q := queries[0]
	if q.FromBlock.Uint64() != 101 || q.ToBlock.Uint64() != 102 {
		t.Errorf("expected range 101-102, got %d-%d", q.FromBlock.Uint64(), q.ToBlock.Uint64())
	}
	if len(q.Topics) != 1 || len(q.Topics[0]) != len(CreationTopics) {
		t.Errorf("unexpected topics filter %v", q.Topics)
	}
}

func TestPairWatcher_CapsScanRange(t *testing.T) {
	head := &chainHead{head: 100}
	ranges := make(chan [2]uint64, 4)
	backend := &fakeBackend{
		blockNumber: head.get,
		logs: func(q ethereum.FilterQuery) ([]types.Log, error) {
			ranges <- [2]uint64{q.FromBlock.Uint64(), q.ToBlock.Uint64()}
			return nil, nil
		},
	}

	w, err := NewPairWatcher(PairWatcherConfig{
		Backend:      backend,
		Factories:    []FactorySource{{DEX: "uniswap_v3", Address: testFactory}},
		PollInterval: 5 * time.Millisecond,
		MaxRange:     5,
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for w.LastBlock() != 100 {
		if time.Now().After(deadline) {
			t.Fatal("watcher never synced to head")
		}
		time.Sleep(2 * time.Millisecond)
	}
	head.set(150)

	select {
	case r := <-ranges:
		if r != [2]uint64{146, 150} {
			t.Errorf("expected range 146-150, got %v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("no scan happened")
	}
}

func TestPairWatcher_RetriesFailedRange(t *testing.T) {
	head := &chainHead{head: 100}
	var mu sync.Mutex
	fail := true
	ranges := make(chan [2]uint64, 8)
	backend := &fakeBackend{
		blockNumber: head.get,
		logs: func(q ethereum.FilterQuery) ([]types.Log, error) {
			mu.Lock()
			defer mu.Unlock()
			ranges <- [2]uint64{q.FromBlock.Uint64(), q.ToBlock.Uint64()}
			if fail {
				fail = false
				return nil, errors.New("503 Service Unavailable")
			}
			return nil, nil
		},
	}

	w, err := NewPairWatcher(PairWatcherConfig{
		Backend:      backend,
		Factories:    []FactorySource{{DEX: "uniswap_v3", Address: testFactory}},
		PollInterval: 5 * time.Millisecond,
		ErrorBackoff: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for w.LastBlock() != 100 {
		if time.Now().After(deadline) {
			t.Fatal("watcher never synced to head")
		}
		time.Sleep(2 * time.Millisecond)
	}
	head.set(101)

	for i := 0; i < 2; i++ {
		select {
		case r := <-ranges:
			if r != [2]uint64{101, 101} {
				t.Errorf("attempt %d: expected range 101-101, got %v", i, r)
			}
		case <-time.After(time.Second):
			t.Fatalf("attempt %d: no scan", i)
		}
	}
}

func TestPairWatcher_ClosesChannelOnStop(t *testing.T) {
	w, err := NewPairWatcher(PairWatcherConfig{
		Backend:      &fakeBackend{},
		Factories:    []FactorySource{{DEX: "uniswap_v3", Address: testFactory}},
		PollInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	if err := <-done; err != nil {
		t.Errorf("expected clean stop, got %v", err)
	}
	if _, open := <-w.Pairs(); open {
		t.Error("expected pairs channel to be closed")
	}
}
