package blockchain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Prosniperv2/V2.0/internal/platform/resilience"
)

// fakeBackend is a scriptable Backend. Unset funcs return zero values.
type fakeBackend struct {
	mu    sync.Mutex
	calls int

	blockNumber func() (uint64, error)
	callFn      func(msg ethereum.CallMsg) ([]byte, error)
	balance     map[common.Address]*big.Int
	code        map[common.Address][]byte
	nonce       uint64
	gasPrice    *big.Int
	sendErrs    []error
	sent        []*types.Transaction
	receipts    map[common.Hash]*types.Receipt
	logs        func(q ethereum.FilterQuery) ([]types.Log, error)
}

func (f *fakeBackend) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeBackend) hit() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeBackend) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	f.hit()
	return f.code[account], nil
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.hit()
	if f.callFn == nil {
		return nil, nil
	}
	return f.callFn(msg)
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	f.hit()
	if f.blockNumber == nil {
		return 1, nil
	}
	return f.blockNumber()
}

func (f *fakeBackend) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	f.hit()
	if b, ok := f.balance[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.hit()
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	f.hit()
	if f.gasPrice == nil {
		return big.NewInt(1_000_000_000), nil
	}
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.sent = append(f.sent, tx)
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		return err
	}
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.hit()
	if r, ok := f.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.hit()
	if f.logs == nil {
		return nil, nil
	}
	return f.logs(q)
}

func dialerFor(backends map[string]Backend) Dialer {
	return func(_ context.Context, url string) (Backend, func(), error) {
		b, ok := backends[url]
		if !ok {
			return nil, nil, errors.New("dial tcp: connection refused")
		}
		return b, func() {}, nil
	}
}

func TestNewClientPool_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ClientPoolConfig
		wantErr error
	}{
		{
			name:    "missing primary",
			cfg:     ClientPoolConfig{},
			wantErr: nil,
		},
		{
			name: "nothing reachable",
			cfg: ClientPoolConfig{
				PrimaryURL: "http://primary",
				BackupURLs: []string{"http://backup"},
				Dial:       dialerFor(nil),
			},
			wantErr: ErrNoHealthyEndpoint,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClientPool(context.Background(), tt.cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestClientPool_StartsWithUnreachableBackup(t *testing.T) {
	primary := &fakeBackend{}
	pool, err := NewClientPool(context.Background(), ClientPoolConfig{
		PrimaryURL: "http://primary",
		BackupURLs: []string{"http://backup"},
		Dial:       dialerFor(map[string]Backend{"http://primary": primary}),
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer pool.Close()

	if pool.HealthyCount() != 1 {
		t.Errorf("expected 1 healthy endpoint, got %d", pool.HealthyCount())
	}
	status := pool.EndpointStatus()
	if !status["http://primary"] || status["http://backup"] {
		t.Errorf("unexpected status %v", status)
	}
}

func TestClientPool_PrefersPrimary(t *testing.T) {
	primary := &fakeBackend{blockNumber: func() (uint64, error) { return 100, nil }}
	backup := &fakeBackend{blockNumber: func() (uint64, error) { return 99, nil }}
	pool, err := NewClientPool(context.Background(), ClientPoolConfig{
		PrimaryURL: "http://primary",
		BackupURLs: []string{"http://backup"},
		Dial:       dialerFor(map[string]Backend{"http://primary": primary, "http://backup": backup}),
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	for i := 0; i < 3; i++ {
		n, err := pool.BlockNumber(context.Background())
		if err != nil || n != 100 {
			t.Fatalf("expected 100 from primary, got %d (%v)", n, err)
		}
	}
	if backup.count() != 0 {
		t.Errorf("backup should be idle, got %d calls", backup.count())
	}
}

func TestClientPool_FailsOverOnEndpointFailure(t *testing.T) {
	primary := &fakeBackend{blockNumber: func() (uint64, error) {
		return 0, errors.New("Post \"http://primary\": dial tcp: connection refused")
	}}
	backup := &fakeBackend{blockNumber: func() (uint64, error) { return 42, nil }}
	pool, err := NewClientPool(context.Background(), ClientPoolConfig{
		PrimaryURL: "http://primary",
		BackupURLs: []string{"http://backup"},
		Dial:       dialerFor(map[string]Backend{"http://primary": primary, "http://backup": backup}),
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	n, err := pool.BlockNumber(context.Background())
	if err != nil || n != 42 {
		t.Fatalf("expected failover to backup, got %d (%v)", n, err)
	}
	if pool.EndpointStatus()["http://primary"] {
		t.Error("primary should be marked unhealthy")
	}

	// primary is skipped until a health check revives it
	if _, err := pool.BlockNumber(context.Background()); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if primary.count() != 1 {
		t.Errorf("expected primary to be tried once, got %d", primary.count())
	}
}

func TestClientPool_RequestErrorsDoNotFailOver(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"revert", errors.New("execution reverted")},
		{"rate limited", errors.New("429 Too Many Requests")},
		{"nonce", errors.New("nonce too low")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := &fakeBackend{callFn: func(ethereum.CallMsg) ([]byte, error) { return nil, tt.err }}
			backup := &fakeBackend{}
			pool, err := NewClientPool(context.Background(), ClientPoolConfig{
				PrimaryURL: "http://primary",
				BackupURLs: []string{"http://backup"},
				Dial:       dialerFor(map[string]Backend{"http://primary": primary, "http://backup": backup}),
			})
			if err != nil {
				t.Fatalf("new pool: %v", err)
			}

			_, err = pool.CallContract(context.Background(), ethereum.CallMsg{}, nil)
			if err == nil || err.Error() != tt.err.Error() {
				t.Fatalf("expected %v, got %v", tt.err, err)
			}
			if backup.count() != 0 {
				t.Error("request errors must not fail over")
			}
			if !pool.EndpointStatus()["http://primary"] {
				t.Error("primary should stay healthy")
			}
		})
	}
}

func TestClientPool_AllEndpointsDown(t *testing.T) {
	down := func() (uint64, error) { return 0, errors.New("503 Service Unavailable") }
	pool, err := NewClientPool(context.Background(), ClientPoolConfig{
		PrimaryURL: "http://primary",
		BackupURLs: []string{"http://backup"},
		Dial: dialerFor(map[string]Backend{
			"http://primary": &fakeBackend{blockNumber: down},
			"http://backup":  &fakeBackend{blockNumber: down},
		}),
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	if _, err := pool.BlockNumber(context.Background()); err == nil {
		t.Fatal("expected error when every endpoint fails")
	}
	if _, err := pool.BlockNumber(context.Background()); !errors.Is(err, ErrNoHealthyEndpoint) {
		t.Errorf("expected ErrNoHealthyEndpoint, got %v", err)
	}
}

func TestClientPool_RateLimiterCountsCalls(t *testing.T) {
	limiter := resilience.NewRateLimiter(resilience.RateLimiterConfig{Name: "rpc", Window: time.Minute, MaxRequests: 10})
	primary := &fakeBackend{}
	pool, err := NewClientPool(context.Background(), ClientPoolConfig{
		PrimaryURL: "http://primary",
		Limiter:    limiter,
		Dial:       dialerFor(map[string]Backend{"http://primary": primary}),
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := pool.SuggestGasPrice(context.Background()); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if got := len(limiter.State().RecentRequests); got != 3 {
		t.Errorf("expected 3 recorded requests, got %d", got)
	}
}

func TestClientPool_RateLimitErrorGrowsBackoff(t *testing.T) {
	limiter := resilience.NewRateLimiter(resilience.RPCRateLimits())
	primary := &fakeBackend{blockNumber: func() (uint64, error) { return 0, errors.New("429 Too Many Requests") }}
	pool, err := NewClientPool(context.Background(), ClientPoolConfig{
		PrimaryURL: "http://primary",
		Limiter:    limiter,
		Dial:       dialerFor(map[string]Backend{"http://primary": primary}),
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	if _, err := pool.BlockNumber(context.Background()); err == nil {
		t.Fatal("expected rate limit error")
	}
	if limiter.State().Consecutive429 != 1 {
		t.Errorf("expected one recorded 429, got %d", limiter.State().Consecutive429)
	}
}

func TestClientPool_HealthCheckRevivesEndpoint(t *testing.T) {
	var mu sync.Mutex
	failing := true
	primary := &fakeBackend{blockNumber: func() (uint64, error) {
		mu.Lock()
		defer mu.Unlock()
		if failing {
			return 0, errors.New("connection reset by peer")
		}
		return 7, nil
	}}
	backup := &fakeBackend{}
	pool, err := NewClientPool(context.Background(), ClientPoolConfig{
		PrimaryURL:          "http://primary",
		BackupURLs:          []string{"http://backup"},
		HealthCheckInterval: 10 * time.Millisecond,
		Dial:                dialerFor(map[string]Backend{"http://primary": primary, "http://backup": backup}),
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	if _, err := pool.BlockNumber(context.Background()); err != nil {
		t.Fatalf("failover call: %v", err)
	}
	if pool.EndpointStatus()["http://primary"] {
		t.Fatal("primary should be unhealthy")
	}

	mu.Lock()
	failing = false
	mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = pool.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for !pool.EndpointStatus()["http://primary"] {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("primary was not revived by the health check")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	n, err := pool.BlockNumber(context.Background())
	if err != nil || n != 7 {
		t.Errorf("expected primary to serve again, got %d (%v)", n, err)
	}
}

func TestIsEndpointFailure(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ethereum.NotFound, false},
		{context.Canceled, false},
		{errors.New("execution reverted"), false},
		{errors.New("429 Too Many Requests"), false},
		{errors.New("dial tcp 127.0.0.1:8545: connection refused"), true},
		{errors.New("unexpected EOF"), true},
		{errors.New("502 Bad Gateway"), true},
	}

	for _, tt := range tests {
		if got := isEndpointFailure(tt.err); got != tt.want {
			t.Errorf("isEndpointFailure(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestClientPool_UnlimitedViewLeavesLimiterToQuotes(t *testing.T) {
	backend := &fakeBackend{callFn: func(ethereum.CallMsg) ([]byte, error) { return []byte{1}, nil }}
	limiter := resilience.NewRateLimiter(resilience.RateLimiterConfig{
		Name:        "rpc",
		Window:      time.Minute,
		MaxRequests: 3,
	})
	pool, err := NewClientPool(context.Background(), ClientPoolConfig{
		PrimaryURL: "http://primary",
		Limiter:    limiter,
		Dial:       dialerFor(map[string]Backend{"http://primary": backend}),
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	defer pool.Close()

	watcher, err := NewPairWatcher(PairWatcherConfig{
		Backend:      pool.Unlimited(),
		Factories:    []FactorySource{{DEX: "uniswap_v3", Address: testFactory}},
		PollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = watcher.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(2 * time.Second)
	for backend.count() < 20 {
		if time.Now().After(deadline) {
			t.Fatalf("watcher made only %d calls", backend.count())
		}
		time.Sleep(time.Millisecond)
	}

	// Polling has far exceeded the window budget, yet quotes still get every slot.
	for i := 0; i < 3; i++ {
		callCtx, callCancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		_, err := pool.CallContract(callCtx, ethereum.CallMsg{}, nil)
		callCancel()
		if err != nil {
			t.Fatalf("quote call %d blocked behind discovery: %v", i, err)
		}
	}

	if got := len(limiter.State().RecentRequests); got != 3 {
		t.Errorf("limiter admitted %d requests, want 3", got)
	}
}
