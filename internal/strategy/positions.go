package strategy

import (
	"errors"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrBookFull is returned when every position slot is taken
	ErrBookFull = errors.New("position book full")
	// ErrTokenHeld is returned when the token already has a position or a pending buy
	ErrTokenHeld = errors.New("token already held")
)

// Position is an open holding bought with WETH
type Position struct {
	ID       string           `json:"id"`
	Token    common.Address   `json:"token"`
	Symbol   string           `json:"symbol"`
	DEX      string           `json:"dex"`
	Router   common.Address   `json:"router"`
	Path     []common.Address `json:"path,omitempty"`
	Spent    *big.Int         `json:"spent"` // WETH in wei
	BuyTx    common.Hash      `json:"buy_tx"`
	OpenedAt time.Time        `json:"opened_at"`
	// LastPnL is the most recent quoted profit in percent
	LastPnL float64 `json:"last_pnl"`
}

// Age returns how long the position has been held at now
func (p Position) Age(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

// Book tracks open positions. A slot is reserved before a buy is sent and
// either filled with a position or released.
type Book struct {
	slots *semaphore.Weighted
	max   int

	mu        sync.RWMutex
	reserved  map[common.Address]struct{}
	positions map[common.Address]*Position
}

// NewBook creates a book holding at most max positions
func NewBook(max int) *Book {
	if max <= 0 {
		max = 8
	}
	return &Book{
		slots:     semaphore.NewWeighted(int64(max)),
		max:       max,
		reserved:  make(map[common.Address]struct{}),
		positions: make(map[common.Address]*Position),
	}
}

// Reserve claims a slot for token
func (b *Book) Reserve(token common.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.positions[token]; ok {
		return ErrTokenHeld
	}
	if _, ok := b.reserved[token]; ok {
		return ErrTokenHeld
	}
	if !b.slots.TryAcquire(1) {
		return ErrBookFull
	}
	b.reserved[token] = struct{}{}
	return nil
}

// Release gives back a reservation that did not become a position
func (b *Book) Release(token common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.reserved[token]; !ok {
		return
	}
	delete(b.reserved, token)
	b.slots.Release(1)
}

// Open turns the reservation for p.Token into a position
func (b *Book) Open(p Position) *Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.reserved[p.Token]; ok {
		delete(b.reserved, p.Token)
	} else if !b.slots.TryAcquire(1) {
		return nil
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	pos := p
	b.positions[p.Token] = &pos
	return &pos
}

// Close removes the position for token and frees its slot
func (b *Book) Close(token common.Address) (Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[token]
	if !ok {
		return Position{}, false
	}
	delete(b.positions, token)
	b.slots.Release(1)
	return *p, true
}

// Get returns the position for token
func (b *Book) Get(token common.Address) (Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[token]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// SetPnL records the latest quoted profit for token
func (b *Book) SetPnL(token common.Address, pnl float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.positions[token]; ok {
		p.LastPnL = pnl
	}
}

// Positions returns a snapshot ordered by opening time
func (b *Book) Positions() []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// Len returns the number of open positions
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}

// Max returns the slot count
func (b *Book) Max() int { return b.max }

// Stale removes and returns positions held longer than maxAge
func (b *Book) Stale(now time.Time, maxAge time.Duration) []Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Position
	for token, p := range b.positions {
		if p.Age(now) > maxAge {
			out = append(out, *p)
			delete(b.positions, token)
			b.slots.Release(1)
		}
	}
	return out
}
