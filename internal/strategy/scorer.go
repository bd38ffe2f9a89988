// Package strategy decides which discovered tokens to buy, sizes the trades,
// tracks open positions and exits them on profit, loss or age.
package strategy

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/Prosniperv2/V2.0/internal/discovery"
)

// MaxScore is the ceiling for any candidate score
const MaxScore = 100

// Scorer rates a candidate from 0 to MaxScore
type Scorer interface {
	Score(ctx context.Context, c discovery.Candidate) (float64, error)
}

// ScorerFunc adapts a function to Scorer
type ScorerFunc func(ctx context.Context, c discovery.Candidate) (float64, error)

// Score calls f
func (f ScorerFunc) Score(ctx context.Context, c discovery.Candidate) (float64, error) {
	return f(ctx, c)
}

// RandomScorer is a placeholder that draws a uniform score. It stands in
// until a real token analysis is plugged in.
type RandomScorer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomScorer creates a RandomScorer. A zero seed draws from the global source.
func NewRandomScorer(seed uint64) *RandomScorer {
	s := &RandomScorer{}
	if seed != 0 {
		s.rng = rand.New(rand.NewPCG(seed, seed))
	}
	return s
}

// Score returns a random score in [0, MaxScore]
func (s *RandomScorer) Score(context.Context, discovery.Candidate) (float64, error) {
	if s.rng == nil {
		return float64(rand.IntN(MaxScore + 1)), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(s.rng.IntN(MaxScore + 1)), nil
}
