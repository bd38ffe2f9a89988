// Package dex describes the supported DEX routers and quotes swaps across them.
package dex

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Prosniperv2/V2.0/internal/blockchain"
	"github.com/Prosniperv2/V2.0/internal/platform/config"
)

// Direction is the side of a swap relative to WETH
type Direction int

const (
	// Buy swaps WETH for the token
	Buy Direction = iota
	// Sell swaps the token for WETH
	Sell
)

func (d Direction) String() string {
	if d == Sell {
		return "sell"
	}
	return "buy"
}

// Descriptor is an immutable description of one DEX deployment
type Descriptor struct {
	ID          string
	DisplayName string
	Router      common.Address
	Factory     *common.Address
	Priority    int // lower is tried first and wins ties
	FeeTiers    []uint32
}

// Registry holds the enabled DEXes ordered by priority
type Registry struct {
	dexes []Descriptor
	byID  map[string]int
}

// NewRegistry validates and orders descriptors by priority. Equal priorities
// keep their given order.
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("at least one DEX is required")
	}

	dexes := make([]Descriptor, len(descriptors))
	copy(dexes, descriptors)
	sort.SliceStable(dexes, func(i, j int) bool { return dexes[i].Priority < dexes[j].Priority })

	r := &Registry{dexes: dexes, byID: make(map[string]int, len(dexes))}
	for i, d := range dexes {
		if d.ID == "" {
			return nil, fmt.Errorf("DEX at position %d has no identifier", i)
		}
		if d.Router == (common.Address{}) {
			return nil, fmt.Errorf("DEX %s has no router address", d.ID)
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate DEX identifier: %s", d.ID)
		}
		r.byID[d.ID] = i
	}

	return r, nil
}

// RegistryFromPresets builds a registry from configured presets
func RegistryFromPresets(presets []config.DEXPreset) (*Registry, error) {
	descriptors := make([]Descriptor, 0, len(presets))
	for _, p := range presets {
		d := Descriptor{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			Router:      common.HexToAddress(p.Router),
			Priority:    p.Priority,
			FeeTiers:    p.FeeTiers,
		}
		if p.Factory != "" {
			factory := common.HexToAddress(p.Factory)
			d.Factory = &factory
		}
		descriptors = append(descriptors, d)
	}
	return NewRegistry(descriptors...)
}

// All returns the descriptors in priority order
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, len(r.dexes))
	copy(out, r.dexes)
	return out
}

// Get returns the descriptor registered under id
func (r *Registry) Get(id string) (Descriptor, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Descriptor{}, false
	}
	return r.dexes[i], true
}

// ByRouter returns the descriptor whose router is addr
func (r *Registry) ByRouter(addr common.Address) (Descriptor, bool) {
	for _, d := range r.dexes {
		if d.Router == addr {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Factories returns the factory contracts available for pair discovery
func (r *Registry) Factories() []blockchain.FactorySource {
	var out []blockchain.FactorySource
	for _, d := range r.dexes {
		if d.Factory != nil {
			out = append(out, blockchain.FactorySource{DEX: d.ID, Address: *d.Factory})
		}
	}
	return out
}
