// Package registry holds the static list of tracked markets. The list
// is pure configuration: immutable at runtime, loaded once at startup.
package registry

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"compute-perps-indexer/internal/domain"
)

// ErrUnknownMarket is returned when a market id is not registered.
var ErrUnknownMarket = errors.New("unknown market")

// Registry is a read-only market lookup.
type Registry struct {
	markets map[string]*domain.Market
	order   []string // config order, for deterministic iteration
}

// marketFile is the YAML layout of a market registry file.
type marketFile struct {
	Markets []*domain.Market `yaml:"markets"`
}

// New builds a registry from a market list, validating uniqueness and
// addresses. Deprecated (inactive) markets are kept for historical
// queries but excluded from ListActive.
func New(markets []*domain.Market) (*Registry, error) {
	r := &Registry{markets: make(map[string]*domain.Market, len(markets))}

	for _, m := range markets {
		if m.ID == "" {
			return nil, fmt.Errorf("market with empty id: %+v", m)
		}
		if _, exists := r.markets[m.ID]; exists {
			return nil, fmt.Errorf("duplicate market id: %s", m.ID)
		}
		if !common.IsHexAddress(m.ContractAddress) {
			return nil, fmt.Errorf("market %s: invalid contract address %q", m.ID, m.ContractAddress)
		}
		if m.GenesisBlock < 0 {
			return nil, fmt.Errorf("market %s: negative genesis block", m.ID)
		}

		cp := *m
		cp.ContractAddress = common.HexToAddress(m.ContractAddress).Hex()
		r.markets[cp.ID] = &cp
		r.order = append(r.order, cp.ID)
	}

	return r, nil
}

// Load parses a YAML market file.
func Load(src io.Reader) (*Registry, error) {
	var f marketFile
	dec := yaml.NewDecoder(src)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse market registry: %w", err)
	}
	if len(f.Markets) == 0 {
		return nil, fmt.Errorf("market registry is empty")
	}
	return New(f.Markets)
}

// LoadFile parses a YAML market file from disk.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open market registry: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// ListActive returns active markets in config order. Deprecated
// markets are skipped entirely for write paths.
func (r *Registry) ListActive() []*domain.Market {
	var out []*domain.Market
	for _, id := range r.order {
		if m := r.markets[id]; m.Active {
			out = append(out, m)
		}
	}
	return out
}

// List returns all markets, active and deprecated, in config order.
func (r *Registry) List() []*domain.Market {
	out := make([]*domain.Market, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.markets[id])
	}
	return out
}

// Get returns a market by id. Deprecated markets remain queryable.
func (r *Registry) Get(id string) (*domain.Market, error) {
	m, ok := r.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, id)
	}
	return m, nil
}
