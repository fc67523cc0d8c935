// Package stub provides scripted chain sources for tests.
package stub

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"compute-perps-indexer/internal/chain"
)

// Source is a scripted chain.LogSource + chain.PriceReader. Historical
// logs, head, and prices are set by tests; live logs are pushed with Emit.
type Source struct {
	mu sync.Mutex

	head       int64
	logs       map[string][]*chain.SwapLog // keyed by contract address
	markPrices map[string]decimal.Decimal
	oracle     *decimal.Decimal

	// error injection
	FilterErr    error
	HeadErr      error
	SubscribeErr error
	MarkPriceErr map[string]error

	subs []*subscription

	// FilterCalls records (contract, from, to) of every FilterSwapLogs
	// call, so tests can assert resume ranges.
	FilterCalls []FilterCall
}

// FilterCall is one recorded FilterSwapLogs invocation. LiveSubs is
// the number of open subscriptions at call time.
type FilterCall struct {
	Contract string
	From, To int64
	LiveSubs int
}

type subscription struct {
	contract string
	ch       chan *chain.SwapLog
}

// NewSource creates an empty scripted source.
func NewSource() *Source {
	return &Source{
		logs:         make(map[string][]*chain.SwapLog),
		markPrices:   make(map[string]decimal.Decimal),
		MarkPriceErr: make(map[string]error),
	}
}

// SetHead sets the current chain head.
func (s *Source) SetHead(block int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head = block
}

// AddLogs appends historical logs for a contract.
func (s *Source) AddLogs(contract string, logs ...*chain.SwapLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[contract] = append(s.logs[contract], logs...)
}

// SetMarkPrice sets the mark price returned for a contract.
func (s *Source) SetMarkPrice(contract string, p decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markPrices[contract] = p
}

// SetOraclePrice sets the reference price. Pass nil to make it unavailable.
func (s *Source) SetOraclePrice(p *decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oracle = p
}

// Emit delivers a live log to every open subscription for its contract.
// Emits to a cancelled subscription are dropped.
func (s *Source) Emit(l *chain.SwapLog) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		if sub.contract != l.Contract {
			continue
		}
		select {
		case sub.ch <- l:
		default:
		}
	}
}

// FilterSwapLogs returns scripted logs within [fromBlock, toBlock].
func (s *Source) FilterSwapLogs(_ context.Context, contract string, fromBlock, toBlock int64) ([]*chain.SwapLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.FilterCalls = append(s.FilterCalls, FilterCall{Contract: contract, From: fromBlock, To: toBlock, LiveSubs: len(s.subs)})
	if s.FilterErr != nil {
		return nil, s.FilterErr
	}

	var out []*chain.SwapLog
	for _, l := range s.logs[contract] {
		if l.BlockNumber >= fromBlock && l.BlockNumber <= toBlock {
			out = append(out, l)
		}
	}
	return out, nil
}

// BlockNumber returns the scripted head.
func (s *Source) BlockNumber(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.HeadErr != nil {
		return 0, s.HeadErr
	}
	return s.head, nil
}

// SubscribeSwapLogs opens a scripted subscription fed by Emit.
func (s *Source) SubscribeSwapLogs(ctx context.Context, contract string) (<-chan *chain.SwapLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SubscribeErr != nil {
		return nil, s.SubscribeErr
	}

	sub := &subscription{
		contract: contract,
		ch:       make(chan *chain.SwapLog, 64),
	}
	s.subs = append(s.subs, sub)

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, cur := range s.subs {
			if cur == sub {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
		close(sub.ch)
	}()

	return sub.ch, nil
}

// MarkPrice returns the scripted mark price for a contract.
func (s *Source) MarkPrice(_ context.Context, contract string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.MarkPriceErr[contract]; err != nil {
		return decimal.Decimal{}, err
	}
	p, ok := s.markPrices[contract]
	if !ok {
		return decimal.Decimal{}, chain.ErrPriceUnavailable
	}
	return p, nil
}

// OraclePrice returns the scripted reference price.
func (s *Source) OraclePrice(_ context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.oracle == nil {
		return decimal.Decimal{}, chain.ErrPriceUnavailable
	}
	return *s.oracle, nil
}

// Compile-time interface checks.
var (
	_ chain.LogSource   = (*Source)(nil)
	_ chain.PriceReader = (*Source)(nil)
)
