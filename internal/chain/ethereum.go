package chain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"compute-perps-indexer/internal/observability"
)

// Default retry configuration for node calls.
const (
	DefaultMaxRetries    = 3
	DefaultRetryDelay    = 500 * time.Millisecond
	DefaultMaxDelay      = 10 * time.Second
	DefaultResubDelay    = 1 * time.Second
	DefaultMaxResubDelay = 30 * time.Second
)

// blockTimeCacheLimit caps the block timestamp cache. Once full the
// cache is reset; timestamps are cheap to re-fetch.
const blockTimeCacheLimit = 4096

// backend is the subset of ethclient.Client the indexer uses.
type backend interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	Close()
}

// Client implements LogSource and PriceReader against an EVM node.
// Use a ws:// or wss:// endpoint when live subscriptions are needed.
type Client struct {
	eth        backend
	oracleAddr *common.Address
	maxRetries int
	retryDelay time.Duration
	maxDelay   time.Duration
	logger     *log.Logger

	// block timestamps are immutable once mined; cache them
	blockTimes   map[int64]int64
	blockTimesMu sync.RWMutex
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithOracle sets the reference price feed contract address.
func WithOracle(address string) ClientOption {
	return func(c *Client) {
		addr := common.HexToAddress(address)
		c.oracleAddr = &addr
	}
}

// WithMaxRetries sets maximum retry attempts for node calls.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithLogger sets the client logger.
func WithLogger(l *log.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// Dial connects to an EVM node.
func Dial(ctx context.Context, endpoint string, opts ...ClientOption) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial evm node: %w", err)
	}

	c := &Client{
		eth:        eth,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		maxDelay:   DefaultMaxDelay,
		logger:     log.Default(),
		blockTimes: make(map[int64]int64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Compile-time interface checks.
var (
	_ LogSource   = (*Client)(nil)
	_ PriceReader = (*Client)(nil)
)

// withRetry runs fn with exponential backoff on transient node errors.
func (c *Client) withRetry(ctx context.Context, method string, fn func() error) error {
	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		start := time.Now()
		err := fn()
		observability.RecordRPCLatency(method, time.Since(start).Seconds())
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

// FilterSwapLogs fetches and decodes swap logs for a contract within
// [fromBlock, toBlock]. Malformed logs are logged and skipped.
func (c *Client) FilterSwapLogs(ctx context.Context, contract string, fromBlock, toBlock int64) ([]*SwapLog, error) {
	q := ethereum.FilterQuery{
		FromBlock: big.NewInt(fromBlock),
		ToBlock:   big.NewInt(toBlock),
		Addresses: []common.Address{common.HexToAddress(contract)},
		Topics:    [][]common.Hash{{swapTopic}},
	}

	var raw []types.Log
	err := c.withRetry(ctx, "eth_getLogs", func() error {
		var err error
		raw, err = c.eth.FilterLogs(ctx, q)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("filter logs [%d,%d]: %w", fromBlock, toBlock, err)
	}

	logs := make([]*SwapLog, 0, len(raw))
	for _, l := range raw {
		decoded, err := c.decodeWithTime(ctx, l)
		switch {
		case errors.Is(err, ErrRemovedLog):
			continue
		case errors.Is(err, ErrMalformedLog):
			c.logger.Printf("[chain] skipping malformed log tx=%s idx=%d: %v", l.TxHash.Hex(), l.Index, err)
			observability.RecordDecodeError()
			continue
		case err != nil:
			// A node failure, not a bad log. Fail the whole range so the
			// caller retries it later instead of losing the event.
			return nil, fmt.Errorf("decode log tx=%s idx=%d: %w", l.TxHash.Hex(), l.Index, err)
		}
		logs = append(logs, decoded)
	}
	return logs, nil
}

// BlockNumber returns the current chain head.
func (c *Client) BlockNumber(ctx context.Context) (int64, error) {
	var head uint64
	err := c.withRetry(ctx, "eth_blockNumber", func() error {
		var err error
		head, err = c.eth.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("block number: %w", err)
	}
	return int64(head), nil
}

// SubscribeSwapLogs opens a live log subscription. Dropped connections
// are resubscribed with exponential backoff; the returned channel is
// closed only when ctx is cancelled.
func (c *Client) SubscribeSwapLogs(ctx context.Context, contract string) (<-chan *SwapLog, error) {
	q := ethereum.FilterQuery{
		Addresses: []common.Address{common.HexToAddress(contract)},
		Topics:    [][]common.Hash{{swapTopic}},
	}

	raw := make(chan types.Log, 256)
	sub, err := c.eth.SubscribeFilterLogs(ctx, q, raw)
	if err != nil {
		return nil, fmt.Errorf("subscribe logs %s: %w", contract, err)
	}

	out := make(chan *SwapLog, 256)
	go func() {
		defer close(out)
		defer func() { sub.Unsubscribe() }()

		resubDelay := DefaultResubDelay
		for {
			select {
			case <-ctx.Done():
				return

			case err := <-sub.Err():
				if ctx.Err() != nil {
					return
				}
				c.logger.Printf("[chain] subscription %s dropped: %v, resubscribing", contract, err)

				for {
					select {
					case <-ctx.Done():
						return
					case <-time.After(resubDelay):
					}
					newSub, err := c.eth.SubscribeFilterLogs(ctx, q, raw)
					if err == nil {
						sub = newSub
						resubDelay = DefaultResubDelay
						break
					}
					c.logger.Printf("[chain] resubscribe %s failed: %v", contract, err)
					resubDelay *= 2
					if resubDelay > DefaultMaxResubDelay {
						resubDelay = DefaultMaxResubDelay
					}
				}

			case l := <-raw:
				decoded, err := c.decodeWithTime(ctx, l)
				switch {
				case errors.Is(err, ErrRemovedLog):
					continue
				case errors.Is(err, ErrMalformedLog):
					c.logger.Printf("[chain] skipping malformed live log tx=%s: %v", l.TxHash.Hex(), err)
					observability.RecordDecodeError()
					continue
				case err != nil:
					// Node failure on a live log, not a bad log.
					c.logger.Printf("[chain] dropping live log tx=%s after node error: %v", l.TxHash.Hex(), err)
					observability.RecordIngestError("watcher")
					continue
				}
				select {
				case out <- decoded:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// MarkPrice reads the market contract's current mark price.
func (c *Client) MarkPrice(ctx context.Context, contract string) (decimal.Decimal, error) {
	v, err := c.callUint256(ctx, common.HexToAddress(contract), perpABI, "markPrice")
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	if v.Sign() <= 0 {
		// Zero mark price means the contract has no usable price yet.
		return decimal.Decimal{}, ErrPriceUnavailable
	}
	return FromWad(v), nil
}

// OraclePrice reads the shared reference feed.
func (c *Client) OraclePrice(ctx context.Context) (decimal.Decimal, error) {
	if c.oracleAddr == nil {
		return decimal.Decimal{}, ErrPriceUnavailable
	}
	v, err := c.callUint256(ctx, *c.oracleAddr, oracleABI, "latestPrice")
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	if v.Sign() <= 0 {
		return decimal.Decimal{}, ErrPriceUnavailable
	}
	return FromWad(v), nil
}

// callUint256 performs an eth_call of a zero-argument view returning uint256.
func (c *Client) callUint256(ctx context.Context, to common.Address, contractABI abi.ABI, method string) (*big.Int, error) {
	data, err := contractABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	var resp []byte
	err = c.withRetry(ctx, "eth_call", func() error {
		var err error
		resp, err = c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	vals, err := contractABI.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: unexpected result type", method)
	}
	return v, nil
}

// decodeWithTime decodes a raw log and resolves its block timestamp.
func (c *Client) decodeWithTime(ctx context.Context, l types.Log) (*SwapLog, error) {
	decoded, err := ParseSwapLog(l)
	if err != nil {
		return nil, err
	}
	ts, err := c.blockTime(ctx, decoded.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("resolve block time %d: %w", decoded.BlockNumber, err)
	}
	decoded.Timestamp = ts
	return decoded, nil
}

// blockTime returns block timestamp in Unix milliseconds, cached.
func (c *Client) blockTime(ctx context.Context, block int64) (int64, error) {
	c.blockTimesMu.RLock()
	ts, ok := c.blockTimes[block]
	c.blockTimesMu.RUnlock()
	if ok {
		return ts, nil
	}

	var header *types.Header
	err := c.withRetry(ctx, "eth_getBlockByNumber", func() error {
		var err error
		header, err = c.eth.HeaderByNumber(ctx, big.NewInt(block))
		return err
	})
	if err != nil {
		return 0, err
	}

	ts = int64(header.Time) * 1000
	c.blockTimesMu.Lock()
	if len(c.blockTimes) >= blockTimeCacheLimit {
		c.blockTimes = make(map[int64]int64, blockTimeCacheLimit)
	}
	c.blockTimes[block] = ts
	c.blockTimesMu.Unlock()
	return ts, nil
}
