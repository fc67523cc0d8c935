package chain

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

// On-chain interfaces of the traded contracts. Only the pieces this
// indexer consumes: the swap event and the two price views.
const (
	swapABIJSON = `[
		{"anonymous":false,"inputs":[
			{"indexed":true,"internalType":"address","name":"sender","type":"address"},
			{"indexed":false,"internalType":"int256","name":"baseDelta","type":"int256"},
			{"indexed":false,"internalType":"int256","name":"quoteDelta","type":"int256"},
			{"indexed":false,"internalType":"uint256","name":"avgPrice","type":"uint256"}],
		"name":"Swap","type":"event"},
		{"inputs":[],"name":"markPrice","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
	]`

	oracleABIJSON = `[
		{"inputs":[],"name":"latestPrice","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
	]`
)

var (
	perpABI   = mustParseABI(swapABIJSON)
	oracleABI = mustParseABI(oracleABIJSON)

	// swapTopic is the keccak hash identifying Swap events.
	swapTopic = perpABI.Events["Swap"].ID
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// SwapTopic returns the event signature hash used to filter swap logs.
func SwapTopic() common.Hash {
	return swapTopic
}

// Decode errors. ErrRemovedLog marks logs un-mined by a reorg; callers
// skip them without counting a decode failure.
var (
	ErrMalformedLog = errors.New("malformed swap log")
	ErrRemovedLog   = errors.New("log removed by reorg")
)

// ParseSwapLog decodes a raw log into a SwapLog, validating topic,
// field count, and price positivity. Timestamp is left zero; the
// source resolves block time separately.
func ParseSwapLog(l types.Log) (*SwapLog, error) {
	if l.Removed {
		return nil, ErrRemovedLog
	}
	if len(l.Topics) != 2 || l.Topics[0] != swapTopic {
		return nil, fmt.Errorf("%w: unexpected topics", ErrMalformedLog)
	}

	vals, err := perpABI.Unpack("Swap", l.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLog, err)
	}
	if len(vals) != 3 {
		return nil, fmt.Errorf("%w: expected 3 data fields, got %d", ErrMalformedLog, len(vals))
	}

	baseDelta, ok1 := vals[0].(*big.Int)
	quoteDelta, ok2 := vals[1].(*big.Int)
	avgPrice, ok3 := vals[2].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("%w: unexpected field types", ErrMalformedLog)
	}
	if avgPrice.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive avgPrice", ErrMalformedLog)
	}

	sender := common.BytesToAddress(l.Topics[1].Bytes())

	return &SwapLog{
		TxHash:      l.TxHash.Hex(),
		LogIndex:    int(l.Index),
		BlockNumber: int64(l.BlockNumber),
		Contract:    l.Address.Hex(),
		Sender:      sender.Hex(),
		BaseDelta:   FromWad(baseDelta),
		QuoteDelta:  FromWad(quoteDelta),
		AvgPrice:    FromWad(avgPrice),
	}, nil
}

// FromWad converts a 10^18-scaled fixed-point integer to a decimal.
func FromWad(v *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(v, -18)
}

// SortSwapLogs orders logs by (block_number ASC, log_index ASC).
// Deterministic apply order regardless of how fetches were batched.
func SortSwapLogs(logs []*SwapLog) {
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].LogIndex < logs[j].LogIndex
	})
}
