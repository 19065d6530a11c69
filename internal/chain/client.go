// Package chain is popfleet's boundary to the L1 and OP-stack L2 networks:
// transaction submission, dual-layer receipts, deposit hash derivation,
// contract artifacts and raw block reads.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Layer names one side of the bridge.
type Layer string

const (
	LayerL1 Layer = "L1"
	LayerL2 Layer = "L2"
)

// String returns the layer name.
func (l Layer) String() string {
	return string(l)
}

// Client defines the Ethereum JSON-RPC operations popfleet needs on either layer.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	Close()
}

// RawCaller issues JSON-RPC calls whose results are decoded by the caller.
type RawCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// Ensure ethclient.Client implements Client.
var _ Client = (*ethclient.Client)(nil)
