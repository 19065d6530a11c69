package chain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Sentinel errors - Chain
var (
	ErrReceiptTimeout = errors.New("popfleet: timeout waiting for transaction receipt")
	ErrTxReverted     = errors.New("popfleet: transaction reverted")
	ErrNoDepositLog   = errors.New("popfleet: no TransactionDeposited log in receipt")
	ErrNoL1Client     = errors.New("popfleet: no L1 client configured")
	ErrBadArtifact    = errors.New("popfleet: malformed contract artifact")
)

// TxError ties a failure to the layer and transaction that caused it.
type TxError struct {
	Layer Layer
	Hash  common.Hash
	Err   error
}

// Error implements the error interface.
func (e *TxError) Error() string {
	return fmt.Sprintf("%s tx %s: %v", e.Layer, e.Hash.Hex(), e.Err)
}

// Unwrap implements the errors.Unwrap interface for error chaining.
func (e *TxError) Unwrap() error {
	return e.Err
}
