package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// waitForReceipt polls for a transaction receipt at a fixed interval until
// the receipt appears, the timeout passes or ctx is canceled. Lookup errors
// (including "not found") are retried. A receipt with failed status yields
// ErrTxReverted.
func waitForReceipt(ctx context.Context, client Client, txHash common.Hash, timeout, interval, callTimeout time.Duration) (*types.Receipt, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		receipt, err := client.TransactionReceipt(callCtx, txHash)
		cancel()
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("%w: status=%d", ErrTxReverted, receipt.Status)
			}
			return receipt, nil
		}

		if !time.Now().Before(deadline) {
			return nil, ErrReceiptTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitL1 waits for an L1 transaction to be mined successfully.
func (n *Network) WaitL1(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return n.wait(ctx, LayerL1, txHash)
}

// WaitL2 waits for an L2 transaction to be mined successfully.
func (n *Network) WaitL2(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return n.wait(ctx, LayerL2, txHash)
}

func (n *Network) wait(ctx context.Context, layer Layer, txHash common.Hash) (*types.Receipt, error) {
	client, _, err := n.client(layer)
	if err != nil {
		return nil, err
	}
	receipt, err := waitForReceipt(ctx, client, txHash, n.config.ReceiptTimeout, n.config.PollInterval, n.config.RPCTimeout)
	if err != nil {
		return receipt, &TxError{Layer: layer, Hash: txHash, Err: err}
	}
	return receipt, nil
}
