package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Bidon15/popsigner/popfleet/internal/keys"
)

// Wallet signs and submits transactions for one key on both layers.
// A Wallet must not be used from more than one goroutine: nonces are taken
// from the pending state and transactions are expected to be sequential.
type Wallet struct {
	key    keys.Key
	net    *Network
	logger *slog.Logger
}

// DepositResult holds both sides of a confirmed L1 -> L2 deposit.
type DepositResult struct {
	L1Hash common.Hash
	L2Hash common.Hash
}

// Deployment represents the result of a contract deployment.
type Deployment struct {
	TxHash          common.Hash
	ContractAddress common.Address
	GasUsed         uint64
}

// Address returns the wallet's account address.
func (w *Wallet) Address() common.Address {
	return w.key.Address()
}

// BalanceL1 returns the wallet's latest L1 balance.
func (w *Wallet) BalanceL1(ctx context.Context) (*big.Int, error) {
	client, _, err := w.net.client(LayerL1)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, w.net.config.RPCTimeout)
	defer cancel()
	return client.BalanceAt(callCtx, w.Address(), nil)
}

// SubmitDeposit sends L1StandardBridge.depositETHTo(self, l2Gas, 0x) with
// amount attached and returns the L1 transaction hash.
func (w *Wallet) SubmitDeposit(ctx context.Context, amount *big.Int, l2Gas uint32) (common.Hash, error) {
	bridge := w.net.config.L1StandardBridge
	if bridge == (common.Address{}) {
		return common.Hash{}, fmt.Errorf("no L1StandardBridge configured")
	}
	data, err := DepositETHToData(w.Address(), l2Gas)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode deposit: %w", err)
	}
	tx, err := w.send(ctx, LayerL1, &bridge, amount, data, "deposit")
	if err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

// Deposit bridges amount to the same address on L2 and waits until the
// deposit transaction is confirmed on both layers.
func (w *Wallet) Deposit(ctx context.Context, amount *big.Int, l2Gas uint32) (*DepositResult, error) {
	l1Hash, err := w.SubmitDeposit(ctx, amount, l2Gas)
	if err != nil {
		return nil, fmt.Errorf("submit deposit: %w", err)
	}

	l1Receipt, err := w.net.WaitL1(ctx, l1Hash)
	if err != nil {
		return nil, fmt.Errorf("wait for L1 receipt: %w", err)
	}

	l2Hashes, err := DeriveL2DepositHashes(l1Receipt)
	if err != nil {
		return nil, fmt.Errorf("derive L2 hash: %w", err)
	}
	l2Hash := l2Hashes[0]

	w.logger.Info("deposit confirmed on L1",
		slog.String("l1Hash", l1Hash.Hex()),
		slog.String("l2Hash", l2Hash.Hex()),
	)

	if _, err := w.net.WaitL2(ctx, l2Hash); err != nil {
		return nil, fmt.Errorf("wait for L2 receipt: %w", err)
	}

	return &DepositResult{L1Hash: l1Hash, L2Hash: l2Hash}, nil
}

// DeployContract deploys creation code on L2 and waits for the receipt.
func (w *Wallet) DeployContract(ctx context.Context, data []byte, description string) (*Deployment, error) {
	tx, err := w.send(ctx, LayerL2, nil, big.NewInt(0), data, description)
	if err != nil {
		return nil, err
	}

	receipt, err := w.net.WaitL2(ctx, tx.Hash())
	if err != nil {
		return nil, fmt.Errorf("wait for receipt: %w", err)
	}

	w.logger.Info("contract deployed",
		slog.String("description", description),
		slog.String("contractAddress", receipt.ContractAddress.Hex()),
		slog.Uint64("gasUsed", receipt.GasUsed),
		slog.String("txHash", tx.Hash().Hex()),
	)

	return &Deployment{
		TxHash:          tx.Hash(),
		ContractAddress: receipt.ContractAddress,
		GasUsed:         receipt.GasUsed,
	}, nil
}

// SubmitTokenTransfer sends ERC20.transfer(to, amount) on L2 without waiting.
func (w *Wallet) SubmitTokenTransfer(ctx context.Context, token, to common.Address, amount *big.Int) (common.Hash, error) {
	data, err := TransferData(to, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode transfer: %w", err)
	}
	tx, err := w.send(ctx, LayerL2, &token, big.NewInt(0), data, "transfer")
	if err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

// SendETH sends a plain value transfer on L2 without waiting.
func (w *Wallet) SendETH(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error) {
	tx, err := w.send(ctx, LayerL2, &to, amount, nil, "send")
	if err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

// WaitL2 waits for an L2 transaction sent by this wallet.
func (w *Wallet) WaitL2(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return w.net.WaitL2(ctx, txHash)
}

// send builds, signs and broadcasts an EIP-1559 transaction.
func (w *Wallet) send(ctx context.Context, layer Layer, to *common.Address, value *big.Int, data []byte, description string) (*types.Transaction, error) {
	client, chainID, err := w.net.client(layer)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, w.net.config.RPCTimeout)
	defer cancel()

	from := w.Address()

	// Get nonce
	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}

	// Get gas price (use EIP-1559 if available)
	gasTipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		gasPrice, priceErr := client.SuggestGasPrice(ctx)
		if priceErr != nil {
			return nil, fmt.Errorf("get gas price: %w", priceErr)
		}
		gasTipCap = gasPrice
	}

	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("get block header: %w", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}

	// Calculate max fee (base fee * 2 + tip)
	gasFeeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	gasFeeCap.Add(gasFeeCap, gasTipCap)

	estimatedGas, err := client.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    to,
		Data:  data,
		Value: value,
	})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}

	// Add 20% buffer to gas estimate
	gas := estimatedGas + (estimatedGas / 5)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gas,
		To:        to,
		Value:     value,
		Data:      data,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), w.key.ECDSA())
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	if err := client.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("send transaction: %w", err)
	}

	w.logger.Debug("transaction sent",
		slog.String("layer", layer.String()),
		slog.String("description", description),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas", gas),
		slog.String("txHash", signedTx.Hash().Hex()),
	)

	return signedTx, nil
}
