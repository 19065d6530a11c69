package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/Bidon15/popsigner/popfleet/internal/keys"
)

// Config contains configuration for a Network.
type Config struct {
	// Logger for structured logging
	Logger *slog.Logger

	L1RPC string
	L2RPC string

	// L1StandardBridge is the bridge used for deposits. Zero disables deposits.
	L1StandardBridge common.Address

	// RPCTimeout bounds every non-receipt RPC interaction.
	RPCTimeout time.Duration

	// ReceiptTimeout and PollInterval control confirmation waits.
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = 30 * time.Second
	}
	if c.ReceiptTimeout <= 0 {
		c.ReceiptTimeout = 10 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
}

// Network holds the L1 and L2 connections shared by every wallet.
type Network struct {
	l1        Client
	l2        Client
	l2Raw     RawCaller
	l1ChainID *big.Int
	l2ChainID *big.Int
	config    Config
	logger    *slog.Logger
}

// Dial connects to the configured endpoints. An empty L1RPC yields an
// L2-only network on which deposits fail with ErrNoL1Client.
func Dial(ctx context.Context, cfg Config) (*Network, error) {
	cfg.setDefaults()

	dialCtx, cancel := context.WithTimeout(ctx, cfg.RPCTimeout)
	defer cancel()

	l2rpc, err := rpc.DialContext(dialCtx, cfg.L2RPC)
	if err != nil {
		return nil, fmt.Errorf("dial L2: %w", err)
	}
	l2 := ethclient.NewClient(l2rpc)

	var l1 Client
	if cfg.L1RPC != "" {
		c, err := ethclient.DialContext(dialCtx, cfg.L1RPC)
		if err != nil {
			l2.Close()
			return nil, fmt.Errorf("dial L1: %w", err)
		}
		l1 = c
	}

	n, err := NewNetwork(ctx, l1, l2, l2rpc, cfg)
	if err != nil {
		l2.Close()
		if l1 != nil {
			l1.Close()
		}
		return nil, err
	}
	return n, nil
}

// NewNetwork builds a Network over existing clients and caches both chain IDs.
// l1 may be nil.
func NewNetwork(ctx context.Context, l1, l2 Client, l2Raw RawCaller, cfg Config) (*Network, error) {
	cfg.setDefaults()

	n := &Network{
		l1:     l1,
		l2:     l2,
		l2Raw:  l2Raw,
		config: cfg,
		logger: cfg.Logger,
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.RPCTimeout)
	defer cancel()

	id, err := l2.ChainID(callCtx)
	if err != nil {
		return nil, fmt.Errorf("get L2 chain ID: %w", err)
	}
	n.l2ChainID = id

	if l1 != nil {
		id, err := l1.ChainID(callCtx)
		if err != nil {
			return nil, fmt.Errorf("get L1 chain ID: %w", err)
		}
		n.l1ChainID = id
	}

	n.logger.Debug("network ready",
		slog.String("l2ChainID", n.l2ChainID.String()),
		slog.Bool("l1", l1 != nil),
	)
	return n, nil
}

// L1ChainID returns the cached L1 chain ID, or nil without an L1 client.
func (n *Network) L1ChainID() *big.Int {
	return n.l1ChainID
}

// L2ChainID returns the cached L2 chain ID.
func (n *Network) L2ChainID() *big.Int {
	return n.l2ChainID
}

// Scanner returns a block reader over the L2 endpoint.
func (n *Network) Scanner() *BlockScanner {
	return NewBlockScanner(n.l2, n.l2Raw, n.config.RPCTimeout)
}

// Wallet binds a key to this network.
func (n *Network) Wallet(key keys.Key) *Wallet {
	return &Wallet{
		key:    key,
		net:    n,
		logger: n.logger.With(slog.String("wallet", key.Address().Hex())),
	}
}

// Close releases both connections.
func (n *Network) Close() {
	if n.l1 != nil {
		n.l1.Close()
	}
	n.l2.Close()
}

func (n *Network) client(layer Layer) (Client, *big.Int, error) {
	if layer == LayerL1 {
		if n.l1 == nil {
			return nil, nil, ErrNoL1Client
		}
		return n.l1, n.l1ChainID, nil
	}
	return n.l2, n.l2ChainID, nil
}
