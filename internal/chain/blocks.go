package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// BlockScanner reads recent L2 activity. Blocks are fetched as raw JSON so
// deposit transactions (type 0x7e) never break decoding.
type BlockScanner struct {
	client  Client
	raw     RawCaller
	timeout time.Duration
}

// NewBlockScanner creates a scanner over client and its raw RPC caller.
func NewBlockScanner(client Client, raw RawCaller, timeout time.Duration) *BlockScanner {
	return &BlockScanner{client: client, raw: raw, timeout: timeout}
}

type rawBlock struct {
	Transactions []rawTx `json:"transactions"`
}

type rawTx struct {
	From string  `json:"from"`
	To   *string `json:"to"`
}

// BlockNumber returns the current tip.
func (s *BlockScanner) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.BlockNumber(ctx)
}

// BlockParticipants returns the sender and recipient of every transaction in
// block number, as the node reported them. A missing block yields nil.
func (s *BlockScanner) BlockParticipants(ctx context.Context, number uint64) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var block *rawBlock
	if err := s.raw.CallContext(ctx, &block, "eth_getBlockByNumber", hexutil.EncodeUint64(number), true); err != nil {
		return nil, fmt.Errorf("get block %d: %w", number, err)
	}
	if block == nil {
		return nil, nil
	}

	out := make([]string, 0, 2*len(block.Transactions))
	for _, tx := range block.Transactions {
		if tx.From != "" {
			out = append(out, tx.From)
		}
		if tx.To != nil && *tx.To != "" {
			out = append(out, *tx.To)
		}
	}
	return out, nil
}

// CodeAt returns the latest bytecode at addr.
func (s *BlockScanner) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.CodeAt(ctx, addr, nil)
}
