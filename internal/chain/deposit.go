package chain

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// DepositTxType is the EIP-2718 type byte of OP-stack deposit transactions.
const DepositTxType = 0x7e

// TransactionDepositedTopic is topic0 of OptimismPortal's TransactionDeposited event.
var TransactionDepositedTopic = crypto.Keccak256Hash([]byte("TransactionDeposited(address,address,uint256,bytes)"))

// opaqueData layout: mint(32) | value(32) | gas(8) | isCreation(1) | data
const opaqueHeaderLen = 32 + 32 + 8 + 1

// depositTx mirrors the RLP field order of a deposit transaction.
type depositTx struct {
	SourceHash          common.Hash
	From                common.Address
	To                  *common.Address `rlp:"nil"`
	Mint                *big.Int        `rlp:"nil"`
	Value               *big.Int
	Gas                 uint64
	IsSystemTransaction bool
	Data                []byte
}

// DeriveL2DepositHashes returns the L2 transaction hash of every deposit
// emitted in an L1 receipt, in log order.
func DeriveL2DepositHashes(receipt *types.Receipt) ([]common.Hash, error) {
	var hashes []common.Hash
	for _, log := range receipt.Logs {
		if len(log.Topics) < 4 || log.Topics[0] != TransactionDepositedTopic {
			continue
		}
		h, err := depositHashFromLog(log)
		if err != nil {
			return nil, fmt.Errorf("log %d: %w", log.Index, err)
		}
		hashes = append(hashes, h)
	}
	if len(hashes) == 0 {
		return nil, ErrNoDepositLog
	}
	return hashes, nil
}

func depositHashFromLog(log *types.Log) (common.Hash, error) {
	if version := log.Topics[3].Big(); version.Sign() != 0 {
		return common.Hash{}, fmt.Errorf("unsupported deposit version %s", version)
	}

	opaque, err := unpackBytes(log.Data)
	if err != nil {
		return common.Hash{}, err
	}
	if len(opaque) < opaqueHeaderLen {
		return common.Hash{}, fmt.Errorf("opaque data too short: %d bytes", len(opaque))
	}

	tx := depositTx{
		SourceHash: depositSourceHash(log.BlockHash, uint64(log.Index)),
		From:       common.BytesToAddress(log.Topics[1].Bytes()),
		Mint:       new(big.Int).SetBytes(opaque[0:32]),
		Value:      new(big.Int).SetBytes(opaque[32:64]),
		Gas:        binary.BigEndian.Uint64(opaque[64:72]),
		Data:       opaque[73:],
	}
	if opaque[72] == 0 {
		to := common.BytesToAddress(log.Topics[2].Bytes())
		tx.To = &to
	}

	enc, err := rlp.EncodeToBytes(&tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode deposit: %w", err)
	}
	return crypto.Keccak256Hash([]byte{DepositTxType}, enc), nil
}

// depositSourceHash computes the user-deposit source hash:
// keccak256(bytes32(0) ++ keccak256(l1BlockHash ++ bytes32(logIndex))).
func depositSourceHash(l1BlockHash common.Hash, logIndex uint64) common.Hash {
	var index common.Hash
	binary.BigEndian.PutUint64(index[24:], logIndex)
	depositID := crypto.Keccak256Hash(l1BlockHash.Bytes(), index.Bytes())

	var domain common.Hash
	return crypto.Keccak256Hash(domain.Bytes(), depositID.Bytes())
}

// unpackBytes decodes a single ABI-encoded dynamic bytes value.
func unpackBytes(data []byte) ([]byte, error) {
	if len(data) < 64 {
		return nil, fmt.Errorf("event data too short: %d bytes", len(data))
	}
	size := uint64(len(data))
	offset := new(big.Int).SetBytes(data[0:32])
	if !offset.IsUint64() || offset.Uint64() > size-32 {
		return nil, fmt.Errorf("bad bytes offset %s", offset)
	}
	start := offset.Uint64() + 32
	length := new(big.Int).SetBytes(data[start-32 : start])
	if !length.IsUint64() || length.Uint64() > size-start {
		return nil, fmt.Errorf("bad bytes length %s", length)
	}
	return data[start : start+length.Uint64()], nil
}
