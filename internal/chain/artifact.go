package chain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Artifact represents a compiled Solidity contract with ABI and bytecode.
type Artifact struct {
	ABI          json.RawMessage `json:"abi"`
	Bytecode     Bytecode        `json:"bytecode"`
	ContractName string          `json:"contractName,omitempty"`

	parsed abi.ABI
	code   []byte
}

// Bytecode contains the contract bytecode.
// It handles both formats:
// - Simple string: "0x608060..."
// - Object with "object" field: {"object": "0x608060..."}
type Bytecode struct {
	hex string
}

// UnmarshalJSON handles both string and object bytecode formats.
func (b *Bytecode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		b.hex = s
		return nil
	}

	var obj struct {
		Object string `json:"object"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		b.hex = obj.Object
		return nil
	}

	return fmt.Errorf("bytecode must be a string or object with 'object' field")
}

// String returns the bytecode hex string.
func (b Bytecode) String() string {
	return b.hex
}

// LoadArtifact reads and validates an artifact JSON file.
func LoadArtifact(path string) (*Artifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return ParseArtifact(raw)
}

// ParseArtifact decodes an artifact, parsing its ABI and bytecode up front.
func ParseArtifact(raw []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArtifact, err)
	}
	if len(a.ABI) == 0 {
		return nil, fmt.Errorf("%w: missing abi", ErrBadArtifact)
	}

	hex := a.Bytecode.hex
	if !strings.HasPrefix(hex, "0x") {
		hex = "0x" + hex
	}
	code, err := hexutil.Decode(hex)
	if err != nil || len(code) == 0 {
		return nil, fmt.Errorf("%w: invalid bytecode", ErrBadArtifact)
	}
	a.code = code

	parsed, err := abi.JSON(bytes.NewReader(a.ABI))
	if err != nil {
		return nil, fmt.Errorf("%w: parse ABI: %v", ErrBadArtifact, err)
	}
	a.parsed = parsed
	return &a, nil
}

// DeployData returns creation bytecode with the ABI-encoded constructor
// arguments appended.
func (a *Artifact) DeployData(args ...interface{}) ([]byte, error) {
	data := append([]byte(nil), a.code...)
	if len(args) == 0 {
		return data, nil
	}
	packed, err := a.parsed.Constructor.Inputs.Pack(args...)
	if err != nil {
		return nil, fmt.Errorf("pack constructor args: %w", err)
	}
	return append(data, packed...), nil
}

// TokenDeployData encodes the (name, symbol, decimals, supply) constructor
// of an ERC-20 artifact.
func (a *Artifact) TokenDeployData(name, symbol string, decimals uint8, supply *big.Int) ([]byte, error) {
	return a.DeployData(name, symbol, decimals, supply)
}

const bridgeABIJSON = `[{"type":"function","name":"depositETHTo","stateMutability":"payable",
"inputs":[{"name":"_to","type":"address"},{"name":"_l2Gas","type":"uint32"},{"name":"_data","type":"bytes"}],"outputs":[]}]`

const erc20ABIJSON = `[
{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"type":"uint8"}]},
{"type":"function","name":"transfer","stateMutability":"nonpayable",
"inputs":[{"name":"to","type":"address"},{"name":"amt","type":"uint256"}],"outputs":[{"type":"bool"}]}]`

var (
	bridgeABI = mustParseABI(bridgeABIJSON)
	erc20ABI  = mustParseABI(erc20ABIJSON)
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// DepositETHToData encodes L1StandardBridge.depositETHTo(to, l2Gas, 0x).
func DepositETHToData(to common.Address, l2Gas uint32) ([]byte, error) {
	return bridgeABI.Pack("depositETHTo", to, l2Gas, []byte{})
}

// TransferData encodes ERC20.transfer(to, amount).
func TransferData(to common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("transfer", to, amount)
}
