// Package keys loads the wallet private keys driven by popfleet.
package keys

import (
	"bufio"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrNoKeys is returned when a key source yields no valid key.
var ErrNoKeys = errors.New("popfleet: no private keys found")

var keyPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// Key is one wallet's secp256k1 private key. It is immutable after parsing.
type Key struct {
	private *ecdsa.PrivateKey
	address common.Address
}

// Parse validates and decodes a 0x-prefixed 32-byte hex private key.
func Parse(s string) (Key, error) {
	s = strings.TrimSpace(s)
	if !keyPattern.MatchString(s) {
		return Key{}, fmt.Errorf("invalid private key format")
	}
	privateKey, err := crypto.HexToECDSA(s[2:])
	if err != nil {
		return Key{}, fmt.Errorf("parse private key: %w", err)
	}
	return Key{
		private: privateKey,
		address: crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// ECDSA returns the decoded private key.
func (k Key) ECDSA() *ecdsa.PrivateKey {
	return k.private
}

// Address returns the account address controlled by the key.
func (k Key) Address() common.Address {
	return k.address
}

// String identifies the key by its address so secrets never reach logs.
func (k Key) String() string {
	return "key(" + k.address.Hex() + ")"
}

// Read parses one key per line. Blank lines and lines that do not match the
// strict 0x + 64 hex format are skipped.
func Read(r io.Reader) ([]Key, error) {
	var out []Key
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !keyPattern.MatchString(line) {
			continue
		}
		k, err := Parse(line)
		if err != nil {
			// Out-of-range scalars match the pattern but are not usable keys.
			continue
		}
		out = append(out, k)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read keys: %w", err)
	}
	return out, nil
}

// LoadFile reads keys from path. A missing file and a file without any valid
// key both yield ErrNoKeys.
func LoadFile(path string) ([]Key, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w in %s", ErrNoKeys, path)
		}
		return nil, fmt.Errorf("open keys file: %w", err)
	}
	defer f.Close()

	keys, err := Read(f)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoKeys, path)
	}
	return keys, nil
}
