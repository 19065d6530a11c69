package discovery

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader serves blocks and bytecode from in-memory maps.
type fakeReader struct {
	mu        sync.Mutex
	tip       uint64
	blocks    map[uint64][]string
	contracts map[common.Address]bool
	codeErr   map[common.Address]bool
	blockErr  error

	blockReads []uint64
	codeReads  int
}

func (f *fakeReader) BlockNumber(context.Context) (uint64, error) {
	return f.tip, nil
}

func (f *fakeReader) BlockParticipants(_ context.Context, number uint64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blockErr != nil {
		return nil, f.blockErr
	}
	f.blockReads = append(f.blockReads, number)
	return f.blocks[number], nil
}

func (f *fakeReader) CodeAt(_ context.Context, addr common.Address) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codeReads++
	if f.codeErr[addr] {
		return nil, errors.New("code lookup failed")
	}
	if f.contracts[addr] {
		return []byte{0x60, 0x80}, nil
	}
	return nil, nil
}

func addr(i int) string {
	return fmt.Sprintf("0x%040x", 0x1000+i)
}

func newTestDiscovery(r BlockReader, strict bool, blocklist ...string) *Discovery {
	return New(r, Config{
		LookbackBlocks: 2000,
		MaxScan:        600,
		StrictEOA:      strict,
		Blocklist:      blocklist,
		Rand:           rand.New(rand.NewPCG(1, 2)),
	})
}

func TestDiscoverReturnsOnlyFoundEOAs(t *testing.T) {
	// 3 EOAs among contracts: a request for 5 yields exactly 3, not padded.
	r := &fakeReader{
		tip: 10,
		blocks: map[uint64][]string{
			10: {addr(1), addr(100)},
			9:  {addr(2), addr(101)},
			8:  {addr(3), addr(102)},
		},
		contracts: map[common.Address]bool{
			common.HexToAddress(addr(100)): true,
			common.HexToAddress(addr(101)): true,
			common.HexToAddress(addr(102)): true,
		},
	}
	d := newTestDiscovery(r, false)

	got, err := d.Discover(context.Background(), 5)
	require.NoError(t, err)
	assert.ElementsMatch(t, []common.Address{
		common.HexToAddress(addr(1)),
		common.HexToAddress(addr(2)),
		common.HexToAddress(addr(3)),
	}, got)
}

func TestDiscoverBlocklist(t *testing.T) {
	r := &fakeReader{
		tip: 3,
		blocks: map[uint64][]string{
			3: {"0x0000000000000000000000000000000000000000", "0xDEADdead00000000000000000000000000000001"},
			2: {"0x4200000000000000000000000000000000000015", addr(7)},
			1: {"0x000000000000000000000000000000000000dEaD", addr(8)},
		},
	}
	d := newTestDiscovery(r, false,
		"0x0000000000000000000000000000000000000000",
		"0x000000000000000000000000000000000000DEAD",
		"0xdeaddead",
		"0x420000",
	)

	got, err := d.Discover(context.Background(), 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []common.Address{
		common.HexToAddress(addr(7)),
		common.HexToAddress(addr(8)),
	}, got)
	for _, a := range got {
		lower := strings.ToLower(a.Hex())
		assert.False(t, strings.HasPrefix(lower, "0xdeaddead"))
		assert.False(t, strings.HasPrefix(lower, "0x420000"))
	}
}

func TestDiscoverStrictMode(t *testing.T) {
	contracts := map[common.Address]bool{}
	var participants []string
	for i := 0; i < 6; i++ {
		participants = append(participants, addr(i))
		contracts[common.HexToAddress(addr(i))] = true
	}
	r := &fakeReader{tip: 1, blocks: map[uint64][]string{1: participants}, contracts: contracts}

	t.Run("strict returns nothing", func(t *testing.T) {
		got, err := newTestDiscovery(r, true).Discover(context.Background(), 3)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("lenient falls back to raw pool", func(t *testing.T) {
		got, err := newTestDiscovery(r, false).Discover(context.Background(), 3)
		require.NoError(t, err)
		assert.Len(t, got, 3)
		for _, a := range got {
			assert.True(t, contracts[a])
		}
	})
}

func TestDiscoverStrictNeverReturnsContracts(t *testing.T) {
	blocks := map[uint64][]string{}
	contracts := map[common.Address]bool{}
	for b := uint64(1); b <= 20; b++ {
		for j := 0; j < 3; j++ {
			a := addr(int(b)*10 + j)
			blocks[b] = append(blocks[b], a)
			if j == 0 {
				contracts[common.HexToAddress(a)] = true
			}
		}
	}
	r := &fakeReader{tip: 20, blocks: blocks, contracts: contracts}

	got, err := newTestDiscovery(r, true).Discover(context.Background(), 4)
	require.NoError(t, err)
	assert.Len(t, got, 4)
	for _, a := range got {
		assert.False(t, contracts[a], "strict mode returned contract %s", a.Hex())
	}
}

func TestDiscoverNoDuplicates(t *testing.T) {
	blocks := map[uint64][]string{}
	for b := uint64(1); b <= 10; b++ {
		// Same accounts repeat across blocks in mixed case.
		blocks[b] = []string{addr(1), strings.ToUpper(addr(1)[2:]), addr(2), addr(int(b) + 10)}
		blocks[b][1] = "0x" + blocks[b][1]
	}
	r := &fakeReader{tip: 10, blocks: blocks}

	for seed := uint64(0); seed < 20; seed++ {
		d := New(r, Config{LookbackBlocks: 100, MaxScan: 100, Rand: rand.New(rand.NewPCG(seed, seed))})
		got, err := d.Discover(context.Background(), 5)
		require.NoError(t, err)

		seen := map[common.Address]bool{}
		for _, a := range got {
			assert.False(t, seen[a], "duplicate %s", a.Hex())
			seen[a] = true
		}
		assert.Len(t, got, 5)
	}
}

func TestDiscoverScanBounds(t *testing.T) {
	full := func(n uint64) map[uint64][]string {
		blocks := map[uint64][]string{}
		for b := uint64(1); b <= n; b++ {
			blocks[b] = []string{addr(int(b))}
		}
		return blocks
	}

	t.Run("early exit above 8x want", func(t *testing.T) {
		r := &fakeReader{tip: 100, blocks: full(100)}
		_, err := newTestDiscovery(r, false).Discover(context.Background(), 2)
		require.NoError(t, err)
		// one new candidate per block: stops when the pool reaches 17
		assert.Len(t, r.blockReads, 17)
		assert.Equal(t, uint64(100), r.blockReads[0])
	})

	t.Run("lookback limit", func(t *testing.T) {
		r := &fakeReader{tip: 100, blocks: full(100)}
		d := New(r, Config{LookbackBlocks: 5, MaxScan: 600})
		_, err := d.Discover(context.Background(), 50)
		require.NoError(t, err)
		assert.Equal(t, []uint64{100, 99, 98, 97, 96}, r.blockReads)
	})

	t.Run("max scan limit", func(t *testing.T) {
		r := &fakeReader{tip: 100, blocks: full(100)}
		d := New(r, Config{LookbackBlocks: 2000, MaxScan: 3})
		_, err := d.Discover(context.Background(), 50)
		require.NoError(t, err)
		assert.Len(t, r.blockReads, 3)
	})

	t.Run("stops at block 1", func(t *testing.T) {
		r := &fakeReader{tip: 4, blocks: full(4)}
		_, err := newTestDiscovery(r, false).Discover(context.Background(), 50)
		require.NoError(t, err)
		assert.Equal(t, []uint64{4, 3, 2, 1}, r.blockReads)
	})

	t.Run("classification stops at 2x want", func(t *testing.T) {
		r := &fakeReader{tip: 1, blocks: map[uint64][]string{1: {}}}
		for i := 0; i < 30; i++ {
			r.blocks[1] = append(r.blocks[1], addr(i))
		}
		_, err := newTestDiscovery(r, false).Discover(context.Background(), 4)
		require.NoError(t, err)
		assert.Equal(t, 8, r.codeReads)
	})
}

func TestDiscoverCodeErrorsSkipCandidate(t *testing.T) {
	bad := common.HexToAddress(addr(1))
	r := &fakeReader{
		tip:     1,
		blocks:  map[uint64][]string{1: {addr(1), addr(2)}},
		codeErr: map[common.Address]bool{bad: true},
	}
	got, err := newTestDiscovery(r, true).Discover(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{common.HexToAddress(addr(2))}, got)
}

func TestDiscoverInvalidAddresses(t *testing.T) {
	r := &fakeReader{
		tip:    1,
		blocks: map[uint64][]string{1: {"0x1234", "not-an-address", addr(3)}},
	}
	got, err := newTestDiscovery(r, false).Discover(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{common.HexToAddress(addr(3))}, got)
}

func TestDiscoverErrors(t *testing.T) {
	t.Run("zero want", func(t *testing.T) {
		r := &fakeReader{tip: 10}
		got, err := newTestDiscovery(r, false).Discover(context.Background(), 0)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Empty(t, r.blockReads)
	})

	t.Run("block read error", func(t *testing.T) {
		r := &fakeReader{tip: 10, blockErr: errors.New("rpc down")}
		_, err := newTestDiscovery(r, false).Discover(context.Background(), 3)
		assert.Error(t, err)
	})

	t.Run("canceled context", func(t *testing.T) {
		r := &fakeReader{tip: 10, blocks: map[uint64][]string{}}
		d := New(r, Config{LookbackBlocks: 100, MaxScan: 100, ScanRate: 0.001})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := d.Discover(ctx, 3)
		assert.Error(t, err)
	})
}
