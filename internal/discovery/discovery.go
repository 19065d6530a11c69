// Package discovery samples airdrop recipients from recent L2 activity.
//
// Full-history indexing is not available, so recipients are drawn from the
// senders and receivers of a bounded window of recent blocks. The scan stops
// early once the candidate pool is large enough, and bytecode classification
// stops once enough externally-owned accounts have been found. Both bounds
// cap the number of RPC calls per airdrop.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/Bidon15/popsigner/popfleet/internal/metrics"
)

const (
	// poolFactor stops the block walk once the candidate pool exceeds want*poolFactor.
	poolFactor = 8
	// eoaFactor stops classification once want*eoaFactor EOAs are found.
	eoaFactor = 2
	// scanBurst is the limiter burst for block reads.
	scanBurst = 50
)

// BlockReader is the chain access discovery needs.
type BlockReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockParticipants(ctx context.Context, number uint64) ([]string, error)
	CodeAt(ctx context.Context, addr common.Address) ([]byte, error)
}

// Config contains configuration for Discovery.
type Config struct {
	// Logger for structured logging
	Logger *slog.Logger

	// LookbackBlocks and MaxScan both bound the backward walk from the tip.
	LookbackBlocks uint64
	MaxScan        uint64

	// StrictEOA returns nothing instead of falling back to the raw pool
	// when no EOA is found.
	StrictEOA bool

	// Blocklist holds lower-case address prefixes that are never returned.
	Blocklist []string

	// ScanRate limits block reads per second. Zero means unlimited.
	ScanRate float64

	// Rand drives sampling. Defaults to an unseeded source.
	Rand *rand.Rand
}

// Discovery finds recipient addresses. It is safe for concurrent use.
type Discovery struct {
	reader  BlockReader
	config  Config
	limiter *rate.Limiter
	logger  *slog.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

// New creates a Discovery over reader.
func New(reader BlockReader, cfg Config) *Discovery {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	limit := rate.Inf
	if cfg.ScanRate > 0 {
		limit = rate.Limit(cfg.ScanRate)
	}

	blocklist := make([]string, 0, len(cfg.Blocklist))
	for _, p := range cfg.Blocklist {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			blocklist = append(blocklist, p)
		}
	}
	cfg.Blocklist = blocklist

	return &Discovery{
		reader:  reader,
		config:  cfg,
		limiter: rate.NewLimiter(limit, scanBurst),
		logger:  cfg.Logger,
		rnd:     rnd,
	}
}

// Discover returns up to want distinct addresses, preferring accounts
// without bytecode. A shortfall is not an error.
func (d *Discovery) Discover(ctx context.Context, want int) ([]common.Address, error) {
	if want <= 0 {
		return nil, nil
	}

	candidates, scanned, err := d.scan(ctx, want)
	if err != nil {
		return nil, err
	}
	metrics.BlocksScanned(scanned)

	pool := d.filter(candidates)
	eoas := d.classify(ctx, pool, want)

	d.logger.Debug("discovery scan complete",
		slog.Int("blocks", scanned),
		slog.Int("candidates", len(candidates)),
		slog.Int("filtered", len(pool)),
		slog.Int("eoas", len(eoas)),
	)

	if len(eoas) == 0 {
		if d.config.StrictEOA {
			return nil, nil
		}
		picked := d.sample(pool, want)
		metrics.RecipientsSampled("raw", len(picked))
		return picked, nil
	}

	picked := d.sample(eoas, want)
	metrics.RecipientsSampled("eoa", len(picked))
	return picked, nil
}

// scan walks backward from the tip collecting transaction participants in
// first-seen order, deduplicated case-insensitively.
func (d *Discovery) scan(ctx context.Context, want int) ([]string, int, error) {
	tip, err := d.reader.BlockNumber(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("get block number: %w", err)
	}

	seen := make(map[string]struct{})
	var candidates []string
	scanned := 0

	for i := uint64(0); i < d.config.MaxScan; i++ {
		if i >= d.config.LookbackBlocks || i >= tip {
			break
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, scanned, err
		}

		number := tip - i
		participants, err := d.reader.BlockParticipants(ctx, number)
		if err != nil {
			return nil, scanned, err
		}
		scanned++

		for _, p := range participants {
			key := strings.ToLower(p)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			candidates = append(candidates, p)
		}

		if len(candidates) > want*poolFactor {
			break
		}
	}
	return candidates, scanned, nil
}

// filter keeps syntactically valid addresses outside the blocklist.
func (d *Discovery) filter(candidates []string) []common.Address {
	out := make([]common.Address, 0, len(candidates))
	for _, c := range candidates {
		if !isAddress(c) || d.blocked(c) {
			continue
		}
		out = append(out, common.HexToAddress(c))
	}
	return out
}

func isAddress(s string) bool {
	return len(s) == 2+2*common.AddressLength && strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

// blocked reports whether addr matches a blocklist prefix, case-insensitively.
func (d *Discovery) blocked(addr string) bool {
	lower := strings.ToLower(addr)
	for _, p := range d.config.Blocklist {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// classify returns pool members without bytecode, in pool order. Lookup
// errors skip the candidate.
func (d *Discovery) classify(ctx context.Context, pool []common.Address, want int) []common.Address {
	var eoas []common.Address
	for _, addr := range pool {
		if ctx.Err() != nil {
			break
		}
		code, err := d.reader.CodeAt(ctx, addr)
		if err != nil {
			d.logger.Debug("code lookup failed", slog.String("address", addr.Hex()), slog.Any("error", err))
		} else if len(code) == 0 {
			eoas = append(eoas, addr)
		}
		if len(eoas) >= want*eoaFactor {
			break
		}
	}
	return eoas
}

// sample draws up to n distinct elements uniformly without replacement.
func (d *Discovery) sample(list []common.Address, n int) []common.Address {
	pool := append([]common.Address(nil), list...)
	if n > len(pool) {
		n = len(pool)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < n; i++ {
		j := i + d.rnd.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:n]
}
