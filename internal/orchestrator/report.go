package orchestrator

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/Bidon15/popsigner/popfleet/internal/pipeline"
)

// ErrReportPersist is returned when the report file cannot be written.
var ErrReportPersist = errors.New("popfleet: failed to persist report")

// maxReportRounds bounds the per-round detail kept for endless runs. Totals
// always cover the whole run.
const maxReportRounds = 100

// Report summarizes a run.
type Report struct {
	mu sync.Mutex
	// writeMu serializes WriteFile callers.
	writeMu sync.Mutex

	RunID           string        `yaml:"run_id"`
	StartedAt       time.Time     `yaml:"started_at"`
	FinishedAt      time.Time     `yaml:"finished_at,omitempty"`
	Wallets         int           `yaml:"wallets"`
	TokensPerWallet int           `yaml:"tokens_per_wallet"`
	Totals          Totals        `yaml:"totals"`
	Rounds          []RoundReport `yaml:"rounds"`
}

// Totals counts outcomes over every round.
type Totals struct {
	Rounds    int `yaml:"rounds"`
	Pipelines int `yaml:"pipelines"`
	Failed    int `yaml:"failed"`
	Deposits  int `yaml:"deposits"`
	Tokens    int `yaml:"tokens"`
	Transfers int `yaml:"transfers"`
}

// RoundReport lists the pipelines of one round.
type RoundReport struct {
	Round   int            `yaml:"round"`
	Wallets []WalletReport `yaml:"wallets"`
}

// WalletReport is one pipeline outcome.
type WalletReport struct {
	Index     int           `yaml:"index"`
	Address   string        `yaml:"address"`
	DepositL1 string        `yaml:"deposit_l1,omitempty"`
	DepositL2 string        `yaml:"deposit_l2,omitempty"`
	Tokens    []TokenReport `yaml:"tokens,omitempty"`
	Error     string        `yaml:"error,omitempty"`
	Duration  string        `yaml:"duration"`
}

// TokenReport is one deployed token.
type TokenReport struct {
	Ordinal    uint64 `yaml:"ordinal"`
	Symbol     string `yaml:"symbol"`
	Address    string `yaml:"address"`
	Tx         string `yaml:"tx"`
	Airdropped int    `yaml:"airdropped"`
}

func newReport(runID uuid.UUID, perWallet int) *Report {
	return &Report{RunID: runID.String(), TokensPerWallet: perWallet}
}

func (r *Report) start(wallets int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StartedAt = time.Now().UTC()
	r.Wallets = wallets
}

func (r *Report) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FinishedAt = time.Now().UTC()
}

func (r *Report) addRound(round int, results []pipeline.Result) {
	rr := RoundReport{Round: round + 1}
	var t Totals
	for _, res := range results {
		wr := WalletReport{
			Index:    res.WalletIndex + 1,
			Address:  res.Wallet.Hex(),
			Duration: res.Duration.Round(time.Millisecond).String(),
		}
		if res.Deposit != nil {
			wr.DepositL1 = res.Deposit.L1Hash.Hex()
			wr.DepositL2 = res.Deposit.L2Hash.Hex()
			t.Deposits++
		}
		for _, tok := range res.Tokens {
			wr.Tokens = append(wr.Tokens, TokenReport{
				Ordinal:    tok.Ordinal,
				Symbol:     tok.Symbol,
				Address:    tok.Address.Hex(),
				Tx:         tok.TxHash.Hex(),
				Airdropped: tok.Airdropped,
			})
			t.Tokens++
			t.Transfers += tok.Airdropped
		}
		if res.Err != nil {
			wr.Error = res.Err.Error()
			t.Failed++
		}
		t.Pipelines++
		rr.Wallets = append(rr.Wallets, wr)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.Totals.Rounds++
	r.Totals.Pipelines += t.Pipelines
	r.Totals.Failed += t.Failed
	r.Totals.Deposits += t.Deposits
	r.Totals.Tokens += t.Tokens
	r.Totals.Transfers += t.Transfers
	r.Rounds = append(r.Rounds, rr)
	if len(r.Rounds) > maxReportRounds {
		r.Rounds = r.Rounds[len(r.Rounds)-maxReportRounds:]
	}
}

// Summary returns a copy of the totals.
func (r *Report) Summary() Totals {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Totals
}

// Encode writes the report as YAML.
func (r *Report) Encode(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return enc.Close()
}

// WriteFile writes the report as YAML to path. The file is replaced
// atomically, so a reader never sees a partial report. Concurrent calls
// are serialized and each uses its own temp file.
func (r *Report) WriteFile(path string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	var buf bytes.Buffer
	if err := r.Encode(&buf); err != nil {
		return err
	}

	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp: %v", ErrReportPersist, err)
	}
	tmpPath := f.Name()
	if err := f.Chmod(0o644); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: chmod: %v", ErrReportPersist, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: write: %v", ErrReportPersist, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: fsync: %v", ErrReportPersist, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: close: %v", ErrReportPersist, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: rename: %v", ErrReportPersist, err)
	}
	return nil
}
