package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Bidon15/popsigner/popfleet/internal/chain"
	"github.com/Bidon15/popsigner/popfleet/internal/keys"
	"github.com/Bidon15/popsigner/popfleet/internal/pipeline"
)

var testKeys = []string{
	"0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
	"0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d",
	"0x5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a",
	"0x7c852118294e51e653712a81e05800f419141751be58f605c371e15141b007a6",
	"0x47e179ec197488593b187f80a00eb0da91f1b9d0b13f8733639f19c30a34926a",
}

func loadKeys(t *testing.T, n int) []keys.Key {
	t.Helper()
	out := make([]keys.Key, n)
	for i := range out {
		k, err := keys.Parse(testKeys[i])
		require.NoError(t, err)
		out[i] = k
	}
	return out
}

// fakeRunner records jobs and tracks how many run at once.
type fakeRunner struct {
	mu      sync.Mutex
	jobs    []pipeline.Job
	running atomic.Int32
	peak    atomic.Int32
	hold    time.Duration
	fail    func(job pipeline.Job) error
	onRun   func(job pipeline.Job)
}

func (f *fakeRunner) Run(_ context.Context, job pipeline.Job) pipeline.Result {
	n := f.running.Add(1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	defer f.running.Add(-1)

	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()

	if f.onRun != nil {
		f.onRun(job)
	}
	if f.hold > 0 {
		time.Sleep(f.hold)
	}

	res := pipeline.Result{
		Wallet:      job.Key.Address(),
		WalletIndex: job.WalletIndex,
		Round:       job.Round,
		Slot:        job.Slot,
		Deposit:     &chain.DepositResult{L1Hash: common.Hash{1}, L2Hash: common.Hash{2}},
		Tokens: []pipeline.Token{{
			Ordinal:    job.TokenStart,
			Symbol:     fmt.Sprintf("GIW%d", job.TokenStart),
			Airdropped: 3,
		}},
	}
	if f.fail != nil {
		res.Err = f.fail(job)
	}
	return res
}

func (f *fakeRunner) recorded() []pipeline.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]pipeline.Job, len(f.jobs))
	copy(out, f.jobs)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Round != out[j].Round {
			return out[i].Round < out[j].Round
		}
		return out[i].WalletIndex < out[j].WalletIndex
	})
	return out
}

type header struct{ round, batch string }

type fakeHeader struct {
	mu      sync.Mutex
	headers []header
}

func (f *fakeHeader) SetHeader(round, batch string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headers = append(f.headers, header{round, batch})
}

func newTestOrchestrator(runner Runner, h HeaderSink, cfg Config) (*Orchestrator, *[]time.Duration) {
	o := New(runner, h, cfg)
	var sleeps []time.Duration
	o.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return o, &sleeps
}

func TestTokenStart(t *testing.T) {
	tests := []struct {
		round, wallet, keys, per int
		want                     uint64
	}{
		{0, 0, 3, 1, 1},
		{0, 1, 3, 1, 2},
		{0, 2, 3, 1, 3},
		{1, 0, 3, 1, 4},
		{0, 1, 3, 4, 5},
		{2, 2, 3, 4, 33},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("r%d_w%d_k%d_p%d", tt.round, tt.wallet, tt.keys, tt.per), func(t *testing.T) {
			assert.Equal(t, tt.want, TokenStart(tt.round, tt.wallet, tt.keys, tt.per))
		})
	}
}

func TestTokenOrdinalsAreUnique(t *testing.T) {
	const numKeys, per, rounds = 5, 3, 4
	seen := make(map[uint64]bool)
	for r := 0; r < rounds; r++ {
		for w := 0; w < numKeys; w++ {
			start := TokenStart(r, w, numKeys, per)
			for k := uint64(0); k < per; k++ {
				assert.False(t, seen[start+k], "ordinal %d reused", start+k)
				seen[start+k] = true
			}
		}
	}
	assert.Len(t, seen, numKeys*per*rounds)
}

func TestLabels(t *testing.T) {
	assert.Equal(t, "1/3", RoundLabel(1, 3, false))
	assert.Equal(t, "7/∞", RoundLabel(7, 0, true))
	assert.Equal(t, "1..2", BatchLabel(1, 2))
	assert.Equal(t, "3..3", BatchLabel(3, 3))
}

func TestRunBatches(t *testing.T) {
	runner := &fakeRunner{}
	h := &fakeHeader{}
	o, sleeps := newTestOrchestrator(runner, h, Config{TokensPerWallet: 1, Rounds: 1})

	report, err := o.Run(context.Background(), loadKeys(t, 3))
	require.NoError(t, err)

	jobs := runner.recorded()
	require.Len(t, jobs, 3)
	for i, job := range jobs {
		assert.Equal(t, i, job.WalletIndex)
		assert.Equal(t, uint64(i+1), job.TokenStart)
		assert.Equal(t, 3, job.TotalWallets)
		assert.Equal(t, 0, job.Round)
	}
	assert.Equal(t, 0, jobs[0].Slot)
	assert.Equal(t, 1, jobs[1].Slot)
	assert.Equal(t, 0, jobs[2].Slot)

	assert.Equal(t, []header{{"1/1", "1..2"}, {"1/1", "3..3"}}, h.headers)
	assert.Empty(t, *sleeps)

	sum := report.Summary()
	assert.Equal(t, 1, sum.Rounds)
	assert.Equal(t, 3, sum.Pipelines)
	assert.Equal(t, 3, sum.Tokens)
	assert.Equal(t, 9, sum.Transfers)
	assert.Equal(t, 0, sum.Failed)
}

func TestRunBatchOrderAndConcurrency(t *testing.T) {
	var mu sync.Mutex
	var started []int
	runner := &fakeRunner{
		hold: 20 * time.Millisecond,
		onRun: func(job pipeline.Job) {
			mu.Lock()
			started = append(started, job.WalletIndex)
			mu.Unlock()
		},
	}
	o, _ := newTestOrchestrator(runner, &fakeHeader{}, Config{TokensPerWallet: 2, Rounds: 1})

	_, err := o.Run(context.Background(), loadKeys(t, 5))
	require.NoError(t, err)

	assert.Equal(t, int32(BatchSize), runner.peak.Load())
	require.Len(t, started, 5)
	// a batch only starts after the previous one settled
	assert.ElementsMatch(t, []int{0, 1}, started[0:2])
	assert.ElementsMatch(t, []int{2, 3}, started[2:4])
	assert.Equal(t, 4, started[4])
}

func TestRunMultipleRounds(t *testing.T) {
	runner := &fakeRunner{}
	h := &fakeHeader{}
	o, sleeps := newTestOrchestrator(runner, h, Config{TokensPerWallet: 2, Rounds: 3, RoundDelay: time.Minute})

	report, err := o.Run(context.Background(), loadKeys(t, 2))
	require.NoError(t, err)

	jobs := runner.recorded()
	require.Len(t, jobs, 6)
	seen := make(map[uint64]bool)
	for _, job := range jobs {
		for k := uint64(0); k < 2; k++ {
			assert.False(t, seen[job.TokenStart+k])
			seen[job.TokenStart+k] = true
		}
	}
	assert.Equal(t, uint64(9), jobs[4].TokenStart)

	assert.Equal(t, []header{{"1/3", "1..2"}, {"2/3", "1..2"}, {"3/3", "1..2"}}, h.headers)
	// no delay after the last round
	assert.Equal(t, []time.Duration{time.Minute, time.Minute}, *sleeps)
	assert.Equal(t, 3, report.Summary().Rounds)
	assert.Len(t, report.Rounds, 3)
}

func TestRunOnRound(t *testing.T) {
	var rounds []int
	var pipelines []int
	o, _ := newTestOrchestrator(&fakeRunner{}, &fakeHeader{}, Config{
		TokensPerWallet: 1,
		Rounds:          2,
		OnRound: func(round int, r *Report) {
			rounds = append(rounds, round)
			pipelines = append(pipelines, r.Summary().Pipelines)
		},
	})

	_, err := o.Run(context.Background(), loadKeys(t, 3))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, rounds)
	assert.Equal(t, []int{3, 6}, pipelines)
}

func TestRunFailureIsolation(t *testing.T) {
	runner := &fakeRunner{
		fail: func(job pipeline.Job) error {
			if job.WalletIndex == 0 {
				return errors.New("deposit: insufficient funds")
			}
			return nil
		},
	}
	o, _ := newTestOrchestrator(runner, &fakeHeader{}, Config{TokensPerWallet: 1, Rounds: 2})

	report, err := o.Run(context.Background(), loadKeys(t, 3))
	require.NoError(t, err)

	assert.Len(t, runner.recorded(), 6)
	sum := report.Summary()
	assert.Equal(t, 6, sum.Pipelines)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, "deposit: insufficient funds", report.Rounds[0].Wallets[0].Error)
	assert.Empty(t, report.Rounds[0].Wallets[1].Error)
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &fakeRunner{
		onRun: func(job pipeline.Job) {
			if job.WalletIndex == 1 {
				cancel()
			}
		},
	}
	o, _ := newTestOrchestrator(runner, &fakeHeader{}, Config{TokensPerWallet: 1, LoopForever: true})

	_, err := o.Run(ctx, loadKeys(t, 5))
	require.ErrorIs(t, err, context.Canceled)

	// the first batch settles; nothing after it launches
	jobs := runner.recorded()
	require.Len(t, jobs, 2)
	assert.Equal(t, 0, jobs[0].WalletIndex)
	assert.Equal(t, 1, jobs[1].WalletIndex)
}

func TestRunInfiniteUntilCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &fakeRunner{
		onRun: func(job pipeline.Job) {
			if job.Round == 3 {
				cancel()
			}
		},
	}
	h := &fakeHeader{}
	o, _ := newTestOrchestrator(runner, h, Config{TokensPerWallet: 1, Rounds: 0})

	_, err := o.Run(ctx, loadKeys(t, 1))
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, runner.recorded(), 4)
	assert.Equal(t, header{"4/∞", "1..1"}, h.headers[3])
}

func TestRunNoKeys(t *testing.T) {
	o := New(&fakeRunner{}, &fakeHeader{}, Config{Rounds: 1})
	_, err := o.Run(context.Background(), nil)
	assert.ErrorIs(t, err, keys.ErrNoKeys)
}

func TestReportYAML(t *testing.T) {
	runner := &fakeRunner{
		fail: func(job pipeline.Job) error {
			if job.WalletIndex == 1 {
				return errors.New("boom")
			}
			return nil
		},
	}
	o, _ := newTestOrchestrator(runner, &fakeHeader{}, Config{TokensPerWallet: 1, Rounds: 1})
	report, err := o.Run(context.Background(), loadKeys(t, 2))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, report.Encode(&buf))

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, o.RunID().String(), decoded["run_id"])
	assert.Equal(t, 2, decoded["wallets"])
	assert.Contains(t, buf.String(), "error: boom")
	assert.Contains(t, buf.String(), "symbol: GIW1")

	path := filepath.Join(t.TempDir(), "report.yaml")
	require.NoError(t, report.WriteFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, buf.String(), string(data))
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "report.yaml", entries[0].Name())

	err = report.WriteFile(filepath.Join(t.TempDir(), "missing", "report.yaml"))
	assert.ErrorIs(t, err, ErrReportPersist)
}

func TestReportConcurrentWrites(t *testing.T) {
	r := newReport(uuid.New(), 2)
	r.start(4)
	dir := t.TempDir()
	path := filepath.Join(dir, "report.yaml")

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.addRound(i, []pipeline.Result{{WalletIndex: i}})
		}()
		go func() {
			defer wg.Done()
			errs <- r.WriteFile(path)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded Report
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, r.RunID, decoded.RunID)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files left behind")
}

func TestReportKeepsRecentRounds(t *testing.T) {
	r := newReport(uuid.Nil, 1)
	for i := 0; i < maxReportRounds+10; i++ {
		r.addRound(i, []pipeline.Result{{}})
	}
	assert.Len(t, r.Rounds, maxReportRounds)
	assert.Equal(t, 11, r.Rounds[0].Round)
	assert.Equal(t, maxReportRounds+10, r.Summary().Rounds)
}
