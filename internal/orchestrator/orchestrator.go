// Package orchestrator schedules wallet pipelines in rounds of fixed-size
// concurrent batches.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Bidon15/popsigner/popfleet/internal/hud"
	"github.com/Bidon15/popsigner/popfleet/internal/keys"
	"github.com/Bidon15/popsigner/popfleet/internal/metrics"
	"github.com/Bidon15/popsigner/popfleet/internal/pipeline"
)

// BatchSize is the number of pipelines that run at once. It matches the
// number of dashboard slots and is not configurable.
const BatchSize = hud.NumSlots

// Runner executes one pipeline job. Run must settle the job itself and
// never panic; its Result carries any failure.
type Runner interface {
	Run(ctx context.Context, job pipeline.Job) pipeline.Result
}

// HeaderSink receives the round and batch labels.
type HeaderSink interface {
	SetHeader(round, batch string)
}

// Config contains configuration for the orchestrator.
type Config struct {
	// Logger for structured logging
	Logger *slog.Logger

	// TokensPerWallet is the number of tokens each pipeline deploys.
	TokensPerWallet int

	// Rounds is the number of passes over the key list. Zero or less, or
	// LoopForever, runs until the context is canceled.
	Rounds      int
	LoopForever bool

	// RoundDelay is the pause between rounds.
	RoundDelay time.Duration

	// OnRound, if set, is called after every completed round.
	OnRound func(round int, report *Report)
}

// Infinite reports whether the run has no round limit.
func (c Config) Infinite() bool {
	return c.LoopForever || c.Rounds <= 0
}

// Orchestrator runs every key through a pipeline, BatchSize at a time.
type Orchestrator struct {
	runner Runner
	header HeaderSink
	config Config
	logger *slog.Logger
	runID  uuid.UUID
	report *Report

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an orchestrator.
func New(runner Runner, header HeaderSink, cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TokensPerWallet < 1 {
		cfg.TokensPerWallet = 1
	}

	runID := uuid.New()
	return &Orchestrator{
		runner: runner,
		header: header,
		config: cfg,
		logger: cfg.Logger.With(slog.String("run_id", runID.String())),
		runID:  runID,
		report: newReport(runID, cfg.TokensPerWallet),
		sleep:  sleepContext,
	}
}

// RunID identifies this run in logs and in the report.
func (o *Orchestrator) RunID() uuid.UUID {
	return o.runID
}

// Report returns the run report. It is safe to read while Run is active.
func (o *Orchestrator) Report() *Report {
	return o.report
}

// TokenStart returns the first token ordinal of a wallet in a round. Ordinals
// are unique across the whole run.
func TokenStart(round, wallet, numKeys, perWallet int) uint64 {
	return uint64(round)*uint64(numKeys)*uint64(perWallet) + uint64(wallet)*uint64(perWallet) + 1
}

// RoundLabel formats a one-based round for the dashboard header.
func RoundLabel(round, rounds int, infinite bool) string {
	if infinite {
		return fmt.Sprintf("%d/∞", round)
	}
	return fmt.Sprintf("%d/%d", round, rounds)
}

// BatchLabel formats the one-based wallet range of a batch.
func BatchLabel(first, last int) string {
	return fmt.Sprintf("%d..%d", first, last)
}

// Run executes rounds until the round limit is reached or ctx is canceled.
// A canceled context stops new batches from launching; pipelines already in
// flight see the same context and stop at their next step boundary. Pipeline
// failures never abort the run.
func (o *Orchestrator) Run(ctx context.Context, ks []keys.Key) (*Report, error) {
	if len(ks) == 0 {
		return o.report, keys.ErrNoKeys
	}

	o.report.start(len(ks))
	defer o.report.finish()

	o.logger.Info("run started",
		slog.Int("wallets", len(ks)),
		slog.Int("tokens_per_wallet", o.config.TokensPerWallet),
		slog.Int("rounds", o.config.Rounds),
		slog.Bool("infinite", o.config.Infinite()),
	)

	for round := 0; o.config.Infinite() || round < o.config.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return o.report, err
		}

		results, err := o.runRound(ctx, round, ks)
		o.report.addRound(round, results)
		if err != nil {
			return o.report, err
		}
		metrics.RoundCompleted()
		if o.config.OnRound != nil {
			o.config.OnRound(round+1, o.report)
		}

		failed := 0
		for _, r := range results {
			if !r.OK() {
				failed++
			}
		}
		o.logger.Info("round finished",
			slog.Int("round", round+1),
			slog.Int("pipelines", len(results)),
			slog.Int("failed", failed),
		)

		if !o.config.Infinite() && round+1 >= o.config.Rounds {
			break
		}
		if err := o.sleep(ctx, o.config.RoundDelay); err != nil {
			return o.report, err
		}
	}

	o.logger.Info("run finished")
	return o.report, nil
}

// runRound walks the key list in batches. Each batch waits for all of its
// pipelines, whatever their outcome, before the next one starts.
func (o *Orchestrator) runRound(ctx context.Context, round int, ks []keys.Key) ([]pipeline.Result, error) {
	label := RoundLabel(round+1, o.config.Rounds, o.config.Infinite())
	results := make([]pipeline.Result, 0, len(ks))

	for first := 0; first < len(ks); first += BatchSize {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		last := min(first+BatchSize, len(ks))

		o.header.SetHeader(label, BatchLabel(first+1, last))
		o.logger.Debug("batch started",
			slog.Int("round", round+1),
			slog.Int("first", first+1),
			slog.Int("last", last),
		)

		batch := make([]pipeline.Result, last-first)
		g := new(errgroup.Group)
		g.SetLimit(BatchSize)
		for i := first; i < last; i++ {
			job := pipeline.Job{
				Key:          ks[i],
				WalletIndex:  i,
				TotalWallets: len(ks),
				Round:        round,
				TokenStart:   TokenStart(round, i, len(ks), o.config.TokensPerWallet),
				Slot:         i - first,
			}
			g.Go(func() error {
				batch[job.Slot] = o.runner.Run(ctx, job)
				return nil
			})
		}
		_ = g.Wait()

		results = append(results, batch...)
	}
	return results, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
