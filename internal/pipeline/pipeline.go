// Package pipeline runs one wallet through deposit, token deployment and
// airdrop, reporting progress into a HUD slot.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Bidon15/popsigner/popfleet/internal/chain"
	"github.com/Bidon15/popsigner/popfleet/internal/hud"
	"github.com/Bidon15/popsigner/popfleet/internal/keys"
	"github.com/Bidon15/popsigner/popfleet/internal/metrics"
)

// Wallet is the chain access one pipeline needs.
type Wallet interface {
	Address() common.Address
	Deposit(ctx context.Context, amount *big.Int, l2Gas uint32) (*chain.DepositResult, error)
	DeployContract(ctx context.Context, data []byte, description string) (*chain.Deployment, error)
	SubmitTokenTransfer(ctx context.Context, token, to common.Address, amount *big.Int) (common.Hash, error)
	WaitL2(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// WalletOpener binds keys to wallets.
type WalletOpener interface {
	Open(key keys.Key) Wallet
}

// OpenerFunc adapts a function to WalletOpener.
type OpenerFunc func(key keys.Key) Wallet

// Open calls f.
func (f OpenerFunc) Open(key keys.Key) Wallet {
	return f(key)
}

// Discoverer samples airdrop recipients.
type Discoverer interface {
	Discover(ctx context.Context, want int) ([]common.Address, error)
}

// TokenArtifact encodes ERC-20 creation code.
type TokenArtifact interface {
	TokenDeployData(name, symbol string, decimals uint8, supply *big.Int) ([]byte, error)
}

// Step names a pipeline stage.
type Step string

const (
	StepDeposit Step = "deposit"
	StepDeploy  Step = "deploy"
	StepAirdrop Step = "airdrop"
)

// String returns the step name.
func (s Step) String() string {
	return string(s)
}

// StepError records the stage a pipeline failed in.
type StepError struct {
	Step Step
	Err  error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return e.Err.Error()
}

// Unwrap implements the errors.Unwrap interface for error chaining.
func (e *StepError) Unwrap() error {
	return e.Err
}

// Config contains configuration for the pipeline.
type Config struct {
	// Logger for structured logging
	Logger *slog.Logger

	SkipDeposit   bool
	DepositAmount *big.Int // wei
	DepositL2Gas  uint32

	Artifact        TokenArtifact
	TokensPerWallet int
	NameBase        string
	SymbolBase      string
	Decimals        uint8
	Supply          *big.Int // base units

	AirdropCount      int
	AirdropPerAddress string   // human units, for display
	AirdropAmount     *big.Int // base units

	// FullHash shows untruncated hashes and addresses in badges.
	FullHash bool

	// Sleep plus a uniform jitter in [0, Jitter] separates transfers and
	// token iterations.
	Sleep  time.Duration
	Jitter time.Duration

	// Rand drives jitter. Defaults to an unseeded source.
	Rand *rand.Rand
}

// Job is one pipeline run.
type Job struct {
	Key          keys.Key
	WalletIndex  int // global index in the key list
	TotalWallets int
	Round        int // zero-based
	TokenStart   uint64
	Slot         int
}

// Token is one deployed token.
type Token struct {
	Ordinal    uint64
	Name       string
	Symbol     string
	Address    common.Address
	TxHash     common.Hash
	Airdropped int
}

// Result is the outcome of one pipeline run.
type Result struct {
	Wallet      common.Address
	WalletIndex int
	Round       int
	Slot        int
	Deposit     *chain.DepositResult
	Tokens      []Token
	Err         error
	Duration    time.Duration
}

// OK reports whether the run reached DONE.
func (r Result) OK() bool {
	return r.Err == nil
}

// Pipeline runs wallet jobs. One Pipeline may serve concurrent jobs as long
// as each uses its own slot and key.
type Pipeline struct {
	wallets    WalletOpener
	discoverer Discoverer
	store      *hud.Store
	config     Config
	logger     *slog.Logger

	mu    sync.Mutex
	rnd   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Pipeline.
func New(wallets WalletOpener, discoverer Discoverer, store *hud.Store, cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TokensPerWallet < 1 {
		cfg.TokensPerWallet = 1
	}
	if cfg.DepositAmount == nil {
		cfg.DepositAmount = big.NewInt(0)
	}
	if cfg.Supply == nil {
		cfg.Supply = big.NewInt(0)
	}
	if cfg.AirdropAmount == nil {
		cfg.AirdropAmount = big.NewInt(0)
	}
	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	return &Pipeline{
		wallets:    wallets,
		discoverer: discoverer,
		store:      store,
		config:     cfg,
		logger:     cfg.Logger,
		rnd:        rnd,
		sleep:      sleepContext,
	}
}

// Run executes job to completion. Failures are recorded in the job's slot
// and in the returned Result; Run never panics and never returns early
// without settling the slot.
func (p *Pipeline) Run(ctx context.Context, job Job) (res Result) {
	start := time.Now()
	res = Result{WalletIndex: job.WalletIndex, Round: job.Round, Slot: job.Slot}
	logger := p.logger.With(
		slog.Int("wallet", job.WalletIndex+1),
		slog.Int("round", job.Round+1),
		slog.Int("slot", job.Slot),
	)

	defer func() {
		if r := recover(); r != nil {
			res.Err = &StepError{Step: "panic", Err: fmt.Errorf("panic: %v", r)}
		}
		res.Duration = time.Since(start)
		p.settle(job.Slot, res, logger)
	}()

	wallet := p.wallets.Open(job.Key)
	res.Wallet = wallet.Address()

	p.store.Update(job.Slot, func(s *hud.Slot) {
		s.Address = wallet.Address().Hex()
		s.Position = fmt.Sprintf("W%d/%d  R%d", job.WalletIndex+1, job.TotalWallets, job.Round+1)
		s.Phase = hud.Starting()
		s.L1Ref = "--"
		s.L2Ref = "--"
		s.TokensDone = 0
		s.TokensTotal = p.config.TokensPerWallet
		s.DropsDone = 0
		s.DropsTotal = p.config.AirdropCount
		s.DeployBadge = ""
		s.DropBadge = ""
		s.Errors = 0
	})
	logger.Info("pipeline started", slog.String("address", wallet.Address().Hex()))

	res.Err = p.run(ctx, job, wallet, &res, logger)
	return res
}

// settle writes the terminal phase and records metrics.
func (p *Pipeline) settle(slot int, res Result, logger *slog.Logger) {
	if res.Err != nil {
		p.store.Update(slot, func(s *hud.Slot) {
			s.Errors++
			s.Phase = hud.Failed(res.Err.Error())
		})
		step := "unknown"
		var se *StepError
		if errors.As(res.Err, &se) {
			step = se.Step.String()
		}
		metrics.PipelineError(step)
		metrics.RecordPipeline("failed", res.Duration)
		logger.Error("pipeline failed", slog.String("step", step), slog.Any("error", res.Err))
		return
	}

	p.store.Update(slot, func(s *hud.Slot) { s.Phase = hud.Done() })
	metrics.RecordPipeline("done", res.Duration)
	logger.Info("pipeline done",
		slog.Int("tokens", len(res.Tokens)),
		slog.Duration("duration", res.Duration),
	)
}

func (p *Pipeline) run(ctx context.Context, job Job, wallet Wallet, res *Result, logger *slog.Logger) error {
	if !p.config.SkipDeposit {
		if err := ctx.Err(); err != nil {
			return &StepError{Step: StepDeposit, Err: err}
		}
		p.store.Update(job.Slot, func(s *hud.Slot) {
			s.Phase = hud.Depositing(chain.FormatEther(p.config.DepositAmount))
		})

		dep, err := wallet.Deposit(ctx, p.config.DepositAmount, p.config.DepositL2Gas)
		if err != nil {
			return &StepError{Step: StepDeposit, Err: fmt.Errorf("deposit: %w", err)}
		}
		res.Deposit = dep
		metrics.DepositConfirmed()

		p.store.Update(job.Slot, func(s *hud.Slot) {
			s.L1Ref = dep.L1Hash.Hex()
			s.L2Ref = dep.L2Hash.Hex()
			s.Phase = hud.Ready(true)
		})
		logger.Info("deposit confirmed",
			slog.String("l1Hash", dep.L1Hash.Hex()),
			slog.String("l2Hash", dep.L2Hash.Hex()),
		)
	} else {
		p.store.Update(job.Slot, func(s *hud.Slot) { s.Phase = hud.Ready(false) })
	}

	for t := 0; t < p.config.TokensPerWallet; t++ {
		if err := ctx.Err(); err != nil {
			return &StepError{Step: StepDeploy, Err: err}
		}

		tok, err := p.deployToken(ctx, job, wallet, job.TokenStart+uint64(t), t)
		if err != nil {
			return &StepError{Step: StepDeploy, Err: err}
		}

		if p.config.AirdropCount > 0 {
			n, err := p.airdrop(ctx, job, wallet, tok.Address)
			tok.Airdropped = n
			if err != nil {
				res.Tokens = append(res.Tokens, *tok)
				return &StepError{Step: StepAirdrop, Err: fmt.Errorf("airdrop %s: %w", tok.Symbol, err)}
			}
		}
		res.Tokens = append(res.Tokens, *tok)

		if t+1 < p.config.TokensPerWallet {
			if err := p.sleep(ctx, p.jittered()); err != nil {
				return &StepError{Step: StepDeploy, Err: err}
			}
		}
	}
	return nil
}

func (p *Pipeline) deployToken(ctx context.Context, job Job, wallet Wallet, ordinal uint64, t int) (*Token, error) {
	name := fmt.Sprintf("%s%d", p.config.NameBase, ordinal)
	symbol := fmt.Sprintf("%s%d", p.config.SymbolBase, ordinal)

	p.store.Update(job.Slot, func(s *hud.Slot) {
		s.Phase = hud.Deploying(symbol)
		s.DeployBadge = ""
	})

	data, err := p.config.Artifact.TokenDeployData(name, symbol, p.config.Decimals, p.config.Supply)
	if err != nil {
		return nil, fmt.Errorf("deploy %s: %w", symbol, err)
	}

	dep, err := wallet.DeployContract(ctx, data, symbol)
	if err != nil {
		return nil, fmt.Errorf("deploy %s: %w", symbol, err)
	}
	metrics.TokenDeployed()

	p.store.Update(job.Slot, func(s *hud.Slot) {
		s.TokensDone = t + 1
		s.L1Ref = dep.TxHash.Hex()
		s.L2Ref = dep.ContractAddress.Hex()
	})
	p.store.SetDeployBadge(job.Slot, fmt.Sprintf("%s → %s | %s",
		symbol, p.view(dep.ContractAddress.Hex()), p.view(dep.TxHash.Hex())))

	return &Token{
		Ordinal: ordinal,
		Name:    name,
		Symbol:  symbol,
		Address: dep.ContractAddress,
		TxHash:  dep.TxHash,
	}, nil
}

// airdrop transfers the per-address amount to each discovered recipient in
// order, confirming each transfer before the next. It returns the number of
// confirmed transfers.
func (p *Pipeline) airdrop(ctx context.Context, job Job, wallet Wallet, token common.Address) (int, error) {
	p.store.Update(job.Slot, func(s *hud.Slot) {
		s.Phase = hud.Airdropping(p.config.AirdropPerAddress, p.config.AirdropCount)
		s.DropBadge = ""
		s.DropsDone = 0
	})

	recipients, err := p.discoverer.Discover(ctx, p.config.AirdropCount)
	if err != nil {
		return 0, fmt.Errorf("discover recipients: %w", err)
	}

	done := 0
	for i, to := range recipients {
		hash, err := wallet.SubmitTokenTransfer(ctx, token, to, p.config.AirdropAmount)
		if err != nil {
			return done, fmt.Errorf("transfer to %s: %w", to.Hex(), err)
		}
		p.store.SetDropBadge(job.Slot, fmt.Sprintf("[%d/%d] → %s | %s",
			i+1, len(recipients), p.view(to.Hex()), p.view(hash.Hex())))

		if _, err := wallet.WaitL2(ctx, hash); err != nil {
			return done, fmt.Errorf("transfer to %s: %w", to.Hex(), err)
		}
		done++
		metrics.AirdropTransfer()
		p.store.Update(job.Slot, func(s *hud.Slot) { s.DropsDone = done })

		if i+1 < len(recipients) {
			if err := p.sleep(ctx, p.jittered()); err != nil {
				return done, err
			}
		}
	}
	return done, nil
}

func (p *Pipeline) view(s string) string {
	if p.config.FullHash {
		return s
	}
	return chain.Short(s)
}

// jittered returns Sleep plus a uniform jitter in [0, Jitter].
func (p *Pipeline) jittered() time.Duration {
	d := p.config.Sleep
	if p.config.Jitter > 0 {
		p.mu.Lock()
		d += time.Duration(p.rnd.Int64N(int64(p.config.Jitter) + 1))
		p.mu.Unlock()
	}
	return d
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
