package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/Bidon15/popsigner/popfleet/internal/chain"
	"github.com/Bidon15/popsigner/popfleet/internal/config"
	"github.com/Bidon15/popsigner/popfleet/internal/hud"
	"github.com/Bidon15/popsigner/popfleet/internal/metrics"
	"github.com/Bidon15/popsigner/popfleet/internal/orchestrator"
	"github.com/Bidon15/popsigner/popfleet/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every wallet through deposit, deploy and airdrop",
	Long: `Run the wallet fleet. Keys are processed two at a time; each wallet
deposits ETH from L1 to L2 (unless --skip-deposit), deploys its tokens, and
airdrops every token to addresses sampled from recent L2 blocks.

While the dashboard is live, logs go to log.file instead of the terminal.
Ctrl+C stops the run immediately; the last dashboard frame stays on screen.

Examples:
  popfleet run
  popfleet run --rounds 5 --skip-deposit
  popfleet run --loop --metrics :9102 --report run.yaml`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().Int("rounds", 1, "number of rounds over the key list (0 = endless)")
	runCmd.Flags().Bool("loop", false, "repeat rounds until interrupted")
	runCmd.Flags().Bool("skip-deposit", false, "skip the L1 -> L2 deposit step")
	runCmd.Flags().Bool("quiet", false, "suppress the startup summary")
	runCmd.Flags().String("metrics", "", "serve prometheus metrics on this address (e.g. :9102)")
	runCmd.Flags().String("report", "", "write a YAML run report to this path")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ks, err := loadKeys(cfg)
	if err != nil {
		return err
	}
	amt, err := parseAmounts(cfg)
	if err != nil {
		return err
	}
	artifact, err := chain.LoadArtifact(cfg.Token.Artifact)
	if err != nil {
		return err
	}

	// The dashboard owns a terminal stdout, so logs move to a file.
	logOut := io.Writer(os.Stderr)
	if isatty.IsTerminal(os.Stdout.Fd()) && cfg.Log.File != "" {
		f, err := openLogFile(cfg.Log.File)
		if err != nil {
			return err
		}
		defer f.Close()
		logOut = f
	}
	logger := newLogger(cfg.Log, logOut)
	slog.SetDefault(logger)

	printHeaderFile(os.Stdout, cfg.HeaderFile)
	if !cfg.HUD.Quiet {
		writeSummary(os.Stdout, cfg, amt)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	net, err := dialNetwork(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer net.Close()

	if cfg.Metrics.Listen != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Listen, logger); err != nil {
				logger.Error("metrics server failed", slog.Any("error", err))
			}
		}()
	}

	store := hud.NewStore(hud.StoreConfig{
		Titles:      [hud.NumSlots]string{cfg.HUD.Title1, cfg.HUD.Title2},
		TokensTotal: cfg.Token.PerWallet,
		DropsTotal:  cfg.Airdrop.Count,
	})
	renderer := hud.NewRenderer(store, hudOptions(cfg.HUD), os.Stdout)

	p := pipeline.New(walletOpener(net), newDiscovery(net, cfg, logger), store, pipelineConfig(cfg, amt, artifact, logger))
	orch := orchestrator.New(p, store, orchestrator.Config{
		Logger:          logger,
		TokensPerWallet: cfg.Token.PerWallet,
		Rounds:          cfg.Run.Rounds,
		LoopForever:     cfg.Run.LoopForever,
		RoundDelay:      cfg.Run.RoundDelay,
		OnRound: func(_ int, r *orchestrator.Report) {
			writeReport(cfg.Report.Path, r, logger)
		},
	})
	logger.Info("starting run",
		slog.String("run_id", orch.RunID().String()),
		slog.String("l1_chain_id", chainIDString(net.L1ChainID())),
		slog.String("l2_chain_id", chainIDString(net.L2ChainID())),
	)

	renderer.Start(ctx)

	done := make(chan error, 1)
	go func() {
		_, err := orch.Run(ctx, ks)
		done <- err
	}()

	var runErr error
	select {
	case <-ctx.Done():
		// In-flight pipelines are abandoned, not awaited.
	case runErr = <-done:
	}
	renderer.Stop()
	writeReport(cfg.Report.Path, orch.Report(), logger)
	return finish(os.Stdout, ctx.Err() != nil, cfg.Run.Infinite(), runErr)
}

// finish prints the farewell line. An interrupted run always ends with
// "Stopped.", even when the orchestrator returned first.
func finish(w io.Writer, interrupted, infinite bool, runErr error) error {
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	if interrupted || runErr != nil {
		fmt.Fprintln(w, "\nStopped.")
		return nil
	}
	if !infinite {
		fmt.Fprintf(w, "\n%s All rounds & batches finished.\n", colorGreen("✓"))
	}
	return nil
}

func hudOptions(c config.HUDConfig) hud.Options {
	return hud.Options{
		FullAddr:       c.FullAddr,
		FullHash:       c.FullHash,
		MaxBoxWidth:    c.MaxBoxWidth,
		MinColumnWidth: c.MinColumnWidth,
		Refresh:        c.Refresh,
		Banner:         c.Banner,
		BannerColor:    c.BannerColor,
		BorderColor:    c.BorderColor,
		Color:          true,
	}
}

// printHeaderFile prints the banner file once, if it exists.
func printHeaderFile(w io.Writer, path string) {
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "\n%s\n\n", strings.TrimRight(string(data), "\n"))
}

// writeSummary prints the supply check and the effective settings.
func writeSummary(w io.Writer, cfg *config.Config, amt *amounts) {
	needed := amt.neededPerToken(cfg.Airdrop.Count)
	fmt.Fprintf(w, "Supply check: per token need >= %s tokens.\n", chain.FormatUnits(needed, cfg.Token.Decimals))
	if amt.supply.Cmp(needed) < 0 {
		fmt.Fprintf(w, "%s supply %s is below what one airdrop distributes\n", colorRed("!"), cfg.Token.Supply)
	}

	rounds := fmt.Sprint(cfg.Run.Rounds)
	if cfg.Run.Infinite() {
		rounds = "∞"
	}
	fmt.Fprintf(w, "CFG | BATCH_SIZE=%d  ROUNDS=%s  SKIP_DEPOSIT=%t\n",
		orchestrator.BatchSize, rounds, cfg.Deposit.Skip)
	fmt.Fprintf(w, "    | TOKENS_PER_WALLET=%d  AIRDROP=%dx%s  SUPPLY=%s\n",
		cfg.Token.PerWallet, cfg.Airdrop.Count, cfg.Airdrop.PerAddress, cfg.Token.Supply)
	fmt.Fprintf(w, "    | RPC_TIMEOUT=%s  POLL=%s  RECEIPT_TIMEOUT=%s\n",
		cfg.Chain.RPCTimeout, cfg.Receipt.PollInterval, cfg.Receipt.Timeout)
	fmt.Fprintf(w, "SRC | ARTIFACT=%s  STRICT_EOA=%t  BLOCKLIST=%s\n",
		cfg.Token.Artifact, cfg.Airdrop.StrictEOA, strings.Join(cfg.Airdrop.NormalizedBlocklist(), "|"))
	if cfg.Run.Infinite() {
		fmt.Fprintln(w, colorDim("Loop mode on, press Ctrl+C to stop."))
	}
}

func writeReport(path string, report *orchestrator.Report, logger *slog.Logger) {
	if path == "" {
		return
	}
	if err := report.WriteFile(path); err != nil {
		logger.Error("failed to write report", slog.String("path", path), slog.Any("error", err))
		return
	}
	logger.Info("report written", slog.String("path", path))
}

func chainIDString(id *big.Int) string {
	if id == nil {
		return "-"
	}
	return id.String()
}
