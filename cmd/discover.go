package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Bidon15/popsigner/popfleet/internal/config"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Sample airdrop recipients from recent L2 blocks",
	Long: `Run recipient discovery once and print the sampled addresses. Nothing is
sent; this is a dry run of the airdrop target selection using the
discovery.* and airdrop.* settings.

Examples:
  popfleet discover
  popfleet discover --count 20`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().Int("count", 0, "number of recipients (default: airdrop.count)")
	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, err := loadL2Config(cmd)
	if err != nil {
		return err
	}
	count, _ := cmd.Flags().GetInt("count")
	if count <= 0 {
		count = cfg.Airdrop.Count
	}

	logger := newLogger(cfg.Log, os.Stderr)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	net, err := dialNetwork(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer net.Close()

	recipients, err := newDiscovery(net, cfg, logger).Discover(ctx, count)
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}

	mode := "lenient"
	if cfg.Airdrop.StrictEOA {
		mode = "strict"
	}
	fmt.Printf("%s %d/%d recipients (%s)\n\n", colorGreen("✓"), len(recipients), count, mode)
	for i, addr := range recipients {
		fmt.Printf("  %2d. %s\n", i+1, addr.Hex())
	}
	return nil
}

// loadL2Config loads configuration for commands that only touch L2.
func loadL2Config(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	cfg.Deposit.Skip = true
	cfg.Chain.L1RPC = ""
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
