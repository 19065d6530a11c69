package cmd

import (
	"bufio"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/Bidon15/popsigner/popfleet/internal/chain"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send small ETH amounts on L2 to random targets",
	Long: `Send native ETH on L2 from one wallet to targets picked at random from a
file of addresses (one per line; invalid lines are skipped). Each transfer is
confirmed before the next, with the pacing.* delay in between.

Examples:
  popfleet send --targets data/targets.txt
  popfleet send --count 25 --amount 0.0001 --key-index 2`,
	RunE: runSend,
}

func init() {
	sendCmd.Flags().String("targets", "data/targets.txt", "file of recipient addresses")
	sendCmd.Flags().Int("count", 10, "number of transfers")
	sendCmd.Flags().String("amount", "0.00001", "amount in ETH per transfer")
	sendCmd.Flags().Int("key-index", 0, "zero-based index into the key file")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadL2Config(cmd)
	if err != nil {
		return err
	}
	index, _ := cmd.Flags().GetInt("key-index")
	key, err := pickKey(cfg, index)
	if err != nil {
		return err
	}

	targetsPath, _ := cmd.Flags().GetString("targets")
	f, err := os.Open(targetsPath)
	if err != nil {
		return fmt.Errorf("open targets: %w", err)
	}
	targets, err := readTargets(f)
	_ = f.Close()
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return fmt.Errorf("no valid targets in %s", targetsPath)
	}

	count, _ := cmd.Flags().GetInt("count")
	amountStr, _ := cmd.Flags().GetString("amount")
	amount, err := chain.ParseEther(amountStr)
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}

	logger := newLogger(cfg.Log, os.Stderr)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	net, err := dialNetwork(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer net.Close()

	w := net.Wallet(key)
	fmt.Printf("  Sender:  %s\n", w.Address().Hex())
	fmt.Printf("  Count:   %d | Amount: %s ETH each\n", count, chain.FormatEther(amount))
	fmt.Printf("  Targets: %d\n\n", len(targets))

	for i := 1; i <= count; i++ {
		to := targets[rand.IntN(len(targets))]
		hash, err := w.SendETH(ctx, to, amount)
		if err != nil {
			return fmt.Errorf("transfer %d: %w", i, err)
		}
		fmt.Printf("[%d/%d] -> %s | tx: %s\n", i, count, to.Hex(), hash.Hex())
		if _, err := w.WaitL2(ctx, hash); err != nil {
			return fmt.Errorf("transfer %d: %w", i, err)
		}

		if i < count {
			d := cfg.Pacing.Sleep
			if cfg.Pacing.Jitter > 0 {
				d += time.Duration(rand.Int64N(int64(cfg.Pacing.Jitter) + 1))
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
			}
		}
	}

	fmt.Printf("\n%s Done\n", colorGreen("✓"))
	return nil
}

// readTargets returns the valid addresses in r, one per line.
func readTargets(r io.Reader) ([]common.Address, error) {
	var out []common.Address
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if common.IsHexAddress(line) {
			out = append(out, common.HexToAddress(line))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read targets: %w", err)
	}
	return out, nil
}
