package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Bidon15/popsigner/popfleet/internal/chain"
)

var depositCmd = &cobra.Command{
	Use:   "deposit",
	Short: "Bridge ETH from L1 to L2 for one wallet",
	Long: `Deposit ETH through the L1StandardBridge to the same address on L2 and
wait for both sides to confirm. The L2 transaction hash is derived from the
TransactionDeposited event of the L1 receipt.

Examples:
  popfleet deposit
  popfleet deposit --key-index 3 --amount 0.05`,
	RunE: runDeposit,
}

func init() {
	depositCmd.Flags().Int("key-index", 0, "zero-based index into the key file")
	depositCmd.Flags().String("amount", "", "amount in ETH (default: deposit.amount)")
	rootCmd.AddCommand(depositCmd)
}

func runDeposit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Deposit.Skip {
		return fmt.Errorf("deposit.skip is set")
	}
	index, _ := cmd.Flags().GetInt("key-index")
	key, err := pickKey(cfg, index)
	if err != nil {
		return err
	}

	amountStr, _ := cmd.Flags().GetString("amount")
	if amountStr == "" {
		amountStr = cfg.Deposit.Amount
	}
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
	fmt.Println(colorBold("L1 -> L2 deposit (L1StandardBridge)"))
	fmt.Printf("  From (L1): %s\n", w.Address().Hex())
	fmt.Printf("  To   (L2): %s\n", w.Address().Hex())
	fmt.Printf("  Chains:    L1 %s, L2 %s\n", chainIDString(net.L1ChainID()), chainIDString(net.L2ChainID()))
	fmt.Printf("  Amount:    %s ETH\n", chain.FormatEther(amount))

	balance, err := w.BalanceL1(ctx)
	if err != nil {
		return fmt.Errorf("get L1 balance: %w", err)
	}
	fmt.Printf("  Balance:   %s ETH\n\n", chain.FormatEther(balance))

	l1Hash, err := w.SubmitDeposit(ctx, amount, cfg.Deposit.L2Gas)
	if err != nil {
		return err
	}
	fmt.Printf("Deposit tx (L1): %s\n", l1Hash.Hex())

	receipt, err := net.WaitL1(ctx, l1Hash)
	if err != nil {
		return err
	}
	fmt.Printf("L1 confirmed:    block %s\n", receipt.BlockNumber)

	hashes, err := chain.DeriveL2DepositHashes(receipt)
	if err != nil {
		return err
	}
	fmt.Printf("Predicted L2 tx: %s\n", hashes[0].Hex())

	if _, err := net.WaitL2(ctx, hashes[0]); err != nil {
		return err
	}
	fmt.Printf("\n%s Deposit done\n", colorGreen("✓"))
	return nil
}
