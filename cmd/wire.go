package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bidon15/popsigner/popfleet/internal/chain"
	"github.com/Bidon15/popsigner/popfleet/internal/config"
	"github.com/Bidon15/popsigner/popfleet/internal/discovery"
	"github.com/Bidon15/popsigner/popfleet/internal/keys"
	"github.com/Bidon15/popsigner/popfleet/internal/pipeline"
)

// dialNetwork connects to the configured L1 and L2 endpoints.
func dialNetwork(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*chain.Network, error) {
	var bridge common.Address
	if cfg.Chain.L1StandardBridge != "" {
		bridge = common.HexToAddress(cfg.Chain.L1StandardBridge)
	}

	return chain.Dial(ctx, chain.Config{
		Logger:           logger,
		L1RPC:            cfg.Chain.L1RPC,
		L2RPC:            cfg.Chain.L2RPC,
		L1StandardBridge: bridge,
		RPCTimeout:       cfg.Chain.RPCTimeout,
		ReceiptTimeout:   cfg.Receipt.Timeout,
		PollInterval:     cfg.Receipt.PollInterval,
	})
}

// newDiscovery builds recipient discovery over the L2 endpoint.
func newDiscovery(net *chain.Network, cfg *config.Config, logger *slog.Logger) *discovery.Discovery {
	return discovery.New(net.Scanner(), discovery.Config{
		Logger:         logger,
		LookbackBlocks: cfg.Discovery.LookbackBlocks,
		MaxScan:        cfg.Discovery.MaxScan,
		StrictEOA:      cfg.Airdrop.StrictEOA,
		Blocklist:      cfg.Airdrop.NormalizedBlocklist(),
		ScanRate:       cfg.Discovery.ScanRate,
	})
}

// amounts holds the configured values converted to base units.
type amounts struct {
	deposit    *big.Int
	supply     *big.Int
	perAddress *big.Int
}

func parseAmounts(cfg *config.Config) (*amounts, error) {
	deposit, err := chain.ParseEther(cfg.Deposit.Amount)
	if err != nil {
		return nil, fmt.Errorf("deposit.amount: %w", err)
	}
	supply, err := chain.ParseUnits(cfg.Token.Supply, cfg.Token.Decimals)
	if err != nil {
		return nil, fmt.Errorf("token.supply: %w", err)
	}
	perAddress, err := chain.ParseUnits(cfg.Airdrop.PerAddress, cfg.Token.Decimals)
	if err != nil {
		return nil, fmt.Errorf("airdrop.per_address: %w", err)
	}
	return &amounts{deposit: deposit, supply: supply, perAddress: perAddress}, nil
}

// neededPerToken is the token amount one full airdrop distributes.
func (a *amounts) neededPerToken(count int) *big.Int {
	return new(big.Int).Mul(big.NewInt(int64(count)), a.perAddress)
}

// pipelineConfig maps configuration onto the pipeline.
func pipelineConfig(cfg *config.Config, amt *amounts, artifact pipeline.TokenArtifact, logger *slog.Logger) pipeline.Config {
	return pipeline.Config{
		Logger:            logger,
		SkipDeposit:       cfg.Deposit.Skip,
		DepositAmount:     amt.deposit,
		DepositL2Gas:      cfg.Deposit.L2Gas,
		Artifact:          artifact,
		TokensPerWallet:   cfg.Token.PerWallet,
		NameBase:          cfg.Token.NameBase,
		SymbolBase:        cfg.Token.SymbolBase,
		Decimals:          cfg.Token.Decimals,
		Supply:            amt.supply,
		AirdropCount:      cfg.Airdrop.Count,
		AirdropPerAddress: cfg.Airdrop.PerAddress,
		AirdropAmount:     amt.perAddress,
		FullHash:          cfg.HUD.FullHash,
		Sleep:             cfg.Pacing.Sleep,
		Jitter:            cfg.Pacing.Jitter,
	}
}

// walletOpener binds keys to wallets on net.
func walletOpener(net *chain.Network) pipeline.WalletOpener {
	return pipeline.OpenerFunc(func(k keys.Key) pipeline.Wallet {
		return net.Wallet(k)
	})
}
