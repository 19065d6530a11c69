// Package config provides configuration loading for popfleet.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	KeysFile   string `mapstructure:"keys_file"`
	HeaderFile string `mapstructure:"header_file"`

	Chain     ChainConfig     `mapstructure:"chain"`
	Run       RunConfig       `mapstructure:"run"`
	Deposit   DepositConfig   `mapstructure:"deposit"`
	Token     TokenConfig     `mapstructure:"token"`
	Airdrop   AirdropConfig   `mapstructure:"airdrop"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Pacing    PacingConfig    `mapstructure:"pacing"`
	Receipt   ReceiptConfig   `mapstructure:"receipt"`
	HUD       HUDConfig       `mapstructure:"hud"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Report    ReportConfig    `mapstructure:"report"`
}

// ChainConfig holds the L1/L2 endpoints and bridge address.
type ChainConfig struct {
	L1RPC            string        `mapstructure:"l1_rpc"`
	L2RPC            string        `mapstructure:"l2_rpc"`
	L1StandardBridge string        `mapstructure:"l1_standard_bridge"`
	RPCTimeout       time.Duration `mapstructure:"rpc_timeout"`
}

// RunConfig controls how many rounds are executed.
type RunConfig struct {
	Rounds      int           `mapstructure:"rounds"`
	LoopForever bool          `mapstructure:"loop_forever"`
	RoundDelay  time.Duration `mapstructure:"round_delay"`
}

// Infinite reports whether rounds repeat until interrupted.
func (c RunConfig) Infinite() bool {
	return c.LoopForever || c.Rounds <= 0
}

// DepositConfig holds the L1 -> L2 bridge deposit settings.
type DepositConfig struct {
	Skip   bool   `mapstructure:"skip"`
	Amount string `mapstructure:"amount"` // in ETH, e.g. "0.001"
	L2Gas  uint32 `mapstructure:"l2_gas"`
}

// TokenConfig describes the ERC-20 contracts deployed by every wallet.
type TokenConfig struct {
	Artifact   string `mapstructure:"artifact"`
	PerWallet  int    `mapstructure:"per_wallet"`
	NameBase   string `mapstructure:"name_base"`
	SymbolBase string `mapstructure:"symbol_base"`
	Decimals   uint8  `mapstructure:"decimals"`
	Supply     string `mapstructure:"supply"` // human units
}

// AirdropConfig controls token distribution after each deployment.
type AirdropConfig struct {
	Count      int      `mapstructure:"count"`
	PerAddress string   `mapstructure:"per_address"` // human units
	StrictEOA  bool     `mapstructure:"strict_eoa"`
	Blocklist  []string `mapstructure:"blocklist"`
}

// DiscoveryConfig bounds the recipient scan.
type DiscoveryConfig struct {
	LookbackBlocks uint64  `mapstructure:"lookback_blocks"`
	MaxScan        uint64  `mapstructure:"max_scan"`
	ScanRate       float64 `mapstructure:"scan_rate"` // blocks per second, 0 = unlimited
}

// PacingConfig holds the randomized delay between steps.
type PacingConfig struct {
	Sleep  time.Duration `mapstructure:"sleep"`
	Jitter time.Duration `mapstructure:"jitter"`
}

// ReceiptConfig controls confirmation polling.
type ReceiptConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// HUDConfig holds dashboard display options.
type HUDConfig struct {
	Quiet          bool          `mapstructure:"quiet"`
	FullAddr       bool          `mapstructure:"full_addr"`
	FullHash       bool          `mapstructure:"full_hash"`
	Title1         string        `mapstructure:"title1"`
	Title2         string        `mapstructure:"title2"`
	MaxBoxWidth    int           `mapstructure:"max_box_width"`
	MinColumnWidth int           `mapstructure:"min_column_width"`
	Refresh        time.Duration `mapstructure:"refresh"`
	Banner         string        `mapstructure:"banner"`
	BannerColor    string        `mapstructure:"banner_color"`
	BorderColor    string        `mapstructure:"border_color"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`
}

// MetricsConfig holds the optional prometheus listener.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// ReportConfig holds the optional YAML run report location.
type ReportConfig struct {
	Path string `mapstructure:"path"`
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"keys":         "keys_file",
	"rounds":       "run.rounds",
	"loop":         "run.loop_forever",
	"skip-deposit": "deposit.skip",
	"quiet":        "hud.quiet",
	"log-level":    "log.level",
	"metrics":      "metrics.listen",
	"report":       "report.path",
	"l1-rpc":       "chain.l1_rpc",
	"l2-rpc":       "chain.l2_rpc",
}

// Load reads configuration from files, environment variables and flags.
// configFile may be empty, in which case config.yaml is searched in the
// working directory and ./config.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("POPFLEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	v.SetDefault("keys_file", "data/keys.txt")
	v.SetDefault("header_file", "shogun.txt")

	// Chain defaults (GIWA Sepolia over Ethereum Sepolia)
	v.SetDefault("chain.l1_rpc", "https://rpc.sepolia.org")
	v.SetDefault("chain.l2_rpc", "https://sepolia-rpc.giwa.io")
	v.SetDefault("chain.l1_standard_bridge", "")
	v.SetDefault("chain.rpc_timeout", "30s")

	v.SetDefault("run.rounds", 1)
	v.SetDefault("run.loop_forever", false)
	v.SetDefault("run.round_delay", "0s")

	v.SetDefault("deposit.skip", false)
	v.SetDefault("deposit.amount", "0.001")
	v.SetDefault("deposit.l2_gas", 200000)

	v.SetDefault("token.artifact", "artifacts/ERC20Lite.json")
	v.SetDefault("token.per_wallet", 1)
	v.SetDefault("token.name_base", "GiwaToken")
	v.SetDefault("token.symbol_base", "GIW")
	v.SetDefault("token.decimals", 18)
	v.SetDefault("token.supply", "1000000")

	v.SetDefault("airdrop.count", 5)
	v.SetDefault("airdrop.per_address", "10")
	v.SetDefault("airdrop.strict_eoa", false)
	v.SetDefault("airdrop.blocklist", []string{
		"0x0000000000000000000000000000000000000000",
		"0x000000000000000000000000000000000000dead",
		"0xdeaddead",
		"0x420000",
	})

	v.SetDefault("discovery.lookback_blocks", 2000)
	v.SetDefault("discovery.max_scan", 600)
	v.SetDefault("discovery.scan_rate", 500)

	v.SetDefault("pacing.sleep", "1500ms")
	v.SetDefault("pacing.jitter", "300ms")

	v.SetDefault("receipt.timeout", "10m")
	v.SetDefault("receipt.poll_interval", "3s")

	v.SetDefault("hud.quiet", false)
	v.SetDefault("hud.full_addr", true)
	v.SetDefault("hud.full_hash", true)
	v.SetDefault("hud.title1", "Worker 1")
	v.SetDefault("hud.title2", "Worker 2")
	v.SetDefault("hud.max_box_width", 90)
	v.SetDefault("hud.min_column_width", 36)
	v.SetDefault("hud.refresh", "700ms")
	v.SetDefault("hud.banner", "popfleet")
	v.SetDefault("hud.banner_color", "magenta")
	v.SetDefault("hud.border_color", "green")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "popfleet.log")

	v.SetDefault("metrics.listen", "")
	v.SetDefault("report.path", "")
}

// Validate checks the configuration for values that would make every
// pipeline fail. It returns a *ValidationError for the first problem found.
func (c *Config) Validate() error {
	if c.Chain.L1RPC == "" && !c.Deposit.Skip {
		return wrapValidation("chain.l1_rpc", ErrMissingL1RPC)
	}
	if c.Chain.L2RPC == "" {
		return wrapValidation("chain.l2_rpc", ErrMissingL2RPC)
	}
	if !c.Deposit.Skip && c.Chain.L1StandardBridge == "" {
		return wrapValidation("chain.l1_standard_bridge", ErrMissingBridge)
	}
	if c.Chain.L1StandardBridge != "" && !common.IsHexAddress(c.Chain.L1StandardBridge) {
		return NewValidationError("chain.l1_standard_bridge", fmt.Sprintf("invalid address %q", c.Chain.L1StandardBridge))
	}
	if c.Token.PerWallet < 1 {
		return NewValidationError("token.per_wallet", "must be at least 1")
	}
	if c.Airdrop.Count < 0 {
		return NewValidationError("airdrop.count", "must not be negative")
	}
	if c.Receipt.PollInterval <= 0 {
		return NewValidationError("receipt.poll_interval", "must be positive")
	}
	if c.Pacing.Sleep < 0 || c.Pacing.Jitter < 0 {
		return NewValidationError("pacing", "sleep and jitter must not be negative")
	}

	amounts := map[string]string{
		"deposit.amount":      c.Deposit.Amount,
		"token.supply":        c.Token.Supply,
		"airdrop.per_address": c.Airdrop.PerAddress,
	}
	for field, raw := range amounts {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return NewValidationError(field, fmt.Sprintf("invalid amount %q", raw))
		}
		if d.IsNegative() {
			return NewValidationError(field, "must not be negative")
		}
	}

	return nil
}

// NormalizedBlocklist returns the blocklist lower-cased with blanks removed.
func (c AirdropConfig) NormalizedBlocklist() []string {
	out := make([]string, 0, len(c.Blocklist))
	for _, p := range c.Blocklist {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
