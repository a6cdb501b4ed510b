// Package config loads application configuration from a YAML file and
// environment variables. The loaded Config also serves as the address
// registry for chains, tokens, vaults and routers.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"yieldroute/pkg/orchestrator"
	"yieldroute/pkg/types"
)

// VaultConfig is one deposit target: the vault contract and the share
// token it mints.
type VaultConfig struct {
	Address    string `mapstructure:"address"`
	ShareToken string `mapstructure:"share_token"`
}

// ChainConfig holds everything needed to talk to one chain.
type ChainConfig struct {
	RPCURL        string  `mapstructure:"rpc_url"`
	ChainID       int64   `mapstructure:"chain_id"`
	RelayChainID  uint64  `mapstructure:"relay_chain_id"`
	NativeSymbol  string  `mapstructure:"native_symbol"`
	Router        string  `mapstructure:"router"`
	EmergencyStop bool    `mapstructure:"emergency_stop"`
	PrivateKey    string  `mapstructure:"private_key"`
	GasLimit      *uint64 `mapstructure:"gas_limit"`
	GasPrice      *int64  `mapstructure:"gas_price"`
	// Solana only.
	Commitment    string `mapstructure:"commitment"`
	SkipPreflight bool   `mapstructure:"skip_preflight"`
	// BridgeBaseFee is the flat relay fee in the chain's native unit,
	// as a decimal integer string.
	BridgeBaseFee string `mapstructure:"bridge_base_fee"`
	// Tokens maps token symbol (lowercase) to contract address or mint.
	Tokens map[string]string `mapstructure:"tokens"`
	// Vaults maps protocol -> token symbol -> vault.
	Vaults map[string]map[string]VaultConfig `mapstructure:"vaults"`
}

// EngineConfig tunes allocation inputs.
type EngineConfig struct {
	LiquidityFloorUSD  float64 `mapstructure:"liquidity_floor_usd"`
	FreshnessDecayRate float64 `mapstructure:"freshness_decay_rate"`
	FreshnessFloor     float64 `mapstructure:"freshness_floor"`
}

// BridgeConfig tunes the relay client and settlement waits.
type BridgeConfig struct {
	FeeMarginBps      int64         `mapstructure:"fee_margin_bps"`
	SettlementDelay   time.Duration `mapstructure:"settlement_delay"`
	SettlementTimeout time.Duration `mapstructure:"settlement_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
}

// ExecutionConfig tunes deposit execution.
type ExecutionConfig struct {
	ReceiptTimeout    time.Duration `mapstructure:"receipt_timeout"`
	MaxConcurrentLegs int           `mapstructure:"max_concurrent_legs"`
}

// Config holds the application configuration.
type Config struct {
	WalletID     string                 `mapstructure:"wallet_id"`
	Chains       map[string]ChainConfig `mapstructure:"chains"`
	Engine       EngineConfig           `mapstructure:"engine"`
	Bridge       BridgeConfig           `mapstructure:"bridge"`
	Execution    ExecutionConfig        `mapstructure:"execution"`
	LedgerPath   string                 `mapstructure:"ledger_path"`
	PlanPath     string                 `mapstructure:"plan_path"`
	SnapshotFile string                 `mapstructure:"snapshot_file"`
}

var globalConfig *Config

// Load reads configuration from environment variables and config file
func Load() (*Config, error) {
	viper.SetConfigName(".yieldroute")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(".")

	viper.SetDefault("wallet_id", "default")
	viper.SetDefault("engine.liquidity_floor_usd", 500_000.0)
	viper.SetDefault("engine.freshness_decay_rate", 2.0)
	viper.SetDefault("engine.freshness_floor", 20.0)
	viper.SetDefault("bridge.fee_margin_bps", 200)
	viper.SetDefault("bridge.settlement_delay", "30s")
	viper.SetDefault("bridge.settlement_timeout", "10m")
	viper.SetDefault("bridge.poll_interval", "5s")
	viper.SetDefault("execution.receipt_timeout", "2m")
	viper.SetDefault("execution.max_concurrent_legs", 4)

	viper.SetEnvPrefix("YIELDROUTE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if len(cfg.Chains) == 0 {
		return nil, fmt.Errorf("no chains configured. Create a .yieldroute.yaml config file with a chains section")
	}

	globalConfig = cfg
	return cfg, nil
}

// Get returns the global configuration
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		return cfg
	}
	return globalConfig
}

// Set updates the global configuration
func Set(cfg *Config) {
	globalConfig = cfg
}

func (c *Config) chain(chain types.Chain) (*ChainConfig, error) {
	cc, ok := c.Chains[string(chain)]
	if !ok {
		return nil, fmt.Errorf("chain %s is not configured", chain)
	}
	return &cc, nil
}

// TokenAddress resolves a token symbol to its contract address or mint
// on the given chain.
func (c *Config) TokenAddress(chain types.Chain, token string) (string, error) {
	cc, err := c.chain(chain)
	if err != nil {
		return "", err
	}
	addr, ok := cc.Tokens[strings.ToLower(token)]
	if !ok {
		return "", fmt.Errorf("token %s has no address mapping on chain %s", token, chain)
	}
	return addr, nil
}

// Vault resolves the deposit vault for a (chain, protocol, token)
// triple.
func (c *Config) Vault(chain types.Chain, protocol, token string) (orchestrator.VaultInfo, error) {
	cc, err := c.chain(chain)
	if err != nil {
		return orchestrator.VaultInfo{}, err
	}
	byToken, ok := cc.Vaults[strings.ToLower(protocol)]
	if !ok {
		return orchestrator.VaultInfo{}, fmt.Errorf("protocol %s has no vaults on chain %s", protocol, chain)
	}
	vault, ok := byToken[strings.ToLower(token)]
	if !ok {
		return orchestrator.VaultInfo{}, fmt.Errorf("protocol %s has no %s vault on chain %s", protocol, token, chain)
	}
	return orchestrator.VaultInfo{Address: vault.Address, ShareToken: vault.ShareToken}, nil
}

// RouterAddress returns the relay router contract on the chain.
func (c *Config) RouterAddress(chain types.Chain) (string, error) {
	cc, err := c.chain(chain)
	if err != nil {
		return "", err
	}
	if cc.Router == "" {
		return "", fmt.Errorf("no router configured on chain %s", chain)
	}
	return cc.Router, nil
}

// EmergencyStopped reports whether deposits on the chain are halted.
func (c *Config) EmergencyStopped(chain types.Chain) bool {
	cc, ok := c.Chains[string(chain)]
	return ok && cc.EmergencyStop
}

// BridgeBaseFees collects the per-chain relay base fees.
func (c *Config) BridgeBaseFees() (map[types.Chain]*big.Int, error) {
	fees := make(map[types.Chain]*big.Int)
	for name, cc := range c.Chains {
		if cc.BridgeBaseFee == "" {
			continue
		}
		fee, ok := new(big.Int).SetString(cc.BridgeBaseFee, 10)
		if !ok || fee.Sign() < 0 {
			return nil, fmt.Errorf("invalid bridge_base_fee %q for chain %s", cc.BridgeBaseFee, name)
		}
		fees[types.Chain(name)] = fee
	}
	return fees, nil
}

// RelayChainIDs collects the router's chain numbering.
func (c *Config) RelayChainIDs() map[types.Chain]uint64 {
	ids := make(map[types.Chain]uint64)
	for name, cc := range c.Chains {
		if cc.RelayChainID != 0 {
			ids[types.Chain(name)] = cc.RelayChainID
		}
	}
	return ids
}
