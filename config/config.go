package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"licensestake/core/engine"
	"licensestake/core/epoch"
	"licensestake/core/rewards"
)

const (
	DefaultRPCAddress      = ":8080"
	DefaultDataDir         = "./licensestake-data"
	DefaultJWTSecretEnv    = "LICENSESTAKE_JWT_SECRET"
	DefaultRateLimit       = 20
	DefaultRateBurst       = 40
	DefaultMaxRequestBytes = 1 << 20
)

type Config struct {
	RPCAddress     string    `toml:"RPCAddress"`
	MetricsAddress string    `toml:"MetricsAddress"`
	DataDir        string    `toml:"DataDir"`
	AdminAddress   string    `toml:"AdminAddress"`
	Staking        Staking   `toml:"staking"`
	RPC            RPC       `toml:"rpc"`
	Logging        Logging   `toml:"logging"`
	Telemetry      Telemetry `toml:"telemetry"`
	Indexer        Indexer   `toml:"indexer"`
}

// Default returns a configuration for a local node. AdminAddress and
// Staking.CustodyAddress must still be filled in.
func Default() *Config {
	cfg := &Config{
		RPCAddress: DefaultRPCAddress,
		DataDir:    DefaultDataDir,
		Staking: Staking{
			EpochDurationSeconds: uint64(epoch.DefaultConfig().Duration / time.Second),
			DecayRatePercent:     epoch.DefaultConfig().DecayRatePercent,
			InitialPool:          "0",
			HistoryLength:        rewards.DefaultConfig().HistoryLength,
		},
		Logging: Logging{Environment: "dev"},
	}
	applyDefaults(cfg)
	return cfg
}

// Load loads the configuration from the given path. A missing file is
// created with default values.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = DefaultRPCAddress
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = DefaultDataDir
	}
	if strings.TrimSpace(cfg.RPC.JWTSecretEnv) == "" {
		cfg.RPC.JWTSecretEnv = DefaultJWTSecretEnv
	}
	if cfg.RPC.RateLimitPerSecond == 0 {
		cfg.RPC.RateLimitPerSecond = DefaultRateLimit
	}
	if cfg.RPC.RateLimitBurst == 0 {
		cfg.RPC.RateLimitBurst = DefaultRateBurst
	}
	if cfg.RPC.ReadHeaderTimeout == 0 {
		cfg.RPC.ReadHeaderTimeout = 5
	}
	if cfg.RPC.WriteTimeout == 0 {
		cfg.RPC.WriteTimeout = 15
	}
	if cfg.RPC.MaxRequestBodyBytes == 0 {
		cfg.RPC.MaxRequestBodyBytes = DefaultMaxRequestBytes
	}
	if cfg.RPC.TrustedProxies == nil {
		cfg.RPC.TrustedProxies = []string{}
	}
	if strings.TrimSpace(cfg.Staking.InitialPool) == "" {
		cfg.Staking.InitialPool = "0"
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// Admin returns the configured administrative principal.
func (c *Config) Admin() (common.Address, error) {
	return parseAddress("AdminAddress", c.AdminAddress)
}

// EngineParams converts the staking section into engine parameters.
func (c *Config) EngineParams() (engine.Params, error) {
	custody, err := parseAddress("staking.CustodyAddress", c.Staking.CustodyAddress)
	if err != nil {
		return engine.Params{}, err
	}
	pool, err := parseAmount(c.Staking.InitialPool)
	if err != nil {
		return engine.Params{}, fmt.Errorf("invalid staking.InitialPool: %w", err)
	}
	params := engine.Params{
		Address: custody,
		Epoch: epoch.Config{
			Duration:         time.Duration(c.Staking.EpochDurationSeconds) * time.Second,
			DecayRatePercent: c.Staking.DecayRatePercent,
		},
		Rewards: rewards.Config{
			ClaimWindow:   c.Staking.ClaimWindow,
			HistoryLength: c.Staking.HistoryLength,
		},
		InitialPool: pool,
	}
	if c.Staking.GenesisUnix > 0 {
		params.Start = time.Unix(c.Staking.GenesisUnix, 0)
	}
	return params, nil
}

// CustodyFunding returns the amount FundCustody mints on first start. With
// a positive decay rate it is the whole emission of the pool schedule, which
// covers every claim the engine can ever pay. complete is false for a zero
// decay rate, whose schedule never ends: only InitialPool is minted and
// custody has to be topped up through /v1/admin/fund.
func (c *Config) CustodyFunding() (amount *uint256.Int, complete bool, err error) {
	pool, err := parseAmount(c.Staking.InitialPool)
	if err != nil {
		return nil, false, fmt.Errorf("invalid staking.InitialPool: %w", err)
	}
	if c.Staking.DecayRatePercent == 0 {
		return pool, false, nil
	}
	total, err := rewards.TotalEmission(pool, c.Staking.DecayRatePercent)
	if err != nil {
		return nil, false, err
	}
	return total, true, nil
}

func parseAddress(field, value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return common.Address{}, fmt.Errorf("%s is required", field)
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%s %q is not a hex address", field, value)
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s must not be the zero address", field)
	}
	return addr, nil
}

func parseAmount(value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	return uint256.FromDecimal(trimmed)
}
