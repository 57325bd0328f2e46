package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"marginpool/crypto"
)

// Config is the protocol description loaded at service start: the pools and
// markets to administer, the exchange venues available for settlement and the
// module-level accounts.
type Config struct {
	// WrappedNative names the asset used as the routing hop for native
	// settlement.
	WrappedNative string `toml:"WrappedNative"`
	// FlashLender is the bech32 account funding flash-loan executions.
	FlashLender string        `toml:"FlashLender"`
	Pools       []PoolConfig  `toml:"Pools"`
	Venues      []VenueConfig `toml:"Venues"`
}

type PoolConfig struct {
	ID                      string `toml:"ID"`
	Admin                   string `toml:"Admin"`
	CloseFactorBps          uint64 `toml:"CloseFactorBps"`
	LiquidationIncentiveBps uint64 `toml:"LiquidationIncentiveBps"`
	FlashFeeBps             uint64 `toml:"FlashFeeBps"`
	// AllowOracleOverwrite permits the pool admin to replace price bindings
	// after initialization.
	AllowOracleOverwrite bool           `toml:"AllowOracleOverwrite"`
	Markets              []MarketConfig `toml:"Markets"`
}

type MarketConfig struct {
	Asset               string `toml:"Asset"`
	CollateralFactorBps uint64 `toml:"CollateralFactorBps"`
	// PriceUSD seeds the pool's fixed price source; decimal USD per unit.
	PriceUSD string `toml:"PriceUSD"`
	// PriceEndpoint binds a remote quote feed for the market instead of the
	// fixed seed. The endpoint is queried with ?asset=SYMBOL.
	PriceEndpoint   string `toml:"PriceEndpoint"`
	PriceAPIKey     string `toml:"PriceAPIKey"`
	PriceMaxAgeSecs int64  `toml:"PriceMaxAgeSecs"`
	Paused          bool   `toml:"Paused"`
}

type VenueConfig struct {
	Name    string       `toml:"Name"`
	Router  string       `toml:"Router"`
	Factory string       `toml:"Factory"`
	FeeBps  uint64       `toml:"FeeBps"`
	Pairs   []PairConfig `toml:"Pairs"`
}

type PairConfig struct {
	AssetA   string `toml:"AssetA"`
	AssetB   string `toml:"AssetB"`
	ReserveA string `toml:"ReserveA"`
	ReserveB string `toml:"ReserveB"`
}

// Load reads and validates the protocol configuration at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := &Config{}
	if _, err := toml.Decode(string(raw), cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for structural errors before any runtime
// state is built from it.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: empty configuration")
	}
	if strings.TrimSpace(c.WrappedNative) == "" {
		return fmt.Errorf("config: WrappedNative is required")
	}
	if strings.TrimSpace(c.FlashLender) != "" {
		if _, err := crypto.DecodeAddress(c.FlashLender); err != nil {
			return fmt.Errorf("config: FlashLender: %w", err)
		}
	}
	if len(c.Pools) == 0 {
		return fmt.Errorf("config: at least one pool is required")
	}
	seen := make(map[string]struct{}, len(c.Pools))
	for i := range c.Pools {
		pool := &c.Pools[i]
		if err := pool.validate(); err != nil {
			return err
		}
		if _, dup := seen[pool.ID]; dup {
			return fmt.Errorf("config: duplicate pool %s", pool.ID)
		}
		seen[pool.ID] = struct{}{}
	}
	names := make(map[string]struct{}, len(c.Venues))
	for i := range c.Venues {
		venue := &c.Venues[i]
		if err := venue.validate(); err != nil {
			return err
		}
		key := strings.ToLower(venue.Name)
		if _, dup := names[key]; dup {
			return fmt.Errorf("config: duplicate venue %s", venue.Name)
		}
		names[key] = struct{}{}
	}
	return nil
}

func (p *PoolConfig) validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("config: pool ID is required")
	}
	if strings.TrimSpace(p.Admin) != "" {
		if _, err := crypto.DecodeAddress(p.Admin); err != nil {
			return fmt.Errorf("config: pool %s admin: %w", p.ID, err)
		}
	}
	if p.CloseFactorBps > 10_000 {
		return fmt.Errorf("config: pool %s close factor above 100%%", p.ID)
	}
	if p.LiquidationIncentiveBps <= 10_000 {
		return fmt.Errorf("config: pool %s liquidation incentive must exceed 100%%", p.ID)
	}
	if len(p.Markets) == 0 {
		return fmt.Errorf("config: pool %s has no markets", p.ID)
	}
	assets := make(map[string]struct{}, len(p.Markets))
	for _, market := range p.Markets {
		asset := strings.TrimSpace(market.Asset)
		if asset == "" {
			return fmt.Errorf("config: pool %s market asset is required", p.ID)
		}
		if _, dup := assets[asset]; dup {
			return fmt.Errorf("config: pool %s duplicate market %s", p.ID, asset)
		}
		assets[asset] = struct{}{}
		if market.CollateralFactorBps >= 10_000 {
			return fmt.Errorf("config: pool %s market %s collateral factor must be below 100%%", p.ID, asset)
		}
		if strings.TrimSpace(market.PriceUSD) != "" {
			if _, err := parseDecimal(market.PriceUSD); err != nil {
				return fmt.Errorf("config: pool %s market %s price: %w", p.ID, asset, err)
			}
		}
		if strings.TrimSpace(market.PriceUSD) == "" && strings.TrimSpace(market.PriceEndpoint) == "" {
			return fmt.Errorf("config: pool %s market %s needs PriceUSD or PriceEndpoint", p.ID, asset)
		}
	}
	return nil
}

func (v *VenueConfig) validate() error {
	if strings.TrimSpace(v.Name) == "" {
		return fmt.Errorf("config: venue name is required")
	}
	if _, err := crypto.DecodeAddress(v.Router); err != nil {
		return fmt.Errorf("config: venue %s router: %w", v.Name, err)
	}
	if _, err := crypto.DecodeAddress(v.Factory); err != nil {
		return fmt.Errorf("config: venue %s factory: %w", v.Name, err)
	}
	if v.FeeBps >= 10_000 {
		return fmt.Errorf("config: venue %s fee must be below 100%%", v.Name)
	}
	for _, pair := range v.Pairs {
		if strings.TrimSpace(pair.AssetA) == "" || strings.TrimSpace(pair.AssetB) == "" {
			return fmt.Errorf("config: venue %s pair assets are required", v.Name)
		}
		if pair.AssetA == pair.AssetB {
			return fmt.Errorf("config: venue %s pair %s/%s is degenerate", v.Name, pair.AssetA, pair.AssetB)
		}
		for _, reserve := range []string{pair.ReserveA, pair.ReserveB} {
			amount, err := parseDecimal(reserve)
			if err != nil {
				return fmt.Errorf("config: venue %s pair %s/%s reserve: %w", v.Name, pair.AssetA, pair.AssetB, err)
			}
			if amount.Sign() <= 0 {
				return fmt.Errorf("config: venue %s pair %s/%s reserve must be positive", v.Name, pair.AssetA, pair.AssetB)
			}
		}
	}
	return nil
}

// parseDecimal converts a decimal token amount into 18-decimal fixed point.
func parseDecimal(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("empty amount")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(scale))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()), nil
}

// ParseAmount exposes the fixed-point conversion used throughout the
// configuration.
func ParseAmount(value string) (*big.Int, error) {
	return parseDecimal(value)
}
