package server

import (
	"fmt"
	"time"

	"marginpool/config"
	"marginpool/core/types"
	"marginpool/crypto"
	nativecommon "marginpool/native/common"
	"marginpool/native/lending"
	"marginpool/native/liquidation"
	"marginpool/native/oracle"
	"marginpool/native/swap"
)

// Runtime is the assembled protocol state the daemon serves: the ledger, the
// configured pools with their price aggregators, the exchange router and the
// liquidation engine sitting on top.
type Runtime struct {
	Ledger   *lending.MemoryLedger
	Pools    map[string]*lending.Pool
	Router   *swap.Router
	Engine   *liquidation.Engine
	Executor crypto.Address
	Pauses   *nativecommon.StaticPauses
}

// Pool looks up a configured pool by identifier.
func (rt *Runtime) Pool(id string) (*lending.Pool, bool) {
	if rt == nil {
		return nil, false
	}
	pool, ok := rt.Pools[id]
	return pool, ok
}

// BuildRuntime assembles the runtime from a validated protocol configuration.
// The executor account is generated fresh on every start; it holds funds only
// transiently inside a liquidation.
func BuildRuntime(cfg *config.Config) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("runtime: nil protocol config")
	}
	executorKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("runtime: executor key: %w", err)
	}
	executor := executorKey.PubKey().Address()

	ledger := lending.NewMemoryLedger()
	router := swap.NewRouter(types.NormalizeAsset(cfg.WrappedNative))
	for _, venueCfg := range cfg.Venues {
		venue, err := buildVenue(venueCfg, ledger)
		if err != nil {
			return nil, err
		}
		router.Register(venueCfg.Name, venue)
	}

	pools := make(map[string]*lending.Pool, len(cfg.Pools))
	for _, poolCfg := range cfg.Pools {
		pool, err := buildPool(poolCfg, ledger)
		if err != nil {
			return nil, err
		}
		pools[pool.ID] = pool
	}

	engine := liquidation.NewEngine(ledger, router, executor)
	if cfg.FlashLender != "" {
		lender, err := crypto.DecodeAddress(cfg.FlashLender)
		if err != nil {
			return nil, fmt.Errorf("runtime: flash lender: %w", err)
		}
		engine.SetFlashLender(lender)
	}

	pauses := nativecommon.NewStaticPauses()
	engine.SetPauses(pauses)

	return &Runtime{
		Ledger:   ledger,
		Pools:    pools,
		Router:   router,
		Engine:   engine,
		Executor: executor,
		Pauses:   pauses,
	}, nil
}

func buildVenue(cfg config.VenueConfig, ledger *lending.MemoryLedger) (*swap.PairVenue, error) {
	routerAddr, err := crypto.DecodeAddress(cfg.Router)
	if err != nil {
		return nil, fmt.Errorf("runtime: venue %s router: %w", cfg.Name, err)
	}
	factoryAddr, err := crypto.DecodeAddress(cfg.Factory)
	if err != nil {
		return nil, fmt.Errorf("runtime: venue %s factory: %w", cfg.Name, err)
	}
	venue := swap.NewPairVenue(routerAddr, factoryAddr)
	if cfg.FeeBps > 0 {
		venue.SetFeeBps(cfg.FeeBps)
	}
	for _, pair := range cfg.Pairs {
		reserveA, err := config.ParseAmount(pair.ReserveA)
		if err != nil {
			return nil, fmt.Errorf("runtime: venue %s pair %s/%s: %w", cfg.Name, pair.AssetA, pair.AssetB, err)
		}
		reserveB, err := config.ParseAmount(pair.ReserveB)
		if err != nil {
			return nil, fmt.Errorf("runtime: venue %s pair %s/%s: %w", cfg.Name, pair.AssetA, pair.AssetB, err)
		}
		a := types.NormalizeAsset(pair.AssetA)
		b := types.NormalizeAsset(pair.AssetB)
		if err := venue.SetReserves(ledger, a, b, reserveA, reserveB); err != nil {
			return nil, fmt.Errorf("runtime: venue %s pair %s/%s: %w", cfg.Name, a, b, err)
		}
	}
	return venue, nil
}

func buildPool(cfg config.PoolConfig, ledger *lending.MemoryLedger) (*lending.Pool, error) {
	admin := crypto.Address{}
	if cfg.Admin != "" {
		decoded, err := crypto.DecodeAddress(cfg.Admin)
		if err != nil {
			return nil, fmt.Errorf("runtime: pool %s admin: %w", cfg.ID, err)
		}
		admin = decoded
	}

	prices := oracle.NewFixedSource()
	assets := make([]types.Asset, 0, len(cfg.Markets))
	sources := make([]oracle.Source, 0, len(cfg.Markets))
	pool := &lending.Pool{
		ID:                      cfg.ID,
		Admin:                   admin,
		CloseFactorBps:          cfg.CloseFactorBps,
		LiquidationIncentiveBps: cfg.LiquidationIncentiveBps,
		FlashFeeBps:             cfg.FlashFeeBps,
	}
	for _, marketCfg := range cfg.Markets {
		asset := types.NormalizeAsset(marketCfg.Asset)
		switch {
		case marketCfg.PriceEndpoint != "":
			maxAge := time.Duration(marketCfg.PriceMaxAgeSecs) * time.Second
			assets = append(assets, asset)
			sources = append(sources, oracle.NewHTTPSource(nil, marketCfg.PriceEndpoint, marketCfg.PriceAPIKey, maxAge))
		case marketCfg.PriceUSD != "":
			if err := prices.SetDecimalPrice(asset, marketCfg.PriceUSD); err != nil {
				return nil, fmt.Errorf("runtime: pool %s market %s: %w", cfg.ID, asset, err)
			}
			assets = append(assets, asset)
			sources = append(sources, prices)
		}
		if err := pool.AddMarket(lending.Market{
			Asset:               asset,
			CollateralFactorBps: marketCfg.CollateralFactorBps,
			Paused:              marketCfg.Paused,
		}); err != nil {
			return nil, fmt.Errorf("runtime: pool %s: %w", cfg.ID, err)
		}
		ledger.ListMarket(cfg.ID, asset)
	}

	agg := oracle.NewAggregator()
	if err := agg.Initialize(assets, sources, nil, admin, cfg.AllowOracleOverwrite); err != nil {
		return nil, fmt.Errorf("runtime: pool %s oracle: %w", cfg.ID, err)
	}
	pool.Prices = agg

	if err := pool.Validate(); err != nil {
		return nil, fmt.Errorf("runtime: pool %s: %w", cfg.ID, err)
	}
	return pool, nil
}
