package server

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"marginpool/crypto"
	nativecommon "marginpool/native/common"
	"marginpool/native/lending"
	"marginpool/native/liquidation"
	"marginpool/native/oracle"
	"marginpool/native/swap"
)

func makeAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = suffix
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func unit(value string) *big.Int {
	rat, ok := new(big.Rat).SetString(value)
	if !ok {
		panic("invalid amount " + value)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(scale))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom())
}

type testEnv struct {
	rt         *Runtime
	handler    http.Handler
	prices     *oracle.FixedSource
	borrower   crypto.Address
	liquidator crypto.Address
}

// newTestEnv seeds an underwater position identical to the engine fixtures:
// 1000 AAA supplied at price 4 with a 50% collateral factor against 4000 BBB
// borrowed at 1.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		prices:     oracle.NewFixedSource(),
		borrower:   makeAddress(0x01),
		liquidator: makeAddress(0x02),
	}
	require.NoError(t, env.prices.SetDecimalPrice("AAA", "4"))
	require.NoError(t, env.prices.SetDecimalPrice("BBB", "1"))

	pool := &lending.Pool{
		ID:                      "main",
		Admin:                   makeAddress(0xff),
		CloseFactorBps:          5000,
		LiquidationIncentiveBps: 11000,
		FlashFeeBps:             10,
		Prices:                  env.prices,
	}
	require.NoError(t, pool.AddMarket(lending.Market{Asset: "AAA", CollateralFactorBps: 5000}))
	require.NoError(t, pool.AddMarket(lending.Market{Asset: "BBB", CollateralFactorBps: 8000}))

	ledger := lending.NewMemoryLedger()
	ledger.ListMarket("main", "AAA")
	ledger.ListMarket("main", "BBB")
	require.NoError(t, ledger.Mint(env.borrower, "AAA", unit("1000")))
	require.NoError(t, ledger.Supply("main", "AAA", env.borrower, unit("1000")))
	require.NoError(t, ledger.Borrow("main", "BBB", env.borrower, unit("4000")))
	require.NoError(t, ledger.Mint(env.liquidator, "BBB", unit("2000")))

	router := swap.NewRouter("WNAT")
	venue := swap.NewPairVenue(makeAddress(0xa0), makeAddress(0xa1))
	require.NoError(t, venue.SetReserves(ledger, "AAA", "BBB", unit("1000000"), unit("4000000")))
	router.Register("amm", venue)

	executor := makeAddress(0xe0)
	engine := liquidation.NewEngine(ledger, router, executor)
	engine.SetFlashLender(makeAddress(0xf0))

	env.rt = &Runtime{
		Ledger:   ledger,
		Pools:    map[string]*lending.Pool{"main": pool},
		Router:   router,
		Engine:   engine,
		Executor: executor,
		Pauses:   nativecommon.NewStaticPauses(),
	}
	env.handler = New(env.rt, nil).Handler()
	return env
}

func (env *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func (env *testEnv) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	env.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.get(t, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAccountLiquidity(t *testing.T) {
	env := newTestEnv(t)
	rec := env.get(t, "/v1/pools/main/accounts/"+env.borrower.String()+"/liquidity")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp liquidityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Liquidatable)
	require.Equal(t, unit("2000").String(), resp.Shortfall)
	require.Equal(t, unit("2000").String(), resp.Collateral)
	require.Equal(t, unit("4000").String(), resp.Borrowed)
}

func TestAccountLiquidityUnknownPool(t *testing.T) {
	env := newTestEnv(t)
	rec := env.get(t, "/v1/pools/ghost/accounts/"+env.borrower.String()+"/liquidity")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccountLiquidityBadAddress(t *testing.T) {
	env := newTestEnv(t)
	rec := env.get(t, "/v1/pools/main/accounts/not-an-address/liquidity")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLiquidationExecutes(t *testing.T) {
	env := newTestEnv(t)
	rec := env.post(t, "/v1/pools/main/liquidations", liquidationRequest{
		Liquidator:      env.liquidator.String(),
		Borrower:        env.borrower.String(),
		DebtAsset:       "BBB",
		CollateralAsset: "AAA",
		SettleAsset:     "AAA",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp liquidationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, unit("2000").String(), resp.Repaid)
	require.Equal(t, unit("550").String(), resp.Seized)
	require.Equal(t, "AAA", resp.SettleAsset)
}

func TestLiquidationFlashExecutes(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.rt.Ledger.Mint(makeAddress(0xf0), "BBB", unit("100000")))

	rec := env.post(t, "/v1/pools/main/liquidations", liquidationRequest{
		Liquidator:      env.liquidator.String(),
		Borrower:        env.borrower.String(),
		DebtAsset:       "BBB",
		CollateralAsset: "AAA",
		SettleAsset:     "BBB",
		Venue:           "amm",
		Flash:           true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp liquidationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Flash)
	require.Equal(t, unit("2000").String(), resp.Repaid)
	require.Equal(t, unit("550").String(), resp.Seized)
}

func TestAccountLiquidityOracleOutage(t *testing.T) {
	env := newTestEnv(t)
	partial := oracle.NewFixedSource()
	require.NoError(t, partial.SetDecimalPrice("BBB", "1"))
	env.rt.Pools["main"].Prices = partial

	rec := env.get(t, "/v1/pools/main/accounts/"+env.borrower.String()+"/liquidity")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLiquidationHealthyBorrowerConflicts(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.prices.SetDecimalPrice("AAA", "10"))

	rec := env.post(t, "/v1/pools/main/liquidations", liquidationRequest{
		Liquidator:      env.liquidator.String(),
		Borrower:        env.borrower.String(),
		DebtAsset:       "BBB",
		CollateralAsset: "AAA",
		SettleAsset:     "AAA",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestLiquidationRejectsBadBody(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/pools/main/liquidations", bytes.NewReader([]byte("{not json")))
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLiquidationRepayBound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.post(t, "/v1/pools/main/liquidations", liquidationRequest{
		Liquidator:      env.liquidator.String(),
		Borrower:        env.borrower.String(),
		DebtAsset:       "BBB",
		CollateralAsset: "AAA",
		SettleAsset:     "AAA",
		RepayAmount:     unit("2001").String(),
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
