package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marginpool/core/types"
	"marginpool/crypto"
	nativecommon "marginpool/native/common"
	"marginpool/native/lending"
	"marginpool/native/liquidation"
	"marginpool/native/risk"
	"marginpool/native/swap"
	"marginpool/observability/metrics"
)

const requestLimit = 1 << 20 // 1 MiB

// Server exposes the liquidation runtime over HTTP.
type Server struct {
	rt      *Runtime
	logger  *slog.Logger
	metrics *metrics.LiquidationMetrics
}

// New builds the HTTP front end for a runtime.
func New(rt *Runtime, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{rt: rt, logger: logger, metrics: metrics.Liquidation()}
}

// Handler returns the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/v1/pools/{pool}", func(r chi.Router) {
		r.Get("/accounts/{address}/liquidity", s.accountLiquidity)
		r.Post("/liquidations", s.liquidate)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type liquidityResponse struct {
	Pool         string `json:"pool"`
	Account      string `json:"account"`
	Collateral   string `json:"collateral"`
	Borrowed     string `json:"borrowed"`
	Shortfall    string `json:"shortfall"`
	Liquidatable bool   `json:"liquidatable"`
}

func (s *Server) accountLiquidity(w http.ResponseWriter, r *http.Request) {
	pool, ok := s.rt.Pool(chi.URLParam(r, "pool"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown pool")
		return
	}
	addr, err := crypto.DecodeAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}

	liq, err := risk.NewEvaluator(s.rt.Ledger).Evaluate(pool, addr)
	if err != nil {
		s.logger.Error("liquidity evaluation failed",
			slog.String("pool", pool.ID),
			slog.String("error", err.Error()))
		if errors.Is(err, risk.ErrPriceUnavailable) {
			s.metrics.IncOracleFailure(failedPriceAsset(err))
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}

	s.metrics.SetShortfall(pool.ID, addr.String(), unitsToFloat(liq.Shortfall))
	writeJSON(w, http.StatusOK, liquidityResponse{
		Pool:         pool.ID,
		Account:      addr.String(),
		Collateral:   liq.Collateral.String(),
		Borrowed:     liq.Borrowed.String(),
		Shortfall:    liq.Shortfall.String(),
		Liquidatable: liq.Liquidatable(),
	})
}

type liquidationRequest struct {
	Liquidator      string   `json:"liquidator"`
	Borrower        string   `json:"borrower"`
	DebtAsset       string   `json:"debt_asset"`
	CollateralAsset string   `json:"collateral_asset"`
	RepayAmount     string   `json:"repay_amount"`
	SettleAsset     string   `json:"settle_asset"`
	Venue           string   `json:"venue"`
	Path            []string `json:"path"`
	MinOut          string   `json:"min_out"`
	Flash           bool     `json:"flash"`
}

type liquidationResponse struct {
	Pool        string `json:"pool"`
	Repaid      string `json:"repaid"`
	Seized      string `json:"seized"`
	Settled     string `json:"settled"`
	SettleAsset string `json:"settle_asset"`
	Flash       bool   `json:"flash"`
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	pool, ok := s.rt.Pool(chi.URLParam(r, "pool"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown pool")
		return
	}

	var body liquidationRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, requestLimit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	liquidator, err := crypto.DecodeAddress(body.Liquidator)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid liquidator address")
		return
	}
	borrower, err := crypto.DecodeAddress(body.Borrower)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid borrower address")
		return
	}
	repay, err := parseOptionalAmount(body.RepayAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid repay_amount")
		return
	}
	minOut, err := parseOptionalAmount(body.MinOut)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid min_out")
		return
	}

	req := liquidation.Request{
		Borrower:        borrower,
		DebtAsset:       types.NormalizeAsset(body.DebtAsset),
		CollateralAsset: types.NormalizeAsset(body.CollateralAsset),
		RepayAmount:     repay,
		SettleAsset:     types.NormalizeAsset(body.SettleAsset),
		Venue:           body.Venue,
		MinOut:          minOut,
	}
	for _, hop := range body.Path {
		req.Path = append(req.Path, types.NormalizeAsset(hop))
	}

	var res liquidation.Result
	if body.Flash {
		res, err = s.rt.Engine.LiquidateWithFlashLoan(pool, liquidator, req)
	} else {
		res, err = s.rt.Engine.Liquidate(pool, liquidator, req)
	}

	outcome := "ok"
	if err != nil {
		outcome = outcomeLabel(err)
	}
	s.metrics.ObserveAttempt(pool.ID, outcome)
	if body.Flash {
		s.metrics.ObserveFlashLoan(pool.ID, outcome)
	}
	if errors.Is(err, risk.ErrPriceUnavailable) {
		s.metrics.IncOracleFailure(failedPriceAsset(err))
	}

	if err != nil {
		s.logger.Warn("liquidation rejected",
			slog.String("pool", pool.ID),
			slog.String("borrower", borrower.String()),
			slog.String("outcome", outcome),
			slog.String("error", err.Error()))
		writeError(w, statusFor(err), err.Error())
		return
	}

	s.metrics.AddRepaid(pool.ID, string(req.DebtAsset), unitsToFloat(res.Repaid))
	s.metrics.AddSeized(pool.ID, string(req.CollateralAsset), unitsToFloat(res.Seized))
	if body.Flash {
		fee := lending.BpsMul(res.Repaid, pool.FlashFeeBps)
		s.metrics.AddFlashFee(pool.ID, string(req.DebtAsset), unitsToFloat(fee))
	}
	s.logger.Info("liquidation executed",
		slog.String("pool", pool.ID),
		slog.String("borrower", borrower.String()),
		slog.String("liquidator", liquidator.String()),
		slog.String("repaid", res.Repaid.String()),
		slog.String("seized", res.Seized.String()))

	writeJSON(w, http.StatusOK, liquidationResponse{
		Pool:        pool.ID,
		Repaid:      res.Repaid.String(),
		Seized:      res.Seized.String(),
		Settled:     res.Settled.String(),
		SettleAsset: res.SettleAsset.String(),
		Flash:       body.Flash,
	})
}

// failedPriceAsset pulls the failing market out of a price resolution error.
func failedPriceAsset(err error) string {
	var pe *risk.PriceError
	if errors.As(err, &pe) {
		return string(pe.Asset)
	}
	return ""
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, liquidation.ErrBorrowerHealthy):
		return "healthy"
	case errors.Is(err, liquidation.ErrRepayTooLarge):
		return "repay_bound"
	case errors.Is(err, liquidation.ErrInsufficientCollateral):
		return "collateral_short"
	case errors.Is(err, liquidation.ErrFlashLoanNotRepaid):
		return "flash_unpaid"
	case errors.Is(err, risk.ErrPriceUnavailable):
		return "oracle"
	case errors.Is(err, swap.ErrSlippageExceeded):
		return "slippage"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return "paused"
	default:
		return "error"
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, liquidation.ErrBorrowerHealthy),
		errors.Is(err, liquidation.ErrNoOutstandingDebt):
		return http.StatusConflict
	case errors.Is(err, liquidation.ErrRepayTooLarge),
		errors.Is(err, liquidation.ErrInsufficientCollateral),
		errors.Is(err, liquidation.ErrFlashLoanNotRepaid),
		errors.Is(err, swap.ErrSlippageExceeded),
		errors.Is(err, swap.ErrUnsupportedVenue),
		errors.Is(err, lending.ErrInsufficientBalance),
		errors.Is(err, lending.ErrUnknownMarket),
		errors.Is(err, lending.ErrInvalidAmount):
		return http.StatusUnprocessableEntity
	case errors.Is(err, risk.ErrPriceUnavailable),
		errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func parseOptionalAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, errors.New("invalid amount")
	}
	return amount, nil
}

func unitsToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), big.NewFloat(1e18)).Float64()
	return f
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
