package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type LiquidationMetrics struct {
	attempts       *prometheus.CounterVec
	repaidTotal    *prometheus.CounterVec
	seizedTotal    *prometheus.CounterVec
	flashLoans     *prometheus.CounterVec
	flashFeesTotal *prometheus.CounterVec
	oracleFailures *prometheus.CounterVec
	openShortfall  *prometheus.GaugeVec
}

var (
	liquidationOnce     sync.Once
	liquidationRegistry *LiquidationMetrics
)

func Liquidation() *LiquidationMetrics {
	liquidationOnce.Do(func() {
		liquidationRegistry = &LiquidationMetrics{
			attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "liquidation_attempts_total",
				Help: "Count of liquidation executions by pool and outcome.",
			}, []string{"pool", "outcome"}),
			repaidTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "liquidation_repaid_units_total",
				Help: "Total debt repaid through liquidations by pool and asset.",
			}, []string{"pool", "asset"}),
			seizedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "liquidation_seized_units_total",
				Help: "Total collateral seized through liquidations by pool and asset.",
			}, []string{"pool", "asset"}),
			flashLoans: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "liquidation_flash_loans_total",
				Help: "Count of flash-funded executions by pool and outcome.",
			}, []string{"pool", "outcome"}),
			flashFeesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "liquidation_flash_fee_units_total",
				Help: "Total flash-loan fees paid by pool and asset.",
			}, []string{"pool", "asset"}),
			oracleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "oracle_price_failures_total",
				Help: "Count of price resolution failures by asset.",
			}, []string{"asset"}),
			openShortfall: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "risk_account_shortfall",
				Help: "Last observed shortfall per evaluated account.",
			}, []string{"pool", "account"}),
		}
		prometheus.MustRegister(
			liquidationRegistry.attempts,
			liquidationRegistry.repaidTotal,
			liquidationRegistry.seizedTotal,
			liquidationRegistry.flashLoans,
			liquidationRegistry.flashFeesTotal,
			liquidationRegistry.oracleFailures,
			liquidationRegistry.openShortfall,
		)
	})
	return liquidationRegistry
}

func (m *LiquidationMetrics) ObserveAttempt(pool, outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.attempts.WithLabelValues(pool, outcome).Inc()
}

func (m *LiquidationMetrics) AddRepaid(pool, asset string, units float64) {
	if m == nil || units <= 0 {
		return
	}
	m.repaidTotal.WithLabelValues(pool, asset).Add(units)
}

func (m *LiquidationMetrics) AddSeized(pool, asset string, units float64) {
	if m == nil || units <= 0 {
		return
	}
	m.seizedTotal.WithLabelValues(pool, asset).Add(units)
}

func (m *LiquidationMetrics) ObserveFlashLoan(pool, outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.flashLoans.WithLabelValues(pool, outcome).Inc()
}

func (m *LiquidationMetrics) AddFlashFee(pool, asset string, units float64) {
	if m == nil || units <= 0 {
		return
	}
	m.flashFeesTotal.WithLabelValues(pool, asset).Add(units)
}

func (m *LiquidationMetrics) IncOracleFailure(asset string) {
	if m == nil {
		return
	}
	if asset == "" {
		asset = "unknown"
	}
	m.oracleFailures.WithLabelValues(asset).Inc()
}

func (m *LiquidationMetrics) SetShortfall(pool, account string, shortfall float64) {
	if m == nil {
		return
	}
	m.openShortfall.WithLabelValues(pool, account).Set(shortfall)
}
