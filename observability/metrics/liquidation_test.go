package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAddFlashFeeAccumulates(t *testing.T) {
	m := Liquidation()
	before := testutil.ToFloat64(m.flashFeesTotal.WithLabelValues("main", "BBB"))
	m.AddFlashFee("main", "BBB", 2)
	m.AddFlashFee("main", "BBB", 0)
	m.AddFlashFee("main", "BBB", -1)
	after := testutil.ToFloat64(m.flashFeesTotal.WithLabelValues("main", "BBB"))
	if got := after - before; got != 2 {
		t.Fatalf("expected fee counter to grow by 2, got %v", got)
	}
}

func TestIncOracleFailureLabelsAsset(t *testing.T) {
	m := Liquidation()
	before := testutil.ToFloat64(m.oracleFailures.WithLabelValues("AAA"))
	m.IncOracleFailure("AAA")
	after := testutil.ToFloat64(m.oracleFailures.WithLabelValues("AAA"))
	if got := after - before; got != 1 {
		t.Fatalf("expected failure counter to grow by 1, got %v", got)
	}

	unknown := testutil.ToFloat64(m.oracleFailures.WithLabelValues("unknown"))
	m.IncOracleFailure("")
	if got := testutil.ToFloat64(m.oracleFailures.WithLabelValues("unknown")) - unknown; got != 1 {
		t.Fatalf("expected blank asset to count as unknown, got %v", got)
	}
}

func TestLiquidationMetricsNilSafe(t *testing.T) {
	var m *LiquidationMetrics
	m.ObserveAttempt("main", "ok")
	m.AddFlashFee("main", "BBB", 1)
	m.IncOracleFailure("AAA")
	m.SetShortfall("main", "acct", 1)
}
