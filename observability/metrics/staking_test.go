package metrics

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStakingMetrics(t *testing.T) {
	m := Staking()
	if m != Staking() {
		t.Fatalf("registry must be a singleton")
	}

	okBefore := testutil.ToFloat64(m.operations.WithLabelValues("claim", "ok"))
	m.ObserveOperation("claim", nil)
	m.ObserveOperation("claim", errors.New("boom"))
	if got := testutil.ToFloat64(m.operations.WithLabelValues("claim", "ok")); got != okBefore+1 {
		t.Fatalf("unexpected ok count %v", got)
	}

	m.SetState(4, uint256.NewInt(729), 19, 19)
	if got := testutil.ToFloat64(m.currentEpoch); got != 4 {
		t.Fatalf("unexpected epoch gauge %v", got)
	}
	if got := testutil.ToFloat64(m.epochPool); got != 729 {
		t.Fatalf("unexpected pool gauge %v", got)
	}

	dustBefore := testutil.ToFloat64(m.roundingDust)
	m.ObserveRoundingDust(uint256.NewInt(1))
	if got := testutil.ToFloat64(m.roundingDust); got != dustBefore+1 {
		t.Fatalf("unexpected dust %v", got)
	}

	var nilMetrics *StakingMetrics
	nilMetrics.ObserveClaim(uint256.NewInt(1), 1)
	if toFloat(nil) != 0 {
		t.Fatalf("nil amounts convert to zero")
	}
}
