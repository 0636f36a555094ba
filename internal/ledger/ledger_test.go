package ledger

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"trading-engine/internal/events"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func intent(id, symbol string, side events.Side, qty, price string) events.OrderIntent {
	return events.OrderIntent{
		CorrelationID: id,
		StrategyID:    "test",
		Symbol:        symbol,
		Side:          side,
		Qty:           d(qty),
		Price:         d(price),
	}
}

func TestReserveValidation(t *testing.T) {
	tests := []struct {
		name   string
		intent events.OrderIntent
	}{
		{"empty correlation id", intent("", "BTCUSDT", events.SideBuy, "1", "100")},
		{"empty symbol", intent("c1", "", events.SideBuy, "1", "100")},
		{"unknown side", intent("c1", "BTCUSDT", events.Side("HOLD"), "1", "100")},
		{"zero qty", intent("c1", "BTCUSDT", events.SideBuy, "0", "100")},
		{"negative qty", intent("c1", "BTCUSDT", events.SideBuy, "-1", "100")},
		{"negative price", intent("c1", "BTCUSDT", events.SideBuy, "1", "-5")},
		{"market order without reference price", intent("c1", "BTCUSDT", events.SideBuy, "1", "0")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(Limits{}, nil)
			dec := l.Reserve(tt.intent)
			if dec.Approved {
				t.Fatalf("expected rejection, got approval")
			}
			if dec.Reason != ReasonValidation {
				t.Fatalf("reason = %q, want %q", dec.Reason, ReasonValidation)
			}
			if l.Exposure().Sign() != 0 {
				t.Fatalf("rejected intent leaked exposure %s", l.Exposure())
			}
		})
	}
}

func TestReserveDuplicateIntent(t *testing.T) {
	l := New(Limits{}, nil)
	if dec := l.Reserve(intent("c1", "BTCUSDT", events.SideBuy, "1", "100")); !dec.Approved {
		t.Fatalf("first reserve rejected: %s", dec.Detail)
	}
	dec := l.Reserve(intent("c1", "BTCUSDT", events.SideSell, "2", "100"))
	if dec.Approved || dec.Reason != ReasonDuplicateIntent {
		t.Fatalf("duplicate decision = %+v, want DuplicateIntent rejection", dec)
	}

	// A released id can be reused.
	if !l.Release("c1") {
		t.Fatal("release returned false for live reservation")
	}
	if dec := l.Reserve(intent("c1", "BTCUSDT", events.SideBuy, "1", "100")); !dec.Approved {
		t.Fatalf("reuse after release rejected: %s", dec.Detail)
	}
}

func TestReserveRateLimit(t *testing.T) {
	l := New(Limits{MaxOrderRate: rate.Limit(0.001), OrderBurst: 2}, nil)
	for i := 0; i < 2; i++ {
		id := fmt.Sprintf("c%d", i)
		if dec := l.Reserve(intent(id, "BTCUSDT", events.SideBuy, "1", "100")); !dec.Approved {
			t.Fatalf("reserve %s within burst rejected: %s", id, dec.Detail)
		}
	}
	dec := l.Reserve(intent("c2", "BTCUSDT", events.SideBuy, "1", "100"))
	if dec.Approved || dec.Reason != ReasonRiskLimit {
		t.Fatalf("decision over burst = %+v, want RiskLimitExceeded", dec)
	}
}

func TestReservePositionLimitCountsPending(t *testing.T) {
	l := New(Limits{MaxPositionPerInstrument: d("10")}, nil)

	if dec := l.Reserve(intent("c1", "BTCUSDT", events.SideBuy, "10", "100")); !dec.Approved {
		t.Fatalf("reserve at cap rejected: %s", dec.Detail)
	}
	// The full cap is reserved, so even one more unit must be denied before
	// the first order resolves.
	dec := l.Reserve(intent("c2", "BTCUSDT", events.SideBuy, "1", "100"))
	if dec.Approved || dec.Reason != ReasonRiskLimit {
		t.Fatalf("decision = %+v, want RiskLimitExceeded while reservation pending", dec)
	}

	// Still denied once the reservation converts into a held position.
	if err := l.ApplyFill("c1", d("10"), d("100")); err != nil {
		t.Fatal(err)
	}
	dec = l.Reserve(intent("c3", "BTCUSDT", events.SideBuy, "1", "100"))
	if dec.Approved || dec.Reason != ReasonRiskLimit {
		t.Fatalf("decision = %+v, want RiskLimitExceeded after fill", dec)
	}

	// Selling reduces the projection and is allowed.
	if dec := l.Reserve(intent("c4", "BTCUSDT", events.SideSell, "5", "100")); !dec.Approved {
		t.Fatalf("reducing sell rejected: %s", dec.Detail)
	}

	// Other instruments are unaffected.
	if dec := l.Reserve(intent("c5", "ETHUSDT", events.SideBuy, "10", "100")); !dec.Approved {
		t.Fatalf("other instrument rejected: %s", dec.Detail)
	}
}

func TestReserveExposureLimit(t *testing.T) {
	l := New(Limits{MaxNotionalExposure: d("1000")}, nil)

	if dec := l.Reserve(intent("c1", "BTCUSDT", events.SideBuy, "6", "100")); !dec.Approved {
		t.Fatalf("first reserve rejected: %s", dec.Detail)
	}
	// 600 reserved; another 500 would project 1100 > 1000, across instruments.
	dec := l.Reserve(intent("c2", "ETHUSDT", events.SideBuy, "5", "100"))
	if dec.Approved || dec.Reason != ReasonRiskLimit {
		t.Fatalf("decision = %+v, want exposure rejection", dec)
	}
	// 400 still fits exactly.
	if dec := l.Reserve(intent("c3", "ETHUSDT", events.SideBuy, "4", "100")); !dec.Approved {
		t.Fatalf("exact-fit reserve rejected: %s", dec.Detail)
	}
	if got := l.Exposure(); !got.Equal(d("1000")) {
		t.Fatalf("exposure = %s, want 1000", got)
	}
}

func TestApplyFillWeightedAverageCost(t *testing.T) {
	l := New(Limits{}, nil)

	mustReserve(t, l, intent("c1", "BTCUSDT", events.SideBuy, "10", "100"))
	if err := l.ApplyFill("c1", d("10"), d("100")); err != nil {
		t.Fatal(err)
	}
	mustReserve(t, l, intent("c2", "BTCUSDT", events.SideBuy, "10", "200"))
	if err := l.ApplyFill("c2", d("10"), d("200")); err != nil {
		t.Fatal(err)
	}

	pos := l.Position("BTCUSDT")
	if !pos.Qty.Equal(d("20")) {
		t.Fatalf("qty = %s, want 20", pos.Qty)
	}
	if !pos.AvgCost.Equal(d("150")) {
		t.Fatalf("avg cost = %s, want 150", pos.AvgCost)
	}

	// Reducing keeps the basis.
	mustReserve(t, l, intent("c3", "BTCUSDT", events.SideSell, "5", "150"))
	if err := l.ApplyFill("c3", d("5"), d("180")); err != nil {
		t.Fatal(err)
	}
	pos = l.Position("BTCUSDT")
	if !pos.Qty.Equal(d("15")) || !pos.AvgCost.Equal(d("150")) {
		t.Fatalf("after reduce: qty=%s avg=%s, want 15/150", pos.Qty, pos.AvgCost)
	}
}

func TestApplyFillFlipResetsBasis(t *testing.T) {
	l := New(Limits{}, nil)

	mustReserve(t, l, intent("c1", "BTCUSDT", events.SideBuy, "5", "100"))
	if err := l.ApplyFill("c1", d("5"), d("100")); err != nil {
		t.Fatal(err)
	}
	mustReserve(t, l, intent("c2", "BTCUSDT", events.SideSell, "12", "110"))
	if err := l.ApplyFill("c2", d("12"), d("110")); err != nil {
		t.Fatal(err)
	}

	pos := l.Position("BTCUSDT")
	if !pos.Qty.Equal(d("-7")) {
		t.Fatalf("qty = %s, want -7", pos.Qty)
	}
	if !pos.AvgCost.Equal(d("110")) {
		t.Fatalf("avg cost = %s, want 110 after flip", pos.AvgCost)
	}
}

func TestApplyFillToFlatClearsBasis(t *testing.T) {
	l := New(Limits{}, nil)

	mustReserve(t, l, intent("c1", "BTCUSDT", events.SideBuy, "5", "100"))
	if err := l.ApplyFill("c1", d("5"), d("100")); err != nil {
		t.Fatal(err)
	}
	mustReserve(t, l, intent("c2", "BTCUSDT", events.SideSell, "5", "120"))
	if err := l.ApplyFill("c2", d("5"), d("120")); err != nil {
		t.Fatal(err)
	}

	pos := l.Position("BTCUSDT")
	if pos.Qty.Sign() != 0 || pos.AvgCost.Sign() != 0 {
		t.Fatalf("flat position = qty %s avg %s, want 0/0", pos.Qty, pos.AvgCost)
	}
	if got := l.Exposure(); got.Sign() != 0 {
		t.Fatalf("exposure = %s, want 0 when flat", got)
	}
}

func TestApplyFillErrors(t *testing.T) {
	l := New(Limits{}, nil)
	mustReserve(t, l, intent("c1", "BTCUSDT", events.SideBuy, "5", "100"))

	if err := l.ApplyFill("missing", d("1"), d("100")); err == nil {
		t.Fatal("fill against unknown reservation succeeded")
	}
	if err := l.ApplyFill("c1", d("0"), d("100")); err == nil {
		t.Fatal("zero-qty fill succeeded")
	}
	if err := l.ApplyFill("c1", d("6"), d("100")); err == nil {
		t.Fatal("overfill beyond reservation succeeded")
	}
}

func TestPartialFillsConsumeReservation(t *testing.T) {
	l := New(Limits{}, nil)
	mustReserve(t, l, intent("c1", "BTCUSDT", events.SideBuy, "10", "100"))

	if err := l.ApplyFill("c1", d("4"), d("100")); err != nil {
		t.Fatal(err)
	}
	if err := l.ApplyFill("c1", d("6"), d("100")); err != nil {
		t.Fatal(err)
	}
	// Fully consumed, so the reservation is gone.
	if l.Release("c1") {
		t.Fatal("release returned true after reservation fully consumed")
	}
	if !l.Position("BTCUSDT").Qty.Equal(d("10")) {
		t.Fatalf("position = %s, want 10", l.Position("BTCUSDT").Qty)
	}
	// Exposure is the held notional only.
	if got := l.Exposure(); !got.Equal(d("1000")) {
		t.Fatalf("exposure = %s, want 1000", got)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	l := New(Limits{}, nil)
	mustReserve(t, l, intent("c1", "BTCUSDT", events.SideBuy, "10", "100"))

	if !l.Release("c1") {
		t.Fatal("first release returned false")
	}
	if l.Release("c1") {
		t.Fatal("second release returned true")
	}
	if got := l.Exposure(); got.Sign() != 0 {
		t.Fatalf("exposure = %s, want 0 after release", got)
	}
}

func TestReleaseAfterPartialFillFreesRemainder(t *testing.T) {
	l := New(Limits{}, nil)
	mustReserve(t, l, intent("c1", "BTCUSDT", events.SideBuy, "10", "100"))
	if err := l.ApplyFill("c1", d("4"), d("100")); err != nil {
		t.Fatal(err)
	}
	if !l.Release("c1") {
		t.Fatal("release after partial fill returned false")
	}
	// Only the held 4 @ 100 remains in exposure.
	if got := l.Exposure(); !got.Equal(d("400")) {
		t.Fatalf("exposure = %s, want 400", got)
	}
}

func TestMarkPriceRemarksExposure(t *testing.T) {
	l := New(Limits{}, nil)
	mustReserve(t, l, intent("c1", "BTCUSDT", events.SideBuy, "10", "100"))
	if err := l.ApplyFill("c1", d("10"), d("100")); err != nil {
		t.Fatal(err)
	}

	l.MarkPrice("BTCUSDT", d("150"))
	if got := l.Exposure(); !got.Equal(d("1500")) {
		t.Fatalf("exposure = %s, want 1500 after re-mark", got)
	}
	if got := l.LastPrice("BTCUSDT"); !got.Equal(d("150")) {
		t.Fatalf("last price = %s, want 150", got)
	}

	// Non-positive marks are ignored.
	l.MarkPrice("BTCUSDT", d("0"))
	if got := l.LastPrice("BTCUSDT"); !got.Equal(d("150")) {
		t.Fatalf("last price = %s after zero mark, want 150", got)
	}
}

func TestMarketOrderReservedAtMark(t *testing.T) {
	l := New(Limits{MaxNotionalExposure: d("1000")}, nil)
	l.MarkPrice("BTCUSDT", d("200"))

	// Market order: notional from the mark, 6*200 > 1000.
	dec := l.Reserve(intent("c1", "BTCUSDT", events.SideBuy, "6", "0"))
	if dec.Approved || dec.Reason != ReasonRiskLimit {
		t.Fatalf("decision = %+v, want exposure rejection at mark price", dec)
	}
	if dec := l.Reserve(intent("c2", "BTCUSDT", events.SideBuy, "5", "0")); !dec.Approved {
		t.Fatalf("market order within limit rejected: %s", dec.Detail)
	}
	if got := l.Exposure(); !got.Equal(d("1000")) {
		t.Fatalf("exposure = %s, want 1000", got)
	}
}

func TestSnapshotSkipsFlatPositions(t *testing.T) {
	l := New(Limits{}, nil)
	mustReserve(t, l, intent("c1", "BTCUSDT", events.SideBuy, "5", "100"))
	if err := l.ApplyFill("c1", d("5"), d("100")); err != nil {
		t.Fatal(err)
	}
	mustReserve(t, l, intent("c2", "ETHUSDT", events.SideBuy, "3", "50"))

	snap := l.Snapshot()
	if len(snap.Positions) != 1 {
		t.Fatalf("positions = %d, want 1 (flat ETHUSDT excluded)", len(snap.Positions))
	}
	if !snap.Positions["BTCUSDT"].Qty.Equal(d("5")) {
		t.Fatalf("snapshot qty = %s, want 5", snap.Positions["BTCUSDT"].Qty)
	}
	if snap.Reservations != 1 {
		t.Fatalf("reservations = %d, want 1", snap.Reservations)
	}
	if !snap.Exposure.Equal(d("650")) {
		t.Fatalf("exposure = %s, want 650", snap.Exposure)
	}
}

func mustReserve(t *testing.T, l *Ledger, in events.OrderIntent) {
	t.Helper()
	if dec := l.Reserve(in); !dec.Approved {
		t.Fatalf("reserve %s rejected: %s %s", in.CorrelationID, dec.Reason, dec.Detail)
	}
}
