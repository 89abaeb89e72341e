package engine

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"PerpMarket/internal/auth"
	"PerpMarket/internal/event"
	"PerpMarket/internal/fixedpoint"
	"PerpMarket/internal/margin"
	"PerpMarket/internal/observability"
	"PerpMarket/internal/treasury"
	"PerpMarket/internal/vamm"
)

const (
	owner      = auth.Address("owner")
	engineAddr = auth.Address("engine")
	whale      = auth.Address("whale")
	alice      = auth.Address("alice")
	bob        = auth.Address("bob")
	recipient  = auth.Address("recipient")
)

func wad(x int64) *big.Int { return fixedpoint.FromInt(x) }

func wadFrac(num, den int64) *big.Int {
	return fixedpoint.MulDiv(big.NewInt(num), fixedpoint.Wad, big.NewInt(den), fixedpoint.RoundDown)
}

func approxEqual(a, b *big.Int, tol *big.Int) bool {
	d := new(big.Int).Sub(a, b)
	d.Abs(d)
	return d.Cmp(tol) <= 0
}

type fixture struct {
	callers *auth.CapabilitySet
	ledger  *margin.Ledger
	tre     *treasury.Treasury
	amm     *vamm.VAMM
	eng     *Engine
	clock   *testClock
}

type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time { return c.t }

func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// newFixture wires a market at mark price 35000 (100 base / 3.5M quote)
// with default risk params.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	callers, err := auth.NewCapabilitySet(owner)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range []auth.Capability{auth.CapLedgerWrite, auth.CapTreasuryCollect, auth.CapSwap} {
		if err := callers.Grant(owner, engineAddr, c); err != nil {
			t.Fatal(err)
		}
	}
	// The whale moves the market in tests.
	if err := callers.Grant(owner, whale, auth.CapSwap); err != nil {
		t.Fatal(err)
	}

	ledger := margin.NewLedger(callers, event.NopSink{}, zerolog.Nop())
	tre, err := treasury.New(callers, recipient, event.NopSink{}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	amm, err := vamm.New(vamm.Config{
		BaseReserve:       wad(100),
		QuoteReserve:      wad(3_500_000),
		MaxPriceImpactBps: 500,
		FundingPeriod:     8 * time.Hour,
		DampingFactor:     wadFrac(5, 100),
		MaxFundingRate:    wadFrac(5, 1000),
	}, callers, event.NopSink{}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	eng, err := New(engineAddr, callers, ledger, tre, amm, DefaultParams(),
		event.NopSink{}, observability.NewMetricsWith(prometheus.NewRegistry()), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	clk := &testClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	amm.SetClock(clk.now)
	eng.SetClock(clk.now)

	return &fixture{callers: callers, ledger: ledger, tre: tre, amm: amm, eng: eng, clock: clk}
}

func (f *fixture) deposit(t *testing.T, account auth.Address, amount *big.Int) {
	t.Helper()
	if err := f.ledger.Deposit(account, amount); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

// crash pushes the mark price down via repeated whale shorts, each
// within the per-swap impact bound.
func (f *fixture) crash(t *testing.T, swaps int) {
	t.Helper()
	for i := 0; i < swaps; i++ {
		if _, _, err := f.amm.SwapInput(whale, false, wad(80_000)); err != nil {
			t.Fatalf("whale swap %d: %v", i, err)
		}
	}
}

func TestOpenPosition(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, wad(10_000))

	pos, err := f.eng.OpenPosition(alice, true, wad(10_000))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// 10% initial margin, 30 bps fee.
	if pos.Margin.Cmp(wad(1000)) != 0 {
		t.Fatalf("margin = %s, want 1000", pos.Margin)
	}
	if got := f.ledger.Locked(alice); got.Cmp(wad(1000)) != 0 {
		t.Fatalf("locked = %s, want 1000", got)
	}
	if got := f.ledger.Balance(alice); got.Cmp(wad(9970)) != 0 {
		t.Fatalf("balance = %s, want 9970 after fee", got)
	}
	if got := f.tre.Balance(); got.Cmp(wad(30)) != 0 {
		t.Fatalf("treasury = %s, want 30", got)
	}

	// Entry is the execution price: size * entry == notional.
	got := fixedpoint.MulWad(pos.EntryPrice, pos.Size)
	if !approxEqual(got, wad(10_000), big.NewInt(1_000_000)) {
		t.Fatalf("entry*size = %s, want ~10000", got)
	}
	// Slippage puts the execution price above the pre-trade mark.
	if pos.EntryPrice.Cmp(wad(35000)) <= 0 {
		t.Fatalf("entry = %s, want > 35000", pos.EntryPrice)
	}
}

func TestOpenValidation(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, wad(10_000))

	if _, err := f.eng.OpenPosition(alice, true, nil); !errors.Is(err, ErrZeroSize) {
		t.Fatalf("nil notional: err = %v", err)
	}
	if _, err := f.eng.OpenPosition(alice, true, wad(-5)); !errors.Is(err, ErrZeroSize) {
		t.Fatalf("negative notional: err = %v", err)
	}
	if _, err := f.eng.OpenPosition(auth.ZeroAddress, true, wad(100)); !errors.Is(err, auth.ErrZeroAddress) {
		t.Fatalf("zero address: err = %v", err)
	}

	// Margin 1000 + fee 30 > 1000 available.
	f.deposit(t, bob, wad(1000))
	if _, err := f.eng.OpenPosition(bob, true, wad(10_000)); !errors.Is(err, ErrInsufficientMargin) {
		t.Fatalf("underfunded open: err = %v", err)
	}

	// One position per account.
	if _, err := f.eng.OpenPosition(alice, true, wad(1000)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.eng.OpenPosition(alice, false, wad(1000)); !errors.Is(err, ErrPositionExists) {
		t.Fatalf("second open: err = %v", err)
	}
}

func TestOpenRejectsExcessiveImpact(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, wad(50_000))

	_, err := f.eng.OpenPosition(alice, true, wad(100_000))
	if !errors.Is(err, vamm.ErrExcessivePriceImpact) {
		t.Fatalf("err = %v, want ErrExcessivePriceImpact", err)
	}
	// Nothing stuck: no position, no locked margin, full balance.
	if _, ok := f.eng.Position(alice); ok {
		t.Fatal("rejected open left a position")
	}
	if f.ledger.Locked(alice).Sign() != 0 {
		t.Fatal("rejected open left locked margin")
	}
	if got := f.ledger.Balance(alice); got.Cmp(wad(50_000)) != 0 {
		t.Fatalf("balance = %s, want 50000", got)
	}
}

func TestRoundTripAtUnchangedPrice(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, wad(10_000))

	if _, err := f.eng.OpenPosition(alice, true, wad(10_000)); err != nil {
		t.Fatal(err)
	}
	s, err := f.eng.ClosePosition(alice)
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	// Immediate close retraces the same curve: PnL is zero up to
	// integer rounding, the trader pays only the two fees.
	if !approxEqual(s.PnL, big.NewInt(0), big.NewInt(1_000_000)) {
		t.Fatalf("round-trip pnl = %s, want ~0", s.PnL)
	}
	wantBalance := wad(10_000 - 60)
	if !approxEqual(f.ledger.Balance(alice), wantBalance, big.NewInt(1_000_000)) {
		t.Fatalf("balance = %s, want ~%s", f.ledger.Balance(alice), wantBalance)
	}
	if f.ledger.Locked(alice).Sign() != 0 {
		t.Fatal("margin still locked after close")
	}
	if _, ok := f.eng.Position(alice); ok {
		t.Fatal("position survives close")
	}
	if got := f.tre.Balance(); !approxEqual(got, wad(60), big.NewInt(1_000_000)) {
		t.Fatalf("treasury = %s, want ~60", got)
	}
}

func TestCloseWithoutPosition(t *testing.T) {
	f := newFixture(t)
	if _, err := f.eng.ClosePosition(alice); !errors.Is(err, ErrNoPosition) {
		t.Fatalf("err = %v, want ErrNoPosition", err)
	}
}

func TestProfitableShort(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, wad(10_000))

	if _, err := f.eng.OpenPosition(alice, false, wad(10_000)); err != nil {
		t.Fatal(err)
	}
	// Price falls: the short gains.
	f.crash(t, 2)

	s, err := f.eng.ClosePosition(alice)
	if err != nil {
		t.Fatal(err)
	}
	if s.PnL.Sign() <= 0 {
		t.Fatalf("short pnl after crash = %s, want > 0", s.PnL)
	}
	if f.ledger.Balance(alice).Cmp(wad(10_000)) <= 0 {
		t.Fatalf("balance = %s, want > 10000", f.ledger.Balance(alice))
	}
}

func TestLossClippedToMargin(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, wad(10_000))

	if _, err := f.eng.OpenPosition(alice, true, wad(10_000)); err != nil {
		t.Fatal(err)
	}
	// ~18% crash: loss far beyond the 1000 margin.
	f.crash(t, 4)

	s, err := f.eng.ClosePosition(alice)
	if err != nil {
		t.Fatal(err)
	}
	if s.Shortfall.Sign() <= 0 {
		t.Fatalf("shortfall = %s, want > 0", s.Shortfall)
	}
	// Only the margin was at risk; the rest of the deposit survives
	// minus the two fees.
	minBalance := wad(10_000 - 1000 - 100)
	if f.ledger.Balance(alice).Cmp(minBalance) < 0 {
		t.Fatalf("balance = %s, loss not clipped to margin", f.ledger.Balance(alice))
	}
	if f.eng.SocializedLoss().Cmp(s.Shortfall) != 0 {
		t.Fatalf("socialized loss = %s, want %s", f.eng.SocializedLoss(), s.Shortfall)
	}
}

func TestLiquidation(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, wad(10_000))

	if _, err := f.eng.OpenPosition(alice, true, wad(10_000)); err != nil {
		t.Fatal(err)
	}

	// Healthy position cannot be liquidated.
	if _, err := f.eng.LiquidatePosition(bob, alice); !errors.Is(err, ErrPositionNotLiquidatable) {
		t.Fatalf("healthy liquidation: err = %v", err)
	}

	// ~9% crash takes a 10x long below 5% maintenance margin.
	f.crash(t, 2)

	ok, err := f.eng.IsLiquidatable(alice)
	if err != nil || !ok {
		t.Fatalf("IsLiquidatable = %v, %v", ok, err)
	}

	s, err := f.eng.LiquidatePosition(bob, alice)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	// Reward is 5% of the pre-liquidation margin (1000), uncapped here
	// because the account keeps most of its deposit.
	if s.Reward.Cmp(wad(50)) != 0 {
		t.Fatalf("reward = %s, want 50", s.Reward)
	}
	if got := f.ledger.Balance(bob); got.Cmp(wad(50)) != 0 {
		t.Fatalf("liquidator balance = %s, want 50", got)
	}
	// No closing fee on liquidation.
	if s.Fee.Sign() != 0 {
		t.Fatalf("liquidation fee = %s, want 0", s.Fee)
	}
	if _, ok := f.eng.Position(alice); ok {
		t.Fatal("position survives liquidation")
	}
	if _, err := f.eng.LiquidatePosition(bob, alice); !errors.Is(err, ErrNoPosition) {
		t.Fatalf("second liquidation: err = %v", err)
	}
}

// A long of 5 base opened at 50000 with margin 1000 is hopelessly
// underwater at mark 35000: equity 1000 + (35000-50000)*5 < 0.
func TestLiquidationDeepUnderwater(t *testing.T) {
	f := newFixture(t)

	f.ledger.Restore(map[auth.Address]margin.Account{
		alice: {Balance: wad(1000), Locked: wad(1000)},
	})
	if err := f.eng.Restore(State{
		Positions: map[auth.Address]*Position{
			alice: {
				Account:            alice,
				IsLong:             true,
				Size:               wad(5),
				EntryPrice:         wad(50_000),
				Margin:             wad(1000),
				FundingIndexAtOpen: fixedpoint.Copy(fixedpoint.Wad),
				OpenedAt:           f.clock.now(),
			},
		},
		Params:         DefaultParams(),
		SocializedLoss: big.NewInt(0),
		TotalVolume:    big.NewInt(0),
	}); err != nil {
		t.Fatal(err)
	}

	ok, err := f.eng.IsLiquidatable(alice)
	if err != nil || !ok {
		t.Fatalf("IsLiquidatable = %v, %v, want true", ok, err)
	}

	s, err := f.eng.LiquidatePosition(bob, alice)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if s.PnL.Sign() >= 0 {
		t.Fatalf("pnl = %s, want < 0", s.PnL)
	}
	// The loss dwarfs the margin: everything locked is gone, the rest
	// is socialized, and the drained account cannot fund a reward.
	if s.Shortfall.Sign() <= 0 {
		t.Fatalf("shortfall = %s, want > 0", s.Shortfall)
	}
	if s.Reward.Sign() != 0 {
		t.Fatalf("reward = %s, want 0", s.Reward)
	}
	if f.ledger.Balance(alice).Sign() != 0 {
		t.Fatalf("balance = %s, want 0", f.ledger.Balance(alice))
	}
}

func TestLiquidationRewardCappedAtBalance(t *testing.T) {
	f := newFixture(t)
	// Exactly margin + fee: nothing spare after the wipeout.
	f.deposit(t, alice, wad(1030))

	if _, err := f.eng.OpenPosition(alice, true, wad(10_000)); err != nil {
		t.Fatal(err)
	}
	f.crash(t, 4)

	s, err := f.eng.LiquidatePosition(bob, alice)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if s.Reward.Sign() != 0 {
		t.Fatalf("reward = %s, want 0 from an empty account", s.Reward)
	}
	if f.ledger.Balance(bob).Sign() != 0 {
		t.Fatalf("liquidator balance = %s, want 0", f.ledger.Balance(bob))
	}
	if f.ledger.Balance(alice).Sign() < 0 {
		t.Fatal("account balance went negative")
	}
	if s.Shortfall.Sign() <= 0 {
		t.Fatalf("shortfall = %s, want > 0", s.Shortfall)
	}
}

func TestFundingChargedOnClose(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, wad(10_000))

	if _, err := f.eng.OpenPosition(alice, true, wad(10_000)); err != nil {
		t.Fatal(err)
	}

	// Mark sits above oracle: the funding index rises, longs pay.
	if err := f.amm.SetOraclePrice(wad(34_000)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.amm.UpdateFundingRate(); err != nil {
		t.Fatal(err)
	}

	s, err := f.eng.ClosePosition(alice)
	if err != nil {
		t.Fatal(err)
	}
	if s.Funding.Sign() <= 0 {
		t.Fatalf("long funding after index rise = %s, want > 0", s.Funding)
	}
	// Funding comes out of the payout.
	wantMax := wad(10_000 - 60)
	if f.ledger.Balance(alice).Cmp(wantMax) >= 0 {
		t.Fatalf("balance = %s, funding not charged", f.ledger.Balance(alice))
	}
}

func TestPauseBlocksOpenOnly(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, wad(10_000))

	if _, err := f.eng.OpenPosition(alice, true, wad(5000)); err != nil {
		t.Fatal(err)
	}

	if err := f.eng.Pause(bob); !errors.Is(err, auth.ErrNotOwner) {
		t.Fatalf("pause by non-owner: err = %v", err)
	}
	if err := f.eng.Pause(owner); err != nil {
		t.Fatal(err)
	}

	f.deposit(t, bob, wad(10_000))
	if _, err := f.eng.OpenPosition(bob, true, wad(5000)); !errors.Is(err, ErrTradingPaused) {
		t.Fatalf("open while paused: err = %v", err)
	}
	// Exits stay available while paused.
	if _, err := f.eng.ClosePosition(alice); err != nil {
		t.Fatalf("close while paused: %v", err)
	}

	if err := f.eng.Unpause(owner); err != nil {
		t.Fatal(err)
	}
	if _, err := f.eng.OpenPosition(bob, true, wad(5000)); err != nil {
		t.Fatalf("open after unpause: %v", err)
	}
}

func TestEmergencyClose(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, wad(10_000))

	if _, err := f.eng.OpenPosition(alice, true, wad(10_000)); err != nil {
		t.Fatal(err)
	}

	if _, err := f.eng.EmergencyClosePosition(bob, alice); !errors.Is(err, auth.ErrNotOwner) {
		t.Fatalf("emergency close by non-owner: err = %v", err)
	}

	s, err := f.eng.EmergencyClosePosition(owner, alice)
	if err != nil {
		t.Fatalf("emergency close: %v", err)
	}
	// No closing fee: only the opening fee is gone.
	if s.Fee.Sign() != 0 {
		t.Fatalf("fee = %s, want 0", s.Fee)
	}
	wantBalance := wad(10_000 - 30)
	if !approxEqual(f.ledger.Balance(alice), wantBalance, big.NewInt(1_000_000)) {
		t.Fatalf("balance = %s, want ~%s", f.ledger.Balance(alice), wantBalance)
	}
}

func TestUpdateParams(t *testing.T) {
	f := newFixture(t)

	p := DefaultParams()
	p.TradingFeeBps = 50
	if err := f.eng.UpdateParams(bob, p); !errors.Is(err, auth.ErrNotOwner) {
		t.Fatalf("update by non-owner: err = %v", err)
	}
	if err := f.eng.UpdateParams(owner, p); err != nil {
		t.Fatal(err)
	}
	if got := f.eng.Params(); got.TradingFeeBps != 50 {
		t.Fatalf("fee bps = %d, want 50", got.TradingFeeBps)
	}

	bad := DefaultParams()
	bad.MaintenanceMarginBps = bad.InitialMarginBps
	if err := f.eng.UpdateParams(owner, bad); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("maintenance >= initial: err = %v", err)
	}
	bad = DefaultParams()
	bad.TradingFeeBps = 101
	if err := f.eng.UpdateParams(owner, bad); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("fee above ceiling: err = %v", err)
	}
	bad = DefaultParams()
	bad.MaxLeverage = 20 // 10% initial margin cannot support 20x
	if err := bad.Validate(); err == nil {
		t.Fatal("inconsistent leverage accepted")
	}
}

func TestSnapshotRestore(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, wad(10_000))
	if _, err := f.eng.OpenPosition(alice, true, wad(10_000)); err != nil {
		t.Fatal(err)
	}

	engState := f.eng.Snapshot()
	ledgerState := f.ledger.Snapshot()
	ammState := f.amm.Snapshot()

	// A fresh market restored from the snapshot settles the position
	// exactly as the original would.
	f2 := newFixture(t)
	if err := f2.eng.Restore(engState); err != nil {
		t.Fatal(err)
	}
	f2.ledger.Restore(ledgerState)
	f2.amm.Restore(ammState)

	s, err := f2.eng.ClosePosition(alice)
	if err != nil {
		t.Fatalf("close after restore: %v", err)
	}
	if !approxEqual(s.PnL, big.NewInt(0), big.NewInt(1_000_000)) {
		t.Fatalf("restored round-trip pnl = %s, want ~0", s.PnL)
	}
	if !approxEqual(f2.ledger.Balance(alice), wad(10_000-60), big.NewInt(1_000_000)) {
		t.Fatalf("restored balance = %s", f2.ledger.Balance(alice))
	}
}
