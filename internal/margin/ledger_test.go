package margin

import (
	"errors"
	"math/big"
	"testing"

	"github.com/rs/zerolog"

	"PerpMarket/internal/auth"
	"PerpMarket/internal/event"
	"PerpMarket/internal/fixedpoint"
)

const (
	owner  = auth.Address("owner")
	engine = auth.Address("engine")
	alice  = auth.Address("alice")
	bob    = auth.Address("bob")
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	callers, err := auth.NewCapabilitySet(owner)
	if err != nil {
		t.Fatalf("capability set: %v", err)
	}
	if err := callers.Grant(owner, engine, auth.CapLedgerWrite); err != nil {
		t.Fatalf("grant: %v", err)
	}
	return NewLedger(callers, event.NopSink{}, zerolog.Nop())
}

func wad(x int64) *big.Int { return fixedpoint.FromInt(x) }

func TestDepositWithdraw(t *testing.T) {
	l := newTestLedger(t)

	if err := l.Deposit(alice, wad(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := l.Balance(alice); got.Cmp(wad(100)) != 0 {
		t.Fatalf("balance = %s, want 100", got)
	}

	if err := l.Withdraw(alice, wad(40)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := l.Balance(alice); got.Cmp(wad(60)) != 0 {
		t.Fatalf("balance = %s, want 60", got)
	}
}

func TestWithdrawRespectsLockedMargin(t *testing.T) {
	l := newTestLedger(t)

	if err := l.Deposit(alice, wad(100)); err != nil {
		t.Fatal(err)
	}
	if err := l.Lock(engine, alice, wad(70)); err != nil {
		t.Fatalf("lock: %v", err)
	}

	err := l.Withdraw(alice, wad(50))
	if !errors.Is(err, ErrInsufficientAvailableMargin) {
		t.Fatalf("err = %v, want ErrInsufficientAvailableMargin", err)
	}

	// Up to the free portion is fine.
	if err := l.Withdraw(alice, wad(30)); err != nil {
		t.Fatalf("withdraw free portion: %v", err)
	}
	if got := l.Available(alice); got.Sign() != 0 {
		t.Fatalf("available = %s, want 0", got)
	}
}

func TestZeroAmountRejected(t *testing.T) {
	l := newTestLedger(t)
	for _, amount := range []*big.Int{nil, big.NewInt(0), big.NewInt(-1)} {
		if err := l.Deposit(alice, amount); !errors.Is(err, ErrZeroAmount) {
			t.Errorf("deposit %v: err = %v, want ErrZeroAmount", amount, err)
		}
	}
	if err := l.Lock(engine, alice, big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Errorf("lock zero: err = %v", err)
	}
}

func TestMutatorsRequireCapability(t *testing.T) {
	l := newTestLedger(t)
	if err := l.Deposit(alice, wad(100)); err != nil {
		t.Fatal(err)
	}

	if err := l.Lock(bob, alice, wad(10)); !errors.Is(err, auth.ErrUnauthorizedCaller) {
		t.Fatalf("lock by stranger: err = %v, want ErrUnauthorizedCaller", err)
	}
	if err := l.Credit(bob, alice, wad(10)); !errors.Is(err, auth.ErrUnauthorizedCaller) {
		t.Fatalf("credit by stranger: err = %v", err)
	}
	if err := l.Transfer(bob, alice, bob, wad(10)); !errors.Is(err, auth.ErrUnauthorizedCaller) {
		t.Fatalf("transfer by stranger: err = %v", err)
	}

	// Owner holds every capability implicitly.
	if err := l.Lock(owner, alice, wad(10)); err != nil {
		t.Fatalf("lock by owner: %v", err)
	}
}

func TestLockUnlockCycle(t *testing.T) {
	l := newTestLedger(t)
	if err := l.Deposit(alice, wad(100)); err != nil {
		t.Fatal(err)
	}

	if err := l.Lock(engine, alice, wad(60)); err != nil {
		t.Fatal(err)
	}
	if err := l.Lock(engine, alice, wad(50)); !errors.Is(err, ErrInsufficientAvailableMargin) {
		t.Fatalf("over-lock: err = %v", err)
	}

	if err := l.Unlock(engine, alice, wad(60)); err != nil {
		t.Fatal(err)
	}
	if err := l.Unlock(engine, alice, wad(1)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("unlock beyond locked: err = %v", err)
	}
	if got := l.Available(alice); got.Cmp(wad(100)) != 0 {
		t.Fatalf("available = %s, want 100", got)
	}
}

func TestDebitPreservesLockedCoverage(t *testing.T) {
	l := newTestLedger(t)
	if err := l.Deposit(alice, wad(100)); err != nil {
		t.Fatal(err)
	}
	if err := l.Lock(engine, alice, wad(80)); err != nil {
		t.Fatal(err)
	}

	// 100 - 30 = 70 < 80 locked.
	if err := l.Debit(engine, alice, wad(30)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("debit into locked margin: err = %v", err)
	}
	if err := l.Debit(engine, alice, wad(20)); err != nil {
		t.Fatalf("debit free portion: %v", err)
	}
	if got := l.Balance(alice); got.Cmp(wad(80)) != 0 {
		t.Fatalf("balance = %s, want 80", got)
	}
}

func TestTransferMovesFreeBalance(t *testing.T) {
	l := newTestLedger(t)
	if err := l.Deposit(alice, wad(100)); err != nil {
		t.Fatal(err)
	}
	if err := l.Lock(engine, alice, wad(90)); err != nil {
		t.Fatal(err)
	}

	if err := l.Transfer(engine, alice, bob, wad(20)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("transfer beyond free: err = %v", err)
	}
	if err := l.Transfer(engine, alice, bob, wad(10)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := l.Balance(bob); got.Cmp(wad(10)) != 0 {
		t.Fatalf("bob balance = %s, want 10", got)
	}
	if got := l.Balance(alice); got.Cmp(wad(90)) != 0 {
		t.Fatalf("alice balance = %s, want 90", got)
	}
}

func TestSnapshotRestore(t *testing.T) {
	l := newTestLedger(t)
	if err := l.Deposit(alice, wad(100)); err != nil {
		t.Fatal(err)
	}
	if err := l.Lock(engine, alice, wad(25)); err != nil {
		t.Fatal(err)
	}

	snap := l.Snapshot()

	l2 := newTestLedger(t)
	l2.Restore(snap)
	if got := l2.Balance(alice); got.Cmp(wad(100)) != 0 {
		t.Fatalf("restored balance = %s", got)
	}
	if got := l2.Locked(alice); got.Cmp(wad(25)) != 0 {
		t.Fatalf("restored locked = %s", got)
	}

	// Snapshot copies must not alias live state.
	snap[alice].Balance.SetInt64(0)
	if got := l2.Balance(alice); got.Cmp(wad(100)) != 0 {
		t.Fatal("snapshot aliases restored state")
	}
}
