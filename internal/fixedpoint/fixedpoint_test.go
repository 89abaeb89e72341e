package fixedpoint

import (
	"math/big"
	"testing"
)

func bi(x int64) *big.Int { return big.NewInt(x) }

func TestMulWadDivWadRoundTrip(t *testing.T) {
	price := FromInt(35000)
	size := FromInt(5)

	notional := MulWad(price, size)
	want := FromInt(175000)
	if notional.Cmp(want) != 0 {
		t.Fatalf("MulWad(35000, 5) = %s, want %s", notional, want)
	}

	back := DivWad(notional, size)
	if back.Cmp(price) != 0 {
		t.Fatalf("DivWad round trip = %s, want %s", back, price)
	}
}

func TestMulDivHalfEven(t *testing.T) {
	tests := []struct {
		name    string
		a, b, d int64
		want    int64
	}{
		{"exact", 10, 3, 6, 5},
		{"round up", 7, 1, 2, 4},     // 3.5 -> 4 (even)
		{"round down", 5, 1, 2, 2},   // 2.5 -> 2 (even)
		{"above half", 7, 1, 3, 2},   // 2.33 -> 2
		{"below half", 8, 1, 3, 3},   // 2.66 -> 3
		{"negative half", -7, 1, 2, -4},
		{"negative trunc", -7, 1, 3, -2},
	}
	for _, tc := range tests {
		got := MulDiv(bi(tc.a), bi(tc.b), bi(tc.d), RoundHalfEven)
		if got.Int64() != tc.want {
			t.Errorf("%s: MulDiv(%d,%d,%d) = %s, want %d", tc.name, tc.a, tc.b, tc.d, got, tc.want)
		}
	}
}

func TestMulDivRoundDownTruncatesTowardZero(t *testing.T) {
	if got := MulDiv(bi(7), bi(1), bi(2), RoundDown); got.Int64() != 3 {
		t.Fatalf("7/2 down = %s, want 3", got)
	}
	if got := MulDiv(bi(-7), bi(1), bi(2), RoundDown); got.Int64() != -3 {
		t.Fatalf("-7/2 down = %s, want -3", got)
	}
}

func TestApplyBps(t *testing.T) {
	notional := FromInt(10000)

	fee := ApplyBps(notional, 30)
	if fee.Cmp(FromInt(30)) != 0 {
		t.Fatalf("30 bps of 10000 = %s, want 30", fee)
	}

	margin := ApplyBps(notional, 1000)
	if margin.Cmp(FromInt(1000)) != 0 {
		t.Fatalf("1000 bps of 10000 = %s, want 1000", margin)
	}

	// Truncation: 30 bps of 333 wad-wei is 0.999, truncates to 0.
	if got := ApplyBps(bi(333), 30); got.Sign() != 0 {
		t.Fatalf("truncating bps = %s, want 0", got)
	}
}

func TestSqrt(t *testing.T) {
	k := new(big.Int).Mul(FromInt(100), FromInt(3500000))
	root := Sqrt(k)

	// root^2 <= k < (root+1)^2
	sq := new(big.Int).Mul(root, root)
	if sq.Cmp(k) > 0 {
		t.Fatalf("sqrt overshoots: %s^2 > %s", root, k)
	}
	next := new(big.Int).Add(root, bi(1))
	nsq := new(big.Int).Mul(next, next)
	if nsq.Cmp(k) <= 0 {
		t.Fatalf("sqrt undershoots: (%s+1)^2 <= %s", root, k)
	}
}

func TestSqrtNegativePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on negative sqrt")
		}
	}()
	Sqrt(bi(-1))
}

func TestClamp(t *testing.T) {
	lo, hi := bi(-5), bi(5)
	if got := Clamp(bi(10), lo, hi); got.Int64() != 5 {
		t.Fatalf("clamp above = %s", got)
	}
	if got := Clamp(bi(-10), lo, hi); got.Int64() != -5 {
		t.Fatalf("clamp below = %s", got)
	}
	if got := Clamp(bi(3), lo, hi); got.Int64() != 3 {
		t.Fatalf("clamp within = %s", got)
	}
}

func TestCopyIsIndependent(t *testing.T) {
	orig := bi(42)
	cp := Copy(orig)
	cp.SetInt64(99)
	if orig.Int64() != 42 {
		t.Fatal("Copy aliases its input")
	}
	if Copy(nil).Sign() != 0 {
		t.Fatal("Copy(nil) should be zero")
	}
}

func TestParse(t *testing.T) {
	v, err := Parse("175000000000000000000000")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if v.Cmp(FromInt(175000)) != 0 {
		t.Fatalf("Parse = %s", v)
	}
	if _, err := Parse("12.5"); err == nil {
		t.Fatal("expected error for non-integer input")
	}
}
