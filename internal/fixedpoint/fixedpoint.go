package fixedpoint

import (
	"fmt"
	"math/big"
	"sync"
)

// All prices, quantities and collateral amounts share a single fixed-point
// scale of 18 fractional decimal digits (the wad). Fractions expressed in
// basis points use the 10_000 denominator.
const (
	WadDecimals    = 18
	BpsDenominator = 10_000
)

// Wad is 10^18. Treat as read-only.
var Wad = big.NewInt(1_000_000_000_000_000_000)

var bigPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return bigPool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetInt64(0)
	bigPool.Put(v)
}

type RoundingMode int

const (
	RoundDown RoundingMode = iota // truncate toward zero
	RoundHalfEven                 // banker's rounding
)

// FromInt returns x whole units at wad scale.
func FromInt(x int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(x), Wad)
}

// MulDiv computes a * b / den with the given rounding, using a wide
// intermediate so the product never truncates. den must be non-zero.
func MulDiv(a, b, den *big.Int, mode RoundingMode) *big.Int {
	if den.Sign() == 0 {
		panic("fixedpoint: division by zero")
	}

	num := getBig().Mul(a, b)
	defer putBig(num)

	return divRound(num, den, mode)
}

// MulWad computes a * b / Wad (the product of two wad-scaled values).
func MulWad(a, b *big.Int) *big.Int {
	return MulDiv(a, b, Wad, RoundHalfEven)
}

// DivWad computes a * Wad / b (the wad-scaled quotient of two values).
func DivWad(a, b *big.Int) *big.Int {
	return MulDiv(a, Wad, b, RoundHalfEven)
}

// ApplyBps computes x * bps / 10_000, truncating toward zero.
func ApplyBps(x *big.Int, bps int64) *big.Int {
	return MulDiv(x, big.NewInt(bps), big.NewInt(BpsDenominator), RoundDown)
}

// ApplyBpsCeil computes x * bps / 10_000, rounding away from zero.
// Margin requirements round up so the implied leverage never exceeds
// the configured bound.
func ApplyBpsCeil(x *big.Int, bps int64) *big.Int {
	num := getBig().Mul(x, big.NewInt(bps))
	defer putBig(num)

	quo, rem := new(big.Int).QuoRem(num, big.NewInt(BpsDenominator), new(big.Int))
	if rem.Sign() > 0 {
		quo.Add(quo, big.NewInt(1))
	} else if rem.Sign() < 0 {
		quo.Sub(quo, big.NewInt(1))
	}
	return quo
}

// divRound divides num by den, rounding the quotient per mode. Rounding is
// applied on magnitudes so negative values round symmetrically.
func divRound(num, den *big.Int, mode RoundingMode) *big.Int {
	quo := new(big.Int)
	rem := getBig()
	defer putBig(rem)

	quo.QuoRem(num, den, rem)

	if mode == RoundDown || rem.Sign() == 0 {
		return quo
	}

	// Banker's rounding on |rem| vs |den|/2.
	absRem := getBig().Abs(rem)
	absDen := getBig().Abs(den)
	defer putBig(absRem)
	defer putBig(absDen)

	twice := getBig().Lsh(absRem, 1)
	defer putBig(twice)

	cmp := twice.Cmp(absDen)
	roundAway := cmp > 0
	if cmp == 0 {
		// Exactly half: round to even.
		roundAway = quo.Bit(0) == 1
	}

	if roundAway {
		if num.Sign()*den.Sign() < 0 {
			quo.Sub(quo, big.NewInt(1))
		} else {
			quo.Add(quo, big.NewInt(1))
		}
	}

	return quo
}

// Sqrt returns the integer square root of x. Panics on negative input.
func Sqrt(x *big.Int) *big.Int {
	if x.Sign() < 0 {
		panic(fmt.Sprintf("fixedpoint: sqrt of negative value %s", x))
	}
	return new(big.Int).Sqrt(x)
}

// Min returns a copy of the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Clamp returns x bounded to [lo, hi].
func Clamp(x, lo, hi *big.Int) *big.Int {
	if x.Cmp(lo) < 0 {
		return new(big.Int).Set(lo)
	}
	if x.Cmp(hi) > 0 {
		return new(big.Int).Set(hi)
	}
	return new(big.Int).Set(x)
}

// Copy returns a defensive copy of x; nil maps to zero.
func Copy(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

// Parse decodes a base-10 wad-scaled integer from its string form.
func Parse(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("fixedpoint: malformed amount %q", s)
	}
	return v, nil
}
