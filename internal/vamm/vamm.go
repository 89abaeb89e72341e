package vamm

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"PerpMarket/internal/auth"
	"PerpMarket/internal/event"
	"PerpMarket/internal/fixedpoint"
)

var (
	ErrZeroAmount           = errors.New("amount must be positive")
	ErrExcessivePriceImpact = errors.New("price impact exceeds limit")
	ErrInvalidOraclePrice   = errors.New("invalid oracle price")
	ErrFundingUpdateTooSoon = errors.New("funding period has not elapsed")
	ErrReservesDepleted     = errors.New("swap would deplete reserves")
	ErrInvalidConfig        = errors.New("invalid vamm config")
)

// Config fixes the market parameters at construction. Reserves are
// virtual: no assets back them, they only set price and depth.
type Config struct {
	BaseReserve  *big.Int
	QuoteReserve *big.Int

	// MaxPriceImpactBps bounds the mark-price move of a single opening
	// swap. Closing swaps are exempt so positions can always exit.
	MaxPriceImpactBps int64

	FundingPeriod time.Duration

	// DampingFactor scales the mark/oracle premium into a funding rate,
	// wad-scaled (0.05 = 5e16).
	DampingFactor *big.Int

	// MaxFundingRate clamps the per-period rate, wad-scaled.
	MaxFundingRate *big.Int

	// OracleMaxAge invalidates readings older than this. Zero disables
	// the staleness check.
	OracleMaxAge time.Duration
}

func (c Config) validate() error {
	if c.BaseReserve == nil || c.BaseReserve.Sign() <= 0 ||
		c.QuoteReserve == nil || c.QuoteReserve.Sign() <= 0 {
		return fmt.Errorf("%w: reserves must be positive", ErrInvalidConfig)
	}
	if c.MaxPriceImpactBps <= 0 || c.MaxPriceImpactBps > fixedpoint.BpsDenominator {
		return fmt.Errorf("%w: price impact bound out of range", ErrInvalidConfig)
	}
	if c.FundingPeriod <= 0 {
		return fmt.Errorf("%w: funding period must be positive", ErrInvalidConfig)
	}
	if c.DampingFactor == nil || c.DampingFactor.Sign() <= 0 ||
		c.MaxFundingRate == nil || c.MaxFundingRate.Sign() <= 0 {
		return fmt.Errorf("%w: funding factors must be positive", ErrInvalidConfig)
	}
	return nil
}

// VAMM is a constant-product virtual AMM. Reserves move only through
// swaps; k changes only through AdjustK. The invariant maintained is
// base*quote >= k (integer rounding always lands on the pool's side).
type VAMM struct {
	mu sync.Mutex

	base  *big.Int
	quote *big.Int
	k     *big.Int

	totalLong  *big.Int
	totalShort *big.Int

	fundingIndex  *big.Int
	lastFundingAt time.Time

	oraclePrice *big.Int
	oracleAt    time.Time

	cfg     Config
	callers *auth.CapabilitySet
	sink    event.Sink
	log     zerolog.Logger
	now     func() time.Time
}

func New(cfg Config, callers *auth.CapabilitySet, sink event.Sink, log zerolog.Logger) (*VAMM, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	v := &VAMM{
		base:         fixedpoint.Copy(cfg.BaseReserve),
		quote:        fixedpoint.Copy(cfg.QuoteReserve),
		k:            new(big.Int).Mul(cfg.BaseReserve, cfg.QuoteReserve),
		totalLong:    new(big.Int),
		totalShort:   new(big.Int),
		fundingIndex: fixedpoint.Copy(fixedpoint.Wad),
		cfg:          cfg,
		callers:      callers,
		sink:         sink,
		log:          log,
		now:          time.Now,
	}
	return v, nil
}

// SetClock overrides the time source. Tests only.
func (v *VAMM) SetClock(now func() time.Time) {
	v.now = now
}

// MarkPrice is quote/base at wad scale.
func (v *VAMM) MarkPrice() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.markPriceLocked()
}

func (v *VAMM) markPriceLocked() *big.Int {
	return fixedpoint.DivWad(v.quote, v.base)
}

// ceilDiv rounds the quotient up so recomputed reserves never fall below
// the constant-product curve.
func ceilDiv(num, den *big.Int) *big.Int {
	quo, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	if rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}

// SwapInput trades quoteAmount of quote into the pool and returns the
// base size moved plus the resulting mark price. Long adds quote (price
// up), short removes quote (price down). Opening swaps are bounded by
// the configured price impact; an impact breach leaves state untouched.
func (v *VAMM) SwapInput(caller auth.Address, isLong bool, quoteAmount *big.Int) (baseOut, newPrice *big.Int, err error) {
	if err := v.callers.Require(caller, auth.CapSwap); err != nil {
		return nil, nil, err
	}
	if quoteAmount == nil || quoteAmount.Sign() <= 0 {
		return nil, nil, fmt.Errorf("swap input: %w", ErrZeroAmount)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	oldPrice := v.markPriceLocked()

	newQuote := new(big.Int)
	if isLong {
		newQuote.Add(v.quote, quoteAmount)
	} else {
		newQuote.Sub(v.quote, quoteAmount)
		if newQuote.Sign() <= 0 {
			return nil, nil, fmt.Errorf("swap input %s: %w", quoteAmount, ErrReservesDepleted)
		}
	}
	newBase := ceilDiv(v.k, newQuote)

	baseOut = new(big.Int)
	if isLong {
		baseOut.Sub(v.base, newBase)
	} else {
		baseOut.Sub(newBase, v.base)
	}
	if baseOut.Sign() <= 0 {
		return nil, nil, fmt.Errorf("swap input %s: %w", quoteAmount, ErrZeroAmount)
	}

	newPrice = fixedpoint.DivWad(newQuote, newBase)

	move := new(big.Int).Sub(newPrice, oldPrice)
	move.Abs(move)
	impactBps := fixedpoint.MulDiv(move, big.NewInt(fixedpoint.BpsDenominator), oldPrice, fixedpoint.RoundDown)
	if impactBps.Cmp(big.NewInt(v.cfg.MaxPriceImpactBps)) > 0 {
		return nil, nil, fmt.Errorf("impact %s bps exceeds %d bps: %w",
			impactBps, v.cfg.MaxPriceImpactBps, ErrExcessivePriceImpact)
	}

	v.quote = newQuote
	v.base = newBase
	if isLong {
		v.totalLong.Add(v.totalLong, baseOut)
	} else {
		v.totalShort.Add(v.totalShort, baseOut)
	}

	v.log.Debug().
		Bool("is_long", isLong).
		Str("quote_in", quoteAmount.String()).
		Str("base_out", baseOut.String()).
		Str("mark_price", newPrice.String()).
		Msg("swap input")
	return baseOut, newPrice, nil
}

// SwapOutput trades baseAmount of base back through the pool when a
// position closes and returns the quote value received. isLong names the
// side of the position being unwound. No impact bound: closing must
// always be possible.
func (v *VAMM) SwapOutput(caller auth.Address, isLong bool, baseAmount *big.Int) (quoteOut, newPrice *big.Int, err error) {
	if err := v.callers.Require(caller, auth.CapSwap); err != nil {
		return nil, nil, err
	}
	if baseAmount == nil || baseAmount.Sign() <= 0 {
		return nil, nil, fmt.Errorf("swap output: %w", ErrZeroAmount)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	newBase := new(big.Int)
	if isLong {
		// Long close sells base back into the pool.
		newBase.Add(v.base, baseAmount)
	} else {
		// Short close buys base out of the pool.
		newBase.Sub(v.base, baseAmount)
		if newBase.Sign() <= 0 {
			return nil, nil, fmt.Errorf("swap output %s: %w", baseAmount, ErrReservesDepleted)
		}
	}
	newQuote := ceilDiv(v.k, newBase)

	quoteOut = new(big.Int)
	if isLong {
		quoteOut.Sub(v.quote, newQuote)
	} else {
		quoteOut.Sub(newQuote, v.quote)
	}
	if quoteOut.Sign() < 0 {
		quoteOut.SetInt64(0)
	}

	v.base = newBase
	v.quote = newQuote
	newPrice = v.markPriceLocked()

	// Open interest shrinks by the closed size, floored at zero.
	oi := v.totalLong
	if !isLong {
		oi = v.totalShort
	}
	oi.Sub(oi, baseAmount)
	if oi.Sign() < 0 {
		oi.SetInt64(0)
	}

	v.log.Debug().
		Bool("is_long", isLong).
		Str("base_in", baseAmount.String()).
		Str("quote_out", quoteOut.String()).
		Str("mark_price", newPrice.String()).
		Msg("swap output")
	return quoteOut, newPrice, nil
}

// SetOraclePrice records the latest index price. Zero or negative
// readings are rejected.
func (v *VAMM) SetOraclePrice(price *big.Int) error {
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("set oracle: %w", ErrInvalidOraclePrice)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.oraclePrice = fixedpoint.Copy(price)
	v.oracleAt = v.now()

	v.sink.Record(event.OraclePriceSet{
		Price: fixedpoint.Copy(price),
		At:    v.oracleAt,
	})
	return nil
}

// OraclePrice returns the latest reading, rejecting missing or stale data.
func (v *VAMM) OraclePrice() (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.oraclePriceLocked()
}

func (v *VAMM) oraclePriceLocked() (*big.Int, error) {
	if v.oraclePrice == nil || v.oraclePrice.Sign() <= 0 {
		return nil, fmt.Errorf("no oracle reading: %w", ErrInvalidOraclePrice)
	}
	if v.cfg.OracleMaxAge > 0 && v.now().Sub(v.oracleAt) > v.cfg.OracleMaxAge {
		return nil, fmt.Errorf("oracle reading stale by %s: %w",
			v.now().Sub(v.oracleAt), ErrInvalidOraclePrice)
	}
	return fixedpoint.Copy(v.oraclePrice), nil
}

// FundingRate computes the damped, clamped premium of mark over oracle.
// Positive when mark trades above oracle (longs pay shorts).
func (v *VAMM) FundingRate() (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	rate, _, _, err := v.fundingRateLocked()
	return rate, err
}

func (v *VAMM) fundingRateLocked() (rate, mark, oracle *big.Int, err error) {
	oracle, err = v.oraclePriceLocked()
	if err != nil {
		return nil, nil, nil, err
	}
	mark = v.markPriceLocked()

	premium := new(big.Int).Sub(mark, oracle)
	premium = fixedpoint.MulDiv(premium, fixedpoint.Wad, oracle, fixedpoint.RoundHalfEven)
	rate = fixedpoint.MulWad(premium, v.cfg.DampingFactor)

	negMax := new(big.Int).Neg(v.cfg.MaxFundingRate)
	rate = fixedpoint.Clamp(rate, negMax, v.cfg.MaxFundingRate)
	return rate, mark, oracle, nil
}

// UpdateFundingRate advances the cumulative funding index by one period.
// Callable by anyone; the period gate makes it idempotent within a
// window. The index is multiplicative and never drops below one.
func (v *VAMM) UpdateFundingRate() (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	if !v.lastFundingAt.IsZero() && now.Sub(v.lastFundingAt) < v.cfg.FundingPeriod {
		return nil, fmt.Errorf("next update at %s: %w",
			v.lastFundingAt.Add(v.cfg.FundingPeriod), ErrFundingUpdateTooSoon)
	}

	rate, mark, oracle, err := v.fundingRateLocked()
	if err != nil {
		return nil, err
	}

	factor := new(big.Int).Add(fixedpoint.Wad, rate)
	v.fundingIndex = fixedpoint.MulWad(v.fundingIndex, factor)
	if v.fundingIndex.Cmp(fixedpoint.Wad) < 0 {
		v.fundingIndex.Set(fixedpoint.Wad)
	}
	v.lastFundingAt = now

	v.sink.Record(event.FundingUpdated{
		Rate:      fixedpoint.Copy(rate),
		Index:     fixedpoint.Copy(v.fundingIndex),
		MarkPrice: mark,
		Oracle:    oracle,
		At:        now,
	})
	v.log.Info().
		Str("rate", rate.String()).
		Str("index", v.fundingIndex.String()).
		Msg("funding updated")
	return fixedpoint.Copy(rate), nil
}

// FundingPayment is what a position owes since it opened. Positive means
// the position pays. Longs pay when the index rose, shorts when it fell.
func (v *VAMM) FundingPayment(size *big.Int, isLong bool, indexAtOpen *big.Int) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()

	delta := new(big.Int).Sub(v.fundingIndex, indexAtOpen)
	payment := fixedpoint.MulWad(size, delta)
	if !isLong {
		payment.Neg(payment)
	}
	return payment
}

// AdjustK rescales both reserves to the new depth while preserving the
// mark price exactly up to integer sqrt truncation. Owner-only.
func (v *VAMM) AdjustK(caller auth.Address, newK *big.Int) error {
	if err := v.callers.RequireOwner(caller); err != nil {
		return err
	}
	if newK == nil || newK.Sign() <= 0 {
		return fmt.Errorf("adjust k: %w", ErrZeroAmount)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	price := v.markPriceLocked()

	// quote' = sqrt(k' * p), base' = sqrt(k' / p), p at wad scale.
	quoteSq := fixedpoint.MulDiv(newK, price, fixedpoint.Wad, fixedpoint.RoundDown)
	baseSq := fixedpoint.MulDiv(newK, fixedpoint.Wad, price, fixedpoint.RoundDown)

	newQuote := fixedpoint.Sqrt(quoteSq)
	newBase := fixedpoint.Sqrt(baseSq)
	if newQuote.Sign() <= 0 || newBase.Sign() <= 0 {
		return fmt.Errorf("adjust k to %s: %w", newK, ErrReservesDepleted)
	}

	v.base = newBase
	v.quote = newQuote
	v.k = fixedpoint.Copy(newK)

	v.sink.Record(event.ReservesAdjusted{
		Caller:       caller,
		BaseReserve:  fixedpoint.Copy(newBase),
		QuoteReserve: fixedpoint.Copy(newQuote),
		K:            fixedpoint.Copy(newK),
	})
	v.log.Info().
		Str("k", newK.String()).
		Str("base", newBase.String()).
		Str("quote", newQuote.String()).
		Msg("reserves adjusted")
	return nil
}

// Reserves returns copies of base, quote and k.
func (v *VAMM) Reserves() (base, quote, k *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return fixedpoint.Copy(v.base), fixedpoint.Copy(v.quote), fixedpoint.Copy(v.k)
}

// OpenInterest returns the outstanding long and short base totals.
func (v *VAMM) OpenInterest() (long, short *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return fixedpoint.Copy(v.totalLong), fixedpoint.Copy(v.totalShort)
}

func (v *VAMM) FundingIndex() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return fixedpoint.Copy(v.fundingIndex)
}

// State is the persisted form of the pool.
type State struct {
	Base          *big.Int  `json:"base"`
	Quote         *big.Int  `json:"quote"`
	K             *big.Int  `json:"k"`
	TotalLong     *big.Int  `json:"total_long"`
	TotalShort    *big.Int  `json:"total_short"`
	FundingIndex  *big.Int  `json:"funding_index"`
	LastFundingAt time.Time `json:"last_funding_at"`
	OraclePrice   *big.Int  `json:"oracle_price,omitempty"`
	OracleAt      time.Time `json:"oracle_at"`
}

func (v *VAMM) Snapshot() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := State{
		Base:          fixedpoint.Copy(v.base),
		Quote:         fixedpoint.Copy(v.quote),
		K:             fixedpoint.Copy(v.k),
		TotalLong:     fixedpoint.Copy(v.totalLong),
		TotalShort:    fixedpoint.Copy(v.totalShort),
		FundingIndex:  fixedpoint.Copy(v.fundingIndex),
		LastFundingAt: v.lastFundingAt,
		OracleAt:      v.oracleAt,
	}
	if v.oraclePrice != nil {
		s.OraclePrice = fixedpoint.Copy(v.oraclePrice)
	}
	return s
}

func (v *VAMM) Restore(s State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.base = fixedpoint.Copy(s.Base)
	v.quote = fixedpoint.Copy(s.Quote)
	v.k = fixedpoint.Copy(s.K)
	v.totalLong = fixedpoint.Copy(s.TotalLong)
	v.totalShort = fixedpoint.Copy(s.TotalShort)
	v.fundingIndex = fixedpoint.Copy(s.FundingIndex)
	if v.fundingIndex.Cmp(fixedpoint.Wad) < 0 {
		v.fundingIndex.Set(fixedpoint.Wad)
	}
	v.lastFundingAt = s.LastFundingAt
	if s.OraclePrice != nil {
		v.oraclePrice = fixedpoint.Copy(s.OraclePrice)
	} else {
		v.oraclePrice = nil
	}
	v.oracleAt = s.OracleAt
}
