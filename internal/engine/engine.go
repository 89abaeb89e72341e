package engine

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
	"PerpMarket/internal/margin"
	"PerpMarket/internal/observability"
	"PerpMarket/internal/treasury"
	"PerpMarket/internal/vamm"
)

var (
	ErrZeroSize                = errors.New("notional must be positive")
	ErrPositionExists          = errors.New("account already has a position")
	ErrNoPosition              = errors.New("account has no position")
	ErrInvalidLeverage         = errors.New("leverage exceeds maximum")
	ErrInsufficientMargin      = errors.New("insufficient margin")
	ErrPositionNotLiquidatable = errors.New("position is not liquidatable")
	ErrTradingPaused           = errors.New("trading is paused")
)

// Engine is the settlement state machine. It is the only caller of the
// ledger mutators, the treasury collector and the vAMM swaps, acting
// under its own principal address. All operations serialize on one lock;
// callees never call back into the engine, so a failed validation step
// leaves every component unchanged.
type Engine struct {
	mu sync.Mutex

	positions map[auth.Address]*Position
	params    Params
	paused    bool

	socializedLoss *big.Int
	totalVolume    *big.Int

	self     auth.Address
	callers  *auth.CapabilitySet
	ledger   *margin.Ledger
	treasury *treasury.Treasury
	amm      *vamm.VAMM

	sink    event.Sink
	metrics *observability.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

func New(
	self auth.Address,
	callers *auth.CapabilitySet,
	ledger *margin.Ledger,
	tre *treasury.Treasury,
	amm *vamm.VAMM,
	params Params,
	sink event.Sink,
	metrics *observability.Metrics,
	log zerolog.Logger,
) (*Engine, error) {
	if self.IsZero() {
		return nil, auth.ErrZeroAddress
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		positions:      make(map[auth.Address]*Position),
		params:         params,
		socializedLoss: new(big.Int),
		totalVolume:    new(big.Int),
		self:           self,
		callers:        callers,
		ledger:         ledger,
		treasury:       tre,
		amm:            amm,
		sink:           sink,
		metrics:        metrics,
		log:            log,
		now:            time.Now,
	}, nil
}

// SetClock overrides the time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Settlement summarizes one position exit. Reward is set only for
// liquidations.
type Settlement struct {
	Account   auth.Address `json:"account"`
	ExitPrice *big.Int     `json:"exit_price"`
	PnL       *big.Int     `json:"pnl"`
	Funding   *big.Int     `json:"funding"`
	Fee       *big.Int     `json:"fee"`
	Shortfall *big.Int     `json:"shortfall"`
	Reward    *big.Int     `json:"reward,omitempty"`
}

func (e *Engine) reject(op, reason string) {
	e.metrics.OpsRejected.WithLabelValues(op, reason).Inc()
}

// OpenPosition swaps notional quote through the vAMM, locks initial
// margin and charges the trading fee. All checks pass before anything
// mutates; a margin failure after the swap unwinds it.
func (e *Engine) OpenPosition(trader auth.Address, isLong bool, notional *big.Int) (*Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		e.reject("open", "paused")
		return nil, ErrTradingPaused
	}
	if trader.IsZero() {
		e.reject("open", "zero_address")
		return nil, auth.ErrZeroAddress
	}
	if notional == nil || notional.Sign() <= 0 {
		e.reject("open", "zero_size")
		return nil, ErrZeroSize
	}
	if _, ok := e.positions[trader]; ok {
		e.reject("open", "position_exists")
		return nil, fmt.Errorf("account %s: %w", trader, ErrPositionExists)
	}

	marginReq := fixedpoint.ApplyBpsCeil(notional, e.params.InitialMarginBps)
	maxNotional := new(big.Int).Mul(marginReq, big.NewInt(e.params.MaxLeverage))
	if notional.Cmp(maxNotional) > 0 {
		e.reject("open", "leverage")
		return nil, fmt.Errorf("notional %s with margin %s: %w", notional, marginReq, ErrInvalidLeverage)
	}
	fee := fixedpoint.ApplyBps(notional, e.params.TradingFeeBps)

	required := new(big.Int).Add(marginReq, fee)
	if e.ledger.Available(trader).Cmp(required) < 0 {
		e.reject("open", "insufficient_margin")
		return nil, fmt.Errorf("need %s: %w", required, ErrInsufficientMargin)
	}

	baseOut, markAfter, err := e.amm.SwapInput(e.self, isLong, notional)
	if err != nil {
		e.reject("open", "swap")
		return nil, err
	}

	if err := e.ledger.Lock(e.self, trader, marginReq); err != nil {
		// Concurrent withdrawal slipped between the check and the lock.
		e.unwindSwap(isLong, baseOut)
		e.reject("open", "insufficient_margin")
		return nil, fmt.Errorf("lock margin: %w", ErrInsufficientMargin)
	}
	if fee.Sign() > 0 {
		if err := e.ledger.Debit(e.self, trader, fee); err != nil {
			e.mustUnlock(trader, marginReq)
			e.unwindSwap(isLong, baseOut)
			e.reject("open", "insufficient_margin")
			return nil, fmt.Errorf("charge fee: %w", ErrInsufficientMargin)
		}
		if err := e.treasury.Collect(e.self, fee); err != nil {
			panic(fmt.Sprintf("FATAL: fee collect after debit: %v", err))
		}
		e.metrics.FeesCollected.Add(wadFloat(fee))
	}

	pos := &Position{
		Account:            trader,
		IsLong:             isLong,
		Size:               baseOut,
		EntryPrice:         fixedpoint.DivWad(notional, baseOut),
		Margin:             marginReq,
		FundingIndexAtOpen: e.amm.FundingIndex(),
		OpenedAt:           e.now(),
	}
	e.positions[trader] = pos
	e.totalVolume.Add(e.totalVolume, notional)

	e.metrics.PositionsOpened.Inc()
	e.metrics.TradingVolume.Add(wadFloat(notional))
	e.metrics.MarkPrice.Set(wadFloat(markAfter))
	e.updateOpenInterest()

	e.sink.Record(event.PositionOpened{
		Account:    trader,
		IsLong:     isLong,
		Size:       fixedpoint.Copy(pos.Size),
		Notional:   fixedpoint.Copy(notional),
		EntryPrice: fixedpoint.Copy(pos.EntryPrice),
		Margin:     fixedpoint.Copy(pos.Margin),
		Fee:        fixedpoint.Copy(fee),
	})
	e.log.Info().
		Str("account", string(trader)).
		Bool("is_long", isLong).
		Str("size", pos.Size.String()).
		Str("entry_price", pos.EntryPrice.String()).
		Str("margin", pos.Margin.String()).
		Msg("position opened")
	return pos.clone(), nil
}

// ClosePosition settles at the vAMM exit price: margin unlocks, net PnL
// after funding credits or debits the account (losses clipped to the
// locked margin), and the closing fee is charged best-effort.
func (e *Engine) ClosePosition(trader auth.Address) (*Settlement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.positions[trader]
	if !ok {
		e.reject("close", "no_position")
		return nil, fmt.Errorf("account %s: %w", trader, ErrNoPosition)
	}

	s, err := e.settle(pos, true)
	if err != nil {
		e.reject("close", "swap")
		return nil, err
	}
	delete(e.positions, trader)
	e.metrics.PositionsClosed.WithLabelValues("closed").Inc()

	e.sink.Record(event.PositionClosed{
		Account:   trader,
		IsLong:    pos.IsLong,
		Size:      fixedpoint.Copy(pos.Size),
		ExitPrice: fixedpoint.Copy(s.ExitPrice),
		PnL:       fixedpoint.Copy(s.PnL),
		Funding:   fixedpoint.Copy(s.Funding),
		Fee:       fixedpoint.Copy(s.Fee),
	})
	e.log.Info().
		Str("account", string(trader)).
		Str("exit_price", s.ExitPrice.String()).
		Str("pnl", s.PnL.String()).
		Str("funding", s.Funding.String()).
		Msg("position closed")
	return s, nil
}

// IsLiquidatable reports whether the account's position can be
// liquidated at the current mark price.
func (e *Engine) IsLiquidatable(account auth.Address) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.positions[account]
	if !ok {
		return false, fmt.Errorf("account %s: %w", account, ErrNoPosition)
	}
	return e.liquidatable(pos), nil
}

func (e *Engine) liquidatable(pos *Position) bool {
	mark := e.amm.MarkPrice()
	pnl := pos.UnrealizedPnL(mark)
	funding := e.amm.FundingPayment(pos.Size, pos.IsLong, pos.FundingIndexAtOpen)

	equity := new(big.Int).Set(pos.Margin)
	equity.Add(equity, pnl)
	equity.Sub(equity, funding)
	if equity.Sign() <= 0 {
		return true
	}

	notional := pos.Notional(mark)
	ratioBps := fixedpoint.MulDiv(equity, big.NewInt(fixedpoint.BpsDenominator), notional, fixedpoint.RoundDown)
	return ratioBps.Cmp(big.NewInt(e.params.MaintenanceMarginBps)) < 0
}

// LiquidatePosition force-closes an undercollateralized position. The
// liquidator earns a share of the pre-liquidation margin, capped at what
// remains in the account after settlement. No closing fee.
func (e *Engine) LiquidatePosition(liquidator, account auth.Address) (*Settlement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if liquidator.IsZero() {
		return nil, auth.ErrZeroAddress
	}
	pos, ok := e.positions[account]
	if !ok {
		e.reject("liquidate", "no_position")
		return nil, fmt.Errorf("account %s: %w", account, ErrNoPosition)
	}
	if !e.liquidatable(pos) {
		e.reject("liquidate", "healthy")
		return nil, fmt.Errorf("account %s: %w", account, ErrPositionNotLiquidatable)
	}

	preMargin := fixedpoint.Copy(pos.Margin)

	s, err := e.settle(pos, false)
	if err != nil {
		e.reject("liquidate", "swap")
		return nil, err
	}
	delete(e.positions, account)

	reward := fixedpoint.ApplyBps(preMargin, e.params.LiquidationRewardBps)
	reward = fixedpoint.Min(reward, e.ledger.Available(account))
	if reward.Sign() > 0 {
		if err := e.ledger.Transfer(e.self, account, liquidator, reward); err != nil {
			panic(fmt.Sprintf("FATAL: liquidation reward transfer: %v", err))
		}
	}
	s.Reward = reward

	e.metrics.PositionsClosed.WithLabelValues("liquidated").Inc()

	e.sink.Record(event.PositionLiquidated{
		Account:    account,
		Liquidator: liquidator,
		IsLong:     pos.IsLong,
		Size:       fixedpoint.Copy(pos.Size),
		ExitPrice:  fixedpoint.Copy(s.ExitPrice),
		PnL:        fixedpoint.Copy(s.PnL),
		Funding:    fixedpoint.Copy(s.Funding),
		Reward:     fixedpoint.Copy(reward),
		Shortfall:  fixedpoint.Copy(s.Shortfall),
	})
	e.log.Warn().
		Str("account", string(account)).
		Str("liquidator", string(liquidator)).
		Str("exit_price", s.ExitPrice.String()).
		Str("reward", reward.String()).
		Str("shortfall", s.Shortfall.String()).
		Msg("position liquidated")
	return s, nil
}

// EmergencyClosePosition settles any position at market without fee or
// liquidation checks. Owner-only.
func (e *Engine) EmergencyClosePosition(caller, account auth.Address) (*Settlement, error) {
	if err := e.callers.RequireOwner(caller); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.positions[account]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", account, ErrNoPosition)
	}
	s, err := e.settle(pos, false)
	if err != nil {
		return nil, err
	}
	delete(e.positions, account)
	e.metrics.PositionsClosed.WithLabelValues("emergency").Inc()

	e.sink.Record(event.PositionClosed{
		Account:   account,
		IsLong:    pos.IsLong,
		Size:      fixedpoint.Copy(pos.Size),
		ExitPrice: fixedpoint.Copy(s.ExitPrice),
		PnL:       fixedpoint.Copy(s.PnL),
		Funding:   fixedpoint.Copy(s.Funding),
		Fee:       fixedpoint.Copy(s.Fee),
	})
	e.log.Warn().
		Str("account", string(account)).
		Str("by", string(caller)).
		Msg("position emergency-closed")
	return s, nil
}

// settle unwinds one position through the vAMM and moves the resulting
// collateral. The ledger calls in here operate on margin the engine
// itself locked, so a failure is an invariant breach, not a user error.
func (e *Engine) settle(pos *Position, chargeFee bool) (*Settlement, error) {
	quoteOut, markAfter, err := e.amm.SwapOutput(e.self, pos.IsLong, pos.Size)
	if err != nil {
		return nil, err
	}

	exitPrice := fixedpoint.DivWad(quoteOut, pos.Size)
	entryNotional := pos.Notional(pos.EntryPrice)

	pnl := new(big.Int)
	if pos.IsLong {
		pnl.Sub(quoteOut, entryNotional)
	} else {
		pnl.Sub(entryNotional, quoteOut)
	}
	funding := e.amm.FundingPayment(pos.Size, pos.IsLong, pos.FundingIndexAtOpen)
	net := new(big.Int).Sub(pnl, funding)

	e.mustUnlock(pos.Account, pos.Margin)

	shortfall := new(big.Int)
	switch {
	case net.Sign() > 0:
		if err := e.ledger.Credit(e.self, pos.Account, net); err != nil {
			panic(fmt.Sprintf("FATAL: settlement credit: %v", err))
		}
	case net.Sign() < 0:
		loss := new(big.Int).Neg(net)
		debit := fixedpoint.Min(loss, pos.Margin)
		if debit.Sign() > 0 {
			if err := e.ledger.Debit(e.self, pos.Account, debit); err != nil {
				panic(fmt.Sprintf("FATAL: settlement debit: %v", err))
			}
		}
		shortfall.Sub(loss, debit)
		if shortfall.Sign() > 0 {
			e.socializedLoss.Add(e.socializedLoss, shortfall)
			e.metrics.SocializedLoss.Set(wadFloat(e.socializedLoss))
			e.log.Warn().
				Str("account", string(pos.Account)).
				Str("shortfall", shortfall.String()).
				Msg("loss exceeded margin, clipped")
		}
	}

	fee := new(big.Int)
	if chargeFee && e.params.TradingFeeBps > 0 {
		fee = fixedpoint.ApplyBps(quoteOut, e.params.TradingFeeBps)
		fee = fixedpoint.Min(fee, e.ledger.Available(pos.Account))
		if fee.Sign() > 0 {
			if err := e.ledger.Debit(e.self, pos.Account, fee); err != nil {
				panic(fmt.Sprintf("FATAL: closing fee debit: %v", err))
			}
			if err := e.treasury.Collect(e.self, fee); err != nil {
				panic(fmt.Sprintf("FATAL: closing fee collect: %v", err))
			}
			e.metrics.FeesCollected.Add(wadFloat(fee))
		}
	}

	e.totalVolume.Add(e.totalVolume, quoteOut)
	e.metrics.TradingVolume.Add(wadFloat(quoteOut))
	e.metrics.MarkPrice.Set(wadFloat(markAfter))
	e.updateOpenInterest()

	return &Settlement{
		Account:   pos.Account,
		ExitPrice: exitPrice,
		PnL:       pnl,
		Funding:   funding,
		Fee:       fee,
		Shortfall: shortfall,
	}, nil
}

// unwindSwap reverses a just-executed opening swap after a downstream
// failure so reserves match the pre-trade state up to rounding.
func (e *Engine) unwindSwap(isLong bool, baseOut *big.Int) {
	if _, _, err := e.amm.SwapOutput(e.self, isLong, baseOut); err != nil {
		panic(fmt.Sprintf("FATAL: swap unwind: %v", err))
	}
}

func (e *Engine) mustUnlock(account auth.Address, amount *big.Int) {
	if err := e.ledger.Unlock(e.self, account, amount); err != nil {
		panic(fmt.Sprintf("FATAL: margin unlock for %s: %v", account, err))
	}
}

// Pause stops new positions from opening. Close and liquidate stay
// available. Owner-only.
func (e *Engine) Pause(caller auth.Address) error {
	if err := e.callers.RequireOwner(caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paused {
		e.paused = true
		e.sink.Record(event.TradingPaused{By: caller})
		e.log.Warn().Str("by", string(caller)).Msg("trading paused")
	}
	return nil
}

func (e *Engine) Unpause(caller auth.Address) error {
	if err := e.callers.RequireOwner(caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		e.paused = false
		e.sink.Record(event.TradingResumed{By: caller})
		e.log.Info().Str("by", string(caller)).Msg("trading resumed")
	}
	return nil
}

// UpdateParams replaces the risk parameters. Owner-only; open positions
// keep their locked margin, only future checks use the new values.
func (e *Engine) UpdateParams(caller auth.Address, p Params) error {
	if err := e.callers.RequireOwner(caller); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params = p

	e.sink.Record(event.RiskParamsUpdated{
		InitialMarginBps:     p.InitialMarginBps,
		MaintenanceMarginBps: p.MaintenanceMarginBps,
		TradingFeeBps:        p.TradingFeeBps,
		LiquidationRewardBps: p.LiquidationRewardBps,
		MaxLeverage:          p.MaxLeverage,
	})
	e.log.Info().
		Int64("initial_margin_bps", p.InitialMarginBps).
		Int64("maintenance_margin_bps", p.MaintenanceMarginBps).
		Int64("trading_fee_bps", p.TradingFeeBps).
		Msg("risk params updated")
	return nil
}

// Position returns a copy of the account's open position.
func (e *Engine) Position(account auth.Address) (*Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[account]
	if !ok {
		return nil, false
	}
	return pos.clone(), true
}

func (e *Engine) Params() Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// SocializedLoss is the cumulative loss clipped beyond margin.
func (e *Engine) SocializedLoss() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fixedpoint.Copy(e.socializedLoss)
}

// TotalVolume is the cumulative quote traded through open and close.
func (e *Engine) TotalVolume() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fixedpoint.Copy(e.totalVolume)
}

func (e *Engine) updateOpenInterest() {
	long, short := e.amm.OpenInterest()
	e.metrics.OpenInterest.WithLabelValues("long").Set(wadFloat(long))
	e.metrics.OpenInterest.WithLabelValues("short").Set(wadFloat(short))
}

func wadFloat(x *big.Int) float64 {
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(x),
		new(big.Float).SetInt(fixedpoint.Wad),
	).Float64()
	return f
}

// State is the persisted form of the engine.
type State struct {
	Positions      map[auth.Address]*Position `json:"positions"`
	Params         Params                     `json:"params"`
	Paused         bool                       `json:"paused"`
	SocializedLoss *big.Int                   `json:"socialized_loss"`
	TotalVolume    *big.Int                   `json:"total_volume"`
}

func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	positions := make(map[auth.Address]*Position, len(e.positions))
	for addr, pos := range e.positions {
		positions[addr] = pos.clone()
	}
	return State{
		Positions:      positions,
		Params:         e.params,
		Paused:         e.paused,
		SocializedLoss: fixedpoint.Copy(e.socializedLoss),
		TotalVolume:    fixedpoint.Copy(e.totalVolume),
	}
}

func (e *Engine) Restore(s State) error {
	if err := s.Params.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.positions = make(map[auth.Address]*Position, len(s.Positions))
	for addr, pos := range s.Positions {
		e.positions[addr] = pos.clone()
	}
	e.params = s.Params
	e.paused = s.Paused
	e.socializedLoss = fixedpoint.Copy(s.SocializedLoss)
	e.totalVolume = fixedpoint.Copy(s.TotalVolume)
	return nil
}
