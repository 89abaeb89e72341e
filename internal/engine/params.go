package engine

import (
	"errors"
	"fmt"

	"PerpMarket/internal/fixedpoint"
)

var ErrInvalidParams = errors.New("invalid risk params")

// Params are the owner-tunable risk parameters, fractions in basis
// points over 10_000.
type Params struct {
	InitialMarginBps     int64 `json:"initial_margin_bps"`
	MaintenanceMarginBps int64 `json:"maintenance_margin_bps"`
	TradingFeeBps        int64 `json:"trading_fee_bps"`
	LiquidationRewardBps int64 `json:"liquidation_reward_bps"`
	MaxLeverage          int64 `json:"max_leverage"`
}

// DefaultParams: 10% initial margin, 5% maintenance, 0.3% fee, 5%
// liquidation reward, 10x leverage cap.
func DefaultParams() Params {
	return Params{
		InitialMarginBps:     1000,
		MaintenanceMarginBps: 500,
		TradingFeeBps:        30,
		LiquidationRewardBps: 500,
		MaxLeverage:          10,
	}
}

func (p Params) Validate() error {
	if p.InitialMarginBps <= 0 || p.InitialMarginBps > fixedpoint.BpsDenominator {
		return fmt.Errorf("%w: initial margin %d bps out of range", ErrInvalidParams, p.InitialMarginBps)
	}
	if p.MaintenanceMarginBps <= 0 || p.MaintenanceMarginBps >= p.InitialMarginBps {
		return fmt.Errorf("%w: maintenance margin %d bps must sit below initial margin %d bps",
			ErrInvalidParams, p.MaintenanceMarginBps, p.InitialMarginBps)
	}
	if p.TradingFeeBps < 0 || p.TradingFeeBps > 100 {
		return fmt.Errorf("%w: trading fee %d bps exceeds 100 bps ceiling", ErrInvalidParams, p.TradingFeeBps)
	}
	if p.LiquidationRewardBps < 0 || p.LiquidationRewardBps > fixedpoint.BpsDenominator {
		return fmt.Errorf("%w: liquidation reward %d bps out of range", ErrInvalidParams, p.LiquidationRewardBps)
	}
	if p.MaxLeverage <= 0 {
		return fmt.Errorf("%w: max leverage %d must be positive", ErrInvalidParams, p.MaxLeverage)
	}
	// Initial margin must cover at least 1/maxLeverage of notional.
	if p.InitialMarginBps*p.MaxLeverage < fixedpoint.BpsDenominator {
		return fmt.Errorf("%w: initial margin %d bps cannot support %dx leverage",
			ErrInvalidParams, p.InitialMarginBps, p.MaxLeverage)
	}
	return nil
}
