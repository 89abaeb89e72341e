package event

import (
	"math/big"

	"PerpMarket/internal/auth"
)

type PositionOpened struct {
	Account    auth.Address `json:"account"`
	IsLong     bool         `json:"is_long"`
	Size       *big.Int     `json:"size"`
	Notional   *big.Int     `json:"notional"`
	EntryPrice *big.Int     `json:"entry_price"`
	Margin     *big.Int     `json:"margin"`
	Fee        *big.Int     `json:"fee"`
}

func (PositionOpened) EventType() Type { return TypePositionOpened }

type PositionClosed struct {
	Account   auth.Address `json:"account"`
	IsLong    bool         `json:"is_long"`
	Size      *big.Int     `json:"size"`
	ExitPrice *big.Int     `json:"exit_price"`
	PnL       *big.Int     `json:"pnl"` // signed, before funding and fee
	Funding   *big.Int     `json:"funding"`
	Fee       *big.Int     `json:"fee"`
}

func (PositionClosed) EventType() Type { return TypePositionClosed }

type PositionLiquidated struct {
	Account    auth.Address `json:"account"`
	Liquidator auth.Address `json:"liquidator"`
	IsLong     bool         `json:"is_long"`
	Size       *big.Int     `json:"size"`
	ExitPrice  *big.Int     `json:"exit_price"`
	PnL        *big.Int     `json:"pnl"`
	Funding    *big.Int     `json:"funding"`
	Reward     *big.Int     `json:"reward"`
	Shortfall  *big.Int     `json:"shortfall"` // loss beyond margin, absorbed
}

func (PositionLiquidated) EventType() Type { return TypePositionLiquidated }

type RiskParamsUpdated struct {
	InitialMarginBps     int64 `json:"initial_margin_bps"`
	MaintenanceMarginBps int64 `json:"maintenance_margin_bps"`
	TradingFeeBps        int64 `json:"trading_fee_bps"`
	LiquidationRewardBps int64 `json:"liquidation_reward_bps"`
	MaxLeverage          int64 `json:"max_leverage"`
}

func (RiskParamsUpdated) EventType() Type { return TypeRiskParamsUpdated }

type TradingPaused struct {
	By auth.Address `json:"by"`
}

func (TradingPaused) EventType() Type { return TypeTradingPaused }

type TradingResumed struct {
	By auth.Address `json:"by"`
}

func (TradingResumed) EventType() Type { return TypeTradingResumed }
