package event

import (
	"math/big"
	"time"

	"PerpMarket/internal/auth"
)

type FundingUpdated struct {
	Rate      *big.Int  `json:"rate"`       // signed, wad-scaled
	Index     *big.Int  `json:"index"`      // cumulative, wad-scaled
	MarkPrice *big.Int  `json:"mark_price"`
	Oracle    *big.Int  `json:"oracle"`
	At        time.Time `json:"at"`
}

func (FundingUpdated) EventType() Type { return TypeFundingUpdated }

type OraclePriceSet struct {
	Price *big.Int  `json:"price"`
	At    time.Time `json:"at"`
}

func (OraclePriceSet) EventType() Type { return TypeOraclePriceSet }

// ReservesAdjusted records a liquidity-depth change. The mark price is
// identical before and after.
type ReservesAdjusted struct {
	Caller       auth.Address `json:"caller"`
	BaseReserve  *big.Int     `json:"base_reserve"`
	QuoteReserve *big.Int     `json:"quote_reserve"`
	K            *big.Int     `json:"k"`
}

func (ReservesAdjusted) EventType() Type { return TypeReservesAdjusted }
