package engine

import (
	"math/big"
	"time"

	"PerpMarket/internal/auth"
	"PerpMarket/internal/fixedpoint"
)

// Position is one account's open exposure. One position per account;
// opening while one exists is rejected.
type Position struct {
	Account            auth.Address `json:"account"`
	IsLong             bool         `json:"is_long"`
	Size               *big.Int     `json:"size"`        // base, wad
	EntryPrice         *big.Int     `json:"entry_price"` // execution price, wad
	Margin             *big.Int     `json:"margin"`      // locked collateral, wad
	FundingIndexAtOpen *big.Int     `json:"funding_index_at_open"`
	OpenedAt           time.Time    `json:"opened_at"`
}

// Notional values the position at the given price.
func (p *Position) Notional(price *big.Int) *big.Int {
	return fixedpoint.MulWad(price, p.Size)
}

// UnrealizedPnL is the signed profit at the given price, before funding.
func (p *Position) UnrealizedPnL(price *big.Int) *big.Int {
	atMark := p.Notional(price)
	atEntry := p.Notional(p.EntryPrice)
	if p.IsLong {
		return atMark.Sub(atMark, atEntry)
	}
	return atEntry.Sub(atEntry, atMark)
}

func (p *Position) clone() *Position {
	return &Position{
		Account:            p.Account,
		IsLong:             p.IsLong,
		Size:               fixedpoint.Copy(p.Size),
		EntryPrice:         fixedpoint.Copy(p.EntryPrice),
		Margin:             fixedpoint.Copy(p.Margin),
		FundingIndexAtOpen: fixedpoint.Copy(p.FundingIndexAtOpen),
		OpenedAt:           p.OpenedAt,
	}
}
