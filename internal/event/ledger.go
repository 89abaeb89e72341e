package event

import (
	"math/big"

	"PerpMarket/internal/auth"
)

// Ledger audit payloads. Every balance mutation emits exactly one event
// carrying the delta and the resulting balances, so the full account
// history can be rebuilt from the log alone.

type Deposited struct {
	Account auth.Address `json:"account"`
	Amount  *big.Int     `json:"amount"`
	Balance *big.Int     `json:"balance"`
}

func (Deposited) EventType() Type { return TypeDeposited }

type Withdrawn struct {
	Account auth.Address `json:"account"`
	Amount  *big.Int     `json:"amount"`
	Balance *big.Int     `json:"balance"`
}

func (Withdrawn) EventType() Type { return TypeWithdrawn }

type MarginLocked struct {
	Account auth.Address `json:"account"`
	Amount  *big.Int     `json:"amount"`
	Locked  *big.Int     `json:"locked"`
}

func (MarginLocked) EventType() Type { return TypeMarginLocked }

type MarginUnlocked struct {
	Account auth.Address `json:"account"`
	Amount  *big.Int     `json:"amount"`
	Locked  *big.Int     `json:"locked"`
}

func (MarginUnlocked) EventType() Type { return TypeMarginUnlocked }

type BalanceCredited struct {
	Account auth.Address `json:"account"`
	Amount  *big.Int     `json:"amount"`
	Balance *big.Int     `json:"balance"`
}

func (BalanceCredited) EventType() Type { return TypeBalanceCredited }

type BalanceDebited struct {
	Account auth.Address `json:"account"`
	Amount  *big.Int     `json:"amount"`
	Balance *big.Int     `json:"balance"`
}

func (BalanceDebited) EventType() Type { return TypeBalanceDebited }

type BalanceTransferred struct {
	From   auth.Address `json:"from"`
	To     auth.Address `json:"to"`
	Amount *big.Int     `json:"amount"`
}

func (BalanceTransferred) EventType() Type { return TypeBalanceTransferred }
