package event

import (
	"math/big"

	"PerpMarket/internal/auth"
)

type FeeCollected struct {
	Caller  auth.Address `json:"caller"`
	Amount  *big.Int     `json:"amount"`
	Balance *big.Int     `json:"balance"`
}

func (FeeCollected) EventType() Type { return TypeFeeCollected }

// FeeReceived records an unsolicited transfer into the treasury. Counted
// toward the collected total like any other inflow.
type FeeReceived struct {
	From    auth.Address `json:"from"`
	Amount  *big.Int     `json:"amount"`
	Balance *big.Int     `json:"balance"`
}

func (FeeReceived) EventType() Type { return TypeFeeReceived }

type FeeWithdrawn struct {
	Recipient auth.Address `json:"recipient"`
	Amount    *big.Int     `json:"amount"`
	Balance   *big.Int     `json:"balance"`
}

func (FeeWithdrawn) EventType() Type { return TypeFeeWithdrawn }

type FeeRecipientChanged struct {
	Previous auth.Address `json:"previous"`
	Next     auth.Address `json:"next"`
}

func (FeeRecipientChanged) EventType() Type { return TypeFeeRecipientChanged }
