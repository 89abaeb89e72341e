package treasury

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/rs/zerolog"

	"PerpMarket/internal/auth"
	"PerpMarket/internal/event"
	"PerpMarket/internal/fixedpoint"
)

var (
	ErrZeroAmount          = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient treasury balance")
)

// Treasury accumulates protocol fees. Collect is the engine's write path;
// Receive accepts unsolicited transfers, which are counted toward the
// collected total rather than rejected. Withdrawals go to the configured
// fee recipient only.
type Treasury struct {
	mu             sync.Mutex
	balance        *big.Int
	totalCollected *big.Int
	feeRecipient   auth.Address
	callers        *auth.CapabilitySet
	sink           event.Sink
	log            zerolog.Logger
}

func New(callers *auth.CapabilitySet, feeRecipient auth.Address, sink event.Sink, log zerolog.Logger) (*Treasury, error) {
	if feeRecipient.IsZero() {
		return nil, auth.ErrZeroAddress
	}
	return &Treasury{
		balance:        new(big.Int),
		totalCollected: new(big.Int),
		feeRecipient:   feeRecipient,
		callers:        callers,
		sink:           sink,
		log:            log,
	}, nil
}

// Collect forwards a trading fee into the treasury. Capability-gated.
func (t *Treasury) Collect(caller auth.Address, amount *big.Int) error {
	if err := t.callers.Require(caller, auth.CapTreasuryCollect); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("collect: %w", ErrZeroAmount)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.balance.Add(t.balance, amount)
	t.totalCollected.Add(t.totalCollected, amount)

	t.sink.Record(event.FeeCollected{
		Caller:  caller,
		Amount:  fixedpoint.Copy(amount),
		Balance: fixedpoint.Copy(t.balance),
	})
	return nil
}

// Receive accepts a transfer from any sender.
func (t *Treasury) Receive(from auth.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("receive: %w", ErrZeroAmount)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.balance.Add(t.balance, amount)
	t.totalCollected.Add(t.totalCollected, amount)

	t.sink.Record(event.FeeReceived{
		From:    from,
		Amount:  fixedpoint.Copy(amount),
		Balance: fixedpoint.Copy(t.balance),
	})
	t.log.Info().
		Str("from", string(from)).
		Str("amount", amount.String()).
		Msg("unsolicited treasury transfer")
	return nil
}

// Withdraw pays out to the fee recipient. Owner-only. A nil amount
// withdraws the full balance.
func (t *Treasury) Withdraw(caller auth.Address, amount *big.Int) (*big.Int, error) {
	if err := t.callers.RequireOwner(caller); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if amount == nil {
		amount = fixedpoint.Copy(t.balance)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("withdraw: %w", ErrZeroAmount)
	}
	if amount.Cmp(t.balance) > 0 {
		return nil, fmt.Errorf("withdraw %s, balance %s: %w",
			amount, t.balance, ErrInsufficientBalance)
	}
	t.balance.Sub(t.balance, amount)

	t.sink.Record(event.FeeWithdrawn{
		Recipient: t.feeRecipient,
		Amount:    fixedpoint.Copy(amount),
		Balance:   fixedpoint.Copy(t.balance),
	})
	t.log.Info().
		Str("recipient", string(t.feeRecipient)).
		Str("amount", amount.String()).
		Msg("treasury withdrawal")
	return fixedpoint.Copy(amount), nil
}

// SetFeeRecipient changes the payout address. Owner-only.
func (t *Treasury) SetFeeRecipient(caller, next auth.Address) error {
	if err := t.callers.RequireOwner(caller); err != nil {
		return err
	}
	if next.IsZero() {
		return auth.ErrZeroAddress
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.feeRecipient
	t.feeRecipient = next

	t.sink.Record(event.FeeRecipientChanged{Previous: prev, Next: next})
	return nil
}

func (t *Treasury) Balance() *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fixedpoint.Copy(t.balance)
}

func (t *Treasury) TotalCollected() *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fixedpoint.Copy(t.totalCollected)
}

func (t *Treasury) FeeRecipient() auth.Address {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.feeRecipient
}

// State is the persisted form of the treasury.
type State struct {
	Balance        *big.Int     `json:"balance"`
	TotalCollected *big.Int     `json:"total_collected"`
	FeeRecipient   auth.Address `json:"fee_recipient"`
}

func (t *Treasury) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{
		Balance:        fixedpoint.Copy(t.balance),
		TotalCollected: fixedpoint.Copy(t.totalCollected),
		FeeRecipient:   t.feeRecipient,
	}
}

func (t *Treasury) Restore(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balance = fixedpoint.Copy(s.Balance)
	t.totalCollected = fixedpoint.Copy(s.TotalCollected)
	if !s.FeeRecipient.IsZero() {
		t.feeRecipient = s.FeeRecipient
	}
}
