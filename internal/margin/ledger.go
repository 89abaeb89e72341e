package margin

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
	ErrZeroAmount                  = errors.New("amount must be positive")
	ErrInsufficientBalance         = errors.New("insufficient balance")
	ErrInsufficientAvailableMargin = errors.New("insufficient available margin")
)

// Account holds collateral at wad scale. Locked is the portion reserved
// as position margin; Locked <= Balance always.
type Account struct {
	Balance *big.Int
	Locked  *big.Int
}

// Ledger is the collateral book. Deposit and Withdraw are open to any
// account owner; the mutators that move margin around (Lock, Unlock,
// Credit, Debit, Transfer) require the ledger-write capability, which in
// practice only the settlement engine holds.
type Ledger struct {
	mu       sync.Mutex
	accounts map[auth.Address]*Account
	callers  *auth.CapabilitySet
	sink     event.Sink
	log      zerolog.Logger
}

func NewLedger(callers *auth.CapabilitySet, sink event.Sink, log zerolog.Logger) *Ledger {
	return &Ledger{
		accounts: make(map[auth.Address]*Account),
		callers:  callers,
		sink:     sink,
		log:      log,
	}
}

func (l *Ledger) account(addr auth.Address) *Account {
	acct, ok := l.accounts[addr]
	if !ok {
		acct = &Account{Balance: new(big.Int), Locked: new(big.Int)}
		l.accounts[addr] = acct
	}
	return acct
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	return nil
}

// Deposit credits collateral to the caller's own account.
func (l *Ledger) Deposit(account auth.Address, amount *big.Int) error {
	if account.IsZero() {
		return auth.ErrZeroAddress
	}
	if err := validAmount(amount); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acct := l.account(account)
	acct.Balance.Add(acct.Balance, amount)

	l.sink.Record(event.Deposited{
		Account: account,
		Amount:  fixedpoint.Copy(amount),
		Balance: fixedpoint.Copy(acct.Balance),
	})
	l.log.Debug().
		Str("account", string(account)).
		Str("amount", amount.String()).
		Str("balance", acct.Balance.String()).
		Msg("deposit")
	return nil
}

// Withdraw removes collateral not reserved as margin. Fails when the
// requested amount exceeds Balance - Locked.
func (l *Ledger) Withdraw(account auth.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return fmt.Errorf("withdraw: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acct := l.account(account)
	available := new(big.Int).Sub(acct.Balance, acct.Locked)
	if amount.Cmp(available) > 0 {
		return fmt.Errorf("withdraw %s, available %s: %w",
			amount, available, ErrInsufficientAvailableMargin)
	}
	acct.Balance.Sub(acct.Balance, amount)

	l.sink.Record(event.Withdrawn{
		Account: account,
		Amount:  fixedpoint.Copy(amount),
		Balance: fixedpoint.Copy(acct.Balance),
	})
	l.log.Debug().
		Str("account", string(account)).
		Str("amount", amount.String()).
		Str("balance", acct.Balance.String()).
		Msg("withdraw")
	return nil
}

// Lock reserves part of an account's free balance as position margin.
func (l *Ledger) Lock(caller, account auth.Address, amount *big.Int) error {
	if err := l.callers.Require(caller, auth.CapLedgerWrite); err != nil {
		return err
	}
	if err := validAmount(amount); err != nil {
		return fmt.Errorf("lock: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acct := l.account(account)
	available := new(big.Int).Sub(acct.Balance, acct.Locked)
	if amount.Cmp(available) > 0 {
		return fmt.Errorf("lock %s, available %s: %w",
			amount, available, ErrInsufficientAvailableMargin)
	}
	acct.Locked.Add(acct.Locked, amount)

	l.sink.Record(event.MarginLocked{
		Account: account,
		Amount:  fixedpoint.Copy(amount),
		Locked:  fixedpoint.Copy(acct.Locked),
	})
	return nil
}

// Unlock releases reserved margin back to the free balance.
func (l *Ledger) Unlock(caller, account auth.Address, amount *big.Int) error {
	if err := l.callers.Require(caller, auth.CapLedgerWrite); err != nil {
		return err
	}
	if err := validAmount(amount); err != nil {
		return fmt.Errorf("unlock: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acct := l.account(account)
	if amount.Cmp(acct.Locked) > 0 {
		return fmt.Errorf("unlock %s, locked %s: %w",
			amount, acct.Locked, ErrInsufficientBalance)
	}
	acct.Locked.Sub(acct.Locked, amount)

	l.sink.Record(event.MarginUnlocked{
		Account: account,
		Amount:  fixedpoint.Copy(amount),
		Locked:  fixedpoint.Copy(acct.Locked),
	})
	return nil
}

// Credit adds settlement proceeds to an account balance.
func (l *Ledger) Credit(caller, account auth.Address, amount *big.Int) error {
	if err := l.callers.Require(caller, auth.CapLedgerWrite); err != nil {
		return err
	}
	if err := validAmount(amount); err != nil {
		return fmt.Errorf("credit: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acct := l.account(account)
	acct.Balance.Add(acct.Balance, amount)

	l.sink.Record(event.BalanceCredited{
		Account: account,
		Amount:  fixedpoint.Copy(amount),
		Balance: fixedpoint.Copy(acct.Balance),
	})
	return nil
}

// Debit removes settled losses or fees from an account balance. The
// remaining balance must still cover the locked margin.
func (l *Ledger) Debit(caller, account auth.Address, amount *big.Int) error {
	if err := l.callers.Require(caller, auth.CapLedgerWrite); err != nil {
		return err
	}
	if err := validAmount(amount); err != nil {
		return fmt.Errorf("debit: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acct := l.account(account)
	remaining := new(big.Int).Sub(acct.Balance, amount)
	if remaining.Sign() < 0 || remaining.Cmp(acct.Locked) < 0 {
		return fmt.Errorf("debit %s, balance %s, locked %s: %w",
			amount, acct.Balance, acct.Locked, ErrInsufficientBalance)
	}
	acct.Balance.Set(remaining)

	l.sink.Record(event.BalanceDebited{
		Account: account,
		Amount:  fixedpoint.Copy(amount),
		Balance: fixedpoint.Copy(acct.Balance),
	})
	return nil
}

// Transfer moves free balance between two accounts atomically.
func (l *Ledger) Transfer(caller, from, to auth.Address, amount *big.Int) error {
	if err := l.callers.Require(caller, auth.CapLedgerWrite); err != nil {
		return err
	}
	if err := validAmount(amount); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	if to.IsZero() {
		return auth.ErrZeroAddress
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	src := l.account(from)
	available := new(big.Int).Sub(src.Balance, src.Locked)
	if amount.Cmp(available) > 0 {
		return fmt.Errorf("transfer %s from %s, available %s: %w",
			amount, from, available, ErrInsufficientBalance)
	}
	dst := l.account(to)
	src.Balance.Sub(src.Balance, amount)
	dst.Balance.Add(dst.Balance, amount)

	l.sink.Record(event.BalanceTransferred{
		From:   from,
		To:     to,
		Amount: fixedpoint.Copy(amount),
	})
	return nil
}

// Balance returns the total collateral of an account.
func (l *Ledger) Balance(account auth.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acct, ok := l.accounts[account]; ok {
		return fixedpoint.Copy(acct.Balance)
	}
	return new(big.Int)
}

// Locked returns the margin currently reserved for an account.
func (l *Ledger) Locked(account auth.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acct, ok := l.accounts[account]; ok {
		return fixedpoint.Copy(acct.Locked)
	}
	return new(big.Int)
}

// Available returns Balance - Locked.
func (l *Ledger) Available(account auth.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acct, ok := l.accounts[account]; ok {
		return new(big.Int).Sub(acct.Balance, acct.Locked)
	}
	return new(big.Int)
}

// Snapshot copies every account for persistence.
func (l *Ledger) Snapshot() map[auth.Address]Account {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[auth.Address]Account, len(l.accounts))
	for addr, acct := range l.accounts {
		out[addr] = Account{
			Balance: fixedpoint.Copy(acct.Balance),
			Locked:  fixedpoint.Copy(acct.Locked),
		}
	}
	return out
}

// Restore replaces the book with snapshot contents.
func (l *Ledger) Restore(accounts map[auth.Address]Account) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.accounts = make(map[auth.Address]*Account, len(accounts))
	for addr, acct := range accounts {
		l.accounts[addr] = &Account{
			Balance: fixedpoint.Copy(acct.Balance),
			Locked:  fixedpoint.Copy(acct.Locked),
		}
	}
}
