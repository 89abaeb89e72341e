package auth

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrUnauthorizedCaller = errors.New("unauthorized caller")
	ErrNotOwner           = errors.New("caller is not the owner")
	ErrZeroAddress        = errors.New("zero address")
)

// Address identifies a principal: a trader account, the settlement engine,
// or an operator. The empty string is the zero address and is never valid
// as a principal.
type Address string

const ZeroAddress Address = ""

func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// Capability is a named permission grantable to a principal.
type Capability uint8

const (
	// CapLedgerWrite allows lock/unlock/credit/debit/transfer on the margin ledger.
	CapLedgerWrite Capability = iota
	// CapTreasuryCollect allows forwarding fees into the treasury.
	CapTreasuryCollect
	// CapSwap allows trade-mutating swaps against the virtual reserves.
	CapSwap
)

func (c Capability) String() string {
	switch c {
	case CapLedgerWrite:
		return "ledger_write"
	case CapTreasuryCollect:
		return "treasury_collect"
	case CapSwap:
		return "swap"
	default:
		return "unknown"
	}
}

// CapabilitySet is an owner-managed allow-list: a mapping from principal
// to granted capabilities, checked by set membership at each entry point.
type CapabilitySet struct {
	mu     sync.RWMutex
	owner  Address
	grants map[Address]map[Capability]bool
}

func NewCapabilitySet(owner Address) (*CapabilitySet, error) {
	if owner.IsZero() {
		return nil, ErrZeroAddress
	}
	return &CapabilitySet{
		owner:  owner,
		grants: make(map[Address]map[Capability]bool),
	}, nil
}

func (cs *CapabilitySet) Owner() Address {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.owner
}

// Grant adds a capability for a principal. Owner-only.
func (cs *CapabilitySet) Grant(caller, principal Address, cap Capability) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if caller != cs.owner {
		return fmt.Errorf("grant %s to %s: %w", cap, principal, ErrNotOwner)
	}
	if principal.IsZero() {
		return fmt.Errorf("grant %s: %w", cap, ErrZeroAddress)
	}

	if cs.grants[principal] == nil {
		cs.grants[principal] = make(map[Capability]bool)
	}
	cs.grants[principal][cap] = true
	return nil
}

// Revoke removes a capability from a principal. Owner-only.
func (cs *CapabilitySet) Revoke(caller, principal Address, cap Capability) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if caller != cs.owner {
		return fmt.Errorf("revoke %s from %s: %w", cap, principal, ErrNotOwner)
	}
	if caps, ok := cs.grants[principal]; ok {
		delete(caps, cap)
	}
	return nil
}

// Allowed reports whether a principal holds a capability. The owner holds
// every capability implicitly.
func (cs *CapabilitySet) Allowed(principal Address, cap Capability) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	if principal == cs.owner {
		return true
	}
	return cs.grants[principal][cap]
}

// Require returns ErrUnauthorizedCaller unless the principal holds the capability.
func (cs *CapabilitySet) Require(principal Address, cap Capability) error {
	if !cs.Allowed(principal, cap) {
		return fmt.Errorf("%s requires %s: %w", principal, cap, ErrUnauthorizedCaller)
	}
	return nil
}

// RequireOwner returns ErrNotOwner unless the principal is the owner.
func (cs *CapabilitySet) RequireOwner(principal Address) error {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	if principal != cs.owner {
		return fmt.Errorf("%s: %w", principal, ErrNotOwner)
	}
	return nil
}

// TransferOwnership hands the set to a new owner. Owner-only; rejects the
// zero address.
func (cs *CapabilitySet) TransferOwnership(caller, next Address) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if caller != cs.owner {
		return ErrNotOwner
	}
	if next.IsZero() {
		return ErrZeroAddress
	}
	cs.owner = next
	return nil
}
