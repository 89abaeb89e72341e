package event

import (
	"time"

	"github.com/google/uuid"
)

// Type discriminator for event payloads
type Type int32

const (
	TypeUnknown Type = iota
	TypeDeposited
	TypeWithdrawn
	TypeMarginLocked
	TypeMarginUnlocked
	TypeBalanceCredited
	TypeBalanceDebited
	TypeBalanceTransferred
	TypeFeeCollected
	TypeFeeReceived
	TypeFeeWithdrawn
	TypeFeeRecipientChanged
	TypePositionOpened
	TypePositionClosed
	TypePositionLiquidated
	TypeFundingUpdated
	TypeOraclePriceSet
	TypeReservesAdjusted
	TypeRiskParamsUpdated
	TypeTradingPaused
	TypeTradingResumed
)

func (t Type) String() string {
	switch t {
	case TypeDeposited:
		return "Deposited"
	case TypeWithdrawn:
		return "Withdrawn"
	case TypeMarginLocked:
		return "MarginLocked"
	case TypeMarginUnlocked:
		return "MarginUnlocked"
	case TypeBalanceCredited:
		return "BalanceCredited"
	case TypeBalanceDebited:
		return "BalanceDebited"
	case TypeBalanceTransferred:
		return "BalanceTransferred"
	case TypeFeeCollected:
		return "FeeCollected"
	case TypeFeeReceived:
		return "FeeReceived"
	case TypeFeeWithdrawn:
		return "FeeWithdrawn"
	case TypeFeeRecipientChanged:
		return "FeeRecipientChanged"
	case TypePositionOpened:
		return "PositionOpened"
	case TypePositionClosed:
		return "PositionClosed"
	case TypePositionLiquidated:
		return "PositionLiquidated"
	case TypeFundingUpdated:
		return "FundingUpdated"
	case TypeOraclePriceSet:
		return "OraclePriceSet"
	case TypeReservesAdjusted:
		return "ReservesAdjusted"
	case TypeRiskParamsUpdated:
		return "RiskParamsUpdated"
	case TypeTradingPaused:
		return "TradingPaused"
	case TypeTradingResumed:
		return "TradingResumed"
	default:
		return "Unknown"
	}
}

// Event is the interface all audit payloads implement.
type Event interface {
	EventType() Type
}

// Envelope wraps every event appended to the audit log.
type Envelope struct {
	// Global monotonic sequence assigned by the bus
	Sequence int64 `json:"sequence"`

	// Stable unique identifier for dedup on replay
	EventID uuid.UUID `json:"event_id"`

	Type Type `json:"type"`

	Timestamp time.Time `json:"timestamp"`

	Payload Event `json:"payload"`
}

// Sink accepts audit events from the domain packages. Implementations
// must not block the caller.
type Sink interface {
	Record(Event)
}

// NopSink discards everything. Used in tests.
type NopSink struct{}

func (NopSink) Record(Event) {}
