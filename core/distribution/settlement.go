package distribution

import (
	"context"

	"github.com/shopspring/decimal"
)

type SettlementState string

const (
	SettlementSettled SettlementState = "settled"
	SettlementFailed  SettlementState = "failed"
	SettlementUnknown SettlementState = "unknown"
)

// SettlementRequest is a transfer of funds to an institution wallet.
// Reference identifies the transfer at the gateway; it is the distribution ID.
type SettlementRequest struct {
	Reference   string
	Destination string
	Amount      decimal.Decimal
	Memo        string
}

type SettlementReceipt struct {
	State           SettlementState
	TransactionHash string
	OperationID     string
	Reason          string // why the transfer failed
}

// Settler moves funds through the settlement network.
type Settler interface {
	// Settle performs the transfer. A request with an already used reference must never move funds twice.
	// When the outcome cannot be determined it returns a *core.SettlementTimeoutError.
	Settle(ctx context.Context, req SettlementRequest) (SettlementReceipt, error)
	// Lookup reports what happened to an earlier transfer; State is unknown if the gateway has no answer yet.
	Lookup(ctx context.Context, reference string) (SettlementReceipt, error)
}

// Observer is told about distributions reaching a terminal state.
type Observer interface {
	DistributionFinalized(ctx context.Context, d Distribution)
}
