package settlementsvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/google/uuid"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/distribution"
)

// Outcome decides what the dummy settler does with a request.
type Outcome func(req distribution.SettlementRequest) (distribution.SettlementReceipt, error)

// Dummy settles every payment locally. It is used in debug and test mode.
type Dummy struct {
	mu       sync.Mutex
	outcome  Outcome
	payments map[string]distribution.SettlementReceipt
	calls    int
	logger   core.Logger
}

var _ distribution.Settler = (*Dummy)(nil)

func NewDummy(logger core.Logger) *Dummy {
	return &Dummy{
		outcome:  Settled,
		payments: make(map[string]distribution.SettlementReceipt),
		logger:   logger,
	}
}

// Settled is the default Outcome: every payment succeeds with a deterministic hash.
func Settled(req distribution.SettlementRequest) (distribution.SettlementReceipt, error) {
	sum := sha256.Sum256([]byte(req.Reference + req.Destination + req.Amount.StringFixed(2)))
	return distribution.SettlementReceipt{
		State:           distribution.SettlementSettled,
		TransactionHash: hex.EncodeToString(sum[:]),
		OperationID:     uuid.NewString(),
	}, nil
}

// Failing returns an Outcome rejecting every payment with reason.
func Failing(reason string) Outcome {
	return func(distribution.SettlementRequest) (distribution.SettlementReceipt, error) {
		return distribution.SettlementReceipt{State: distribution.SettlementFailed, Reason: reason}, nil
	}
}

// TimingOut returns an Outcome that never answers in time. When settle is true the payment
// happens anyway and shows up on Lookup.
func TimingOut(settle bool) Outcome {
	return func(req distribution.SettlementRequest) (distribution.SettlementReceipt, error) {
		receipt := distribution.SettlementReceipt{State: distribution.SettlementUnknown}
		if settle {
			receipt, _ = Settled(req)
		}
		return receipt, core.NewSettlementTimeoutError(req.Reference, context.DeadlineExceeded)
	}
}

// SetOutcome changes the behaviour of later Settle calls.
func (d *Dummy) SetOutcome(o Outcome) {
	d.mu.Lock()
	d.outcome = o
	d.mu.Unlock()
}

// Resolve records what happened to a payment, as the network would eventually report it.
func (d *Dummy) Resolve(reference string, receipt distribution.SettlementReceipt) {
	d.mu.Lock()
	d.payments[reference] = receipt
	d.mu.Unlock()
}

// Calls is the number of Settle calls that reached the network.
func (d *Dummy) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *Dummy) Settle(ctx context.Context, req distribution.SettlementRequest) (distribution.SettlementReceipt, error) {
	if err := ctx.Err(); err != nil {
		return distribution.SettlementReceipt{}, core.NewSettlementTimeoutError(req.Reference, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if receipt, ok := d.payments[req.Reference]; ok && receipt.State != distribution.SettlementUnknown {
		return receipt, nil
	}
	d.calls++
	receipt, err := d.outcome(req)
	d.payments[req.Reference] = receipt
	if d.logger != nil {
		d.logger.Debug("dummy settlement", "reference", req.Reference, "amount", req.Amount.StringFixed(2), "state", string(receipt.State))
	}
	return receipt, err
}

func (d *Dummy) Lookup(_ context.Context, reference string) (distribution.SettlementReceipt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if receipt, ok := d.payments[reference]; ok {
		return receipt, nil
	}
	return distribution.SettlementReceipt{State: distribution.SettlementUnknown}, nil
}
