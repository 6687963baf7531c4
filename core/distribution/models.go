package distribution

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/educhain/educhain/core"
)

type Status string

// Distribution statuses
const (
	StatusPending     Status = "pending"
	StatusProcessing  Status = "processing"
	StatusReconciling Status = "reconciling" // settlement outcome unknown, pending verification
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

var Statuses = []Status{StatusPending, StatusProcessing, StatusReconciling, StatusCompleted, StatusFailed}

// transitions lists the allowed moves; completed and failed are absorbing.
var transitions = map[Status][]Status{
	StatusPending:     {StatusProcessing, StatusFailed},
	StatusProcessing:  {StatusCompleted, StatusFailed, StatusReconciling},
	StatusReconciling: {StatusCompleted, StatusFailed},
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) IsValid() bool {
	for _, st := range Statuses {
		if st == s {
			return true
		}
	}
	return false
}

// Distribution is one installment paid (or to be paid) to an institution.
type Distribution struct {
	ID                    string          `json:"id"`
	InstitutionID         string          `json:"institution_id"`
	Amount                decimal.Decimal `json:"amount"`
	InstallmentNumber     int             `json:"installment_number"`
	PeriodYear            int             `json:"period_year"`
	PeriodMonth           int             `json:"period_month"`
	DistributionDate      time.Time       `json:"distribution_date"`
	Status                Status          `json:"status"`
	ApprovedBy            string          `json:"approved_by,omitempty"`
	ApprovedAt            *time.Time      `json:"approved_at"`
	AutoApproved          bool            `json:"auto_approved"`
	RejectedBy            string          `json:"rejected_by,omitempty"`
	RejectedAt            *time.Time      `json:"rejected_at,omitempty"`
	ProcessedAt           *time.Time      `json:"processed_at"`
	TransactionHash       string          `json:"transaction_hash,omitempty"`
	SettlementOperationID string          `json:"settlement_operation_id,omitempty"`
	Notes                 string          `json:"notes,omitempty"`
	Version               int             `json:"version"`
	CreatedAt             time.Time       `json:"created_at"` // UTC
	UpdatedAt             time.Time       `json:"updated_at"` // UTC
}

func (d Distribution) Period() core.Period {
	return core.Period{Year: d.PeriodYear, Month: d.PeriodMonth}
}

func (d Distribution) IsApproved() bool { return d.ApprovedAt != nil }

// moveTo changes the status or returns an InvalidStateError.
func (d *Distribution) moveTo(to Status, action string) error {
	if !d.Status.CanTransitionTo(to) {
		return core.NewInvalidStateError("distribution", string(d.Status), action, "")
	}
	d.Status = to
	return nil
}

// PlanRequest asks for the installment of an institution for a period.
type PlanRequest struct {
	InstitutionID string `json:"institution_id" validate:"required,uuid"`
	Year          int    `json:"year" validate:"gte=2000,lte=2100"`
	Month         int    `json:"month" validate:"gte=1,lte=12"`
}

func (pr *PlanRequest) Validate(validate *validator.Validate) error {
	pr.InstitutionID = core.CleanString(pr.InstitutionID, true /* lower */)
	return validate.Struct(pr)
}

func (pr PlanRequest) Period() core.Period {
	return core.Period{Year: pr.Year, Month: pr.Month}
}

// PlanResult is the outcome of planning. Distribution is nil when nothing was planned; Skipped then tells why.
// Error is only set by PlanPeriod, for an institution whose planning failed.
type PlanResult struct {
	InstitutionID string        `json:"institution_id"`
	Distribution  *Distribution `json:"distribution"`
	Decision      Decision      `json:"decision,omitempty"`
	Skipped       string        `json:"skipped,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// Reasons a plan is a no-op
const (
	SkipIneligible     = "institution is not eligible"
	SkipNoInstallment  = "institution has no installment value"
	SkipCycleComplete  = "all installments of the cycle were planned"
	SkipPoolExhausted  = "funding pool exhausted for the period"
	SkipAlreadyPlanned = "a distribution already covers the period"
)

type Rejection struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

func (r *Rejection) Validate(validate *validator.Validate) error {
	r.Reason = core.CleanString(r.Reason)
	return validate.Struct(r)
}

// SettlementConfirmation resolves a distribution that is pending verification.
type SettlementConfirmation struct {
	Settled         bool   `json:"settled"`
	TransactionHash string `json:"transaction_hash" validate:"required_if=Settled true"`
	Reason          string `json:"reason"`
}

func (sc *SettlementConfirmation) Validate(validate *validator.Validate) error {
	sc.TransactionHash = core.CleanString(sc.TransactionHash)
	sc.Reason = core.CleanString(sc.Reason)
	return validate.Struct(sc)
}

type QueryFilter struct {
	InstitutionID string    `query:"institution_id"`
	Status        string    `query:"status"`
	Year          int       `query:"year"`
	Month         int       `query:"month"`
	From          time.Time `query:"from"`
	To            time.Time `query:"to"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.InstitutionID == "" && qf.Status == "" && qf.Year == 0 && qf.Month == 0 && qf.From.IsZero() && qf.To.IsZero()
}

func (qf *QueryFilter) Clean() {
	qf.InstitutionID = core.CleanString(qf.InstitutionID, true /* lower */)
	qf.Status = core.CleanString(qf.Status, true /* lower */)
}
