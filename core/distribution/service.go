package distribution

import (
	"context"
	"net/mail"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/eligibility"
	"github.com/educhain/educhain/core/institution"
	"github.com/educhain/educhain/core/profile"
	"github.com/educhain/educhain/core/settings"
)

// ErrPoolExceeded is returned by CreateDistribution when a concurrent plan used the pool first.
var ErrPoolExceeded = errors.New("distribution exceeds the remaining funding pool")

// ErrInstallmentTaken is returned by CreateDistribution when another period of the institution holds the installment number.
var ErrInstallmentTaken = errors.New("installment number is held by another period")

// attempts made before giving up on a contended record
const maxAttempts = 5

type (
	Repository interface {
		// CreateDistribution inserts d unless the period's non-failed total would then exceed pool.
		// It returns a DuplicateError when a non-failed distribution already covers the institution and period
		// and ErrInstallmentTaken when one of another period has the same installment number.
		CreateDistribution(ctx context.Context, d Distribution, pool decimal.Decimal) (Distribution, error)
		GetDistribution(ctx context.Context, id string) (Distribution, error)
		// GetActiveDistribution returns the non-failed distribution of an institution for a period.
		GetActiveDistribution(ctx context.Context, institutionID string, period core.Period) (Distribution, error)
		QueryDistributions(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Distribution, error)
		// PeriodTotal sums the non-failed distributions of a period.
		PeriodTotal(ctx context.Context, period core.Period) (decimal.Decimal, error)
		// CountActive counts the non-failed distributions of an institution.
		CountActive(ctx context.Context, institutionID string) (int, error)
		// UpdateDistribution stores d if the stored version still equals d.Version and bumps the version.
		// It returns core.ErrConflict otherwise.
		UpdateDistribution(ctx context.Context, d Distribution) (Distribution, error)
		// CompleteDistribution is UpdateDistribution plus adding d.Amount to the institution total, in one transaction.
		CompleteDistribution(ctx context.Context, d Distribution) (Distribution, error)
	}

	Service interface {
		// Plan computes the installment of an institution for a period.
		// Nothing is planned when the institution is ineligible or the pool is exhausted; the result says why.
		Plan(ctx context.Context, institutionID string, period core.Period) (PlanResult, error)
		// PlanPeriod plans the period for every eligible institution.
		// An institution that cannot be planned is reported in its result and does not stop the others.
		PlanPeriod(ctx context.Context, period core.Period) ([]PlanResult, error)
		// Evaluate runs the approval gate against a stored distribution.
		Evaluate(ctx context.Context, id string) (Decision, error)
		Approve(ctx context.Context, id, approverID string) (Distribution, error)
		Reject(ctx context.Context, id, approverID, reason string) (Distribution, error)
		// Execute settles an approved distribution. When the settlement outcome is unknown the
		// distribution is left reconciling and a *core.SettlementTimeoutError is returned with it.
		Execute(ctx context.Context, id string) (Distribution, error)
		// Reconcile asks the settlement network about a reconciling distribution, or about one left
		// processing for longer than the settlement timeout.
		Reconcile(ctx context.Context, id string) (Distribution, error)
		// ReconcilePending reconciles every distribution pending verification and returns how many were resolved.
		ReconcilePending(ctx context.Context) (int, error)
		// Confirm resolves a reconciling or stalled distribution from an operator's verification.
		Confirm(ctx context.Context, id, operatorID string, sc SettlementConfirmation) (Distribution, error)
		GetByID(ctx context.Context, id string) (Distribution, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Distribution, error)
	}

	service struct {
		repo              Repository
		institutionSvc    institution.Service
		settingsSvc       settings.Service
		profileSvc        profile.Service
		settler           Settler
		mailSvc           core.EmailService
		logger            core.Logger
		settlementTimeout time.Duration
		locale            string
		observers         []Observer
	}
)

var _ Service = (*service)(nil)

func NewService(
	repo Repository,
	institutionSvc institution.Service,
	settingsSvc settings.Service,
	profileSvc profile.Service,
	settler Settler,
	mailSvc core.EmailService,
	logger core.Logger,
	conf *core.Config,
	observers ...Observer,
) Service {
	return &service{
		repo:              repo,
		institutionSvc:    institutionSvc,
		settingsSvc:       settingsSvc,
		profileSvc:        profileSvc,
		settler:           settler,
		mailSvc:           mailSvc,
		logger:            logger,
		settlementTimeout: conf.Settlement.Timeout,
		locale:            conf.Locale,
		observers:         observers,
	}
}

func (svc *service) Plan(ctx context.Context, institutionID string, period core.Period) (PlanResult, error) {
	if err := period.Validate(); err != nil {
		return PlanResult{}, err
	}
	inst, err := svc.institutionSvc.GetByID(ctx, institutionID)
	if err != nil {
		return PlanResult{}, err
	}
	policy, err := svc.settingsSvc.Policy(ctx)
	if err != nil {
		return PlanResult{}, errors.Wrap(err, "loading funding policy")
	}
	return svc.plan(ctx, inst, period, policy)
}

func (svc *service) plan(ctx context.Context, inst institution.Institution, period core.Period, policy settings.Policy) (PlanResult, error) {
	res := PlanResult{InstitutionID: inst.ID}
	if !inst.IsEligible() {
		res.Skipped = SkipIneligible
		return res, nil
	}

	_, err := svc.repo.GetActiveDistribution(ctx, inst.ID, period)
	switch {
	case err == nil:
		return PlanResult{}, core.NewDuplicateError("distribution", inst.ID+" "+period.String())
	case !core.IsNotFound(err):
		return PlanResult{}, errors.Wrap(err, "finding distribution for period")
	}

	if !inst.InstallmentValue.IsPositive() {
		res.Skipped = SkipNoInstallment
		return res, nil
	}

	lost := core.ErrConflict
	for attempt := 0; attempt < maxAttempts; attempt++ {
		used, err := svc.repo.PeriodTotal(ctx, period)
		if err != nil {
			return PlanResult{}, errors.Wrap(err, "summing period distributions")
		}
		remaining := policy.PeriodPool.Sub(used)
		if !remaining.IsPositive() {
			res.Skipped = SkipPoolExhausted
			return res, nil
		}

		count, err := svc.repo.CountActive(ctx, inst.ID)
		if err != nil {
			return PlanResult{}, errors.Wrap(err, "counting distributions")
		}
		if inst.InstallmentCount > 0 && count >= inst.InstallmentCount {
			res.Skipped = SkipCycleComplete
			return res, nil
		}
		number, err := svc.installmentFor(ctx, inst.ID, period)
		if err != nil {
			return PlanResult{}, err
		}

		now := core.NowFunc()
		d := Distribution{
			InstitutionID:     inst.ID,
			Amount:            decimal.Min(inst.InstallmentValue, remaining, inst.Cap(policy.MaxDistributionAmount)).Round(2),
			InstallmentNumber: number,
			PeriodYear:        period.Year,
			PeriodMonth:       period.Month,
			DistributionDate:  now,
			Status:            StatusPending,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if !d.Amount.IsPositive() {
			res.Skipped = SkipPoolExhausted
			return res, nil
		}

		res.Decision = GateFor(policy).Evaluate(d.Amount, inst)
		if res.Decision == DecisionAutoApprove {
			d.ApprovedAt = &now
			d.AutoApproved = true
		}

		d, err = svc.repo.CreateDistribution(ctx, d, policy.PeriodPool)
		switch errors.Cause(err) {
		case ErrPoolExceeded:
			continue
		case ErrInstallmentTaken:
			lost = errors.Wrapf(core.ErrConflict, "installment %d of institution %s is held by another period", number, inst.ID)
			continue
		}
		if err != nil {
			return PlanResult{}, errors.Wrap(err, "creating distribution")
		}

		res.Distribution = &d
		svc.logger.Info("distribution planned", "distribution_id", d.ID, "institution_id", inst.ID,
			"period", period.String(), "amount", d.Amount.StringFixed(2), "decision", string(res.Decision))
		if res.Decision == DecisionManualReview {
			svc.notifyManagers(ctx, "distribution_review", "Distribution awaiting approval", d, inst)
		}
		return res, nil
	}
	return PlanResult{}, errors.Wrap(lost, "planning distribution")
}

// installmentFor numbers the next distribution of an institution for period.
// A retried period keeps the number of its failed distribution unless an active one has taken it since.
func (svc *service) installmentFor(ctx context.Context, institutionID string, period core.Period) (int, error) {
	ds, err := svc.repo.QueryDistributions(ctx, &QueryFilter{InstitutionID: institutionID}, nil)
	if err != nil {
		return 0, errors.Wrap(err, "querying institution distributions")
	}

	last := 0
	held := make(map[int]bool)
	for _, d := range ds {
		if d.Status == StatusFailed {
			continue
		}
		held[d.InstallmentNumber] = true
		if d.InstallmentNumber > last {
			last = d.InstallmentNumber
		}
	}
	for _, d := range ds {
		if d.Status == StatusFailed && d.Period() == period && !held[d.InstallmentNumber] {
			return d.InstallmentNumber, nil
		}
	}
	return last + 1, nil
}

func (svc *service) PlanPeriod(ctx context.Context, period core.Period) ([]PlanResult, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	policy, err := svc.settingsSvc.Policy(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "loading funding policy")
	}
	suspended := false
	insts, err := svc.institutionSvc.Query(ctx, &institution.QueryFilter{Status: eligibility.StatusEligible, Suspended: &suspended},
		[]core.DBOrdering{{Field: "eligibility_score"}, {Field: "created_at", Ascending: true}})
	if err != nil {
		return nil, err
	}

	results := make([]PlanResult, 0, len(insts))
	for _, inst := range insts {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		res, err := svc.plan(ctx, inst, period, policy)
		switch {
		case core.IsDuplicate(err):
			res = PlanResult{InstitutionID: inst.ID, Skipped: SkipAlreadyPlanned}
		case err != nil:
			svc.logger.Error("planning distribution", "institution_id", inst.ID, "period", period.String(), err)
			res = PlanResult{InstitutionID: inst.ID, Error: err.Error()}
		}
		results = append(results, res)
	}
	return results, nil
}

func (svc *service) Evaluate(ctx context.Context, id string) (Decision, error) {
	d, err := svc.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	inst, err := svc.institutionSvc.GetByID(ctx, d.InstitutionID)
	if err != nil {
		return "", err
	}
	policy, err := svc.settingsSvc.Policy(ctx)
	if err != nil {
		return "", errors.Wrap(err, "loading funding policy")
	}
	return GateFor(policy).Evaluate(d.Amount, inst), nil
}

// mutate re-reads the distribution and applies fn until the compare-and-set write wins.
// fn reports false when there is nothing to write.
func (svc *service) mutate(ctx context.Context, id string, complete bool, fn func(d *Distribution) (bool, error)) (Distribution, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		d, err := svc.GetByID(ctx, id)
		if err != nil {
			return Distribution{}, err
		}
		changed, err := fn(&d)
		if err != nil {
			return d, err
		}
		if !changed {
			return d, nil
		}
		d.UpdatedAt = core.NowFunc()

		var saved Distribution
		if complete {
			saved, err = svc.repo.CompleteDistribution(ctx, d)
		} else {
			saved, err = svc.repo.UpdateDistribution(ctx, d)
		}
		if errors.Cause(err) == core.ErrConflict {
			continue
		}
		if err != nil {
			return Distribution{}, errors.Wrap(err, "updating distribution")
		}
		return saved, nil
	}
	return Distribution{}, errors.Wrap(core.ErrConflict, "updating distribution")
}

func (svc *service) Approve(ctx context.Context, id, approverID string) (Distribution, error) {
	return svc.mutate(ctx, id, false, func(d *Distribution) (bool, error) {
		if d.IsApproved() && d.ApprovedBy == approverID && d.Status == StatusPending {
			return false, nil
		}
		if d.Status != StatusPending {
			return false, core.NewInvalidStateError("distribution", string(d.Status), "approve", "")
		}
		if d.IsApproved() {
			return false, core.NewInvalidStateError("distribution", string(d.Status), "approve", "already approved")
		}
		now := core.NowFunc()
		d.ApprovedBy = approverID
		d.ApprovedAt = &now
		return true, nil
	})
}

func (svc *service) Reject(ctx context.Context, id, approverID, reason string) (Distribution, error) {
	reason = core.CleanString(reason)
	if reason == "" {
		return Distribution{}, core.NewValidationError(nil, core.FieldError{Field: "reason", Error: "reason is required"})
	}
	return svc.mutate(ctx, id, false, func(d *Distribution) (bool, error) {
		if d.Status == StatusFailed && d.RejectedBy == approverID && d.Notes == reason {
			return false, nil
		}
		if d.Status == StatusPending && d.IsApproved() {
			return false, core.NewInvalidStateError("distribution", string(d.Status), "reject", "already approved")
		}
		if err := d.moveTo(StatusFailed, "reject"); err != nil {
			return false, err
		}
		now := core.NowFunc()
		d.RejectedBy = approverID
		d.RejectedAt = &now
		d.Notes = reason
		return true, nil
	})
}

func (svc *service) Execute(ctx context.Context, id string) (Distribution, error) {
	d, err := svc.GetByID(ctx, id)
	if err != nil {
		return Distribution{}, err
	}
	if d.Status != StatusPending {
		return d, core.NewInvalidStateError("distribution", string(d.Status), "execute", "")
	}
	if !d.IsApproved() {
		return d, core.NewInvalidStateError("distribution", string(d.Status), "execute", "distribution is not approved")
	}
	inst, err := svc.institutionSvc.GetByID(ctx, d.InstitutionID)
	if err != nil {
		return Distribution{}, err
	}
	if !core.IsWalletAddress(inst.SettlementWallet) {
		return d, core.NewValidationError(nil, core.FieldError{Field: "settlement_wallet", Error: "institution has no valid settlement wallet"})
	}

	// Claim the distribution. Whoever loses the compare-and-set sees it processing.
	if err := d.moveTo(StatusProcessing, "execute"); err != nil {
		return d, err
	}
	d.UpdatedAt = core.NowFunc()
	d, err = svc.repo.UpdateDistribution(ctx, d)
	if errors.Cause(err) == core.ErrConflict {
		current, gerr := svc.GetByID(ctx, id)
		if gerr != nil {
			return Distribution{}, gerr
		}
		return current, core.NewInvalidStateError("distribution", string(current.Status), "execute", "distribution is already being executed")
	}
	if err != nil {
		return Distribution{}, errors.Wrap(err, "claiming distribution")
	}

	sctx, cancel := context.WithTimeout(ctx, svc.settlementTimeout)
	receipt, serr := svc.settler.Settle(sctx, SettlementRequest{
		Reference:   d.ID,
		Destination: inst.SettlementWallet,
		Amount:      d.Amount,
		Memo:        "installment " + d.Period().String(),
	})
	cancel()
	if serr == nil && receipt.State != SettlementSettled && receipt.State != SettlementFailed {
		serr = core.NewSettlementTimeoutError(d.ID, errors.Errorf("settlement state %q", receipt.State))
	}

	// The outcome has to be recorded even when the caller went away.
	rctx := context.WithoutCancel(ctx)
	if serr != nil {
		return svc.markReconciling(rctx, d, inst, serr)
	}
	return svc.record(rctx, d.ID, receipt, StatusProcessing)
}

func (svc *service) markReconciling(ctx context.Context, d Distribution, inst institution.Institution, cause error) (Distribution, error) {
	timeoutErr := cause
	if !core.IsSettlementTimeout(cause) {
		timeoutErr = core.NewSettlementTimeoutError(d.ID, cause)
	}

	d, err := svc.mutate(ctx, d.ID, false, func(d *Distribution) (bool, error) {
		if d.Status != StatusProcessing {
			return false, core.NewInvalidStateError("distribution", string(d.Status), "reconcile", "")
		}
		d.Status = StatusReconciling
		d.Notes = "settlement pending verification: " + cause.Error()
		return true, nil
	})
	if err != nil {
		return d, errors.Wrap(err, "marking distribution for reconciliation")
	}

	svc.logger.Warn("settlement outcome unknown", "distribution_id", d.ID, cause)
	svc.notifyManagers(ctx, "settlement_pending", "Settlement pending verification", d, inst)
	return d, timeoutErr
}

// record applies a definite settlement outcome to a distribution in state from.
func (svc *service) record(ctx context.Context, id string, receipt SettlementReceipt, from Status) (Distribution, error) {
	switch receipt.State {
	case SettlementSettled:
		d, err := svc.mutate(ctx, id, true, func(d *Distribution) (bool, error) {
			if d.Status != from {
				return false, core.NewInvalidStateError("distribution", string(d.Status), "complete", "")
			}
			now := core.NowFunc()
			d.Status = StatusCompleted
			d.ProcessedAt = &now
			d.TransactionHash = receipt.TransactionHash
			d.SettlementOperationID = receipt.OperationID
			return true, nil
		})
		if err != nil {
			return d, err
		}
		svc.logger.Info("distribution completed", "distribution_id", d.ID, "transaction_hash", d.TransactionHash)
		svc.finalized(ctx, d)
		return d, nil

	case SettlementFailed:
		d, err := svc.mutate(ctx, id, false, func(d *Distribution) (bool, error) {
			if d.Status != from {
				return false, core.NewInvalidStateError("distribution", string(d.Status), "fail", "")
			}
			now := core.NowFunc()
			d.Status = StatusFailed
			d.ProcessedAt = &now
			d.Notes = "settlement failed: " + receipt.Reason
			return true, nil
		})
		if err != nil {
			return d, err
		}
		svc.logger.Warn("distribution settlement failed", "distribution_id", d.ID, "reason", receipt.Reason)
		svc.finalized(ctx, d)
		return d, nil
	}

	return svc.GetByID(ctx, id)
}

func (svc *service) finalized(ctx context.Context, d Distribution) {
	for _, o := range svc.observers {
		o.DistributionFinalized(ctx, d)
	}
}

// stalled reports whether d was claimed for settlement longer ago than a settlement may take.
func (svc *service) stalled(d Distribution) bool {
	return d.Status == StatusProcessing && core.NowFunc().Sub(d.UpdatedAt) > svc.settlementTimeout
}

// resolvable checks that action may settle the outcome of d by hand or by lookup.
func (svc *service) resolvable(d Distribution, action string) error {
	switch {
	case d.Status == StatusReconciling, svc.stalled(d):
		return nil
	case d.Status == StatusProcessing:
		return core.NewInvalidStateError("distribution", string(d.Status), action, "settlement is in progress")
	}
	return core.NewInvalidStateError("distribution", string(d.Status), action, "")
}

func (svc *service) Reconcile(ctx context.Context, id string) (Distribution, error) {
	d, err := svc.GetByID(ctx, id)
	if err != nil {
		return Distribution{}, err
	}
	if err = svc.resolvable(d, "reconcile"); err != nil {
		return d, err
	}

	receipt, err := svc.settler.Lookup(ctx, d.ID)
	if err != nil {
		return d, errors.Wrap(err, "looking up settlement")
	}
	if receipt.State != SettlementUnknown {
		return svc.record(ctx, d.ID, receipt, d.Status)
	}
	if d.Status == StatusReconciling {
		return d, nil
	}

	inst, err := svc.institutionSvc.GetByID(ctx, d.InstitutionID)
	if err != nil {
		return d, err
	}
	d, err = svc.markReconciling(ctx, d, inst, errors.Errorf("no settlement outcome recorded %s after the claim", svc.settlementTimeout))
	if core.IsSettlementTimeout(err) {
		return d, nil
	}
	return d, err
}

func (svc *service) ReconcilePending(ctx context.Context) (int, error) {
	var pending []Distribution
	for _, status := range []Status{StatusReconciling, StatusProcessing} {
		ds, err := svc.repo.QueryDistributions(ctx, &QueryFilter{Status: string(status)}, []core.DBOrdering{{Field: "updated_at", Ascending: true}})
		if err != nil {
			return 0, errors.Wrapf(err, "querying %s distributions", status)
		}
		for _, d := range ds {
			if d.Status == StatusReconciling || svc.stalled(d) {
				pending = append(pending, d)
			}
		}
	}

	resolved := 0
	for _, pd := range pending {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		d, err := svc.Reconcile(ctx, pd.ID)
		if err != nil {
			svc.logger.Error("reconciling distribution", "distribution_id", pd.ID, err)
			continue
		}
		if d.Status.IsTerminal() {
			resolved++
		}
	}
	return resolved, nil
}

func (svc *service) Confirm(ctx context.Context, id, operatorID string, sc SettlementConfirmation) (Distribution, error) {
	if sc.Settled && sc.TransactionHash == "" {
		return Distribution{}, core.NewValidationError(nil, core.FieldError{Field: "transaction_hash", Error: "transaction_hash is required"})
	}

	d, err := svc.GetByID(ctx, id)
	if err != nil {
		return Distribution{}, err
	}
	// repeated confirmation of the same outcome
	if sc.Settled && d.Status == StatusCompleted && d.TransactionHash == sc.TransactionHash {
		return d, nil
	}
	if err = svc.resolvable(d, "confirm"); err != nil {
		return d, err
	}

	receipt := SettlementReceipt{State: SettlementFailed, Reason: sc.Reason}
	if sc.Settled {
		receipt = SettlementReceipt{State: SettlementSettled, TransactionHash: sc.TransactionHash}
	}
	if receipt.Reason == "" {
		receipt.Reason = "confirmed by " + operatorID
	}
	svc.logger.Info("settlement confirmed manually", "distribution_id", id, "operator_id", operatorID, "settled", sc.Settled)
	return svc.record(ctx, id, receipt, d.Status)
}

func (svc *service) notifyManagers(ctx context.Context, template, subject string, d Distribution, inst institution.Institution) {
	managers, err := svc.profileSvc.FoundationManagers(ctx)
	if err != nil {
		svc.logger.Error("finding foundation managers", err)
		return
	}
	if len(managers) == 0 {
		return
	}

	to := make([]mail.Address, 0, len(managers))
	for _, p := range managers {
		to = append(to, mail.Address{Name: p.Name, Address: p.Email})
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           to,
		Subject:      subject + ": " + inst.Name,
		TemplateName: template,
		TemplateData: map[string]interface{}{
			"DistributionID":    d.ID,
			"InstitutionName":   inst.Name,
			"InstallmentNumber": d.InstallmentNumber,
			"Amount":            core.FormatAmount(svc.locale, d.Amount),
			"Period":            d.Period().String(),
			"Score":             inst.EligibilityScore,
		},
	})
}

func (svc *service) GetByID(ctx context.Context, id string) (Distribution, error) {
	d, err := svc.repo.GetDistribution(ctx, id)
	return d, errors.Wrap(err, "finding distribution by ID")
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Distribution, error) {
	if filter != nil && filter.Status != "" && !Status(filter.Status).IsValid() {
		return nil, core.NewValidationError(nil, core.FieldError{Field: "status", Error: "unknown status"})
	}
	ordering = core.AllowedOrderings(ordering, "distribution_date", "amount", "status", "installment_number", "period_year", "period_month", "created_at", "updated_at")
	ds, err := svc.repo.QueryDistributions(ctx, filter, ordering)
	return ds, errors.Wrap(err, "querying distributions")
}
