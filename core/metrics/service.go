package metrics

import (
	"context"
	"net/mail"

	"github.com/pkg/errors"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/eligibility"
	"github.com/educhain/educhain/core/institution"
	"github.com/educhain/educhain/core/profile"
	"github.com/educhain/educhain/core/settings"
)

type (
	Repository interface {
		// CreateMetrics returns a DuplicateError when the institution already has a record for the period.
		CreateMetrics(ctx context.Context, m MonthlyMetrics) (MonthlyMetrics, error)
		GetMetrics(ctx context.Context, id string) (MonthlyMetrics, error)
		GetMetricsForPeriod(ctx context.Context, institutionID string, period core.Period) (MonthlyMetrics, error)
		QueryMetrics(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]MonthlyMetrics, error)
		// ReviewMetrics stores the review of a record that is still pending.
		// It returns an InvalidStateError when the record was reviewed in the meantime.
		ReviewMetrics(ctx context.Context, m MonthlyMetrics) (MonthlyMetrics, error)
	}

	Service interface {
		Submit(ctx context.Context, institutionID string, nm NewMetrics, submittedBy string) (MonthlyMetrics, error)
		// Validate moves a pending record to approved or rejected.
		// Approval writes the score to the institution and re-derives its eligibility,
		// unless metrics of a later period were approved already.
		Validate(ctx context.Context, id, reviewerID string, review Review) (MonthlyMetrics, error)
		GetByID(ctx context.Context, id string) (MonthlyMetrics, error)
		Get(ctx context.Context, institutionID string, period core.Period) (MonthlyMetrics, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]MonthlyMetrics, error)
		// Score previews the eligibility of an institution for the given values without storing anything.
		Score(ctx context.Context, institutionID string, in eligibility.Input) (eligibility.Result, error)
	}

	service struct {
		repo           Repository
		institutionSvc institution.Service
		settingsSvc    settings.Service
		profileSvc     profile.Service
		mailSvc        core.EmailService
		logger         core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(
	repo Repository,
	institutionSvc institution.Service,
	settingsSvc settings.Service,
	profileSvc profile.Service,
	mailSvc core.EmailService,
	logger core.Logger,
) Service {
	return &service{
		repo:           repo,
		institutionSvc: institutionSvc,
		settingsSvc:    settingsSvc,
		profileSvc:     profileSvc,
		mailSvc:        mailSvc,
		logger:         logger,
	}
}

func (svc *service) Submit(ctx context.Context, institutionID string, nm NewMetrics, submittedBy string) (MonthlyMetrics, error) {
	if err := nm.Period().Validate(); err != nil {
		return MonthlyMetrics{}, err
	}
	if err := nm.Input().Validate(); err != nil {
		return MonthlyMetrics{}, err
	}

	inst, err := svc.institutionSvc.GetByID(ctx, institutionID)
	if err != nil {
		return MonthlyMetrics{}, err
	}
	policy, err := svc.settingsSvc.Policy(ctx)
	if err != nil {
		return MonthlyMetrics{}, errors.Wrap(err, "loading funding policy")
	}
	result, err := policy.Eligibility.Score(nm.Input(), inst.Suspended)
	if err != nil {
		return MonthlyMetrics{}, err
	}

	now := core.NowFunc()
	m := MonthlyMetrics{
		InstitutionID:          inst.ID,
		Year:                   nm.Year,
		Month:                  nm.Month,
		AttendanceRate:         nm.AttendanceRate,
		NutritionParticipation: nm.NutritionParticipation,
		TeacherTrainingHours:   nm.TeacherTrainingHours,
		CommunityEngagement:    nm.CommunityEngagement,
		EligibilityScore:       result.Score,
		ValidationStatus:       StatusPending,
		Notes:                  nm.Notes,
		SubmittedBy:            submittedBy,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	m, err = svc.repo.CreateMetrics(ctx, m)
	return m, errors.Wrap(err, "creating metrics")
}

func (svc *service) Validate(ctx context.Context, id, reviewerID string, review Review) (MonthlyMetrics, error) {
	if review.Decision != StatusApproved && review.Decision != StatusRejected {
		return MonthlyMetrics{}, core.NewValidationError(nil, core.FieldError{Field: "decision", Error: "decision must be one of approved or rejected"})
	}

	m, err := svc.GetByID(ctx, id)
	if err != nil {
		return MonthlyMetrics{}, err
	}
	if !m.IsPending() {
		return MonthlyMetrics{}, core.NewInvalidStateError("metrics", m.ValidationStatus, "validate", "metrics were already reviewed")
	}

	inst, err := svc.institutionSvc.GetByID(ctx, m.InstitutionID)
	if err != nil {
		return MonthlyMetrics{}, err
	}

	if review.Decision == StatusApproved {
		// the policy may have changed since submission
		policy, err := svc.settingsSvc.Policy(ctx)
		if err != nil {
			return MonthlyMetrics{}, errors.Wrap(err, "loading funding policy")
		}
		result, err := policy.Eligibility.Score(m.Input(), inst.Suspended)
		if err != nil {
			return MonthlyMetrics{}, err
		}
		m.EligibilityScore = result.Score
	}

	now := core.NowFunc()
	m.ValidationStatus = review.Decision
	m.ValidatedBy = reviewerID
	m.ValidatedAt = &now
	m.ReviewComment = review.Comment
	m.UpdatedAt = now
	if m, err = svc.repo.ReviewMetrics(ctx, m); err != nil {
		return MonthlyMetrics{}, errors.Wrap(err, "reviewing metrics")
	}

	if m.ValidationStatus == StatusApproved {
		latest, err := svc.latestApproved(ctx, m.InstitutionID)
		if err != nil {
			return MonthlyMetrics{}, err
		}
		if m.Period().Before(latest.Period()) {
			svc.logger.Info("score of an older period not applied", "metrics_id", m.ID,
				"period", m.Period().String(), "latest_period", latest.Period().String())
		} else if inst, err = svc.institutionSvc.ApplyScore(ctx, m.InstitutionID, m.EligibilityScore); err != nil {
			return MonthlyMetrics{}, errors.Wrap(err, "applying score to institution")
		}
	}

	svc.notifyReviewed(ctx, m, inst)
	return m, nil
}

// latestApproved returns the approved metrics of the institution's most recent period.
func (svc *service) latestApproved(ctx context.Context, institutionID string) (MonthlyMetrics, error) {
	ms, err := svc.repo.QueryMetrics(ctx, &QueryFilter{InstitutionID: institutionID, ValidationStatus: StatusApproved},
		[]core.DBOrdering{{Field: "year"}, {Field: "month"}})
	if err != nil {
		return MonthlyMetrics{}, errors.Wrap(err, "querying approved metrics")
	}
	if len(ms) == 0 {
		return MonthlyMetrics{}, core.NewNotFoundError("metrics", institutionID+" approved")
	}
	return ms[0], nil
}

func (svc *service) notifyReviewed(ctx context.Context, m MonthlyMetrics, inst institution.Institution) {
	managers, err := svc.profileSvc.InstitutionManagers(ctx, inst.ID)
	if err != nil {
		svc.logger.Error("finding institution managers", err)
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
		Subject:      "Metrics " + m.ValidationStatus + " for " + m.Period().String(),
		TemplateName: "metrics_reviewed",
		TemplateData: map[string]interface{}{
			"MetricsID":       m.ID,
			"InstitutionName": inst.Name,
			"Period":          m.Period().String(),
			"Decision":        m.ValidationStatus,
			"Score":           m.EligibilityScore,
			"Comment":         m.ReviewComment,
		},
	})
}

func (svc *service) GetByID(ctx context.Context, id string) (MonthlyMetrics, error) {
	m, err := svc.repo.GetMetrics(ctx, id)
	return m, errors.Wrap(err, "finding metrics by ID")
}

func (svc *service) Get(ctx context.Context, institutionID string, period core.Period) (MonthlyMetrics, error) {
	if err := period.Validate(); err != nil {
		return MonthlyMetrics{}, err
	}
	m, err := svc.repo.GetMetricsForPeriod(ctx, institutionID, period)
	return m, errors.Wrap(err, "finding metrics for period")
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]MonthlyMetrics, error) {
	ordering = core.AllowedOrderings(ordering, "year", "month", "eligibility_score", "validation_status", "created_at")
	ms, err := svc.repo.QueryMetrics(ctx, filter, ordering)
	return ms, errors.Wrap(err, "querying metrics")
}

func (svc *service) Score(ctx context.Context, institutionID string, in eligibility.Input) (eligibility.Result, error) {
	inst, err := svc.institutionSvc.GetByID(ctx, institutionID)
	if err != nil {
		return eligibility.Result{}, err
	}
	policy, err := svc.settingsSvc.Policy(ctx)
	if err != nil {
		return eligibility.Result{}, errors.Wrap(err, "loading funding policy")
	}
	return policy.Eligibility.Score(in, inst.Suspended)
}
