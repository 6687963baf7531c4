package inmemdb

import (
	"context"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/metrics"
)

var metricsOrdering = map[string]func(a, b metrics.MonthlyMetrics) int{
	"year":              func(a, b metrics.MonthlyMetrics) int { return cmpInt(a.Year, b.Year) },
	"month":             func(a, b metrics.MonthlyMetrics) int { return cmpInt(a.Month, b.Month) },
	"eligibility_score": func(a, b metrics.MonthlyMetrics) int { return cmpInt(a.EligibilityScore, b.EligibilityScore) },
	"validation_status": func(a, b metrics.MonthlyMetrics) int { return cmpString(a.ValidationStatus, b.ValidationStatus) },
	"created_at":        func(a, b metrics.MonthlyMetrics) int { return a.CreatedAt.Compare(b.CreatedAt) },
}

type metricsRepository struct {
	db *DB
}

var _ metrics.Repository = (*metricsRepository)(nil) // interface compliance check

func NewMetricsRepository(db *DB) metrics.Repository {
	return &metricsRepository{db: db}
}

func (repo *metricsRepository) forPeriod(institutionID string, period core.Period) (metrics.MonthlyMetrics, bool) {
	for _, m := range repo.db.metrics {
		if m.InstitutionID == institutionID && m.Period() == period {
			return m, true
		}
	}
	return metrics.MonthlyMetrics{}, false
}

func (repo *metricsRepository) CreateMetrics(_ context.Context, m metrics.MonthlyMetrics) (metrics.MonthlyMetrics, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.forPeriod(m.InstitutionID, m.Period()); ok {
		return metrics.MonthlyMetrics{}, core.NewDuplicateError("metrics", m.InstitutionID+" "+m.Period().String())
	}
	m.ID = newID()
	repo.db.metrics[m.ID] = m
	return m, nil
}

func (repo *metricsRepository) GetMetrics(_ context.Context, id string) (metrics.MonthlyMetrics, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if m, ok := repo.db.metrics[id]; ok {
		return m, nil
	}
	return metrics.MonthlyMetrics{}, core.NewNotFoundError("metrics", id)
}

func (repo *metricsRepository) GetMetricsForPeriod(_ context.Context, institutionID string, period core.Period) (metrics.MonthlyMetrics, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if m, ok := repo.forPeriod(institutionID, period); ok {
		return m, nil
	}
	return metrics.MonthlyMetrics{}, core.NewNotFoundError("metrics", institutionID+" "+period.String())
}

func (repo *metricsRepository) QueryMetrics(_ context.Context, filter *metrics.QueryFilter, ordering []core.DBOrdering) ([]metrics.MonthlyMetrics, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	ms := make([]metrics.MonthlyMetrics, 0, len(repo.db.metrics))
	for _, m := range repo.db.metrics {
		if filter != nil {
			if filter.InstitutionID != "" && m.InstitutionID != filter.InstitutionID {
				continue
			}
			if filter.ValidationStatus != "" && m.ValidationStatus != filter.ValidationStatus {
				continue
			}
			if filter.YearFrom != 0 && m.Year < filter.YearFrom {
				continue
			}
			if filter.YearTo != 0 && m.Year > filter.YearTo {
				continue
			}
			if filter.Month != 0 && m.Month != filter.Month {
				continue
			}
		}
		ms = append(ms, m)
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "year"}, {Field: "month"}}
	}
	sortBy(ms, ordering, metricsOrdering)
	return ms, nil
}

func (repo *metricsRepository) ReviewMetrics(_ context.Context, m metrics.MonthlyMetrics) (metrics.MonthlyMetrics, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	current, ok := repo.db.metrics[m.ID]
	if !ok {
		return metrics.MonthlyMetrics{}, core.NewNotFoundError("metrics", m.ID)
	}
	if !current.IsPending() {
		return metrics.MonthlyMetrics{}, core.NewInvalidStateError("metrics", current.ValidationStatus, "validate", "metrics were already reviewed")
	}
	current.EligibilityScore = m.EligibilityScore
	current.ValidationStatus = m.ValidationStatus
	current.ValidatedBy = m.ValidatedBy
	current.ValidatedAt = m.ValidatedAt
	current.ReviewComment = m.ReviewComment
	current.UpdatedAt = m.UpdatedAt
	repo.db.metrics[m.ID] = current
	return current, nil
}
