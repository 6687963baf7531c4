package inmemdb

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/distribution"
)

var distributionOrdering = map[string]func(a, b distribution.Distribution) int{
	"distribution_date":  func(a, b distribution.Distribution) int { return a.DistributionDate.Compare(b.DistributionDate) },
	"amount":             func(a, b distribution.Distribution) int { return a.Amount.Cmp(b.Amount) },
	"status":             func(a, b distribution.Distribution) int { return cmpString(string(a.Status), string(b.Status)) },
	"installment_number": func(a, b distribution.Distribution) int { return cmpInt(a.InstallmentNumber, b.InstallmentNumber) },
	"period_year":        func(a, b distribution.Distribution) int { return cmpInt(a.PeriodYear, b.PeriodYear) },
	"period_month":       func(a, b distribution.Distribution) int { return cmpInt(a.PeriodMonth, b.PeriodMonth) },
	"created_at":         func(a, b distribution.Distribution) int { return a.CreatedAt.Compare(b.CreatedAt) },
	"updated_at":         func(a, b distribution.Distribution) int { return a.UpdatedAt.Compare(b.UpdatedAt) },
}

type distributionRepository struct {
	db *DB
}

var _ distribution.Repository = (*distributionRepository)(nil) // interface compliance check

func NewDistributionRepository(db *DB) distribution.Repository {
	return &distributionRepository{db: db}
}

func (repo *distributionRepository) periodTotal(period core.Period) decimal.Decimal {
	total := decimal.Zero
	for _, d := range repo.db.distributions {
		if d.Period() == period && d.Status != distribution.StatusFailed {
			total = total.Add(d.Amount)
		}
	}
	return total
}

func (repo *distributionRepository) CreateDistribution(_ context.Context, d distribution.Distribution, pool decimal.Decimal) (distribution.Distribution, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if repo.periodTotal(d.Period()).Add(d.Amount).GreaterThan(pool) {
		return distribution.Distribution{}, distribution.ErrPoolExceeded
	}
	for _, other := range repo.db.distributions {
		if other.InstitutionID != d.InstitutionID || other.Status == distribution.StatusFailed {
			continue
		}
		if other.Period() == d.Period() {
			return distribution.Distribution{}, core.NewDuplicateError("distribution", d.InstitutionID+" "+d.Period().String())
		}
		if other.InstallmentNumber == d.InstallmentNumber {
			return distribution.Distribution{}, distribution.ErrInstallmentTaken
		}
	}

	d.ID = newID()
	d.Version = 1
	repo.db.distributions[d.ID] = d
	return d, nil
}

func (repo *distributionRepository) GetDistribution(_ context.Context, id string) (distribution.Distribution, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if d, ok := repo.db.distributions[id]; ok {
		return d, nil
	}
	return distribution.Distribution{}, core.NewNotFoundError("distribution", id)
}

func (repo *distributionRepository) GetActiveDistribution(_ context.Context, institutionID string, period core.Period) (distribution.Distribution, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, d := range repo.db.distributions {
		if d.InstitutionID == institutionID && d.Period() == period && d.Status != distribution.StatusFailed {
			return d, nil
		}
	}
	return distribution.Distribution{}, core.NewNotFoundError("distribution", institutionID+" "+period.String())
}

func (repo *distributionRepository) QueryDistributions(_ context.Context, filter *distribution.QueryFilter, ordering []core.DBOrdering) ([]distribution.Distribution, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	ds := make([]distribution.Distribution, 0, len(repo.db.distributions))
	for _, d := range repo.db.distributions {
		if filter != nil {
			if filter.InstitutionID != "" && d.InstitutionID != filter.InstitutionID {
				continue
			}
			if filter.Status != "" && string(d.Status) != filter.Status {
				continue
			}
			if filter.Year != 0 && d.PeriodYear != filter.Year {
				continue
			}
			if filter.Month != 0 && d.PeriodMonth != filter.Month {
				continue
			}
			if !filter.From.IsZero() && d.DistributionDate.Before(filter.From) {
				continue
			}
			if !filter.To.IsZero() && d.DistributionDate.After(filter.To) {
				continue
			}
		}
		ds = append(ds, d)
	}
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "distribution_date"}}
	}
	sortBy(ds, ordering, distributionOrdering)
	return ds, nil
}

func (repo *distributionRepository) PeriodTotal(_ context.Context, period core.Period) (decimal.Decimal, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()
	return repo.periodTotal(period), nil
}

func (repo *distributionRepository) CountActive(_ context.Context, institutionID string) (int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	n := 0
	for _, d := range repo.db.distributions {
		if d.InstitutionID == institutionID && d.Status != distribution.StatusFailed {
			n++
		}
	}
	return n, nil
}

// compareAndSet must be called with the write lock held.
func (repo *distributionRepository) compareAndSet(d distribution.Distribution) (distribution.Distribution, error) {
	current, ok := repo.db.distributions[d.ID]
	if !ok {
		return distribution.Distribution{}, core.NewNotFoundError("distribution", d.ID)
	}
	if current.Version != d.Version {
		return distribution.Distribution{}, core.ErrConflict
	}
	d.Version++
	d.CreatedAt = current.CreatedAt
	repo.db.distributions[d.ID] = d
	return d, nil
}

func (repo *distributionRepository) UpdateDistribution(_ context.Context, d distribution.Distribution) (distribution.Distribution, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()
	return repo.compareAndSet(d)
}

func (repo *distributionRepository) CompleteDistribution(_ context.Context, d distribution.Distribution) (distribution.Distribution, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	inst, ok := repo.db.institutions[d.InstitutionID]
	if !ok {
		return distribution.Distribution{}, core.NewNotFoundError("institution", d.InstitutionID)
	}
	saved, err := repo.compareAndSet(d)
	if err != nil {
		return distribution.Distribution{}, err
	}
	inst.TotalDistributed = inst.TotalDistributed.Add(d.Amount)
	inst.UpdatedAt = d.UpdatedAt
	repo.db.institutions[inst.ID] = inst
	return saved, nil
}
