package inmemdb_test

import (
	"testing"

	inmemdb "github.com/educhain/educhain/storage/database/inmem"
	testutil "github.com/educhain/educhain/tests"
)

func newRepos() testutil.Repos {
	db := inmemdb.Open()
	return testutil.Repos{
		Institutions:  inmemdb.NewInstitutionRepository(db),
		Profiles:      inmemdb.NewProfileRepository(db),
		Metrics:       inmemdb.NewMetricsRepository(db),
		Distributions: inmemdb.NewDistributionRepository(db),
		Settings:      inmemdb.NewSettingsRepository(db),
	}
}

func TestRepositories(t *testing.T) {
	contracts := map[string]func(*testing.T, testutil.Repos){
		"institution":         testutil.InstitutionRepositoryContract,
		"distribution":        testutil.DistributionRepositoryContract,
		"concurrent planning": testutil.ConcurrentPlanningContract,
		"metrics":             testutil.MetricsRepositoryContract,
		"profile":             testutil.ProfileRepositoryContract,
		"settings":            testutil.SettingsRepositoryContract,
	}
	for name, contract := range contracts {
		contract := contract
		t.Run(name, func(t *testing.T) {
			contract(t, newRepos())
		})
	}
}
