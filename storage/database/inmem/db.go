package inmemdb

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/educhain/educhain/core"
	"github.com/educhain/educhain/core/distribution"
	"github.com/educhain/educhain/core/institution"
	"github.com/educhain/educhain/core/metrics"
	"github.com/educhain/educhain/core/profile"
	"github.com/educhain/educhain/core/settings"
	"github.com/educhain/educhain/core/teacher"
)

// DB keeps every table behind one lock so multi-table writes stay atomic.
type DB struct {
	mutex         sync.RWMutex
	institutions  map[string]institution.Institution
	profiles      map[string]profile.Profile
	metrics       map[string]metrics.MonthlyMetrics
	distributions map[string]distribution.Distribution
	teachers      map[string]teacher.Teacher
	settings      map[string]settings.Setting // by key
}

func Open() *DB {
	return &DB{
		institutions:  make(map[string]institution.Institution),
		profiles:      make(map[string]profile.Profile),
		metrics:       make(map[string]metrics.MonthlyMetrics),
		distributions: make(map[string]distribution.Distribution),
		teachers:      make(map[string]teacher.Teacher),
		settings:      make(map[string]settings.Setting),
	}
}

func newID() string { return uuid.New().String() }

func contains(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// sortBy orders items with the given comparators, applied in order until one decides.
// Each comparator returns <0, 0 or >0 for ascending order.
func sortBy[T any](items []T, ordering []core.DBOrdering, cmp map[string]func(a, b T) int) {
	sort.SliceStable(items, func(i, j int) bool {
		for _, ord := range ordering {
			c, ok := cmp[ord.Field]
			if !ok {
				continue
			}
			r := c(items[i], items[j])
			if r == 0 {
				continue
			}
			if ord.Ascending {
				return r < 0
			}
			return r > 0
		}
		return false
	})
}

func cmpString(a, b string) int { return strings.Compare(a, b) }

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
