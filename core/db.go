package core

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// AllowedOrderings drops orderings on fields that are not in allowed.
// Ordering fields come from query strings and end up in raw ORDER BY clauses.
func AllowedOrderings(ordering []DBOrdering, allowed ...string) []DBOrdering {
	if len(ordering) == 0 {
		return nil
	}
	kept := make([]DBOrdering, 0, len(ordering))
	for _, ord := range ordering {
		if StringInSlice(ord.Field, allowed) {
			kept = append(kept, ord)
		}
	}
	return kept
}
