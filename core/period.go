package core

import (
	"fmt"
	"time"
)

const (
	minPeriodYear = 2000
	maxPeriodYear = 2100
)

// Period is a funding month.
type Period struct {
	Year  int `json:"year" query:"year"`
	Month int `json:"month" query:"month"`
}

func PeriodOf(t time.Time) Period {
	t = t.UTC()
	return Period{Year: t.Year(), Month: int(t.Month())}
}

func (p Period) Validate() error {
	var flds []FieldError
	if p.Year < minPeriodYear || p.Year > maxPeriodYear {
		flds = append(flds, FieldError{Field: "year", Error: fmt.Sprintf("year must be between %d and %d", minPeriodYear, maxPeriodYear)})
	}
	if p.Month < 1 || p.Month > 12 {
		flds = append(flds, FieldError{Field: "month", Error: "month must be between 1 and 12"})
	}
	if flds != nil {
		return NewValidationError(nil, flds...)
	}
	return nil
}

// Start is the first instant of the period, in UTC.
func (p Period) Start() time.Time {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
}

// Before reports whether p is an earlier month than o.
func (p Period) Before(o Period) bool {
	return p.Year < o.Year || (p.Year == o.Year && p.Month < o.Month)
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}
