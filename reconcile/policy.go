package reconcile

import "time"

const (
	// LoanWindowDays is how long a copy may stay out before it is overdue.
	LoanWindowDays = 14
	// PenaltyPerDay is the fine accrued per whole overdue day, in the
	// library's currency unit. No ceiling is applied.
	PenaltyPerDay = 5000

	day = 24 * time.Hour
)

// Policy holds the temporal lending rules. The zero value is not useful;
// use DefaultPolicy or construct one explicitly.
type Policy struct {
	LoanWindowDays int
	PenaltyPerDay  int64
}

// DefaultPolicy is the library-wide lending policy.
var DefaultPolicy = Policy{
	LoanWindowDays: LoanWindowDays,
	PenaltyPerDay:  PenaltyPerDay,
}

// DueDate returns the date a loan taken at borrowedDate must be back by.
func (p Policy) DueDate(borrowedDate time.Time) time.Time {
	return borrowedDate.Add(time.Duration(p.LoanWindowDays) * day)
}

// OverdueDays counts the whole 24h periods between dueDate and effectiveEnd.
// Partial days before the boundary do not count; never negative.
func (p Policy) OverdueDays(dueDate, effectiveEnd time.Time) int {
	if !effectiveEnd.After(dueDate) {
		return 0
	}
	return int(effectiveEnd.Sub(dueDate) / day)
}

// Penalty is the fine for the given number of overdue days. Uncapped.
func (p Policy) Penalty(overdueDays int) int64 {
	if overdueDays <= 0 {
		return 0
	}
	return int64(overdueDays) * p.PenaltyPerDay
}
