package reconcile

import (
	"sort"
	"time"
)

// Loan statuses as shown on every listing surface.
const (
	StatusActive   = "active"
	StatusOverdue  = "overdue"
	StatusReturned = "returned"
)

// Classification is the derived state of one borrow record. It is never
// stored; it is recomputed from the record on every pass.
type Classification struct {
	Status      string    `json:"status"`
	DueDate     time.Time `json:"due_date"`
	OverdueDays int       `json:"overdue_days"`
	Penalty     int64     `json:"penalty"`
}

// Classify derives status, due date, overdue days and penalty for one borrow
// at the given instant. A loan returned late keeps its positive penalty:
// overdue days are counted against the return date, not against now, so
// returning the book does not erase the fine.
func (p Policy) Classify(b Borrow, now time.Time) Classification {
	due := p.DueDate(b.BorrowedDate)

	effectiveEnd := now
	if b.ReturnDate != nil {
		effectiveEnd = *b.ReturnDate
	}

	days := p.OverdueDays(due, effectiveEnd)

	status := StatusActive
	switch {
	case b.ReturnDate != nil:
		status = StatusReturned
	case days > 0:
		status = StatusOverdue
	}

	return Classification{
		Status:      status,
		DueDate:     due,
		OverdueDays: days,
		Penalty:     p.Penalty(days),
	}
}

// Classify applies DefaultPolicy.
func Classify(b Borrow, now time.Time) Classification {
	return DefaultPolicy.Classify(b, now)
}

// SortMostRecentFirst orders borrows for display. Ids are monotonically
// assigned, so descending id is clock-skew proof where dates are not.
func SortMostRecentFirst(borrows []Borrow) {
	sort.Slice(borrows, func(i, j int) bool {
		return borrows[i].ID > borrows[j].ID
	})
}
