package reconcile

import "time"

// BorrowerHistory is the rollup shown on a borrower's detail page.
type BorrowerHistory struct {
	Total        int   `json:"total"`
	ActiveCount  int   `json:"active_count"`
	OverdueCount int   `json:"overdue_count"`
	TotalPenalty int64 `json:"total_penalty"`
}

// Aggregate rolls up one borrower's records at the given instant. Penalties
// of returned-late loans count toward the total; the fine outlives the loan.
func (p Policy) Aggregate(borrows []Borrow, now time.Time) BorrowerHistory {
	var h BorrowerHistory
	for _, b := range borrows {
		c := p.Classify(b, now)
		h.Total++
		switch c.Status {
		case StatusActive:
			h.ActiveCount++
		case StatusOverdue:
			h.OverdueCount++
		}
		h.TotalPenalty += c.Penalty
	}
	return h
}

// Aggregate applies DefaultPolicy.
func Aggregate(borrows []Borrow, now time.Time) BorrowerHistory {
	return DefaultPolicy.Aggregate(borrows, now)
}

// BorrowsFor filters the record list down to one borrower id.
func BorrowsFor(borrows []Borrow, borrowerID string) []Borrow {
	var out []Borrow
	for _, b := range borrows {
		if b.BorrowerID == borrowerID {
			out = append(out, b)
		}
	}
	return out
}
