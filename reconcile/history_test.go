package reconcile_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ahinestrog/openlibrary/reconcile"
)

func Test_Aggregate_MixedHistory(t *testing.T) {
	now := ts("2024-02-01T00:00:00Z")
	borrows := []reconcile.Borrow{
		// Active, not yet due (borrowed Jan 25, due Feb 8).
		{ID: 1, ShelfBookID: 10, BorrowedDate: ts("2024-01-25T00:00:00Z")},
		// Overdue: due Jan 15, 17 days late at "now".
		{ID: 2, ShelfBookID: 10, BorrowedDate: ts("2024-01-01T00:00:00Z")},
		// Returned 3 days late: penalty survives the return.
		{ID: 3, ShelfBookID: 11, BorrowedDate: ts("2024-01-01T00:00:00Z"), ReturnDate: tp("2024-01-18T00:00:00Z")},
		// Returned on time.
		{ID: 4, ShelfBookID: 11, BorrowedDate: ts("2024-01-01T00:00:00Z"), ReturnDate: tp("2024-01-10T00:00:00Z")},
	}

	h := reconcile.Aggregate(borrows, now)

	assert.Equal(t, 4, h.Total)
	assert.Equal(t, 1, h.ActiveCount)
	assert.Equal(t, 1, h.OverdueCount)
	assert.Equal(t, int64(17*5000+3*5000), h.TotalPenalty)
}

func Test_Aggregate_Empty(t *testing.T) {
	h := reconcile.Aggregate(nil, ts("2024-01-01T00:00:00Z"))

	assert.Zero(t, h.Total)
	assert.Zero(t, h.ActiveCount)
	assert.Zero(t, h.OverdueCount)
	assert.Zero(t, h.TotalPenalty)
}

func Test_BorrowsFor_FiltersByBorrower(t *testing.T) {
	borrows := []reconcile.Borrow{
		{ID: 1, BorrowerID: "42"},
		{ID: 2, BorrowerID: "7"},
		{ID: 3, BorrowerID: "42"},
	}

	mine := reconcile.BorrowsFor(borrows, "42")

	assert.Len(t, mine, 2)
	assert.Equal(t, int64(1), mine[0].ID)
	assert.Equal(t, int64(3), mine[1].ID)
}
