package reconcile_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ahinestrog/openlibrary/reconcile"
)

func Test_Reconcile_TwoShelves(t *testing.T) {
	// Book with 5 total copies; shelf A holds 3 (2 lent out), shelf B holds 2.
	book := reconcile.Book{ID: 1, Title: "Dune", TotalCopies: 5}
	snap := reconcile.Snapshot{
		Books:   []reconcile.Book{book},
		Shelves: []reconcile.Shelf{{ID: 1, Location: "A"}, {ID: 2, Location: "B"}},
		ShelfBooks: []reconcile.ShelfBook{
			{ID: 10, ShelfID: 1, BookID: 1, CopiesInShelf: 3},
			{ID: 11, ShelfID: 2, BookID: 1, CopiesInShelf: 2},
		},
		Borrows: []reconcile.Borrow{
			{ID: 100, ShelfBookID: 10},
			{ID: 101, ShelfBookID: 10},
			{ID: 102, ShelfBookID: 11, ReturnDate: tp("2024-01-05T00:00:00Z")},
		},
	}

	assert.Equal(t, 5, reconcile.TotalAssigned(snap.ShelfBooks, 1))
	assert.Equal(t, 0, reconcile.UnassignedCount(book, snap.ShelfBooks))

	rows := reconcile.BookShelfRows(snap, 1)
	assert.Len(t, rows, 2)

	shelfA := rows[0]
	assert.Equal(t, int64(10), shelfA.ShelfBookID)
	assert.Equal(t, 3, shelfA.CopiesInShelf)
	assert.Equal(t, 2, shelfA.BorrowedFromShelf)
	assert.Equal(t, 1, shelfA.RemainingInShelf)
	assert.True(t, shelfA.HasBook)

	shelfB := rows[1]
	assert.Equal(t, 2, shelfB.CopiesInShelf)
	assert.Equal(t, 0, shelfB.BorrowedFromShelf) // the returned loan does not count
	assert.Equal(t, 2, shelfB.RemainingInShelf)
}

func Test_Reconcile_ShelfWithoutAssignment(t *testing.T) {
	row := reconcile.ReconcileShelf(
		reconcile.Shelf{ID: 3, Location: "C", Capacity: 50},
		nil,
		map[int64]int{},
	)

	assert.Equal(t, 0, row.CopiesInShelf)
	assert.Equal(t, 0, row.BorrowedFromShelf)
	assert.Equal(t, 0, row.RemainingInShelf)
	assert.False(t, row.HasBook)
	assert.Zero(t, row.ShelfBookID)
}

func Test_Reconcile_RemainingNeverNegative(t *testing.T) {
	// Out-of-band edits can leave more active borrows than copies on the
	// shelf; reconciliation must clamp, not crash or go negative.
	row := reconcile.ReconcileShelf(
		reconcile.Shelf{ID: 1, Location: "A"},
		[]reconcile.ShelfBook{{ID: 10, ShelfID: 1, BookID: 1, CopiesInShelf: 1}},
		map[int64]int{10: 4},
	)

	assert.Equal(t, 1, row.CopiesInShelf)
	assert.Equal(t, 4, row.BorrowedFromShelf)
	assert.Equal(t, 0, row.RemainingInShelf)
}

func Test_UnassignedCount_ClampsOverAllocation(t *testing.T) {
	book := reconcile.Book{ID: 1, TotalCopies: 2}
	shelfBooks := []reconcile.ShelfBook{
		{ID: 10, ShelfID: 1, BookID: 1, CopiesInShelf: 3},
		{ID: 11, ShelfID: 2, BookID: 1, CopiesInShelf: 1},
	}

	assert.Equal(t, 4, reconcile.TotalAssigned(shelfBooks, 1))
	assert.Equal(t, 0, reconcile.UnassignedCount(book, shelfBooks))
}

func Test_UnassignedCount_IgnoresOtherBooks(t *testing.T) {
	book := reconcile.Book{ID: 1, TotalCopies: 5}
	shelfBooks := []reconcile.ShelfBook{
		{ID: 10, ShelfID: 1, BookID: 1, CopiesInShelf: 2},
		{ID: 11, ShelfID: 1, BookID: 2, CopiesInShelf: 9},
	}

	assert.Equal(t, 2, reconcile.TotalAssigned(shelfBooks, 1))
	assert.Equal(t, 3, reconcile.UnassignedCount(book, shelfBooks))
}

func Test_ActiveBorrowCounts(t *testing.T) {
	counts := reconcile.ActiveBorrowCounts([]reconcile.Borrow{
		{ID: 1, ShelfBookID: 10},
		{ID: 2, ShelfBookID: 10},
		{ID: 3, ShelfBookID: 11, ReturnDate: tp("2024-01-02T00:00:00Z")},
		{ID: 4, ShelfBookID: 12},
	})

	assert.Equal(t, map[int64]int{10: 2, 12: 1}, counts)
}
