package reconcile

// ShelfRow is one row of the per-book shelf table: how one shelf stands with
// respect to one target book.
type ShelfRow struct {
	ShelfID           int64  `json:"shelf_id"`
	Location          string `json:"location"`
	Capacity          int    `json:"capacity"`
	ShelfBookID       int64  `json:"shelf_book_id,omitempty"`
	CopiesInShelf     int    `json:"copies_in_shelf"`
	BorrowedFromShelf int    `json:"borrowed_from_shelf"`
	RemainingInShelf  int    `json:"remaining_in_shelf"`
	HasBook           bool   `json:"has_book"`
}

// ReconcileShelf joins one shelf against the target book's assignments and
// the active borrow counts. Absent assignments resolve to zero counts, and
// remaining never goes negative even when stale data has more copies out
// than the shelf holds.
func ReconcileShelf(shelf Shelf, assignmentsForBook []ShelfBook, activeBorrowCounts map[int64]int) ShelfRow {
	row := ShelfRow{
		ShelfID:  shelf.ID,
		Location: shelf.Location,
		Capacity: shelf.Capacity,
	}
	for _, sb := range assignmentsForBook {
		if sb.ShelfID != shelf.ID {
			continue
		}
		row.ShelfBookID = sb.ID
		row.CopiesInShelf = sb.CopiesInShelf
		row.BorrowedFromShelf = activeBorrowCounts[sb.ID]
		break
	}
	row.RemainingInShelf = row.CopiesInShelf - row.BorrowedFromShelf
	if row.RemainingInShelf < 0 {
		row.RemainingInShelf = 0
	}
	row.HasBook = row.CopiesInShelf > 0
	return row
}

// BookShelfRows computes the full shelf table for one book over a snapshot.
func BookShelfRows(snap Snapshot, bookID int64) []ShelfRow {
	assignments := AssignmentsForBook(snap.ShelfBooks, bookID)
	counts := snap.ActiveBorrowCounts()
	rows := make([]ShelfRow, 0, len(snap.Shelves))
	for _, shelf := range snap.Shelves {
		rows = append(rows, ReconcileShelf(shelf, assignments, counts))
	}
	return rows
}

// AssignmentsForBook filters the assignment list down to one book.
func AssignmentsForBook(shelfBooks []ShelfBook, bookID int64) []ShelfBook {
	var out []ShelfBook
	for _, sb := range shelfBooks {
		if sb.BookID == bookID {
			out = append(out, sb)
		}
	}
	return out
}

// TotalAssigned sums copies_in_shelf across all of the book's assignments.
func TotalAssigned(shelfBooks []ShelfBook, bookID int64) int {
	total := 0
	for _, sb := range shelfBooks {
		if sb.BookID == bookID {
			total += sb.CopiesInShelf
		}
	}
	return total
}

// UnassignedCount is how many physical copies of the book are not placed on
// any shelf. Librarians edit total_copies independently of shelf placement,
// so over-allocation clamps to zero rather than going negative.
func UnassignedCount(book Book, shelfBooks []ShelfBook) int {
	unassigned := book.TotalCopies - TotalAssigned(shelfBooks, book.ID)
	if unassigned < 0 {
		return 0
	}
	return unassigned
}
