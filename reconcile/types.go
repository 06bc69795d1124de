// Package reconcile derives the consistent lending view of the library from
// snapshots fetched from the backend services: per-shelf copy counts, loan
// status and penalties, borrower rollups, and the guards on shelf-assignment
// mutations. Every function here is total over its inputs: missing foreign
// keys resolve to zero values, inconsistent counts clamp at zero.
package reconcile

import "time"

type Book struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	ISBN        string `json:"isbn"`
	QRCodeID    string `json:"qr_code_id"`
	Publisher   string `json:"publisher,omitempty"`
	Language    string `json:"language,omitempty"`
	Description string `json:"description,omitempty"`
	Price       int64  `json:"price,omitempty"`
	TotalCopies int    `json:"total_copies"`
	CreatedUnix int64  `json:"created_unix,omitempty"`
	UpdatedUnix int64  `json:"updated_unix,omitempty"`
}

type Shelf struct {
	ID       int64  `json:"id"`
	Location string `json:"location"`
	Capacity int    `json:"capacity"`
}

// ShelfBook records how many physical copies of one book live on one shelf.
// At most one assignment per (shelf, book) pair; zero copies only transiently
// (a zero-copy assignment is deleted, not retained).
type ShelfBook struct {
	ID            int64 `json:"id"`
	ShelfID       int64 `json:"shelf"`
	BookID        int64 `json:"book"`
	CopiesInShelf int   `json:"copies_in_shelf"`
}

// Borrow is one checkout event against a specific shelf's stock of a book.
// ShelfBookID is required and authoritative. ReturnDate is nil while the
// loan is active and set exactly once on return.
type Borrow struct {
	ID               int64      `json:"id"`
	ShelfBookID      int64      `json:"shelf_book"`
	BookID           int64      `json:"book,omitempty"`
	BorrowedDate     time.Time  `json:"borrowed_date"`
	ReturnDate       *time.Time `json:"return_date"`
	BorrowerID       string     `json:"borrower_id,omitempty"`
	BorrowerUsername string     `json:"borrower_username,omitempty"`
	BorrowerRole     string     `json:"borrower_role,omitempty"`
}

// Active reports whether the loan is still out.
func (b Borrow) Active() bool { return b.ReturnDate == nil }

// Snapshot is one joined fetch of the four collections the engine computes
// over. A partial snapshot is never reconciled; the fetch layer joins all
// four requests before handing one of these over.
type Snapshot struct {
	Books      []Book
	Shelves    []Shelf
	ShelfBooks []ShelfBook
	Borrows    []Borrow
}

// ActiveBorrowCounts maps each assignment id to the number of loans against
// it that are still out.
func (s Snapshot) ActiveBorrowCounts() map[int64]int {
	return ActiveBorrowCounts(s.Borrows)
}

// ActiveBorrowCounts counts active borrows per shelf_book id.
func ActiveBorrowCounts(borrows []Borrow) map[int64]int {
	counts := make(map[int64]int)
	for _, b := range borrows {
		if b.Active() {
			counts[b.ShelfBookID]++
		}
	}
	return counts
}
