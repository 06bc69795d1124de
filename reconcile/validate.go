package reconcile

import "fmt"

// Assignment mutations a validated change resolves to.
const (
	MutationCreate = "create"
	MutationUpdate = "update"
	MutationDelete = "delete"
	// MutationNone: zero copies requested where no assignment exists.
	MutationNone = "none"
)

// Typed failures for shelf-assignment changes. The same thresholds run
// server-side; this validator exists so callers can reject a change with a
// precise message before issuing the request. The server remains
// authoritative and may still reject an approved change (e.g. a borrow
// raced the edit).
type ErrNegativeQuantity struct {
	Requested int
}

func (e ErrNegativeQuantity) Error() string {
	return fmt.Sprintf("requested copies must not be negative (got %d)", e.Requested)
}

type ErrExceedsAvailable struct {
	Requested  int
	MaxAllowed int
	Unassigned int
}

func (e ErrExceedsAvailable) Error() string {
	return fmt.Sprintf("requested %d copies but only %d can be assigned (%d unassigned)",
		e.Requested, e.MaxAllowed, e.Unassigned)
}

type ErrActiveBorrowsBlockRemoval struct {
	Borrowed int
}

func (e ErrActiveBorrowsBlockRemoval) Error() string {
	return fmt.Sprintf("cannot remove assignment: %d copies are still lent out", e.Borrowed)
}

type ErrMustHaveMinimumForBorrowed struct {
	Requested int
	Borrowed  int
}

func (e ErrMustHaveMinimumForBorrowed) Error() string {
	return fmt.Sprintf("cannot lower copies to %d: %d copies are currently lent out", e.Requested, e.Borrowed)
}

// ValidateAssignmentChange checks a requested copies_in_shelf value for one
// (shelf, book) pair. existing is nil when no assignment exists yet. A shelf
// being edited may keep its own current allocation plus draw from the pool
// of still-unassigned copies.
//
// On success the returned mutation is MutationCreate, MutationUpdate or
// MutationDelete; requestedCopies == 0 on an existing assignment means
// delete, which is only permitted with zero active borrows against it.
func ValidateAssignmentChange(existing *ShelfBook, requestedCopies, unassignedCount, currentBorrowedFromThisShelf int) (mutation string, err error) {
	if requestedCopies < 0 {
		return "", ErrNegativeQuantity{Requested: requestedCopies}
	}

	maxAllowed := unassignedCount
	if existing != nil {
		maxAllowed += existing.CopiesInShelf
	}
	if requestedCopies > maxAllowed {
		return "", ErrExceedsAvailable{
			Requested:  requestedCopies,
			MaxAllowed: maxAllowed,
			Unassigned: unassignedCount,
		}
	}

	if existing != nil && requestedCopies == 0 && currentBorrowedFromThisShelf > 0 {
		return "", ErrActiveBorrowsBlockRemoval{Borrowed: currentBorrowedFromThisShelf}
	}
	if requestedCopies < currentBorrowedFromThisShelf {
		return "", ErrMustHaveMinimumForBorrowed{
			Requested: requestedCopies,
			Borrowed:  currentBorrowedFromThisShelf,
		}
	}

	switch {
	case existing == nil && requestedCopies == 0:
		return MutationNone, nil
	case existing == nil:
		return MutationCreate, nil
	case requestedCopies == 0:
		return MutationDelete, nil
	default:
		return MutationUpdate, nil
	}
}
