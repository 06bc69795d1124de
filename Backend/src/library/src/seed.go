package main

import (
	"context"

	"github.com/google/uuid"

	"github.com/ahinestrog/openlibrary/reconcile"
)

// Seed loads a small starting inventory for local development. Idempotent:
// it bails when any book exists.
func (r *Repository) Seed(ctx context.Context) error {
	books, err := r.ListBooks(ctx)
	if err != nil {
		return err
	}
	if len(books) > 0 {
		return nil
	}

	seedBooks := []reconcile.Book{
		{Title: "The Blind Owl", Author: "Sadegh Hedayat", ISBN: "9789643200001", Language: "Persian", TotalCopies: 5, Price: 120000},
		{Title: "My Uncle Napoleon", Author: "Iraj Pezeshkzad", ISBN: "9789643200002", Language: "Persian", TotalCopies: 3, Price: 180000},
		{Title: "Savushun", Author: "Simin Daneshvar", ISBN: "9789643200003", Language: "Persian", TotalCopies: 2, Price: 150000},
	}
	shelves := []reconcile.Shelf{
		{Location: "Hall A - Row 1", Capacity: 50},
		{Location: "Hall B - Row 4", Capacity: 30},
	}

	for i := range seedBooks {
		seedBooks[i].QRCodeID = uuid.NewString()
		if err := r.CreateBook(ctx, &seedBooks[i]); err != nil {
			return err
		}
	}
	for i := range shelves {
		if err := r.CreateShelf(ctx, &shelves[i]); err != nil {
			return err
		}
	}

	assignments := []reconcile.ShelfBook{
		{ShelfID: shelves[0].ID, BookID: seedBooks[0].ID, CopiesInShelf: 3},
		{ShelfID: shelves[1].ID, BookID: seedBooks[0].ID, CopiesInShelf: 2},
		{ShelfID: shelves[0].ID, BookID: seedBooks[1].ID, CopiesInShelf: 3},
	}
	for i := range assignments {
		if err := r.CreateShelfBook(ctx, &assignments[i]); err != nil {
			return err
		}
	}
	return nil
}
