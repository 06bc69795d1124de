package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ahinestrog/openlibrary/reconcile"
)

type Server struct {
	repo     *Repository
	rabbit   *Rabbit
	verifier *Verifier
}

func NewServer(repo *Repository, rabbit *Rabbit, verifier *Verifier) *Server {
	return &Server{repo: repo, rabbit: rabbit, verifier: verifier}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/books/", s.requireInventoryRole(s.handleBooks))
	mux.HandleFunc("/api/shelves/", s.requireInventoryRole(s.handleShelves))
	mux.HandleFunc("/api/shelf-books/", s.requireInventoryRole(s.handleShelfBooks))
	mux.HandleFunc("/api/borrow/", s.withIdentity(s.handleBorrows))
	mux.HandleFunc("/api/internal/books/by-qr/", s.handleBookByQR)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// idFromPath pulls the numeric id out of /api/xxx/<id>/; 0 means the
// collection itself was addressed.
func idFromPath(path, prefix string) (int64, bool) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail mirrors the {"detail": "..."} error shape every client of
// this API already parses.
func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

func (s *Server) repoError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeDetail(w, http.StatusNotFound, "Not found.")
	case errors.Is(err, ErrNoCopiesAvailable):
		writeDetail(w, http.StatusBadRequest, ErrNoCopiesAvailable.Error())
	case errors.Is(err, ErrAlreadyReturned):
		writeDetail(w, http.StatusBadRequest, "This borrow was already returned.")
	default:
		log.Error().Err(err).Msg("repository error")
		writeDetail(w, http.StatusInternalServerError, "Internal error.")
	}
}

// ---- books ----

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	id, ok := idFromPath(r.URL.Path, "/api/books/")
	if !ok {
		writeDetail(w, http.StatusNotFound, "Not found.")
		return
	}

	switch {
	case id == 0 && r.Method == http.MethodGet:
		books, err := s.repo.ListBooks(r.Context())
		if err != nil {
			s.repoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, books)

	case id == 0 && r.Method == http.MethodPost:
		var b reconcile.Book
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			writeDetail(w, http.StatusBadRequest, "Invalid JSON body.")
			return
		}
		if b.Title == "" || b.ISBN == "" {
			writeDetail(w, http.StatusBadRequest, "title and isbn are required.")
			return
		}
		if b.TotalCopies < 0 {
			writeDetail(w, http.StatusBadRequest, "total_copies must not be negative.")
			return
		}
		b.QRCodeID = uuid.NewString()
		if err := s.repo.CreateBook(r.Context(), &b); err != nil {
			s.repoError(w, err)
			return
		}
		s.rabbit.PublishJSON(r.Context(), EvBookCreated, map[string]int64{"id": b.ID})
		writeJSON(w, http.StatusCreated, b)

	case id != 0 && r.Method == http.MethodGet:
		b, err := s.repo.GetBook(r.Context(), id)
		if err != nil {
			s.repoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)

	case id != 0 && (r.Method == http.MethodPut || r.Method == http.MethodPatch):
		existing, err := s.repo.GetBook(r.Context(), id)
		if err != nil {
			s.repoError(w, err)
			return
		}
		// Patch onto the existing record; qr_code_id is immutable.
		b := *existing
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			writeDetail(w, http.StatusBadRequest, "Invalid JSON body.")
			return
		}
		b.ID = id
		b.QRCodeID = existing.QRCodeID
		if b.TotalCopies < 0 {
			writeDetail(w, http.StatusBadRequest, "total_copies must not be negative.")
			return
		}
		if err := s.repo.UpdateBook(r.Context(), &b); err != nil {
			s.repoError(w, err)
			return
		}
		s.rabbit.PublishJSON(r.Context(), EvBookUpdated, map[string]int64{"id": id})
		writeJSON(w, http.StatusOK, b)

	case id != 0 && r.Method == http.MethodDelete:
		if err := s.repo.DeleteBook(r.Context(), id); err != nil {
			s.repoError(w, err)
			return
		}
		s.rabbit.PublishJSON(r.Context(), EvBookDeleted, map[string]int64{"id": id})
		w.WriteHeader(http.StatusNoContent)

	default:
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed.")
	}
}

// handleBookByQR resolves qr_code_id to a book for the QR service. Not
// token-gated: it is an internal endpoint, reachable only on the service
// network.
func (s *Server) handleBookByQR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed.")
		return
	}
	qrID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/internal/books/by-qr/"), "/")
	if qrID == "" {
		writeDetail(w, http.StatusNotFound, "Not found.")
		return
	}
	b, err := s.repo.GetBookByQRCode(r.Context(), qrID)
	if err != nil {
		s.repoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// ---- shelves ----

func (s *Server) handleShelves(w http.ResponseWriter, r *http.Request) {
	id, ok := idFromPath(r.URL.Path, "/api/shelves/")
	if !ok {
		writeDetail(w, http.StatusNotFound, "Not found.")
		return
	}

	switch {
	case id == 0 && r.Method == http.MethodGet:
		shelves, err := s.repo.ListShelves(r.Context())
		if err != nil {
			s.repoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, shelves)

	case id == 0 && r.Method == http.MethodPost:
		var sh reconcile.Shelf
		if err := json.NewDecoder(r.Body).Decode(&sh); err != nil {
			writeDetail(w, http.StatusBadRequest, "Invalid JSON body.")
			return
		}
		if sh.Location == "" {
			writeDetail(w, http.StatusBadRequest, "location is required.")
			return
		}
		if sh.Capacity <= 0 {
			sh.Capacity = 50
		}
		if err := s.repo.CreateShelf(r.Context(), &sh); err != nil {
			s.repoError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sh)

	case id != 0 && r.Method == http.MethodGet:
		sh, err := s.repo.GetShelf(r.Context(), id)
		if err != nil {
			s.repoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sh)

	case id != 0 && (r.Method == http.MethodPut || r.Method == http.MethodPatch):
		existing, err := s.repo.GetShelf(r.Context(), id)
		if err != nil {
			s.repoError(w, err)
			return
		}
		sh := *existing
		if err := json.NewDecoder(r.Body).Decode(&sh); err != nil {
			writeDetail(w, http.StatusBadRequest, "Invalid JSON body.")
			return
		}
		sh.ID = id
		if err := s.repo.UpdateShelf(r.Context(), &sh); err != nil {
			s.repoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sh)

	case id != 0 && r.Method == http.MethodDelete:
		if err := s.repo.DeleteShelf(r.Context(), id); err != nil {
			s.repoError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed.")
	}
}

// ---- shelf books ----

// assignmentGuards runs the shared validator plus the shelf-capacity bound.
// These checks are authoritative here; clients run the same validator for
// immediate feedback but may still be rejected when a borrow raced them.
func (s *Server) assignmentGuards(r *http.Request, existing *reconcile.ShelfBook, shelfID, bookID int64, requested int) (mutation string, detail string, err error) {
	book, err := s.repo.GetBook(r.Context(), bookID)
	if err != nil {
		return "", "", err
	}
	shelf, err := s.repo.GetShelf(r.Context(), shelfID)
	if err != nil {
		return "", "", err
	}

	var excludeID int64
	borrowed := 0
	if existing != nil {
		excludeID = existing.ID
		if borrowed, err = s.repo.ActiveBorrowCount(r.Context(), existing.ID); err != nil {
			return "", "", err
		}
	}

	assignedElsewhere, err := s.repo.TotalAssignedForBook(r.Context(), bookID, excludeID)
	if err != nil {
		return "", "", err
	}
	unassigned := book.TotalCopies - assignedElsewhere
	if existing != nil {
		unassigned -= existing.CopiesInShelf
	}
	if unassigned < 0 {
		unassigned = 0
	}

	mutation, verr := reconcile.ValidateAssignmentChange(existing, requested, unassigned, borrowed)
	if verr != nil {
		return "", verr.Error(), nil
	}

	onShelf, err := s.repo.SumCopiesOnShelf(r.Context(), shelfID, excludeID)
	if err != nil {
		return "", "", err
	}
	if onShelf+requested > shelf.Capacity {
		return "", "Shelf capacity exceeded.", nil
	}
	return mutation, "", nil
}

func (s *Server) handleShelfBooks(w http.ResponseWriter, r *http.Request) {
	id, ok := idFromPath(r.URL.Path, "/api/shelf-books/")
	if !ok {
		writeDetail(w, http.StatusNotFound, "Not found.")
		return
	}

	switch {
	case id == 0 && r.Method == http.MethodGet:
		sbs, err := s.repo.ListShelfBooks(r.Context())
		if err != nil {
			s.repoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sbs)

	case id == 0 && r.Method == http.MethodPost:
		var sb reconcile.ShelfBook
		if err := json.NewDecoder(r.Body).Decode(&sb); err != nil {
			writeDetail(w, http.StatusBadRequest, "Invalid JSON body.")
			return
		}
		if _, err := s.repo.GetShelfBookByPair(r.Context(), sb.ShelfID, sb.BookID); err == nil {
			writeDetail(w, http.StatusBadRequest, ErrDuplicatePair.Error())
			return
		} else if !errors.Is(err, ErrNotFound) {
			s.repoError(w, err)
			return
		}

		mutation, detail, err := s.assignmentGuards(r, nil, sb.ShelfID, sb.BookID, sb.CopiesInShelf)
		if err != nil {
			s.repoError(w, err)
			return
		}
		if detail != "" {
			writeDetail(w, http.StatusBadRequest, detail)
			return
		}
		if mutation != reconcile.MutationCreate {
			writeDetail(w, http.StatusBadRequest, "copies_in_shelf must be positive for a new assignment.")
			return
		}
		if err := s.repo.CreateShelfBook(r.Context(), &sb); err != nil {
			s.repoError(w, err)
			return
		}
		s.rabbit.PublishJSON(r.Context(), EvShelfBookCreated, map[string]int64{"id": sb.ID})
		writeJSON(w, http.StatusCreated, sb)

	case id != 0 && r.Method == http.MethodGet:
		sb, err := s.repo.GetShelfBook(r.Context(), id)
		if err != nil {
			s.repoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sb)

	case id != 0 && (r.Method == http.MethodPut || r.Method == http.MethodPatch):
		existing, err := s.repo.GetShelfBook(r.Context(), id)
		if err != nil {
			s.repoError(w, err)
			return
		}
		var in struct {
			CopiesInShelf *int `json:"copies_in_shelf"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.CopiesInShelf == nil {
			writeDetail(w, http.StatusBadRequest, "copies_in_shelf is required.")
			return
		}
		requested := *in.CopiesInShelf

		mutation, detail, err := s.assignmentGuards(r, existing, existing.ShelfID, existing.BookID, requested)
		if err != nil {
			s.repoError(w, err)
			return
		}
		if detail != "" {
			writeDetail(w, http.StatusBadRequest, detail)
			return
		}

		if mutation == reconcile.MutationDelete {
			// Zero-copy assignments are not retained.
			if err := s.repo.DeleteShelfBook(r.Context(), id); err != nil {
				s.repoError(w, err)
				return
			}
			s.rabbit.PublishJSON(r.Context(), EvShelfBookDeleted, map[string]int64{"id": id})
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if err := s.repo.UpdateShelfBookCopies(r.Context(), id, requested); err != nil {
			s.repoError(w, err)
			return
		}
		existing.CopiesInShelf = requested
		s.rabbit.PublishJSON(r.Context(), EvShelfBookUpdated, map[string]int64{"id": id})
		writeJSON(w, http.StatusOK, existing)

	case id != 0 && r.Method == http.MethodDelete:
		existing, err := s.repo.GetShelfBook(r.Context(), id)
		if err != nil {
			s.repoError(w, err)
			return
		}
		borrowed, err := s.repo.ActiveBorrowCount(r.Context(), id)
		if err != nil {
			s.repoError(w, err)
			return
		}
		if borrowed > 0 {
			writeDetail(w, http.StatusBadRequest, reconcile.ErrActiveBorrowsBlockRemoval{Borrowed: borrowed}.Error())
			return
		}
		if err := s.repo.DeleteShelfBook(r.Context(), existing.ID); err != nil {
			s.repoError(w, err)
			return
		}
		s.rabbit.PublishJSON(r.Context(), EvShelfBookDeleted, map[string]int64{"id": id})
		w.WriteHeader(http.StatusNoContent)

	default:
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed.")
	}
}

// ---- borrows ----

func (s *Server) handleBorrows(w http.ResponseWriter, r *http.Request) {
	id, ok := idFromPath(r.URL.Path, "/api/borrow/")
	if !ok {
		writeDetail(w, http.StatusNotFound, "Not found.")
		return
	}
	identity, _ := identityFrom(r)

	switch {
	case id == 0 && r.Method == http.MethodGet:
		// Students see only their own records.
		borrowerFilter := ""
		if identity.IsStudent() {
			borrowerFilter = identity.UserID
		}
		borrows, err := s.repo.ListBorrows(r.Context(), borrowerFilter)
		if err != nil {
			s.repoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, borrows)

	case id == 0 && r.Method == http.MethodPost:
		var in struct {
			ShelfBook int64 `json:"shelf_book"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeDetail(w, http.StatusBadRequest, "Invalid JSON body.")
			return
		}
		if in.ShelfBook <= 0 {
			writeDetail(w, http.StatusBadRequest, "shelf_book is required for new borrow.")
			return
		}
		b := reconcile.Borrow{
			ShelfBookID:      in.ShelfBook,
			BorrowerID:       identity.UserID,
			BorrowerUsername: identity.Username,
			BorrowerRole:     identity.Role,
		}
		if err := s.repo.CreateBorrow(r.Context(), &b); err != nil {
			s.repoError(w, err)
			return
		}
		s.rabbit.PublishJSON(r.Context(), EvBorrowCreated, map[string]any{"id": b.ID, "shelf_book": b.ShelfBookID})
		writeJSON(w, http.StatusCreated, b)

	case id != 0 && r.Method == http.MethodGet:
		b, err := s.repo.GetBorrow(r.Context(), id)
		if err != nil {
			s.repoError(w, err)
			return
		}
		if identity.IsStudent() && b.BorrowerID != identity.UserID {
			writeDetail(w, http.StatusForbidden, "You do not have permission to perform this action.")
			return
		}
		writeJSON(w, http.StatusOK, b)

	case id != 0 && r.Method == http.MethodPatch:
		existing, err := s.repo.GetBorrow(r.Context(), id)
		if err != nil {
			s.repoError(w, err)
			return
		}
		if identity.IsStudent() && existing.BorrowerID != identity.UserID {
			writeDetail(w, http.StatusForbidden, "You do not have permission to perform this action.")
			return
		}

		var in struct {
			ReturnDate *time.Time `json:"return_date"`
			Shelf      int64      `json:"shelf,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeDetail(w, http.StatusBadRequest, "Invalid JSON body.")
			return
		}
		if in.ReturnDate == nil {
			writeDetail(w, http.StatusBadRequest, "return_date is the only mutable field.")
			return
		}

		var b *reconcile.Borrow
		if in.Shelf > 0 {
			b, err = s.repo.ReturnBorrowToShelf(r.Context(), id, in.ReturnDate.UTC(), in.Shelf)
		} else {
			b, err = s.repo.ReturnBorrow(r.Context(), id, in.ReturnDate.UTC())
		}
		if err != nil {
			s.repoError(w, err)
			return
		}
		s.rabbit.PublishJSON(r.Context(), EvBorrowReturned, map[string]any{"id": b.ID, "shelf_book": b.ShelfBookID})
		writeJSON(w, http.StatusOK, b)

	default:
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed.")
	}
}
