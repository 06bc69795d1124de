package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/ahinestrog/openlibrary/client"
	"github.com/ahinestrog/openlibrary/reconcile"
)

const maxImageSize = 1024

type Server struct {
	library *client.Client
	books   *lru.LRU[string, reconcile.Book]
}

func NewServer(library *client.Client, cacheSize int, cacheTTL time.Duration) *Server {
	return &Server{
		library: library,
		books:   lru.NewLRU[string, reconcile.Book](cacheSize, nil, cacheTTL),
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/generate", s.handleGenerate)
	mux.HandleFunc("/scan", s.handleScan)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

// handleGenerate renders the payload as a PNG QR image. The frontend
// prints these and sticks them on physical copies.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var data string
	size := 256

	switch r.Method {
	case http.MethodGet:
		data = r.URL.Query().Get("data")
		if v := r.URL.Query().Get("size"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				size = n
			}
		}
	case http.MethodPost:
		var in struct {
			Data string `json:"data"`
			Size int    `json:"size"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeDetail(w, http.StatusBadRequest, "Invalid JSON body.")
			return
		}
		data = in.Data
		if in.Size > 0 {
			size = in.Size
		}
	default:
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed.")
		return
	}

	if data == "" {
		writeDetail(w, http.StatusBadRequest, "data is required.")
		return
	}
	if size < 64 || size > maxImageSize {
		writeDetail(w, http.StatusBadRequest, "size must be between 64 and 1024.")
		return
	}

	png, err := qrcode.Encode(data, qrcode.Medium, size)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Could not encode QR payload.")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// shelfOption is one place a scanned book can be borrowed from right now.
type shelfOption struct {
	ShelfBookID int64  `json:"shelf_book"`
	ShelfID     int64  `json:"shelf"`
	Location    string `json:"location"`
	Copies      int    `json:"copies_in_shelf"`
	Borrowed    int    `json:"borrowed"`
	Remaining   int    `json:"remaining"`
}

type scanResult struct {
	Book       reconcile.Book `json:"book"`
	Options    []shelfOption  `json:"options"`
	Unassigned int            `json:"unassigned"`
}

// handleScan resolves a scanned code to its book plus the shelves that
// still have stock, so the caller can borrow in the next request.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed.")
		return
	}
	var in struct {
		QRCodeID string `json:"qr_code_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.QRCodeID == "" {
		writeDetail(w, http.StatusBadRequest, "qr_code_id is required.")
		return
	}

	book, err := s.lookupBook(r, in.QRCodeID)
	if err != nil {
		var se *client.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			writeDetail(w, http.StatusNotFound, "No book matches this code.")
			return
		}
		log.Error().Err(err).Str("qr", in.QRCodeID).Msg("book lookup failed")
		writeDetail(w, http.StatusBadGateway, "Library service unavailable.")
		return
	}

	snap, err := s.library.FetchSnapshot(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("snapshot fetch failed")
		writeDetail(w, http.StatusBadGateway, "Library service unavailable.")
		return
	}
	snap.Books = []reconcile.Book{*book}

	options := []shelfOption{}
	for _, row := range reconcile.BookShelfRows(snap, book.ID) {
		if !row.HasBook || row.RemainingInShelf <= 0 {
			continue
		}
		options = append(options, shelfOption{
			ShelfBookID: row.ShelfBookID,
			ShelfID:     row.ShelfID,
			Location:    row.Location,
			Copies:      row.CopiesInShelf,
			Borrowed:    row.BorrowedFromShelf,
			Remaining:   row.RemainingInShelf,
		})
	}

	writeJSON(w, http.StatusOK, scanResult{
		Book:       *book,
		Options:    options,
		Unassigned: reconcile.UnassignedCount(*book, snap.ShelfBooks),
	})
}

func (s *Server) lookupBook(r *http.Request, qrCodeID string) (*reconcile.Book, error) {
	if b, ok := s.books.Get(qrCodeID); ok {
		return &b, nil
	}
	b, err := s.library.GetBookByQRCode(r.Context(), qrCodeID)
	if err != nil {
		return nil, err
	}
	s.books.Add(qrCodeID, *b)
	return b, nil
}
