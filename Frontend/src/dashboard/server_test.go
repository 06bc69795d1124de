package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahinestrog/openlibrary/client"
	"github.com/ahinestrog/openlibrary/reconcile"
)

func ts(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return v
}

func fakeLibrary(t *testing.T) *httptest.Server {
	t.Helper()
	returned := time.Date(2025, 12, 10, 0, 0, 0, 0, time.UTC)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/books/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]reconcile.Book{
			{ID: 1, Title: "The Blind Owl", QRCodeID: "qr-owl", TotalCopies: 5},
		})
	})
	mux.HandleFunc("/api/shelves/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]reconcile.Shelf{
			{ID: 1, Location: "A1", Capacity: 50},
			{ID: 2, Location: "B2", Capacity: 50},
		})
	})
	mux.HandleFunc("/api/shelf-books/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]reconcile.ShelfBook{
			{ID: 10, ShelfID: 1, BookID: 1, CopiesInShelf: 2},
			{ID: 11, ShelfID: 2, BookID: 1, CopiesInShelf: 2},
		})
	})
	mux.HandleFunc("/api/borrow/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]reconcile.Borrow{
			{ID: 1, ShelfBookID: 10, BookID: 1, BorrowerID: "42",
				BorrowedDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
			{ID: 2, ShelfBookID: 10, BookID: 1, BorrowerID: "42",
				BorrowedDate: time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)},
			{ID: 3, ShelfBookID: 11, BookID: 1, BorrowerID: "43",
				BorrowedDate: time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), ReturnDate: &returned},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newDashEnv(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	lib := fakeLibrary(t)
	holder := client.NewSnapshotHolder(client.New(lib.URL, "tok-service"), testLogger())
	_, _, err := holder.Refresh(testContext(t))
	require.NoError(t, err)

	s := NewServer(holder)
	s.now = func() time.Time { return ts(t, "2026-01-10T00:00:00Z") }
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return s, srv
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestLoans_ClassifiedMostRecentFirst(t *testing.T) {
	_, srv := newDashEnv(t)

	var loans []loanView
	resp := getJSON(t, srv.URL+"/api/loans", &loans)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, loans, 3)

	// Descending id, regardless of dates.
	assert.Equal(t, int64(3), loans[0].ID)
	assert.Equal(t, int64(2), loans[1].ID)
	assert.Equal(t, int64(1), loans[2].ID)

	assert.Equal(t, reconcile.StatusReturned, loans[0].Status)
	assert.Equal(t, int64(0), loans[0].Penalty)

	// Borrowed 2025-12-01, due 2025-12-15, now 2026-01-10: 26 whole days.
	assert.Equal(t, reconcile.StatusOverdue, loans[1].Status)
	assert.Equal(t, 26, loans[1].OverdueDays)
	assert.Equal(t, int64(130000), loans[1].Penalty)
	assert.Equal(t, "130,000", loans[1].PenaltyDisplay)

	assert.Equal(t, reconcile.StatusActive, loans[2].Status)
	assert.Equal(t, int64(0), loans[2].Penalty)
}

func TestLoans_Filters(t *testing.T) {
	_, srv := newDashEnv(t)

	var loans []loanView
	resp := getJSON(t, srv.URL+"/api/loans?status=overdue", &loans)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, loans, 1)
	assert.Equal(t, int64(2), loans[0].ID)

	resp = getJSON(t, srv.URL+"/api/loans?borrower=43", &loans)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, loans, 1)
	assert.Equal(t, int64(3), loans[0].ID)

	resp = getJSON(t, srv.URL+"/api/loans?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBookShelves(t *testing.T) {
	_, srv := newDashEnv(t)

	var out struct {
		Shelves    []reconcile.ShelfRow `json:"shelves"`
		Unassigned int                  `json:"unassigned"`
	}
	resp := getJSON(t, srv.URL+"/api/books/1/shelves", &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, out.Shelves, 2)

	// Shelf A1: 2 copies, 2 loans out (one active, one overdue).
	assert.Equal(t, 2, out.Shelves[0].BorrowedFromShelf)
	assert.Equal(t, 0, out.Shelves[0].RemainingInShelf)
	// Shelf B2: 2 copies, its only loan came back.
	assert.Equal(t, 0, out.Shelves[1].BorrowedFromShelf)
	assert.Equal(t, 2, out.Shelves[1].RemainingInShelf)

	assert.Equal(t, 1, out.Unassigned)

	resp = getJSON(t, srv.URL+"/api/books/99/shelves", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBorrowerHistory(t *testing.T) {
	_, srv := newDashEnv(t)

	var out struct {
		Total        int        `json:"total"`
		ActiveCount  int        `json:"active_count"`
		OverdueCount int        `json:"overdue_count"`
		TotalPenalty int64      `json:"total_penalty"`
		Loans        []loanView `json:"loans"`
	}
	resp := getJSON(t, srv.URL+"/api/borrowers/42/history", &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 2, out.Total)
	assert.Equal(t, 1, out.ActiveCount)
	assert.Equal(t, 1, out.OverdueCount)
	assert.Equal(t, int64(130000), out.TotalPenalty)
	require.Len(t, out.Loans, 2)
	assert.Equal(t, int64(2), out.Loans[0].ID)
}

func TestRefreshEndpoint(t *testing.T) {
	_, srv := newDashEnv(t)

	resp, err := http.Post(srv.URL+"/api/refresh", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out["installed"])
}

func TestIndexPage(t *testing.T) {
	_, srv := newDashEnv(t)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	html := string(body)
	assert.Contains(t, html, "Active loans")
	assert.Contains(t, html, "Outstanding penalties")
	assert.Contains(t, html, "130,000")
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
