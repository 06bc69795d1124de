// Package client is the HTTP client for the library service. It speaks the
// same JSON surface the web frontends use and feeds snapshots to the
// reconcile engine.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ahinestrog/openlibrary/reconcile"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New builds a client for the library service at baseURL. token is sent as
// a bearer token on every request; empty means unauthenticated.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// WithHTTPClient swaps the underlying http.Client (timeouts, transports).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// StatusError is a non-2xx reply from the service, with the detail message
// the API puts in the body.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("library service: %d: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("library service: unexpected status %d", e.Code)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Detail: decodeDetail(resp.Body)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeDetail(r io.Reader) string {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return ""
	}
	return payload.Detail
}

// list decodes either a bare JSON array or a paginated envelope with a
// "results" array, since both shapes exist in the wild.
func list[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	var items []T
	if err := json.Unmarshal(raw, &items); err == nil {
		return items, nil
	}
	var envelope struct {
		Results []T `json:"results"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("library service: cannot decode list %s: %w", path, err)
	}
	return envelope.Results, nil
}

func (c *Client) ListBooks(ctx context.Context) ([]reconcile.Book, error) {
	return list[reconcile.Book](ctx, c, "/api/books/")
}

func (c *Client) GetBook(ctx context.Context, id int64) (*reconcile.Book, error) {
	var b reconcile.Book
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/books/%d/", id), nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBookByQRCode resolves a scanned qr_code_id through the internal
// lookup endpoint. Meant for service-to-service calls.
func (c *Client) GetBookByQRCode(ctx context.Context, qrCodeID string) (*reconcile.Book, error) {
	var b reconcile.Book
	if err := c.do(ctx, http.MethodGet, "/api/internal/books/by-qr/"+qrCodeID, nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) ListShelves(ctx context.Context) ([]reconcile.Shelf, error) {
	return list[reconcile.Shelf](ctx, c, "/api/shelves/")
}

func (c *Client) ListShelfBooks(ctx context.Context) ([]reconcile.ShelfBook, error) {
	return list[reconcile.ShelfBook](ctx, c, "/api/shelf-books/")
}

func (c *Client) ListBorrows(ctx context.Context) ([]reconcile.Borrow, error) {
	return list[reconcile.Borrow](ctx, c, "/api/borrow/")
}

// CreateBorrow checks out one copy against the given assignment. Borrower
// identity comes from the token server-side.
func (c *Client) CreateBorrow(ctx context.Context, shelfBookID int64) (*reconcile.Borrow, error) {
	in := map[string]int64{"shelf_book": shelfBookID}
	var b reconcile.Borrow
	if err := c.do(ctx, http.MethodPost, "/api/borrow/", in, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ReturnBorrow sets the record's return date. The service rejects a second
// return; the mutation is irreversible.
func (c *Client) ReturnBorrow(ctx context.Context, borrowID int64, returnedAt time.Time) (*reconcile.Borrow, error) {
	in := map[string]string{"return_date": returnedAt.UTC().Format(time.RFC3339)}
	var b reconcile.Borrow
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/borrow/%d/", borrowID), in, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) CreateShelfBook(ctx context.Context, shelfID, bookID int64, copies int) (*reconcile.ShelfBook, error) {
	in := reconcile.ShelfBook{ShelfID: shelfID, BookID: bookID, CopiesInShelf: copies}
	var sb reconcile.ShelfBook
	if err := c.do(ctx, http.MethodPost, "/api/shelf-books/", in, &sb); err != nil {
		return nil, err
	}
	return &sb, nil
}

func (c *Client) UpdateShelfBook(ctx context.Context, id int64, copies int) (*reconcile.ShelfBook, error) {
	in := map[string]int{"copies_in_shelf": copies}
	var sb reconcile.ShelfBook
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/shelf-books/%d/", id), in, &sb); err != nil {
		return nil, err
	}
	return &sb, nil
}

func (c *Client) DeleteShelfBook(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/shelf-books/%d/", id), nil, nil)
}
