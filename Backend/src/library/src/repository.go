package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ahinestrog/openlibrary/reconcile"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrNoCopiesAvailable = errors.New("No copies available.")
	ErrAlreadyReturned   = errors.New("borrow already returned")
	ErrDuplicatePair     = errors.New("assignment for this shelf and book already exists")
)

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout=5000&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxIdleTime(2 * time.Minute)
	db.SetMaxOpenConns(1)

	r := &Repository{db: db}
	if err := r.migrate(context.Background()); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repository) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS books(
  id           INTEGER PRIMARY KEY AUTOINCREMENT,
  title        TEXT NOT NULL,
  author       TEXT NOT NULL,
  isbn         TEXT NOT NULL UNIQUE,
  qr_code_id   TEXT NOT NULL UNIQUE,
  publisher    TEXT NOT NULL DEFAULT '',
  language     TEXT NOT NULL DEFAULT '',
  description  TEXT NOT NULL DEFAULT '',
  price        INTEGER NOT NULL DEFAULT 0,
  total_copies INTEGER NOT NULL DEFAULT 1,
  created_unix INTEGER NOT NULL,
  updated_unix INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS shelves(
  id       INTEGER PRIMARY KEY AUTOINCREMENT,
  location TEXT NOT NULL,
  capacity INTEGER NOT NULL DEFAULT 50
);
CREATE TABLE IF NOT EXISTS shelf_books(
  id              INTEGER PRIMARY KEY AUTOINCREMENT,
  shelf_id        INTEGER NOT NULL REFERENCES shelves(id) ON DELETE CASCADE,
  book_id         INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
  copies_in_shelf INTEGER NOT NULL DEFAULT 1,
  UNIQUE(shelf_id, book_id)
);
CREATE TABLE IF NOT EXISTS borrows(
  id                INTEGER PRIMARY KEY AUTOINCREMENT,
  -- no FK on purpose: history outlives assignments that drain to zero
  shelf_book_id     INTEGER NOT NULL,
  book_id           INTEGER NOT NULL,
  borrowed_date     TIMESTAMP NOT NULL,
  return_date       TIMESTAMP NULL,
  borrower_id       TEXT NOT NULL DEFAULT '',
  borrower_username TEXT NOT NULL DEFAULT '',
  borrower_role     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_borrows_shelf_book ON borrows(shelf_book_id);
CREATE INDEX IF NOT EXISTS idx_borrows_borrower ON borrows(borrower_id);
CREATE INDEX IF NOT EXISTS idx_shelf_books_book ON shelf_books(book_id);
`
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

func (r *Repository) Close() error { return r.db.Close() }

// ---- books ----

const bookCols = `id,title,author,isbn,qr_code_id,publisher,language,description,price,total_copies,created_unix,updated_unix`

func scanBook(row interface{ Scan(...any) error }) (*reconcile.Book, error) {
	b := &reconcile.Book{}
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.QRCodeID, &b.Publisher,
		&b.Language, &b.Description, &b.Price, &b.TotalCopies, &b.CreatedUnix, &b.UpdatedUnix)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *Repository) ListBooks(ctx context.Context) ([]reconcile.Book, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+bookCols+` FROM books ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []reconcile.Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (r *Repository) GetBook(ctx context.Context, id int64) (*reconcile.Book, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+bookCols+` FROM books WHERE id=?`, id)
	b, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

func (r *Repository) CreateBook(ctx context.Context, b *reconcile.Book) error {
	now := time.Now().Unix()
	b.CreatedUnix, b.UpdatedUnix = now, now
	res, err := r.db.ExecContext(ctx, `
INSERT INTO books(title,author,isbn,qr_code_id,publisher,language,description,price,total_copies,created_unix,updated_unix)
VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		b.Title, b.Author, b.ISBN, b.QRCodeID, b.Publisher, b.Language, b.Description,
		b.Price, b.TotalCopies, b.CreatedUnix, b.UpdatedUnix)
	if err != nil {
		return err
	}
	b.ID, err = res.LastInsertId()
	return err
}

func (r *Repository) UpdateBook(ctx context.Context, b *reconcile.Book) error {
	b.UpdatedUnix = time.Now().Unix()
	res, err := r.db.ExecContext(ctx, `
UPDATE books SET title=?,author=?,isbn=?,publisher=?,language=?,description=?,price=?,total_copies=?,updated_unix=?
WHERE id=?`,
		b.Title, b.Author, b.ISBN, b.Publisher, b.Language, b.Description,
		b.Price, b.TotalCopies, b.UpdatedUnix, b.ID)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(res)
}

func (r *Repository) DeleteBook(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM books WHERE id=?`, id)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(res)
}

func (r *Repository) GetBookByQRCode(ctx context.Context, qrCodeID string) (*reconcile.Book, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+bookCols+` FROM books WHERE qr_code_id=?`, qrCodeID)
	b, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

// ---- shelves ----

func (r *Repository) ListShelves(ctx context.Context) ([]reconcile.Shelf, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id,location,capacity FROM shelves ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []reconcile.Shelf{}
	for rows.Next() {
		var s reconcile.Shelf
		if err := rows.Scan(&s.ID, &s.Location, &s.Capacity); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) GetShelf(ctx context.Context, id int64) (*reconcile.Shelf, error) {
	var s reconcile.Shelf
	err := r.db.QueryRowContext(ctx, `SELECT id,location,capacity FROM shelves WHERE id=?`, id).
		Scan(&s.ID, &s.Location, &s.Capacity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) CreateShelf(ctx context.Context, s *reconcile.Shelf) error {
	res, err := r.db.ExecContext(ctx, `INSERT INTO shelves(location,capacity) VALUES(?,?)`, s.Location, s.Capacity)
	if err != nil {
		return err
	}
	s.ID, err = res.LastInsertId()
	return err
}

func (r *Repository) UpdateShelf(ctx context.Context, s *reconcile.Shelf) error {
	res, err := r.db.ExecContext(ctx, `UPDATE shelves SET location=?,capacity=? WHERE id=?`, s.Location, s.Capacity, s.ID)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(res)
}

func (r *Repository) DeleteShelf(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM shelves WHERE id=?`, id)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(res)
}

// ---- shelf books ----

func (r *Repository) ListShelfBooks(ctx context.Context) ([]reconcile.ShelfBook, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id,shelf_id,book_id,copies_in_shelf FROM shelf_books ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []reconcile.ShelfBook{}
	for rows.Next() {
		var sb reconcile.ShelfBook
		if err := rows.Scan(&sb.ID, &sb.ShelfID, &sb.BookID, &sb.CopiesInShelf); err != nil {
			return nil, err
		}
		out = append(out, sb)
	}
	return out, rows.Err()
}

func (r *Repository) GetShelfBook(ctx context.Context, id int64) (*reconcile.ShelfBook, error) {
	var sb reconcile.ShelfBook
	err := r.db.QueryRowContext(ctx, `SELECT id,shelf_id,book_id,copies_in_shelf FROM shelf_books WHERE id=?`, id).
		Scan(&sb.ID, &sb.ShelfID, &sb.BookID, &sb.CopiesInShelf)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sb, nil
}

func (r *Repository) GetShelfBookByPair(ctx context.Context, shelfID, bookID int64) (*reconcile.ShelfBook, error) {
	var sb reconcile.ShelfBook
	err := r.db.QueryRowContext(ctx,
		`SELECT id,shelf_id,book_id,copies_in_shelf FROM shelf_books WHERE shelf_id=? AND book_id=?`,
		shelfID, bookID).
		Scan(&sb.ID, &sb.ShelfID, &sb.BookID, &sb.CopiesInShelf)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sb, nil
}

func (r *Repository) CreateShelfBook(ctx context.Context, sb *reconcile.ShelfBook) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO shelf_books(shelf_id,book_id,copies_in_shelf) VALUES(?,?,?)`,
		sb.ShelfID, sb.BookID, sb.CopiesInShelf)
	if err != nil {
		return err
	}
	sb.ID, err = res.LastInsertId()
	return err
}

func (r *Repository) UpdateShelfBookCopies(ctx context.Context, id int64, copies int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE shelf_books SET copies_in_shelf=? WHERE id=?`, copies, id)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(res)
}

func (r *Repository) DeleteShelfBook(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM shelf_books WHERE id=?`, id)
	if err != nil {
		return err
	}
	return rowsAffectedOrNotFound(res)
}

// SumCopiesOnShelf totals copies of every book on the shelf except the
// given assignment (0 to exclude none). Feeds the capacity guard.
func (r *Repository) SumCopiesOnShelf(ctx context.Context, shelfID, excludeAssignmentID int64) (int, error) {
	var total sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT SUM(copies_in_shelf) FROM shelf_books WHERE shelf_id=? AND id<>?`,
		shelfID, excludeAssignmentID).Scan(&total)
	if err != nil {
		return 0, err
	}
	return int(total.Int64), nil
}

// TotalAssignedForBook totals copies of the book across all shelves except
// the given assignment. Feeds the allocation guard.
func (r *Repository) TotalAssignedForBook(ctx context.Context, bookID, excludeAssignmentID int64) (int, error) {
	var total sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT SUM(copies_in_shelf) FROM shelf_books WHERE book_id=? AND id<>?`,
		bookID, excludeAssignmentID).Scan(&total)
	if err != nil {
		return 0, err
	}
	return int(total.Int64), nil
}

// ---- borrows ----

const borrowCols = `id,shelf_book_id,book_id,borrowed_date,return_date,borrower_id,borrower_username,borrower_role`

func scanBorrow(row interface{ Scan(...any) error }) (*reconcile.Borrow, error) {
	b := &reconcile.Borrow{}
	var returned sql.NullTime
	err := row.Scan(&b.ID, &b.ShelfBookID, &b.BookID, &b.BorrowedDate, &returned,
		&b.BorrowerID, &b.BorrowerUsername, &b.BorrowerRole)
	if err != nil {
		return nil, err
	}
	if returned.Valid {
		t := returned.Time
		b.ReturnDate = &t
	}
	return b, nil
}

// ListBorrows returns all records, or only one borrower's when borrowerID
// is non-empty. Most recent first, by descending id.
func (r *Repository) ListBorrows(ctx context.Context, borrowerID string) ([]reconcile.Borrow, error) {
	q := `SELECT ` + borrowCols + ` FROM borrows ORDER BY id DESC`
	args := []any{}
	if borrowerID != "" {
		q = `SELECT ` + borrowCols + ` FROM borrows WHERE borrower_id=? ORDER BY id DESC`
		args = append(args, borrowerID)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []reconcile.Borrow{}
	for rows.Next() {
		b, err := scanBorrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (r *Repository) GetBorrow(ctx context.Context, id int64) (*reconcile.Borrow, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+borrowCols+` FROM borrows WHERE id=?`, id)
	b, err := scanBorrow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

func (r *Repository) ActiveBorrowCount(ctx context.Context, shelfBookID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM borrows WHERE shelf_book_id=? AND return_date IS NULL`, shelfBookID).Scan(&n)
	return n, err
}

// CreateBorrow checks availability and inserts in one transaction. The
// shelf's copy count is not decremented; availability is derived as
// copies_in_shelf minus active borrows.
func (r *Repository) CreateBorrow(ctx context.Context, b *reconcile.Borrow) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var copies int
	var bookID int64
	err = tx.QueryRowContext(ctx,
		`SELECT copies_in_shelf, book_id FROM shelf_books WHERE id=?`, b.ShelfBookID).
		Scan(&copies, &bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var active int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM borrows WHERE shelf_book_id=? AND return_date IS NULL`, b.ShelfBookID).
		Scan(&active)
	if err != nil {
		return err
	}
	if copies <= active {
		return ErrNoCopiesAvailable
	}

	b.BookID = bookID
	b.BorrowedDate = time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
INSERT INTO borrows(shelf_book_id,book_id,borrowed_date,return_date,borrower_id,borrower_username,borrower_role)
VALUES(?,?,?,NULL,?,?,?)`,
		b.ShelfBookID, b.BookID, b.BorrowedDate, b.BorrowerID, b.BorrowerUsername, b.BorrowerRole)
	if err != nil {
		return err
	}
	if b.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	return tx.Commit()
}

// ReturnBorrow sets return_date once. Copies stay on the original shelf.
func (r *Repository) ReturnBorrow(ctx context.Context, id int64, when time.Time) (*reconcile.Borrow, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE borrows SET return_date=? WHERE id=? AND return_date IS NULL`, when, id)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, err := r.GetBorrow(ctx, id); errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrAlreadyReturned
	}
	return r.GetBorrow(ctx, id)
}

// ReturnBorrowToShelf returns the copy onto a different shelf: one copy
// moves from the source assignment to the target (created at zero if
// absent), the source is deleted when it hits zero, and the total allocated
// for the book is unchanged.
func (r *Repository) ReturnBorrowToShelf(ctx context.Context, id int64, when time.Time, shelfID int64) (*reconcile.Borrow, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	b, err := scanBorrow(tx.QueryRowContext(ctx, `SELECT `+borrowCols+` FROM borrows WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if b.ReturnDate != nil {
		return nil, ErrAlreadyReturned
	}

	var srcShelfID int64
	var srcCopies int
	err = tx.QueryRowContext(ctx,
		`SELECT shelf_id, copies_in_shelf FROM shelf_books WHERE id=?`, b.ShelfBookID).
		Scan(&srcShelfID, &srcCopies)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("borrow %d: source assignment %d is gone", id, b.ShelfBookID)
	}
	if err != nil {
		return nil, err
	}

	if srcShelfID != shelfID {
		// Move one copy: get-or-create target, decrement source.
		if _, err = tx.ExecContext(ctx, `
INSERT INTO shelf_books(shelf_id,book_id,copies_in_shelf) VALUES(?,?,1)
ON CONFLICT(shelf_id,book_id) DO UPDATE SET copies_in_shelf=copies_in_shelf+1`,
			shelfID, b.BookID); err != nil {
			return nil, err
		}
		if _, err = tx.ExecContext(ctx,
			`UPDATE shelf_books SET copies_in_shelf=copies_in_shelf-1 WHERE id=?`, b.ShelfBookID); err != nil {
			return nil, err
		}
		if srcCopies-1 == 0 {
			if _, err = tx.ExecContext(ctx, `DELETE FROM shelf_books WHERE id=?`, b.ShelfBookID); err != nil {
				return nil, err
			}
		}
	}

	if _, err = tx.ExecContext(ctx, `UPDATE borrows SET return_date=? WHERE id=?`, when, id); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return r.GetBorrow(ctx, id)
}

func rowsAffectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
