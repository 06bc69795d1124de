package main

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

func formatID(id int64) string { return strconv.FormatInt(id, 10) }

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout=5000&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repository{db: db}
	if err := r.migrate(context.Background()); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repository) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS users(
  id             INTEGER PRIMARY KEY AUTOINCREMENT,
  username       TEXT NOT NULL UNIQUE,
  password_hash  TEXT NOT NULL,
  role           TEXT NOT NULL,
  student_number TEXT NOT NULL DEFAULT '',
  phone_number   TEXT NOT NULL DEFAULT '',
  created_unix   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS tokens(
  token        TEXT PRIMARY KEY,
  user_id      INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  expires_unix INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tokens_user ON tokens(user_id);
`
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

func (r *Repository) Close() error { return r.db.Close() }

const userCols = `id,username,password_hash,role,student_number,phone_number,created_unix`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.StudentNumber, &u.PhoneNumber, &u.CreatedUnix)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (r *Repository) CreateUser(ctx context.Context, u *User) error {
	u.CreatedUnix = time.Now().Unix()
	res, err := r.db.ExecContext(ctx, `
INSERT INTO users(username,password_hash,role,student_number,phone_number,created_unix)
VALUES(?,?,?,?,?,?)`,
		u.Username, u.PasswordHash, u.Role, u.StudentNumber, u.PhoneNumber, u.CreatedUnix)
	if err != nil {
		return err
	}
	u.ID, err = res.LastInsertId()
	return err
}

func (r *Repository) GetUser(ctx context.Context, id int64) (*User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id=?`, id))
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE username=?`, username))
}

// ListUsers returns all users, or only one role's when role is non-empty.
func (r *Repository) ListUsers(ctx context.Context, role string) ([]User, error) {
	q := `SELECT ` + userCols + ` FROM users ORDER BY id`
	args := []any{}
	if role != "" {
		q = `SELECT ` + userCols + ` FROM users WHERE role=? ORDER BY id`
		args = append(args, role)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (r *Repository) UpdateUser(ctx context.Context, u *User) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE users SET username=?,password_hash=?,role=?,student_number=?,phone_number=? WHERE id=?`,
		u.Username, u.PasswordHash, u.Role, u.StudentNumber, u.PhoneNumber, u.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteUser(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- tokens ----

func (r *Repository) SaveToken(ctx context.Context, token string, userID int64, expires time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tokens(token,user_id,expires_unix) VALUES(?,?,?)`,
		token, userID, expires.Unix())
	return err
}

// UserForToken resolves a live token to its user. Expired tokens are
// reaped on the way.
func (r *Repository) UserForToken(ctx context.Context, token string) (*User, error) {
	var userID int64
	var expires int64
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, expires_unix FROM tokens WHERE token=?`, token).Scan(&userID, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() >= expires {
		_, _ = r.db.ExecContext(ctx, `DELETE FROM tokens WHERE token=?`, token)
		return nil, ErrNotFound
	}
	return r.GetUser(ctx, userID)
}

func (r *Repository) DeleteToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tokens WHERE token=?`, token)
	return err
}
