package main

// Roles are the three groups of the library. Every user has exactly one.
const (
	RoleAdmin     = "admin"
	RoleLibrarian = "librarian"
	RoleStudent   = "student"
)

func validRole(role string) bool {
	return role == RoleAdmin || role == RoleLibrarian || role == RoleStudent
}

type User struct {
	ID            int64  `json:"id"`
	Username      string `json:"username"`
	PasswordHash  string `json:"-"`
	Role          string `json:"role"`
	StudentNumber string `json:"student_number,omitempty"`
	PhoneNumber   string `json:"phone_number,omitempty"`
	CreatedUnix   int64  `json:"created_unix"`
}

// Identity is the payload /api/auth/me hands to the other services.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func (u *User) Identity() Identity {
	return Identity{UserID: formatID(u.ID), Username: u.Username, Role: u.Role}
}
