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
	"golang.org/x/crypto/bcrypt"
)

type Server struct {
	repo     *Repository
	events   *EventPublisher
	tokenTTL time.Duration
}

func NewServer(repo *Repository, events *EventPublisher, tokenTTL time.Duration) *Server {
	return &Server{repo: repo, events: events, tokenTTL: tokenTTL}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/auth/logout", s.handleLogout)
	mux.HandleFunc("/api/auth/me", s.handleMe)
	mux.HandleFunc("/api/users/", s.handleUsers)
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

func bearerToken(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// caller resolves the request's own token; used for role gates on user
// management.
func (s *Server) caller(r *http.Request) (*User, bool) {
	token := bearerToken(r)
	if token == "" {
		return nil, false
	}
	u, err := s.repo.UserForToken(r.Context(), token)
	if err != nil {
		return nil, false
	}
	return u, true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed.")
		return
	}
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}

	u, err := s.repo.GetUserByUsername(r.Context(), in.Username)
	if err != nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)) != nil {
		// One message for both cases, no username probing.
		writeDetail(w, http.StatusUnauthorized, "Invalid username or password.")
		return
	}

	token := uuid.NewString()
	if err := s.repo.SaveToken(r.Context(), token, u.ID, time.Now().Add(s.tokenTTL)); err != nil {
		log.Error().Err(err).Msg("token save failed")
		writeDetail(w, http.StatusInternalServerError, "Internal error.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":    token,
		"user_id":  formatID(u.ID),
		"username": u.Username,
		"role":     u.Role,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed.")
		return
	}
	if token := bearerToken(r); token != "" {
		_ = s.repo.DeleteToken(r.Context(), token)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMe is what the library service calls to turn a bearer token into
// an identity.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed.")
		return
	}
	u, ok := s.caller(r)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Invalid or expired token.")
		return
	}
	writeJSON(w, http.StatusOK, u.Identity())
}

// manageableRole says which roles the caller may create, list and edit:
// admins manage librarians and students, librarians manage students.
func manageableRole(caller *User, role string) bool {
	switch caller.Role {
	case RoleAdmin:
		return role == RoleLibrarian || role == RoleStudent
	case RoleLibrarian:
		return role == RoleStudent
	default:
		return false
	}
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(r)
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Invalid or expired token.")
		return
	}
	if caller.Role == RoleStudent {
		writeDetail(w, http.StatusForbidden, "You do not have permission to perform this action.")
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/users/"), "/")
	if rest == "" {
		switch r.Method {
		case http.MethodGet:
			role := r.URL.Query().Get("role")
			if caller.Role == RoleLibrarian {
				role = RoleStudent // librarians only ever see students
			}
			users, err := s.repo.ListUsers(r.Context(), role)
			if err != nil {
				writeDetail(w, http.StatusInternalServerError, "Internal error.")
				return
			}
			if caller.Role == RoleAdmin && role == "" {
				// Admin listing without a filter still excludes other admins.
				filtered := users[:0]
				for _, u := range users {
					if u.Role != RoleAdmin {
						filtered = append(filtered, u)
					}
				}
				users = filtered
			}
			writeJSON(w, http.StatusOK, users)
		case http.MethodPost:
			s.createUser(w, r, caller)
		default:
			writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed.")
		}
		return
	}

	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		writeDetail(w, http.StatusNotFound, "Not found.")
		return
	}
	target, err := s.repo.GetUser(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		writeDetail(w, http.StatusNotFound, "Not found.")
		return
	}
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Internal error.")
		return
	}
	if !manageableRole(caller, target.Role) {
		writeDetail(w, http.StatusForbidden, "You do not have permission to perform this action.")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, target)
	case http.MethodPut, http.MethodPatch:
		s.updateUser(w, r, target)
	case http.MethodDelete:
		if err := s.repo.DeleteUser(r.Context(), id); err != nil {
			writeDetail(w, http.StatusInternalServerError, "Internal error.")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeDetail(w, http.StatusMethodNotAllowed, "Method not allowed.")
	}
}

type userBody struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	Role          string `json:"role"`
	StudentNumber string `json:"student_number"`
	PhoneNumber   string `json:"phone_number"`
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request, caller *User) {
	var in userBody
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	if in.Role == "" {
		in.Role = RoleStudent
	}
	if !validRole(in.Role) {
		writeDetail(w, http.StatusBadRequest, "role must be admin, librarian or student.")
		return
	}
	if !manageableRole(caller, in.Role) {
		writeDetail(w, http.StatusForbidden, "You do not have permission to create this role.")
		return
	}
	if in.Username == "" || in.Password == "" {
		writeDetail(w, http.StatusBadRequest, "username and password are required.")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Internal error.")
		return
	}
	u := &User{
		Username:      in.Username,
		PasswordHash:  string(hash),
		Role:          in.Role,
		StudentNumber: in.StudentNumber,
		PhoneNumber:   in.PhoneNumber,
	}
	if err := s.repo.CreateUser(r.Context(), u); err != nil {
		writeDetail(w, http.StatusBadRequest, "Could not create user (username taken?).")
		return
	}
	s.events.Publish(r.Context(), "auth.user.created", map[string]any{"id": u.ID, "role": u.Role})
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request, target *User) {
	var in userBody
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	if in.Username != "" {
		target.Username = in.Username
	}
	if in.StudentNumber != "" {
		target.StudentNumber = in.StudentNumber
	}
	if in.PhoneNumber != "" {
		target.PhoneNumber = in.PhoneNumber
	}
	if in.Role != "" && in.Role != target.Role {
		writeDetail(w, http.StatusBadRequest, "role cannot be changed.")
		return
	}
	if in.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, "Internal error.")
			return
		}
		target.PasswordHash = string(hash)
	}
	if err := s.repo.UpdateUser(r.Context(), target); err != nil {
		writeDetail(w, http.StatusInternalServerError, "Internal error.")
		return
	}
	writeJSON(w, http.StatusOK, target)
}
