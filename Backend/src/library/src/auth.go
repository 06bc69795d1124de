package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
)

// Identity is what the auth service vouches for. Role is one of admin,
// librarian, student.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func (id Identity) IsStudent() bool { return id.Role == "student" }

func (id Identity) CanManageInventory() bool {
	return id.Role == "admin" || id.Role == "librarian"
}

// Verifier resolves bearer tokens against the auth service and memoizes
// the answers for a short TTL so list-heavy pages do not hammer it.
type Verifier struct {
	authURL string
	http    *http.Client
	cache   *lru.LRU[string, Identity]
}

func NewVerifier(authURL string, cacheSize int, cacheTTL time.Duration) *Verifier {
	return &Verifier{
		authURL: strings.TrimRight(authURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
		cache:   lru.NewLRU[string, Identity](cacheSize, nil, cacheTTL),
	}
}

// Verify resolves a raw bearer token to an identity. Unknown or expired
// tokens come back as ErrNotFound-shaped (nil, false).
func (v *Verifier) Verify(ctx context.Context, token string) (Identity, bool) {
	if token == "" {
		return Identity{}, false
	}
	if id, ok := v.cache.Get(token); ok {
		return id, true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.authURL+"/api/auth/me", nil)
	if err != nil {
		return Identity{}, false
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.http.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("auth service unreachable")
		return Identity{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Identity{}, false
	}

	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return Identity{}, false
	}
	v.cache.Add(token, id)
	return id, true
}

type identityKey struct{}

func identityFrom(r *http.Request) (Identity, bool) {
	id, ok := r.Context().Value(identityKey{}).(Identity)
	return id, ok
}

// withIdentity rejects requests without a valid bearer token and stashes
// the resolved identity on the request context.
func (s *Server) withIdentity(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		id, ok := s.verifier.Verify(r.Context(), token)
		if !ok {
			writeDetail(w, http.StatusUnauthorized, "Authentication credentials were not provided or are invalid.")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	}
}

// requireInventoryRole additionally gates on admin/librarian.
func (s *Server) requireInventoryRole(next http.HandlerFunc) http.HandlerFunc {
	return s.withIdentity(func(w http.ResponseWriter, r *http.Request) {
		id, _ := identityFrom(r)
		if !id.CanManageInventory() {
			writeDetail(w, http.StatusForbidden, "You do not have permission to perform this action.")
			return
		}
		next(w, r)
	})
}
