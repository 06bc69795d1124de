package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/crypto/bcrypt"
)

type authEnv struct {
	t    *testing.T
	repo *Repository
	srv  *httptest.Server
}

func newAuthEnv(t *testing.T) *authEnv {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	server := NewServer(repo, nil, time.Hour)
	srv := httptest.NewServer(server.Routes())
	t.Cleanup(srv.Close)
	return &authEnv{t: t, repo: repo, srv: srv}
}

func (e *authEnv) addUser(username, password, role string) *User {
	e.t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(e.t, err)
	u := &User{Username: username, PasswordHash: string(hash), Role: role}
	require.NoError(e.t, e.repo.CreateUser(testContext(e.t), u))
	return u
}

func (e *authEnv) request(method, path, token string, body any) (*http.Response, map[string]any) {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(e.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (e *authEnv) login(username, password string) string {
	e.t.Helper()
	resp, body := e.request(http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": username, "password": password,
	})
	require.Equal(e.t, http.StatusOK, resp.StatusCode)
	token, _ := body["token"].(string)
	require.NotEmpty(e.t, token)
	return token
}

func TestLogin(t *testing.T) {
	env := newAuthEnv(t)
	env.addUser("sara", "s3cret", RoleStudent)

	resp, body := env.request(http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "sara", "password": "s3cret",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "sara", body["username"])
	assert.Equal(t, RoleStudent, body["role"])
	assert.NotEmpty(t, body["token"])

	// Wrong password and unknown user get the same answer.
	resp, body = env.request(http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "sara", "password": "nope",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	wrongPass := body["detail"]

	resp, body = env.request(http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "ghost", "password": "nope",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, wrongPass, body["detail"])
}

func TestMeAndLogout(t *testing.T) {
	env := newAuthEnv(t)
	u := env.addUser("omid", "pw123456", RoleLibrarian)
	token := env.login("omid", "pw123456")

	resp, body := env.request(http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, formatID(u.ID), body["user_id"])
	assert.Equal(t, "omid", body["username"])
	assert.Equal(t, RoleLibrarian, body["role"])

	resp, _ = env.request(http.MethodPost, "/api/auth/logout", token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = env.request(http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTokenExpiry(t *testing.T) {
	env := newAuthEnv(t)
	u := env.addUser("sara", "s3cret", RoleStudent)
	require.NoError(t, env.repo.SaveToken(testContext(t), "stale", u.ID, time.Now().Add(-time.Minute)))

	resp, _ := env.request(http.MethodGet, "/api/auth/me", "stale", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// The expired row was reaped, not just rejected.
	_, err := env.repo.UserForToken(testContext(t), "stale")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserManagementRoleGates(t *testing.T) {
	env := newAuthEnv(t)
	env.addUser("root", "rootpass", RoleAdmin)
	env.addUser("lib", "libpass", RoleLibrarian)
	env.addUser("stu", "stupass", RoleStudent)

	adminTok := env.login("root", "rootpass")
	libTok := env.login("lib", "libpass")
	stuTok := env.login("stu", "stupass")

	// Students never reach user management.
	resp, _ := env.request(http.MethodGet, "/api/users/", stuTok, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Admin creates a librarian; librarian cannot.
	resp, body := env.request(http.MethodPost, "/api/users/", adminTok, map[string]string{
		"username": "lib2", "password": "lib2pass", "role": RoleLibrarian,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, RoleLibrarian, body["role"])

	resp, _ = env.request(http.MethodPost, "/api/users/", libTok, map[string]string{
		"username": "lib3", "password": "lib3pass", "role": RoleLibrarian,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Librarian can create students and only lists students.
	resp, _ = env.request(http.MethodPost, "/api/users/", libTok, map[string]string{
		"username": "stu2", "password": "stu2pass",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/api/users/", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+libTok)
	listResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer listResp.Body.Close()
	var listed []User
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&listed))
	for _, u := range listed {
		assert.Equal(t, RoleStudent, u.Role)
	}
	assert.Len(t, listed, 2)
}

func TestUpdateUserRehashesPassword(t *testing.T) {
	env := newAuthEnv(t)
	env.addUser("root", "rootpass", RoleAdmin)
	stu := env.addUser("stu", "oldpass1", RoleStudent)
	adminTok := env.login("root", "rootpass")

	resp, _ := env.request(http.MethodPatch, "/api/users/"+formatID(stu.ID), adminTok, map[string]string{
		"password": "newpass1", "phone_number": "0912000000",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	env.login("stu", "newpass1")
	resp, _ = env.request(http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "stu", "password": "oldpass1",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Role changes are rejected outright.
	resp, _ = env.request(http.MethodPatch, "/api/users/"+formatID(stu.ID), adminTok, map[string]string{
		"role": RoleLibrarian,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteUser(t *testing.T) {
	env := newAuthEnv(t)
	env.addUser("root", "rootpass", RoleAdmin)
	stu := env.addUser("stu", "stupass", RoleStudent)
	adminTok := env.login("root", "rootpass")
	stuTok := env.login("stu", "stupass")

	resp, _ := env.request(http.MethodDelete, "/api/users/"+formatID(stu.ID), adminTok, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Tokens die with the user (FK cascade).
	resp, _ = env.request(http.MethodGet, "/api/auth/me", stuTok, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.request(http.MethodGet, "/api/users/"+formatID(stu.ID), adminTok, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
