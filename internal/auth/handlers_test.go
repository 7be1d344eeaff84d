package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldservice/internal/api"
	"fieldservice/internal/user"
	"fieldservice/pkg/authtoken"
)

type fakeUsers map[string]*user.User

func (f fakeUsers) FindByEmail(_ context.Context, email string) (*user.User, error) {
	if u, ok := f[email]; ok {
		return u, nil
	}
	return nil, pgx.ErrNoRows
}

var now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func handlers(t *testing.T) Handlers {
	t.Helper()
	hash, err := user.HashPassword("correct horse")
	require.NoError(t, err)
	return Handlers{
		Users:  fakeUsers{"dana@example.com": {ID: "u1", Email: "dana@example.com", Name: "Dana", Role: user.RoleDispatcher, PasswordHash: hash}},
		Tokens: authtoken.Issuer{Secret: []byte("secret"), Issuer: "fieldservice", TTL: time.Hour},
		Now:    func() time.Time { return now },
	}
}

func login(h Handlers, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(body)))
	return rec
}

func TestLogin_IssuesVerifiableToken(t *testing.T) {
	h := handlers(t)
	rec := login(h, `{"email":" Dana@Example.com ","password":"correct horse"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, now.Add(time.Hour).Equal(resp.ExpiresAt))
	assert.Equal(t, "u1", resp.User.ID)
	assert.NotContains(t, rec.Body.String(), "passwordHash")

	v, err := h.Tokens.Verify(resp.Token, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "u1", v.UserID)
	assert.Equal(t, "dispatcher", v.Role)
}

func TestLogin_RejectsBadCredentials(t *testing.T) {
	h := handlers(t)

	rec := login(h, `{"email":"dana@example.com","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_CREDENTIALS")

	rec = login(h, `{"email":"nobody@example.com","password":"correct horse"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = login(h, `{"email":"","password":""}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestMe(t *testing.T) {
	h := handlers(t)

	rec := httptest.NewRecorder()
	h.Me(rec, httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req = req.WithContext(api.WithUser(req.Context(), &user.User{ID: "u1", Email: "dana@example.com"}))
	rec = httptest.NewRecorder()
	h.Me(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"email":"dana@example.com"`)
}
