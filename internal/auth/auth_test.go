package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/UkralStul/discussion-board-service/internal/domain"
	"github.com/UkralStul/discussion-board-service/internal/storage/inmemory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *domain.User) {
	store := inmemory.New()
	manager := NewManager("test-secret", time.Minute, store)

	hash, err := manager.HashPassword("password123")
	require.NoError(t, err)
	user, err := store.CreateUser(context.Background(), &domain.User{
		Name:         "Test",
		Email:        "test@example.com",
		PasswordHash: hash,
	})
	require.NoError(t, err)
	return manager, user
}

func TestManager_PasswordHashing(t *testing.T) {
	manager, user := newTestManager(t)

	assert.True(t, manager.CheckPassword(user.PasswordHash, "password123"))
	assert.False(t, manager.CheckPassword(user.PasswordHash, "wrong"))
}

func TestManager_TokenRoundTrip(t *testing.T) {
	manager, user := newTestManager(t)

	token, err := manager.CreateToken(user)
	require.NoError(t, err)

	email, err := manager.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.Email, email)
}

func TestManager_ParseToken_WrongSecret(t *testing.T) {
	manager, user := newTestManager(t)
	other := NewManager("other-secret", time.Minute, nil)

	token, err := manager.CreateToken(user)
	require.NoError(t, err)

	_, err = other.ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestManager_ParseToken_Expired(t *testing.T) {
	store := inmemory.New()
	manager := NewManager("test-secret", -time.Minute, store)

	token, err := manager.CreateToken(&domain.User{Email: "expired@example.com"})
	require.NoError(t, err)

	_, err = manager.ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware_AnonymousPassesThrough(t *testing.T) {
	manager, _ := newTestManager(t)

	var sawUser bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawUser = UserFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	manager.Middleware(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, sawUser)
}

func TestMiddleware_LoadsUserFromToken(t *testing.T) {
	manager, user := newTestManager(t)

	token, err := manager.CreateToken(user)
	require.NoError(t, err)

	var gotID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, ok := UserFromContext(r.Context()); ok {
			gotID = u.ID
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	manager.Middleware(next).ServeHTTP(rec, req)

	assert.Equal(t, user.ID, gotID)
}

func TestMiddleware_RejectsGarbageToken(t *testing.T) {
	manager, _ := newTestManager(t)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	manager.Middleware(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "invalid or expired token", body.Error)
}

func TestRoleGates(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	cases := []struct {
		name    string
		gate    func(http.Handler) http.Handler
		role    domain.Role
		status  int
	}{
		{"moderator gate allows moderator", RequireModerator, domain.RoleModerator, http.StatusOK},
		{"moderator gate allows admin", RequireModerator, domain.RoleAdmin, http.StatusOK},
		{"moderator gate rejects regular", RequireModerator, domain.RoleRegular, http.StatusForbidden},
		{"admin gate rejects moderator", RequireAdmin, domain.RoleModerator, http.StatusForbidden},
		{"admin gate allows admin", RequireAdmin, domain.RoleAdmin, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(WithUser(req.Context(), &domain.User{ID: "u", Role: tc.role}))
			rec := httptest.NewRecorder()
			tc.gate(ok).ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestRoleGates_Anonymous(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	RequireModerator(ok).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
