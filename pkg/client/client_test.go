package client

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/jwtauth/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestToken(t *testing.T, ja *jwtauth.JWTAuth, claims map[string]interface{}) string {
	t.Helper()
	_, tokenString, err := ja.Encode(claims)
	require.NoError(t, err)
	return tokenString
}

func TestAuthUserMiddleware(t *testing.T) {
	ja := jwtauth.New("HS256", []byte("test-secret"), nil)

	newServer := func(capture **AuthUser) http.Handler {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authUser, ok := r.Context().Value(AuthUserKey).(*AuthUser)
			require.True(t, ok)
			*capture = authUser
			w.WriteHeader(http.StatusOK)
		})
		return Verifier(ja)(AuthUserMiddleware(handler))
	}

	t.Run("user_id claim populates AuthUser", func(t *testing.T) {
		var got *AuthUser
		srv := newServer(&got)

		token := newTestToken(t, ja, map[string]interface{}{
			"user_id": "account-1",
			"extra_claims": map[string]interface{}{
				"roles": []string{"admin"},
			},
		})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, got)
		assert.Equal(t, "account-1", got.UserId)
		assert.Equal(t, []string{"admin"}, got.ExtraClaims.Roles)
	})

	t.Run("subject claim is the fallback identity", func(t *testing.T) {
		var got *AuthUser
		srv := newServer(&got)

		token := newTestToken(t, ja, map[string]interface{}{"sub": "account-2"})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "account-2", got.UserId)
	})

	t.Run("token from cookie", func(t *testing.T) {
		var got *AuthUser
		srv := newServer(&got)

		token := newTestToken(t, ja, map[string]interface{}{"user_id": "account-3"})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: ACCESS_TOKEN_NAME, Value: token})
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "account-3", got.UserId)
	})

	t.Run("missing token is rejected", func(t *testing.T) {
		var got *AuthUser
		srv := newServer(&got)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token without identity is rejected", func(t *testing.T) {
		var got *AuthUser
		srv := newServer(&got)

		token := newTestToken(t, ja, map[string]interface{}{"email": "a@example.com"})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestCanAccessAccount(t *testing.T) {
	owner := &AuthUser{UserId: "account-1"}
	admin := &AuthUser{UserId: "account-9", ExtraClaims: ExtraClaims{Roles: []string{"admin"}}}
	other := &AuthUser{UserId: "account-2"}

	assert.True(t, CanAccessAccount(owner, "account-1"))
	assert.True(t, CanAccessAccount(admin, "account-1"))
	assert.False(t, CanAccessAccount(other, "account-1"))
	assert.False(t, CanAccessAccount(nil, "account-1"))
}

func TestIsAdmin(t *testing.T) {
	assert.False(t, IsAdmin(nil))
	assert.False(t, IsAdmin(&AuthUser{UserId: "u"}))
	assert.True(t, IsAdmin(&AuthUser{ExtraClaims: ExtraClaims{Roles: []string{"superadmin"}}}))
}
