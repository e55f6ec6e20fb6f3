// Package client extracts the authenticated account identity from
// incoming requests. Handlers read the AuthUser placed in the request
// context by AuthUserMiddleware.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/jwtauth/v5"
)

type ExtraClaims struct {
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// AuthUser is the authenticated account making the request.
type AuthUser struct {
	UserId      string      `json:"user_id,omitempty"`
	DisplayName string      `json:"display_name,omitempty"`
	ExtraClaims ExtraClaims `json:"extra_claims,omitempty"`
}

func (i AuthUser) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user", i.UserId),
		slog.Any("extra_claims", i.ExtraClaims),
	)
}

// contextKey is a value for use with context.WithValue. It's used as
// a pointer so it fits in an interface{} without allocation. This technique
// for defining context keys was copied from Go 1.7's new use of context in net/http.
type contextKey struct {
	name string
}

func (k *contextKey) String() string {
	return "device-idm context value " + k.name
}

const (
	ACCESS_TOKEN_NAME = "access_token"
)

var (
	AuthUserKey = &contextKey{"AuthUser"}
)

func LoadFromMap[T any](m map[string]interface{}, c *T) error {
	data, err := json.Marshal(m)
	if err == nil {
		err = json.Unmarshal(data, c)
	}
	return err
}

// AuthUserMiddleware turns verified JWT claims into an AuthUser in the
// request context. The account id comes from the user_id claim with
// the standard subject as fallback.
func AuthUserMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, jwtClaims, err := jwtauth.FromContext(r.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("missing or invalid JWT: %v", err), http.StatusUnauthorized)
			return
		}
		if jwtClaims == nil {
			http.Error(w, "missing JWT claims", http.StatusUnauthorized)
			return
		}

		claims := make(map[string]interface{}, len(jwtClaims))
		for k, v := range jwtClaims {
			claims[k] = v
		}

		authUser := new(AuthUser)
		if err := LoadFromMap(claims, authUser); err != nil {
			slog.Error("failed to parse token claims", "error", err)
			http.Error(w, "invalid token claims", http.StatusUnauthorized)
			return
		}

		if extraClaimsRaw, exists := claims["extra_claims"]; exists {
			if extraClaims, ok := extraClaimsRaw.(map[string]interface{}); ok {
				if err := LoadFromMap(extraClaims, &authUser.ExtraClaims); err != nil {
					slog.Warn("failed to parse extra claims", "error", err)
					// Continue processing as extra claims are optional
				}
			}
		}

		if authUser.UserId == "" {
			if sub, ok := claims["sub"].(string); ok {
				authUser.UserId = sub
			}
		}
		if authUser.UserId == "" {
			http.Error(w, "missing user ID in token", http.StatusUnauthorized)
			return
		}

		slog.Debug("authenticated user", "userId", authUser.UserId, "roles", authUser.ExtraClaims.Roles)

		ctx := context.WithValue(r.Context(), AuthUserKey, authUser)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Verifier checks the JWT from the Authorization header or the access
// token cookie.
func Verifier(ja *jwtauth.JWTAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return jwtauth.Verify(ja, jwtauth.TokenFromHeader, TokenFromCookie)(next)
	}
}

func TokenFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(ACCESS_TOKEN_NAME)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// IsAdmin checks if the user carries an administrative role.
func IsAdmin(user *AuthUser) bool {
	if user == nil {
		return false
	}
	for _, role := range user.ExtraClaims.Roles {
		if role == "admin" || role == "superadmin" {
			return true
		}
	}
	return false
}

// CanAccessAccount reports whether the authenticated user may act on
// the given account: the account owner always can, admins can act on
// any account.
func CanAccessAccount(user *AuthUser, accountID string) bool {
	if user == nil {
		return false
	}
	return user.UserId == accountID || IsAdmin(user)
}
