package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/example/ec-checkout-saga/internal/auth"
)

// AccessTokenCookie carries the storefront's browser session token.
const AccessTokenCookie = "access_token"

type buyerKey struct{}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="checkout"`)
	writeError(w, http.StatusUnauthorized, message)
}

// accessToken prefers the session cookie and falls back to a Bearer
// Authorization header. The scheme is matched case-insensitively.
func accessToken(r *http.Request) string {
	if c, err := r.Cookie(AccessTokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Authenticate admits buyer and admin tokens and stores their claims on the
// request context. An expired token is reported separately so the
// storefront can refresh it.
func Authenticate(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := accessToken(r)
			if token == "" {
				unauthorized(w, "missing access token")
				return
			}

			claims, err := jwtService.ValidateAccessToken(token)
			switch {
			case errors.Is(err, auth.ErrExpiredToken):
				unauthorized(w, "token expired")
				return
			case err != nil:
				unauthorized(w, "invalid token")
				return
			}
			if claims.Role != auth.RoleBuyer && !claims.IsAdmin() {
				writeError(w, http.StatusForbidden, "role not allowed")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithBuyer(r.Context(), claims)))
		})
	}
}

// AdminOnly guards stock administration.
func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := Buyer(r.Context())
		if !ok {
			unauthorized(w, "missing access token")
			return
		}
		if !claims.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func WithBuyer(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, buyerKey{}, claims)
}

// Buyer returns the authenticated caller.
func Buyer(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(buyerKey{}).(*auth.Claims)
	return claims, ok
}

// BuyerID is the token subject, or "" for anonymous requests.
func BuyerID(ctx context.Context) string {
	if claims, ok := Buyer(ctx); ok {
		return claims.BuyerID()
	}
	return ""
}
