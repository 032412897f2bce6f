package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const apiClaimsKey contextKey = "apiClaims"

// APIJWT requires an HS256 bearer token on the intake API. An empty secret
// disables the check so local development runs without tokens.
func APIJWT(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(auth, "Bearer ") {
				unauthorized(w, "missing bearer token")
				return
			}
			claims := jwt.RegisteredClaims{}
			token, err := parser.ParseWithClaims(strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")), &claims, func(*jwt.Token) (any, error) {
				return key, nil
			})
			if err != nil || !token.Valid {
				unauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), apiClaimsKey, claims)))
		})
	}
}

// APIClaimsFromContext returns the caller's token claims if the request was authenticated.
func APIClaimsFromContext(ctx context.Context) (jwt.RegisteredClaims, bool) {
	claims, ok := ctx.Value(apiClaimsKey).(jwt.RegisteredClaims)
	return claims, ok
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="rescue-triage"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
