// Package identity authenticates viewers and carries the viewer id through
// request context. Session establishment itself is external; this service
// only verifies tokens minted by the auth layer.
package identity

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

type viewerKeyType struct{}

var viewerKey viewerKeyType

func LoadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return jwt.ParseRSAPublicKeyFromPEM(keyData)
}

// JWTAuthMiddlewareRS256 verifies the bearer token and stores the viewer id
// (token subject) in the request context. Websocket clients cannot set
// headers, so a token query parameter is accepted as well.
func JWTAuthMiddlewareRS256(pubKey *rsa.PublicKey) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := extractToken(r)
			if tokenStr == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing token")
				return
			}
			token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
				return pubKey, nil
			})
			if err != nil || !token.Valid {
				writeJSONError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			claims, ok := token.Claims.(*Claims)
			if !ok || claims.Subject == "" {
				writeJSONError(w, http.StatusUnauthorized, "invalid claims")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithViewer(r.Context(), claims.Subject)))
		})
	}
}

// WithViewer returns a context carrying the viewer id.
func WithViewer(ctx context.Context, viewerID string) context.Context {
	return context.WithValue(ctx, viewerKey, viewerID)
}

// ViewerID returns the authenticated viewer id, or "" when the request was
// not authenticated.
func ViewerID(ctx context.Context) string {
	v, _ := ctx.Value(viewerKey).(string)
	return v
}

func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg, "code": status})
}
