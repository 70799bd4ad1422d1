/**
 * @description
 * This file contains custom middleware for the HTTP router. The auth
 * middleware validates bearer tokens issued by the identity collaborator and
 * places the authenticated owner id on the request context; handlers never
 * trust identity from the request body.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: JWT parsing and HMAC validation.
 */

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// OwnerIDContextKey is a custom type for the context key to avoid collisions.
type OwnerIDContextKey string

const ownerIDKey OwnerIDContextKey = "ownerID"

// AuthMiddleware creates a middleware that validates HS256 bearer tokens and
// extracts the owner id from the subject claim.
func AuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			subject, err := token.Claims.GetSubject()
			if err != nil || subject == "" {
				http.Error(w, "Invalid token claims", http.StatusUnauthorized)
				return
			}
			ownerID, err := uuid.Parse(subject)
			if err != nil {
				http.Error(w, "Invalid token subject", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ownerIDKey, ownerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetOwnerID retrieves the authenticated owner id from the request context.
func GetOwnerID(ctx context.Context) (uuid.UUID, bool) {
	ownerID, ok := ctx.Value(ownerIDKey).(uuid.UUID)
	return ownerID, ok
}
