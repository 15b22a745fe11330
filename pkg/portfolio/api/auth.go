package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/jwtauth"
	"github.com/google/uuid"
)

type contextKey string

const actorKey contextKey = "actor"

// NewTokenAuth creates the HS256 verifier for admin tokens.
func NewTokenAuth(secret string) *jwtauth.JWTAuth {
	return jwtauth.New("HS256", []byte(secret), nil)
}

// IssueToken signs an admin token whose subject is the author's id.
func IssueToken(auth *jwtauth.JWTAuth, subject uuid.UUID, ttl time.Duration) (string, error) {
	claims := map[string]interface{}{"sub": subject.String()}
	jwtauth.SetIssuedNow(claims)
	if ttl > 0 {
		jwtauth.SetExpiryIn(claims, ttl)
	}
	_, token, err := auth.Encode(claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// authenticate runs after jwtauth.Verifier and resolves the actor from
// the token subject.
func authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, claims, err := jwtauth.FromContext(r.Context())
		if err != nil || token == nil {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "a valid bearer token is required")
			return
		}
		sub, _ := claims["sub"].(string)
		actor, err := uuid.Parse(sub)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "token subject must be an author id")
			return
		}
		ctx := context.WithValue(r.Context(), actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ActorFromContext returns the authenticated author.
func ActorFromContext(ctx context.Context) (uuid.UUID, bool) {
	actor, ok := ctx.Value(actorKey).(uuid.UUID)
	return actor, ok
}
