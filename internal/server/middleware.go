package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/discbound/recovery/internal/repository"
)

type contextKey string

const callerKey contextKey = "caller"

func callerFrom(ctx context.Context) (*repository.User, bool) {
	caller, ok := ctx.Value(callerKey).(*repository.User)
	return caller, ok
}

// bearerAuthMiddleware resolves the Authorization bearer token to an account
// and stores it on the request context. Token issuance belongs to the
// identity provider; this service only checks the mapping.
func (s *Server) bearerAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			respondError(w, http.StatusUnauthorized, "Missing bearer token")
			return
		}

		caller, err := s.userRepo.GetByToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, repository.ErrObjectNotFound) {
				respondError(w, http.StatusUnauthorized, "Invalid bearer token")
				return
			}
			respondError(w, http.StatusInternalServerError, "Error: failed to authenticate")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, caller)))
	})
}
