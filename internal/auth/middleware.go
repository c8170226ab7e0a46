package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	apperrors "github.com/fileregistry/backend/internal/errors"
)

type contextKey string

const UserContextKey contextKey = "user"

type UserContext struct {
	UserID string
}

// Middleware is the access gate in front of every protected route.
// No Authorization header at all is 401; a header carrying a malformed,
// forged or expired token is 403.
func Middleware(authService *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := apperrors.GetRequestID(r.Context())

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apperrors.WriteError(w, requestID, apperrors.Unauthorized("missing authorization header"))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				apperrors.WriteError(w, requestID, apperrors.MalformedToken())
				return
			}

			claims, err := authService.ValidateAccessToken(parts[1])
			if err != nil {
				switch {
				case errors.Is(err, ErrTokenExpired):
					apperrors.WriteError(w, requestID, apperrors.TokenExpired())
				case errors.Is(err, ErrMalformedToken):
					apperrors.WriteError(w, requestID, apperrors.MalformedToken())
				default:
					apperrors.WriteError(w, requestID, apperrors.Forbidden("invalid access token"))
				}
				return
			}

			userCtx := &UserContext{UserID: claims.UserID}
			ctx := context.WithValue(r.Context(), UserContextKey, userCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetUserFromContext(ctx context.Context) *UserContext {
	user, ok := ctx.Value(UserContextKey).(*UserContext)
	if !ok {
		return nil
	}
	return user
}
