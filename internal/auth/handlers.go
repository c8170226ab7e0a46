package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fileregistry/backend/internal/db"
	apperrors "github.com/fileregistry/backend/internal/errors"
	"github.com/fileregistry/backend/internal/logger"
)

type CredentialsRequest struct {
	ID       string `json:"id"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type InfoResponse struct {
	ID string `json:"id"`
}

type Handlers struct {
	authService *Service
}

func NewHandlers(authService *Service) *Handlers {
	return &Handlers{authService: authService}
}

// Signup handles POST /signup
func (h *Handlers) Signup(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, requestID, apperrors.BadRequest("invalid request body"))
		return
	}

	if req.ID == "" || req.Password == "" {
		apperrors.WriteError(w, requestID, apperrors.ValidationError("id and password are required"))
		return
	}

	pair, err := h.authService.Register(r.Context(), req.ID, req.Password)
	if err != nil {
		if errors.Is(err, db.ErrUserExists) {
			apperrors.WriteError(w, requestID, apperrors.UserExists())
			return
		}
		logger.Error(r.Context(), "signup failed", err)
		apperrors.WriteError(w, requestID, apperrors.DatabaseError("failed to create user"))
		return
	}

	apperrors.WriteJSON(w, requestID, http.StatusOK, pair)
}

// Signin handles POST /signin
func (h *Handlers) Signin(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, requestID, apperrors.BadRequest("invalid request body"))
		return
	}

	pair, err := h.authService.Login(r.Context(), req.ID, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			apperrors.WriteError(w, requestID, apperrors.InvalidCredentials())
			return
		}
		logger.Error(r.Context(), "signin failed", err)
		apperrors.WriteError(w, requestID, apperrors.DatabaseError("signin failed"))
		return
	}

	apperrors.WriteJSON(w, requestID, http.StatusOK, pair)
}

// Refresh handles POST /signin/new_token.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	h.redeemToken(w, r, h.authService.Refresh)
}

// Logout handles GET /logout. Redemption revokes every refresh token the
// user holds and rotates their signing key, which is what ends the
// outstanding sessions; the response keeps the new_token shape.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	h.redeemToken(w, r, h.authService.Logout)
}

func (h *Handlers) redeemToken(w http.ResponseWriter, r *http.Request, redeem func(ctx context.Context, refreshToken string) (*TokenPair, error)) {
	requestID := apperrors.GetRequestID(r.Context())

	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, requestID, apperrors.BadRequest("invalid request body"))
		return
	}

	if req.RefreshToken == "" {
		apperrors.WriteError(w, requestID, apperrors.ValidationError("refresh token is required"))
		return
	}

	pair, err := redeem(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) {
			apperrors.WriteError(w, requestID, apperrors.InvalidRefreshToken())
			return
		}
		logger.Error(r.Context(), "token refresh failed", err)
		apperrors.WriteError(w, requestID, apperrors.DatabaseError("token refresh failed"))
		return
	}

	apperrors.WriteJSON(w, requestID, http.StatusOK, pair)
}

// Info handles GET /info
func (h *Handlers) Info(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	userCtx := GetUserFromContext(r.Context())
	if userCtx == nil {
		apperrors.WriteError(w, requestID, apperrors.Unauthorized("not authenticated"))
		return
	}

	apperrors.WriteJSON(w, requestID, http.StatusOK, InfoResponse{ID: userCtx.UserID})
}
