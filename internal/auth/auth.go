package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/fileregistry/backend/internal/db"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	AccessTokenExpiry  = 10 * time.Minute
	RefreshTokenExpiry = 7 * 24 * time.Hour
	BcryptCost         = 12
)

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrInvalidToken        = errors.New("invalid token")
	ErrMalformedToken      = errors.New("malformed token")
	ErrTokenExpired        = errors.New("token expired")
)

// TokenPair is the response body for signup, signin and refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Service is the session authority: it registers users, checks
// credentials, mints and verifies access tokens, and rotates refresh
// tokens on redemption.
type Service struct {
	userRepo  *db.UserRepository
	tokenRepo *db.TokenRepository
	keys      *Keyring
}

func NewService(userRepo *db.UserRepository, tokenRepo *db.TokenRepository, jwtSecret string) *Service {
	return &Service{
		userRepo:  userRepo,
		tokenRepo: tokenRepo,
		keys:      NewKeyring(jwtSecret),
	}
}

func (s *Service) Register(ctx context.Context, id, password string) (*TokenPair, error) {
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &db.User{
		ID:           id,
		PasswordHash: string(passwordHash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	return s.generateTokens(ctx, user.ID)
}

func (s *Service) Login(ctx context.Context, id, password string) (*TokenPair, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.generateTokens(ctx, user.ID)
}

// Refresh redeems a refresh token exactly once: the stored token is
// revoked, the user's signing key is rotated (dropping their outstanding
// access tokens), and a new pair is minted. The guarded Revoke is what
// enforces single use; when two redemptions of the same token race, the
// loser's revoke affects no row and is rejected here.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	stored, err := s.redeem(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	s.keys.Rotate(stored.UserID)

	return s.generateTokens(ctx, stored.UserID)
}

// Logout burns the presented refresh token and every other outstanding
// refresh token of the same user, then rotates the signing key so the
// user's access tokens die with the session. A fresh pair is still
// returned, matching the legacy logout surface.
func (s *Service) Logout(ctx context.Context, refreshToken string) (*TokenPair, error) {
	stored, err := s.redeem(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	if err := s.tokenRepo.RevokeAllForUser(ctx, stored.UserID); err != nil {
		return nil, err
	}

	s.keys.Rotate(stored.UserID)

	return s.generateTokens(ctx, stored.UserID)
}

// redeem resolves and burns a refresh token, returning its stored row.
func (s *Service) redeem(ctx context.Context, refreshToken string) (*db.RefreshToken, error) {
	stored, err := s.tokenRepo.GetByHash(ctx, hashToken(refreshToken))
	if err != nil {
		if errors.Is(err, db.ErrTokenNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}

	if stored.Revoked || time.Now().After(stored.ExpiresAt) {
		return nil, ErrInvalidRefreshToken
	}

	if err := s.tokenRepo.Revoke(ctx, stored.ID); err != nil {
		if errors.Is(err, db.ErrTokenNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}

	return stored, nil
}

// ValidateAccessToken checks signature and expiry against the owning
// user's current signing key. No credential-store round trip happens
// here; the claims are trusted once the signature holds.
func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	return parseAccessToken(tokenString, s.keys)
}

func (s *Service) generateTokens(ctx context.Context, userID string) (*TokenPair, error) {
	accessToken, err := mintAccessToken(userID, s.keys.KeyFor(userID))
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.generateRefreshToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

func (s *Service) generateRefreshToken(ctx context.Context, userID string) (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	tokenString := hex.EncodeToString(tokenBytes)

	// Only the hash is persisted; the clear value exists nowhere but the
	// response body.
	refreshToken := &db.RefreshToken{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: hashToken(tokenString),
		ExpiresAt: time.Now().Add(RefreshTokenExpiry),
		CreatedAt: time.Now(),
		Revoked:   false,
	}

	if err := s.tokenRepo.Create(ctx, refreshToken); err != nil {
		return "", err
	}

	return tokenString, nil
}

func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
