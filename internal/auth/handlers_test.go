package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/fileregistry/backend/internal/db"
	apperrors "github.com/fileregistry/backend/internal/errors"
)

func newMockedService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()

	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	database := &db.DB{DB: conn}
	return NewService(db.NewUserRepository(database), db.NewTokenRepository(database), "test-secret"), mock
}

func postJSON(t *testing.T, handler http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestSignupReturnsTokenPair(t *testing.T) {
	svc, mock := newMockedService(t)
	handlers := NewHandlers(svc)

	mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO refresh_tokens").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := postJSON(t, handlers.Signup, "/signup", `{"id":"alice@example.com","password":"secret123"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var pair TokenPair
	if err := json.NewDecoder(rec.Body).Decode(&pair); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Error("both tokens should be set")
	}

	claims, err := svc.ValidateAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("issued access token should verify: %v", err)
	}
	if claims.UserID != "alice@example.com" {
		t.Errorf("UserID = %q, want alice@example.com", claims.UserID)
	}
}

func TestSignupValidation(t *testing.T) {
	svc, _ := newMockedService(t)
	handlers := NewHandlers(svc)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{garbage`},
		{"missing id", `{"password":"secret123"}`},
		{"missing password", `{"id":"alice@example.com"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, handlers.Signup, "/signup", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestSignupDuplicateUser(t *testing.T) {
	svc, mock := newMockedService(t)
	handlers := NewHandlers(svc)

	mock.ExpectExec("INSERT INTO users").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_pkey"})

	rec := postJSON(t, handlers.Signup, "/signup", `{"id":"alice@example.com","password":"secret123"}`)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}

	var resp apperrors.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.Error.Code != apperrors.CodeUserExists {
		t.Errorf("error code = %q, want %q", resp.Error.Code, apperrors.CodeUserExists)
	}
}

func TestSigninWrongPasswordIsNotFound(t *testing.T) {
	svc, mock := newMockedService(t)
	handlers := NewHandlers(svc)

	hash, err := bcrypt.GenerateFromPassword([]byte("correct"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	now := time.Now()
	mock.ExpectQuery("SELECT id, password_hash, created_at, updated_at FROM users WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "password_hash", "created_at", "updated_at"}).
			AddRow("alice@example.com", string(hash), now, now))

	rec := postJSON(t, handlers.Signin, "/signin", `{"id":"alice@example.com","password":"wrong"}`)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	var resp apperrors.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.Error.Code != apperrors.CodeInvalidCredentials {
		t.Errorf("error code = %q, want %q", resp.Error.Code, apperrors.CodeInvalidCredentials)
	}
}

func TestSigninUnknownUserIsNotFound(t *testing.T) {
	svc, mock := newMockedService(t)
	handlers := NewHandlers(svc)

	mock.ExpectQuery("SELECT id, password_hash, created_at, updated_at FROM users WHERE id").
		WillReturnError(sql.ErrNoRows)

	rec := postJSON(t, handlers.Signin, "/signin", `{"id":"nobody","password":"whatever"}`)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRefreshUnknownTokenIsNotFound(t *testing.T) {
	svc, mock := newMockedService(t)
	handlers := NewHandlers(svc)

	mock.ExpectQuery("SELECT id, user_id, token_hash, expires_at, created_at, revoked FROM refresh_tokens WHERE token_hash").
		WillReturnError(sql.ErrNoRows)

	rec := postJSON(t, handlers.Refresh, "/signin/new_token", `{"refreshToken":"deadbeef"}`)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRefreshRevokedTokenIsRejected(t *testing.T) {
	svc, mock := newMockedService(t)
	handlers := NewHandlers(svc)

	tokenColumns := []string{"id", "user_id", "token_hash", "expires_at", "created_at", "revoked"}
	mock.ExpectQuery("SELECT id, user_id, token_hash, expires_at, created_at, revoked FROM refresh_tokens WHERE token_hash").
		WillReturnRows(sqlmock.NewRows(tokenColumns).
			AddRow(uuid.New(), "alice@example.com", hashToken("deadbeef"), time.Now().Add(time.Hour), time.Now(), true))

	rec := postJSON(t, handlers.Refresh, "/signin/new_token", `{"refreshToken":"deadbeef"}`)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRefreshRotatesSigningKey(t *testing.T) {
	svc, mock := newMockedService(t)
	handlers := NewHandlers(svc)

	oldToken, err := mintAccessToken("alice@example.com", svc.keys.KeyFor("alice@example.com"))
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}

	tokenColumns := []string{"id", "user_id", "token_hash", "expires_at", "created_at", "revoked"}
	mock.ExpectQuery("SELECT id, user_id, token_hash, expires_at, created_at, revoked FROM refresh_tokens WHERE token_hash").
		WillReturnRows(sqlmock.NewRows(tokenColumns).
			AddRow(uuid.New(), "alice@example.com", hashToken("deadbeef"), time.Now().Add(time.Hour), time.Now(), false))
	mock.ExpectExec("UPDATE refresh_tokens SET revoked = TRUE WHERE id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO refresh_tokens").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := postJSON(t, handlers.Refresh, "/signin/new_token", `{"refreshToken":"deadbeef"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var pair TokenPair
	if err := json.NewDecoder(rec.Body).Decode(&pair); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}

	if _, err := svc.ValidateAccessToken(oldToken); err == nil {
		t.Error("pre-refresh access token should no longer verify")
	}
	if _, err := svc.ValidateAccessToken(pair.AccessToken); err != nil {
		t.Errorf("new access token should verify, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("old refresh token was not revoked: %v", err)
	}
}

// When two redemptions of one refresh token race, the loser's guarded
// revoke affects no row; it must be turned away like any other invalid
// token, not handed a second pair.
func TestRefreshLostRaceIsRejected(t *testing.T) {
	svc, mock := newMockedService(t)
	handlers := NewHandlers(svc)

	tokenColumns := []string{"id", "user_id", "token_hash", "expires_at", "created_at", "revoked"}
	mock.ExpectQuery("SELECT id, user_id, token_hash, expires_at, created_at, revoked FROM refresh_tokens WHERE token_hash").
		WillReturnRows(sqlmock.NewRows(tokenColumns).
			AddRow(uuid.New(), "alice@example.com", hashToken("deadbeef"), time.Now().Add(time.Hour), time.Now(), false))
	mock.ExpectExec("UPDATE refresh_tokens SET revoked = TRUE WHERE id").
		WillReturnResult(sqlmock.NewResult(0, 0))

	rec := postJSON(t, handlers.Refresh, "/signin/new_token", `{"refreshToken":"deadbeef"}`)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	var resp apperrors.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.Error.Code != apperrors.CodeInvalidRefreshToken {
		t.Errorf("error code = %q, want %q", resp.Error.Code, apperrors.CodeInvalidRefreshToken)
	}
}

func TestLogoutRevokesAllUserTokens(t *testing.T) {
	svc, mock := newMockedService(t)
	handlers := NewHandlers(svc)

	oldToken, err := mintAccessToken("alice@example.com", svc.keys.KeyFor("alice@example.com"))
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}

	tokenColumns := []string{"id", "user_id", "token_hash", "expires_at", "created_at", "revoked"}
	mock.ExpectQuery("SELECT id, user_id, token_hash, expires_at, created_at, revoked FROM refresh_tokens WHERE token_hash").
		WillReturnRows(sqlmock.NewRows(tokenColumns).
			AddRow(uuid.New(), "alice@example.com", hashToken("deadbeef"), time.Now().Add(time.Hour), time.Now(), false))
	mock.ExpectExec("UPDATE refresh_tokens SET revoked = TRUE WHERE id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE refresh_tokens SET revoked = TRUE WHERE user_id").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO refresh_tokens").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := postJSON(t, handlers.Logout, "/logout", `{"refreshToken":"deadbeef"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	if _, err := svc.ValidateAccessToken(oldToken); err == nil {
		t.Error("pre-logout access token should no longer verify")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("logout must revoke every token the user holds: %v", err)
	}
}

func TestInfoRequiresContext(t *testing.T) {
	svc, _ := newMockedService(t)
	handlers := NewHandlers(svc)

	req := httptest.NewRequest(http.MethodGet, "/info", nil)
	rec := httptest.NewRecorder()
	handlers.Info(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestInfoReturnsUserID(t *testing.T) {
	svc, _ := newMockedService(t)
	handlers := NewHandlers(svc)

	req := httptest.NewRequest(http.MethodGet, "/info", nil)
	ctx := context.WithValue(req.Context(), UserContextKey, &UserContext{UserID: "alice@example.com"})
	rec := httptest.NewRecorder()
	handlers.Info(rec, req.WithContext(ctx))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp InfoResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.ID != "alice@example.com" {
		t.Errorf("ID = %q, want alice@example.com", resp.ID)
	}
}
