package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the access-token payload. The token on the wire is the usual
// base64(header).base64(payload).base64(hmac) triple, HS256-signed with the
// owning user's current key from the keyring.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// mintAccessToken signs a token for user id, valid for AccessTokenExpiry.
func mintAccessToken(id string, key []byte) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: id,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "fileregistry",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(key)
}

// parseAccessToken verifies the signature and expiry of an access token.
// The keyring is consulted per user: the key function reads the (not yet
// verified) user_id claim and hands back that user's current key, so the
// signature check below binds the claim to the key that minted it.
func parseAccessToken(tokenString string, keys *Keyring) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		claims, ok := token.Claims.(*Claims)
		if !ok || claims.UserID == "" {
			return nil, ErrInvalidToken
		}
		return keys.KeyFor(claims.UserID), nil
	})

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformedToken
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		default:
			return nil, ErrInvalidToken
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
