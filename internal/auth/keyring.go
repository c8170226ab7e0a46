package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"sync"
)

// Keyring holds the per-user HMAC signing keys. Each user's tokens are
// signed with their own key, so rotating one user's key on refresh
// invalidates only that user's outstanding access tokens, never anyone
// else's. Handlers run concurrently, hence the lock.
type Keyring struct {
	mu   sync.RWMutex
	base []byte
	keys map[string][]byte
}

func NewKeyring(secret string) *Keyring {
	return &Keyring{
		base: []byte(secret),
		keys: make(map[string][]byte),
	}
}

// KeyFor returns the user's current signing key, deriving the initial key
// from the process secret on first use. Derivation is deterministic, so
// tokens survive a restart as long as the secret does.
func (k *Keyring) KeyFor(userID string) []byte {
	k.mu.RLock()
	key, ok := k.keys[userID]
	k.mu.RUnlock()
	if ok {
		return key
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if key, ok := k.keys[userID]; ok {
		return key
	}

	mac := hmac.New(sha256.New, k.base)
	mac.Write([]byte(userID))
	key = mac.Sum(nil)
	k.keys[userID] = key
	return key
}

// Rotate replaces the user's key with a fresh random one, invalidating
// every access token previously signed for that user. Rotated keys are
// process-local: after a restart KeyFor falls back to the derived initial
// key, so an access token minted before the last rotation verifies again
// until its own expiry passes. The exposure window is therefore bounded
// by AccessTokenExpiry; revoked refresh tokens stay revoked regardless,
// since those live in the database.
func (k *Keyring) Rotate(userID string) []byte {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		// crypto/rand failing is unrecoverable for a signing service
		panic("keyring: " + err.Error())
	}

	k.mu.Lock()
	k.keys[userID] = key
	k.mu.Unlock()
	return key
}
