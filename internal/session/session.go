// Package session derives persistent-session keys for EnablePersistentSession
// (§4.2, §4.4). It gives the persistent-session-key race a real
// cryptographic artifact to race over, adapted from the teacher's
// internal/crypto encryption package — same pbkdf2 call, different key
// material and no symmetric encryption step, since the derived key here is
// the session token itself rather than an AES key wrapping some payload.
package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLength  = 32
	saltLength = 16
	iterations = 100000
)

// GenerateSalt returns fresh random salt for DeriveKey, one per user.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("session: generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives a persistent-session key from secret (a user-supplied
// passphrase or reconnect token) and salt, returned hex-encoded so it can
// travel as the plain string EnablePersistentSession.SessionKey expects.
func DeriveKey(secret, salt []byte) string {
	key := pbkdf2.Key(secret, salt, iterations, keyLength, sha256.New)
	return hex.EncodeToString(key)
}

// NewSessionKey generates a fresh salt and derives a key from secret in one
// call — the common case of enabling persistent sessions for the first
// time. The salt is returned alongside the key so the caller can persist it
// for later verification (e.g. re-deriving from a reconnect token).
func NewSessionKey(secret []byte) (key string, salt []byte, err error) {
	salt, err = GenerateSalt()
	if err != nil {
		return "", nil, err
	}
	return DeriveKey(secret, salt), salt, nil
}
