package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

// RefreshTokenBytes is the amount of randomness in an opaque refresh token (256 bits).
const RefreshTokenBytes = 32

// NewRefreshToken returns a random base64url (unpadded) refresh token.
func NewRefreshToken() (string, error) {
	var raw [RefreshTokenBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// HashToken derives the storage key for a refresh token. Plaintext tokens are never persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// CheckRefreshToken rejects strings that cannot have been produced by NewRefreshToken,
// so garbage input never reaches the store.
func CheckRefreshToken(token string) error {
	if token == "" {
		return errors.New("empty refresh token")
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return err
	}
	if len(raw) != RefreshTokenBytes {
		return errors.New("invalid refresh token size")
	}
	return nil
}
