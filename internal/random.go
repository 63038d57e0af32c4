package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

const (
	resetIDSize       = 16
	resetSecretSize   = 32
	resetTokenRawSize = resetIDSize + resetSecretSize
)

// ErrMalformedResetToken is returned when a reset token does not decode to
// the expected id and secret.
var ErrMalformedResetToken = errors.New("malformed reset token")

// ResetToken is a freshly minted password reset credential. Token is handed
// to the user; only ID and SecretHash are persisted.
type ResetToken struct {
	ID         string
	Token      string
	SecretHash [32]byte
}

// NewResetToken draws a random id and secret and encodes them as one
// base64url string.
func NewResetToken() (ResetToken, error) {
	var raw [resetTokenRawSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return ResetToken{}, err
	}
	var secret [resetSecretSize]byte
	copy(secret[:], raw[resetIDSize:])

	return ResetToken{
		ID:         base64.RawURLEncoding.EncodeToString(raw[:resetIDSize]),
		Token:      base64.RawURLEncoding.EncodeToString(raw[:]),
		SecretHash: HashResetSecret(secret),
	}, nil
}

// DecodeResetToken splits a token into its id and secret.
func DecodeResetToken(token string) (string, [resetSecretSize]byte, error) {
	var secret [resetSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != resetTokenRawSize {
		return "", secret, ErrMalformedResetToken
	}
	copy(secret[:], raw[resetIDSize:])

	return base64.RawURLEncoding.EncodeToString(raw[:resetIDSize]), secret, nil
}

// HashResetSecret is the digest stored in place of the secret.
func HashResetSecret(secret [resetSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// Fingerprint returns a short, irreversible tag for a token that is safe to
// write to logs.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}
