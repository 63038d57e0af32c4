package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
)

var (
	// ErrMalformedHash is returned when a stored hash cannot be parsed.
	ErrMalformedHash = errors.New("password: malformed hash")
	// ErrUnsupportedHash is returned for hash schemes the Hasher does not know.
	ErrUnsupportedHash = errors.New("password: unsupported hash scheme")
)

// Params are the Argon2id cost parameters used for new hashes.
type Params struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams returns the parameters recommended for interactive logins.
func DefaultParams() Params {
	return Params{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Validate checks the parameters against the package minimums.
func (p Params) Validate() error {
	switch {
	case p.Memory < minMemoryKB:
		return errors.New("password memory must be >= 8192 KB")
	case p.Time < minTimeCost:
		return errors.New("password time must be >= 1")
	case p.Parallelism < minParallelism:
		return errors.New("password parallelism must be >= 1")
	case p.SaltLength < minSaltLength:
		return errors.New("password salt length must be >= 16")
	case p.KeyLength < minKeyLength:
		return errors.New("password key length must be >= 16")
	}
	return nil
}

// Hasher produces Argon2id hashes and verifies Argon2id or legacy bcrypt
// hashes. It is safe for concurrent use.
type Hasher struct {
	params Params

	dummyOnce sync.Once
	dummy     string
}

// NewHasher validates params and returns a Hasher.
func NewHasher(params Params) (*Hasher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Hasher{params: params}, nil
}

// Hash derives a fresh PHC-encoded Argon2id hash of plaintext. The bytes are
// used exactly as given.
func (h *Hasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("password: read salt: %w", err)
	}

	key := argon2.IDKey([]byte(plaintext), salt, h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether plaintext matches encoded. A mismatch is (false, nil);
// an error means the stored hash itself is unusable.
func (h *Hasher) Verify(plaintext, encoded string) (bool, error) {
	if isBcrypt(encoded) {
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(plaintext))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
		}
	}

	parsed, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(plaintext), parsed.salt, parsed.time, parsed.memory, parsed.parallelism, uint32(len(parsed.hash)))
	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

// VerifyDummy burns roughly the cost of one real verification against a
// throwaway hash. Callers use it when no stored hash exists so the response
// time does not reveal that.
func (h *Hasher) VerifyDummy(plaintext string) {
	h.dummyOnce.Do(func() {
		// Hash only fails when the system RNG does; fall back to a fixed salt.
		dummy, err := h.Hash("authcore-dummy-password")
		if err != nil {
			dummy = fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
				algorithmID, argon2.Version, h.params.Memory, h.params.Time, h.params.Parallelism,
				base64.RawStdEncoding.EncodeToString(make([]byte, h.params.SaltLength)),
				base64.RawStdEncoding.EncodeToString(make([]byte, h.params.KeyLength)))
		}
		h.dummy = dummy
	})
	_, _ = h.Verify(plaintext, h.dummy)
}

// NeedsRehash reports whether encoded was produced by a legacy scheme or with
// weaker parameters than the Hasher's.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	if isBcrypt(encoded) {
		return true, nil
	}
	parsed, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	return h.params.Memory > parsed.memory ||
		h.params.Time > parsed.time ||
		h.params.Parallelism > parsed.parallelism ||
		h.params.KeyLength != uint32(len(parsed.hash)), nil
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}
