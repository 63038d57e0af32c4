package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the JWS algorithm.
type SigningMethod string

const (
	// MethodHS256 signs with a shared HMAC-SHA256 secret.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with an Ed25519 key pair.
	MethodEd25519 SigningMethod = "ed25519"
)

// MinHMACKeyBytes is the smallest accepted HS256 secret.
const MinHMACKeyBytes = 32

// Purpose distinguishes access tokens from refresh tokens.
type Purpose string

const (
	PurposeAccess  Purpose = "access"
	PurposeRefresh Purpose = "refresh"
)

var (
	ErrExpired          = errors.New("jwt: token expired")
	ErrSignatureInvalid = errors.New("jwt: signature invalid")
	ErrPurposeMismatch  = errors.New("jwt: token purpose mismatch")
	ErrClaimsInvalid    = errors.New("jwt: claims invalid")
	ErrMalformed        = errors.New("jwt: token malformed")
)

// Config configures a Manager.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	// ClockSkew tolerates issuers whose clock runs ahead when checking iat.
	// Expiry is always checked against the exact exp.
	ClockSkew  time.Duration
	KeyID      string
	VerifyKeys map[string][]byte
}

// Pair is a freshly issued access/refresh token pair.
type Pair struct {
	Access           string
	Refresh          string
	RefreshID        string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Claims is the verified content of a token.
type Claims struct {
	Subject   string
	Username  string
	TokenID   string
	Purpose   Purpose
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type wireClaims struct {
	Username string  `json:"usr,omitempty"`
	Purpose  Purpose `json:"typ"`
	jwt.RegisteredClaims
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for issuance and validation.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager signs and verifies token pairs. It holds no mutable state and is
// safe for concurrent use.
type Manager struct {
	config Config
	now    func() time.Time

	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	parser    *jwt.Parser
}

// NewManager validates cfg and builds a Manager.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("jwt: access and refresh TTL must be positive")
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("jwt: refresh TTL must not be shorter than access TTL")
	}
	if cfg.ClockSkew < 0 || cfg.ClockSkew > 2*time.Minute {
		return nil, errors.New("jwt: clock skew must be within [0, 2m]")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{config: cfg, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < MinHMACKeyBytes {
			return nil, fmt.Errorf("jwt: hs256 secret must be at least %d bytes", MinHMACKeyBytes)
		}
		m.method = jwt.SigningMethodHS256
		m.signKey = cfg.PrivateKey
		m.verifyKey = cfg.PrivateKey
	case MethodEd25519:
		m.method = jwt.SigningMethodEdDSA
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("jwt: ed25519 requires a private key")
		}
		priv, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		m.signKey = priv
		m.verifyKey = priv.Public()
		if len(cfg.PublicKey) > 0 {
			pub, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			m.verifyKey = pub
		}
	default:
		return nil, fmt.Errorf("jwt: unsupported signing method %q", cfg.SigningMethod)
	}

	for kid, key := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("jwt: verify key set contains empty kid")
		}
		if _, err := m.keyFromBytes(key); err != nil {
			return nil, fmt.Errorf("jwt: verify key %q: %w", kid, err)
		}
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("jwt: KeyID is not present in VerifyKeys")
		}
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		options = append(options, jwt.WithAudience(cfg.Audience))
	}
	m.parser = jwt.NewParser(options...)

	return m, nil
}

// AccessTTL returns the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.config.RefreshTTL }

// IssuePair signs a new access token and a refresh token with a fresh id.
func (m *Manager) IssuePair(subject, username string) (Pair, error) {
	if subject == "" {
		return Pair{}, errors.New("jwt: empty subject")
	}
	now := m.now()

	access, accessExp, err := m.sign(subject, username, PurposeAccess, uuid.NewString(), now, m.config.AccessTTL)
	if err != nil {
		return Pair{}, err
	}
	refreshID := uuid.NewString()
	refresh, refreshExp, err := m.sign(subject, "", PurposeRefresh, refreshID, now, m.config.RefreshTTL)
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		Access:           access,
		Refresh:          refresh,
		RefreshID:        refreshID,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccess validates an access token.
func (m *Manager) VerifyAccess(token string) (Claims, error) {
	return m.verify(token, PurposeAccess)
}

// VerifyRefresh validates a refresh token. It does not consult the
// revocation registry.
func (m *Manager) VerifyRefresh(token string) (Claims, error) {
	return m.verify(token, PurposeRefresh)
}

func (m *Manager) sign(subject, username string, purpose Purpose, id string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	issuedAt := jwt.NewNumericDate(now)
	expiresAt := jwt.NewNumericDate(now.Add(ttl))

	claims := wireClaims{
		Username: username,
		Purpose:  purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        id,
			Issuer:    m.config.Issuer,
			IssuedAt:  issuedAt,
			ExpiresAt: expiresAt,
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	token := jwt.NewWithClaims(m.method, claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}
	signed, err := token.SignedString(m.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt: sign %s token: %w", purpose, err)
	}
	return signed, expiresAt.Time, nil
}

func (m *Manager) verify(tokenStr string, want Purpose) (Claims, error) {
	if tokenStr == "" {
		return Claims{}, ErrMalformed
	}

	var wc wireClaims
	token, err := m.parser.ParseWithClaims(tokenStr, &wc, m.keyFunc)
	if err != nil {
		return Claims{}, classify(err)
	}
	if !token.Valid {
		return Claims{}, ErrClaimsInvalid
	}
	if wc.Subject == "" || wc.ID == "" {
		return Claims{}, ErrClaimsInvalid
	}
	if wc.IssuedAt != nil && wc.IssuedAt.Time.After(m.now().Add(m.config.ClockSkew)) {
		return Claims{}, ErrClaimsInvalid
	}
	if wc.Purpose != want {
		return Claims{}, ErrPurposeMismatch
	}

	out := Claims{
		Subject:   wc.Subject,
		Username:  wc.Username,
		TokenID:   wc.ID,
		Purpose:   wc.Purpose,
		ExpiresAt: wc.ExpiresAt.Time,
	}
	if wc.IssuedAt != nil {
		out.IssuedAt = wc.IssuedAt.Time
	}
	return out, nil
}

func (m *Manager) keyFunc(t *jwt.Token) (any, error) {
	if t.Method.Alg() != m.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	kid, _ := t.Header["kid"].(string)
	if len(m.config.VerifyKeys) > 0 {
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := m.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return m.keyFromBytes(key)
	}
	if m.config.KeyID != "" && kid != m.config.KeyID {
		return nil, errors.New("unknown kid")
	}
	return m.verifyKey, nil
}

func (m *Manager) keyFromBytes(key []byte) (any, error) {
	if m.method == jwt.SigningMethodHS256 {
		if len(key) < MinHMACKeyBytes {
			return nil, errors.New("hs256 verify key too short")
		}
		return key, nil
	}
	return parseEdPublicKey(key)
}

// classify maps parser errors onto the package taxonomy. Signature checks
// run before claim validation, so an expired token with a forged signature
// reports ErrSignatureInvalid.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return fmt.Errorf("%w: %v", ErrClaimsInvalid, err)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("jwt: invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("jwt: invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("jwt: invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("jwt: invalid ed25519 public key type")
	}
	return edKey, nil
}
