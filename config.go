package authcore

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/labelforge/authcore/jwt"
	"github.com/labelforge/authcore/password"
)

// Config is the complete engine configuration. Start from DefaultConfig and
// set JWT.PrivateKey; there is no default signing key.
type Config struct {
	JWT           JWTConfig           `envPrefix:"AUTH_JWT_"`
	Lockout       LockoutConfig       `envPrefix:"AUTH_LOCKOUT_"`
	PasswordReset PasswordResetConfig `envPrefix:"AUTH_RESET_"`
	Password      PasswordConfig      `envPrefix:"AUTH_PASSWORD_"`
	Security      SecurityConfig      `envPrefix:"AUTH_SECURITY_"`
	Audit         AuditConfig         `envPrefix:"AUTH_AUDIT_"`
	Metrics       MetricsConfig       `envPrefix:"AUTH_METRICS_"`
}

// KeyMaterial holds signing key bytes and never prints them.
type KeyMaterial []byte

func (k *KeyMaterial) UnmarshalText(text []byte) error {
	*k = append(KeyMaterial(nil), text...)
	return nil
}

func (k KeyMaterial) String() string {
	if len(k) == 0 {
		return ""
	}
	return "[redacted]"
}

func (k KeyMaterial) LogValue() slog.Value { return slog.StringValue(k.String()) }

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures token signing. For hs256 PrivateKey is the shared
// secret and must be at least 32 bytes.
type JWTConfig struct {
	AccessTTL     time.Duration `env:"ACCESS_TTL"`
	RefreshTTL    time.Duration `env:"REFRESH_TTL"`
	SigningMethod string        `env:"SIGNING_METHOD"` // "hs256" (default) or "ed25519"
	PrivateKey    KeyMaterial   `env:"SECRET"`
	PublicKey     KeyMaterial   `env:"PUBLIC_KEY"`
	Issuer        string        `env:"ISSUER"`
	Audience      string        `env:"AUDIENCE"`
	ClockSkew     time.Duration `env:"CLOCK_SKEW"` // iat tolerance only; exp is strict
	KeyID         string        `env:"KEY_ID"`
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig sets how many consecutive failures lock an account and for
// how long.
type LockoutConfig struct {
	Threshold  int           `env:"THRESHOLD"`
	Window     time.Duration `env:"WINDOW"`
	MaxRetries int           `env:"MAX_RETRIES"`
}

/*
====================================
PASSWORD RESET CONFIG
====================================
*/

type PasswordResetConfig struct {
	Enabled             bool          `env:"ENABLED"`
	TTL                 time.Duration `env:"TTL"`
	MaxAttempts         int           `env:"MAX_ATTEMPTS"`
	RevokeSessions      bool          `env:"REVOKE_SESSIONS"`
	MinDelay            time.Duration `env:"MIN_DELAY"`
	MaxDelay            time.Duration `env:"MAX_DELAY"`
	MaxRequestsPerEmail int           `env:"MAX_REQUESTS_PER_EMAIL"`
	MaxRequestsPerIP    int           `env:"MAX_REQUESTS_PER_IP"`
	RequestWindow       time.Duration `env:"REQUEST_WINDOW"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the length policy (in bytes) and Argon2id cost.
type PasswordConfig struct {
	MinLength      int    `env:"MIN_LENGTH"`
	MaxLength      int    `env:"MAX_LENGTH"`
	Memory         uint32 `env:"MEMORY_KB"`
	Time           uint32 `env:"TIME"`
	Parallelism    uint8  `env:"PARALLELISM"`
	SaltLength     uint32 `env:"SALT_LENGTH"`
	KeyLength      uint32 `env:"KEY_LENGTH"`
	UpgradeOnLogin bool   `env:"UPGRADE_ON_LOGIN"`
}

func (c PasswordConfig) params() password.Params {
	return password.Params{
		Memory:      c.Memory,
		Time:        c.Time,
		Parallelism: c.Parallelism,
		SaltLength:  c.SaltLength,
		KeyLength:   c.KeyLength,
	}
}

/*
====================================
SECURITY CONFIG
====================================
*/

type SecurityConfig struct {
	// RevokeAllOnRefreshReuse revokes every refresh token of an account when
	// an already-used refresh token is presented again.
	RevokeAllOnRefreshReuse bool          `env:"REVOKE_ALL_ON_REFRESH_REUSE"`
	MaxLoginFailuresPerIP   int           `env:"MAX_LOGIN_FAILURES_PER_IP"`
	LoginIPWindow           time.Duration `env:"LOGIN_IP_WINDOW"`
	RedisPrefix             string        `env:"REDIS_PREFIX"`
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool `env:"ENABLED"`
	BufferSize int  `env:"BUFFER_SIZE"`
	DropIfFull bool `env:"DROP_IF_FULL"`
}

type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"LATENCY_HISTOGRAMS"`
}

// DefaultConfig returns the documented defaults. JWT.PrivateKey is left
// empty on purpose and Validate rejects it until set.
func DefaultConfig() Config {
	p := password.DefaultParams()
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: string(jwt.MethodHS256),
			ClockSkew:     30 * time.Second,
		},
		Lockout: LockoutConfig{
			Threshold:  5,
			Window:     15 * time.Minute,
			MaxRetries: 32,
		},
		PasswordReset: PasswordResetConfig{
			Enabled:             true,
			TTL:                 30 * time.Minute,
			MaxAttempts:         5,
			RevokeSessions:      true,
			MinDelay:            20 * time.Millisecond,
			MaxDelay:            40 * time.Millisecond,
			MaxRequestsPerEmail: 3,
			MaxRequestsPerIP:    20,
			RequestWindow:       time.Hour,
		},
		Password: PasswordConfig{
			MinLength:      10,
			MaxLength:      1024,
			Memory:         p.Memory,
			Time:           p.Time,
			Parallelism:    p.Parallelism,
			SaltLength:     p.SaltLength,
			KeyLength:      p.KeyLength,
			UpgradeOnLogin: true,
		},
		Security: SecurityConfig{
			RevokeAllOnRefreshReuse: false,
			MaxLoginFailuresPerIP:   100,
			LoginIPWindow:           15 * time.Minute,
			RedisPrefix:             "ac",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

// LoadConfigFromEnv overlays AUTH_* environment variables on DefaultConfig
// and validates the result.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	switch jwt.SigningMethod(c.JWT.SigningMethod) {
	case jwt.MethodHS256:
		if len(c.JWT.PrivateKey) < jwt.MinHMACKeyBytes {
			return fmt.Errorf("JWT hs256 secret must be at least %d bytes", jwt.MinHMACKeyBytes)
		}
	case jwt.MethodEd25519:
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("JWT ed25519 requires PrivateKey")
		}
	default:
		return fmt.Errorf("unsupported JWT signing method %q", c.JWT.SigningMethod)
	}
	if c.JWT.ClockSkew < 0 || c.JWT.ClockSkew > 2*time.Minute {
		return errors.New("JWT ClockSkew must be within [0, 2m]")
	}

	// Lockout
	if c.Lockout.Threshold < 1 {
		return errors.New("Lockout Threshold must be >= 1")
	}
	if c.Lockout.Window <= 0 {
		return errors.New("Lockout Window must be > 0")
	}
	if c.Lockout.MaxRetries < 1 {
		return errors.New("Lockout MaxRetries must be >= 1")
	}

	// Password
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}
	if err := c.Password.params().Validate(); err != nil {
		return err
	}

	// Password reset
	if c.PasswordReset.Enabled {
		if c.PasswordReset.TTL <= 0 || c.PasswordReset.TTL > time.Hour {
			return errors.New("PasswordReset TTL must be within (0, 1h]")
		}
		if c.PasswordReset.MaxAttempts < 1 || c.PasswordReset.MaxAttempts > 1000 {
			return errors.New("PasswordReset MaxAttempts must be within [1, 1000]")
		}
		if c.PasswordReset.MinDelay < 0 || c.PasswordReset.MaxDelay < c.PasswordReset.MinDelay {
			return errors.New("PasswordReset delay range is invalid")
		}
		if c.PasswordReset.MaxRequestsPerEmail < 0 || c.PasswordReset.MaxRequestsPerIP < 0 {
			return errors.New("PasswordReset request limits must be >= 0")
		}
		if (c.PasswordReset.MaxRequestsPerEmail > 0 || c.PasswordReset.MaxRequestsPerIP > 0) && c.PasswordReset.RequestWindow <= 0 {
			return errors.New("PasswordReset RequestWindow must be > 0 when request limits are set")
		}
	}

	// Security
	if c.Security.MaxLoginFailuresPerIP < 0 {
		return errors.New("Security MaxLoginFailuresPerIP must be >= 0")
	}
	if c.Security.MaxLoginFailuresPerIP > 0 && c.Security.LoginIPWindow <= 0 {
		return errors.New("Security LoginIPWindow must be > 0 when MaxLoginFailuresPerIP is set")
	}
	if c.Security.RedisPrefix == "" {
		return errors.New("Security RedisPrefix must not be empty")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	return nil
}

func (c JWTConfig) managerConfig() jwt.Config {
	return jwt.Config{
		AccessTTL:     c.AccessTTL,
		RefreshTTL:    c.RefreshTTL,
		SigningMethod: jwt.SigningMethod(c.SigningMethod),
		PrivateKey:    append([]byte(nil), c.PrivateKey...),
		PublicKey:     append([]byte(nil), c.PublicKey...),
		Issuer:        c.Issuer,
		Audience:      c.Audience,
		ClockSkew:     c.ClockSkew,
		KeyID:         c.KeyID,
	}
}
