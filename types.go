package authcore

import "time"

// RegisterRequest is the input of Engine.Register.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64,username"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required"`
}

// LoginRequest is the input of Engine.Login.
type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `validate:"required,max=4096"`
}

type resetRequest struct {
	Email string `validate:"required,email,max=254"`
}

type resetConfirmRequest struct {
	Token       string `validate:"required,max=256"`
	NewPassword string `validate:"required"`
}

// TokenPair is returned by Login and Refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// AccountInfo is the public view of an account.
type AccountInfo struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
}

// Principal is the identity proven by a valid access token.
type Principal struct {
	AccountID string    `json:"account_id"`
	Username  string    `json:"username"`
	TokenID   string    `json:"token_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
