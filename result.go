package authcore

import (
	"errors"
	"math"
)

// Result is the transport-neutral response shape of every operation.
type Result struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Data    any          `json:"data,omitempty"`
	Error   *ResultError `json:"error,omitempty"`
}

// ResultError carries a stable code for clients. It never contains
// internal error text.
type ResultError struct {
	Code              string            `json:"code"`
	RetryAfterSeconds int               `json:"retry_after_seconds,omitempty"`
	Transient         bool              `json:"transient,omitempty"`
	Fields            map[string]string `json:"fields,omitempty"`
}

// Error codes reported in ResultError.Code.
const (
	CodeInvalidCredentials    = "invalid_credentials"
	CodeLockedOut             = "locked_out"
	CodeDuplicateIdentity     = "duplicate_identity"
	CodeTokenExpired          = "token_expired"
	CodeTokenInvalid          = "token_invalid"
	CodeTokenPurposeMismatch  = "token_purpose_mismatch"
	CodeAlreadyRevoked        = "already_revoked"
	CodeInvalidOrExpiredToken = "invalid_or_expired_token"
	CodeAlreadyConsumed       = "already_consumed"
	CodePasswordPolicy        = "password_policy"
	CodeInvalidRequest        = "invalid_request"
	CodeRateLimited           = "rate_limited"
	CodeUnavailable           = "unavailable"
	CodeInternal              = "internal_error"
)

type resultMapping struct {
	target    error
	code      string
	message   string
	transient bool
}

var resultMappings = []resultMapping{
	{ErrInvalidCredentials, CodeInvalidCredentials, "Invalid username or password.", false},
	{ErrLockedOut, CodeLockedOut, "Too many failed attempts. Try again later.", false},
	{ErrDuplicateIdentity, CodeDuplicateIdentity, "Username or email is already registered.", false},
	{ErrTokenExpired, CodeTokenExpired, "Token has expired.", false},
	{ErrTokenSignatureInvalid, CodeTokenInvalid, "Token is invalid.", false},
	{ErrTokenMalformed, CodeTokenInvalid, "Token is invalid.", false},
	{ErrTokenPurposeMismatch, CodeTokenPurposeMismatch, "Token cannot be used for this operation.", false},
	{ErrAlreadyRevoked, CodeAlreadyRevoked, "Token has already been used or revoked.", false},
	{ErrInvalidOrExpiredToken, CodeInvalidOrExpiredToken, "Reset link is invalid or has expired.", false},
	{ErrAlreadyConsumed, CodeAlreadyConsumed, "Reset link has already been used.", false},
	{ErrPasswordPolicy, CodePasswordPolicy, "Password does not meet the password policy.", false},
	{ErrInvalidRequest, CodeInvalidRequest, "Request is invalid.", false},
	{ErrRateLimited, CodeRateLimited, "Too many requests. Try again later.", false},
	{ErrUnavailable, CodeUnavailable, "Service temporarily unavailable. Please retry.", true},
	{ErrEngineNotReady, CodeUnavailable, "Service temporarily unavailable. Please retry.", true},
}

// ResultOf converts an operation outcome into a Result. Unknown errors map
// to a generic internal error.
func ResultOf(data any, err error) Result {
	if err == nil {
		return Result{Success: true, Message: "OK", Data: data}
	}

	res := Result{
		Message: "Something went wrong.",
		Error:   &ResultError{Code: CodeInternal},
	}
	for _, m := range resultMappings {
		if errors.Is(err, m.target) {
			res.Message = m.message
			res.Error.Code = m.code
			res.Error.Transient = m.transient
			break
		}
	}
	if d, ok := RetryAfter(err); ok {
		res.Error.RetryAfterSeconds = int(math.Ceil(d.Seconds()))
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		res.Error.Fields = reqErr.Fields
	}
	return res
}
