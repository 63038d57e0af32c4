// Package jwt issues and verifies the signed access/refresh token pairs used
// by authcore.
//
// Verification is a pure function of the token, the configured keys and the
// manager clock. Each token carries a "typ" claim so an access token is never
// accepted where a refresh token is expected and vice versa. Failures are
// classified into ErrExpired, ErrSignatureInvalid, ErrPurposeMismatch,
// ErrClaimsInvalid and ErrMalformed.
package jwt
