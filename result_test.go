package authcore

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestResultOfSuccess(t *testing.T) {
	res := ResultOf(AccountInfo{ID: "a1"}, nil)
	if !res.Success || res.Error != nil {
		t.Fatalf("expected success, got %+v", res)
	}
	if info, ok := res.Data.(AccountInfo); !ok || info.ID != "a1" {
		t.Fatalf("unexpected data %+v", res.Data)
	}
}

func TestResultOfMapsErrors(t *testing.T) {
	tests := []struct {
		err       error
		code      string
		transient bool
	}{
		{ErrInvalidCredentials, CodeInvalidCredentials, false},
		{&LockedOutError{RetryAfter: time.Minute}, CodeLockedOut, false},
		{ErrDuplicateIdentity, CodeDuplicateIdentity, false},
		{ErrTokenExpired, CodeTokenExpired, false},
		{ErrTokenSignatureInvalid, CodeTokenInvalid, false},
		{ErrTokenMalformed, CodeTokenInvalid, false},
		{ErrTokenPurposeMismatch, CodeTokenPurposeMismatch, false},
		{ErrAlreadyRevoked, CodeAlreadyRevoked, false},
		{ErrInvalidOrExpiredToken, CodeInvalidOrExpiredToken, false},
		{ErrAlreadyConsumed, CodeAlreadyConsumed, false},
		{ErrPasswordPolicy, CodePasswordPolicy, false},
		{&RateLimitedError{RetryAfter: time.Second}, CodeRateLimited, false},
		{ErrUnavailable, CodeUnavailable, true},
		{fmt.Errorf("wrapped: %w", ErrUnavailable), CodeUnavailable, true},
		{ErrEngineNotReady, CodeUnavailable, true},
	}
	for _, tc := range tests {
		res := ResultOf(nil, tc.err)
		if res.Success || res.Error == nil {
			t.Fatalf("%v: expected failure result", tc.err)
		}
		if res.Error.Code != tc.code {
			t.Fatalf("%v: expected code %s, got %s", tc.err, tc.code, res.Error.Code)
		}
		if res.Error.Transient != tc.transient {
			t.Fatalf("%v: expected transient=%v", tc.err, tc.transient)
		}
	}
}

func TestResultOfRetryAfterRoundsUp(t *testing.T) {
	res := ResultOf(nil, &LockedOutError{RetryAfter: 1500 * time.Millisecond})
	if res.Error.RetryAfterSeconds != 2 {
		t.Fatalf("expected 2 seconds, got %d", res.Error.RetryAfterSeconds)
	}
}

func TestResultOfHidesUnknownErrors(t *testing.T) {
	res := ResultOf(nil, errors.New("pq: connection refused to 10.0.0.5"))
	if res.Error.Code != CodeInternal {
		t.Fatalf("expected internal code, got %s", res.Error.Code)
	}
	if strings.Contains(res.Message, "10.0.0.5") {
		t.Fatalf("internal detail leaked: %q", res.Message)
	}
}

func TestResultOfCarriesFieldErrors(t *testing.T) {
	res := ResultOf(nil, &RequestError{Fields: map[string]string{"email": "is required"}})
	if res.Error.Code != CodeInvalidRequest {
		t.Fatalf("expected invalid_request, got %s", res.Error.Code)
	}
	if res.Error.Fields["email"] != "is required" {
		t.Fatalf("expected field errors, got %v", res.Error.Fields)
	}
}
