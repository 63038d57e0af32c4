package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/labelforge/authcore"
)

type principalContextKey struct{}

// PrincipalFromContext returns the principal stored by Guard.
func PrincipalFromContext(ctx context.Context) (authcore.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(authcore.Principal)
	return p, ok
}

// Guard rejects requests without a valid access token. The authenticated
// principal is stored in the request context.
func Guard(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				reject(w, authcore.ResultOf(nil, authcore.ErrTokenMalformed))
				return
			}

			p, err := engine.Authenticate(r.Context(), token)
			if err != nil {
				reject(w, authcore.ResultOf(nil, err))
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey{}, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func reject(w http.ResponseWriter, res authcore.Result) {
	status := http.StatusUnauthorized
	switch res.Error.Code {
	case authcore.CodeLockedOut:
		status = http.StatusLocked
	case authcore.CodeUnavailable:
		status = http.StatusServiceUnavailable
	}
	if res.Error.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(res.Error.RetryAfterSeconds))
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="authcore"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
