package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/getsentry/sentry-go"

	"github.com/labelforge/authcore"
	"github.com/labelforge/authcore/middleware"
)

const maxBodyBytes = 1 << 20

var errInternal = errors.New("internal error")

// AuthHandler handles the auth endpoints.
type AuthHandler struct {
	engine *authcore.Engine
	logger *slog.Logger
}

type refreshTokenBody struct {
	RefreshToken string `json:"refresh_token"`
}

type resetRequestBody struct {
	Email string `json:"email"`
}

type resetConfirmBody struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type logoutAllResponse struct {
	Revoked int `json:"revoked"`
}

// Register handles POST /api/v1/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req authcore.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	info, err := h.engine.Register(r.Context(), req)
	h.respond(w, r, http.StatusCreated, info, err)
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req authcore.LoginRequest
	if !decode(w, r, &req) {
		return
	}
	pair, err := h.engine.Login(r.Context(), req)
	h.respond(w, r, http.StatusOK, pair, err)
}

// Refresh handles POST /api/v1/auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshTokenBody
	if !decode(w, r, &req) {
		return
	}
	pair, err := h.engine.Refresh(r.Context(), req.RefreshToken)
	h.respond(w, r, http.StatusOK, pair, err)
}

// Logout handles POST /api/v1/auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshTokenBody
	if !decode(w, r, &req) {
		return
	}
	err := h.engine.Logout(r.Context(), req.RefreshToken)
	h.respond(w, r, http.StatusOK, nil, err)
}

// LogoutAll handles POST /api/v1/auth/logout-all.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	var req refreshTokenBody
	if !decode(w, r, &req) {
		return
	}
	n, err := h.engine.LogoutAll(r.Context(), req.RefreshToken)
	h.respond(w, r, http.StatusOK, logoutAllResponse{Revoked: n}, err)
}

// RequestPasswordReset handles POST /api/v1/auth/password-reset/request.
// The response is 202 whether or not the address is registered.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequestBody
	if !decode(w, r, &req) {
		return
	}
	err := h.engine.RequestPasswordReset(r.Context(), req.Email)
	h.respond(w, r, http.StatusAccepted, nil, err)
}

// ConfirmPasswordReset handles POST /api/v1/auth/password-reset/confirm.
func (h *AuthHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmBody
	if !decode(w, r, &req) {
		return
	}
	err := h.engine.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword)
	h.respond(w, r, http.StatusOK, nil, err)
}

// Me handles GET /api/v1/me behind the access-token guard.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		h.respond(w, r, http.StatusOK, nil, authcore.ErrTokenMalformed)
		return
	}
	h.respond(w, r, http.StatusOK, p, nil)
}

func (h *AuthHandler) respond(w http.ResponseWriter, r *http.Request, okStatus int, data any, err error) {
	res := authcore.ResultOf(data, err)
	if err == nil {
		writeJSON(w, okStatus, res)
		return
	}

	status := statusFor(res.Error.Code)
	if status >= http.StatusInternalServerError {
		sentry.CaptureException(err)
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("code", res.Error.Code),
		)
	}
	if res.Error.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(res.Error.RetryAfterSeconds))
	}
	writeJSON(w, status, res)
}

func statusFor(code string) int {
	switch code {
	case authcore.CodeInvalidRequest, authcore.CodeInvalidOrExpiredToken:
		return http.StatusBadRequest
	case authcore.CodeInvalidCredentials, authcore.CodeTokenExpired, authcore.CodeTokenInvalid,
		authcore.CodeTokenPurposeMismatch, authcore.CodeAlreadyRevoked:
		return http.StatusUnauthorized
	case authcore.CodeLockedOut:
		return http.StatusLocked
	case authcore.CodeDuplicateIdentity:
		return http.StatusConflict
	case authcore.CodeAlreadyConsumed:
		return http.StatusGone
	case authcore.CodePasswordPolicy:
		return http.StatusUnprocessableEntity
	case authcore.CodeRateLimited:
		return http.StatusTooManyRequests
	case authcore.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, authcore.ResultOf(nil, authcore.ErrInvalidRequest))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
