package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/mailgrant/mailgrant/internal/authflow"
	"github.com/mailgrant/mailgrant/internal/broker"
	"github.com/mailgrant/mailgrant/internal/codec"
	"github.com/mailgrant/mailgrant/internal/ratelimit"
	"github.com/mailgrant/mailgrant/internal/session"
	"github.com/mailgrant/mailgrant/internal/upstream"
)

// Error codes in the JSON error envelope.
const (
	codeInvalidSession       = "invalid_session"
	codeOriginDenied         = "origin_denied"
	codeRateLimited          = "rate_limited"
	codeReauthorizeRequired  = "reauthorize_required"
	codeUpstreamGrantExpired = "upstream_grant_expired"
	codeUpstreamAuthError    = "upstream_auth_error"
	codeUpstreamError        = "upstream_error"
	codeInvalidState         = "invalid_state"
	codeInvalidRequest       = "invalid_request"
	codeInternal             = "internal_error"
)

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error      string `json:"error"`
	Detail     string `json:"detail,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps a broker error to its status code and error envelope.
// Rate-limit rejections additionally carry a Retry-After header.
func writeError(w http.ResponseWriter, err error) {
	var limitErr *ratelimit.LimitExceededError
	if errors.As(err, &limitErr) {
		w.Header().Set("Retry-After", strconv.Itoa(limitErr.RetryAfterSeconds))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:      codeRateLimited,
			Detail:     err.Error(),
			RetryAfter: limitErr.RetryAfterSeconds,
		})
		return
	}

	status, code := http.StatusInternalServerError, codeInternal
	switch {
	case errors.Is(err, session.ErrOriginDenied):
		status, code = http.StatusForbidden, codeOriginDenied
	case errors.Is(err, session.ErrMalformedToken), errors.Is(err, session.ErrExpired):
		status, code = http.StatusUnauthorized, codeInvalidSession
	case errors.Is(err, broker.ErrReauthorizeRequired):
		status, code = http.StatusUnauthorized, codeReauthorizeRequired
	case errors.Is(err, authflow.ErrCredentialExpired):
		status, code = http.StatusUnauthorized, codeUpstreamGrantExpired
	case errors.Is(err, authflow.ErrInvalidState):
		status, code = http.StatusBadRequest, codeInvalidState
	case errors.Is(err, codec.ErrInvalidDraft):
		status, code = http.StatusBadRequest, codeInvalidRequest
	case errors.Is(err, upstream.ErrAuthFailed):
		status, code = http.StatusBadGateway, codeUpstreamAuthError
	case errors.Is(err, upstream.ErrUnavailable):
		status, code = http.StatusBadGateway, codeUpstreamError
	}

	writeJSON(w, status, errorResponse{Error: code, Detail: err.Error()})
}

// writeInvalidRequest reports a malformed request body or parameter.
func writeInvalidRequest(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: codeInvalidRequest, Detail: detail})
}
