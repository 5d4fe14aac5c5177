// Package httputil writes JSON responses and maps domain error codes onto HTTP.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	dErrors "prefixd/pkg/domain-errors"
)

// MaxBodyBytes bounds every decoded request body.
const MaxBodyBytes = 64 << 10

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Number      int    `json:"error_number,omitempty"`
}

var statusByCode = map[dErrors.Code]int{
	dErrors.CodeBadRequest:                  http.StatusBadRequest,
	dErrors.CodeValidation:                  http.StatusBadRequest,
	dErrors.CodeInvalidInput:                http.StatusBadRequest,
	dErrors.CodeInvalidPrefixFormat:         http.StatusBadRequest,
	dErrors.CodeInvalidMetadataHashLength:   http.StatusBadRequest,
	dErrors.CodeInvalidMetadataURI:          http.StatusBadRequest,
	dErrors.CodeAuthorityKeysTooMany:        http.StatusBadRequest,
	dErrors.CodeInvalidEd25519Signature:     http.StatusBadRequest,
	dErrors.CodeMissingBump:                 http.StatusBadRequest,
	dErrors.CodeUnauthorized:                http.StatusUnauthorized,
	dErrors.CodeForbidden:                   http.StatusForbidden,
	dErrors.CodeUnauthorizedAdmin:           http.StatusForbidden,
	dErrors.CodeUnauthorizedVerifier:        http.StatusForbidden,
	dErrors.CodeUnauthorizedOwnerAction:     http.StatusForbidden,
	dErrors.CodeNotFound:                    http.StatusNotFound,
	dErrors.CodeConflict:                    http.StatusConflict,
	dErrors.CodePrefixAlreadyExists:         http.StatusConflict,
	dErrors.CodeInvalidPrefixStatus:         http.StatusConflict,
	dErrors.CodeAlreadyInitialized:          http.StatusConflict,
	dErrors.CodeNotInitialized:              http.StatusConflict,
	dErrors.CodeVerifierLimitReached:        http.StatusConflict,
	dErrors.CodeFeeOperationsPaused:         http.StatusLocked,
	dErrors.CodeInsufficientFee:             http.StatusUnprocessableEntity,
	dErrors.CodeInsufficientTreasuryBalance: http.StatusUnprocessableEntity,
	dErrors.CodeInvalidTreasuryAccount:      http.StatusUnprocessableEntity,
	dErrors.CodeRefundNotAllowed:            http.StatusUnprocessableEntity,
	dErrors.CodePrefixExpired:               http.StatusUnprocessableEntity,
	dErrors.CodeInvariantViolation:          http.StatusUnprocessableEntity,
	dErrors.CodeRateLimited:                 http.StatusTooManyRequests,
	dErrors.CodeTimeout:                     http.StatusGatewayTimeout,
	dErrors.CodeInternal:                    http.StatusInternalServerError,
}

// StatusFor returns the HTTP status for a domain code.
func StatusFor(code dErrors.Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to a status and error body. Internal errors never leak their
// message.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	resp := ErrorResponse{Error: string(code), Number: code.Number()}
	if de, ok := dErrors.From(err); ok && code != dErrors.CodeInternal {
		resp.Description = de.Message
	}
	WriteJSON(w, StatusFor(code), resp)
}

// Validatable is implemented by request bodies that normalize and check themselves.
type Validatable interface {
	Validate() error
}

// DecodeAndPrepare decodes the JSON body into T and validates it. On failure the error
// response is already written and ok is false.
func DecodeAndPrepare[T any, PT interface {
	*T
	Validatable
}](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (PT, bool) {
	req := PT(new(T))
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil && !errors.Is(err, io.EOF) {
		logger.WarnContext(ctx, "failed to decode request body",
			"error", err,
			"request_id", requestID,
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid json request body"))
		return nil, false
	}
	if err := req.Validate(); err != nil {
		WriteError(w, err)
		return nil, false
	}
	return req, true
}
