// Package auth authenticates request signers. Every mutating request carries a token
// signed by its principal and bound to the request body; recovery requests carry a
// second token from the cosigning principal.
package auth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	id "prefixd/pkg/domain"
	dErrors "prefixd/pkg/domain-errors"
	"prefixd/pkg/platform/httputil"
	"prefixd/pkg/platform/sentinel"
	"prefixd/pkg/requestcontext"
)

const HeaderCosigner = "X-Cosigner-Token"

// SignerClaims is what a validated token proves.
type SignerClaims struct {
	Principal id.Principal
	JTI       string
	ExpiresAt time.Time
}

// SignedRequest is the part of a request a token must cover.
type SignedRequest struct {
	Method string
	Path   string
	Body   []byte
}

// TokenValidator verifies a raw token against the exact request it arrived on.
type TokenValidator interface {
	ValidateToken(raw string, req SignedRequest) (*SignerClaims, error)
}

// ReplayGuard claims a jti once; a second claim returns sentinel.ErrAlreadyUsed.
type ReplayGuard interface {
	Claim(ctx context.Context, jti string, ttl time.Duration) error
}

// FailureRecorder counts rejected requests by reason.
type FailureRecorder interface {
	IncrementAuthFailure(reason string)
}

type authenticator struct {
	validator TokenValidator
	replay    ReplayGuard
	failures  FailureRecorder
	logger    *slog.Logger
}

// RequireSigner rejects requests without a valid, unused signer token and stores the
// signer (and cosigner, when present) in the request context.
func RequireSigner(validator TokenValidator, replay ReplayGuard, failures FailureRecorder, logger *slog.Logger) func(http.Handler) http.Handler {
	a := &authenticator{validator: validator, replay: replay, failures: failures, logger: logger}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			body, err := io.ReadAll(io.LimitReader(r.Body, httputil.MaxBodyBytes+1))
			if err != nil || len(body) > httputil.MaxBodyBytes {
				httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "request body too large or unreadable"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			signed := SignedRequest{Method: r.Method, Path: r.URL.Path, Body: body}

			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				a.reject(ctx, w, "missing_token", dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}
			signer, err := a.check(ctx, raw, signed)
			if err != nil {
				a.fail(ctx, w, "signer", err)
				return
			}
			ctx = requestcontext.WithPrincipal(ctx, signer.Principal)

			if raw := strings.TrimSpace(r.Header.Get(HeaderCosigner)); raw != "" {
				cosigner, err := a.check(ctx, raw, signed)
				if err != nil {
					a.fail(ctx, w, "cosigner", err)
					return
				}
				ctx = requestcontext.WithCosigner(ctx, cosigner.Principal)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *authenticator) check(ctx context.Context, raw string, req SignedRequest) (*SignerClaims, error) {
	claims, err := a.validator.ValidateToken(raw, req)
	if err != nil {
		return nil, err
	}
	if a.replay != nil {
		ttl := claims.ExpiresAt.Sub(requestcontext.Now(ctx)) + time.Minute
		if err := a.replay.Claim(ctx, claims.JTI, ttl); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return nil, dErrors.New(dErrors.CodeUnauthorized, "token has already been used")
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check token replay")
		}
	}
	return claims, nil
}

func (a *authenticator) fail(ctx context.Context, w http.ResponseWriter, which string, err error) {
	if dErrors.HasCode(err, dErrors.CodeInternal) {
		a.logger.ErrorContext(ctx, "token replay check failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	a.reject(ctx, w, "invalid_"+which, err)
}

func (a *authenticator) reject(ctx context.Context, w http.ResponseWriter, reason string, err error) {
	if a.failures != nil {
		a.failures.IncrementAuthFailure(reason)
	}
	a.logger.WarnContext(ctx, "unauthorized request",
		"reason", reason,
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
	if !dErrors.HasCode(err, dErrors.CodeUnauthorized) {
		err = dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	httputil.WriteError(w, err)
}
