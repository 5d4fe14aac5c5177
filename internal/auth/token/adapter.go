package token

import authmw "prefixd/pkg/platform/middleware/auth"

// MiddlewareAdapter exposes a Validator to the signer middleware.
type MiddlewareAdapter struct {
	validator *Validator
}

func NewMiddlewareAdapter(v *Validator) *MiddlewareAdapter {
	return &MiddlewareAdapter{validator: v}
}

func (a *MiddlewareAdapter) ValidateToken(raw string, req authmw.SignedRequest) (*authmw.SignerClaims, error) {
	v, err := a.validator.Validate(raw, Request{Method: req.Method, Path: req.Path, Body: req.Body})
	if err != nil {
		return nil, err
	}
	return &authmw.SignerClaims{Principal: v.Principal, JTI: v.JTI, ExpiresAt: v.ExpiresAt}, nil
}
