// Package token issues and validates principal-signed request tokens.
//
// A request token is an EdDSA JWT signed with the principal's own Ed25519 key. The
// subject is the principal in hex, so the verification key is the subject itself. The
// "req" claim binds the token to the request method and path, "bdy" to the SHA-256 of
// the exact request body, and the jti makes every token single use (see package
// replay).
package token

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "prefixd/pkg/domain"
	dErrors "prefixd/pkg/domain-errors"
)

// Claims are the claims carried by a request token.
type Claims struct {
	RequestLine string `json:"req"`
	BodyHash    string `json:"bdy"`
	jwt.RegisteredClaims
}

// Verified is the result of a successful validation.
type Verified struct {
	Principal id.Principal
	JTI       string
	ExpiresAt time.Time
}

// Request is what a token is minted for.
type Request struct {
	Method string
	Path   string
	Body   []byte
}

// RequestLine is the value expected in the req claim, e.g. "POST /v1/prefixes/ACME/recover".
func RequestLine(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// BodyHash returns the hex SHA-256 of body, the value expected in the bdy claim.
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Issue signs a token for req that expires ttl after now.
func Issue(priv ed25519.PrivateKey, req Request, now time.Time, ttl time.Duration) (string, error) {
	principal, err := id.PrincipalFromPublicKey(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return "", err
	}
	t := jwt.NewWithClaims(jwt.SigningMethodEdDSA, Claims{
		RequestLine: RequestLine(req.Method, req.Path),
		BodyHash:    BodyHash(req.Body),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	})
	return t.SignedString(priv)
}

// Validator checks request tokens.
type Validator struct {
	maxAge time.Duration
	skew   time.Duration
	clock  func() time.Time
}

type Option func(*Validator)

func WithClock(clock func() time.Time) Option {
	return func(v *Validator) {
		if clock != nil {
			v.clock = clock
		}
	}
}

// NewValidator rejects tokens whose lifetime exceeds maxAge; skew is the tolerated
// clock drift on iat and exp.
func NewValidator(maxAge, skew time.Duration, opts ...Option) *Validator {
	v := &Validator{maxAge: maxAge, skew: skew, clock: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate verifies raw against the request it arrived on.
func (v *Validator) Validate(raw string, req Request) (*Verified, error) {
	var principal id.Principal
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		sub, err := t.Claims.GetSubject()
		if err != nil {
			return nil, err
		}
		principal, err = id.ParsePrincipal(sub)
		if err != nil {
			return nil, err
		}
		return principal.PublicKey(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.skew),
		jwt.WithTimeFunc(v.clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	if claims.ID == "" || claims.IssuedAt == nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token requires jti and iat")
	}
	if claims.ExpiresAt.Sub(claims.IssuedAt.Time) > v.maxAge {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token lifetime too long")
	}
	if claims.RequestLine != RequestLine(req.Method, req.Path) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token does not match request method and path")
	}
	if subtle.ConstantTimeCompare([]byte(claims.BodyHash), []byte(BodyHash(req.Body))) != 1 {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token does not match request body")
	}
	return &Verified{Principal: principal, JTI: claims.ID, ExpiresAt: claims.ExpiresAt.Time}, nil
}
