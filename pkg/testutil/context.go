package testutil

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"prefixd/internal/auth/token"
	id "prefixd/pkg/domain"
	authmw "prefixd/pkg/platform/middleware/auth"
)

// Signer holds one principal's key pair for signing test requests.
type Signer struct {
	Principal id.Principal
	Key       ed25519.PrivateKey
}

func NewSigner(t *testing.T) Signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	p, err := id.PrincipalFromPublicKey(pub)
	require.NoError(t, err)
	return Signer{Principal: p, Key: priv}
}

// Token mints a token bound to the method, path and current body of req, valid
// for a minute from now.
func (s Signer) Token(t *testing.T, req *http.Request, now time.Time) string {
	t.Helper()
	raw, err := token.Issue(s.Key, token.Request{
		Method: req.Method,
		Path:   req.URL.Path,
		Body:   peekBody(t, req),
	}, now, time.Minute)
	require.NoError(t, err)
	return raw
}

func (s Signer) Sign(t *testing.T, req *http.Request, now time.Time) *http.Request {
	t.Helper()
	req.Header.Set("Authorization", "Bearer "+s.Token(t, req, now))
	return req
}

// Cosign sets the cosigner header, as a recovery target would.
func (s Signer) Cosign(t *testing.T, req *http.Request, now time.Time) *http.Request {
	t.Helper()
	req.Header.Set(authmw.HeaderCosigner, s.Token(t, req, now))
	return req
}

func peekBody(t *testing.T, req *http.Request) []byte {
	t.Helper()
	if req.Body == nil {
		return nil
	}
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	req.Body = io.NopCloser(bytes.NewReader(body))
	return body
}
