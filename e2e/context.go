package e2e

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"prefixd/internal/auth/token"
	"prefixd/internal/registry/attestation"
	id "prefixd/pkg/domain"
	authmw "prefixd/pkg/platform/middleware/auth"
)

const (
	envBaseURL  = "E2E_BASE_URL"
	envAdminKey = "E2E_ADMIN_KEY"

	defaultBaseURL = "http://localhost:8080"
	tokenTTL       = time.Minute
)

// actor is a named principal taking part in a scenario.
type actor struct {
	principal id.Principal
	key       ed25519.PrivateKey
}

// TestContext carries one scenario's HTTP client, actors and last response.
type TestContext struct {
	baseURL  string
	client   *http.Client
	adminKey ed25519.PrivateKey

	actors   map[string]actor
	prefixes map[string]string

	lastRequest *sentRequest
	lastStatus  int
	lastBody    []byte
	lastHeaders http.Header
}

type sentRequest struct {
	method  string
	path    string
	body    []byte
	headers map[string]string
}

// sharedAdmin is generated once per run when E2E_ADMIN_KEY is unset, so every
// scenario acts as the admin that the first one initialized the registry with.
var sharedAdmin = sync.OnceValues(func() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	return priv, err
})

// NewTestContext reads the target from E2E_BASE_URL and the admin seed from
// E2E_ADMIN_KEY. Without an admin seed the run initializes a fresh registry with a
// generated admin.
func NewTestContext() (*TestContext, error) {
	baseURL := strings.TrimRight(os.Getenv(envBaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	tc := &TestContext{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		actors:   make(map[string]actor),
		prefixes: make(map[string]string),
	}
	if seed := os.Getenv(envAdminKey); seed != "" {
		raw, err := hex.DecodeString(seed)
		if err != nil || len(raw) != ed25519.SeedSize {
			return nil, fmt.Errorf("%s must be a %d-byte hex seed", envAdminKey, ed25519.SeedSize)
		}
		tc.adminKey = ed25519.NewKeyFromSeed(raw)
		return tc, nil
	}
	key, err := sharedAdmin()
	if err != nil {
		return nil, err
	}
	tc.adminKey = key
	return tc, nil
}

// Actor returns the principal registered under name, generating a key on first use.
// The name "admin" always resolves to the run's admin key.
func (tc *TestContext) Actor(name string) (id.Principal, error) {
	a, err := tc.actor(name)
	return a.principal, err
}

func (tc *TestContext) actor(name string) (actor, error) {
	if a, ok := tc.actors[name]; ok {
		return a, nil
	}
	var priv ed25519.PrivateKey
	if name == "admin" {
		priv = tc.adminKey
	} else {
		var err error
		if _, priv, err = ed25519.GenerateKey(rand.Reader); err != nil {
			return actor{}, err
		}
	}
	p, err := id.PrincipalFromPublicKey(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return actor{}, err
	}
	a := actor{principal: p, key: priv}
	tc.actors[name] = a
	return a, nil
}

// Prefix maps a scenario alias to a unique prefix so scenarios never collide on a
// shared server.
func (tc *TestContext) Prefix(alias string) (string, error) {
	if p, ok := tc.prefixes[alias]; ok {
		return p, nil
	}
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	var sb strings.Builder
	sb.WriteString(strings.ToUpper(alias))
	for sb.Len() < 12 {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", err
		}
		sb.WriteByte(alphabet[n.Int64()])
	}
	p := sb.String()[:12]
	tc.prefixes[alias] = p
	return p, nil
}

// Attest builds the Ed25519 attestation of name over digest.
func (tc *TestContext) Attest(name string, digest id.Hash) ([]attestation.Operation, error) {
	a, err := tc.actor(name)
	if err != nil {
		return nil, err
	}
	return []attestation.Operation{attestation.NewEd25519Operation(a.key, digest[:])}, nil
}

func (tc *TestContext) GET(path string, headers map[string]string) error {
	return tc.do(http.MethodGet, path, nil, headers)
}

func (tc *TestContext) POST(path string, body any) error {
	return tc.send(http.MethodPost, path, body, "", "")
}

// Signed sends body signed by the named actor.
func (tc *TestContext) Signed(method, path, signer string, body any) error {
	return tc.send(method, path, body, signer, "")
}

// Cosigned sends body signed by signer and countersigned by cosigner.
func (tc *TestContext) Cosigned(method, path, signer, cosigner string, body any) error {
	return tc.send(method, path, body, signer, cosigner)
}

func (tc *TestContext) send(method, path string, body any, signer, cosigner string) error {
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return err
		}
	}
	headers := map[string]string{"Content-Type": "application/json"}
	if signer != "" {
		tok, err := tc.token(signer, method, path, raw)
		if err != nil {
			return err
		}
		headers["Authorization"] = "Bearer " + tok
	}
	if cosigner != "" {
		tok, err := tc.token(cosigner, method, path, raw)
		if err != nil {
			return err
		}
		headers[authmw.HeaderCosigner] = tok
	}
	return tc.do(method, path, raw, headers)
}

func (tc *TestContext) token(name, method, path string, body []byte) (string, error) {
	a, err := tc.actor(name)
	if err != nil {
		return "", err
	}
	req := token.Request{Method: method, Path: path, Body: body}
	return token.Issue(a.key, req, time.Now(), tokenTTL)
}

// Replay resends the last request byte for byte, tokens included.
func (tc *TestContext) Replay() error {
	if tc.lastRequest == nil {
		return fmt.Errorf("no request to replay")
	}
	r := tc.lastRequest
	return tc.do(r.method, r.path, r.body, r.headers)
}

// RawSigned sends body to path with a token that signer minted over
// signedBody for signedPath.
func (tc *TestContext) RawSigned(method, path, signedPath, signer string, body, signedBody []byte) error {
	tok, err := tc.token(signer, method, signedPath, signedBody)
	if err != nil {
		return err
	}
	return tc.do(method, path, body, map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + tok,
	})
}

func (tc *TestContext) do(method, path string, body []byte, headers map[string]string) error {
	tc.lastRequest = &sentRequest{method: method, path: path, body: body, headers: headers}
	req, err := http.NewRequest(method, tc.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	tc.lastStatus = resp.StatusCode
	tc.lastHeaders = resp.Header
	tc.lastBody, err = io.ReadAll(resp.Body)
	return err
}

func (tc *TestContext) GetLastResponseStatus() int { return tc.lastStatus }
func (tc *TestContext) GetLastResponseBody() []byte { return tc.lastBody }
func (tc *TestContext) GetLastResponseHeader(k string) string { return tc.lastHeaders.Get(k) }

// GetResponseField returns a top-level field of the last JSON response.
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var m map[string]any
	if err := json.Unmarshal(tc.lastBody, &m); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	v, ok := m[field]
	if !ok {
		return nil, fmt.Errorf("field %q not present in response %s", field, tc.lastBody)
	}
	return v, nil
}
