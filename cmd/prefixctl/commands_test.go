package main

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prefixd/internal/auth/token"
	"prefixd/internal/registry/attestation"
	id "prefixd/pkg/domain"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func keygen(t *testing.T) keyOutput {
	t.Helper()
	out, err := execute(t, "", "keygen")
	require.NoError(t, err)
	var k keyOutput
	require.NoError(t, json.Unmarshal([]byte(out), &k))
	return k
}

func TestKeygenSeedMatchesPrincipal(t *testing.T) {
	k := keygen(t)
	priv, err := loadKey(k.Seed)
	require.NoError(t, err)
	p, err := id.PrincipalFromPublicKey(priv.Public().(ed25519.PublicKey))
	require.NoError(t, err)
	assert.Equal(t, k.Principal, p.String())
}

func TestTokenIsBoundToRequest(t *testing.T) {
	k := keygen(t)
	body := `{"fee":10}`
	out, err := execute(t, body, "token", "--key", k.Seed, "--body", "-", "--method", "PUT", "--path", "/v1/registry/fee")
	require.NoError(t, err)
	raw := strings.TrimSpace(out)

	v := token.NewValidator(2*time.Minute, 5*time.Second)
	verified, err := v.Validate(raw, token.Request{Method: "PUT", Path: "/v1/registry/fee", Body: []byte(body)})
	require.NoError(t, err)
	assert.Equal(t, k.Principal, verified.Principal.String())

	for name, req := range map[string]token.Request{
		"other body":   {Method: "PUT", Path: "/v1/registry/fee", Body: []byte(`{"fee":11}`)},
		"other path":   {Method: "PUT", Path: "/v1/registry/pause", Body: []byte(body)},
		"other method": {Method: "POST", Path: "/v1/registry/fee", Body: []byte(body)},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Validate(raw, req)
			assert.Error(t, err)
		})
	}
}

func TestTokenRequiresPath(t *testing.T) {
	k := keygen(t)
	_, err := execute(t, "", "token", "--key", k.Seed)
	assert.Error(t, err)
}

func TestAttestProducesVerifiableOperation(t *testing.T) {
	k := keygen(t)
	out, err := execute(t, "metadata", "hash")
	require.NoError(t, err)
	digest := strings.TrimSpace(out)

	out, err = execute(t, "", "attest", "--key", k.Seed, "--hash", digest)
	require.NoError(t, err)
	var ops []attestation.Operation
	require.NoError(t, json.Unmarshal([]byte(out), &ops))
	require.NoError(t, attestation.Precheck(ops))

	owner, err := id.ParsePrincipal(k.Principal)
	require.NoError(t, err)
	hash, err := id.ParseHash(digest)
	require.NoError(t, err)
	assert.NoError(t, attestation.Verify(owner, hash, ops))
}

func TestLoadKeyRejectsBadSeed(t *testing.T) {
	_, err := loadKey(hex.EncodeToString([]byte("short")))
	assert.Error(t, err)
	_, err = loadKey("zz")
	assert.Error(t, err)
}
