package domain

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "prefixd/pkg/domain-errors"
)

// TestParsePrincipal_Invariants validates the parsing invariant:
// "principals are exactly 32 non-zero bytes"
func TestParsePrincipal_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParsePrincipal("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects short input", func(t *testing.T) {
		_, err := ParsePrincipal("abcd")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects non-hex characters", func(t *testing.T) {
		_, err := ParsePrincipal(strings.Repeat("zz", Size))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects zero principal", func(t *testing.T) {
		_, err := ParsePrincipal(strings.Repeat("00", Size))
		require.Error(t, err)
	})

	t.Run("accepts public key hex with optional 0x", func(t *testing.T) {
		pub, _, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		want, err := PrincipalFromPublicKey(pub)
		require.NoError(t, err)

		got, err := ParsePrincipal("0x" + want.String())
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, []byte(pub), []byte(got.PublicKey()))
	})
}

func TestParseHash(t *testing.T) {
	t.Run("wrong length carries the metadata hash code", func(t *testing.T) {
		_, err := ParseHash(strings.Repeat("ab", 31))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidMetadataHashLength))
	})

	t.Run("zero hash is allowed", func(t *testing.T) {
		h, err := ParseHash(strings.Repeat("00", Size))
		require.NoError(t, err)
		assert.True(t, h.IsZero())
	})

	t.Run("from bytes requires 32 bytes", func(t *testing.T) {
		_, err := HashFromBytes(make([]byte, 31))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidMetadataHashLength))
	})
}

func TestJSONTextEncoding(t *testing.T) {
	type payload struct {
		Owner Principal `json:"owner"`
		Hash  Hash      `json:"hash"`
	}
	in := payload{Owner: Principal{1, 2, 3}, Hash: Hash{9}}
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(raw), in.Owner.String())

	var out payload
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in, out)
}
