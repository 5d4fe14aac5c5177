package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "prefixd/pkg/domain"
	dErrors "prefixd/pkg/domain-errors"
	"prefixd/pkg/platform/sentinel"
	"prefixd/pkg/requestcontext"
)

// fakeValidator accepts tokens of the form "<principal byte>:<path>:<body>" on POST.
type fakeValidator struct{}

func (fakeValidator) ValidateToken(raw string, req SignedRequest) (*SignerClaims, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 || len(parts[0]) != 1 || req.Method != http.MethodPost || parts[1] != req.Path || parts[2] != string(req.Body) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	who := parts[0]
	return &SignerClaims{Principal: id.Principal{who[0]}, JTI: raw, ExpiresAt: time.Now().Add(time.Minute)}, nil
}

type fakeReplay struct {
	seen map[string]bool
	err  error
}

func (f *fakeReplay) Claim(_ context.Context, jti string, _ time.Duration) error {
	if f.err != nil {
		return f.err
	}
	if f.seen[jti] {
		return sentinel.ErrAlreadyUsed
	}
	f.seen[jti] = true
	return nil
}

type countingRecorder struct{ reasons []string }

func (c *countingRecorder) IncrementAuthFailure(reason string) { c.reasons = append(c.reasons, reason) }

type captured struct {
	signer, cosigner id.Principal
	hasCosigner      bool
	body             string
}

func newHandler(replay ReplayGuard, rec FailureRecorder, got *captured) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return RequireSigner(fakeValidator{}, replay, rec, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.signer, _ = requestcontext.Principal(r.Context())
		got.cosigner, got.hasCosigner = requestcontext.Cosigner(r.Context())
		b, _ := io.ReadAll(r.Body)
		got.body = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
}

func post(body, token, cosigner string) *http.Request {
	return postTo("/", body, token, cosigner)
}

func postTo(path, body, token, cosigner string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	if cosigner != "" {
		r.Header.Set(HeaderCosigner, cosigner)
	}
	return r
}

func TestRequireSigner(t *testing.T) {
	t.Run("valid signer reaches the handler with the body intact", func(t *testing.T) {
		var got captured
		h := newHandler(&fakeReplay{seen: map[string]bool{}}, nil, &got)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, post(`{"a":1}`, `A:/:{"a":1}`, ""))

		require.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, id.Principal{'A'}, got.signer)
		assert.False(t, got.hasCosigner)
		assert.Equal(t, `{"a":1}`, got.body)
	})

	t.Run("cosigner is recorded", func(t *testing.T) {
		var got captured
		h := newHandler(&fakeReplay{seen: map[string]bool{}}, nil, &got)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, post(`x`, `A:/:x`, `B:/:x`))

		require.Equal(t, http.StatusNoContent, w.Code)
		assert.True(t, got.hasCosigner)
		assert.Equal(t, id.Principal{'B'}, got.cosigner)
	})

	t.Run("rejections", func(t *testing.T) {
		cases := []struct {
			name     string
			req      *http.Request
			reason   string
			replayed bool
		}{
			{"missing header", post(`x`, "", ""), "missing_token", false},
			{"body tampered", post(`y`, `A:/:x`, ""), "invalid_signer", false},
			{"bad cosigner", post(`x`, `A:/:x`, `B:/:y`), "invalid_cosigner", false},
			{"token for another path", postTo("/prefixes/OTHER/recover", `x`, `A:/prefixes/LOST/recover:x`, ""), "invalid_signer", false},
			{"cosignature for another path", postTo("/prefixes/OTHER/recover", `x`, `A:/prefixes/OTHER/recover:x`, `B:/prefixes/LOST/recover:x`), "invalid_cosigner", false},
			{"replayed token", post(`x`, `A:/:x`, ""), "invalid_signer", true},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				replay := &fakeReplay{seen: map[string]bool{}}
				if tc.replayed {
					replay.seen["A:/:x"] = true
				}
				rec := &countingRecorder{}
				var got captured
				w := httptest.NewRecorder()
				newHandler(replay, rec, &got).ServeHTTP(w, tc.req)

				assert.Equal(t, http.StatusUnauthorized, w.Code)
				assert.Equal(t, []string{tc.reason}, rec.reasons)
				assert.True(t, got.signer.IsZero())
			})
		}
	})

	t.Run("replay store failure is internal", func(t *testing.T) {
		var got captured
		w := httptest.NewRecorder()
		newHandler(&fakeReplay{err: errors.New("redis down")}, nil, &got).ServeHTTP(w, post(`x`, `A:/:x`, ""))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("oversized body", func(t *testing.T) {
		var got captured
		w := httptest.NewRecorder()
		body := strings.Repeat("a", 64<<10+1)
		newHandler(nil, nil, &got).ServeHTTP(w, post(body, "A:/:"+body, ""))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
