package handler

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"prefixd/internal/auth/replay"
	"prefixd/internal/auth/token"
	"prefixd/internal/registry/attestation"
	"prefixd/internal/registry/models"
	"prefixd/internal/registry/service"
	"prefixd/internal/registry/store"
	id "prefixd/pkg/domain"
	"prefixd/pkg/platform/audit/publisher"
	auditmemory "prefixd/pkg/platform/audit/store/memory"
	authmw "prefixd/pkg/platform/middleware/auth"
	"prefixd/pkg/platform/middleware/request"
	"prefixd/pkg/platform/middleware/requesttime"
	"prefixd/pkg/testutil"
)

const testFee uint64 = 500

type HandlerSuite struct {
	suite.Suite
	router http.Handler
	now    time.Time

	admin    testutil.Signer
	verifier testutil.Signer
	owner    testutil.Signer
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.now = time.Unix(1_700_000_000, 0).UTC()
	clock := func() time.Time { return s.now }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := service.New(store.NewInMemory(),
		service.WithLogger(logger),
		service.WithAuditPublisher(publisher.New(auditmemory.NewInMemoryStore())),
	)
	validator := token.NewValidator(5*time.Minute, 30*time.Second, token.WithClock(clock))
	requireSigner := authmw.RequireSigner(token.NewMiddlewareAdapter(validator), replay.NewMemoryGuard(), nil, logger)

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(requesttime.WithClock(clock))
	New(svc, logger).Register(r, requireSigner)
	s.router = r

	s.admin = testutil.NewSigner(s.T())
	s.verifier = testutil.NewSigner(s.T())
	s.owner = testutil.NewSigner(s.T())

	s.expect(s.do(http.MethodPost, "/registry/initialize", map[string]any{"admin": s.admin.Principal, "fee": testFee}, &s.admin), http.StatusCreated)
	s.expect(s.do(http.MethodPost, "/registry/verifiers", map[string]any{"verifier": s.verifier.Principal}, &s.admin), http.StatusOK)
	s.expect(s.do(http.MethodPost, "/accounts/"+s.owner.Principal.String()+"/credit", map[string]any{"amount": 10_000}, &s.admin), http.StatusOK)
}

func (s *HandlerSuite) do(method, path string, body any, as *testutil.Signer) *httptest.ResponseRecorder {
	req := testutil.NewJSONRequest(s.T(), method, path, body)
	if as != nil {
		as.Sign(s.T(), req, s.now)
	}
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) expect(rr *httptest.ResponseRecorder, status int) {
	s.Require().Equal(status, rr.Code, rr.Body.String())
}

func (s *HandlerSuite) submitBody(as testutil.Signer, prefix string) map[string]any {
	hash := id.Hash{0x42}
	return map[string]any{
		"prefix":        prefix,
		"metadata_uri":  "https://example.com/meta.json",
		"metadata_hash": hex.EncodeToString(hash[:]),
		"attestations":  []attestation.Operation{attestation.NewEd25519Operation(as.Key, hash[:])},
	}
}

func (s *HandlerSuite) TestSubmitApproveAndRead() {
	rr := s.do(http.MethodPost, "/prefixes", s.submitBody(s.owner, "ACME"), &s.owner)
	s.expect(rr, http.StatusCreated)
	created := testutil.UnmarshalResponse[PrefixResponse](s.T(), rr)
	s.Equal(models.StatusPending, created.Status)
	s.Equal(testFee, created.FeePaid)
	s.Nil(created.RefHash)

	s.expect(s.do(http.MethodPost, "/prefixes/ACME/approve", map[string]any{"ref_hash": id.Hash{7}}, &s.verifier), http.StatusOK)

	rr = s.do(http.MethodGet, "/prefixes/acme", nil, nil)
	s.expect(rr, http.StatusOK)
	got := testutil.UnmarshalResponse[PrefixResponse](s.T(), rr)
	s.Equal(models.StatusActive, got.Status)
	s.Require().NotNil(got.RefHash)
	s.Equal(id.Hash{7}, *got.RefHash)

	rr = s.do(http.MethodGet, "/treasury", nil, nil)
	s.expect(rr, http.StatusOK)
	s.Equal(testFee, testutil.UnmarshalResponse[TreasuryResponse](s.T(), rr).Balance)
}

func (s *HandlerSuite) TestListPrefixesPaginates() {
	for _, p := range []string{"AAA", "BBB", "CCC"} {
		s.expect(s.do(http.MethodPost, "/prefixes", s.submitBody(s.owner, p), &s.owner), http.StatusCreated)
	}

	rr := s.do(http.MethodGet, "/prefixes?status=pending&limit=2", nil, nil)
	s.expect(rr, http.StatusOK)
	page := testutil.UnmarshalResponse[PrefixListResponse](s.T(), rr)
	s.Len(page.Prefixes, 2)
	s.Equal("BBB", page.Next)

	rr = s.do(http.MethodGet, "/prefixes?after="+page.Next, nil, nil)
	s.expect(rr, http.StatusOK)
	page = testutil.UnmarshalResponse[PrefixListResponse](s.T(), rr)
	s.Require().Len(page.Prefixes, 1)
	s.Equal("CCC", page.Prefixes[0].Prefix)
	s.Empty(page.Next)

	testutil.AssertStatusAndError(s.T(), s.do(http.MethodGet, "/prefixes?status=bogus", nil, nil), http.StatusBadRequest, "bad_request")
}

func (s *HandlerSuite) TestListPrefixesCursorFollowsClampedPageSize() {
	total := store.MaxPageSize + 1
	s.expect(s.do(http.MethodPost, "/accounts/"+s.owner.Principal.String()+"/credit", map[string]any{"amount": uint64(total) * testFee}, &s.admin), http.StatusOK)
	for i := 0; i < total; i++ {
		s.expect(s.do(http.MethodPost, "/prefixes", s.submitBody(s.owner, fmt.Sprintf("P%03d", i)), &s.owner), http.StatusCreated)
	}

	for _, query := range []string{"", "?limit=200"} {
		s.Run("query "+query, func() {
			rr := s.do(http.MethodGet, "/prefixes"+query, nil, nil)
			s.expect(rr, http.StatusOK)
			page := testutil.UnmarshalResponse[PrefixListResponse](s.T(), rr)
			s.Require().Len(page.Prefixes, store.MaxPageSize)
			s.Equal("P099", page.Next)

			sep := "?"
			if query != "" {
				sep = "&"
			}
			rr = s.do(http.MethodGet, "/prefixes"+query+sep+"after="+page.Next, nil, nil)
			s.expect(rr, http.StatusOK)
			page = testutil.UnmarshalResponse[PrefixListResponse](s.T(), rr)
			s.Require().Len(page.Prefixes, 1)
			s.Equal("P100", page.Prefixes[0].Prefix)
			s.Empty(page.Next)
		})
	}
}

func (s *HandlerSuite) TestAuthentication() {
	s.Run("missing token", func() {
		rr := s.do(http.MethodPut, "/registry/fee", map[string]any{"fee": 1}, nil)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
	})

	s.Run("token bound to a different body", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPut, "/registry/fee", map[string]any{"fee": 1})
		signedFor := testutil.NewJSONRequest(s.T(), http.MethodPut, "/registry/fee", map[string]any{"fee": 2})
		req.Header.Set("Authorization", "Bearer "+s.admin.Token(s.T(), signedFor, s.now))
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusUnauthorized, "unauthorized")
	})

	s.Run("replayed token", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPut, "/registry/fee", map[string]any{"fee": 9})
		s.admin.Sign(s.T(), req, s.now)
		replayed := req.Clone(req.Context())
		replayed.Body = testutil.NewJSONRequest(s.T(), http.MethodPut, "/registry/fee", map[string]any{"fee": 9}).Body

		s.expect(testutil.DoRequest(s.router, req), http.StatusOK)
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, replayed), http.StatusUnauthorized, "unauthorized")
	})

	s.Run("signed by a non-admin", func() {
		rr := s.do(http.MethodPut, "/registry/pause", map[string]any{"paused": true}, &s.owner)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "unauthorized_admin")
		errResp := testutil.UnmarshalErrorResponse(s.T(), s.do(http.MethodPut, "/registry/pause", map[string]any{"paused": true}, &s.owner))
		s.Equal(6000, errResp.Number)
	})
}

func (s *HandlerSuite) TestSubmitRejectsForgedAttestation() {
	body := s.submitBody(s.owner, "FORGE")
	op := attestation.NewEd25519Operation(s.owner.Key, []byte("something else"))
	op.Data[len(op.Data)-1] ^= 0xFF
	body["attestations"] = []attestation.Operation{op}

	rr := s.do(http.MethodPost, "/prefixes", body, &s.owner)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_ed25519_signature")
}

func (s *HandlerSuite) TestErrorMapping() {
	s.Run("unknown prefix", func() {
		testutil.AssertStatusAndError(s.T(), s.do(http.MethodGet, "/prefixes/NOPE", nil, nil), http.StatusNotFound, "not_found")
	})
	s.Run("malformed prefix", func() {
		testutil.AssertStatusAndError(s.T(), s.do(http.MethodGet, "/prefixes/A-B", nil, nil), http.StatusBadRequest, "invalid_prefix_format")
	})
	s.Run("unknown field", func() {
		testutil.AssertStatusAndError(s.T(), s.do(http.MethodPut, "/registry/fee", map[string]any{"cost": 1}, &s.admin), http.StatusBadRequest, "bad_request")
	})
	s.Run("paused registry", func() {
		s.expect(s.do(http.MethodPut, "/registry/pause", map[string]any{"paused": true}, &s.admin), http.StatusOK)
		rr := s.do(http.MethodPost, "/prefixes", s.submitBody(s.owner, "LATE"), &s.owner)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusLocked, "fee_operations_paused")
	})
	s.Run("already initialized", func() {
		rr := s.do(http.MethodPost, "/registry/initialize", map[string]any{"admin": s.owner.Principal, "fee": 1}, &s.owner)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "already_initialized")
	})
}

func (s *HandlerSuite) TestRecoverRequiresCosigner() {
	s.expect(s.do(http.MethodPost, "/prefixes", s.submitBody(s.owner, "LOST"), &s.owner), http.StatusCreated)
	heir := testutil.NewSigner(s.T())
	s.expect(s.do(http.MethodPost, "/accounts/"+heir.Principal.String()+"/credit", map[string]any{"amount": 1_000}, &s.admin), http.StatusOK)
	body := map[string]any{"new_owner": heir.Principal}

	rr := s.do(http.MethodPost, "/prefixes/LOST/recover", body, &s.admin)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "unauthorized_owner_action")

	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/prefixes/LOST/recover", body)
	s.admin.Sign(s.T(), req, s.now)
	heir.Cosign(s.T(), req, s.now)
	rr = testutil.DoRequest(s.router, req)
	s.expect(rr, http.StatusOK)
	s.Equal(heir.Principal, testutil.UnmarshalResponse[PrefixResponse](s.T(), rr).Owner)

	rr = s.do(http.MethodGet, "/accounts/"+heir.Principal.String(), nil, nil)
	s.expect(rr, http.StatusOK)
	s.Equal(uint64(1_000)-testFee, testutil.UnmarshalResponse[AccountResponse](s.T(), rr).Balance)
}

func (s *HandlerSuite) TestTokensAreBoundToMethodAndPath() {
	for _, p := range []string{"LOST", "OTHER"} {
		s.expect(s.do(http.MethodPost, "/prefixes", s.submitBody(s.owner, p), &s.owner), http.StatusCreated)
	}
	heir := testutil.NewSigner(s.T())
	s.expect(s.do(http.MethodPost, "/accounts/"+heir.Principal.String()+"/credit", map[string]any{"amount": 1_000}, &s.admin), http.StatusOK)
	body := map[string]any{"new_owner": heir.Principal}

	// redirect swaps the target of a signed request while keeping its tokens and body
	redirect := func(signed *http.Request, method, path string, payload any) *httptest.ResponseRecorder {
		moved := testutil.NewJSONRequest(s.T(), method, path, payload)
		moved.Header.Set("Authorization", signed.Header.Get("Authorization"))
		if cosig := signed.Header.Get(authmw.HeaderCosigner); cosig != "" {
			moved.Header.Set(authmw.HeaderCosigner, cosig)
		}
		return testutil.DoRequest(s.router, moved)
	}

	s.Run("recovery consent cannot be moved to another prefix", func() {
		signed := testutil.NewJSONRequest(s.T(), http.MethodPost, "/prefixes/LOST/recover", body)
		s.admin.Sign(s.T(), signed, s.now)
		heir.Cosign(s.T(), signed, s.now)

		rr := redirect(signed, http.MethodPost, "/prefixes/OTHER/recover", body)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")

		rr = s.do(http.MethodGet, "/prefixes/OTHER", nil, nil)
		s.expect(rr, http.StatusOK)
		s.Equal(s.owner.Principal, testutil.UnmarshalResponse[PrefixResponse](s.T(), rr).Owner)
		rr = s.do(http.MethodGet, "/accounts/"+heir.Principal.String(), nil, nil)
		s.Equal(uint64(1_000), testutil.UnmarshalResponse[AccountResponse](s.T(), rr).Balance)
	})

	s.Run("empty-body token cannot change action", func() {
		signed := testutil.NewJSONRequest(s.T(), http.MethodPost, "/prefixes/LOST/reactivate", nil)
		s.admin.Sign(s.T(), signed, s.now)

		rr := redirect(signed, http.MethodPost, "/prefixes/LOST/deactivate", nil)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
	})

}

func (s *HandlerSuite) TestRefundDeletesRecord() {
	s.expect(s.do(http.MethodPost, "/prefixes", s.submitBody(s.owner, "NOPE"), &s.owner), http.StatusCreated)
	s.expect(s.do(http.MethodPost, "/prefixes/NOPE/reject", map[string]any{"reason": "trademark"}, &s.verifier), http.StatusOK)

	rr := s.do(http.MethodPost, "/prefixes/NOPE/refund", nil, &s.owner)
	s.expect(rr, http.StatusOK)
	s.Zero(testutil.UnmarshalResponse[TreasuryResponse](s.T(), rr).Balance)
	testutil.AssertStatusAndError(s.T(), s.do(http.MethodGet, "/prefixes/NOPE", nil, nil), http.StatusNotFound, "not_found")
}
