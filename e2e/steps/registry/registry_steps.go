package registry

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"strconv"

	"github.com/cucumber/godog"

	"prefixd/internal/registry/attestation"
	id "prefixd/pkg/domain"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string, headers map[string]string) error
	Signed(method, path, signer string, body any) error
	Cosigned(method, path, signer, cosigner string, body any) error
	Actor(name string) (id.Principal, error)
	Prefix(alias string) (string, error)
	Attest(name string, digest id.Hash) ([]attestation.Operation, error)
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
}

// RegisterSteps registers the prefix lifecycle step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &registrySteps{tc: tc}

	// Setup
	ctx.Step(`^the registry is initialized with fee (\d+)$`, steps.registryInitialized)
	ctx.Step(`^"([^"]*)" is an approved verifier$`, steps.approvedVerifier)
	ctx.Step(`^"([^"]*)" has been credited (\d+)$`, steps.credited)

	// Lifecycle
	ctx.Step(`^"([^"]*)" submits prefix "([^"]*)" with metadata "([^"]*)"$`, steps.submit)
	ctx.Step(`^"([^"]*)" submits prefix "([^"]*)" attested by "([^"]*)"$`, steps.submitAttestedBy)
	ctx.Step(`^"([^"]*)" approves prefix "([^"]*)"$`, steps.approve)
	ctx.Step(`^"([^"]*)" rejects prefix "([^"]*)" because "([^"]*)"$`, steps.reject)
	ctx.Step(`^"([^"]*)" requests a refund for prefix "([^"]*)"$`, steps.refund)
	ctx.Step(`^"([^"]*)" deactivates prefix "([^"]*)"$`, steps.deactivate)
	ctx.Step(`^"([^"]*)" recovers prefix "([^"]*)" for "([^"]*)"$`, steps.recover)
	ctx.Step(`^"([^"]*)" recovers prefix "([^"]*)" for "([^"]*)" without a cosignature$`, steps.recoverUncosigned)

	// Assertions
	ctx.Step(`^prefix "([^"]*)" should have status "([^"]*)"$`, steps.prefixStatus)
	ctx.Step(`^prefix "([^"]*)" should be owned by "([^"]*)"$`, steps.prefixOwner)
	ctx.Step(`^prefix "([^"]*)" should not exist$`, steps.prefixMissing)
	ctx.Step(`^the balance of "([^"]*)" should be (\d+)$`, steps.balance)
}

type registrySteps struct {
	tc TestContext
}

func (s *registrySteps) expect(status int) error {
	if got := s.tc.GetLastResponseStatus(); got != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, got, s.tc.GetLastResponseBody())
	}
	return nil
}

func (s *registrySteps) registryInitialized(ctx context.Context, fee int) error {
	admin, err := s.tc.Actor("admin")
	if err != nil {
		return err
	}
	if err := s.tc.GET("/v1/registry", nil); err != nil {
		return err
	}
	switch s.tc.GetLastResponseStatus() {
	case http.StatusConflict:
		body := map[string]any{"admin": admin, "fee": fee}
		if err := s.tc.Signed(http.MethodPost, "/v1/registry/initialize", "admin", body); err != nil {
			return err
		}
		return s.expect(http.StatusCreated)
	case http.StatusOK:
		current, err := s.tc.GetResponseField("admin")
		if err != nil {
			return err
		}
		if current != admin.String() {
			return fmt.Errorf("registry is administered by %v; set E2E_ADMIN_KEY to its seed", current)
		}
		if err := s.tc.Signed(http.MethodPut, "/v1/registry/fee", "admin", map[string]any{"fee": fee}); err != nil {
			return err
		}
		return s.expect(http.StatusOK)
	default:
		return s.expect(http.StatusOK)
	}
}

func (s *registrySteps) approvedVerifier(ctx context.Context, name string) error {
	p, err := s.tc.Actor(name)
	if err != nil {
		return err
	}
	if err := s.tc.Signed(http.MethodPost, "/v1/registry/verifiers", "admin", map[string]any{"verifier": p}); err != nil {
		return err
	}
	return s.expect(http.StatusOK)
}

func (s *registrySteps) credited(ctx context.Context, name string, amount int) error {
	p, err := s.tc.Actor(name)
	if err != nil {
		return err
	}
	path := "/v1/accounts/" + p.String() + "/credit"
	if err := s.tc.Signed(http.MethodPost, path, "admin", map[string]any{"amount": amount}); err != nil {
		return err
	}
	return s.expect(http.StatusOK)
}

func (s *registrySteps) submit(ctx context.Context, owner, alias, metadata string) error {
	return s.submitWith(owner, alias, metadata, owner)
}

func (s *registrySteps) submitAttestedBy(ctx context.Context, owner, alias, attester string) error {
	return s.submitWith(owner, alias, "forged", attester)
}

func (s *registrySteps) submitWith(owner, alias, metadata, attester string) error {
	key, err := s.tc.Prefix(alias)
	if err != nil {
		return err
	}
	digest := id.Hash(sha256.Sum256([]byte(metadata)))
	ops, err := s.tc.Attest(attester, digest)
	if err != nil {
		return err
	}
	body := map[string]any{
		"prefix":        key,
		"metadata_uri":  "https://example.com/" + key,
		"metadata_hash": digest.String(),
		"attestations":  ops,
	}
	return s.tc.Signed(http.MethodPost, "/v1/prefixes", owner, body)
}

func (s *registrySteps) action(signer, alias, verb string, body any) error {
	key, err := s.tc.Prefix(alias)
	if err != nil {
		return err
	}
	return s.tc.Signed(http.MethodPost, "/v1/prefixes/"+key+"/"+verb, signer, body)
}

func (s *registrySteps) approve(ctx context.Context, verifier, alias string) error {
	ref := id.Hash(sha256.Sum256([]byte("kyc:" + alias)))
	return s.action(verifier, alias, "approve", map[string]any{"ref_hash": ref})
}

func (s *registrySteps) reject(ctx context.Context, verifier, alias, reason string) error {
	return s.action(verifier, alias, "reject", map[string]any{"reason": reason})
}

func (s *registrySteps) refund(ctx context.Context, owner, alias string) error {
	return s.action(owner, alias, "refund", nil)
}

func (s *registrySteps) deactivate(ctx context.Context, admin, alias string) error {
	return s.action(admin, alias, "deactivate", nil)
}

func (s *registrySteps) recover(ctx context.Context, admin, alias, newOwner string) error {
	key, body, err := s.recoverBody(alias, newOwner)
	if err != nil {
		return err
	}
	return s.tc.Cosigned(http.MethodPost, "/v1/prefixes/"+key+"/recover", admin, newOwner, body)
}

func (s *registrySteps) recoverUncosigned(ctx context.Context, admin, alias, newOwner string) error {
	key, body, err := s.recoverBody(alias, newOwner)
	if err != nil {
		return err
	}
	return s.tc.Signed(http.MethodPost, "/v1/prefixes/"+key+"/recover", admin, body)
}

func (s *registrySteps) recoverBody(alias, newOwner string) (string, map[string]any, error) {
	key, err := s.tc.Prefix(alias)
	if err != nil {
		return "", nil, err
	}
	p, err := s.tc.Actor(newOwner)
	if err != nil {
		return "", nil, err
	}
	return key, map[string]any{"new_owner": p}, nil
}

func (s *registrySteps) fetch(alias string) error {
	key, err := s.tc.Prefix(alias)
	if err != nil {
		return err
	}
	return s.tc.GET("/v1/prefixes/"+key, nil)
}

func (s *registrySteps) prefixStatus(ctx context.Context, alias, status string) error {
	if err := s.fetch(alias); err != nil {
		return err
	}
	if err := s.expect(http.StatusOK); err != nil {
		return err
	}
	got, err := s.tc.GetResponseField("status")
	if err != nil {
		return err
	}
	if got != status {
		return fmt.Errorf("expected status %q, got %v", status, got)
	}
	return nil
}

func (s *registrySteps) prefixOwner(ctx context.Context, alias, name string) error {
	p, err := s.tc.Actor(name)
	if err != nil {
		return err
	}
	if err := s.fetch(alias); err != nil {
		return err
	}
	if err := s.expect(http.StatusOK); err != nil {
		return err
	}
	got, err := s.tc.GetResponseField("owner")
	if err != nil {
		return err
	}
	if got != p.String() {
		return fmt.Errorf("expected owner %s, got %v", p, got)
	}
	return nil
}

func (s *registrySteps) prefixMissing(ctx context.Context, alias string) error {
	if err := s.fetch(alias); err != nil {
		return err
	}
	return s.expect(http.StatusNotFound)
}

func (s *registrySteps) balance(ctx context.Context, name string, want int) error {
	p, err := s.tc.Actor(name)
	if err != nil {
		return err
	}
	if err := s.tc.GET("/v1/accounts/"+p.String(), nil); err != nil {
		return err
	}
	if err := s.expect(http.StatusOK); err != nil {
		return err
	}
	got, err := s.tc.GetResponseField("balance")
	if err != nil {
		return err
	}
	if n, ok := got.(float64); !ok || n != float64(want) {
		return fmt.Errorf("expected balance %s, got %v", strconv.Itoa(want), got)
	}
	return nil
}
