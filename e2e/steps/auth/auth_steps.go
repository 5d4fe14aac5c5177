package auth

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	Signed(method, path, signer string, body any) error
	RawSigned(method, path, signedPath, signer string, body, signedBody []byte) error
	Replay() error
	GetLastResponseStatus() int
}

// RegisterSteps registers request-token step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &authSteps{tc: tc}

	ctx.Step(`^"([^"]*)" POSTs to "([^"]*)" with a token signed over a different body$`, steps.postWithForeignBody)
	ctx.Step(`^"([^"]*)" POSTs to "([^"]*)" with a token signed for "([^"]*)"$`, steps.postWithForeignPath)
	ctx.Step(`^"([^"]*)" POSTs an empty object to "([^"]*)"$`, steps.postEmpty)
	ctx.Step(`^the same request is replayed$`, steps.replay)
	ctx.Step(`^the replayed request should be rejected$`, steps.replayRejected)
}

type authSteps struct {
	tc TestContext
}

func (s *authSteps) postWithForeignBody(ctx context.Context, signer, path string) error {
	sent, err := json.Marshal(map[string]any{"fee": 1})
	if err != nil {
		return err
	}
	signed, err := json.Marshal(map[string]any{"fee": 2})
	if err != nil {
		return err
	}
	return s.tc.RawSigned("POST", path, path, signer, sent, signed)
}

func (s *authSteps) postWithForeignPath(ctx context.Context, signer, path, signedPath string) error {
	body, err := json.Marshal(map[string]any{})
	if err != nil {
		return err
	}
	return s.tc.RawSigned("POST", path, signedPath, signer, body, body)
}

func (s *authSteps) postEmpty(ctx context.Context, signer, path string) error {
	return s.tc.Signed("POST", path, signer, map[string]any{})
}

func (s *authSteps) replay(ctx context.Context) error {
	return s.tc.Replay()
}

func (s *authSteps) replayRejected(ctx context.Context) error {
	if got := s.tc.GetLastResponseStatus(); got != 401 {
		return fmt.Errorf("expected replay to be rejected with 401, got %d", got)
	}
	return nil
}
