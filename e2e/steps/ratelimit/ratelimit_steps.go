package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string, headers map[string]string) error
	GetLastResponseStatus() int
	GetLastResponseHeader(key string) string
}

// RegisterSteps registers rate-limiting step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &ratelimitSteps{tc: tc}

	ctx.Step(`^I send (\d+) reads to "([^"]*)"$`, steps.sendReads)
	ctx.Step(`^at least one read should be rate limited$`, steps.someReadLimited)
	ctx.Step(`^the limited response should carry a Retry-After header$`, steps.retryAfterPresent)
	ctx.Step(`^the remaining budget header should be present$`, steps.remainingPresent)
}

type ratelimitSteps struct {
	tc TestContext
	// State for tracking across steps
	limited    int
	retryAfter string
}

func (s *ratelimitSteps) sendReads(ctx context.Context, n int, path string) error {
	for i := 0; i < n; i++ {
		if err := s.tc.GET(path, nil); err != nil {
			return err
		}
		if s.tc.GetLastResponseStatus() == http.StatusTooManyRequests {
			s.limited++
			s.retryAfter = s.tc.GetLastResponseHeader("Retry-After")
		}
	}
	return nil
}

func (s *ratelimitSteps) someReadLimited(ctx context.Context) error {
	if s.limited == 0 {
		return fmt.Errorf("expected at least one 429, got none")
	}
	return nil
}

func (s *ratelimitSteps) retryAfterPresent(ctx context.Context) error {
	secs, err := strconv.Atoi(s.retryAfter)
	if err != nil || secs < 1 {
		return fmt.Errorf("expected a positive Retry-After, got %q", s.retryAfter)
	}
	return nil
}

func (s *ratelimitSteps) remainingPresent(ctx context.Context) error {
	if s.tc.GetLastResponseHeader("X-RateLimit-Remaining") == "" {
		return fmt.Errorf("X-RateLimit-Remaining header missing")
	}
	return nil
}
