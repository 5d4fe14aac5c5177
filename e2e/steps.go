package e2e

import (
	"github.com/cucumber/godog"

	"prefixd/e2e/steps/auth"
	"prefixd/e2e/steps/common"
	"prefixd/e2e/steps/ratelimit"
	"prefixd/e2e/steps/registry"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Register common steps (generic requests, assertions)
	common.RegisterSteps(ctx, tc)

	// Register request-token steps
	auth.RegisterSteps(ctx, tc)

	// Register prefix lifecycle steps
	registry.RegisterSteps(ctx, tc)

	ratelimit.RegisterSteps(ctx, tc)
}
