//go:build e2e

package e2e

import (
	"os"
	"testing"

	"github.com/cucumber/godog"
)

// TestFeatures runs the feature files against a live server at E2E_BASE_URL.
//
//	E2E_BASE_URL=http://localhost:8080 E2E_ADMIN_KEY=<seed> go test -tags e2e ./e2e/...
func TestFeatures(t *testing.T) {
	tags := os.Getenv("E2E_TAGS")
	if tags == "" {
		tags = "~@ratelimit"
	}
	suite := godog.TestSuite{
		Name: "prefixd",
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			tc, err := NewTestContext()
			if err != nil {
				t.Fatalf("e2e context: %v", err)
			}
			RegisterSteps(sc, tc)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			Tags:     tags,
			TestingT: t,
			Strict:   true,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("e2e feature run failed")
	}
}
