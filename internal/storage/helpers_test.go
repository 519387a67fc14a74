package storage

import (
	"context"
	"os"
	"testing"
	"time"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// integrationHost skips the test in short mode and returns the database
// host, overridable through VALUATOR_TEST_DB_HOST
func integrationHost(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if host := os.Getenv("VALUATOR_TEST_DB_HOST"); host != "" {
		return host
	}
	return "localhost"
}
