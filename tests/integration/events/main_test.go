//go:build integration
// +build integration

package events

import (
	"os"
	"testing"
)

// TestMain is the entry point for the message-bus integration tests.
// The tests start a Redpanda container via testcontainers; Docker must
// be available.
func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
