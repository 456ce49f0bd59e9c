// Package testutil starts shared backend containers for integration tests.
// Each container is started once per test binary and reused by every
// suite in the package; the testcontainers reaper removes it when the
// binary exits.
package testutil

import "testing"

// skipIfUnavailable skips t when a container could not be started, which
// is the normal case on machines without a Docker daemon.
func skipIfUnavailable(t *testing.T, name string, err error) {
	t.Helper()
	if err != nil {
		t.Skipf("%s container unavailable: %v", name, err)
	}
}
