package unittest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// RequireReturnsBefore fails the test if f is still running after timeout.
func RequireReturnsBefore(t testing.TB, f func(), timeout time.Duration, msg string) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		f()
	}()
	RequireCloseBefore(t, done, timeout, msg)
}

// RequireCloseBefore fails the test if c is still open after timeout.
func RequireCloseBefore(t testing.TB, c <-chan struct{}, timeout time.Duration, msg string) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c:
	case <-timer.C:
		require.FailNow(t, "timed out after "+timeout.String()+": "+msg)
	}
}

// RunWithTempDir runs f with a directory removed when the test ends.
func RunWithTempDir(t testing.TB, f func(dir string)) {
	f(t.TempDir())
}
