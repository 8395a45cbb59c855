package testutils

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daybook-app/daybook/client/hctx"
)

// SetupTestHome points HOME at a fresh temp dir and writes a default config
// there, so each test gets its own isolated ~/.daybook.
func SetupTestHome(t testing.TB) {
	t.Setenv("HOME", t.TempDir())
	require.NoError(t, hctx.InitConfig())
}

// SetupTestHomeWithConfig is SetupTestHome but with a caller-supplied config,
// for tests that need a session token or a premium entitlement.
func SetupTestHomeWithConfig(t testing.TB, config hctx.ClientConfig) {
	t.Setenv("HOME", t.TempDir())
	require.NoError(t, hctx.SetConfig(config))
}
