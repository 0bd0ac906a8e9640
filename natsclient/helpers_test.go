package natsclient

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veea/vbus/address"
)

func mustPath(t testing.TB, s string) address.Path {
	t.Helper()
	p, err := address.Parse(s)
	require.NoError(t, err)
	return p
}
