package build

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUserVersion(t *testing.T) {
	old := CurrentCommit
	t.Cleanup(func() { CurrentCommit = old })

	CurrentCommit = ""
	require.Equal(t, BuildVersion, UserVersion())

	CurrentCommit = "git1a2b3c"
	require.Equal(t, BuildVersion+"+git1a2b3c", UserVersion())

	t.Setenv("RAGFLOW_VERSION_IGNORE_COMMIT", "1")
	require.Equal(t, BuildVersion, UserVersion())
}
