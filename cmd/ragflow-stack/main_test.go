package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	lcli "github.com/ragflow/ragflow/cli"
)

func TestAppCarriesCommonFlags(t *testing.T) {
	app := newApp()

	names := map[string]bool{}
	for _, f := range app.Flags {
		for _, n := range f.Names() {
			names[n] = true
		}
	}
	for _, n := range []string{FlagComposeFile, lcli.FlagEnvFile, lcli.FlagLogLevel, lcli.FlagMetricsAddr} {
		require.True(t, names[n], n)
	}
}

func TestAppLoadsEnvFile(t *testing.T) {
	env := filepath.Join(t.TempDir(), "stack.env")
	require.NoError(t, os.WriteFile(env, []byte("RAGFLOW_STACK_TEST_VAR=loaded\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("RAGFLOW_STACK_TEST_VAR") })

	var seen []string
	app := newApp()
	app.Commands = []*cli.Command{{
		Name: "noop",
		Action: func(cctx *cli.Context) error {
			seen = cctx.StringSlice(lcli.FlagEnvFile)
			return nil
		},
	}}

	require.NoError(t, app.Run([]string{"ragflow-stack", "--env-file", env, "--log-level", "error", "noop"}))
	require.Equal(t, []string{env}, seen)
	require.Equal(t, "loaded", os.Getenv("RAGFLOW_STACK_TEST_VAR"))
}
