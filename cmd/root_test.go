package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"fuse", "walkscore", "boundaries", "runs", "publish", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "atlas", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestFuseCommand_Flags(t *testing.T) {
	for _, flagName := range []string{
		"zhvi-dir", "zori-dir", "spatial-dir", "walkscore-csv",
		"csv-dir", "geojson-dir", "geography", "source", "workers", "no-cache",
	} {
		flag := fuseCmd.Flags().Lookup(flagName)
		assert.NotNil(t, flag, "fuse should have --%s flag", flagName)
	}
}

func TestBoundariesCommand_HasSubcommands(t *testing.T) {
	cmds := boundariesCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"fetch", "status"}
	for _, name := range expected {
		assert.True(t, names[name], "boundaries should have subcommand %q", name)
	}
}

func TestBoundariesFetchCommand_Flags(t *testing.T) {
	flag := boundariesFetchCmd.Flags().Lookup("counties")
	require.NotNil(t, flag, "boundaries fetch should have --counties flag")

	refresh := boundariesFetchCmd.Flags().Lookup("refresh")
	require.NotNil(t, refresh, "boundaries fetch should have --refresh flag")
	assert.Equal(t, "false", refresh.DefValue)
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	cmds := runsCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"list", "show", "failures"}
	for _, name := range expected {
		assert.True(t, names[name], "runs should have subcommand %q", name)
	}
}

func TestRunsListCommand_Flags(t *testing.T) {
	flag := runsListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag, "runs list should have --limit flag")
	assert.Equal(t, "20", flag.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestPublishCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"csv", "geography"} {
		flag := publishCmd.Flags().Lookup(flagName)
		assert.NotNil(t, flag, "publish should have --%s flag", flagName)
	}
}
