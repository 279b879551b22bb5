package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"serve", "migrate", "score"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "prospect-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	for _, name := range []string{"serve", "migrate", "score"} {
		assert.Contains(t, rootCmd.Long, name)
	}
}

func TestSetup_LoadsConfig(t *testing.T) {
	withConfig(t, nil)
	t.Cleanup(zap.ReplaceGlobals(zap.NewNop()))
	t.Setenv("PROSPECT_SERVER_PORT", "9191")
	t.Setenv("PROSPECT_LOG_FORMAT", "console")

	require.NoError(t, setup(rootCmd, nil))
	require.NotNil(t, cfg)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestSetup_BadLogLevel(t *testing.T) {
	withConfig(t, nil)
	t.Setenv("PROSPECT_LOG_LEVEL", "loud")

	err := setup(rootCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init logger")
	assert.Nil(t, cfg, "config is only installed once the logger is up")
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)

	flag = serveCmd.Flags().Lookup("migrate")
	require.NotNil(t, flag, "serve command should have --migrate flag")
	assert.Equal(t, "false", flag.DefValue)
}

func TestScoreCommand_Flags(t *testing.T) {
	for _, name := range []string{"input", "input-format", "title", "has-email", "min-score", "sort", "dir", "limit", "format", "output"} {
		assert.NotNil(t, scoreCmd.Flags().Lookup(name), "score command should have --%s flag", name)
	}
	assert.Equal(t, "table", scoreCmd.Flags().Lookup("format").DefValue)
}
