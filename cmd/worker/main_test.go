package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_ConfigFlag(t *testing.T) {
	assert.Equal(t, "beewatch-worker", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)

	flag := rootCmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Empty(t, flag.DefValue)
}

func TestRootCommand_RejectsArguments(t *testing.T) {
	assert.Error(t, rootCmd.Args(rootCmd, []string{"extra"}))
	assert.NoError(t, rootCmd.Args(rootCmd, nil))
}
