package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harshul/agent-ivy/internal/config"
	"github.com/harshul/agent-ivy/internal/devserver"
)

func TestSettingsFromDefaultsMatchOrchestrator(t *testing.T) {
	assert.Equal(t, devserver.DefaultSettings(), settingsFrom(config.Defaults()))
}

func TestProjectArg(t *testing.T) {
	dir := t.TempDir()

	got, err := projectArg([]string{dir})
	require.NoError(t, err)
	assert.Equal(t, dir, got)

	_, err = projectArg([]string{filepath.Join(dir, "missing")})
	assert.Error(t, err)
}

func TestNewAppWithoutNATS(t *testing.T) {
	a, err := newApp(config.Defaults(), newLogger(false), true)
	require.NoError(t, err)
	assert.Nil(t, a.nats)
	assert.NotNil(t, a.orch)

	assert.NoError(t, a.Close(t.Context()))
}
