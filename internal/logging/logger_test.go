package logging

import (
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		t.Run(level, func(t *testing.T) {
			logger, err := New(Config{Level: level, Format: "json"})
			require.NoError(t, err)
			require.NotNil(t, logger)
		})
	}

	_, err := New(Config{Level: "verbose", Format: "json"})
	assert.Error(t, err)
}

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "factord.log")

	logger, err := New(Config{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{path},
	})
	require.NoError(t, err)

	logger.Info("hello")
	require.NoError(t, Sync(logger))

	assert.FileExists(t, path)
}

func TestSync_IgnoresStdoutErrno(t *testing.T) {
	assert.True(t, isStdoutSyncError(syscall.EINVAL))
	assert.True(t, isStdoutSyncError(syscall.ENOTTY))
	assert.False(t, isStdoutSyncError(syscall.EACCES))
}
