package diskspace

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvailableOnTempDir(t *testing.T) {
	avail, ok := Available(t.TempDir())
	require.True(t, ok)
	assert.Greater(t, avail, int64(0))
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, Check(dir, 0))
	assert.NoError(t, Check(dir, 1024))

	err := Check(dir, math.MaxInt64/2)
	require.Error(t, err)
	assert.True(t, IsInsufficientSpace(err))
	assert.True(t, IsInsufficientSpace(fmt.Errorf("wrapped: %w", err)))
	assert.Contains(t, err.Error(), dir)
}

func TestCheckUnqueryableDirPasses(t *testing.T) {
	assert.NoError(t, Check("/definitely/not/a/dir", 1<<40))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.0 KiB", formatBytes(1024))
	assert.Equal(t, "1.5 MiB", formatBytes(1536*1024))
}
