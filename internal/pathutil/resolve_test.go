package pathutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveKeepsMissingComponents(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	got, err := Resolve(filepath.Join(dir, "a", "b"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a", "b"), got)
}

func TestResolveExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := Resolve("~/trend-exports")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
	assert.Equal(t, "trend-exports", filepath.Base(got))
	_ = home
}

func TestResolveRelative(t *testing.T) {
	got, err := Resolve("exports")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
}
