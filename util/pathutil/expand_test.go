package pathutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpand(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := Expand("~/products")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "products"), got)

	t.Setenv("APPSHELL_TEST_ROOT", "/srv/data")
	got, err = Expand("$APPSHELL_TEST_ROOT/a")
	require.NoError(t, err)
	assert.Equal(t, "/srv/data/a", got)

	got, err = Expand("relative")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
}

func TestSamePath(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(t.TempDir(), "link")
	require.NoError(t, os.Symlink(dir, link))

	assert.True(t, SamePath(dir, dir))
	assert.True(t, SamePath(dir, dir+string(filepath.Separator)))
	assert.True(t, SamePath(dir, link))
	assert.False(t, SamePath(dir, filepath.Join(dir, "other")))
}
