package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestLogFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"data-2026-01-01.log",
		"data-2026-01-02.log",
		"appshell-2026-01-01.log",
		"notes.txt",
		"x.log",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("line\n"), 0644))
	}

	files, err := latestLogFiles(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"data":     filepath.Join(dir, "data-2026-01-02.log"),
		"appshell": filepath.Join(dir, "appshell-2026-01-01.log"),
	}, files)

	files, err = latestLogFiles(dir, []string{"appshell"})
	require.NoError(t, err)
	assert.Len(t, files, 1)

	files, err = latestLogFiles(filepath.Join(dir, "missing"), nil)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestTailLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data-2026-01-01.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\n"), 0644))

	var lines []string
	require.NoError(t, tailLog(path, false, 2, func(l string) { lines = append(lines, l) }))
	assert.Equal(t, []string{"two", "three"}, lines)

	lines = nil
	require.NoError(t, tailLog(path, false, -1, func(l string) { lines = append(lines, l) }))
	assert.Equal(t, []string{"one", "two", "three"}, lines)
}
