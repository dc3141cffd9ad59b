package profiling

import (
	"bytes"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledSpansAreNoops(t *testing.T) {
	r := NewRecorder()
	s := r.Start("ignored")
	assert.Nil(t, s)
	s.Start("child").Stop()
	s.Stop()

	var buf bytes.Buffer
	r.Summarize(&buf)
	assert.Empty(t, buf.String())
}

func TestSummarizeKeepsChildrenUnderParents(t *testing.T) {
	r := NewRecorder()
	r.Enable()

	load := r.Start("load")
	save := r.Start("save")
	read := load.Start("adapter read")
	read.Stop()
	load.Stop()
	save.Stop()

	var buf bytes.Buffer
	r.Summarize(&buf)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[1], "- load "), lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "  - adapter read "), lines[2])
	assert.True(t, strings.HasPrefix(lines[3], "- save "), lines[3])
}

func TestRepeatedPhasesAggregate(t *testing.T) {
	r := NewRecorder()
	r.Enable()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := r.Start("save")
			s.Start("adapter write").Stop()
			s.Stop()
			s.Stop()
		}()
	}
	wg.Wait()

	var buf bytes.Buffer
	r.Summarize(&buf)
	out := buf.String()
	assert.Contains(t, out, "(3x, max")
	assert.Equal(t, 2, strings.Count(out, "(3x"))
}

func TestResetDropsInFlightSpans(t *testing.T) {
	r := NewRecorder()
	r.Enable()
	s := r.Start("load")
	r.Reset()
	r.Enable()
	s.Stop()

	var buf bytes.Buffer
	r.Summarize(&buf)
	assert.Empty(t, buf.String())
}

func TestHooksWriteProfilesToOut(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	var out bytes.Buffer
	hooks := NewHooks()
	hooks.Out = &out

	dir := t.TempDir()
	root := &cobra.Command{Use: "root", RunE: func(*cobra.Command, []string) error {
		s := Start("work")
		time.Sleep(time.Millisecond)
		s.Stop()
		return nil
	}}
	hooks.Attach(root)
	root.SetArgs([]string{
		"--timing",
		"--mem-profile", filepath.Join(dir, "mem.out"),
	})
	root.SetOut(&bytes.Buffer{})

	require.NoError(t, root.Execute())
	assert.True(t, Enabled())
	assert.FileExists(t, filepath.Join(dir, "mem.out"))
	assert.Contains(t, out.String(), "Memory profile written to")
	assert.Contains(t, out.String(), "- work")
}
