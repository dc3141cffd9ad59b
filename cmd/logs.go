package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/grovetools/appshell/pkg/paths"
	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
)

// NewLogsCmd creates the `logs` command.
func NewLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs [component...]",
		Short: "Show component log files",
		Long: `Print the latest log file of each component, or of the named components.

Examples:
  # Follow the database process log
  appshell logs data -f

  # Last 50 lines of every component
  appshell logs --tail 50`,
		RunE: runLogsE,
	}
	cmd.Flags().BoolP("follow", "f", false, "Follow log output")
	cmd.Flags().Int("tail", -1, "Number of lines to show from the end of each log (default: all)")
	return cmd
}

func runLogsE(cmd *cobra.Command, args []string) error {
	follow, _ := cmd.Flags().GetBool("follow")
	tailLines, _ := cmd.Flags().GetInt("tail")

	files, err := latestLogFiles(paths.LogDir(), args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "No log files found in", paths.LogDir())
		return nil
	}

	components := make([]string, 0, len(files))
	for c := range files {
		components = append(components, c)
	}
	sort.Strings(components)

	out := cmd.OutOrStdout()
	var outMu sync.Mutex
	var wg sync.WaitGroup
	prefix := len(components) > 1

	for _, component := range components {
		wg.Add(1)
		go func(component, path string) {
			defer wg.Done()
			err := tailLog(path, follow, tailLines, func(line string) {
				outMu.Lock()
				defer outMu.Unlock()
				if prefix {
					fmt.Fprintf(out, "[%s] %s\n", component, line)
				} else {
					fmt.Fprintln(out, line)
				}
			})
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "failed to read %s: %v\n", path, err)
			}
		}(component, files[component])
	}
	wg.Wait()
	return nil
}

// latestLogFiles maps each component to its newest dated log file.
// Files are named <component>-<YYYY-MM-DD>.log.
func latestLogFiles(dir string, only []string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	wanted := make(map[string]bool, len(only))
	for _, c := range only {
		wanted[c] = true
	}

	latest := make(map[string]string)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".log") {
			continue
		}
		stem := strings.TrimSuffix(name, ".log")
		// The date suffix is fixed width: -YYYY-MM-DD.
		if len(stem) < 12 {
			continue
		}
		component := stem[:len(stem)-11]
		if len(wanted) > 0 && !wanted[component] {
			continue
		}
		// Dated names sort chronologically.
		if prev, ok := latest[component]; !ok || name > filepath.Base(prev) {
			latest[component] = filepath.Join(dir, name)
		}
	}
	return latest, nil
}

// tailOffset returns the byte offset where the last n lines of path begin.
func tailOffset(path string, n int) (int64, error) {
	if n < 0 {
		return 0, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var offsets []int64
	var pos int64
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			offsets = append(offsets, pos)
			pos += int64(len(line))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	if n >= len(offsets) {
		return 0, nil
	}
	if n == 0 {
		return pos, nil
	}
	return offsets[len(offsets)-n], nil
}

func tailLog(path string, follow bool, n int, emit func(string)) error {
	offset, err := tailOffset(path, n)
	if err != nil {
		return err
	}

	t, err := tail.TailFile(path, tail.Config{
		Follow:    follow,
		ReOpen:    follow,
		MustExist: true,
		Location:  &tail.SeekInfo{Offset: offset, Whence: io.SeekStart},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return err
	}
	defer t.Cleanup()

	for line := range t.Lines {
		if line.Err != nil {
			return line.Err
		}
		emit(line.Text)
	}
	return t.Err()
}
