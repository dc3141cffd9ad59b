package profiling

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/spf13/cobra"
)

// Hooks wires CPU, heap and span timing output into a cobra command tree.
// All output goes to Out (stderr by default) since the data command owns
// stdout.
type Hooks struct {
	Out io.Writer

	cpuFile *os.File
	cpuPath string
	memPath string
	timing  bool
}

// NewHooks returns hooks writing their reports to stderr.
func NewHooks() *Hooks {
	return &Hooks{Out: os.Stderr}
}

// Attach registers the profiling flags on cmd and installs the persistent
// pre and post run hooks.
func (h *Hooks) Attach(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&h.cpuPath, "cpu-profile", "", "Write CPU profile to file")
	flags.StringVar(&h.memPath, "mem-profile", "", "Write heap profile to file on exit")
	flags.BoolVar(&h.timing, "timing", false, "Print startup timing summary on exit")
	flags.Lookup("cpu-profile").Hidden = true
	flags.Lookup("mem-profile").Hidden = true

	cmd.PersistentPreRunE = h.PreRun
	cmd.PersistentPostRun = h.PostRun
}

// PreRun starts the requested profiles.
func (h *Hooks) PreRun(cmd *cobra.Command, args []string) error {
	if h.timing {
		Enable()
	}
	if h.cpuPath == "" {
		return nil
	}

	f, err := os.Create(h.cpuPath)
	if err != nil {
		return fmt.Errorf("could not create CPU profile: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return fmt.Errorf("could not start CPU profile: %w", err)
	}
	h.cpuFile = f
	return nil
}

// PostRun flushes profiles and prints the timing summary.
func (h *Hooks) PostRun(cmd *cobra.Command, args []string) {
	if h.cpuFile != nil {
		pprof.StopCPUProfile()
		h.cpuFile.Close()
		h.cpuFile = nil
		fmt.Fprintf(h.Out, "CPU profile written to %s\n", h.cpuPath)
	}

	if h.memPath != "" {
		if err := writeHeapProfile(h.memPath); err != nil {
			fmt.Fprintf(h.Out, "could not write memory profile: %v\n", err)
		} else {
			fmt.Fprintf(h.Out, "Memory profile written to %s\n", h.memPath)
		}
	}

	if h.timing {
		Summarize(h.Out)
	}
}

func writeHeapProfile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	runtime.GC()
	return pprof.WriteHeapProfile(f)
}
