package cmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/grovetools/appshell/cli"
	"github.com/grovetools/appshell/internal/pidfile"
	"github.com/grovetools/appshell/internal/uiserver"
	"github.com/grovetools/appshell/pkg/paths"
	"github.com/spf13/cobra"
)

// NewStatusCmd reports whether a coordinator is running.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check coordinator status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			running, pid, err := pidfile.IsRunning(paths.PidFilePath())
			if err != nil {
				return fmt.Errorf("error: %w", err)
			}

			out := cmd.OutOrStdout()
			if !running {
				fmt.Fprintln(out, "Stopped")
				os.Exit(1) // Non-zero for scripts
			}

			network, address := boundary(cfg)
			health := "unreachable"
			if checkHealth(network, address) {
				health = "ok"
			}
			fmt.Fprintf(out, "Running (PID: %d)\nBoundary: %s %s\nHealth: %s\n", pid, network, address, health)
			return nil
		},
	}
}

func checkHealth(network, address string) bool {
	httpClient := &http.Client{
		Timeout: 2 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, address)
			},
		},
	}
	resp, err := httpClient.Get("http://appshell" + uiserver.PathHealth)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode == http.StatusOK && string(body) == "ok"
}

// NewStopCmd signals a running coordinator to shut down.
func NewStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running coordinator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			running, pid, err := pidfile.IsRunning(paths.PidFilePath())
			if err != nil {
				return fmt.Errorf("error checking status: %w", err)
			}
			if !running {
				fmt.Fprintln(cmd.OutOrStdout(), "Coordinator is not running")
				return nil
			}

			process, err := os.FindProcess(pid)
			if err != nil {
				return fmt.Errorf("failed to find process %d: %w", pid, err)
			}
			if err := process.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("failed to send stop signal: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Sent SIGTERM to process %d\n", pid)
			return nil
		},
	}
}
