package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grovetools/appshell/cli"
	"github.com/grovetools/appshell/pkg/client"
	"github.com/grovetools/appshell/pkg/protocol"
	"github.com/spf13/cobra"
)

// NewRequestCmd returns a headless renderer that sends one request.
func NewRequestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request <type> [payload-json]",
		Short: "Send a request to the running coordinator",
		Long: `Send one request over the renderer boundary and print the response payload.

Examples:
  appshell request database-select '{"projectDirectory":"/path/to/project"}'
  appshell request database-load '{"product":"alpha","force":false}'
  appshell request content-query '{"collection":"product.example"}'
  appshell request app-update-status
  appshell request database-status --watch`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runRequest,
	}
	cmd.Flags().Bool("watch", false, "Keep printing alerts after the response")
	cmd.Flags().Duration("timeout", 30*time.Second, "How long to wait for the response")
	return cmd
}

func runRequest(cmd *cobra.Command, args []string) error {
	cfg, err := cli.LoadConfig(cmd)
	if err != nil {
		return err
	}

	requestType := args[0]
	var payload interface{}
	if len(args) == 2 {
		raw := json.RawMessage(args[1])
		if !json.Valid(raw) {
			return fmt.Errorf("payload is not valid JSON: %s", args[1])
		}
		payload = raw
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	watch, _ := cmd.Flags().GetBool("watch")
	out := cmd.OutOrStdout()

	dialCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	network, address := boundary(cfg)
	c, err := client.Dial(dialCtx, network, address)
	if err != nil {
		return err
	}
	defer c.Close()

	if watch {
		c.Alerts().SubscribeAll(func(msg *protocol.Message) {
			data, err := protocol.Encode(msg)
			if err == nil {
				fmt.Fprintln(out, string(data))
			}
		})
	}

	result, err := c.Request(dialCtx, requestType, payload)
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), client.Notify(err, protocol.DefaultMessage(requestType)))
		return err
	}
	printJSON(out, result)

	if !watch {
		return nil
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)
	select {
	case <-stop:
	case <-c.Done():
	}
	return nil
}

func printJSON(w io.Writer, raw json.RawMessage) {
	if len(raw) == 0 {
		fmt.Fprintln(w, "null")
		return
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Fprintln(w, string(raw))
		return
	}
	fmt.Fprintln(w, buf.String())
}
