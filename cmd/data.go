package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/grovetools/appshell/cli"
	"github.com/grovetools/appshell/internal/data/projectfs"
	"github.com/grovetools/appshell/internal/data/server"
	"github.com/grovetools/appshell/internal/data/service"
	"github.com/grovetools/appshell/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewDataCmd returns the hidden database process command. It speaks
// newline-delimited JSON on stdin and stdout.
func NewDataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "data",
		Short:  "Run the database process",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE:   runData,
	}
	cmd.Flags().Bool("debug", false, "Enable debug logging")
	return cmd
}

func runData(cmd *cobra.Command, args []string) error {
	// stdout carries frames; logs must never reach it.
	logging.SetGlobalOutput(os.Stderr)

	cfg, err := cli.LoadConfig(cmd)
	if err != nil {
		return err
	}
	logger := logging.NewLogger("data")
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logger.Logger.SetLevel(logrus.DebugLevel)
	}

	lister, err := projectfs.NewDirLister(cfg.Data.Ignore)
	if err != nil {
		return err
	}
	svc, err := service.New(service.Config{
		Lister: lister,
		Watch:  cfg.WatchEnabled(),
	})
	if err != nil {
		return err
	}

	// The coordinator stops this process by closing stdin. Signals from
	// the terminal are left to the coordinator.
	signal.Ignore(os.Interrupt, syscall.SIGTERM)

	logger.WithField("pid", os.Getpid()).Debug("Database process started")
	return server.New(svc, os.Stdin, os.Stdout).Serve(context.Background())
}
