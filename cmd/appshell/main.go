package main

import (
	"os"

	"github.com/grovetools/appshell/cli"
	"github.com/grovetools/appshell/cmd"
	"github.com/grovetools/appshell/config"
	"github.com/grovetools/appshell/pkg/profiling"
	"github.com/grovetools/appshell/pkg/protocol"
	"github.com/grovetools/appshell/version"
)

func main() {
	rootCmd := cli.NewStandardCommand(
		"appshell",
		"Desktop application shell with an isolated database process",
	)
	cli.SetVersionTemplate(rootCmd, version.GetInfo())
	profiling.NewHooks().Attach(rootCmd)

	rootCmd.AddCommand(cmd.NewStartCmd())
	rootCmd.AddCommand(cmd.NewDataCmd())
	rootCmd.AddCommand(cmd.NewRequestCmd())
	rootCmd.AddCommand(cmd.NewStatusCmd())
	rootCmd.AddCommand(cmd.NewStopCmd())
	rootCmd.AddCommand(cmd.NewLogsCmd())
	rootCmd.AddCommand(cmd.NewPathsCmd())
	rootCmd.AddCommand(cmd.NewConfigCmd())
	rootCmd.AddCommand(cli.NewSchemaCommand(map[string]func() ([]byte, error){
		"config":  config.GenerateSchema,
		"message": protocol.GenerateSchema,
	}))
	rootCmd.AddCommand(cli.NewVersionCommand("appshell", version.GetInfo()))

	if err := rootCmd.Execute(); err != nil {
		verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")
		_ = cli.NewErrorHandler(verbose, os.Stderr).Handle(err)
		os.Exit(1)
	}
}
