package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/grovetools/appshell/pkg/paths"
	"github.com/spf13/cobra"
)

// PathsOutput lists the directories and files appshell uses.
type PathsOutput struct {
	ConfigDir    string `json:"config_dir"`
	StateDir     string `json:"state_dir"`
	LogDir       string `json:"log_dir"`
	RuntimeDir   string `json:"runtime_dir"`
	SocketPath   string `json:"socket_path"`
	PidFilePath  string `json:"pid_file"`
	SettingsPath string `json:"settings_file"`
}

func NewPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print the paths used by appshell",
		Long: `Print the paths used by appshell as JSON.

APPSHELL_HOME relocates everything under one root. Otherwise the XDG
base directory variables are honored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := PathsOutput{
				ConfigDir:    paths.ConfigDir(),
				StateDir:     paths.StateDir(),
				LogDir:       paths.LogDir(),
				RuntimeDir:   paths.RuntimeDir(),
				SocketPath:   paths.SocketPath(),
				PidFilePath:  paths.PidFilePath(),
				SettingsPath: paths.SettingsPath(),
			}

			jsonData, err := json.MarshalIndent(output, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal paths to JSON: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonData))
			return nil
		},
	}
}
