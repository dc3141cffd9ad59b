package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSchemaCommand creates a 'schema' command printing the named JSON
// schemas, one subcommand per entry.
func NewSchemaCommand(schemas map[string]func() ([]byte, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print JSON schemas for configuration and messages",
	}
	for name, generate := range schemas {
		generate := generate
		cmd.AddCommand(&cobra.Command{
			Use:   name,
			Short: fmt.Sprintf("Print the %s JSON schema", name),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := generate()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			},
		})
	}
	return cmd
}
