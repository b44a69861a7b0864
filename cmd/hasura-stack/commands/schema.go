package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chazu/hasura-stack/pkg/stackloader"
)

// Schema returns the command that prints the configuration's JSON Schema.
//
// Optional flags:
//
//	--output, -o: File to write the schema to (default: stdout)
func Schema() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the stack configuration",
		Long: `Print the JSON Schema of the stack configuration.

Point an editor's YAML language server at the output to get completion and
inline validation for hasura-stack.yaml.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			props, err := stackloader.NewLoader().JSONSchema()
			if err != nil {
				return err
			}
			data, err := stackloader.MarshalJSONSchema(props)
			if err != nil {
				return err
			}

			if output == "" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("failed to write schema to %s: %w", output, err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "File to write the schema to")
	return cmd
}
