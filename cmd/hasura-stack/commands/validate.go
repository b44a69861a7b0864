package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Validate returns the command that checks a configuration by assembling
// its graph without writing anything
func Validate(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and assemble the graph without writing it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := buildStack(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid: %d resources\n", s.Name, len(s.Graph.Nodes))
			return nil
		},
	}
}
