package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// Graph returns the command that prints the deployment waves of the graph
func Graph(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Print the resources in dependency order, grouped into waves",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := buildStack(cmd.Context(), opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, wave := range s.DAG.Waves() {
				fmt.Fprintf(out, "wave %d:\n", i)
				for _, id := range wave {
					node, _ := s.DAG.GetNode(id)
					line := fmt.Sprintf("  %s (%s)", id, node.Type)
					if len(node.DependsOn) > 0 {
						line += " <- " + strings.Join(node.DependsOn, ", ")
					}
					fmt.Fprintln(out, line)
				}
			}
			fmt.Fprintf(out, "roots: %s\n", strings.Join(s.DAG.GetRootNodes(), ", "))
			fmt.Fprintf(out, "leaves: %s\n", strings.Join(s.DAG.GetLeafNodes(), ", "))
			return nil
		},
	}
}
