// Package commands defines the CLI command structure and flag bindings.
package commands

import (
	"flag"

	"github.com/spf13/cobra"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// DefaultContextFile caches network lookups between runs
const DefaultContextFile = "hasura-stack.context.yaml"

// DefaultConfigFile is read when --config is not given
const DefaultConfigFile = "hasura-stack.yaml"

// globalOptions are shared by every subcommand
type globalOptions struct {
	configPath  string
	contextPath string
	zap         zap.Options
}

// Root returns the root command for the hasura-stack CLI
func Root() *cobra.Command {
	opts := &globalOptions{zap: zap.Options{Development: true}}

	cmd := &cobra.Command{
		Use:           "hasura-stack",
		Short:         "Assemble the resource graph for a Hasura GraphQL service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			log.SetLogger(zap.New(zap.UseFlagOptions(&opts.zap)))
			cmd.SetContext(log.IntoContext(cmd.Context(), log.Log.WithName("hasura-stack")))
		},
	}

	goFlags := flag.NewFlagSet("zap", flag.ContinueOnError)
	opts.zap.BindFlags(goFlags)
	cmd.PersistentFlags().AddGoFlagSet(goFlags)

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", DefaultConfigFile, "Path to the stack configuration file")
	cmd.PersistentFlags().StringVar(&opts.contextPath, "context-file", DefaultContextFile, "Path to the network lookup cache")

	cmd.AddCommand(Synth(opts))
	cmd.AddCommand(Lookup(opts))
	cmd.AddCommand(Validate(opts))
	cmd.AddCommand(Graph(opts))
	cmd.AddCommand(Schema())

	return cmd
}
